package ledger

import (
	"context"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres is a Store backed by a pgx pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects, pings and applies pending migrations.
func OpenPostgres(ctx context.Context, dsn string, maxConns int) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse ledger dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = int32(maxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect ledger: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping ledger: %w", err)
	}

	p := &Postgres{pool: pool}
	if err := p.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

// NewPostgres wraps an existing pool. The schema must already exist.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) migrate(ctx context.Context) error {
	files, err := migrationFiles("postgres")
	if err != nil {
		return err
	}

	_, err = p.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`)
	if err != nil {
		return fmt.Errorf("create schema_migrations table: %w", err)
	}

	for _, f := range files {
		version := path.Base(f)
		var exists bool
		err := p.pool.QueryRow(ctx,
			"SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE version = $1)", version).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", version, err)
		}
		if exists {
			continue
		}

		content, err := migrationsFS.ReadFile(f)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", version, err)
		}

		err = pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, string(content)); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", version)
			return err
		})
		if err != nil {
			return fmt.Errorf("apply migration %s: %w", version, err)
		}
	}
	return nil
}

func toPgTimestamptz(t *time.Time) pgtype.Timestamptz {
	if t == nil {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: *t, Valid: true}
}

func (p *Postgres) CreateRun(ctx context.Context, r *Run) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO runs (id, project_id, project_name, strategy, dry_run, status, stage, error,
			workspace_id, rows_written, rows_skipped, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		r.ID, r.ProjectID, r.ProjectName, r.Strategy, r.DryRun, string(r.Status), r.Stage, r.Error,
		r.WorkspaceID, r.RowsWritten, r.RowsSkipped, r.StartedAt, toPgTimestamptz(r.FinishedAt))
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

func (p *Postgres) FinishRun(ctx context.Context, r *Run) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE runs SET status = $1, stage = $2, error = $3, project_name = $4, workspace_id = $5,
			rows_written = $6, rows_skipped = $7, finished_at = $8
		WHERE id = $9`,
		string(r.Status), r.Stage, r.Error, r.ProjectName, r.WorkspaceID,
		r.RowsWritten, r.RowsSkipped, toPgTimestamptz(r.FinishedAt), r.ID)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return runNotFound(r.ID)
	}
	return nil
}

func (p *Postgres) RecordStage(ctx context.Context, rec StageRecord) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO run_stages (run_id, stage, status, detail, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.RunID, rec.Stage, string(rec.Status), rec.Detail, rec.StartedAt, rec.FinishedAt)
	if err != nil {
		return fmt.Errorf("insert stage: %w", err)
	}
	return nil
}

func scanPgRun(row pgx.Row) (Run, error) {
	var (
		r        Run
		id       pgtype.UUID
		status   string
		finished pgtype.Timestamptz
	)
	err := row.Scan(&id, &r.ProjectID, &r.ProjectName, &r.Strategy, &r.DryRun, &status, &r.Stage, &r.Error,
		&r.WorkspaceID, &r.RowsWritten, &r.RowsSkipped, &r.StartedAt, &finished)
	if err != nil {
		return Run{}, err
	}
	r.ID = uuid.UUID(id.Bytes).String()
	r.Status = Status(status)
	if finished.Valid {
		t := finished.Time
		r.FinishedAt = &t
	}
	return r, nil
}

func (p *Postgres) GetRun(ctx context.Context, id string) (*Run, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, runNotFound(id)
	}
	r, err := scanPgRun(p.pool.QueryRow(ctx, "SELECT "+runColumns+" FROM runs WHERE id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, runNotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}

	rows, err := p.pool.Query(ctx, `
		SELECT stage, status, detail, started_at, finished_at
		FROM run_stages WHERE run_id = $1 ORDER BY started_at`, id)
	if err != nil {
		return nil, fmt.Errorf("list stages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			rec    StageRecord
			status string
		)
		if err := rows.Scan(&rec.Stage, &status, &rec.Detail, &rec.StartedAt, &rec.FinishedAt); err != nil {
			return nil, fmt.Errorf("scan stage: %w", err)
		}
		rec.RunID = id
		rec.Status = Status(status)
		r.Stages = append(r.Stages, rec)
	}
	return &r, rows.Err()
}

func (p *Postgres) ListRuns(ctx context.Context, opts ListOptions) ([]Run, error) {
	query := "SELECT " + runColumns + " FROM runs"
	args := []any{}
	if opts.ProjectID != "" {
		query += " WHERE project_id = $1"
		args = append(args, opts.ProjectID)
	}
	query += fmt.Sprintf(" ORDER BY started_at DESC LIMIT $%d", len(args)+1)
	args = append(args, defaultLimit(opts.Limit))

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		r, err := scanPgRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *Postgres) GetMapping(ctx context.Context, projectID string) (*Mapping, error) {
	var m Mapping
	err := p.pool.QueryRow(ctx, `
		SELECT project_id, workspace_id, workspace_name, updated_at
		FROM workspace_mappings WHERE project_id = $1`, projectID).
		Scan(&m.ProjectID, &m.WorkspaceID, &m.WorkspaceName, &m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, mappingNotFound(projectID)
	}
	if err != nil {
		return nil, fmt.Errorf("get mapping: %w", err)
	}
	return &m, nil
}

func (p *Postgres) PutMapping(ctx context.Context, m Mapping) error {
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = time.Now()
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO workspace_mappings (project_id, workspace_id, workspace_name, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (project_id) DO UPDATE SET
			workspace_id = EXCLUDED.workspace_id,
			workspace_name = EXCLUDED.workspace_name,
			updated_at = EXCLUDED.updated_at`,
		m.ProjectID, m.WorkspaceID, m.WorkspaceName, m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("put mapping: %w", err)
	}
	return nil
}

func (p *Postgres) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := p.pool.Exec(ctx,
		"DELETE FROM runs WHERE finished_at IS NOT NULL AND started_at < $1", cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
