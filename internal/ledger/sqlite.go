package ledger

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrationsFS embed.FS

// migrationFiles returns the sorted migration files for dialect.
func migrationFiles(dialect string) ([]string, error) {
	dir := path.Join("migrations", dialect)
	entries, err := migrationsFS.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations directory: %w", err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, path.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

// timeLayout is fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLite is a Store in a local SQLite file.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path and applies
// pending migrations.
func OpenSQLite(dbPath string) (*SQLite, error) {
	if dbPath == "" {
		dbPath = "poimport.db"
	}
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create ledger directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", p, err)
		}
	}

	s := &SQLite{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) migrate() error {
	files, err := migrationFiles("sqlite")
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ','now'))
		)`)
	if err != nil {
		return fmt.Errorf("create schema_migrations table: %w", err)
	}

	for _, f := range files {
		version := path.Base(f)
		var count int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = ?", version).Scan(&count); err != nil {
			return fmt.Errorf("check migration %s: %w", version, err)
		}
		if count > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile(f)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", version, err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %s: %w", version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("execute migration %s: %w", version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %s: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", version, err)
		}
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func (s *SQLite) CreateRun(ctx context.Context, r *Run) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, project_id, project_name, strategy, dry_run, status, stage, error,
			workspace_id, rows_written, rows_skipped, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.ProjectID, r.ProjectName, r.Strategy, r.DryRun, string(r.Status), r.Stage, r.Error,
		r.WorkspaceID, r.RowsWritten, r.RowsSkipped, formatTime(r.StartedAt), nullTime(r.FinishedAt))
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

func (s *SQLite) FinishRun(ctx context.Context, r *Run) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, stage = ?, error = ?, project_name = ?, workspace_id = ?,
			rows_written = ?, rows_skipped = ?, finished_at = ?
		WHERE id = ?`,
		string(r.Status), r.Stage, r.Error, r.ProjectName, r.WorkspaceID,
		r.RowsWritten, r.RowsSkipped, nullTime(r.FinishedAt), r.ID)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return runNotFound(r.ID)
	}
	return nil
}

func (s *SQLite) RecordStage(ctx context.Context, rec StageRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO run_stages (run_id, stage, status, detail, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		rec.RunID, rec.Stage, string(rec.Status), rec.Detail, formatTime(rec.StartedAt), formatTime(rec.FinishedAt))
	if err != nil {
		return fmt.Errorf("insert stage: %w", err)
	}
	return nil
}

const runColumns = `id, project_id, project_name, strategy, dry_run, status, stage, error,
	workspace_id, rows_written, rows_skipped, started_at, finished_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanSQLiteRun(sc scanner) (Run, error) {
	var (
		r        Run
		status   string
		started  string
		finished sql.NullString
	)
	err := sc.Scan(&r.ID, &r.ProjectID, &r.ProjectName, &r.Strategy, &r.DryRun, &status, &r.Stage, &r.Error,
		&r.WorkspaceID, &r.RowsWritten, &r.RowsSkipped, &started, &finished)
	if err != nil {
		return Run{}, err
	}
	r.Status = Status(status)
	r.StartedAt = parseTime(started)
	if finished.Valid {
		t := parseTime(finished.String)
		r.FinishedAt = &t
	}
	return r, nil
}

func (s *SQLite) GetRun(ctx context.Context, id string) (*Run, error) {
	r, err := scanSQLiteRun(s.db.QueryRowContext(ctx, "SELECT "+runColumns+" FROM runs WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, runNotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT stage, status, detail, started_at, finished_at
		FROM run_stages WHERE run_id = ? ORDER BY started_at, rowid`, id)
	if err != nil {
		return nil, fmt.Errorf("list stages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			rec              StageRecord
			status           string
			started, finished string
		)
		if err := rows.Scan(&rec.Stage, &status, &rec.Detail, &started, &finished); err != nil {
			return nil, fmt.Errorf("scan stage: %w", err)
		}
		rec.RunID = id
		rec.Status = Status(status)
		rec.StartedAt = parseTime(started)
		rec.FinishedAt = parseTime(finished)
		r.Stages = append(r.Stages, rec)
	}
	return &r, rows.Err()
}

func (s *SQLite) ListRuns(ctx context.Context, opts ListOptions) ([]Run, error) {
	query := "SELECT " + runColumns + " FROM runs"
	var args []any
	if opts.ProjectID != "" {
		query += " WHERE project_id = ?"
		args = append(args, opts.ProjectID)
	}
	query += " ORDER BY started_at DESC LIMIT ?"
	args = append(args, defaultLimit(opts.Limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		r, err := scanSQLiteRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLite) GetMapping(ctx context.Context, projectID string) (*Mapping, error) {
	var (
		m       Mapping
		updated string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT project_id, workspace_id, workspace_name, updated_at
		FROM workspace_mappings WHERE project_id = ?`, projectID).
		Scan(&m.ProjectID, &m.WorkspaceID, &m.WorkspaceName, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, mappingNotFound(projectID)
	}
	if err != nil {
		return nil, fmt.Errorf("get mapping: %w", err)
	}
	m.UpdatedAt = parseTime(updated)
	return &m, nil
}

func (s *SQLite) PutMapping(ctx context.Context, m Mapping) error {
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workspace_mappings (project_id, workspace_id, workspace_name, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (project_id) DO UPDATE SET
			workspace_id = excluded.workspace_id,
			workspace_name = excluded.workspace_name,
			updated_at = excluded.updated_at`,
		m.ProjectID, m.WorkspaceID, m.WorkspaceName, formatTime(m.UpdatedAt))
	if err != nil {
		return fmt.Errorf("put mapping: %w", err)
	}
	return nil
}

func (s *SQLite) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM runs WHERE finished_at IS NOT NULL AND started_at < ?", formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
