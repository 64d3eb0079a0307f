// Package ledger records import runs, their stage outcomes, and the
// project to workspace mapping that lets a later run find the workspace an
// earlier run created.
//
// Backends:
//
//   - sqlite (default): a local file, schema applied from embedded migrations
//   - postgres: a shared pgx pool for serve mode deployments
//   - memory: process-local, used by tests and dry runs
//   - none: discards everything
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/poimport/internal/apperr"
)

// Status is the outcome of a run or stage.
type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Run is one orchestrator invocation for one project.
type Run struct {
	ID          string        `json:"id"`
	ProjectID   string        `json:"projectId"`
	ProjectName string        `json:"projectName,omitempty"`
	Strategy    string        `json:"strategy"`
	DryRun      bool          `json:"dryRun"`
	Status      Status        `json:"status"`
	Stage       string        `json:"stage,omitempty"`
	Error       string        `json:"error,omitempty"`
	WorkspaceID int64         `json:"workspaceId,omitempty"`
	RowsWritten int           `json:"rowsWritten"`
	RowsSkipped int           `json:"rowsSkipped"`
	StartedAt   time.Time     `json:"startedAt"`
	FinishedAt  *time.Time    `json:"finishedAt,omitempty"`
	Stages      []StageRecord `json:"stages,omitempty"`
}

// Duration returns how long the run took, or has taken so far.
func (r *Run) Duration() time.Duration {
	if r.FinishedAt == nil {
		return time.Since(r.StartedAt)
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// NewRun returns a running run with a fresh id.
func NewRun(projectID, strategy string, dryRun bool) *Run {
	return &Run{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		Strategy:  strategy,
		DryRun:    dryRun,
		Status:    StatusRunning,
		StartedAt: time.Now().UTC(),
	}
}

// StageRecord is the outcome of one orchestrator stage.
type StageRecord struct {
	RunID      string    `json:"-"`
	Stage      string    `json:"stage"`
	Status     Status    `json:"status"`
	Detail     string    `json:"detail,omitempty"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
}

// Mapping ties a source project to the workspace that holds it.
type Mapping struct {
	ProjectID     string    `json:"projectId"`
	WorkspaceID   int64     `json:"workspaceId"`
	WorkspaceName string    `json:"workspaceName"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// ListOptions filters ListRuns. Zero values mean no filter.
type ListOptions struct {
	ProjectID string
	Limit     int
}

// Store persists runs and mappings. Lookups of absent records return an
// error for which apperr.IsNotFound reports true.
type Store interface {
	CreateRun(ctx context.Context, run *Run) error
	// FinishRun stores the final status, stage, error and counters of run.
	FinishRun(ctx context.Context, run *Run) error
	RecordStage(ctx context.Context, rec StageRecord) error
	GetRun(ctx context.Context, id string) (*Run, error)
	// ListRuns returns runs newest first, without stages.
	ListRuns(ctx context.Context, opts ListOptions) ([]Run, error)

	GetMapping(ctx context.Context, projectID string) (*Mapping, error)
	PutMapping(ctx context.Context, m Mapping) error

	// Prune deletes finished runs that started before cutoff.
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
	Close() error
}

// Options selects and configures a backend.
type Options struct {
	Driver   string
	DSN      string
	MaxConns int
}

// Open returns the Store for opts.Driver.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Driver {
	case "", "sqlite":
		return OpenSQLite(opts.DSN)
	case "postgres":
		return OpenPostgres(ctx, opts.DSN, opts.MaxConns)
	case "memory":
		return NewMemory(), nil
	case "none":
		return Nop{}, nil
	}
	return nil, apperr.NewConfigurationError("LEDGER_DRIVER", "unknown driver %q", opts.Driver)
}

func runNotFound(id string) error {
	return &apperr.NotFoundError{Resource: "run", ID: id}
}

func mappingNotFound(projectID string) error {
	return &apperr.NotFoundError{Resource: "workspace mapping", ID: projectID}
}

func defaultLimit(n int) int {
	if n <= 0 || n > 1000 {
		return 100
	}
	return n
}

var errClosed = errors.New("ledger closed")
