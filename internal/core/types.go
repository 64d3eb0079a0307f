package core

import (
	"fmt"
	"time"
)

// Stage is one step of the load pipeline.
type Stage string

const (
	StageStart                  Stage = "Start"
	StageEnsureCatalog          Stage = "EnsureCatalog"
	StageEnsureProjectContainer Stage = "EnsureProjectContainer"
	StageEnsureSheets           Stage = "EnsureSheets"
	StageTransformAndWriteRows  Stage = "TransformAndWriteRows"
	StageBindPicklistColumns    Stage = "BindPicklistColumns"
	StageDone                   Stage = "Done"
)

// stageOrder is the only path through the pipeline.
var stageOrder = []Stage{
	StageStart,
	StageEnsureCatalog,
	StageEnsureProjectContainer,
	StageEnsureSheets,
	StageTransformAndWriteRows,
	StageBindPicklistColumns,
	StageDone,
}

// Stages returns the pipeline stages after Start, in order.
func Stages() []Stage {
	return append([]Stage(nil), stageOrder[1:]...)
}

func stageIndex(s Stage) int {
	for i, st := range stageOrder {
		if st == s {
			return i
		}
	}
	return -1
}

// stageMachine tracks the current stage. It only moves one step forward.
// Nothing is persisted: a new run starts again at StageStart.
type stageMachine struct {
	cur Stage
}

func newStageMachine() *stageMachine {
	return &stageMachine{cur: StageStart}
}

func (m *stageMachine) Current() Stage { return m.cur }

// Advance moves to next, which must directly follow the current stage.
func (m *stageMachine) Advance(next Stage) error {
	i := stageIndex(m.cur)
	j := stageIndex(next)
	if j < 0 {
		return fmt.Errorf("unknown stage %q", next)
	}
	if j != i+1 {
		return fmt.Errorf("invalid stage transition: %s -> %s", m.cur, next)
	}
	m.cur = next
	return nil
}

// ImportPhase is the coarse state of an import, as reported to callers.
type ImportPhase string

const (
	PhaseQueued    ImportPhase = "queued"
	PhaseFetching  ImportPhase = "fetching"
	PhaseLoading   ImportPhase = "loading"
	PhaseComplete  ImportPhase = "complete"
	PhaseFailed    ImportPhase = "failed"
	PhaseCancelled ImportPhase = "cancelled"
)

// Done reports whether no further progress follows.
func (p ImportPhase) Done() bool {
	return p == PhaseComplete || p == PhaseFailed || p == PhaseCancelled
}

// ImportProgress is a snapshot of a running import.
type ImportProgress struct {
	RunID       string      `json:"runId"`
	ProjectID   string      `json:"projectId"`
	ProjectName string      `json:"projectName,omitempty"`
	Phase       ImportPhase `json:"phase"`
	Stage       Stage       `json:"stage"`
	TotalRows   int         `json:"totalRows"`
	RowsWritten int         `json:"rowsWritten"`
	RowsSkipped int         `json:"rowsSkipped"`
	Error       string      `json:"error,omitempty"`
}

// Percent returns row progress as 0-100.
func (p ImportProgress) Percent() int {
	if p.TotalRows <= 0 {
		return 0
	}
	return ((p.RowsWritten + p.RowsSkipped) * 100) / p.TotalRows
}

// ImportRequest asks for one project to be loaded.
type ImportRequest struct {
	ProjectID string
	// WorkspaceID reuses an existing project workspace.
	WorkspaceID *int64
	// TemplateID overrides the configured template (nil keeps it).
	TemplateID *int64
	// Strategy overrides the configured strategy ("" keeps it).
	Strategy string
}

// SheetResult is what happened to one project sheet.
type SheetResult struct {
	Name         string  `json:"name"`
	SheetID      int64   `json:"sheetId"`
	Outcome      Outcome `json:"-"`
	ColumnsAdded int     `json:"columnsAdded"`
	RowsWritten  int     `json:"rowsWritten"`
	RowsSkipped  int     `json:"rowsSkipped"`
	ColumnsBound int     `json:"columnsBound"`
	Drift        string  `json:"drift,omitempty"`
}

// ImportResult is the final report of one import.
type ImportResult struct {
	RunID         string        `json:"runId"`
	ProjectID     string        `json:"projectId"`
	ProjectName   string        `json:"projectName"`
	Strategy      StrategyKind  `json:"strategy"`
	DryRun        bool          `json:"dryRun"`
	WorkspaceID   int64         `json:"workspaceId"`
	WorkspaceName string        `json:"workspaceName"`
	Workspace     Outcome       `json:"-"`
	FromTemplate  bool          `json:"fromTemplate"`
	Sheets        []SheetResult `json:"sheets"`
	Skipped       []string      `json:"skipped,omitempty"`
	Hints         []string      `json:"hints,omitempty"`
	Stage         Stage         `json:"stage"`
	Duration      time.Duration `json:"duration"`
	Error         string        `json:"error,omitempty"`
}

// RowsWritten sums written rows over all sheets.
func (r *ImportResult) RowsWritten() int {
	n := 0
	for _, s := range r.Sheets {
		n += s.RowsWritten
	}
	return n
}

// RowsSkipped sums rows skipped because they already existed.
func (r *ImportResult) RowsSkipped() int {
	n := 0
	for _, s := range r.Sheets {
		n += s.RowsSkipped
	}
	return n
}
