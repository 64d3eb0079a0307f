package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JonMunkholm/poimport/internal/apperr"
	"github.com/JonMunkholm/poimport/internal/core/transform"
	"github.com/JonMunkholm/poimport/internal/ledger"
	"github.com/JonMunkholm/poimport/internal/logging"
	"github.com/JonMunkholm/poimport/internal/source"
	"github.com/JonMunkholm/poimport/internal/target"
)

// Options are the run-wide settings of an Orchestrator.
type Options struct {
	// Strategy is used when a request does not name one.
	Strategy string
	// TemplateID is used when a request does not carry one.
	TemplateID *int64
	BatchSize  int
	// DryRun marks runs and skips workspace mappings; the caller supplies
	// the in-memory target.
	DryRun bool
	// Timeout bounds one asynchronous import. Zero means no limit.
	Timeout time.Duration
}

// Deps are the collaborators of an Orchestrator. Ledger and Limiter may be
// nil.
type Deps struct {
	Source     source.Reader
	Reconciler *Reconciler
	Catalog    *CatalogManager
	Registry   *StrategyRegistry
	Ledger     ledger.Store
	Limiter    *ImportLimiter
}

// Orchestrator runs the load pipeline for one project at a time per call.
// Calls for different projects may run concurrently.
type Orchestrator struct {
	source   source.Reader
	rec      *Reconciler
	catalog  *CatalogManager
	registry *StrategyRegistry
	ledger   ledger.Store
	limiter  *ImportLimiter
	opts     Options

	// catalogMu serializes catalog reconciliation across concurrent imports
	// so two runs never both create the same catalog sheet.
	catalogMu sync.Mutex

	mu      sync.RWMutex
	imports map[string]*activeImport
}

// NewOrchestrator wires an orchestrator from d.
func NewOrchestrator(d Deps, opts Options) *Orchestrator {
	if d.Ledger == nil {
		d.Ledger = ledger.Nop{}
	}
	if d.Limiter == nil {
		d.Limiter = NewImportLimiter(DefaultMaxConcurrentImports, DefaultMaxWaitTime)
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	return &Orchestrator{
		source:   d.Source,
		rec:      d.Reconciler,
		catalog:  d.Catalog,
		registry: d.Registry,
		ledger:   d.Ledger,
		limiter:  d.Limiter,
		opts:     opts,
		imports:  make(map[string]*activeImport),
	}
}

// Limiter returns the import limiter.
func (o *Orchestrator) Limiter() *ImportLimiter { return o.limiter }

// Ledger returns the run ledger.
func (o *Orchestrator) Ledger() ledger.Store { return o.ledger }

// EnsureCatalog reconciles the reference catalog with the configured
// strategy, outside of any project import.
func (o *Orchestrator) EnsureCatalog(ctx context.Context) (*Catalog, error) {
	strat, err := o.registry.Get(o.opts.Strategy)
	if err != nil {
		return nil, err
	}
	return o.ensureCatalog(ctx, strat)
}

func (o *Orchestrator) ensureCatalog(ctx context.Context, strat WorkspaceStrategy) (*Catalog, error) {
	o.catalogMu.Lock()
	defer o.catalogMu.Unlock()
	return strat.CreateStandardsWorkspace(ctx)
}

// ListProjects returns the projects the source can import.
func (o *Orchestrator) ListProjects(ctx context.Context) ([]source.Project, error) {
	return o.source.ListProjects(ctx)
}

// Import runs the whole pipeline for one project and waits for it. The
// returned result is non-nil even on error and reports how far the run got.
func (o *Orchestrator) Import(ctx context.Context, req ImportRequest) (*ImportResult, error) {
	run := o.newRun(req)
	return o.execute(ctx, run, req, nil)
}

func (o *Orchestrator) newRun(req ImportRequest) *ledger.Run {
	kind := ParseStrategyKind(o.strategyName(req))
	return ledger.NewRun(req.ProjectID, string(kind), o.opts.DryRun)
}

func (o *Orchestrator) strategyName(req ImportRequest) string {
	if req.Strategy != "" {
		return req.Strategy
	}
	return o.opts.Strategy
}

func (o *Orchestrator) templateID(req ImportRequest) *int64 {
	if req.TemplateID != nil {
		return req.TemplateID
	}
	return o.opts.TemplateID
}

// execute runs the pipeline under run and stores the outcome in the ledger.
// report, when set, receives a snapshot whenever progress changes.
func (o *Orchestrator) execute(ctx context.Context, run *ledger.Run, req ImportRequest, report func(ImportProgress)) (*ImportResult, error) {
	ctx, log := logging.WithFields(ctx,
		zap.String("run_id", run.ID),
		zap.String("project_id", req.ProjectID))

	if err := o.ledger.CreateRun(ctx, run); err != nil {
		log.Warn("ledger: create run failed", zap.Error(err))
	}

	p := &pipeline{
		o:      o,
		run:    run,
		sm:     newStageMachine(),
		report: report,
		res: &ImportResult{
			RunID:     run.ID,
			ProjectID: req.ProjectID,
			Strategy:  StrategyKind(run.Strategy),
			DryRun:    run.DryRun,
			Stage:     StageStart,
		},
		progress: ImportProgress{
			RunID:     run.ID,
			ProjectID: req.ProjectID,
			Phase:     PhaseQueued,
			Stage:     StageStart,
		},
	}

	start := time.Now()
	log.Info("import started", zap.String("strategy", run.Strategy), zap.Bool("dry_run", run.DryRun))
	err := p.execute(ctx, req)
	p.res.Duration = time.Since(start)
	p.res.Stage = p.sm.Current()

	o.finishRun(ctx, run, p.res, err)

	if err != nil {
		p.res.Error = err.Error()
		if h := apperr.Hint(err); h != "" {
			p.res.Hints = append(p.res.Hints, h)
		}
		log.Error("import failed",
			zap.String("stage", string(p.res.Stage)),
			zap.Duration("duration", p.res.Duration),
			zap.Error(err))
		return p.res, err
	}

	log.Info("import complete",
		zap.String("project", p.res.ProjectName),
		zap.Int64("workspace_id", p.res.WorkspaceID),
		zap.Int("rows_written", p.res.RowsWritten()),
		zap.Int("rows_skipped", p.res.RowsSkipped()),
		zap.Duration("duration", p.res.Duration))
	return p.res, nil
}

func (o *Orchestrator) finishRun(ctx context.Context, run *ledger.Run, res *ImportResult, err error) {
	now := time.Now().UTC()
	run.FinishedAt = &now
	run.ProjectName = res.ProjectName
	run.Stage = string(res.Stage)
	run.WorkspaceID = res.WorkspaceID
	run.RowsWritten = res.RowsWritten()
	run.RowsSkipped = res.RowsSkipped()
	run.Status = ledger.StatusSucceeded
	if err != nil {
		run.Status = ledger.StatusFailed
		run.Error = err.Error()
	}

	// The run context may already be cancelled; the record should still land.
	if lerr := o.ledger.FinishRun(context.WithoutCancel(ctx), run); lerr != nil {
		logging.FromContext(ctx).Warn("ledger: finish run failed", zap.Error(lerr))
	}
}

// ----------------------------------------------------------------------------
// Pipeline
// ----------------------------------------------------------------------------

// pipeline is the state of one import while it runs.
type pipeline struct {
	o      *Orchestrator
	run    *ledger.Run
	sm     *stageMachine
	res    *ImportResult
	report func(ImportProgress)

	progress ImportProgress
}

func (p *pipeline) notify() {
	if p.report != nil {
		p.report(p.progress)
	}
}

func (p *pipeline) execute(ctx context.Context, req ImportRequest) error {
	strat, err := p.o.registry.Get(p.o.strategyName(req))
	if err != nil {
		return err
	}
	p.res.Strategy = strat.Kind()

	p.progress.Phase = PhaseFetching
	p.notify()
	data, err := p.fetch(ctx, req.ProjectID)
	if err != nil {
		return err
	}

	p.progress.Phase = PhaseLoading
	p.notify()

	var cat *Catalog
	err = p.stage(ctx, StageEnsureCatalog, func(ctx context.Context) (string, error) {
		cat, err = p.o.ensureCatalog(ctx, strat)
		if err != nil {
			return "", err
		}
		added := 0
		for _, s := range cat.Sheets {
			added += s.Added
		}
		return fmt.Sprintf("workspace %d, %d sheets, %d values added", cat.WorkspaceID, len(cat.Sheets), added), nil
	})
	if err != nil {
		return err
	}

	var pw *ProjectWorkspace
	err = p.stage(ctx, StageEnsureProjectContainer, func(ctx context.Context) (string, error) {
		pw, err = strat.CreateProjectWorkspace(ctx, ProjectWorkspaceRequest{
			ProjectID:   data.Project.ID,
			ProjectName: data.Project.Name,
			WorkspaceID: req.WorkspaceID,
			TemplateID:  p.o.templateID(req),
		})
		if err != nil {
			return "", err
		}
		p.res.WorkspaceID = pw.Workspace.ID
		p.res.WorkspaceName = pw.Workspace.Name
		p.res.Workspace = pw.Outcome
		p.res.FromTemplate = pw.FromTemplate
		if pw.Hint != "" {
			p.res.Hints = append(p.res.Hints, pw.Hint)
		}
		p.putMapping(ctx, data.Project.ID, pw.Workspace)
		return fmt.Sprintf("workspace %d %s", pw.Workspace.ID, pw.Outcome), nil
	})
	if err != nil {
		return err
	}

	var sheets []*ProjectSheet
	err = p.stage(ctx, StageEnsureSheets, func(ctx context.Context) (string, error) {
		sheets, err = EnsureProjectSheets(ctx, p.o.rec, pw.Workspace.ID, data.Project.Name)
		if err != nil {
			return "", err
		}
		p.res.Sheets = make([]SheetResult, len(sheets))
		created := 0
		for i, ps := range sheets {
			p.res.Sheets[i] = SheetResult{
				Name:         ps.Sheet.Name,
				SheetID:      ps.Sheet.ID,
				Outcome:      ps.Outcome,
				ColumnsAdded: ps.ColumnsAdded(),
				Drift:        ps.Drift,
			}
			if ps.Outcome == Created {
				created++
			}
		}
		return fmt.Sprintf("%d sheets, %d created", len(sheets), created), nil
	})
	if err != nil {
		return err
	}

	err = p.stage(ctx, StageTransformAndWriteRows, func(ctx context.Context) (string, error) {
		return p.writeRows(ctx, data, sheets)
	})
	if err != nil {
		return err
	}

	err = p.stage(ctx, StageBindPicklistColumns, func(ctx context.Context) (string, error) {
		bound, err := BindPicklistColumns(ctx, p.o.rec, sheets, cat)
		total := 0
		for i, ps := range sheets {
			p.res.Sheets[i].ColumnsBound = bound[ps.Sheet.ID]
			total += bound[ps.Sheet.ID]
		}
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%d columns bound", total), nil
	})
	if err != nil {
		return err
	}

	if err := p.sm.Advance(StageDone); err != nil {
		return err
	}
	p.progress.Stage = StageDone
	p.notify()
	return nil
}

// fetch reads and validates the project. Invalid child entities are dropped
// and reported; an invalid or missing project fails the run.
func (p *pipeline) fetch(ctx context.Context, projectID string) (*source.ProjectData, error) {
	raw, err := source.Fetch(ctx, p.o.source, projectID)
	if err != nil {
		return nil, err
	}
	data, rep, err := source.Validate(raw)
	if err != nil {
		return nil, err
	}

	log := logging.FromContext(ctx)
	for _, v := range rep.Skipped {
		p.res.Skipped = append(p.res.Skipped, v.Error())
		log.Warn("source entity skipped", zap.String("entity", v.Entity), zap.String("id", v.ID), zap.Error(v))
	}

	p.res.ProjectName = data.Project.Name
	p.run.ProjectName = data.Project.Name
	p.progress.ProjectName = data.Project.Name
	p.progress.TotalRows = 1 + transform.TaskRowCount(data.Tasks) + len(data.Resources)
	log.Info("source project read",
		zap.String("project", data.Project.Name),
		zap.Int("tasks", len(data.Tasks)),
		zap.Int("resources", len(data.Resources)),
		zap.Int("assignments", len(data.Assignments)),
		zap.Int("skipped", len(rep.Skipped)))
	return data, nil
}

// stage advances the machine to s, runs fn and records the outcome.
func (p *pipeline) stage(ctx context.Context, s Stage, fn func(context.Context) (string, error)) error {
	if err := p.sm.Advance(s); err != nil {
		return err
	}
	p.res.Stage = s
	p.progress.Stage = s
	p.notify()

	log := logging.FromContext(ctx).With(zap.String("stage", string(s)))
	started := time.Now().UTC()
	detail, err := fn(ctx)

	rec := ledger.StageRecord{
		RunID:      p.run.ID,
		Stage:      string(s),
		Status:     ledger.StatusSucceeded,
		Detail:     detail,
		StartedAt:  started,
		FinishedAt: time.Now().UTC(),
	}
	if err != nil {
		rec.Status = ledger.StatusFailed
		rec.Detail = err.Error()
	}
	if lerr := p.o.ledger.RecordStage(context.WithoutCancel(ctx), rec); lerr != nil {
		log.Warn("ledger: record stage failed", zap.Error(lerr))
	}

	if err != nil {
		return fmt.Errorf("%s: %w", s, err)
	}
	log.Info("stage complete", zap.String("detail", detail), zap.Duration("duration", rec.FinishedAt.Sub(started)))
	return nil
}

// putMapping remembers the project workspace so a later run finds it even
// after a rename. Failures only cost that shortcut. Dry runs write nothing:
// their workspace ids only exist in memory.
func (p *pipeline) putMapping(ctx context.Context, projectID string, ws *target.Workspace) {
	if p.o.opts.DryRun {
		return
	}
	err := p.o.ledger.PutMapping(ctx, ledger.Mapping{
		ProjectID:     projectID,
		WorkspaceID:   ws.ID,
		WorkspaceName: ws.Name,
		UpdatedAt:     time.Now().UTC(),
	})
	if err != nil {
		logging.FromContext(ctx).Warn("ledger: store workspace mapping failed", zap.Error(err))
	}
}

// writeRows renders the project and writes each sheet's rows.
func (p *pipeline) writeRows(ctx context.Context, data *source.ProjectData, sheets []*ProjectSheet) (string, error) {
	bySuffix := map[string][]transform.Record{
		transform.SuffixSummary:   {transform.ProjectRecord(data.Project)},
		transform.SuffixTasks:     transform.TaskRecords(data),
		transform.SuffixResources: transform.ResourceRecords(data.Resources),
	}

	w := NewRowWriter(p.o.rec, p.o.opts.BatchSize)
	var done RowStats
	w.OnBatch = func(s RowStats) {
		p.progress.RowsWritten = done.Written + s.Written
		p.progress.RowsSkipped = done.Skipped + s.Skipped
		p.notify()
	}

	for i, ps := range sheets {
		stats, err := w.WriteRows(ctx, ps, bySuffix[ps.Schema.Suffix])
		p.res.Sheets[i].RowsWritten = stats.Written
		p.res.Sheets[i].RowsSkipped = stats.Skipped
		done.Written += stats.Written
		done.Skipped += stats.Skipped
		p.progress.RowsWritten = done.Written
		p.progress.RowsSkipped = done.Skipped
		if err != nil {
			return "", err
		}
	}
	p.notify()
	return fmt.Sprintf("%d rows written, %d already present", done.Written, done.Skipped), nil
}
