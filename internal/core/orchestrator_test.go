package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/poimport/internal/apperr"
	"github.com/JonMunkholm/poimport/internal/core/transform"
	"github.com/JonMunkholm/poimport/internal/ledger"
	"github.com/JonMunkholm/poimport/internal/source"
	"github.com/JonMunkholm/poimport/internal/target"
	"github.com/JonMunkholm/poimport/internal/target/memtarget"
)

type fixture struct {
	orch   *Orchestrator
	store  *memtarget.Store
	ledger *ledger.Memory
}

func newFixture(t *testing.T, opts Options, projects ...*source.ProjectData) *fixture {
	t.Helper()
	rec, store := newReconciler(t)
	led := ledger.NewMemory()
	cat := NewCatalogManager(rec, DefaultCatalog(), "", nil)
	orch := NewOrchestrator(Deps{
		Source:     source.NewStatic(projects...),
		Reconciler: rec,
		Catalog:    cat,
		Registry:   NewStrategyRegistry(rec, cat, StrategyDeps{Ledger: led}),
		Ledger:     led,
	}, opts)
	return &fixture{orch: orch, store: store, ledger: led}
}

// apollo is one project with three flat tasks, one person and one
// assignment.
func apollo() *source.ProjectData {
	return &source.ProjectData{
		Project: source.Project{ID: "p-1", Name: "Apollo", Priority: 500, PercentComplete: 10},
		Tasks: []source.Task{
			{ID: "t-3", Name: "Launch", TaskIndex: 3, OutlineLevel: 1, Duration: "PT8H"},
			{ID: "t-1", Name: "Design", TaskIndex: 1, OutlineLevel: 1, Duration: "P5D", Priority: 800},
			{ID: "t-2", Name: "Build", TaskIndex: 2, OutlineLevel: 1, PercentComplete: 50},
		},
		Links: []source.TaskLink{
			{ID: "l-1", PredecessorID: "t-1", SuccessorID: "t-2", Type: source.FinishToStart},
		},
		Resources: []source.Resource{
			{ID: "r-1", Name: "Ada Lovelace", Email: "ada@example.com", Type: source.ResourceWork, IsActive: true},
		},
		Assignments: []source.Assignment{
			{ID: "a-1", TaskID: "t-1", ResourceID: "r-1"},
		},
	}
}

func workspaceNamed(t *testing.T, store *memtarget.Store, name string) target.Workspace {
	t.Helper()
	for _, ws := range store.Workspaces() {
		if ws.Name == name {
			return ws
		}
	}
	t.Fatalf("workspace %q not found", name)
	return target.Workspace{}
}

func sheetNamed(t *testing.T, store *memtarget.Store, ws target.Workspace, name string) *target.Sheet {
	t.Helper()
	ref, ok := ws.SheetByName(name)
	require.True(t, ok, "sheet %q not in workspace %q", name, ws.Name)
	return store.Sheet(ref.ID)
}

func cell(t *testing.T, sh *target.Sheet, row target.Row, title string) *target.Cell {
	t.Helper()
	col, ok := sh.ColumnByTitle(title)
	require.True(t, ok, "column %q", title)
	c, ok := row.Cell(col.ID)
	if !ok {
		return nil
	}
	return c
}

func primaryValues(sh *target.Sheet) []string {
	col, _ := sh.PrimaryColumn()
	return sh.ColumnValues(col.ID)
}

// ----------------------------------------------------------------------------
// Scenarios
// ----------------------------------------------------------------------------

func TestImport_FreshProject(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{}, apollo())

	res, err := f.orch.Import(ctx, ImportRequest{ProjectID: "p-1"})
	require.NoError(t, err)

	assert.Equal(t, StageDone, res.Stage)
	assert.Equal(t, "Apollo", res.ProjectName)
	assert.Equal(t, Created, res.Workspace)
	assert.False(t, res.FromTemplate)
	assert.Empty(t, res.Skipped)
	assert.Equal(t, 5, res.RowsWritten())

	require.Len(t, f.store.Workspaces(), 2)
	ws := workspaceNamed(t, f.store, "Apollo")
	assert.Equal(t, res.WorkspaceID, ws.ID)
	require.Len(t, ws.Sheets, 3)
	assert.Equal(t, "Apollo - Summary", ws.Sheets[0].Name)
	assert.Equal(t, "Apollo - Tasks", ws.Sheets[1].Name)
	assert.Equal(t, "Apollo - Resources", ws.Sheets[2].Name)

	tasks := sheetNamed(t, f.store, ws, "Apollo - Tasks")
	assert.Equal(t, []string{"Design", "Build", "Launch"}, primaryValues(tasks))

	assigned := cell(t, tasks, tasks.Rows[0], transform.ColAssignedTo)
	require.NotNil(t, assigned)
	require.NotNil(t, assigned.ObjectValue)
	assert.Equal(t, target.ObjectMultiContact, assigned.ObjectValue.Type)
	assert.Equal(t, []target.Contact{{Name: "Ada Lovelace", Email: "ada@example.com"}}, assigned.ObjectValue.Contacts)

	preds := cell(t, tasks, tasks.Rows[1], transform.ColPredecessors)
	require.NotNil(t, preds)
	assert.Equal(t, "1FS", preds.Text())

	prio := cell(t, tasks, tasks.Rows[0], transform.ColPriority)
	require.NotNil(t, prio)
	assert.Equal(t, transform.PriorityVeryHigh, prio.Text())

	for _, title := range []string{transform.ColCreated, transform.ColModified} {
		assert.Nil(t, cell(t, tasks, tasks.Rows[0], title), "system column %q written", title)
	}

	resources := sheetNamed(t, f.store, ws, "Apollo - Resources")
	assert.Equal(t, []string{"Ada Lovelace"}, primaryValues(resources))
}

func TestImport_RecordsLedger(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{}, apollo())

	res, err := f.orch.Import(ctx, ImportRequest{ProjectID: "p-1"})
	require.NoError(t, err)

	run, err := f.ledger.GetRun(ctx, res.RunID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusSucceeded, run.Status)
	assert.Equal(t, string(StageDone), run.Stage)
	assert.Equal(t, "Apollo", run.ProjectName)
	assert.Equal(t, res.WorkspaceID, run.WorkspaceID)
	assert.Equal(t, 5, run.RowsWritten)
	assert.NotNil(t, run.FinishedAt)

	var stages []string
	for _, s := range run.Stages {
		stages = append(stages, s.Stage)
		assert.Equal(t, ledger.StatusSucceeded, s.Status)
	}
	assert.Equal(t, []string{
		string(StageEnsureCatalog),
		string(StageEnsureProjectContainer),
		string(StageEnsureSheets),
		string(StageTransformAndWriteRows),
		string(StageBindPicklistColumns),
	}, stages)

	m, err := f.ledger.GetMapping(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, res.WorkspaceID, m.WorkspaceID)
}

func TestImport_DryRunKeepsNoMapping(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{DryRun: true}, apollo())

	res, err := f.orch.Import(ctx, ImportRequest{ProjectID: "p-1"})
	require.NoError(t, err)
	assert.True(t, res.DryRun)

	_, err = f.ledger.GetMapping(ctx, "p-1")
	assert.True(t, apperr.IsNotFound(err))
}

func TestImport_Idempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{}, apollo())

	first, err := f.orch.Import(ctx, ImportRequest{ProjectID: "p-1"})
	require.NoError(t, err)
	before := f.store.Workspaces()
	catalog := workspaceNamed(t, f.store, "PMO Standards")
	catalogRows := map[int64]int{}
	for _, s := range catalog.Sheets {
		catalogRows[s.ID] = len(f.store.Sheet(s.ID).Rows)
	}

	second, err := f.orch.Import(ctx, ImportRequest{ProjectID: "p-1"})
	require.NoError(t, err)

	assert.Equal(t, before, f.store.Workspaces(), "workspace and sheet identities")
	assert.Equal(t, first.WorkspaceID, second.WorkspaceID)
	assert.Equal(t, Existing, second.Workspace)
	for i := range first.Sheets {
		assert.Equal(t, first.Sheets[i].SheetID, second.Sheets[i].SheetID)
		assert.Equal(t, Existing, second.Sheets[i].Outcome)
		assert.Zero(t, second.Sheets[i].ColumnsAdded)
		assert.Zero(t, second.Sheets[i].ColumnsBound)
		assert.Empty(t, second.Sheets[i].Drift)
	}
	assert.Zero(t, second.RowsWritten())
	assert.Equal(t, first.RowsWritten(), second.RowsSkipped())

	for id, n := range catalogRows {
		assert.Len(t, f.store.Sheet(id).Rows, n, "catalog sheet %d", id)
	}

	ws := workspaceNamed(t, f.store, "Apollo")
	tasks := sheetNamed(t, f.store, ws, "Apollo - Tasks")
	assert.Len(t, tasks.Rows, 3)
}

func TestImport_BindsPicklistsToSharedCatalog(t *testing.T) {
	ctx := context.Background()
	gemini := apollo()
	gemini.Project.ID = "p-2"
	gemini.Project.Name = "Gemini"
	f := newFixture(t, Options{}, apollo(), gemini)

	_, err := f.orch.Import(ctx, ImportRequest{ProjectID: "p-1"})
	require.NoError(t, err)
	_, err = f.orch.Import(ctx, ImportRequest{ProjectID: "p-2"})
	require.NoError(t, err)

	catalog := workspaceNamed(t, f.store, "PMO Standards")
	prioritySheet := sheetNamed(t, f.store, catalog, "Priority")
	primary, _ := prioritySheet.PrimaryColumn()
	want := target.CellLink{SheetID: prioritySheet.ID, ColumnID: primary.ID}

	for _, name := range []string{"Apollo", "Gemini"} {
		ws := workspaceNamed(t, f.store, name)
		tasks := sheetNamed(t, f.store, ws, name+" - Tasks")
		col, ok := tasks.ColumnByTitle(transform.ColPriority)
		require.True(t, ok)
		assert.Equal(t, target.Picklist, col.Type)
		assert.True(t, col.Strict)
		assert.Equal(t, []target.PicklistOption{target.LinkOption(want)}, col.Options)

		summary := sheetNamed(t, f.store, ws, name+" - Summary")
		pcol, ok := summary.ColumnByTitle(transform.ColProjectPriority)
		require.True(t, ok)
		assert.True(t, pcol.LinkedTo(want))
	}
	assert.Len(t, f.store.Workspaces(), 3)
}

func TestImport_ResourceTypeFamilies(t *testing.T) {
	ctx := context.Background()
	data := apollo()
	data.Resources = append(data.Resources,
		source.Resource{ID: "r-2", Name: "Concrete", Type: source.ResourceMaterial},
		source.Resource{ID: "r-3", Name: "Travel", Type: source.ResourceCost},
	)
	data.Assignments = append(data.Assignments,
		source.Assignment{ID: "a-2", TaskID: "t-1", ResourceID: "r-2"},
		source.Assignment{ID: "a-3", TaskID: "t-1", ResourceID: "r-3"},
	)
	f := newFixture(t, Options{}, data)

	_, err := f.orch.Import(ctx, ImportRequest{ProjectID: "p-1"})
	require.NoError(t, err)

	ws := workspaceNamed(t, f.store, "Apollo")
	tasks := sheetNamed(t, f.store, ws, "Apollo - Tasks")
	row := tasks.Rows[0]

	tests := []struct {
		column string
		kind   target.ObjectType
	}{
		{transform.ColAssignedTo, target.ObjectMultiContact},
		{transform.ColMaterials, target.ObjectMultiPicklist},
		{transform.ColCostResources, target.ObjectMultiPicklist},
	}
	for _, tt := range tests {
		t.Run(tt.column, func(t *testing.T) {
			c := cell(t, tasks, row, tt.column)
			require.NotNil(t, c)
			require.NotNil(t, c.ObjectValue)
			assert.Equal(t, tt.kind, c.ObjectValue.Type)
		})
	}
	assert.Equal(t, []string{"Concrete"}, cell(t, tasks, row, transform.ColMaterials).ObjectValue.Labels)

	resources := sheetNamed(t, f.store, ws, "Apollo - Resources")
	assert.Equal(t, []string{"Ada Lovelace", "Concrete", "Travel"}, primaryValues(resources))
}

func TestImport_HierarchyInBatches(t *testing.T) {
	ctx := context.Background()
	data := apollo()
	data.Tasks = []source.Task{
		{ID: "t-1", Name: "Phase 1", TaskIndex: 1, OutlineLevel: 1},
		{ID: "t-1a", Name: "Plan", TaskIndex: 2, OutlineLevel: 2, ParentID: "t-1"},
		{ID: "t-1a1", Name: "Draft", TaskIndex: 3, OutlineLevel: 3, ParentID: "t-1a"},
		{ID: "t-1b", Name: "Review", TaskIndex: 4, OutlineLevel: 2, ParentID: "t-1"},
		{ID: "t-2", Name: "Phase 2", TaskIndex: 5, OutlineLevel: 1},
	}
	data.Links = nil
	f := newFixture(t, Options{BatchSize: 1}, data)

	_, err := f.orch.Import(ctx, ImportRequest{ProjectID: "p-1"})
	require.NoError(t, err)

	ws := workspaceNamed(t, f.store, "Apollo")
	tasks := sheetNamed(t, f.store, ws, "Apollo - Tasks")
	assert.Equal(t, []string{"Phase 1", "Plan", "Draft", "Review", "Phase 2"}, primaryValues(tasks))

	r := tasks.Rows
	assert.Zero(t, r[0].ParentID)
	assert.Equal(t, r[0].ID, r[1].ParentID)
	assert.Equal(t, r[1].ID, r[2].ParentID)
	assert.Equal(t, r[0].ID, r[3].ParentID)
	assert.Zero(t, r[4].ParentID)
}

func TestImport_TasksWithoutOutlineLevel(t *testing.T) {
	ctx := context.Background()
	data := apollo()
	data.Tasks = []source.Task{
		{ID: "t-0", Name: "Apollo", TaskIndex: 0},
		{ID: "t-1", Name: "Design", TaskIndex: 1},
		{ID: "t-2", Name: "Build", TaskIndex: 2},
		{ID: "t-3", Name: "Launch", TaskIndex: 3},
	}
	f := newFixture(t, Options{}, data)

	res, err := f.orch.Import(ctx, ImportRequest{ProjectID: "p-1"})
	require.NoError(t, err)
	assert.Empty(t, res.Skipped)
	assert.Equal(t, 5, res.RowsWritten())

	ws := workspaceNamed(t, f.store, "Apollo")
	tasks := sheetNamed(t, f.store, ws, "Apollo - Tasks")
	assert.Equal(t, []string{"Design", "Build", "Launch"}, primaryValues(tasks))
	for _, r := range tasks.Rows {
		assert.Zero(t, r.ParentID)
	}
}

func TestImport_SkipsInvalidEntities(t *testing.T) {
	ctx := context.Background()
	data := apollo()
	data.Resources = append(data.Resources, source.Resource{ID: "r-9", Name: "Ghost", Type: "Robot"})
	data.Assignments = append(data.Assignments, source.Assignment{ID: "a-9", TaskID: "t-1", ResourceID: "r-9"})
	f := newFixture(t, Options{}, data)

	res, err := f.orch.Import(ctx, ImportRequest{ProjectID: "p-1"})
	require.NoError(t, err)
	assert.Len(t, res.Skipped, 2)

	ws := workspaceNamed(t, f.store, "Apollo")
	resources := sheetNamed(t, f.store, ws, "Apollo - Resources")
	assert.Equal(t, []string{"Ada Lovelace"}, primaryValues(resources))
}

// ----------------------------------------------------------------------------
// Project container
// ----------------------------------------------------------------------------

func TestImport_PortfolioFailsFast(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{Strategy: "portfolio"}, apollo())

	res, err := f.orch.Import(ctx, ImportRequest{ProjectID: "p-1"})
	require.Error(t, err)
	assert.True(t, apperr.IsConfiguration(err))
	assert.Contains(t, err.Error(), "not yet supported")
	assert.Equal(t, StageEnsureCatalog, res.Stage)
	assert.NotEmpty(t, res.Hints)

	for _, op := range []string{
		memtarget.OpListWorkspaces, memtarget.OpGetWorkspace, memtarget.OpCreateWorkspace,
		memtarget.OpCopyWorkspace, memtarget.OpCreateSheet, memtarget.OpGetSheet,
		memtarget.OpAddColumns, memtarget.OpUpdateColumn, memtarget.OpAddRows,
	} {
		assert.Zero(t, f.store.Calls(op), op)
	}

	run, err := f.ledger.GetRun(ctx, res.RunID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusFailed, run.Status)
	assert.Equal(t, string(Portfolio), run.Strategy)
}

func TestImport_TemplateCopy(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{}, apollo())
	tpl := f.store.Seed("Project Template", nameSheet("Read Me"))

	res, err := f.orch.Import(ctx, ImportRequest{ProjectID: "p-1", TemplateID: &tpl.ID})
	require.NoError(t, err)
	assert.True(t, res.FromTemplate)
	assert.Empty(t, res.Hints)

	ws := workspaceNamed(t, f.store, "Apollo")
	require.Len(t, ws.Sheets, 4)
	assert.Equal(t, "Read Me", ws.Sheets[0].Name)
}

func TestImport_TemplateCopyFailureFallsBackToBlank(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{}, apollo())
	missing := int64(424242)

	res, err := f.orch.Import(ctx, ImportRequest{ProjectID: "p-1", TemplateID: &missing})
	require.NoError(t, err)
	assert.False(t, res.FromTemplate)
	assert.Equal(t, Created, res.Workspace)
	require.Len(t, res.Hints, 1)
	assert.Contains(t, res.Hints[0], "template copy failed")
	assert.Contains(t, res.Hints[0], "created a blank workspace instead")

	ws := workspaceNamed(t, f.store, "Apollo")
	assert.Len(t, ws.Sheets, 3)
}

type stubPrompter struct {
	id  int64
	err error
	got []string
}

func (s *stubPrompter) PromptTemplate(_ context.Context, project string) (int64, error) {
	s.got = append(s.got, project)
	return s.id, s.err
}

func TestStandaloneStrategy_TemplateSources(t *testing.T) {
	ctx := context.Background()
	zero := int64(0)

	t.Run("explicit zero skips the prompt", func(t *testing.T) {
		rec, _ := newReconciler(t)
		p := &stubPrompter{id: 1}
		s := NewStandaloneStrategy(rec, nil, nil, p)
		pw, err := s.CreateProjectWorkspace(ctx, ProjectWorkspaceRequest{ProjectName: "Apollo", TemplateID: &zero})
		require.NoError(t, err)
		assert.False(t, pw.FromTemplate)
		assert.Empty(t, p.got)
	})

	t.Run("prompt failure falls back to blank", func(t *testing.T) {
		rec, store := newReconciler(t)
		p := &stubPrompter{err: context.DeadlineExceeded}
		s := NewStandaloneStrategy(rec, nil, nil, p)
		pw, err := s.CreateProjectWorkspace(ctx, ProjectWorkspaceRequest{ProjectName: "Apollo"})
		require.NoError(t, err)
		assert.Equal(t, []string{"Apollo"}, p.got)
		assert.Contains(t, pw.Hint, "template acquisition failed")
		assert.Equal(t, 0, store.Calls(memtarget.OpCopyWorkspace))
	})

	t.Run("prompted template is copied", func(t *testing.T) {
		rec, store := newReconciler(t)
		tpl := store.Seed("Template")
		s := NewStandaloneStrategy(rec, nil, nil, &stubPrompter{id: tpl.ID})
		pw, err := s.CreateProjectWorkspace(ctx, ProjectWorkspaceRequest{ProjectName: "Apollo"})
		require.NoError(t, err)
		assert.True(t, pw.FromTemplate)
		assert.Equal(t, tpl.ID, pw.TemplateID)
	})

	t.Run("existing workspace wins over template", func(t *testing.T) {
		rec, store := newReconciler(t)
		existing := store.Seed("Apollo")
		p := &stubPrompter{id: 1}
		s := NewStandaloneStrategy(rec, nil, nil, p)
		pw, err := s.CreateProjectWorkspace(ctx, ProjectWorkspaceRequest{ProjectName: "Apollo"})
		require.NoError(t, err)
		assert.Equal(t, existing.ID, pw.Workspace.ID)
		assert.Equal(t, Existing, pw.Outcome)
		assert.Empty(t, p.got)
	})
}

func TestImport_ExplicitWorkspaceID(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{}, apollo())
	ws := f.store.Seed("Legacy Apollo")

	res, err := f.orch.Import(ctx, ImportRequest{ProjectID: "p-1", WorkspaceID: &ws.ID})
	require.NoError(t, err)
	assert.Equal(t, ws.ID, res.WorkspaceID)
	assert.Equal(t, Existing, res.Workspace)

	missing := int64(1)
	_, err = f.orch.Import(ctx, ImportRequest{ProjectID: "p-1", WorkspaceID: &missing})
	assert.True(t, apperr.IsConfiguration(err))
}

func TestImport_MappingSurvivesRename(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{}, apollo())

	first, err := f.orch.Import(ctx, ImportRequest{ProjectID: "p-1"})
	require.NoError(t, err)

	renamed := apollo()
	renamed.Project.Name = "Apollo 11"
	f.orch.source = source.NewStatic(renamed)

	second, err := f.orch.Import(ctx, ImportRequest{ProjectID: "p-1"})
	require.NoError(t, err)
	assert.Equal(t, first.WorkspaceID, second.WorkspaceID)
	assert.Equal(t, Existing, second.Workspace)
}

// ----------------------------------------------------------------------------
// Failures
// ----------------------------------------------------------------------------

func TestImport_UnknownProject(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{}, apollo())

	res, err := f.orch.Import(ctx, ImportRequest{ProjectID: "nope"})
	require.Error(t, err)
	assert.True(t, apperr.IsNotFound(err))
	assert.Equal(t, StageStart, res.Stage)
	assert.Equal(t, "SRC002", apperr.MapError(err).Code)
	assert.Empty(t, f.store.Workspaces())
}

func TestImport_StageFailureIsResumable(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{}, apollo())
	f.store.Fail(memtarget.OpAddRows, &apperr.AuthError{Status: 403})

	res, err := f.orch.Import(ctx, ImportRequest{ProjectID: "p-1"})
	require.Error(t, err)
	assert.Equal(t, StageEnsureCatalog, res.Stage)

	res, err = f.orch.Import(ctx, ImportRequest{ProjectID: "p-1"})
	require.NoError(t, err)
	assert.Equal(t, StageDone, res.Stage)

	catalog := workspaceNamed(t, f.store, "PMO Standards")
	priority := sheetNamed(t, f.store, catalog, "Priority")
	assert.Equal(t, transform.PriorityLabels(), primaryValues(priority)[:7])
}

// ----------------------------------------------------------------------------
// Background imports
// ----------------------------------------------------------------------------

func TestStartImport(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{Timeout: time.Minute}, apollo())

	runID, err := f.orch.StartImport(ctx, ImportRequest{ProjectID: "p-1"})
	require.NoError(t, err)

	res, err := f.orch.Wait(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, runID, res.RunID)

	p, err := f.orch.Progress(runID)
	require.NoError(t, err)
	assert.Equal(t, PhaseComplete, p.Phase)
	assert.Equal(t, StageDone, p.Stage)
	assert.Equal(t, 100, p.Percent())

	ch, err := f.orch.Subscribe(runID)
	require.NoError(t, err)
	last, ok := <-ch
	require.True(t, ok)
	assert.Equal(t, PhaseComplete, last.Phase)
	_, ok = <-ch
	assert.False(t, ok, "channel closed after completion")

	assert.Eventually(t, func() bool { return f.orch.Limiter().ActiveCount() == 0 },
		time.Second, 5*time.Millisecond)
	assert.Len(t, f.orch.ActiveImports(), 1)
}

func TestActiveImport_FinishReachesFullListener(t *testing.T) {
	ch := make(chan ImportProgress, 10)
	ai := &activeImport{runID: "r-1", done: make(chan struct{}), listeners: []chan ImportProgress{ch}}
	for i := 0; i < 15; i++ {
		ai.update(ImportProgress{RunID: "r-1", Phase: PhaseLoading, RowsWritten: i})
	}

	ai.finish(nil, errors.New("boom"))

	var last ImportProgress
	n := 0
	for p := range ch {
		last = p
		n++
	}
	assert.Equal(t, 10, n)
	assert.Equal(t, PhaseFailed, last.Phase)
	assert.NotEmpty(t, last.Error)
	assert.Equal(t, 14, last.RowsWritten)
}

func TestStartImport_Saturated(t *testing.T) {
	rec, _ := newReconciler(t)
	cat := NewCatalogManager(rec, DefaultCatalog(), "", nil)
	limiter := NewImportLimiter(1, 10*time.Millisecond)
	orch := NewOrchestrator(Deps{
		Source:     source.NewStatic(apollo()),
		Reconciler: rec,
		Catalog:    cat,
		Registry:   NewStrategyRegistry(rec, cat, StrategyDeps{}),
		Limiter:    limiter,
	}, Options{})

	require.True(t, limiter.TryAcquire())
	defer limiter.Release()

	_, err := orch.StartImport(context.Background(), ImportRequest{ProjectID: "p-1"})
	assert.ErrorIs(t, err, ErrTooManyImports)
}

func TestProgress_UnknownRun(t *testing.T) {
	f := newFixture(t, Options{})
	_, err := f.orch.Progress("missing")
	assert.True(t, apperr.IsNotFound(err))
	assert.True(t, apperr.IsNotFound(f.orch.Cancel("missing")))
}
