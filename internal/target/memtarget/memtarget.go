// Package memtarget is an in-memory implementation of target.API keyed by
// name, used for dry runs and for exercising the reconciliation contract
// without a network.
package memtarget

import (
	"context"
	"fmt"
	"sync"

	"github.com/JonMunkholm/poimport/internal/apperr"
	"github.com/JonMunkholm/poimport/internal/target"
)

// Operation names accepted by Fail and Calls.
const (
	OpListWorkspaces  = "ListWorkspaces"
	OpGetWorkspace    = "GetWorkspace"
	OpCreateWorkspace = "CreateWorkspace"
	OpCopyWorkspace   = "CopyWorkspace"
	OpCreateSheet     = "CreateSheet"
	OpGetSheet        = "GetSheet"
	OpAddColumns      = "AddColumns"
	OpUpdateColumn    = "UpdateColumn"
	OpAddRows         = "AddRows"
)

type workspace struct {
	id     int64
	name   string
	sheets []int64
}

// Store is the fake target. The zero value is not usable; call New.
type Store struct {
	mu         sync.Mutex
	nextID     int64
	workspaces map[int64]*workspace
	wsOrder    []int64
	sheets     map[int64]*target.Sheet
	failures   map[string][]error
	calls      map[string]int
}

// New returns an empty store.
func New() *Store {
	return &Store{
		nextID:     1000,
		workspaces: make(map[int64]*workspace),
		sheets:     make(map[int64]*target.Sheet),
		failures:   make(map[string][]error),
		calls:      make(map[string]int),
	}
}

var _ target.API = (*Store)(nil)

// Fail queues errs to be returned, in order, by the next calls to op.
func (s *Store) Fail(op string, errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = append(s.failures[op], errs...)
}

// Calls returns how many times op has been invoked, failures included.
func (s *Store) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// enter records a call and pops a queued failure. Caller holds s.mu.
func (s *Store) enter(op string) error {
	s.calls[op]++
	q := s.failures[op]
	if len(q) == 0 {
		return nil
	}
	s.failures[op] = q[1:]
	return q[0]
}

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

// Seed adds a workspace directly, bypassing fault injection. Used to set up
// templates and pre-existing state.
func (s *Store) Seed(name string, sheets ...target.SheetSpec) *target.Workspace {
	s.mu.Lock()
	defer s.mu.Unlock()

	ws := s.newWorkspace(name)
	for _, spec := range sheets {
		sh := s.newSheet(spec)
		ws.sheets = append(ws.sheets, sh.ID)
	}
	return s.snapshotWorkspace(ws)
}

// SeedRows appends rows to a sheet directly, bypassing fault injection.
func (s *Store) SeedRows(sheetID int64, rows ...target.RowSpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.addRows(sheetID, rows)
	return err
}

// Workspaces returns every workspace in creation order.
func (s *Store) Workspaces() []target.Workspace {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]target.Workspace, 0, len(s.wsOrder))
	for _, id := range s.wsOrder {
		out = append(out, *s.snapshotWorkspace(s.workspaces[id]))
	}
	return out
}

// Sheet returns a deep copy of a sheet, or nil.
func (s *Store) Sheet(id int64) *target.Sheet {
	s.mu.Lock()
	defer s.mu.Unlock()

	sh, ok := s.sheets[id]
	if !ok {
		return nil
	}
	return cloneSheet(sh)
}

func (s *Store) ListWorkspaces(ctx context.Context) ([]target.Workspace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.enter(OpListWorkspaces); err != nil {
		return nil, err
	}
	out := make([]target.Workspace, 0, len(s.wsOrder))
	for _, id := range s.wsOrder {
		ws := s.workspaces[id]
		out = append(out, target.Workspace{ID: ws.id, Name: ws.name})
	}
	return out, nil
}

func (s *Store) GetWorkspace(ctx context.Context, id int64) (*target.Workspace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.enter(OpGetWorkspace); err != nil {
		return nil, err
	}
	ws, ok := s.workspaces[id]
	if !ok {
		return nil, &apperr.NotFoundError{Resource: "workspace", ID: fmt.Sprint(id)}
	}
	return s.snapshotWorkspace(ws), nil
}

func (s *Store) CreateWorkspace(ctx context.Context, name string) (*target.Workspace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.enter(OpCreateWorkspace); err != nil {
		return nil, err
	}
	return s.snapshotWorkspace(s.newWorkspace(name)), nil
}

func (s *Store) CopyWorkspace(ctx context.Context, templateID int64, name string) (*target.Workspace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.enter(OpCopyWorkspace); err != nil {
		return nil, err
	}
	tpl, ok := s.workspaces[templateID]
	if !ok {
		return nil, &apperr.NotFoundError{Resource: "template workspace", ID: fmt.Sprint(templateID)}
	}

	ws := s.newWorkspace(name)
	for _, sid := range tpl.sheets {
		src := s.sheets[sid]
		cp := cloneSheet(src)
		cp.ID = s.id()
		cols := make(map[int64]int64, len(cp.Columns))
		for i := range cp.Columns {
			id := s.id()
			cols[cp.Columns[i].ID] = id
			cp.Columns[i].ID = id
		}
		rows := make(map[int64]int64, len(cp.Rows))
		for i := range cp.Rows {
			id := s.id()
			rows[cp.Rows[i].ID] = id
			cp.Rows[i].ID = id
		}
		for i := range cp.Rows {
			r := &cp.Rows[i]
			if r.ParentID != 0 {
				r.ParentID = rows[r.ParentID]
			}
			for j := range r.Cells {
				r.Cells[j].ColumnID = cols[r.Cells[j].ColumnID]
			}
		}
		s.sheets[cp.ID] = cp
		ws.sheets = append(ws.sheets, cp.ID)
	}
	return s.snapshotWorkspace(ws), nil
}

func (s *Store) CreateSheet(ctx context.Context, workspaceID int64, spec target.SheetSpec) (*target.Sheet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.enter(OpCreateSheet); err != nil {
		return nil, err
	}
	ws, ok := s.workspaces[workspaceID]
	if !ok {
		return nil, &apperr.NotFoundError{Resource: "workspace", ID: fmt.Sprint(workspaceID)}
	}
	for _, sid := range ws.sheets {
		if s.sheets[sid].Name == spec.Name {
			return nil, fmt.Errorf("sheet %q already exists in workspace %d", spec.Name, workspaceID)
		}
	}

	primaries := 0
	for _, c := range spec.Columns {
		if c.Primary {
			primaries++
		}
	}
	if primaries != 1 {
		return nil, &apperr.ValidationError{Entity: "sheet", ID: spec.Name, Field: "columns", Message: "exactly one primary column required"}
	}

	sh := s.newSheet(spec)
	ws.sheets = append(ws.sheets, sh.ID)
	return cloneSheet(sh), nil
}

func (s *Store) GetSheet(ctx context.Context, id int64) (*target.Sheet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.enter(OpGetSheet); err != nil {
		return nil, err
	}
	sh, ok := s.sheets[id]
	if !ok {
		return nil, &apperr.NotFoundError{Resource: "sheet", ID: fmt.Sprint(id)}
	}
	return cloneSheet(sh), nil
}

func (s *Store) AddColumns(ctx context.Context, sheetID int64, specs []target.ColumnSpec) ([]target.Column, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.enter(OpAddColumns); err != nil {
		return nil, err
	}
	sh, ok := s.sheets[sheetID]
	if !ok {
		return nil, &apperr.NotFoundError{Resource: "sheet", ID: fmt.Sprint(sheetID)}
	}

	out := make([]target.Column, 0, len(specs))
	for _, spec := range specs {
		if _, exists := sh.ColumnByTitle(spec.Title); exists {
			return nil, fmt.Errorf("column %q already exists in sheet %d", spec.Title, sheetID)
		}
		col := s.columnFromSpec(spec, len(sh.Columns))
		sh.Columns = append(sh.Columns, col)
		out = append(out, col)
	}
	return out, nil
}

func (s *Store) UpdateColumn(ctx context.Context, sheetID int64, col target.Column) (*target.Column, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.enter(OpUpdateColumn); err != nil {
		return nil, err
	}
	sh, ok := s.sheets[sheetID]
	if !ok {
		return nil, &apperr.NotFoundError{Resource: "sheet", ID: fmt.Sprint(sheetID)}
	}
	for i := range sh.Columns {
		if sh.Columns[i].ID != col.ID {
			continue
		}
		cur := &sh.Columns[i]
		if col.Title != "" {
			cur.Title = col.Title
		}
		if col.Type != "" {
			cur.Type = col.Type
		}
		cur.Options = append([]target.PicklistOption(nil), col.Options...)
		cur.Strict = col.Strict
		updated := *cur
		return &updated, nil
	}
	return nil, &apperr.NotFoundError{Resource: "column", ID: fmt.Sprint(col.ID)}
}

func (s *Store) AddRows(ctx context.Context, sheetID int64, rows []target.RowSpec) ([]target.Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.enter(OpAddRows); err != nil {
		return nil, err
	}
	return s.addRows(sheetID, rows)
}

// ----------------------------------------------------------------------------
// Internals (caller holds s.mu)
// ----------------------------------------------------------------------------

func (s *Store) newWorkspace(name string) *workspace {
	ws := &workspace{id: s.id(), name: name}
	s.workspaces[ws.id] = ws
	s.wsOrder = append(s.wsOrder, ws.id)
	return ws
}

func (s *Store) newSheet(spec target.SheetSpec) *target.Sheet {
	sh := &target.Sheet{ID: s.id(), Name: spec.Name}
	for i, c := range spec.Columns {
		sh.Columns = append(sh.Columns, s.columnFromSpec(c, i))
	}
	s.sheets[sh.ID] = sh
	return sh
}

func (s *Store) columnFromSpec(spec target.ColumnSpec, index int) target.Column {
	return target.Column{
		ID:               s.id(),
		Index:            index,
		Title:            spec.Title,
		Type:             spec.Type,
		Primary:          spec.Primary,
		Hidden:           spec.Hidden,
		Width:            spec.Width,
		Options:          append([]target.PicklistOption(nil), spec.Options...),
		Strict:           spec.Strict,
		SystemColumnType: spec.SystemColumnType,
	}
}

func (s *Store) addRows(sheetID int64, rows []target.RowSpec) ([]target.Row, error) {
	sh, ok := s.sheets[sheetID]
	if !ok {
		return nil, &apperr.NotFoundError{Resource: "sheet", ID: fmt.Sprint(sheetID)}
	}

	out := make([]target.Row, 0, len(rows))
	for _, spec := range rows {
		if spec.ParentID != 0 && !hasRow(sh, spec.ParentID) {
			return out, &apperr.NotFoundError{Resource: "parent row", ID: fmt.Sprint(spec.ParentID)}
		}
		for _, c := range spec.Cells {
			if !hasColumn(sh, c.ColumnID) {
				return out, fmt.Errorf("column %d not in sheet %d", c.ColumnID, sheetID)
			}
		}
		row := target.Row{
			ID:       s.id(),
			ParentID: spec.ParentID,
			Cells:    append([]target.Cell(nil), spec.Cells...),
		}
		sh.Rows = insertRow(sh.Rows, row)
		out = append(out, row)
	}
	for i := range sh.Rows {
		sh.Rows[i].RowNumber = i + 1
	}
	for i := range out {
		for _, r := range sh.Rows {
			if r.ID == out[i].ID {
				out[i].RowNumber = r.RowNumber
			}
		}
	}
	return out, nil
}

// insertRow places a child after its parent's last descendant; top-level
// rows go to the bottom.
func insertRow(rows []target.Row, row target.Row) []target.Row {
	if row.ParentID == 0 {
		return append(rows, row)
	}

	inSubtree := map[int64]bool{row.ParentID: true}
	pos := -1
	for i, r := range rows {
		if r.ID == row.ParentID {
			pos = i
			continue
		}
		if pos >= 0 && inSubtree[r.ParentID] {
			inSubtree[r.ID] = true
			pos = i
		}
	}

	rows = append(rows, target.Row{})
	copy(rows[pos+2:], rows[pos+1:])
	rows[pos+1] = row
	return rows
}

func hasRow(sh *target.Sheet, id int64) bool {
	for _, r := range sh.Rows {
		if r.ID == id {
			return true
		}
	}
	return false
}

func hasColumn(sh *target.Sheet, id int64) bool {
	for _, c := range sh.Columns {
		if c.ID == id {
			return true
		}
	}
	return false
}

func (s *Store) snapshotWorkspace(ws *workspace) *target.Workspace {
	out := &target.Workspace{ID: ws.id, Name: ws.name}
	for _, sid := range ws.sheets {
		sh := s.sheets[sid]
		out.Sheets = append(out.Sheets, target.Sheet{ID: sh.ID, Name: sh.Name})
	}
	return out
}

func cloneSheet(sh *target.Sheet) *target.Sheet {
	cp := &target.Sheet{ID: sh.ID, Name: sh.Name, Permalink: sh.Permalink}
	cp.Columns = make([]target.Column, len(sh.Columns))
	for i, c := range sh.Columns {
		c.Options = append([]target.PicklistOption(nil), c.Options...)
		cp.Columns[i] = c
	}
	cp.Rows = make([]target.Row, len(sh.Rows))
	for i, r := range sh.Rows {
		r.Cells = append([]target.Cell(nil), r.Cells...)
		cp.Rows[i] = r
	}
	return cp
}
