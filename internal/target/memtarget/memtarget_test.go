package memtarget

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/poimport/internal/apperr"
	"github.com/JonMunkholm/poimport/internal/target"
)

func nameSheet(name string) target.SheetSpec {
	return target.SheetSpec{Name: name, Columns: []target.ColumnSpec{{Title: "Name", Type: target.TextNumber, Primary: true}}}
}

func TestStore_WorkspaceLifecycle(t *testing.T) {
	ctx := context.Background()
	s := New()

	ws, err := s.CreateWorkspace(ctx, "Alpha")
	require.NoError(t, err)

	sh, err := s.CreateSheet(ctx, ws.ID, nameSheet("Alpha - Tasks"))
	require.NoError(t, err)

	got, err := s.GetWorkspace(ctx, ws.ID)
	require.NoError(t, err)
	found, ok := got.SheetByName("Alpha - Tasks")
	require.True(t, ok)
	assert.Equal(t, sh.ID, found.ID)

	_, err = s.CreateSheet(ctx, ws.ID, nameSheet("Alpha - Tasks"))
	assert.Error(t, err, "duplicate names surface a conflict")
}

func TestStore_MissingObjectsAreNotFound(t *testing.T) {
	ctx := context.Background()
	s := New()

	_, err := s.GetWorkspace(ctx, 1)
	assert.True(t, apperr.IsNotFound(err))
	_, err = s.GetSheet(ctx, 1)
	assert.True(t, apperr.IsNotFound(err))
	_, err = s.CopyWorkspace(ctx, 1, "x")
	assert.True(t, apperr.IsNotFound(err))
}

func TestStore_FailureInjection(t *testing.T) {
	ctx := context.Background()
	s := New()
	boom := errors.New("boom")
	s.Fail(OpListWorkspaces, boom)

	_, err := s.ListWorkspaces(ctx)
	assert.Same(t, boom, err)

	_, err = s.ListWorkspaces(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 2, s.Calls(OpListWorkspaces))
}

func TestStore_CopyWorkspace(t *testing.T) {
	ctx := context.Background()
	s := New()
	tpl := s.Seed("Template", nameSheet("Intake"))

	ws, err := s.CopyWorkspace(ctx, tpl.ID, "Project")
	require.NoError(t, err)
	require.Len(t, ws.Sheets, 1)
	assert.Equal(t, "Intake", ws.Sheets[0].Name)
	assert.NotEqual(t, tpl.Sheets[0].ID, ws.Sheets[0].ID)
}

func TestStore_CopyWorkspaceKeepsRows(t *testing.T) {
	ctx := context.Background()
	s := New()
	tpl := s.Seed("Template", nameSheet("Intake"))
	tplSheet := tpl.Sheets[0].ID
	col := s.Sheet(tplSheet).Columns[0].ID

	top, err := s.AddRows(ctx, tplSheet, []target.RowSpec{{ToBottom: true, Cells: []target.Cell{{ColumnID: col, Value: "Kickoff"}}}})
	require.NoError(t, err)
	_, err = s.AddRows(ctx, tplSheet, []target.RowSpec{{ParentID: top[0].ID, ToBottom: true, Cells: []target.Cell{{ColumnID: col, Value: "Agenda"}}}})
	require.NoError(t, err)

	ws, err := s.CopyWorkspace(ctx, tpl.ID, "Project")
	require.NoError(t, err)
	cp := s.Sheet(ws.Sheets[0].ID)
	newCol := cp.Columns[0].ID
	assert.NotEqual(t, col, newCol)
	assert.Equal(t, []string{"Kickoff", "Agenda"}, cp.ColumnValues(newCol))

	require.Len(t, cp.Rows, 2)
	c, ok := cp.Rows[0].Cell(newCol)
	require.True(t, ok)
	assert.Equal(t, "Kickoff", c.Text())
	assert.NotEqual(t, top[0].ID, cp.Rows[0].ID)
	assert.Equal(t, cp.Rows[0].ID, cp.Rows[1].ParentID)

	orig := s.Sheet(tplSheet)
	assert.Equal(t, []string{"Kickoff", "Agenda"}, orig.ColumnValues(col))
}

func TestStore_AddRowsKeepsChildrenUnderParents(t *testing.T) {
	ctx := context.Background()
	s := New()
	ws := s.Seed("W", nameSheet("S"))
	sheetID := ws.Sheets[0].ID
	sh := s.Sheet(sheetID)
	col := sh.Columns[0].ID

	cell := func(v string) []target.Cell { return []target.Cell{{ColumnID: col, Value: v}} }

	top, err := s.AddRows(ctx, sheetID, []target.RowSpec{{ToBottom: true, Cells: cell("A")}, {ToBottom: true, Cells: cell("B")}})
	require.NoError(t, err)

	_, err = s.AddRows(ctx, sheetID, []target.RowSpec{{ParentID: top[0].ID, ToBottom: true, Cells: cell("A.1")}})
	require.NoError(t, err)

	got := s.Sheet(sheetID).ColumnValues(col)
	assert.Equal(t, []string{"A", "A.1", "B"}, got)

	_, err = s.AddRows(ctx, sheetID, []target.RowSpec{{ParentID: 999999, Cells: cell("orphan")}})
	assert.True(t, apperr.IsNotFound(err))
}

func TestStore_UpdateColumnSetsLink(t *testing.T) {
	ctx := context.Background()
	s := New()
	ws := s.Seed("W", nameSheet("S"))
	sheetID := ws.Sheets[0].ID

	cols, err := s.AddColumns(ctx, sheetID, []target.ColumnSpec{{Title: "Status", Type: target.Picklist, Index: 1}})
	require.NoError(t, err)

	ref := target.CellLink{SheetID: 1, ColumnID: 2}
	col := cols[0]
	col.Options = []target.PicklistOption{target.LinkOption(ref)}
	col.Strict = true
	_, err = s.UpdateColumn(ctx, sheetID, col)
	require.NoError(t, err)

	stored, ok := s.Sheet(sheetID).ColumnByTitle("Status")
	require.True(t, ok)
	assert.True(t, stored.LinkedTo(ref))
	assert.True(t, stored.Strict)
}
