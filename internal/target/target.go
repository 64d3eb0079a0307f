// Package target defines the spreadsheet-side capability set the importer
// loads into, along with its value types. The types follow the Smartsheet
// API 2.0 JSON shapes so HTTP implementations can encode them directly.
package target

import "context"

// API is the capability set used by the reconciliation engine.
//
// Lookups of absent objects return an error for which apperr.IsNotFound
// reports true.
type API interface {
	ListWorkspaces(ctx context.Context) ([]Workspace, error)
	// GetWorkspace returns the workspace with its sheets (id and name only).
	GetWorkspace(ctx context.Context, id int64) (*Workspace, error)
	CreateWorkspace(ctx context.Context, name string) (*Workspace, error)
	// CopyWorkspace copies a template workspace, including its sheets.
	CopyWorkspace(ctx context.Context, templateID int64, name string) (*Workspace, error)

	CreateSheet(ctx context.Context, workspaceID int64, spec SheetSpec) (*Sheet, error)
	// GetSheet returns the sheet with columns and rows.
	GetSheet(ctx context.Context, id int64) (*Sheet, error)

	AddColumns(ctx context.Context, sheetID int64, specs []ColumnSpec) ([]Column, error)
	UpdateColumn(ctx context.Context, sheetID int64, col Column) (*Column, error)

	// AddRows appends rows and returns them, with IDs, in request order.
	AddRows(ctx context.Context, sheetID int64, rows []RowSpec) ([]Row, error)
}

// Workspace is a named container of sheets.
type Workspace struct {
	ID        int64   `json:"id"`
	Name      string  `json:"name"`
	Permalink string  `json:"permalink,omitempty"`
	Sheets    []Sheet `json:"sheets,omitempty"`
}

// SheetByName returns the sheet with exactly name.
func (w *Workspace) SheetByName(name string) (*Sheet, bool) {
	for i := range w.Sheets {
		if w.Sheets[i].Name == name {
			return &w.Sheets[i], true
		}
	}
	return nil, false
}

// Sheet is a grid of typed columns and rows.
type Sheet struct {
	ID        int64    `json:"id"`
	Name      string   `json:"name"`
	Permalink string   `json:"permalink,omitempty"`
	Columns   []Column `json:"columns,omitempty"`
	Rows      []Row    `json:"rows,omitempty"`
}

// ColumnByTitle returns the column titled exactly title.
func (s *Sheet) ColumnByTitle(title string) (*Column, bool) {
	for i := range s.Columns {
		if s.Columns[i].Title == title {
			return &s.Columns[i], true
		}
	}
	return nil, false
}

// PrimaryColumn returns the sheet's primary column.
func (s *Sheet) PrimaryColumn() (*Column, bool) {
	for i := range s.Columns {
		if s.Columns[i].Primary {
			return &s.Columns[i], true
		}
	}
	return nil, false
}

// ColumnValues returns the display text of every row in the given column.
func (s *Sheet) ColumnValues(columnID int64) []string {
	out := make([]string, 0, len(s.Rows))
	for _, r := range s.Rows {
		if c, ok := r.Cell(columnID); ok {
			out = append(out, c.Text())
		}
	}
	return out
}

// Column is a typed sheet column.
type Column struct {
	ID      int64            `json:"id"`
	Index   int              `json:"index"`
	Title   string           `json:"title"`
	Type    ColumnType       `json:"type"`
	Primary bool             `json:"primary,omitempty"`
	Hidden  bool             `json:"hidden,omitempty"`
	Width   int              `json:"width,omitempty"`
	Options []PicklistOption `json:"options,omitempty"`
	Strict  bool             `json:"validation,omitempty"`
	// SystemColumnType is set for AUTO_NUMBER, CREATED_DATE and friends.
	SystemColumnType string `json:"systemColumnType,omitempty"`
}

// LinkedTo reports whether c's options are sourced from ref.
func (c *Column) LinkedTo(ref CellLink) bool {
	for _, o := range c.Options {
		if o.Link != nil && *o.Link == ref {
			return true
		}
	}
	return false
}

// ColumnSpec describes a column to create.
type ColumnSpec struct {
	Title            string           `json:"title"`
	Type             ColumnType       `json:"type"`
	Primary          bool             `json:"primary,omitempty"`
	Index            int              `json:"index"`
	Width            int              `json:"width,omitempty"`
	Hidden           bool             `json:"hidden,omitempty"`
	Options          []PicklistOption `json:"options,omitempty"`
	Strict           bool             `json:"validation,omitempty"`
	SystemColumnType string           `json:"systemColumnType,omitempty"`
}

// SheetSpec describes a sheet to create.
type SheetSpec struct {
	Name    string       `json:"name"`
	Columns []ColumnSpec `json:"columns"`
}

// Row is a sheet row.
type Row struct {
	ID        int64  `json:"id"`
	RowNumber int    `json:"rowNumber,omitempty"`
	ParentID  int64  `json:"parentId,omitempty"`
	Cells     []Cell `json:"cells,omitempty"`
}

// Cell returns the cell for columnID.
func (r *Row) Cell(columnID int64) (*Cell, bool) {
	for i := range r.Cells {
		if r.Cells[i].ColumnID == columnID {
			return &r.Cells[i], true
		}
	}
	return nil, false
}

// RowSpec describes a row to add. Child rows set ParentID to an existing row.
type RowSpec struct {
	ParentID int64  `json:"parentId,omitempty"`
	ToBottom bool   `json:"toBottom,omitempty"`
	Cells    []Cell `json:"cells"`
}
