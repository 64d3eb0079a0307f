package smartsheet

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/JonMunkholm/poimport/internal/apperr"
	"github.com/JonMunkholm/poimport/internal/target"
)

var _ target.API = (*Client)(nil)

// notFound names the missing object instead of the generic "remote object".
func notFound(err error, resource string, id int64) error {
	if apperr.IsNotFound(err) {
		return &apperr.NotFoundError{Resource: resource, ID: fmt.Sprint(id), Err: err}
	}
	return err
}

func (c *Client) ListWorkspaces(ctx context.Context) ([]target.Workspace, error) {
	var out []target.Workspace
	if err := c.do(ctx, http.MethodGet, "/workspaces?includeAll=true", nil, &out); err != nil {
		return nil, fmt.Errorf("list workspaces: %w", err)
	}
	return out, nil
}

func (c *Client) GetWorkspace(ctx context.Context, id int64) (*target.Workspace, error) {
	var ws target.Workspace
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/workspaces/%d", id), nil, &ws); err != nil {
		return nil, notFound(err, "workspace", id)
	}
	return &ws, nil
}

func (c *Client) CreateWorkspace(ctx context.Context, name string) (*target.Workspace, error) {
	var ws target.Workspace
	in := map[string]string{"name": name}
	if err := c.do(ctx, http.MethodPost, "/workspaces", in, &ws); err != nil {
		return nil, fmt.Errorf("create workspace %q: %w", name, err)
	}
	return &ws, nil
}

// CopyWorkspace copies a template with its sheets, data and formatting.
func (c *Client) CopyWorkspace(ctx context.Context, templateID int64, name string) (*target.Workspace, error) {
	q := url.Values{"include": {"data,attachments,discussions,cellLinks,forms,rules,ruleRecipients,shares"}}
	path := fmt.Sprintf("/workspaces/%d/copy?%s", templateID, q.Encode())

	var ws target.Workspace
	in := map[string]string{"newName": name}
	if err := c.do(ctx, http.MethodPost, path, in, &ws); err != nil {
		return nil, notFound(err, "template workspace", templateID)
	}
	return &ws, nil
}

func (c *Client) CreateSheet(ctx context.Context, workspaceID int64, spec target.SheetSpec) (*target.Sheet, error) {
	var sh target.Sheet
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/workspaces/%d/sheets", workspaceID), spec, &sh); err != nil {
		return nil, fmt.Errorf("create sheet %q: %w", spec.Name, notFound(err, "workspace", workspaceID))
	}
	return &sh, nil
}

func (c *Client) GetSheet(ctx context.Context, id int64) (*target.Sheet, error) {
	var sh target.Sheet
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/sheets/%d", id), nil, &sh); err != nil {
		return nil, notFound(err, "sheet", id)
	}
	return &sh, nil
}

func (c *Client) AddColumns(ctx context.Context, sheetID int64, specs []target.ColumnSpec) ([]target.Column, error) {
	var cols []target.Column
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/sheets/%d/columns", sheetID), specs, &cols); err != nil {
		return nil, fmt.Errorf("add %d columns: %w", len(specs), notFound(err, "sheet", sheetID))
	}
	return cols, nil
}

// columnUpdate is the writable subset of a column.
type columnUpdate struct {
	Title   string                  `json:"title,omitempty"`
	Type    target.ColumnType       `json:"type,omitempty"`
	Options []target.PicklistOption `json:"options,omitempty"`
	Strict  bool                    `json:"validation"`
}

func (c *Client) UpdateColumn(ctx context.Context, sheetID int64, col target.Column) (*target.Column, error) {
	in := columnUpdate{Title: col.Title, Type: col.Type, Options: col.Options, Strict: col.Strict}
	var out target.Column
	path := fmt.Sprintf("/sheets/%d/columns/%d", sheetID, col.ID)
	if err := c.do(ctx, http.MethodPut, path, in, &out); err != nil {
		return nil, fmt.Errorf("update column %q: %w", col.Title, notFound(err, "column", col.ID))
	}
	return &out, nil
}

func (c *Client) AddRows(ctx context.Context, sheetID int64, rows []target.RowSpec) ([]target.Row, error) {
	var out []target.Row
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/sheets/%d/rows", sheetID), rows, &out); err != nil {
		return nil, fmt.Errorf("add %d rows: %w", len(rows), notFound(err, "sheet", sheetID))
	}
	return out, nil
}
