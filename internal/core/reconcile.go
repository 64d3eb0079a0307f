package core

// reconcile.go holds the find-or-create primitives every stage builds on.
//
// Every remote call goes through the retry executor. Lookups of objects that
// may have just been created use a second executor that also retries
// NotFound, so the target's eventual consistency does not turn into a
// duplicate create. Name matching is exact; no fuzzy matching.

import (
	"context"
	"fmt"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
	"go.uber.org/zap"

	"github.com/JonMunkholm/poimport/internal/apperr"
	"github.com/JonMunkholm/poimport/internal/logging"
	"github.com/JonMunkholm/poimport/internal/retry"
	"github.com/JonMunkholm/poimport/internal/target"
)

// Outcome tells a caller whether a reconciled object was found or made.
type Outcome int

const (
	Existing Outcome = iota
	Created
)

func (o Outcome) String() string {
	if o == Created {
		return "created"
	}
	return "existing"
}

// ColumnResult is the reconciliation outcome for one column spec.
type ColumnResult struct {
	Column  target.Column
	Outcome Outcome
}

// Existed reports whether the column was already on the sheet.
func (r ColumnResult) Existed() bool { return r.Outcome == Existing }

// Reconciler provides idempotent get-or-create operations against a target.
type Reconciler struct {
	api    target.API
	retry  *retry.Executor
	lookup *retry.Executor
}

// NewReconciler wraps api with exec.
func NewReconciler(api target.API, exec *retry.Executor) *Reconciler {
	return &Reconciler{
		api:    api,
		retry:  exec,
		lookup: exec.Tolerating(apperr.IsNotFound),
	}
}

// API returns the wrapped target.
func (r *Reconciler) API() target.API { return r.api }

// Retry returns the executor used for writes.
func (r *Reconciler) Retry() *retry.Executor { return r.retry }

// ----------------------------------------------------------------------------
// Workspaces
// ----------------------------------------------------------------------------

// FindWorkspaceByName returns the first workspace named exactly name.
func (r *Reconciler) FindWorkspaceByName(ctx context.Context, name string) (*target.Workspace, error) {
	list, err := retry.Run(ctx, r.retry, "list workspaces", r.api.ListWorkspaces)
	if err != nil {
		return nil, err
	}
	for i := range list {
		if list[i].Name == name {
			return &list[i], nil
		}
	}
	return nil, &apperr.NotFoundError{Resource: "workspace", ID: name}
}

// GetWorkspace reads a workspace with its sheets, riding out consistency lag.
func (r *Reconciler) GetWorkspace(ctx context.Context, id int64) (*target.Workspace, error) {
	return retry.Run(ctx, r.lookup, "get workspace", func(ctx context.Context) (*target.Workspace, error) {
		return r.api.GetWorkspace(ctx, id)
	})
}

// GetOrCreateWorkspace finds a workspace by name or creates it.
func (r *Reconciler) GetOrCreateWorkspace(ctx context.Context, name string) (*target.Workspace, Outcome, error) {
	ws, err := r.FindWorkspaceByName(ctx, name)
	if err == nil {
		return ws, Existing, nil
	}
	if !apperr.IsNotFound(err) {
		return nil, Existing, err
	}

	ws, err = retry.Run(ctx, r.retry, "create workspace", func(ctx context.Context) (*target.Workspace, error) {
		return r.api.CreateWorkspace(ctx, name)
	})
	if err != nil {
		return nil, Created, fmt.Errorf("create workspace %q: %w", name, err)
	}
	logging.FromContext(ctx).Info("workspace created", zap.String("workspace", name), zap.Int64("workspace_id", ws.ID))
	return ws, Created, nil
}

// ----------------------------------------------------------------------------
// Sheets
// ----------------------------------------------------------------------------

// FindSheetInWorkspace returns the sheet named exactly name, with columns and
// rows, or a NotFoundError.
func (r *Reconciler) FindSheetInWorkspace(ctx context.Context, workspaceID int64, name string) (*target.Sheet, error) {
	ws, err := r.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	ref, ok := ws.SheetByName(name)
	if !ok {
		return nil, &apperr.NotFoundError{Resource: "sheet", ID: name}
	}
	return r.GetSheet(ctx, ref.ID)
}

// GetSheet reads a sheet with columns and rows, riding out consistency lag.
func (r *Reconciler) GetSheet(ctx context.Context, id int64) (*target.Sheet, error) {
	return retry.Run(ctx, r.lookup, "get sheet", func(ctx context.Context) (*target.Sheet, error) {
		return r.api.GetSheet(ctx, id)
	})
}

// GetOrCreateSheet returns the sheet named spec.Name, creating it from spec
// when absent. An existing sheet is returned unchanged.
func (r *Reconciler) GetOrCreateSheet(ctx context.Context, workspaceID int64, spec target.SheetSpec) (*target.Sheet, Outcome, error) {
	sh, err := r.FindSheetInWorkspace(ctx, workspaceID, spec.Name)
	if err == nil {
		return sh, Existing, nil
	}
	if !apperr.IsNotFound(err) {
		return nil, Existing, err
	}

	sh, err = retry.Run(ctx, r.retry, "create sheet", func(ctx context.Context) (*target.Sheet, error) {
		return r.api.CreateSheet(ctx, workspaceID, spec)
	})
	if err != nil {
		return nil, Created, fmt.Errorf("create sheet %q: %w", spec.Name, err)
	}
	logging.FromContext(ctx).Info("sheet created", zap.String("sheet", spec.Name), zap.Int64("sheet_id", sh.ID))
	return sh, Created, nil
}

// ----------------------------------------------------------------------------
// Columns
// ----------------------------------------------------------------------------

// GetOrAddColumn returns the column titled spec.Title, adding it when absent.
// sheet.Columns is updated in place.
func (r *Reconciler) GetOrAddColumn(ctx context.Context, sheet *target.Sheet, spec target.ColumnSpec) (ColumnResult, error) {
	res, err := r.AddColumnsIfNotExist(ctx, sheet, []target.ColumnSpec{spec})
	if err != nil {
		return ColumnResult{}, err
	}
	return res[0], nil
}

// AddColumnsIfNotExist adds every spec whose title is not on sheet, in one
// request, and reports per spec whether it existed. Results are in spec
// order. sheet.Columns is updated in place.
func (r *Reconciler) AddColumnsIfNotExist(ctx context.Context, sheet *target.Sheet, specs []target.ColumnSpec) ([]ColumnResult, error) {
	results := make([]ColumnResult, len(specs))
	var missing []target.ColumnSpec
	var missingAt []int

	next := len(sheet.Columns)
	for i, spec := range specs {
		if col, ok := sheet.ColumnByTitle(spec.Title); ok {
			results[i] = ColumnResult{Column: *col, Outcome: Existing}
			continue
		}
		spec.Index = next
		next++
		missing = append(missing, spec)
		missingAt = append(missingAt, i)
	}
	if len(missing) == 0 {
		return results, nil
	}

	added, err := retry.Run(ctx, r.retry, "add columns", func(ctx context.Context) ([]target.Column, error) {
		return r.api.AddColumns(ctx, sheet.ID, missing)
	})
	if err != nil {
		return nil, fmt.Errorf("add %d columns to sheet %q: %w", len(missing), sheet.Name, err)
	}
	if len(added) != len(missing) {
		return nil, fmt.Errorf("add columns to sheet %q: asked for %d, got %d", sheet.Name, len(missing), len(added))
	}

	for j, col := range added {
		results[missingAt[j]] = ColumnResult{Column: col, Outcome: Created}
		sheet.Columns = append(sheet.Columns, col)
	}
	logging.FromContext(ctx).Debug("columns added",
		zap.String("sheet", sheet.Name),
		zap.Int("added", len(added)),
		zap.Int("existing", len(specs)-len(added)),
	)
	return results, nil
}

// UpdateColumn applies col to the sheet.
func (r *Reconciler) UpdateColumn(ctx context.Context, sheetID int64, col target.Column) (*target.Column, error) {
	return retry.Run(ctx, r.retry, "update column", func(ctx context.Context) (*target.Column, error) {
		return r.api.UpdateColumn(ctx, sheetID, col)
	})
}

// ----------------------------------------------------------------------------
// Drift
// ----------------------------------------------------------------------------

// ColumnDrift returns a unified diff of the expected column titles against
// the sheet's actual titles, or "" when they match.
func ColumnDrift(sheet *target.Sheet, specs []target.ColumnSpec) string {
	expected := make([]string, len(specs))
	for i, s := range specs {
		expected[i] = s.Title + " (" + string(s.Type) + ")"
	}
	actual := make([]string, len(sheet.Columns))
	for i, c := range sheet.Columns {
		actual[i] = c.Title + " (" + string(c.Type) + ")"
	}
	if strings.Join(expected, "\n") == strings.Join(actual, "\n") {
		return ""
	}

	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(strings.Join(expected, "\n") + "\n"),
		B:        difflib.SplitLines(strings.Join(actual, "\n") + "\n"),
		FromFile: "expected",
		ToFile:   sheet.Name,
		Context:  1,
	})
	if err != nil {
		return ""
	}
	return diff
}
