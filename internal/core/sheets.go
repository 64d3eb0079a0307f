package core

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/JonMunkholm/poimport/internal/core/transform"
	"github.com/JonMunkholm/poimport/internal/logging"
	"github.com/JonMunkholm/poimport/internal/retry"
	"github.com/JonMunkholm/poimport/internal/target"
)

// DefaultBatchSize is the number of rows per AddRows request.
const DefaultBatchSize = 500

// ProjectSheet is a reconciled project sheet and its columns.
type ProjectSheet struct {
	Schema  transform.Schema
	Sheet   *target.Sheet
	Outcome Outcome
	// Columns holds one result per schema column, in schema order.
	Columns []ColumnResult
	Drift   string
}

// Column returns the reconciled column titled title.
func (p *ProjectSheet) Column(title string) (target.Column, bool) {
	for _, c := range p.Columns {
		if c.Column.Title == title {
			return c.Column, true
		}
	}
	return target.Column{}, false
}

// ColumnsAdded counts columns created by this run.
func (p *ProjectSheet) ColumnsAdded() int {
	n := 0
	for _, c := range p.Columns {
		if c.Outcome == Created {
			n++
		}
	}
	return n
}

// EnsureProjectSheets reconciles the summary, task and resource sheets of a
// project workspace. Each missing sheet is created with its primary column
// only; every other column is then added if missing.
func EnsureProjectSheets(ctx context.Context, rec *Reconciler, workspaceID int64, projectName string) ([]*ProjectSheet, error) {
	log := logging.FromContext(ctx)

	var out []*ProjectSheet
	for _, schema := range transform.Schemas() {
		name := transform.SheetName(projectName, schema.Suffix)

		sh, outcome, err := rec.GetOrCreateSheet(ctx, workspaceID, target.SheetSpec{
			Name:    name,
			Columns: []target.ColumnSpec{schema.Primary()},
		})
		if err != nil {
			return nil, err
		}

		ps := &ProjectSheet{Schema: schema, Sheet: sh, Outcome: outcome}
		if outcome == Existing {
			if ps.Drift = ColumnDrift(sh, schema.Columns); ps.Drift != "" {
				log.Warn("existing sheet differs from expected layout, adding missing columns only",
					zap.String("sheet", name),
					zap.String("diff", ps.Drift))
			}
		}

		ps.Columns, err = rec.AddColumnsIfNotExist(ctx, sh, schema.Columns)
		if err != nil {
			return nil, err
		}
		out = append(out, ps)
	}
	return out, nil
}

// ----------------------------------------------------------------------------
// Rows
// ----------------------------------------------------------------------------

// RowStats counts what WriteRows did.
type RowStats struct {
	Written int
	Skipped int
}

// RowWriter appends transformed records to a project sheet.
type RowWriter struct {
	rec       *Reconciler
	batchSize int
	// OnBatch, when set, is called after each successful batch.
	OnBatch func(RowStats)
}

// NewRowWriter returns a writer sending batchSize rows per request.
func NewRowWriter(rec *Reconciler, batchSize int) *RowWriter {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &RowWriter{rec: rec, batchSize: batchSize}
}

// WriteRows appends records whose source id is not already in the sheet.
// Records are written one depth level at a time so every child is added
// under a parent row that already exists; siblings keep record order.
func (w *RowWriter) WriteRows(ctx context.Context, ps *ProjectSheet, records []transform.Record) (RowStats, error) {
	var stats RowStats
	log := logging.FromContext(ctx).With(zap.String("sheet", ps.Sheet.Name))

	rowIDs := existingSourceRows(ps)

	byDepth := map[int][]transform.Record{}
	maxDepth := 0
	for _, r := range records {
		if _, ok := rowIDs[r.SourceID]; ok && r.SourceID != "" {
			stats.Skipped++
			continue
		}
		byDepth[r.Depth] = append(byDepth[r.Depth], r)
		if r.Depth > maxDepth {
			maxDepth = r.Depth
		}
	}
	if stats.Skipped > 0 {
		log.Info("rows already present, skipping", zap.Int("skipped", stats.Skipped))
	}

	for depth := 0; depth <= maxDepth; depth++ {
		wave := byDepth[depth]
		for start := 0; start < len(wave); start += w.batchSize {
			end := min(start+w.batchSize, len(wave))
			batch := wave[start:end]

			specs := make([]target.RowSpec, len(batch))
			for i, r := range batch {
				specs[i] = target.RowSpec{ToBottom: true, Cells: buildCells(ps, r)}
				if r.ParentSourceID == "" {
					continue
				}
				if pid, ok := rowIDs[r.ParentSourceID]; ok {
					specs[i].ParentID = pid
				} else {
					log.Warn("parent row missing, writing as top-level row",
						zap.String("source_id", r.SourceID),
						zap.String("parent_source_id", r.ParentSourceID))
				}
			}

			rows, err := retry.Run(ctx, w.rec.Retry(), "add rows", func(ctx context.Context) ([]target.Row, error) {
				return w.rec.API().AddRows(ctx, ps.Sheet.ID, specs)
			})
			if err != nil {
				return stats, fmt.Errorf("add rows %d-%d to sheet %q: %w", start+1, end, ps.Sheet.Name, err)
			}
			for i, row := range rows {
				if i < len(batch) && batch[i].SourceID != "" {
					rowIDs[batch[i].SourceID] = row.ID
				}
			}
			stats.Written += len(rows)
			if w.OnBatch != nil {
				w.OnBatch(stats)
			}
		}
	}
	return stats, nil
}

// existingSourceRows maps source id to row id using the sheet's hidden
// source id column.
func existingSourceRows(ps *ProjectSheet) map[string]int64 {
	out := map[string]int64{}
	col, ok := ps.Column(ps.Schema.SourceIDColumn)
	if !ok {
		return out
	}
	for _, row := range ps.Sheet.Rows {
		if c, ok := row.Cell(col.ID); ok {
			if id := c.Text(); id != "" {
				out[id] = row.ID
			}
		}
	}
	return out
}

// buildCells maps a record's titled values onto column ids, in column
// order. Titles without a column and system columns are dropped.
func buildCells(ps *ProjectSheet, r transform.Record) []target.Cell {
	type indexed struct {
		index int
		cell  target.Cell
	}
	var cells []indexed
	for title, v := range r.Values {
		col, ok := ps.Column(title)
		if !ok || col.Type.System() {
			continue
		}
		c := target.Cell{ColumnID: col.ID}
		if obj, ok := v.(*target.ObjectValue); ok {
			c.ObjectValue = obj
		} else {
			c.Value = v
		}
		cells = append(cells, indexed{col.Index, c})
	}
	sort.Slice(cells, func(i, j int) bool { return cells[i].index < cells[j].index })

	out := make([]target.Cell, len(cells))
	for i, c := range cells {
		out[i] = c.cell
	}
	return out
}

// ----------------------------------------------------------------------------
// Picklist binding
// ----------------------------------------------------------------------------

// BindPicklistColumns points every catalog-backed column at its catalog
// sheet as a strict cell-link picklist. Columns that existed before this run
// and already carry the link are left alone. It returns the number of
// columns updated per sheet.
func BindPicklistColumns(ctx context.Context, rec *Reconciler, sheets []*ProjectSheet, cat *Catalog) (map[int64]int, error) {
	log := logging.FromContext(ctx)
	bound := map[int64]int{}

	for _, ps := range sheets {
		for _, res := range ps.Columns {
			link, ok := cat.LinkFor(res.Column.Title)
			if !ok {
				continue
			}
			if res.Existed() && res.Column.LinkedTo(link) {
				continue
			}

			col := res.Column
			col.Type = target.Picklist
			col.Options = []target.PicklistOption{target.LinkOption(link)}
			col.Strict = true
			if _, err := rec.UpdateColumn(ctx, ps.Sheet.ID, col); err != nil {
				return bound, fmt.Errorf("bind column %q on sheet %q to %s: %w", col.Title, ps.Sheet.Name, link, err)
			}
			bound[ps.Sheet.ID]++
			log.Debug("column bound to catalog",
				zap.String("sheet", ps.Sheet.Name),
				zap.String("column", col.Title),
				zap.Stringer("link", link))
		}
	}
	return bound, nil
}
