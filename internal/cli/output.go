package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/JonMunkholm/poimport/internal/apperr"
	"github.com/JonMunkholm/poimport/internal/core"
	"github.com/JonMunkholm/poimport/internal/ledger"
)

var (
	colorSuccess = lipgloss.Color("#50FA7B")
	colorError   = lipgloss.Color("#FF5555")
	colorWarning = lipgloss.Color("#FFB86C")
	colorMuted   = lipgloss.Color("#6272A4")
	colorTitle   = lipgloss.Color("#FF79C6")

	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(colorTitle)
	successStyle = lipgloss.NewStyle().Foreground(colorSuccess)
	errorStyle   = lipgloss.NewStyle().Foreground(colorError)
	warningStyle = lipgloss.NewStyle().Foreground(colorWarning)
	mutedStyle   = lipgloss.NewStyle().Foreground(colorMuted)
)

const (
	iconSuccess = "✓"
	iconError   = "✗"
	iconWarning = "⚠"
)

// importOutcome is one project's result in a multi-project import.
type importOutcome struct {
	projectID string
	result    *core.ImportResult
	err       error
}

// renderImportSummary writes one block per project and a totals line.
func renderImportSummary(w io.Writer, outcomes []importOutcome) {
	failed := 0
	for _, o := range outcomes {
		if o.err != nil {
			failed++
			renderFailure(w, o)
			continue
		}
		renderSuccess(w, o.result)
	}

	total := fmt.Sprintf("%d imported, %d failed", len(outcomes)-failed, failed)
	if failed > 0 {
		fmt.Fprintln(w, errorStyle.Render(total))
		return
	}
	fmt.Fprintln(w, successStyle.Render(total))
}

func renderSuccess(w io.Writer, res *core.ImportResult) {
	head := fmt.Sprintf("%s %s (%s)", iconSuccess, res.ProjectName, res.ProjectID)
	if res.DryRun {
		head += " [dry run]"
	}
	fmt.Fprintln(w, successStyle.Render(head))

	ws := fmt.Sprintf("workspace %q %d (%s", res.WorkspaceName, res.WorkspaceID, res.Workspace)
	if res.FromTemplate {
		ws += ", from template"
	}
	fmt.Fprintln(w, "  "+ws+")")

	for _, s := range res.Sheets {
		line := fmt.Sprintf("  %-28s %3d written  %3d skipped", s.Name, s.RowsWritten, s.RowsSkipped)
		if s.ColumnsAdded > 0 {
			line += fmt.Sprintf("  +%d columns", s.ColumnsAdded)
		}
		if s.ColumnsBound > 0 {
			line += fmt.Sprintf("  %d bound", s.ColumnsBound)
		}
		fmt.Fprintln(w, line)
		if s.Drift != "" {
			fmt.Fprintln(w, "    "+warningStyle.Render(iconWarning+" columns differ from the expected layout"))
		}
	}
	renderNotes(w, res)
	fmt.Fprintln(w, mutedStyle.Render(fmt.Sprintf("  run %s in %s", res.RunID, res.Duration.Round(time.Millisecond))))
}

func renderFailure(w io.Writer, o importOutcome) {
	name := o.projectID
	if o.result != nil && o.result.ProjectName != "" {
		name = fmt.Sprintf("%s (%s)", o.result.ProjectName, o.projectID)
	}
	fmt.Fprintln(w, errorStyle.Render(fmt.Sprintf("%s %s", iconError, name)))

	msg := apperr.MapError(o.err)
	fmt.Fprintf(w, "  %s [%s]\n", msg.Message, msg.Code)
	if msg.Action != "" {
		fmt.Fprintln(w, "  "+mutedStyle.Render(msg.Action))
	}
	if o.result != nil {
		fmt.Fprintf(w, "  stopped at %s: %s\n", o.result.Stage, o.err)
		renderNotes(w, o.result)
		fmt.Fprintln(w, mutedStyle.Render("  run "+o.result.RunID))
	}
}

func renderNotes(w io.Writer, res *core.ImportResult) {
	for _, h := range res.Hints {
		fmt.Fprintln(w, "  "+warningStyle.Render(iconWarning+" "+h))
	}
	for _, s := range res.Skipped {
		fmt.Fprintln(w, "  "+warningStyle.Render(iconWarning+" skipped "+s))
	}
}

// renderCatalog lists the reconciled catalog sheets.
func renderCatalog(w io.Writer, cat *core.Catalog) {
	fmt.Fprintln(w, titleStyle.Render(fmt.Sprintf("%s (%d)", cat.WorkspaceName, cat.WorkspaceID)))

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("SHEET", "ID", "LINK", "STATUS", "ADDED")
	for _, s := range cat.Sheets {
		t.Row(s.Name, strconv.FormatInt(s.SheetID, 10), s.Link.String(), s.Outcome.String(), strconv.Itoa(s.Added))
	}
	fmt.Fprintln(w, t.String())
}

// renderRuns writes a table of runs, newest first.
func renderRuns(w io.Writer, runs []ledger.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("no runs recorded"))
		return
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("RUN", "PROJECT", "STATUS", "STAGE", "ROWS", "STARTED", "DURATION")
	for _, r := range runs {
		project := r.ProjectID
		if r.ProjectName != "" {
			project = r.ProjectName + " (" + r.ProjectID + ")"
		}
		status := string(r.Status)
		if r.DryRun {
			status += " (dry)"
		}
		t.Row(
			r.ID,
			project,
			status,
			r.Stage,
			fmt.Sprintf("%d/%d", r.RowsWritten, r.RowsSkipped),
			r.StartedAt.Local().Format(time.DateTime),
			r.Duration().Round(time.Second).String(),
		)
	}
	fmt.Fprintln(w, t.String())
}

// renderRun writes one run with its stages.
func renderRun(w io.Writer, r *ledger.Run) {
	fmt.Fprintln(w, titleStyle.Render("Run "+r.ID))
	fields := [][2]string{
		{"Project", strings.TrimSpace(r.ProjectName + " " + r.ProjectID)},
		{"Strategy", r.Strategy},
		{"Status", string(r.Status)},
		{"Stage", r.Stage},
		{"Workspace", strconv.FormatInt(r.WorkspaceID, 10)},
		{"Rows", fmt.Sprintf("%d written, %d skipped", r.RowsWritten, r.RowsSkipped)},
		{"Started", r.StartedAt.Local().Format(time.DateTime)},
		{"Duration", r.Duration().Round(time.Millisecond).String()},
	}
	if r.DryRun {
		fields = append(fields, [2]string{"Dry run", "yes"})
	}
	if r.Error != "" {
		fields = append(fields, [2]string{"Error", errorStyle.Render(r.Error)})
	}
	for _, f := range fields {
		fmt.Fprintf(w, "  %-10s %s\n", f[0], f[1])
	}

	if len(r.Stages) == 0 {
		return
	}
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("STAGE", "STATUS", "DURATION", "DETAIL")
	for _, s := range r.Stages {
		t.Row(s.Stage, string(s.Status), s.FinishedAt.Sub(s.StartedAt).Round(time.Millisecond).String(), s.Detail)
	}
	fmt.Fprintln(w, t.String())
}

// writeJSON writes v as indented JSON.
func writeJSON(w io.Writer, v any) error {
	b, err := sonic.ConfigStd.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}
