package templates

import (
	"fmt"
	"time"

	"github.com/JonMunkholm/poimport/internal/core"
	"github.com/JonMunkholm/poimport/internal/ledger"
)

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func progressProject(p core.ImportProgress) string {
	if p.ProjectName == "" {
		return p.ProjectID
	}
	return p.ProjectName + " (" + p.ProjectID + ")"
}

func progressRows(p core.ImportProgress) string {
	return fmt.Sprintf("%d/%d (%d%%)", p.RowsWritten+p.RowsSkipped, p.TotalRows, p.Percent())
}

func runProject(r ledger.Run) string {
	if r.ProjectName == "" {
		return r.ProjectID
	}
	return r.ProjectName + " (" + r.ProjectID + ")"
}

func runStatus(r ledger.Run) string {
	if r.DryRun {
		return string(r.Status) + " (dry run)"
	}
	return string(r.Status)
}

func runRows(r ledger.Run) string {
	return fmt.Sprintf("%d written, %d skipped", r.RowsWritten, r.RowsSkipped)
}

func runStarted(r ledger.Run) string {
	return r.StartedAt.Local().Format(time.DateTime)
}

func runDuration(r ledger.Run) string {
	if r.FinishedAt == nil {
		return "running"
	}
	return r.Duration().Round(time.Millisecond).String()
}
