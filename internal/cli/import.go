package cli

import (
	"errors"
	"fmt"

	"github.com/samber/do"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JonMunkholm/poimport/internal/core"
	"github.com/JonMunkholm/poimport/internal/logging"
)

var importFlags = map[string]string{
	"dry-run":     "IMPORT_DRY_RUN",
	"strategy":    "WORKSPACE_STRATEGY",
	"template-id": "TEMPLATE_WORKSPACE_ID",
	"batch-size":  "IMPORT_BATCH_SIZE",
	"jobs":        "IMPORT_MAX_CONCURRENT",
}

type importOptions struct {
	all         bool
	workspaceID int64
	noPrompt    bool
}

func newImportCommand(a *app) *cobra.Command {
	var opts importOptions

	cmd := &cobra.Command{
		Use:   "import [project-id...]",
		Short: "Import projects into Smartsheet",
		Long: `Import one or more Project Online projects, or every project with --all.

Without a configured template workspace the command asks for one when run
on a terminal, and creates blank workspaces otherwise. --template-id 0
always creates blank workspaces.`,
		Example: `  poimport import 2a4f7d0e-0000-0000-0000-000000000001
  poimport import --all --dry-run
  poimport import --template-id 0 --workspace-id 123456 2a4f7d0e-...`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.all == (len(args) > 0) {
				return errors.New("give one or more project ids, or --all")
			}
			if cmd.Flags().Changed("workspace-id") && len(args) != 1 {
				return errors.New("--workspace-id needs exactly one project id")
			}
			return a.runImport(cmd, args, opts)
		},
	}

	f := cmd.Flags()
	f.BoolVar(&opts.all, "all", false, "import every project the source lists")
	f.Bool("dry-run", false, "write to an in-memory target instead of Smartsheet")
	f.String("strategy", "", "workspace strategy: standalone or portfolio")
	f.String("template-id", "", "template workspace to copy (0 for blank)")
	f.Int("batch-size", 0, "rows per request (1-500)")
	f.Int("jobs", 0, "projects imported at once")
	f.Int64Var(&opts.workspaceID, "workspace-id", 0, "reuse this workspace for the project")
	f.BoolVar(&opts.noPrompt, "no-prompt", false, "never ask for a template workspace")
	return cmd
}

func (a *app) runImport(cmd *cobra.Command, args []string, opts importOptions) error {
	if err := a.load(cmd, importFlags); err != nil {
		return err
	}

	ov := a.overrides
	if ov.Prompt == nil && !opts.noPrompt && a.cfg.Import.TemplateWorkspaceID == nil && stdinIsTerminal() {
		ov.Prompt = &surveyPrompter{}
	}

	s, err := a.start(cmd, ov)
	if err != nil {
		return err
	}
	defer s.close()

	orch, err := do.Invoke[*core.Orchestrator](s.inj)
	if err != nil {
		return err
	}

	ids := args
	if opts.all {
		projects, err := orch.ListProjects(s.ctx)
		if err != nil {
			return fmt.Errorf("list projects: %w", err)
		}
		ids = make([]string, 0, len(projects))
		for _, p := range projects {
			ids = append(ids, p.ID)
		}
		if len(ids) == 0 {
			fmt.Fprintln(s.out, mutedStyle.Render("no projects to import"))
			return nil
		}
	}

	var workspaceID *int64
	if cmd.Flags().Changed("workspace-id") {
		workspaceID = &opts.workspaceID
	}

	logging.FromContext(s.ctx).Info("importing projects",
		zap.Int("projects", len(ids)),
		zap.Int("jobs", s.cfg.Import.MaxConcurrent))

	outcomes := make([]importOutcome, len(ids))
	var g errgroup.Group
	g.SetLimit(s.cfg.Import.MaxConcurrent)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			res, err := orch.Import(s.ctx, core.ImportRequest{
				ProjectID:   id,
				WorkspaceID: workspaceID,
			})
			outcomes[i] = importOutcome{projectID: id, result: res, err: err}
			return nil
		})
	}
	_ = g.Wait()

	renderImportSummary(s.out, outcomes)

	failed := 0
	for _, o := range outcomes {
		if o.err != nil {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d imports failed", failed, len(outcomes))
	}
	return nil
}
