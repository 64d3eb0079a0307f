package cli

import (
	"github.com/samber/do"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/poimport/internal/core"
)

func newCatalogCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Manage the shared reference catalog",
	}

	var asJSON bool
	ensure := &cobra.Command{
		Use:   "ensure",
		Short: "Create the catalog workspace and add missing values",
		Long: `Reconcile the reference catalog workspace without importing a project.

Missing sheets and values are added; existing rows are left alone.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			bindings := map[string]string{"dry-run": "IMPORT_DRY_RUN"}
			if err := a.load(cmd, bindings); err != nil {
				return err
			}
			s, err := a.start(cmd, a.overrides)
			if err != nil {
				return err
			}
			defer s.close()

			orch, err := do.Invoke[*core.Orchestrator](s.inj)
			if err != nil {
				return err
			}
			cat, err := orch.EnsureCatalog(s.ctx)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(s.out, cat)
			}
			renderCatalog(s.out, cat)
			return nil
		},
	}
	ensure.Flags().Bool("dry-run", false, "reconcile against an in-memory target")
	ensure.Flags().BoolVar(&asJSON, "json", false, "output as JSON")

	cmd.AddCommand(ensure)
	return cmd
}
