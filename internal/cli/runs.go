package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/AlecAivazis/survey/v2"
	"github.com/samber/do"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JonMunkholm/poimport/internal/bootstrap"
	"github.com/JonMunkholm/poimport/internal/ledger"
	"github.com/JonMunkholm/poimport/internal/logging"
)

// pruneTimeout bounds one manual prune.
const pruneTimeout = 30 * time.Second

func newRunsCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Show import history from the run ledger",
	}
	cmd.AddCommand(newRunsListCommand(a), newRunsShowCommand(a), newRunsPruneCommand(a))
	return cmd
}

// openLedger loads configuration and returns the ledger with its session.
func (a *app) openLedger(cmd *cobra.Command) (*session, ledger.Store, error) {
	if err := a.load(cmd, nil); err != nil {
		return nil, nil, err
	}
	s, err := a.start(cmd, a.overrides)
	if err != nil {
		return nil, nil, err
	}
	led, err := do.Invoke[*bootstrap.Ledger](s.inj)
	if err != nil {
		s.close()
		return nil, nil, err
	}
	return s, led.Store, nil
}

func newRunsListCommand(a *app) *cobra.Command {
	var (
		opts   ledger.ListOptions
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, led, err := a.openLedger(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			runs, err := led.ListRuns(s.ctx, opts)
			if err != nil {
				return err
			}
			if asJSON {
				if runs == nil {
					runs = []ledger.Run{}
				}
				return writeJSON(s.out, runs)
			}
			renderRuns(s.out, runs)
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.ProjectID, "project", "", "only runs for this project id")
	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "maximum number of runs")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}

func newRunsShowCommand(a *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one run and its stages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, led, err := a.openLedger(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			run, err := led.GetRun(s.ctx, args[0])
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(s.out, run)
			}
			renderRun(s.out, run)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}

func newRunsPruneCommand(a *app) *cobra.Command {
	var (
		days int
		yes  bool
	)

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete finished runs older than the retention window",
		Long: `Delete finished runs, with their stages, that started before the
retention window. Workspace mappings are kept. Without --days the configured
LEDGER_RETENTION_DAYS applies.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, led, err := a.openLedger(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			if !cmd.Flags().Changed("days") {
				days = s.cfg.Ledger.RetentionDays
			}
			if days < 0 {
				return errors.New("--days must not be negative")
			}
			cutoff := time.Now().AddDate(0, 0, -days)

			if !yes {
				if !stdinIsTerminal() {
					return errors.New("refusing to prune without --yes")
				}
				ok := false
				prompt := &survey.Confirm{
					Message: fmt.Sprintf("Delete runs started before %s?", cutoff.Format(time.DateOnly)),
				}
				if err := survey.AskOne(prompt, &ok); err != nil {
					return err
				}
				if !ok {
					fmt.Fprintln(s.out, mutedStyle.Render("nothing deleted"))
					return nil
				}
			}

			n, err := pruneRuns(s.ctx, led, cutoff)
			if err != nil {
				return err
			}
			fmt.Fprintln(s.out, successStyle.Render(fmt.Sprintf("%s %d runs deleted", iconSuccess, n)))
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "keep runs from the last N days (0 deletes every finished run)")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")
	return cmd
}

func pruneRuns(ctx context.Context, led ledger.Store, cutoff time.Time) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, pruneTimeout)
	defer cancel()

	n, err := led.Prune(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune ledger: %w", err)
	}
	logging.FromContext(ctx).Info("ledger pruned", zap.Int64("runs_deleted", n), zap.Time("cutoff", cutoff))
	return n, nil
}
