// Package cli implements the poimport command line.
package cli

import (
	"context"
	"io"

	"github.com/samber/do"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JonMunkholm/poimport/internal/bootstrap"
	"github.com/JonMunkholm/poimport/internal/config"
	"github.com/JonMunkholm/poimport/internal/logging"
)

// app is the state shared by every command of one invocation.
type app struct {
	configPath string
	overrides  bootstrap.Overrides

	cfg *config.Config
}

// globalFlags maps persistent flags onto configuration keys.
var globalFlags = map[string]string{
	"log-level":  "LOG_LEVEL",
	"log-format": "LOG_FORMAT",
}

// NewRootCommand returns the poimport command tree. ov replaces container
// providers; the zero value wires the real services.
func NewRootCommand(ov bootstrap.Overrides) *cobra.Command {
	a := &app{overrides: ov}

	root := &cobra.Command{
		Use:   "poimport",
		Short: "Load Project Online projects into Smartsheet",
		Long: `poimport moves Project Online projects into Smartsheet workspaces.

Every import reconciles a shared reference catalog, a workspace per project,
its sheets, columns and rows. Runs are idempotent: repeating an import finds
what earlier runs created and only adds what is missing.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (YAML, TOML or JSON)")
	root.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")
	root.PersistentFlags().String("log-format", "", "log format: text or json")

	root.AddCommand(
		newImportCommand(a),
		newCatalogCommand(a),
		newRunsCommand(a),
		newServeCommand(a),
		newVersionCommand(),
	)
	return root
}

// Execute runs the command line with ctx, which is cancelled on interrupt
// by the caller.
func Execute(ctx context.Context) error {
	return NewRootCommand(bootstrap.Overrides{}).ExecuteContext(ctx)
}

// load resolves configuration from the config file, the environment and the
// flags of cmd named in bindings. Only flags set on the command line take
// part, so an unset flag never hides the environment or a tag default.
func (a *app) load(cmd *cobra.Command, bindings map[string]string) error {
	v, err := config.NewViper(a.configPath)
	if err != nil {
		return err
	}
	for _, set := range []map[string]string{globalFlags, bindings} {
		for flag, key := range set {
			f := cmd.Flags().Lookup(flag)
			if f == nil || !f.Changed {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return err
			}
		}
	}

	cfg, err := config.LoadFrom(v)
	if err != nil {
		return err
	}
	a.cfg = cfg
	return nil
}

// session is a loaded configuration with its container.
type session struct {
	ctx context.Context
	cfg *config.Config
	inj *do.Injector
	log *zap.Logger
	out io.Writer
}

func (s *session) close() {
	if err := s.inj.Shutdown(); err != nil {
		s.log.Warn("shutdown", zap.Error(err))
	}
	_ = s.log.Sync()
}

// start builds the container for the configuration load resolved.
func (a *app) start(cmd *cobra.Command, ov bootstrap.Overrides) (*session, error) {
	inj := bootstrap.BuildContainer(a.cfg, ov)
	log, err := do.Invoke[*zap.Logger](inj)
	if err != nil {
		return nil, err
	}
	log.Debug("configuration loaded", zap.Stringer("config", a.cfg))

	return &session{
		ctx: logging.WithLogger(cmd.Context(), log),
		cfg: a.cfg,
		inj: inj,
		log: log,
		out: cmd.OutOrStdout(),
	}, nil
}
