package cli

import (
	"context"
	"errors"
	"net/http"

	"github.com/samber/do"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JonMunkholm/poimport/internal/bootstrap"
	"github.com/JonMunkholm/poimport/internal/core"
	"github.com/JonMunkholm/poimport/internal/ledger"
	"github.com/JonMunkholm/poimport/internal/web"
)

var serveFlags = map[string]string{
	"host":    "SERVER_HOST",
	"port":    "SERVER_PORT",
	"dry-run": "IMPORT_DRY_RUN",
}

func newServeCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and run history page",
		Long: `Serve starts imports in the background over HTTP and shows the run
ledger. On interrupt it stops accepting requests and waits for running
imports to finish, up to SERVER_SHUTDOWN_TIMEOUT.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.load(cmd, serveFlags); err != nil {
				return err
			}
			// Background imports have no terminal to ask on.
			ov := a.overrides
			ov.Prompt = nil
			s, err := a.start(cmd, ov)
			if err != nil {
				return err
			}
			defer s.close()
			return serve(s)
		},
	}
	cmd.Flags().String("host", "", "listen host")
	cmd.Flags().Int("port", 0, "listen port")
	cmd.Flags().Bool("dry-run", false, "import into an in-memory target")
	return cmd
}

func serve(s *session) error {
	orch, err := do.Invoke[*core.Orchestrator](s.inj)
	if err != nil {
		return err
	}
	led := do.MustInvoke[*bootstrap.Ledger](s.inj)

	srv := web.NewServer(orch, s.cfg, s.log)

	jobCtx, cancelJobs := context.WithCancel(s.ctx)
	defer cancelJobs()
	go ledger.StartPruneScheduler(jobCtx, led.Store, ledger.PruneConfig{
		RetentionDays: s.cfg.Ledger.RetentionDays,
		Interval:      s.cfg.Ledger.PruneInterval,
	})

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("server starting", zap.String("addr", s.cfg.Server.Addr()))
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-s.ctx.Done():
	}

	s.log.Info("shutting down...")
	cancelJobs()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.log.Error("shutdown error", zap.Error(err))
	}

	// Wait for running imports to complete (with timeout)
	if st := orch.Limiter().Status(); st.Active > 0 {
		s.log.Info("waiting for imports to complete", zap.Int("active", st.Active))
		if err := orch.Limiter().WaitForDrain(shutdownCtx); err != nil {
			s.log.Warn("imports did not complete in time", zap.Error(err))
		} else {
			s.log.Info("all imports completed")
		}
	}

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
