package bootstrap

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/samber/do"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JonMunkholm/poimport/internal/apperr"
	"github.com/JonMunkholm/poimport/internal/config"
	"github.com/JonMunkholm/poimport/internal/core"
	"github.com/JonMunkholm/poimport/internal/ratelimit"
	"github.com/JonMunkholm/poimport/internal/source"
	"github.com/JonMunkholm/poimport/internal/target"
	"github.com/JonMunkholm/poimport/internal/target/memtarget"
)

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Import.DryRun = true
	cfg.Import.Strategy = "standalone"
	cfg.Import.StandardsWorkspaceName = "PMO Standards"
	cfg.Import.BatchSize = 100
	cfg.Import.MaxConcurrent = 1
	cfg.Import.MaxWaitTime = time.Second
	cfg.Import.Timeout = time.Minute
	cfg.Retry = config.RetryConfig{MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}
	cfg.Ledger.Driver = "memory"
	return cfg
}

func project() *source.ProjectData {
	return &source.ProjectData{
		Project: source.Project{ID: "p-1", Name: "Apollo"},
		Tasks: []source.Task{
			{ID: "t-1", Name: "Design", TaskIndex: 1, OutlineLevel: 1},
		},
	}
}

func TestBuildContainer_DryRunImport(t *testing.T) {
	inj := BuildContainer(testConfig(), Overrides{
		Source: source.NewStatic(project()),
		Logger: zap.NewNop(),
	})
	t.Cleanup(func() { _ = inj.Shutdown() })

	api := do.MustInvoke[target.API](inj)
	store, ok := api.(*memtarget.Store)
	require.True(t, ok, "dry run uses the in-memory target, got %T", api)

	orch := do.MustInvoke[*core.Orchestrator](inj)
	res, err := orch.Import(context.Background(), core.ImportRequest{ProjectID: "p-1"})
	require.NoError(t, err)
	assert.True(t, res.DryRun)
	assert.Equal(t, 2, res.RowsWritten())
	assert.Len(t, store.Workspaces(), 2)

	led := do.MustInvoke[*Ledger](inj)
	run, err := led.GetRun(context.Background(), res.RunID)
	require.NoError(t, err)
	assert.True(t, run.DryRun)
}

func TestBuildContainer_Singletons(t *testing.T) {
	inj := BuildContainer(testConfig(), Overrides{Source: source.NewStatic(), Logger: zap.NewNop()})

	a := do.MustInvoke[*core.Orchestrator](inj)
	b := do.MustInvoke[*core.Orchestrator](inj)
	assert.Same(t, a, b)
	assert.Equal(t, 1, a.Limiter().MaxConcurrent())
}

func TestBuildContainer_UnknownLedgerDriver(t *testing.T) {
	cfg := testConfig()
	cfg.Ledger.Driver = "mongo"
	inj := BuildContainer(cfg, Overrides{Source: source.NewStatic(), Logger: zap.NewNop()})

	_, err := do.Invoke[*core.Orchestrator](inj)
	require.Error(t, err)
	assert.True(t, apperr.IsConfiguration(err))
}

func TestBuildContainer_MissingSourceSettings(t *testing.T) {
	inj := BuildContainer(testConfig(), Overrides{Logger: zap.NewNop()})

	_, err := do.Invoke[source.Reader](inj)
	require.Error(t, err)
	assert.True(t, apperr.IsConfiguration(err))
}

func TestBuildContainer_RateLimiter(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		inj := BuildContainer(testConfig(), Overrides{})
		lim := do.MustInvoke[ratelimit.Limiter](inj)
		assert.IsType(t, ratelimit.Unlimited{}, lim)
	})

	t.Run("in process", func(t *testing.T) {
		cfg := testConfig()
		cfg.Rate.Enabled = true
		cfg.Rate.RequestsPerMinute = 60
		inj := BuildContainer(cfg, Overrides{})
		lim := do.MustInvoke[ratelimit.Limiter](inj)
		assert.IsType(t, &ratelimit.Window{}, lim)
	})

	t.Run("redis", func(t *testing.T) {
		mr := miniredis.RunT(t)
		cfg := testConfig()
		cfg.Rate.Enabled = true
		cfg.Rate.RequestsPerMinute = 60
		cfg.Rate.RedisURL = "redis://" + mr.Addr()
		inj := BuildContainer(cfg, Overrides{})

		lim := do.MustInvoke[ratelimit.Limiter](inj)
		assert.IsType(t, &ratelimit.RedisWindow{}, lim)
		require.NoError(t, lim.Wait(context.Background()))
		assert.NoError(t, inj.Shutdown())
	})
}
