// Package bootstrap wires the importer's services into a samber/do
// container. Commands build one container per process and invoke what they
// need; nothing is constructed until first use.
package bootstrap

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/do"
	"go.uber.org/zap"

	"github.com/JonMunkholm/poimport/internal/config"
	"github.com/JonMunkholm/poimport/internal/core"
	"github.com/JonMunkholm/poimport/internal/ledger"
	"github.com/JonMunkholm/poimport/internal/logging"
	"github.com/JonMunkholm/poimport/internal/ratelimit"
	"github.com/JonMunkholm/poimport/internal/retry"
	"github.com/JonMunkholm/poimport/internal/smartsheet"
	"github.com/JonMunkholm/poimport/internal/source"
	"github.com/JonMunkholm/poimport/internal/source/odata"
	"github.com/JonMunkholm/poimport/internal/target"
	"github.com/JonMunkholm/poimport/internal/target/memtarget"
)

// Overrides replace providers, mostly for tests and interactive runs.
type Overrides struct {
	// Prompt asks for a template when none is configured.
	Prompt core.TemplatePrompter
	Target target.API
	Source source.Reader
	Logger *zap.Logger
}

// Ledger is the run ledger as registered in the container. Shutting the
// container down closes it.
type Ledger struct {
	ledger.Store
}

// Shutdown closes the underlying store.
func (l *Ledger) Shutdown() error { return l.Close() }

// RedisClient is the rate limiter's shared connection. Shutting the
// container down closes it.
type RedisClient struct {
	*redis.Client
}

// Shutdown closes the connection.
func (r *RedisClient) Shutdown() error { return r.Close() }

// BuildContainer registers every service for cfg.
func BuildContainer(cfg *config.Config, ov Overrides) *do.Injector {
	inj := do.New()

	// config
	do.ProvideValue(inj, cfg)

	// logger
	do.Provide(inj, func(i *do.Injector) (*zap.Logger, error) {
		if ov.Logger != nil {
			return ov.Logger, nil
		}
		return logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
	})

	// outbound rate limit
	do.Provide(inj, func(i *do.Injector) (*RedisClient, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		rdb, err := ratelimit.NewRedisClient(ctx, cfg.Rate.RedisURL)
		if err != nil {
			return nil, err
		}
		return &RedisClient{Client: rdb}, nil
	})
	do.Provide(inj, func(i *do.Injector) (ratelimit.Limiter, error) {
		if !cfg.Rate.Enabled {
			return ratelimit.Unlimited{}, nil
		}
		if cfg.Rate.RedisURL == "" {
			return ratelimit.PerMinute(cfg.Rate.RequestsPerMinute), nil
		}
		rdb, err := do.Invoke[*RedisClient](i)
		if err != nil {
			return nil, err
		}
		return ratelimit.NewRedisWindow(rdb.Client, "poimport:ratelimit", cfg.Rate.RequestsPerMinute, time.Minute), nil
	})

	// retry
	do.Provide(inj, func(i *do.Injector) (*retry.Executor, error) {
		return retry.New(retry.Policy{
			MaxAttempts:  cfg.Retry.MaxAttempts,
			InitialDelay: cfg.Retry.InitialDelay,
			MaxDelay:     cfg.Retry.MaxDelay,
		})
	})

	// target
	do.Provide(inj, func(i *do.Injector) (target.API, error) {
		if ov.Target != nil {
			return ov.Target, nil
		}
		if cfg.Import.DryRun {
			do.MustInvoke[*zap.Logger](i).Info("dry run: writing to an in-memory target")
			return memtarget.New(), nil
		}
		lim, err := do.Invoke[ratelimit.Limiter](i)
		if err != nil {
			return nil, err
		}
		return smartsheet.New(smartsheet.Options{
			BaseURL: cfg.Smartsheet.BaseURL,
			Token:   cfg.Smartsheet.APIToken,
			Timeout: cfg.Smartsheet.Timeout,
			Limiter: lim,
		})
	})

	// source
	do.Provide(inj, func(i *do.Injector) (source.Reader, error) {
		if ov.Source != nil {
			return ov.Source, nil
		}
		if cfg.Source.File != "" {
			return source.LoadFile(cfg.Source.File)
		}
		exec, err := do.Invoke[*retry.Executor](i)
		if err != nil {
			return nil, err
		}
		return odata.New(odata.Options{
			SiteURL:     cfg.Source.URL,
			AccessToken: cfg.Source.AccessToken,
			PageSize:    cfg.Source.PageSize,
			Timeout:     cfg.Source.Timeout,
			Retry:       exec,
		})
	})

	// ledger
	do.Provide(inj, func(i *do.Injector) (*Ledger, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		store, err := ledger.Open(ctx, ledger.Options{
			Driver:   cfg.Ledger.Driver,
			DSN:      cfg.Ledger.DSN,
			MaxConns: cfg.Ledger.MaxConns,
		})
		if err != nil {
			return nil, err
		}
		return &Ledger{Store: store}, nil
	})

	// engine
	do.Provide(inj, func(i *do.Injector) (*core.Reconciler, error) {
		api, err := do.Invoke[target.API](i)
		if err != nil {
			return nil, err
		}
		return core.NewReconciler(api, do.MustInvoke[*retry.Executor](i)), nil
	})
	do.Provide(inj, func(i *do.Injector) (*core.CatalogManager, error) {
		def := core.DefaultCatalog()
		if cfg.Import.CatalogFile != "" {
			var err error
			if def, err = core.LoadCatalog(cfg.Import.CatalogFile); err != nil {
				return nil, err
			}
		}
		rec, err := do.Invoke[*core.Reconciler](i)
		if err != nil {
			return nil, err
		}
		return core.NewCatalogManager(rec, def, cfg.Import.StandardsWorkspaceName, cfg.Import.StandardsWorkspaceID), nil
	})
	do.Provide(inj, func(i *do.Injector) (*core.StrategyRegistry, error) {
		cat, err := do.Invoke[*core.CatalogManager](i)
		if err != nil {
			return nil, err
		}
		led, err := do.Invoke[*Ledger](i)
		if err != nil {
			return nil, err
		}
		return core.NewStrategyRegistry(do.MustInvoke[*core.Reconciler](i), cat, core.StrategyDeps{
			Ledger: led.Store,
			Prompt: ov.Prompt,
		}), nil
	})
	do.Provide(inj, func(i *do.Injector) (*core.Orchestrator, error) {
		src, err := do.Invoke[source.Reader](i)
		if err != nil {
			return nil, err
		}
		registry, err := do.Invoke[*core.StrategyRegistry](i)
		if err != nil {
			return nil, err
		}
		return core.NewOrchestrator(core.Deps{
			Source:     src,
			Reconciler: do.MustInvoke[*core.Reconciler](i),
			Catalog:    do.MustInvoke[*core.CatalogManager](i),
			Registry:   registry,
			Ledger:     do.MustInvoke[*Ledger](i).Store,
			Limiter:    core.NewImportLimiter(cfg.Import.MaxConcurrent, cfg.Import.MaxWaitTime),
		}, core.Options{
			Strategy:   cfg.Import.Strategy,
			TemplateID: cfg.Import.TemplateWorkspaceID,
			BatchSize:  cfg.Import.BatchSize,
			DryRun:     cfg.Import.DryRun,
			Timeout:    cfg.Import.Timeout,
		}), nil
	})

	return inj
}
