package ledger

// prune.go runs ledger retention in the background for serve mode. It runs
// once on start, then every interval, until ctx is cancelled. Failures are
// logged and never stop the loop.

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/JonMunkholm/poimport/internal/logging"
)

// PruneConfig holds retention settings. Zero values fall back to defaults.
type PruneConfig struct {
	RetentionDays int           // default: 90
	Interval      time.Duration // default: 24h
}

func (c PruneConfig) withDefaults() PruneConfig {
	if c.RetentionDays <= 0 {
		c.RetentionDays = 90
	}
	if c.Interval <= 0 {
		c.Interval = 24 * time.Hour
	}
	return c
}

// StartPruneScheduler blocks, pruning finished runs older than the
// retention window. Call it in its own goroutine.
func StartPruneScheduler(ctx context.Context, store Store, cfg PruneConfig) {
	cfg = cfg.withDefaults()
	log := logging.FromContext(ctx)
	log.Info("ledger prune scheduler started",
		zap.Int("retention_days", cfg.RetentionDays),
		zap.Duration("interval", cfg.Interval),
	)

	PruneOnce(ctx, store, cfg.RetentionDays)

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("ledger prune scheduler stopped")
			return
		case <-ticker.C:
			PruneOnce(ctx, store, cfg.RetentionDays)
		}
	}
}

// PruneOnce deletes finished runs that started more than retentionDays ago
// and returns how many were removed.
func PruneOnce(ctx context.Context, store Store, retentionDays int) int64 {
	log := logging.FromContext(ctx)
	start := time.Now()
	cutoff := start.AddDate(0, 0, -retentionDays)

	n, err := store.Prune(ctx, cutoff)
	if err != nil {
		log.Error("ledger prune failed", zap.Error(err))
		return 0
	}
	log.Info("ledger pruned",
		zap.Int64("runs_deleted", n),
		zap.Time("cutoff", cutoff),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	return n
}
