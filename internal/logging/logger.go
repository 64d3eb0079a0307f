// Package logging provides structured logging configuration using zap.
//
// This package integrates with chi's RequestID middleware to propagate
// request IDs through structured log entries, and carries per-run loggers
// through context so every layer of an import logs with the same fields.
package logging

import (
	"context"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type ctxKey struct{}

// Setup builds a logger for level and format and installs it as zap's global.
//
// Level values: "debug", "info", "warn", "error" (default: "info")
// Format values: "text", "json" (default: "text")
func Setup(level, format string) (*zap.Logger, error) {
	var cfg zap.Config
	if strings.ToLower(format) == "json" {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	cfg.Level = zap.NewAtomicLevelAt(parseLevel(level))
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}

	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)
	return logger, nil
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// WithLogger stores logger in ctx for later retrieval by FromContext.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

// FromContext returns the logger stored in ctx, or zap's global logger.
//
// When ctx carries a chi RequestID the returned logger includes request_id
// in every entry.
func FromContext(ctx context.Context) *zap.Logger {
	logger, ok := ctx.Value(ctxKey{}).(*zap.Logger)
	if !ok || logger == nil {
		logger = zap.L()
	}

	if reqID := middleware.GetReqID(ctx); reqID != "" {
		logger = logger.With(zap.String("request_id", reqID))
	}

	return logger
}

// WithFields returns a context whose logger carries the additional fields,
// along with that logger.
//
// Usage:
//
//	ctx, log := logging.WithFields(ctx, zap.String("run_id", runID))
//	log.Info("import started")
func WithFields(ctx context.Context, fields ...zap.Field) (context.Context, *zap.Logger) {
	logger := FromContext(ctx).With(fields...)
	return WithLogger(ctx, logger), logger
}
