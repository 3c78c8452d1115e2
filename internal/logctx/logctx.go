// Package logctx carries an enriched zerolog logger through context.Context.
//
// The pipeline attaches run and store fields once at the top of a run:
//
//	ctx = logctx.WithRun(ctx, runID)
//	ctx = logctx.WithStore(ctx, storeID)
//
// and every step logs through logctx.FromContext(ctx), so each event carries
// run_id and store_id without threading a logger through every signature.
package logctx

import (
	"context"

	"github.com/eunmann/tenders-report/pkg/logging"
	"github.com/rs/zerolog"
)

// loggerKey is the private key type for storing loggers in context.
type loggerKey struct{}

// WithLogger returns a new context with the given logger attached.
func WithLogger(ctx context.Context, logger zerolog.Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, loggerKey{}, logger)
}

// FromContext extracts the logger from the context. Without one it falls
// back to the process-wide logger from pkg/logging.
func FromContext(ctx context.Context) zerolog.Logger {
	if ctx != nil {
		if logger, ok := ctx.Value(loggerKey{}).(zerolog.Logger); ok {
			return logger
		}
	}
	return *logging.L()
}

// WithStr returns a new context with a logger that has the specified string field added.
func WithStr(ctx context.Context, key, value string) context.Context {
	logger := FromContext(ctx).With().Str(key, value).Logger()
	return WithLogger(ctx, logger)
}

// WithRun tags the context logger with a run id.
func WithRun(ctx context.Context, runID string) context.Context {
	return WithStr(ctx, "run_id", runID)
}

// WithStore tags the context logger with a store id.
func WithStore(ctx context.Context, storeID string) context.Context {
	return WithStr(ctx, "store_id", storeID)
}
