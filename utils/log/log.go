package log

import (
	"context"

	"github.com/jrife/crossquery/routing"
	"go.uber.org/zap"
)

type key int

const (
	contextKey key = iota
	loggerKey  key = iota
)

// WithContext enriches the logger with fields from the context
func WithContext(ctx context.Context, logger *zap.Logger) *zap.Logger {
	return logger.With(Fields(ctx)...)
}

// WithFields adds log fields to the context
func WithFields(ctx context.Context, fields ...zap.Field) context.Context {
	return context.WithValue(ctx, contextKey, append(Fields(ctx), fields...))
}

// WithQuery adds the fields identifying a query to the context
func WithQuery(ctx context.Context, collectionID string, queryID string) context.Context {
	fields := []zap.Field{zap.String("collection", collectionID)}

	if queryID != "" {
		fields = append(fields, zap.String("query", queryID))
	}

	return WithFields(ctx, fields...)
}

// Fields extracts log fields from the context
func Fields(ctx context.Context) []zap.Field {
	rawFields := ctx.Value(contextKey)

	if rawFields == nil {
		return []zap.Field{}
	}

	fields, ok := rawFields.([]zap.Field)

	if !ok {
		return []zap.Field{}
	}

	// Callers append to the result
	return append([]zap.Field(nil), fields...)
}

// Range returns the fields describing a partition key range
func Range(pkr routing.PartitionKeyRange) zap.Field {
	return zap.Dict("range",
		zap.String("id", pkr.ID),
		zap.String("min", pkr.MinInclusive),
		zap.String("max", pkr.MaxExclusive),
	)
}

// WithLogger adds a logger to the context
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// Logger extracts a logger from the context
func Logger(ctx context.Context) *zap.Logger {
	rawLogger := ctx.Value(loggerKey)

	if rawLogger == nil {
		return nil
	}

	logger, ok := rawLogger.(*zap.Logger)

	if !ok {
		return nil
	}

	return logger
}

// LoggerFromContext attempts to use a logger passed through the context.
// If no logger is passed through the context it uses the default logger and
// attaches the defaultLogger to the context.
func LoggerFromContext(ctx context.Context, defaultLogger *zap.Logger) (*zap.Logger, context.Context) {
	logger := Logger(ctx)

	if logger == nil {
		logger = defaultLogger
		ctx = WithLogger(ctx, logger)
	}

	return logger, ctx
}
