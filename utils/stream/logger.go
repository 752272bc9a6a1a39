package stream

import (
	"context"

	"go.uber.org/zap"
)

// Log logs values as they pass through. fields
// extracts the log fields describing a value.
func Log[T any](logger *zap.Logger, message string, fields func(value T) []zap.Field) Processor[T] {
	return func(stream Stream[T]) Stream[T] {
		return &loggedStream[T]{stream, logger, message, fields}
	}
}

type loggedStream[T any] struct {
	Stream[T]
	logger  *zap.Logger
	message string
	fields  func(value T) []zap.Field
}

func (stream *loggedStream[T]) Next(ctx context.Context) bool {
	if !stream.Stream.Next(ctx) {
		if err := stream.Stream.Error(); err != nil {
			stream.logger.Debug(stream.message, zap.Error(err))
		}

		return false
	}

	if ce := stream.logger.Check(zap.DebugLevel, stream.message); ce != nil {
		ce.Write(stream.fields(stream.Value())...)
	}

	return true
}
