package stream

import "context"

// Filter filters out elements from the source stream for
// which the filter function returns false
func Filter[T any](filter func(value T) bool) Processor[T] {
	return func(stream Stream[T]) Stream[T] {
		return &filteredStream[T]{stream, filter}
	}
}

type filteredStream[T any] struct {
	Stream[T]
	filter func(value T) bool
}

func (stream *filteredStream[T]) Next(ctx context.Context) bool {
	hasMore := false

	for hasMore = stream.Stream.Next(ctx); hasMore && !stream.filter(stream.Value()); hasMore = stream.Stream.Next(ctx) {
	}

	return hasMore
}
