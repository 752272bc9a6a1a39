package stream

import "context"

// Limit limits the number of streamed elements
// If limit <= 0 then there is no limit, it will
// return all elements from the source stream.
// Otherwise it will only return up to the first limit
// elements.
func Limit[T any](limit int) Processor[T] {
	return func(stream Stream[T]) Stream[T] {
		if limit <= 0 {
			return stream
		}

		return &limitedStream[T]{stream, limit}
	}
}

type limitedStream[T any] struct {
	Stream[T]
	remaining int
}

func (stream *limitedStream[T]) Next(ctx context.Context) bool {
	if stream.remaining <= 0 {
		return false
	}

	stream.remaining--

	return stream.Stream.Next(ctx)
}
