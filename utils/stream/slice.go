package stream

import "context"

// Slice returns a stream that yields the values of s
// in order. It stops early if ctx is done.
func Slice[T any](s []T) Stream[T] {
	return &sliceStream[T]{values: s, i: -1}
}

type sliceStream[T any] struct {
	values []T
	i      int
	err    error
}

func (stream *sliceStream[T]) Next(ctx context.Context) bool {
	if stream.err != nil {
		return false
	}

	if err := ctx.Err(); err != nil {
		stream.err = err

		return false
	}

	if stream.i+1 >= len(stream.values) {
		stream.i = len(stream.values)

		return false
	}

	stream.i++

	return true
}

func (stream *sliceStream[T]) Value() T {
	var zero T

	if stream.i < 0 || stream.i >= len(stream.values) {
		return zero
	}

	return stream.values[stream.i]
}

func (stream *sliceStream[T]) Error() error {
	return stream.err
}
