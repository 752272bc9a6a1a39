package stream

import "context"

// Stream describes a stream of values
type Stream[T any] interface {
	// Next advances the stream. It must
	// be called once at the start to advance
	// to the first item in the stream. It returns
	// true if there is a value available
	// or false otherwise. It may return false in
	// case of an error. Error() will return
	// an error if this is the case and must be checked
	// after Next() returns false. Next may block
	// until ctx is done.
	Next(ctx context.Context) bool
	// Value returns the value at the current position
	// or the zero value if iteration is done.
	Value() T
	// Error returns the error that occurred, if any
	Error() error
}

// Processor is a function that returns a stream
// derived from a source stream.
type Processor[T any] func(Stream[T]) Stream[T]

// Pipeline connects a series of processors to a source
// stream and returns the derived stream. Pipeline can
// be useful to create code that is more readable than
// simply invoking processor functions in a nested way
// like this processor3(processor2(processor1(stream)))
func Pipeline[T any](stream Stream[T], processors ...Processor[T]) Stream[T] {
	for _, processor := range processors {
		if processor == nil {
			continue
		}

		stream = processor(stream)
	}

	return stream
}

// Drain reads every remaining value from the stream
func Drain[T any](ctx context.Context, stream Stream[T]) ([]T, error) {
	values := []T{}

	for stream.Next(ctx) {
		values = append(values, stream.Value())
	}

	return values, stream.Error()
}
