package execution

import (
	"context"

	"github.com/jrife/crossquery/utils/stream"
)

// Kind identifies the type of an execution component
type Kind int

const (
	// KindParallel is a ParallelContext
	KindParallel Kind = iota
	// KindTop is a TopContext
	KindTop
)

// SupportsTop returns true if components of this kind use
// a top hint to size their fetches
func (kind Kind) SupportsTop() bool {
	return kind == KindParallel
}

func (kind Kind) String() string {
	switch kind {
	case KindParallel:
		return "parallel"
	case KindTop:
		return "top"
	}

	return "unknown"
}

// Component is a stage of a query execution pipeline. It
// is a stream of pages where each page's Continuation resumes
// the query right after that page. An empty Continuation means
// the query is complete.
type Component interface {
	stream.Stream[Page]
	// Kind returns the component's kind
	Kind() Kind
	// SetTop tells the component that no more than
	// n more rows will be consumed
	SetTop(n int)
}

// Drain reads every remaining page from a component
func Drain(ctx context.Context, component Component) ([]Page, error) {
	return stream.Drain[Page](ctx, component)
}
