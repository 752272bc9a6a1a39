package execution

import (
	"context"
	"encoding/json"

	"github.com/jrife/crossquery/continuation"
)

var _ Component = (*TopContext)(nil)

type topState int

const (
	topInitial topState = iota
	topResumed
	topDraining
	topExhausted
)

// ComponentFactory creates the component limited by a
// TopContext from that component's continuation token
type ComponentFactory func(ctx context.Context, token string) (Component, error)

// TopContext limits a query to its first top rows. Its
// continuation tokens are take tokens recording how many rows
// are still to be returned alongside the token of the inner
// component.
type TopContext struct {
	inner     Component
	remaining int
	state     topState
	page      Page
	err       error
}

// NewTopContext creates a TopContext. token is a continuation
// token previously emitted by a TopContext with the same top or
// empty. A malformed token or one that would return more than
// top rows is rejected before the inner component is created.
func NewTopContext(ctx context.Context, top int, token string, newInner ComponentFactory) (*TopContext, error) {
	if top < 0 {
		return nil, BadRequest("top must not be negative: %d", top)
	}

	topContext := &TopContext{remaining: top, state: topInitial}
	sourceToken := ""

	if token != "" {
		take, ok := continuation.ParseTake(token)

		if !ok {
			return nil, BadRequest("malformed take continuation token")
		}

		if take.Limit > top {
			return nil, BadRequest("take continuation token limit %d exceeds top %d", take.Limit, top)
		}

		topContext.remaining = take.Limit
		topContext.state = topResumed
		sourceToken = take.SourceToken
	}

	if topContext.remaining == 0 {
		topContext.state = topExhausted

		return topContext, nil
	}

	inner, err := newInner(ctx, sourceToken)

	if err != nil {
		return nil, err
	}

	topContext.inner = inner
	topContext.hint()

	return topContext, nil
}

// Kind implements Component.Kind
func (topContext *TopContext) Kind() Kind {
	return KindTop
}

// SetTop implements Component.SetTop. It can
// only lower the number of rows still to be returned.
func (topContext *TopContext) SetTop(n int) {
	if n < 0 || n >= topContext.remaining || topContext.state == topExhausted {
		return
	}

	topContext.remaining = n

	if n == 0 {
		topContext.state = topExhausted

		return
	}

	topContext.hint()
}

// Remaining returns the number of rows still to be returned
func (topContext *TopContext) Remaining() int {
	return topContext.remaining
}

// Next implements stream.Stream.Next
func (topContext *TopContext) Next(ctx context.Context) bool {
	topContext.page = Page{}

	if topContext.err != nil || topContext.state == topExhausted {
		return false
	}

	topContext.state = topDraining

	if !topContext.inner.Next(ctx) {
		topContext.err = topContext.inner.Error()

		if topContext.err == nil {
			topContext.state = topExhausted
		}

		return false
	}

	page := topContext.inner.Value()

	if page.ItemCount() >= topContext.remaining {
		page.Documents = append([]json.RawMessage(nil), page.Documents[:topContext.remaining]...)
		page.Continuation = ""
		topContext.remaining = 0
		topContext.state = topExhausted
		topContext.page = page

		return true
	}

	topContext.remaining -= page.ItemCount()

	if page.Continuation != "" {
		page.Continuation = continuation.NewTake(topContext.remaining, page.Continuation).String()
	}

	topContext.hint()
	topContext.page = page

	return true
}

// Value implements stream.Stream.Value
func (topContext *TopContext) Value() Page {
	return topContext.page
}

// Error implements stream.Stream.Error
func (topContext *TopContext) Error() error {
	return topContext.err
}

func (topContext *TopContext) hint() {
	if topContext.inner.Kind().SupportsTop() {
		topContext.inner.SetTop(topContext.remaining)
	}
}
