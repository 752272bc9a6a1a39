package execution

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/jrife/crossquery/continuation"
	"github.com/jrife/crossquery/routing"
	"github.com/jrife/crossquery/utils/log"
	"github.com/jrife/crossquery/utils/stream"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
)

var _ Component = (*ParallelContext)(nil)

// Ordering selects how a ParallelContext interleaves
// the pages of its partitions
type Ordering int

const (
	// OrderingPartition emits every page of a partition before
	// moving on to the next partition in range order
	OrderingPartition Ordering = iota
	// OrderingResponse emits pages in the order fetches complete
	OrderingResponse
)

func (ordering Ordering) String() string {
	switch ordering {
	case OrderingPartition:
		return "partition"
	case OrderingResponse:
		return "response"
	}

	return "unknown"
}

// RangeContinuation is a partition key range to read and
// the token to resume it from. An empty Token reads the range
// from its start.
type RangeContinuation struct {
	Range routing.PartitionKeyRange
	Token string
}

// ResolveContinuation maps a continuation token emitted by a
// ParallelContext onto the current topology of the collection.
// An empty token starts every range from scratch.
//
// The token is either a list of composite tokens, one per range
// with work left, or a single composite token. With a single
// token the ranges before it are done, the ranges it covers resume
// from it and the ranges after it start from scratch. Tokens are
// matched to the topology by their minimum boundary. A token that
// doesn't match is a bad request.
func ResolveContinuation(ctx context.Context, cfg Config, token string) ([]RangeContinuation, error) {
	ranges, err := cfg.Topology.GetOverlappingRanges(ctx, cfg.CollectionID, routing.All(), false, cfg.Properties)

	if err != nil {
		return nil, err
	}

	sort.Slice(ranges, func(i, j int) bool {
		return ranges[i].MinInclusive < ranges[j].MinInclusive
	})

	if token == "" {
		targets := make([]RangeContinuation, 0, len(ranges))

		for _, rng := range ranges {
			targets = append(targets, RangeContinuation{Range: rng})
		}

		return targets, nil
	}

	if tokens, ok := continuation.ParseList(token); ok {
		return resolveList(ranges, tokens)
	}

	if composite, ok := continuation.ParseComposite(token); ok {
		return resolveComposite(ranges, composite)
	}

	return nil, BadRequest("malformed continuation token")
}

func resolveList(ranges []routing.PartitionKeyRange, tokens []continuation.Composite) ([]RangeContinuation, error) {
	sort.Slice(tokens, func(i, j int) bool {
		return tokens[i].Range.Min < tokens[j].Range.Min
	})

	targets := []RangeContinuation{}

	for i, token := range tokens {
		if i > 0 && tokens[i-1].Range.Overlaps(token.Range) {
			return nil, BadRequest("continuation ranges %s and %s overlap", tokens[i-1].Range, token.Range)
		}

		covering := overlapping(ranges, token.Range)

		if len(covering) == 0 || covering[0].MinInclusive != token.Range.Min || covering[len(covering)-1].MaxExclusive != token.Range.Max {
			return nil, BadRequest("continuation range %s does not match the partition topology", token.Range)
		}

		for _, rng := range covering {
			targets = append(targets, RangeContinuation{Range: rng, Token: token.Token})
		}
	}

	return targets, nil
}

func resolveComposite(ranges []routing.PartitionKeyRange, token continuation.Composite) ([]RangeContinuation, error) {
	start := sort.Search(len(ranges), func(i int) bool {
		return ranges[i].MinInclusive >= token.Range.Min
	})

	if start == len(ranges) || ranges[start].MinInclusive != token.Range.Min {
		return nil, BadRequest("continuation range %s does not match the partition topology", token.Range)
	}

	targets := make([]RangeContinuation, 0, len(ranges)-start)

	for _, rng := range ranges[start:] {
		target := RangeContinuation{Range: rng}

		if rng.Range().Overlaps(token.Range) {
			target.Token = token.Token
		}

		targets = append(targets, target)
	}

	return targets, nil
}

func overlapping(ranges []routing.PartitionKeyRange, rng routing.Range) []routing.PartitionKeyRange {
	result := []routing.PartitionKeyRange{}

	for _, pkr := range ranges {
		if pkr.Range().Overlaps(rng) {
			result = append(result, pkr)
		}
	}

	return result
}

// slot holds one root producer of a ParallelContext
type slot struct {
	producer *DocumentProducer
	pages    stream.Stream[Page]
	// resume is the work left in this slot as of the
	// last page handed to the consumer
	resume   []continuation.Composite
	buffered *Page
	done     bool
}

// ParallelContext reads a set of partition key ranges
// concurrently and merges their pages into one stream.
// Up to MaxDegreeOfParallelism fetches run at once and each
// partition has at most one page buffered ahead of the consumer.
// Each emitted page's continuation covers every range with work
// left, including pages buffered but not yet emitted. The last
// page always has an empty continuation. It may have no documents.
type ParallelContext struct {
	env      *producerEnv
	ordering Ordering
	degree   int
	slots    []*slot
	// arrivals records buffered slots in
	// the order their fetches completed
	arrivals []*slot
	mu       sync.Mutex
	page     Page
	err      error

	// unfinished is true until a page with an
	// empty continuation has been emitted
	unfinished bool
}

// NewParallelContext creates a context with one
// producer per target. cfg must have its defaults applied.
func NewParallelContext(cfg Config, targets []RangeContinuation) *ParallelContext {
	env := &producerEnv{
		collectionID:       cfg.CollectionID,
		pageSize:           cfg.PageSize,
		createRequest:      cfg.CreateRequest,
		execute:            cfg.Execute,
		topology:           cfg.Topology,
		isSplit:            cfg.IsSplit,
		retryPolicyFactory: cfg.RetryPolicyFactory,
		properties:         cfg.Properties,
		logger:             cfg.Logger,
		metrics:            cfg.Metrics,
		top:                &atomic.Int64{},
	}

	sort.SliceStable(targets, func(i, j int) bool {
		return targets[i].Range.MinInclusive < targets[j].Range.MinInclusive
	})

	parallelContext := &ParallelContext{
		env:        env,
		ordering:   cfg.Ordering,
		degree:     cfg.MaxDegreeOfParallelism,
		slots:      make([]*slot, 0, len(targets)),
		unfinished: len(targets) > 0,
	}

	for _, target := range targets {
		producer := newDocumentProducer(env, target.Range, target.Token, cfg.RetryPolicyFactory)
		pages := stream.Pipeline[Page](producer,
			stream.Filter(func(page Page) bool { return page.ItemCount() > 0 }),
			stream.Log[Page](cfg.Logger, "page", func(page Page) []zap.Field {
				return []zap.Field{log.Range(page.Range), zap.Int("items", page.ItemCount()), zap.String("activity", page.ActivityID)}
			}),
		)

		parallelContext.slots = append(parallelContext.slots, &slot{
			producer: producer,
			pages:    pages,
			resume:   []continuation.Composite{{Token: target.Token, Range: target.Range.Range()}},
		})
	}

	return parallelContext
}

// Kind implements Component.Kind
func (parallelContext *ParallelContext) Kind() Kind {
	return KindParallel
}

// SetTop implements Component.SetTop
func (parallelContext *ParallelContext) SetTop(n int) {
	parallelContext.env.top.Store(int64(n))
}

// Next implements stream.Stream.Next
func (parallelContext *ParallelContext) Next(ctx context.Context) bool {
	parallelContext.page = Page{}

	if parallelContext.err != nil {
		return false
	}

	for {
		next := parallelContext.nextSlot()

		if next != nil && next.buffered != nil {
			parallelContext.emit(next)

			return true
		}

		if next == nil && parallelContext.ordering == OrderingPartition {
			return parallelContext.finish()
		}

		if !parallelContext.pending() {
			return parallelContext.finish()
		}

		if err := parallelContext.fill(ctx); err != nil {
			parallelContext.err = err

			return false
		}
	}
}

// Value implements stream.Stream.Value
func (parallelContext *ParallelContext) Value() Page {
	return parallelContext.page
}

// Error implements stream.Stream.Error
func (parallelContext *ParallelContext) Error() error {
	return parallelContext.err
}

// nextSlot returns the slot whose page is emitted next
// or nil if that slot isn't known yet
func (parallelContext *ParallelContext) nextSlot() *slot {
	switch parallelContext.ordering {
	case OrderingResponse:
		if len(parallelContext.arrivals) == 0 {
			return nil
		}

		return parallelContext.arrivals[0]
	default:
		for _, s := range parallelContext.slots {
			if !s.done {
				return s
			}
		}

		return nil
	}
}

func (parallelContext *ParallelContext) pending() bool {
	for _, s := range parallelContext.slots {
		if !s.done {
			return true
		}
	}

	return false
}

func (parallelContext *ParallelContext) emit(s *slot) {
	page := *s.buffered
	s.buffered = nil
	s.resume = page.outstanding

	if parallelContext.ordering == OrderingResponse {
		parallelContext.arrivals = parallelContext.arrivals[1:]
	} else {
		for i, arrived := range parallelContext.arrivals {
			if arrived == s {
				parallelContext.arrivals = append(parallelContext.arrivals[:i], parallelContext.arrivals[i+1:]...)

				break
			}
		}
	}

	page.Continuation = parallelContext.continuation()
	page.outstanding = nil
	parallelContext.unfinished = page.Continuation != ""
	parallelContext.page = page
}

// finish emits a final empty page with an empty continuation
// unless the last page emitted already had one. This happens when
// the remaining ranges turn out to be empty.
func (parallelContext *ParallelContext) finish() bool {
	if !parallelContext.unfinished {
		return false
	}

	parallelContext.unfinished = false
	parallelContext.page = Page{}

	return true
}

// continuation encodes the work left in every slot
func (parallelContext *ParallelContext) continuation() string {
	tokens := []continuation.Composite{}

	for _, s := range parallelContext.slots {
		tokens = append(tokens, s.resume...)
	}

	return continuation.SerializeList(tokens)
}

// fill fetches the next page of every slot
// that has none buffered
func (parallelContext *ParallelContext) fill(ctx context.Context) error {
	p := pool.New().WithContext(ctx).WithCancelOnError().WithFirstError().WithMaxGoroutines(parallelContext.degree)

	for _, s := range parallelContext.slots {
		if s.done || s.buffered != nil {
			continue
		}

		s := s

		p.Go(func(ctx context.Context) error {
			if s.pages.Next(ctx) {
				page := s.pages.Value()
				s.buffered = &page

				parallelContext.mu.Lock()
				parallelContext.arrivals = append(parallelContext.arrivals, s)
				parallelContext.mu.Unlock()

				return nil
			}

			if err := s.pages.Error(); err != nil {
				return err
			}

			s.done = true
			s.resume = nil

			return nil
		})
	}

	return p.Wait()
}
