package execution

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/jrife/crossquery/continuation"
	"github.com/jrife/crossquery/metrics"
	"github.com/jrife/crossquery/routing"
	"github.com/jrife/crossquery/utils/log"
	"github.com/jrife/crossquery/utils/stream"
	"go.uber.org/zap"
)

var _ stream.Stream[Page] = (*DocumentProducer)(nil)

// producerEnv is shared by every producer of a context
// including split children
type producerEnv struct {
	collectionID       string
	pageSize           int
	createRequest      RequestFactory
	execute            Executor
	topology           routing.Provider
	isSplit            SplitClassifier
	retryPolicyFactory RetryPolicyFactory
	properties         map[string]string
	logger             *zap.Logger
	metrics            metrics.Collector
	// top is the number of rows the consumer still wants.
	// 0 means unknown.
	top *atomic.Int64
}

func (env *producerEnv) maxItemCount() int {
	if top := int(env.top.Load()); top > 0 && top < env.pageSize {
		return top
	}

	return env.pageSize
}

// ProducerSnapshot is the resumable state of a producer.
// Snapshots are immutable. A producer swaps in a new snapshot
// with the next generation after each successful fetch.
type ProducerSnapshot struct {
	Generation   uint64
	Continuation string
	RetryCount   int
	Exhausted    bool
}

// DocumentProducer reads the pages of one partition key
// range in order. If the partition splits the producer
// replaces it with one child producer per replacement range
// and reads those in range order, so consumers see a single
// uninterrupted sequence of pages.
//
// Pending work is an explicit stack. The producer starts on
// top of its own stack. A split pops the partition that split
// and pushes its children, lowest range last. Children that
// split again are handled the same way.
type DocumentProducer struct {
	env                *producerEnv
	rng                routing.PartitionKeyRange
	retryPolicyFactory RetryPolicyFactory
	state              atomic.Pointer[ProducerSnapshot]
	work               []*DocumentProducer
	page               Page
	err                error
}

func newDocumentProducer(env *producerEnv, rng routing.PartitionKeyRange, token string, retryPolicyFactory RetryPolicyFactory) *DocumentProducer {
	producer := &DocumentProducer{
		env:                env,
		rng:                rng,
		retryPolicyFactory: retryPolicyFactory,
	}

	producer.state.Store(&ProducerSnapshot{Continuation: token})
	producer.work = []*DocumentProducer{producer}

	return producer
}

// Range returns the partition key range this producer was created for
func (producer *DocumentProducer) Range() routing.PartitionKeyRange {
	return producer.rng
}

// Snapshot returns the latest state of the partition
// this producer was created for
func (producer *DocumentProducer) Snapshot() ProducerSnapshot {
	return *producer.state.Load()
}

// SetTop updates the number of rows the consumer still wants.
// It applies to pending split children too.
func (producer *DocumentProducer) SetTop(n int) {
	producer.env.top.Store(int64(n))
}

// Next implements stream.Stream.Next
func (producer *DocumentProducer) Next(ctx context.Context) bool {
	producer.page = Page{}

	for producer.err == nil && len(producer.work) > 0 {
		current := producer.work[len(producer.work)-1]
		page, err := current.fetch(ctx)

		if err == nil {
			if current.state.Load().Exhausted {
				producer.work = producer.work[:len(producer.work)-1]
			}

			page.outstanding = producer.outstanding()
			producer.page = page

			return true
		}

		if !producer.env.isSplit(err) {
			producer.fail(ctx, current, err)

			return false
		}

		children, err := producer.split(ctx, current)

		if err != nil {
			producer.fail(ctx, current, err)

			return false
		}

		producer.work = producer.work[:len(producer.work)-1]

		for i := len(children) - 1; i >= 0; i-- {
			producer.work = append(producer.work, children[i])
		}
	}

	return false
}

// Value implements stream.Stream.Value
func (producer *DocumentProducer) Value() Page {
	return producer.page
}

// Error implements stream.Stream.Error
func (producer *DocumentProducer) Error() error {
	return producer.err
}

func (producer *DocumentProducer) fail(ctx context.Context, current *DocumentProducer, err error) {
	producer.err = err

	if ctx.Err() != nil {
		return
	}

	log.WithContext(ctx, producer.env.logger).Error("partition fetch failed", log.Range(current.rng), zap.Error(err))
	producer.env.metrics.RecordError(producer.env.collectionID, errorKind(err))
}

func (producer *DocumentProducer) fetch(ctx context.Context) (Page, error) {
	snapshot := producer.state.Load()
	request := producer.env.createRequest(producer.rng, snapshot.Continuation, producer.env.maxItemCount())
	retryPolicyFactory := producer.retryPolicyFactory

	if retryPolicyFactory == nil {
		retryPolicyFactory = producer.env.retryPolicyFactory
	}

	page, retries, err := ExecuteWithRetries(ctx, retryPolicyFactory(), producer.env.isSplit, producer.env.execute, request)

	if retries > 0 {
		log.WithContext(ctx, producer.env.logger).Warn("fetch retried", log.Range(producer.rng), zap.Int("retries", retries), zap.Bool("succeeded", err == nil))
		producer.env.metrics.RecordRetries(producer.env.collectionID, retries)
	}

	if err != nil {
		return Page{}, err
	}

	producer.state.Store(&ProducerSnapshot{
		Generation:   snapshot.Generation + 1,
		Continuation: page.Continuation,
		RetryCount:   retries,
		Exhausted:    page.Continuation == "",
	})

	page.RetryCount = retries
	page.Range = producer.rng
	producer.env.metrics.RecordPage(producer.env.collectionID, page.ItemCount(), page.RequestCharge)

	return page, nil
}

// split finds the ranges that replaced the partition of current
// and creates a child producer for each. Children resume from
// current's last continuation token.
func (producer *DocumentProducer) split(ctx context.Context, current *DocumentProducer) ([]*DocumentProducer, error) {
	ranges, err := producer.env.topology.GetOverlappingRanges(ctx, producer.env.collectionID, current.rng.Range(), true, producer.env.properties)

	if err != nil {
		return nil, fmt.Errorf("range %s: %w: %w", current.rng.ID, ErrSplitRecovery, err)
	}

	if len(ranges) == 0 || (len(ranges) == 1 && ranges[0].ID == current.rng.ID) {
		// don't let later queries start from this topology
		if invalidator, ok := producer.env.topology.(routing.Invalidator); ok {
			invalidator.Invalidate(producer.env.collectionID)
		}

		return nil, fmt.Errorf("range %s: no replacement ranges: %w", current.rng.ID, ErrSplitRecovery)
	}

	sort.Slice(ranges, func(i, j int) bool {
		return ranges[i].MinInclusive < ranges[j].MinInclusive
	})

	token := current.state.Load().Continuation
	children := make([]*DocumentProducer, 0, len(ranges))

	for _, rng := range ranges {
		children = append(children, newDocumentProducer(producer.env, rng, token, nil))
	}

	log.WithContext(ctx, producer.env.logger).Info("partition split", log.Range(current.rng), zap.Int("children", len(children)))
	producer.env.metrics.RecordSplit(producer.env.collectionID, len(children))

	return children, nil
}

// outstanding returns the continuation tokens of
// every range with work left in range order
func (producer *DocumentProducer) outstanding() []continuation.Composite {
	tokens := make([]continuation.Composite, 0, len(producer.work))

	for i := len(producer.work) - 1; i >= 0; i-- {
		p := producer.work[i]
		tokens = append(tokens, continuation.Composite{Token: p.state.Load().Continuation, Range: p.rng.Range()})
	}

	return tokens
}
