package execution

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/jrife/crossquery/metrics"
	"github.com/jrife/crossquery/routing"
	"go.uber.org/zap"
)

// testStore is a partitioned store whose documents are
// their own effective partition keys. A continuation token
// is the last key returned so tokens survive splits.
type testStore struct {
	mu       sync.Mutex
	ranges   []routing.PartitionKeyRange
	keys     []string
	requests []Request
	refresh  []bool
	// invalidated lists the collections whose
	// topology was invalidated
	invalidated []string
	// hook runs before every fetch. A non-nil
	// error fails the fetch.
	hook func(request *Request) error
}

func newTestStore(ranges []routing.PartitionKeyRange, keys ...string) *testStore {
	sort.Strings(keys)

	return &testStore{ranges: ranges, keys: keys}
}

func pkr(id, lo, hi string) routing.PartitionKeyRange {
	return routing.PartitionKeyRange{ID: id, MinInclusive: lo, MaxExclusive: hi}
}

func letters(from, to byte) []string {
	keys := []string{}

	for c := from; c <= to; c++ {
		keys = append(keys, string(c))
	}

	return keys
}

// split replaces a range. It must not be called
// from hook.
func (store *testStore) split(id string, children ...routing.PartitionKeyRange) {
	store.mu.Lock()
	defer store.mu.Unlock()

	store.splitLocked(id, children...)
}

func (store *testStore) splitLocked(id string, children ...routing.PartitionKeyRange) {
	ranges := []routing.PartitionKeyRange{}

	for _, rng := range store.ranges {
		if rng.ID != id {
			ranges = append(ranges, rng)
		}
	}

	store.ranges = append(ranges, children...)
}

func (store *testStore) fetches() int {
	store.mu.Lock()
	defer store.mu.Unlock()

	return len(store.requests)
}

func (store *testStore) GetOverlappingRanges(ctx context.Context, collectionID string, rng routing.Range, forceRefresh bool, properties map[string]string) ([]routing.PartitionKeyRange, error) {
	store.mu.Lock()
	defer store.mu.Unlock()

	store.refresh = append(store.refresh, forceRefresh)
	overlapping := []routing.PartitionKeyRange{}

	for _, r := range store.ranges {
		if r.Range().Overlaps(rng) {
			overlapping = append(overlapping, r)
		}
	}

	sort.Slice(overlapping, func(i, j int) bool {
		return overlapping[i].MinInclusive < overlapping[j].MinInclusive
	})

	return overlapping, nil
}

func (store *testStore) Invalidate(collectionID string) {
	store.mu.Lock()
	defer store.mu.Unlock()

	store.invalidated = append(store.invalidated, collectionID)
}

func (store *testStore) execute(ctx context.Context, request *Request) (Page, error) {
	if err := ctx.Err(); err != nil {
		return Page{}, err
	}

	store.mu.Lock()
	defer store.mu.Unlock()

	store.requests = append(store.requests, *request)

	if store.hook != nil {
		if err := store.hook(request); err != nil {
			return Page{}, err
		}
	}

	found := false

	for _, rng := range store.ranges {
		found = found || rng.ID == request.Range.ID
	}

	if !found {
		return Page{}, &Error{StatusCode: StatusGone, SubStatusCode: SubStatusPartitionKeyRangeGone, Message: "gone"}
	}

	matches := []string{}

	for _, k := range store.keys {
		if k > request.Continuation && request.Range.Range().Contains(k) {
			matches = append(matches, k)
		}
	}

	page := Page{RequestCharge: 1}

	if request.MaxItemCount > 0 && len(matches) > request.MaxItemCount {
		matches = matches[:request.MaxItemCount]
		page.Continuation = matches[len(matches)-1]
	}

	for _, k := range matches {
		b, _ := json.Marshal(k)
		page.Documents = append(page.Documents, b)
	}

	return page, nil
}

func (store *testStore) env(pageSize int) *producerEnv {
	return &producerEnv{
		collectionID:       "c",
		pageSize:           pageSize,
		createRequest:      defaultRequestFactory("c", QuerySpec{}, nil),
		execute:            store.execute,
		topology:           store,
		isSplit:            IsPartitionSplit,
		retryPolicyFactory: NoRetry,
		logger:             zap.NewNop(),
		metrics:            metrics.NewNop(),
		top:                &atomic.Int64{},
	}
}

func keysOf(t *testing.T, pages []Page) []string {
	t.Helper()

	keys := []string{}

	for _, page := range pages {
		for _, doc := range page.Documents {
			var k string

			if err := json.Unmarshal(doc, &k); err != nil {
				t.Fatalf("could not decode document %s: %s", doc, err)
			}

			keys = append(keys, k)
		}
	}

	return keys
}
