// Package fake implements an in-memory partitioned document
// collection. It serves query pages and partition key ranges
// the way a real store does, including splits and throttling.
package fake

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/emirpasic/gods/maps/treemap"
	"github.com/google/uuid"
	"github.com/jrife/crossquery/execution"
	"github.com/jrife/crossquery/routing"
	"github.com/jrife/crossquery/utils/stream"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var _ routing.Provider = (*Collection)(nil)

var (
	// ErrNoID is returned when inserting a document without a string id
	ErrNoID = errors.New("document has no id")
	// ErrUnknownCollection is returned for requests addressed
	// to another collection
	ErrUnknownCollection = errors.New("unknown collection")
)

const (
	keySpaceEnd       = uint64(1) << 62
	baseRequestCharge = 1.0
	itemRequestCharge = 0.25
)

// Option configures a Collection
type Option func(*Collection) error

// WithTopology replaces the initial single range topology
func WithTopology(ranges ...routing.PartitionKeyRange) Option {
	return func(collection *Collection) error {
		topology, err := routing.NewMap(ranges...)

		if err != nil {
			return err
		}

		collection.topology = topology

		return nil
	}
}

// WithThrottle limits the request rate. Requests over the
// limit fail with a 429 error carrying a retry-after hint.
func WithThrottle(limit rate.Limit, burst int) Option {
	return func(collection *Collection) error {
		collection.limiter = rate.NewLimiter(limit, burst)

		return nil
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(collection *Collection) error {
		collection.logger = logger

		return nil
	}
}

// Collection is an in-memory partitioned collection.
// Documents are placed by the hash of their partition key,
// the "pk" property or the id if there is none. Continuation
// tokens encode the position of the last document returned so
// they remain valid after a split.
type Collection struct {
	mu        sync.Mutex
	id        string
	topology  *routing.Map
	documents *treemap.Map
	limiter   *rate.Limiter
	logger    *zap.Logger
	failures  map[string][]error
	splits    map[string]int
	requests  []execution.Request
}

// New creates an empty collection
func New(id string, options ...Option) (*Collection, error) {
	topology, err := routing.NewMap(routing.PartitionKeyRange{
		ID:           "0",
		MinInclusive: routing.MinimumInclusiveEffectivePartitionKey,
		MaxExclusive: routing.MaximumExclusiveEffectivePartitionKey,
	})

	if err != nil {
		return nil, err
	}

	collection := &Collection{
		id:        id,
		topology:  topology,
		documents: treemap.NewWithStringComparator(),
		logger:    zap.NewNop(),
		failures:  map[string][]error{},
		splits:    map[string]int{},
	}

	for _, option := range options {
		if err := option(collection); err != nil {
			return nil, fmt.Errorf("could not configure collection %s: %w", id, err)
		}
	}

	return collection, nil
}

// ID returns the collection ID
func (collection *Collection) ID() string {
	return collection.id
}

// EffectivePartitionKey hashes a partition key
// onto the effective partition key space
func EffectivePartitionKey(partitionKey string) string {
	return formatKey(xxhash.Sum64String(partitionKey) >> 2)
}

func formatKey(k uint64) string {
	return fmt.Sprintf("%016X", k)
}

// ParseKey returns the position of an effective
// partition key or range boundary in the key space
func ParseKey(k string) (uint64, error) {
	switch k {
	case routing.MinimumInclusiveEffectivePartitionKey:
		return 0, nil
	case routing.MaximumExclusiveEffectivePartitionKey:
		return keySpaceEnd, nil
	}

	return strconv.ParseUint(k, 16, 64)
}

// EvenRanges divides the effective partition key
// space into n ranges of equal width with IDs 0 to n-1
func EvenRanges(n int) []routing.PartitionKeyRange {
	if n < 1 {
		n = 1
	}

	width := keySpaceEnd / uint64(n)
	ranges := make([]routing.PartitionKeyRange, 0, n)
	lower := routing.MinimumInclusiveEffectivePartitionKey

	for i := 0; i < n; i++ {
		upper := routing.MaximumExclusiveEffectivePartitionKey

		if i < n-1 {
			upper = formatKey(width * uint64(i+1))
		}

		ranges = append(ranges, routing.PartitionKeyRange{ID: strconv.Itoa(i), MinInclusive: lower, MaxExclusive: upper})
		lower = upper
	}

	return ranges
}

// Insert adds documents to the collection. Documents with
// an existing id replace the previous version.
func (collection *Collection) Insert(documents ...json.RawMessage) error {
	collection.mu.Lock()
	defer collection.mu.Unlock()

	for _, document := range documents {
		id := gjson.GetBytes(document, "id")

		if id.Type != gjson.String {
			return fmt.Errorf("%s: %w", document, ErrNoID)
		}

		partitionKey := id.Str

		if pk := gjson.GetBytes(document, "pk"); pk.Exists() {
			partitionKey = pk.String()
		}

		collection.documents.Put(EffectivePartitionKey(partitionKey)+"/"+id.Str, document)
	}

	return nil
}

// Len returns the number of documents in the collection
func (collection *Collection) Len() int {
	collection.mu.Lock()
	defer collection.mu.Unlock()

	return collection.documents.Size()
}

// Ranges returns the current topology
func (collection *Collection) Ranges() []routing.PartitionKeyRange {
	return collection.topology.Ranges()
}

// Split splits a range in two at the middle of its key space
func (collection *Collection) Split(rangeID string) ([]routing.PartitionKeyRange, error) {
	rng, ok := collection.topology.Get(rangeID)

	if !ok {
		return nil, fmt.Errorf("could not split range %s: %w", rangeID, routing.ErrNoSuchRange)
	}

	lo, err := ParseKey(rng.MinInclusive)

	if err != nil {
		return nil, fmt.Errorf("could not split range %s: %w", rangeID, err)
	}

	hi, err := ParseKey(rng.MaxExclusive)

	if err != nil {
		return nil, fmt.Errorf("could not split range %s: %w", rangeID, err)
	}

	if hi-lo < 2 {
		return nil, fmt.Errorf("could not split range %s: too narrow: %w", rangeID, routing.ErrInvalidSplit)
	}

	children, err := collection.topology.Split(rangeID, formatKey(lo+(hi-lo)/2))

	if err != nil {
		return nil, err
	}

	collection.logger.Info("split partition key range", zap.String("collection", collection.id), zap.String("range", rangeID), zap.Int("children", len(children)))

	return children, nil
}

// SplitAfter schedules a split of a range. The range serves
// fetches more requests and then splits, failing the next
// request addressed to it as gone.
func (collection *Collection) SplitAfter(rangeID string, fetches int) {
	collection.mu.Lock()
	defer collection.mu.Unlock()

	collection.splits[rangeID] = fetches
}

// FailNext makes the next len(errs) requests addressed
// to a range fail with errs, in order
func (collection *Collection) FailNext(rangeID string, errs ...error) {
	collection.mu.Lock()
	defer collection.mu.Unlock()

	collection.failures[rangeID] = append(collection.failures[rangeID], errs...)
}

// Requests returns every request received so far
func (collection *Collection) Requests() []execution.Request {
	collection.mu.Lock()
	defer collection.mu.Unlock()

	return append([]execution.Request(nil), collection.requests...)
}

// GetOverlappingRanges implements routing.Provider.GetOverlappingRanges
func (collection *Collection) GetOverlappingRanges(ctx context.Context, collectionID string, rng routing.Range, forceRefresh bool, properties map[string]string) ([]routing.PartitionKeyRange, error) {
	if collectionID != collection.id {
		return nil, fmt.Errorf("%s: %w", collectionID, ErrUnknownCollection)
	}

	return collection.topology.GetOverlappingRanges(ctx, collectionID, rng, forceRefresh, properties)
}

// Execute implements execution.Executor
func (collection *Collection) Execute(ctx context.Context, request *execution.Request) (execution.Page, error) {
	if err := ctx.Err(); err != nil {
		return execution.Page{}, err
	}

	if request.CollectionID != collection.id {
		return execution.Page{}, &execution.Error{StatusCode: execution.StatusNotFound, Message: "collection not found", Err: ErrUnknownCollection}
	}

	if collection.limiter != nil && !collection.limiter.Allow() {
		return execution.Page{}, &execution.Error{StatusCode: execution.StatusTooManyRequests, Message: "request rate is too large", RetryAfter: 10 * time.Millisecond}
	}

	collection.mu.Lock()
	defer collection.mu.Unlock()

	collection.requests = append(collection.requests, *request)

	if failures := collection.failures[request.Range.ID]; len(failures) > 0 {
		collection.failures[request.Range.ID] = failures[1:]

		return execution.Page{}, failures[0]
	}

	if err := collection.splitIfDue(request.Range.ID); err != nil {
		return execution.Page{}, err
	}

	current, ok := collection.topology.Get(request.Range.ID)

	if !ok {
		return execution.Page{}, &execution.Error{StatusCode: execution.StatusGone, SubStatusCode: execution.SubStatusPartitionKeyRangeGone, Message: "partition key range " + request.Range.ID + " is gone"}
	}

	cursor, err := decodeCursor(request.Continuation)

	if err != nil {
		return execution.Page{}, execution.BadRequest("malformed continuation %q", request.Continuation)
	}

	rng := current.Range()
	entries, err := stream.Drain(ctx, stream.Pipeline(stream.Slice(collection.entries()),
		stream.Filter(func(e entry) bool {
			return e.key > cursor && rng.Contains(strings.SplitN(e.key, "/", 2)[0])
		}),
		stream.Limit[entry](limitFor(request.MaxItemCount)),
	))

	if err != nil {
		return execution.Page{}, err
	}

	page := execution.Page{ActivityID: uuid.NewString()}

	if request.MaxItemCount > 0 && len(entries) > request.MaxItemCount {
		entries = entries[:request.MaxItemCount]
		page.Continuation = encodeCursor(entries[len(entries)-1].key)
	}

	page.Documents = make([]json.RawMessage, 0, len(entries))

	for _, e := range entries {
		page.Documents = append(page.Documents, e.document)
	}

	page.RequestCharge = baseRequestCharge + itemRequestCharge*float64(len(entries))

	return page, nil
}

func limitFor(maxItemCount int) int {
	if maxItemCount <= 0 {
		return 0
	}

	return maxItemCount + 1
}

// splitIfDue performs a scheduled split. It must be
// called with the collection locked.
func (collection *Collection) splitIfDue(rangeID string) error {
	remaining, ok := collection.splits[rangeID]

	if !ok {
		return nil
	}

	if remaining > 0 {
		collection.splits[rangeID] = remaining - 1

		return nil
	}

	delete(collection.splits, rangeID)

	if _, err := collection.Split(rangeID); err != nil {
		return err
	}

	return &execution.Error{StatusCode: execution.StatusGone, SubStatusCode: execution.SubStatusCompletingSplit, Message: "partition key range " + rangeID + " is splitting"}
}

type entry struct {
	key      string
	document json.RawMessage
}

func (collection *Collection) entries() []entry {
	entries := make([]entry, 0, collection.documents.Size())
	iter := collection.documents.Iterator()

	for iter.Next() {
		entries = append(entries, entry{key: iter.Key().(string), document: iter.Value().(json.RawMessage)})
	}

	return entries
}

func encodeCursor(key string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(key))
}

func decodeCursor(token string) (string, error) {
	if token == "" {
		return "", nil
	}

	key, err := base64.RawURLEncoding.DecodeString(token)

	if err != nil {
		return "", err
	}

	return string(key), nil
}
