package routing

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/emirpasic/gods/maps/treemap"
)

var _ Provider = (*Map)(nil)

// Map is a thread-safe, ordered in-memory topology.
// Ranges are keyed by their MinInclusive boundary.
type Map struct {
	mu     sync.RWMutex
	ranges *treemap.Map
	nextID int
}

// NewMap creates a Map from a set of ranges. The ranges
// must form a disjoint, contiguous cover of the whole key
// space. They don't need to be sorted.
func NewMap(ranges ...PartitionKeyRange) (*Map, error) {
	m := &Map{ranges: treemap.NewWithStringComparator()}

	for _, pkr := range ranges {
		if _, ok := m.ranges.Get(pkr.MinInclusive); ok {
			return nil, fmt.Errorf("duplicate minimum %q: %w", pkr.MinInclusive, ErrIncompleteTopology)
		}

		m.ranges.Put(pkr.MinInclusive, pkr)

		if id, err := strconv.Atoi(pkr.ID); err == nil && id >= m.nextID {
			m.nextID = id + 1
		}
	}

	if err := m.validate(); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *Map) validate() error {
	expectedMin := MinimumInclusiveEffectivePartitionKey
	iter := m.ranges.Iterator()

	for iter.Next() {
		pkr := iter.Value().(PartitionKeyRange)

		if pkr.MinInclusive != expectedMin {
			return fmt.Errorf("range %s starts at %q, expected %q: %w", pkr.ID, pkr.MinInclusive, expectedMin, ErrIncompleteTopology)
		}

		if strings.Compare(pkr.MinInclusive, pkr.MaxExclusive) >= 0 {
			return fmt.Errorf("range %s is empty: %w", pkr.ID, ErrIncompleteTopology)
		}

		expectedMin = pkr.MaxExclusive
	}

	if expectedMin != MaximumExclusiveEffectivePartitionKey {
		return fmt.Errorf("topology ends at %q: %w", expectedMin, ErrIncompleteTopology)
	}

	return nil
}

// Ranges returns every range in the topology sorted by
// MinInclusive
func (m *Map) Ranges() []PartitionKeyRange {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ranges := make([]PartitionKeyRange, 0, m.ranges.Size())

	for _, v := range m.ranges.Values() {
		ranges = append(ranges, v.(PartitionKeyRange))
	}

	return ranges
}

// Overlapping returns the ranges that overlap rng
// sorted by MinInclusive
func (m *Map) Overlapping(rng Range) []PartitionKeyRange {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ranges := []PartitionKeyRange{}
	iter := m.ranges.Iterator()

	for iter.Next() {
		pkr := iter.Value().(PartitionKeyRange)

		if strings.Compare(pkr.MinInclusive, rng.Max) > 0 {
			break
		}

		if pkr.Range().Overlaps(rng) {
			ranges = append(ranges, pkr)
		}
	}

	return ranges
}

// Get returns the range with this ID
func (m *Map) Get(id string) (PartitionKeyRange, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.get(id)
}

func (m *Map) get(id string) (PartitionKeyRange, bool) {
	iter := m.ranges.Iterator()

	for iter.Next() {
		if pkr := iter.Value().(PartitionKeyRange); pkr.ID == id {
			return pkr, true
		}
	}

	return PartitionKeyRange{}, false
}

// Split replaces the range with this ID by len(boundaries)+1
// child ranges. Boundaries must be strictly increasing and
// strictly inside the parent range. Children are assigned fresh
// IDs and record the parent lineage.
func (m *Map) Split(id string, boundaries ...string) ([]PartitionKeyRange, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	parent, ok := m.get(id)

	if !ok {
		return nil, fmt.Errorf("could not split range %s: %w", id, ErrNoSuchRange)
	}

	if len(boundaries) == 0 {
		return nil, fmt.Errorf("could not split range %s: no boundaries: %w", id, ErrInvalidSplit)
	}

	previous := parent.MinInclusive

	for _, boundary := range boundaries {
		if strings.Compare(boundary, previous) <= 0 || strings.Compare(boundary, parent.MaxExclusive) >= 0 {
			return nil, fmt.Errorf("could not split range %s at %q: %w", id, boundary, ErrInvalidSplit)
		}

		previous = boundary
	}

	parents := append(append([]string{}, parent.Parents...), parent.ID)
	mins := append([]string{parent.MinInclusive}, boundaries...)
	maxes := append(append([]string{}, boundaries...), parent.MaxExclusive)
	children := make([]PartitionKeyRange, 0, len(mins))

	m.ranges.Remove(parent.MinInclusive)

	for i := range mins {
		child := PartitionKeyRange{
			ID:           strconv.Itoa(m.nextID),
			MinInclusive: mins[i],
			MaxExclusive: maxes[i],
			Parents:      parents,
		}

		m.nextID++
		m.ranges.Put(child.MinInclusive, child)
		children = append(children, child)
	}

	return children, nil
}

// GetOverlappingRanges implements Provider.GetOverlappingRanges.
// A Map is always current so forceRefresh has no effect.
func (m *Map) GetOverlappingRanges(ctx context.Context, collectionID string, rng Range, forceRefresh bool, properties map[string]string) ([]PartitionKeyRange, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return m.Overlapping(rng), nil
}
