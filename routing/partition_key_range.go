package routing

import (
	"context"
	"fmt"
)

// PartitionKeyRange identifies a physical partition
// of a collection and the slice of the effective
// partition key space it owns: [MinInclusive, MaxExclusive)
type PartitionKeyRange struct {
	ID           string   `json:"id"`
	MinInclusive string   `json:"minInclusive"`
	MaxExclusive string   `json:"maxExclusive"`
	Parents      []string `json:"parents,omitempty"`
}

// Range returns the key range owned by this partition
func (pkr PartitionKeyRange) Range() Range {
	return NewRange(pkr.MinInclusive, pkr.MaxExclusive)
}

func (pkr PartitionKeyRange) String() string {
	return fmt.Sprintf("%s%s", pkr.ID, pkr.Range())
}

// Provider describes the topology collaborator used by
// the query engine to discover partitions. Implementations
// must be safe to call concurrently.
type Provider interface {
	// GetOverlappingRanges returns the partition key ranges of the
	// collection that overlap rng, sorted by MinInclusive. If forceRefresh
	// is true any cached topology must be discarded first.
	GetOverlappingRanges(ctx context.Context, collectionID string, rng Range, forceRefresh bool, properties map[string]string) ([]PartitionKeyRange, error)
}

// ProviderFunc adapts a function to the Provider interface
type ProviderFunc func(ctx context.Context, collectionID string, rng Range, forceRefresh bool, properties map[string]string) ([]PartitionKeyRange, error)

// GetOverlappingRanges implements Provider.GetOverlappingRanges
func (f ProviderFunc) GetOverlappingRanges(ctx context.Context, collectionID string, rng Range, forceRefresh bool, properties map[string]string) ([]PartitionKeyRange, error) {
	return f(ctx, collectionID, rng, forceRefresh, properties)
}

// Invalidator is implemented by providers that keep a copy
// of the topology. Invalidate drops the copy of a collection
// so the next lookup reloads it.
type Invalidator interface {
	Invalidate(collectionID string)
}
