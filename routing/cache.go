package routing

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var (
	_ Provider    = (*Cache)(nil)
	_ Invalidator = (*Cache)(nil)
)

// CacheConfig configures a Cache
type CacheConfig struct {
	// Upstream is the authoritative topology source
	Upstream Provider
	Logger   *zap.Logger
}

// Cache serves overlapping range lookups from a per-collection
// copy of the topology. The copy is loaded on first use and
// reloaded whenever a caller passes forceRefresh. Concurrent
// reloads for the same collection are collapsed into one upstream
// call. This matters after a split: every producer of the split
// partition asks for a refresh at about the same time.
type Cache struct {
	upstream Provider
	logger   *zap.Logger
	group    singleflight.Group
	mu       sync.RWMutex
	ranges   map[string][]PartitionKeyRange
}

// NewCache creates a Cache
func NewCache(config CacheConfig) *Cache {
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	return &Cache{
		upstream: config.Upstream,
		logger:   config.Logger,
		ranges:   map[string][]PartitionKeyRange{},
	}
}

// GetOverlappingRanges implements Provider.GetOverlappingRanges
func (cache *Cache) GetOverlappingRanges(ctx context.Context, collectionID string, rng Range, forceRefresh bool, properties map[string]string) ([]PartitionKeyRange, error) {
	cache.mu.RLock()
	ranges, ok := cache.ranges[collectionID]
	cache.mu.RUnlock()

	if !ok || forceRefresh {
		var err error

		if ranges, err = cache.refresh(ctx, collectionID, properties); err != nil {
			return nil, err
		}
	}

	overlapping := []PartitionKeyRange{}

	for _, pkr := range ranges {
		if pkr.Range().Overlaps(rng) {
			overlapping = append(overlapping, pkr)
		}
	}

	return overlapping, nil
}

// Invalidate implements Invalidator.Invalidate
func (cache *Cache) Invalidate(collectionID string) {
	cache.mu.Lock()
	defer cache.mu.Unlock()

	delete(cache.ranges, collectionID)
}

// refresh reloads the topology of a collection. The upstream call is
// shared by concurrent callers and outlives the cancellation of the
// caller that started it. Each caller stops waiting when its own ctx
// is done.
func (cache *Cache) refresh(ctx context.Context, collectionID string, properties map[string]string) ([]PartitionKeyRange, error) {
	refreshCtx := context.WithoutCancel(ctx)
	results := cache.group.DoChan(collectionID, func() (interface{}, error) {
		ranges, err := cache.upstream.GetOverlappingRanges(refreshCtx, collectionID, All(), true, properties)

		if err != nil {
			return nil, err
		}

		cache.mu.Lock()
		cache.ranges[collectionID] = ranges
		cache.mu.Unlock()

		return ranges, nil
	})

	var result singleflight.Result

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case result = <-results:
	}

	if result.Err != nil {
		return nil, fmt.Errorf("could not refresh partition key ranges of %s: %w", collectionID, result.Err)
	}

	ranges := result.Val.([]PartitionKeyRange)
	cache.logger.Debug("refreshed partition key ranges", zap.String("collection", collectionID), zap.Int("ranges", len(ranges)), zap.Bool("shared", result.Shared))

	return ranges, nil
}
