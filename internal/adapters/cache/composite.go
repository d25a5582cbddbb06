package cache

import (
	"context"
	"slices"

	"github.com/jbctechsolutions/clinicsync/internal/application/ports"
	"github.com/jbctechsolutions/clinicsync/internal/domain/offline"
)

// CompositeCache combines in-memory and store-backed caches in a two-tier architecture.
// Hot snapshots are served from memory, while every snapshot is persisted to the store.
type CompositeCache struct {
	memory *MemoryCache
	store  *StoreCache
}

// NewCompositeCache creates a new composite cache with memory and store tiers.
func NewCompositeCache(memory *MemoryCache, store *StoreCache) *CompositeCache {
	return &CompositeCache{memory: memory, store: store}
}

// Get checks memory first, then the store, promoting store hits to memory.
func (c *CompositeCache) Get(ctx context.Context, generation, key string) (*offline.CachedResponse, bool) {
	if resp, ok := c.memory.Get(ctx, generation, key); ok {
		return resp, true
	}
	resp, ok := c.store.Get(ctx, generation, key)
	if !ok {
		return nil, false
	}
	_ = c.memory.Put(ctx, resp)
	return resp, true
}

// Put stores resp in memory and persists it.
func (c *CompositeCache) Put(ctx context.Context, resp *offline.CachedResponse) error {
	if err := c.memory.Put(ctx, resp); err != nil {
		return err
	}
	return c.store.Put(ctx, resp)
}

// Purge removes stale generations from both tiers and returns the store count.
func (c *CompositeCache) Purge(ctx context.Context, keep []string) (int64, error) {
	if _, err := c.memory.Purge(ctx, keep); err != nil {
		return 0, err
	}
	return c.store.Purge(ctx, keep)
}

// Generations returns the union of both tiers.
func (c *CompositeCache) Generations(ctx context.Context) ([]string, error) {
	gens, err := c.store.Generations(ctx)
	if err != nil {
		return nil, err
	}
	mem, _ := c.memory.Generations(ctx)
	for _, g := range mem {
		if !slices.Contains(gens, g) {
			gens = append(gens, g)
		}
	}
	slices.Sort(gens)
	return gens, nil
}

// Stats returns combined statistics. A lookup that misses memory and hits
// the store counts as one hit.
func (c *CompositeCache) Stats(ctx context.Context) (*ports.CacheStats, error) {
	stats, err := c.memory.Stats(ctx)
	if err != nil {
		return nil, err
	}
	storeStats, err := c.store.Stats(ctx)
	if err != nil {
		return nil, err
	}

	stats.HitCount += storeStats.HitCount
	stats.MissCount = storeStats.MissCount
	if stats.HitCount+stats.MissCount > 0 {
		stats.HitRate = float64(stats.HitCount) / float64(stats.HitCount+stats.MissCount) * 100
	}
	return stats, nil
}

var _ ports.ResponseCache = (*CompositeCache)(nil)
