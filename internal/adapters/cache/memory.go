// Package cache provides the response cache tiers used by the gateway.
package cache

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jbctechsolutions/clinicsync/internal/application/ports"
	"github.com/jbctechsolutions/clinicsync/internal/domain/offline"
)

// MemoryCache is a size-bounded in-memory response cache. When full it
// evicts the least recently used snapshot.
type MemoryCache struct {
	mu          sync.RWMutex
	entries     map[entryKey]*memoryEntry
	maxSize     int64 // bytes; zero is unbounded
	currentSize int64

	hitCount      int64
	missCount     int64
	evictionCount int64
}

type entryKey struct {
	generation, key string
}

type memoryEntry struct {
	resp       *offline.CachedResponse
	size       int64
	lastAccess atomic.Int64
}

// NewMemoryCache creates a memory cache holding at most maxSize bytes.
func NewMemoryCache(maxSize int64) *MemoryCache {
	return &MemoryCache{
		entries: make(map[entryKey]*memoryEntry),
		maxSize: maxSize,
	}
}

// Get returns a copy of the snapshot for (generation, key).
func (m *MemoryCache) Get(ctx context.Context, generation, key string) (*offline.CachedResponse, bool) {
	m.mu.RLock()
	e, ok := m.entries[entryKey{generation, key}]
	m.mu.RUnlock()

	if !ok {
		atomic.AddInt64(&m.missCount, 1)
		return nil, false
	}
	atomic.AddInt64(&m.hitCount, 1)
	e.lastAccess.Store(time.Now().UnixNano())
	return clone(e.resp), true
}

// Put stores a copy of resp, evicting older snapshots if needed.
func (m *MemoryCache) Put(ctx context.Context, resp *offline.CachedResponse) error {
	cp := clone(resp)
	if cp.StoredAt.IsZero() {
		cp.StoredAt = time.Now()
	}
	e := &memoryEntry{resp: cp, size: cp.Size()}
	e.lastAccess.Store(time.Now().UnixNano())

	m.mu.Lock()
	defer m.mu.Unlock()

	k := entryKey{resp.Generation, resp.Key}
	if existing, ok := m.entries[k]; ok {
		m.currentSize -= existing.size
		delete(m.entries, k)
	}
	if m.maxSize > 0 {
		// A snapshot larger than the whole cache is not kept in memory.
		if e.size > m.maxSize {
			return nil
		}
		for m.currentSize+e.size > m.maxSize && len(m.entries) > 0 {
			m.evictLRU()
		}
	}
	m.entries[k] = e
	m.currentSize += e.size
	return nil
}

// evictLRU removes the least recently used entry. Must be called with lock held.
func (m *MemoryCache) evictLRU() {
	var oldest entryKey
	var oldestAt int64
	found := false
	for k, e := range m.entries {
		at := e.lastAccess.Load()
		if !found || at < oldestAt {
			oldest, oldestAt, found = k, at, true
		}
	}
	if found {
		m.currentSize -= m.entries[oldest].size
		delete(m.entries, oldest)
		atomic.AddInt64(&m.evictionCount, 1)
	}
}

// Purge removes every generation not in keep.
func (m *MemoryCache) Purge(ctx context.Context, keep []string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed int64
	for k, e := range m.entries {
		if !slices.Contains(keep, k.generation) {
			m.currentSize -= e.size
			delete(m.entries, k)
			removed++
		}
	}
	return removed, nil
}

// Generations lists the generations present in memory, sorted.
func (m *MemoryCache) Generations(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var gens []string
	for k := range m.entries {
		if !slices.Contains(gens, k.generation) {
			gens = append(gens, k.generation)
		}
	}
	slices.Sort(gens)
	return gens, nil
}

// Stats returns cache statistics.
func (m *MemoryCache) Stats(ctx context.Context) (*ports.CacheStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	hits := atomic.LoadInt64(&m.hitCount)
	misses := atomic.LoadInt64(&m.missCount)

	stats := &ports.CacheStats{
		TotalEntries:  int64(len(m.entries)),
		TotalSize:     m.currentSize,
		HitCount:      hits,
		MissCount:     misses,
		EvictionCount: atomic.LoadInt64(&m.evictionCount),
	}
	if hits+misses > 0 {
		stats.HitRate = float64(hits) / float64(hits+misses) * 100
	}
	for _, e := range m.entries {
		at := e.resp.StoredAt
		if stats.OldestEntry.IsZero() || at.Before(stats.OldestEntry) {
			stats.OldestEntry = at
		}
		if stats.NewestEntry.IsZero() || at.After(stats.NewestEntry) {
			stats.NewestEntry = at
		}
	}
	return stats, nil
}

// Size returns the bytes held.
func (m *MemoryCache) Size() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.currentSize
}

func clone(r *offline.CachedResponse) *offline.CachedResponse {
	cp := *r
	cp.Header = r.Header.Clone()
	cp.Body = slices.Clone(r.Body)
	return &cp
}

var _ ports.ResponseCache = (*MemoryCache)(nil)
