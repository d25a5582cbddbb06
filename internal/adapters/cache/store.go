package cache

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/jbctechsolutions/clinicsync/internal/application/ports"
	domainErrors "github.com/jbctechsolutions/clinicsync/internal/domain/errors"
	"github.com/jbctechsolutions/clinicsync/internal/domain/offline"
	"github.com/jbctechsolutions/clinicsync/internal/infrastructure/logging"
)

// StoreCache persists response snapshots in the local store.
type StoreCache struct {
	store  ports.ResponseStore
	logger *logging.Logger

	hitCount  int64
	missCount int64
}

// NewStoreCache creates a durable cache tier over store.
func NewStoreCache(store ports.ResponseStore, logger *logging.Logger) *StoreCache {
	return &StoreCache{store: store, logger: logging.OrNop(logger)}
}

// Get loads a snapshot. Store failures are logged and reported as a miss.
func (s *StoreCache) Get(ctx context.Context, generation, key string) (*offline.CachedResponse, bool) {
	resp, err := s.store.GetResponse(ctx, generation, key)
	if err != nil {
		if !errors.Is(err, domainErrors.ErrNoCachedResponse) {
			s.logger.WarnContext(ctx, "response cache read failed", "generation", generation, "error", err)
		}
		atomic.AddInt64(&s.missCount, 1)
		return nil, false
	}
	atomic.AddInt64(&s.hitCount, 1)
	return resp, true
}

// Put persists resp.
func (s *StoreCache) Put(ctx context.Context, resp *offline.CachedResponse) error {
	return s.store.PutResponse(ctx, resp)
}

// Purge removes every generation not in keep.
func (s *StoreCache) Purge(ctx context.Context, keep []string) (int64, error) {
	return s.store.DeleteResponseGenerations(ctx, keep)
}

// Generations lists the persisted generations.
func (s *StoreCache) Generations(ctx context.Context) ([]string, error) {
	return s.store.ResponseGenerations(ctx)
}

// Stats reports hit and miss counts of this process.
func (s *StoreCache) Stats(ctx context.Context) (*ports.CacheStats, error) {
	hits := atomic.LoadInt64(&s.hitCount)
	misses := atomic.LoadInt64(&s.missCount)
	stats := &ports.CacheStats{HitCount: hits, MissCount: misses}
	if hits+misses > 0 {
		stats.HitRate = float64(hits) / float64(hits+misses) * 100
	}
	return stats, nil
}

var _ ports.ResponseCache = (*StoreCache)(nil)
