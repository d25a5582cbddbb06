package ports

import (
	"context"
	"time"

	"github.com/jbctechsolutions/clinicsync/internal/domain/offline"
)

// CacheStats represents response cache statistics.
type CacheStats struct {
	TotalEntries  int64     `json:"total_entries"`
	TotalSize     int64     `json:"total_size"` // bytes held by the memory tier
	HitCount      int64     `json:"hit_count"`
	MissCount     int64     `json:"miss_count"`
	HitRate       float64   `json:"hit_rate"` // percentage
	EvictionCount int64     `json:"eviction_count"`
	OldestEntry   time.Time `json:"oldest_entry"`
	NewestEntry   time.Time `json:"newest_entry"`
}

// ResponseCache stores gateway response snapshots keyed by (generation, identity).
type ResponseCache interface {
	// Get returns the snapshot for key in generation, if any.
	Get(ctx context.Context, generation, key string) (*offline.CachedResponse, bool)

	// Put stores resp, replacing any snapshot with the same generation and key.
	Put(ctx context.Context, resp *offline.CachedResponse) error

	// Purge removes every generation not listed in keep.
	Purge(ctx context.Context, keep []string) (int64, error)

	// Generations lists the generations currently holding snapshots.
	Generations(ctx context.Context) ([]string, error)

	Stats(ctx context.Context) (*CacheStats, error)
}
