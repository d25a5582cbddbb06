package cache

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/jbctechsolutions/clinicsync/internal/adapters/store/memory"
	"github.com/jbctechsolutions/clinicsync/internal/domain/offline"
)

func snapshot(gen, key, body string) *offline.CachedResponse {
	return &offline.CachedResponse{
		Generation: gen,
		Key:        key,
		Method:     http.MethodGet,
		URL:        "http://backend/" + key,
		Status:     http.StatusOK,
		Header:     http.Header{"Content-Type": {"application/json"}},
		Body:       []byte(body),
	}
}

func TestMemoryCache_PutGet(t *testing.T) {
	cache := NewMemoryCache(1024 * 1024)
	ctx := context.Background()

	if err := cache.Put(ctx, snapshot("api-v1", "k1", `{"a":1}`)); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	got, found := cache.Get(ctx, "api-v1", "k1")
	if !found {
		t.Fatal("Get() returned not found")
	}
	if string(got.Body) != `{"a":1}` {
		t.Errorf("Get() body = %s", got.Body)
	}
	if got.StoredAt.IsZero() {
		t.Error("Put() should stamp StoredAt")
	}

	if _, found := cache.Get(ctx, "api-v2", "k1"); found {
		t.Error("Get() must not cross generations")
	}
}

func TestMemoryCache_ReturnsCopies(t *testing.T) {
	cache := NewMemoryCache(0)
	ctx := context.Background()

	_ = cache.Put(ctx, snapshot("g", "k", "abc"))
	got, _ := cache.Get(ctx, "g", "k")
	got.Body[0] = 'X'
	got.Header.Set("Content-Type", "text/plain")

	again, _ := cache.Get(ctx, "g", "k")
	if string(again.Body) != "abc" || again.Header.Get("Content-Type") != "application/json" {
		t.Errorf("cached snapshot was mutated through a returned copy: %+v", again)
	}
}

func TestMemoryCache_Eviction(t *testing.T) {
	// Room for roughly two snapshots.
	first := snapshot("g", "k1", strings.Repeat("a", 100))
	cache := NewMemoryCache(first.Size()*2 + 10)
	ctx := context.Background()

	_ = cache.Put(ctx, first)
	time.Sleep(time.Millisecond)
	_ = cache.Put(ctx, snapshot("g", "k2", strings.Repeat("b", 100)))
	time.Sleep(time.Millisecond)

	// Touch k1 so k2 becomes least recently used.
	cache.Get(ctx, "g", "k1")
	time.Sleep(time.Millisecond)
	_ = cache.Put(ctx, snapshot("g", "k3", strings.Repeat("c", 100)))

	if _, found := cache.Get(ctx, "g", "k2"); found {
		t.Error("least recently used entry should have been evicted")
	}
	if _, found := cache.Get(ctx, "g", "k1"); !found {
		t.Error("recently used entry was evicted")
	}

	stats, _ := cache.Stats(ctx)
	if stats.EvictionCount != 1 {
		t.Errorf("EvictionCount = %d, want 1", stats.EvictionCount)
	}
	if stats.TotalSize > first.Size()*2+10 {
		t.Errorf("TotalSize %d exceeds max", stats.TotalSize)
	}
}

func TestMemoryCache_OversizedSnapshotSkipped(t *testing.T) {
	cache := NewMemoryCache(10)
	ctx := context.Background()

	if err := cache.Put(ctx, snapshot("g", "big", strings.Repeat("x", 100))); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if _, found := cache.Get(ctx, "g", "big"); found {
		t.Error("snapshot larger than the cache should not be kept")
	}
	if cache.Size() != 0 {
		t.Errorf("Size() = %d, want 0", cache.Size())
	}
}

func TestMemoryCache_Purge(t *testing.T) {
	cache := NewMemoryCache(0)
	ctx := context.Background()

	_ = cache.Put(ctx, snapshot("static-v1", "a", "1"))
	_ = cache.Put(ctx, snapshot("static-v2", "a", "2"))
	_ = cache.Put(ctx, snapshot("api-v2", "b", "3"))

	removed, err := cache.Purge(ctx, []string{"static-v2", "api-v2"})
	if err != nil {
		t.Fatalf("Purge() error = %v", err)
	}
	if removed != 1 {
		t.Errorf("Purge() removed %d, want 1", removed)
	}
	gens, _ := cache.Generations(ctx)
	if len(gens) != 2 || gens[0] != "api-v2" || gens[1] != "static-v2" {
		t.Errorf("Generations() = %v", gens)
	}
}

func TestMemoryCache_Stats(t *testing.T) {
	cache := NewMemoryCache(0)
	ctx := context.Background()

	_ = cache.Put(ctx, snapshot("g", "k", "v"))
	cache.Get(ctx, "g", "k")
	cache.Get(ctx, "g", "k")
	cache.Get(ctx, "g", "missing")

	stats, err := cache.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.TotalEntries != 1 || stats.HitCount != 2 || stats.MissCount != 1 {
		t.Errorf("Stats() = %+v", stats)
	}
	if stats.HitRate < 66 || stats.HitRate > 67 {
		t.Errorf("HitRate = %v, want ~66.7", stats.HitRate)
	}
}

func TestCompositeCache_PromotesStoreHits(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	storeTier := NewStoreCache(store, nil)
	memTier := NewMemoryCache(0)
	cache := NewCompositeCache(memTier, storeTier)

	// Written by a previous process: only the store has it.
	if err := store.PutResponse(ctx, snapshot("api-v1", "k", `{"x":1}`)); err != nil {
		t.Fatalf("PutResponse() error = %v", err)
	}

	got, found := cache.Get(ctx, "api-v1", "k")
	if !found || string(got.Body) != `{"x":1}` {
		t.Fatalf("Get() = %+v, %v", got, found)
	}
	if _, found := memTier.Get(ctx, "api-v1", "k"); !found {
		t.Error("store hit was not promoted to memory")
	}
}

func TestCompositeCache_PutAndPurge(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	_ = store.Init(ctx)
	cache := NewCompositeCache(NewMemoryCache(0), NewStoreCache(store, nil))

	_ = cache.Put(ctx, snapshot("static-v1", "a", "old"))
	_ = cache.Put(ctx, snapshot("static-v2", "a", "new"))

	if _, err := store.GetResponse(ctx, "static-v2", "a"); err != nil {
		t.Errorf("Put() did not persist: %v", err)
	}

	removed, err := cache.Purge(ctx, []string{"static-v2"})
	if err != nil {
		t.Fatalf("Purge() error = %v", err)
	}
	if removed != 1 {
		t.Errorf("Purge() removed %d, want 1", removed)
	}
	if _, found := cache.Get(ctx, "static-v1", "a"); found {
		t.Error("purged generation still served")
	}

	gens, _ := cache.Generations(ctx)
	if len(gens) != 1 || gens[0] != "static-v2" {
		t.Errorf("Generations() = %v", gens)
	}
}

func TestCompositeCache_StatsCountsOneLookupOnce(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	_ = store.Init(ctx)
	cache := NewCompositeCache(NewMemoryCache(0), NewStoreCache(store, nil))

	cache.Get(ctx, "g", "missing")
	_ = cache.Put(ctx, snapshot("g", "k", "v"))
	cache.Get(ctx, "g", "k")

	stats, _ := cache.Stats(ctx)
	if stats.HitCount != 1 || stats.MissCount != 1 {
		t.Errorf("Stats() hits=%d misses=%d, want 1/1", stats.HitCount, stats.MissCount)
	}
}
