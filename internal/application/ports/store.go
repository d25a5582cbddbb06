// Package ports defines the interfaces the offline core uses to reach storage,
// caches and connectivity without knowing their implementations.
package ports

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jbctechsolutions/clinicsync/internal/domain/offline"
)

// RecordStore holds tenant-scoped entity snapshots.
type RecordStore interface {
	// GetCachedData returns every record for (entityType, tenantID). Order is unspecified.
	GetCachedData(ctx context.Context, entityType, tenantID string) ([]offline.CachedRecord, error)

	// CacheData upserts records by id and stamps them with the current time.
	// Records not present in the input are kept.
	CacheData(ctx context.Context, entityType, tenantID string, records []json.RawMessage) error

	// ReplaceData atomically replaces the whole (entityType, tenantID) set.
	ReplaceData(ctx context.Context, entityType, tenantID string, records []json.RawMessage) error

	// ClearOldData deletes records whose UpdatedAt precedes now-maxAge and
	// returns how many were removed.
	ClearOldData(ctx context.Context, maxAge time.Duration) (int64, error)
}

// RequestQueue persists raw HTTP mutations deferred while offline.
type RequestQueue interface {
	// QueueRequest persists req and returns its id. A pending request with the
	// same non-empty DedupKey is returned instead of inserting a duplicate.
	QueueRequest(ctx context.Context, req *offline.QueuedRequest) (string, error)

	// GetQueuedRequests returns pending requests in insertion order.
	GetQueuedRequests(ctx context.Context) ([]*offline.QueuedRequest, error)

	RemoveQueuedRequest(ctx context.Context, id string) error

	// IncrementRetryCount records one failed attempt and returns the new count.
	IncrementRetryCount(ctx context.Context, id string, nextAttemptAt time.Time, lastErr string) (int, error)

	// DeadLetterRequest moves a request out of the pending set.
	DeadLetterRequest(ctx context.Context, id string) error
}

// SyncQueue persists semantic mutations awaiting reconciliation.
type SyncQueue interface {
	AddToSyncQueue(ctx context.Context, tenantID string, action offline.Action, entity string, data json.RawMessage) (string, error)

	// GetSyncQueue returns pending items in insertion order.
	GetSyncQueue(ctx context.Context) ([]*offline.SyncQueueItem, error)

	RemoveFromSyncQueue(ctx context.Context, id string) error
	IncrementSyncRetryCount(ctx context.Context, id string, nextAttemptAt time.Time, lastErr string) (int, error)
	DeadLetterSyncItem(ctx context.Context, id string) error
}

// ResponseStore persists gateway response snapshots by generation.
type ResponseStore interface {
	PutResponse(ctx context.Context, resp *offline.CachedResponse) error

	// GetResponse returns domainErrors.ErrNoCachedResponse on a miss.
	GetResponse(ctx context.Context, generation, key string) (*offline.CachedResponse, error)

	ResponseGenerations(ctx context.Context) ([]string, error)

	// DeleteResponseGenerations removes every snapshot whose generation is not
	// in keep. A nil keep removes everything.
	DeleteResponseGenerations(ctx context.Context, keep []string) (int64, error)
}

// LocalStore is the durable, tenant-scoped store shared by the gateway, the
// sync queue manager and the data facade. Implementations are safe for
// concurrent use.
type LocalStore interface {
	RecordStore
	RequestQueue
	SyncQueue
	ResponseStore

	// Init opens the backing storage. It must be called before any other method.
	Init(ctx context.Context) error
	Close() error

	ListDeadLetters(ctx context.Context) (*offline.DeadLetters, error)
	QueueCounts(ctx context.Context) (offline.QueueCounts, error)
	GetDatabaseSize(ctx context.Context) (offline.StoreSize, error)
}
