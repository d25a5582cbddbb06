// Package offline is the read and write entry point presentation code uses:
// fresh data when the backend answers, cached data flagged as offline when
// it does not.
package offline

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jbctechsolutions/clinicsync/internal/application/ports"
	domainErrors "github.com/jbctechsolutions/clinicsync/internal/domain/errors"
	domainOffline "github.com/jbctechsolutions/clinicsync/internal/domain/offline"
	"github.com/jbctechsolutions/clinicsync/internal/infrastructure/logging"
)

// FetchFunc gets fresh records for a query from the network.
type FetchFunc func(ctx context.Context) ([]json.RawMessage, error)

// SendFunc delivers a mutation to the network.
type SendFunc func(ctx context.Context) error

// Query identifies an entity list of one tenant.
type Query struct {
	Entity   string
	TenantID string
	Fetch    FetchFunc // optional
}

// Result is what a read returns. Network problems are reported through
// IsOffline and Error rather than as a returned error.
type Result struct {
	Data        []json.RawMessage `json:"data"`
	IsLoading   bool              `json:"is_loading"`
	Error       error             `json:"-"`
	IsOffline   bool              `json:"is_offline"`
	LastUpdated time.Time         `json:"last_updated,omitzero"`
}

// Mutation is a write of one record.
type Mutation struct {
	Entity   string
	TenantID string
	Action   domainOffline.Action
	Data     json.RawMessage
	Send     SendFunc // optional; without it the mutation is always queued
}

// MutationResult reports whether a write was sent or queued.
type MutationResult struct {
	Queued bool   `json:"queued"`
	ID     string `json:"id,omitempty"` // sync queue item id when queued
}

// Store is the part of the local store the facade uses.
type Store interface {
	ports.RecordStore
	ports.SyncQueue
}

// Facade reads through the local cache and queues writes while offline.
type Facade struct {
	store        Store
	connectivity ports.ConnectivityReader
	observer     ports.QueueObserver
	logger       *logging.Logger
}

// Option is a functional option for configuring the Facade.
type Option func(*Facade)

// WithQueueObserver registers the observer told about queued writes.
func WithQueueObserver(o ports.QueueObserver) Option {
	return func(f *Facade) {
		f.observer = o
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(f *Facade) {
		f.logger = logging.OrNop(l)
	}
}

// NewFacade creates a facade. A nil connectivity reader means always online.
func NewFacade(store Store, connectivity ports.ConnectivityReader, opts ...Option) *Facade {
	f := &Facade{
		store:        store,
		connectivity: connectivity,
		logger:       logging.Nop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *Facade) online() bool {
	return f.connectivity == nil || f.connectivity.IsOnline()
}

// Load returns the cached records of q and, when online and q.Fetch is
// set, replaces them with fresh ones. Only invalid input is returned as an error.
func (f *Facade) Load(ctx context.Context, q Query) (Result, error) {
	if err := domainOffline.ValidateScope(q.Entity, q.TenantID); err != nil {
		return Result{}, err
	}
	ctx = logging.WithTenantID(ctx, q.TenantID)

	result := f.cached(ctx, q)
	if !f.online() || q.Fetch == nil {
		result.IsOffline = true
		return result, nil
	}
	return f.fetch(ctx, q, result), nil
}

// LoadAsync streams the cached result first, with IsLoading set when a
// fetch follows, then the final result. The channel is closed afterwards.
func (f *Facade) LoadAsync(ctx context.Context, q Query) <-chan Result {
	out := make(chan Result, 2)
	go func() {
		defer close(out)
		if err := domainOffline.ValidateScope(q.Entity, q.TenantID); err != nil {
			out <- Result{Error: err}
			return
		}
		ctx := logging.WithTenantID(ctx, q.TenantID)

		result := f.cached(ctx, q)
		loading := f.online() && q.Fetch != nil
		if !loading {
			result.IsOffline = true
			out <- result
			return
		}
		first := result
		first.IsLoading = true
		out <- first
		out <- f.fetch(ctx, q, result)
	}()
	return out
}

func (f *Facade) cached(ctx context.Context, q Query) Result {
	records, err := f.store.GetCachedData(ctx, q.Entity, q.TenantID)
	if err != nil {
		f.logger.WarnContext(ctx, "failed to read cached records", "entity", q.Entity, "error", err)
		return Result{Data: []json.RawMessage{}}
	}
	return Result{
		Data:        domainOffline.Payloads(records),
		LastUpdated: domainOffline.LatestUpdate(records),
	}
}

func (f *Facade) fetch(ctx context.Context, q Query, cached Result) Result {
	fresh, err := q.Fetch(ctx)
	if err != nil {
		f.logger.InfoContext(ctx, "fetch failed, serving cached records", "entity", q.Entity, "error", err)
		cached.IsOffline = true
		cached.Error = err
		return cached
	}
	if fresh == nil {
		fresh = []json.RawMessage{}
	}

	// The write outlives the caller: a finished fetch still refreshes the cache.
	writeCtx := context.WithoutCancel(ctx)
	result := Result{Data: fresh, LastUpdated: time.Now()}
	if err := f.store.ReplaceData(writeCtx, q.Entity, q.TenantID, fresh); err != nil {
		f.logger.WarnContext(ctx, "failed to cache fresh records", "entity", q.Entity, "error", err)
		return result
	}
	if records, err := f.store.GetCachedData(writeCtx, q.Entity, q.TenantID); err == nil {
		result.LastUpdated = domainOffline.LatestUpdate(records)
	}
	return result
}

// Mutate sends m when online. When offline, or when the send fails in a way
// a retry can fix (no response, 5xx, 408, 429), the write is queued for the
// next drain instead. Any other send error, such as a 4xx rejection or the
// caller canceling, is returned and the cache is left untouched.
func (f *Facade) Mutate(ctx context.Context, m Mutation) (MutationResult, error) {
	action, err := domainOffline.ParseAction(string(m.Action))
	if err != nil {
		return MutationResult{}, err
	}
	item := &domainOffline.SyncQueueItem{TenantID: m.TenantID, Action: action, Entity: m.Entity, Data: m.Data}
	if err := item.Validate(); err != nil {
		return MutationResult{}, err
	}
	ctx = logging.WithTenantID(ctx, m.TenantID)

	if f.online() && m.Send != nil {
		err := m.Send(ctx)
		if err == nil {
			f.writeThrough(ctx, item)
			return MutationResult{}, nil
		}
		if !domainErrors.IsRetryable(err) {
			f.logger.InfoContext(ctx, "send rejected", "entity", m.Entity, "status", domainErrors.HTTPStatus(err), "error", err)
			return MutationResult{}, err
		}
		f.logger.InfoContext(ctx, "send failed, queuing mutation", "entity", m.Entity, "error", err)
	}

	id, err := f.store.AddToSyncQueue(ctx, m.TenantID, action, m.Entity, m.Data)
	if err != nil {
		return MutationResult{}, err
	}
	f.writeThrough(ctx, item)
	if f.observer != nil {
		f.observer.QueueChanged()
	}
	return MutationResult{Queued: true, ID: id}, nil
}

// writeThrough keeps cached reads in step with a create or update that
// carries its id. Deletes and id-less creates leave the cache alone.
func (f *Facade) writeThrough(ctx context.Context, item *domainOffline.SyncQueueItem) {
	if item.Action == domainOffline.ActionDelete {
		return
	}
	if _, err := domainOffline.ExtractEntityID(item.Data); err != nil {
		return
	}
	if err := f.store.CacheData(ctx, item.Entity, item.TenantID, []json.RawMessage{item.Data}); err != nil {
		f.logger.WarnContext(ctx, "failed to update cached record", "entity", item.Entity, "error", err)
	}
}
