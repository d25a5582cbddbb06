// Package memory provides an in-memory local store for tests and ephemeral mode.
package memory

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jbctechsolutions/clinicsync/internal/application/ports"
	domainErrors "github.com/jbctechsolutions/clinicsync/internal/domain/errors"
	"github.com/jbctechsolutions/clinicsync/internal/domain/offline"
)

var _ ports.LocalStore = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithMaxRecords caps the number of cached records. Zero disables the cap.
func WithMaxRecords(n int) Option {
	return func(s *Store) { s.maxRecords = n }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

type recordKey struct {
	tenant, entity, id string
}

type storedRecord struct {
	rec offline.CachedRecord
	seq uint64
}

type responseKey struct {
	generation, key string
}

// Store implements ports.LocalStore with maps guarded by a RWMutex.
type Store struct {
	mu         sync.RWMutex
	open       bool
	closed     bool
	seq        uint64
	records    map[recordKey]*storedRecord
	requests   []*offline.QueuedRequest
	syncItems  []*offline.SyncQueueItem
	responses  map[responseKey]*offline.CachedResponse
	maxRecords int
	now        func() time.Time
}

// NewStore creates an empty store. Call Init before use.
func NewStore(opts ...Option) *Store {
	s := &Store{
		records:   make(map[recordKey]*storedRecord),
		responses: make(map[responseKey]*offline.CachedResponse),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Init marks the store usable.
func (s *Store) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return domainErrors.Storage("init", domainErrors.ErrStoreClosed)
	}
	s.open = true
	return nil
}

// Close releases the store. Data is discarded.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.open = false
	s.records = nil
	s.requests = nil
	s.syncItems = nil
	s.responses = nil
	return nil
}

// usable must be called with the lock held.
func (s *Store) usable() error {
	if !s.open {
		return domainErrors.Storage("store not initialized", domainErrors.ErrStoreClosed)
	}
	return nil
}

// GetCachedData returns copies of every record for (entityType, tenantID).
func (s *Store) GetCachedData(ctx context.Context, entityType, tenantID string) ([]offline.CachedRecord, error) {
	if err := offline.ValidateScope(entityType, tenantID); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.usable(); err != nil {
		return nil, err
	}

	var matched []*storedRecord
	for k, sr := range s.records {
		if k.tenant == tenantID && k.entity == entityType {
			matched = append(matched, sr)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].seq < matched[j].seq })

	out := make([]offline.CachedRecord, 0, len(matched))
	for _, sr := range matched {
		rec := sr.rec
		rec.Payload = slices.Clone(rec.Payload)
		out = append(out, rec)
	}
	return out, nil
}

// CacheData upserts records by id.
func (s *Store) CacheData(ctx context.Context, entityType, tenantID string, records []json.RawMessage) error {
	return s.writeRecords(entityType, tenantID, records, false)
}

// ReplaceData replaces the (entityType, tenantID) set atomically.
func (s *Store) ReplaceData(ctx context.Context, entityType, tenantID string, records []json.RawMessage) error {
	return s.writeRecords(entityType, tenantID, records, true)
}

func (s *Store) writeRecords(entityType, tenantID string, payloads []json.RawMessage, replace bool) error {
	if err := offline.ValidateScope(entityType, tenantID); err != nil {
		return err
	}
	now := s.now()
	built := make([]*offline.CachedRecord, 0, len(payloads))
	for _, p := range payloads {
		rec, err := offline.NewCachedRecord(tenantID, entityType, p, now)
		if err != nil {
			return err
		}
		built = append(built, rec)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usable(); err != nil {
		return err
	}

	if replace {
		for k := range s.records {
			if k.tenant == tenantID && k.entity == entityType {
				delete(s.records, k)
			}
		}
	}
	for _, rec := range built {
		k := recordKey{tenantID, entityType, rec.EntityID}
		if existing, ok := s.records[k]; ok {
			existing.rec = *rec
			continue
		}
		s.seq++
		s.records[k] = &storedRecord{rec: *rec, seq: s.seq}
	}
	s.evictOverflow()
	return nil
}

// evictOverflow drops the oldest records beyond maxRecords. Lock held.
func (s *Store) evictOverflow() {
	overflow := len(s.records) - s.maxRecords
	if s.maxRecords <= 0 || overflow <= 0 {
		return
	}
	type entry struct {
		k  recordKey
		sr *storedRecord
	}
	all := make([]entry, 0, len(s.records))
	for k, sr := range s.records {
		all = append(all, entry{k, sr})
	}
	sort.Slice(all, func(i, j int) bool {
		ti, tj := all[i].sr.rec.UpdatedAt, all[j].sr.rec.UpdatedAt
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return all[i].sr.seq < all[j].sr.seq
	})
	for _, e := range all[:overflow] {
		delete(s.records, e.k)
	}
}

// ClearOldData deletes records older than now-maxAge.
func (s *Store) ClearOldData(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := s.now().Add(-maxAge)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usable(); err != nil {
		return 0, err
	}
	var removed int64
	for k, sr := range s.records {
		if sr.rec.UpdatedAt.Before(cutoff) {
			delete(s.records, k)
			removed++
		}
	}
	return removed, nil
}

// QueueRequest stores a copy of req, deduplicating on (TenantID, DedupKey).
func (s *Store) QueueRequest(ctx context.Context, req *offline.QueuedRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usable(); err != nil {
		return "", err
	}

	if req.DedupKey != "" {
		for _, q := range s.requests {
			if q.TenantID == req.TenantID && q.DedupKey == req.DedupKey && q.Status == offline.StatusPending {
				return q.ID, nil
			}
		}
	}

	req.ID = uuid.New().String()
	req.Status = offline.StatusPending
	req.CreatedAt = s.now()
	req.Retry = offline.RetryState{}
	s.requests = append(s.requests, cloneRequest(req))
	return req.ID, nil
}

// GetQueuedRequests returns pending requests in insertion order.
func (s *Store) GetQueuedRequests(ctx context.Context) ([]*offline.QueuedRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.usable(); err != nil {
		return nil, err
	}
	return filterRequests(s.requests, offline.StatusPending), nil
}

// RemoveQueuedRequest deletes a request in any status.
func (s *Store) RemoveQueuedRequest(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usable(); err != nil {
		return err
	}
	s.requests = slices.DeleteFunc(s.requests, func(q *offline.QueuedRequest) bool { return q.ID == id })
	return nil
}

// IncrementRetryCount records a failed redelivery attempt.
func (s *Store) IncrementRetryCount(ctx context.Context, id string, nextAttemptAt time.Time, lastErr string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usable(); err != nil {
		return 0, err
	}
	for _, q := range s.requests {
		if q.ID == id {
			q.Retry = bump(q.Retry, nextAttemptAt, lastErr)
			return q.Retry.Attempts, nil
		}
	}
	return 0, notFound(id)
}

// DeadLetterRequest moves a request to the dead-letter list.
func (s *Store) DeadLetterRequest(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usable(); err != nil {
		return err
	}
	for _, q := range s.requests {
		if q.ID == id {
			q.Status = offline.StatusDead
			return nil
		}
	}
	return notFound(id)
}

// AddToSyncQueue stores a semantic mutation intent.
func (s *Store) AddToSyncQueue(ctx context.Context, tenantID string, action offline.Action, entity string, data json.RawMessage) (string, error) {
	item := &offline.SyncQueueItem{
		TenantID: tenantID,
		Action:   action,
		Entity:   entity,
		Data:     slices.Clone(data),
		Status:   offline.StatusPending,
	}
	if err := item.Validate(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usable(); err != nil {
		return "", err
	}
	item.ID = uuid.New().String()
	item.CreatedAt = s.now()
	s.syncItems = append(s.syncItems, item)
	return item.ID, nil
}

// GetSyncQueue returns pending items in insertion order.
func (s *Store) GetSyncQueue(ctx context.Context) ([]*offline.SyncQueueItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.usable(); err != nil {
		return nil, err
	}
	return filterSyncItems(s.syncItems, offline.StatusPending), nil
}

// RemoveFromSyncQueue deletes an item in any status.
func (s *Store) RemoveFromSyncQueue(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usable(); err != nil {
		return err
	}
	s.syncItems = slices.DeleteFunc(s.syncItems, func(i *offline.SyncQueueItem) bool { return i.ID == id })
	return nil
}

// IncrementSyncRetryCount records a failed reconciliation attempt.
func (s *Store) IncrementSyncRetryCount(ctx context.Context, id string, nextAttemptAt time.Time, lastErr string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usable(); err != nil {
		return 0, err
	}
	for _, item := range s.syncItems {
		if item.ID == id {
			item.Retry = bump(item.Retry, nextAttemptAt, lastErr)
			return item.Retry.Attempts, nil
		}
	}
	return 0, notFound(id)
}

// DeadLetterSyncItem moves an item to the dead-letter list.
func (s *Store) DeadLetterSyncItem(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usable(); err != nil {
		return err
	}
	for _, item := range s.syncItems {
		if item.ID == id {
			item.Status = offline.StatusDead
			return nil
		}
	}
	return notFound(id)
}

// ListDeadLetters returns every dead-lettered item.
func (s *Store) ListDeadLetters(ctx context.Context) (*offline.DeadLetters, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.usable(); err != nil {
		return nil, err
	}
	return &offline.DeadLetters{
		Requests:  filterRequests(s.requests, offline.StatusDead),
		SyncItems: filterSyncItems(s.syncItems, offline.StatusDead),
	}, nil
}

// QueueCounts returns the pending totals of both queues.
func (s *Store) QueueCounts(ctx context.Context) (offline.QueueCounts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.usable(); err != nil {
		return offline.QueueCounts{}, err
	}
	var c offline.QueueCounts
	for _, q := range s.requests {
		if q.Status == offline.StatusPending {
			c.Requests++
		}
	}
	for _, i := range s.syncItems {
		if i.Status == offline.StatusPending {
			c.SyncItems++
		}
	}
	return c, nil
}

// GetDatabaseSize reports row counts and payload bytes.
func (s *Store) GetDatabaseSize(ctx context.Context) (offline.StoreSize, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.usable(); err != nil {
		return offline.StoreSize{}, err
	}
	size := offline.StoreSize{
		Records:   int64(len(s.records)),
		Requests:  int64(len(s.requests)),
		SyncItems: int64(len(s.syncItems)),
		Responses: int64(len(s.responses)),
	}
	for _, sr := range s.records {
		size.PayloadBytes += int64(len(sr.rec.Payload))
	}
	for _, q := range s.requests {
		size.PayloadBytes += int64(len(q.Body))
	}
	for _, i := range s.syncItems {
		size.PayloadBytes += int64(len(i.Data))
	}
	for _, r := range s.responses {
		size.PayloadBytes += int64(len(r.Body))
	}
	return size, nil
}

// PutResponse stores a copy of resp.
func (s *Store) PutResponse(ctx context.Context, resp *offline.CachedResponse) error {
	cp := cloneResponse(resp)
	if cp.StoredAt.IsZero() {
		cp.StoredAt = s.now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usable(); err != nil {
		return err
	}
	s.responses[responseKey{resp.Generation, resp.Key}] = cp
	return nil
}

// GetResponse returns a copy of the snapshot for (generation, key).
func (s *Store) GetResponse(ctx context.Context, generation, key string) (*offline.CachedResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.usable(); err != nil {
		return nil, err
	}
	resp, ok := s.responses[responseKey{generation, key}]
	if !ok {
		return nil, domainErrors.ErrNoCachedResponse
	}
	return cloneResponse(resp), nil
}

// ResponseGenerations lists the generations holding snapshots, sorted.
func (s *Store) ResponseGenerations(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.usable(); err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var gens []string
	for k := range s.responses {
		if !seen[k.generation] {
			seen[k.generation] = true
			gens = append(gens, k.generation)
		}
	}
	sort.Strings(gens)
	return gens, nil
}

// DeleteResponseGenerations removes every generation not in keep.
func (s *Store) DeleteResponseGenerations(ctx context.Context, keep []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usable(); err != nil {
		return 0, err
	}
	var removed int64
	for k := range s.responses {
		if !slices.Contains(keep, k.generation) {
			delete(s.responses, k)
			removed++
		}
	}
	return removed, nil
}

func bump(r offline.RetryState, next time.Time, lastErr string) offline.RetryState {
	return offline.RetryState{Attempts: r.Attempts + 1, NextAttemptAt: next, LastError: lastErr}
}

func notFound(id string) error {
	return domainErrors.NewError(domainErrors.CodeNotFound, id, domainErrors.ErrRecordNotFound)
}

func filterRequests(in []*offline.QueuedRequest, status offline.QueueStatus) []*offline.QueuedRequest {
	var out []*offline.QueuedRequest
	for _, q := range in {
		if q.Status == status {
			out = append(out, cloneRequest(q))
		}
	}
	return out
}

func filterSyncItems(in []*offline.SyncQueueItem, status offline.QueueStatus) []*offline.SyncQueueItem {
	var out []*offline.SyncQueueItem
	for _, i := range in {
		if i.Status == status {
			cp := *i
			cp.Data = slices.Clone(i.Data)
			out = append(out, &cp)
		}
	}
	return out
}

func cloneRequest(q *offline.QueuedRequest) *offline.QueuedRequest {
	cp := *q
	cp.Header = cloneHeader(q.Header)
	cp.Body = slices.Clone(q.Body)
	return &cp
}

func cloneResponse(r *offline.CachedResponse) *offline.CachedResponse {
	cp := *r
	cp.Header = cloneHeader(r.Header)
	cp.Body = slices.Clone(r.Body)
	return &cp
}

func cloneHeader(h http.Header) http.Header {
	if h == nil {
		return http.Header{}
	}
	return h.Clone()
}
