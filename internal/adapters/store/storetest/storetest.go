// Package storetest is a conformance suite run against every ports.LocalStore
// implementation.
package storetest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/jbctechsolutions/clinicsync/internal/application/ports"
	domainErrors "github.com/jbctechsolutions/clinicsync/internal/domain/errors"
	"github.com/jbctechsolutions/clinicsync/internal/domain/offline"
	"github.com/jbctechsolutions/clinicsync/internal/infrastructure/testutil"
)

// Options configure a store under test.
type Options struct {
	Now        func() time.Time
	MaxRecords int
}

// Factory returns an initialized store. It must register its own cleanup.
type Factory func(t *testing.T, opts Options) ports.LocalStore

// Suite describes the store under test.
type Suite struct {
	// PayloadOverhead is the bytes a store adds to each non-empty payload
	// it persists, such as the nonce and tag of an encrypting store.
	PayloadOverhead int
}

// RunOption configures the suite.
type RunOption func(*Suite)

// WithPayloadOverhead declares per-payload bytes added at rest.
func WithPayloadOverhead(n int) RunOption {
	return func(s *Suite) { s.PayloadOverhead = n }
}

// Run executes the suite.
func Run(t *testing.T, newStore Factory, opts ...RunOption) {
	t.Helper()
	var suite Suite
	for _, opt := range opts {
		opt(&suite)
	}
	tests := []struct {
		name string
		fn   func(*testing.T, Factory)
	}{
		{"cache round trip", testCacheRoundTrip},
		{"cache data merges", testCacheDataMerges},
		{"replace data", testReplaceData},
		{"tenant isolation", testTenantIsolation},
		{"invalid input", testInvalidInput},
		{"clear old data", testClearOldData},
		{"max records", testMaxRecords},
		{"queue request order", testQueueRequestOrder},
		{"queue request dedup", testQueueRequestDedup},
		{"queue request dedup per tenant", testQueueRequestDedupPerTenant},
		{"increment retry count", testIncrementRetryCount},
		{"dead letter", testDeadLetter},
		{"sync queue", testSyncQueue},
		{"responses", testResponses},
		{"database size", func(t *testing.T, f Factory) { testDatabaseSize(t, f, suite) }},
		{"concurrent writes", testConcurrentWrites},
		{"closed store", testClosedStore},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) { tt.fn(t, newStore) })
	}
}

func ids(t *testing.T, records []offline.CachedRecord) []string {
	t.Helper()
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.EntityID)
	}
	sort.Strings(out)
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func testCacheRoundTrip(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := newStore(t, Options{})

	start := time.Now()
	records := testutil.Payloads(3)
	testutil.AssertNoError(t, s.CacheData(ctx, offline.EntityPatients, "acme", records))

	got, err := s.GetCachedData(ctx, offline.EntityPatients, "acme")
	testutil.AssertNoError(t, err)
	if want := []string{"1", "2", "3"}; !equalStrings(ids(t, got), want) {
		t.Fatalf("ids = %v, want %v", ids(t, got), want)
	}

	byID := map[string]json.RawMessage{}
	for i, p := range records {
		byID[fmt.Sprint(i+1)] = p
	}
	for _, r := range got {
		if string(r.Payload) != string(byID[r.EntityID]) {
			t.Errorf("payload of %s = %s, want %s", r.EntityID, r.Payload, byID[r.EntityID])
		}
		if r.UpdatedAt.Before(start.Truncate(time.Microsecond)) {
			t.Errorf("UpdatedAt %v precedes write start %v", r.UpdatedAt, start)
		}
		if r.TenantID != "acme" || r.EntityType != offline.EntityPatients {
			t.Errorf("record scope = %s/%s", r.TenantID, r.EntityType)
		}
	}
}

func testCacheDataMerges(t *testing.T, newStore Factory) {
	ctx := context.Background()
	clock := testutil.NewClock(time.Unix(1_700_000_000, 0))
	s := newStore(t, Options{Now: clock.Now})

	testutil.AssertNoError(t, s.CacheData(ctx, "patients", "acme", []json.RawMessage{
		testutil.Payload(1, "A"), testutil.Payload(2, "B"),
	}))
	clock.Advance(time.Minute)
	testutil.AssertNoError(t, s.CacheData(ctx, "patients", "acme", []json.RawMessage{
		testutil.Payload(1, "A2"),
	}))

	got, err := s.GetCachedData(ctx, "patients", "acme")
	testutil.AssertNoError(t, err)
	if len(got) != 2 {
		t.Fatalf("got %d records, want 2", len(got))
	}
	for _, r := range got {
		switch r.EntityID {
		case "1":
			if string(r.Payload) != string(testutil.Payload(1, "A2")) {
				t.Errorf("record 1 not replaced: %s", r.Payload)
			}
			if !r.UpdatedAt.Equal(clock.Now()) {
				t.Errorf("record 1 UpdatedAt = %v, want %v", r.UpdatedAt, clock.Now())
			}
		case "2":
			if !r.UpdatedAt.Equal(clock.Now().Add(-time.Minute)) {
				t.Errorf("record 2 should keep its original stamp, got %v", r.UpdatedAt)
			}
		}
	}
}

func testReplaceData(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := newStore(t, Options{})

	testutil.AssertNoError(t, s.CacheData(ctx, "patients", "acme", testutil.Payloads(3)))
	testutil.AssertNoError(t, s.CacheData(ctx, "employees", "acme", testutil.Payloads(1)))
	testutil.AssertNoError(t, s.ReplaceData(ctx, "patients", "acme", []json.RawMessage{testutil.Payload(9, "Z")}))

	got, err := s.GetCachedData(ctx, "patients", "acme")
	testutil.AssertNoError(t, err)
	if !equalStrings(ids(t, got), []string{"9"}) {
		t.Errorf("patients = %v, want [9]", ids(t, got))
	}
	other, err := s.GetCachedData(ctx, "employees", "acme")
	testutil.AssertNoError(t, err)
	if len(other) != 1 {
		t.Errorf("ReplaceData touched another entity type: %d employees", len(other))
	}

	testutil.AssertNoError(t, s.ReplaceData(ctx, "patients", "acme", nil))
	got, err = s.GetCachedData(ctx, "patients", "acme")
	testutil.AssertNoError(t, err)
	if len(got) != 0 {
		t.Errorf("ReplaceData(nil) left %d records", len(got))
	}
}

func testTenantIsolation(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := newStore(t, Options{})

	testutil.AssertNoError(t, s.CacheData(ctx, "patients", "acme", []json.RawMessage{testutil.Payload(1, "acme")}))
	testutil.AssertNoError(t, s.CacheData(ctx, "patients", "globex", []json.RawMessage{testutil.Payload(1, "globex")}))

	got, err := s.GetCachedData(ctx, "patients", "globex")
	testutil.AssertNoError(t, err)
	if len(got) != 1 || string(got[0].Payload) != string(testutil.Payload(1, "globex")) {
		t.Errorf("globex sees %v", got)
	}
	none, err := s.GetCachedData(ctx, "patients", "initech")
	testutil.AssertNoError(t, err)
	if len(none) != 0 {
		t.Errorf("unknown tenant returned %d records", len(none))
	}
}

func testInvalidInput(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := newStore(t, Options{})

	err := s.CacheData(ctx, "patients", "acme", []json.RawMessage{
		testutil.Payload(1, "ok"), json.RawMessage(`{"name":"no id"}`),
	})
	if !errors.Is(err, domainErrors.ErrMissingEntityID) {
		t.Fatalf("CacheData() error = %v, want ErrMissingEntityID", err)
	}
	got, _ := s.GetCachedData(ctx, "patients", "acme")
	if len(got) != 0 {
		t.Errorf("rejected batch wrote %d records", len(got))
	}

	if _, err := s.GetCachedData(ctx, "", "acme"); !domainErrors.IsValidation(err) {
		t.Errorf("empty entity error = %v", err)
	}
	if _, err := s.GetCachedData(ctx, "patients", ""); !domainErrors.IsValidation(err) {
		t.Errorf("empty tenant error = %v", err)
	}
	if _, err := s.AddToSyncQueue(ctx, "acme", "upsert", "patients", json.RawMessage(`{}`)); !errors.Is(err, domainErrors.ErrInvalidAction) {
		t.Errorf("invalid action error = %v", err)
	}
	if _, err := s.QueueRequest(ctx, &offline.QueuedRequest{Method: http.MethodGet, URL: "http://x/api/a"}); err == nil {
		t.Error("queuing a GET should fail")
	}
}

func testClearOldData(t *testing.T, newStore Factory) {
	ctx := context.Background()
	t0 := time.Unix(1_700_000_000, 0)
	clock := testutil.NewClock(t0)
	s := newStore(t, Options{Now: clock.Now})

	testutil.AssertNoError(t, s.CacheData(ctx, "patients", "acme", []json.RawMessage{testutil.Payload(1, "old")}))
	clock.Advance(time.Hour)
	testutil.AssertNoError(t, s.CacheData(ctx, "patients", "acme", []json.RawMessage{testutil.Payload(2, "edge")}))
	clock.Advance(30 * time.Minute)
	testutil.AssertNoError(t, s.CacheData(ctx, "patients", "acme", []json.RawMessage{testutil.Payload(3, "new")}))
	clock.Advance(30 * time.Minute)

	// now = t0+2h, cutoff = t0+1h: record 1 is older, record 2 sits exactly on the cutoff.
	removed, err := s.ClearOldData(ctx, time.Hour)
	testutil.AssertNoError(t, err)
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	got, err := s.GetCachedData(ctx, "patients", "acme")
	testutil.AssertNoError(t, err)
	if !equalStrings(ids(t, got), []string{"2", "3"}) {
		t.Errorf("remaining = %v, want [2 3]", ids(t, got))
	}
}

func testMaxRecords(t *testing.T, newStore Factory) {
	ctx := context.Background()
	clock := testutil.NewClock(time.Unix(1_700_000_000, 0))
	s := newStore(t, Options{Now: clock.Now, MaxRecords: 3})

	testutil.AssertNoError(t, s.CacheData(ctx, "patients", "acme", []json.RawMessage{testutil.Payload(1, "a"), testutil.Payload(2, "b")}))
	clock.Advance(time.Second)
	testutil.AssertNoError(t, s.CacheData(ctx, "employees", "acme", []json.RawMessage{testutil.Payload(3, "c"), testutil.Payload(4, "d")}))

	size, err := s.GetDatabaseSize(ctx)
	testutil.AssertNoError(t, err)
	if size.Records != 3 {
		t.Fatalf("records = %d, want 3", size.Records)
	}
	employees, _ := s.GetCachedData(ctx, "employees", "acme")
	if len(employees) != 2 {
		t.Errorf("newest writes were evicted: %d employees", len(employees))
	}
}

func testQueueRequestOrder(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := newStore(t, Options{})

	var want []string
	for i := 0; i < 5; i++ {
		req := testutil.NewQueuedRequest(fmt.Sprintf("http://backend/api/patients/%d", i), `{"n":1}`)
		req.TenantID = "acme"
		id, err := s.QueueRequest(ctx, req)
		testutil.AssertNoError(t, err)
		if id == "" || req.ID != id {
			t.Fatalf("QueueRequest() id = %q, req.ID = %q", id, req.ID)
		}
		want = append(want, id)
	}

	got, err := s.GetQueuedRequests(ctx)
	testutil.AssertNoError(t, err)
	if len(got) != len(want) {
		t.Fatalf("got %d requests, want %d", len(got), len(want))
	}
	for i, q := range got {
		if q.ID != want[i] {
			t.Errorf("position %d = %s, want %s", i, q.ID, want[i])
		}
		if q.Status != offline.StatusPending || q.RetryCount() != 0 {
			t.Errorf("fresh request state = %s/%d", q.Status, q.RetryCount())
		}
		if q.Header.Get("Content-Type") != "application/json" || string(q.Body) != `{"n":1}` {
			t.Errorf("request %s lost header or body", q.ID)
		}
		if q.TenantID != "acme" {
			t.Errorf("tenant = %q", q.TenantID)
		}
	}

	testutil.AssertNoError(t, s.RemoveQueuedRequest(ctx, want[2]))
	testutil.AssertNoError(t, s.RemoveQueuedRequest(ctx, "missing"))
	got, _ = s.GetQueuedRequests(ctx)
	if len(got) != 4 {
		t.Errorf("after remove got %d requests, want 4", len(got))
	}
}

func testQueueRequestDedup(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := newStore(t, Options{})

	first := testutil.NewQueuedRequest("http://backend/api/patients", `{}`)
	first.DedupKey = "idem-1"
	id1, err := s.QueueRequest(ctx, first)
	testutil.AssertNoError(t, err)

	again := testutil.NewQueuedRequest("http://backend/api/patients", `{}`)
	again.DedupKey = "idem-1"
	id2, err := s.QueueRequest(ctx, again)
	testutil.AssertNoError(t, err)
	if id1 != id2 {
		t.Errorf("dedup key produced two ids: %s, %s", id1, id2)
	}

	// Without a key every failed attempt yields one entry.
	for i := 0; i < 2; i++ {
		_, err := s.QueueRequest(ctx, testutil.NewQueuedRequest("http://backend/api/patients", `{}`))
		testutil.AssertNoError(t, err)
	}
	got, _ := s.GetQueuedRequests(ctx)
	if len(got) != 3 {
		t.Errorf("queued = %d, want 3", len(got))
	}

	// A dead-lettered key no longer blocks a new request.
	testutil.AssertNoError(t, s.DeadLetterRequest(ctx, id1))
	fresh := testutil.NewQueuedRequest("http://backend/api/patients", `{}`)
	fresh.DedupKey = "idem-1"
	id3, err := s.QueueRequest(ctx, fresh)
	testutil.AssertNoError(t, err)
	if id3 == id1 {
		t.Error("dead-lettered request was reused")
	}
}

func testQueueRequestDedupPerTenant(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := newStore(t, Options{})

	queueFor := func(tenant string) string {
		t.Helper()
		req := testutil.NewQueuedRequest("http://backend/api/patients", `{"name":"Ada"}`)
		req.TenantID = tenant
		req.DedupKey = "k-1"
		id, err := s.QueueRequest(ctx, req)
		testutil.AssertNoError(t, err)
		return id
	}

	acme := queueFor("acme")
	globex := queueFor("globex")
	if acme == globex {
		t.Fatalf("tenants sharing a dedup key got the same request %s", acme)
	}
	testutil.AssertEqual(t, queueFor("acme"), acme)

	got, err := s.GetQueuedRequests(ctx)
	testutil.AssertNoError(t, err)
	tenants := make(map[string]string, len(got))
	for _, q := range got {
		tenants[q.ID] = q.TenantID
	}
	if len(got) != 2 || tenants[acme] != "acme" || tenants[globex] != "globex" {
		t.Errorf("queued = %+v, want one request per tenant", got)
	}
}

func testIncrementRetryCount(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := newStore(t, Options{})

	id, err := s.QueueRequest(ctx, testutil.NewQueuedRequest("http://backend/api/x", ""))
	testutil.AssertNoError(t, err)

	next := time.Unix(1_800_000_000, 0)
	n, err := s.IncrementRetryCount(ctx, id, next, "connection refused")
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, n, 1)
	n, err = s.IncrementRetryCount(ctx, id, next.Add(time.Minute), "timeout")
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, n, 2)

	got, _ := s.GetQueuedRequests(ctx)
	if len(got) != 1 {
		t.Fatalf("got %d requests", len(got))
	}
	if got[0].Retry.Attempts != 2 || got[0].Retry.LastError != "timeout" || !got[0].Retry.NextAttemptAt.Equal(next.Add(time.Minute)) {
		t.Errorf("retry state = %+v", got[0].Retry)
	}

	if _, err := s.IncrementRetryCount(ctx, "missing", next, ""); !errors.Is(err, domainErrors.ErrRecordNotFound) {
		t.Errorf("unknown id error = %v", err)
	}

	itemID, err := s.AddToSyncQueue(ctx, "acme", offline.ActionCreate, "patients", testutil.Payload(1, "A"))
	testutil.AssertNoError(t, err)
	n, err = s.IncrementSyncRetryCount(ctx, itemID, time.Time{}, "503")
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, n, 1)
}

func testDeadLetter(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := newStore(t, Options{})

	reqID, _ := s.QueueRequest(ctx, testutil.NewQueuedRequest("http://backend/api/a", ""))
	_, _ = s.QueueRequest(ctx, testutil.NewQueuedRequest("http://backend/api/b", ""))
	itemID, _ := s.AddToSyncQueue(ctx, "acme", offline.ActionDelete, "patients", testutil.Payload(4, "x"))

	testutil.AssertNoError(t, s.DeadLetterRequest(ctx, reqID))
	testutil.AssertNoError(t, s.DeadLetterSyncItem(ctx, itemID))

	counts, err := s.QueueCounts(ctx)
	testutil.AssertNoError(t, err)
	if counts.Requests != 1 || counts.SyncItems != 0 {
		t.Errorf("counts = %+v, want 1 request and 0 sync items", counts)
	}

	dead, err := s.ListDeadLetters(ctx)
	testutil.AssertNoError(t, err)
	if len(dead.Requests) != 1 || dead.Requests[0].ID != reqID || dead.Requests[0].Status != offline.StatusDead {
		t.Errorf("dead requests = %+v", dead.Requests)
	}
	if len(dead.SyncItems) != 1 || dead.SyncItems[0].ID != itemID {
		t.Errorf("dead sync items = %+v", dead.SyncItems)
	}

	testutil.AssertNoError(t, s.RemoveQueuedRequest(ctx, reqID))
	dead, _ = s.ListDeadLetters(ctx)
	if len(dead.Requests) != 0 {
		t.Error("removing a dead request should delete it")
	}

	if err := s.DeadLetterRequest(ctx, "missing"); !errors.Is(err, domainErrors.ErrRecordNotFound) {
		t.Errorf("unknown id error = %v", err)
	}
}

func testSyncQueue(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := newStore(t, Options{})

	a, err := s.AddToSyncQueue(ctx, "acme", offline.ActionCreate, "patients", json.RawMessage(`{"name":"new"}`))
	testutil.AssertNoError(t, err)
	b, err := s.AddToSyncQueue(ctx, "acme", offline.ActionUpdate, "patients", testutil.Payload(2, "B2"))
	testutil.AssertNoError(t, err)

	items, err := s.GetSyncQueue(ctx)
	testutil.AssertNoError(t, err)
	if len(items) != 2 || items[0].ID != a || items[1].ID != b {
		t.Fatalf("sync queue = %+v", items)
	}
	if items[1].Action != offline.ActionUpdate || items[1].Entity != "patients" || items[1].TenantID != "acme" {
		t.Errorf("item fields = %+v", items[1])
	}
	if string(items[1].Data) != string(testutil.Payload(2, "B2")) {
		t.Errorf("item data = %s", items[1].Data)
	}

	testutil.AssertNoError(t, s.RemoveFromSyncQueue(ctx, a))
	items, _ = s.GetSyncQueue(ctx)
	if len(items) != 1 || items[0].ID != b {
		t.Errorf("after remove = %+v", items)
	}

	if _, err := s.AddToSyncQueue(ctx, "acme", offline.ActionUpdate, "patients", json.RawMessage(`{"name":"no id"}`)); !errors.Is(err, domainErrors.ErrMissingEntityID) {
		t.Errorf("update without id error = %v", err)
	}
}

func testResponses(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := newStore(t, Options{})

	if _, err := s.GetResponse(ctx, "api-v1", "k"); !errors.Is(err, domainErrors.ErrNoCachedResponse) {
		t.Fatalf("miss error = %v", err)
	}

	put := func(gen, key, body string) {
		t.Helper()
		testutil.AssertNoError(t, s.PutResponse(ctx, &offline.CachedResponse{
			Generation: gen, Key: key, Method: http.MethodGet, URL: "http://backend/" + key,
			Status: http.StatusOK, Header: http.Header{"Content-Type": {"application/json"}}, Body: []byte(body),
		}))
	}
	put("api-v1", "k1", `{"v":1}`)
	put("api-v1", "k1", `{"v":2}`)
	put("static-v1", "k2", "<html>")
	put("api-v0", "k3", "old")

	got, err := s.GetResponse(ctx, "api-v1", "k1")
	testutil.AssertNoError(t, err)
	if string(got.Body) != `{"v":2}` || got.Status != http.StatusOK || got.Header.Get("Content-Type") != "application/json" {
		t.Errorf("response = %+v", got)
	}
	if got.StoredAt.IsZero() {
		t.Error("StoredAt not stamped")
	}

	gens, err := s.ResponseGenerations(ctx)
	testutil.AssertNoError(t, err)
	if !equalStrings(gens, []string{"api-v0", "api-v1", "static-v1"}) {
		t.Errorf("generations = %v", gens)
	}

	removed, err := s.DeleteResponseGenerations(ctx, []string{"api-v1", "static-v1"})
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, removed, int64(1))
	if _, err := s.GetResponse(ctx, "api-v0", "k3"); !errors.Is(err, domainErrors.ErrNoCachedResponse) {
		t.Errorf("purged generation still served: %v", err)
	}

	removed, err = s.DeleteResponseGenerations(ctx, nil)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, removed, int64(2))
}

// testDatabaseSize checks that PayloadBytes counts bytes as stored.
func testDatabaseSize(t *testing.T, newStore Factory, suite Suite) {
	ctx := context.Background()
	s := newStore(t, Options{})

	records := testutil.Payloads(2)
	testutil.AssertNoError(t, s.CacheData(ctx, "patients", "acme", records))
	_, _ = s.QueueRequest(ctx, testutil.NewQueuedRequest("http://backend/api/a", "abcd"))
	_, _ = s.AddToSyncQueue(ctx, "acme", offline.ActionCreate, "patients", json.RawMessage(`{}`))

	size, err := s.GetDatabaseSize(ctx)
	testutil.AssertNoError(t, err)
	want := offline.StoreSize{
		Records:      2,
		Requests:     1,
		SyncItems:    1,
		PayloadBytes: int64(len(records[0]) + len(records[1]) + len("abcd") + len(`{}`) + 4*suite.PayloadOverhead),
	}
	if size != want {
		t.Errorf("size = %+v, want %+v", size, want)
	}
	testutil.AssertEqual(t, size.Total(), int64(4))
}

func testConcurrentWrites(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := newStore(t, Options{})

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				// Every worker writes id i; last writer wins per key.
				if err := s.CacheData(ctx, "patients", "acme", []json.RawMessage{testutil.Payload(i, fmt.Sprintf("w%d", w))}); err != nil {
					t.Errorf("CacheData() error = %v", err)
				}
				if _, err := s.GetCachedData(ctx, "patients", "acme"); err != nil {
					t.Errorf("GetCachedData() error = %v", err)
				}
			}
		}(w)
	}
	wg.Wait()

	got, err := s.GetCachedData(ctx, "patients", "acme")
	testutil.AssertNoError(t, err)
	if len(got) != 10 {
		t.Errorf("got %d records, want 10", len(got))
	}
	for _, r := range got {
		if _, err := offline.ExtractEntityID(r.Payload); err != nil {
			t.Errorf("corrupted payload %s", r.Payload)
		}
	}
}

func testClosedStore(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := newStore(t, Options{})
	testutil.AssertNoError(t, s.Close())

	if _, err := s.GetCachedData(ctx, "patients", "acme"); !errors.Is(err, domainErrors.ErrStoreClosed) {
		t.Errorf("GetCachedData() after Close error = %v", err)
	}
	if _, err := s.QueueCounts(ctx); !errors.Is(err, domainErrors.ErrStoreClosed) {
		t.Errorf("QueueCounts() after Close error = %v", err)
	}
}
