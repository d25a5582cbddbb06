package syncqueue

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jbctechsolutions/clinicsync/internal/adapters/store/memory"
	domainErrors "github.com/jbctechsolutions/clinicsync/internal/domain/errors"
	"github.com/jbctechsolutions/clinicsync/internal/domain/offline"
	"github.com/jbctechsolutions/clinicsync/internal/infrastructure/testutil"
)

type replayFunc func(ctx context.Context, q *offline.QueuedRequest) (*http.Response, error)

func (f replayFunc) Replay(ctx context.Context, q *offline.QueuedRequest) (*http.Response, error) {
	return f(ctx, q)
}

type reconcileFunc func(ctx context.Context, item *offline.SyncQueueItem) error

func (f reconcileFunc) Reconcile(ctx context.Context, item *offline.SyncQueueItem) error {
	return f(ctx, item)
}

type fakeConnectivity struct {
	online atomic.Bool
}

func (f *fakeConnectivity) IsOnline() bool { return f.online.Load() }

func (f *fakeConnectivity) State() offline.ConnectivityState {
	return offline.ConnectivityState{IsOnline: f.online.Load()}
}

func status(code int) replayFunc {
	return func(ctx context.Context, q *offline.QueuedRequest) (*http.Response, error) {
		return &http.Response{StatusCode: code, Body: io.NopCloser(strings.NewReader(""))}, nil
	}
}

var errUnreachable = errors.New("dial tcp: connection refused")

func unreachable(ctx context.Context, q *offline.QueuedRequest) (*http.Response, error) {
	return nil, errUnreachable
}

func noReconcile(ctx context.Context, item *offline.SyncQueueItem) error { return nil }

func newStore(t *testing.T, clock *testutil.Clock) *memory.Store {
	t.Helper()
	s := memory.NewStore(memory.WithClock(clock.Now))
	testutil.AssertNoError(t, s.Init(context.Background()))
	return s
}

func queue(t *testing.T, s *memory.Store, n int) []string {
	t.Helper()
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		id, err := s.QueueRequest(context.Background(), testutil.NewQueuedRequest("http://backend/api/patients", `{"n":1}`))
		testutil.AssertNoError(t, err)
		ids = append(ids, id)
	}
	return ids
}

func TestManager_DrainOfflineIsNoop(t *testing.T) {
	clock := testutil.NewClock(time.Unix(1_700_000_000, 0))
	store := newStore(t, clock)
	queue(t, store, 1)

	conn := &fakeConnectivity{}
	var calls atomic.Int32
	m := NewManager(store, replayFunc(func(ctx context.Context, q *offline.QueuedRequest) (*http.Response, error) {
		calls.Add(1)
		return nil, errUnreachable
	}), reconcileFunc(noReconcile), WithConnectivity(conn), WithClock(clock.Now))

	report, err := m.Drain(context.Background(), DrainOptions{Force: true})
	testutil.AssertNoError(t, err)
	if !report.Offline || report.Attempted != 0 {
		t.Errorf("report = %+v", report)
	}
	testutil.AssertEqual(t, calls.Load(), int32(0))
}

func TestManager_DeliveredRequestsAreRemoved(t *testing.T) {
	clock := testutil.NewClock(time.Unix(1_700_000_000, 0))
	store := newStore(t, clock)
	queue(t, store, 3)

	// 4xx is a final answer from the backend and is not retried.
	m := NewManager(store, status(http.StatusConflict), reconcileFunc(noReconcile), WithClock(clock.Now))
	report, err := m.Drain(context.Background(), DrainOptions{})
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, report.Delivered, 3)

	left, _ := store.GetQueuedRequests(context.Background())
	testutil.AssertEqual(t, len(left), 0)
}

// Property: each failed redelivery increments the retry counter by exactly one.
func TestManager_FailureIncrementsRetryByOne(t *testing.T) {
	tests := []struct {
		name     string
		replayer replayFunc
	}{
		{name: "transport error", replayer: unreachable},
		{name: "server error", replayer: status(http.StatusInternalServerError)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			clock := testutil.NewClock(time.Unix(1_700_000_000, 0))
			store := newStore(t, clock)
			ids := queue(t, store, 1)

			m := NewManager(store, tt.replayer, reconcileFunc(noReconcile),
				WithClock(clock.Now), WithRetryPolicy(offline.RetryPolicy{
					MaxAttempts: 0, InitialInterval: time.Minute, MaxInterval: time.Hour, Multiplier: 2,
				}))

			for want := 1; want <= 3; want++ {
				report, err := m.Drain(ctx, DrainOptions{Force: true})
				testutil.AssertNoError(t, err)
				testutil.AssertEqual(t, report.Failed, 1)

				left, _ := store.GetQueuedRequests(ctx)
				if len(left) != 1 || left[0].ID != ids[0] {
					t.Fatalf("pending = %+v", left)
				}
				testutil.AssertEqual(t, left[0].RetryCount(), want)
				if left[0].Retry.LastError == "" {
					t.Error("LastError not recorded")
				}
			}
		})
	}
}

func TestManager_BackoffSchedule(t *testing.T) {
	ctx := context.Background()
	clock := testutil.NewClock(time.Unix(1_700_000_000, 0))
	store := newStore(t, clock)
	queue(t, store, 1)

	m := NewManager(store, replayFunc(unreachable), reconcileFunc(noReconcile), WithClock(clock.Now))

	_, _ = m.Drain(ctx, DrainOptions{})
	left, _ := store.GetQueuedRequests(ctx)
	testutil.AssertEqual(t, left[0].Retry.NextAttemptAt, clock.Now().Add(time.Minute))

	// Not yet due: a scheduled drain skips it.
	clock.Advance(30 * time.Second)
	report, _ := m.Drain(ctx, DrainOptions{})
	testutil.AssertEqual(t, report.Deferred, 1)
	testutil.AssertEqual(t, report.Attempted, 0)

	// A reconnect drain ignores the schedule.
	report, _ = m.Drain(ctx, DrainOptions{Force: true})
	testutil.AssertEqual(t, report.Attempted, 1)
	left, _ = store.GetQueuedRequests(ctx)
	testutil.AssertEqual(t, left[0].RetryCount(), 2)
	testutil.AssertEqual(t, left[0].Retry.NextAttemptAt, clock.Now().Add(2*time.Minute))
}

func TestManager_Delay(t *testing.T) {
	m := NewManager(nil, nil, nil)
	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{1, time.Minute},
		{2, 2 * time.Minute},
		{3, 4 * time.Minute},
		{6, 32 * time.Minute},
		{7, time.Hour},
		{50, time.Hour},
		{10_000, time.Hour},
	}
	for _, tt := range tests {
		if got := m.delay(tt.attempts); got != tt.want {
			t.Errorf("delay(%d) = %v, want %v", tt.attempts, got, tt.want)
		}
	}
}

func TestManager_DeadLetterAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	clock := testutil.NewClock(time.Unix(1_700_000_000, 0))
	store := newStore(t, clock)
	ids := queue(t, store, 1)
	_, err := store.AddToSyncQueue(ctx, "acme", offline.ActionCreate, "patients", testutil.Payload(1, "Ada"))
	testutil.AssertNoError(t, err)

	observer := &countingObserver{}
	m := NewManager(store, replayFunc(unreachable), reconcileFunc(func(ctx context.Context, item *offline.SyncQueueItem) error {
		return &StatusError{Method: http.MethodPost, URL: "x", StatusCode: http.StatusBadGateway}
	}), WithClock(clock.Now), WithQueueObserver(observer), WithRetryPolicy(offline.RetryPolicy{
		MaxAttempts: 2, InitialInterval: time.Minute, MaxInterval: time.Hour, Multiplier: 2,
	}))

	first, _ := m.Drain(ctx, DrainOptions{Force: true})
	testutil.AssertEqual(t, first.Failed, 2)
	testutil.AssertEqual(t, observer.n.Load(), int32(0))

	second, _ := m.Drain(ctx, DrainOptions{Force: true})
	testutil.AssertEqual(t, second.DeadLettered, 2)
	testutil.AssertEqual(t, observer.n.Load(), int32(1))

	counts, _ := store.QueueCounts(ctx)
	testutil.AssertEqual(t, counts.Total(), 0)

	dead, err := store.ListDeadLetters(ctx)
	testutil.AssertNoError(t, err)
	if len(dead.Requests) != 1 || dead.Requests[0].ID != ids[0] || dead.Requests[0].RetryCount() != 2 {
		t.Errorf("dead requests = %+v", dead.Requests)
	}
	testutil.AssertEqual(t, len(dead.SyncItems), 1)

	third, _ := m.Drain(ctx, DrainOptions{Force: true})
	testutil.AssertEqual(t, third.Attempted, 0)
}

func TestManager_ValidationFailureDeadLettersImmediately(t *testing.T) {
	ctx := context.Background()
	clock := testutil.NewClock(time.Unix(1_700_000_000, 0))
	store := newStore(t, clock)
	_, err := store.AddToSyncQueue(ctx, "acme", offline.ActionCreate, "patients", json.RawMessage(`{"name":"Ada"}`))
	testutil.AssertNoError(t, err)

	m := NewManager(store, replayFunc(unreachable), reconcileFunc(func(ctx context.Context, item *offline.SyncQueueItem) error {
		return domainErrors.Validation("rejected", domainErrors.ErrInvalidAction)
	}), WithClock(clock.Now))

	report, err := m.Drain(ctx, DrainOptions{})
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, report.DeadLettered, 1)
}

func TestManager_ConcurrentDrainIsSkipped(t *testing.T) {
	clock := testutil.NewClock(time.Unix(1_700_000_000, 0))
	store := newStore(t, clock)
	queue(t, store, 1)

	started := make(chan struct{})
	release := make(chan struct{})
	m := NewManager(store, replayFunc(func(ctx context.Context, q *offline.QueuedRequest) (*http.Response, error) {
		close(started)
		<-release
		return status(http.StatusOK)(ctx, q)
	}), reconcileFunc(noReconcile), WithClock(clock.Now))

	done := make(chan DrainReport)
	go func() {
		r, _ := m.Drain(context.Background(), DrainOptions{Force: true})
		done <- r
	}()

	<-started
	second, err := m.Drain(context.Background(), DrainOptions{Force: true})
	testutil.AssertNoError(t, err)
	if !second.Skipped {
		t.Errorf("second drain = %+v, want Skipped", second)
	}

	close(release)
	first := <-done
	testutil.AssertEqual(t, first.Delivered, 1)
}

func TestManager_ForcedDrainFollowsRunningDrain(t *testing.T) {
	ctx := context.Background()
	clock := testutil.NewClock(time.Unix(1_700_000_000, 0))
	store := newStore(t, clock)
	ids := queue(t, store, 2)
	// The second request is backing off and not due for an hour.
	_, err := store.IncrementRetryCount(ctx, ids[1], clock.Now().Add(time.Hour), "connection refused")
	testutil.AssertNoError(t, err)

	var calls atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	m := NewManager(store, replayFunc(func(ctx context.Context, q *offline.QueuedRequest) (*http.Response, error) {
		if calls.Add(1) == 1 {
			close(started)
			<-release
		}
		return status(http.StatusOK)(ctx, q)
	}), reconcileFunc(noReconcile), WithClock(clock.Now))

	done := make(chan DrainReport)
	go func() {
		r, _ := m.Drain(ctx, DrainOptions{})
		done <- r
	}()

	<-started
	forced, err := m.Drain(ctx, DrainOptions{Force: true})
	testutil.AssertNoError(t, err)
	if !forced.Skipped || !forced.ForcePending {
		t.Errorf("forced drain = %+v, want Skipped with ForcePending", forced)
	}

	close(release)
	first := <-done
	testutil.AssertEqual(t, first.Delivered, 1)
	testutil.AssertEqual(t, first.Deferred, 1)

	// The forced pass ran before the scheduled drain returned.
	testutil.AssertEqual(t, calls.Load(), int32(2))
	left, _ := store.GetQueuedRequests(ctx)
	testutil.AssertEqual(t, len(left), 0)
}

func TestManager_ClientRejectionDeadLettersImmediately(t *testing.T) {
	tests := []struct {
		name     string
		code     int
		wantDead bool
	}{
		{name: "unprocessable", code: http.StatusUnprocessableEntity, wantDead: true},
		{name: "forbidden", code: http.StatusForbidden, wantDead: true},
		{name: "too many requests is retried", code: http.StatusTooManyRequests},
		{name: "server error is retried", code: http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			clock := testutil.NewClock(time.Unix(1_700_000_000, 0))
			store := newStore(t, clock)
			_, err := store.AddToSyncQueue(ctx, "acme", offline.ActionUpdate, "patients", testutil.Payload(7, "Ada"))
			testutil.AssertNoError(t, err)

			m := NewManager(store, replayFunc(unreachable), reconcileFunc(func(ctx context.Context, item *offline.SyncQueueItem) error {
				return &StatusError{Method: http.MethodPut, URL: "x", StatusCode: tt.code}
			}), WithClock(clock.Now))

			report, err := m.Drain(ctx, DrainOptions{})
			testutil.AssertNoError(t, err)
			if tt.wantDead {
				testutil.AssertEqual(t, report.DeadLettered, 1)
			} else {
				testutil.AssertEqual(t, report.Failed, 1)
			}
		})
	}
}

func TestManager_SlowItemDoesNotStallOthers(t *testing.T) {
	ctx := context.Background()
	clock := testutil.NewClock(time.Unix(1_700_000_000, 0))
	store := newStore(t, clock)
	slow, err := store.QueueRequest(ctx, testutil.NewQueuedRequest("http://backend/api/slow", `{}`))
	testutil.AssertNoError(t, err)
	queue(t, store, 2)

	m := NewManager(store, replayFunc(func(ctx context.Context, q *offline.QueuedRequest) (*http.Response, error) {
		if strings.HasSuffix(q.URL, "/slow") {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return status(http.StatusOK)(ctx, q)
	}), reconcileFunc(noReconcile), WithClock(clock.Now), WithItemTimeout(50*time.Millisecond), WithConcurrency(2))

	report, err := m.Drain(ctx, DrainOptions{Force: true})
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, report.Delivered, 2)
	testutil.AssertEqual(t, report.Failed, 1)

	left, _ := store.GetQueuedRequests(ctx)
	if len(left) != 1 || left[0].ID != slow {
		t.Errorf("pending = %+v", left)
	}
}

func TestManager_RunDrainsOnSchedule(t *testing.T) {
	clock := testutil.NewClock(time.Unix(1_700_000_000, 0))
	store := newStore(t, clock)
	queue(t, store, 1)

	m := NewManager(store, status(http.StatusOK), reconcileFunc(noReconcile), WithClock(clock.Now))
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	go func() { _ = m.Run(ctx, 10*time.Millisecond) }()

	deadline := time.After(time.Second)
	for {
		counts, _ := store.QueueCounts(context.Background())
		if counts.Requests == 0 {
			return
		}
		select {
		case <-deadline:
			t.Fatal("scheduled drain never delivered the request")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

type countingObserver struct {
	n atomic.Int32
}

func (c *countingObserver) QueueChanged() { c.n.Add(1) }
