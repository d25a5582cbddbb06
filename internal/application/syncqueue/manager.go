// Package syncqueue drains deferred mutations to the backend once the
// client is back online.
package syncqueue

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jbctechsolutions/clinicsync/internal/application/gateway"
	"github.com/jbctechsolutions/clinicsync/internal/application/ports"
	domainErrors "github.com/jbctechsolutions/clinicsync/internal/domain/errors"
	"github.com/jbctechsolutions/clinicsync/internal/domain/offline"
	"github.com/jbctechsolutions/clinicsync/internal/infrastructure/logging"
	"github.com/jbctechsolutions/clinicsync/internal/infrastructure/metrics"
	"github.com/jbctechsolutions/clinicsync/internal/infrastructure/tracing"
)

// Item kinds, used in logs and metrics.
const (
	KindRequest  = "request"
	KindSyncItem = "sync_item"
)

// Default drain limits.
const (
	DefaultConcurrency = 4
	DefaultItemTimeout = 30 * time.Second
)

// Replayer resends a queued raw request.
type Replayer interface {
	Replay(ctx context.Context, q *offline.QueuedRequest) (*http.Response, error)
}

// Queues is the part of the local store a drain works on.
type Queues interface {
	ports.RequestQueue
	ports.SyncQueue
}

// DrainOptions controls a single drain.
type DrainOptions struct {
	// Force attempts every pending item regardless of its backoff schedule.
	Force bool
}

// DrainReport summarizes a drain.
type DrainReport struct {
	Skipped      bool          `json:"skipped,omitempty"`       // another drain was running
	ForcePending bool          `json:"force_pending,omitempty"` // forced pass runs after the current drain
	Offline      bool          `json:"offline,omitempty"`       // nothing attempted while offline
	Attempted    int           `json:"attempted"`
	Delivered    int           `json:"delivered"`
	Failed       int           `json:"failed"`
	DeadLettered int           `json:"dead_lettered"`
	Deferred     int           `json:"deferred"` // not yet due
	Duration     time.Duration `json:"duration"`
}

type result int

const (
	resultDelivered result = iota
	resultFailed
	resultDeadLettered
)

func (r result) String() string {
	switch r {
	case resultDelivered:
		return "delivered"
	case resultDeadLettered:
		return "dead_lettered"
	default:
		return "failed"
	}
}

// Manager redelivers queued requests and reconciles sync queue items.
// Only one drain runs at a time.
type Manager struct {
	queues       Queues
	replayer     Replayer
	reconciler   ports.Reconciler
	connectivity ports.ConnectivityReader
	observer     ports.QueueObserver
	policy       offline.RetryPolicy
	concurrency  int
	itemTimeout  time.Duration
	logger       *logging.Logger
	tracer       *tracing.Tracer
	metrics      *metrics.Collector
	now          func() time.Time

	mu           sync.Mutex
	forcePending atomic.Bool
}

// Option is a functional option for configuring the Manager.
type Option func(*Manager)

// WithConnectivity makes drains no-ops while r reports offline.
func WithConnectivity(r ports.ConnectivityReader) Option {
	return func(m *Manager) {
		m.connectivity = r
	}
}

// WithQueueObserver registers the observer told about queue changes.
func WithQueueObserver(o ports.QueueObserver) Option {
	return func(m *Manager) {
		m.observer = o
	}
}

// WithRetryPolicy sets the backoff schedule and retry budget.
func WithRetryPolicy(p offline.RetryPolicy) Option {
	return func(m *Manager) {
		m.policy = p
	}
}

// WithConcurrency bounds how many items are in flight at once.
func WithConcurrency(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.concurrency = n
		}
	}
}

// WithItemTimeout bounds a single delivery attempt.
func WithItemTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.itemTimeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(m *Manager) {
		m.logger = logging.OrNop(l)
	}
}

// WithTracer sets the tracer used for drain spans.
func WithTracer(t *tracing.Tracer) Option {
	return func(m *Manager) {
		if t != nil {
			m.tracer = t
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(c *metrics.Collector) Option {
	return func(m *Manager) {
		m.metrics = c
	}
}

// WithClock sets the time source used for backoff scheduling.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager creates a sync queue manager.
func NewManager(queues Queues, replayer Replayer, reconciler ports.Reconciler, opts ...Option) *Manager {
	m := &Manager{
		queues:      queues,
		replayer:    replayer,
		reconciler:  reconciler,
		policy:      offline.DefaultRetryPolicy(),
		concurrency: DefaultConcurrency,
		itemTimeout: DefaultItemTimeout,
		logger:      logging.Nop(),
		tracer:      tracing.Default(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Drain attempts every pending item once. It is a no-op while offline, and
// returns a Skipped report when another drain is already running; a skipped
// forced drain runs as soon as the running one finishes.
func (m *Manager) Drain(ctx context.Context, opts DrainOptions) (DrainReport, error) {
	if m.connectivity != nil && !m.connectivity.IsOnline() {
		m.logger.DebugContext(ctx, "drain skipped while offline")
		return DrainReport{Offline: true}, nil
	}
	if !m.mu.TryLock() {
		if opts.Force {
			m.forcePending.Store(true)
		}
		if !opts.Force || !m.mu.TryLock() {
			m.logger.DebugContext(ctx, "drain already in progress", "force", opts.Force)
			return DrainReport{Skipped: true, ForcePending: opts.Force}, nil
		}
		m.forcePending.Store(false)
	}
	report, err := m.drain(ctx, opts)
	m.mu.Unlock()
	m.runPendingForce(ctx)
	return report, err
}

// runPendingForce runs the forced drains requested while another drain held
// the lock.
func (m *Manager) runPendingForce(ctx context.Context) {
	for ctx.Err() == nil && m.forcePending.CompareAndSwap(true, false) {
		if m.connectivity != nil && !m.connectivity.IsOnline() {
			return
		}
		if !m.mu.TryLock() {
			m.forcePending.Store(true)
			return
		}
		m.logger.DebugContext(ctx, "running forced drain requested during previous drain")
		if _, err := m.drain(ctx, DrainOptions{Force: true}); err != nil {
			m.logger.WarnContext(ctx, "pending forced drain failed", "error", err)
		}
		m.mu.Unlock()
	}
}

// drain does one pass over both queues. The caller holds m.mu.
func (m *Manager) drain(ctx context.Context, opts DrainOptions) (DrainReport, error) {
	start := m.now()
	ctx = logging.WithDrainID(ctx, uuid.NewString())
	ctx, span := m.tracer.StartDrainSpan(ctx, opts.Force)

	requests, err := m.queues.GetQueuedRequests(ctx)
	if err != nil {
		err = fmt.Errorf("listing queued requests: %w", err)
		span.EndWithError(err)
		return DrainReport{}, err
	}
	items, err := m.queues.GetSyncQueue(ctx)
	if err != nil {
		err = fmt.Errorf("listing sync queue: %w", err)
		span.EndWithError(err)
		return DrainReport{}, err
	}

	var (
		report DrainReport
		mu     sync.Mutex
	)
	record := func(r result) {
		mu.Lock()
		defer mu.Unlock()
		switch r {
		case resultDelivered:
			report.Delivered++
		case resultFailed:
			report.Failed++
		case resultDeadLettered:
			report.DeadLettered++
		}
	}

	g := new(errgroup.Group)
	g.SetLimit(m.concurrency)

	for _, q := range requests {
		if !opts.Force && !q.Retry.Due(start) {
			report.Deferred++
			continue
		}
		report.Attempted++
		g.Go(func() error {
			record(m.redeliver(ctx, q))
			return nil
		})
	}
	for _, item := range items {
		if !opts.Force && !item.Retry.Due(start) {
			report.Deferred++
			continue
		}
		report.Attempted++
		g.Go(func() error {
			record(m.reconcile(ctx, item))
			return nil
		})
	}
	_ = g.Wait()

	report.Duration = m.now().Sub(start)
	span.SetCounts(report.Attempted, report.Delivered, report.Failed, report.DeadLettered)
	span.End()
	m.metrics.DrainDuration(report.Duration.Seconds())
	if report.Attempted > 0 {
		logging.LogDrainComplete(ctx, m.logger, report.Delivered, report.Failed, report.DeadLettered, report.Duration)
	}
	if report.Delivered+report.DeadLettered > 0 && m.observer != nil {
		m.observer.QueueChanged()
	}
	return report, nil
}

func (m *Manager) redeliver(ctx context.Context, q *offline.QueuedRequest) (r result) {
	ctx, span := m.tracer.StartItemSpan(ctx, KindRequest, q.ID, q.Retry.Attempts+1)
	defer func() { span.Finish(r.String()) }()

	itemCtx, cancel := context.WithTimeout(ctx, m.itemTimeout)
	defer cancel()

	resp, err := m.replayer.Replay(itemCtx, q)
	if err == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		if !gateway.Delivered(resp) {
			err = fmt.Errorf("server returned %d", resp.StatusCode)
		}
	}
	if err != nil {
		return m.fail(ctx, KindRequest, q.ID, q.Retry.Attempts, err, m.queues.IncrementRetryCount, m.queues.DeadLetterRequest)
	}

	if err := m.queues.RemoveQueuedRequest(ctx, q.ID); err != nil {
		m.logger.WarnContext(ctx, "failed to remove delivered request", "id", q.ID, "error", err)
	}
	m.metrics.DrainItem(KindRequest, "delivered")
	return resultDelivered
}

func (m *Manager) reconcile(ctx context.Context, item *offline.SyncQueueItem) (r result) {
	ctx, span := m.tracer.StartItemSpan(ctx, KindSyncItem, item.ID, item.Retry.Attempts+1)
	defer func() { span.Finish(r.String()) }()

	itemCtx, cancel := context.WithTimeout(ctx, m.itemTimeout)
	defer cancel()

	if err := m.reconciler.Reconcile(itemCtx, item); err != nil {
		return m.fail(ctx, KindSyncItem, item.ID, item.Retry.Attempts, err, m.queues.IncrementSyncRetryCount, m.queues.DeadLetterSyncItem)
	}

	if err := m.queues.RemoveFromSyncQueue(ctx, item.ID); err != nil {
		m.logger.WarnContext(ctx, "failed to remove reconciled item", "id", item.ID, "error", err)
	}
	m.metrics.DrainItem(KindSyncItem, "delivered")
	return resultDelivered
}

type incrementFunc func(ctx context.Context, id string, nextAttemptAt time.Time, lastErr string) (int, error)

// fail records one failed attempt and dead-letters the item once the
// policy is exhausted. Validation errors and client rejections are
// dead-lettered immediately.
func (m *Manager) fail(ctx context.Context, kind, id string, prior int, cause error, increment incrementFunc, deadLetter func(context.Context, string) error) result {
	attempts, err := increment(ctx, id, m.now().Add(m.delay(prior+1)), cause.Error())
	if err != nil {
		m.logger.ErrorContext(ctx, "failed to record retry", "kind", kind, "id", id, "error", err)
		attempts = prior + 1
	}
	logging.LogRedeliveryFailed(ctx, m.logger, kind, id, attempts, cause)
	tracing.RecordError(ctx, cause)

	final := domainErrors.IsValidation(cause) || domainErrors.IsClientRejection(cause)
	if !m.policy.Exhausted(attempts) && !final {
		m.metrics.DrainItem(kind, "failed")
		return resultFailed
	}
	if err := deadLetter(ctx, id); err != nil {
		m.logger.ErrorContext(ctx, "failed to dead-letter item", "kind", kind, "id", id, "error", err)
		m.metrics.DrainItem(kind, "failed")
		return resultFailed
	}
	logging.LogDeadLettered(ctx, m.logger, kind, id, attempts)
	m.metrics.DrainItem(kind, "dead_lettered")
	return resultDeadLettered
}

// maxBackoffSteps caps the walk along the schedule; the interval saturates
// at MaxInterval long before this.
const maxBackoffSteps = 64

// delay returns the wait before attempt number attempts+1, following the
// policy's exponential schedule without jitter.
func (m *Manager) delay(attempts int) time.Duration {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     m.policy.InitialInterval,
		RandomizationFactor: 0,
		Multiplier:          m.policy.Multiplier,
		MaxInterval:         m.policy.MaxInterval,
	}
	b.Reset()
	var d time.Duration
	for i := 0; i < min(attempts, maxBackoffSteps); i++ {
		d = b.NextBackOff()
	}
	return d
}

// Run drains on every tick until ctx is done. Scheduled drains respect
// each item's backoff.
func (m *Manager) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := m.Drain(ctx, DrainOptions{}); err != nil {
				m.logger.ErrorContext(ctx, "scheduled drain failed", "error", err)
			}
		}
	}
}
