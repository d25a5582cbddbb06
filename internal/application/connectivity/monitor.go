// Package connectivity tracks whether the backend is reachable and how
// much work is waiting in the local queues.
package connectivity

import (
	"context"
	"sync"
	"time"

	"github.com/jbctechsolutions/clinicsync/internal/application/ports"
	"github.com/jbctechsolutions/clinicsync/internal/domain/offline"
	"github.com/jbctechsolutions/clinicsync/internal/infrastructure/logging"
	"github.com/jbctechsolutions/clinicsync/internal/infrastructure/metrics"
)

// DefaultCountsInterval is how often pending counts are refreshed without a queue change.
const DefaultCountsInterval = 30 * time.Second

// QueueCounter reports pending queue sizes.
type QueueCounter interface {
	QueueCounts(ctx context.Context) (offline.QueueCounts, error)
}

// State is what status listeners see.
type State struct {
	offline.ConnectivityState
	Pending offline.QueueCounts `json:"pending"`
}

// ReconnectHandler runs once per offline to online transition.
type ReconnectHandler func(ctx context.Context)

// Monitor is the single writer of the connectivity state.
type Monitor struct {
	probe          ports.ConnectivityProbe
	counter        QueueCounter
	probeInterval  time.Duration
	countsInterval time.Duration
	logger         *logging.Logger
	metrics        *metrics.Collector
	now            func() time.Time

	mu          sync.RWMutex
	state       offline.ConnectivityState
	counts      offline.QueueCounts
	subscribers map[int]func(State)
	nextSubID   int
	onReconnect ReconnectHandler
	baseCtx     context.Context

	refresh chan struct{}
	wg      sync.WaitGroup
}

// Option is a functional option for configuring the Monitor.
type Option func(*Monitor)

// WithProbeInterval sets how often the probe is polled. Zero disables polling.
func WithProbeInterval(d time.Duration) Option {
	return func(m *Monitor) {
		m.probeInterval = d
	}
}

// WithCountsInterval sets the pending count refresh period.
func WithCountsInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.countsInterval = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(m *Monitor) {
		m.logger = logging.OrNop(l)
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(c *metrics.Collector) Option {
	return func(m *Monitor) {
		m.metrics = c
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) {
		m.now = now
	}
}

// NewMonitor creates a monitor. A nil probe treats the network as always
// reachable; a nil counter leaves the pending counts at zero.
func NewMonitor(probe ports.ConnectivityProbe, counter QueueCounter, opts ...Option) *Monitor {
	m := &Monitor{
		probe:          probe,
		counter:        counter,
		countsInterval: DefaultCountsInterval,
		logger:         logging.Nop(),
		now:            time.Now,
		subscribers:    make(map[int]func(State)),
		baseCtx:        context.Background(),
		refresh:        make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// OnReconnect registers the handler run when the client comes back online.
func (m *Monitor) OnReconnect(h ReconnectHandler) {
	m.mu.Lock()
	m.onReconnect = h
	m.mu.Unlock()
}

// Start samples the probe for the initial state, loads the pending counts
// and starts the background loops. They stop when ctx is done.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	m.baseCtx = ctx
	m.mu.Unlock()

	snap := m.Sample(ctx)
	m.logger.InfoContext(ctx, "connectivity monitor started", "online", snap.IsOnline)

	m.wg.Add(1)
	go m.countsLoop(ctx)
	if m.probe != nil && m.probeInterval > 0 {
		m.wg.Add(1)
		go m.probeLoop(ctx)
	}
}

// Sample probes once and loads the pending counts. The result goes through
// the same transition as Observe, so LastOnlineAt only moves on a return to
// online and subscribers see a change, but the reconnect handler is never
// run. It serves the initial state in Start and one-shot CLI commands that
// drain on their own terms.
func (m *Monitor) Sample(ctx context.Context) State {
	online := m.probe == nil || m.probe.Check(ctx)

	m.mu.Lock()
	prev := m.state
	next, _ := prev.Transition(online, m.now())
	m.state = next
	subs := m.subscriberList()
	m.mu.Unlock()

	m.metrics.SetOnline(online)
	m.refreshCounts(ctx)
	snap := m.Snapshot()
	if prev.IsOnline != next.IsOnline {
		logging.LogConnectivityChanged(ctx, m.logger, online)
		for _, fn := range subs {
			fn(snap)
		}
	}
	return snap
}

// Wait blocks until the background loops have exited.
func (m *Monitor) Wait() {
	m.wg.Wait()
}

// Observe applies a connectivity signal. Repeated signals with the same
// value are ignored.
func (m *Monitor) Observe(online bool) {
	m.mu.Lock()
	prev := m.state
	next, reconnected := prev.Transition(online, m.now())
	m.state = next
	handler := m.onReconnect
	ctx := m.baseCtx
	snapshot := State{ConnectivityState: next, Pending: m.counts}
	subs := m.subscriberList()
	m.mu.Unlock()

	if prev.IsOnline == next.IsOnline {
		return
	}

	logging.LogConnectivityChanged(ctx, m.logger, online)
	m.metrics.SetOnline(online)
	for _, fn := range subs {
		fn(snapshot)
	}
	if reconnected && handler != nil {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			handler(ctx)
		}()
	}
}

// IsOnline reports the current connectivity.
func (m *Monitor) IsOnline() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.IsOnline
}

// State returns the current connectivity state.
func (m *Monitor) State() offline.ConnectivityState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Snapshot returns the connectivity state with the pending counts.
func (m *Monitor) Snapshot() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return State{ConnectivityState: m.state, Pending: m.counts}
}

// Subscribe registers fn for every state or count change and returns a
// function that removes it.
func (m *Monitor) Subscribe(fn func(State)) func() {
	m.mu.Lock()
	id := m.nextSubID
	m.nextSubID++
	m.subscribers[id] = fn
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subscribers, id)
			m.mu.Unlock()
		})
	}
}

// QueueChanged schedules an immediate refresh of the pending counts.
func (m *Monitor) QueueChanged() {
	select {
	case m.refresh <- struct{}{}:
	default:
	}
}

// RefreshCounts reloads the pending counts now.
func (m *Monitor) RefreshCounts(ctx context.Context) offline.QueueCounts {
	m.refreshCounts(ctx)
	return m.Snapshot().Pending
}

func (m *Monitor) refreshCounts(ctx context.Context) {
	if m.counter == nil {
		return
	}
	counts, err := m.counter.QueueCounts(ctx)
	if err != nil {
		m.logger.WarnContext(ctx, "failed to refresh queue counts", "error", err)
		return
	}

	m.mu.Lock()
	changed := counts != m.counts
	m.counts = counts
	snapshot := State{ConnectivityState: m.state, Pending: counts}
	subs := m.subscriberList()
	m.mu.Unlock()

	m.metrics.SetPending(counts.Requests, counts.SyncItems)
	if changed {
		for _, fn := range subs {
			fn(snapshot)
		}
	}
}

// subscriberList copies the subscribers. Must be called with mu held.
func (m *Monitor) subscriberList() []func(State) {
	subs := make([]func(State), 0, len(m.subscribers))
	for _, fn := range m.subscribers {
		subs = append(subs, fn)
	}
	return subs
}

func (m *Monitor) countsLoop(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.countsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.refreshCounts(ctx)
		case <-m.refresh:
			m.refreshCounts(ctx)
		}
	}
}

func (m *Monitor) probeLoop(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.probeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Observe(m.probe.Check(ctx))
		}
	}
}

var (
	_ ports.ConnectivityReader = (*Monitor)(nil)
	_ ports.QueueObserver      = (*Monitor)(nil)
)
