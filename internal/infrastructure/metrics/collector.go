// Package metrics exposes Prometheus metrics for the offline core.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "clinicsync"

// Gateway outcomes.
const (
	OutcomeNetwork     = "network"
	OutcomeCache       = "cache"
	OutcomeFallback    = "fallback"
	OutcomeOfflinePage = "offline_page"
	OutcomeError       = "error"
)

// Collector is a prometheus.Collector for gateway, queue and connectivity metrics.
// A nil *Collector is valid and records nothing.
type Collector struct {
	gatewayRequests *prometheus.CounterVec
	queuedRequests  prometheus.Counter
	drainItems      *prometheus.CounterVec
	drainDuration   prometheus.Histogram
	pendingItems    *prometheus.GaugeVec
	online          prometheus.Gauge
}

// NewCollector returns a new Collector.
func NewCollector() *Collector {
	return &Collector{
		gatewayRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "gateway_requests_total",
				Help:      "Requests handled by the cache gateway by class and outcome.",
			}, []string{"class", "outcome"},
		),
		queuedRequests: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "gateway_queued_requests_total",
				Help:      "Mutations queued for later delivery.",
			},
		),
		drainItems: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "drain_items_total",
				Help:      "Queued items processed by drains by kind and result.",
			}, []string{"kind", "result"},
		),
		drainDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "drain_duration_seconds",
				Help:      "Duration of drain cycles.",
				Buckets:   []float64{0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
		),
		pendingItems: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "pending_items",
				Help:      "Items waiting in the queues.",
			}, []string{"kind"},
		),
		online: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "online",
				Help:      "1 when the backend is reachable.",
			},
		),
	}
}

// Describe is part of the prometheus.Collector interface.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.gatewayRequests.Describe(ch)
	c.queuedRequests.Describe(ch)
	c.drainItems.Describe(ch)
	c.drainDuration.Describe(ch)
	c.pendingItems.Describe(ch)
	c.online.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.gatewayRequests.Collect(ch)
	c.queuedRequests.Collect(ch)
	c.drainItems.Collect(ch)
	c.drainDuration.Collect(ch)
	c.pendingItems.Collect(ch)
	c.online.Collect(ch)
}

// GatewayRequest counts one gateway request.
func (c *Collector) GatewayRequest(class, outcome string) {
	if c == nil {
		return
	}
	c.gatewayRequests.WithLabelValues(class, outcome).Inc()
}

// RequestQueued counts one queued mutation.
func (c *Collector) RequestQueued() {
	if c == nil {
		return
	}
	c.queuedRequests.Inc()
}

// DrainItem counts one processed queue item. result is delivered, failed or dead.
func (c *Collector) DrainItem(kind, result string) {
	if c == nil {
		return
	}
	c.drainItems.WithLabelValues(kind, result).Inc()
}

// DrainDuration observes a drain cycle duration in seconds.
func (c *Collector) DrainDuration(seconds float64) {
	if c == nil {
		return
	}
	c.drainDuration.Observe(seconds)
}

// SetPending records the pending queue counts.
func (c *Collector) SetPending(requests, syncItems int) {
	if c == nil {
		return
	}
	c.pendingItems.WithLabelValues("request").Set(float64(requests))
	c.pendingItems.WithLabelValues("sync_item").Set(float64(syncItems))
}

// SetOnline records connectivity.
func (c *Collector) SetOnline(online bool) {
	if c == nil {
		return
	}
	if online {
		c.online.Set(1)
	} else {
		c.online.Set(0)
	}
}

// NewRegistry returns a private registry holding c and the Go runtime collectors.
func NewRegistry(c *Collector) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(c)
	reg.MustRegister(prometheus.NewGoCollector())
	return reg
}

// Handler serves the registry in the Prometheus text format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
