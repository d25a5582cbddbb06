// Package gateway implements the caching and fallback layer that every
// outbound HTTP call of the client passes through.
package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jbctechsolutions/clinicsync/internal/application/ports"
	"github.com/jbctechsolutions/clinicsync/internal/domain/offline"
	"github.com/jbctechsolutions/clinicsync/internal/infrastructure/logging"
	"github.com/jbctechsolutions/clinicsync/internal/infrastructure/metrics"
	"github.com/jbctechsolutions/clinicsync/internal/infrastructure/tracing"
)

// Headers read or written by the gateway.
const (
	HeaderOfflineCache   = "X-Offline-Cache"
	HeaderIdempotencyKey = "Idempotency-Key"
)

// Config holds the gateway policy settings.
type Config struct {
	BaseURL          string // origin that manifest entries resolve against
	APIPrefix        string
	TenantHeader     string
	VaryHeaders      []string
	StaticGeneration string
	APIGeneration    string
	Manifest         []string
	OfflinePage      string
}

// Gateway is an http.RoundTripper that caches successful reads and answers
// from the cache, a synthetic fallback or the offline page when the network fails.
type Gateway struct {
	next     http.RoundTripper
	cache    ports.ResponseCache
	queue    ports.RequestQueue
	cfg      Config
	base     *url.URL
	observer ports.QueueObserver
	logger   *logging.Logger
	tracer   *tracing.Tracer
	metrics  *metrics.Collector
	now      func() time.Time

	mu       sync.RWMutex
	manifest []string
	ready    atomic.Bool
}

// Option is a functional option for configuring the Gateway.
type Option func(*Gateway)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(g *Gateway) {
		g.logger = logging.OrNop(l)
	}
}

// WithTracer sets the tracer used for gateway spans.
func WithTracer(t *tracing.Tracer) Option {
	return func(g *Gateway) {
		if t != nil {
			g.tracer = t
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(c *metrics.Collector) Option {
	return func(g *Gateway) {
		g.metrics = c
	}
}

// WithQueueObserver registers the observer told about queue changes.
func WithQueueObserver(o ports.QueueObserver) Option {
	return func(g *Gateway) {
		g.observer = o
	}
}

// WithClock sets the time source for fallback timestamps.
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) {
		g.now = now
	}
}

// New creates a gateway that sends requests through next. A nil queue
// disables queuing of failed mutations.
func New(next http.RoundTripper, cache ports.ResponseCache, queue ports.RequestQueue, cfg Config, opts ...Option) *Gateway {
	if next == nil {
		next = http.DefaultTransport
	}
	if cfg.APIPrefix == "" {
		cfg.APIPrefix = "/api/"
	}
	g := &Gateway{
		next:     next,
		cache:    cache,
		queue:    queue,
		cfg:      cfg,
		logger:   logging.Nop(),
		tracer:   tracing.Default(),
		now:      time.Now,
		manifest: slices.Clone(cfg.Manifest),
	}
	if cfg.BaseURL != "" {
		if u, err := url.Parse(cfg.BaseURL); err == nil {
			g.base = u
		}
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Client returns an http.Client that routes through the gateway.
func (g *Gateway) Client() *http.Client {
	return &http.Client{Transport: g}
}

// RoundTrip implements http.RoundTripper.
func (g *Gateway) RoundTrip(req *http.Request) (*http.Response, error) {
	class := Classify(req, g.cfg.APIPrefix)
	ctx, span := g.tracer.StartGatewaySpan(req.Context(), req.Method, req.URL.String(), string(class))

	out := req.Clone(ctx)
	tracing.InjectHeaders(ctx, out.Header)

	var (
		resp    *http.Response
		outcome string
		err     error
	)
	switch class {
	case ClassAPI:
		resp, outcome, err = g.roundTripAPI(ctx, out)
	case ClassStatic:
		resp, outcome, err = g.roundTripStatic(ctx, out)
	default:
		resp, err = g.next.RoundTrip(out)
		outcome = metrics.OutcomeNetwork
	}
	if err != nil {
		outcome = metrics.OutcomeError
	}

	g.metrics.GatewayRequest(string(class), outcome)
	span.SetOutcome(outcome)
	if err != nil {
		span.EndWithError(err)
		return nil, err
	}
	span.SetStatusCode(resp.StatusCode)
	span.End()
	return resp, nil
}

func (g *Gateway) roundTripAPI(ctx context.Context, req *http.Request) (*http.Response, string, error) {
	body, err := bufferRequestBody(req)
	if err != nil {
		return nil, "", err
	}
	key := Identity(req, g.cfg.TenantHeader, g.cfg.VaryHeaders)

	resp, err := g.next.RoundTrip(req)
	if err == nil && isRead(req.Method) && isSuccess(resp.StatusCode) {
		err = g.keep(ctx, g.cfg.APIGeneration, key, req, resp)
	}
	if err == nil {
		return resp, metrics.OutcomeNetwork, nil
	}
	if callerCanceled(ctx) {
		return nil, "", err
	}

	if offline.IsMutatingMethod(req.Method) {
		g.enqueue(ctx, req, body)
		return g.fallback(ctx, req, err), metrics.OutcomeFallback, nil
	}
	if cached, ok := g.cache.Get(ctx, g.cfg.APIGeneration, key); ok {
		logging.LogCacheHit(ctx, g.logger, string(ClassAPI), req.URL.String())
		return cachedResponse(req, cached), metrics.OutcomeCache, nil
	}
	logging.LogCacheMiss(ctx, g.logger, string(ClassAPI), req.URL.String())
	return g.fallback(ctx, req, err), metrics.OutcomeFallback, nil
}

func (g *Gateway) roundTripStatic(ctx context.Context, req *http.Request) (*http.Response, string, error) {
	key := Identity(req, "", nil)

	resp, err := g.next.RoundTrip(req)
	if err == nil && isSuccess(resp.StatusCode) {
		err = g.keep(ctx, g.cfg.StaticGeneration, key, req, resp)
	}
	if err == nil {
		return resp, metrics.OutcomeNetwork, nil
	}
	if callerCanceled(ctx) {
		return nil, "", err
	}

	if cached, ok := g.cache.Get(ctx, g.cfg.StaticGeneration, key); ok {
		logging.LogCacheHit(ctx, g.logger, string(ClassStatic), req.URL.String())
		return cachedResponse(req, cached), metrics.OutcomeCache, nil
	}
	if g.cfg.OfflinePage != "" && IsNavigation(req) {
		if pageReq, perr := g.assetRequest(ctx, g.cfg.OfflinePage, req.URL); perr == nil {
			if page, ok := g.cache.Get(ctx, g.cfg.StaticGeneration, Identity(pageReq, "", nil)); ok {
				g.logger.InfoContext(ctx, "serving offline page", "url", req.URL.String())
				return cachedResponse(req, page), metrics.OutcomeOfflinePage, nil
			}
		}
	}
	logging.LogCacheMiss(ctx, g.logger, string(ClassStatic), req.URL.String())
	return nil, "", err
}

// keep buffers resp's body, stores a snapshot and leaves resp readable.
// Only a body read failure is returned; cache write failures are logged.
func (g *Gateway) keep(ctx context.Context, generation, key string, req *http.Request, resp *http.Response) error {
	body, err := bufferResponseBody(resp)
	if err != nil {
		return err
	}
	if err := g.put(ctx, generation, key, req, resp, body); err != nil {
		g.logger.WarnContext(ctx, "failed to cache response", "url", req.URL.String(), "error", err)
	}
	return nil
}

func (g *Gateway) put(ctx context.Context, generation, key string, req *http.Request, resp *http.Response, body []byte) error {
	return g.cache.Put(ctx, &offline.CachedResponse{
		Generation: generation,
		Key:        key,
		Method:     req.Method,
		URL:        req.URL.String(),
		Status:     resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       body,
		StoredAt:   g.now(),
	})
}

func (g *Gateway) enqueue(ctx context.Context, req *http.Request, body []byte) {
	if g.queue == nil {
		return
	}
	q := &offline.QueuedRequest{
		TenantID: req.Header.Get(g.cfg.TenantHeader),
		Method:   req.Method,
		URL:      req.URL.String(),
		Header:   storedHeader(req.Header),
		Body:     body,
		DedupKey: req.Header.Get(HeaderIdempotencyKey),
	}
	id, err := g.queue.QueueRequest(context.WithoutCancel(ctx), q)
	if err != nil {
		g.logger.ErrorContext(ctx, "failed to queue request", "method", req.Method, "url", q.URL, "error", err)
		return
	}
	logging.LogRequestQueued(ctx, g.logger, id, req.Method, q.URL)
	g.metrics.RequestQueued()
	if g.observer != nil {
		g.observer.QueueChanged()
	}
}

func (g *Gateway) fallback(ctx context.Context, req *http.Request, cause error) *http.Response {
	logging.LogFallbackServed(ctx, g.logger, req.Method, req.URL.String(), cause)
	header := http.Header{}
	header.Set("Content-Type", "application/json")
	return newResponse(req, offline.FallbackStatus, header, offline.NewFallbackBody(req.Method, g.now()).Marshal())
}

// assetRequest builds a GET for a manifest path, resolved against the
// configured base URL or ref when no base is set.
func (g *Gateway) assetRequest(ctx context.Context, path string, ref *url.URL) (*http.Request, error) {
	base := g.base
	if base == nil {
		base = ref
	}
	p, err := url.Parse(path)
	if err != nil {
		return nil, fmt.Errorf("invalid asset path %q: %w", path, err)
	}
	target := p
	if base != nil {
		target = base.ResolveReference(p)
	}
	return http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
}

func cachedResponse(req *http.Request, c *offline.CachedResponse) *http.Response {
	header := c.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	header.Set(HeaderOfflineCache, "hit")
	return newResponse(req, c.Status, header, c.Body)
}

func newResponse(req *http.Request, status int, header http.Header, body []byte) *http.Response {
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", status, http.StatusText(status)),
		StatusCode:    status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}
}

func bufferRequestBody(req *http.Request) ([]byte, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	body, err := io.ReadAll(req.Body)
	req.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("reading request body: %w", err)
	}
	req.Body = io.NopCloser(bytes.NewReader(body))
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}
	req.ContentLength = int64(len(body))
	return body, nil
}

func bufferResponseBody(resp *http.Response) ([]byte, error) {
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}

// storedHeader drops per-attempt headers before a request is persisted.
func storedHeader(h http.Header) http.Header {
	out := h.Clone()
	out.Del("Traceparent")
	out.Del("Tracestate")
	return out
}

func callerCanceled(ctx context.Context) bool {
	return errors.Is(ctx.Err(), context.Canceled)
}

func isRead(method string) bool {
	return method == http.MethodGet || method == http.MethodHead
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}

var _ http.RoundTripper = (*Gateway)(nil)
