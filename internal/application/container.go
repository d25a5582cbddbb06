// Package application provides application-level services and dependency injection.
package application

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jbctechsolutions/clinicsync/internal/adapters/cache"
	"github.com/jbctechsolutions/clinicsync/internal/adapters/store/memory"
	"github.com/jbctechsolutions/clinicsync/internal/adapters/store/sqlite"
	"github.com/jbctechsolutions/clinicsync/internal/application/connectivity"
	"github.com/jbctechsolutions/clinicsync/internal/application/gateway"
	appOffline "github.com/jbctechsolutions/clinicsync/internal/application/offline"
	"github.com/jbctechsolutions/clinicsync/internal/application/ports"
	"github.com/jbctechsolutions/clinicsync/internal/application/syncqueue"
	"github.com/jbctechsolutions/clinicsync/internal/domain/offline"
	"github.com/jbctechsolutions/clinicsync/internal/infrastructure/config"
	"github.com/jbctechsolutions/clinicsync/internal/infrastructure/crypto"
	"github.com/jbctechsolutions/clinicsync/internal/infrastructure/logging"
	"github.com/jbctechsolutions/clinicsync/internal/infrastructure/manifest"
	"github.com/jbctechsolutions/clinicsync/internal/infrastructure/metrics"
	"github.com/jbctechsolutions/clinicsync/internal/infrastructure/tracing"
)

// Container holds all application dependencies and provides a central
// point for dependency injection. It manages the lifecycle of services
// and ensures proper initialization order.
type Container struct {
	config  *config.Config
	verbose bool // Override log level to info when true

	store     ports.LocalStore
	transport http.RoundTripper // raw network, never the gateway

	memoryCache    *cache.MemoryCache
	storeCache     *cache.StoreCache
	compositeCache *cache.CompositeCache

	monitor     *connectivity.Monitor
	gateway     *gateway.Gateway
	reconciler  *syncqueue.RESTReconciler
	syncManager *syncqueue.Manager
	facade      *appOffline.Facade
	watcher     *manifest.Watcher

	logger   *logging.Logger
	tracer   *tracing.Tracer
	metrics  *metrics.Collector
	registry *prometheus.Registry

	// Background work started by Start.
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option customizes container construction.
type Option func(*Container)

// WithStore injects an already initialized store instead of opening the configured one.
func WithStore(s ports.LocalStore) Option {
	return func(c *Container) {
		c.store = s
	}
}

// WithTransport sets the raw transport used to reach the backend.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Container) {
		c.transport = rt
	}
}

// NewContainer creates a new dependency injection container with all services
// initialized based on the provided configuration.
func NewContainer(cfg *config.Config, verbose bool, opts ...Option) (*Container, error) {
	if cfg == nil {
		cfg = config.NewDefaultConfig()
	}

	c := &Container{
		config:  cfg,
		verbose: verbose,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.transport == nil {
		c.transport = http.DefaultTransport
	}

	if err := c.initObservability(); err != nil {
		return nil, fmt.Errorf("failed to initialize observability: %w", err)
	}

	if err := c.initStore(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	c.initCache()

	if err := c.initServices(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	return c, nil
}

// initObservability initializes logging, tracing and metrics.
func (c *Container) initObservability() error {
	ctx := context.Background()

	logLevel := logging.LevelInfo // default

	// Verbose never lowers the level below info
	switch c.config.Logging.Level {
	case "debug":
		logLevel = logging.LevelDebug
	case "warn":
		if !c.verbose {
			logLevel = logging.LevelWarn
		}
	case "error":
		if !c.verbose {
			logLevel = logging.LevelError
		}
	}

	logFormat := logging.FormatText
	if c.config.Logging.Format == "json" {
		logFormat = logging.FormatJSON
	}

	logCfg := logging.DefaultConfig()
	logCfg.Level = logLevel
	logCfg.Format = logFormat
	c.logger = logging.New(logCfg)

	if c.config.Observability.Tracing.Enabled {
		tracingCfg := tracing.Config{
			Enabled:      true,
			ExporterType: tracing.ExporterType(c.config.Observability.Tracing.ExporterType),
			OTLPEndpoint: c.config.Observability.Tracing.OTLPEndpoint,
			ServiceName:  c.config.Observability.Tracing.ServiceName,
			Environment:  "production",
			SampleRate:   c.config.Observability.Tracing.SampleRate,
		}
		tracer, err := tracing.New(ctx, tracingCfg)
		if err != nil {
			return fmt.Errorf("failed to create tracer: %w", err)
		}
		c.tracer = tracer
	} else {
		c.tracer = tracing.Default()
	}

	if c.config.Observability.Metrics.Enabled {
		c.metrics = metrics.NewCollector()
		c.registry = metrics.NewRegistry(c.metrics)
	}

	return nil
}

// initStore opens the local store and clears records past their max age.
func (c *Container) initStore() error {
	ctx := context.Background()

	if c.store == nil {
		switch c.config.Store.Driver {
		case "memory":
			c.store = memory.NewStore(memory.WithMaxRecords(c.config.Store.MaxRecords))
		default:
			path, err := config.ExpandPath(c.config.Store.Path)
			if err != nil {
				return err
			}
			opts := []sqlite.Option{sqlite.WithMaxRecords(c.config.Store.MaxRecords)}
			if c.config.Store.Encrypt {
				cipher, err := c.storeCipher()
				if err != nil {
					return err
				}
				opts = append(opts, sqlite.WithCipher(cipher))
			}
			s, err := sqlite.NewStore(path, opts...)
			if err != nil {
				return err
			}
			c.store = s
		}
		if err := c.store.Init(ctx); err != nil {
			return err
		}
	}

	if c.config.Store.MaxAge > 0 {
		removed, err := c.store.ClearOldData(ctx, c.config.Store.MaxAge)
		if err != nil {
			c.logger.Warn("failed to clear old records", "error", err)
		} else if removed > 0 {
			c.logger.Info("cleared old records", "removed", removed)
		}
	}
	return nil
}

// storeCipher loads the payload key, creating it on first use.
func (c *Container) storeCipher() (*crypto.Cipher, error) {
	keyPath, err := config.ExpandPath(c.config.Store.KeyFile)
	if err != nil {
		return nil, err
	}
	key, err := crypto.LoadOrCreateKey(keyPath)
	if err != nil {
		return nil, err
	}
	return crypto.NewCipher(key)
}

// initCache initializes the two response cache tiers.
func (c *Container) initCache() {
	// L1 - fast, bounded by bytes
	c.memoryCache = cache.NewMemoryCache(c.config.Gateway.MemoryCacheSize)

	// L2 - persisted in the local store
	c.storeCache = cache.NewStoreCache(c.store, c.logger)

	c.compositeCache = cache.NewCompositeCache(c.memoryCache, c.storeCache)
}

// initServices wires the monitor, gateway, sync manager and facade.
func (c *Container) initServices() error {
	cfg := c.config

	manifestPaths, err := c.resolveManifest()
	if err != nil {
		return fmt.Errorf("failed to load manifest: %w", err)
	}

	rawClient := &http.Client{Transport: c.transport, Timeout: cfg.Backend.Timeout}

	c.monitor = connectivity.NewMonitor(
		connectivity.NewHTTPProbe(rawClient, cfg.HealthURL(), cfg.Connectivity.ProbeTimeout),
		c.store,
		connectivity.WithProbeInterval(cfg.Connectivity.ProbeInterval),
		connectivity.WithCountsInterval(cfg.Connectivity.CountsInterval),
		connectivity.WithLogger(c.logger),
		connectivity.WithMetrics(c.metrics),
	)

	c.gateway = gateway.New(c.transport, c.compositeCache, c.store, gateway.Config{
		BaseURL:          cfg.Backend.URL,
		APIPrefix:        cfg.Backend.APIPrefix,
		TenantHeader:     cfg.Backend.TenantHeader,
		VaryHeaders:      cfg.Gateway.VaryHeaders,
		StaticGeneration: cfg.Gateway.StaticGeneration,
		APIGeneration:    cfg.Gateway.APIGeneration,
		Manifest:         manifestPaths,
		OfflinePage:      cfg.Gateway.OfflinePage,
	},
		gateway.WithLogger(c.logger),
		gateway.WithTracer(c.tracer),
		gateway.WithMetrics(c.metrics),
		gateway.WithQueueObserver(c.monitor),
	)

	c.reconciler = syncqueue.NewRESTReconciler(rawClient, cfg.Backend.URL, cfg.Backend.APIPrefix, cfg.Backend.TenantHeader)

	c.syncManager = syncqueue.NewManager(c.store, c.gateway, c.reconciler,
		syncqueue.WithConnectivity(c.monitor),
		syncqueue.WithQueueObserver(c.monitor),
		syncqueue.WithRetryPolicy(offline.RetryPolicy{
			MaxAttempts:     cfg.Sync.MaxAttempts,
			InitialInterval: cfg.Sync.InitialInterval,
			MaxInterval:     cfg.Sync.MaxInterval,
			Multiplier:      cfg.Sync.Multiplier,
		}),
		syncqueue.WithConcurrency(cfg.Sync.Concurrency),
		syncqueue.WithItemTimeout(cfg.Sync.ItemTimeout),
		syncqueue.WithLogger(c.logger),
		syncqueue.WithTracer(c.tracer),
		syncqueue.WithMetrics(c.metrics),
	)

	c.monitor.OnReconnect(func(ctx context.Context) {
		c.drain(ctx, "reconnect")
	})

	c.facade = appOffline.NewFacade(c.store, c.monitor,
		appOffline.WithQueueObserver(c.monitor),
		appOffline.WithLogger(c.logger),
	)

	return nil
}

func (c *Container) resolveManifest() ([]string, error) {
	if c.config.Gateway.ManifestFile == "" {
		return c.config.Gateway.Manifest, nil
	}
	path, err := config.ExpandPath(c.config.Gateway.ManifestFile)
	if err != nil {
		return nil, err
	}
	return config.LoadManifest(path)
}

// drain runs a forced drain and logs its outcome.
func (c *Container) drain(ctx context.Context, reason string) {
	report, err := c.syncManager.Drain(ctx, syncqueue.DrainOptions{Force: true})
	if err != nil {
		c.logger.WarnContext(ctx, "drain failed", "reason", reason, "error", err)
		return
	}
	if report.Skipped || report.Offline {
		c.logger.DebugContext(ctx, "drain not run", "reason", reason, "skipped", report.Skipped, "offline", report.Offline)
	}
}

// Start brings the offline core up for a long-running process: it samples
// connectivity, installs and activates the gateway, drains once when online,
// and starts the scheduled drain and manifest watcher. Everything stops on Close.
func (c *Container) Start(ctx context.Context) error {
	if c.cancel != nil {
		return errors.New("container already started")
	}
	ctx, c.cancel = context.WithCancel(ctx)

	c.monitor.Start(ctx)

	report, err := c.gateway.Install(ctx)
	if err != nil {
		return fmt.Errorf("install: %w", err)
	}
	if !report.Complete() {
		c.logger.Warn("static manifest partially cached", "cached", len(report.Cached), "failed", len(report.Failed))
	}
	if purged, err := c.gateway.Activate(ctx); err != nil {
		c.logger.Warn("failed to purge old cache generations", "error", err)
	} else if purged > 0 {
		c.logger.Info("purged old cache generations", "removed", purged)
	}

	if c.monitor.IsOnline() {
		c.goBackground(func() { c.drain(ctx, "startup") })
	}

	if interval := c.config.Sync.Interval; interval > 0 {
		c.goBackground(func() { _ = c.syncManager.Run(ctx, interval) })
	}

	if c.config.Gateway.ManifestFile != "" {
		if err := c.startManifestWatcher(ctx); err != nil {
			c.logger.Warn("manifest hot reload disabled", "error", err)
		}
	}
	return nil
}

func (c *Container) goBackground(fn func()) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		fn()
	}()
}

// startManifestWatcher re-runs Install whenever the manifest file changes.
func (c *Container) startManifestWatcher(ctx context.Context) error {
	path, err := config.ExpandPath(c.config.Gateway.ManifestFile)
	if err != nil {
		return err
	}
	w, err := manifest.NewWatcher(path, c.ReloadManifest, manifest.WithLogger(c.logger))
	if err != nil {
		return err
	}
	c.watcher = w
	c.goBackground(func() {
		if err := w.Run(ctx); err != nil {
			c.logger.Warn("manifest watcher stopped", "error", err)
		}
	})
	return nil
}

// ReloadManifest reads the manifest file at path and pre-caches its entries.
// A file that fails to parse leaves the current manifest in place.
func (c *Container) ReloadManifest(ctx context.Context, path string) {
	paths, err := config.LoadManifest(path)
	if err != nil {
		c.logger.WarnContext(ctx, "manifest reload failed", "path", path, "error", err)
		return
	}
	c.gateway.SetManifest(paths)
	report, err := c.gateway.Install(ctx)
	if err != nil {
		c.logger.WarnContext(ctx, "manifest install interrupted", "error", err)
		return
	}
	c.logger.InfoContext(ctx, "manifest reloaded", "path", path, "cached", len(report.Cached), "failed", len(report.Failed))
}

// Close releases all resources held by the container.
func (c *Container) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if c.cancel != nil {
		c.cancel()
		if c.watcher != nil {
			_ = c.watcher.Close()
		}
		c.wg.Wait()
		c.monitor.Wait()
	}

	if c.tracer != nil {
		_ = c.tracer.Shutdown(ctx)
	}

	if c.store != nil {
		return c.store.Close()
	}
	return nil
}

// Config returns the application configuration.
func (c *Container) Config() *config.Config {
	return c.config
}

// Store returns the local store.
func (c *Container) Store() ports.LocalStore {
	return c.store
}

// MemoryCache returns the in-memory response tier (L1).
func (c *Container) MemoryCache() *cache.MemoryCache {
	return c.memoryCache
}

// ResponseCache returns the composite response cache (L1 + L2).
func (c *Container) ResponseCache() *cache.CompositeCache {
	return c.compositeCache
}

// Monitor returns the connectivity monitor.
func (c *Container) Monitor() *connectivity.Monitor {
	return c.monitor
}

// Gateway returns the caching gateway.
func (c *Container) Gateway() *gateway.Gateway {
	return c.gateway
}

// Reconciler returns the REST client used for reconciles and façade fetches.
func (c *Container) Reconciler() *syncqueue.RESTReconciler {
	return c.reconciler
}

// SyncManager returns the sync queue manager.
func (c *Container) SyncManager() *syncqueue.Manager {
	return c.syncManager
}

// Facade returns the offline data facade.
func (c *Container) Facade() *appOffline.Facade {
	return c.facade
}

// Logger returns the structured logger.
func (c *Container) Logger() *logging.Logger {
	return c.logger
}

// Tracer returns the OpenTelemetry tracer.
func (c *Container) Tracer() *tracing.Tracer {
	return c.tracer
}

// MetricsRegistry returns the Prometheus registry.
// Returns nil if metrics are not enabled.
func (c *Container) MetricsRegistry() *prometheus.Registry {
	return c.registry
}
