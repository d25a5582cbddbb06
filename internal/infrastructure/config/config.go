// Package config provides configuration structs and utilities for the clinicsync application.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config represents the root configuration for the clinicsync application.
type Config struct {
	Backend       BackendConfig       `yaml:"backend"`
	Store         StoreConfig         `yaml:"store"`
	Gateway       GatewayConfig       `yaml:"gateway"`
	Sync          SyncConfig          `yaml:"sync"`
	Connectivity  ConnectivityConfig  `yaml:"connectivity"`
	Server        ServerConfig        `yaml:"server"`
	Logging       LoggingConfig       `yaml:"logging"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// BackendConfig describes the REST backend the client talks to.
type BackendConfig struct {
	URL          string        `yaml:"url"`
	APIPrefix    string        `yaml:"api_prefix"`    // path prefix that marks API traffic
	TenantHeader string        `yaml:"tenant_header"` // header carrying the tenant id
	Timeout      time.Duration `yaml:"timeout"`
}

// StoreConfig holds configuration for the persistent local store.
type StoreConfig struct {
	Driver     string        `yaml:"driver"` // sqlite, memory
	Path       string        `yaml:"path"`
	MaxRecords int           `yaml:"max_records"` // 0 disables the cap
	MaxAge     time.Duration `yaml:"max_age"`     // records older than this are cleared on startup
	Encrypt    bool          `yaml:"encrypt"`     // seal payloads with AES-256-GCM (sqlite only)
	KeyFile    string        `yaml:"key_file"`    // created on first use when missing
}

// GatewayConfig holds configuration for the caching gateway.
type GatewayConfig struct {
	StaticGeneration string   `yaml:"static_generation"`
	APIGeneration    string   `yaml:"api_generation"`
	VaryHeaders      []string `yaml:"vary_headers"`
	Manifest         []string `yaml:"manifest"`      // static paths pre-cached on install
	ManifestFile     string   `yaml:"manifest_file"` // optional YAML list, watched for changes
	OfflinePage      string   `yaml:"offline_page"`
	MemoryCacheSize  int64    `yaml:"memory_cache_size"` // bytes held in the hot tier
}

// SyncConfig holds configuration for draining the sync queues.
type SyncConfig struct {
	Interval        time.Duration `yaml:"interval"` // scheduled drain period; 0 disables
	Concurrency     int           `yaml:"concurrency"`
	ItemTimeout     time.Duration `yaml:"item_timeout"`
	MaxAttempts     int           `yaml:"max_attempts"` // <= 0 retries forever
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
	Multiplier      float64       `yaml:"multiplier"`
}

// ConnectivityConfig holds configuration for the connectivity monitor.
type ConnectivityConfig struct {
	HealthURL      string        `yaml:"health_url"` // defaults to <backend>/<api_prefix>health
	ProbeInterval  time.Duration `yaml:"probe_interval"`
	ProbeTimeout   time.Duration `yaml:"probe_timeout"`
	CountsInterval time.Duration `yaml:"counts_interval"`
}

// ServerConfig holds configuration for the local proxy.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// LoggingConfig holds configuration for application logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// ObservabilityConfig holds configuration for metrics and tracing.
type ObservabilityConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// MetricsConfig holds configuration for metrics collection.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"` // served by the local proxy
}

// TracingConfig holds configuration for distributed tracing.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`       // Whether tracing is enabled
	ExporterType string  `yaml:"exporter_type"` // none, stdout, otlp
	OTLPEndpoint string  `yaml:"otlp_endpoint"` // OTLP collector endpoint
	SampleRate   float64 `yaml:"sample_rate"`   // Sampling rate (0.0 to 1.0)
	ServiceName  string  `yaml:"service_name"`  // Service name for traces
}

// Default configuration values.
const (
	DefaultBackendURL    = "http://localhost:8080"
	DefaultAPIPrefix     = "/api/"
	DefaultTenantHeader  = "X-Tenant-ID"
	DefaultTimeout       = 30 * time.Second
	DefaultLogLevel      = "info"
	DefaultLogFormat     = "text"
	DefaultStoreDriver   = "sqlite"
	DefaultStorePath     = "~/.clinicsync/clinicsync.db"
	DefaultKeyFile       = "~/.clinicsync/store.key"
	DefaultMaxRecords    = 50000
	DefaultMaxAge        = 30 * 24 * time.Hour
	DefaultServerAddr    = "127.0.0.1:8787"
	DefaultOfflinePage   = "/offline.html"
	DefaultMetricsPath   = "/_offline/metrics"
	DefaultMemoryCache   = 32 * 1024 * 1024
	DefaultStaticGen     = "clinicsync-static-v1"
	DefaultAPIGen        = "clinicsync-api-v1"
	DefaultSyncInterval  = 5 * time.Minute
	DefaultConcurrency   = 4
	DefaultItemTimeout   = 30 * time.Second
	DefaultMaxAttempts   = 8
	DefaultInitialRetry  = time.Minute
	DefaultMaxRetry      = time.Hour
	DefaultMultiplier    = 2.0
	DefaultProbeInterval = 15 * time.Second
	DefaultProbeTimeout  = 5 * time.Second
	DefaultCountsPeriod  = 30 * time.Second
)

// DefaultManifest lists the static assets pre-cached on install.
var DefaultManifest = []string{
	"/",
	DefaultOfflinePage,
	"/images/logo.png",
	"/images/icon-192x192.png",
	"/images/icon-512x512.png",
}

// DefaultVaryHeaders are the request headers that partition cached responses.
var DefaultVaryHeaders = []string{"Accept", "Accept-Language"}

// Valid values for enumerated fields.
var (
	validLogLevels           = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	validLogFormats          = map[string]bool{"json": true, "text": true}
	validStoreDrivers        = map[string]bool{"sqlite": true, "memory": true}
	validTracingExporterType = map[string]bool{"none": true, "stdout": true, "otlp": true}
)

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		Backend: BackendConfig{
			URL:          DefaultBackendURL,
			APIPrefix:    DefaultAPIPrefix,
			TenantHeader: DefaultTenantHeader,
			Timeout:      DefaultTimeout,
		},
		Store: StoreConfig{
			Driver:     DefaultStoreDriver,
			Path:       DefaultStorePath,
			MaxRecords: DefaultMaxRecords,
			MaxAge:     DefaultMaxAge,
			KeyFile:    DefaultKeyFile,
		},
		Gateway: GatewayConfig{
			StaticGeneration: DefaultStaticGen,
			APIGeneration:    DefaultAPIGen,
			VaryHeaders:      append([]string(nil), DefaultVaryHeaders...),
			Manifest:         append([]string(nil), DefaultManifest...),
			OfflinePage:      DefaultOfflinePage,
			MemoryCacheSize:  DefaultMemoryCache,
		},
		Sync: SyncConfig{
			Interval:        DefaultSyncInterval,
			Concurrency:     DefaultConcurrency,
			ItemTimeout:     DefaultItemTimeout,
			MaxAttempts:     DefaultMaxAttempts,
			InitialInterval: DefaultInitialRetry,
			MaxInterval:     DefaultMaxRetry,
			Multiplier:      DefaultMultiplier,
		},
		Connectivity: ConnectivityConfig{
			ProbeInterval:  DefaultProbeInterval,
			ProbeTimeout:   DefaultProbeTimeout,
			CountsInterval: DefaultCountsPeriod,
		},
		Server: ServerConfig{
			Addr: DefaultServerAddr,
		},
		Logging: LoggingConfig{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    DefaultMetricsPath,
			},
			Tracing: TracingConfig{
				Enabled:      false,
				ExporterType: "none",
				SampleRate:   1.0,
				ServiceName:  "clinicsync",
			},
		},
	}
}

// Validate checks if the configuration is valid and returns an error if not.
func (c *Config) Validate() error {
	var errs []error

	if err := c.Backend.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("backend: %w", err))
	}
	if err := c.Store.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("store: %w", err))
	}
	if err := c.Gateway.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("gateway: %w", err))
	}
	if err := c.Sync.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("sync: %w", err))
	}
	if err := c.Connectivity.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("connectivity: %w", err))
	}
	if err := c.Server.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("server: %w", err))
	}
	if err := c.Logging.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("logging: %w", err))
	}
	if err := c.Observability.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("observability: %w", err))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// HealthURL returns the probe target, derived from the backend when unset.
func (c *Config) HealthURL() string {
	if c.Connectivity.HealthURL != "" {
		return c.Connectivity.HealthURL
	}
	return strings.TrimRight(c.Backend.URL, "/") + "/" + strings.Trim(c.Backend.APIPrefix, "/") + "/health"
}

// Validate checks if the BackendConfig is valid.
func (b *BackendConfig) Validate() error {
	var errs []error

	if b.URL == "" {
		errs = append(errs, errors.New("url is required"))
	} else if err := validateURL(b.URL); err != nil {
		errs = append(errs, fmt.Errorf("invalid url: %w", err))
	}
	if !strings.HasPrefix(b.APIPrefix, "/") {
		errs = append(errs, fmt.Errorf("api_prefix %q must start with /", b.APIPrefix))
	}
	if b.TenantHeader == "" {
		errs = append(errs, errors.New("tenant_header is required"))
	}
	if b.Timeout <= 0 {
		errs = append(errs, errors.New("timeout must be positive"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// Validate checks if the StoreConfig is valid.
func (s *StoreConfig) Validate() error {
	var errs []error

	if !validStoreDrivers[s.Driver] {
		errs = append(errs, fmt.Errorf("invalid driver %q: must be one of sqlite, memory", s.Driver))
	}
	if s.Driver == "sqlite" && s.Path == "" {
		errs = append(errs, errors.New("path is required for the sqlite driver"))
	}
	if s.MaxRecords < 0 {
		errs = append(errs, errors.New("max_records must be non-negative"))
	}
	if s.MaxAge < 0 {
		errs = append(errs, errors.New("max_age must be non-negative"))
	}
	if s.Encrypt && s.KeyFile == "" {
		errs = append(errs, errors.New("key_file is required when encrypt is set"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// Validate checks if the GatewayConfig is valid.
func (g *GatewayConfig) Validate() error {
	var errs []error

	if g.StaticGeneration == "" {
		errs = append(errs, errors.New("static_generation is required"))
	}
	if g.APIGeneration == "" {
		errs = append(errs, errors.New("api_generation is required"))
	}
	if g.StaticGeneration != "" && g.StaticGeneration == g.APIGeneration {
		errs = append(errs, errors.New("static_generation and api_generation must differ"))
	}
	for _, p := range g.Manifest {
		if !strings.HasPrefix(p, "/") {
			errs = append(errs, fmt.Errorf("manifest entry %q must be an absolute path", p))
		}
	}
	if g.OfflinePage != "" && !strings.HasPrefix(g.OfflinePage, "/") {
		errs = append(errs, fmt.Errorf("offline_page %q must be an absolute path", g.OfflinePage))
	}
	if g.MemoryCacheSize < 0 {
		errs = append(errs, errors.New("memory_cache_size must be non-negative"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// Validate checks if the SyncConfig is valid.
func (s *SyncConfig) Validate() error {
	var errs []error

	if s.Interval < 0 {
		errs = append(errs, errors.New("interval must be non-negative"))
	}
	if s.Concurrency <= 0 {
		errs = append(errs, errors.New("concurrency must be positive"))
	}
	if s.ItemTimeout <= 0 {
		errs = append(errs, errors.New("item_timeout must be positive"))
	}
	if s.InitialInterval <= 0 {
		errs = append(errs, errors.New("initial_interval must be positive"))
	}
	if s.MaxInterval < s.InitialInterval {
		errs = append(errs, errors.New("max_interval must not be less than initial_interval"))
	}
	if s.Multiplier < 1 {
		errs = append(errs, errors.New("multiplier must be at least 1"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// Validate checks if the ConnectivityConfig is valid.
func (c *ConnectivityConfig) Validate() error {
	var errs []error

	if c.HealthURL != "" {
		if err := validateURL(c.HealthURL); err != nil {
			errs = append(errs, fmt.Errorf("invalid health_url: %w", err))
		}
	}
	if c.ProbeInterval < 0 {
		errs = append(errs, errors.New("probe_interval must be non-negative"))
	}
	if c.ProbeTimeout <= 0 {
		errs = append(errs, errors.New("probe_timeout must be positive"))
	}
	if c.CountsInterval <= 0 {
		errs = append(errs, errors.New("counts_interval must be positive"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// Validate checks if the ServerConfig is valid.
func (s *ServerConfig) Validate() error {
	if s.Addr == "" {
		return errors.New("addr is required")
	}
	return nil
}

// Validate checks if the LoggingConfig is valid.
func (l *LoggingConfig) Validate() error {
	var errs []error

	if l.Level != "" && !validLogLevels[l.Level] {
		errs = append(errs, fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", l.Level))
	}

	if l.Format != "" && !validLogFormats[l.Format] {
		errs = append(errs, fmt.Errorf("invalid log format %q: must be one of json, text", l.Format))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// Validate checks if the ObservabilityConfig is valid.
func (o *ObservabilityConfig) Validate() error {
	var errs []error

	if o.Metrics.Enabled && !strings.HasPrefix(o.Metrics.Path, "/") {
		errs = append(errs, fmt.Errorf("metrics: path %q must start with /", o.Metrics.Path))
	}

	if err := o.Tracing.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("tracing: %w", err))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// Validate checks if the TracingConfig is valid.
func (t *TracingConfig) Validate() error {
	var errs []error

	if t.Enabled {
		if t.ExporterType != "" && !validTracingExporterType[t.ExporterType] {
			errs = append(errs, fmt.Errorf("invalid exporter_type %q: must be one of none, stdout, otlp", t.ExporterType))
		}
		if t.ExporterType == "otlp" && t.OTLPEndpoint == "" {
			errs = append(errs, errors.New("otlp_endpoint is required when exporter_type is 'otlp'"))
		}
		if t.SampleRate < 0 || t.SampleRate > 1 {
			errs = append(errs, errors.New("sample_rate must be between 0.0 and 1.0"))
		}
		if t.ServiceName == "" {
			errs = append(errs, errors.New("service_name is required when tracing is enabled"))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// validateURL checks if a URL string is valid.
func validateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return err
	}
	if u.Scheme == "" {
		return errors.New("scheme is required")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q: must be http or https", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("host is required")
	}
	return nil
}

// ExpandPath resolves a leading ~ to the user's home directory.
func ExpandPath(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}
