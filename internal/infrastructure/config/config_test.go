package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	if cfg == nil {
		t.Fatal("NewDefaultConfig returned nil")
	}

	if cfg.Backend.APIPrefix != "/api/" {
		t.Errorf("expected api prefix /api/, got %q", cfg.Backend.APIPrefix)
	}
	if cfg.Backend.TenantHeader != "X-Tenant-ID" {
		t.Errorf("expected tenant header X-Tenant-ID, got %q", cfg.Backend.TenantHeader)
	}
	if cfg.Connectivity.ProbeTimeout != 5*time.Second {
		t.Errorf("expected probe timeout 5s, got %v", cfg.Connectivity.ProbeTimeout)
	}
	if cfg.Connectivity.CountsInterval != 30*time.Second {
		t.Errorf("expected counts interval 30s, got %v", cfg.Connectivity.CountsInterval)
	}
	if cfg.Gateway.OfflinePage != "/offline.html" {
		t.Errorf("expected offline page /offline.html, got %q", cfg.Gateway.OfflinePage)
	}
	if len(cfg.Gateway.VaryHeaders) != 2 {
		t.Errorf("expected 2 vary headers, got %v", cfg.Gateway.VaryHeaders)
	}
	if cfg.Logging.Level != DefaultLogLevel {
		t.Errorf("expected log level %q, got %q", DefaultLogLevel, cfg.Logging.Level)
	}
	if cfg.Observability.Tracing.Enabled {
		t.Error("expected tracing to be disabled by default")
	}

	// Mutating one default must not leak into the next.
	cfg.Gateway.Manifest[0] = "/changed"
	if NewDefaultConfig().Gateway.Manifest[0] != "/" {
		t.Error("default manifest shares backing array between configs")
	}
}

func TestConfig_Validate_DefaultIsValid(t *testing.T) {
	cfg := NewDefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should be valid, got error: %v", err)
	}
}

func TestConfig_HealthURL(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Backend.URL = "https://acme.example.com/"
	if got := cfg.HealthURL(); got != "https://acme.example.com/api/health" {
		t.Errorf("HealthURL() = %q", got)
	}

	cfg.Connectivity.HealthURL = "https://status.example.com/ping"
	if got := cfg.HealthURL(); got != "https://status.example.com/ping" {
		t.Errorf("HealthURL() with override = %q", got)
	}
}

func TestLoggingConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  LoggingConfig
		wantErr bool
	}{
		{
			name:    "valid debug level",
			config:  LoggingConfig{Level: "debug", Format: "json"},
			wantErr: false,
		},
		{
			name:    "valid error level",
			config:  LoggingConfig{Level: "error", Format: "text"},
			wantErr: false,
		},
		{
			name:    "invalid log level",
			config:  LoggingConfig{Level: "invalid", Format: "json"},
			wantErr: true,
		},
		{
			name:    "invalid log format",
			config:  LoggingConfig{Level: "info", Format: "invalid"},
			wantErr: true,
		},
		{
			name:    "empty values are valid",
			config:  LoggingConfig{Level: "", Format: ""},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestBackendConfig_Validate(t *testing.T) {
	valid := BackendConfig{URL: "http://localhost:8080", APIPrefix: "/api/", TenantHeader: "X-Tenant-ID", Timeout: time.Second}

	tests := []struct {
		name    string
		mutate  func(*BackendConfig)
		wantErr bool
	}{
		{name: "valid", mutate: func(*BackendConfig) {}, wantErr: false},
		{name: "missing url", mutate: func(b *BackendConfig) { b.URL = "" }, wantErr: true},
		{name: "ftp scheme", mutate: func(b *BackendConfig) { b.URL = "ftp://host" }, wantErr: true},
		{name: "no host", mutate: func(b *BackendConfig) { b.URL = "http://" }, wantErr: true},
		{name: "relative prefix", mutate: func(b *BackendConfig) { b.APIPrefix = "api/" }, wantErr: true},
		{name: "no tenant header", mutate: func(b *BackendConfig) { b.TenantHeader = "" }, wantErr: true},
		{name: "zero timeout", mutate: func(b *BackendConfig) { b.Timeout = 0 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestStoreConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  StoreConfig
		wantErr bool
	}{
		{name: "sqlite with path", config: StoreConfig{Driver: "sqlite", Path: "/tmp/x.db"}, wantErr: false},
		{name: "memory without path", config: StoreConfig{Driver: "memory"}, wantErr: false},
		{name: "sqlite without path", config: StoreConfig{Driver: "sqlite"}, wantErr: true},
		{name: "unknown driver", config: StoreConfig{Driver: "postgres", Path: "x"}, wantErr: true},
		{name: "negative cap", config: StoreConfig{Driver: "memory", MaxRecords: -1}, wantErr: true},
		{name: "encrypted with key file", config: StoreConfig{Driver: "sqlite", Path: "/tmp/x.db", Encrypt: true, KeyFile: "/tmp/x.key"}, wantErr: false},
		{name: "encrypted without key file", config: StoreConfig{Driver: "sqlite", Path: "/tmp/x.db", Encrypt: true}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestGatewayConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*GatewayConfig)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*GatewayConfig) {}, wantErr: false},
		{name: "same generations", mutate: func(g *GatewayConfig) { g.APIGeneration = g.StaticGeneration }, wantErr: true},
		{name: "relative manifest entry", mutate: func(g *GatewayConfig) { g.Manifest = []string{"logo.png"} }, wantErr: true},
		{name: "relative offline page", mutate: func(g *GatewayConfig) { g.OfflinePage = "offline.html" }, wantErr: true},
		{name: "empty static generation", mutate: func(g *GatewayConfig) { g.StaticGeneration = "" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig().Gateway
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSyncConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*SyncConfig)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*SyncConfig) {}, wantErr: false},
		{name: "unbounded attempts", mutate: func(s *SyncConfig) { s.MaxAttempts = 0 }, wantErr: false},
		{name: "scheduled drain disabled", mutate: func(s *SyncConfig) { s.Interval = 0 }, wantErr: false},
		{name: "zero concurrency", mutate: func(s *SyncConfig) { s.Concurrency = 0 }, wantErr: true},
		{name: "max below initial", mutate: func(s *SyncConfig) { s.MaxInterval = time.Second }, wantErr: true},
		{name: "shrinking multiplier", mutate: func(s *SyncConfig) { s.Multiplier = 0.5 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig().Sync
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestTracingConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  TracingConfig
		wantErr bool
	}{
		{name: "disabled ignores fields", config: TracingConfig{ExporterType: "bogus"}, wantErr: false},
		{name: "stdout", config: TracingConfig{Enabled: true, ExporterType: "stdout", SampleRate: 1, ServiceName: "clinicsync"}, wantErr: false},
		{name: "otlp without endpoint", config: TracingConfig{Enabled: true, ExporterType: "otlp", SampleRate: 1, ServiceName: "clinicsync"}, wantErr: true},
		{name: "sample rate out of range", config: TracingConfig{Enabled: true, ExporterType: "stdout", SampleRate: 2, ServiceName: "clinicsync"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_Validate_MultipleErrors(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Backend.URL = ""
	cfg.Store.Driver = "postgres"
	cfg.Logging.Level = "loud"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, section := range []string{"backend:", "store:", "logging:"} {
		if !strings.Contains(err.Error(), section) {
			t.Errorf("error %q does not mention %s", err, section)
		}
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}

	tests := []struct {
		in, want string
	}{
		{"~/.clinicsync/clinicsync.db", filepath.Join(home, ".clinicsync", "clinicsync.db")},
		{"~", home},
		{"/var/lib/clinicsync.db", "/var/lib/clinicsync.db"},
		{"~other/x", "~other/x"},
	}
	for _, tt := range tests {
		got, err := ExpandPath(tt.in)
		if err != nil {
			t.Fatalf("ExpandPath(%q) error = %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ExpandPath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
