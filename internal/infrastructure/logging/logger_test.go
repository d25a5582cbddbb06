package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name   string
		config Config
		check  func(t *testing.T, buf *bytes.Buffer)
	}{
		{
			name: "text format",
			config: Config{
				Level:  LevelInfo,
				Format: FormatText,
			},
			check: func(t *testing.T, buf *bytes.Buffer) {
				if !strings.Contains(buf.String(), "level=INFO") {
					t.Error("expected text format with level=INFO")
				}
			},
		},
		{
			name: "json format",
			config: Config{
				Level:  LevelInfo,
				Format: FormatJSON,
			},
			check: func(t *testing.T, buf *bytes.Buffer) {
				var m map[string]any
				if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
					t.Errorf("expected valid JSON output: %v", err)
				}
				if m["level"] != "INFO" {
					t.Errorf("expected level INFO, got %v", m["level"])
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			tt.config.Output = buf

			logger := New(tt.config)
			logger.Info("test message")

			tt.check(t, buf)
		})
	}
}

func TestLogLevels(t *testing.T) {
	tests := []struct {
		name      string
		level     Level
		logMethod func(l *Logger)
		expected  bool
	}{
		{
			name:      "debug at debug level",
			level:     LevelDebug,
			logMethod: func(l *Logger) { l.Debug("test") },
			expected:  true,
		},
		{
			name:      "debug at info level",
			level:     LevelInfo,
			logMethod: func(l *Logger) { l.Debug("test") },
			expected:  false,
		},
		{
			name:      "info at info level",
			level:     LevelInfo,
			logMethod: func(l *Logger) { l.Info("test") },
			expected:  true,
		},
		{
			name:      "warn at error level",
			level:     LevelError,
			logMethod: func(l *Logger) { l.Warn("test") },
			expected:  false,
		},
		{
			name:      "error at error level",
			level:     LevelError,
			logMethod: func(l *Logger) { l.Error("test") },
			expected:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			logger := New(Config{
				Level:  tt.level,
				Format: FormatText,
				Output: buf,
			})

			tt.logMethod(logger)

			hasOutput := buf.Len() > 0
			if hasOutput != tt.expected {
				t.Errorf("expected output=%v, got output=%v", tt.expected, hasOutput)
			}
		})
	}
}

func TestContextEnrichment(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := New(Config{Level: LevelDebug, Format: FormatJSON, Output: buf})

	ctx := WithCorrelationID(context.Background(), "corr-123")
	ctx = WithTenantID(ctx, "acme")
	ctx = WithDrainID(ctx, "drain-1")
	logger.InfoContext(ctx, "enriched log", "entity", "patients")

	var m map[string]any
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("failed to parse JSON: %v", err)
	}
	for key, want := range map[string]string{
		"correlation_id": "corr-123",
		"tenant_id":      "acme",
		"drain_id":       "drain-1",
		"entity":         "patients",
	} {
		if m[key] != want {
			t.Errorf("%s = %v, want %s", key, m[key], want)
		}
	}
	if got := CorrelationID(ctx); got != "corr-123" {
		t.Errorf("CorrelationID() = %q", got)
	}

	buf.Reset()
	logger.InfoContext(WithTenantID(context.Background(), ""), "no tenant")
	if strings.Contains(buf.String(), "tenant_id") {
		t.Errorf("empty tenant should be omitted: %s", buf.String())
	}
}

func TestWith(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := New(Config{Level: LevelInfo, Format: FormatJSON, Output: buf}).With("component", "gateway")
	logger.Info("ready")

	if !strings.Contains(buf.String(), `"component":"gateway"`) {
		t.Errorf("expected component attribute, got %s", buf.String())
	}
}

func TestTimeFormat(t *testing.T) {
	buf := &bytes.Buffer{}
	New(Config{Level: LevelInfo, Format: FormatJSON, Output: buf, TimeFormat: time.DateOnly}).Info("dated")

	var m map[string]any
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("failed to parse JSON: %v", err)
	}
	if _, err := time.Parse(time.DateOnly, m["time"].(string)); err != nil {
		t.Errorf("time %v not in DateOnly format: %v", m["time"], err)
	}
}

func TestNop(t *testing.T) {
	OrNop(nil).Error("discarded")
	l := Nop()
	if OrNop(l) != l {
		t.Error("OrNop should return a non-nil logger unchanged")
	}
}
