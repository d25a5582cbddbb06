package application

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jbctechsolutions/clinicsync/internal/application/gateway"
	"github.com/jbctechsolutions/clinicsync/internal/infrastructure/config"
	"github.com/jbctechsolutions/clinicsync/internal/infrastructure/testutil"
)

// cutTransport fails every request while down is set.
type cutTransport struct {
	down atomic.Bool
}

func (c *cutTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if c.down.Load() {
		return nil, errors.New("dial tcp: connection refused")
	}
	return http.DefaultTransport.RoundTrip(req)
}

func newTestContainer(t *testing.T) (*Container, *httptest.Server, *cutTransport, *atomic.Int32) {
	t.Helper()
	var posts atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {})
	mux.HandleFunc("/api/patients", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			posts.Add(1)
			w.WriteHeader(http.StatusCreated)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id":1,"name":"Ada"}]`))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html>" + r.URL.Path + "</html>"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	cfg := config.NewDefaultConfig()
	cfg.Backend.URL = srv.URL
	cfg.Store.Driver = "memory"
	cfg.Connectivity.ProbeInterval = 0
	cfg.Sync.Interval = 0
	cfg.Logging.Level = "error"
	cfg.Observability.Metrics.Enabled = true

	transport := &cutTransport{}
	c, err := NewContainer(cfg, false, WithTransport(transport))
	testutil.AssertNoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, srv, transport, &posts
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestContainer_StartInstallsManifest(t *testing.T) {
	c, srv, transport, _ := newTestContainer(t)
	testutil.AssertNoError(t, c.Start(context.Background()))
	testutil.AssertEqual(t, c.Gateway().Ready(), true)
	testutil.AssertEqual(t, c.Monitor().IsOnline(), true)

	transport.down.Store(true)
	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/offline.html", nil)
	resp, err := c.Gateway().Client().Do(req)
	testutil.AssertNoError(t, err)
	defer resp.Body.Close()
	testutil.AssertEqual(t, resp.StatusCode, http.StatusOK)
	testutil.AssertEqual(t, resp.Header.Get(gateway.HeaderOfflineCache), "hit")
}

func TestContainer_ReconnectDrainsQueuedMutation(t *testing.T) {
	ctx := context.Background()
	c, srv, transport, posts := newTestContainer(t)
	testutil.AssertNoError(t, c.Start(ctx))

	transport.down.Store(true)
	c.Monitor().Observe(false)

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/api/patients", strings.NewReader(`{"name":"Grace"}`))
	req.Header.Set("X-Tenant-ID", "acme")
	resp, err := c.Gateway().Client().Do(req)
	testutil.AssertNoError(t, err)
	resp.Body.Close()
	testutil.AssertEqual(t, resp.StatusCode, http.StatusServiceUnavailable)

	counts, err := c.Store().QueueCounts(ctx)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, counts.Requests, 1)

	transport.down.Store(false)
	c.Monitor().Observe(true)

	waitFor(t, "queued request delivered", func() bool { return posts.Load() == 1 })
	waitFor(t, "queue emptied", func() bool {
		counts, err := c.Store().QueueCounts(ctx)
		return err == nil && counts.Requests == 0
	})
}

func TestContainer_ReloadManifest(t *testing.T) {
	c, _, _, _ := newTestContainer(t)
	path := testutil.WriteFile(t, t.TempDir(), "manifest.yaml", "- /reloaded.css\n")

	c.ReloadManifest(context.Background(), path)
	got := c.Gateway().Manifest()
	if len(got) != 1 || got[0] != "/reloaded.css" {
		t.Errorf("Manifest() = %v, want [/reloaded.css]", got)
	}

	bad := testutil.WriteFile(t, t.TempDir(), "bad.yaml", "not: [valid")
	c.ReloadManifest(context.Background(), bad)
	testutil.AssertEqual(t, len(c.Gateway().Manifest()), 1)
}

func TestContainer_MetricsRegistry(t *testing.T) {
	c, _, _, _ := newTestContainer(t)
	if c.MetricsRegistry() == nil {
		t.Fatal("MetricsRegistry() = nil with metrics enabled")
	}
	families, err := c.MetricsRegistry().Gather()
	testutil.AssertNoError(t, err)
	if len(families) == 0 {
		t.Error("registry gathered no metric families")
	}
}

func TestContainer_EncryptedStore(t *testing.T) {
	dir := t.TempDir()
	cfg := config.NewDefaultConfig()
	cfg.Store.Driver = "sqlite"
	cfg.Store.Path = filepath.Join(dir, "clinicsync.db")
	cfg.Store.Encrypt = true
	cfg.Store.KeyFile = filepath.Join(dir, "store.key")
	cfg.Connectivity.ProbeInterval = 0
	cfg.Logging.Level = "error"

	c, err := NewContainer(cfg, false)
	testutil.AssertNoError(t, err)
	ctx := context.Background()
	testutil.AssertNoError(t, c.Store().CacheData(ctx, "patients", "acme", []json.RawMessage{testutil.Payload(1, "Ada")}))
	testutil.AssertNoError(t, c.Close())

	if _, err := os.Stat(cfg.Store.KeyFile); err != nil {
		t.Fatalf("key file not created: %v", err)
	}

	reopened, err := NewContainer(cfg, false)
	testutil.AssertNoError(t, err)
	defer reopened.Close()
	records, err := reopened.Store().GetCachedData(ctx, "patients", "acme")
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, len(records), 1)
}
