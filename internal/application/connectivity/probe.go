package connectivity

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/jbctechsolutions/clinicsync/internal/application/ports"
)

// DefaultProbeTimeout bounds a single health check.
const DefaultProbeTimeout = 5 * time.Second

// HTTPProbe checks reachability with a GET against a health URL. Any
// response, whatever its status, means online.
type HTTPProbe struct {
	client  *http.Client
	url     string
	timeout time.Duration
}

// NewHTTPProbe creates a probe. The client should use the raw transport,
// not the gateway, so cached answers cannot mask an outage.
func NewHTTPProbe(client *http.Client, url string, timeout time.Duration) *HTTPProbe {
	if client == nil {
		client = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	return &HTTPProbe{client: client, url: url, timeout: timeout}
}

// Check reports whether the health URL answered within the timeout.
func (p *HTTPProbe) Check(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return true
}

// StaticProbe always reports the same answer.
type StaticProbe bool

// Check implements ports.ConnectivityProbe.
func (s StaticProbe) Check(context.Context) bool { return bool(s) }

var (
	_ ports.ConnectivityProbe = (*HTTPProbe)(nil)
	_ ports.ConnectivityProbe = StaticProbe(false)
)
