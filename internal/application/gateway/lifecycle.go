package gateway

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"slices"

	domainErrors "github.com/jbctechsolutions/clinicsync/internal/domain/errors"
	"github.com/jbctechsolutions/clinicsync/internal/domain/offline"
	"github.com/jbctechsolutions/clinicsync/internal/infrastructure/tracing"
)

// InstallReport lists which manifest entries were pre-cached.
type InstallReport struct {
	Cached []string
	Failed map[string]error
}

// Complete reports whether every manifest entry was cached.
func (r InstallReport) Complete() bool {
	return len(r.Failed) == 0
}

// FlushReport summarizes a FlushQueuedRequests pass.
type FlushReport struct {
	Delivered int
	Remaining int
}

// Manifest returns the static asset paths pre-cached on install.
func (g *Gateway) Manifest() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return slices.Clone(g.manifest)
}

// SetManifest replaces the manifest used by the next Install.
func (g *Gateway) SetManifest(paths []string) {
	g.mu.Lock()
	g.manifest = slices.Clone(paths)
	g.mu.Unlock()
}

// Install pre-caches the static manifest into the static generation. A
// failing entry is recorded in the report and does not stop the others.
func (g *Gateway) Install(ctx context.Context) (InstallReport, error) {
	report := InstallReport{Failed: make(map[string]error)}
	for _, path := range g.Manifest() {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if err := g.precache(ctx, path); err != nil {
			g.logger.WarnContext(ctx, "failed to pre-cache asset", "path", path, "error", err)
			report.Failed[path] = err
			continue
		}
		report.Cached = append(report.Cached, path)
	}
	g.ready.Store(true)
	g.logger.InfoContext(ctx, "gateway installed",
		"generation", g.cfg.StaticGeneration,
		"cached", len(report.Cached),
		"failed", len(report.Failed),
	)
	return report, nil
}

func (g *Gateway) precache(ctx context.Context, path string) error {
	req, err := g.assetRequest(ctx, path, nil)
	if err != nil {
		return err
	}
	resp, err := g.next.RoundTrip(req)
	if err != nil {
		return err
	}
	if !isSuccess(resp.StatusCode) {
		discard(resp)
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	body, err := bufferResponseBody(resp)
	if err != nil {
		return err
	}
	return g.put(ctx, g.cfg.StaticGeneration, Identity(req, "", nil), req, resp, body)
}

// Activate deletes every cached response outside the current static and API
// generations and returns how many were removed.
func (g *Gateway) Activate(ctx context.Context) (int64, error) {
	removed, err := g.cache.Purge(ctx, []string{g.cfg.StaticGeneration, g.cfg.APIGeneration})
	if err != nil {
		return 0, fmt.Errorf("purging stale generations: %w", err)
	}
	if removed > 0 {
		g.logger.InfoContext(ctx, "purged stale cache generations", "removed", removed)
	}
	return removed, nil
}

// Ready reports whether Install has run.
func (g *Gateway) Ready() bool {
	return g.ready.Load()
}

// Replay resends a queued request with its original method, headers and
// body. It bypasses the cache policy so a failure surfaces as an error.
func (g *Gateway) Replay(ctx context.Context, q *offline.QueuedRequest) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, q.Method, q.URL, bytes.NewReader(q.Body))
	if err != nil {
		return nil, domainErrors.Validation("invalid queued request", err)
	}
	req.Header = q.Header.Clone()
	if req.Header == nil {
		req.Header = http.Header{}
	}
	tracing.InjectHeaders(ctx, req.Header)
	return g.next.RoundTrip(req)
}

// Delivered reports whether a replayed request reached the backend. Server
// errors are retried; anything below 500 is final.
func Delivered(resp *http.Response) bool {
	return resp != nil && resp.StatusCode < http.StatusInternalServerError
}

// FlushQueuedRequests replays every pending queued request once. Delivered
// requests are removed; failures stay queued without touching their retry state.
func (g *Gateway) FlushQueuedRequests(ctx context.Context) (FlushReport, error) {
	var report FlushReport
	if g.queue == nil {
		return report, nil
	}
	pending, err := g.queue.GetQueuedRequests(ctx)
	if err != nil {
		return report, fmt.Errorf("listing queued requests: %w", err)
	}

	for i, q := range pending {
		if err := ctx.Err(); err != nil {
			report.Remaining += len(pending) - i
			break
		}
		resp, err := g.Replay(ctx, q)
		if err == nil {
			discard(resp)
		}
		if err != nil || !Delivered(resp) {
			report.Remaining++
			continue
		}
		if err := g.queue.RemoveQueuedRequest(ctx, q.ID); err != nil {
			g.logger.WarnContext(ctx, "failed to remove delivered request", "id", q.ID, "error", err)
			report.Remaining++
			continue
		}
		report.Delivered++
	}

	if report.Delivered > 0 && g.observer != nil {
		g.observer.QueueChanged()
	}
	return report, ctx.Err()
}

func discard(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}
