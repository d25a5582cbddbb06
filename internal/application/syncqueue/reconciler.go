package syncqueue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/jbctechsolutions/clinicsync/internal/application/ports"
	domainErrors "github.com/jbctechsolutions/clinicsync/internal/domain/errors"
	"github.com/jbctechsolutions/clinicsync/internal/domain/offline"
)

// StatusError is returned when the backend answers a reconcile with a non-2xx status.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: backend returned %d", e.Method, e.URL, e.StatusCode)
}

// HTTPStatus returns the backend's status code.
func (e *StatusError) HTTPStatus() int { return e.StatusCode }

// RESTReconciler maps sync queue items onto the backend's REST routes:
// create is POST {api}/{entity}, update is PUT {api}/{entity}/{id} and
// delete is DELETE {api}/{entity}/{id}.
type RESTReconciler struct {
	client       *http.Client
	apiBase      string
	tenantHeader string
}

// NewRESTReconciler creates a reconciler against baseURL+apiPrefix. The
// client must not route through the gateway, otherwise a failed reconcile
// would be queued a second time.
func NewRESTReconciler(client *http.Client, baseURL, apiPrefix, tenantHeader string) *RESTReconciler {
	if client == nil {
		client = http.DefaultClient
	}
	if tenantHeader == "" {
		tenantHeader = "X-Tenant-ID"
	}
	return &RESTReconciler{
		client:       client,
		apiBase:      strings.TrimRight(baseURL, "/") + "/" + strings.Trim(apiPrefix, "/"),
		tenantHeader: tenantHeader,
	}
}

// Route returns the method and URL an item is sent to.
func (r *RESTReconciler) Route(item *offline.SyncQueueItem) (string, string, error) {
	collection := r.apiBase + "/" + url.PathEscape(item.Entity)
	if item.Action == offline.ActionCreate {
		return http.MethodPost, collection, nil
	}

	id, err := offline.ExtractEntityID(item.Data)
	if err != nil {
		return "", "", err
	}
	member := collection + "/" + url.PathEscape(id)
	switch item.Action {
	case offline.ActionUpdate:
		return http.MethodPut, member, nil
	case offline.ActionDelete:
		return http.MethodDelete, member, nil
	default:
		return "", "", domainErrors.Validation(fmt.Sprintf("unknown action %q", item.Action), domainErrors.ErrInvalidAction)
	}
}

// Reconcile sends item to the backend. Only a 2xx response counts as success.
func (r *RESTReconciler) Reconcile(ctx context.Context, item *offline.SyncQueueItem) error {
	method, target, err := r.Route(item)
	if err != nil {
		return err
	}

	var body io.Reader
	if method != http.MethodDelete {
		body = bytes.NewReader(item.Data)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return domainErrors.Validation("building reconcile request", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(r.tenantHeader, item.TenantID)

	resp, err := r.client.Do(req)
	if err != nil {
		return domainErrors.Transport("reconcile request failed", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Method: method, URL: target, StatusCode: resp.StatusCode}
	}
	return nil
}

// List fetches the collection of entity for tenantID. The backend must answer
// with a JSON array.
func (r *RESTReconciler) List(ctx context.Context, entity, tenantID string) ([]json.RawMessage, error) {
	target := r.apiBase + "/" + url.PathEscape(entity)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, domainErrors.Validation("building list request", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(r.tenantHeader, tenantID)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, domainErrors.Transport("list request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &StatusError{Method: http.MethodGet, URL: target, StatusCode: resp.StatusCode}
	}

	var records []json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", target, err)
	}
	return records, nil
}

var _ ports.Reconciler = (*RESTReconciler)(nil)
