package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/spf13/cobra"

	"github.com/jbctechsolutions/clinicsync/internal/application"
	appOffline "github.com/jbctechsolutions/clinicsync/internal/application/offline"
	"github.com/jbctechsolutions/clinicsync/internal/application/syncqueue"
	domainErrors "github.com/jbctechsolutions/clinicsync/internal/domain/errors"
	"github.com/jbctechsolutions/clinicsync/internal/domain/offline"
	"github.com/jbctechsolutions/clinicsync/internal/infrastructure/logging"
	"github.com/jbctechsolutions/clinicsync/internal/infrastructure/metrics"
)

const (
	shutdownTimeout = 10 * time.Second
	maxMutationBody = 1 << 20

	// HeaderRequestID carries the correlation id of a proxied request.
	HeaderRequestID = "X-Request-ID"
)

// NewServeCmd creates the serve command.
func NewServeCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the local offline proxy",
		Long: `Run a local HTTP proxy in front of the backend.

Every request is forwarded through the caching gateway: API reads fall back
to the last cached response, static assets are served from the pre-cached
manifest, and writes made while offline are queued and replayed later.

The proxy also exposes:
  GET  /_offline/status            connectivity and pending counts
  GET  /_offline/data/{entity}     tenant-scoped records through the cache
  POST /_offline/data/{entity}     write a record, queued when offline
  POST /_offline/drain             drain the queues now`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(runContext(), addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default: server.addr from config)")

	return cmd
}

func runServe(ctx context.Context, addr string) error {
	container, err := requireContainer()
	if err != nil {
		return err
	}
	cfg := container.Config()
	logger := container.Logger()
	formatter := GetFormatter()

	if addr == "" {
		addr = cfg.Server.Addr
	}

	router, err := NewRouter(container)
	if err != nil {
		return err
	}

	if err := container.Start(ctx); err != nil {
		return fmt.Errorf("failed to start offline core: %w", err)
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	formatter.Success("Proxying %s on http://%s", cfg.Backend.URL, listener.Addr())
	formatter.Item("Status", formatter.ConnectivityBadge(container.Monitor().IsOnline()))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(listener)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down proxy")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("proxy shutdown: %w", err)
	}
	return nil
}

// NewRouter builds the proxy's routes. Anything not under /_offline/ is
// forwarded to the backend through the gateway.
func NewRouter(c *application.Container) (*mux.Router, error) {
	cfg := c.Config()
	backend, err := url.Parse(cfg.Backend.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid backend url: %w", err)
	}

	h := &offlineHandlers{container: c}
	r := mux.NewRouter()
	r.Use(requestContext(cfg.Backend.TenantHeader))

	api := r.PathPrefix("/_offline").Subrouter()
	api.HandleFunc("/status", h.status).Methods(http.MethodGet)
	api.HandleFunc("/data/{entity}", h.load).Methods(http.MethodGet)
	api.HandleFunc("/data/{entity}", h.mutate).Methods(http.MethodPost)
	api.HandleFunc("/drain", h.drain).Methods(http.MethodPost)

	if reg := c.MetricsRegistry(); reg != nil {
		r.Handle(cfg.Observability.Metrics.Path, metrics.Handler(reg)).Methods(http.MethodGet)
	}

	proxy := httputil.NewSingleHostReverseProxy(backend)
	proxy.Transport = c.Gateway()
	proxy.ErrorHandler = func(w http.ResponseWriter, req *http.Request, err error) {
		if req.Context().Err() == nil {
			c.Logger().WarnContext(req.Context(), "proxy request failed", "path", req.URL.Path, "error", err)
		}
		w.WriteHeader(http.StatusBadGateway)
	}
	r.PathPrefix("/").Handler(proxy)

	return r, nil
}

// requestContext tags each request with a correlation id, reusing the
// caller's X-Request-ID when present, and with its tenant for logging.
func requestContext(tenantHeader string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(HeaderRequestID)
			if id == "" {
				id = uuid.NewString()
				r.Header.Set(HeaderRequestID, id)
			}
			w.Header().Set(HeaderRequestID, id)

			ctx := logging.WithCorrelationID(r.Context(), id)
			if tenant := r.Header.Get(tenantHeader); tenant != "" {
				ctx = logging.WithTenantID(ctx, tenant)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

type offlineHandlers struct {
	container *application.Container
}

type statusResponse struct {
	Online       bool                `json:"online"`
	LastOnlineAt time.Time           `json:"last_online_at,omitzero"`
	Pending      offline.QueueCounts `json:"pending"`
	Ready        bool                `json:"ready"`
}

func (h *offlineHandlers) status(w http.ResponseWriter, r *http.Request) {
	snap := h.container.Monitor().Snapshot()
	writeJSON(w, http.StatusOK, statusResponse{
		Online:       snap.IsOnline,
		LastOnlineAt: snap.LastOnlineAt,
		Pending:      snap.Pending,
		Ready:        h.container.Gateway().Ready(),
	})
}

type loadResponse struct {
	appOffline.Result
	Message string `json:"error,omitempty"`
}

func (h *offlineHandlers) load(w http.ResponseWriter, r *http.Request) {
	entity := mux.Vars(r)["entity"]
	tenant := h.tenant(r)
	rec := h.container.Reconciler()

	result, err := h.container.Facade().Load(r.Context(), appOffline.Query{
		Entity:   entity,
		TenantID: tenant,
		Fetch: func(ctx context.Context) ([]json.RawMessage, error) {
			return rec.List(ctx, entity, tenant)
		},
	})
	if err != nil {
		writeError(w, err)
		return
	}

	resp := loadResponse{Result: result}
	if result.Error != nil {
		resp.Message = result.Error.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *offlineHandlers) mutate(w http.ResponseWriter, r *http.Request) {
	entity := mux.Vars(r)["entity"]
	tenant := h.tenant(r)

	action, err := offline.ParseAction(r.URL.Query().Get("action"))
	if err != nil {
		writeError(w, err)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxMutationBody))
	if err != nil {
		writeError(w, domainErrors.Validation("reading request body", err))
		return
	}

	item := &offline.SyncQueueItem{TenantID: tenant, Action: action, Entity: entity, Data: body}
	rec := h.container.Reconciler()
	result, err := h.container.Facade().Mutate(r.Context(), appOffline.Mutation{
		Entity:   entity,
		TenantID: tenant,
		Action:   action,
		Data:     body,
		Send: func(ctx context.Context) error {
			return rec.Reconcile(ctx, item)
		},
	})
	if err != nil {
		writeError(w, err)
		return
	}

	code := http.StatusOK
	if result.Queued {
		code = http.StatusAccepted
	}
	writeJSON(w, code, result)
}

func (h *offlineHandlers) drain(w http.ResponseWriter, r *http.Request) {
	force := r.URL.Query().Get("force") == "true"
	report, err := h.container.SyncManager().Drain(r.Context(), syncqueue.DrainOptions{Force: force})
	switch {
	case err != nil:
	case report.Offline:
		err = domainErrors.ErrOffline
	case report.Skipped:
		err = domainErrors.ErrDrainInProgress
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// tenant reads the tenant from the query string, then the tenant header.
func (h *offlineHandlers) tenant(r *http.Request) string {
	if t := r.URL.Query().Get("tenant"); t != "" {
		return t
	}
	return r.Header.Get(h.container.Config().Backend.TenantHeader)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case domainErrors.IsValidation(err):
		code = http.StatusBadRequest
	case errors.Is(err, domainErrors.ErrRecordNotFound):
		code = http.StatusNotFound
	case errors.Is(err, domainErrors.ErrOffline):
		code = http.StatusServiceUnavailable
	case errors.Is(err, domainErrors.ErrDrainInProgress):
		code = http.StatusConflict
	case domainErrors.IsClientRejection(err):
		code = domainErrors.HTTPStatus(err)
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
