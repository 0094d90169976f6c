// Package httpapi exposes the relay over HTTP. Every response uses the
// same envelope: {"success":true,"data":...} or {"success":false,"error":...}.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/whistlenet/hcs-relay/internal/anchor"
	"github.com/whistlenet/hcs-relay/internal/balance"
	svcerrors "github.com/whistlenet/hcs-relay/internal/errors"
	"github.com/whistlenet/hcs-relay/internal/logging"
	"github.com/whistlenet/hcs-relay/internal/metrics"
	"github.com/whistlenet/hcs-relay/internal/middleware"
	"github.com/whistlenet/hcs-relay/internal/topic"
	"github.com/whistlenet/hcs-relay/internal/transfer"
)

const maxBodyBytes = 1 << 20

// Services are the components the handlers call into.
type Services struct {
	Topics   *topic.Manager
	Anchor   *anchor.Service
	Transfer *transfer.Engine
	Balance  *balance.Service
}

// Options configures the router and its middleware chain.
type Options struct {
	Logger  *logging.Logger
	Network string
	// CORSOrigins lists allowed browser origins. Empty disables CORS headers.
	CORSOrigins []string
	// RateLimit is requests per second per client. Zero disables limiting.
	RateLimit      float64
	RateLimitBurst int
}

// handler bundles HTTP endpoints for the relay services.
type handler struct {
	svc     Services
	network string
	log     *logging.Logger
}

// NewHandler returns the relay's HTTP handler with middleware applied.
// The returned limiter is nil when rate limiting is disabled; callers own
// its cleanup loop.
func NewHandler(svc Services, opts Options) (http.Handler, *middleware.RateLimiter) {
	log := opts.Logger
	if log == nil {
		log = logging.NewDefault("httpapi")
	}
	h := &handler{svc: svc, network: opts.Network, log: log}

	r := mux.NewRouter()
	r.Use(middleware.LoggingMiddleware(log), middleware.MetricsMiddleware())

	var limiter *middleware.RateLimiter
	if opts.RateLimit > 0 {
		limiter = middleware.NewRateLimiter(opts.RateLimit, opts.RateLimitBurst, log)
		r.Use(limiter.Handler)
	}

	r.HandleFunc("/healthz", h.health).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	hcs := r.PathPrefix("/api/hcs").Subrouter()
	hcs.HandleFunc("/create-topic", h.createTopic).Methods(http.MethodPost)
	hcs.HandleFunc("/submit-message", h.submitMessage).Methods(http.MethodPost)
	hcs.HandleFunc("/anchor", h.anchorMessage).Methods(http.MethodPost)
	hcs.HandleFunc("/topic", h.cachedTopic).Methods(http.MethodGet)

	hts := r.PathPrefix("/api/hts").Subrouter()
	hts.HandleFunc("/transfer", h.transfer).Methods(http.MethodPost)
	hts.HandleFunc("/transfer-batch", h.transferBatch).Methods(http.MethodPost)
	hts.HandleFunc("/balance/{accountId}", h.balance).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeFailure(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeFailure(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	// CORS and tracing wrap the router so preflights and unmatched paths
	// still get headers and a trace id.
	var out http.Handler = r
	if len(opts.CORSOrigins) > 0 {
		out = middleware.NewCORSMiddleware(opts.CORSOrigins).Handler(out)
	}
	out = middleware.NewTracingMiddleware(log).Handler(out)
	return out, limiter
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"network": h.network,
	})
}

type envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// decodeJSON reads a bounded request body into dst. An empty body leaves
// dst untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	defer body.Close()
	if err := json.NewDecoder(body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return svcerrors.Validationf("invalid request body: %v", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Success: true, Data: data})
}

func writeFailure(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Success: false, Error: message})
}

// writeError serves err with the status its taxonomy code maps to.
func (h *handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := svcerrors.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.log.Error(r.Context(), "request failed", map[string]interface{}{
			"path":  r.URL.Path,
			"error": err.Error(),
		})
	}
	writeFailure(w, status, err.Error())
}
