package middleware

import (
	"net/http"

	"github.com/whistlenet/hcs-relay/internal/logging"
)

// TracingMiddleware adds a trace ID to every request, reusing the
// caller's X-Trace-ID when present.
type TracingMiddleware struct {
	logger *logging.Logger
}

// NewTracingMiddleware creates a new tracing middleware
func NewTracingMiddleware(logger *logging.Logger) *TracingMiddleware {
	return &TracingMiddleware{
		logger: logger,
	}
}

// Handler returns the tracing middleware handler. It also turns a panic in
// a handler into a 500 so one bad request cannot take the relay down.
func (m *TracingMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get(logging.TraceHeader)
		if traceID == "" || len(traceID) > 128 {
			traceID = logging.NewTraceID()
		}
		ctx := logging.WithTraceID(r.Context(), traceID)
		w.Header().Set(logging.TraceHeader, traceID)

		defer func() {
			if rec := recover(); rec != nil {
				m.logger.Error(ctx, "handler panic", map[string]interface{}{
					"panic":  rec,
					"method": r.Method,
					"path":   r.URL.Path,
				})
				writeJSONError(w, http.StatusInternalServerError, "internal server error")
			}
		}()

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
