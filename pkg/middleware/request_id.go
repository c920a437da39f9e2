package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/platinummonkey/assetvault/pkg/audit"
	"github.com/platinummonkey/assetvault/pkg/contextkeys"
	"github.com/platinummonkey/assetvault/pkg/observability"
)

// RequestIDHeader is echoed back on every response
const RequestIDHeader = "X-Request-ID"

// RequestIDMiddleware assigns each request an ID and attaches the request-scoped
// logger and audit logger to its context. auditLogger may be nil.
func RequestIDMiddleware(logger *observability.Logger, auditLogger audit.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get(RequestIDHeader)
			if requestID == "" {
				requestID = uuid.New().String()
			}
			w.Header().Set(RequestIDHeader, requestID)

			ctx := contextkeys.WithRequestID(r.Context(), requestID)
			if logger != nil {
				ctx = observability.WithLogger(ctx, logger)
			}
			if auditLogger != nil {
				ctx = audit.WithLogger(ctx, auditLogger)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
