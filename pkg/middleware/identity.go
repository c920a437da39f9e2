package middleware

import (
	"net/http"
	"strings"

	"github.com/platinummonkey/assetvault/pkg/assets"
	"github.com/platinummonkey/assetvault/pkg/contextkeys"
	"github.com/platinummonkey/assetvault/pkg/httputil"
	"github.com/platinummonkey/assetvault/pkg/observability"
	"github.com/platinummonkey/assetvault/pkg/storage"
)

// UserIDHeader carries the caller identity asserted by the upstream gateway
const UserIDHeader = "X-User-ID"

// IdentityMiddleware resolves the caller named in UserIDHeader to a stored user
type IdentityMiddleware struct {
	users    storage.UserReader
	optional bool // If true, allow requests without an identity
}

// NewIdentityMiddleware creates a new identity middleware
func NewIdentityMiddleware(users storage.UserReader, optional bool) *IdentityMiddleware {
	return &IdentityMiddleware{
		users:    users,
		optional: optional,
	}
}

// Handler wraps an HTTP handler with identity resolution
func (m *IdentityMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.Header.Get(UserIDHeader))
		if userID == "" {
			if m.optional {
				next.ServeHTTP(w, r)
				return
			}
			httputil.WriteUnauthorized(w, "missing "+UserIDHeader+" header")
			return
		}

		user, err := m.users.GetUser(r.Context(), userID)
		if err != nil {
			if assets.IsNotFound(err) {
				observability.FromContext(r.Context()).WithField("user_id", userID).Warn("request from unknown user")
				httputil.WriteUnauthorized(w, "unknown user")
				return
			}
			httputil.WriteDomainError(w, r, err)
			return
		}

		ctx := contextkeys.WithUser(r.Context(), user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
