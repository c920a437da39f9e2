// Package contextkeys provides centralized context key definitions
//
// IMPORTANT: All context keys used across the application must be defined here.
// This prevents typos, documents dependencies, and makes key usage discoverable.
//
// USAGE PATTERN:
//
//	import "github.com/platinummonkey/assetvault/pkg/contextkeys"
//	ctx = contextkeys.WithUser(ctx, user)
//	user := contextkeys.GetUser(ctx)
package contextkeys

import (
	"context"

	"github.com/platinummonkey/assetvault/pkg/assets"
)

// Key is the type for context keys to prevent collisions
type Key string

const (
	// UserKey contains *assets.User
	// Set by: middleware.IdentityMiddleware (pkg/middleware/identity.go)
	// Required by: All asset endpoints
	// Type: *assets.User
	UserKey Key = "user"

	// RequestIDKey contains request ID string (UUID)
	// Set by: middleware.RequestIDMiddleware
	// Used by: Logger, audit trail
	// Type: string
	RequestIDKey Key = "request_id"

	// AuditLoggerKey contains audit.Logger interface
	// Set by: callers that want events outside a storage transaction
	// Used by: audit.FromContext
	// Type: audit.Logger
	AuditLoggerKey Key = "audit_logger"

	// LoggerKey contains *observability.Logger
	// Set by: middleware.RequestIDMiddleware
	// Used by: observability.FromContext
	LoggerKey Key = "logger"
)

// WithUser adds the resolved caller to the context
func WithUser(ctx context.Context, user *assets.User) context.Context {
	return context.WithValue(ctx, UserKey, user)
}

// GetUser retrieves the resolved caller from context
func GetUser(ctx context.Context) *assets.User {
	if user, ok := ctx.Value(UserKey).(*assets.User); ok {
		return user
	}
	return nil
}

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// WithAuditLogger adds audit logger to the context
func WithAuditLogger(ctx context.Context, logger interface{}) context.Context {
	return context.WithValue(ctx, AuditLoggerKey, logger)
}
