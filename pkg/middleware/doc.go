// Package middleware provides HTTP middleware for caller identity, request
// scoping, and rate limiting.
//
// # Middleware Components
//
// RequestIDMiddleware: assigns X-Request-ID and attaches the request logger and
// audit logger to the context
//
//	router.Use(middleware.RequestIDMiddleware(logger, auditStore))
//
// IdentityMiddleware: resolves the X-User-ID header set by the gateway
//
//	identity := middleware.NewIdentityMiddleware(store, false)
//	router.Use(identity.Handler)
//
// RateLimitMiddleware: per-user limits, redis-backed when a client is given
//
//	limiter := middleware.NewRateLimitMiddleware(600, redisClient)
//	router.Use(limiter.Handler)
//
// # Rate Limiting
//
// Anonymous: 100 req/min, 10 burst, keyed by client IP
// Per-User: configurable req/min with a 5% burst, keyed by user ID
//
// Redis errors fall back to the in-process limiter.
package middleware
