// Package observability provides structured logging, Prometheus metrics, health
// checks and graceful shutdown.
//
// # Structured Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("asset_id", id).Info("asset approved")
//
// Request-scoped loggers pick up the request ID and caller from context:
//
//	observability.FromContext(ctx).Warn("notification failed")
//
// # Prometheus Metrics
//
//	metrics := observability.NewMetrics(registry)
//	metrics.RecordDecision("approve", true)
//
// All Record methods accept a nil receiver, so components can run without metrics.
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(version)
//	checker.AddCheck("store", true, store.HealthCheck)
//	checker.AddCheck("redis", false, observability.RedisCheck(client))
//
// # Related Packages
//
//   - pkg/config: Observability configuration
//   - pkg/middleware: Request ID middleware
package observability
