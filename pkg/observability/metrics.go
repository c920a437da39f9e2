package observability

import (
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "assetvault"

// Metrics holds the service's Prometheus collectors.
// Every Record method is safe to call on a nil *Metrics.
type Metrics struct {
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	AuthzDecisionsTotal *prometheus.CounterVec
	ListRowsDropped     prometheus.Counter

	LifecycleTransitionsTotal *prometheus.CounterVec
	ShareOperationsTotal      *prometheus.CounterVec
	NotificationsTotal        *prometheus.CounterVec

	GrantCacheLookupsTotal *prometheus.CounterVec

	// DBConnections is labelled by state: in_use or idle
	DBConnections     *prometheus.GaugeVec
	DBWaitCount       prometheus.Gauge
	DBReplicasHealthy prometheus.Gauge
}

// NewMetrics creates the collectors and registers them on registry
func NewMetrics(registry prometheus.Registerer) *Metrics {
	f := promauto.With(registry)

	return &Metrics{
		HTTPRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "http", Name: "requests_total",
			Help: "HTTP requests by method, route template and status code.",
		}, []string{"method", "route", "status"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "http", Name: "request_duration_seconds",
			Help:    "HTTP request latency by method and route template.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"method", "route"}),

		AuthzDecisionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "authz", Name: "decisions_total",
			Help: "Permission checks by action and result.",
		}, []string{"action", "result"}),
		ListRowsDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "listfilter", Name: "rows_dropped_total",
			Help: "Rows the storage predicate returned that the row-level visibility pass removed.",
		}),

		LifecycleTransitionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "lifecycle", Name: "transitions_total",
			Help: "Asset status transitions.",
		}, []string{"from", "to"}),
		ShareOperationsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "share", Name: "operations_total",
			Help: "Share grants created or revoked, by target kind.",
		}, []string{"operation", "target"}),
		NotificationsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "notifications_total",
			Help: "Notification deliveries by kind and result.",
		}, []string{"kind", "result"}),

		GrantCacheLookupsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "grant_cache", Name: "lookups_total",
			Help: "Grant cache lookups by tier and result.",
		}, []string{"tier", "result"}),

		DBConnections: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "db", Name: "connections",
			Help: "Primary pool connections by state.",
		}, []string{"state"}),
		DBWaitCount: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "db", Name: "wait_count",
			Help: "Connections the primary pool has waited for since start.",
		}),
		DBReplicasHealthy: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "db", Name: "replicas_healthy",
			Help: "Read replicas that answered the last health pass.",
		}),
	}
}

func outcome(ok bool, yes, no string) string {
	if ok {
		return yes
	}
	return no
}

// RecordDecision counts an authorization decision
func (m *Metrics) RecordDecision(action string, allowed bool) {
	if m == nil {
		return
	}
	m.AuthzDecisionsTotal.WithLabelValues(action, outcome(allowed, "allow", "deny")).Inc()
}

// RecordRowsDropped counts rows removed by the row-level list pass
func (m *Metrics) RecordRowsDropped(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ListRowsDropped.Add(float64(n))
}

// RecordTransition counts a lifecycle status change
func (m *Metrics) RecordTransition(from, to string) {
	if m == nil {
		return
	}
	m.LifecycleTransitionsTotal.WithLabelValues(from, to).Inc()
}

// RecordShare counts a share operation ("create" or "revoke")
func (m *Metrics) RecordShare(operation, target string) {
	if m == nil {
		return
	}
	m.ShareOperationsTotal.WithLabelValues(operation, target).Inc()
}

// RecordNotification counts a notification delivery attempt
func (m *Metrics) RecordNotification(kind string, err error) {
	if m == nil {
		return
	}
	m.NotificationsTotal.WithLabelValues(kind, outcome(err == nil, "sent", "failed")).Inc()
}

// RecordCacheLookup counts a grant cache lookup for tier ("l1" or "l2")
func (m *Metrics) RecordCacheLookup(tier string, hit bool) {
	if m == nil {
		return
	}
	m.GrantCacheLookupsTotal.WithLabelValues(tier, outcome(hit, "hit", "miss")).Inc()
}

// RecordDBStats publishes primary pool statistics
func (m *Metrics) RecordDBStats(stats sql.DBStats) {
	if m == nil {
		return
	}
	m.DBConnections.WithLabelValues("in_use").Set(float64(stats.InUse))
	m.DBConnections.WithLabelValues("idle").Set(float64(stats.Idle))
	m.DBWaitCount.Set(float64(stats.WaitCount))
}

// RecordReplicaHealth publishes how many replicas passed the last check
func (m *Metrics) RecordReplicaHealth(healthy int) {
	if m == nil {
		return
	}
	m.DBReplicasHealthy.Set(float64(healthy))
}

// statusCapture remembers the status code for the metrics middleware
type statusCapture struct {
	http.ResponseWriter
	code int
}

func (s *statusCapture) WriteHeader(code int) {
	s.code = code
	s.ResponseWriter.WriteHeader(code)
}

// routeLabel is the mux path template, which keeps label cardinality bounded
func routeLabel(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return "unmatched"
}

// HTTPMetricsMiddleware counts and times requests. Install it with
// Router.Use so the matched route is known; a nil metrics passes through.
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if metrics == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sc := &statusCapture{ResponseWriter: w, code: http.StatusOK}
			next.ServeHTTP(sc, r)

			route := routeLabel(r)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(sc.code)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// RegisterMetricsEndpoint serves registry at /metrics
func RegisterMetricsEndpoint(mux *http.ServeMux, registry *prometheus.Registry) {
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
}
