package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"golang.org/x/sync/errgroup"
)

// CheckFunc probes a single dependency
type CheckFunc func(ctx context.Context) error

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

const defaultProbeTimeout = 3 * time.Second

type dependency struct {
	name     string
	critical bool
	check    CheckFunc
}

// HealthChecker runs dependency probes for the readiness endpoint. A failing
// critical dependency makes the service unhealthy; any other failure only
// degrades it.
type HealthChecker struct {
	version      string
	started      time.Time
	probeTimeout time.Duration

	mu   sync.RWMutex
	deps []dependency
}

// NewHealthChecker creates a health checker reporting version
func NewHealthChecker(version string) *HealthChecker {
	return &HealthChecker{
		version:      version,
		started:      time.Now(),
		probeTimeout: defaultProbeTimeout,
	}
}

// AddCheck registers a dependency probe. Registering a name twice replaces the probe.
func (h *HealthChecker) AddCheck(name string, critical bool, check CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()

	dep := dependency{name: name, critical: critical, check: check}
	for i := range h.deps {
		if h.deps[i].name == name {
			h.deps[i] = dep
			return
		}
	}
	h.deps = append(h.deps, dep)
}

// RedisCheck pings a redis client
func RedisCheck(client *redis.Client) CheckFunc {
	return func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}
}

// HealthStatus is the readiness report
type HealthStatus struct {
	Status       string                      `json:"status"`
	Timestamp    time.Time                   `json:"timestamp"`
	Version      string                      `json:"version,omitempty"`
	Dependencies map[string]DependencyStatus `json:"dependencies,omitempty"`
}

// DependencyStatus is the result of one probe
type DependencyStatus struct {
	Status    string `json:"status"`
	Critical  bool   `json:"critical"`
	Message   string `json:"message,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}

// Check runs every registered probe concurrently, each under its own timeout
func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	h.mu.RLock()
	deps := append([]dependency(nil), h.deps...)
	h.mu.RUnlock()

	results := make([]DependencyStatus, len(deps))
	var g errgroup.Group
	for i, dep := range deps {
		i, dep := i, dep
		g.Go(func() error {
			results[i] = h.probe(ctx, dep)
			return nil
		})
	}
	g.Wait()

	status := HealthStatus{
		Status:       StatusHealthy,
		Timestamp:    time.Now(),
		Version:      h.version,
		Dependencies: make(map[string]DependencyStatus, len(deps)),
	}
	for i, dep := range deps {
		res := results[i]
		status.Dependencies[dep.name] = res
		switch {
		case res.Status == StatusHealthy:
		case dep.critical:
			status.Status = StatusUnhealthy
		case status.Status == StatusHealthy:
			status.Status = StatusDegraded
		}
	}
	return status
}

func (h *HealthChecker) probe(ctx context.Context, dep dependency) DependencyStatus {
	ctx, cancel := context.WithTimeout(ctx, h.probeTimeout)
	defer cancel()

	start := time.Now()
	err := dep.check(ctx)
	res := DependencyStatus{
		Status:    StatusHealthy,
		Critical:  dep.critical,
		LatencyMS: time.Since(start).Milliseconds(),
	}
	if err != nil {
		res.Status = StatusUnhealthy
		res.Message = err.Error()
	}
	return res
}

func writeHealthJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(body)
}

// Liveness answers 200 while the process is serving
func (h *HealthChecker) Liveness(w http.ResponseWriter, r *http.Request) {
	writeHealthJSON(w, http.StatusOK, map[string]interface{}{
		"status":         StatusHealthy,
		"version":        h.version,
		"uptime_seconds": int64(time.Since(h.started).Seconds()),
	})
}

// Readiness answers 503 when a critical dependency is down; degraded is still ready
func (h *HealthChecker) Readiness(w http.ResponseWriter, r *http.Request) {
	status := h.Check(r.Context())

	code := http.StatusOK
	if status.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeHealthJSON(w, code, status)
}

// RegisterHealthRoutes registers health check endpoints
func RegisterHealthRoutes(mux *http.ServeMux, checker *HealthChecker) {
	mux.HandleFunc("/health", checker.Readiness)
	mux.HandleFunc("/health/live", checker.Liveness)
	mux.HandleFunc("/health/ready", checker.Readiness)
}
