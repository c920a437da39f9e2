package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync/atomic"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/platinummonkey/assetvault/pkg/observability"
	"github.com/platinummonkey/assetvault/pkg/storage"
)

// ConnectionConfig holds database connection configuration
type ConnectionConfig struct {
	PrimaryURL  string
	ReplicaURLs []string
	MaxConns    int
	MinConns    int
	Timeout     time.Duration
	MaxLifetime time.Duration
	MaxIdleTime time.Duration
}

// ConfigFromStorage derives pool settings from the storage config
func ConfigFromStorage(cfg storage.Config) ConnectionConfig {
	return ConnectionConfig{
		PrimaryURL:  cfg.PostgresURL,
		ReplicaURLs: ParseReplicaURLs(cfg.PostgresReplicaURLs),
		MaxConns:    cfg.PostgresMaxConns,
		MinConns:    cfg.PostgresMinConns,
		Timeout:     cfg.PostgresTimeout,
		MaxLifetime: time.Hour,
		MaxIdleTime: 10 * time.Minute,
	}
}

// replica is a read pool that is skipped while down and picked up again
// once a health pass reaches it.
type replica struct {
	db   *sql.DB
	name string
	down atomic.Bool
}

// ConnectionManager routes writes and transactions to the primary and spreads
// reads over the healthy replicas, falling back to the primary when none are.
type ConnectionManager struct {
	primary  *sql.DB
	replicas []*replica
	next     atomic.Uint32
	config   ConnectionConfig
	logger   *observability.Logger
}

type openFunc func(dsn string) (*sql.DB, error)

func openPostgres(dsn string) (*sql.DB, error) {
	return sql.Open("postgres", dsn)
}

// NewConnectionManager connects to the primary and every reachable replica.
// Replicas that fail the first ping are logged and left out.
func NewConnectionManager(config ConnectionConfig, logger *observability.Logger) (*ConnectionManager, error) {
	return newConnectionManager(config, logger, openPostgres)
}

func newConnectionManager(config ConnectionConfig, logger *observability.Logger, open openFunc) (*ConnectionManager, error) {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, os.Stderr)
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	cm := &ConnectionManager{config: config, logger: logger}

	primary, err := cm.connect(open, config.PrimaryURL, config.MaxConns)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to primary %s: %w", displayName(config.PrimaryURL, "primary"), err)
	}
	cm.primary = primary

	// replicas get half the primary's pool, at least two
	replicaConns := max(config.MaxConns/2, 2)
	for i, dsn := range config.ReplicaURLs {
		name := displayName(dsn, fmt.Sprintf("replica-%d", i))
		db, err := cm.connect(open, dsn, replicaConns)
		if err != nil {
			logger.WithError(err).WithField("replica", name).Warn("skipping unreachable replica")
			continue
		}
		cm.replicas = append(cm.replicas, &replica{db: db, name: name})
	}

	logger.WithField("replicas", len(cm.replicas)).Info("connection manager initialized")
	return cm, nil
}

// NewConnectionManagerFromDB wraps an already open pool without replicas
func NewConnectionManagerFromDB(db *sql.DB, logger *observability.Logger) *ConnectionManager {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, os.Stderr)
	}
	return &ConnectionManager{primary: db, logger: logger}
}

func (cm *ConnectionManager) connect(open openFunc, dsn string, maxConns int) (*sql.DB, error) {
	db, err := open(dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(cm.config.MinConns)
	db.SetConnMaxLifetime(cm.config.MaxLifetime)
	db.SetConnMaxIdleTime(cm.config.MaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), cm.config.Timeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// displayName identifies a DSN in logs by host and database only
func displayName(dsn, fallback string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.Host == "" {
		return fallback
	}
	return u.Host + u.Path
}

// Primary returns the pool used for writes and transactions
func (cm *ConnectionManager) Primary() *sql.DB {
	return cm.primary
}

// Replica returns the next healthy replica in rotation, or the primary
func (cm *ConnectionManager) Replica() *sql.DB {
	n := uint32(len(cm.replicas))
	if n == 0 {
		return cm.primary
	}
	start := cm.next.Add(1)
	for i := uint32(0); i < n; i++ {
		r := cm.replicas[(start+i)%n]
		if !r.down.Load() {
			return r.db
		}
	}
	return cm.primary
}

// CheckReplicas pings every replica, marking failures down and successes up.
// It returns the number of healthy replicas.
func (cm *ConnectionManager) CheckReplicas(ctx context.Context) int {
	healthy := 0
	for _, r := range cm.replicas {
		err := r.db.PingContext(ctx)
		wasDown := r.down.Swap(err != nil)
		switch {
		case err != nil && !wasDown:
			cm.logger.WithError(err).WithField("replica", r.name).Warn("replica marked down")
		case err == nil && wasDown:
			cm.logger.WithField("replica", r.name).Info("replica recovered")
		}
		if err == nil {
			healthy++
		}
	}
	return healthy
}

// HealthCheck fails only when the primary is unreachable. Replica state is
// refreshed on the way since reads fall back to the primary anyway.
func (cm *ConnectionManager) HealthCheck(ctx context.Context) error {
	if err := cm.primary.PingContext(ctx); err != nil {
		return fmt.Errorf("primary unhealthy: %w", err)
	}
	cm.CheckReplicas(ctx)
	return nil
}

// ReplicaStats describes one replica pool
type ReplicaStats struct {
	Name    string
	Healthy bool
	sql.DBStats
}

// ConnectionStats holds statistics for all database connections
type ConnectionStats struct {
	Primary  sql.DBStats
	Replicas []ReplicaStats
}

// Stats returns pool statistics for the primary and each replica
func (cm *ConnectionManager) Stats() ConnectionStats {
	stats := ConnectionStats{Primary: cm.primary.Stats()}
	for _, r := range cm.replicas {
		stats.Replicas = append(stats.Replicas, ReplicaStats{
			Name:    r.name,
			Healthy: !r.down.Load(),
			DBStats: r.db.Stats(),
		})
	}
	return stats
}

// Close closes the primary and every replica
func (cm *ConnectionManager) Close() error {
	var errs []error
	if err := cm.primary.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close primary: %w", err))
	}
	for _, r := range cm.replicas {
		if err := r.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", r.name, err))
		}
	}
	return errors.Join(errs...)
}

// StartMaintenance re-checks replicas and publishes pool and replica metrics
// every interval until ctx is done.
func (cm *ConnectionManager) StartMaintenance(ctx context.Context, interval time.Duration, metrics *observability.Metrics) {
	if interval <= 0 {
		interval = 30 * time.Second
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		defer observability.RecoverPanic(cm.logger, "connection maintenance")

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
				healthy := cm.CheckReplicas(checkCtx)
				cancel()
				metrics.RecordReplicaHealth(healthy)
				metrics.RecordDBStats(cm.primary.Stats())
			}
		}
	}()
}

// ParseReplicaURLs splits a comma-separated list, dropping blank entries
func ParseReplicaURLs(list string) []string {
	var urls []string
	for _, u := range strings.Split(list, ",") {
		if u = strings.TrimSpace(u); u != "" {
			urls = append(urls, u)
		}
	}
	return urls
}
