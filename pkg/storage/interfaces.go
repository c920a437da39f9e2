package storage

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/platinummonkey/assetvault/pkg/assets"
	"github.com/platinummonkey/assetvault/pkg/audit"
)

// UserReader loads the read-only identity records every decision depends on
type UserReader interface {
	GetUser(ctx context.Context, id string) (*assets.User, error)
	ListUsersByRole(ctx context.Context, role assets.Role) ([]*assets.User, error)
}

// UserWriter upserts users synced from the identity provider
type UserWriter interface {
	UpsertUser(ctx context.Context, user *assets.User) error
}

// AssetReader provides point and predicate lookups for assets
type AssetReader interface {
	GetAsset(ctx context.Context, id string) (*assets.Asset, error)

	// ListAssets returns assets matching q ordered by newest first.
	// Backends that cannot evaluate q.Where may ignore it; callers always run a
	// row-level pass over the result.
	ListAssets(ctx context.Context, q ListQuery) ([]*assets.Asset, error)
}

// GrantReader answers the sharing directory questions
type GrantReader interface {
	HasUserGrant(ctx context.Context, assetID, userID string) (bool, error)
	HasRoleGrant(ctx context.Context, assetID string, role assets.Role) (bool, error)
	ListGrants(ctx context.Context, assetID string) ([]*assets.ShareGrant, error)
	ListGrantsForUser(ctx context.Context, userID string) ([]*assets.ShareGrant, error)
}

// ApprovalReader reads the append-only review history
type ApprovalReader interface {
	ListApprovals(ctx context.Context, assetID string) ([]*assets.ApprovalRecord, error)
}

// Transactor runs fn inside a single atomic unit of work.
// Either every write made through tx (audit events included) commits or none does.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// HealthChecker reports backend health
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Store is the full persistence surface used by the engine
type Store interface {
	UserReader
	UserWriter
	AssetReader
	GrantReader
	ApprovalReader
	Transactor
	HealthChecker
	Close() error
}

// Tx is the write surface available inside Transactor.InTx.
//
// GetAssetForUpdate takes the per-asset lock; it must be the first call for any
// existing asset the transaction mutates.
type Tx interface {
	GetAssetForUpdate(ctx context.Context, id string) (*assets.Asset, error)
	CreateAsset(ctx context.Context, asset *assets.Asset) error
	UpdateAsset(ctx context.Context, asset *assets.Asset) error

	// GetUserGrant and GetRoleGrant return assets.ErrNotFound when no grant exists
	GetUserGrant(ctx context.Context, assetID, userID string) (*assets.ShareGrant, error)
	GetRoleGrant(ctx context.Context, assetID string, role assets.Role) (*assets.ShareGrant, error)
	CreateGrant(ctx context.Context, grant *assets.ShareGrant) error
	DeleteGrant(ctx context.Context, grantID string) error
	CountGrants(ctx context.Context, assetID string) (int, error)

	AppendApproval(ctx context.Context, record *assets.ApprovalRecord) error
	RecordAudit(ctx context.Context, event *audit.AuditEvent) error
}

// ListQuery narrows an asset listing
type ListQuery struct {
	// Where is the visibility predicate built by the list filter
	Where sq.Sqlizer

	// RowFilter is the in-process equivalent of Where for backends without SQL
	RowFilter func(ctx context.Context, asset *assets.Asset) (bool, error)

	UploadType *assets.UploadType
	Status     *assets.Status
	CompanyID  *string

	Limit  int
	Offset int
}

// Config for storage backend
type Config struct {
	Type string // "memory" or "postgres"

	// PostgreSQL config
	PostgresURL         string
	PostgresReplicaURLs string // comma-separated
	PostgresMaxConns    int
	PostgresMinConns    int
	PostgresTimeout     time.Duration

	// Redis config
	RedisURL        string
	RedisPassword   string
	RedisDB         int
	RedisMaxRetries int
	RedisPoolSize   int

	// Grant cache config
	CacheEnabled bool
	GrantTTL     time.Duration // L2 (redis) entry lifetime
	L1CacheSize  int           // entries
	L1CacheTTL   time.Duration
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() Config {
	return Config{
		Type:             "memory",
		PostgresMaxConns: 20,
		PostgresMinConns: 2,
		PostgresTimeout:  10 * time.Second,
		RedisDB:          0,
		RedisMaxRetries:  3,
		RedisPoolSize:    10,
		CacheEnabled:     true,
		GrantTTL:         5 * time.Minute,
		L1CacheSize:      10000,
		L1CacheTTL:       30 * time.Second,
	}
}
