package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/platinummonkey/assetvault/pkg/observability"
)

// Migration represents a schema migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns every schema migration in order.
// The audit_logs table is owned by audit.DBLogger.
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create users table",
			SQL: `
				CREATE TABLE IF NOT EXISTS users (
					id VARCHAR(64) PRIMARY KEY,
					name VARCHAR(255) NOT NULL,
					email VARCHAR(255),
					role VARCHAR(32) NOT NULL,
					company_id VARCHAR(64)
				);

				CREATE INDEX IF NOT EXISTS idx_users_role ON users(role);
			`,
		},
		{
			Version:     2,
			Description: "Create assets table",
			SQL: `
				CREATE TABLE IF NOT EXISTS assets (
					id VARCHAR(64) PRIMARY KEY,
					title VARCHAR(512) NOT NULL,
					kind VARCHAR(32) NOT NULL,
					uploader_id VARCHAR(64) NOT NULL REFERENCES users(id),
					company_id VARCHAR(64),
					upload_type VARCHAR(16) NOT NULL,
					status VARCHAR(32) NOT NULL,
					visibility VARCHAR(32) NOT NULL,
					allowed_role VARCHAR(32),
					approved_at TIMESTAMP WITH TIME ZONE,
					approved_by_id VARCHAR(64),
					rejected_at TIMESTAMP WITH TIME ZONE,
					rejected_by_id VARCHAR(64),
					rejection_reason TEXT,
					created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
					CHECK (upload_type <> 'doc' OR visibility IN ('uploader_only', 'selected_users')),
					CHECK (approved_at IS NULL OR rejected_at IS NULL)
				);

				CREATE INDEX IF NOT EXISTS idx_assets_uploader_id ON assets(uploader_id);
				CREATE INDEX IF NOT EXISTS idx_assets_visibility ON assets(visibility);
				CREATE INDEX IF NOT EXISTS idx_assets_company_visibility ON assets(company_id, visibility);
				CREATE INDEX IF NOT EXISTS idx_assets_status ON assets(status);
				CREATE INDEX IF NOT EXISTS idx_assets_created_at ON assets(created_at DESC, id DESC);
			`,
		},
		{
			Version:     3,
			Description: "Create share_grants table",
			SQL: `
				CREATE TABLE IF NOT EXISTS share_grants (
					id VARCHAR(64) PRIMARY KEY,
					asset_id VARCHAR(64) NOT NULL REFERENCES assets(id) ON DELETE CASCADE,
					shared_by_id VARCHAR(64) NOT NULL REFERENCES users(id),
					shared_with_id VARCHAR(64) REFERENCES users(id) ON DELETE CASCADE,
					target_type VARCHAR(16) NOT NULL,
					target_id VARCHAR(64),
					created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
					CHECK (target_type <> 'user' OR shared_with_id IS NOT NULL),
					CHECK (target_type <> 'role' OR target_id IS NOT NULL)
				);

				CREATE UNIQUE INDEX IF NOT EXISTS idx_share_grants_user
					ON share_grants(asset_id, shared_with_id) WHERE target_type = 'user';
				CREATE UNIQUE INDEX IF NOT EXISTS idx_share_grants_role
					ON share_grants(asset_id, target_id) WHERE target_type = 'role';
				CREATE INDEX IF NOT EXISTS idx_share_grants_shared_with_id ON share_grants(shared_with_id);
			`,
		},
		{
			Version:     4,
			Description: "Create approval_records table",
			SQL: `
				CREATE TABLE IF NOT EXISTS approval_records (
					id VARCHAR(64) PRIMARY KEY,
					asset_id VARCHAR(64) NOT NULL REFERENCES assets(id) ON DELETE CASCADE,
					reviewer_id VARCHAR(64) NOT NULL REFERENCES users(id),
					action VARCHAR(16) NOT NULL,
					reason TEXT,
					created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_approval_records_asset_id ON approval_records(asset_id, created_at);
			`,
		},
	}
}

// RunMigrations applies every pending migration, each in its own transaction
func RunMigrations(ctx context.Context, db *sql.DB, logger *observability.Logger) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS assetvault_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM assetvault_migrations ORDER BY version")
	if err != nil {
		return fmt.Errorf("failed to query migrations: %w", err)
	}
	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	rows.Close()

	for _, migration := range GetMigrations() {
		if applied[migration.Version] {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to start transaction: %w", err)
		}
		if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO assetvault_migrations (version, description) VALUES ($1, $2)",
			migration.Version, migration.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}

		logger.WithField("version", migration.Version).WithField("description", migration.Description).Info("applied migration")
	}
	return nil
}
