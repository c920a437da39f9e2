// Package config provides application configuration management from environment
// variables and an optional YAML file.
//
// # Overview
//
// Values are resolved in three layers: built-in defaults, then the YAML file named
// by ASSETVAULT_CONFIG_FILE, then ASSETVAULT_* environment variables. Blank variables
// are ignored; malformed ones fail LoadConfig with every offending name listed.
//
// # Configuration Structure
//
// Server settings:
//
//	ASSETVAULT_HOST="0.0.0.0"
//	ASSETVAULT_PORT="8080"
//	ASSETVAULT_HEALTH_PORT="9090"
//	ASSETVAULT_USERS_FILE="/etc/assetvault/users.yaml"
//
// Storage settings:
//
//	ASSETVAULT_STORAGE_TYPE="postgres"  # memory, postgres
//	ASSETVAULT_POSTGRES_URL="postgres://localhost/assetvault"
//	ASSETVAULT_POSTGRES_REPLICA_URLS="postgres://replica1/assetvault,postgres://replica2/assetvault"
//
// Grant cache settings:
//
//	ASSETVAULT_CACHE_ENABLED="true"
//	ASSETVAULT_REDIS_URL="redis://localhost:6379"
//	ASSETVAULT_GRANT_TTL="5m"
//	ASSETVAULT_L1_CACHE_SIZE="10000"
//
// Sharing, notification and audit settings:
//
//	ASSETVAULT_MAX_SHARE_RECIPIENTS="100"
//	ASSETVAULT_WEBHOOK_URL="https://hooks.example.com/assetvault"
//	ASSETVAULT_WEBHOOK_SECRET="..."
//	ASSETVAULT_AUDIT_RETENTION_DAYS="365"
//	ASSETVAULT_AUDIT_CLEANUP_SPEC="0 3 * * *"
//
// Observability settings:
//
//	ASSETVAULT_LOG_LEVEL="info"  # debug, info, warn, error
//	ASSETVAULT_METRICS_ENABLED="true"
//
// # Usage Example
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//
// # Related Packages
//
//   - pkg/storage: Uses storage configuration
//   - pkg/observability: Uses observability configuration
package config
