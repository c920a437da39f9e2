package audit

import (
	"context"
)

// Store provides methods for querying and managing audit logs
type Store interface {
	Logger

	// Search searches audit logs based on filters
	Search(ctx context.Context, filter SearchFilter) ([]*AuditEvent, error)

	// Cleanup removes audit logs older than the retention period
	Cleanup(ctx context.Context, policy RetentionPolicy) (int64, error)
}

var (
	_ Store = (*DBLogger)(nil)
	_ Store = (*MemoryLogger)(nil)
)
