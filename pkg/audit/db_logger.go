package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

const auditSchema = `
CREATE TABLE IF NOT EXISTS audit_logs (
	id            BIGSERIAL PRIMARY KEY,
	timestamp     TIMESTAMPTZ NOT NULL,
	event_type    VARCHAR(64) NOT NULL,
	status        VARCHAR(16) NOT NULL,
	user_id       VARCHAR(64),
	actor_name    VARCHAR(255),
	actor_role    VARCHAR(32),
	company_id    VARCHAR(64),
	resource_type VARCHAR(32),
	resource_id   VARCHAR(64),
	asset_title   VARCHAR(255),
	request_id    VARCHAR(64),
	message       TEXT,
	metadata      JSONB,
	changes       JSONB
);
CREATE INDEX IF NOT EXISTS idx_audit_logs_resource ON audit_logs (resource_type, resource_id, timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_audit_logs_user ON audit_logs (user_id, timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_audit_logs_timestamp ON audit_logs (timestamp);
`

var (
	psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

	eventColumns = []string{
		"id", "timestamp", "event_type", "status",
		"user_id", "actor_name", "actor_role", "company_id",
		"resource_type", "resource_id", "asset_title",
		"request_id", "message", "metadata", "changes",
	}
)

// DBLogger stores audit events in the audit_logs table
type DBLogger struct {
	db DBTX
}

// NewDBLogger creates the audit_logs table when missing and returns a logger on db
func NewDBLogger(db *sql.DB) (*DBLogger, error) {
	if db == nil {
		return nil, errors.New("database connection is required")
	}
	if _, err := db.ExecContext(context.Background(), auditSchema); err != nil {
		return nil, fmt.Errorf("failed to ensure audit_logs table: %w", err)
	}
	return &DBLogger{db: db}, nil
}

// ForTx returns a logger whose writes join tx. The table must already exist.
func ForTx(tx *sql.Tx) *DBLogger {
	return &DBLogger{db: tx}
}

// Log inserts event and sets its ID
func (l *DBLogger) Log(ctx context.Context, event *AuditEvent) error {
	// empty metadata and changes are stored as NULL
	var metadata, changes []byte
	var err error
	if len(event.Metadata) > 0 {
		if metadata, err = json.Marshal(event.Metadata); err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
	}
	if event.Changes != nil {
		if changes, err = json.Marshal(event.Changes); err != nil {
			return fmt.Errorf("failed to marshal changes: %w", err)
		}
	}

	query, args, err := psql.Insert("audit_logs").
		Columns(eventColumns[1:]...).
		Values(
			event.Timestamp, string(event.EventType), string(event.Status),
			event.UserID, event.ActorName, event.ActorRole, event.CompanyID,
			string(event.ResourceType), event.ResourceID, event.AssetTitle,
			event.RequestID, event.Message, metadata, changes,
		).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return fmt.Errorf("building audit insert: %w", err)
	}

	if err := l.db.QueryRowContext(ctx, query, args...).Scan(&event.ID); err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}
	return nil
}

// Search returns events matching filter, newest first
func (l *DBLogger) Search(ctx context.Context, filter SearchFilter) ([]*AuditEvent, error) {
	query, args, err := searchQuery(filter).ToSql()
	if err != nil {
		return nil, fmt.Errorf("building search query: %w", err)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search audit logs: %w", err)
	}
	defer rows.Close()

	events := make([]*AuditEvent, 0)
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit logs: %w", err)
	}
	return events, nil
}

func searchQuery(f SearchFilter) sq.SelectBuilder {
	qb := psql.Select(eventColumns...).From("audit_logs")

	if f.StartTime != nil {
		qb = qb.Where(sq.GtOrEq{"timestamp": *f.StartTime})
	}
	if f.EndTime != nil {
		qb = qb.Where(sq.LtOrEq{"timestamp": *f.EndTime})
	}
	if f.UserID != nil {
		qb = qb.Where(sq.Eq{"user_id": *f.UserID})
	}
	if len(f.EventTypes) > 0 {
		types := make(pq.StringArray, len(f.EventTypes))
		for i, et := range f.EventTypes {
			types[i] = string(et)
		}
		qb = qb.Where("event_type = ANY(?)", types)
	}
	if f.Status != nil {
		qb = qb.Where(sq.Eq{"status": string(*f.Status)})
	}
	if f.ResourceType != "" {
		qb = qb.Where(sq.Eq{"resource_type": string(f.ResourceType)})
	}
	if f.ResourceID != "" {
		qb = qb.Where(sq.Eq{"resource_id": f.ResourceID})
	}

	qb = qb.OrderBy("timestamp DESC", "id DESC")
	if f.Limit > 0 {
		qb = qb.Limit(uint64(f.Limit))
	}
	if f.Offset > 0 {
		qb = qb.Offset(uint64(f.Offset))
	}
	return qb
}

func scanEvent(rows *sql.Rows) (*AuditEvent, error) {
	var (
		e                       AuditEvent
		userID, companyID       sql.NullString
		actorName, actorRole    sql.NullString
		resourceType            sql.NullString
		resourceID, assetTitle  sql.NullString
		requestID, message      sql.NullString
		metadataRaw, changesRaw []byte
	)
	err := rows.Scan(
		&e.ID, &e.Timestamp, &e.EventType, &e.Status,
		&userID, &actorName, &actorRole, &companyID,
		&resourceType, &resourceID, &assetTitle,
		&requestID, &message, &metadataRaw, &changesRaw,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan audit log: %w", err)
	}

	if userID.Valid {
		e.UserID = &userID.String
	}
	if companyID.Valid {
		e.CompanyID = &companyID.String
	}
	e.ActorName = actorName.String
	e.ActorRole = actorRole.String
	e.ResourceType = ResourceType(resourceType.String)
	e.ResourceID = resourceID.String
	e.AssetTitle = assetTitle.String
	e.RequestID = requestID.String
	e.Message = message.String

	if len(metadataRaw) > 0 {
		if err := json.Unmarshal(metadataRaw, &e.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata for event %d: %w", e.ID, err)
		}
	}
	if len(changesRaw) > 0 {
		e.Changes = &ChangeDetails{}
		if err := json.Unmarshal(changesRaw, e.Changes); err != nil {
			return nil, fmt.Errorf("failed to unmarshal changes for event %d: %w", e.ID, err)
		}
	}
	return &e, nil
}

// Cleanup deletes events older than the policy allows
func (l *DBLogger) Cleanup(ctx context.Context, policy RetentionPolicy) (int64, error) {
	if policy.RetentionDays <= 0 {
		return 0, nil
	}

	query, args, err := psql.Delete("audit_logs").
		Where(sq.Lt{"timestamp": policy.Cutoff(time.Now().UTC())}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("building cleanup query: %w", err)
	}

	result, err := l.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up audit logs: %w", err)
	}
	return result.RowsAffected()
}

// Close is a no-op; the pool belongs to the store
func (l *DBLogger) Close() error {
	return nil
}
