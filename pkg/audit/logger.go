package audit

import (
	"context"
	"sync"
	"time"

	"github.com/platinummonkey/assetvault/pkg/assets"
	"github.com/platinummonkey/assetvault/pkg/contextkeys"
)

// Logger is the interface for audit logging
type Logger interface {
	// Log logs an audit event
	Log(ctx context.Context, event *AuditEvent) error

	// Close closes the logger and flushes any buffered logs
	Close() error
}

// WithLogger adds an audit logger to the context
func WithLogger(ctx context.Context, logger Logger) context.Context {
	return contextkeys.WithAuditLogger(ctx, logger)
}

// FromContext retrieves the audit logger from context
func FromContext(ctx context.Context) Logger {
	if logger, ok := ctx.Value(contextkeys.AuditLoggerKey).(Logger); ok {
		return logger
	}
	return &noOpLogger{}
}

// noOpLogger is a logger that does nothing (used when no logger is configured)
type noOpLogger struct{}

func (l *noOpLogger) Log(ctx context.Context, event *AuditEvent) error {
	return nil
}

func (l *noOpLogger) Close() error {
	return nil
}

// NewAssetEvent builds a successful event performed by actor against asset
func NewAssetEvent(ctx context.Context, eventType EventType, actor *assets.User, asset *assets.Asset) *AuditEvent {
	event := &AuditEvent{
		Timestamp:    time.Now().UTC(),
		EventType:    eventType,
		Status:       EventStatusSuccess,
		ResourceType: ResourceTypeAsset,
		RequestID:    contextkeys.GetRequestID(ctx),
		Metadata:     make(map[string]interface{}),
	}

	if actor != nil {
		event.UserID = assets.StringPtr(actor.ID)
		event.ActorName = actor.Name
		event.ActorRole = string(actor.Role)
		event.CompanyID = actor.CompanyID
	}

	if asset != nil {
		event.ResourceID = asset.ID
		event.AssetTitle = asset.Title
		event.Metadata["upload_type"] = string(asset.UploadType)
	}

	return event
}

// VisibilityChange returns the change details for a visibility transition
func VisibilityChange(before, after assets.Visibility) *ChangeDetails {
	return &ChangeDetails{
		Before: map[string]interface{}{"visibility": string(before)},
		After:  map[string]interface{}{"visibility": string(after)},
	}
}

// StatusChange returns the change details for a lifecycle transition
func StatusChange(before, after assets.Status) *ChangeDetails {
	return &ChangeDetails{
		Before: map[string]interface{}{"status": string(before)},
		After:  map[string]interface{}{"status": string(after)},
	}
}

// MemoryLogger keeps events in process. It backs the in-memory store and tests.
type MemoryLogger struct {
	mu     sync.Mutex
	nextID int64
	events []*AuditEvent
}

// NewMemoryLogger creates an empty in-memory audit logger
func NewMemoryLogger() *MemoryLogger {
	return &MemoryLogger{}
}

// Log appends the event and assigns it an ID
func (l *MemoryLogger) Log(ctx context.Context, event *AuditEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.nextID++
	event.ID = l.nextID
	l.events = append(l.events, event)
	return nil
}

// Events returns a snapshot of every logged event in insertion order
func (l *MemoryLogger) Events() []*AuditEvent {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]*AuditEvent, len(l.events))
	copy(out, l.events)
	return out
}

// Search filters logged events the same way DBLogger.Search does, newest first
func (l *MemoryLogger) Search(ctx context.Context, filter SearchFilter) ([]*AuditEvent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	matched := make([]*AuditEvent, 0)
	for i := len(l.events) - 1; i >= 0; i-- {
		if filter.matches(l.events[i]) {
			matched = append(matched, l.events[i])
		}
	}

	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return []*AuditEvent{}, nil
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

// Cleanup drops events older than the retention policy
func (l *MemoryLogger) Cleanup(ctx context.Context, policy RetentionPolicy) (int64, error) {
	if policy.RetentionDays <= 0 {
		return 0, nil
	}
	cutoff := policy.Cutoff(time.Now().UTC())

	l.mu.Lock()
	defer l.mu.Unlock()

	kept := l.events[:0]
	var removed int64
	for _, e := range l.events {
		if e.Timestamp.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	l.events = kept
	return removed, nil
}

// Close is a no-op for the in-memory logger
func (l *MemoryLogger) Close() error {
	return nil
}

func (f SearchFilter) matches(e *AuditEvent) bool {
	if f.StartTime != nil && e.Timestamp.Before(*f.StartTime) {
		return false
	}
	if f.EndTime != nil && e.Timestamp.After(*f.EndTime) {
		return false
	}
	if f.UserID != nil && (e.UserID == nil || *e.UserID != *f.UserID) {
		return false
	}
	if len(f.EventTypes) > 0 {
		found := false
		for _, et := range f.EventTypes {
			if et == e.EventType {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Status != nil && e.Status != *f.Status {
		return false
	}
	if f.ResourceType != "" && e.ResourceType != f.ResourceType {
		return false
	}
	if f.ResourceID != "" && e.ResourceID != f.ResourceID {
		return false
	}
	return true
}
