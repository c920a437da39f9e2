package audit

import "time"

// EventType names what happened to an asset
type EventType string

const (
	EventTypeAssetCreated           EventType = "asset.created"
	EventTypeAssetSubmitted         EventType = "asset.submitted"
	EventTypeAssetApproved          EventType = "asset.approved"
	EventTypeAssetRejected          EventType = "asset.rejected"
	EventTypeAssetVisibilityChanged EventType = "asset.visibility_changed"

	EventTypeShareCreated EventType = "share.created"
	EventTypeShareRevoked EventType = "share.revoked"

	// EventTypeAuthzAccessDenied records a refused action check
	EventTypeAuthzAccessDenied EventType = "authz.access_denied"
)

// EventStatus is the outcome of the audited action
type EventStatus string

const (
	EventStatusSuccess EventStatus = "success"
	EventStatusFailure EventStatus = "failure"
	EventStatusDenied  EventStatus = "denied"
)

// ResourceType is the kind of object an event is about
type ResourceType string

const ResourceTypeAsset ResourceType = "asset"

// AuditEvent is one row of the audit trail
type AuditEvent struct {
	ID        int64       `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	EventType EventType   `json:"event_type"`
	Status    EventStatus `json:"status"`

	// UserID is nil for events raised by the system itself
	UserID    *string `json:"user_id,omitempty"`
	ActorName string  `json:"actor_name,omitempty"`
	ActorRole string  `json:"actor_role,omitempty"`
	CompanyID *string `json:"company_id,omitempty"`

	ResourceType ResourceType `json:"resource_type,omitempty"`
	ResourceID   string       `json:"resource_id,omitempty"`
	AssetTitle   string       `json:"asset_title,omitempty"`

	RequestID string                 `json:"request_id,omitempty"`
	Message   string                 `json:"message,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Changes   *ChangeDetails         `json:"changes,omitempty"`
}

// ChangeDetails holds the fields a transition touched, before and after
type ChangeDetails struct {
	Before map[string]interface{} `json:"before,omitempty"`
	After  map[string]interface{} `json:"after,omitempty"`
}

// SearchFilter narrows an audit search. Zero values match everything;
// results come back newest first.
type SearchFilter struct {
	StartTime *time.Time
	EndTime   *time.Time

	UserID     *string
	EventTypes []EventType
	Status     *EventStatus

	ResourceType ResourceType
	ResourceID   string

	Limit  int
	Offset int
}

// RetentionPolicy bounds how long events are kept. Zero RetentionDays keeps everything.
type RetentionPolicy struct {
	RetentionDays int
}

// Cutoff returns the oldest timestamp that survives the policy
func (p RetentionPolicy) Cutoff(now time.Time) time.Time {
	return now.AddDate(0, 0, -p.RetentionDays)
}
