package notify

import (
	"context"

	"github.com/platinummonkey/assetvault/pkg/observability"
)

// Kind identifies what happened to the asset
type Kind string

const (
	KindAssetShared    Kind = "asset_shared"
	KindAssetSubmitted Kind = "asset_submitted"
	KindAssetApproved  Kind = "asset_approved"
	KindAssetRejected  Kind = "asset_rejected"
)

// Notification is a single message to one recipient
type Notification struct {
	RecipientID string `json:"recipient_id"`
	Kind        Kind   `json:"kind"`
	AssetID     string `json:"asset_id"`
	AssetTitle  string `json:"asset_title,omitempty"`
	ActorName   string `json:"actor_name"`
	Message     string `json:"message,omitempty"`
}

// Notifier delivers a notification synchronously
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// NotifierFunc adapts a function to Notifier
type NotifierFunc func(ctx context.Context, n Notification) error

// Notify implements Notifier
func (f NotifierFunc) Notify(ctx context.Context, n Notification) error {
	return f(ctx, n)
}

// LogNotifier writes notifications to the structured log. It is the default
// when no webhook is configured.
type LogNotifier struct {
	logger *observability.Logger
}

// NewLogNotifier creates a log notifier
func NewLogNotifier(logger *observability.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify implements Notifier
func (l *LogNotifier) Notify(ctx context.Context, n Notification) error {
	l.logger.WithFields(map[string]interface{}{
		"recipient_id": n.RecipientID,
		"kind":         string(n.Kind),
		"asset_id":     n.AssetID,
		"actor":        n.ActorName,
	}).Info("notification")
	return nil
}
