// Package audit records lifecycle and sharing events for every asset mutation.
//
// # Overview
//
// Each state change on an asset produces one or more AuditEvent values. Events are
// written through the same transaction as the mutation they describe, so an event
// exists exactly when its mutation committed.
//
// # Event Types
//
// Lifecycle: asset.created, asset.submitted, asset.approved, asset.rejected,
// asset.visibility_changed
// Sharing: share.created, share.revoked
//
// A visibility transition caused by another action (approval with a new mode, the
// first share on an uploader-only asset, the last revoke) is always logged as its own
// asset.visibility_changed event next to the primary one.
//
// # Usage Example
//
//	event := audit.NewAssetEvent(ctx, audit.EventTypeAssetApproved, reviewer, asset)
//	event.Changes = audit.StatusChange(assets.StatusPendingReview, assets.StatusApproved)
//	if err := tx.RecordAudit(ctx, event); err != nil {
//		return err
//	}
//
// Search audit logs:
//
//	events, err := store.Search(ctx, audit.SearchFilter{
//		ResourceType: audit.ResourceTypeAsset,
//		ResourceID:   assetID,
//		Limit:        50,
//	})
//
// # Retention Policy
//
// RetentionJob deletes events older than RetentionPolicy.RetentionDays and is scheduled
// with robfig/cron by the server binary.
//
// # Related Packages
//
//   - pkg/storage: Tx.RecordAudit joins events to the mutation transaction
//   - pkg/lifecycle, pkg/sharing: event producers
package audit
