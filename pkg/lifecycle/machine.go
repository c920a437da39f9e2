package lifecycle

import (
	"context"
	"strings"
	"time"

	"github.com/platinummonkey/assetvault/pkg/assets"
	"github.com/platinummonkey/assetvault/pkg/audit"
	"github.com/platinummonkey/assetvault/pkg/notify"
	"github.com/platinummonkey/assetvault/pkg/observability"
	"github.com/platinummonkey/assetvault/pkg/storage"
)

// NewAsset describes an upload
type NewAsset struct {
	ID              string            `json:"id,omitempty"`
	Title           string            `json:"title"`
	Kind            assets.Kind       `json:"kind"`
	UploadType      assets.UploadType `json:"upload_type"`
	SubmitForReview bool              `json:"submit_for_review,omitempty"`
}

// ApproveRequest approves a pending asset, optionally changing its visibility
type ApproveRequest struct {
	AssetID     string             `json:"-"`
	ReviewerID  string             `json:"-"`
	Visibility  *assets.Visibility `json:"visibility,omitempty"`
	AllowedRole *assets.Role       `json:"allowed_role,omitempty"`
}

// RejectRequest rejects a pending asset
type RejectRequest struct {
	AssetID    string `json:"-"`
	ReviewerID string `json:"-"`
	Reason     string `json:"reason"`
}

// ChangeVisibilityRequest changes the visibility of an SEO asset outside review
type ChangeVisibilityRequest struct {
	AssetID     string            `json:"-"`
	ActorID     string            `json:"-"`
	Visibility  assets.Visibility `json:"visibility"`
	AllowedRole *assets.Role      `json:"allowed_role,omitempty"`
}

// Machine applies review transitions. Each mutation locks the asset, writes the
// new state, its approval record and audit events in one transaction, and only
// then notifies.
type Machine struct {
	store      storage.Store
	dispatcher *notify.Dispatcher
	metrics    *observability.Metrics
	now        func() time.Time
}

// Option configures a Machine
type Option func(*Machine)

// WithMetrics records transitions
func WithMetrics(metrics *observability.Metrics) Option {
	return func(m *Machine) { m.metrics = metrics }
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

// NewMachine creates a lifecycle machine. dispatcher may be nil.
func NewMachine(store storage.Store, dispatcher *notify.Dispatcher, opts ...Option) *Machine {
	m := &Machine{
		store:      store,
		dispatcher: dispatcher,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create stores a new draft owned by uploaderID. Assets start uploader-only and
// inherit the uploader's company.
func (m *Machine) Create(ctx context.Context, uploaderID string, req NewAsset) (*assets.Asset, error) {
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		return nil, assets.Validationf("title is required")
	}
	if !req.Kind.Valid() {
		return nil, assets.Validationf("invalid kind %q", req.Kind)
	}
	if !req.UploadType.Valid() {
		return nil, assets.Validationf("invalid upload type %q", req.UploadType)
	}
	if req.SubmitForReview && req.UploadType != assets.UploadTypeSEO {
		return nil, assets.Validationf("only seo assets go through review")
	}

	uploader, err := m.store.GetUser(ctx, uploaderID)
	if err != nil {
		return nil, err
	}

	now := m.now().UTC()
	asset := &assets.Asset{
		ID:         req.ID,
		Title:      req.Title,
		Kind:       req.Kind,
		UploaderID: uploader.ID,
		UploadType: req.UploadType,
		Status:     assets.StatusDraft,
		Visibility: assets.VisibilityUploaderOnly,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if uploader.CompanyID != nil {
		asset.CompanyID = assets.StringPtr(*uploader.CompanyID)
	}

	err = m.store.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		if err := tx.CreateAsset(ctx, asset); err != nil {
			return err
		}
		if err := tx.RecordAudit(ctx, audit.NewAssetEvent(ctx, audit.EventTypeAssetCreated, uploader, asset)); err != nil {
			return err
		}
		if !req.SubmitForReview {
			return nil
		}

		asset.Status = assets.StatusPendingReview
		if err := tx.UpdateAsset(ctx, asset); err != nil {
			return err
		}
		return tx.RecordAudit(ctx, statusEvent(ctx, audit.EventTypeAssetSubmitted, uploader, asset, assets.StatusDraft))
	})
	if err != nil {
		return nil, err
	}

	if req.SubmitForReview {
		m.metrics.RecordTransition(string(assets.StatusDraft), string(assets.StatusPendingReview))
		m.notifyAdmins(ctx, uploader, asset)
	}
	return asset, nil
}

// Submit sends a draft or rejected SEO asset to review
func (m *Machine) Submit(ctx context.Context, assetID, actorID string) (*assets.Asset, error) {
	actor, err := m.store.GetUser(ctx, actorID)
	if err != nil {
		return nil, err
	}

	var (
		asset *assets.Asset
		from  assets.Status
	)
	err = m.store.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		asset, err = tx.GetAssetForUpdate(ctx, assetID)
		if err != nil {
			return err
		}
		if !asset.OwnedBy(actor) {
			return assets.Forbiddenf("only the uploader may submit asset %s", assetID)
		}
		if !asset.IsSEO() {
			return assets.Validationf("asset %s is a document and is not reviewed", assetID)
		}
		if err := checkTransition(asset, assets.StatusPendingReview); err != nil {
			return err
		}

		from = asset.Status
		asset.Status = assets.StatusPendingReview
		asset.UpdatedAt = m.now().UTC()
		if err := tx.UpdateAsset(ctx, asset); err != nil {
			return err
		}
		return tx.RecordAudit(ctx, statusEvent(ctx, audit.EventTypeAssetSubmitted, actor, asset, from))
	})
	if err != nil {
		return nil, err
	}

	m.metrics.RecordTransition(string(from), string(assets.StatusPendingReview))
	m.notifyAdmins(ctx, actor, asset)
	return asset, nil
}

// Approve moves a pending SEO asset to approved. A visibility change in the same
// request is audited as its own event.
func (m *Machine) Approve(ctx context.Context, req ApproveRequest) (*assets.Asset, error) {
	reviewer, err := m.store.GetUser(ctx, req.ReviewerID)
	if err != nil {
		return nil, err
	}

	var asset *assets.Asset
	err = m.store.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		asset, err = tx.GetAssetForUpdate(ctx, req.AssetID)
		if err != nil {
			return err
		}
		if err := checkReviewer(reviewer, asset); err != nil {
			return err
		}
		if err := checkTransition(asset, assets.StatusApproved); err != nil {
			return err
		}
		if req.Visibility == nil && req.AllowedRole != nil {
			return assets.Validationf("allowed role requires a visibility")
		}
		if req.Visibility != nil {
			if err := checkVisibility(asset, *req.Visibility, req.AllowedRole); err != nil {
				return err
			}
		}

		now := m.now().UTC()
		before := asset.Clone()
		asset.MarkApproved(reviewer.ID, now)

		if err := tx.AppendApproval(ctx, &assets.ApprovalRecord{
			AssetID:    asset.ID,
			ReviewerID: reviewer.ID,
			Action:     assets.ApprovalActionApprove,
			CreatedAt:  now,
		}); err != nil {
			return err
		}

		changed := req.Visibility != nil && applyVisibility(asset, *req.Visibility, req.AllowedRole)
		if err := tx.UpdateAsset(ctx, asset); err != nil {
			return err
		}
		if err := tx.RecordAudit(ctx, statusEvent(ctx, audit.EventTypeAssetApproved, reviewer, asset, before.Status)); err != nil {
			return err
		}
		if changed {
			return tx.RecordAudit(ctx, visibilityEvent(ctx, reviewer, before, asset, "visibility changed on approval"))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.metrics.RecordTransition(string(assets.StatusPendingReview), string(assets.StatusApproved))
	m.notifyUploader(ctx, reviewer, asset, notify.KindAssetApproved, "")
	return asset, nil
}

// Reject moves a pending SEO asset to rejected with a reason
func (m *Machine) Reject(ctx context.Context, req RejectRequest) (*assets.Asset, error) {
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return nil, assets.Validationf("a rejection reason is required")
	}

	reviewer, err := m.store.GetUser(ctx, req.ReviewerID)
	if err != nil {
		return nil, err
	}

	var asset *assets.Asset
	err = m.store.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		asset, err = tx.GetAssetForUpdate(ctx, req.AssetID)
		if err != nil {
			return err
		}
		if err := checkReviewer(reviewer, asset); err != nil {
			return err
		}
		if err := checkTransition(asset, assets.StatusRejected); err != nil {
			return err
		}

		now := m.now().UTC()
		from := asset.Status
		asset.MarkRejected(reviewer.ID, reason, now)

		if err := tx.AppendApproval(ctx, &assets.ApprovalRecord{
			AssetID:    asset.ID,
			ReviewerID: reviewer.ID,
			Action:     assets.ApprovalActionReject,
			Reason:     assets.StringPtr(reason),
			CreatedAt:  now,
		}); err != nil {
			return err
		}
		if err := tx.UpdateAsset(ctx, asset); err != nil {
			return err
		}

		event := statusEvent(ctx, audit.EventTypeAssetRejected, reviewer, asset, from)
		event.Metadata["reason"] = reason
		return tx.RecordAudit(ctx, event)
	})
	if err != nil {
		return nil, err
	}

	m.metrics.RecordTransition(string(assets.StatusPendingReview), string(assets.StatusRejected))
	m.notifyUploader(ctx, reviewer, asset, notify.KindAssetRejected, reason)
	return asset, nil
}

// ChangeVisibility lets an admin change the visibility of an SEO asset in any status
func (m *Machine) ChangeVisibility(ctx context.Context, req ChangeVisibilityRequest) (*assets.Asset, error) {
	actor, err := m.store.GetUser(ctx, req.ActorID)
	if err != nil {
		return nil, err
	}

	var asset *assets.Asset
	err = m.store.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		asset, err = tx.GetAssetForUpdate(ctx, req.AssetID)
		if err != nil {
			return err
		}
		if !actor.IsAdmin() {
			return assets.Forbiddenf("only admins may change visibility")
		}
		if !asset.IsSEO() {
			return assets.Forbiddenf("visibility of document %s is managed by sharing", asset.ID)
		}
		if err := checkVisibility(asset, req.Visibility, req.AllowedRole); err != nil {
			return err
		}

		before := asset.Clone()
		if !applyVisibility(asset, req.Visibility, req.AllowedRole) {
			return nil
		}
		asset.UpdatedAt = m.now().UTC()
		if err := tx.UpdateAsset(ctx, asset); err != nil {
			return err
		}
		return tx.RecordAudit(ctx, visibilityEvent(ctx, actor, before, asset, ""))
	})
	if err != nil {
		return nil, err
	}
	return asset, nil
}

func checkReviewer(reviewer *assets.User, asset *assets.Asset) error {
	if !reviewer.IsAdmin() {
		return assets.Forbiddenf("only admins may review assets")
	}
	if !asset.IsSEO() {
		return assets.Forbiddenf("asset %s is a document and is not reviewed", asset.ID)
	}
	return nil
}

func statusEvent(ctx context.Context, eventType audit.EventType, actor *assets.User, asset *assets.Asset, from assets.Status) *audit.AuditEvent {
	event := audit.NewAssetEvent(ctx, eventType, actor, asset)
	event.Changes = audit.StatusChange(from, asset.Status)
	return event
}

func visibilityEvent(ctx context.Context, actor *assets.User, before, after *assets.Asset, message string) *audit.AuditEvent {
	event := audit.NewAssetEvent(ctx, audit.EventTypeAssetVisibilityChanged, actor, after)
	event.Changes = audit.VisibilityChange(before.Visibility, after.Visibility)
	if before.AllowedRole != nil {
		event.Changes.Before["allowed_role"] = string(*before.AllowedRole)
	}
	if after.AllowedRole != nil {
		event.Changes.After["allowed_role"] = string(*after.AllowedRole)
	}
	event.Message = message
	return event
}

func (m *Machine) notifyAdmins(ctx context.Context, actor *assets.User, asset *assets.Asset) {
	if m.dispatcher == nil {
		return
	}
	admins, err := m.store.ListUsersByRole(ctx, assets.RoleAdmin)
	if err != nil {
		observability.FromContext(ctx).WithError(err).Warn("failed to list admins for review notification")
		return
	}

	notes := make([]notify.Notification, 0, len(admins))
	for _, admin := range admins {
		if admin.ID == actor.ID {
			continue
		}
		notes = append(notes, notify.Notification{
			RecipientID: admin.ID,
			Kind:        notify.KindAssetSubmitted,
			AssetID:     asset.ID,
			AssetTitle:  asset.Title,
			ActorName:   actor.Name,
		})
	}
	m.dispatcher.Dispatch(ctx, notes...)
}

func (m *Machine) notifyUploader(ctx context.Context, reviewer *assets.User, asset *assets.Asset, kind notify.Kind, message string) {
	if asset.UploaderID == reviewer.ID {
		return
	}
	m.dispatcher.Dispatch(ctx, notify.Notification{
		RecipientID: asset.UploaderID,
		Kind:        kind,
		AssetID:     asset.ID,
		AssetTitle:  asset.Title,
		ActorName:   reviewer.Name,
		Message:     message,
	})
}
