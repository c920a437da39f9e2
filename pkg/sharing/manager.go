package sharing

import (
	"context"
	"fmt"
	"time"

	"github.com/platinummonkey/assetvault/pkg/assets"
	"github.com/platinummonkey/assetvault/pkg/audit"
	"github.com/platinummonkey/assetvault/pkg/notify"
	"github.com/platinummonkey/assetvault/pkg/observability"
	"github.com/platinummonkey/assetvault/pkg/storage"
	"github.com/platinummonkey/assetvault/pkg/visibility"
)

// DefaultMaxRecipients caps a single user-targeted share
const DefaultMaxRecipients = 50

// Invalidator drops cached grant answers for an asset
type Invalidator interface {
	Invalidate(ctx context.Context, assetID string) error
}

// ShareRequest creates grants on an asset
type ShareRequest struct {
	AssetID      string            `json:"-"`
	SharerID     string            `json:"-"`
	RecipientIDs []string          `json:"recipient_ids,omitempty"`
	TargetType   assets.TargetType `json:"target_type,omitempty"` // defaults to user
	TargetID     string            `json:"target_id,omitempty"`   // role name for role targets
}

// ShareResult reports the grants matching the request, new or pre-existing
type ShareResult struct {
	Grants            []*assets.ShareGrant `json:"grants"`
	Created           int                  `json:"created"`
	Visibility        assets.Visibility    `json:"visibility"`
	VisibilityChanged bool                 `json:"visibility_changed"`
}

// Manager creates and revokes share grants. Every mutation runs in one storage
// transaction holding the asset lock, so the grant count check and any
// visibility flip it triggers cannot interleave with another share or revoke.
type Manager struct {
	store         storage.Store
	evaluator     *visibility.Evaluator
	dispatcher    *notify.Dispatcher
	cache         Invalidator
	metrics       *observability.Metrics
	maxRecipients int
	now           func() time.Time
}

// Option configures a Manager
type Option func(*Manager)

// WithCache invalidates c after each committed change
func WithCache(c Invalidator) Option {
	return func(m *Manager) { m.cache = c }
}

// WithMetrics records share operations
func WithMetrics(metrics *observability.Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// WithMaxRecipients overrides DefaultMaxRecipients
func WithMaxRecipients(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxRecipients = n
		}
	}
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a sharing manager. dispatcher may be nil.
func NewManager(store storage.Store, evaluator *visibility.Evaluator, dispatcher *notify.Dispatcher, opts ...Option) *Manager {
	m := &Manager{
		store:         store,
		evaluator:     evaluator,
		dispatcher:    dispatcher,
		maxRecipients: DefaultMaxRecipients,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Share grants access to users or a role
func (m *Manager) Share(ctx context.Context, req ShareRequest) (*ShareResult, error) {
	if req.TargetType == "" {
		req.TargetType = assets.TargetUser
	}

	var recipients []*assets.User
	var role assets.Role
	switch req.TargetType {
	case assets.TargetUser:
		ids, err := m.validateRecipients(req)
		if err != nil {
			return nil, err
		}
		recipients, err = m.loadUsers(ctx, ids)
		if err != nil {
			return nil, err
		}
	case assets.TargetRole:
		role = assets.Role(req.TargetID)
		if !role.Valid() {
			return nil, assets.Validationf("invalid target role %q", req.TargetID)
		}
		if len(req.RecipientIDs) > 0 {
			return nil, assets.Validationf("role shares take no recipients")
		}
	case assets.TargetTeam:
		return nil, assets.Validationf("team sharing is not supported")
	default:
		return nil, assets.Validationf("invalid target type %q", req.TargetType)
	}

	sharer, err := m.store.GetUser(ctx, req.SharerID)
	if err != nil {
		return nil, err
	}

	var (
		result = &ShareResult{}
		asset  *assets.Asset
		fresh  []*assets.ShareGrant
	)
	err = m.store.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		result.Grants, fresh, result.VisibilityChanged = nil, nil, false

		asset, err = tx.GetAssetForUpdate(ctx, req.AssetID)
		if err != nil {
			return err
		}
		if err := checkShareable(sharer, asset); err != nil {
			return err
		}

		now := m.now().UTC()
		targets := make([]grantTarget, 0, len(recipients)+1)
		if req.TargetType == assets.TargetRole {
			targets = append(targets, grantTarget{role: role})
		}
		for _, r := range recipients {
			targets = append(targets, grantTarget{userID: r.ID})
		}

		for _, target := range targets {
			grant, created, err := ensureGrant(ctx, tx, asset, sharer, target, now)
			if err != nil {
				return err
			}
			result.Grants = append(result.Grants, grant)
			if !created {
				continue
			}
			fresh = append(fresh, grant)
			if err := tx.RecordAudit(ctx, shareEvent(ctx, audit.EventTypeShareCreated, sharer, asset, grant)); err != nil {
				return err
			}
		}

		if asset.Visibility == assets.VisibilityUploaderOnly {
			before := asset.Visibility
			asset.Visibility = assets.VisibilitySelectedUsers
			asset.UpdatedAt = now
			if err := tx.UpdateAsset(ctx, asset); err != nil {
				return err
			}
			event := audit.NewAssetEvent(ctx, audit.EventTypeAssetVisibilityChanged, sharer, asset)
			event.Changes = audit.VisibilityChange(before, asset.Visibility)
			event.Message = "visibility changed by share"
			if err := tx.RecordAudit(ctx, event); err != nil {
				return err
			}
			result.VisibilityChanged = true
		}
		result.Visibility = asset.Visibility
		return nil
	})
	if err != nil {
		return nil, err
	}
	result.Created = len(fresh)

	m.afterCommit(ctx, asset.ID)
	m.notifyShared(ctx, sharer, asset, fresh)
	for range fresh {
		m.metrics.RecordShare("create", string(req.TargetType))
	}
	return result, nil
}

// Revoke removes a user grant. When the last grant on a selected-users asset
// goes, the asset reverts to uploader-only.
func (m *Manager) Revoke(ctx context.Context, assetID, sharerID, recipientID string) error {
	return m.revoke(ctx, assetID, sharerID, assets.TargetUser, func(ctx context.Context, tx storage.Tx) (*assets.ShareGrant, error) {
		return tx.GetUserGrant(ctx, assetID, recipientID)
	})
}

// RevokeRole removes a role grant
func (m *Manager) RevokeRole(ctx context.Context, assetID, sharerID string, role assets.Role) error {
	if !role.Valid() {
		return assets.Validationf("invalid role %q", role)
	}
	return m.revoke(ctx, assetID, sharerID, assets.TargetRole, func(ctx context.Context, tx storage.Tx) (*assets.ShareGrant, error) {
		return tx.GetRoleGrant(ctx, assetID, role)
	})
}

func (m *Manager) revoke(ctx context.Context, assetID, sharerID string, target assets.TargetType,
	find func(ctx context.Context, tx storage.Tx) (*assets.ShareGrant, error)) error {

	sharer, err := m.store.GetUser(ctx, sharerID)
	if err != nil {
		return err
	}

	err = m.store.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		asset, err := tx.GetAssetForUpdate(ctx, assetID)
		if err != nil {
			return err
		}
		if err := checkUploader(sharer, asset); err != nil {
			return err
		}

		grant, err := find(ctx, tx)
		if err != nil {
			return err
		}
		if err := tx.DeleteGrant(ctx, grant.ID); err != nil {
			return err
		}
		if err := tx.RecordAudit(ctx, shareEvent(ctx, audit.EventTypeShareRevoked, sharer, asset, grant)); err != nil {
			return err
		}

		remaining, err := tx.CountGrants(ctx, asset.ID)
		if err != nil {
			return err
		}
		if remaining > 0 || asset.Visibility != assets.VisibilitySelectedUsers {
			return nil
		}

		before := asset.Visibility
		asset.Visibility = assets.VisibilityUploaderOnly
		asset.UpdatedAt = m.now().UTC()
		if err := tx.UpdateAsset(ctx, asset); err != nil {
			return err
		}
		event := audit.NewAssetEvent(ctx, audit.EventTypeAssetVisibilityChanged, sharer, asset)
		event.Changes = audit.VisibilityChange(before, asset.Visibility)
		event.Message = "last share revoked"
		return tx.RecordAudit(ctx, event)
	})
	if err != nil {
		return err
	}

	m.afterCommit(ctx, assetID)
	m.metrics.RecordShare("revoke", string(target))
	return nil
}

// ListShares returns the grants on an asset. The uploader and admins who can
// view the asset may list them.
func (m *Manager) ListShares(ctx context.Context, assetID, actorID string) ([]*assets.ShareGrant, error) {
	actor, err := m.store.GetUser(ctx, actorID)
	if err != nil {
		return nil, err
	}
	asset, err := m.store.GetAsset(ctx, assetID)
	if err != nil {
		return nil, err
	}

	if !asset.OwnedBy(actor) {
		if !actor.IsAdmin() {
			return nil, assets.Forbiddenf("only the uploader or an admin may list shares of asset %s", assetID)
		}
		ok, err := m.evaluator.CanView(ctx, actor, asset)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, assets.Forbiddenf("asset %s is not visible", assetID)
		}
	}

	return m.store.ListGrants(ctx, assetID)
}

func (m *Manager) validateRecipients(req ShareRequest) ([]string, error) {
	if len(req.RecipientIDs) == 0 {
		return nil, assets.Validationf("at least one recipient is required")
	}

	seen := make(map[string]bool, len(req.RecipientIDs))
	ids := make([]string, 0, len(req.RecipientIDs))
	for _, id := range req.RecipientIDs {
		if id == "" {
			return nil, assets.Validationf("recipient id must not be empty")
		}
		if id == req.SharerID {
			return nil, assets.Validationf("cannot share an asset with yourself")
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}

	if len(ids) > m.maxRecipients {
		return nil, assets.Validationf("too many recipients: %d (max %d)", len(ids), m.maxRecipients)
	}
	return ids, nil
}

func (m *Manager) loadUsers(ctx context.Context, ids []string) ([]*assets.User, error) {
	users := make([]*assets.User, 0, len(ids))
	for _, id := range ids {
		u, err := m.store.GetUser(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("recipient %s: %w", id, err)
		}
		users = append(users, u)
	}
	return users, nil
}

func (m *Manager) afterCommit(ctx context.Context, assetID string) {
	if m.cache == nil {
		return
	}
	if err := m.cache.Invalidate(ctx, assetID); err != nil {
		observability.FromContext(ctx).WithError(err).WithField("asset_id", assetID).Warn("grant cache invalidation failed")
	}
}

func (m *Manager) notifyShared(ctx context.Context, sharer *assets.User, asset *assets.Asset, fresh []*assets.ShareGrant) {
	if m.dispatcher == nil || len(fresh) == 0 {
		return
	}

	var ids []string
	for _, g := range fresh {
		switch g.TargetType {
		case assets.TargetUser:
			ids = append(ids, *g.SharedWithID)
		case assets.TargetRole:
			holders, err := m.store.ListUsersByRole(ctx, assets.Role(*g.TargetID))
			if err != nil {
				observability.FromContext(ctx).WithError(err).Warn("failed to resolve role members for notification")
				continue
			}
			for _, u := range holders {
				if u.ID != sharer.ID {
					ids = append(ids, u.ID)
				}
			}
		}
	}

	notes := make([]notify.Notification, 0, len(ids))
	for _, id := range ids {
		notes = append(notes, notify.Notification{
			RecipientID: id,
			Kind:        notify.KindAssetShared,
			AssetID:     asset.ID,
			AssetTitle:  asset.Title,
			ActorName:   sharer.Name,
		})
	}
	m.dispatcher.Dispatch(ctx, notes...)
}
