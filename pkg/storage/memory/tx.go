package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/platinummonkey/assetvault/pkg/assets"
	"github.com/platinummonkey/assetvault/pkg/audit"
	"github.com/platinummonkey/assetvault/pkg/storage"
)

// tx stages writes until commit
type tx struct {
	s    *Store
	held map[string]*sync.Mutex

	assets    map[string]*assets.Asset
	created   map[string]bool
	newGrants map[string]*assets.ShareGrant
	deleted   map[string]bool
	approvals []*assets.ApprovalRecord
	events    []*audit.AuditEvent
}

var _ storage.Tx = (*tx)(nil)

func newTx(s *Store) *tx {
	return &tx{
		s:         s,
		held:      make(map[string]*sync.Mutex),
		assets:    make(map[string]*assets.Asset),
		created:   make(map[string]bool),
		newGrants: make(map[string]*assets.ShareGrant),
		deleted:   make(map[string]bool),
	}
}

func (t *tx) lock(id string) {
	if _, ok := t.held[id]; ok {
		return
	}
	l := t.s.assetLock(id)
	l.Lock()
	t.held[id] = l
}

func (t *tx) release() {
	for id, l := range t.held {
		l.Unlock()
		delete(t.held, id)
	}
}

func (t *tx) GetAssetForUpdate(ctx context.Context, id string) (*assets.Asset, error) {
	t.lock(id)

	if a, ok := t.assets[id]; ok {
		return a.Clone(), nil
	}

	t.s.mu.RLock()
	a, ok := t.s.assets[id]
	t.s.mu.RUnlock()
	if !ok {
		return nil, assets.NotFoundf("asset %s", id)
	}
	return a.Clone(), nil
}

func (t *tx) CreateAsset(ctx context.Context, asset *assets.Asset) error {
	if asset.ID == "" {
		asset.ID = newID()
	}
	t.lock(asset.ID)

	t.s.mu.RLock()
	_, exists := t.s.assets[asset.ID]
	t.s.mu.RUnlock()
	if exists || t.created[asset.ID] {
		return assets.Conflictf("asset %s already exists", asset.ID)
	}

	t.assets[asset.ID] = asset.Clone()
	t.created[asset.ID] = true
	return nil
}

func (t *tx) UpdateAsset(ctx context.Context, asset *assets.Asset) error {
	if _, ok := t.held[asset.ID]; !ok {
		return fmt.Errorf("asset %s must be locked before update", asset.ID)
	}
	if _, staged := t.assets[asset.ID]; !staged {
		t.s.mu.RLock()
		_, exists := t.s.assets[asset.ID]
		t.s.mu.RUnlock()
		if !exists {
			return assets.NotFoundf("asset %s", asset.ID)
		}
	}
	t.assets[asset.ID] = asset.Clone()
	return nil
}

// visibleGrants returns committed grants not deleted in this tx plus staged ones
func (t *tx) visibleGrants() map[string]*assets.ShareGrant {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()

	out := make(map[string]*assets.ShareGrant, len(t.s.grants)+len(t.newGrants))
	for id, g := range t.s.grants {
		if !t.deleted[id] {
			out[id] = g
		}
	}
	for id, g := range t.newGrants {
		out[id] = g
	}
	return out
}

func (t *tx) GetUserGrant(ctx context.Context, assetID, userID string) (*assets.ShareGrant, error) {
	if g := findUserGrant(t.visibleGrants(), assetID, userID); g != nil {
		return cloneGrant(g), nil
	}
	return nil, assets.NotFoundf("no share of asset %s with user %s", assetID, userID)
}

func (t *tx) GetRoleGrant(ctx context.Context, assetID string, role assets.Role) (*assets.ShareGrant, error) {
	if g := findRoleGrant(t.visibleGrants(), assetID, role); g != nil {
		return cloneGrant(g), nil
	}
	return nil, assets.NotFoundf("no share of asset %s with role %s", assetID, role)
}

func (t *tx) CreateGrant(ctx context.Context, grant *assets.ShareGrant) error {
	visible := t.visibleGrants()
	switch grant.TargetType {
	case assets.TargetUser:
		if grant.SharedWithID == nil {
			return assets.Validationf("user grant requires a recipient")
		}
		if findUserGrant(visible, grant.AssetID, *grant.SharedWithID) != nil {
			return assets.Conflictf("asset %s already shared with user %s", grant.AssetID, *grant.SharedWithID)
		}
	case assets.TargetRole:
		if grant.TargetID == nil {
			return assets.Validationf("role grant requires a target role")
		}
		if findRoleGrant(visible, grant.AssetID, assets.Role(*grant.TargetID)) != nil {
			return assets.Conflictf("asset %s already shared with role %s", grant.AssetID, *grant.TargetID)
		}
	}

	if grant.ID == "" {
		grant.ID = newID()
	}
	t.newGrants[grant.ID] = cloneGrant(grant)
	return nil
}

func (t *tx) DeleteGrant(ctx context.Context, grantID string) error {
	if _, ok := t.newGrants[grantID]; ok {
		delete(t.newGrants, grantID)
		return nil
	}

	t.s.mu.RLock()
	_, exists := t.s.grants[grantID]
	t.s.mu.RUnlock()
	if !exists || t.deleted[grantID] {
		return assets.NotFoundf("grant %s", grantID)
	}
	t.deleted[grantID] = true
	return nil
}

func (t *tx) CountGrants(ctx context.Context, assetID string) (int, error) {
	n := 0
	for _, g := range t.visibleGrants() {
		if g.AssetID == assetID {
			n++
		}
	}
	return n, nil
}

func (t *tx) AppendApproval(ctx context.Context, record *assets.ApprovalRecord) error {
	if record.ID == "" {
		record.ID = newID()
	}
	c := *record
	t.approvals = append(t.approvals, &c)
	return nil
}

func (t *tx) RecordAudit(ctx context.Context, event *audit.AuditEvent) error {
	t.events = append(t.events, event)
	return nil
}

func (t *tx) commit(ctx context.Context) error {
	t.s.mu.Lock()
	for id, a := range t.assets {
		t.s.assets[id] = a
	}
	for id := range t.deleted {
		delete(t.s.grants, id)
	}
	for id, g := range t.newGrants {
		t.s.grants[id] = g
	}
	t.s.approvals = append(t.s.approvals, t.approvals...)
	t.s.mu.Unlock()

	for _, e := range t.events {
		if err := t.s.audit.Log(ctx, e); err != nil {
			return fmt.Errorf("failed to record audit event: %w", err)
		}
	}
	return nil
}
