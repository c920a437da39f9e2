package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/platinummonkey/assetvault/pkg/assets"
	"github.com/platinummonkey/assetvault/pkg/audit"
	"github.com/platinummonkey/assetvault/pkg/storage"
)

// Store is an in-process implementation of storage.Store.
//
// Transactions stage their writes and apply them on commit, so readers never observe
// uncommitted state. Mutations on the same asset are serialized by a per-asset mutex
// taken in GetAssetForUpdate.
type Store struct {
	mu        sync.RWMutex
	users     map[string]*assets.User
	assets    map[string]*assets.Asset
	grants    map[string]*assets.ShareGrant
	approvals []*assets.ApprovalRecord

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	audit *audit.MemoryLogger
}

var _ storage.Store = (*Store)(nil)

// New creates an empty store. Audit events are kept in the returned store's logger.
func New() *Store {
	return &Store{
		users:  make(map[string]*assets.User),
		assets: make(map[string]*assets.Asset),
		grants: make(map[string]*assets.ShareGrant),
		locks:  make(map[string]*sync.Mutex),
		audit:  audit.NewMemoryLogger(),
	}
}

// Audit returns the logger receiving committed audit events
func (s *Store) Audit() *audit.MemoryLogger {
	return s.audit
}

// UpsertUser creates or replaces a user
func (s *Store) UpsertUser(ctx context.Context, user *assets.User) error {
	if user == nil || user.ID == "" {
		return assets.Validationf("user id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	u := *user
	s.users[u.ID] = &u
	return nil
}

// GetUser returns a copy of the user with the given ID
func (s *Store) GetUser(ctx context.Context, id string) (*assets.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, assets.NotFoundf("user %s", id)
	}
	c := *u
	return &c, nil
}

// ListUsersByRole returns every user holding role, ordered by ID
func (s *Store) ListUsersByRole(ctx context.Context, role assets.Role) ([]*assets.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*assets.User, 0)
	for _, u := range s.users {
		if u.Role == role {
			c := *u
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetAsset returns a copy of the asset with the given ID
func (s *Store) GetAsset(ctx context.Context, id string) (*assets.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.assets[id]
	if !ok {
		return nil, assets.NotFoundf("asset %s", id)
	}
	return a.Clone(), nil
}

// ListAssets filters in process. The SQL predicate in q.Where cannot be evaluated
// here, so q.RowFilter is applied instead before pagination.
func (s *Store) ListAssets(ctx context.Context, q storage.ListQuery) ([]*assets.Asset, error) {
	s.mu.RLock()
	candidates := make([]*assets.Asset, 0, len(s.assets))
	for _, a := range s.assets {
		if q.UploadType != nil && a.UploadType != *q.UploadType {
			continue
		}
		if q.Status != nil && a.Status != *q.Status {
			continue
		}
		if q.CompanyID != nil && (a.CompanyID == nil || *a.CompanyID != *q.CompanyID) {
			continue
		}
		candidates = append(candidates, a.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].CreatedAt.Equal(candidates[j].CreatedAt) {
			return candidates[i].ID > candidates[j].ID
		}
		return candidates[i].CreatedAt.After(candidates[j].CreatedAt)
	})

	matched := candidates
	if q.RowFilter != nil {
		matched = make([]*assets.Asset, 0, len(candidates))
		for _, a := range candidates {
			ok, err := q.RowFilter(ctx, a)
			if err != nil {
				return nil, fmt.Errorf("failed to filter assets: %w", err)
			}
			if ok {
				matched = append(matched, a)
			}
		}
	}

	if q.Offset > 0 {
		if q.Offset >= len(matched) {
			return []*assets.Asset{}, nil
		}
		matched = matched[q.Offset:]
	}
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}
	return matched, nil
}

// HasUserGrant reports whether a user-target grant exists for (asset, user)
func (s *Store) HasUserGrant(ctx context.Context, assetID, userID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return findUserGrant(s.grants, assetID, userID) != nil, nil
}

// HasRoleGrant reports whether a role-target grant exists for (asset, role)
func (s *Store) HasRoleGrant(ctx context.Context, assetID string, role assets.Role) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return findRoleGrant(s.grants, assetID, role) != nil, nil
}

// ListGrants returns every grant on an asset, oldest first
func (s *Store) ListGrants(ctx context.Context, assetID string) ([]*assets.ShareGrant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return collectGrants(s.grants, func(g *assets.ShareGrant) bool {
		return g.AssetID == assetID
	}), nil
}

// ListGrantsForUser returns every user-target grant naming userID, oldest first
func (s *Store) ListGrantsForUser(ctx context.Context, userID string) ([]*assets.ShareGrant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return collectGrants(s.grants, func(g *assets.ShareGrant) bool {
		return g.TargetType == assets.TargetUser && g.SharedWithID != nil && *g.SharedWithID == userID
	}), nil
}

// ListApprovals returns the review history of an asset, oldest first
func (s *Store) ListApprovals(ctx context.Context, assetID string) ([]*assets.ApprovalRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*assets.ApprovalRecord, 0)
	for _, r := range s.approvals {
		if r.AssetID == assetID {
			c := *r
			out = append(out, &c)
		}
	}
	return out, nil
}

// InTx runs fn against a staged transaction and applies its writes only if fn succeeds
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) error {
	tx := newTx(s)
	defer tx.release()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	return tx.commit(ctx)
}

// HealthCheck always succeeds for the in-memory store
func (s *Store) HealthCheck(ctx context.Context) error {
	return nil
}

// Close is a no-op
func (s *Store) Close() error {
	return nil
}

func (s *Store) assetLock(id string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()

	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

func findUserGrant(grants map[string]*assets.ShareGrant, assetID, userID string) *assets.ShareGrant {
	for _, g := range grants {
		if g.AssetID == assetID && g.TargetType == assets.TargetUser &&
			g.SharedWithID != nil && *g.SharedWithID == userID {
			return g
		}
	}
	return nil
}

func findRoleGrant(grants map[string]*assets.ShareGrant, assetID string, role assets.Role) *assets.ShareGrant {
	for _, g := range grants {
		if g.AssetID == assetID && g.TargetType == assets.TargetRole &&
			g.TargetID != nil && *g.TargetID == string(role) {
			return g
		}
	}
	return nil
}

func collectGrants(grants map[string]*assets.ShareGrant, keep func(*assets.ShareGrant) bool) []*assets.ShareGrant {
	out := make([]*assets.ShareGrant, 0)
	for _, g := range grants {
		if keep(g) {
			out = append(out, cloneGrant(g))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func cloneGrant(g *assets.ShareGrant) *assets.ShareGrant {
	c := *g
	if g.SharedWithID != nil {
		c.SharedWithID = assets.StringPtr(*g.SharedWithID)
	}
	if g.TargetID != nil {
		c.TargetID = assets.StringPtr(*g.TargetID)
	}
	return &c
}

func newID() string {
	return uuid.New().String()
}
