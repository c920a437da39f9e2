package visibility

import (
	"context"

	"github.com/platinummonkey/assetvault/pkg/assets"
)

// StaticGrants is a fixed GrantLookup for tests.
// Users maps asset ID to recipient user IDs; Roles maps asset ID to granted roles.
type StaticGrants struct {
	Users map[string][]string
	Roles map[string][]assets.Role
	Err   error
}

// HasUserGrant implements GrantLookup
func (g StaticGrants) HasUserGrant(ctx context.Context, assetID, userID string) (bool, error) {
	if g.Err != nil {
		return false, g.Err
	}
	for _, id := range g.Users[assetID] {
		if id == userID {
			return true, nil
		}
	}
	return false, nil
}

// HasRoleGrant implements GrantLookup
func (g StaticGrants) HasRoleGrant(ctx context.Context, assetID string, role assets.Role) (bool, error) {
	if g.Err != nil {
		return false, g.Err
	}
	for _, r := range g.Roles[assetID] {
		if r == role {
			return true, nil
		}
	}
	return false, nil
}
