package visibility

import (
	"context"
	"errors"
	"fmt"

	"github.com/platinummonkey/assetvault/pkg/assets"
)

// ErrUnknownVisibility is returned when an asset carries a mode no policy handles
var ErrUnknownVisibility = errors.New("unknown visibility mode")

// GrantLookup answers the two sharing questions a policy may ask
type GrantLookup interface {
	HasUserGrant(ctx context.Context, assetID, userID string) (bool, error)
	HasRoleGrant(ctx context.Context, assetID string, role assets.Role) (bool, error)
}

// Policy decides view access for a single visibility mode
type Policy interface {
	Mode() assets.Visibility
	Allows(ctx context.Context, user *assets.User, asset *assets.Asset, grants GrantLookup) (bool, error)
}

var policies = map[assets.Visibility]Policy{
	assets.VisibilityPublic:        publicPolicy{},
	assets.VisibilityUploaderOnly:  uploaderOnlyPolicy{},
	assets.VisibilityAdminOnly:     adminOnlyPolicy{},
	assets.VisibilityCompany:       companyPolicy{},
	assets.VisibilityTeam:          teamPolicy{},
	assets.VisibilityRole:          rolePolicy{},
	assets.VisibilitySelectedUsers: selectedUsersPolicy{},
}

// PolicyFor returns the policy for mode
func PolicyFor(mode assets.Visibility) (Policy, error) {
	p, ok := policies[mode]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownVisibility, mode)
	}
	return p, nil
}

type publicPolicy struct{}

func (publicPolicy) Mode() assets.Visibility { return assets.VisibilityPublic }

func (publicPolicy) Allows(ctx context.Context, user *assets.User, asset *assets.Asset, grants GrantLookup) (bool, error) {
	return true, nil
}

// sharedWith reports whether the asset was shared with the user directly or
// with the user's role
func sharedWith(ctx context.Context, user *assets.User, asset *assets.Asset, grants GrantLookup) (bool, error) {
	ok, err := grants.HasUserGrant(ctx, asset.ID, user.ID)
	if err != nil || ok {
		return ok, err
	}
	return grants.HasRoleGrant(ctx, asset.ID, user.Role)
}

// uploaderOnlyPolicy still honors grants: an uploader-only asset that was
// shared is normally moved to selected_users, but a grant may predate that move.
type uploaderOnlyPolicy struct{}

func (uploaderOnlyPolicy) Mode() assets.Visibility { return assets.VisibilityUploaderOnly }

func (uploaderOnlyPolicy) Allows(ctx context.Context, user *assets.User, asset *assets.Asset, grants GrantLookup) (bool, error) {
	if asset.OwnedBy(user) {
		return true, nil
	}
	return sharedWith(ctx, user, asset, grants)
}

type adminOnlyPolicy struct{}

func (adminOnlyPolicy) Mode() assets.Visibility { return assets.VisibilityAdminOnly }

func (adminOnlyPolicy) Allows(ctx context.Context, user *assets.User, asset *assets.Asset, grants GrantLookup) (bool, error) {
	return user.IsAdmin() || asset.OwnedBy(user), nil
}

type companyPolicy struct{}

func (companyPolicy) Mode() assets.Visibility { return assets.VisibilityCompany }

func (companyPolicy) Allows(ctx context.Context, user *assets.User, asset *assets.Asset, grants GrantLookup) (bool, error) {
	return assets.SameCompany(user.CompanyID, asset.CompanyID), nil
}

// teamPolicy is reserved until teams exist
type teamPolicy struct{}

func (teamPolicy) Mode() assets.Visibility { return assets.VisibilityTeam }

func (teamPolicy) Allows(ctx context.Context, user *assets.User, asset *assets.Asset, grants GrantLookup) (bool, error) {
	return false, nil
}

type rolePolicy struct{}

func (rolePolicy) Mode() assets.Visibility { return assets.VisibilityRole }

func (rolePolicy) Allows(ctx context.Context, user *assets.User, asset *assets.Asset, grants GrantLookup) (bool, error) {
	if asset.AllowedRole != nil {
		return user.Role == *asset.AllowedRole, nil
	}
	return grants.HasRoleGrant(ctx, asset.ID, user.Role)
}

// selectedUsersPolicy allows named recipients and holders of a granted role
type selectedUsersPolicy struct{}

func (selectedUsersPolicy) Mode() assets.Visibility { return assets.VisibilitySelectedUsers }

func (selectedUsersPolicy) Allows(ctx context.Context, user *assets.User, asset *assets.Asset, grants GrantLookup) (bool, error) {
	return sharedWith(ctx, user, asset, grants)
}
