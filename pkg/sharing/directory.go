package sharing

import (
	"context"
	"fmt"

	"github.com/platinummonkey/assetvault/pkg/assets"
	"github.com/platinummonkey/assetvault/pkg/storage"
	"github.com/platinummonkey/assetvault/pkg/visibility"
)

// Lookup is the read side of the sharing directory
type Lookup interface {
	visibility.GrantLookup
	GrantsForAsset(ctx context.Context, assetID string) ([]*assets.ShareGrant, error)
	GrantsForUser(ctx context.Context, userID string) ([]*assets.ShareGrant, error)
}

// Directory answers grant questions straight from storage
type Directory struct {
	grants storage.GrantReader
}

var _ Lookup = (*Directory)(nil)

// NewDirectory creates a directory over a grant reader
func NewDirectory(grants storage.GrantReader) *Directory {
	return &Directory{grants: grants}
}

// HasUserGrant reports whether assetID is shared with userID
func (d *Directory) HasUserGrant(ctx context.Context, assetID, userID string) (bool, error) {
	ok, err := d.grants.HasUserGrant(ctx, assetID, userID)
	if err != nil {
		return false, fmt.Errorf("failed to look up user grant: %w", err)
	}
	return ok, nil
}

// HasRoleGrant reports whether assetID is shared with everyone holding role
func (d *Directory) HasRoleGrant(ctx context.Context, assetID string, role assets.Role) (bool, error) {
	ok, err := d.grants.HasRoleGrant(ctx, assetID, role)
	if err != nil {
		return false, fmt.Errorf("failed to look up role grant: %w", err)
	}
	return ok, nil
}

// GrantsForAsset lists every grant on an asset, oldest first
func (d *Directory) GrantsForAsset(ctx context.Context, assetID string) ([]*assets.ShareGrant, error) {
	return d.grants.ListGrants(ctx, assetID)
}

// GrantsForUser lists every user grant naming userID
func (d *Directory) GrantsForUser(ctx context.Context, userID string) ([]*assets.ShareGrant, error) {
	return d.grants.ListGrantsForUser(ctx, userID)
}
