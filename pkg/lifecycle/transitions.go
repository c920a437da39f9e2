package lifecycle

import (
	"github.com/platinummonkey/assetvault/pkg/assets"
)

// transitions lists the statuses reachable from each status
var transitions = map[assets.Status][]assets.Status{
	assets.StatusDraft:         {assets.StatusPendingReview},
	assets.StatusPendingReview: {assets.StatusApproved, assets.StatusRejected},
	assets.StatusRejected:      {assets.StatusPendingReview},
	assets.StatusApproved:      {},
}

// CanTransition reports whether an asset may move from one status to another
func CanTransition(from, to assets.Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func checkTransition(asset *assets.Asset, to assets.Status) error {
	if !CanTransition(asset.Status, to) {
		return assets.Conflictf("asset %s is %s and cannot move to %s", asset.ID, asset.Status, to)
	}
	return nil
}

// checkVisibility validates a requested visibility for asset. allowedRole is
// only meaningful in role mode.
func checkVisibility(asset *assets.Asset, v assets.Visibility, allowedRole *assets.Role) error {
	if _, err := assets.ParseVisibility(string(v)); err != nil {
		return err
	}
	if asset.IsDoc() && !v.Shareable() {
		return assets.Validationf("documents may only be %s or %s", assets.VisibilityUploaderOnly, assets.VisibilitySelectedUsers)
	}
	if allowedRole != nil {
		if v != assets.VisibilityRole {
			return assets.Validationf("allowed role requires %s visibility", assets.VisibilityRole)
		}
		if !allowedRole.Valid() {
			return assets.Validationf("invalid allowed role %q", *allowedRole)
		}
	}
	return nil
}

// applyVisibility sets the new mode and reports whether anything changed.
// Leaving role mode clears the allowed role.
func applyVisibility(asset *assets.Asset, v assets.Visibility, allowedRole *assets.Role) bool {
	before := asset.Visibility
	beforeRole := asset.AllowedRole

	asset.Visibility = v
	switch {
	case v != assets.VisibilityRole:
		asset.AllowedRole = nil
	case allowedRole != nil:
		r := *allowedRole
		asset.AllowedRole = &r
	}

	return before != asset.Visibility || !sameRole(beforeRole, asset.AllowedRole)
}

func sameRole(a, b *assets.Role) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
