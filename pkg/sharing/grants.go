package sharing

import (
	"context"
	"time"

	"github.com/platinummonkey/assetvault/pkg/assets"
	"github.com/platinummonkey/assetvault/pkg/audit"
	"github.com/platinummonkey/assetvault/pkg/storage"
)

// grantTarget is either a user or a role
type grantTarget struct {
	userID string
	role   assets.Role
}

func checkUploader(sharer *assets.User, asset *assets.Asset) error {
	if !asset.OwnedBy(sharer) {
		return assets.Forbiddenf("only the uploader may manage shares of asset %s", asset.ID)
	}
	return nil
}

func checkShareable(sharer *assets.User, asset *assets.Asset) error {
	if err := checkUploader(sharer, asset); err != nil {
		return err
	}
	if !asset.Visibility.Shareable() {
		return assets.Forbiddenf("asset %s is %s and cannot be shared", asset.ID, asset.Visibility)
	}
	return nil
}

// ensureGrant returns the existing grant for target or creates one
func ensureGrant(ctx context.Context, tx storage.Tx, asset *assets.Asset, sharer *assets.User,
	target grantTarget, now time.Time) (*assets.ShareGrant, bool, error) {

	var (
		existing *assets.ShareGrant
		err      error
	)
	if target.userID != "" {
		existing, err = tx.GetUserGrant(ctx, asset.ID, target.userID)
	} else {
		existing, err = tx.GetRoleGrant(ctx, asset.ID, target.role)
	}
	switch {
	case err == nil:
		return existing, false, nil
	case !assets.IsNotFound(err):
		return nil, false, err
	}

	grant := &assets.ShareGrant{
		AssetID:    asset.ID,
		SharedByID: sharer.ID,
		CreatedAt:  now,
	}
	if target.userID != "" {
		grant.TargetType = assets.TargetUser
		grant.SharedWithID = assets.StringPtr(target.userID)
	} else {
		grant.TargetType = assets.TargetRole
		grant.TargetID = assets.StringPtr(string(target.role))
	}

	if err := tx.CreateGrant(ctx, grant); err != nil {
		return nil, false, err
	}
	return grant, true, nil
}

func shareEvent(ctx context.Context, eventType audit.EventType, sharer *assets.User, asset *assets.Asset, grant *assets.ShareGrant) *audit.AuditEvent {
	event := audit.NewAssetEvent(ctx, eventType, sharer, asset)
	event.Metadata["grant_id"] = grant.ID
	event.Metadata["target_type"] = string(grant.TargetType)
	if grant.SharedWithID != nil {
		event.Metadata["shared_with_id"] = *grant.SharedWithID
	}
	if grant.TargetID != nil {
		event.Metadata["target_id"] = *grant.TargetID
	}
	return event
}
