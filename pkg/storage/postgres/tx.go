package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/platinummonkey/assetvault/pkg/assets"
	"github.com/platinummonkey/assetvault/pkg/audit"
	"github.com/platinummonkey/assetvault/pkg/storage"
)

// tx is the storage.Tx view of a primary transaction
type tx struct {
	tx    *sql.Tx
	psql  sq.StatementBuilderType
	audit *audit.DBLogger
}

var _ storage.Tx = (*tx)(nil)

func (t *tx) GetAssetForUpdate(ctx context.Context, id string) (*assets.Asset, error) {
	return getAsset(ctx, t.psql, t.tx, id, true)
}

func (t *tx) CreateAsset(ctx context.Context, asset *assets.Asset) error {
	if asset.ID == "" {
		asset.ID = uuid.New().String()
	}

	query, args, err := t.psql.Insert("assets").
		Columns(assetColumns...).
		Values(
			asset.ID, asset.Title, string(asset.Kind), asset.UploaderID, asset.CompanyID,
			string(asset.UploadType), string(asset.Status), string(asset.Visibility),
			roleValue(asset.AllowedRole), asset.ApprovedAt, asset.ApprovedByID, asset.RejectedAt,
			asset.RejectedByID, asset.RejectionReason, asset.CreatedAt, asset.UpdatedAt,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build query: %w", err)
	}

	if _, err := t.tx.ExecContext(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return assets.Conflictf("asset %s already exists", asset.ID)
		}
		return fmt.Errorf("failed to create asset: %w", err)
	}
	return nil
}

func (t *tx) UpdateAsset(ctx context.Context, asset *assets.Asset) error {
	query, args, err := t.psql.Update("assets").
		SetMap(map[string]interface{}{
			"title":            asset.Title,
			"status":           string(asset.Status),
			"visibility":       string(asset.Visibility),
			"allowed_role":     roleValue(asset.AllowedRole),
			"approved_at":      asset.ApprovedAt,
			"approved_by_id":   asset.ApprovedByID,
			"rejected_at":      asset.RejectedAt,
			"rejected_by_id":   asset.RejectedByID,
			"rejection_reason": asset.RejectionReason,
			"updated_at":       asset.UpdatedAt,
		}).
		Where(sq.Eq{"id": asset.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build query: %w", err)
	}

	result, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update asset: %w", err)
	}
	return requireRow(result, assets.NotFoundf("asset %s", asset.ID))
}

func (t *tx) GetUserGrant(ctx context.Context, assetID, userID string) (*assets.ShareGrant, error) {
	return t.getGrant(ctx, sq.Eq{
		"asset_id":       assetID,
		"target_type":    string(assets.TargetUser),
		"shared_with_id": userID,
	}, assets.NotFoundf("no share of asset %s with user %s", assetID, userID))
}

func (t *tx) GetRoleGrant(ctx context.Context, assetID string, role assets.Role) (*assets.ShareGrant, error) {
	return t.getGrant(ctx, sq.Eq{
		"asset_id":    assetID,
		"target_type": string(assets.TargetRole),
		"target_id":   string(role),
	}, assets.NotFoundf("no share of asset %s with role %s", assetID, role))
}

func (t *tx) getGrant(ctx context.Context, where sq.Eq, notFound error) (*assets.ShareGrant, error) {
	query, args, err := t.psql.Select(grantColumns...).From("share_grants").Where(where).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	g, err := scanGrant(t.tx.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get grant: %w", err)
	}
	return g, nil
}

func (t *tx) CreateGrant(ctx context.Context, grant *assets.ShareGrant) error {
	if grant.ID == "" {
		grant.ID = uuid.New().String()
	}

	query, args, err := t.psql.Insert("share_grants").
		Columns(grantColumns...).
		Values(grant.ID, grant.AssetID, grant.SharedByID, grant.SharedWithID,
			string(grant.TargetType), grant.TargetID, grant.CreatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build query: %w", err)
	}

	if _, err := t.tx.ExecContext(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return assets.Conflictf("asset %s already has this share", grant.AssetID)
		}
		return fmt.Errorf("failed to create grant: %w", err)
	}
	return nil
}

func (t *tx) DeleteGrant(ctx context.Context, grantID string) error {
	query, args, err := t.psql.Delete("share_grants").Where(sq.Eq{"id": grantID}).ToSql()
	if err != nil {
		return fmt.Errorf("failed to build query: %w", err)
	}

	result, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to delete grant: %w", err)
	}
	return requireRow(result, assets.NotFoundf("grant %s", grantID))
}

func (t *tx) CountGrants(ctx context.Context, assetID string) (int, error) {
	query, args, err := t.psql.Select("COUNT(*)").From("share_grants").Where(sq.Eq{"asset_id": assetID}).ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build query: %w", err)
	}

	var n int
	if err := t.tx.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count grants: %w", err)
	}
	return n, nil
}

func (t *tx) AppendApproval(ctx context.Context, record *assets.ApprovalRecord) error {
	if record.ID == "" {
		record.ID = uuid.New().String()
	}

	query, args, err := t.psql.Insert("approval_records").
		Columns(approvalColumns...).
		Values(record.ID, record.AssetID, record.ReviewerID, string(record.Action), record.Reason, record.CreatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build query: %w", err)
	}

	if _, err := t.tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to append approval: %w", err)
	}
	return nil
}

func (t *tx) RecordAudit(ctx context.Context, event *audit.AuditEvent) error {
	return t.audit.Log(ctx, event)
}

func requireRow(result sql.Result, notFound error) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}
