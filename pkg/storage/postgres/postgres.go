package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"github.com/platinummonkey/assetvault/pkg/assets"
	"github.com/platinummonkey/assetvault/pkg/audit"
	"github.com/platinummonkey/assetvault/pkg/observability"
	"github.com/platinummonkey/assetvault/pkg/storage"
)

const uniqueViolation = "23505"

var (
	assetColumns = []string{
		"id", "title", "kind", "uploader_id", "company_id", "upload_type", "status",
		"visibility", "allowed_role", "approved_at", "approved_by_id", "rejected_at",
		"rejected_by_id", "rejection_reason", "created_at", "updated_at",
	}
	grantColumns    = []string{"id", "asset_id", "shared_by_id", "shared_with_id", "target_type", "target_id", "created_at"}
	userColumns     = []string{"id", "name", "email", "role", "company_id"}
	approvalColumns = []string{"id", "asset_id", "reviewer_id", "action", "reason", "created_at"}
)

// querier is satisfied by *sql.DB and *sql.Tx
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Store implements storage.Store on PostgreSQL. Reads go to a replica when one
// is configured; transactions run on the primary and lock the asset row with
// SELECT ... FOR UPDATE.
type Store struct {
	conns  *ConnectionManager
	audit  *audit.DBLogger
	psql   sq.StatementBuilderType
	logger *observability.Logger
}

var _ storage.Store = (*Store)(nil)

// New runs pending migrations on the primary and returns a store
func New(ctx context.Context, conns *ConnectionManager, logger *observability.Logger) (*Store, error) {
	if err := RunMigrations(ctx, conns.Primary(), logger); err != nil {
		return nil, err
	}
	auditLogger, err := audit.NewDBLogger(conns.Primary())
	if err != nil {
		return nil, err
	}
	return newStore(conns, auditLogger, logger), nil
}

func newStore(conns *ConnectionManager, auditLogger *audit.DBLogger, logger *observability.Logger) *Store {
	return &Store{
		conns:  conns,
		audit:  auditLogger,
		psql:   sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
		logger: logger,
	}
}

// Audit returns the audit log sharing this store's primary
func (s *Store) Audit() *audit.DBLogger {
	return s.audit
}

// UpsertUser creates or replaces a user
func (s *Store) UpsertUser(ctx context.Context, user *assets.User) error {
	if user == nil || user.ID == "" {
		return assets.Validationf("user id is required")
	}
	query, args, err := s.psql.Insert("users").
		Columns(userColumns...).
		Values(user.ID, user.Name, user.Email, string(user.Role), user.CompanyID).
		Suffix("ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, email = EXCLUDED.email, role = EXCLUDED.role, company_id = EXCLUDED.company_id").
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build query: %w", err)
	}
	if _, err := s.conns.Primary().ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}
	return nil
}

// GetUser returns the user with the given ID
func (s *Store) GetUser(ctx context.Context, id string) (*assets.User, error) {
	query, args, err := s.psql.Select(userColumns...).From("users").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	user, err := scanUser(s.conns.Replica().QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, assets.NotFoundf("user %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// ListUsersByRole returns every user holding role, ordered by ID
func (s *Store) ListUsersByRole(ctx context.Context, role assets.Role) ([]*assets.User, error) {
	query, args, err := s.psql.Select(userColumns...).From("users").
		Where(sq.Eq{"role": string(role)}).
		OrderBy("id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	rows, err := s.conns.Replica().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	users := make([]*assets.User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// GetAsset returns the asset with the given ID
func (s *Store) GetAsset(ctx context.Context, id string) (*assets.Asset, error) {
	return getAsset(ctx, s.psql, s.conns.Replica(), id, false)
}

// ListAssets runs q.Where as SQL. RowFilter is left to the caller's row pass.
func (s *Store) ListAssets(ctx context.Context, q storage.ListQuery) ([]*assets.Asset, error) {
	qb := s.psql.Select(assetColumns...).From("assets")
	if q.Where != nil {
		qb = qb.Where(q.Where)
	}
	if q.UploadType != nil {
		qb = qb.Where(sq.Eq{"upload_type": string(*q.UploadType)})
	}
	if q.Status != nil {
		qb = qb.Where(sq.Eq{"status": string(*q.Status)})
	}
	if q.CompanyID != nil {
		qb = qb.Where(sq.Eq{"company_id": *q.CompanyID})
	}
	qb = qb.OrderBy("created_at DESC", "id DESC")
	if q.Limit > 0 {
		qb = qb.Limit(uint64(q.Limit))
	}
	if q.Offset > 0 {
		qb = qb.Offset(uint64(q.Offset))
	}

	query, args, err := qb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	rows, err := s.conns.Replica().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list assets: %w", err)
	}
	defer rows.Close()

	out := make([]*assets.Asset, 0)
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan asset: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating assets: %w", err)
	}
	return out, nil
}

// HasUserGrant reports whether a user-target grant exists for (asset, user)
func (s *Store) HasUserGrant(ctx context.Context, assetID, userID string) (bool, error) {
	return s.exists(ctx, sq.Eq{
		"asset_id":       assetID,
		"target_type":    string(assets.TargetUser),
		"shared_with_id": userID,
	})
}

// HasRoleGrant reports whether a role-target grant exists for (asset, role)
func (s *Store) HasRoleGrant(ctx context.Context, assetID string, role assets.Role) (bool, error) {
	return s.exists(ctx, sq.Eq{
		"asset_id":    assetID,
		"target_type": string(assets.TargetRole),
		"target_id":   string(role),
	})
}

func (s *Store) exists(ctx context.Context, where sq.Eq) (bool, error) {
	query, args, err := s.psql.Select("1").From("share_grants").Where(where).
		Prefix("SELECT EXISTS (").
		Suffix(")").
		ToSql()
	if err != nil {
		return false, fmt.Errorf("failed to build query: %w", err)
	}

	var ok bool
	if err := s.conns.Replica().QueryRowContext(ctx, query, args...).Scan(&ok); err != nil {
		return false, fmt.Errorf("failed to check grant: %w", err)
	}
	return ok, nil
}

// ListGrants returns every grant on an asset, oldest first
func (s *Store) ListGrants(ctx context.Context, assetID string) ([]*assets.ShareGrant, error) {
	return s.listGrants(ctx, sq.Eq{"asset_id": assetID})
}

// ListGrantsForUser returns every user-target grant naming userID, oldest first
func (s *Store) ListGrantsForUser(ctx context.Context, userID string) ([]*assets.ShareGrant, error) {
	return s.listGrants(ctx, sq.Eq{"target_type": string(assets.TargetUser), "shared_with_id": userID})
}

func (s *Store) listGrants(ctx context.Context, where sq.Eq) ([]*assets.ShareGrant, error) {
	query, args, err := s.psql.Select(grantColumns...).From("share_grants").
		Where(where).
		OrderBy("created_at", "id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	rows, err := s.conns.Replica().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list grants: %w", err)
	}
	defer rows.Close()

	grants := make([]*assets.ShareGrant, 0)
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan grant: %w", err)
		}
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

// ListApprovals returns the review history of an asset, oldest first
func (s *Store) ListApprovals(ctx context.Context, assetID string) ([]*assets.ApprovalRecord, error) {
	query, args, err := s.psql.Select(approvalColumns...).From("approval_records").
		Where(sq.Eq{"asset_id": assetID}).
		OrderBy("created_at", "id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	rows, err := s.conns.Replica().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list approvals: %w", err)
	}
	defer rows.Close()

	records := make([]*assets.ApprovalRecord, 0)
	for rows.Next() {
		var (
			r      assets.ApprovalRecord
			action string
			reason sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.AssetID, &r.ReviewerID, &action, &reason, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan approval: %w", err)
		}
		r.Action = assets.ApprovalAction(action)
		r.Reason = nullString(reason)
		records = append(records, &r)
	}
	return records, rows.Err()
}

// InTx runs fn in a primary transaction. Audit events recorded through the tx
// commit or roll back with the mutation.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) error {
	sqlTx, err := s.conns.Primary().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	t := &tx{tx: sqlTx, psql: s.psql, audit: audit.ForTx(sqlTx)}
	if err := fn(ctx, t); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil {
			s.logger.WithError(rbErr).Warn("failed to roll back transaction")
		}
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// HealthCheck pings the primary and replicas
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.conns.HealthCheck(ctx)
}

// Close closes every pool
func (s *Store) Close() error {
	return s.conns.Close()
}

// getAsset loads one asset, optionally locking its row
func getAsset(ctx context.Context, psql sq.StatementBuilderType, db querier, id string, forUpdate bool) (*assets.Asset, error) {
	qb := psql.Select(assetColumns...).From("assets").Where(sq.Eq{"id": id})
	if forUpdate {
		qb = qb.Suffix("FOR UPDATE")
	}
	query, args, err := qb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	a, err := scanAsset(db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, assets.NotFoundf("asset %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get asset: %w", err)
	}
	return a, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanUser(row scanner) (*assets.User, error) {
	var (
		u       assets.User
		email   sql.NullString
		role    string
		company sql.NullString
	)
	if err := row.Scan(&u.ID, &u.Name, &email, &role, &company); err != nil {
		return nil, err
	}
	u.Email = email.String
	u.Role = assets.Role(role)
	u.CompanyID = nullString(company)
	return &u, nil
}

func scanAsset(row scanner) (*assets.Asset, error) {
	var (
		a                                      assets.Asset
		kind, uploadType, status, vis          string
		company, allowedRole                   sql.NullString
		approvedBy, rejectedBy, rejectedReason sql.NullString
		approvedAt, rejectedAt                 sql.NullTime
	)
	err := row.Scan(
		&a.ID, &a.Title, &kind, &a.UploaderID, &company, &uploadType, &status,
		&vis, &allowedRole, &approvedAt, &approvedBy, &rejectedAt,
		&rejectedBy, &rejectedReason, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	a.Kind = assets.Kind(kind)
	a.UploadType = assets.UploadType(uploadType)
	a.Status = assets.Status(status)
	a.Visibility = assets.Visibility(vis)
	a.CompanyID = nullString(company)
	if allowedRole.Valid {
		r := assets.Role(allowedRole.String)
		a.AllowedRole = &r
	}
	a.ApprovedAt = nullTime(approvedAt)
	a.ApprovedByID = nullString(approvedBy)
	a.RejectedAt = nullTime(rejectedAt)
	a.RejectedByID = nullString(rejectedBy)
	a.RejectionReason = nullString(rejectedReason)
	return &a, nil
}

func scanGrant(row scanner) (*assets.ShareGrant, error) {
	var (
		g                  assets.ShareGrant
		targetType         string
		sharedWith, target sql.NullString
	)
	if err := row.Scan(&g.ID, &g.AssetID, &g.SharedByID, &sharedWith, &targetType, &target, &g.CreatedAt); err != nil {
		return nil, err
	}
	g.TargetType = assets.TargetType(targetType)
	g.SharedWithID = nullString(sharedWith)
	g.TargetID = nullString(target)
	return &g, nil
}

func nullString(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	return assets.StringPtr(s.String)
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func roleValue(r *assets.Role) interface{} {
	if r == nil {
		return nil
	}
	return string(*r)
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
