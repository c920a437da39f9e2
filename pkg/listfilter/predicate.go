package listfilter

import (
	sq "github.com/Masterminds/squirrel"

	"github.com/platinummonkey/assetvault/pkg/assets"
)

// Column and table names the predicate is written against. The outer query must
// select from the assets table without an alias.
const (
	AssetsTable = "assets"
	GrantsTable = "share_grants"
)

var (
	userGrantExists = "EXISTS (SELECT 1 FROM " + GrantsTable + " g WHERE g.asset_id = " + AssetsTable +
		".id AND g.target_type = ? AND g.shared_with_id = ?)"
	roleGrantExists = "EXISTS (SELECT 1 FROM " + GrantsTable + " g WHERE g.asset_id = " + AssetsTable +
		".id AND g.target_type = ? AND g.target_id = ?)"
)

// Predicate returns a WHERE clause selecting exactly the assets user can see.
// It mirrors visibility.Evaluator.CanSee: ownership, the admin SEO bypass, each
// visibility mode, and the SEO specialist approved-only gate on SEO assets.
func Predicate(user *assets.User) sq.Sqlizer {
	if user == nil {
		return sq.Expr("1 = 0")
	}

	owned := sq.Eq{"uploader_id": user.ID}

	visible := sq.Or{
		owned,
		sq.Eq{"visibility": string(assets.VisibilityPublic)},
		sq.And{
			sq.Eq{"visibility": []string{
				string(assets.VisibilityUploaderOnly),
				string(assets.VisibilitySelectedUsers),
			}},
			sq.Or{
				sq.Expr(userGrantExists, string(assets.TargetUser), user.ID),
				sq.Expr(roleGrantExists, string(assets.TargetRole), string(user.Role)),
			},
		},
		sq.And{
			sq.Eq{"visibility": string(assets.VisibilityRole)},
			sq.Or{
				sq.Eq{"allowed_role": string(user.Role)},
				sq.And{
					sq.Eq{"allowed_role": nil},
					sq.Expr(roleGrantExists, string(assets.TargetRole), string(user.Role)),
				},
			},
		},
	}

	if user.IsAdmin() {
		visible = append(visible,
			sq.Eq{"upload_type": string(assets.UploadTypeSEO)},
			sq.Eq{"visibility": string(assets.VisibilityAdminOnly)},
		)
	}

	if user.CompanyID != nil && *user.CompanyID != "" {
		visible = append(visible, sq.And{
			sq.Eq{"visibility": string(assets.VisibilityCompany)},
			sq.Eq{"company_id": *user.CompanyID},
		})
	}

	if user.Role == assets.RoleSeoSpecialist {
		return sq.And{
			sq.Or{
				owned,
				sq.Eq{"upload_type": string(assets.UploadTypeDoc)},
				sq.Eq{"status": string(assets.StatusApproved)},
			},
			visible,
		}
	}
	return visible
}
