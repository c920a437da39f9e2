package visibility

import (
	"context"
	"fmt"

	"github.com/platinummonkey/assetvault/pkg/assets"
)

// Rule names the step of evaluation that produced a decision
type Rule string

const (
	RuleNoUser      Rule = "no_user"
	RuleOwner       Rule = "owner"
	RuleAdminBypass Rule = "admin_bypass"
	RuleRoleGate    Rule = "role_gate"
)

// PolicyRule names the per-mode rule for mode
func PolicyRule(mode assets.Visibility) Rule {
	return Rule("policy:" + string(mode))
}

// Decision is the outcome of a view check
type Decision struct {
	Allowed bool
	Rule    Rule
}

// Evaluator answers "may this user view this asset".
//
// Evaluation order:
//  1. the uploader always sees their own asset
//  2. admins see every SEO asset; Doc assets get no admin bypass
//  3. the policy for the asset's visibility mode decides
//
// The evaluator is pure apart from grant lookups.
type Evaluator struct {
	grants GrantLookup
}

// NewEvaluator creates an evaluator backed by grants
func NewEvaluator(grants GrantLookup) *Evaluator {
	return &Evaluator{grants: grants}
}

// Decide evaluates view access and reports which rule decided
func (e *Evaluator) Decide(ctx context.Context, user *assets.User, asset *assets.Asset) (Decision, error) {
	if user == nil {
		return Decision{Rule: RuleNoUser}, nil
	}
	if asset == nil {
		return Decision{}, fmt.Errorf("asset is required")
	}

	if asset.OwnedBy(user) {
		return Decision{Allowed: true, Rule: RuleOwner}, nil
	}

	if user.IsAdmin() && asset.IsSEO() {
		return Decision{Allowed: true, Rule: RuleAdminBypass}, nil
	}

	policy, err := PolicyFor(asset.Visibility)
	if err != nil {
		return Decision{}, fmt.Errorf("asset %s: %w", asset.ID, err)
	}

	allowed, err := policy.Allows(ctx, user, asset, e.grants)
	if err != nil {
		return Decision{}, fmt.Errorf("failed to evaluate %s policy for asset %s: %w", policy.Mode(), asset.ID, err)
	}
	return Decision{Allowed: allowed, Rule: PolicyRule(policy.Mode())}, nil
}

// CanView reports whether the visibility rules grant user view access
func (e *Evaluator) CanView(ctx context.Context, user *assets.User, asset *assets.Asset) (bool, error) {
	d, err := e.Decide(ctx, user, asset)
	if err != nil {
		return false, err
	}
	return d.Allowed, nil
}

// DecideSee applies the role gate before the visibility rules
func (e *Evaluator) DecideSee(ctx context.Context, user *assets.User, asset *assets.Asset) (Decision, error) {
	if user != nil && asset != nil && !PassesRoleGate(user, asset) {
		return Decision{Rule: RuleRoleGate}, nil
	}
	return e.Decide(ctx, user, asset)
}

// CanSee is CanView narrowed by the role gate. It is the check used for listing,
// viewing and downloading.
func (e *Evaluator) CanSee(ctx context.Context, user *assets.User, asset *assets.Asset) (bool, error) {
	d, err := e.DecideSee(ctx, user, asset)
	if err != nil {
		return false, err
	}
	return d.Allowed, nil
}

// PassesRoleGate reports whether the user's role allows seeing the asset in its
// current status. SEO specialists only see other people's SEO assets once
// approved. Doc assets never enter review, so they are left to the visibility rules.
func PassesRoleGate(user *assets.User, asset *assets.Asset) bool {
	if user.Role != assets.RoleSeoSpecialist || !asset.IsSEO() {
		return true
	}
	return asset.OwnedBy(user) || asset.Status == assets.StatusApproved
}
