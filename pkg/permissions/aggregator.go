package permissions

import (
	"context"
	"fmt"

	"github.com/platinummonkey/assetvault/pkg/assets"
	"github.com/platinummonkey/assetvault/pkg/audit"
	"github.com/platinummonkey/assetvault/pkg/observability"
	"github.com/platinummonkey/assetvault/pkg/visibility"
)

// Action is an operation a user may attempt on an asset
type Action string

const (
	ActionView             Action = "view"
	ActionEdit             Action = "edit"
	ActionDelete           Action = "delete"
	ActionApprove          Action = "approve"
	ActionDownload         Action = "download"
	ActionShare            Action = "share"
	ActionModifyVisibility Action = "modify_visibility"
	ActionLogUsage         Action = "log_usage"
)

// AllActions lists every action in the order CheckAll reports them
func AllActions() []Action {
	return []Action{
		ActionView,
		ActionEdit,
		ActionDelete,
		ActionApprove,
		ActionDownload,
		ActionShare,
		ActionModifyVisibility,
		ActionLogUsage,
	}
}

const (
	ReasonNoVisibility = "no visibility"
	ReasonViewOnly     = "view-only"
)

// PermissionSet is the full action surface for one (user, asset) pair
type PermissionSet struct {
	CanView             bool   `json:"can_view"`
	CanEdit             bool   `json:"can_edit"`
	CanDelete           bool   `json:"can_delete"`
	CanApprove          bool   `json:"can_approve"`
	CanDownload         bool   `json:"can_download"`
	CanShare            bool   `json:"can_share"`
	CanModifyVisibility bool   `json:"can_modify_visibility"`
	CanLogUsage         bool   `json:"can_log_usage"`
	Reason              string `json:"reason,omitempty"`
}

// Allows reports the flag for action
func (p *PermissionSet) Allows(action Action) bool {
	switch action {
	case ActionView:
		return p.CanView
	case ActionEdit:
		return p.CanEdit
	case ActionDelete:
		return p.CanDelete
	case ActionApprove:
		return p.CanApprove
	case ActionDownload:
		return p.CanDownload
	case ActionShare:
		return p.CanShare
	case ActionModifyVisibility:
		return p.CanModifyVisibility
	case ActionLogUsage:
		return p.CanLogUsage
	}
	return false
}

// Aggregator combines the visibility evaluator with ownership, role and
// lifecycle rules into per-action decisions.
type Aggregator struct {
	evaluator *visibility.Evaluator
	metrics   *observability.Metrics
}

// NewAggregator creates an aggregator. metrics may be nil.
func NewAggregator(evaluator *visibility.Evaluator, metrics *observability.Metrics) *Aggregator {
	return &Aggregator{evaluator: evaluator, metrics: metrics}
}

// Can decides a single action
func (a *Aggregator) Can(ctx context.Context, user *assets.User, asset *assets.Asset, action Action) (bool, error) {
	if !knownAction(action) {
		return false, assets.Validationf("unknown action %q", action)
	}
	if asset == nil {
		return false, assets.Validationf("asset is required")
	}

	var (
		allowed bool
		err     error
	)
	switch action {
	case ActionApprove:
		allowed = canApprove(user, asset)
	case ActionShare:
		allowed = canShare(user, asset)
	case ActionModifyVisibility:
		allowed = canModifyVisibility(user, asset)
	default:
		// remaining actions all depend on view
		var view bool
		view, err = a.evaluator.CanSee(ctx, user, asset)
		if err != nil {
			return false, err
		}
		allowed = derive(action, user, asset, view)
	}

	a.metrics.RecordDecision(string(action), allowed)
	return allowed, nil
}

// CheckAll evaluates every action with a single visibility evaluation
func (a *Aggregator) CheckAll(ctx context.Context, user *assets.User, asset *assets.Asset) (*PermissionSet, error) {
	if asset == nil {
		return nil, assets.Validationf("asset is required")
	}
	view, err := a.evaluator.CanSee(ctx, user, asset)
	if err != nil {
		return nil, err
	}

	set := &PermissionSet{
		CanView:             view,
		CanEdit:             derive(ActionEdit, user, asset, view),
		CanDelete:           derive(ActionDelete, user, asset, view),
		CanApprove:          canApprove(user, asset),
		CanDownload:         derive(ActionDownload, user, asset, view),
		CanShare:            canShare(user, asset),
		CanModifyVisibility: canModifyVisibility(user, asset),
		CanLogUsage:         derive(ActionLogUsage, user, asset, view),
	}

	switch {
	case !set.CanView:
		set.Reason = ReasonNoVisibility
	case !set.CanEdit && !set.CanDelete && !set.CanApprove && !set.CanShare && !set.CanModifyVisibility:
		set.Reason = ReasonViewOnly
	}

	for _, action := range AllActions() {
		a.metrics.RecordDecision(string(action), set.Allows(action))
	}
	return set, nil
}

// Require returns an ErrForbidden error when action is not allowed.
// Denials are written to the audit logger carried by ctx.
func (a *Aggregator) Require(ctx context.Context, user *assets.User, asset *assets.Asset, action Action) error {
	allowed, err := a.Can(ctx, user, asset, action)
	if err != nil {
		return err
	}
	if allowed {
		return nil
	}

	event := audit.NewAssetEvent(ctx, audit.EventTypeAuthzAccessDenied, user, asset)
	event.Status = audit.EventStatusDenied
	event.Message = fmt.Sprintf("%s denied", action)
	event.Metadata["action"] = string(action)
	logger := observability.FromContext(ctx).WithAsset(asset).WithField("action", string(action))
	logger.Debug("access denied")
	if logErr := audit.FromContext(ctx).Log(ctx, event); logErr != nil {
		logger.WithError(logErr).Warn("failed to record access denial")
	}

	return assets.Forbiddenf("%s not permitted on asset %s", action, asset.ID)
}

func knownAction(action Action) bool {
	for _, known := range AllActions() {
		if action == known {
			return true
		}
	}
	return false
}

// derive computes the view-dependent actions once view is known
func derive(action Action, user *assets.User, asset *assets.Asset, view bool) bool {
	switch action {
	case ActionView, ActionDownload:
		return view
	case ActionEdit, ActionDelete:
		if user.IsAdmin() {
			return true
		}
		return asset.OwnedBy(user) && (asset.Status == assets.StatusDraft || asset.Status == assets.StatusRejected)
	case ActionLogUsage:
		return view && (asset.IsDoc() || asset.Status == assets.StatusApproved)
	}
	return false
}

func canApprove(user *assets.User, asset *assets.Asset) bool {
	return user.IsAdmin() && asset.IsSEO() && asset.Status == assets.StatusPendingReview
}

// admins get no share override
func canShare(user *assets.User, asset *assets.Asset) bool {
	return asset.OwnedBy(user) && asset.Visibility.Shareable()
}

func canModifyVisibility(user *assets.User, asset *assets.Asset) bool {
	return user.IsAdmin() && asset.IsSEO()
}
