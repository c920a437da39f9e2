package api

import (
	"net/http"

	"github.com/platinummonkey/assetvault/pkg/assets"
	"github.com/platinummonkey/assetvault/pkg/httputil"
	"github.com/platinummonkey/assetvault/pkg/lifecycle"
	"github.com/platinummonkey/assetvault/pkg/listfilter"
	"github.com/platinummonkey/assetvault/pkg/permissions"
)

// AssetResponse is an asset together with what the caller may do with it
type AssetResponse struct {
	*assets.Asset
	Permissions *permissions.PermissionSet `json:"permissions"`
}

// ActionResponse answers a single-action permission query
type ActionResponse struct {
	Action  permissions.Action `json:"action"`
	Allowed bool               `json:"allowed"`
}

// listAssets handles GET /assets
func (s *Server) listAssets(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOptions(r)
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}

	page, err := s.filter.List(r.Context(), currentUser(r), opts)
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	page.Assets = nonNil(page.Assets)
	httputil.WriteSuccess(w, page)
}

func parseListOptions(r *http.Request) (listfilter.ListOptions, error) {
	var opts listfilter.ListOptions

	limit, err := httputil.QueryInt(r, "limit", listfilter.DefaultLimit)
	if err != nil {
		return opts, err
	}
	offset, err := httputil.QueryInt(r, "offset", 0)
	if err != nil {
		return opts, err
	}
	opts.Limit, opts.Offset = limit, offset

	if v := httputil.QueryString(r, "upload_type"); v != "" {
		t := assets.UploadType(v)
		if !t.Valid() {
			return opts, assets.Validationf("invalid upload_type %q", v)
		}
		opts.UploadType = &t
	}
	if v := httputil.QueryString(r, "status"); v != "" {
		st := assets.Status(v)
		if !st.Valid() {
			return opts, assets.Validationf("invalid status %q", v)
		}
		opts.Status = &st
	}
	if v := httputil.QueryString(r, "company_id"); v != "" {
		opts.CompanyID = assets.StringPtr(v)
	}
	return opts, nil
}

// createAsset handles POST /assets
func (s *Server) createAsset(w http.ResponseWriter, r *http.Request) {
	var req lifecycle.NewAsset
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}

	asset, err := s.lifecycle.Create(r.Context(), currentUser(r).ID, req)
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	httputil.WriteCreated(w, asset)
}

// getAsset handles GET /assets/{id}
func (s *Server) getAsset(w http.ResponseWriter, r *http.Request) {
	asset, ok := s.loadAsset(w, r)
	if !ok {
		return
	}

	user := currentUser(r)
	set, err := s.permissions.CheckAll(r.Context(), user, asset)
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	if !set.CanView {
		// records the denial
		httputil.WriteDomainError(w, r, s.permissions.Require(r.Context(), user, asset, permissions.ActionView))
		return
	}
	httputil.WriteSuccess(w, AssetResponse{Asset: asset, Permissions: set})
}

// getPermissions handles GET /assets/{id}/permissions[?action=...]
func (s *Server) getPermissions(w http.ResponseWriter, r *http.Request) {
	asset, ok := s.loadAsset(w, r)
	if !ok {
		return
	}
	user := currentUser(r)

	if action := httputil.QueryString(r, "action"); action != "" {
		allowed, err := s.permissions.Can(r.Context(), user, asset, permissions.Action(action))
		if err != nil {
			httputil.WriteDomainError(w, r, err)
			return
		}
		httputil.WriteSuccess(w, ActionResponse{Action: permissions.Action(action), Allowed: allowed})
		return
	}

	set, err := s.permissions.CheckAll(r.Context(), user, asset)
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, set)
}

// submitAsset handles POST /assets/{id}/submit
func (s *Server) submitAsset(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.PathParam(w, r, "id")
	if !ok {
		return
	}

	asset, err := s.lifecycle.Submit(r.Context(), id, currentUser(r).ID)
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, asset)
}

// approveAsset handles POST /assets/{id}/approve. The body is optional.
func (s *Server) approveAsset(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.PathParam(w, r, "id")
	if !ok {
		return
	}

	var req lifecycle.ApproveRequest
	if r.ContentLength != 0 && !httputil.DecodeJSON(w, r, &req) {
		return
	}
	req.AssetID = id
	req.ReviewerID = currentUser(r).ID

	asset, err := s.lifecycle.Approve(r.Context(), req)
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, asset)
}

// rejectAsset handles POST /assets/{id}/reject
func (s *Server) rejectAsset(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.PathParam(w, r, "id")
	if !ok {
		return
	}

	var req lifecycle.RejectRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	req.AssetID = id
	req.ReviewerID = currentUser(r).ID

	asset, err := s.lifecycle.Reject(r.Context(), req)
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, asset)
}

// changeVisibility handles PUT /assets/{id}/visibility
func (s *Server) changeVisibility(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.PathParam(w, r, "id")
	if !ok {
		return
	}

	var req lifecycle.ChangeVisibilityRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	req.AssetID = id
	req.ActorID = currentUser(r).ID

	asset, err := s.lifecycle.ChangeVisibility(r.Context(), req)
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, asset)
}

// listApprovals handles GET /assets/{id}/approvals
func (s *Server) listApprovals(w http.ResponseWriter, r *http.Request) {
	asset, ok := s.requireAction(w, r, permissions.ActionView)
	if !ok {
		return
	}

	records, err := s.store.ListApprovals(r.Context(), asset.ID)
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"approvals": nonNil(records)})
}
