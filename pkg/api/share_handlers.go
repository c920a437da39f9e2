package api

import (
	"net/http"

	"github.com/platinummonkey/assetvault/pkg/assets"
	"github.com/platinummonkey/assetvault/pkg/audit"
	"github.com/platinummonkey/assetvault/pkg/httputil"
	"github.com/platinummonkey/assetvault/pkg/permissions"
	"github.com/platinummonkey/assetvault/pkg/sharing"
)

// createShare handles POST /assets/{id}/shares.
// Responds 201 when a grant was created and 200 when every grant already existed.
func (s *Server) createShare(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.PathParam(w, r, "id")
	if !ok {
		return
	}

	var req sharing.ShareRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	req.AssetID = id
	req.SharerID = currentUser(r).ID

	result, err := s.sharing.Share(r.Context(), req)
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	if result.Created > 0 {
		httputil.WriteCreated(w, result)
		return
	}
	httputil.WriteSuccess(w, result)
}

// listShares handles GET /assets/{id}/shares
func (s *Server) listShares(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.PathParam(w, r, "id")
	if !ok {
		return
	}

	grants, err := s.sharing.ListShares(r.Context(), id, currentUser(r).ID)
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"grants": nonNil(grants)})
}

// revokeUserShare handles DELETE /assets/{id}/shares/users/{user_id}
func (s *Server) revokeUserShare(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.PathParam(w, r, "id")
	if !ok {
		return
	}
	recipientID, ok := httputil.PathParam(w, r, "user_id")
	if !ok {
		return
	}

	if err := s.sharing.Revoke(r.Context(), id, currentUser(r).ID, recipientID); err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// revokeRoleShare handles DELETE /assets/{id}/shares/roles/{role}
func (s *Server) revokeRoleShare(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.PathParam(w, r, "id")
	if !ok {
		return
	}
	role, ok := httputil.PathParam(w, r, "role")
	if !ok {
		return
	}

	if err := s.sharing.RevokeRole(r.Context(), id, currentUser(r).ID, assets.Role(role)); err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// assetHistory handles GET /assets/{id}/audit.
// The uploader and admins who may change the asset's visibility can read it.
func (s *Server) assetHistory(w http.ResponseWriter, r *http.Request) {
	asset, ok := s.loadAsset(w, r)
	if !ok {
		return
	}
	user := currentUser(r)
	if !asset.OwnedBy(user) {
		if err := s.permissions.Require(r.Context(), user, asset, permissions.ActionModifyVisibility); err != nil {
			httputil.WriteDomainError(w, r, err)
			return
		}
	}

	limit, err := httputil.QueryInt(r, "limit", 100)
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	offset, err := httputil.QueryInt(r, "offset", 0)
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}

	events, err := s.audit.Search(r.Context(), audit.SearchFilter{
		ResourceType: audit.ResourceTypeAsset,
		ResourceID:   asset.ID,
		Limit:        limit,
		Offset:       offset,
	})
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"events": nonNil(events)})
}
