package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/assetvault/pkg/assets"
	"github.com/platinummonkey/assetvault/pkg/audit"
	"github.com/platinummonkey/assetvault/pkg/lifecycle"
	"github.com/platinummonkey/assetvault/pkg/listfilter"
	"github.com/platinummonkey/assetvault/pkg/middleware"
	"github.com/platinummonkey/assetvault/pkg/notify"
	"github.com/platinummonkey/assetvault/pkg/observability"
	"github.com/platinummonkey/assetvault/pkg/permissions"
	"github.com/platinummonkey/assetvault/pkg/sharing"
	"github.com/platinummonkey/assetvault/pkg/storage/memory"
	"github.com/platinummonkey/assetvault/pkg/visibility"
)

type testServer struct {
	store      *memory.Store
	server     *Server
	dispatcher *notify.Dispatcher
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	store := memory.New()
	ctx := context.Background()
	for _, u := range []*assets.User{
		{ID: "creator", Name: "Cleo", Role: assets.RoleContentCreator, CompanyID: assets.StringPtr("acme")},
		{ID: "other", Name: "Otto", Role: assets.RoleContentCreator},
		{ID: "seo", Name: "Sia", Role: assets.RoleSeoSpecialist},
		{ID: "admin", Name: "Ada", Role: assets.RoleAdmin},
	} {
		require.NoError(t, store.UpsertUser(ctx, u))
	}

	evaluator := visibility.NewEvaluator(sharing.NewDirectory(store))
	dispatcher := notify.NewDispatcher(notify.NotifierFunc(func(ctx context.Context, n notify.Notification) error {
		return nil
	}), notify.DispatcherConfig{Workers: 1, Timeout: time.Second}, nil)

	server := NewServer(Deps{
		Store:       store,
		Filter:      listfilter.NewFilter(evaluator, store, nil),
		Permissions: permissions.NewAggregator(evaluator, nil),
		Lifecycle:   lifecycle.NewMachine(store, dispatcher),
		Sharing:     sharing.NewManager(store, evaluator, dispatcher),
		Audit:       store.Audit(),
		Logger:      observability.NewLogger(observability.ErrorLevel, io.Discard),
	})

	ts := &testServer{store: store, server: server, dispatcher: dispatcher}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = ts.dispatcher.Wait(ctx)
	})
	return ts
}

func (ts *testServer) do(t *testing.T, method, path, userID string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != "" {
		req.Header.Set(middleware.UserIDHeader, userID)
	}

	w := httptest.NewRecorder()
	ts.server.ServeHTTP(w, req)
	return w
}

func (ts *testServer) createAsset(t *testing.T, userID string, req lifecycle.NewAsset) *assets.Asset {
	t.Helper()
	w := ts.do(t, "POST", "/assets", userID, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var asset assets.Asset
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &asset))
	return &asset
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestIdentityRequired(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, "GET", "/assets", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = ts.do(t, "GET", "/assets", "ghost", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = ts.do(t, "GET", "/me", "creator", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "creator", decode[assets.User](t, w).ID)
	assert.NotEmpty(t, w.Header().Get(middleware.RequestIDHeader))
}

func TestCreateAndGetAsset(t *testing.T) {
	ts := newTestServer(t)

	asset := ts.createAsset(t, "creator", lifecycle.NewAsset{Title: "Logo", Kind: assets.KindImage, UploadType: assets.UploadTypeDoc})
	assert.Equal(t, assets.StatusDraft, asset.Status)
	assert.Equal(t, assets.VisibilityUploaderOnly, asset.Visibility)
	require.NotNil(t, asset.CompanyID)
	assert.Equal(t, "acme", *asset.CompanyID)

	w := ts.do(t, "GET", "/assets/"+asset.ID, "creator", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[struct {
		ID          string                    `json:"id"`
		Permissions permissions.PermissionSet `json:"permissions"`
	}](t, w)
	assert.Equal(t, asset.ID, resp.ID)
	assert.True(t, resp.Permissions.CanView)
	assert.True(t, resp.Permissions.CanEdit)
	assert.True(t, resp.Permissions.CanShare)

	// uploader-only docs are invisible to everyone else, admins included
	for _, user := range []string{"other", "admin"} {
		w = ts.do(t, "GET", "/assets/"+asset.ID, user, nil)
		assert.Equal(t, http.StatusForbidden, w.Code, user)
	}

	denials, err := ts.store.Audit().Search(context.Background(), audit.SearchFilter{
		EventTypes: []audit.EventType{audit.EventTypeAuthzAccessDenied},
		ResourceID: asset.ID,
	})
	require.NoError(t, err)
	assert.Len(t, denials, 2)

	w = ts.do(t, "GET", "/assets/missing", "creator", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateAssetValidation(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name string
		body interface{}
	}{
		{"missing title", lifecycle.NewAsset{Kind: assets.KindImage, UploadType: assets.UploadTypeSEO}},
		{"bad kind", lifecycle.NewAsset{Title: "x", Kind: "hologram", UploadType: assets.UploadTypeSEO}},
		{"doc review", lifecycle.NewAsset{Title: "x", Kind: assets.KindImage, UploadType: assets.UploadTypeDoc, SubmitForReview: true}},
		{"unknown field", map[string]string{"title": "x", "colour": "red"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(t, "POST", "/assets", "creator", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
		})
	}
}

func TestReviewFlow(t *testing.T) {
	ts := newTestServer(t)
	asset := ts.createAsset(t, "creator", lifecycle.NewAsset{Title: "Banner", Kind: assets.KindImage, UploadType: assets.UploadTypeSEO})

	// not yet approved, so the seo specialist cannot see it
	w := ts.do(t, "GET", "/assets/"+asset.ID, "seo", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = ts.do(t, "POST", "/assets/"+asset.ID+"/submit", "other", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = ts.do(t, "POST", "/assets/"+asset.ID+"/submit", "creator", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, assets.StatusPendingReview, decode[assets.Asset](t, w).Status)

	w = ts.do(t, "POST", "/assets/"+asset.ID+"/reject", "admin", map[string]string{"reason": ""})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, "POST", "/assets/"+asset.ID+"/reject", "admin", map[string]string{"reason": "blurry"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	rejected := decode[assets.Asset](t, w)
	assert.Equal(t, assets.StatusRejected, rejected.Status)
	require.NotNil(t, rejected.RejectionReason)
	assert.Equal(t, "blurry", *rejected.RejectionReason)

	w = ts.do(t, "POST", "/assets/"+asset.ID+"/submit", "creator", nil)
	require.Equal(t, http.StatusOK, w.Code)

	public := assets.VisibilityPublic
	w = ts.do(t, "POST", "/assets/"+asset.ID+"/approve", "admin", lifecycle.ApproveRequest{Visibility: &public})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	approved := decode[assets.Asset](t, w)
	assert.Equal(t, assets.StatusApproved, approved.Status)
	assert.Equal(t, assets.VisibilityPublic, approved.Visibility)

	// approving twice is an invalid transition
	w = ts.do(t, "POST", "/assets/"+asset.ID+"/approve", "admin", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = ts.do(t, "GET", "/assets/"+asset.ID, "seo", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = ts.do(t, "GET", "/assets/"+asset.ID+"/approvals", "creator", nil)
	require.Equal(t, http.StatusOK, w.Code)
	history := decode[struct {
		Approvals []assets.ApprovalRecord `json:"approvals"`
	}](t, w)
	require.Len(t, history.Approvals, 2)
	assert.Equal(t, assets.ApprovalActionReject, history.Approvals[0].Action)
}

func TestApproveWithoutBody(t *testing.T) {
	ts := newTestServer(t)
	asset := ts.createAsset(t, "creator", lifecycle.NewAsset{
		Title:           "Hero",
		Kind:            assets.KindVideo,
		UploadType:      assets.UploadTypeSEO,
		SubmitForReview: true,
	})
	assert.Equal(t, assets.StatusPendingReview, asset.Status)

	w := ts.do(t, "POST", "/assets/"+asset.ID+"/approve", "other", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = ts.do(t, "POST", "/assets/"+asset.ID+"/approve", "admin", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, assets.StatusApproved, decode[assets.Asset](t, w).Status)
}

func TestChangeVisibility(t *testing.T) {
	ts := newTestServer(t)
	asset := ts.createAsset(t, "creator", lifecycle.NewAsset{Title: "Deck", Kind: assets.KindDocument, UploadType: assets.UploadTypeSEO})

	role := assets.RoleSeoSpecialist
	body := lifecycle.ChangeVisibilityRequest{Visibility: assets.VisibilityRole, AllowedRole: &role}

	w := ts.do(t, "PUT", "/assets/"+asset.ID+"/visibility", "creator", body)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = ts.do(t, "PUT", "/assets/"+asset.ID+"/visibility", "admin", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	updated := decode[assets.Asset](t, w)
	assert.Equal(t, assets.VisibilityRole, updated.Visibility)
	require.NotNil(t, updated.AllowedRole)
	assert.Equal(t, role, *updated.AllowedRole)
}

func TestShareFlow(t *testing.T) {
	ts := newTestServer(t)
	asset := ts.createAsset(t, "creator", lifecycle.NewAsset{Title: "Contract", Kind: assets.KindDocument, UploadType: assets.UploadTypeDoc})

	body := map[string]interface{}{"recipient_ids": []string{"other"}}
	w := ts.do(t, "POST", "/assets/"+asset.ID+"/shares", "creator", body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	result := decode[sharing.ShareResult](t, w)
	assert.Equal(t, 1, result.Created)
	assert.True(t, result.VisibilityChanged)
	assert.Equal(t, assets.VisibilitySelectedUsers, result.Visibility)

	// repeat share creates nothing
	w = ts.do(t, "POST", "/assets/"+asset.ID+"/shares", "creator", body)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, decode[sharing.ShareResult](t, w).Created)

	w = ts.do(t, "GET", "/assets/"+asset.ID, "other", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = ts.do(t, "GET", "/me/shares", "other", nil)
	require.Equal(t, http.StatusOK, w.Code)
	mine := decode[struct {
		Grants []assets.ShareGrant `json:"grants"`
	}](t, w)
	require.Len(t, mine.Grants, 1)
	assert.Equal(t, asset.ID, mine.Grants[0].AssetID)

	w = ts.do(t, "GET", "/assets/"+asset.ID+"/shares", "other", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = ts.do(t, "DELETE", "/assets/"+asset.ID+"/shares/users/other", "other", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = ts.do(t, "DELETE", "/assets/"+asset.ID+"/shares/users/other", "creator", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = ts.do(t, "DELETE", "/assets/"+asset.ID+"/shares/users/other", "creator", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do(t, "GET", "/assets/"+asset.ID, "other", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	stored, err := ts.store.GetAsset(context.Background(), asset.ID)
	require.NoError(t, err)
	assert.Equal(t, assets.VisibilityUploaderOnly, stored.Visibility)
}

func TestShareValidation(t *testing.T) {
	ts := newTestServer(t)
	asset := ts.createAsset(t, "creator", lifecycle.NewAsset{Title: "Notes", Kind: assets.KindDocument, UploadType: assets.UploadTypeDoc})

	tests := []struct {
		name string
		body map[string]interface{}
		want int
	}{
		{"no recipients", map[string]interface{}{"recipient_ids": []string{}}, http.StatusBadRequest},
		{"self", map[string]interface{}{"recipient_ids": []string{"creator"}}, http.StatusBadRequest},
		{"team", map[string]interface{}{"target_type": "team", "target_id": "t1"}, http.StatusBadRequest},
		{"unknown recipient", map[string]interface{}{"recipient_ids": []string{"ghost"}}, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(t, "POST", "/assets/"+asset.ID+"/shares", "creator", tt.body)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}
}

func TestRoleShare(t *testing.T) {
	ts := newTestServer(t)
	asset := ts.createAsset(t, "creator", lifecycle.NewAsset{Title: "Brief", Kind: assets.KindDocument, UploadType: assets.UploadTypeDoc})

	w := ts.do(t, "POST", "/assets/"+asset.ID+"/shares", "creator",
		map[string]interface{}{"target_type": "role", "target_id": string(assets.RoleContentCreator)})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = ts.do(t, "GET", "/assets/"+asset.ID+"/shares", "creator", nil)
	require.Equal(t, http.StatusOK, w.Code)
	grants := decode[struct {
		Grants []assets.ShareGrant `json:"grants"`
	}](t, w)
	require.Len(t, grants.Grants, 1)
	assert.Equal(t, assets.TargetRole, grants.Grants[0].TargetType)

	w = ts.do(t, "DELETE", "/assets/"+asset.ID+"/shares/roles/"+string(assets.RoleContentCreator), "creator", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestListAssets(t *testing.T) {
	ts := newTestServer(t)
	ts.createAsset(t, "creator", lifecycle.NewAsset{Title: "Mine", Kind: assets.KindImage, UploadType: assets.UploadTypeDoc})
	ts.createAsset(t, "creator", lifecycle.NewAsset{Title: "Banner", Kind: assets.KindImage, UploadType: assets.UploadTypeSEO})
	ts.createAsset(t, "other", lifecycle.NewAsset{Title: "Theirs", Kind: assets.KindImage, UploadType: assets.UploadTypeDoc})

	w := ts.do(t, "GET", "/assets", "creator", nil)
	require.Equal(t, http.StatusOK, w.Code)
	page := decode[listfilter.Page](t, w)
	assert.Len(t, page.Assets, 2)
	assert.Equal(t, listfilter.DefaultLimit, page.Limit)

	w = ts.do(t, "GET", "/assets?upload_type=seo", "creator", nil)
	require.Equal(t, http.StatusOK, w.Code)
	page = decode[listfilter.Page](t, w)
	require.Len(t, page.Assets, 1)
	assert.Equal(t, "Banner", page.Assets[0].Title)

	// admins bypass visibility on seo assets only
	w = ts.do(t, "GET", "/assets", "admin", nil)
	require.Equal(t, http.StatusOK, w.Code)
	page = decode[listfilter.Page](t, w)
	require.Len(t, page.Assets, 1)
	assert.Equal(t, "Banner", page.Assets[0].Title)

	w = ts.do(t, "GET", "/assets", "seo", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[listfilter.Page](t, w).Assets)

	for _, query := range []string{"upload_type=video", "status=archived", "limit=abc"} {
		w = ts.do(t, "GET", "/assets?"+query, "creator", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, query)
	}
}

func TestGetPermissions(t *testing.T) {
	ts := newTestServer(t)
	asset := ts.createAsset(t, "creator", lifecycle.NewAsset{Title: "Banner", Kind: assets.KindImage, UploadType: assets.UploadTypeSEO})

	w := ts.do(t, "GET", "/assets/"+asset.ID+"/permissions", "other", nil)
	require.Equal(t, http.StatusOK, w.Code)
	set := decode[permissions.PermissionSet](t, w)
	assert.False(t, set.CanView)
	assert.Equal(t, permissions.ReasonNoVisibility, set.Reason)

	w = ts.do(t, "GET", "/assets/"+asset.ID+"/permissions?action=modify_visibility", "admin", nil)
	require.Equal(t, http.StatusOK, w.Code)
	single := decode[ActionResponse](t, w)
	assert.Equal(t, permissions.ActionModifyVisibility, single.Action)
	assert.True(t, single.Allowed)

	w = ts.do(t, "GET", "/assets/"+asset.ID+"/permissions?action=teleport", "admin", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAssetHistory(t *testing.T) {
	ts := newTestServer(t)
	asset := ts.createAsset(t, "creator", lifecycle.NewAsset{Title: "Banner", Kind: assets.KindImage, UploadType: assets.UploadTypeSEO})

	w := ts.do(t, "POST", "/assets/"+asset.ID+"/submit", "creator", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = ts.do(t, "GET", "/assets/"+asset.ID+"/audit", "creator", nil)
	require.Equal(t, http.StatusOK, w.Code)
	history := decode[struct {
		Events []audit.AuditEvent `json:"events"`
	}](t, w)
	require.Len(t, history.Events, 2)
	// newest first
	assert.Equal(t, audit.EventTypeAssetSubmitted, history.Events[0].EventType)
	assert.Equal(t, audit.EventTypeAssetCreated, history.Events[1].EventType)

	w = ts.do(t, "GET", "/assets/"+asset.ID+"/audit", "admin", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = ts.do(t, "GET", "/assets/"+asset.ID+"/audit", "other", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}
