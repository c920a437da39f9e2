package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/assetvault/pkg/assets"
	"github.com/platinummonkey/assetvault/pkg/audit"
	"github.com/platinummonkey/assetvault/pkg/contextkeys"
	"github.com/platinummonkey/assetvault/pkg/httputil"
	"github.com/platinummonkey/assetvault/pkg/lifecycle"
	"github.com/platinummonkey/assetvault/pkg/listfilter"
	"github.com/platinummonkey/assetvault/pkg/middleware"
	"github.com/platinummonkey/assetvault/pkg/observability"
	"github.com/platinummonkey/assetvault/pkg/permissions"
	"github.com/platinummonkey/assetvault/pkg/sharing"
	"github.com/platinummonkey/assetvault/pkg/storage"
)

// Deps are the engine components the HTTP surface routes to
type Deps struct {
	Store       storage.Store
	Filter      *listfilter.Filter
	Permissions *permissions.Aggregator
	Lifecycle   *lifecycle.Machine
	Sharing     *sharing.Manager
	Audit       audit.Store

	Logger    *observability.Logger
	Metrics   *observability.Metrics          // optional
	RateLimit *middleware.RateLimitMiddleware // optional
}

// Server represents our API server
type Server struct {
	store       storage.Store
	filter      *listfilter.Filter
	permissions *permissions.Aggregator
	lifecycle   *lifecycle.Machine
	sharing     *sharing.Manager
	audit       audit.Store

	router  *mux.Router
	handler http.Handler
}

// NewServer creates a new API server with its middleware chain:
// request ID, panic recovery, access logging, identity, rate limiting.
func NewServer(deps Deps) *Server {
	s := &Server{
		store:       deps.Store,
		filter:      deps.Filter,
		permissions: deps.Permissions,
		lifecycle:   deps.Lifecycle,
		sharing:     deps.Sharing,
		audit:       deps.Audit,
		router:      mux.NewRouter(),
	}
	s.router.Use(observability.HTTPMetricsMiddleware(deps.Metrics))
	s.setupRoutes()

	chain := []func(http.Handler) http.Handler{
		middleware.RequestIDMiddleware(deps.Logger, deps.Audit),
		httputil.RecoveryMiddleware,
		httputil.LoggingMiddleware,
		middleware.NewIdentityMiddleware(deps.Store, false).Handler,
	}
	if deps.RateLimit != nil {
		chain = append(chain, deps.RateLimit.Handler)
	}
	chain = append(chain, httputil.ContentTypeMiddleware, httputil.MaxBytesMiddleware(1<<20))
	s.handler = httputil.Chain(chain...)(s.router)
	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	// Caller
	s.router.HandleFunc("/me", s.getMe).Methods("GET")
	s.router.HandleFunc("/me/shares", s.listMyShares).Methods("GET")

	// Assets
	s.router.HandleFunc("/assets", s.listAssets).Methods("GET")
	s.router.HandleFunc("/assets", s.createAsset).Methods("POST")
	s.router.HandleFunc("/assets/{id}", s.getAsset).Methods("GET")
	s.router.HandleFunc("/assets/{id}/permissions", s.getPermissions).Methods("GET")

	// Lifecycle
	s.router.HandleFunc("/assets/{id}/submit", s.submitAsset).Methods("POST")
	s.router.HandleFunc("/assets/{id}/approve", s.approveAsset).Methods("POST")
	s.router.HandleFunc("/assets/{id}/reject", s.rejectAsset).Methods("POST")
	s.router.HandleFunc("/assets/{id}/visibility", s.changeVisibility).Methods("PUT")
	s.router.HandleFunc("/assets/{id}/approvals", s.listApprovals).Methods("GET")

	// Sharing
	s.router.HandleFunc("/assets/{id}/shares", s.createShare).Methods("POST")
	s.router.HandleFunc("/assets/{id}/shares", s.listShares).Methods("GET")
	s.router.HandleFunc("/assets/{id}/shares/users/{user_id}", s.revokeUserShare).Methods("DELETE")
	s.router.HandleFunc("/assets/{id}/shares/roles/{role}", s.revokeRoleShare).Methods("DELETE")

	// Audit
	s.router.HandleFunc("/assets/{id}/audit", s.assetHistory).Methods("GET")
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// currentUser returns the caller resolved by the identity middleware
func currentUser(r *http.Request) *assets.User {
	return contextkeys.GetUser(r.Context())
}

// loadAsset resolves the {id} path parameter, writing the error response on failure
func (s *Server) loadAsset(w http.ResponseWriter, r *http.Request) (*assets.Asset, bool) {
	id, ok := httputil.PathParam(w, r, "id")
	if !ok {
		return nil, false
	}
	asset, err := s.store.GetAsset(r.Context(), id)
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return nil, false
	}
	return asset, true
}

// requireAction loads the asset and checks action for the caller.
// Denials are audited by the aggregator.
func (s *Server) requireAction(w http.ResponseWriter, r *http.Request, action permissions.Action) (*assets.Asset, bool) {
	asset, ok := s.loadAsset(w, r)
	if !ok {
		return nil, false
	}
	if err := s.permissions.Require(r.Context(), currentUser(r), asset, action); err != nil {
		httputil.WriteDomainError(w, r, err)
		return nil, false
	}
	return asset, true
}

func (s *Server) getMe(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, currentUser(r))
}

func (s *Server) listMyShares(w http.ResponseWriter, r *http.Request) {
	grants, err := s.store.ListGrantsForUser(r.Context(), currentUser(r).ID)
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"grants": nonNil(grants)})
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
