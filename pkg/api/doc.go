// Package api provides the HTTP REST surface of the asset authorization engine.
//
// # Overview
//
// Every request is attributed to a user named by the X-User-ID header. The
// identity middleware resolves that user from storage; unknown or missing
// callers get 401. Handlers delegate to the engine components:
//
//   - listfilter: visible-asset listings
//   - permissions: per-action decisions and denial auditing
//   - lifecycle: create, submit, approve, reject, visibility changes
//   - sharing: grant and revoke access
//   - audit: per-asset history
//
// # Usage
//
//	server := api.NewServer(api.Deps{
//		Store:       store,
//		Filter:      filter,
//		Permissions: aggregator,
//		Lifecycle:   machine,
//		Sharing:     manager,
//		Audit:       auditStore,
//		Logger:      logger,
//	})
//	http.ListenAndServe(":8080", server)
//
// # API Endpoints
//
//	GET    /me                                   Caller identity
//	GET    /me/shares                            Grants made to the caller
//	GET    /assets                               Visible assets (upload_type, status, company_id, limit, offset)
//	POST   /assets                               Upload a new draft
//	GET    /assets/{id}                          Asset with the caller's permission set
//	GET    /assets/{id}/permissions              Permission set, or ?action=<name> for one decision
//	POST   /assets/{id}/submit                   Send to review
//	POST   /assets/{id}/approve                  Approve, optionally setting visibility
//	POST   /assets/{id}/reject                   Reject with a reason
//	PUT    /assets/{id}/visibility               Admin visibility change
//	GET    /assets/{id}/approvals                Review history
//	POST   /assets/{id}/shares                   Share with users or a role
//	GET    /assets/{id}/shares                   Grants on the asset
//	DELETE /assets/{id}/shares/users/{user_id}   Revoke a user grant
//	DELETE /assets/{id}/shares/roles/{role}      Revoke a role grant
//	GET    /assets/{id}/audit                    Audit history of the asset
//
// # Error Responses
//
// Errors are JSON objects with "error" and "code" fields. Domain errors map to
// 400, 403, 404 and 409; anything else is logged and returned as a redacted 500.
package api
