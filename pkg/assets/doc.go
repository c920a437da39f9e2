// Package assets defines the domain model shared by the authorization engine.
//
// # Overview
//
// An Asset is uploaded by a User, carries one of seven Visibility modes and moves
// through the review lifecycle:
//
//	draft -> pending_review -> approved | rejected
//
// Two upload types exist. SEO assets are marketing material reviewed by admins.
// Doc assets are private documents: they never enter review and their visibility
// is always uploader_only or selected_users.
//
// # Errors
//
// Every failure returned by the engine wraps one of four sentinels so transports can
// pick a status code without string matching:
//
//	ErrNotFound    - asset, user or grant is missing (404)
//	ErrValidation  - bad input such as a blank rejection reason (400)
//	ErrForbidden   - the caller lacks the permission (403)
//	ErrConflict    - the asset is in the wrong lifecycle state (409)
//
// # Related Packages
//
//   - pkg/visibility: single-asset view decisions
//   - pkg/permissions: full action surface
//   - pkg/lifecycle: review state machine
//   - pkg/sharing: grant directory and sharing manager
package assets
