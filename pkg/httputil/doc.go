// Package httputil provides HTTP utilities for standardized request/response handling.
//
// # Response Helpers
//
//	httputil.WriteSuccess(w, data)
//	httputil.WriteCreated(w, resource)
//	httputil.WriteBadRequest(w, "Invalid input")
//
// Domain errors from pkg/assets map to status codes:
//
//	assets.ErrNotFound   -> 404
//	assets.ErrValidation -> 400
//	assets.ErrForbidden  -> 403
//	assets.ErrConflict   -> 409
//	anything else        -> 500, logged, body redacted
//
//	httputil.WriteDomainError(w, r, err)
//
// # Request Helpers
//
//	id, ok := httputil.PathParam(w, r, "id")
//	if !ok {
//		return
//	}
//	var req ShareRequest
//	if !httputil.DecodeJSON(w, r, &req) {
//		return
//	}
//
// DecodeJSON answers malformed bodies with 400 and bodies cut off by
// MaxBytesMiddleware with 413. QueryInt returns assets.ErrValidation for
// anything but a non-negative integer.
//
// # Middleware
//
//	handler := httputil.Chain(
//		httputil.RecoveryMiddleware,
//		httputil.LoggingMiddleware,
//		httputil.ContentTypeMiddleware,
//		httputil.MaxBytesMiddleware(1<<20),
//	)(router)
//
// ContentTypeMiddleware answers non-JSON request bodies with 415.
package httputil
