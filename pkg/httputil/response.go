package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/platinummonkey/assetvault/pkg/assets"
	"github.com/platinummonkey/assetvault/pkg/observability"
)

// ErrorResponse represents a standardized error response
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// WriteErrorMessage writes a JSON error response with a custom message
func WriteErrorMessage(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, ErrorResponse{Error: message})
}

// WriteBadRequest writes a bad request error (400)
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteJSON(w, http.StatusBadRequest, ErrorResponse{Error: message, Code: "validation"})
}

// WriteUnauthorized writes an unauthorized error (401)
func WriteUnauthorized(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusUnauthorized, message)
}

// StatusFor maps a domain error to its HTTP status and error code
func StatusFor(err error) (int, string) {
	switch {
	case errors.Is(err, assets.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, assets.ErrValidation):
		return http.StatusBadRequest, "validation"
	case errors.Is(err, assets.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, assets.ErrConflict):
		return http.StatusConflict, "conflict"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

// WriteDomainError writes err with the status its kind maps to.
// Unclassified errors are logged and answered with a generic 500.
func WriteDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := StatusFor(err)
	if status == http.StatusInternalServerError {
		observability.FromContext(r.Context()).
			WithError(err).
			WithField("path", r.URL.Path).
			Error("request failed")
		WriteJSON(w, status, ErrorResponse{Error: "internal server error", Code: code})
		return
	}
	WriteJSON(w, status, ErrorResponse{Error: err.Error(), Code: code})
}

// WriteCreated writes a successful creation response (201 Created) with JSON data
func WriteCreated(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusCreated, data)
}

// WriteSuccess writes a successful response (200 OK) with JSON data
func WriteSuccess(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusOK, data)
}

// WriteNoContent writes a successful response with no content (204 No Content)
func WriteNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}
