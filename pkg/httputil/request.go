package httputil

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/assetvault/pkg/assets"
)

// DecodeJSON reads one JSON object from the body into dest. Unknown fields,
// empty bodies and trailing data are rejected. On failure the error response
// is already written and false is returned.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dest interface{}) bool {
	err := decodeBody(r.Body, dest)
	if err == nil {
		return true
	}

	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		WriteJSON(w, http.StatusRequestEntityTooLarge, ErrorResponse{
			Error: "request body exceeds " + strconv.FormatInt(tooLarge.Limit, 10) + " bytes",
			Code:  "too_large",
		})
		return false
	}
	WriteDomainError(w, r, err)
	return false
}

func decodeBody(body io.Reader, dest interface{}) error {
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dest); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			return err
		case errors.Is(err, io.EOF):
			return assets.Validationf("request body is required")
		default:
			return assets.Validationf("invalid JSON: %v", err)
		}
	}
	if dec.More() {
		return assets.Validationf("invalid JSON: unexpected data after object")
	}
	return nil
}

// PathParam returns the named route variable, writing a 400 when it is empty
func PathParam(w http.ResponseWriter, r *http.Request, key string) (string, bool) {
	v := mux.Vars(r)[key]
	if v == "" {
		WriteBadRequest(w, "missing path parameter: "+key)
		return "", false
	}
	return v, true
}

// QueryInt parses a non-negative integer query parameter
func QueryInt(r *http.Request, key string, defaultVal int) (int, error) {
	raw := QueryString(r, key)
	if raw == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, assets.Validationf("query parameter %s must be a non-negative integer, got %q", key, raw)
	}
	return n, nil
}

// QueryString returns the trimmed query parameter, or "" when absent
func QueryString(r *http.Request, key string) string {
	return strings.TrimSpace(r.URL.Query().Get(key))
}
