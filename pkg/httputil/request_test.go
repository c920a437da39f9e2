package httputil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/assetvault/pkg/assets"
)

type shareBody struct {
	RecipientIDs []string `json:"recipient_ids"`
}

func TestDecodeJSON(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantOK     bool
		wantStatus int
		wantError  string
	}{
		{name: "valid", body: `{"recipient_ids": ["u1"]}`, wantOK: true},
		{name: "empty body", body: "", wantStatus: http.StatusBadRequest, wantError: "request body is required"},
		{name: "malformed", body: `{"recipient_ids": [`, wantStatus: http.StatusBadRequest, wantError: "invalid JSON"},
		{name: "unknown field", body: `{"recipients": []}`, wantStatus: http.StatusBadRequest, wantError: "unknown field"},
		{name: "trailing data", body: `{"recipient_ids": []} {}`, wantStatus: http.StatusBadRequest, wantError: "unexpected data"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest("POST", "/assets/a1/shares", strings.NewReader(tt.body))

			var dest shareBody
			ok := DecodeJSON(w, req, &dest)

			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, []string{"u1"}, dest.RecipientIDs)
				return
			}
			assert.Equal(t, tt.wantStatus, w.Code)

			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Contains(t, resp.Error, tt.wantError)
			assert.Equal(t, "validation", resp.Code)
		})
	}
}

func TestDecodeJSONTooLarge(t *testing.T) {
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/assets", strings.NewReader(`{"recipient_ids": ["a", "b", "c"]}`))
	req.Body = http.MaxBytesReader(w, req.Body, 8)

	var dest shareBody
	assert.False(t, DecodeJSON(w, req, &dest))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Contains(t, w.Body.String(), "exceeds 8 bytes")
}

func TestPathParam(t *testing.T) {
	w := httptest.NewRecorder()
	req := mux.SetURLVars(httptest.NewRequest("GET", "/assets/a1", nil), map[string]string{"id": "a1"})

	id, ok := PathParam(w, req, "id")
	assert.True(t, ok)
	assert.Equal(t, "a1", id)

	w = httptest.NewRecorder()
	_, ok = PathParam(w, httptest.NewRequest("GET", "/assets/", nil), "id")
	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "missing path parameter: id")
}

func TestQueryInt(t *testing.T) {
	tests := []struct {
		query   string
		want    int
		wantErr bool
	}{
		{"", 50, false},
		{"?limit=10", 10, false},
		{"?limit=%2010%20", 10, false},
		{"?limit=ten", 0, true},
		{"?limit=-1", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			got, err := QueryInt(httptest.NewRequest("GET", "/assets"+tt.query, nil), "limit", 50)
			if tt.wantErr {
				assert.ErrorIs(t, err, assets.ErrValidation)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestQueryString(t *testing.T) {
	req := httptest.NewRequest("GET", "/assets?status=approved&company_id=%20acme%20", nil)

	assert.Equal(t, "approved", QueryString(req, "status"))
	assert.Equal(t, "acme", QueryString(req, "company_id"))
	assert.Empty(t, QueryString(req, "upload_type"))
}
