package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/assetvault/pkg/assets"
)

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"message": "success"}

	err := WriteJSON(w, http.StatusOK, data)

	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "success")
}

func TestWriteErrorMessage(t *testing.T) {
	w := httptest.NewRecorder()

	WriteErrorMessage(w, http.StatusNotFound, "resource not found")

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "resource not found")
}

func TestWriteBadRequest(t *testing.T) {
	w := httptest.NewRecorder()

	WriteBadRequest(w, "invalid input")

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid input", resp.Error)
	assert.Equal(t, "validation", resp.Code)
}

func TestWriteDomainError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
		wantBody   string
	}{
		{"not found", assets.NotFoundf("asset %s", "a1"), http.StatusNotFound, "not_found", "asset a1"},
		{"validation", assets.Validationf("title is required"), http.StatusBadRequest, "validation", "title is required"},
		{"forbidden", assets.Forbiddenf("only the uploader can share"), http.StatusForbidden, "forbidden", "only the uploader"},
		{"conflict", assets.Conflictf("already approved"), http.StatusConflict, "conflict", "already approved"},
		{"wrapped", fmt.Errorf("share: %w", assets.ErrForbidden), http.StatusForbidden, "forbidden", "forbidden"},
		{"unclassified is redacted", errors.New("pq: connection reset"), http.StatusInternalServerError, "internal", "internal server error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodGet, "/assets/a1", nil)

			WriteDomainError(w, r, tt.err)

			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantCode, resp.Code)
			assert.Contains(t, resp.Error, tt.wantBody)
			assert.NotContains(t, resp.Error, "pq:")
		})
	}
}

func TestWriteSuccessAndCreated(t *testing.T) {
	w := httptest.NewRecorder()
	require.NoError(t, WriteSuccess(w, map[string]int{"count": 2}))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	require.NoError(t, WriteCreated(w, map[string]string{"id": "a1"}))
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.JSONEq(t, `{"id":"a1"}`, w.Body.String())
}

func TestWriteNoContent(t *testing.T) {
	w := httptest.NewRecorder()

	WriteNoContent(w)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Body.String())
}
