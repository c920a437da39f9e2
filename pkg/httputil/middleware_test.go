package httputil

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/assetvault/pkg/observability"
)

func withTestLogger(r *http.Request, buf *bytes.Buffer) *http.Request {
	logger := observability.NewLogger(observability.DebugLevel, buf)
	return r.WithContext(observability.WithLogger(r.Context(), logger))
}

func logLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry), buf.String())
	return entry
}

func TestRecoveryMiddleware(t *testing.T) {
	var buf bytes.Buffer
	handler := RecoveryMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, withTestLogger(httptest.NewRequest("GET", "/assets", nil), &buf))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "internal server error")

	entry := logLine(t, &buf)
	assert.Equal(t, "panic in handler", entry["msg"])
	assert.Equal(t, "boom", entry["panic"])
	assert.NotEmpty(t, entry["stack"])
}

func TestRecoveryMiddlewareRepanicsOnAbort(t *testing.T) {
	handler := RecoveryMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(http.ErrAbortHandler)
	}))

	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))
	})
}

func TestLoggingMiddleware(t *testing.T) {
	tests := []struct {
		name      string
		handler   http.HandlerFunc
		wantLevel string
		wantCode  float64
		wantBytes float64
	}{
		{
			name:      "implicit ok",
			handler:   func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("hello")) },
			wantLevel: "INFO",
			wantCode:  200,
			wantBytes: 5,
		},
		{
			name:      "client error",
			handler:   func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusForbidden) },
			wantLevel: "WARN",
			wantCode:  403,
		},
		{
			name:      "server error",
			handler:   func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusBadGateway) },
			wantLevel: "ERROR",
			wantCode:  502,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			w := httptest.NewRecorder()
			LoggingMiddleware(tt.handler).ServeHTTP(w, withTestLogger(httptest.NewRequest("GET", "/assets/a1", nil), &buf))

			entry := logLine(t, &buf)
			assert.Equal(t, tt.wantLevel, entry["level"])
			assert.Equal(t, tt.wantCode, entry["status"])
			assert.Equal(t, tt.wantBytes, entry["bytes"])
			assert.Equal(t, "/assets/a1", entry["path"])
			assert.Equal(t, int(tt.wantCode), w.Code)
		})
	}
}

func TestChainOrder(t *testing.T) {
	var order []string
	mw := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	handler := Chain(mw("outer"), mw("inner"))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		order = append(order, "handler")
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))

	assert.Equal(t, []string{"outer", "inner", "handler"}, order)
}

func TestContentTypeMiddleware(t *testing.T) {
	handler := ContentTypeMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		method      string
		contentType string
		want        int
	}{
		{"POST", "application/json", http.StatusOK},
		{"PUT", "application/json; charset=utf-8", http.StatusOK},
		{"POST", "", http.StatusOK},
		{"POST", "application/x-www-form-urlencoded", http.StatusUnsupportedMediaType},
		{"PATCH", "not a media type;;", http.StatusUnsupportedMediaType},
		{"GET", "text/plain", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.contentType, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/", nil)
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestMaxBytesMiddleware(t *testing.T) {
	var readErr error
	handler := MaxBytesMiddleware(4)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, readErr = io.ReadAll(r.Body)
	}))

	t.Run("declared length", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest("POST", "/", strings.NewReader("too long")))
		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	})

	t.Run("streamed body", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/", strings.NewReader("too long"))
		req.ContentLength = -1
		handler.ServeHTTP(httptest.NewRecorder(), req)
		assert.Error(t, readErr)
	})
}
