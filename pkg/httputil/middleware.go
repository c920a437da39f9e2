package httputil

import (
	"fmt"
	"mime"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/platinummonkey/assetvault/pkg/observability"
)

// statusRecorder remembers the status and body size a handler produced
type statusRecorder struct {
	http.ResponseWriter
	status  int
	written int64
}

func (sr *statusRecorder) WriteHeader(code int) {
	if sr.status == 0 {
		sr.status = code
	}
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.written += int64(n)
	return n, err
}

func (sr *statusRecorder) code() int {
	if sr.status == 0 {
		return http.StatusOK
	}
	return sr.status
}

// LoggingMiddleware writes one entry per request. Server errors log at
// error level, client errors at warn, everything else at info.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}

		next.ServeHTTP(rec, r)

		status := rec.code()
		entry := observability.FromContext(r.Context()).WithFields(map[string]interface{}{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      status,
			"bytes":       rec.written,
			"duration_ms": time.Since(start).Milliseconds(),
		})
		switch {
		case status >= 500:
			entry.Error("request failed")
		case status >= 400:
			entry.Warn("request rejected")
		default:
			entry.Info("request completed")
		}
	})
}

// RecoveryMiddleware turns a handler panic into a logged 500
func RecoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			observability.FromContext(r.Context()).WithFields(map[string]interface{}{
				"panic": fmt.Sprint(rec),
				"path":  r.URL.Path,
				"stack": string(debug.Stack()),
			}).Error("panic in handler")
			WriteErrorMessage(w, http.StatusInternalServerError, "internal server error")
		}()
		next.ServeHTTP(w, r)
	})
}

// Chain applies middlewares so the first one listed sees the request first
func Chain(middlewares ...func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(h http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			h = middlewares[i](h)
		}
		return h
	}
}

// ContentTypeMiddleware rejects request bodies that are declared as anything
// other than JSON. A missing Content-Type is accepted.
func ContentTypeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost, http.MethodPut, http.MethodPatch:
			if ct := r.Header.Get("Content-Type"); ct != "" {
				mediaType, _, err := mime.ParseMediaType(ct)
				if err != nil || mediaType != "application/json" {
					WriteJSON(w, http.StatusUnsupportedMediaType, ErrorResponse{
						Error: "Content-Type must be application/json",
						Code:  "unsupported_media_type",
					})
					return
				}
			}
		}
		next.ServeHTTP(w, r)
	})
}

// MaxBytesMiddleware caps request bodies at maxBytes. DecodeJSON reports
// oversized bodies as 413.
func MaxBytesMiddleware(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxBytes {
				WriteJSON(w, http.StatusRequestEntityTooLarge, ErrorResponse{
					Error: fmt.Sprintf("request body exceeds %d bytes", maxBytes),
					Code:  "too_large",
				})
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}
