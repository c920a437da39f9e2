package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/assetvault/pkg/assets"
	"github.com/platinummonkey/assetvault/pkg/contextkeys"
)

// entries decodes every JSON line written to buf
func entries(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &m), line)
		out = append(out, m)
	}
	return out
}

func lastEntry(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	all := entries(t, buf)
	require.NotEmpty(t, all)
	return all[len(all)-1]
}

func TestLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(WarnLevel, &buf)

	logger.Debug("d")
	logger.Info("i")
	logger.Warn("w")
	logger.Error("e")

	got := entries(t, &buf)
	require.Len(t, got, 2)
	assert.Equal(t, "WARN", got[0]["level"])
	assert.Equal(t, "w", got[0]["msg"])
	assert.Equal(t, "ERROR", got[1]["level"])
}

func TestLoggerSetLevelAppliesToDerived(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)
	child := logger.WithField("component", "sharing")

	child.Debug("hidden")
	assert.Zero(t, buf.Len())

	logger.SetLevel(DebugLevel)
	child.Debug("shown")
	entry := lastEntry(t, &buf)
	assert.Equal(t, "shown", entry["msg"])
	assert.Equal(t, "sharing", entry["component"])
}

func TestLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	logger.
		WithFields(map[string]interface{}{"b": 2, "a": "one"}).
		WithError(errors.New("lock timeout")).
		Info("message")

	entry := lastEntry(t, &buf)
	assert.Equal(t, "one", entry["a"])
	assert.Equal(t, float64(2), entry["b"])
	assert.Equal(t, "lock timeout", entry["error"])

	assert.Same(t, logger, logger.WithError(nil))
}

func TestLoggerDomainFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	asset := &assets.Asset{
		ID:         "a-1",
		UploadType: assets.UploadTypeSEO,
		Status:     assets.StatusPendingReview,
		Visibility: assets.VisibilityUploaderOnly,
	}
	logger.
		WithUser(&assets.User{ID: "u-1", Role: assets.RoleAdmin}).
		WithAsset(asset).
		Info("approved")

	entry := lastEntry(t, &buf)
	assert.Equal(t, "u-1", entry["user_id"])
	assert.Equal(t, "admin", entry["role"])

	group, ok := entry["asset"].(map[string]interface{})
	require.True(t, ok, "asset group missing: %v", entry)
	assert.Equal(t, "a-1", group["id"])
	assert.Equal(t, "seo", group["upload_type"])
	assert.Equal(t, "pending_review", group["status"])
	assert.Equal(t, "uploader_only", group["visibility"])

	assert.Same(t, logger, logger.WithUser(nil))
	assert.Same(t, logger, logger.WithAsset(nil))
}

func TestLoggerFormatted(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(DebugLevel, &buf)

	logger.Debugf("debug %s %d", "x", 1)
	logger.Infof("info %d", 2)
	logger.Warnf("warn %s", "y")
	logger.Errorf("error %v", 3)

	var msgs []string
	for _, e := range entries(t, &buf) {
		msgs = append(msgs, e["msg"].(string))
	}
	assert.Equal(t, []string{"debug x 1", "info 2", "warn y", "error 3"}, msgs)

	buf.Reset()
	logger.SetLevel(ErrorLevel)
	logger.Infof("dropped %d", 4)
	assert.Zero(t, buf.Len())
}

func TestContextHelpers(t *testing.T) {
	assert.NotNil(t, GetLogger(context.Background()))
	assert.Same(t, GetLogger(context.Background()), GetLogger(context.Background()))

	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	ctx := WithLogger(context.Background(), logger)
	assert.Same(t, logger, GetLogger(ctx))

	ctx = contextkeys.WithRequestID(ctx, "req-123")
	ctx = contextkeys.WithUser(ctx, &assets.User{ID: "user-456", Role: assets.RoleSeoSpecialist})
	FromContext(ctx).Info("test message")

	entry := lastEntry(t, &buf)
	assert.Equal(t, "req-123", entry["request_id"])
	assert.Equal(t, "user-456", entry["user_id"])
	assert.Equal(t, "seo_specialist", entry["role"])
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]LogLevel{
		"debug":    DebugLevel,
		"INFO":     InfoLevel,
		" warning": WarnLevel,
		"error":    ErrorLevel,
		"bogus":    InfoLevel,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLogLevel(in), in)
	}
}

func TestLogLevelString(t *testing.T) {
	assert.Equal(t, "DEBUG", DebugLevel.String())
	assert.Equal(t, "INFO", InfoLevel.String())
	assert.Equal(t, "WARN", WarnLevel.String())
	assert.Equal(t, "ERROR", ErrorLevel.String())
	assert.Equal(t, "INFO", LogLevel(42).String())
}
