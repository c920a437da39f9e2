package observability

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/platinummonkey/assetvault/pkg/assets"
	"github.com/platinummonkey/assetvault/pkg/contextkeys"
)

// LogLevel represents the severity of a log message
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

var levelNames = [...]string{"DEBUG", "INFO", "WARN", "ERROR"}

func (l LogLevel) String() string {
	if l < DebugLevel || l > ErrorLevel {
		return "INFO"
	}
	return levelNames[l]
}

func (l LogLevel) slogLevel() slog.Level {
	switch l {
	case DebugLevel:
		return slog.LevelDebug
	case WarnLevel:
		return slog.LevelWarn
	case ErrorLevel:
		return slog.LevelError
	}
	return slog.LevelInfo
}

// ParseLogLevel converts a config string to a LogLevel, defaulting to InfoLevel
func ParseLogLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DebugLevel
	case "warn", "warning":
		return WarnLevel
	case "error":
		return ErrorLevel
	}
	return InfoLevel
}

// Logger writes JSON lines through slog. Loggers derived with the With*
// methods share their parent's level, so SetLevel applies to all of them.
type Logger struct {
	slog  *slog.Logger
	level *slog.LevelVar
}

// NewLogger creates a JSON logger. A nil output writes to stdout.
func NewLogger(level LogLevel, output io.Writer) *Logger {
	if output == nil {
		output = os.Stdout
	}
	lv := new(slog.LevelVar)
	lv.Set(level.slogLevel())

	return &Logger{
		slog:  slog.New(slog.NewJSONHandler(output, &slog.HandlerOptions{Level: lv})),
		level: lv,
	}
}

// SetLevel changes the minimum level for this logger and everything derived from it
func (l *Logger) SetLevel(level LogLevel) {
	l.level.Set(level.slogLevel())
}

func (l *Logger) with(args ...any) *Logger {
	return &Logger{slog: l.slog.With(args...), level: l.level}
}

// WithField adds a field to the logger context
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return l.with(key, value)
}

// WithFields adds multiple fields, in key order
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	args := make([]any, 0, len(fields)*2)
	for _, k := range keys {
		args = append(args, k, fields[k])
	}
	return l.with(args...)
}

// WithError records err under "error". A nil err returns l unchanged.
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.with("error", err.Error())
}

// WithUser tags entries with the acting user
func (l *Logger) WithUser(u *assets.User) *Logger {
	if u == nil {
		return l
	}
	return l.with("user_id", u.ID, "role", string(u.Role))
}

// WithAsset tags entries with the asset's identity and access state
func (l *Logger) WithAsset(a *assets.Asset) *Logger {
	if a == nil {
		return l
	}
	return l.with(slog.Group("asset",
		"id", a.ID,
		"upload_type", string(a.UploadType),
		"status", string(a.Status),
		"visibility", string(a.Visibility),
	))
}

func (l *Logger) log(level slog.Level, msg string) {
	l.slog.Log(context.Background(), level, msg)
}

func (l *Logger) logf(level slog.Level, format string, args []interface{}) {
	// skip formatting when the entry would be dropped
	if !l.slog.Enabled(context.Background(), level) {
		return
	}
	l.slog.Log(context.Background(), level, fmt.Sprintf(format, args...))
}

func (l *Logger) Debug(message string) { l.log(slog.LevelDebug, message) }
func (l *Logger) Info(message string)  { l.log(slog.LevelInfo, message) }
func (l *Logger) Warn(message string)  { l.log(slog.LevelWarn, message) }
func (l *Logger) Error(message string) { l.log(slog.LevelError, message) }

func (l *Logger) Debugf(format string, args ...interface{}) { l.logf(slog.LevelDebug, format, args) }
func (l *Logger) Infof(format string, args ...interface{})  { l.logf(slog.LevelInfo, format, args) }
func (l *Logger) Warnf(format string, args ...interface{})  { l.logf(slog.LevelWarn, format, args) }
func (l *Logger) Errorf(format string, args ...interface{}) { l.logf(slog.LevelError, format, args) }

var defaultLogger = sync.OnceValue(func() *Logger {
	return NewLogger(InfoLevel, os.Stdout)
})

// WithLogger adds a logger to the context
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, contextkeys.LoggerKey, logger)
}

// GetLogger returns the context logger, or a shared stdout logger at info level
func GetLogger(ctx context.Context) *Logger {
	if logger, ok := ctx.Value(contextkeys.LoggerKey).(*Logger); ok && logger != nil {
		return logger
	}
	return defaultLogger()
}

// FromContext returns the context logger tagged with the request ID and caller
func FromContext(ctx context.Context) *Logger {
	logger := GetLogger(ctx)
	if requestID := contextkeys.GetRequestID(ctx); requestID != "" {
		logger = logger.WithField("request_id", requestID)
	}
	return logger.WithUser(contextkeys.GetUser(ctx))
}
