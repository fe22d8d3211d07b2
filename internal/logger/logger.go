package logger

import (
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
)

// Constants for logging levels
const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// Environments. Development logs are human readable, production ones are JSON
const (
	EnvDevelopment = "dev"
	EnvProduction  = "prod"
)

// Value written instead of credentials
const Redacted = "[REDACTED]"

// Attribute keys that carry credentials. Compared lowercased with '_' and '-' dropped
var secretKeys = map[string]struct{}{
	"password":      {},
	"newpassword":   {},
	"token":         {},
	"accesstoken":   {},
	"refreshtoken":  {},
	"secret":        {},
	"secretkey":     {},
	"code":          {},
	"recoverycode":  {},
	"cookie":        {},
	"authorization": {},
}

// Logger interface defines the logging contract
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)

	With(args ...any) Logger
	WithGroup(name string) Logger
}

// New creates logger that suits the environment and writes records to w
// Credentials (passwords, tokens, codes) never reach w, see secretKeys
func New(w io.Writer, env string, level string) (Logger, error) {
	lvl, err := parseLevel(level)
	if err != nil {
		return nil, err
	}

	opts := &slog.HandlerOptions{
		Level:       lvl,
		AddSource:   true,
		ReplaceAttr: replace,
	}

	var h slog.Handler
	switch env {
	case EnvDevelopment:
		h = slog.NewTextHandler(w, opts)
	case EnvProduction:
		h = slog.NewJSONHandler(w, opts)
	default:
		return nil, fmt.Errorf("unknown environment %q, use %q or %q", env, EnvDevelopment, EnvProduction)
	}

	return &slogLogger{logger: slog.New(h)}, nil
}

// NewNoOpLogger creates a logger that discards all log messages
func NewNoOpLogger() Logger {
	return &slogLogger{logger: slog.New(slog.DiscardHandler)}
}

func parseLevel(level string) (slog.Level, error) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case LevelDebug:
		lvl = slog.LevelDebug
	case LevelInfo:
		lvl = slog.LevelInfo
	case LevelWarn:
		lvl = slog.LevelWarn
	case LevelError:
		lvl = slog.LevelError
	default:
		return lvl, fmt.Errorf("unknown log level %q", level)
	}
	return lvl, nil
}

// replace masks credentials and trims the source path to the file name
func replace(_ []string, a slog.Attr) slog.Attr {
	if a.Key == slog.SourceKey {
		if source, ok := a.Value.Any().(*slog.Source); ok {
			source.File = filepath.Base(source.File)
		}
		return a
	}

	if a.Value.Kind() != slog.KindGroup && isSecret(a.Key) {
		return slog.String(a.Key, Redacted)
	}

	return a
}

func isSecret(key string) bool {
	normalized := strings.NewReplacer("_", "", "-", "").Replace(strings.ToLower(key))
	_, ok := secretKeys[normalized]
	return ok
}
