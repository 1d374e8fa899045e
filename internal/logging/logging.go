package logging

import (
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
)

const (
	EnvLevel = "TYPEINJECT_LOG_LEVEL"
	EnvJSON  = "TYPEINJECT_LOG_JSON"
)

type Options struct {
	Level string
	JSON  bool
	// Output defaults to os.Stderr; stdout is reserved for rewritten source.
	Output io.Writer
}

var def atomic.Value

func init() {
	cfg := &slog.HandlerOptions{Level: slog.LevelInfo}
	h := slog.NewTextHandler(os.Stderr, cfg)
	def.Store(slog.New(h))
}

func Configure(opts Options) {
	w := opts.Output
	if w == nil {
		w = os.Stderr
	}
	cfg := &slog.HandlerOptions{Level: parseLevel(opts.Level)}
	var h slog.Handler
	if opts.JSON {
		h = slog.NewJSONHandler(w, cfg)
	} else {
		h = slog.NewTextHandler(w, cfg)
	}
	def.Store(slog.New(h))
}

func parseLevel(s string) slog.Level {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func L() *slog.Logger {
	l, _ := def.Load().(*slog.Logger)
	return l
}

func InitFromEnv() {
	Configure(FromEnv())
}

// FromEnv reads TYPEINJECT_LOG_LEVEL and TYPEINJECT_LOG_JSON.
func FromEnv() Options {
	json := false
	if b, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(EnvJSON))); err == nil {
		json = b
	}
	return Options{Level: os.Getenv(EnvLevel), JSON: json}
}
