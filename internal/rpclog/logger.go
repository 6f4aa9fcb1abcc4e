// Package rpclog is rpchost's logging setup: one process-wide slog.Logger,
// named child loggers per hosted service, and optional per-logger rotating
// file handlers that the log built-in service and the shutdown coordinator
// can attach and detach at runtime.
package rpclog

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Root is the process-wide logger. Replaced by Init/InitWithConfig; reads and
// writes are safe only before any goroutine has taken a reference via
// Named, since slog.Logger itself is immutable once built.
var Root *slog.Logger

var base struct {
	writer io.Writer
	text   bool
}

// Config controls how Init builds the root logger.
type Config struct {
	Level      string // debug, info, warn, error
	Format     string // json, text
	Output     string // stdout, stderr, file
	FilePath   string
	MaxSize    int // MB
	MaxBackups int
	MaxAge     int // days
	Compress   bool
}

func levelFromString(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Init builds the root logger with the given level, JSON format, stdout
// output - the common case for a freshly started host.
func Init(level string) {
	InitWithConfig(Config{Level: level, Format: "json", Output: "stdout"})
}

// InitWithConfig builds the root logger from a full Config.
func InitWithConfig(cfg Config) {
	var writer io.Writer
	switch cfg.Output {
	case "stderr":
		writer = os.Stderr
	case "file":
		writer = fileWriter(cfg)
	default:
		writer = os.Stdout
	}

	base.writer = writer
	base.text = cfg.Format == "text"

	opts := &slog.HandlerOptions{
		Level:     levelVar(levelFromString(cfg.Level)),
		AddSource: cfg.Level == "debug",
	}

	var handler slog.Handler
	if base.text {
		handler = slog.NewTextHandler(writer, opts)
	} else {
		handler = slog.NewJSONHandler(writer, opts)
	}

	Root = slog.New(handler)

	registry.Lock()
	registry.levels = map[string]*slog.LevelVar{}
	registry.loggers = map[string]*slog.Logger{}
	registry.Unlock()
}

func fileWriter(cfg Config) io.Writer {
	path := cfg.FilePath
	if path == "" {
		path = "logs/app.log"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return os.Stdout
	}
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	}
}

// registry tracks every named logger's *slog.LevelVar so the log built-in
// service can change levels at runtime without rebuilding handlers.
var registry = struct {
	sync.RWMutex
	levels  map[string]*slog.LevelVar
	loggers map[string]*slog.Logger
}{levels: map[string]*slog.LevelVar{}, loggers: map[string]*slog.Logger{}}

func levelVar(initial slog.Level) *slog.LevelVar {
	lv := &slog.LevelVar{}
	lv.Set(initial)
	return lv
}

// Named returns a child logger tagged with the given service name, creating
// and registering it on first use. Each named logger owns its own
// slog.LevelVar, so SetLevel(name, ...) can change it independently of the
// root logger and every other named logger.
func Named(name string) *slog.Logger {
	registry.Lock()
	defer registry.Unlock()
	if l, ok := registry.loggers[name]; ok {
		return l
	}
	lv := levelVar(slog.LevelInfo)
	opts := &slog.HandlerOptions{Level: lv}
	writer := base.writer
	if writer == nil {
		writer = os.Stdout
	}
	var handler slog.Handler
	if base.text {
		handler = slog.NewTextHandler(writer, opts)
	} else {
		handler = slog.NewJSONHandler(writer, opts)
	}
	l := slog.New(handler).With("service", name)
	registry.levels[name] = lv
	registry.loggers[name] = l
	return l
}

// SetLevel changes the level of a previously named logger. It is a no-op if
// name has not been registered via Named.
func SetLevel(name string, level slog.Level) {
	registry.RLock()
	defer registry.RUnlock()
	if lv, ok := registry.levels[name]; ok {
		lv.Set(level)
	}
}

// Level returns the current level of a named logger, or slog.LevelInfo if it
// is unknown.
func Level(name string) slog.Level {
	registry.RLock()
	defer registry.RUnlock()
	if lv, ok := registry.levels[name]; ok {
		return lv.Level()
	}
	return slog.LevelInfo
}

// KnownLoggers returns the names of every logger created via Named, for the
// log built-in service's get() handler.
func KnownLoggers() []string {
	registry.RLock()
	defer registry.RUnlock()
	names := make([]string, 0, len(registry.loggers))
	for n := range registry.loggers {
		names = append(names, n)
	}
	return names
}

// WithContext returns Root augmented with the given key/value pairs.
func WithContext(_ context.Context, args ...any) *slog.Logger {
	return Root.With(args...)
}
