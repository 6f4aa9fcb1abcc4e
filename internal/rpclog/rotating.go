package rpclog

import (
	"log/slog"
	"path/filepath"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// RotatingHandler is a per-manager file handler attached on top of a named
// logger's base output, mirroring the original framework's
// TimedRotatingFileHandler attached to each manager's python logger.
type RotatingHandler struct {
	name   string
	file   *lumberjack.Logger
	logger *slog.Logger
}

var rotating = struct {
	sync.Mutex
	handlers map[string]*RotatingHandler
}{handlers: map[string]*RotatingHandler{}}

// AddRotatingHandler creates a rotating file handler for name, writing under
// folder/<name>.log and keeping at most backupCount rotated files (rotation
// is by size, at lumberjack's default limit). The logger returned by Named is
// not changed and does not write to this file; only the handler's Logger()
// does.
func AddRotatingHandler(name, folder string, backupCount int) *RotatingHandler {
	rotating.Lock()
	defer rotating.Unlock()

	if h, ok := rotating.handlers[name]; ok {
		return h
	}

	lj := &lumberjack.Logger{
		Filename:   filepath.Join(folder, name+".log"),
		MaxBackups: backupCount,
		Compress:   false,
	}
	handler := slog.NewJSONHandler(lj, &slog.HandlerOptions{Level: Level(name)})
	h := &RotatingHandler{
		name:   name,
		file:   lj,
		logger: slog.New(handler).With("service", name),
	}
	rotating.handlers[name] = h
	return h
}

// Logger returns the rotating-file-backed logger, for callers that want to
// write only to the file.
func (h *RotatingHandler) Logger() *slog.Logger {
	return h.logger
}

// RemoveRotatingHandler closes and detaches a manager's rotating handler.
// Part of the shutdown coordinator's finalizer step, which removes every
// manager's rotating handler (plus the root logger's, if one was attached)
// before signalling shutdown-complete.
func RemoveRotatingHandler(name string) error {
	rotating.Lock()
	defer rotating.Unlock()

	h, ok := rotating.handlers[name]
	if !ok {
		return nil
	}
	delete(rotating.handlers, name)
	return h.file.Close()
}

// RemoveAllRotatingHandlers closes every attached rotating handler, including
// one attached to the root logger via AddRotatingHandler(RootLoggerName, ...).
func RemoveAllRotatingHandlers() {
	rotating.Lock()
	names := make([]string, 0, len(rotating.handlers))
	for n := range rotating.handlers {
		names = append(names, n)
	}
	rotating.Unlock()

	for _, n := range names {
		_ = RemoveRotatingHandler(n)
	}
}

// RootLoggerName is the pseudo service name used to attach a rotating
// handler to the root logger itself, matching the original server's
// override that also rotates the root python logger's file handler.
const RootLoggerName = "__root__"
