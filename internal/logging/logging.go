// Package logging provides structured logging with per-module levels.
//
// Output is routed automatically: to the systemd journal when journald is
// present, to stdout when connected, and always into an in-memory ring
// buffer the daemon's status API serves for diagnostics.
package logging

import (
	"log/slog"
	"os"
	"strings"
	"sync"
)

const bufferSize = 1000

// Config represents logging configuration.
type Config struct {
	Level   string            `toml:"level"`
	Format  string            `toml:"format"`
	Modules map[string]string `toml:"modules"`
}

var (
	mu            sync.RWMutex
	cfg           Config
	initialized   bool
	moduleLoggers = make(map[string]*slog.Logger)
	moduleLevels  = make(map[string]*slog.LevelVar)
	buffer        = NewRingBuffer(bufferSize)
)

// Initialize sets up the logging system. Loggers created before this call
// are rebuilt so they pick up the configured format and levels.
func Initialize(c Config) {
	mu.Lock()
	defer mu.Unlock()

	cfg = c
	initialized = true

	global := parseLevel(c.Level, slog.LevelInfo)
	for module, lv := range moduleLevels {
		lv.Set(parseLevel(c.Modules[module], global))
		moduleLoggers[module] = slog.New(newHandler(c.Format, lv)).With("module", module)
	}

	root := &slog.LevelVar{}
	root.Set(global)
	slog.SetDefault(slog.New(newHandler(c.Format, root)))
}

// GetLogger returns a logger for the given module, creating it on first use.
func GetLogger(module string) *slog.Logger {
	mu.RLock()
	if logger, ok := moduleLoggers[module]; ok {
		mu.RUnlock()
		return logger
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if logger, ok := moduleLoggers[module]; ok {
		return logger
	}

	lv := &slog.LevelVar{}
	format := "text"
	if initialized {
		lv.Set(parseLevel(cfg.Modules[module], parseLevel(cfg.Level, slog.LevelInfo)))
		format = cfg.Format
	} else {
		lv.Set(slog.LevelInfo)
	}
	logger := slog.New(newHandler(format, lv)).With("module", module)
	moduleLoggers[module] = logger
	moduleLevels[module] = lv
	return logger
}

// Buffer returns the ring buffer holding recent log entries.
func Buffer() *RingBuffer {
	return buffer
}

// newHandler builds the handler chain: stdout (when usable), journald
// (when available), and always the ring buffer.
func newHandler(format string, level slog.Leveler) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}

	var handlers []slog.Handler
	if stdoutUsable() {
		if format == "json" {
			handlers = append(handlers, slog.NewJSONHandler(os.Stdout, opts))
		} else {
			handlers = append(handlers, slog.NewTextHandler(os.Stdout, opts))
		}
	}
	if journalAvailable() {
		handlers = append(handlers, newJournalHandler(level))
	}
	handlers = append(handlers, newBufferHandler(buffer, level))

	if len(handlers) == 1 {
		return handlers[0]
	}
	return newMultiHandler(handlers...)
}

// stdoutUsable reports whether stdout goes anywhere worth writing: a
// terminal, pipe, socket, or regular file.
func stdoutUsable() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	mode := fi.Mode()
	return mode&os.ModeCharDevice != 0 || mode&os.ModeNamedPipe != 0 || mode&os.ModeSocket != 0 || mode.IsRegular()
}

func parseLevel(s string, fallback slog.Level) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return fallback
	}
}
