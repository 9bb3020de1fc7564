// Package logging configures the process logger. Stdout carries the RPC
// channel, so log output goes to a rotating file or stderr.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/samsaffron/nvim-llm/internal/config"
)

// Logger owns the log sink and a level that can change at runtime.
type Logger struct {
	*slog.Logger
	level *slog.LevelVar

	mu   sync.Mutex
	file string
	sink io.WriteCloser
}

// New creates a logger for cfg. An empty file logs to stderr.
func New(cfg config.LogConfig) (*Logger, error) {
	l := &Logger{level: new(slog.LevelVar)}
	if err := l.setLevel(cfg.Level); err != nil {
		return nil, err
	}
	w, err := l.open(cfg.File)
	if err != nil {
		return nil, err
	}
	l.Logger = slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: l.level}))
	return l, nil
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Apply updates the level from a reloaded config. The file cannot change
// without a restart; a different path is reported once at warn level.
func (l *Logger) Apply(cfg config.LogConfig) {
	if err := l.setLevel(cfg.Level); err != nil {
		l.Warn("ignoring log level", "level", cfg.Level, "error", err)
	}
	l.mu.Lock()
	changed := cfg.File != "" && cfg.File != l.file
	l.mu.Unlock()
	if changed {
		l.Warn("log.file changed, restart to apply", "file", cfg.File)
	}
}

// Level returns the active level.
func (l *Logger) Level() slog.Level { return l.level.Level() }

func (l *Logger) setLevel(s string) error {
	if strings.TrimSpace(s) == "" {
		l.level.Set(slog.LevelInfo)
		return nil
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return &config.Error{Field: "log.level", Reason: err.Error()}
	}
	l.level.Set(lvl)
	return nil
}

func (l *Logger) open(file string) (io.Writer, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.file = file
	if file == "" {
		return os.Stderr, nil
	}
	if err := os.MkdirAll(filepath.Dir(file), 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	l.sink = &lumberjack.Logger{
		Filename:   file,
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
		LocalTime:  true,
	}
	return l.sink, nil
}

// Close flushes and closes the log file, if any.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sink == nil {
		return nil
	}
	err := l.sink.Close()
	l.sink = nil
	return err
}
