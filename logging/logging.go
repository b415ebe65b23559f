// Package logging provides the structured Logger interface used by every
// component and a slog-backed implementation, optionally tee'd to a
// rotating file on disk.
package logging

import (
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the structured, leveled logging interface every component
// depends on. Matches the shape the teacher's chains.Logger exposed, so
// component constructors accepting a Logger need no adaptation layer.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// FileConfig rotates the log file underneath the JSON handler. A zero value
// disables file rotation and logs only to Out.
type FileConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// New builds a slog.Logger writing JSON to out, and additionally to a
// rotating file if file.Path is non-empty.
func New(out io.Writer, level slog.Level, file FileConfig) *slog.Logger {
	if out == nil {
		out = os.Stdout
	}
	w := out
	if file.Path != "" {
		w = io.MultiWriter(out, &lumberjack.Logger{
			Filename:   file.Path,
			MaxSize:    orDefault(file.MaxSizeMB, 100),
			MaxBackups: file.MaxBackups,
			MaxAge:     file.MaxAgeDays,
			Compress:   file.Compress,
		})
	}
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	return slog.New(handler)
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// Nop is a Logger that discards everything; useful in tests.
type Nop struct{}

func (Nop) Debug(string, ...any) {}
func (Nop) Info(string, ...any)  {}
func (Nop) Warn(string, ...any)  {}
func (Nop) Error(string, ...any) {}
