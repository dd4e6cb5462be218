// Package logger builds the process-wide slog logger.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/lmittmann/tint"
)

// Options selects the log destination and verbosity.
type Options struct {
	// Verbose enables debug output.
	Verbose bool
	// File, when set, receives the log instead of Writer. Opened in append mode.
	File string
	// NoColor disables ANSI colors. Always true for files.
	NoColor bool
	// Writer defaults to os.Stderr.
	Writer io.Writer
}

var (
	logFile *os.File
	mu      sync.Mutex
)

// New creates a logger writing to opts.Writer with the tint handler.
func New(opts Options) *slog.Logger {
	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}
	level := slog.LevelInfo
	if opts.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: time.RFC3339,
		NoColor:    opts.NoColor,
	}))
}

// Init builds the logger, opening opts.File if set, and installs it as the slog default.
func Init(opts Options) (*slog.Logger, error) {
	mu.Lock()
	defer mu.Unlock()

	// Close previous log file if exists
	if logFile != nil {
		logFile.Close()
		logFile = nil
	}

	if opts.File != "" {
		f, err := os.OpenFile(opts.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to create log file: %w", err)
		}
		logFile = f
		opts.Writer = f
		opts.NoColor = true
	}

	l := New(opts)
	slog.SetDefault(l)
	return l, nil
}

// Close closes the log file opened by Init.
func Close() {
	mu.Lock()
	defer mu.Unlock()

	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// OrDiscard returns l, or a discarding logger when l is nil.
func OrDiscard(l *slog.Logger) *slog.Logger {
	if l == nil {
		return Discard()
	}
	return l
}
