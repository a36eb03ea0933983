// Package logging holds the process-wide structured logger. Output goes to
// stderr so the stdio MCP transport keeps stdout to itself.
package logging

import (
	"io"
	"os"
	"sync"

	"github.com/charmbracelet/log"
)

var (
	mu     sync.RWMutex
	logger = newLogger(os.Stderr, log.InfoLevel)
)

func newLogger(w io.Writer, level log.Level) *log.Logger {
	return log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		Level:           level,
		Prefix:          "entity-graph",
	})
}

// Init replaces the logger, using level ("debug", "info", "warn", "error").
// Unknown levels fall back to info.
func Init(level string) {
	lvl, err := log.ParseLevel(level)
	if err != nil || level == "" {
		lvl = log.InfoLevel
	}
	mu.Lock()
	logger = newLogger(os.Stderr, lvl)
	mu.Unlock()
	if err != nil && level != "" {
		L().Warn("unknown log level, using info", "level", level)
	}
}

// SetOutput redirects the logger, keeping its level.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	logger = newLogger(w, logger.GetLevel())
}

// L returns the current logger.
func L() *log.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}
