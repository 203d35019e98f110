// Package logging holds the engine wide structured logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

var (
	once      sync.Once
	singleton *log.Logger
)

// Logger returns the shared logger, creating it on first use.
// It writes to stderr with timestamps at info level until SetLevel is called.
//
// Returns:
//   - *log.Logger: the shared logger
func Logger() *log.Logger {
	once.Do(func() {
		singleton = log.NewWithOptions(os.Stderr, log.Options{
			ReportCaller:    false,
			ReportTimestamp: true,
			TimeFormat:      time.RFC3339,
			Prefix:          "khzeb",
			Level:           log.InfoLevel,
		})
	})
	return singleton
}

// SetLevel sets the shared logger's level from its name (debug, info, warn, error, fatal).
//
// Parameters:
//   - level: the level name
//
// Returns:
//   - error: an error if the name is not a known level
func SetLevel(level string) error {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	Logger().SetLevel(lvl)
	return nil
}

// SetOutput redirects the shared logger.
func SetOutput(w io.Writer) {
	Logger().SetOutput(w)
}

// With returns a child of the shared logger carrying the given key/value pairs.
//
// Parameters:
//   - keyvals: alternating keys and values
//
// Returns:
//   - *log.Logger: the child logger
func With(keyvals ...any) *log.Logger {
	return Logger().With(keyvals...)
}
