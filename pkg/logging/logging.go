// Package logging builds the project's default structured loggers.
package logging

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
)

// New returns a colorized slog logger writing to w at the given level.
func New(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: time.RFC3339,
	}))
}

// Default logs to stderr at Info level. Quiet returns a logger that
// discards everything; operations always have a non-nil logger to
// hand around.
func Default() *slog.Logger {
	return New(os.Stderr, slog.LevelInfo)
}

func Quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
