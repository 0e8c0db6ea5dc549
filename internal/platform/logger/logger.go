package logger

import (
	"log/slog"
	"os"
)

// New returns the root structured logger. Services receive children of
// this via constructor options.
func New() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}
