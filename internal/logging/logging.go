// Package logging builds the slog loggers shared by the engine, the store
// and the CLI.
package logging

import (
	"io"
	"log/slog"
)

// New returns a text logger writing to w at the given level.
// The "error" key is shortened to "err" so every component logs errors
// under the same key.
func New(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == "error" {
				a.Key = "err"
			}
			return a
		},
	}))
}

// NewNop returns a logger that discards everything.
func NewNop() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
