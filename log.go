package videoshm

import (
	"log/slog"
	"os"
)

var defaultLogger = slog.New(slog.NewTextHandler(os.Stderr, nil)).With("component", "videoshm")

// SetLogger replaces the package logger. Lifecycle events (init, destroy,
// reattach) log at Info; per-frame events at Debug.
func SetLogger(l *slog.Logger) {
	if l != nil {
		defaultLogger = l
	}
}
