// Package logging builds the structured loggers pgqueue's processes use.
// It follows the one teacher instance of structured logging
// (consolidated-worker-go/main.go wiring slog.Default() into River) rather
// than introducing a third-party logging library the teacher never reaches
// for.
package logging

import (
	"log/slog"
	"os"

	"github.com/civic-os/pgqueue/internal/model"
)

// New returns a logger tagged with the process kind and name, so every line
// a runnable emits is attributable without a hand-rolled "[Tag]" prefix.
func New(kind model.ProcessKind, name string) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})).
		With("process_kind", string(kind), "process_name", name)
}

// Component returns a child logger scoped to one runnable component within
// a process (e.g. the heartbeat timer vs. the poll loop).
func Component(base *slog.Logger, component string) *slog.Logger {
	return base.With("component", component)
}
