// Package dbglog builds the structured logger every pkg/dbg component
// shares: one log/slog.Logger fanning out to a human-readable console
// handler and, when a log file is configured, a second JSON handler
// writing to disk.
//
// The teacher's go.mod already carries github.com/samber/slog-multi as a
// declared dependency with no importer anywhere in the retrieved slice;
// this package is where it finally gets exercised, the way a debugger
// binary actually wants dual console+file logging during a session.
package dbglog

import (
	"io"
	"log/slog"
	"os"

	slogmulti "github.com/samber/slog-multi"
)

// Options configures New.
type Options struct {
	// Verbose enables slog.LevelDebug on the console handler; otherwise
	// only Info and above are printed.
	Verbose bool
	// FilePath, if non-empty, also writes a JSON-formatted copy of every
	// record at or above slog.LevelDebug to the named file.
	FilePath string
}

// New builds the shared logger per Options, always including a console
// handler so the REPL never runs silent even without --log-file.
func New(opts Options) (*slog.Logger, error) {
	consoleLevel := slog.LevelInfo
	if opts.Verbose {
		consoleLevel = slog.LevelDebug
	}
	console := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: consoleLevel})

	handlers := []slog.Handler{console}

	if opts.FilePath != "" {
		f, err := os.OpenFile(opts.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, err
		}
		handlers = append(handlers, slog.NewJSONHandler(f, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	return slog.New(slogmulti.Fanout(handlers...)), nil
}

// Discard returns a logger that drops everything, used by tests that
// don't want session output on stderr.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
