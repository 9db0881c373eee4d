package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"

	"dirigent/internal/config"
	derrors "dirigent/internal/errors"
	"dirigent/internal/journal"
	"dirigent/internal/registry"
	"dirigent/internal/session"
)

// printError renders a structured error with its fix hint when available.
func printError(err error) {
	if de := derrors.AsError(err); de != nil {
		fmt.Fprintln(os.Stderr, de.UserMessage())
		return
	}
	fmt.Fprintln(os.Stderr, "Error:", err)
}

// loadConfig loads the project config from the working directory.
func loadConfig() (*config.Config, error) {
	dir, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("get working directory: %w", err)
	}
	if err := config.RequireInit(dir); err != nil {
		return nil, err
	}
	cfg, err := config.Load(dir)
	if err != nil {
		return nil, derrors.Wrap(err, "project configuration could not be loaded")
	}
	return cfg, nil
}

// loadRegistry loads and validates the agent registry for cfg.
func loadRegistry(cfg *config.Config) (*registry.Registry, error) {
	return registry.Load(cfg.RegistryPath())
}

// openStore returns the session store for cfg.
func openStore(cfg *config.Config) *session.Store {
	return session.NewStore(cfg.StateDir())
}

// openJournal opens the event journal, or a no-op sink when disabled.
func openJournal(cfg *config.Config) (journal.Sink, error) {
	if !cfg.Journal {
		return journal.Nop{}, nil
	}
	sink, err := journal.Open(cfg.JournalPath())
	if err != nil {
		return nil, derrors.Wrap(err, "event journal could not be opened")
	}
	return sink, nil
}

// newLogger builds the CLI logger. Verbose enables debug level; output
// goes to stderr so stdout stays parseable.
func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// useStyling reports whether tables and styling should be rendered.
func useStyling() bool {
	if plain {
		return false
	}
	return isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
}
