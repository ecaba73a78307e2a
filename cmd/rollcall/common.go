package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"

	"github.com/rollcall-dev/rollcall/internal/config"
	"github.com/rollcall-dev/rollcall/internal/display"
	"github.com/rollcall-dev/rollcall/internal/engine"
	"github.com/rollcall-dev/rollcall/internal/ledger"
	"github.com/rollcall-dev/rollcall/internal/logging"
	"github.com/rollcall-dev/rollcall/internal/schema"
)

// loadConfig resolves flags, environment and config file. validate also
// checks the backend settings.
func loadConfig(validate bool) *config.Config {
	cfg, err := config.Load(v, cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if validate {
		if err := cfg.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			fmt.Fprintf(os.Stderr, "Run 'rollcall init' to write a config file\n")
			os.Exit(1)
		}
	}
	return cfg
}

func openLogging(cfg *config.Config) *logging.Logging {
	opts := logging.DefaultOptions(cfg.LogPath())
	opts.Verbose = cfg.Log.Verbose
	logs, err := logging.New(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: operational log unavailable: %v\n", err)
		return logging.Discard()
	}
	return logs
}

// newEngine builds the engine or exits.
func newEngine(ctx context.Context, cfg *config.Config, logs *logging.Logging, surfaces ...display.Surface) *engine.Engine {
	e, err := engine.New(ctx, &engine.Options{
		Config:   cfg,
		Logging:  logs,
		Surfaces: surfaces,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return e
}

// openBook returns a ledger book that gives up quickly when a running
// scanner holds the day's lock.
func openBook(cfg *config.Config, logs *logging.Logging) *ledger.Book {
	return ledger.NewBook(&ledger.Config{
		Dir:         cfg.DataDir,
		FallbackDir: cfg.FallbackDir,
		LockTimeout: 2 * time.Second,
		Logger:      logs.Component("ledger"),
	})
}

var dayLayouts = []string{schema.FileDateLayout, schema.DateKeyLayout}

// parseDay accepts "", a date in either canonical layout, or a phrase such
// as "yesterday" or "last friday".
func parseDay(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return schema.Day(now), nil
	}
	for _, layout := range dayLayouts {
		if t, err := time.ParseInLocation(layout, s, now.Location()); err == nil {
			return t, nil
		}
	}

	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	r, err := w.Parse(s, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse day %q: %w", s, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("unrecognized day %q", s)
	}
	return schema.Day(r.Time), nil
}
