package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/rollcall-dev/rollcall/internal/config"
	"github.com/rollcall-dev/rollcall/internal/daemon"
	"github.com/rollcall-dev/rollcall/internal/dashboard"
	"github.com/rollcall-dev/rollcall/internal/display"
	"github.com/rollcall-dev/rollcall/internal/engine"
	"github.com/rollcall-dev/rollcall/internal/token"
)

// resyncCommand typed on stdin asks for an immediate resync.
const resyncCommand = ":sync"

// scannerFlags are bound in PreRun because scan and dashboard share keys.
var scannerFlags = map[string]string{
	"spool": "scan.spool_dir",
	"addr":  "dashboard.addr",
}

var scanCmd = &cobra.Command{
	Use:     "scan",
	GroupID: "scan",
	Short:   "Record scans from stdin and the spool directory",
	Long: `Start the scanner loop.

Every line on stdin is one token, the way keyboard-wedge scanners type. When
scan.spool_dir is set, every file dropped into that directory is read as
well. Each identifier is accepted at most once per cooldown window.

Results are printed one line per scan and, unless --addr is empty, broadcast
to the dashboard:
  ws://localhost:8080/ws

Type :sync (or POST /resync) to probe the remote store and replay unsynced
rows immediately.`,
	PreRun: func(cmd *cobra.Command, args []string) {
		bindFlags(cmd.Flags(), scannerFlags)
	},
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig(true)
		runScanner(cfg, true)
	},
}

func init() {
	scanCmd.Flags().String("spool", "", "spool directory watched for token files")
	scanCmd.Flags().String("addr", "", "dashboard listen address (empty string disables)")
	rootCmd.AddCommand(scanCmd)
}

// runScanner runs the engine until interrupted. With readStdin unset,
// tokens come only from the spool directory.
func runScanner(cfg *config.Config, readStdin bool) {
	logs := openLogging(cfg)
	defer logs.Close()
	logger := logs.Component("scan")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	e := newEngine(ctx, cfg, logs, display.NewTerminal(os.Stdout))

	var server *dashboard.Server
	if cfg.Dashboard.Addr != "" {
		server = dashboard.NewServer(&dashboard.Config{
			Addr:    cfg.Dashboard.Addr,
			Status:  func() any { return e.Status() },
			Resync:  e.Resync,
			Metrics: e.Metrics().Handler(),
			Logger:  logs.Component("dashboard"),
		})
		if err := server.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to start dashboard: %v\n", err)
			os.Exit(1)
		}
		e.AddSurface(server)
		fmt.Printf("Dashboard on http://%s (WebSocket /ws)\n", server.Addr())
	}

	if err := e.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	emit := func(text string) {
		if strings.TrimSpace(text) == resyncCommand {
			if err := e.Resync(); err != nil {
				logger.Printf("Resync request failed: %v", err)
			}
			return
		}
		e.Submit(ctx, text)
	}

	g, gctx := errgroup.WithContext(ctx)
	if cfg.Scan.SpoolDir != "" {
		watcher, err := daemon.NewSpoolWatcher(cfg.Scan.SpoolDir, logs.Component("spool"))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		g.Go(func() error {
			return watcher.Run(gctx, emit)
		})
		fmt.Printf("Watching %s for tokens\n", watcher.Dir())
	}
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	if readStdin {
		interactive := term.IsTerminal(int(os.Stdin.Fd()))
		if interactive {
			fmt.Printf("Ready. Scan a token, type %s to resync, Ctrl+C to stop.\n", resyncCommand)
		}
		// a blocked terminal read cannot observe cancellation, so stdin
		// stays outside the group
		go func() {
			if err := runStdin(ctx, emit); err != nil {
				logger.Printf("Stdin reader stopped: %v", err)
			}
			if cfg.Scan.SpoolDir == "" {
				stop()
			}
		}()
	} else {
		fmt.Println("Press Ctrl+C to stop...")
	}

	if err := g.Wait(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}

	fmt.Println("\nShutting down...")
	shutdown(e, server)
}

func shutdown(e *engine.Engine, server *dashboard.Server) {
	status := e.Status()
	if err := e.Stop(); err != nil {
		fmt.Fprintf(os.Stderr, "Error during shutdown: %v\n", err)
	}
	if server != nil {
		if err := server.Stop(); err != nil {
			fmt.Fprintf(os.Stderr, "Error stopping dashboard: %v\n", err)
		}
	}
	for _, l := range status.Ledgers {
		if l.Unsynced > 0 {
			fmt.Printf("%s: %d rows not yet synced; run 'rollcall sync --day %s'\n", l.Day, l.Unsynced, l.Day)
		}
	}
}

func runStdin(ctx context.Context, emit func(string)) error {
	return token.NewLineSource(os.Stdin).Run(ctx, emit)
}
