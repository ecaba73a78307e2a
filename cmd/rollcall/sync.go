package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rollcall-dev/rollcall/internal/engine"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Replay a day's unsynced ledger rows to the remote store",
	Long: `Probe the remote store and push every unsynced row of one day's ledger.

A pre-sync backup of the ledger is written first and, when every row
converged, a synced backup after it. The ledger is locked while the command
runs; to sync while a scanner is running, type :sync in the scanner or POST
to its /resync endpoint instead.

Example usage:
  rollcall sync                    # today
  rollcall sync --day yesterday
  rollcall sync --day 2026-03-06`,
	Run: func(cmd *cobra.Command, args []string) {
		dayFlag, _ := cmd.Flags().GetString("day")
		day, err := parseDay(dayFlag, time.Now())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		cfg := loadConfig(true)
		logs := openLogging(cfg)
		defer logs.Close()

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		e := newEngine(ctx, cfg, logs)
		defer e.Stop()

		fmt.Printf("Syncing %s via %s...\n", day.Format("2006-01-02"), cfg.Backend)
		report, err := e.Replay(ctx, day)
		if errors.Is(err, engine.ErrOffline) {
			fmt.Fprintf(os.Stderr, "Error: remote store unavailable: %v\n", err)
			fmt.Fprintf(os.Stderr, "Rows stay in the ledger; try again later\n")
			e.Stop()
			os.Exit(1)
		}

		fmt.Printf("  Pending:   %d\n", report.Pending)
		fmt.Printf("  Synced:    %d\n", report.Synced)
		fmt.Printf("  Failed:    %d\n", report.Failed)
		fmt.Printf("  Remaining: %d\n", report.Remaining)
		fmt.Printf("  Took:      %v\n", report.Duration.Round(time.Millisecond))

		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: replay incomplete: %v\n", err)
			fmt.Fprintf(os.Stderr, "See %s for details\n", cfg.LogPath())
			e.Stop()
			os.Exit(1)
		}
	},
}

func init() {
	syncCmd.Flags().String("day", "", "day to sync: date or phrase such as \"yesterday\" (default today)")
	rootCmd.AddCommand(syncCmd)
}
