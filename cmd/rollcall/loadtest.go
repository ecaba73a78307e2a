package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rollcall-dev/rollcall/internal/loadtest"
	"github.com/rollcall-dev/rollcall/internal/logging"
)

var loadtestCmd = &cobra.Command{
	Use:     "loadtest",
	GroupID: "advanced",
	Short:   "Drive synthetic scans through an in-memory engine",
	Long: `Run concurrent scanning stations against an engine backed by an in-memory
remote store, inject transient failures halfway through, then wait for
every ledger row to converge.

Nothing is written to the configured backend; ledgers go to a temporary
directory that is removed afterwards.

Example usage:
  rollcall loadtest
  rollcall loadtest --stations 16 --scans 200 --faults 20 --json`,
	Run: func(cmd *cobra.Command, args []string) {
		flags := cmd.Flags()
		asJSON, _ := flags.GetBool("json")
		verbose, _ := flags.GetBool("verbose")

		dir, err := os.MkdirTemp("", "rollcall-loadtest-")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer os.RemoveAll(dir)

		opts := loadtest.DefaultOptions(dir)
		opts.Identifiers, _ = flags.GetInt("identifiers")
		opts.Stations, _ = flags.GetInt("stations")
		opts.ScansPerStation, _ = flags.GetInt("scans")
		opts.Faults, _ = flags.GetInt("faults")
		opts.Cooldown, _ = flags.GetDuration("cooldown")
		opts.Seed, _ = flags.GetInt64("seed")
		if verbose {
			logs, err := logging.New(logging.Options{Verbose: true})
			if err == nil {
				opts.Logging = logs
				defer logs.Close()
			}
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		if !asJSON {
			fmt.Printf("Running %d stations x %d scans over %d identifiers (%d injected faults)...\n",
				opts.Stations, opts.ScansPerStation, opts.Identifiers, opts.Faults)
		}
		result, err := loadtest.Run(ctx, opts)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			_ = enc.Encode(result)
		} else {
			result.Print(os.Stdout)
		}
		if !result.Drained {
			os.RemoveAll(dir)
			os.Exit(1)
		}
	},
}

func init() {
	def := loadtest.DefaultOptions("")
	flags := loadtestCmd.Flags()
	flags.Int("identifiers", def.Identifiers, "roster size")
	flags.Int("stations", def.Stations, "concurrent scanning stations")
	flags.Int("scans", def.ScansPerStation, "scans per station")
	flags.Int("faults", def.Faults, "transient remote failures to inject")
	flags.Duration("cooldown", def.Cooldown, "per-identifier cooldown")
	flags.Int64("seed", def.Seed, "random seed for the scan order")
	rootCmd.AddCommand(loadtestCmd)
}
