// Command rollcall records token scans to a local ledger and mirrors them
// to a remote attendance spreadsheet or database.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/rollcall-dev/rollcall/internal/config"
)

var (
	cfgFile string
	v       = config.NewViper()
)

var rootCmd = &cobra.Command{
	Use:   "rollcall",
	Short: "Offline-first attendance scanner",
	Long: `rollcall reads identifier tokens from a scanner, records every scan in a
per-day local ledger and mirrors the result to a daily table and a master
roster in the configured remote store.

Scans are never lost to a network outage: the ledger is written first and
unsynced rows are replayed when the remote store becomes reachable again.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "scan", Title: "Scanning:"},
		&cobra.Group{ID: "sync", Title: "Sync and reporting:"},
		&cobra.Group{ID: "advanced", Title: "Advanced:"},
	)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default: rollcall.{toml,yaml,json} in the user config dir or .)")
	flags.String("data-dir", "", "directory holding ledgers and the log")
	flags.String("backend", "", "remote backend: sheets, sql or memory")
	flags.BoolP("verbose", "v", false, "also write the operational log to stderr")

	bindFlags(flags, map[string]string{
		"data-dir": "data_dir",
		"backend":  "backend",
		"verbose":  "log.verbose",
	})
}

// bindFlags binds each flag to its config key so flags override env and
// file values.
func bindFlags(flags *pflag.FlagSet, keys map[string]string) {
	for name, key := range keys {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			panic(fmt.Sprintf("bind flag %s: %v", name, err))
		}
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
