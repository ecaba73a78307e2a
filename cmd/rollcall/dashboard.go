package main

import (
	"github.com/spf13/cobra"
)

var dashboardCmd = &cobra.Command{
	Use:     "dashboard",
	GroupID: "scan",
	Short:   "Run a headless scanner fed by the spool directory",
	Long: `Run the engine without reading stdin. Tokens arrive only as files in
scan.spool_dir, and results are broadcast to WebSocket clients.

Endpoints:
  ws://localhost:8080/ws     scan and status messages
  /health                    liveness and client count
  /status                    engine status as JSON
  /metrics                   Prometheus metrics
  POST /resync               probe and replay unsynced rows now

Example usage:
  rollcall dashboard --spool /var/spool/rollcall
  rollcall dashboard --addr 127.0.0.1:9000 --spool ./incoming`,
	PreRun: func(cmd *cobra.Command, args []string) {
		bindFlags(cmd.Flags(), scannerFlags)
	},
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig(true)
		if cfg.Dashboard.Addr == "" {
			cfg.Dashboard.Addr = ":8080"
		}
		runScanner(cfg, false)
	},
}

func init() {
	dashboardCmd.Flags().String("spool", "", "spool directory watched for token files")
	dashboardCmd.Flags().String("addr", "", "listen address")
	rootCmd.AddCommand(dashboardCmd)
}
