package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/rollcall-dev/rollcall/internal/export"
	"github.com/rollcall-dev/rollcall/internal/ledger"
)

var exportCmd = &cobra.Command{
	Use:     "export",
	GroupID: "sync",
	Short:   "Export a day's ledger as an Excel workbook",
	Long: `Write one day's ledger to an .xlsx workbook with a summary sheet.

The export reads only the local ledger and works offline.

Example usage:
  rollcall export                          # today, to 2026-03-07_scans.xlsx
  rollcall export --day "last friday" -o friday.xlsx`,
	Run: func(cmd *cobra.Command, args []string) {
		dayFlag, _ := cmd.Flags().GetString("day")
		out, _ := cmd.Flags().GetString("output")
		day, err := parseDay(dayFlag, time.Now())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if out == "" {
			out = strings.TrimSuffix(ledger.FileName(day), ".csv") + ".xlsx"
		}

		cfg := loadConfig(false)
		logs := openLogging(cfg)
		defer logs.Close()
		book := openBook(cfg, logs)
		defer book.Close()

		l, err := book.Open(day)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if err := export.WriteFile(out, l); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		st := l.Stats()
		fmt.Printf("Exported %d records (%d events) for %s to %s\n", st.Records, st.Events, st.Day, out)
	},
}

func init() {
	exportCmd.Flags().String("day", "", "day to export (default today)")
	exportCmd.Flags().StringP("output", "o", "", "output file")
	rootCmd.AddCommand(exportCmd)
}
