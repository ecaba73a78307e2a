package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/rollcall-dev/rollcall/internal/config"
	"github.com/rollcall-dev/rollcall/internal/export"
	"github.com/rollcall-dev/rollcall/internal/logging"
	"github.com/rollcall-dev/rollcall/internal/remote/sqlstore"
	"github.com/rollcall-dev/rollcall/internal/schema"
)

var initCmd = &cobra.Command{
	Use:     "init",
	GroupID: "advanced",
	Short:   "Write a config file",
	Long: `Write a rollcall config file.

On a terminal an interactive form asks for the backend and its settings.
Otherwise (or with --no-input) the values come from flags.

With --roster, the first sheet of an Excel workbook with an ID column is
loaded as the master roster. This is supported for the sql backend; Google
Sheets rosters are maintained in the spreadsheet itself.

Example usage:
  rollcall init
  rollcall init --no-input --backend sql --dsn file:attendance.db --roster class.xlsx --days 30`,
	Run: func(cmd *cobra.Command, args []string) {
		flags := cmd.Flags()
		out, _ := flags.GetString("output")
		force, _ := flags.GetBool("force")
		noInput, _ := flags.GetBool("no-input")
		roster, _ := flags.GetString("roster")
		days, _ := flags.GetInt("days")

		cfg := loadConfig(false)
		applyInitFlags(cmd, cfg)

		if out == "" {
			out = defaultConfigPath()
		}
		if _, err := os.Stat(out); err == nil && !force {
			fmt.Fprintf(os.Stderr, "Error: %s already exists (use --force to overwrite)\n", out)
			os.Exit(1)
		}

		if !noInput && term.IsTerminal(int(os.Stdin.Fd())) {
			if err := runInitForm(cfg); err != nil {
				if errors.Is(err, huh.ErrUserAborted) {
					fmt.Println("Aborted")
					return
				}
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
		}

		if err := cfg.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if err := config.Write(out, cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Wrote %s\n", out)

		if roster != "" {
			n, err := seedRoster(cmd.Context(), cfg, roster, days, time.Now())
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("Loaded %d identifiers into %s\n", n, cfg.Sheets.MasterSheet)
		}
	},
}

func init() {
	flags := initCmd.Flags()
	flags.StringP("output", "o", "", "config file to write (default: rollcall.toml in the user config dir)")
	flags.Bool("force", false, "overwrite an existing file")
	flags.Bool("no-input", false, "never show the interactive form")
	flags.String("daily-id", "", "Google Sheets spreadsheet ID holding the daily tables")
	flags.String("master-id", "", "Google Sheets spreadsheet ID holding the master roster")
	flags.String("credentials", "", "service-account credentials file")
	flags.String("dsn", "", "SQL DSN (file:..., libsql://...)")
	flags.String("spool", "", "spool directory watched for token files")
	flags.String("roster", "", "Excel workbook with an ID column to load as the roster (sql backend)")
	flags.Int("days", 0, "date columns to add to a loaded roster, starting today")
	rootCmd.AddCommand(initCmd)
}

func defaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return config.FileName + ".toml"
	}
	return filepath.Join(dir, "rollcall", config.FileName+".toml")
}

// applyInitFlags copies explicitly set flags into cfg.
func applyInitFlags(cmd *cobra.Command, cfg *config.Config) {
	set := map[string]*string{
		"daily-id":    &cfg.Sheets.DailySpreadsheetID,
		"master-id":   &cfg.Sheets.MasterSpreadsheetID,
		"credentials": &cfg.Sheets.CredentialsFile,
		"dsn":         &cfg.SQL.DSN,
		"spool":       &cfg.Scan.SpoolDir,
	}
	for name, dst := range set {
		if cmd.Flags().Changed(name) {
			*dst, _ = cmd.Flags().GetString(name)
		}
	}
}

func runInitForm(cfg *config.Config) error {
	required := func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("required")
		}
		return nil
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Remote backend").
				Options(
					huh.NewOption("Google Sheets", config.BackendSheets),
					huh.NewOption("SQL database (SQLite or libSQL)", config.BackendSQL),
					huh.NewOption("In memory (testing only)", config.BackendMemory),
				).
				Value(&cfg.Backend),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Daily spreadsheet ID").
				Description("Holds one sheet per day, created from the template sheet.").
				Value(&cfg.Sheets.DailySpreadsheetID).
				Validate(required),
			huh.NewInput().
				Title("Master spreadsheet ID").
				Description("Holds the roster with one column per date.").
				Value(&cfg.Sheets.MasterSpreadsheetID).
				Validate(required),
			huh.NewInput().
				Title("Credentials file").
				Placeholder("search next to the executable").
				Value(&cfg.Sheets.CredentialsFile),
		).WithHideFunc(func() bool { return cfg.Backend != config.BackendSheets }),
		huh.NewGroup(
			huh.NewInput().
				Title("Database DSN").
				Placeholder("file:attendance.db").
				Value(&cfg.SQL.DSN).
				Validate(required),
		).WithHideFunc(func() bool { return cfg.Backend != config.BackendSQL }),
		huh.NewGroup(
			huh.NewInput().
				Title("Data directory").
				Description("Ledgers and the operational log are written here.").
				Value(&cfg.DataDir).
				Validate(required),
			huh.NewInput().
				Title("Spool directory").
				Placeholder("none").
				Value(&cfg.Scan.SpoolDir),
			huh.NewConfirm().
				Title("Add unknown identifiers to the roster?").
				Value(&cfg.Sync.MasterAutoEnroll),
		),
	)
	return form.Run()
}

// seedRoster loads the workbook at path into the master table of the sql
// backend and adds date columns for days consecutive days from now.
func seedRoster(ctx context.Context, cfg *config.Config, path string, days int, now time.Time) (int, error) {
	if cfg.Backend != config.BackendSQL {
		return 0, fmt.Errorf("--roster requires the sql backend")
	}
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open roster: %w", err)
	}
	defer f.Close()

	rows, err := export.ReadRoster(f, "")
	if err != nil {
		return 0, err
	}
	for i := 0; i < days; i++ {
		rows[0] = append(rows[0], schema.DateKey(now.AddDate(0, 0, i)))
	}

	if ctx == nil {
		ctx = context.Background()
	}
	store, err := sqlstore.Open(ctx, &sqlstore.Config{
		DSN:          cfg.SQL.DSN,
		AuthToken:    cfg.SQL.AuthToken,
		MasterName:   cfg.Sheets.MasterSheet,
		TemplateName: cfg.Sheets.TemplateSheet,
		Logger:       logging.Discard().Component("store"),
	})
	if err != nil {
		return 0, err
	}
	defer store.Close()

	if err := store.Seed(ctx, store.MasterTable(), rows); err != nil {
		return 0, fmt.Errorf("failed to load roster: %w", err)
	}
	return len(rows) - 1, nil
}
