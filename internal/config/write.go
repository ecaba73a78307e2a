package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/natefinch/atomic"
)

// Settings returns c as nested maps keyed like the config file, with
// durations rendered as strings ("30s") so the file stays hand-editable.
func (c *Config) Settings() map[string]any {
	d := func(v time.Duration) string { return v.String() }
	return map[string]any{
		"data_dir":     c.DataDir,
		"fallback_dir": c.FallbackDir,
		"backend":      c.Backend,
		"sheets": map[string]any{
			"daily_spreadsheet_id":  c.Sheets.DailySpreadsheetID,
			"master_spreadsheet_id": c.Sheets.MasterSpreadsheetID,
			"master_sheet":          c.Sheets.MasterSheet,
			"template_sheet":        c.Sheets.TemplateSheet,
			"credentials_file":      c.Sheets.CredentialsFile,
		},
		"sql": map[string]any{
			"dsn":        c.SQL.DSN,
			"auth_token": c.SQL.AuthToken,
		},
		"sync": map[string]any{
			"max_attempts":          c.Sync.MaxAttempts,
			"backoff_unit":          d(c.Sync.BackoffUnit),
			"failure_threshold":     c.Sync.FailureThreshold,
			"probe_interval":        d(c.Sync.ProbeInterval),
			"worker_wait":           d(c.Sync.WorkerWait),
			"worker_probe_interval": d(c.Sync.WorkerProbeInterval),
			"cache_ttl":             d(c.Sync.CacheTTL),
			"master_auto_enroll":    c.Sync.MasterAutoEnroll,
			"write_settle":          d(c.Sync.WriteSettle),
		},
		"scan": map[string]any{
			"cooldown":  d(c.Scan.Cooldown),
			"spool_dir": c.Scan.SpoolDir,
		},
		"dashboard": map[string]any{
			"addr": c.Dashboard.Addr,
		},
		"log": map[string]any{
			"file":    c.Log.File,
			"verbose": c.Log.Verbose,
		},
	}
}

// Write encodes c as TOML and atomically replaces path.
func Write(path string, c *Config) error {
	var buf bytes.Buffer
	buf.WriteString("# rollcall configuration\n\n")
	if err := toml.NewEncoder(&buf).Encode(c.Settings()); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := atomic.WriteFile(path, &buf); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
