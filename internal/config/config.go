// Package config loads rollcall settings from flags, ROLLCALL_* environment
// variables, a config file and built-in defaults, in that order of
// precedence.
//
// Example rollcall.toml:
//
//	backend = "sheets"
//	data_dir = "./data"
//
//	[sheets]
//	daily_spreadsheet_id = "1AbC..."
//	master_spreadsheet_id = "1XyZ..."
//
//	[sync]
//	probe_interval = "30s"
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Backends understood by the engine.
const (
	BackendSheets = "sheets"
	BackendSQL    = "sql"
	BackendMemory = "memory"
)

// EnvPrefix is prepended to every environment override, e.g.
// ROLLCALL_SYNC_PROBE_INTERVAL=10s.
const EnvPrefix = "ROLLCALL"

// FileName is the config file base name searched for without extension.
const FileName = "rollcall"

// Config is the fully resolved configuration.
type Config struct {
	DataDir     string `mapstructure:"data_dir"`
	FallbackDir string `mapstructure:"fallback_dir"`
	Backend     string `mapstructure:"backend"`

	Sheets    SheetsConfig    `mapstructure:"sheets"`
	SQL       SQLConfig       `mapstructure:"sql"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Scan      ScanConfig      `mapstructure:"scan"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
	Log       LogConfig       `mapstructure:"log"`
}

type SheetsConfig struct {
	DailySpreadsheetID  string `mapstructure:"daily_spreadsheet_id"`
	MasterSpreadsheetID string `mapstructure:"master_spreadsheet_id"`
	MasterSheet         string `mapstructure:"master_sheet"`
	TemplateSheet       string `mapstructure:"template_sheet"`
	CredentialsFile     string `mapstructure:"credentials_file"`
}

type SQLConfig struct {
	DSN       string `mapstructure:"dsn"`
	AuthToken string `mapstructure:"auth_token"`
}

type SyncConfig struct {
	MaxAttempts         int           `mapstructure:"max_attempts"`
	BackoffUnit         time.Duration `mapstructure:"backoff_unit"`
	FailureThreshold    int           `mapstructure:"failure_threshold"`
	ProbeInterval       time.Duration `mapstructure:"probe_interval"`
	WorkerWait          time.Duration `mapstructure:"worker_wait"`
	WorkerProbeInterval time.Duration `mapstructure:"worker_probe_interval"`
	CacheTTL            time.Duration `mapstructure:"cache_ttl"`
	MasterAutoEnroll    bool          `mapstructure:"master_auto_enroll"`
	WriteSettle         time.Duration `mapstructure:"write_settle"`
}

type ScanConfig struct {
	Cooldown time.Duration `mapstructure:"cooldown"`
	SpoolDir string        `mapstructure:"spool_dir"`
}

type DashboardConfig struct {
	Addr string `mapstructure:"addr"`
}

type LogConfig struct {
	File    string `mapstructure:"file"`
	Verbose bool   `mapstructure:"verbose"`
}

// defaults lists every key. Keys must be registered for AutomaticEnv to
// reach them through Unmarshal.
func defaults() map[string]any {
	return map[string]any{
		"data_dir":                     "./data",
		"fallback_dir":                 filepath.Join(os.TempDir(), "rollcall"),
		"backend":                      BackendSheets,
		"sheets.daily_spreadsheet_id":  "",
		"sheets.master_spreadsheet_id": "",
		"sheets.master_sheet":          "Master",
		"sheets.template_sheet":        "Temp",
		"sheets.credentials_file":      "",
		"sql.dsn":                      "",
		"sql.auth_token":               "",
		"sync.max_attempts":            3,
		"sync.backoff_unit":            time.Second,
		"sync.failure_threshold":       3,
		"sync.probe_interval":          30 * time.Second,
		"sync.worker_wait":             time.Second,
		"sync.worker_probe_interval":   5 * time.Second,
		"sync.cache_ttl":               5 * time.Minute,
		"sync.master_auto_enroll":      false,
		"sync.write_settle":            time.Duration(0),
		"scan.cooldown":                18 * time.Second,
		"scan.spool_dir":               "",
		"dashboard.addr":               ":8080",
		"log.file":                     "attendance.log",
		"log.verbose":                  false,
	}
}

// NewViper returns a viper instance with defaults and environment
// overrides wired. Flags are bound by the caller.
func NewViper() *viper.Viper {
	v := viper.New()
	for k, val := range defaults() {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the config file (explicit path, or rollcall.* in the user
// config dir or the working directory) into v and decodes the result.
// A missing file is not an error unless it was named explicitly.
func Load(v *viper.Viper, file string) (*Config, error) {
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName(FileName)
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, "rollcall"))
		}
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &c, nil
}

// Default returns the built-in configuration, ignoring config files.
func Default() *Config {
	var c Config
	_ = NewViper().Unmarshal(&c)
	return &c
}

// Validate checks that the selected backend is usable and timings are sane.
func (c *Config) Validate() error {
	var problems []string
	switch c.Backend {
	case BackendSheets:
		if c.Sheets.DailySpreadsheetID == "" {
			problems = append(problems, "sheets.daily_spreadsheet_id is required")
		}
		if c.Sheets.MasterSpreadsheetID == "" {
			problems = append(problems, "sheets.master_spreadsheet_id is required")
		}
	case BackendSQL:
		if c.SQL.DSN == "" {
			problems = append(problems, "sql.dsn is required")
		}
	case BackendMemory:
	default:
		problems = append(problems, fmt.Sprintf("unknown backend %q (want sheets, sql or memory)", c.Backend))
	}
	if c.DataDir == "" {
		problems = append(problems, "data_dir is required")
	}
	if c.Sync.MaxAttempts < 1 {
		problems = append(problems, "sync.max_attempts must be at least 1")
	}
	if c.Sync.FailureThreshold < 1 {
		problems = append(problems, "sync.failure_threshold must be at least 1")
	}
	if c.Sync.ProbeInterval <= 0 {
		problems = append(problems, "sync.probe_interval must be positive")
	}
	if c.Sync.WorkerWait <= 0 {
		problems = append(problems, "sync.worker_wait must be positive")
	}
	if c.Sync.CacheTTL <= 0 {
		problems = append(problems, "sync.cache_ttl must be positive")
	}
	if c.Sync.BackoffUnit < 0 || c.Sync.WriteSettle < 0 || c.Scan.Cooldown < 0 {
		problems = append(problems, "durations cannot be negative")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// LogPath returns the operational log location. Relative names live in the
// data directory.
func (c *Config) LogPath() string {
	if c.Log.File == "" || filepath.IsAbs(c.Log.File) {
		return c.Log.File
	}
	return filepath.Join(c.DataDir, c.Log.File)
}
