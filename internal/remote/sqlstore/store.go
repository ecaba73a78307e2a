// Package sqlstore implements remote.Store on a SQL database.
//
// Tables are stored sparsely as cells keyed by (table, row, col). A local
// file DSN uses the embedded SQLite driver in WAL mode; libsql:// and
// http(s):// DSNs reach a hosted libSQL server through go-libsql.
//
// Schema:
//   - rc_tables: one row per table handle (name, kind)
//   - rc_cells: non-empty cells, primary key (tbl, row_idx, col_idx)
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/rollcall-dev/rollcall/internal/remote"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS rc_tables (
	name TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS rc_cells (
	tbl TEXT NOT NULL,
	row_idx INTEGER NOT NULL,
	col_idx INTEGER NOT NULL,
	val TEXT NOT NULL,
	PRIMARY KEY (tbl, row_idx, col_idx)
);

CREATE INDEX IF NOT EXISTS idx_cells_value ON rc_cells(tbl, col_idx, val);
`

// Config holds SQL store configuration.
type Config struct {
	// DSN is a file path, a file: URI, or a libsql://, http:// or https://
	// URL.
	DSN string

	// AuthToken is appended to libSQL URLs that carry none.
	AuthToken string

	// MasterName and TemplateName default to "Master" and "Temp".
	MasterName   string
	TemplateName string

	Logger *log.Logger
}

// DefaultConfig returns sensible defaults. DSN must still be supplied.
func DefaultConfig() *Config {
	return &Config{
		MasterName:   remote.DefaultMasterName,
		TemplateName: remote.DefaultTemplateName,
		Logger:       log.New(os.Stderr, "[sqlstore] ", log.LstdFlags),
	}
}

// Store is a remote.Store over database/sql.
type Store struct {
	config *Config
	driver string
	source string

	mu   sync.Mutex
	conn *sql.DB
}

var (
	_ remote.Store     = (*Store)(nil)
	_ remote.Connector = (*Store)(nil)
)

// Open resolves the DSN to a driver, connects and creates the schema. An
// unreachable server is not an error; Connect is retried by the caller.
//
// The caller MUST call Close() when done.
func Open(ctx context.Context, config *Config) (*Store, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	def := DefaultConfig()
	cfg := *config
	if cfg.MasterName == "" {
		cfg.MasterName = def.MasterName
	}
	if cfg.TemplateName == "" {
		cfg.TemplateName = def.TemplateName
	}
	if cfg.Logger == nil {
		cfg.Logger = def.Logger
	}

	driver, source, err := resolveDSN(cfg.DSN, cfg.AuthToken)
	if err != nil {
		return nil, err
	}
	s := &Store{config: &cfg, driver: driver, source: source}
	if err := s.Connect(ctx); err != nil {
		if remote.IsTransient(err) {
			// the connectivity probe retries later
			cfg.Logger.Printf("Database unreachable, starting offline: %v", err)
			return s, nil
		}
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// resolveDSN picks the driver for a DSN.
func resolveDSN(dsn, token string) (driver, source string, err error) {
	switch {
	case dsn == "":
		return "", "", fmt.Errorf("dsn cannot be empty")
	case strings.HasPrefix(dsn, "libsql://"),
		strings.HasPrefix(dsn, "http://"),
		strings.HasPrefix(dsn, "https://"):
		if !libsqlAvailable {
			return "", "", fmt.Errorf("libsql DSN %q requires a cgo build", redact(dsn))
		}
		if token != "" && !strings.Contains(dsn, "authToken=") {
			sep := "?"
			if strings.Contains(dsn, "?") {
				sep = "&"
			}
			dsn += sep + "authToken=" + token
		}
		return libsqlDriver, dsn, nil
	default:
		path := strings.TrimPrefix(dsn, "file:")
		if i := strings.IndexByte(path, '?'); i >= 0 {
			path = path[:i]
		}
		if path != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
				return "", "", fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		if !strings.HasPrefix(dsn, "file:") {
			dsn = "file:" + dsn
		}
		return "sqlite3", dsn, nil
	}
}

func redact(dsn string) string {
	if i := strings.Index(dsn, "authToken="); i >= 0 {
		return dsn[:i] + "authToken=REDACTED"
	}
	return dsn
}

// Connect (re)opens the pool when needed, pings it and ensures the schema
// and the master table exist.
func (s *Store) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		conn, err := sql.Open(s.driver, s.source)
		if err != nil {
			return remote.Fatal("connect", fmt.Errorf("failed to open database: %w", err))
		}
		if s.driver == "sqlite3" {
			conn.SetMaxOpenConns(25)
			conn.SetMaxIdleConns(5)
			if strings.Contains(s.source, ":memory:") {
				conn.SetMaxOpenConns(1)
			}
		}
		conn.SetConnMaxLifetime(5 * time.Minute)
		s.conn = conn
	}

	if err := s.conn.PingContext(ctx); err != nil {
		return classify("connect", err)
	}
	if s.driver == "sqlite3" {
		for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
			if _, err := s.conn.ExecContext(ctx, pragma); err != nil {
				return classify("connect", fmt.Errorf("%s: %w", pragma, err))
			}
		}
	}
	if _, err := s.conn.ExecContext(ctx, schemaSQL); err != nil {
		return classify("connect", fmt.Errorf("failed to initialize schema: %w", err))
	}
	return s.ensureTable(ctx, s.conn, s.MasterTable(), []string{"ID"})
}

func (s *Store) db(op string) (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil, remote.Transient(op, fmt.Errorf("%w: not connected", remote.ErrUnreachable))
	}
	return s.conn, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// ensureTable registers t and writes header when t is new.
func (s *Store) ensureTable(ctx context.Context, q execer, t remote.Table, header []string) error {
	res, err := q.ExecContext(ctx,
		`INSERT INTO rc_tables (name, kind, created_at) VALUES (?, ?, ?) ON CONFLICT(name) DO NOTHING`,
		t.Name, string(t.Kind), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return classify("ensure table", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil
	}
	for col, v := range header {
		if v == "" {
			continue
		}
		if _, err := q.ExecContext(ctx,
			`INSERT INTO rc_cells (tbl, row_idx, col_idx, val) VALUES (?, 0, ?, ?)`, t.Name, col, v); err != nil {
			return classify("ensure table", err)
		}
	}
	return nil
}

func (s *Store) exists(ctx context.Context, q execer, op string, t remote.Table) error {
	var n int
	err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM rc_tables WHERE name = ?`, t.Name).Scan(&n)
	if err != nil {
		return classify(op, err)
	}
	if n == 0 {
		return remote.Schema(op, fmt.Errorf("%w: %s", remote.ErrTableNotFound, t))
	}
	return nil
}

// cells reads the cells of t matching the optional row filter into dense
// rows.
func (s *Store) cells(ctx context.Context, op string, t remote.Table, where string, args ...any) ([][]string, error) {
	conn, err := s.db(op)
	if err != nil {
		return nil, err
	}
	if err := s.exists(ctx, conn, op, t); err != nil {
		return nil, err
	}

	query := `SELECT row_idx, col_idx, val FROM rc_cells WHERE tbl = ?` + where + ` ORDER BY row_idx, col_idx`
	rows, err := conn.QueryContext(ctx, query, append([]any{t.Name}, args...)...)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()

	var out [][]string
	for rows.Next() {
		var r, c int
		var v string
		if err := rows.Scan(&r, &c, &v); err != nil {
			return nil, classify(op, err)
		}
		for len(out) <= r {
			out = append(out, []string{})
		}
		for len(out[r]) <= c {
			out[r] = append(out[r], "")
		}
		out[r][c] = v
	}
	if err := rows.Err(); err != nil {
		return nil, classify(op, err)
	}
	return out, nil
}

func (s *Store) GetHeaders(ctx context.Context, t remote.Table) ([]string, error) {
	return s.GetRow(ctx, t, 0)
}

func (s *Store) GetAllRows(ctx context.Context, t remote.Table) ([][]string, error) {
	rows, err := s.cells(ctx, "get all rows", t, "")
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		rows = [][]string{{}}
	}
	return rows, nil
}

func (s *Store) GetRow(ctx context.Context, t remote.Table, row int) ([]string, error) {
	rows, err := s.cells(ctx, "get row", t, " AND row_idx = ?", row)
	if err != nil {
		return nil, err
	}
	if row < 0 || row >= len(rows) {
		return []string{}, nil
	}
	return rows[row], nil
}

func (s *Store) GetCell(ctx context.Context, t remote.Table, row, col int) (string, error) {
	const op = "get cell"
	conn, err := s.db(op)
	if err != nil {
		return "", err
	}
	if err := s.exists(ctx, conn, op, t); err != nil {
		return "", err
	}
	var v string
	err = conn.QueryRowContext(ctx,
		`SELECT val FROM rc_cells WHERE tbl = ? AND row_idx = ? AND col_idx = ?`, t.Name, row, col).Scan(&v)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", classify(op, err)
	}
	return v, nil
}

func (s *Store) SetCell(ctx context.Context, t remote.Table, row, col int, value string) error {
	const op = "set cell"
	if row < 0 || col < 0 {
		return remote.Fatal(op, fmt.Errorf("invalid cell %d,%d", row, col))
	}
	conn, err := s.db(op)
	if err != nil {
		return err
	}
	if err := s.exists(ctx, conn, op, t); err != nil {
		return err
	}
	if value == "" {
		_, err = conn.ExecContext(ctx,
			`DELETE FROM rc_cells WHERE tbl = ? AND row_idx = ? AND col_idx = ?`, t.Name, row, col)
	} else {
		_, err = conn.ExecContext(ctx, `
			INSERT INTO rc_cells (tbl, row_idx, col_idx, val) VALUES (?, ?, ?, ?)
			ON CONFLICT(tbl, row_idx, col_idx) DO UPDATE SET val = excluded.val`,
			t.Name, row, col, value)
	}
	return classify(op, err)
}

// InsertRow shifts rows at or below row down by one inside a transaction.
// Rows are moved through negative indices so the primary key never
// collides mid-update.
func (s *Store) InsertRow(ctx context.Context, t remote.Table, row int, values []string) error {
	const op = "insert row"
	if row < 1 {
		return remote.Fatal(op, fmt.Errorf("cannot insert above the header row (%d)", row))
	}
	conn, err := s.db(op)
	if err != nil {
		return err
	}
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return classify(op, err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.exists(ctx, tx, op, t); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE rc_cells SET row_idx = -(row_idx + 1) WHERE tbl = ? AND row_idx >= ?`, t.Name, row); err != nil {
		return classify(op, err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE rc_cells SET row_idx = -row_idx WHERE tbl = ? AND row_idx < 0`, t.Name); err != nil {
		return classify(op, err)
	}
	for col, v := range values {
		if v == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO rc_cells (tbl, row_idx, col_idx, val) VALUES (?, ?, ?, ?)`, t.Name, row, col, v); err != nil {
			return classify(op, err)
		}
	}
	return classify(op, tx.Commit())
}

// EnsureDailyTable creates the table for dateKey with the template's header
// row, or an ID header when no template table exists.
func (s *Store) EnsureDailyTable(ctx context.Context, dateKey string) (remote.Table, error) {
	const op = "ensure daily table"
	t := remote.Table{Name: dateKey, Kind: remote.TableDaily}
	conn, err := s.db(op)
	if err != nil {
		return remote.Table{}, err
	}
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return remote.Table{}, classify(op, err)
	}
	defer func() { _ = tx.Rollback() }()

	header := []string{"ID"}
	rows, err := tx.QueryContext(ctx,
		`SELECT col_idx, val FROM rc_cells WHERE tbl = ? AND row_idx = 0 ORDER BY col_idx`, s.config.TemplateName)
	if err != nil {
		return remote.Table{}, classify(op, err)
	}
	var tmpl []string
	for rows.Next() {
		var c int
		var v string
		if err := rows.Scan(&c, &v); err != nil {
			rows.Close()
			return remote.Table{}, classify(op, err)
		}
		for len(tmpl) <= c {
			tmpl = append(tmpl, "")
		}
		tmpl[c] = v
	}
	rows.Close()
	if len(tmpl) > 0 {
		header = tmpl
	}

	if err := s.ensureTable(ctx, tx, t, header); err != nil {
		return remote.Table{}, err
	}
	if err := tx.Commit(); err != nil {
		return remote.Table{}, classify(op, err)
	}
	return t, nil
}

func (s *Store) MasterTable() remote.Table {
	return remote.Table{Name: s.config.MasterName, Kind: remote.TableMaster}
}

// Seed replaces the contents of a table, creating it if needed. It is used
// by `rollcall init` and tests to lay down the master roster.
func (s *Store) Seed(ctx context.Context, t remote.Table, rows [][]string) error {
	const op = "seed"
	conn, err := s.db(op)
	if err != nil {
		return err
	}
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return classify(op, err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.ensureTable(ctx, tx, t, nil); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM rc_cells WHERE tbl = ?`, t.Name); err != nil {
		return classify(op, err)
	}
	for r, cells := range rows {
		for c, v := range cells {
			if v == "" {
				continue
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO rc_cells (tbl, row_idx, col_idx, val) VALUES (?, ?, ?, ?)`, t.Name, r, c, v); err != nil {
				return classify(op, err)
			}
		}
	}
	return classify(op, tx.Commit())
}

// Close checkpoints the WAL and closes the pool.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	if s.driver == "sqlite3" {
		if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
			s.config.Logger.Printf("Warning: failed to checkpoint WAL: %v", err)
		}
	}
	err := s.conn.Close()
	s.conn = nil
	if err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}
