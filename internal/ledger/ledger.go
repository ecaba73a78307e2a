// Package ledger provides the local, human-inspectable attendance log.
//
// One CSV file is kept per calendar day (2026-03-07_scans.csv). It is the
// single source of truth while the remote store is unreachable, so every
// mutation is persisted immediately:
//
//  1. The whole table is rewritten atomically (write temp file, rename).
//  2. If that fails, the table goes to a sibling _backup.csv file.
//  3. If that fails too, it goes to the fallback directory.
//
// When all three fail the in-memory record is kept and the observation is
// flagged AtRisk. Persistence failures never surface from Append.
//
// A ledger holds an advisory file lock for its lifetime so two processes
// cannot interleave writes to the same day.
package ledger

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/gofrs/flock"
	"github.com/natefinch/atomic"

	"github.com/rollcall-dev/rollcall/internal/schema"
)

// ErrUnknownID is returned by MarkSynced for an identifier with no record.
var ErrUnknownID = errors.New("identifier not in ledger")

// Backup suffixes.
const (
	SuffixFallback = "backup"
	SuffixPreSync  = "pre_sync_backup"
	SuffixSynced   = "synced_backup"
)

// Config holds configuration for a ledger.
type Config struct {
	// Dir holds the per-day CSV files.
	Dir string

	// FallbackDir receives the table when neither the primary nor the
	// sibling backup file can be written.
	FallbackDir string

	// LockTimeout bounds how long Open waits for the file lock.
	LockTimeout time.Duration

	// Clock supplies event timestamps and the current day.
	Clock quartz.Clock

	// Logger for persistence warnings
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Dir:         "data",
		FallbackDir: os.TempDir(),
		LockTimeout: 5 * time.Second,
		Clock:       quartz.NewReal(),
		Logger:      log.New(os.Stderr, "[ledger] ", log.LstdFlags),
	}
}

func (c *Config) withDefaults() *Config {
	out := *c
	def := DefaultConfig()
	if out.Dir == "" {
		out.Dir = def.Dir
	}
	if out.FallbackDir == "" {
		out.FallbackDir = def.FallbackDir
	}
	if out.LockTimeout <= 0 {
		out.LockTimeout = def.LockTimeout
	}
	if out.Clock == nil {
		out.Clock = def.Clock
	}
	if out.Logger == nil {
		out.Logger = def.Logger
	}
	return &out
}

// Observation describes the outcome of one Append.
type Observation struct {
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Column    string `json:"column"`
	// First is true when the identifier had no record for the day.
	First bool `json:"first"`
	// AtRisk is true when the write reached no durable location.
	AtRisk bool `json:"at_risk"`
	// Count is the number of events recorded for the identifier so far.
	Count int `json:"count"`
}

// Stats summarises one day's ledger.
type Stats struct {
	Day          string `json:"day" yaml:"day"`
	Path         string `json:"path" yaml:"path"`
	Location     string `json:"location" yaml:"location"`
	Records      int    `json:"records" yaml:"records"`
	Events       int    `json:"events" yaml:"events"`
	SyncedDaily  int    `json:"synced_daily" yaml:"synced_daily"`
	SyncedMaster int    `json:"synced_master" yaml:"synced_master"`
	Unsynced     int    `json:"unsynced" yaml:"unsynced"`
	AtRisk       bool   `json:"at_risk" yaml:"at_risk"`
}

// Ledger is one day's attendance table.
type Ledger struct {
	mu     sync.Mutex
	config *Config
	day    time.Time
	path   string

	header  []string
	records []*schema.Record
	index   map[string]int
	extra   map[string]map[string]string // id -> unknown column -> value

	location string // where the table was last written
	atRisk   bool

	lock *flock.Flock
}

// FileName returns the ledger file name for day.
func FileName(day time.Time) string {
	return day.Format(schema.FileDateLayout) + "_scans.csv"
}

// Open loads (or creates) the ledger for the day containing day and takes
// its file lock.
func Open(ctx context.Context, day time.Time, config *Config) (*Ledger, error) {
	if config == nil {
		config = DefaultConfig()
	}
	config = config.withDefaults()

	if err := os.MkdirAll(config.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create ledger directory: %w", err)
	}

	l := &Ledger{
		config: config,
		day:    schema.Day(day),
		index:  make(map[string]int),
		extra:  make(map[string]map[string]string),
	}
	l.path = filepath.Join(config.Dir, FileName(l.day))

	l.lock = flock.New(l.path + ".lock")
	lockCtx, cancel := context.WithTimeout(ctx, config.LockTimeout)
	defer cancel()
	locked, err := l.lock.TryLockContext(lockCtx, 50*time.Millisecond)
	if err != nil || !locked {
		_ = l.lock.Close()
		if err == nil {
			err = lockCtx.Err()
		}
		return nil, fmt.Errorf("failed to lock ledger %s: %w", l.path, err)
	}

	src, err := l.load()
	if err != nil {
		_ = l.lock.Unlock()
		_ = l.lock.Close()
		return nil, err
	}
	if src == "" {
		l.header = []string{schema.ColumnID}
		l.location, l.atRisk = l.persistLocked()
	} else {
		l.location = src
		if src != l.path {
			config.Logger.Printf("Recovered ledger from %s", src)
		}
	}

	return l, nil
}

// candidates lists the places a table may have been written, primary first.
func (l *Ledger) candidates() []string {
	return []string{
		l.path,
		l.siblingPath(SuffixFallback),
		filepath.Join(l.config.FallbackDir, FileName(l.day)),
	}
}

func (l *Ledger) siblingPath(suffix string) string {
	return strings.TrimSuffix(l.path, ".csv") + "_" + suffix + ".csv"
}

// load reads the newest existing candidate file and returns its path, or ""
// when none exists.
func (l *Ledger) load() (string, error) {
	var (
		best    string
		bestMod time.Time
	)
	for _, p := range l.candidates() {
		info, err := os.Stat(p)
		if err != nil {
			continue
		}
		if best == "" || info.ModTime().After(bestMod) {
			best, bestMod = p, info.ModTime()
		}
	}
	if best == "" {
		return "", nil
	}

	f, err := os.Open(best)
	if err != nil {
		return "", fmt.Errorf("failed to open ledger %s: %w", best, err)
	}
	defer f.Close()

	if err := l.decode(f); err != nil {
		return "", fmt.Errorf("failed to parse ledger %s: %w", best, err)
	}
	return best, nil
}

func (l *Ledger) decode(r io.Reader) error {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	rows, err := cr.ReadAll()
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		l.header = []string{schema.ColumnID}
		return nil
	}

	l.header = rows[0]
	idCol := -1
	for i, h := range l.header {
		l.header[i] = strings.TrimSpace(h)
		if l.header[i] == schema.ColumnID {
			idCol = i
		}
	}
	if idCol < 0 {
		return fmt.Errorf("missing %s column", schema.ColumnID)
	}

	for _, row := range rows[1:] {
		if idCol >= len(row) {
			continue
		}
		id, ok := schema.NormalizeID(row[idCol])
		if !ok {
			continue
		}
		if _, dup := l.index[id]; dup {
			l.config.Logger.Printf("Warning: duplicate row for %s ignored", id)
			continue
		}

		rec := &schema.Record{ID: id}
		for i, h := range l.header {
			if i == idCol || i >= len(row) {
				continue
			}
			val := strings.TrimSpace(row[i])
			if n, ok := schema.ParseTimestampColumn(h); ok {
				for len(rec.Timestamps) < n {
					rec.Timestamps = append(rec.Timestamps, "")
				}
				rec.Timestamps[n-1] = val
				continue
			}
			switch h {
			case schema.ColumnSyncedDaily:
				rec.SyncedDaily = schema.ParseBool(val)
			case schema.ColumnSyncedMaster:
				rec.SyncedMaster = schema.ParseBool(val)
			default:
				if val != "" {
					if l.extra[id] == nil {
						l.extra[id] = make(map[string]string)
					}
					l.extra[id][h] = val
				}
			}
		}
		l.index[id] = len(l.records)
		l.records = append(l.records, rec)
	}
	return nil
}

// rowsLocked renders the table, header first, in persisted column order.
func (l *Ledger) rowsLocked() [][]string {
	rows := make([][]string, 0, len(l.records)+1)
	rows = append(rows, append([]string(nil), l.header...))
	for _, rec := range l.records {
		row := make([]string, len(l.header))
		for i, h := range l.header {
			if n, ok := schema.ParseTimestampColumn(h); ok {
				if n <= len(rec.Timestamps) {
					row[i] = rec.Timestamps[n-1]
				}
				continue
			}
			switch h {
			case schema.ColumnID:
				row[i] = rec.ID
			case schema.ColumnSyncedDaily:
				row[i] = schema.FormatBool(rec.SyncedDaily)
			case schema.ColumnSyncedMaster:
				row[i] = schema.FormatBool(rec.SyncedMaster)
			default:
				row[i] = l.extra[rec.ID][h]
			}
		}
		rows = append(rows, row)
	}
	return rows
}

func (l *Ledger) encode() ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.WriteAll(l.rowsLocked()); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// persistLocked writes the table to the first location that accepts it.
// It returns that location and whether the table is at risk.
func (l *Ledger) persistLocked() (string, bool) {
	data, err := l.encode()
	if err != nil {
		l.config.Logger.Printf("Error encoding ledger %s: %v", l.path, err)
		return "", true
	}

	for _, p := range l.candidates() {
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			l.config.Logger.Printf("Warning: cannot create %s: %v", filepath.Dir(p), err)
			continue
		}
		if err := atomic.WriteFile(p, bytes.NewReader(data)); err != nil {
			l.config.Logger.Printf("Warning: failed to write ledger to %s: %v", p, err)
			continue
		}
		if p != l.path {
			l.config.Logger.Printf("Ledger written to fallback location %s", p)
		}
		return p, false
	}

	l.config.Logger.Printf("Error: ledger %s could not be persisted anywhere; data held in memory", l.path)
	return "", true
}

// Append records an event for id at the current clock time. The returned
// error is non-nil only for an empty identifier; persistence failures are
// reported through Observation.AtRisk.
func (l *Ledger) Append(id string) (Observation, error) {
	id, ok := schema.NormalizeID(id)
	if !ok {
		return Observation{}, fmt.Errorf("identifier cannot be empty")
	}

	now := l.config.Clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	idx, exists := l.index[id]
	if !exists {
		idx = len(l.records)
		l.index[id] = idx
		l.records = append(l.records, &schema.Record{ID: id})
	}
	rec := l.records[idx]

	slot := rec.NextSlot()
	ts := schema.ClockTime(now)
	if slot == len(rec.Timestamps) {
		rec.Timestamps = append(rec.Timestamps, ts)
	} else {
		rec.Timestamps[slot] = ts
	}
	// a new event is not on the daily table yet
	rec.SyncedDaily = false

	col := schema.TimestampColumn(slot + 1)
	l.ensureColumnLocked(col)

	var atRisk bool
	l.location, atRisk = l.persistLocked()
	l.atRisk = l.atRisk || atRisk

	return Observation{
		ID:        id,
		Timestamp: ts,
		Column:    col,
		First:     !exists,
		AtRisk:    atRisk,
		Count:     rec.Count(),
	}, nil
}

// ensureColumnLocked appends name to the header if it is missing. Existing
// columns never move.
func (l *Ledger) ensureColumnLocked(name string) {
	for _, h := range l.header {
		if h == name {
			return
		}
	}
	l.header = append(l.header, name)
}

// MarkSynced sets sync flags for id. Flags are never cleared here. The daily
// flag is only set while the record still holds exactly through events, so
// an event appended after the push started keeps the row unsynced.
func (l *Ledger) MarkSynced(id string, daily, master bool, through int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	idx, ok := l.index[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownID, id)
	}
	rec := l.records[idx]

	changed := false
	if daily && !rec.SyncedDaily && rec.Count() == through {
		rec.SyncedDaily = true
		changed = true
	}
	if master && !rec.SyncedMaster {
		rec.SyncedMaster = true
		changed = true
	}
	if !changed {
		return nil
	}

	l.ensureColumnLocked(schema.ColumnSyncedDaily)
	l.ensureColumnLocked(schema.ColumnSyncedMaster)

	var atRisk bool
	l.location, atRisk = l.persistLocked()
	if atRisk {
		l.atRisk = true
		return fmt.Errorf("failed to persist sync flags for %s", id)
	}
	return nil
}

// Record returns a copy of the record for id.
func (l *Ledger) Record(id string) (schema.Record, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	idx, ok := l.index[id]
	if !ok {
		return schema.Record{}, false
	}
	return l.records[idx].Clone(), true
}

// Records returns copies of every record in file order.
func (l *Ledger) Records() []schema.Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]schema.Record, 0, len(l.records))
	for _, rec := range l.records {
		out = append(out, rec.Clone())
	}
	return out
}

// Unsynced returns copies of every record missing either sync flag.
func (l *Ledger) Unsynced() []schema.Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []schema.Record
	for _, rec := range l.records {
		if !rec.Synced() {
			out = append(out, rec.Clone())
		}
	}
	return out
}

// Rows returns the table as persisted, header row first.
func (l *Ledger) Rows() [][]string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rowsLocked()
}

// Header returns the column order as persisted.
func (l *Ledger) Header() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.header...)
}

// Stats summarises the ledger.
func (l *Ledger) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := Stats{
		Day:      schema.DateKey(l.day),
		Path:     l.path,
		Location: l.location,
		Records:  len(l.records),
		AtRisk:   l.atRisk,
	}
	for _, rec := range l.records {
		s.Events += rec.Count()
		if rec.SyncedDaily {
			s.SyncedDaily++
		}
		if rec.SyncedMaster {
			s.SyncedMaster++
		}
		if !rec.Synced() {
			s.Unsynced++
		}
	}
	return s
}

// Backup writes a copy of the table next to the ledger file using suffix,
// falling back to the fallback directory. It returns the path written.
func (l *Ledger) Backup(suffix string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := l.encode()
	if err != nil {
		return "", fmt.Errorf("failed to encode ledger: %w", err)
	}

	primary := l.siblingPath(suffix)
	err = atomic.WriteFile(primary, bytes.NewReader(data))
	if err == nil {
		return primary, nil
	}

	alt := filepath.Join(l.config.FallbackDir, filepath.Base(primary))
	if altErr := atomic.WriteFile(alt, bytes.NewReader(data)); altErr != nil {
		return "", fmt.Errorf("failed to write backup: %w", errors.Join(err, altErr))
	}
	return alt, nil
}

// Day returns local midnight of the ledger's day.
func (l *Ledger) Day() time.Time {
	return l.day
}

// DateKey returns the day formatted as a master-table column header.
func (l *Ledger) DateKey() string {
	return schema.DateKey(l.day)
}

// Path returns the primary file path.
func (l *Ledger) Path() string {
	return l.path
}

// Close releases the file lock.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.lock == nil {
		return nil
	}
	err := l.lock.Unlock()
	if cerr := l.lock.Close(); err == nil {
		err = cerr
	}
	l.lock = nil
	if err != nil {
		return fmt.Errorf("failed to release ledger lock: %w", err)
	}
	return nil
}
