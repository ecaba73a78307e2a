package schema

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Column names used by the ledger file and the remote tables.
const (
	ColumnID           = "ID"
	ColumnSyncedDaily  = "Synced_Daily"
	ColumnSyncedMaster = "Synced_Master"

	// TimestampPrefix prefixes every per-event column: Timestamp1, Timestamp2, ...
	TimestampPrefix = "Timestamp"

	// PresentMarker is the only value ever written into a master date cell.
	PresentMarker = "Present"
)

// Layouts for the canonical time and date strings.
const (
	// TimeLayout formats an event time inside a timestamp cell.
	TimeLayout = "15:04:05"

	// DateKeyLayout formats a master-table date column header and names
	// the daily table. Month and day are not zero padded.
	DateKeyLayout = "1/2/2006"

	// FileDateLayout names the per-day ledger file.
	FileDateLayout = "2006-01-02"
)

// TimestampColumn returns the header for the nth event column (1-based).
func TimestampColumn(n int) string {
	return TimestampPrefix + strconv.Itoa(n)
}

// ParseTimestampColumn reports the 1-based slot number of a timestamp header.
// It returns false for any header that is not of the form Timestamp<N>.
func ParseTimestampColumn(name string) (int, bool) {
	if !strings.HasPrefix(name, TimestampPrefix) {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimPrefix(name, TimestampPrefix))
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

// NormalizeID trims a decoded token payload. It returns false when nothing
// is left, which callers treat as "no scan happened".
func NormalizeID(raw string) (string, bool) {
	id := strings.TrimSpace(raw)
	if id == "" {
		return "", false
	}
	return id, true
}

// DateKey formats t as a master-table date column header.
func DateKey(t time.Time) string {
	return t.Format(DateKeyLayout)
}

// ParseDateKey parses a master-table date column header.
func ParseDateKey(key string) (time.Time, error) {
	t, err := time.ParseInLocation(DateKeyLayout, key, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date key %q: %w", key, err)
	}
	return t, nil
}

// ClockTime formats t as a timestamp cell value.
func ClockTime(t time.Time) string {
	return t.Format(TimeLayout)
}

// Day truncates t to local midnight.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
