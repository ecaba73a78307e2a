// Package remote defines the capability interface over the authoritative
// attendance tables and the error taxonomy shared by every backend.
//
// Two tables are involved. The daily table is scoped to one calendar day and
// holds one row per identifier with a cell per event. The master table spans
// all days and holds one "Present" cell per identifier and date.
//
// Row and column indices are 0-based and row 0 is the header row, so
// GetAllRows(ctx, t)[0] equals GetHeaders(ctx, t). Reads never return
// trailing empty cells; a cell past the end of a row reads as "".
package remote

import (
	"context"
)

// TableKind distinguishes the two remote tables.
type TableKind string

const (
	// TableDaily is a per-day table created from the template.
	TableDaily TableKind = "daily"

	// TableMaster is the cross-day roster table.
	TableMaster TableKind = "master"
)

// Table is a handle returned by the store. Name is the backend-visible table
// name; for daily tables it equals the date key.
type Table struct {
	Name string    `json:"name"`
	Kind TableKind `json:"kind"`
}

// String returns the table name qualified by kind.
func (t Table) String() string {
	return string(t.Kind) + "/" + t.Name
}

// Store is the capability set every backend provides. All calls may be slow
// and may fail; failures should be classified with the constructors in
// errors.go so the invoker can tell transient faults from schema faults.
type Store interface {
	// GetHeaders returns row 0 of the table.
	GetHeaders(ctx context.Context, t Table) ([]string, error)

	// GetAllRows returns every row including the header row.
	GetAllRows(ctx context.Context, t Table) ([][]string, error)

	// GetRow returns a single row. A row past the end reads as empty.
	GetRow(ctx context.Context, t Table, row int) ([]string, error)

	// GetCell returns a single cell. A missing cell reads as "".
	GetCell(ctx context.Context, t Table, row, col int) (string, error)

	// SetCell writes one cell, growing the table if needed.
	SetCell(ctx context.Context, t Table, row, col int, value string) error

	// InsertRow inserts values at row, shifting later rows down.
	InsertRow(ctx context.Context, t Table, row int, values []string) error

	// EnsureDailyTable returns the daily table for dateKey, creating it from
	// the template when absent. It returns only once the table is readable.
	EnsureDailyTable(ctx context.Context, dateKey string) (Table, error)

	// MasterTable returns the handle of the roster table.
	MasterTable() Table
}

// Connector is implemented by stores that hold a session which must be
// (re-)established before use. The connectivity probe calls it first.
type Connector interface {
	Connect(ctx context.Context) error
}

// IndexOf returns the position of name in headers, or -1.
func IndexOf(headers []string, name string) int {
	for i, h := range headers {
		if h == name {
			return i
		}
	}
	return -1
}

// FindRow returns the index of the first data row whose cell at col equals
// key, or -1. The header row is never matched.
func FindRow(rows [][]string, col int, key string) int {
	for i := 1; i < len(rows); i++ {
		if col < len(rows[i]) && rows[i][col] == key {
			return i
		}
	}
	return -1
}

// TrimRow drops trailing empty cells.
func TrimRow(row []string) []string {
	n := len(row)
	for n > 0 && row[n-1] == "" {
		n--
	}
	return row[:n]
}

// CloneRows deep copies a row snapshot.
func CloneRows(rows [][]string) [][]string {
	if rows == nil {
		return nil
	}
	out := make([][]string, len(rows))
	for i, r := range rows {
		out[i] = append([]string(nil), r...)
	}
	return out
}
