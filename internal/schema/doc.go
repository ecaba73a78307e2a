// Package schema defines the attendance record model shared by the local
// ledger and the remote tables.
//
// # Columns
//
// Both the per-day ledger file and the remote daily table use the same
// column vocabulary:
//
//	ID, Timestamp1, Timestamp2, ..., TimestampN
//
// The local ledger additionally carries two sync flags:
//
//	Synced_Daily, Synced_Master
//
// The master table keys its columns by calendar date using DateKeyLayout
// (for example "3/7/2026"). Writers and readers must agree on this format
// exactly, so all date columns are produced through DateKey.
//
// # Usage Examples
//
//	id, ok := schema.NormalizeID("  A123\n")
//	if !ok {
//	    return // empty scans are ignored
//	}
//
//	rec := schema.Record{ID: id}
//	slot := rec.NextSlot()                 // 0
//	rec.Timestamps = append(rec.Timestamps, schema.ClockTime(now))
//	col := schema.TimestampColumn(slot + 1) // "Timestamp1"
package schema
