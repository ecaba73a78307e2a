// Package sync mirrors the local attendance ledger into the remote tables.
//
// # Overview
//
// The Coordinator is the boundary between event ingestion and remote I/O:
//
//	Token Reader
//	     ↓
//	RecordEvent ──→ ledger.Append (always, durable)
//	     ↓ (if ONLINE)
//	Dispatcher ──→ PushEvent ──→ daily table (insert row / next free cell)
//	                        └──→ master table (mark Present once)
//
// Remote failures never escape RecordEvent. They are converted into state:
// the ledger row stays unsynced and the connectivity monitor counts the
// failure. When the monitor reconnects, ReplayUnsynced pushes every unsynced
// row again.
//
// # Convergence
//
// Pushing a row is idempotent. Timestamps already present in the remote row
// are skipped (as a multiset, so two equal timestamps need two cells), and a
// master cell that is non-empty is never rewritten. Replaying the same
// ledger twice therefore performs no writes the second time.
//
// # Next free column
//
// The remote row, not the header row, decides where the next timestamp
// goes: the first empty cell right of the ID column, otherwise one past the
// end of the row. When that lands beyond the header, the missing
// Timestamp<N> headers are written so the table stays self-describing.
//
// # Usage
//
//	coord, err := sync.New(book, store, invoker, fieldCache, nil)
//	if err != nil {
//	    return err
//	}
//	obs, err := coord.RecordEvent(ctx, "A123")
//	// obs.First distinguishes a first scan from a repeat
package sync
