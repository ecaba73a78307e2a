package schema

import (
	"fmt"
	"strconv"
	"strings"
)

// Record is one identifier's attendance for a single day.
//
// Timestamps[i] holds the value of column Timestamp<i+1>. An empty string is
// a slot that exists in the file (because another identifier needed it) but
// carries no event for this identifier.
type Record struct {
	ID           string   `json:"id"`
	Timestamps   []string `json:"timestamps"`
	SyncedDaily  bool     `json:"synced_daily"`
	SyncedMaster bool     `json:"synced_master"`
}

// Count returns the number of recorded events.
func (r *Record) Count() int {
	n := 0
	for _, ts := range r.Timestamps {
		if ts != "" {
			n++
		}
	}
	return n
}

// Events returns the non-empty timestamps in column order.
func (r *Record) Events() []string {
	out := make([]string, 0, len(r.Timestamps))
	for _, ts := range r.Timestamps {
		if ts != "" {
			out = append(out, ts)
		}
	}
	return out
}

// NextSlot returns the 0-based index of the smallest timestamp slot without
// a value. It equals len(Timestamps) when every slot is filled.
func (r *Record) NextSlot() int {
	for i, ts := range r.Timestamps {
		if ts == "" {
			return i
		}
	}
	return len(r.Timestamps)
}

// Synced reports whether both flags are set.
func (r *Record) Synced() bool {
	return r.SyncedDaily && r.SyncedMaster
}

// Clone returns a deep copy.
func (r Record) Clone() Record {
	r.Timestamps = append([]string(nil), r.Timestamps...)
	return r
}

// Validate checks the identifier is usable as a row key.
func (r *Record) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return fmt.Errorf("record id is required")
	}
	if r.ID != strings.TrimSpace(r.ID) {
		return fmt.Errorf("record id %q has surrounding whitespace", r.ID)
	}
	return nil
}

// FormatBool renders a sync flag the way the ledger file stores it.
func FormatBool(b bool) string {
	if b {
		return "True"
	}
	return "False"
}

// ParseBool accepts the flag spellings found in hand-edited ledger files.
// Anything unrecognised reads as false.
func ParseBool(s string) bool {
	switch strings.TrimSpace(s) {
	case "True", "TRUE":
		return true
	}
	b, err := strconv.ParseBool(strings.TrimSpace(s))
	return err == nil && b
}
