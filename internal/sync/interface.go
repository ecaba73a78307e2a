package sync

import (
	"time"

	"github.com/google/uuid"

	"github.com/rollcall-dev/rollcall/internal/ledger"
)

// LedgerSource hands out per-day ledgers. *ledger.Book implements it.
type LedgerSource interface {
	// Today returns the ledger for the current day.
	Today() (*ledger.Ledger, error)

	// Open returns the ledger for the day containing day.
	Open(day time.Time) (*ledger.Ledger, error)

	// Days lists the days with an open ledger, oldest first.
	Days() []time.Time
}

// Job is one recorded event waiting to be pushed to the remote tables.
type Job struct {
	ID         uuid.UUID `json:"id"`
	Identifier string    `json:"identifier"`
	Timestamp  string    `json:"timestamp"`
	Column     string    `json:"column"`
	Day        time.Time `json:"day"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Dispatcher receives jobs from RecordEvent. Implementations must not block
// on remote I/O.
type Dispatcher interface {
	Dispatch(job Job)
}

// DispatchFunc adapts a function to Dispatcher.
type DispatchFunc func(job Job)

// Dispatch implements Dispatcher.
func (f DispatchFunc) Dispatch(job Job) {
	f(job)
}

// Report summarises one replay of a day's ledger.
type Report struct {
	Day       string        `json:"day" yaml:"day"`
	Pending   int           `json:"pending" yaml:"pending"`
	Synced    int           `json:"synced" yaml:"synced"`
	Failed    int           `json:"failed" yaml:"failed"`
	Remaining int           `json:"remaining" yaml:"remaining"`
	Duration  time.Duration `json:"duration" yaml:"duration"`
}
