package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/rollcall-dev/rollcall/internal/schema"
)

// Book hands out per-day ledgers and rotates to a new file at local
// midnight according to the configured clock. Ledgers stay open until the
// book is closed so that earlier days can still be replayed.
type Book struct {
	config *Config

	mu      sync.Mutex
	ledgers map[string]*Ledger
	closed  bool
}

// NewBook creates a book over config.Dir.
func NewBook(config *Config) *Book {
	if config == nil {
		config = DefaultConfig()
	}
	return &Book{
		config:  config.withDefaults(),
		ledgers: make(map[string]*Ledger),
	}
}

// Today returns the ledger for the current day, opening it on first use.
func (b *Book) Today() (*Ledger, error) {
	return b.Open(b.config.Clock.Now())
}

// Open returns the ledger for the day containing day.
func (b *Book) Open(day time.Time) (*Ledger, error) {
	key := schema.Day(day).Format(schema.FileDateLayout)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, fmt.Errorf("ledger book is closed")
	}
	if l, ok := b.ledgers[key]; ok {
		return l, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.config.LockTimeout)
	defer cancel()
	l, err := Open(ctx, day, b.config)
	if err != nil {
		return nil, err
	}
	if len(b.ledgers) > 0 {
		b.config.Logger.Printf("Opened ledger %s", l.Path())
	}
	b.ledgers[key] = l
	return l, nil
}

// Days returns the days with an open ledger, oldest first.
func (b *Book) Days() []time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	days := make([]time.Time, 0, len(b.ledgers))
	for _, l := range b.ledgers {
		days = append(days, l.Day())
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })
	return days
}

// Close closes every open ledger.
func (b *Book) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var result *multierror.Error
	for key, l := range b.ledgers {
		if err := l.Close(); err != nil {
			result = multierror.Append(result, err)
		}
		delete(b.ledgers, key)
	}
	b.closed = true
	return result.ErrorOrNil()
}
