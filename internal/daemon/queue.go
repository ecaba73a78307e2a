package daemon

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/coder/quartz"

	rcsync "github.com/rollcall-dev/rollcall/internal/sync"
)

// ErrQueueClosed is returned by Push after Close.
var ErrQueueClosed = errors.New("queue closed")

// ItemKind identifies what the worker should do with an item.
type ItemKind int

const (
	// ItemEvent pushes a recorded event.
	ItemEvent ItemKind = iota
	// ItemResync forces a connectivity probe and replay.
	ItemResync
	// ItemShutdown is the sentinel that stops the worker.
	ItemShutdown
)

// String returns a human-readable representation of the kind.
func (k ItemKind) String() string {
	switch k {
	case ItemEvent:
		return "event"
	case ItemResync:
		return "resync"
	case ItemShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// Item is one unit of work for the worker.
type Item struct {
	Kind ItemKind
	Job  rcsync.Job
}

// Queue is an unbounded FIFO. Push never blocks.
type Queue struct {
	clock  quartz.Clock
	mu     sync.Mutex
	items  []Item
	closed bool
	notify chan struct{}
}

// NewQueue creates an empty queue. Pop timeouts use clock.
func NewQueue(clock quartz.Clock) *Queue {
	if clock == nil {
		clock = quartz.NewReal()
	}
	return &Queue{
		clock:  clock,
		notify: make(chan struct{}, 1),
	}
}

// Push appends it to the queue.
func (q *Queue) Push(it Item) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	q.items = append(q.items, it)
	q.mu.Unlock()
	q.wake()
	return nil
}

func (q *Queue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *Queue) tryPop() (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return Item{}, false
	}
	it := q.items[0]
	q.items[0] = Item{}
	q.items = q.items[1:]
	return it, true
}

// Pop removes the oldest item, waiting up to wait for one to arrive. It
// returns false on timeout or when ctx is done.
func (q *Queue) Pop(ctx context.Context, wait time.Duration) (Item, bool) {
	if it, ok := q.tryPop(); ok {
		return it, true
	}

	timer := q.clock.NewTimer(wait, "queue", "pop")
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return Item{}, false
		case <-timer.C:
			return q.tryPop()
		case <-q.notify:
			if it, ok := q.tryPop(); ok {
				return it, true
			}
		}
	}
}

// Len returns the number of queued items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close enqueues the shutdown sentinel and rejects further pushes. Items
// already queued stay ahead of the sentinel.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, Item{Kind: ItemShutdown})
	q.closed = true
	q.mu.Unlock()
	q.wake()
}
