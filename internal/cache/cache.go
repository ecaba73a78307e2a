// Package cache holds short-lived snapshots of remote header rows and full
// table scans.
//
// Entries are keyed by (table, kind). They expire after a TTL and are
// dropped whenever a table gains a column or a write cannot be mirrored
// exactly. A single-cell write that is local and unambiguous (marking one
// master cell Present) is applied in place with UpdateCell instead.
//
// Invalidation bumps a per-table generation that is part of every key, so
// stale entries become unreachable immediately and age out of the LRU.
package cache

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/ammario/tlru"

	"github.com/rollcall-dev/rollcall/internal/remote"
)

// Kind selects which snapshot of a table an entry holds.
type Kind string

const (
	KindHeaders Kind = "headers"
	KindRows    Kind = "allRows"
)

// DefaultTTL bounds staleness for entries that are never invalidated.
const DefaultTTL = 5 * time.Minute

// maxEntries bounds each LRU. Only a handful of tables are live at a time.
const maxEntries = 256

type key struct {
	table string
	kind  Kind
	epoch uint64
	gen   uint64
}

// Stats reports cache effectiveness.
type Stats struct {
	Hits          int64 `json:"hits" yaml:"hits"`
	Misses        int64 `json:"misses" yaml:"misses"`
	Invalidations int64 `json:"invalidations" yaml:"invalidations"`
}

// FieldCache caches headers and row snapshots per remote table. It is safe
// for concurrent use. Values handed in and out are deep copies.
type FieldCache struct {
	ttl time.Duration

	headers *tlru.Cache[key, []string]
	rows    *tlru.Cache[key, [][]string]

	mu    sync.RWMutex
	epoch uint64
	gens  map[string]uint64

	// serialises read-modify-write of a rows entry
	updateMu sync.Mutex

	hits, misses, invalidations atomic.Int64
}

// New creates a cache whose entries live for ttl.
func New(ttl time.Duration) *FieldCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &FieldCache{
		ttl:     ttl,
		headers: tlru.New[key](tlru.ConstantCost[[]string], maxEntries),
		rows:    tlru.New[key](tlru.ConstantCost[[][]string], maxEntries),
		gens:    make(map[string]uint64),
	}
}

func (c *FieldCache) keyFor(t remote.Table, kind Kind) key {
	name := t.String()
	c.mu.RLock()
	defer c.mu.RUnlock()
	return key{table: name, kind: kind, epoch: c.epoch, gen: c.gens[name]}
}

func (c *FieldCache) count(ok bool) {
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
}

// Headers returns the cached header row of t.
func (c *FieldCache) Headers(t remote.Table) ([]string, bool) {
	h, _, ok := c.headers.Get(c.keyFor(t, KindHeaders))
	c.count(ok)
	if !ok {
		return nil, false
	}
	return append([]string(nil), h...), true
}

// SetHeaders caches the header row of t.
func (c *FieldCache) SetHeaders(t remote.Table, headers []string) {
	c.headers.Set(c.keyFor(t, KindHeaders), append([]string(nil), headers...), c.ttl)
}

// Rows returns the cached full snapshot of t, header row included.
func (c *FieldCache) Rows(t remote.Table) ([][]string, bool) {
	rows, _, ok := c.rows.Get(c.keyFor(t, KindRows))
	c.count(ok)
	if !ok {
		return nil, false
	}
	return remote.CloneRows(rows), true
}

// SetRows caches a full snapshot of t. The header entry is refreshed from
// row 0 so the two never disagree.
func (c *FieldCache) SetRows(t remote.Table, rows [][]string) {
	c.rows.Set(c.keyFor(t, KindRows), remote.CloneRows(rows), c.ttl)
	if len(rows) > 0 {
		c.SetHeaders(t, rows[0])
	}
}

// Invalidate drops every entry for t.
func (c *FieldCache) Invalidate(t remote.Table) {
	name := t.String()
	c.mu.Lock()
	c.gens[name]++
	c.mu.Unlock()
	c.invalidations.Add(1)
}

// InvalidateAll drops every entry. The connectivity probe calls it after a
// session is re-established.
func (c *FieldCache) InvalidateAll() {
	c.mu.Lock()
	c.epoch++
	c.gens = make(map[string]uint64)
	c.mu.Unlock()
	c.invalidations.Add(1)
}

// UpdateCell mirrors a single-cell write into the cached snapshot of t.
// A write that would add a column or a row cannot be mirrored safely and
// invalidates the table instead. Nothing happens when t is not cached.
func (c *FieldCache) UpdateCell(t remote.Table, row, col int, value string) {
	c.updateMu.Lock()
	defer c.updateMu.Unlock()

	k := c.keyFor(t, KindRows)
	rows, deadline, ok := c.rows.Get(k)
	if !ok {
		return
	}
	if row <= 0 || row >= len(rows) || col >= len(rows[0]) || col < 0 {
		c.Invalidate(t)
		return
	}

	ttl := time.Until(deadline)
	if ttl <= 0 {
		return
	}

	updated := remote.CloneRows(rows)
	for len(updated[row]) <= col {
		updated[row] = append(updated[row], "")
	}
	updated[row][col] = value
	c.rows.Set(k, updated, ttl)
}

// Stats returns hit and miss counters.
func (c *FieldCache) Stats() Stats {
	return Stats{
		Hits:          c.hits.Load(),
		Misses:        c.misses.Load(),
		Invalidations: c.invalidations.Load(),
	}
}
