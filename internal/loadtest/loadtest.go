// Package loadtest drives synthetic scan traffic through a complete engine.
//
// Several stations submit tokens concurrently against an in-memory remote
// store while transient failures are injected. The run then drains: it
// requests resyncs until every ledger row has converged or the drain
// timeout passes. The result reports Submit latency, outcome counts and
// what reached the remote tables.
package loadtest

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rollcall-dev/rollcall/internal/config"
	"github.com/rollcall-dev/rollcall/internal/engine"
	"github.com/rollcall-dev/rollcall/internal/logging"
	"github.com/rollcall-dev/rollcall/internal/remote"
	"github.com/rollcall-dev/rollcall/internal/schema"
	"github.com/rollcall-dev/rollcall/internal/token"
)

// Options describe one run.
type Options struct {
	// Dir holds the ledgers of the run.
	Dir string

	// Identifiers is the roster size.
	Identifiers int

	// Stations is the number of concurrent scanners.
	Stations int

	// ScansPerStation is the number of tokens each station submits.
	ScansPerStation int

	// Faults is the number of transient remote failures injected once
	// half of the scans have been submitted.
	Faults int

	// Cooldown is the per-identifier window (default: 50ms).
	Cooldown time.Duration

	// DrainTimeout bounds the wait for every row to converge (default: 10s).
	DrainTimeout time.Duration

	// Seed makes the scan order reproducible.
	Seed int64

	Logging *logging.Logging
}

// DefaultOptions returns a small run.
func DefaultOptions(dir string) Options {
	return Options{
		Dir:             dir,
		Identifiers:     50,
		Stations:        4,
		ScansPerStation: 25,
		Faults:          5,
		Cooldown:        50 * time.Millisecond,
		DrainTimeout:    10 * time.Second,
		Seed:            42,
	}
}

// LatencyStats captures Submit latency.
type LatencyStats struct {
	Min   time.Duration `json:"min"`
	Max   time.Duration `json:"max"`
	Mean  time.Duration `json:"mean"`
	P50   time.Duration `json:"p50"`
	P95   time.Duration `json:"p95"`
	P99   time.Duration `json:"p99"`
	Count int           `json:"count"`
}

// Result summarises a run.
type Result struct {
	Latency      LatencyStats   `json:"latency"`
	Outcomes     map[string]int `json:"outcomes"`
	Identifiers  int            `json:"identifiers"`
	DailyRows    int            `json:"daily_rows"`
	MasterMarked int            `json:"master_marked"`
	Unsynced     int            `json:"unsynced"`
	RemoteCalls  int            `json:"remote_calls"`
	RemoteWrites int            `json:"remote_writes"`
	Drained      bool           `json:"drained"`
	Duration     time.Duration  `json:"duration"`
	Status       engine.Status  `json:"status"`
}

// Roster returns n deterministic identifiers.
func Roster(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("S%05d", i)
	}
	return ids
}

// Run executes one load run.
func Run(ctx context.Context, opts Options) (*Result, error) {
	def := DefaultOptions(opts.Dir)
	if opts.Dir == "" {
		return nil, fmt.Errorf("dir cannot be empty")
	}
	if opts.Identifiers <= 0 {
		opts.Identifiers = def.Identifiers
	}
	if opts.Stations <= 0 {
		opts.Stations = def.Stations
	}
	if opts.ScansPerStation <= 0 {
		opts.ScansPerStation = def.ScansPerStation
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = def.Cooldown
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = def.DrainTimeout
	}

	roster := Roster(opts.Identifiers)
	dateKey := schema.DateKey(time.Now())
	store := newStore(roster, dateKey)

	cfg := config.Default()
	cfg.Backend = config.BackendMemory
	cfg.DataDir = filepath.Join(opts.Dir, "data")
	cfg.FallbackDir = filepath.Join(opts.Dir, "fallback")
	cfg.Scan.Cooldown = opts.Cooldown
	cfg.Sync.BackoffUnit = 10 * time.Millisecond
	cfg.Sync.ProbeInterval = 100 * time.Millisecond
	cfg.Sync.WorkerWait = 50 * time.Millisecond
	cfg.Sync.WorkerProbeInterval = 100 * time.Millisecond

	e, err := engine.New(ctx, &engine.Options{
		Config:  cfg,
		Store:   store,
		Logging: opts.Logging,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}
	if err := e.Start(ctx); err != nil {
		_ = e.Stop()
		return nil, fmt.Errorf("failed to start engine: %w", err)
	}

	start := time.Now()
	durations, outcomes := submitAll(ctx, e, store, roster, opts)

	drained := drain(ctx, e, opts.DrainTimeout)
	status := e.Status()
	if err := e.Stop(); err != nil {
		return nil, fmt.Errorf("failed to stop engine: %w", err)
	}

	result := &Result{
		Latency:      computeLatencyStats(durations),
		Outcomes:     outcomes,
		Identifiers:  opts.Identifiers,
		RemoteCalls:  store.Calls(),
		RemoteWrites: store.Writes(),
		Drained:      drained,
		Duration:     time.Since(start),
		Status:       status,
	}
	for _, s := range status.Ledgers {
		result.Unsynced += s.Unsynced
	}
	if daily := store.Snapshot(dateKey); len(daily) > 0 {
		result.DailyRows = len(daily) - 1
	}
	result.MasterMarked = countPresent(store.Snapshot(remote.DefaultMasterName), dateKey)
	return result, nil
}

// newStore seeds a MemStore with the roster, a date column for dateKey and
// a two-column template.
func newStore(roster []string, dateKey string) *remote.MemStore {
	store := remote.NewMemStore()
	master := [][]string{{schema.ColumnID, dateKey}}
	for _, id := range roster {
		master = append(master, []string{id})
	}
	store.Seed(remote.DefaultMasterName, master)
	store.Seed(remote.DefaultTemplateName, [][]string{{schema.ColumnID, schema.TimestampColumn(1)}})
	return store
}

// submitAll runs every station and returns the Submit latencies and the
// outcome counts by kind.
func submitAll(ctx context.Context, e *engine.Engine, store *remote.MemStore, roster []string, opts Options) ([]time.Duration, map[string]int) {
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		durations = make([]time.Duration, 0, opts.Stations*opts.ScansPerStation)
		outcomes  = make(map[string]int)
		submitted int
		injected  sync.Once
	)
	half := opts.Stations * opts.ScansPerStation / 2

	for i := 0; i < opts.Stations; i++ {
		wg.Add(1)
		go func(station int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(opts.Seed + int64(station)))

			for j := 0; j < opts.ScansPerStation; j++ {
				if ctx.Err() != nil {
					return
				}
				id := roster[rng.Intn(len(roster))]

				begin := time.Now()
				r := e.Submit(ctx, id)
				elapsed := time.Since(begin)

				mu.Lock()
				durations = append(durations, elapsed)
				outcomes[r.Kind.String()]++
				submitted++
				n := submitted
				mu.Unlock()

				if n >= half && opts.Faults > 0 {
					injected.Do(func() { store.FailNext(opts.Faults, nil) })
				}
				if r.Kind == token.Cooldown {
					time.Sleep(r.Remaining)
				}
			}
		}(i)
	}
	wg.Wait()
	return durations, outcomes
}

// drain requests resyncs until no ledger row is unsynced and the worker
// queue is empty.
func drain(ctx context.Context, e *engine.Engine, timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		status := e.Status()
		unsynced := 0
		for _, s := range status.Ledgers {
			unsynced += s.Unsynced
		}
		if unsynced == 0 && status.Pending == 0 {
			return true
		}
		if status.Pending == 0 {
			_ = e.Resync()
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}

func countPresent(master [][]string, dateKey string) int {
	if len(master) == 0 {
		return 0
	}
	col := remote.IndexOf(master[0], dateKey)
	if col < 0 {
		return 0
	}
	n := 0
	for _, row := range master[1:] {
		if col < len(row) && row[col] == schema.PresentMarker {
			n++
		}
	}
	return n
}

// computeLatencyStats calculates statistics from a slice of durations.
func computeLatencyStats(durations []time.Duration) LatencyStats {
	if len(durations) == 0 {
		return LatencyStats{}
	}

	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}

	return LatencyStats{
		Min:   sorted[0],
		Max:   sorted[len(sorted)-1],
		Mean:  sum / time.Duration(len(sorted)),
		P50:   sorted[len(sorted)*50/100],
		P95:   sorted[len(sorted)*95/100],
		P99:   sorted[len(sorted)*99/100],
		Count: len(sorted),
	}
}

// Print formats the result.
func (r *Result) Print(w io.Writer) {
	fmt.Fprintf(w, "Scans:\n")
	for _, kind := range []token.Kind{token.FirstScan, token.RepeatScan, token.Cooldown, token.Error} {
		fmt.Fprintf(w, "  %-9s %d\n", kind.String()+":", r.Outcomes[kind.String()])
	}
	fmt.Fprintf(w, "Submit latency:\n")
	fmt.Fprintf(w, "  Min:           %v\n", r.Latency.Min)
	fmt.Fprintf(w, "  P50 (Median):  %v\n", r.Latency.P50)
	fmt.Fprintf(w, "  Mean:          %v\n", r.Latency.Mean)
	fmt.Fprintf(w, "  P95:           %v\n", r.Latency.P95)
	fmt.Fprintf(w, "  P99:           %v\n", r.Latency.P99)
	fmt.Fprintf(w, "  Max:           %v\n", r.Latency.Max)
	fmt.Fprintf(w, "Remote:\n")
	fmt.Fprintf(w, "  Calls:         %d\n", r.RemoteCalls)
	fmt.Fprintf(w, "  Writes:        %d\n", r.RemoteWrites)
	fmt.Fprintf(w, "  Daily rows:    %d\n", r.DailyRows)
	fmt.Fprintf(w, "  Master marked: %d\n", r.MasterMarked)
	fmt.Fprintf(w, "  Reconnects:    %d\n", r.Status.Connectivity.Reconnects)
	fmt.Fprintf(w, "Unsynced rows: %d (drained: %v) in %v\n", r.Unsynced, r.Drained, r.Duration.Round(time.Millisecond))
}
