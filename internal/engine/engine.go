// Package engine assembles the attendance components for one process
// lifetime: ledger book, remote store, connectivity monitor and invoker,
// field cache, sync coordinator, update worker, cooldown gate, metrics and
// display surfaces.
//
// Example:
//
//	e, err := engine.New(ctx, &engine.Options{Config: cfg})
//	if err != nil {
//	    return err
//	}
//	if err := e.Start(ctx); err != nil {
//	    return err
//	}
//	defer e.Stop()
//	result := e.Submit(ctx, "A123")
package engine

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/rollcall-dev/rollcall/internal/cache"
	"github.com/rollcall-dev/rollcall/internal/config"
	"github.com/rollcall-dev/rollcall/internal/connectivity"
	"github.com/rollcall-dev/rollcall/internal/daemon"
	"github.com/rollcall-dev/rollcall/internal/display"
	"github.com/rollcall-dev/rollcall/internal/ledger"
	"github.com/rollcall-dev/rollcall/internal/logging"
	"github.com/rollcall-dev/rollcall/internal/metrics"
	"github.com/rollcall-dev/rollcall/internal/remote"
	"github.com/rollcall-dev/rollcall/internal/schema"
	rcsync "github.com/rollcall-dev/rollcall/internal/sync"
	"github.com/rollcall-dev/rollcall/internal/token"
)

// Options configure an Engine. Only Config is required.
type Options struct {
	Config *config.Config

	// Store overrides the backend selected by Config.Backend.
	Store remote.Store

	// Logging provides component loggers (default: discard).
	Logging *logging.Logging

	// Registry receives the engine metrics (default: a private registry).
	Registry *prometheus.Registry

	// Surfaces render results and status changes.
	Surfaces []display.Surface

	Clock quartz.Clock
}

// Status is the engine state reported by `rollcall status`, /status and the
// dashboard hello message.
type Status struct {
	Backend      string                `json:"backend" yaml:"backend"`
	Connectivity connectivity.Snapshot `json:"connectivity" yaml:"connectivity"`
	Pending      int                   `json:"pending" yaml:"pending"`
	Ledgers      []ledger.Stats        `json:"ledgers" yaml:"ledgers"`
	Cache        cache.Stats           `json:"cache" yaml:"cache"`
	LastReplay   *rcsync.Report        `json:"last_replay,omitempty" yaml:"last_replay,omitempty"`
}

// Engine owns every component for one process lifetime.
type Engine struct {
	config  *config.Config
	clock   quartz.Clock
	logger  *log.Logger
	store   remote.Store
	book    *ledger.Book
	cache   *cache.FieldCache
	monitor *connectivity.Monitor
	invoker *connectivity.Invoker
	coord   *rcsync.Coordinator
	worker  *daemon.Worker
	gate    *token.Gate
	metrics *metrics.Metrics

	surfacesMu sync.RWMutex
	surfaces   display.Multi

	mu         sync.Mutex
	started    bool
	lastReplay *rcsync.Report
	replays    map[string]rcsync.Report
}

// New builds an engine. Nothing runs until Start.
func New(ctx context.Context, opts *Options) (*Engine, error) {
	if opts == nil || opts.Config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	cfg := opts.Config
	logs := opts.Logging
	if logs == nil {
		logs = logging.Discard()
	}
	clk := opts.Clock
	if clk == nil {
		clk = quartz.NewReal()
	}

	e := &Engine{
		config:   cfg,
		clock:    clk,
		logger:   logs.Component("engine"),
		cache:    cache.New(cfg.Sync.CacheTTL),
		gate:     token.NewGate(cfg.Scan.Cooldown, clk),
		metrics:  metrics.New(opts.Registry),
		surfaces: append(display.Multi(nil), opts.Surfaces...),
		replays:  make(map[string]rcsync.Report),
	}

	e.store = opts.Store
	if e.store == nil {
		store, err := OpenStore(ctx, cfg, logs.Component("store"))
		if err != nil {
			return nil, fmt.Errorf("failed to open %s store: %w", cfg.Backend, err)
		}
		e.store = store
	}

	e.book = ledger.NewBook(&ledger.Config{
		Dir:         cfg.DataDir,
		FallbackDir: cfg.FallbackDir,
		Clock:       clk,
		Logger:      logs.Component("ledger"),
	})

	var err error
	e.monitor, err = connectivity.NewMonitor(e.probe, &connectivity.Config{
		ProbeInterval:    cfg.Sync.ProbeInterval,
		FailureThreshold: cfg.Sync.FailureThreshold,
		OnReconnect:      e.onReconnect,
		OnStateChange:    e.onStateChange,
		Clock:            clk,
		Logger:           logs.Component("connectivity"),
	})
	if err != nil {
		return nil, err
	}

	e.invoker, err = connectivity.NewInvoker(e.monitor, &connectivity.InvokerConfig{
		MaxAttempts: cfg.Sync.MaxAttempts,
		BackoffUnit: cfg.Sync.BackoffUnit,
		Observe:     e.metrics.ObserveRemote,
		Clock:       clk,
		Logger:      logs.Component("invoker"),
	})
	if err != nil {
		return nil, err
	}

	e.coord, err = rcsync.New(e.book, e.store, e.invoker, e.cache, &rcsync.Config{
		AutoEnroll:  cfg.Sync.MasterAutoEnroll,
		WriteSettle: cfg.Sync.WriteSettle,
		OnReplay:    e.onReplay,
		Metrics:     e.metrics,
		Clock:       clk,
		Logger:      logs.Component("sync"),
	})
	if err != nil {
		return nil, err
	}

	e.worker, err = daemon.NewWorker(e.coord, e.monitor, &daemon.Config{
		Wait:          cfg.Sync.WorkerWait,
		ProbeInterval: cfg.Sync.WorkerProbeInterval,
		OnResync:      e.replayAll,
		Metrics:       e.metrics,
		Clock:         clk,
		Logger:        logs.Component("worker"),
	})
	if err != nil {
		return nil, err
	}
	e.coord.SetDispatcher(e.worker)

	return e, nil
}

// probe re-opens the remote session, ensures today's daily table exists
// and verifies the roster has an ID header.
func (e *Engine) probe(ctx context.Context) error {
	if c, ok := e.store.(remote.Connector); ok {
		if err := c.Connect(ctx); err != nil {
			return err
		}
	}
	e.coord.Reset()

	if _, err := e.store.EnsureDailyTable(ctx, schema.DateKey(e.clock.Now())); err != nil {
		return err
	}
	headers, err := e.store.GetHeaders(ctx, e.store.MasterTable())
	if err != nil {
		return err
	}
	if remote.IndexOf(headers, schema.ColumnID) < 0 {
		return remote.Schema("probe", fmt.Errorf("%w: %s in %s", remote.ErrHeaderNotFound, schema.ColumnID, e.store.MasterTable()))
	}
	return nil
}

func (e *Engine) onReconnect(ctx context.Context) {
	if err := e.coord.WarmCache(ctx, schema.DateKey(e.clock.Now())); err != nil {
		e.logger.Printf("Cache warm-up failed: %v", err)
	}
	e.replayAll(ctx)
}

func (e *Engine) replayAll(ctx context.Context) {
	if _, err := e.coord.ReplayUnsynced(ctx); err != nil {
		e.logger.Printf("Replay incomplete: %v", err)
	}
	e.refreshGauges()
}

func (e *Engine) onReplay(r rcsync.Report) {
	e.mu.Lock()
	e.lastReplay = &r
	e.replays[r.Day] = r
	e.mu.Unlock()

	e.logger.Printf("Replayed %s: %d synced, %d failed, %d remaining in %s",
		r.Day, r.Synced, r.Failed, r.Remaining, r.Duration.Round(time.Millisecond))
	e.showStatus(fmt.Sprintf("replayed %d of %d rows for %s", r.Synced, r.Pending, r.Day))
}

func (e *Engine) onStateChange(from, to connectivity.State) {
	e.metrics.SetOnline(to == connectivity.Online)
	e.showStatus("")
}

// AddSurface registers another display surface.
func (e *Engine) AddSurface(s display.Surface) {
	e.surfacesMu.Lock()
	defer e.surfacesMu.Unlock()
	e.surfaces = append(e.surfaces, s)
}

func (e *Engine) surfaceSet() display.Multi {
	e.surfacesMu.RLock()
	defer e.surfacesMu.RUnlock()
	return append(display.Multi(nil), e.surfaces...)
}

func (e *Engine) showStatus(msg string) {
	unsynced := 0
	if l, err := e.book.Today(); err == nil {
		unsynced = l.Stats().Unsynced
	}
	e.surfaceSet().ShowStatus(display.Status{
		State:    e.monitor.State().String(),
		Pending:  e.worker.Pending(),
		Unsynced: unsynced,
		Message:  msg,
	})
}

func (e *Engine) refreshGauges() {
	if l, err := e.book.Today(); err == nil {
		e.metrics.SetUnsynced(l.Stats().Unsynced)
	}
	e.metrics.SetQueueDepth(e.worker.Pending())
}

// Start opens today's ledger, performs the initial probe (replaying any
// unsynced rows left by an earlier run when it succeeds) and starts the
// update worker. A failed probe leaves the engine OFFLINE; it is not an
// error.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return fmt.Errorf("engine already started")
	}
	e.started = true
	e.mu.Unlock()

	if _, err := e.book.Today(); err != nil {
		return fmt.Errorf("failed to open today's ledger: %w", err)
	}
	e.metrics.SetOnline(false)

	state := e.monitor.ForceProbe(ctx)
	e.logger.Printf("Started with backend %s: %s", e.config.Backend, state)
	if state == connectivity.Offline {
		e.showStatus("remote unavailable, recording locally")
	}

	// only Stop ends the worker, after it drains the queue
	return e.worker.Start(context.WithoutCancel(ctx))
}

// Stop drains the update worker, then closes the ledgers and the store.
func (e *Engine) Stop() error {
	var result *multierror.Error
	if err := e.worker.Stop(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := e.book.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	if c, ok := e.store.(io.Closer); ok {
		if err := c.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// Submit processes one scanned token and renders the result on every
// surface. It never blocks on the remote store.
func (e *Engine) Submit(ctx context.Context, text string) token.Result {
	r := e.submit(ctx, text)
	if r.Kind != token.Ignored {
		e.metrics.ObserveScan(r.Kind.String())
		e.surfaceSet().ShowResult(r)
		e.refreshGauges()
	}
	return r
}

func (e *Engine) submit(ctx context.Context, text string) token.Result {
	id, ok := schema.NormalizeID(text)
	if !ok {
		return token.Result{Kind: token.Ignored}
	}

	admitted, elapsed, remaining := e.gate.Admit(id)
	if !admitted {
		return token.Result{
			Kind:      token.Cooldown,
			ID:        id,
			Elapsed:   elapsed,
			Remaining: remaining,
			Online:    e.monitor.Online(),
		}
	}

	obs, err := e.coord.RecordEvent(ctx, id)
	if err != nil {
		e.logger.Printf("Failed to record %s: %v", id, err)
		e.gate.Forget(id)
		return token.Result{Kind: token.Error, ID: id, Online: e.monitor.Online(), Err: err}
	}

	r := token.Result{
		Kind:      token.FirstScan,
		ID:        obs.ID,
		Timestamp: obs.Timestamp,
		Column:    obs.Column,
		Online:    e.monitor.Online(),
		AtRisk:    obs.AtRisk,
	}
	if !obs.First {
		r.Kind = token.RepeatScan
		r.Elapsed = e.sinceLast(obs, elapsed)
	}
	return r
}

// sinceLast returns the time between the previous and the current event of
// obs.ID. The gate only knows scans from this process, so the ledger is
// consulted after a restart.
func (e *Engine) sinceLast(obs ledger.Observation, gateElapsed time.Duration) time.Duration {
	if gateElapsed > 0 {
		return gateElapsed
	}
	l, err := e.book.Today()
	if err != nil {
		return 0
	}
	rec, ok := l.Record(obs.ID)
	if !ok {
		return 0
	}
	events := rec.Events()
	if len(events) < 2 {
		return 0
	}
	prev, err1 := time.Parse(schema.TimeLayout, events[len(events)-2])
	cur, err2 := time.Parse(schema.TimeLayout, events[len(events)-1])
	if err1 != nil || err2 != nil || cur.Before(prev) {
		return 0
	}
	return cur.Sub(prev)
}

// Resync asks the worker to probe now and replay unsynced rows.
func (e *Engine) Resync() error {
	if err := e.worker.RequestResync(); err != nil {
		return fmt.Errorf("failed to request resync: %w", err)
	}
	return nil
}

// ErrOffline is returned by Replay when the remote store cannot be reached.
var ErrOffline = remote.ErrOffline

// Replay probes the remote store and replays the ledger of day. It is the
// offline `rollcall sync` path and runs on the caller's goroutine. When the
// probe itself reconnects, the reconnect replay covers day and its report is
// returned.
func (e *Engine) Replay(ctx context.Context, day time.Time) (rcsync.Report, error) {
	l, err := e.book.Open(day)
	if err != nil {
		return rcsync.Report{}, fmt.Errorf("failed to open ledger: %w", err)
	}
	e.mu.Lock()
	delete(e.replays, l.DateKey())
	e.mu.Unlock()

	if e.monitor.ForceProbe(ctx) != connectivity.Online {
		return rcsync.Report{}, fmt.Errorf("%w: %s", ErrOffline, e.monitor.Snapshot().LastError)
	}

	report, err := e.coord.ReplayLedger(ctx, l)
	e.refreshGauges()
	if err == nil && report.Pending == 0 {
		e.mu.Lock()
		if prev, ok := e.replays[l.DateKey()]; ok {
			report = prev
		}
		e.mu.Unlock()
	}
	return report, err
}

// Status returns a snapshot of the engine.
func (e *Engine) Status() Status {
	s := Status{
		Backend:      e.config.Backend,
		Connectivity: e.monitor.Snapshot(),
		Pending:      e.worker.Pending(),
		Cache:        e.cache.Stats(),
	}
	for _, day := range e.book.Days() {
		if l, err := e.book.Open(day); err == nil {
			s.Ledgers = append(s.Ledgers, l.Stats())
		}
	}
	e.mu.Lock()
	if e.lastReplay != nil {
		r := *e.lastReplay
		s.LastReplay = &r
	}
	e.mu.Unlock()
	return s
}

// Metrics returns the engine's metrics.
func (e *Engine) Metrics() *metrics.Metrics {
	return e.metrics
}

// Book returns the ledger book.
func (e *Engine) Book() *ledger.Book {
	return e.book
}

// Monitor returns the connectivity monitor.
func (e *Engine) Monitor() *connectivity.Monitor {
	return e.monitor
}

// Store returns the remote store.
func (e *Engine) Store() remote.Store {
	return e.store
}
