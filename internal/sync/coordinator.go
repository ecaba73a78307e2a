package sync

import (
	"context"
	"fmt"
	"log"
	"os"
	stdsync "sync"
	"time"

	"github.com/coder/quartz"
	"github.com/google/uuid"

	"github.com/rollcall-dev/rollcall/internal/cache"
	"github.com/rollcall-dev/rollcall/internal/connectivity"
	"github.com/rollcall-dev/rollcall/internal/ledger"
	"github.com/rollcall-dev/rollcall/internal/metrics"
	"github.com/rollcall-dev/rollcall/internal/remote"
	"github.com/rollcall-dev/rollcall/internal/schema"
)

// Config holds configuration for the coordinator.
type Config struct {
	// AutoEnroll inserts a master row for identifiers missing from the
	// roster instead of reporting a schema error.
	AutoEnroll bool

	// WriteSettle is waited after a daily write before the verification
	// read. Some backends need a moment before a write is visible.
	WriteSettle time.Duration

	// OnReplay observes every finished replay.
	OnReplay func(Report)

	Metrics *metrics.Metrics
	Clock   quartz.Clock
	Logger  *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Clock:  quartz.NewReal(),
		Logger: log.New(os.Stderr, "[sync] ", log.LstdFlags),
	}
}

// Coordinator orchestrates ledger writes and remote updates.
type Coordinator struct {
	ledgers LedgerSource
	store   remote.Store
	invoker *connectivity.Invoker
	monitor *connectivity.Monitor
	cache   *cache.FieldCache
	config  *Config

	dispatchMu stdsync.RWMutex
	dispatcher Dispatcher

	// pushes to the remote tables run one at a time
	pushMu stdsync.Mutex

	tablesMu stdsync.Mutex
	tables   map[string]remote.Table // date key -> daily table
}

// New creates a coordinator. Events are pushed inline on the caller's
// goroutine until a Dispatcher is installed with SetDispatcher.
func New(ledgers LedgerSource, store remote.Store, invoker *connectivity.Invoker, fieldCache *cache.FieldCache, config *Config) (*Coordinator, error) {
	if ledgers == nil {
		return nil, fmt.Errorf("ledgers cannot be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if invoker == nil {
		return nil, fmt.Errorf("invoker cannot be nil")
	}
	if fieldCache == nil {
		fieldCache = cache.New(cache.DefaultTTL)
	}
	def := DefaultConfig()
	if config == nil {
		config = def
	}
	cfg := *config
	if cfg.Clock == nil {
		cfg.Clock = def.Clock
	}
	if cfg.Logger == nil {
		cfg.Logger = def.Logger
	}

	return &Coordinator{
		ledgers: ledgers,
		store:   store,
		invoker: invoker,
		monitor: invoker.Monitor(),
		cache:   fieldCache,
		config:  &cfg,
		tables:  make(map[string]remote.Table),
	}, nil
}

// SetDispatcher routes online events to d instead of pushing inline.
func (c *Coordinator) SetDispatcher(d Dispatcher) {
	c.dispatchMu.Lock()
	defer c.dispatchMu.Unlock()
	c.dispatcher = d
}

// Reset forgets resolved daily tables and cached snapshots. The
// connectivity probe calls it after re-establishing the session.
func (c *Coordinator) Reset() {
	c.tablesMu.Lock()
	c.tables = make(map[string]remote.Table)
	c.tablesMu.Unlock()
	c.cache.InvalidateAll()
}

// RecordEvent records a scan of raw.
//
// Blank input is ignored and returns a zero Observation. The ledger append
// always happens; when ONLINE the event is handed to the dispatcher. Remote
// failures are never returned. The only error is failing to open today's
// ledger.
func (c *Coordinator) RecordEvent(ctx context.Context, raw string) (ledger.Observation, error) {
	id, ok := schema.NormalizeID(raw)
	if !ok {
		return ledger.Observation{}, nil
	}

	l, err := c.ledgers.Today()
	if err != nil {
		return ledger.Observation{}, fmt.Errorf("failed to open today's ledger: %w", err)
	}

	obs, err := l.Append(id)
	if err != nil {
		return ledger.Observation{}, err
	}
	if obs.AtRisk {
		c.config.Metrics.ObserveAtRisk()
	}

	if !c.monitor.Online() {
		c.config.Metrics.ObservePush("deferred")
		return obs, nil
	}

	job := Job{
		ID:         uuid.New(),
		Identifier: id,
		Timestamp:  obs.Timestamp,
		Column:     obs.Column,
		Day:        l.Day(),
		EnqueuedAt: c.config.Clock.Now(),
	}

	c.dispatchMu.RLock()
	d := c.dispatcher
	c.dispatchMu.RUnlock()
	if d != nil {
		d.Dispatch(job)
	} else {
		_ = c.PushEvent(ctx, job)
	}
	return obs, nil
}

// PushEvent mirrors the ledger row named by job into the remote tables and
// records the resulting sync flags. Failures are counted against the
// connectivity monitor before being returned; callers only need the error
// for logging.
func (c *Coordinator) PushEvent(ctx context.Context, job Job) error {
	l, err := c.ledgers.Open(job.Day)
	if err != nil {
		return fmt.Errorf("failed to open ledger for %s: %w", schema.DateKey(job.Day), err)
	}
	rec, ok := l.Record(job.Identifier)
	if !ok {
		return fmt.Errorf("%w: %s", ledger.ErrUnknownID, job.Identifier)
	}
	if rec.Synced() {
		c.config.Metrics.ObservePush("skipped")
		return nil
	}

	if err := c.syncRecord(ctx, l, rec); err != nil {
		c.noteFailure(job.Identifier, err)
		return err
	}
	c.config.Metrics.ObservePush("synced")
	return nil
}

// noteFailure converts a swallowed remote failure into monitor state.
// Offline refusals, cancellations and schema errors say nothing about
// connectivity.
func (c *Coordinator) noteFailure(id string, err error) {
	c.config.Metrics.ObservePush("failed")
	switch {
	case remote.IsOffline(err):
		c.config.Logger.Printf("Push of %s deferred: offline", id)
	case remote.IsCanceled(err):
		c.config.Logger.Printf("Push of %s interrupted", id)
	case remote.IsSchema(err):
		c.config.Logger.Printf("Push of %s abandoned: %v", id, err)
	default:
		c.config.Logger.Printf("Push of %s failed: %v", id, err)
		c.monitor.RecordFailure(err)
	}
}

// syncRecord pushes whatever part of rec is not yet synced and persists the
// flags that succeeded.
func (c *Coordinator) syncRecord(ctx context.Context, l *ledger.Ledger, rec schema.Record) error {
	c.pushMu.Lock()
	defer c.pushMu.Unlock()

	dateKey := l.DateKey()
	events := rec.Events()

	daily := rec.SyncedDaily
	if !daily {
		if err := c.pushTimestamps(ctx, dateKey, rec.ID, events); err != nil {
			return err
		}
		daily = true
	}

	var masterErr error
	master := rec.SyncedMaster
	if !master {
		masterErr = c.MarkPresentInMaster(ctx, rec.ID, dateKey)
		master = masterErr == nil
	}

	if err := l.MarkSynced(rec.ID, daily, master, len(events)); err != nil {
		c.config.Logger.Printf("Warning: %v", err)
	}
	return masterErr
}
