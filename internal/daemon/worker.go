package daemon

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/coder/quartz"

	"github.com/rollcall-dev/rollcall/internal/connectivity"
	"github.com/rollcall-dev/rollcall/internal/metrics"
	rcsync "github.com/rollcall-dev/rollcall/internal/sync"
)

// Pusher performs the remote half of an event. *sync.Coordinator
// implements it.
type Pusher interface {
	PushEvent(ctx context.Context, job rcsync.Job) error
}

// Prober is the part of the connectivity monitor the worker drives.
type Prober interface {
	Online() bool
	Check(ctx context.Context) connectivity.State
	ForceProbe(ctx context.Context) connectivity.State
}

// Config holds configuration for the worker.
type Config struct {
	// Wait bounds how long the worker blocks on an empty queue.
	Wait time.Duration

	// ProbeInterval is how often the worker asks the monitor to re-check
	// connectivity. The monitor applies its own rate limit on top.
	ProbeInterval time.Duration

	// OnResync runs after a manual resync finds the system already ONLINE,
	// where the probe itself triggers no replay.
	OnResync func(ctx context.Context)

	Metrics *metrics.Metrics
	Clock   quartz.Clock
	Logger  *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Wait:          time.Second,
		ProbeInterval: 5 * time.Second,
		Clock:         quartz.NewReal(),
		Logger:        log.New(os.Stderr, "[worker] ", log.LstdFlags),
	}
}

// Worker drains the queue on a single goroutine so pushes for one
// identifier happen in submission order.
type Worker struct {
	queue   *Queue
	pusher  Pusher
	monitor Prober
	config  *Config

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewWorker creates a stopped worker.
func NewWorker(pusher Pusher, monitor Prober, config *Config) (*Worker, error) {
	if pusher == nil {
		return nil, fmt.Errorf("pusher cannot be nil")
	}
	if monitor == nil {
		return nil, fmt.Errorf("monitor cannot be nil")
	}
	def := DefaultConfig()
	if config == nil {
		config = def
	}
	cfg := *config
	if cfg.Wait <= 0 {
		cfg.Wait = def.Wait
	}
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = def.ProbeInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = def.Clock
	}
	if cfg.Logger == nil {
		cfg.Logger = def.Logger
	}

	return &Worker{
		queue:   NewQueue(cfg.Clock),
		pusher:  pusher,
		monitor: monitor,
		config:  &cfg,
	}, nil
}

// Dispatch implements sync.Dispatcher. Jobs arriving after Stop are dropped;
// the ledger still holds them for the next replay.
func (w *Worker) Dispatch(job rcsync.Job) {
	if err := w.queue.Push(Item{Kind: ItemEvent, Job: job}); err != nil {
		w.config.Logger.Printf("Dropped job for %s: %v", job.Identifier, err)
		return
	}
	w.config.Metrics.SetQueueDepth(w.queue.Len())
}

// RequestResync asks the worker to probe immediately, bypassing the rate
// limit once, and replay unsynced rows.
func (w *Worker) RequestResync() error {
	return w.queue.Push(Item{Kind: ItemResync})
}

// Pending returns the number of queued items.
func (w *Worker) Pending() int {
	return w.queue.Len()
}

// Start launches the worker goroutine and returns immediately.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return fmt.Errorf("worker already running")
	}

	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.running = true

	w.wg.Add(1)
	go w.run(ctx)

	w.config.Logger.Println("Worker started")
	return nil
}

// Stop enqueues the shutdown sentinel and waits for everything queued
// before it to be processed. In-flight remote calls are not aborted.
func (w *Worker) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	cancel := w.cancel
	w.mu.Unlock()

	w.queue.Close()
	w.wg.Wait()
	cancel()

	w.config.Logger.Println("Worker stopped")
	return nil
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	ticker := w.config.Clock.NewTicker(w.config.ProbeInterval, "worker", "probe")
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.monitor.Check(ctx)
		default:
		}

		it, ok := w.queue.Pop(ctx, w.config.Wait)
		if !ok {
			continue
		}
		w.config.Metrics.SetQueueDepth(w.queue.Len())

		switch it.Kind {
		case ItemShutdown:
			return
		case ItemResync:
			w.resync(ctx)
		case ItemEvent:
			w.push(ctx, it.Job)
		}
	}
}

func (w *Worker) push(ctx context.Context, job rcsync.Job) {
	// an OFFLINE system leaves the event to replay
	if !w.monitor.Online() {
		return
	}
	if err := w.pusher.PushEvent(ctx, job); err != nil {
		w.config.Logger.Printf("Push of %s (%s) failed: %v", job.Identifier, job.Column, err)
	}
}

func (w *Worker) resync(ctx context.Context) {
	wasOnline := w.monitor.Online()
	state := w.monitor.ForceProbe(ctx)
	w.config.Logger.Printf("Manual resync: %s", state)
	if wasOnline && state == connectivity.Online && w.config.OnResync != nil {
		w.config.OnResync(ctx)
	}
}
