package connectivity

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/coder/quartz"

	"github.com/rollcall-dev/rollcall/internal/remote"
)

// InvokerConfig holds configuration for the retrying invoker.
type InvokerConfig struct {
	// MaxAttempts bounds the attempts per call.
	MaxAttempts int

	// BackoffUnit is the delay after the first failed attempt. Attempt n
	// waits BackoffUnit * 2^n. Zero disables sleeping.
	BackoffUnit time.Duration

	// Observe, when set, is told about every attempt. err is nil on success.
	Observe func(op string, attempt int, err error)

	Clock  quartz.Clock
	Logger *log.Logger
}

// DefaultInvokerConfig returns sensible defaults.
func DefaultInvokerConfig() *InvokerConfig {
	return &InvokerConfig{
		MaxAttempts: 3,
		BackoffUnit: time.Second,
		Clock:       quartz.NewReal(),
		Logger:      log.New(os.Stderr, "[invoker] ", log.LstdFlags),
	}
}

// Invoker is the single choke point for remote calls. It fails fast while
// OFFLINE, retries transient failures with exponential backoff, and trips
// the monitor when the attempt budget is exhausted.
type Invoker struct {
	monitor *Monitor
	config  *InvokerConfig
}

// NewInvoker creates an invoker bound to monitor.
func NewInvoker(monitor *Monitor, config *InvokerConfig) (*Invoker, error) {
	if monitor == nil {
		return nil, fmt.Errorf("monitor cannot be nil")
	}
	def := DefaultInvokerConfig()
	if config == nil {
		config = def
	}
	cfg := *config
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.BackoffUnit < 0 {
		cfg.BackoffUnit = 0
	}
	if cfg.Clock == nil {
		cfg.Clock = def.Clock
	}
	if cfg.Logger == nil {
		cfg.Logger = def.Logger
	}
	return &Invoker{monitor: monitor, config: &cfg}, nil
}

// Monitor returns the monitor the invoker reports to.
func (inv *Invoker) Monitor() *Monitor {
	return inv.monitor
}

func (inv *Invoker) newBackOff() backoff.BackOff {
	unit := inv.config.BackoffUnit
	return backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(unit),
		backoff.WithRandomizationFactor(0),
		backoff.WithMultiplier(2),
		backoff.WithMaxInterval(unit<<inv.config.MaxAttempts),
		backoff.WithMaxElapsedTime(0),
	)
}

func (inv *Invoker) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := inv.config.Clock.NewTimer(d, "invoker", "backoff")
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Do runs fn under the retry policy.
func (inv *Invoker) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	_, err := Invoke(ctx, inv, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Invoke runs fn under the retry policy and returns its result.
//
// Only transient errors are retried. Schema and fatal errors return after
// the first attempt and leave the monitor untouched. When the last attempt
// fails transiently the monitor is marked OFFLINE.
func Invoke[T any](ctx context.Context, inv *Invoker, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	b := inv.newBackOff()

	var lastErr error
	for attempt := 0; attempt < inv.config.MaxAttempts; attempt++ {
		if !inv.monitor.Online() {
			return zero, fmt.Errorf("%s: %w", op, remote.ErrOffline)
		}

		v, err := fn(ctx)
		if inv.config.Observe != nil {
			inv.config.Observe(op, attempt, err)
		}
		if err == nil {
			inv.monitor.ResetFailures()
			return v, nil
		}
		lastErr = err

		if !remote.IsTransient(err) {
			return zero, err
		}
		if attempt == inv.config.MaxAttempts-1 {
			break
		}

		delay := b.NextBackOff()
		inv.config.Logger.Printf("%s failed (attempt %d/%d), retrying in %v: %v",
			op, attempt+1, inv.config.MaxAttempts, delay, err)
		if err := inv.sleep(ctx, delay); err != nil {
			return zero, fmt.Errorf("%s: %w", op, err)
		}
	}

	inv.monitor.MarkOffline(fmt.Errorf("%s: %w", op, lastErr))
	return zero, lastErr
}
