package connectivity

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"github.com/coder/quartz"

	"github.com/rollcall-dev/rollcall/internal/remote"
)

func newTestInvoker(t *testing.T, unit time.Duration) (*Invoker, *Monitor, *fakeProbe) {
	t.Helper()
	p := &fakeProbe{}
	clk := quartz.NewReal()
	m := newTestMonitor(t, clk, p, nil)
	if m.ForceProbe(context.Background()) != Online {
		t.Fatal("monitor did not come online")
	}
	inv, err := NewInvoker(m, &InvokerConfig{
		MaxAttempts: 3,
		BackoffUnit: unit,
		Clock:       clk,
		Logger:      log.New(io.Discard, "", 0),
	})
	if err != nil {
		t.Fatalf("NewInvoker() failed: %v", err)
	}
	return inv, m, p
}

// script returns each error in turn and then succeeds.
func script(errs ...error) (func(context.Context) (string, error), *int) {
	calls := 0
	return func(context.Context) (string, error) {
		calls++
		if calls <= len(errs) {
			return "", errs[calls-1]
		}
		return "ok", nil
	}, &calls
}

func TestInvokeRetriesTransient(t *testing.T) {
	inv, m, _ := newTestInvoker(t, time.Millisecond)
	m.RecordFailure(errors.New("earlier"))

	transient := remote.Transient("get", errors.New("503"))
	fn, calls := script(transient, transient)

	start := time.Now()
	got, err := Invoke(context.Background(), inv, "get", fn)
	if err != nil {
		t.Fatalf("Invoke() failed: %v", err)
	}
	if got != "ok" || *calls != 3 {
		t.Errorf("Invoke() = %q after %d calls", got, *calls)
	}
	// 1 unit then 2 units
	if elapsed := time.Since(start); elapsed < 3*time.Millisecond {
		t.Errorf("Invoke() returned after %v, want at least 3ms of backoff", elapsed)
	}
	if !m.Online() || m.Snapshot().ConsecutiveFailures != 0 {
		t.Errorf("success should reset failures: %+v", m.Snapshot())
	}
}

func TestInvokeTripsBreaker(t *testing.T) {
	inv, m, _ := newTestInvoker(t, 0)
	transient := remote.Transient("set", errors.New("reset"))
	fn, calls := script(transient, transient, transient)

	_, err := Invoke(context.Background(), inv, "set", fn)
	if !remote.IsTransient(err) {
		t.Fatalf("Invoke() err = %v, want the last transient error", err)
	}
	if *calls != 3 {
		t.Errorf("calls = %d, want 3", *calls)
	}
	if m.Online() {
		t.Fatal("exhausted retries must flip the monitor OFFLINE")
	}

	// fail fast without touching the network
	fn, calls = script()
	err = inv.Do(context.Background(), "set", func(ctx context.Context) error {
		_, err := fn(ctx)
		return err
	})
	if !remote.IsOffline(err) {
		t.Errorf("Do() while OFFLINE err = %v, want ErrOffline", err)
	}
	if *calls != 0 {
		t.Errorf("calls while OFFLINE = %d, want 0", *calls)
	}
}

func TestInvokeDoesNotRetrySchemaOrFatal(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"schema", remote.Schema("mark", remote.ErrColumnNotFound)},
		{"fatal", remote.Fatal("mark", errors.New("403"))},
		{"unclassified", errors.New("boom")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv, m, _ := newTestInvoker(t, 0)
			fn, calls := script(tt.err, tt.err)

			_, err := Invoke(context.Background(), inv, "mark", fn)
			if !errors.Is(err, tt.err) {
				t.Errorf("Invoke() err = %v, want %v", err, tt.err)
			}
			if *calls != 1 {
				t.Errorf("calls = %d, want 1", *calls)
			}
			if !m.Online() {
				t.Error("non-transient errors must not trip the breaker")
			}
		})
	}
}

func TestInvokeCancelledDuringBackoff(t *testing.T) {
	inv, _, _ := newTestInvoker(t, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())

	fn, calls := script(remote.Transient("get", errors.New("503")))
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := Invoke(ctx, inv, "get", fn)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Invoke() err = %v, want context.Canceled", err)
	}
	if *calls != 1 {
		t.Errorf("calls = %d, want 1", *calls)
	}
}
