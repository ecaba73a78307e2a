package connectivity

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/coder/quartz"
)

// fakeProbe returns queued results in order and then nil.
type fakeProbe struct {
	mu      sync.Mutex
	results []error
	calls   int
}

func (p *fakeProbe) fail(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := 0; i < n; i++ {
		p.results = append(p.results, errors.New("unreachable"))
	}
}

func (p *fakeProbe) probe(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if len(p.results) == 0 {
		return nil
	}
	err := p.results[0]
	p.results = p.results[1:]
	return err
}

func (p *fakeProbe) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func newTestMonitor(t *testing.T, clk quartz.Clock, p *fakeProbe, onReconnect func(context.Context)) *Monitor {
	t.Helper()
	m, err := NewMonitor(p.probe, &Config{
		ProbeInterval:    30 * time.Second,
		FailureThreshold: 3,
		OnReconnect:      onReconnect,
		Clock:            clk,
		Logger:           log.New(io.Discard, "", 0),
	})
	if err != nil {
		t.Fatalf("NewMonitor() failed: %v", err)
	}
	return m
}

func TestMonitorStartsOffline(t *testing.T) {
	clk := quartz.NewMock(t)
	reconnects := 0
	p := &fakeProbe{}
	m := newTestMonitor(t, clk, p, func(context.Context) { reconnects++ })

	if m.Online() {
		t.Fatal("new monitor should be OFFLINE")
	}
	if got := m.Check(context.Background()); got != Online {
		t.Fatalf("Check() = %v, want ONLINE", got)
	}
	if reconnects != 1 {
		t.Errorf("OnReconnect ran %d times, want 1", reconnects)
	}

	// ONLINE checks never probe
	m.Check(context.Background())
	m.Check(context.Background())
	if p.count() != 1 {
		t.Errorf("probe ran %d times, want 1", p.count())
	}
}

func TestMonitorRateLimit(t *testing.T) {
	clk := quartz.NewMock(t)
	ctx := context.Background()
	reconnects := 0
	p := &fakeProbe{}
	p.fail(2)
	m := newTestMonitor(t, clk, p, func(context.Context) { reconnects++ })

	if got := m.Check(ctx); got != Offline {
		t.Fatalf("Check() = %v, want OFFLINE", got)
	}

	clk.Advance(10 * time.Second)
	m.Check(ctx)
	if p.count() != 1 {
		t.Fatalf("Check() within the interval probed again (%d probes)", p.count())
	}

	clk.Advance(20 * time.Second)
	if got := m.Check(ctx); got != Offline {
		t.Fatalf("Check() = %v, want OFFLINE (second queued failure)", got)
	}
	if p.count() != 2 {
		t.Fatalf("probe count = %d, want 2", p.count())
	}

	// the operator trigger bypasses the limit
	if got := m.ForceProbe(ctx); got != Online {
		t.Fatalf("ForceProbe() = %v, want ONLINE", got)
	}
	if reconnects != 1 {
		t.Errorf("OnReconnect ran %d times, want 1", reconnects)
	}

	// a forced probe while ONLINE is not a transition
	m.ForceProbe(ctx)
	if reconnects != 1 {
		t.Errorf("OnReconnect ran %d times after ONLINE probe, want 1", reconnects)
	}

	snap := m.Snapshot()
	if snap.Probes != 4 || snap.Reconnects != 1 || snap.StateName != "ONLINE" {
		t.Errorf("Snapshot() = %+v", snap)
	}
}

func TestMonitorFailureThreshold(t *testing.T) {
	clk := quartz.NewMock(t)
	ctx := context.Background()
	p := &fakeProbe{}
	var transitions []State
	m, err := NewMonitor(p.probe, &Config{
		ProbeInterval:    30 * time.Second,
		FailureThreshold: 3,
		OnStateChange:    func(from, to State) { transitions = append(transitions, to) },
		Clock:            clk,
		Logger:           log.New(io.Discard, "", 0),
	})
	if err != nil {
		t.Fatalf("NewMonitor() failed: %v", err)
	}
	m.Check(ctx)

	boom := errors.New("boom")
	m.RecordFailure(boom)
	m.RecordFailure(boom)
	m.ResetFailures()
	m.RecordFailure(boom)
	m.RecordFailure(boom)
	if !m.Online() {
		t.Fatal("failures below the threshold must not trip the breaker")
	}
	if got := m.RecordFailure(boom); got != Offline {
		t.Fatalf("RecordFailure() = %v, want OFFLINE", got)
	}
	if m.Snapshot().LastError == "" {
		t.Error("Snapshot() should carry the last error")
	}

	// MarkOffline restarts the probe timer
	clk.Advance(29 * time.Second)
	m.Check(ctx)
	if p.count() != 1 {
		t.Errorf("probe count = %d, want 1", p.count())
	}
	clk.Advance(time.Second)
	if got := m.Check(ctx); got != Online {
		t.Errorf("Check() = %v, want ONLINE", got)
	}

	want := []State{Online, Offline, Online}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transitions = %v, want %v", transitions, want)
		}
	}
}

func TestMarkOfflineKeepsSnapshotTime(t *testing.T) {
	clk := quartz.NewMock(t)
	ctx := context.Background()
	p := &fakeProbe{}
	m := newTestMonitor(t, clk, p, nil)

	m.Check(ctx)
	probedAt := clk.Now()
	clk.Advance(10 * time.Second)
	m.MarkOffline(errors.New("quota exceeded"))

	snap := m.Snapshot()
	if !snap.LastProbeAt.Equal(probedAt) || snap.Probes != 1 {
		t.Errorf("Snapshot() after MarkOffline = %+v, want last probe at %v", snap, probedAt)
	}

	// the rate limit still runs from the forced transition
	clk.Advance(29 * time.Second)
	m.Check(ctx)
	if p.count() != 1 {
		t.Errorf("probe count = %d, want 1", p.count())
	}
	clk.Advance(time.Second)
	if got := m.Check(ctx); got != Online {
		t.Errorf("Check() = %v, want ONLINE", got)
	}
}

func TestCancelledReconnectKeepsState(t *testing.T) {
	clk := quartz.NewMock(t)
	ctx := context.Background()
	var transitions []State
	p := &fakeProbe{}
	m, err := NewMonitor(p.probe, &Config{
		ProbeInterval:    30 * time.Second,
		FailureThreshold: 3,
		OnStateChange:    func(from, to State) { transitions = append(transitions, to) },
		Clock:            clk,
		Logger:           log.New(io.Discard, "", 0),
	})
	if err != nil {
		t.Fatalf("NewMonitor() failed: %v", err)
	}
	m.Check(ctx)

	p.results = append(p.results, fmt.Errorf("connect: %w", context.Canceled))
	if got := m.ForceProbe(ctx); got != Online {
		t.Errorf("ForceProbe() = %v, want ONLINE", got)
	}
	if snap := m.Snapshot(); snap.Probes != 1 || snap.LastError != "" {
		t.Errorf("Snapshot() = %+v, want the cancelled probe ignored", snap)
	}
	if len(transitions) != 1 {
		t.Errorf("transitions = %v, want only the first reconnect", transitions)
	}
}

func TestNewMonitorRequiresProbe(t *testing.T) {
	if _, err := NewMonitor(nil, nil); err == nil {
		t.Error("NewMonitor(nil) should fail")
	}
}
