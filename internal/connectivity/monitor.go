// Package connectivity tracks whether the remote store is usable and wraps
// every remote call in a bounded retry policy.
//
// # States
//
// The Monitor is a two-state machine:
//
//	OFFLINE --probe ok--> ONLINE --retries exhausted / failure threshold--> OFFLINE
//
// Only a probe moves the system back ONLINE. Probes are rate limited to one
// per ProbeInterval; ForceProbe bypasses the limit once for the operator's
// manual resync. A monitor starts OFFLINE, so the first successful probe is
// a transition and triggers OnReconnect like any other reconnect.
//
// # Usage Examples
//
//	mon, _ := connectivity.NewMonitor(probe, &connectivity.Config{
//	    ProbeInterval:    30 * time.Second,
//	    FailureThreshold: 3,
//	    OnReconnect:      coordinator.ReplayAll,
//	})
//	inv, _ := connectivity.NewInvoker(mon, nil)
//
//	headers, err := connectivity.Invoke(ctx, inv, "get headers", func(ctx context.Context) ([]string, error) {
//	    return store.GetHeaders(ctx, table)
//	})
package connectivity

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/coder/quartz"
	"golang.org/x/sync/singleflight"

	"github.com/rollcall-dev/rollcall/internal/remote"
)

// State is the connectivity state.
type State int

const (
	Offline State = iota
	Online
)

func (s State) String() string {
	if s == Online {
		return "ONLINE"
	}
	return "OFFLINE"
}

// ProbeFunc re-establishes the remote session and verifies the required
// tables exist. It is the only remote call allowed while OFFLINE.
type ProbeFunc func(ctx context.Context) error

// Config holds configuration for the monitor.
type Config struct {
	// ProbeInterval is the minimum time between two probes from Check.
	ProbeInterval time.Duration

	// FailureThreshold is the number of consecutive swallowed failures
	// after which RecordFailure forces OFFLINE.
	FailureThreshold int

	// OnReconnect runs once per OFFLINE to ONLINE transition, on the
	// goroutine that performed the successful probe.
	OnReconnect func(ctx context.Context)

	// OnStateChange observes every transition. It must not block.
	OnStateChange func(from, to State)

	Clock  quartz.Clock
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		ProbeInterval:    30 * time.Second,
		FailureThreshold: 3,
		Clock:            quartz.NewReal(),
		Logger:           log.New(os.Stderr, "[connectivity] ", log.LstdFlags),
	}
}

// Snapshot is a point-in-time view of the monitor.
type Snapshot struct {
	State               State     `json:"-" yaml:"-"`
	StateName           string    `json:"state" yaml:"state"`
	ConsecutiveFailures int       `json:"consecutive_failures" yaml:"consecutive_failures"`
	LastProbeAt         time.Time `json:"last_probe_at" yaml:"last_probe_at"`
	LastError           string    `json:"last_error,omitempty" yaml:"last_error,omitempty"`
	Probes              int       `json:"probes" yaml:"probes"`
	Reconnects          int       `json:"reconnects" yaml:"reconnects"`
}

// Monitor is the process-wide ONLINE/OFFLINE state holder.
type Monitor struct {
	probe  ProbeFunc
	config *Config

	mu             sync.RWMutex
	state          State
	failures       int
	lastProbeAt    time.Time
	nextProbeAfter time.Time
	lastErr        error
	probes         int
	reconnects     int

	flight singleflight.Group
}

// NewMonitor creates an OFFLINE monitor around probe.
func NewMonitor(probe ProbeFunc, config *Config) (*Monitor, error) {
	if probe == nil {
		return nil, fmt.Errorf("probe cannot be nil")
	}
	def := DefaultConfig()
	if config == nil {
		config = def
	}
	cfg := *config
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = def.ProbeInterval
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.Clock == nil {
		cfg.Clock = def.Clock
	}
	if cfg.Logger == nil {
		cfg.Logger = def.Logger
	}
	return &Monitor{probe: probe, config: &cfg, state: Offline}, nil
}

// State returns the last known state without probing.
func (m *Monitor) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Online reports whether remote calls may be attempted.
func (m *Monitor) Online() bool {
	return m.State() == Online
}

// Check returns the current state, probing first when OFFLINE and the last
// probe is at least ProbeInterval old.
func (m *Monitor) Check(ctx context.Context) State {
	m.mu.RLock()
	state, next := m.state, m.nextProbeAfter
	m.mu.RUnlock()

	if state == Online {
		return Online
	}
	if m.config.Clock.Now().Before(next) {
		return Offline
	}
	return m.runProbe(ctx)
}

// ForceProbe probes immediately regardless of state or rate limit.
func (m *Monitor) ForceProbe(ctx context.Context) State {
	return m.runProbe(ctx)
}

// runProbe collapses concurrent probes into one. The transition, and with
// it OnReconnect, is observed only by the goroutine executing the probe.
func (m *Monitor) runProbe(ctx context.Context) State {
	v, _, _ := m.flight.Do("probe", func() (interface{}, error) {
		err := m.probe(ctx)
		if remote.IsCanceled(err) {
			// an interrupted probe proves nothing either way
			return m.State(), nil
		}

		m.mu.Lock()
		from := m.state
		now := m.config.Clock.Now()
		m.probes++
		m.lastProbeAt = now
		m.nextProbeAfter = now.Add(m.config.ProbeInterval)
		m.lastErr = err
		if err != nil {
			m.state = Offline
		} else {
			m.state = Online
			m.failures = 0
			if from == Offline {
				m.reconnects++
			}
		}
		to := m.state
		m.mu.Unlock()

		if err != nil {
			m.config.Logger.Printf("Probe failed: %v", err)
		}
		if from != to {
			m.transitioned(from, to)
			if to == Online && m.config.OnReconnect != nil {
				m.config.OnReconnect(ctx)
			}
		}
		return to, nil
	})
	return v.(State)
}

func (m *Monitor) transitioned(from, to State) {
	m.config.Logger.Printf("Connectivity %s -> %s", from, to)
	if m.config.OnStateChange != nil {
		m.config.OnStateChange(from, to)
	}
}

// MarkOffline forces OFFLINE. The probe rate limit restarts from now, so the
// next automatic probe happens one ProbeInterval later.
func (m *Monitor) MarkOffline(reason error) {
	m.mu.Lock()
	from := m.state
	m.state = Offline
	m.nextProbeAfter = m.config.Clock.Now().Add(m.config.ProbeInterval)
	if reason != nil {
		m.lastErr = reason
	}
	m.mu.Unlock()

	if from == Online {
		m.config.Logger.Printf("Switching to offline mode: %v", reason)
		m.transitioned(from, Offline)
	}
}

// RecordFailure counts one swallowed remote failure and forces OFFLINE once
// FailureThreshold consecutive failures have been seen.
func (m *Monitor) RecordFailure(err error) State {
	m.mu.Lock()
	m.failures++
	if err != nil {
		m.lastErr = err
	}
	trip := m.failures >= m.config.FailureThreshold && m.state == Online
	state := m.state
	m.mu.Unlock()

	if trip {
		m.MarkOffline(fmt.Errorf("%d consecutive failures: %w", m.config.FailureThreshold, err))
		return Offline
	}
	return state
}

// ResetFailures clears the consecutive failure counter.
func (m *Monitor) ResetFailures() {
	m.mu.Lock()
	m.failures = 0
	m.mu.Unlock()
}

// Snapshot returns the current state and counters.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := Snapshot{
		State:               m.state,
		StateName:           m.state.String(),
		ConsecutiveFailures: m.failures,
		LastProbeAt:         m.lastProbeAt,
		Probes:              m.probes,
		Reconnects:          m.reconnects,
	}
	if m.lastErr != nil {
		s.LastError = m.lastErr.Error()
	}
	return s
}
