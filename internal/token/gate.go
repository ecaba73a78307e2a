package token

import (
	"sync"
	"time"

	"github.com/coder/quartz"
)

// Gate enforces the per-identifier cooldown. Only admitted scans refresh
// the window, so holding a token in front of the camera does not extend it.
type Gate struct {
	cooldown time.Duration
	clock    quartz.Clock

	mu   sync.Mutex
	last map[string]time.Time
}

// NewGate creates a gate. A non-positive cooldown uses DefaultCooldown.
func NewGate(cooldown time.Duration, clock quartz.Clock) *Gate {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	if clock == nil {
		clock = quartz.NewReal()
	}
	return &Gate{
		cooldown: cooldown,
		clock:    clock,
		last:     make(map[string]time.Time),
	}
}

// Admit reports whether a scan of id may be recorded now. When it may not,
// remaining is the time left in the window. When it may and id was seen
// before, elapsed is the time since the previous admitted scan.
func (g *Gate) Admit(id string) (ok bool, elapsed, remaining time.Duration) {
	now := g.clock.Now()

	g.mu.Lock()
	defer g.mu.Unlock()

	prev, seen := g.last[id]
	if seen {
		elapsed = now.Sub(prev)
		if elapsed < g.cooldown {
			return false, elapsed, g.cooldown - elapsed
		}
	}
	g.last[id] = now
	return true, elapsed, 0
}

// Forget clears the window for id.
func (g *Gate) Forget(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.last, id)
}

// Cooldown returns the configured window.
func (g *Gate) Cooldown() time.Duration {
	return g.cooldown
}
