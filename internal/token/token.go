// Package token turns decoded token payloads into scan results.
//
// A Source produces raw decoded strings (a camera decoder, a keyboard-wedge
// scanner on stdin, a spool directory). The Gate suppresses repeats of the
// same identifier inside the cooldown window before anything is recorded.
package token

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"time"
)

// DefaultCooldown is the per-identifier suppression window.
const DefaultCooldown = 18 * time.Second

// Source produces decoded token payloads until ctx is done or the input is
// exhausted.
type Source interface {
	Run(ctx context.Context, emit func(string)) error
}

// LineSource reads one token per line, the way keyboard-wedge scanners type.
type LineSource struct {
	r io.Reader
}

// NewLineSource reads tokens from r.
func NewLineSource(r io.Reader) *LineSource {
	return &LineSource{r: r}
}

// Run emits every line. It returns nil at end of input. Cancellation is
// observed between lines.
func (s *LineSource) Run(ctx context.Context, emit func(string)) error {
	sc := bufio.NewScanner(s.r)
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return nil
		}
		emit(sc.Text())
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("failed to read tokens: %w", err)
	}
	return nil
}

// Kind is the outcome of one scan as shown to the operator.
type Kind int

const (
	// Ignored means the payload was blank.
	Ignored Kind = iota
	// FirstScan is the first event for the identifier today.
	FirstScan
	// RepeatScan is a later event; Elapsed is the time since the previous.
	RepeatScan
	// Cooldown means the scan was suppressed; Remaining is the wait left.
	Cooldown
	// Error means the event could not be recorded.
	Error
)

// String returns a human-readable representation of the kind.
func (k Kind) String() string {
	switch k {
	case Ignored:
		return "ignored"
	case FirstScan:
		return "first"
	case RepeatScan:
		return "repeat"
	case Cooldown:
		return "cooldown"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalText renders the kind by name in JSON and YAML.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Result is what a Display Surface renders for one scan.
type Result struct {
	Kind      Kind          `json:"kind"`
	ID        string        `json:"id,omitempty"`
	Timestamp string        `json:"timestamp,omitempty"`
	Column    string        `json:"column,omitempty"`
	Elapsed   time.Duration `json:"elapsed,omitempty"`
	Remaining time.Duration `json:"remaining,omitempty"`
	Online    bool          `json:"online"`
	AtRisk    bool          `json:"at_risk,omitempty"`
	Err       error         `json:"-"`
}

// Message returns the terse status line for the result.
func (r Result) Message() string {
	switch r.Kind {
	case FirstScan:
		return fmt.Sprintf("%s checked in at %s", r.ID, r.Timestamp)
	case RepeatScan:
		return fmt.Sprintf("%s scanned again at %s (%s since last)", r.ID, r.Timestamp, r.Elapsed.Round(time.Second))
	case Cooldown:
		return fmt.Sprintf("%s already scanned, wait %s", r.ID, r.Remaining.Round(time.Second))
	case Error:
		return fmt.Sprintf("could not record %s", r.ID)
	default:
		return ""
	}
}
