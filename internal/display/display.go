// Package display renders scan results and connectivity status.
package display

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/rollcall-dev/rollcall/internal/token"
)

// Status is the engine state shown next to every result.
type Status struct {
	State    string `json:"state"`
	Pending  int    `json:"pending"`
	Unsynced int    `json:"unsynced"`
	Message  string `json:"message,omitempty"`
}

// Surface renders results for the operator. Implementations must not block
// the scan loop.
type Surface interface {
	ShowResult(r token.Result)
	ShowStatus(s Status)
}

// Multi fans out to several surfaces.
type Multi []Surface

func (m Multi) ShowResult(r token.Result) {
	for _, s := range m {
		s.ShowResult(r)
	}
}

func (m Multi) ShowStatus(s Status) {
	for _, surface := range m {
		surface.ShowStatus(s)
	}
}

// Terminal writes one colored line per result: green for a first scan,
// orange for a repeat, red for cooldown and errors.
type Terminal struct {
	mu sync.Mutex
	w  io.Writer

	first, repeat, alert, online, offline, dim lipgloss.Style
}

// NewTerminal renders to w with the color profile detected from the
// environment.
func NewTerminal(w io.Writer) *Terminal {
	profile := termenv.Ascii
	if f, ok := w.(*os.File); ok {
		profile = termenv.NewOutput(f).EnvColorProfile()
	}
	return NewTerminalWithProfile(w, profile)
}

// NewTerminalWithProfile renders to w with a fixed color profile.
// termenv.Ascii yields plain text.
func NewTerminalWithProfile(w io.Writer, profile termenv.Profile) *Terminal {
	r := lipgloss.NewRenderer(w, termenv.WithProfile(profile))
	r.SetColorProfile(profile)

	return &Terminal{
		w:       w,
		first:   r.NewStyle().Foreground(lipgloss.Color("2")).Bold(true),
		repeat:  r.NewStyle().Foreground(lipgloss.Color("208")),
		alert:   r.NewStyle().Foreground(lipgloss.Color("1")).Bold(true),
		online:  r.NewStyle().Foreground(lipgloss.Color("2")),
		offline: r.NewStyle().Foreground(lipgloss.Color("3")).Bold(true),
		dim:     r.NewStyle().Faint(true),
	}
}

func (t *Terminal) ShowResult(r token.Result) {
	msg := r.Message()
	if msg == "" {
		return
	}

	var style lipgloss.Style
	switch r.Kind {
	case token.FirstScan:
		style = t.first
	case token.RepeatScan:
		style = t.repeat
	default:
		style = t.alert
	}

	line := style.Render(msg)
	if r.AtRisk {
		line += " " + t.alert.Render("(not saved to disk)")
	}
	if !r.Online && (r.Kind == token.FirstScan || r.Kind == token.RepeatScan) {
		line += " " + t.dim.Render("[offline, queued]")
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintln(t.w, line)
}

func (t *Terminal) ShowStatus(s Status) {
	state := t.offline.Render(s.State)
	if s.State == "ONLINE" {
		state = t.online.Render(s.State)
	}
	line := fmt.Sprintf("%s  %s", state, t.dim.Render(fmt.Sprintf("queued %d, unsynced %d", s.Pending, s.Unsynced)))
	if s.Message != "" {
		line += "  " + s.Message
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintln(t.w, line)
}
