package token

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/coder/quartz"
)

func TestGate(t *testing.T) {
	clk := quartz.NewMock(t)
	clk.Set(time.Date(2026, time.March, 7, 9, 0, 0, 0, time.Local))
	g := NewGate(0, clk)

	if g.Cooldown() != 18*time.Second {
		t.Fatalf("Cooldown() = %v, want the 18s default", g.Cooldown())
	}

	ok, elapsed, _ := g.Admit("A123")
	if !ok || elapsed != 0 {
		t.Fatalf("first Admit() = %v, %v", ok, elapsed)
	}

	// 09:00:05 inside the window
	clk.Advance(5 * time.Second)
	ok, _, remaining := g.Admit("A123")
	if ok || remaining != 13*time.Second {
		t.Fatalf("Admit() at +5s = %v, remaining %v", ok, remaining)
	}

	// other identifiers are independent
	if ok, _, _ := g.Admit("B7"); !ok {
		t.Error("Admit(B7) should pass")
	}

	// 09:00:25; the suppressed scan did not extend the window
	clk.Advance(20 * time.Second)
	ok, elapsed, _ = g.Admit("A123")
	if !ok || elapsed != 25*time.Second {
		t.Fatalf("Admit() at +25s = %v, elapsed %v", ok, elapsed)
	}

	g.Forget("A123")
	if ok, elapsed, _ := g.Admit("A123"); !ok || elapsed != 0 {
		t.Errorf("Admit() after Forget() = %v, %v", ok, elapsed)
	}
}

func TestLineSource(t *testing.T) {
	src := NewLineSource(strings.NewReader("A123\r\n\n  B7 \nC9"))
	var got []string
	if err := src.Run(context.Background(), func(s string) { got = append(got, s) }); err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	want := []string{"A123", "", "  B7 ", "C9"}
	if len(got) != len(want) {
		t.Fatalf("Run() emitted %q, want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("token %d = %q, want %q", i, got[i], want[i])
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	n := 0
	NewLineSource(strings.NewReader("a\nb\n")).Run(ctx, func(string) { n++ })
	if n != 0 {
		t.Errorf("Run() with cancelled context emitted %d tokens", n)
	}
}

func TestResultMessage(t *testing.T) {
	tests := []struct {
		r    Result
		want string
	}{
		{Result{Kind: FirstScan, ID: "A1", Timestamp: "09:00:00"}, "A1 checked in at 09:00:00"},
		{Result{Kind: RepeatScan, ID: "A1", Timestamp: "09:00:25", Elapsed: 25 * time.Second}, "A1 scanned again at 09:00:25 (25s since last)"},
		{Result{Kind: Cooldown, ID: "A1", Remaining: 13 * time.Second}, "A1 already scanned, wait 13s"},
		{Result{Kind: Error, ID: "A1"}, "could not record A1"},
		{Result{Kind: Ignored}, ""},
	}
	for _, tt := range tests {
		if got := tt.r.Message(); got != tt.want {
			t.Errorf("%s Message() = %q, want %q", tt.r.Kind, got, tt.want)
		}
	}
}
