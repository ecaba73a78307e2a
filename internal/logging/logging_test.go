package logging

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestComponentWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "attendance.log")
	var stderr bytes.Buffer
	opts := DefaultOptions(path)
	opts.Verbose = true
	opts.Stderr = &stderr

	l, err := New(opts)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	l.Component("sync").Printf("pushed %s", "A123")
	if err := l.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() failed: %v", err)
	}
	if !strings.Contains(string(data), "[sync] ") || !strings.Contains(string(data), "pushed A123") {
		t.Errorf("log file = %q", data)
	}
	if !strings.Contains(stderr.String(), "pushed A123") {
		t.Errorf("verbose copy missing: %q", stderr.String())
	}

	if _, err := l.Writer().Write([]byte("late\n")); err == nil {
		t.Error("Write() after Close should fail")
	}
	if err := l.Close(); err != nil {
		t.Errorf("second Close() failed: %v", err)
	}
}

func TestNoFile(t *testing.T) {
	l, err := New(Options{})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if l.Writer() != io.Discard {
		t.Error("Writer() without path or verbose should discard")
	}
	l.Component("x").Print("dropped")
	if err := l.Close(); err != nil {
		t.Errorf("Close() failed: %v", err)
	}
	Discard().Component("y").Print("dropped")
}
