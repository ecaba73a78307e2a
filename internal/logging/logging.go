// Package logging builds the operational log: one rotating file shared by
// every component, each writing through its own prefixed *log.Logger.
//
// Detailed errors belong here. The scan loop only prints terse status lines.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configure the operational log.
type Options struct {
	// Path of the log file. Empty disables the file.
	Path string

	// Rotation settings (defaults 10 MB, 5 backups, 28 days, compressed).
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool

	// Verbose also copies every line to Stderr.
	Verbose bool
	Stderr  io.Writer
}

// DefaultOptions returns rotation defaults for path.
func DefaultOptions(path string) Options {
	return Options{
		Path:       path,
		MaxSizeMB:  10,
		MaxBackups: 5,
		MaxAgeDays: 28,
		Compress:   true,
		Stderr:     os.Stderr,
	}
}

// Logging owns the shared log writer.
type Logging struct {
	out    io.Writer
	closer io.Closer
}

// New opens the log file (creating its directory) and returns the shared
// writer.
func New(opts Options) (*Logging, error) {
	var writers []io.Writer
	var closer io.Closer

	if opts.Path != "" {
		if err := os.MkdirAll(filepath.Dir(opts.Path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		w := &closeGuard{w: &lumberjack.Logger{
			Filename:   opts.Path,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   opts.Compress,
		}}
		writers = append(writers, w)
		closer = w
	}
	if opts.Verbose {
		stderr := opts.Stderr
		if stderr == nil {
			stderr = os.Stderr
		}
		writers = append(writers, stderr)
	}

	var out io.Writer
	switch len(writers) {
	case 0:
		out = io.Discard
	case 1:
		out = writers[0]
	default:
		out = io.MultiWriter(writers...)
	}
	return &Logging{out: out, closer: closer}, nil
}

// Discard returns a Logging that drops everything.
func Discard() *Logging {
	return &Logging{out: io.Discard}
}

// Component returns a logger prefixed with [name].
func (l *Logging) Component(name string) *log.Logger {
	return log.New(l.out, "["+name+"] ", log.LstdFlags)
}

// Writer returns the shared writer.
func (l *Logging) Writer() io.Writer {
	return l.out
}

// Close flushes and closes the log file. Later writes are rejected instead
// of silently reopening the file.
func (l *Logging) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

// closeGuard stops lumberjack from reopening its file on Write after Close.
type closeGuard struct {
	w io.WriteCloser

	mu     sync.Mutex
	closed bool
}

func (c *closeGuard) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, io.ErrClosedPipe
	}
	return c.w.Write(p)
}

func (c *closeGuard) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.w.Close()
}
