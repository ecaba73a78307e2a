package daemon

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// SpoolWatcher is a token source fed by files dropped into a directory.
// Each non-empty line of a file is one decoded token. Consumed files are
// removed. Writers should create files under a temporary name (".tmp",
// ".part" or a leading dot) and rename them into place.
type SpoolWatcher struct {
	dir    string
	logger *log.Logger
}

// NewSpoolWatcher creates the spool directory if needed.
func NewSpoolWatcher(dir string, logger *log.Logger) (*SpoolWatcher, error) {
	if dir == "" {
		return nil, fmt.Errorf("spool directory cannot be empty")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create spool directory: %w", err)
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[spool] ", log.LstdFlags)
	}
	return &SpoolWatcher{dir: dir, logger: logger}, nil
}

// Dir returns the watched directory.
func (s *SpoolWatcher) Dir() string {
	return s.dir
}

// Run drains files already present, then emits tokens from new files until
// ctx is done.
func (s *SpoolWatcher) Run(ctx context.Context, emit func(string)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(s.dir); err != nil {
		return fmt.Errorf("failed to watch spool directory %s: %w", s.dir, err)
	}

	if err := s.drain(emit); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			s.consume(event.Name, emit)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Printf("Watcher error: %v", err)
		}
	}
}

func (s *SpoolWatcher) drain(emit func(string)) error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("failed to read spool directory: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, name := range names {
		s.consume(filepath.Join(s.dir, name), emit)
	}
	return nil
}

func ignored(name string) bool {
	base := filepath.Base(name)
	return strings.HasPrefix(base, ".") ||
		strings.HasSuffix(base, ".tmp") ||
		strings.HasSuffix(base, ".part")
}

// consume emits the tokens in path and removes it. An empty file is left
// in place for the write that will follow.
func (s *SpoolWatcher) consume(path string, emit func(string)) {
	if ignored(path) {
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Printf("Warning: cannot read %s: %v", path, err)
		}
		return
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return
	}
	if err := os.Remove(path); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Printf("Warning: cannot remove %s: %v", path, err)
		}
		// another consumer got there first
		return
	}

	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			emit(line)
		}
	}
}
