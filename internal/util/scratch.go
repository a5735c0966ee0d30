package util

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Scratch tracks temporary files created during a single call so they can be released
// together. Cleanup is idempotent and is meant to be deferred right after construction.
type Scratch struct {
	dir string

	mu    sync.Mutex
	paths []string
}

// NewScratch returns a Scratch that creates files under dir, or os.TempDir() when dir is empty.
func NewScratch(dir string) *Scratch {
	if strings.TrimSpace(dir) == "" {
		dir = os.TempDir()
	}
	return &Scratch{dir: dir}
}

// Dir returns the directory new scratch files are created in.
func (s *Scratch) Dir() string {
	return s.dir
}

// Create opens a new empty file whose name ends with suffix. The file is tracked for cleanup.
func (s *Scratch) Create(suffix string) (*os.File, error) {
	suffix = filepath.Base(strings.TrimSpace(suffix))
	if suffix == "." || suffix == string(filepath.Separator) {
		suffix = ""
	}
	name := uuid.NewString()
	if suffix != "" {
		name += "-" + suffix
	}
	path := filepath.Join(s.dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("create scratch file: %w", err)
	}
	s.Track(path)
	return f, nil
}

// Path reserves a tracked path in the scratch directory without creating the file.
func (s *Scratch) Path(name string) string {
	path := filepath.Join(s.dir, name)
	s.Track(path)
	return path
}

// Track registers an externally created path for cleanup.
func (s *Scratch) Track(path string) {
	s.mu.Lock()
	s.paths = append(s.paths, path)
	s.mu.Unlock()
}

// Paths returns a copy of the tracked paths in creation order.
func (s *Scratch) Paths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.paths...)
}

// Cleanup removes every tracked path. Missing files are not an error.
func (s *Scratch) Cleanup() error {
	s.mu.Lock()
	paths := s.paths
	s.paths = nil
	s.mu.Unlock()

	var errs []error
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
