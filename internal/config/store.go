package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// Store is the persistent side of the configuration: it hands out the pin
// assignment and home pulses read at startup and writes calibrated home
// pulses back to the YAML file.
type Store struct {
	mu   sync.Mutex
	path string // empty = in-memory only
	cfg  *Config
}

// NewStore wraps cfg. If path is empty, Persist is a no-op.
func NewStore(path string, cfg *Config) *Store {
	return &Store{path: path, cfg: cfg}
}

// Pins returns the pin assignment of the four channels.
func (s *Store) Pins() [4]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Servos.Pins
}

// HomePulses returns the calibrated home pulse widths.
func (s *Store) HomePulses() [4]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Servos.HomePulses
}

// SetHomePulses replaces the home pulse widths in memory.
func (s *Store) SetHomePulses(p [4]int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.Servos.HomePulses = p
}

// Config returns a copy of the current configuration.
func (s *Store) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.cfg
}

// Persist writes the configuration back to its file. The write goes to a
// temporary file in the same directory which is then renamed over the
// original.
func (s *Store) Persist() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return nil
	}

	data, err := yaml.Marshal(s.cfg)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}

	mode := os.FileMode(0o644)
	if fi, err := os.Stat(s.path); err == nil {
		mode = fi.Mode().Perm()
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".ottogo-*.yaml")
	if err != nil {
		return fmt.Errorf("create temp config: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp config: %w", err)
	}
	// CreateTemp makes the file 0600; keep the config's own mode.
	if err := tmp.Chmod(mode); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod temp config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp config: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace config: %w", err)
	}
	return nil
}
