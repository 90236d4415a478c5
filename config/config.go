// Package config loads masking rules from a YAML file and exposes them
// through a hot-reloadable snapshot held behind an atomic pointer rather
// than a mutex-guarded struct: readers never block behind a reloading
// writer. The proxy reads the current Snapshot once per accepted
// connection; a reload does not change the rules of connections that
// are already open.
package config

import (
	"fmt"
	"os"
	"sync/atomic"

	"gopkg.in/yaml.v3"

	"github.com/nwiizo/pgveil/rules"
)

// Snapshot is an immutable view of the configured masking rules. A new
// Snapshot is built and swapped in wholesale on reload; nothing ever
// mutates one in place.
type Snapshot struct {
	Rules []rules.MaskingRule `yaml:"rules"`
}

// ConfigSnapshot is the read-side interface the proxy depends on. Store
// and any test double both satisfy it.
type ConfigSnapshot interface {
	Current() *Snapshot
}

// Store holds the live Snapshot behind an atomic pointer so Current
// never takes a lock and Reload never blocks a reader mid-read.
type Store struct {
	current atomic.Pointer[Snapshot]
}

// NewStore returns a Store seeded with snap.
func NewStore(snap *Snapshot) *Store {
	s := &Store{}
	s.current.Store(snap)
	return s
}

// Current returns the most recently loaded Snapshot.
func (s *Store) Current() *Snapshot {
	return s.current.Load()
}

// Reload re-reads path and swaps it in atomically. On error the
// previously loaded Snapshot remains current.
func (s *Store) Reload(path string) error {
	snap, err := Load(path)
	if err != nil {
		return err
	}
	s.current.Store(snap)
	return nil
}

// Load reads and parses a YAML masking-rules file at path.
func Load(path string) (*Snapshot, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var snap Snapshot
	if err := yaml.Unmarshal(content, &snap); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return &snap, nil
}
