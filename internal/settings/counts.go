package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"
)

// Counts are the lifetime totals kept across restarts.
type Counts struct {
	TotalCycles int        `json:"total_cycles"`
	TotalRuns   int        `json:"total_runs"`
	LastRunAt   *time.Time `json:"last_run_at,omitempty"`
}

// CountsStore guards the counts file. Safe for concurrent use.
type CountsStore struct {
	mu   sync.Mutex
	path string
	c    Counts
}

// NewCountsStore returns an empty counter bound to path.
func NewCountsStore(path string) *CountsStore {
	return &CountsStore{path: path}
}

// Load reads the counts file. A missing file means zero counts.
func (s *CountsStore) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.c = Counts{}
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: read %s: %w", ErrPersistence, s.path, err)
	}
	if err := json.Unmarshal(data, &s.c); err != nil {
		s.c = Counts{}
		return fmt.Errorf("%w: parse %s: %w", ErrPersistence, s.path, err)
	}
	return nil
}

// Counts returns the current totals.
func (s *CountsStore) Counts() Counts {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.c
}

// RecordRun adds a finished run of cycles to the totals and persists them.
func (s *CountsStore) RecordRun(cycles int, at time.Time) (Counts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.c.TotalRuns++
	s.c.TotalCycles += cycles
	at = at.UTC()
	s.c.LastRunAt = &at
	return s.c, save(s.path, s.c)
}

// Save persists the current totals.
func (s *CountsStore) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return save(s.path, s.c)
}
