// Package memory provides an in-memory run ledger used for tests and
// ephemeral environments.
package memory

import (
	"context"
	"dispensecore/pkg/domain"
	"errors"
	"sort"
	"sync"
)

// Compile-time contract assertion ensuring memory.Store adheres to the domain ledger interface.
var _ domain.RunStore = (*Store)(nil)

// ErrClosed is returned by every operation after Close.
var ErrClosed = errors.New("memory store closed")

// Store keeps runs in a map guarded by a RWMutex. Runs are cloned on the way
// in and out so callers never share slices or maps with the store.
type Store struct {
	mu     sync.RWMutex
	runs   map[string]domain.Run
	closed bool
}

// NewStore constructs an empty in-memory ledger.
func NewStore() *Store {
	return &Store{runs: make(map[string]domain.Run)}
}

// SaveRun inserts or replaces the run keyed by its ID.
func (s *Store) SaveRun(_ context.Context, run domain.Run) error {
	if run.ID == "" {
		return errors.New("run id required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.runs[run.ID] = run.Clone()
	return nil
}

// GetRun returns a copy of the stored run.
func (s *Store) GetRun(_ context.Context, id string) (domain.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return domain.Run{}, ErrClosed
	}
	run, ok := s.runs[id]
	if !ok {
		return domain.Run{}, domain.ErrRunNotFound{ID: id}
	}
	return run.Clone(), nil
}

// ListRuns returns copies of every run, newest first.
func (s *Store) ListRuns(_ context.Context) ([]domain.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	out := make([]domain.Run, 0, len(s.runs))
	for _, run := range s.runs {
		out = append(out, run.Clone())
	}
	SortNewestFirst(out)
	return out, nil
}

// DeleteRun removes the run and reports whether it existed.
func (s *Store) DeleteRun(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrClosed
	}
	if _, ok := s.runs[id]; !ok {
		return false, nil
	}
	delete(s.runs, id)
	return true, nil
}

// Close marks the store unusable.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// SortNewestFirst orders runs by start time descending, breaking ties by ID
// descending so the order matches the SQL backends.
func SortNewestFirst(runs []domain.Run) {
	sort.SliceStable(runs, func(i, j int) bool {
		if !runs[i].StartedAt.Equal(runs[j].StartedAt) {
			return runs[i].StartedAt.After(runs[j].StartedAt)
		}
		return runs[i].ID > runs[j].ID
	})
}
