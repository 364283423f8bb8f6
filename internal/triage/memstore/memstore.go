// Package memstore provides an in-memory implementation of triage.Store.
package memstore

import (
	"context"
	"iter"
	"sort"
	"sync"
	"time"

	"github.com/linnemanlabs/hyperstream/internal/alert"
	"github.com/linnemanlabs/hyperstream/internal/triage"
)

// Store holds alerts in memory. Suitable for dev/testing and for
// deployments where durability is handled by an upstream audit log.
type Store struct {
	mu     sync.RWMutex
	alerts map[alert.Identity]*alert.Alert
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{
		alerts: make(map[alert.Identity]*alert.Alert),
	}
}

// Put inserts a copy of the alert, assigning server-side defaults.
func (s *Store) Put(_ context.Context, a *alert.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := a.Identity()
	if _, ok := s.alerts[id]; ok {
		return triage.ErrConflict
	}

	cp := a.Clone()
	if cp.ReviewState == "" {
		cp.ReviewState = alert.StateOpen
	}
	if cp.IngestedAt.IsZero() {
		cp.IngestedAt = time.Now().UTC()
	}
	s.alerts[id] = cp
	return nil
}

// Get retrieves an alert by identity. Returns a copy.
func (s *Store) Get(_ context.Context, id alert.Identity) (*alert.Alert, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.alerts[id]
	if !ok {
		return nil, false, nil
	}
	return a.Clone(), true, nil
}

// Query yields copies of matching alerts ordered by sensor then ts.
// Each range re-executes against current state.
func (s *Store) Query(_ context.Context, f triage.Filter) iter.Seq2[*alert.Alert, error] {
	return func(yield func(*alert.Alert, error) bool) {
		for _, a := range s.snapshot(f) {
			if !yield(a, nil) {
				return
			}
		}
	}
}

// Update atomically applies the mutation under the store lock, so a
// concurrent Get never observes a half-applied transition.
func (s *Store) Update(_ context.Context, id alert.Identity, m triage.Mutation) (*alert.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.alerts[id]
	if !ok {
		return nil, triage.ErrNotFound
	}

	cp := a.Clone()
	if err := m.Apply(cp); err != nil {
		return nil, err
	}
	s.alerts[id] = cp
	return cp.Clone(), nil
}

func (s *Store) snapshot(f triage.Filter) []*alert.Alert {
	s.mu.RLock()
	matched := make([]*alert.Alert, 0)
	for _, a := range s.alerts {
		if f.Match(a) {
			matched = append(matched, a.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].SensorID != matched[j].SensorID {
			return matched[i].SensorID < matched[j].SensorID
		}
		return matched[i].TS < matched[j].TS
	})
	return matched
}
