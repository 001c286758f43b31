// Package memory provides an in-memory state.Store, used by tests and by
// deployments that do not need configuration to survive restarts.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/marmos91/dittofab/pkg/store/state"
)

// MemoryStateStore implements state.Store with a plain map.
type MemoryStateStore struct {
	mu      sync.RWMutex
	records map[string]*state.TargetRecord
	closed  bool
}

// NewMemoryStateStore creates an empty store.
func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{
		records: make(map[string]*state.TargetRecord),
	}
}

// SaveTarget writes rec, replacing any previous record with the same name.
func (s *MemoryStateStore) SaveTarget(_ context.Context, rec *state.TargetRecord) error {
	if rec == nil || rec.Name == "" {
		return fmt.Errorf("cannot save record without a target name")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("state store is closed")
	}

	// Copy so later mutation of the caller's record cannot alias stored
	// state.
	cp := *rec
	cp.Transports = append([]state.TransportRecord(nil), rec.Transports...)
	cp.Subsystems = append([]state.SubsystemRecord(nil), rec.Subsystems...)
	cp.Listeners = append([]state.ListenerRecord(nil), rec.Listeners...)
	s.records[rec.Name] = &cp
	return nil
}

// LoadTarget reads the record for the named target.
func (s *MemoryStateStore) LoadTarget(_ context.Context, name string) (*state.TargetRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[name]
	if !ok {
		return nil, state.ErrNotFound
	}

	cp := *rec
	cp.Transports = append([]state.TransportRecord(nil), rec.Transports...)
	cp.Subsystems = append([]state.SubsystemRecord(nil), rec.Subsystems...)
	cp.Listeners = append([]state.ListenerRecord(nil), rec.Listeners...)
	return &cp, nil
}

// DeleteTarget removes the named record.
func (s *MemoryStateStore) DeleteTarget(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[name]; !ok {
		return state.ErrNotFound
	}
	delete(s.records, name)
	return nil
}

// ListTargets returns the stored target names, sorted for deterministic
// output.
func (s *MemoryStateStore) ListTargets(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.records))
	for name := range s.records {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Close marks the store closed.
func (s *MemoryStateStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
