// Package memstore is an in-process persistence adapter. Contents do not
// survive a restart.
package memstore

import (
	"context"
	"sync"

	"conductor/internal/domain"
)

type record struct {
	data  []byte
	index domain.IndexRecord
}

// Store keeps entries in a map.
type Store struct {
	mu      sync.RWMutex
	records map[string]record
}

// New creates an empty store.
func New() *Store {
	return &Store{records: make(map[string]record)}
}

func (s *Store) Name() string { return "memory" }

func (s *Store) Save(_ context.Context, id string, data []byte, index domain.IndexRecord) error {
	buf := make([]byte, len(data))
	copy(buf, data)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[id] = record{data: buf, index: index}
	return nil
}

func (s *Store) Load(_ context.Context, id string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	if !ok {
		return nil, false, nil
	}
	buf := make([]byte, len(r.data))
	copy(buf, r.data)
	return buf, true, nil
}

func (s *Store) Delete(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[id]; !ok {
		return false, nil
	}
	delete(s.records, id)
	return true, nil
}

func (s *Store) ListIndex(_ context.Context) ([]domain.IndexRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.IndexRecord, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r.index)
	}
	return out, nil
}

var _ domain.PersistenceAdapter = (*Store)(nil)
