// Package filestore persists long-term memory as one JSON document per entry
// plus an index.json file, all under a single directory.
package filestore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"conductor/internal/domain"
)

const indexFile = "index.json"

var validID = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// Store implements domain.PersistenceAdapter on the local filesystem.
type Store struct {
	dir   string
	mu    sync.RWMutex
	index map[string]domain.IndexRecord
}

// New opens (creating if needed) a store rooted at dir and loads its index.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("filestore: create dir: %w", err)
	}
	s := &Store{dir: dir, index: make(map[string]domain.IndexRecord)}
	data, err := os.ReadFile(s.indexPath())
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("filestore: read index: %w", err)
	default:
		if err := json.Unmarshal(data, &s.index); err != nil {
			return nil, fmt.Errorf("%w: filestore: parse index: %v", domain.ErrMemoryIndex, err)
		}
	}
	return s, nil
}

func (s *Store) Name() string { return "file" }

func (s *Store) indexPath() string { return filepath.Join(s.dir, indexFile) }

func (s *Store) entryPath(id string) (string, error) {
	if !validID.MatchString(id) {
		return "", fmt.Errorf("%w: invalid entry id %q", domain.ErrInvalidInput, id)
	}
	return filepath.Join(s.dir, id+".json"), nil
}

// Save writes the entry document, then the index. Both writes are atomic
// renames; a crash between them leaves an orphan document that is never listed.
func (s *Store) Save(_ context.Context, id string, data []byte, index domain.IndexRecord) error {
	path, err := s.entryPath(id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := writeAtomic(path, data); err != nil {
		return err
	}
	s.index[id] = index
	if err := s.saveIndex(); err != nil {
		delete(s.index, id)
		os.Remove(path)
		return err
	}
	return nil
}

func (s *Store) Load(_ context.Context, id string) ([]byte, bool, error) {
	path, err := s.entryPath(id)
	if err != nil {
		return nil, false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.index[id]; !ok {
		return nil, false, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("filestore: read %s: %w", id, err)
	}
	return data, true, nil
}

func (s *Store) Delete(_ context.Context, id string) (bool, error) {
	path, err := s.entryPath(id)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.index[id]
	if !ok {
		return false, nil
	}
	delete(s.index, id)
	if err := s.saveIndex(); err != nil {
		s.index[id] = rec
		return false, err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return true, fmt.Errorf("filestore: remove %s: %w", id, err)
	}
	return true, nil
}

func (s *Store) ListIndex(_ context.Context) ([]domain.IndexRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.IndexRecord, 0, len(s.index))
	for _, r := range s.index {
		out = append(out, r)
	}
	return out, nil
}

func (s *Store) saveIndex() error {
	data, err := json.MarshalIndent(s.index, "", "  ")
	if err != nil {
		return domain.WrapOp("marshal index", err)
	}
	return writeAtomic(s.indexPath(), data)
}

// writeAtomic writes data to a temp file in the same directory and renames
// it over path.
func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return domain.WrapOp("write", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return domain.WrapOp("rename", err)
	}
	return nil
}

var _ domain.PersistenceAdapter = (*Store)(nil)
