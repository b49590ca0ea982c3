package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"conductor/internal/domain"
)

// LongTerm is the persistent tier. Entries are written once; deletion is
// the only mutation.
type LongTerm struct {
	// mu serializes the existence check with the write in Add.
	mu    sync.Mutex
	store domain.PersistenceAdapter
}

// NewLongTerm wraps a persistence adapter.
func NewLongTerm(store domain.PersistenceAdapter) *LongTerm {
	return &LongTerm{store: store}
}

// Backend names the underlying persistence adapter.
func (l *LongTerm) Backend() string { return l.store.Name() }

// Add persists entry and its index record. An existing ID fails with
// ErrDuplicate and leaves the stored entry untouched.
func (l *LongTerm) Add(ctx context.Context, entry domain.MemoryEntry) error {
	if entry.ID == "" {
		return fmt.Errorf("%w: memory entry has no id", domain.ErrInvalidInput)
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("%w: encode %s: %v", domain.ErrMemoryStore, entry.ID, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	_, exists, err := l.store.Load(ctx, entry.ID)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrMemoryStore, err)
	}
	if exists {
		return domain.NewDomainError("LongTerm.Add", domain.ErrDuplicate, entry.ID)
	}
	if err := l.store.Save(ctx, entry.ID, data, entry.Index()); err != nil {
		return fmt.Errorf("%w: save %s: %v", domain.ErrMemoryStore, entry.ID, err)
	}
	return nil
}

// Get loads one entry. A missing ID fails with ErrNotFound.
func (l *LongTerm) Get(ctx context.Context, id string) (domain.MemoryEntry, error) {
	data, ok, err := l.store.Load(ctx, id)
	if err != nil {
		return domain.MemoryEntry{}, fmt.Errorf("%w: %v", domain.ErrMemoryStore, err)
	}
	if !ok {
		return domain.MemoryEntry{}, domain.NewDomainError("LongTerm.Get", domain.ErrNotFound, id)
	}
	var entry domain.MemoryEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return domain.MemoryEntry{}, fmt.Errorf("%w: decode %s: %v", domain.ErrMemoryStore, id, err)
	}
	return entry, nil
}

// Search filters the index with pred and loads the matching entries,
// oldest first. Index records whose payload has gone missing are skipped.
func (l *LongTerm) Search(ctx context.Context, pred domain.IndexPredicate) ([]domain.MemoryEntry, error) {
	records, err := l.store.ListIndex(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMemoryIndex, err)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].Timestamp.Before(records[j].Timestamp)
	})

	var out []domain.MemoryEntry
	for _, rec := range records {
		if pred != nil && !pred(rec) {
			continue
		}
		entry, err := l.Get(ctx, rec.ID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, entry)
	}
	return out, nil
}

// Delete removes an entry, reporting whether it existed.
func (l *LongTerm) Delete(ctx context.Context, id string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ok, err := l.store.Delete(ctx, id)
	if err != nil {
		return false, fmt.Errorf("%w: delete %s: %v", domain.ErrMemoryStore, id, err)
	}
	return ok, nil
}

// Count reports the number of indexed entries.
func (l *LongTerm) Count(ctx context.Context) (int, error) {
	records, err := l.store.ListIndex(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrMemoryIndex, err)
	}
	return len(records), nil
}
