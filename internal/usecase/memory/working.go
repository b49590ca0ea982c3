package memory

import (
	"sort"
	"sync"

	"conductor/internal/domain"
)

// DefaultWorkingCapacity bounds working memory when no capacity is given.
const DefaultWorkingCapacity = 100

// Working is the bounded short-term tier. When full, the least important
// entries are evicted first and, among equals, the oldest.
type Working struct {
	mu       sync.Mutex
	capacity int
	entries  []domain.MemoryEntry
}

// NewWorking creates a working memory holding at most capacity entries.
func NewWorking(capacity int) *Working {
	if capacity <= 0 {
		capacity = DefaultWorkingCapacity
	}
	return &Working{capacity: capacity}
}

// Add stores entry and returns whatever was evicted to stay within capacity.
func (w *Working) Add(entry domain.MemoryEntry) []domain.MemoryEntry {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.entries = append(w.entries, entry)
	excess := len(w.entries) - w.capacity
	if excess <= 0 {
		return nil
	}

	// Stable so that insertion order breaks exact timestamp ties.
	sort.SliceStable(w.entries, func(i, j int) bool {
		a, b := w.entries[i], w.entries[j]
		if a.Importance != b.Importance {
			return a.Importance < b.Importance
		}
		return a.Timestamp.Before(b.Timestamp)
	})
	evicted := make([]domain.MemoryEntry, excess)
	copy(evicted, w.entries[:excess])
	w.entries = append(w.entries[:0], w.entries[excess:]...)
	return evicted
}

// GetRecent returns up to limit entries, newest first. limit <= 0 returns all.
func (w *Working) GetRecent(limit int) []domain.MemoryEntry {
	out := w.All()
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Search returns the entries matching pred.
func (w *Working) Search(pred domain.EntryPredicate) []domain.MemoryEntry {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []domain.MemoryEntry
	for _, e := range w.entries {
		if pred == nil || pred(e) {
			out = append(out, e.Clone())
		}
	}
	return out
}

// All returns a copy of every entry.
func (w *Working) All() []domain.MemoryEntry {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]domain.MemoryEntry, len(w.entries))
	for i, e := range w.entries {
		out[i] = e.Clone()
	}
	return out
}

// Drain returns every entry and empties the tier under one lock, so an
// entry added concurrently is either in the result or still stored.
func (w *Working) Drain() []domain.MemoryEntry {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := w.entries
	w.entries = nil
	return out
}

// Clear drops every entry.
func (w *Working) Clear() {
	w.Drain()
}

// Len reports the number of stored entries.
func (w *Working) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.entries)
}

// Capacity reports the configured bound.
func (w *Working) Capacity() int { return w.capacity }
