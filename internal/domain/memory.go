package domain

import (
	"context"
	"maps"
	"time"
)

// Common memory types.
const (
	MemoryTypeObservation  = "observation"
	MemoryTypeConversation = "conversation"
	MemoryTypeKnowledge    = "knowledge"
	MemoryTypeTask         = "task"
)

// MemoryEntry is a single remembered item. Entries are never mutated after
// creation; a correction is a new entry.
type MemoryEntry struct {
	ID         string         `json:"id"`
	Content    any            `json:"content"`
	Timestamp  time.Time      `json:"timestamp"`
	Importance float64        `json:"importance"`
	MemoryType string         `json:"memory_type"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// NewMemoryEntry builds an entry with a fresh ID and the current time.
// Importance is clamped to [0,1].
func NewMemoryEntry(memoryType string, content any, importance float64, metadata map[string]any) MemoryEntry {
	return MemoryEntry{
		ID:         NewID(),
		Content:    content,
		Timestamp:  time.Now().UTC(),
		Importance: clamp01(importance),
		MemoryType: memoryType,
		Metadata:   metadata,
	}
}

// Clone returns a copy that shares no metadata map with e.
func (e MemoryEntry) Clone() MemoryEntry {
	if e.Metadata != nil {
		e.Metadata = maps.Clone(e.Metadata)
	}
	return e
}

// Index returns the index record describing e.
func (e MemoryEntry) Index() IndexRecord {
	return IndexRecord{
		ID:         e.ID,
		MemoryType: e.MemoryType,
		Timestamp:  e.Timestamp,
		Importance: e.Importance,
		Metadata:   maps.Clone(e.Metadata),
	}
}

// IndexRecord is the searchable summary persisted alongside each long-term entry.
type IndexRecord struct {
	ID         string         `json:"id"`
	MemoryType string         `json:"memory_type"`
	Timestamp  time.Time      `json:"timestamp"`
	Importance float64        `json:"importance"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// EntryPredicate filters memory entries.
type EntryPredicate func(MemoryEntry) bool

// IndexPredicate filters long-term index records.
type IndexPredicate func(IndexRecord) bool

// MemoryTier tags where a search hit came from.
type MemoryTier string

const (
	TierWorking  MemoryTier = "working"
	TierLongTerm MemoryTier = "long_term"
)

// SearchHit is one result of a cross-tier memory search.
type SearchHit struct {
	Tier  MemoryTier  `json:"tier"`
	Entry MemoryEntry `json:"entry"`
}

// PersistenceAdapter is the storage boundary behind long-term memory.
// Save writes the serialized entry and its index record as one unit.
type PersistenceAdapter interface {
	Save(ctx context.Context, id string, data []byte, index IndexRecord) error
	Load(ctx context.Context, id string) ([]byte, bool, error)
	Delete(ctx context.Context, id string) (bool, error)
	ListIndex(ctx context.Context) ([]IndexRecord, error)
	Name() string
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
