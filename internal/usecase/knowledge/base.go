// Package knowledge keeps embedded reference material that agents consult
// and extend. Entries are stored as long-term memories of type knowledge and
// indexed in process by domain.
package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"conductor/internal/domain"
	"conductor/internal/infra/tracer"
	"conductor/internal/usecase/memory"
)

// Defaults for Config.
const (
	DefaultSimilarityThreshold = 0.7
	DefaultMaxEntries          = 10000
	DefaultQueryLimit          = 5
)

// Config tunes the knowledge base.
type Config struct {
	SimilarityThreshold float64
	MaxEntries          int
}

// Entry is one piece of knowledge.
type Entry struct {
	ID         string         `json:"id"`
	Content    string         `json:"content"`
	Embedding  []float32      `json:"embedding"`
	Domain     string         `json:"domain"`
	SourceURLs []string       `json:"source_urls,omitempty"`
	Confidence float64        `json:"confidence"`
	Timestamp  time.Time      `json:"timestamp"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// AddRequest describes a new entry.
type AddRequest struct {
	Content    string
	Domain     string
	SourceURLs []string
	Confidence float64
	Metadata   map[string]any
}

// Hit is one query match. Confidence is the entry confidence scaled by the
// similarity.
type Hit struct {
	ID         string  `json:"id"`
	Content    string  `json:"content"`
	Domain     string  `json:"domain"`
	Confidence float64 `json:"confidence"`
	Similarity float64 `json:"similarity"`
}

// QueryResult holds matches and their deduplicated source references.
type QueryResult struct {
	Results    []Hit    `json:"results"`
	References []string `json:"references"`
}

// Base is the knowledge store.
type Base struct {
	embedder  domain.EmbeddingProvider
	store     *memory.LongTerm
	threshold float64
	max       int
	logger    *slog.Logger

	mu       sync.RWMutex
	entries  map[string]*Entry
	byDomain map[string][]string
}

// New builds a knowledge base over store and loads existing knowledge
// entries from it.
func New(ctx context.Context, embedder domain.EmbeddingProvider, store *memory.LongTerm, cfg Config, logger *slog.Logger) (*Base, error) {
	if cfg.SimilarityThreshold <= 0 {
		cfg.SimilarityThreshold = DefaultSimilarityThreshold
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultMaxEntries
	}
	b := &Base{
		embedder:  embedder,
		store:     store,
		threshold: cfg.SimilarityThreshold,
		max:       cfg.MaxEntries,
		logger:    logger,
		entries:   make(map[string]*Entry),
		byDomain:  make(map[string][]string),
	}
	if err := b.load(ctx); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Base) load(ctx context.Context) error {
	stored, err := b.store.Search(ctx, memory.IndexOfType(domain.MemoryTypeKnowledge))
	if err != nil {
		return fmt.Errorf("load knowledge: %w", err)
	}
	for _, m := range stored {
		e, err := decodeEntry(m)
		if err != nil {
			b.logger.Warn("skipping unreadable knowledge entry", "id", m.ID, "error", err)
			continue
		}
		b.index(e)
	}
	if len(stored) > 0 {
		b.logger.Info("knowledge loaded", "entries", len(b.entries))
	}
	return nil
}

func decodeEntry(m domain.MemoryEntry) (*Entry, error) {
	raw, err := json.Marshal(m.Content)
	if err != nil {
		return nil, err
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, err
	}
	e.ID = m.ID
	return &e, nil
}

// index must be called with mu held or before b is shared.
func (b *Base) index(e *Entry) {
	b.entries[e.ID] = e
	b.byDomain[e.Domain] = append(b.byDomain[e.Domain], e.ID)
}

func (b *Base) embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := b.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrEmbedding, err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("%w: expected 1 vector, got %d", domain.ErrEmbedding, len(vecs))
	}
	return vecs[0], nil
}

// Add embeds and stores a new entry, evicting the oldest entries beyond the
// cap. It returns the new entry ID.
func (b *Base) Add(ctx context.Context, req AddRequest) (string, error) {
	ctx, span := tracer.StartSpan(ctx, "knowledge.add",
		trace.WithAttributes(tracer.StringAttr("knowledge.domain", req.Domain)),
	)
	defer span.End()

	if req.Content == "" {
		err := fmt.Errorf("%w: knowledge content is empty", domain.ErrInvalidInput)
		tracer.RecordError(span, err)
		return "", err
	}
	vec, err := b.embed(ctx, req.Content)
	if err != nil {
		tracer.RecordError(span, err)
		return "", err
	}

	e := &Entry{
		Content:    req.Content,
		Embedding:  vec,
		Domain:     req.Domain,
		SourceURLs: req.SourceURLs,
		Confidence: req.Confidence,
		Timestamp:  time.Now().UTC(),
		Metadata:   req.Metadata,
	}
	m := domain.NewMemoryEntry(domain.MemoryTypeKnowledge, e, req.Confidence, map[string]any{"domain": req.Domain})
	e.ID = m.ID
	m.Timestamp = e.Timestamp

	if err := b.store.Add(ctx, m); err != nil {
		tracer.RecordError(span, err)
		return "", err
	}

	b.mu.Lock()
	b.index(e)
	evict := b.oldestBeyondCap()
	for _, id := range evict {
		b.remove(id)
	}
	b.mu.Unlock()

	for _, id := range evict {
		if _, err := b.store.Delete(ctx, id); err != nil {
			b.logger.Warn("evicted knowledge entry not deleted", "id", id, "error", err)
		}
	}

	tracer.SetOK(span)
	return e.ID, nil
}

func (b *Base) oldestBeyondCap() []string {
	excess := len(b.entries) - b.max
	if excess <= 0 {
		return nil
	}
	all := make([]*Entry, 0, len(b.entries))
	for _, e := range b.entries {
		all = append(all, e)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Timestamp.Before(all[j].Timestamp) })
	ids := make([]string, excess)
	for i := range ids {
		ids[i] = all[i].ID
	}
	return ids
}

func (b *Base) remove(id string) {
	e, ok := b.entries[id]
	if !ok {
		return
	}
	delete(b.entries, id)
	ids := b.byDomain[e.Domain]
	for i, v := range ids {
		if v == id {
			b.byDomain[e.Domain] = append(ids[:i:i], ids[i+1:]...)
			break
		}
	}
	if len(b.byDomain[e.Domain]) == 0 {
		delete(b.byDomain, e.Domain)
	}
}

// Query returns up to limit entries whose similarity to query reaches the
// threshold, most similar first. An empty domain searches every domain.
func (b *Base) Query(ctx context.Context, query, domainName string, limit int) (QueryResult, error) {
	ctx, span := tracer.StartSpan(ctx, "knowledge.query",
		trace.WithAttributes(tracer.StringAttr("knowledge.domain", domainName)),
	)
	defer span.End()

	if limit <= 0 {
		limit = DefaultQueryLimit
	}
	result := QueryResult{Results: []Hit{}, References: []string{}}

	b.mu.RLock()
	var candidates []*Entry
	if domainName != "" {
		for _, id := range b.byDomain[domainName] {
			candidates = append(candidates, b.entries[id])
		}
	} else {
		for _, e := range b.entries {
			candidates = append(candidates, e)
		}
	}
	b.mu.RUnlock()

	if len(candidates) == 0 {
		tracer.SetOK(span)
		return result, nil
	}

	vec, err := b.embed(ctx, query)
	if err != nil {
		tracer.RecordError(span, err)
		return result, err
	}

	type scored struct {
		e   *Entry
		sim float64
	}
	ranked := make([]scored, 0, len(candidates))
	for _, e := range candidates {
		ranked = append(ranked, scored{e: e, sim: CosineSimilarity(vec, e.Embedding)})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].sim > ranked[j].sim })
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}

	seen := make(map[string]bool)
	for _, r := range ranked {
		if r.sim < b.threshold {
			continue
		}
		result.Results = append(result.Results, Hit{
			ID:         r.e.ID,
			Content:    r.e.Content,
			Domain:     r.e.Domain,
			Confidence: r.e.Confidence * r.sim,
			Similarity: r.sim,
		})
		for _, u := range r.e.SourceURLs {
			if !seen[u] {
				seen[u] = true
				result.References = append(result.References, u)
			}
		}
	}

	span.SetAttributes(tracer.IntAttr("knowledge.hits", len(result.Results)))
	tracer.SetOK(span)
	return result, nil
}

// Get returns a copy of the entry with id.
func (b *Base) Get(id string) (Entry, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	e, ok := b.entries[id]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// DomainEntries returns the entries of one domain in insertion order.
func (b *Base) DomainEntries(domainName string) []Entry {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ids := b.byDomain[domainName]
	out := make([]Entry, 0, len(ids))
	for _, id := range ids {
		out = append(out, *b.entries[id])
	}
	return out
}

// Len reports the number of entries.
func (b *Base) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}

// CosineSimilarity returns the cosine of the angle between a and b, or 0
// when the lengths differ or either vector is zero.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
