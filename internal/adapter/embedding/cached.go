// Package embedding provides text embedding backends for the knowledge base.
package embedding

import (
	"container/list"
	"context"
	"fmt"
	"hash/fnv"
	"sync"

	"conductor/internal/domain"
)

type lruEntry struct {
	key uint64
	vec []float32
}

// CachedEmbedder wraps a provider with an LRU cache keyed by text. Only the
// texts missing from the cache are sent to the inner provider, in one batch.
type CachedEmbedder struct {
	inner   domain.EmbeddingProvider
	maxSize int

	mu    sync.Mutex
	cache map[uint64]*list.Element
	order *list.List // most-recently-used at back
}

// NewCachedEmbedder wraps inner with an LRU embedding cache of maxSize entries.
// If maxSize <= 0, the inner provider is returned directly.
func NewCachedEmbedder(inner domain.EmbeddingProvider, maxSize int) domain.EmbeddingProvider {
	if maxSize <= 0 {
		return inner
	}
	return &CachedEmbedder{
		inner:   inner,
		maxSize: maxSize,
		cache:   make(map[uint64]*list.Element, maxSize),
		order:   list.New(),
	}
}

// Embed implements domain.EmbeddingProvider.
func (c *CachedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	keys := make([]uint64, len(texts))
	var missIdx []int
	var missTexts []string

	c.mu.Lock()
	for i, t := range texts {
		keys[i] = hashText(t)
		if elem, ok := c.cache[keys[i]]; ok {
			c.order.MoveToBack(elem)
			out[i] = elem.Value.(*lruEntry).vec
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, t)
	}
	c.mu.Unlock()

	if len(missTexts) == 0 {
		return out, nil
	}

	vecs, err := c.inner.Embed(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(missTexts) {
		return nil, fmt.Errorf("%w: provider returned %d vectors for %d texts", domain.ErrEmbedding, len(vecs), len(missTexts))
	}

	c.mu.Lock()
	for j, i := range missIdx {
		out[i] = vecs[j]
		c.put(keys[i], vecs[j])
	}
	c.mu.Unlock()
	return out, nil
}

// Dimensions implements domain.EmbeddingProvider.
func (c *CachedEmbedder) Dimensions() int { return c.inner.Dimensions() }

// Name implements domain.EmbeddingProvider.
func (c *CachedEmbedder) Name() string { return c.inner.Name() }

// Len reports the number of cached vectors.
func (c *CachedEmbedder) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func hashText(s string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return h.Sum64()
}

// put inserts a vector, evicting the LRU entry at capacity. Caller holds c.mu.
func (c *CachedEmbedder) put(key uint64, vec []float32) {
	if elem, exists := c.cache[key]; exists {
		c.order.MoveToBack(elem)
		elem.Value.(*lruEntry).vec = vec
		return
	}

	if c.order.Len() >= c.maxSize {
		oldest := c.order.Front()
		c.order.Remove(oldest)
		delete(c.cache, oldest.Value.(*lruEntry).key)
	}

	c.cache[key] = c.order.PushBack(&lruEntry{key: key, vec: vec})
}

var _ domain.EmbeddingProvider = (*CachedEmbedder)(nil)
