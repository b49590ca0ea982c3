package embedding

import (
	"context"
	"errors"
	"sync"
	"testing"

	"conductor/internal/domain"
)

type countingEmbedder struct {
	mu    sync.Mutex
	calls int
	texts int
	err   error
}

func (c *countingEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	c.mu.Lock()
	c.calls++
	c.texts += len(texts)
	c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t))}
	}
	return out, nil
}

func (c *countingEmbedder) Dimensions() int { return 1 }
func (c *countingEmbedder) Name() string    { return "counting" }

func TestCachedEmbedderHit(t *testing.T) {
	inner := &countingEmbedder{}
	c := NewCachedEmbedder(inner, 10)

	for i := 0; i < 3; i++ {
		vecs, err := c.Embed(context.Background(), []string{"hello"})
		if err != nil {
			t.Fatalf("Embed: %v", err)
		}
		if vecs[0][0] != 5 {
			t.Fatalf("vec = %v, want [5]", vecs[0])
		}
	}
	if inner.calls != 1 {
		t.Errorf("inner calls = %d, want 1", inner.calls)
	}
}

func TestCachedEmbedderBatchSendsOnlyMisses(t *testing.T) {
	inner := &countingEmbedder{}
	c := NewCachedEmbedder(inner, 10)

	if _, err := c.Embed(context.Background(), []string{"a", "bb"}); err != nil {
		t.Fatalf("Embed: %v", err)
	}
	vecs, err := c.Embed(context.Background(), []string{"bb", "ccc", "a"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if inner.texts != 3 {
		t.Errorf("inner saw %d texts, want 3", inner.texts)
	}
	want := []float32{2, 3, 1}
	for i, w := range want {
		if vecs[i][0] != w {
			t.Errorf("vecs[%d] = %v, want %v", i, vecs[i][0], w)
		}
	}
}

func TestCachedEmbedderEviction(t *testing.T) {
	inner := &countingEmbedder{}
	c := NewCachedEmbedder(inner, 2).(*CachedEmbedder)
	ctx := context.Background()

	c.Embed(ctx, []string{"a"})
	c.Embed(ctx, []string{"b"})
	c.Embed(ctx, []string{"a"}) // a is now most recent
	c.Embed(ctx, []string{"c"}) // evicts b

	if c.Len() != 2 {
		t.Fatalf("Len = %d, want 2", c.Len())
	}
	before := inner.calls
	c.Embed(ctx, []string{"a"})
	if inner.calls != before {
		t.Errorf("a should still be cached")
	}
	c.Embed(ctx, []string{"b"})
	if inner.calls != before+1 {
		t.Errorf("b should have been evicted")
	}
}

func TestCachedEmbedderError(t *testing.T) {
	inner := &countingEmbedder{err: domain.ErrEmbedding}
	c := NewCachedEmbedder(inner, 4).(*CachedEmbedder)

	_, err := c.Embed(context.Background(), []string{"x"})
	if !errors.Is(err, domain.ErrEmbedding) {
		t.Fatalf("err = %v, want ErrEmbedding", err)
	}
	if c.Len() != 0 {
		t.Errorf("failed embeddings must not be cached")
	}
}

func TestCachedEmbedderDisabled(t *testing.T) {
	inner := &countingEmbedder{}
	if got := NewCachedEmbedder(inner, 0); got != domain.EmbeddingProvider(inner) {
		t.Fatalf("size 0 should return the inner provider")
	}
}

func TestCachedEmbedderDelegatesMetadata(t *testing.T) {
	c := NewCachedEmbedder(&countingEmbedder{}, 1)
	if c.Name() != "counting" || c.Dimensions() != 1 {
		t.Errorf("Name/Dimensions = %q/%d", c.Name(), c.Dimensions())
	}
}
