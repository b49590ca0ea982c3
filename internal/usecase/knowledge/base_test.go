package knowledge

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conductor/internal/adapter/persistence/memstore"
	"conductor/internal/domain"
	"conductor/internal/usecase/memory"
)

// topicEmbedder maps text onto two axes by keyword.
type topicEmbedder struct{ fail bool }

func (e topicEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if e.fail {
		return nil, errors.New("backend down")
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		t = strings.ToLower(t)
		switch {
		case strings.Contains(t, "go"):
			out[i] = []float32{1, 0}
		case strings.Contains(t, "python"):
			out[i] = []float32{0, 1}
		default:
			out[i] = []float32{1, 1}
		}
	}
	return out, nil
}
func (topicEmbedder) Dimensions() int { return 2 }
func (topicEmbedder) Name() string    { return "topic" }

func newTestBase(t *testing.T, store *memory.LongTerm, cfg Config) *Base {
	t.Helper()
	b, err := New(context.Background(), topicEmbedder{}, store, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return b
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, CosineSimilarity([]float32{1, 2}, []float32{2, 4}), 1e-9)
	assert.InDelta(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.Equal(t, 0.0, CosineSimilarity([]float32{1}, []float32{1, 2}))
	assert.Equal(t, 0.0, CosineSimilarity([]float32{0, 0}, []float32{1, 2}))
}

func TestAddAndQuery(t *testing.T) {
	ctx := context.Background()
	b := newTestBase(t, memory.NewLongTerm(memstore.New()), Config{})

	_, err := b.Add(ctx, AddRequest{Content: "Go channels", Domain: "programming", SourceURLs: []string{"https://go.dev", "https://go.dev"}, Confidence: 0.8})
	require.NoError(t, err)
	_, err = b.Add(ctx, AddRequest{Content: "Python generators", Domain: "programming", SourceURLs: []string{"https://python.org"}, Confidence: 0.9})
	require.NoError(t, err)

	res, err := b.Query(ctx, "goroutines", "programming", 5)
	require.NoError(t, err)
	require.Len(t, res.Results, 1)
	assert.Equal(t, "Go channels", res.Results[0].Content)
	assert.InDelta(t, 0.8, res.Results[0].Confidence, 1e-6)
	assert.Equal(t, []string{"https://go.dev"}, res.References)

	// [1,1] vs [1,0] is ~0.707, just over the default threshold.
	res, err = b.Query(ctx, "anything", "", 5)
	require.NoError(t, err)
	assert.Len(t, res.Results, 2)
}

func TestQueryFiltersByDomain(t *testing.T) {
	ctx := context.Background()
	b := newTestBase(t, memory.NewLongTerm(memstore.New()), Config{})

	_, err := b.Add(ctx, AddRequest{Content: "Go modules", Domain: "tooling", Confidence: 1})
	require.NoError(t, err)

	res, err := b.Query(ctx, "go", "programming", 5)
	require.NoError(t, err)
	assert.Empty(t, res.Results)
	assert.NotNil(t, res.References)

	assert.Len(t, b.DomainEntries("tooling"), 1)
}

func TestThresholdExcludesWeakMatches(t *testing.T) {
	ctx := context.Background()
	b := newTestBase(t, memory.NewLongTerm(memstore.New()), Config{SimilarityThreshold: 0.9})

	_, err := b.Add(ctx, AddRequest{Content: "Go", Domain: "d", Confidence: 1})
	require.NoError(t, err)

	res, err := b.Query(ctx, "neutral", "", 5)
	require.NoError(t, err)
	assert.Empty(t, res.Results)
}

func TestPersistsAsKnowledgeMemories(t *testing.T) {
	ctx := context.Background()
	lt := memory.NewLongTerm(memstore.New())
	b := newTestBase(t, lt, Config{})

	id, err := b.Add(ctx, AddRequest{Content: "Go interfaces", Domain: "programming", Confidence: 0.7})
	require.NoError(t, err)

	m, err := lt.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.MemoryTypeKnowledge, m.MemoryType)

	reloaded := newTestBase(t, lt, Config{})
	assert.Equal(t, 1, reloaded.Len())
	e, ok := reloaded.Get(id)
	require.True(t, ok)
	assert.Equal(t, "programming", e.Domain)
	assert.Equal(t, []float32{1, 0}, e.Embedding)
}

func TestMaxEntriesEvictsOldest(t *testing.T) {
	ctx := context.Background()
	lt := memory.NewLongTerm(memstore.New())
	b := newTestBase(t, lt, Config{MaxEntries: 2})

	first, err := b.Add(ctx, AddRequest{Content: "Go one", Domain: "d", Confidence: 1})
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	_, err = b.Add(ctx, AddRequest{Content: "Go two", Domain: "d", Confidence: 1})
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	_, err = b.Add(ctx, AddRequest{Content: "Go three", Domain: "d", Confidence: 1})
	require.NoError(t, err)

	assert.Equal(t, 2, b.Len())
	_, ok := b.Get(first)
	assert.False(t, ok)
	_, err = lt.Get(ctx, first)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Len(t, b.DomainEntries("d"), 2)
}

func TestAddErrors(t *testing.T) {
	ctx := context.Background()
	b := newTestBase(t, memory.NewLongTerm(memstore.New()), Config{})

	_, err := b.Add(ctx, AddRequest{})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	b.embedder = topicEmbedder{fail: true}
	_, err = b.Add(ctx, AddRequest{Content: "x"})
	assert.ErrorIs(t, err, domain.ErrEmbedding)
}
