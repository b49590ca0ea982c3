package filestore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conductor/internal/domain"
)

func TestStoreRoundTripAndReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := New(dir)
	require.NoError(t, err)

	idx := domain.IndexRecord{
		ID:         "01HX",
		MemoryType: "knowledge",
		Timestamp:  time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
		Importance: 0.9,
		Metadata:   map[string]any{"topic": "go"},
	}
	require.NoError(t, s.Save(ctx, "01HX", []byte(`{"id":"01HX"}`), idx))

	info, err := os.Stat(filepath.Join(dir, "01HX.json"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	reopened, err := New(dir)
	require.NoError(t, err)

	data, ok, err := reopened.Load(ctx, "01HX")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"id":"01HX"}`, string(data))

	list, err := reopened.ListIndex(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "go", list[0].Metadata["topic"])
	assert.True(t, idx.Timestamp.Equal(list[0].Timestamp))
}

func TestStoreDelete(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := New(dir)
	require.NoError(t, err)

	require.NoError(t, s.Save(ctx, "a", []byte("{}"), domain.IndexRecord{ID: "a"}))

	ok, err := s.Delete(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = os.Stat(filepath.Join(dir, "a.json"))
	assert.True(t, os.IsNotExist(err))

	ok, err = s.Delete(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStoreRejectsPathLikeIDs(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	for _, id := range []string{"../escape", "a/b", ""} {
		err := s.Save(context.Background(), id, []byte("{}"), domain.IndexRecord{ID: id})
		assert.ErrorIs(t, err, domain.ErrInvalidInput, id)
	}
}

func TestStoreCorruptIndex(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, indexFile), []byte("{not json"), 0600))

	_, err := New(dir)
	assert.ErrorIs(t, err, domain.ErrMemoryIndex)
}

func TestLoadMissing(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	_, ok, err := s.Load(context.Background(), "nope")
	require.NoError(t, err)
	assert.False(t, ok)
}
