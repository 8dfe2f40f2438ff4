package sqlitedb

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vector-search/internal/models"
	"vector-search/internal/storetest"
)

func openTestStore(t *testing.T, path, index string, dim int) *Store {
	t.Helper()
	s, err := Open(Options{Path: path, IndexName: index, Dimension: dim}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storetest.Store {
		s := openTestStore(t, filepath.Join(t.TempDir(), "vectors.db"), "test", storetest.Dimension)
		require.NoError(t, s.Bootstrap(context.Background()))
		return s
	})
}

func TestIndexesAreIsolated(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "data", "vectors.db")

	a := openTestStore(t, path, "a", 2)
	require.NoError(t, a.Bootstrap(ctx))
	require.NoError(t, a.Upsert(ctx, models.Item{ID: "x", Vector: []float32{1, 0}}))

	b := openTestStore(t, path, "b", 2)
	require.NoError(t, b.Bootstrap(ctx))
	stats, err := b.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.TotalItemCount)
}

func TestBootstrapDimensionMismatch(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "vectors.db")

	s := openTestStore(t, path, "docs", 3)
	require.NoError(t, s.Bootstrap(ctx))

	other := openTestStore(t, path, "docs", 5)
	assert.ErrorIs(t, other.Bootstrap(ctx), models.ErrDimensionMismatch)
}

func TestEmbeddingEncoding(t *testing.T) {
	vec := []float32{0.25, -1.5, 3}
	b := encodeEmbedding(vec)
	assert.Len(t, b, 12)

	got, err := decodeEmbedding(b)
	require.NoError(t, err)
	assert.Equal(t, vec, got)

	_, err = decodeEmbedding([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestZeroVectorNeverMatches(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, filepath.Join(t.TempDir(), "v.db"), "z", 2)
	require.NoError(t, s.Bootstrap(ctx))
	require.NoError(t, s.Upsert(ctx, models.Item{ID: "zero", Vector: []float32{0, 0}}))

	matches, err := s.Query(ctx, []float32{1, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, matches)
}
