// Package storetest holds the behaviour every vector store backend shares,
// run against each backend from its own tests.
package storetest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vector-search/internal/models"
)

// Store mirrors vectorstore.Store without importing it
type Store interface {
	Bootstrap(ctx context.Context) error
	Upsert(ctx context.Context, item models.Item) error
	Query(ctx context.Context, vector []float32, topK int) ([]models.Match, error)
	Stats(ctx context.Context) (models.Stats, error)
	Items(ctx context.Context) ([]models.Item, error)
	Reset(ctx context.Context) error
	Close() error
}

// Dimension is the vector length stores under test must be opened with
const Dimension = 4

func item(id string, vector []float32, preview string) models.Item {
	return models.Item{
		ID:     id,
		Vector: vector,
		Metadata: models.Metadata{
			TextPreview:    preview,
			SourceFilename: "guide.pdf",
			PageNumber:     2,
			ChunkIndex:     1,
		},
	}
}

// Run exercises s, which must be bootstrapped, empty and have Dimension 4
func Run(t *testing.T, open func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("empty index returns no matches", func(t *testing.T) {
		s := open(t)
		matches, err := s.Query(ctx, []float32{1, 0, 0, 0}, 5)
		require.NoError(t, err)
		assert.Empty(t, matches)

		stats, err := s.Stats(ctx)
		require.NoError(t, err)
		assert.Zero(t, stats.TotalItemCount)
		assert.Equal(t, Dimension, stats.Dimension)
	})

	t.Run("bootstrap is idempotent", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.Upsert(ctx, item("a", []float32{1, 0, 0, 0}, "alpha")))
		require.NoError(t, s.Bootstrap(ctx))

		stats, err := s.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, stats.TotalItemCount)
	})

	t.Run("query ranks by cosine similarity", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.Upsert(ctx, item("a", []float32{1, 0, 0, 0}, "alpha")))
		require.NoError(t, s.Upsert(ctx, item("b", []float32{0.8, 0.6, 0, 0}, "beta")))
		require.NoError(t, s.Upsert(ctx, item("c", []float32{0, 0, 1, 0}, "gamma")))

		matches, err := s.Query(ctx, []float32{2, 0, 0, 0}, 2)
		require.NoError(t, err)
		require.Len(t, matches, 2)
		assert.Equal(t, "a", matches[0].ID)
		assert.Equal(t, "b", matches[1].ID)
		assert.InDelta(t, 1.0, matches[0].Score, 1e-4)
		assert.InDelta(t, 0.8, matches[1].Score, 1e-4)

		md := matches[0].Metadata
		assert.Equal(t, "alpha", md.TextPreview)
		assert.Equal(t, "guide.pdf", md.SourceFilename)
		assert.Equal(t, 2, md.PageNumber)
		assert.Equal(t, 1, md.ChunkIndex)
	})

	t.Run("top k above count returns everything", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.Upsert(ctx, item("a", []float32{1, 0, 0, 0}, "alpha")))
		require.NoError(t, s.Upsert(ctx, item("b", []float32{0, 1, 0, 0}, "beta")))

		matches, err := s.Query(ctx, []float32{1, 1, 0, 0}, 10)
		require.NoError(t, err)
		assert.Len(t, matches, 2)
	})

	t.Run("upsert overwrites by id", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.Upsert(ctx, item("a", []float32{1, 0, 0, 0}, "first")))
		require.NoError(t, s.Upsert(ctx, item("a", []float32{0, 1, 0, 0}, "second")))

		stats, err := s.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, stats.TotalItemCount)

		matches, err := s.Query(ctx, []float32{0, 1, 0, 0}, 1)
		require.NoError(t, err)
		require.Len(t, matches, 1)
		assert.Equal(t, "second", matches[0].Metadata.TextPreview)
		assert.InDelta(t, 1.0, matches[0].Score, 1e-4)
	})

	t.Run("wrong dimension leaves the index unchanged", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.Upsert(ctx, item("a", []float32{1, 0, 0, 0}, "alpha")))

		err := s.Upsert(ctx, item("a", []float32{1, 0, 0}, "changed"))
		assert.ErrorIs(t, err, models.ErrDimensionMismatch)

		_, err = s.Query(ctx, []float32{1, 0}, 1)
		assert.ErrorIs(t, err, models.ErrDimensionMismatch)

		matches, err := s.Query(ctx, []float32{1, 0, 0, 0}, 1)
		require.NoError(t, err)
		require.Len(t, matches, 1)
		assert.Equal(t, "alpha", matches[0].Metadata.TextPreview)
	})

	t.Run("extra metadata survives", func(t *testing.T) {
		s := open(t)
		it := models.Item{
			ID:     "q1",
			Vector: []float32{0, 0, 0, 1},
			Metadata: models.Metadata{
				TextPreview: "what is a vector?",
				Extra: map[string]string{
					models.KeyQueryText: "what is a vector?",
					models.KeyKind:      models.KindQuery,
				},
			},
		}
		require.NoError(t, s.Upsert(ctx, it))

		matches, err := s.Query(ctx, []float32{0, 0, 0, 1}, 1)
		require.NoError(t, err)
		require.Len(t, matches, 1)
		assert.Equal(t, "what is a vector?", matches[0].Metadata.Label())
		assert.Equal(t, models.KindQuery, matches[0].Metadata.Extra[models.KeyKind])
	})

	t.Run("items and reset", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.Upsert(ctx, item("a", []float32{1, 0, 0, 0}, "alpha")))
		require.NoError(t, s.Upsert(ctx, item("b", []float32{0, 1, 0, 0}, "beta")))

		items, err := s.Items(ctx)
		require.NoError(t, err)
		require.Len(t, items, 2)
		ids := []string{items[0].ID, items[1].ID}
		assert.ElementsMatch(t, []string{"a", "b"}, ids)
		for _, it := range items {
			assert.Len(t, it.Vector, Dimension)
		}

		require.NoError(t, s.Reset(ctx))
		stats, err := s.Stats(ctx)
		require.NoError(t, err)
		assert.Zero(t, stats.TotalItemCount)
	})
}
