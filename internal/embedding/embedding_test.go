package embedding

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vector-search/internal/config"
	"vector-search/internal/models"
)

type fakeLangchain struct {
	vector []float32
	err    error
	block  bool
	calls  atomic.Int32
}

func (f *fakeLangchain) EmbedQuery(ctx context.Context, _ string) ([]float32, error) {
	f.calls.Add(1)
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.vector, f.err
}

func (f *fakeLangchain) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v, err := f.EmbedQuery(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func newTestEmbedder(fake *fakeLangchain, dim int) *LLMEmbedder {
	cfg := config.EmbedderConfig{Provider: config.ProviderOllama, Dimension: dim, TimeoutSecs: 1}
	return NewLLMEmbedderFrom(fake, cfg, zerolog.Nop())
}

func TestLLMEmbedder(t *testing.T) {
	t.Run("returns the model vector", func(t *testing.T) {
		fake := &fakeLangchain{vector: []float32{0.1, 0.2, 0.3}}
		e := newTestEmbedder(fake, 3)

		v, err := e.Embed(context.Background(), "hello")
		require.NoError(t, err)
		assert.Equal(t, []float32{0.1, 0.2, 0.3}, v)
		assert.Equal(t, 3, e.Dimension())
	})

	t.Run("empty text never reaches the model", func(t *testing.T) {
		fake := &fakeLangchain{vector: []float32{1}}
		e := newTestEmbedder(fake, 1)

		_, err := e.Embed(context.Background(), "  \n\t")
		assert.ErrorIs(t, err, models.ErrEmbedding)
		assert.Zero(t, fake.calls.Load())
	})

	t.Run("provider error", func(t *testing.T) {
		e := newTestEmbedder(&fakeLangchain{err: errors.New("connection refused")}, 3)

		_, err := e.Embed(context.Background(), "hello")
		assert.ErrorIs(t, err, models.ErrEmbedding)
		assert.Contains(t, err.Error(), "connection refused")
	})

	t.Run("wrong dimension", func(t *testing.T) {
		e := newTestEmbedder(&fakeLangchain{vector: []float32{1, 2}}, 3)

		_, err := e.Embed(context.Background(), "hello")
		assert.ErrorIs(t, err, models.ErrDimensionMismatch)
	})

	t.Run("timeout", func(t *testing.T) {
		e := newTestEmbedder(&fakeLangchain{block: true}, 3)
		e.timeout = 10 * time.Millisecond

		_, err := e.Embed(context.Background(), "hello")
		assert.ErrorIs(t, err, models.ErrEmbedding)
	})
}

func TestNewSelectsProvider(t *testing.T) {
	e, err := New(config.EmbedderConfig{Provider: config.ProviderHash, Dimension: 16}, zerolog.Nop())
	require.NoError(t, err)
	assert.IsType(t, &HashEmbedder{}, e)

	_, err = New(config.EmbedderConfig{Provider: "nope"}, zerolog.Nop())
	assert.Error(t, err)
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func TestHashEmbedder(t *testing.T) {
	h := NewHashEmbedder(256)
	ctx := context.Background()

	a, err := h.Embed(ctx, "Vector databases store embeddings")
	require.NoError(t, err)
	require.Len(t, a, 256)

	again, err := h.Embed(ctx, "vector DATABASES store embeddings!")
	require.NoError(t, err)
	assert.Equal(t, a, again, "case and punctuation do not change the vector")

	var norm float64
	for _, v := range a {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, norm, 1e-5)

	near, err := h.Embed(ctx, "databases store vector embeddings for search")
	require.NoError(t, err)
	far, err := h.Embed(ctx, "the cat sat on a warm mat")
	require.NoError(t, err)
	assert.Greater(t, cosine(a, near), cosine(a, far))

	_, err = h.Embed(ctx, "  ... ")
	assert.ErrorIs(t, err, models.ErrEmbedding)
}
