package qdrantdb

import (
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vector-search/internal/helper"
	"vector-search/internal/models"
	"vector-search/internal/storetest"
)

func TestPayloadRoundTrip(t *testing.T) {
	md := models.Metadata{
		TextPreview:    "Vector databases store embeddings",
		SourceFilename: "guide.pdf",
		PageNumber:     4,
		ChunkIndex:     2,
		Extra:          map[string]string{models.KeyKind: models.KindChunk},
	}

	payload := toPayload("guide_4_2", md)
	assert.Equal(t, int64(4), payload[models.KeyPageNumber].GetIntegerValue())
	assert.Equal(t, "guide_4_2", payload[keyItemID].GetStringValue())

	id, got := fromPayload(payload)
	assert.Equal(t, "guide_4_2", id)
	assert.Equal(t, md, got)
}

func TestPayloadOmitsUnsetFields(t *testing.T) {
	payload := toPayload("q", models.Metadata{TextPreview: "hello"})
	assert.NotContains(t, payload, models.KeyPageNumber)
	assert.NotContains(t, payload, models.KeySourceFilename)
}

func TestDenseVector(t *testing.T) {
	v := &qdrant.VectorOutput{Data: []float32{1, 2}}
	assert.Equal(t, []float32{1, 2}, denseVector(v))
	assert.Nil(t, denseVector(nil))
}

// Runs against a live server when QDRANT_TEST_HOST is set
func TestStoreContract(t *testing.T) {
	host := os.Getenv("QDRANT_TEST_HOST")
	if host == "" {
		t.Skip("QDRANT_TEST_HOST not set")
	}
	port := 6334
	if p := os.Getenv("QDRANT_TEST_PORT"); p != "" {
		var err error
		port, err = strconv.Atoi(p)
		require.NoError(t, err)
	}

	storetest.Run(t, func(t *testing.T) storetest.Store {
		s, err := New(Options{
			Host:       host,
			Port:       port,
			Collection: "test_" + helper.PointUUID(t.Name())[:8],
			Dimension:  storetest.Dimension,
			Timeout:    10 * time.Second,
		}, zerolog.Nop())
		require.NoError(t, err)
		ctx := t.Context()
		require.NoError(t, s.Bootstrap(ctx))
		require.NoError(t, s.Reset(ctx))
		t.Cleanup(func() { s.Close() })
		return s
	})
}
