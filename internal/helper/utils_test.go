package helper

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vector-search/internal/models"
)

func TestChunkID(t *testing.T) {
	tests := []struct {
		filename string
		page     int
		chunk    int
		want     string
	}{
		{"report.pdf", 1, 1, "report_1_1"},
		{"Annual Report 2023.PDF", 4, 12, "AnnualReport2023_4_12"},
		{"/tmp/uploads/my notes.docx", 2, 3, "mynotes_2_3"},
		{"archive.pdf.bak", 1, 2, "archive.pdf.bak_1_2"},
		{"plain", 7, 1, "plain_7_1"},
	}
	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			assert.Equal(t, tt.want, ChunkID(tt.filename, tt.page, tt.chunk))
		})
	}
}

func TestChunkIDDistinctWithinRun(t *testing.T) {
	seen := map[string]bool{}
	for page := 1; page <= 12; page++ {
		for chunk := 1; chunk <= 12; chunk++ {
			id := ChunkID("doc.pdf", page, chunk)
			require.False(t, seen[id], "duplicate id %s", id)
			seen[id] = true
		}
	}
}

func TestQueryID(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	id := QueryID("what is a vector", ts)
	assert.Len(t, id, 32)
	assert.Equal(t, id, QueryID("what is a vector", ts))
	assert.NotEqual(t, id, QueryID("what is a vector", ts.Add(time.Microsecond)))
	assert.NotEqual(t, id, QueryID("what is a matrix", ts))
}

func TestPointUUID(t *testing.T) {
	a := PointUUID("report_1_1")
	_, err := uuid.Parse(a)
	require.NoError(t, err)
	assert.Equal(t, a, PointUUID("report_1_1"))
	assert.NotEqual(t, a, PointUUID("report_1_2"))
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "hello", Preview("hello", 10))
	assert.Equal(t, "hel", Preview("hello", 3))
	assert.Equal(t, "hello", Preview("hello", 0))
	assert.Equal(t, "café", Preview("café", 4))
	assert.Equal(t, "caf", Preview("café au lait", 3))
	assert.Equal(t, "αβγ", Preview("αβγδε", 3))
}

func TestFormatMatches(t *testing.T) {
	assert.Equal(t, "No results found.", FormatMatches(nil))

	out := FormatMatches([]models.Match{
		{ID: "a", Score: 0.91234, Metadata: models.Metadata{TextPreview: "first\nchunk", SourceFilename: "doc.pdf", PageNumber: 2, ChunkIndex: 1}},
		{ID: "b", Score: 0.5, Metadata: models.Metadata{Extra: map[string]string{models.KeyQueryText: "stored query"}}},
	})
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 5)
	assert.Equal(t, "1. first chunk", lines[0])
	assert.Equal(t, "   Source: doc.pdf (page 2, chunk 1)", lines[1])
	assert.Equal(t, "   Similarity: 0.9123", lines[2])
	assert.Equal(t, "2. stored query", lines[3])
	assert.Equal(t, "   Similarity: 0.5000", lines[4])
}
