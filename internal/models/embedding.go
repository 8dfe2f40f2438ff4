package models

import (
	"fmt"
	"strconv"
)

// metadata keys shared by every store backend
const (
	KeyTextPreview    = "text_preview"
	KeySourceFilename = "source_filename"
	KeyPageNumber     = "page_number"
	KeyChunkIndex     = "chunk_index"
	KeyQueryText      = "query_text"
	KeyKind           = "kind"
	KeyChunkSize      = "chunk_size"

	KindChunk = "chunk"
	KindQuery = "query"
)

// Metadata is the fixed metadata schema stored next to every vector.
// Extra carries keys outside the schema.
type Metadata struct {
	TextPreview    string            `json:"text_preview"`
	SourceFilename string            `json:"source_filename,omitempty"`
	PageNumber     int               `json:"page_number,omitempty"`
	ChunkIndex     int               `json:"chunk_index,omitempty"`
	Extra          map[string]string `json:"extra,omitempty"`
}

// Item is the unit of record in a vector store
type Item struct {
	ID       string    `json:"id"`
	Vector   []float32 `json:"vector"`
	Metadata Metadata  `json:"metadata"`
}

// Match is a single similarity search hit
type Match struct {
	ID       string   `json:"id"`
	Score    float32  `json:"score"`
	Metadata Metadata `json:"metadata"`
}

// Stats is a best-effort snapshot of a store
type Stats struct {
	Backend        string `json:"backend"`
	IndexName      string `json:"index_name"`
	TotalItemCount int    `json:"total_item_count"`
	Dimension      int    `json:"dimension"`
	Metric         string `json:"metric"`
}

// Flatten renders the metadata as a string map. Schema keys win over Extra.
func (m Metadata) Flatten() map[string]string {
	out := make(map[string]string, len(m.Extra)+4)
	for k, v := range m.Extra {
		out[k] = v
	}
	out[KeyTextPreview] = m.TextPreview
	if m.SourceFilename != "" {
		out[KeySourceFilename] = m.SourceFilename
	}
	if m.PageNumber > 0 {
		out[KeyPageNumber] = strconv.Itoa(m.PageNumber)
	}
	if m.ChunkIndex > 0 {
		out[KeyChunkIndex] = strconv.Itoa(m.ChunkIndex)
	}
	return out
}

// MetadataFromMap is the inverse of Flatten
func MetadataFromMap(in map[string]string) Metadata {
	var m Metadata
	for k, v := range in {
		switch k {
		case KeyTextPreview:
			m.TextPreview = v
		case KeySourceFilename:
			m.SourceFilename = v
		case KeyPageNumber:
			m.PageNumber, _ = strconv.Atoi(v)
		case KeyChunkIndex:
			m.ChunkIndex, _ = strconv.Atoi(v)
		default:
			if m.Extra == nil {
				m.Extra = make(map[string]string)
			}
			m.Extra[k] = v
		}
	}
	return m
}

// Label returns the text shown for a match: the stored query text for
// ad-hoc queries, the preview otherwise.
func (m Metadata) Label() string {
	if q, ok := m.Extra[KeyQueryText]; ok && q != "" {
		return q
	}
	return m.TextPreview
}

// CheckDimension fails with ErrDimensionMismatch unless len(vector) == dim
func CheckDimension(vector []float32, dim int) error {
	if len(vector) != dim {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vector), dim)
	}
	return nil
}
