package models

import (
	"errors"
	"fmt"
)

var (
	// ErrExtraction means the source bytes are not a well-formed document
	ErrExtraction = errors.New("extraction failed")
	// ErrEmptyDocument means the document parsed but yielded no pages
	ErrEmptyDocument = errors.New("document has no extractable text")
	// ErrEmbedding means the model rejected or failed on the input text
	ErrEmbedding = errors.New("embedding failed")
	// ErrDimensionMismatch means a vector does not have the configured length
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	// ErrStoreUnavailable means the vector store could not be reached in time
	ErrStoreUnavailable = errors.New("vector store unavailable")
	ErrEmptyQuery       = errors.New("query cannot be empty")
	ErrInvalidTopK      = errors.New("top_k must be at least 1")
)

// Unavailable wraps a backend failure as ErrStoreUnavailable
func Unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, op, err)
}
