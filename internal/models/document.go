package models

// Document is a named byte sequence submitted for ingestion
type Document struct {
	Filename string
	Data     []byte
}

// Page is the extracted text of one page, numbered from 1
type Page struct {
	Number         int
	Text           string
	SourceFilename string
}

// Chunk represents a paragraph-aligned span of a single page
type Chunk struct {
	Text           string
	SourceFilename string
	PageNumber     int
	Index          int
	Size           int
}
