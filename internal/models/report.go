package models

// ChunkError records why a single chunk was not stored
type ChunkError struct {
	ChunkRef string `json:"chunk_ref"`
	Reason   string `json:"reason"`
}

// IngestionReport summarises one Ingest call. Partial success is normal.
type IngestionReport struct {
	Filename      string       `json:"filename"`
	PagesTotal    int          `json:"pages_total"`
	PagesDropped  int          `json:"pages_dropped"`
	ChunksTotal   int          `json:"chunks_total"`
	ChunksStored  int          `json:"chunks_stored"`
	ChunksDropped int          `json:"chunks_dropped"`
	// ChunksSkipped were never attempted because ingestion was aborted
	ChunksSkipped int          `json:"chunks_skipped"`
	AvgChunkSize  int          `json:"avg_chunk_size"`
	Errors        []ChunkError `json:"errors"`
}
