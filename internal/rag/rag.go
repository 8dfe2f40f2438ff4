// Package rag ties extraction, chunking, embedding and the vector store into
// the ingest and search pipelines.
package rag

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"vector-search/internal/chunker"
	"vector-search/internal/embedding"
	"vector-search/internal/helper"
	"vector-search/internal/metrics"
	"vector-search/internal/models"
	"vector-search/internal/parser"
	"vector-search/internal/vectorstore"
)

type Options struct {
	// Concurrency bounds the chunks embedded and stored at once
	Concurrency  int
	PreviewChars int
}

// Pipeline is safe for concurrent use; it holds no per-request state
type Pipeline struct {
	embedder embedding.Embedder
	store    vectorstore.Store
	chunker  *chunker.Chunker
	opts     Options
	logger   zerolog.Logger
	now      func() time.Time
}

func NewPipeline(embedder embedding.Embedder, store vectorstore.Store, c *chunker.Chunker, opts Options, logger zerolog.Logger) *Pipeline {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	return &Pipeline{
		embedder: embedder,
		store:    store,
		chunker:  c,
		opts:     opts,
		logger:   logger.With().Str("component", "rag").Logger(),
		now:      time.Now,
	}
}

// Chunks extracts and chunks a document without embedding it
func (p *Pipeline) Chunks(data []byte, filename string) ([]models.Chunk, chunker.Dropped, int, error) {
	pages, err := parser.Extract(data, filename)
	if err != nil {
		return nil, chunker.Dropped{}, 0, err
	}
	if len(pages) == 0 {
		return nil, chunker.Dropped{}, 0, fmt.Errorf("%w: %s", models.ErrEmptyDocument, filename)
	}
	chunks, dropped := p.chunker.ChunkPages(pages)
	return chunks, dropped, len(pages), nil
}

type chunkResult struct {
	stored  bool
	skipped bool
	err     error
}

// Ingest stores every chunk of a document. Per-chunk failures land in the
// report and do not stop the others. Extraction failures, empty documents
// and dimension mismatches are returned as errors.
func (p *Pipeline) Ingest(ctx context.Context, data []byte, filename string) (models.IngestionReport, error) {
	report := models.IngestionReport{Filename: filename, Errors: []models.ChunkError{}}
	logger := p.logger.With().Str("filename", filename).Logger()

	chunks, dropped, pages, err := p.Chunks(data, filename)
	if err != nil {
		metrics.DocumentsIngested.WithLabelValues("rejected").Inc()
		return report, err
	}

	report.PagesTotal = pages
	report.PagesDropped = dropped.Pages
	report.ChunksTotal = len(chunks)
	report.ChunksDropped = dropped.Chunks
	metrics.ChunksProcessed.WithLabelValues("dropped").Add(float64(dropped.Chunks))

	var totalSize int
	for _, c := range chunks {
		totalSize += c.Size
	}
	if len(chunks) > 0 {
		report.AvgChunkSize = totalSize / len(chunks)
	}

	logger.Debug().
		Int("pages", pages).
		Int("chunks", len(chunks)).
		Int("chunks_dropped", dropped.Chunks).
		Msg("Document chunked")

	results := make([]chunkResult, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Concurrency)
	for i, c := range chunks {
		g.Go(func() error {
			if context.Cause(gctx) != nil {
				results[i].skipped = true
				return nil
			}
			err := p.storeChunk(gctx, c)
			results[i] = chunkResult{stored: err == nil, err: err}
			if errors.Is(err, models.ErrDimensionMismatch) {
				return err
			}
			return nil
		})
	}
	fatal := g.Wait()

	// results follow page then chunk order, so errors come out sorted
	for i, r := range results {
		switch {
		case r.stored:
			report.ChunksStored++
			continue
		case r.skipped:
			report.ChunksSkipped++
			continue
		case r.err == nil:
			continue
		}
		c := chunks[i]
		report.Errors = append(report.Errors, models.ChunkError{
			ChunkRef: helper.ChunkID(c.SourceFilename, c.PageNumber, c.Index),
			Reason:   r.err.Error(),
		})
	}
	metrics.ChunksProcessed.WithLabelValues("stored").Add(float64(report.ChunksStored))
	metrics.ChunksProcessed.WithLabelValues("failed").Add(float64(len(report.Errors)))

	if fatal != nil {
		metrics.DocumentsIngested.WithLabelValues("failed").Inc()
		logger.Error().Err(fatal).Int("chunks_skipped", report.ChunksSkipped).Msg("Ingestion aborted")
		return report, fatal
	}

	result := "ok"
	if len(report.Errors) > 0 {
		result = "partial"
	}
	metrics.DocumentsIngested.WithLabelValues(result).Inc()

	logger.Info().
		Int("chunks_total", report.ChunksTotal).
		Int("chunks_stored", report.ChunksStored).
		Int("errors", len(report.Errors)).
		Msg("Document ingested")
	return report, nil
}

func (p *Pipeline) storeChunk(ctx context.Context, c models.Chunk) error {
	id := helper.ChunkID(c.SourceFilename, c.PageNumber, c.Index)

	vector, err := p.embedder.Embed(ctx, c.Text)
	if err != nil {
		p.logger.Warn().Err(err).Str("id", id).Msg("Embedding failed")
		return err
	}

	item := models.Item{
		ID:     id,
		Vector: vector,
		Metadata: models.Metadata{
			TextPreview:    helper.Preview(c.Text, p.opts.PreviewChars),
			SourceFilename: c.SourceFilename,
			PageNumber:     c.PageNumber,
			ChunkIndex:     c.Index,
			Extra: map[string]string{
				models.KeyKind:      models.KindChunk,
				models.KeyChunkSize: strconv.Itoa(c.Size),
			},
		},
	}
	if err := p.store.Upsert(ctx, item); err != nil {
		p.logger.Warn().Err(err).Str("id", id).Msg("Upsert failed")
		return err
	}
	p.logger.Debug().Str("id", id).Int("size", c.Size).Msg("Chunk stored")
	return nil
}

// Search embeds text and returns the topK closest items
func (p *Pipeline) Search(ctx context.Context, text string, topK int) ([]models.Match, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		metrics.Searches.WithLabelValues("rejected").Inc()
		return nil, models.ErrEmptyQuery
	}
	if topK < 1 {
		metrics.Searches.WithLabelValues("rejected").Inc()
		return nil, models.ErrInvalidTopK
	}

	vector, err := p.embedder.Embed(ctx, text)
	if err != nil {
		metrics.Searches.WithLabelValues("failed").Inc()
		return nil, err
	}

	matches, err := p.store.Query(ctx, vector, topK)
	if err != nil {
		metrics.Searches.WithLabelValues("failed").Inc()
		return nil, err
	}
	metrics.Searches.WithLabelValues("ok").Inc()

	p.logger.Debug().Str("query", text).Int("top_k", topK).Int("matches", len(matches)).Msg("Search done")
	return matches, nil
}

// AddQuery stores a raw query as an item of its own and returns its id
func (p *Pipeline) AddQuery(ctx context.Context, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", models.ErrEmptyQuery
	}

	vector, err := p.embedder.Embed(ctx, text)
	if err != nil {
		return "", err
	}

	id := helper.QueryID(text, p.now())
	item := models.Item{
		ID:     id,
		Vector: vector,
		Metadata: models.Metadata{
			TextPreview: helper.Preview(text, p.opts.PreviewChars),
			Extra: map[string]string{
				models.KeyQueryText: text,
				models.KeyKind:      models.KindQuery,
			},
		},
	}
	if err := p.store.Upsert(ctx, item); err != nil {
		return "", err
	}
	p.logger.Info().Str("id", id).Msg("Query added")
	return id, nil
}

func (p *Pipeline) Stats(ctx context.Context) (models.Stats, error) {
	return p.store.Stats(ctx)
}

func (p *Pipeline) Items(ctx context.Context) ([]models.Item, error) {
	return p.store.Items(ctx)
}

// Reset empties the index
func (p *Pipeline) Reset(ctx context.Context) error {
	p.logger.Warn().Msg("Resetting index")
	return p.store.Reset(ctx)
}
