// Package sqlitedb keeps items in a single SQLite file and answers queries
// with an exact cosine scan.
package sqlitedb

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite" // SQLite driver

	"vector-search/internal/models"
)

const backendName = "sqlite"

const schema = `
CREATE TABLE IF NOT EXISTS index_meta (
	name TEXT PRIMARY KEY,
	dimension INTEGER NOT NULL,
	metric TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS items (
	index_name TEXT NOT NULL,
	id TEXT NOT NULL,
	text_preview TEXT NOT NULL,
	source_filename TEXT,
	page_number INTEGER,
	chunk_index INTEGER,
	extra TEXT,
	embedding BLOB NOT NULL,
	PRIMARY KEY (index_name, id)
);`

type Options struct {
	Path      string
	IndexName string
	Dimension int
	Timeout   time.Duration
}

type Store struct {
	db        *sql.DB
	path      string
	index     string
	dimension int
	timeout   time.Duration
	logger    zerolog.Logger
}

// Open opens or creates the database file with WAL journaling
func Open(opts Options, logger zerolog.Logger) (*Store, error) {
	if dir := filepath.Dir(opts.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", opts.Path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, models.Unavailable("open", err)
	}
	// one writer at a time
	db.SetMaxOpenConns(1)

	return &Store{
		db:        db,
		path:      opts.Path,
		index:     opts.IndexName,
		dimension: opts.Dimension,
		timeout:   opts.Timeout,
		logger:    logger,
	}, nil
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

// Bootstrap creates the schema and registers the index. A registered index
// with a different dimension is an error.
func (s *Store) Bootstrap(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return models.Unavailable("create schema", err)
	}

	var dim int
	err := s.db.QueryRowContext(ctx, "SELECT dimension FROM index_meta WHERE name = ?", s.index).Scan(&dim)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = s.db.ExecContext(ctx, "INSERT INTO index_meta (name, dimension, metric) VALUES (?, ?, 'cosine')",
			s.index, s.dimension)
		if err != nil {
			return models.Unavailable("register index", err)
		}
		s.logger.Debug().Str("index", s.index).Str("path", s.path).Msg("Registered index")
	case err != nil:
		return models.Unavailable("read index", err)
	case dim != s.dimension:
		return fmt.Errorf("%w: index %q has dimension %d, want %d",
			models.ErrDimensionMismatch, s.index, dim, s.dimension)
	}
	return nil
}

func (s *Store) Upsert(ctx context.Context, item models.Item) error {
	if err := models.CheckDimension(item.Vector, s.dimension); err != nil {
		return err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	extra, err := encodeExtra(item.Metadata.Extra)
	if err != nil {
		return err
	}
	md := item.Metadata
	_, err = s.db.ExecContext(ctx, `INSERT INTO items
		(index_name, id, text_preview, source_filename, page_number, chunk_index, extra, embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (index_name, id) DO UPDATE SET
			text_preview = excluded.text_preview,
			source_filename = excluded.source_filename,
			page_number = excluded.page_number,
			chunk_index = excluded.chunk_index,
			extra = excluded.extra,
			embedding = excluded.embedding`,
		s.index, item.ID, md.TextPreview, md.SourceFilename, md.PageNumber, md.ChunkIndex, extra,
		encodeEmbedding(item.Vector))
	if err != nil {
		return models.Unavailable("upsert", err)
	}
	return nil
}

type scored struct {
	item  models.Item
	score float64
}

// Query scans every item of the index
func (s *Store) Query(ctx context.Context, vector []float32, topK int) ([]models.Match, error) {
	if err := models.CheckDimension(vector, s.dimension); err != nil {
		return nil, err
	}
	if topK < 1 {
		return nil, models.ErrInvalidTopK
	}

	items, err := s.Items(ctx)
	if err != nil {
		return nil, err
	}

	qm := magnitude(vector)
	results := make([]scored, 0, len(items))
	for _, it := range items {
		m := magnitude(it.Vector)
		if qm == 0 || m == 0 {
			continue
		}
		score := dot(vector, it.Vector) / (qm * m)
		if math.IsNaN(score) {
			continue
		}
		results = append(results, scored{item: it, score: score})
	}
	sort.SliceStable(results, func(a, b int) bool { return results[a].score > results[b].score })

	matches := make([]models.Match, 0, min(topK, len(results)))
	for _, r := range results[:min(topK, len(results))] {
		matches = append(matches, models.Match{
			ID:       r.item.ID,
			Score:    float32(r.score),
			Metadata: r.item.Metadata,
		})
	}
	return matches, nil
}

func (s *Store) Stats(ctx context.Context) (models.Stats, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM items WHERE index_name = ?", s.index).Scan(&count); err != nil {
		return models.Stats{}, models.Unavailable("count", err)
	}
	return models.Stats{
		Backend:        backendName,
		IndexName:      s.index,
		TotalItemCount: count,
		Dimension:      s.dimension,
		Metric:         "cosine",
	}, nil
}

func (s *Store) Items(ctx context.Context) ([]models.Item, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `SELECT id, text_preview, source_filename, page_number, chunk_index, extra, embedding
		FROM items WHERE index_name = ? ORDER BY id`, s.index)
	if err != nil {
		return nil, models.Unavailable("list", err)
	}
	defer rows.Close()

	items := []models.Item{}
	for rows.Next() {
		var (
			it       models.Item
			source   sql.NullString
			page     sql.NullInt64
			chunk    sql.NullInt64
			extra    sql.NullString
			embedded []byte
		)
		if err := rows.Scan(&it.ID, &it.Metadata.TextPreview, &source, &page, &chunk, &extra, &embedded); err != nil {
			return nil, models.Unavailable("scan", err)
		}
		it.Metadata.SourceFilename = source.String
		it.Metadata.PageNumber = int(page.Int64)
		it.Metadata.ChunkIndex = int(chunk.Int64)
		if it.Metadata.Extra, err = decodeExtra(extra.String); err != nil {
			return nil, err
		}
		if it.Vector, err = decodeEmbedding(embedded); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, models.Unavailable("list", err)
	}
	return items, nil
}

func (s *Store) Reset(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM items WHERE index_name = ?", s.index); err != nil {
		return models.Unavailable("reset", err)
	}
	return s.Bootstrap(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

func encodeExtra(extra map[string]string) (any, error) {
	if len(extra) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(extra)
	if err != nil {
		return nil, fmt.Errorf("encoding metadata: %w", err)
	}
	return string(b), nil
}

func decodeExtra(s string) (map[string]string, error) {
	if s == "" {
		return nil, nil
	}
	var extra map[string]string
	if err := json.Unmarshal([]byte(s), &extra); err != nil {
		return nil, fmt.Errorf("decoding metadata: %w", err)
	}
	return extra, nil
}

// encodeEmbedding stores float32 values little-endian, without a length prefix
func encodeEmbedding(vec []float32) []byte {
	b := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(v))
	}
	return b
}

func decodeEmbedding(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("invalid embedding blob length %d", len(b))
	}
	vec := make([]float32, len(b)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return vec, nil
}

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

func magnitude(v []float32) float64 {
	return math.Sqrt(dot(v, v))
}
