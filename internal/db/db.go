// Package db stores items in a Postgres table with a pgvector column.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"

	"vector-search/internal/models"
)

const (
	backendName = "pgvector"

	DriverPG = "pgdriver"
	DriverPQ = "pq"
)

// Document is one row of an index table. The table name is the index name.
type Document struct {
	bun.BaseModel  `bun:"table:documents,alias:d"`
	ID             string            `bun:"id,pk"`
	TextPreview    string            `bun:"text_preview,notnull"`
	SourceFilename string            `bun:"source_filename"`
	PageNumber     int               `bun:"page_number"`
	ChunkIndex     int               `bun:"chunk_index"`
	Extra          map[string]string `bun:"extra,type:jsonb"`
	Embedding      pgvector.Vector   `bun:"embedding,type:vector"`
	Score          float32           `bun:"score,scanonly"`
}

type Options struct {
	DSN       string
	Password  string
	Driver    string
	Debug     bool
	IndexName string
	Dimension int
	Timeout   time.Duration
}

type Store struct {
	db        *bun.DB
	table     string
	dimension int
	timeout   time.Duration
	logger    zerolog.Logger
}

// ConnectDB opens a database handle with the chosen driver
func ConnectDB(driver, dsn, password string) (*sql.DB, error) {
	switch driver {
	case DriverPQ:
		return sql.Open("postgres", dsn)
	case DriverPG, "":
		opts := []pgdriver.Option{pgdriver.WithDSN(dsn)}
		if password != "" {
			opts = append(opts, pgdriver.WithPassword(password))
		}
		return sql.OpenDB(pgdriver.NewConnector(opts...)), nil
	default:
		return nil, fmt.Errorf("unknown postgres driver %q", driver)
	}
}

func NewDB(sqldb *sql.DB, debug bool) *bun.DB {
	db := bun.NewDB(sqldb, pgdialect.New())
	if debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	return db
}

// Open connects to Postgres. Tables are created by Bootstrap.
func Open(opts Options, logger zerolog.Logger) (*Store, error) {
	sqldb, err := ConnectDB(opts.Driver, opts.DSN, opts.Password)
	if err != nil {
		return nil, models.Unavailable("connect", err)
	}
	return &Store{
		db:        NewDB(sqldb, opts.Debug),
		table:     opts.IndexName,
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

func (s *Store) tableExpr() (string, bun.Ident) {
	return "? AS d", bun.Ident(s.table)
}

// Bootstrap creates the extension, the table and its HNSW index. An existing
// table must have the configured vector dimension.
func (s *Store) Bootstrap(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return models.Unavailable("create extension", err)
	}

	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS ? (
		id text PRIMARY KEY,
		text_preview text NOT NULL,
		source_filename text,
		page_number integer,
		chunk_index integer,
		extra jsonb,
		embedding vector(?) NOT NULL
	)`, bun.Ident(s.table), s.dimension)
	if err != nil {
		return models.Unavailable("create table", err)
	}

	var typmod int
	err = s.db.NewRaw(`SELECT a.atttypmod FROM pg_attribute a
		JOIN pg_class c ON c.oid = a.attrelid
		WHERE c.relname = ? AND pg_table_is_visible(c.oid) AND a.attname = 'embedding'`, s.table).
		Scan(ctx, &typmod)
	if err != nil {
		return models.Unavailable("inspect table", err)
	}
	if typmod > 0 && typmod != s.dimension {
		return fmt.Errorf("%w: table %q has vector(%d), want %d",
			models.ErrDimensionMismatch, s.table, typmod, s.dimension)
	}

	_, err = s.db.ExecContext(ctx, "CREATE INDEX IF NOT EXISTS ? ON ? USING hnsw (embedding vector_cosine_ops)",
		bun.Ident(s.table+"_embedding_idx"), bun.Ident(s.table))
	if err != nil {
		return models.Unavailable("create index", err)
	}
	return nil
}

func (s *Store) Upsert(ctx context.Context, item models.Item) error {
	if err := models.CheckDimension(item.Vector, s.dimension); err != nil {
		return err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	doc := &Document{
		ID:             item.ID,
		TextPreview:    item.Metadata.TextPreview,
		SourceFilename: item.Metadata.SourceFilename,
		PageNumber:     item.Metadata.PageNumber,
		ChunkIndex:     item.Metadata.ChunkIndex,
		Extra:          item.Metadata.Extra,
		Embedding:      pgvector.NewVector(item.Vector),
	}
	expr, table := s.tableExpr()
	_, err := s.db.NewInsert().
		Model(doc).
		ModelTableExpr(expr, table).
		On("CONFLICT (id) DO UPDATE").
		Set("text_preview = EXCLUDED.text_preview").
		Set("source_filename = EXCLUDED.source_filename").
		Set("page_number = EXCLUDED.page_number").
		Set("chunk_index = EXCLUDED.chunk_index").
		Set("extra = EXCLUDED.extra").
		Set("embedding = EXCLUDED.embedding").
		Exec(ctx)
	if err != nil {
		return models.Unavailable("upsert", err)
	}
	return nil
}

func (s *Store) Query(ctx context.Context, vector []float32, topK int) ([]models.Match, error) {
	if err := models.CheckDimension(vector, s.dimension); err != nil {
		return nil, err
	}
	if topK < 1 {
		return nil, models.ErrInvalidTopK
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	q := pgvector.NewVector(vector)
	var docs []Document
	expr, table := s.tableExpr()
	err := s.db.NewSelect().
		Model(&docs).
		ModelTableExpr(expr, table).
		Column("id", "text_preview", "source_filename", "page_number", "chunk_index", "extra").
		ColumnExpr("1 - (embedding <=> ?) AS score", q).
		OrderExpr("embedding <=> ?", q).
		Limit(topK).
		Scan(ctx)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, models.Unavailable("query", err)
	}

	matches := make([]models.Match, 0, len(docs))
	for _, d := range docs {
		matches = append(matches, models.Match{ID: d.ID, Score: d.Score, Metadata: d.metadata()})
	}
	return matches, nil
}

func (s *Store) Stats(ctx context.Context) (models.Stats, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	expr, table := s.tableExpr()
	count, err := s.db.NewSelect().Model((*Document)(nil)).ModelTableExpr(expr, table).Count(ctx)
	if err != nil {
		return models.Stats{}, models.Unavailable("count", err)
	}
	return models.Stats{
		Backend:        backendName,
		IndexName:      s.table,
		TotalItemCount: count,
		Dimension:      s.dimension,
		Metric:         "cosine",
	}, nil
}

func (s *Store) Items(ctx context.Context) ([]models.Item, error) {
	var docs []Document
	expr, table := s.tableExpr()
	err := s.db.NewSelect().
		Model(&docs).
		ModelTableExpr(expr, table).
		Column("id", "text_preview", "source_filename", "page_number", "chunk_index", "extra", "embedding").
		Order("id").
		Scan(ctx)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, models.Unavailable("list", err)
	}

	items := make([]models.Item, 0, len(docs))
	for _, d := range docs {
		items = append(items, models.Item{ID: d.ID, Vector: d.Embedding.Slice(), Metadata: d.metadata()})
	}
	return items, nil
}

func (s *Store) Reset(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DROP TABLE IF EXISTS ?", bun.Ident(s.table)); err != nil {
		return models.Unavailable("drop table", err)
	}
	return s.Bootstrap(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (d Document) metadata() models.Metadata {
	return models.Metadata{
		TextPreview:    d.TextPreview,
		SourceFilename: d.SourceFilename,
		PageNumber:     d.PageNumber,
		ChunkIndex:     d.ChunkIndex,
		Extra:          d.Extra,
	}
}
