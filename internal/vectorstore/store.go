// Package vectorstore defines the contract every vector index backend
// implements and builds the configured backend.
package vectorstore

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"vector-search/internal/chromemdb"
	"vector-search/internal/config"
	"vector-search/internal/db"
	"vector-search/internal/models"
	"vector-search/internal/qdrantdb"
	"vector-search/internal/sqlitedb"
)

// Store upserts items and answers top-k cosine similarity queries.
//
// Implementations are safe for concurrent use by multiple in-flight
// requests. Upsert and Query check the vector length against the
// configured dimension before touching the index and fail with
// models.ErrDimensionMismatch. Connectivity failures and timeouts fail
// with models.ErrStoreUnavailable. Query on an empty index returns an
// empty slice.
type Store interface {
	// Bootstrap creates the index with the configured dimension and metric
	// if it does not exist yet. It is idempotent.
	Bootstrap(ctx context.Context) error
	// Upsert inserts the item or overwrites the item with the same id
	Upsert(ctx context.Context, item models.Item) error
	// Query returns at most topK matches ordered by score descending
	Query(ctx context.Context, vector []float32, topK int) ([]models.Match, error)
	Stats(ctx context.Context) (models.Stats, error)
	// Items lists every stored item, vectors included
	Items(ctx context.Context) ([]models.Item, error)
	// Reset drops every item and bootstraps an empty index
	Reset(ctx context.Context) error
	Close() error
}

// New opens the backend named by cfg.Backend and bootstraps its index once
func New(ctx context.Context, cfg config.StoreConfig, logger zerolog.Logger) (Store, error) {
	logger = logger.With().Str("component", "store").Str("backend", cfg.Backend).Logger()

	var (
		store Store
		err   error
	)
	switch cfg.Backend {
	case config.BackendChromem:
		store, err = chromemdb.NewVectorDBManager(chromemdb.Options{
			Path:          cfg.Chromem.Path,
			InMemory:      cfg.Chromem.InMemory,
			Compress:      cfg.Chromem.Compress,
			EncryptionKey: cfg.Chromem.EncryptionKey,
			Collection:    cfg.IndexName,
			Dimension:     cfg.Dimension,
			Timeout:       cfg.Timeout(),
		}, logger)
	case config.BackendQdrant:
		store, err = qdrantdb.New(qdrantdb.Options{
			Host:       cfg.Qdrant.Host,
			Port:       cfg.Qdrant.Port,
			APIKey:     cfg.Qdrant.APIKey,
			UseTLS:     cfg.Qdrant.UseTLS,
			Collection: cfg.IndexName,
			Dimension:  cfg.Dimension,
			Timeout:    cfg.Timeout(),
		}, logger)
	case config.BackendPostgres:
		store, err = db.Open(db.Options{
			DSN:       cfg.Postgres.DSN,
			Password:  cfg.Postgres.Password,
			Driver:    cfg.Postgres.Driver,
			Debug:     cfg.Postgres.Debug,
			IndexName: cfg.IndexName,
			Dimension: cfg.Dimension,
			Timeout:   cfg.Timeout(),
		}, logger)
	case config.BackendSQLite:
		store, err = sqlitedb.Open(sqlitedb.Options{
			Path:      cfg.SQLite.Path,
			IndexName: cfg.IndexName,
			Dimension: cfg.Dimension,
			Timeout:   cfg.Timeout(),
		}, logger)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}

	if err := store.Bootstrap(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to bootstrap %s index %q: %w", cfg.Backend, cfg.IndexName, err)
	}
	logger.Info().Str("index", cfg.IndexName).Int("dimension", cfg.Dimension).Msg("Vector store ready")

	return Instrument(store, cfg.Backend), nil
}
