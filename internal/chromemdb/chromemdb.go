package chromemdb

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog"

	"vector-search/internal/models"
)

const backendName = "chromem"

// Options configures a VectorDBManager
type Options struct {
	Path          string
	InMemory      bool
	Compress      bool
	EncryptionKey string
	Collection    string
	Dimension     int
	Timeout       time.Duration
}

// VectorDBManager stores items in an embedded chromem-go database, either
// persisted under Path or held in memory
type VectorDBManager struct {
	db            *chromem.DB
	collection    *chromem.Collection
	name          string
	dimension     int
	timeout       time.Duration
	dbPath        string
	compress      bool
	encryptionKey string
	filePath      string
	logger        zerolog.Logger
}

// embeddings are always computed by the pipeline, never by chromem
func refuseEmbedding(context.Context, string) ([]float32, error) {
	return nil, errors.New("chromem collection requires precomputed embeddings")
}

// NewVectorDBManager initializes a new vector database manager
func NewVectorDBManager(opts Options, logger zerolog.Logger) (*VectorDBManager, error) {
	var (
		db  *chromem.DB
		err error
	)
	if opts.InMemory {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(opts.Path, opts.Compress)
		if err != nil {
			return nil, fmt.Errorf("failed to create database: %w", err)
		}
	}
	return newManager(db, opts, logger), nil
}

func newManager(db *chromem.DB, opts Options, logger zerolog.Logger) *VectorDBManager {
	return &VectorDBManager{
		db:            db,
		name:          opts.Collection,
		dimension:     opts.Dimension,
		timeout:       opts.Timeout,
		dbPath:        opts.Path,
		compress:      opts.Compress,
		encryptionKey: opts.EncryptionKey,
		filePath:      filepath.Join(opts.Path, opts.Collection+".chromem"),
		logger:        logger,
	}
}

// Bootstrap gets or creates the collection. A persisted collection whose
// vectors have another length fails with models.ErrDimensionMismatch.
func (m *VectorDBManager) Bootstrap(ctx context.Context) error {
	meta := map[string]string{
		"dimension": strconv.Itoa(m.dimension),
		"metric":    "cosine",
	}
	c, err := m.db.GetOrCreateCollection(m.name, meta, refuseEmbedding)
	if err != nil {
		return models.Unavailable("create collection", err)
	}
	if c.Count() > 0 {
		if err := m.checkStoredDimension(ctx, c); err != nil {
			return err
		}
	}
	m.collection = c
	m.logger.Debug().Str("collection", m.name).Int("count", c.Count()).Msg("Collection ready")
	return nil
}

// chromem does not expose collection metadata, so a one-result query with a
// vector of the configured length is what reveals stored vectors of another length
func (m *VectorDBManager) checkStoredDimension(ctx context.Context, c *chromem.Collection) error {
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	_, err := c.QueryEmbedding(ctx, unitVector(m.dimension), 1, nil, nil)
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return models.Unavailable("check dimension", err)
	default:
		return fmt.Errorf("%w: collection %q does not hold %d-dimensional vectors: %v",
			models.ErrDimensionMismatch, m.name, m.dimension, err)
	}
}

func unitVector(dim int) []float32 {
	v := make([]float32, dim)
	v[0] = 1
	return v
}

func (m *VectorDBManager) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, m.timeout)
}

func (m *VectorDBManager) Upsert(ctx context.Context, item models.Item) error {
	if err := models.CheckDimension(item.Vector, m.dimension); err != nil {
		return err
	}
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	doc := chromem.Document{
		ID:        item.ID,
		Metadata:  item.Metadata.Flatten(),
		Embedding: append([]float32(nil), item.Vector...),
		Content:   item.Metadata.TextPreview,
	}
	if err := m.collection.AddDocument(ctx, doc); err != nil {
		return models.Unavailable("add document", err)
	}
	return nil
}

func (m *VectorDBManager) Query(ctx context.Context, vector []float32, topK int) ([]models.Match, error) {
	if err := models.CheckDimension(vector, m.dimension); err != nil {
		return nil, err
	}
	if topK < 1 {
		return nil, models.ErrInvalidTopK
	}

	// chromem rejects nResults above the document count
	n := min(topK, m.collection.Count())
	if n == 0 {
		return []models.Match{}, nil
	}

	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	results, err := m.collection.QueryEmbedding(ctx, vector, n, nil, nil)
	if err != nil {
		return nil, models.Unavailable("query", err)
	}

	matches := make([]models.Match, 0, len(results))
	for _, r := range results {
		matches = append(matches, models.Match{
			ID:       r.ID,
			Score:    r.Similarity,
			Metadata: models.MetadataFromMap(r.Metadata),
		})
	}
	return matches, nil
}

func (m *VectorDBManager) Stats(context.Context) (models.Stats, error) {
	return models.Stats{
		Backend:        backendName,
		IndexName:      m.name,
		TotalItemCount: m.collection.Count(),
		Dimension:      m.dimension,
		Metric:         "cosine",
	}, nil
}

// Items lists every document. Vectors come back unit length since chromem
// normalises on insert: directions are kept, magnitudes are not.
func (m *VectorDBManager) Items(ctx context.Context) ([]models.Item, error) {
	n := m.collection.Count()
	if n == 0 {
		return []models.Item{}, nil
	}

	// any unit vector ranks every document
	results, err := m.collection.QueryEmbedding(ctx, unitVector(m.dimension), n, nil, nil)
	if err != nil {
		return nil, models.Unavailable("list documents", err)
	}

	items := make([]models.Item, 0, len(results))
	for _, r := range results {
		items = append(items, models.Item{
			ID:       r.ID,
			Vector:   r.Embedding,
			Metadata: models.MetadataFromMap(r.Metadata),
		})
	}
	return items, nil
}

// Reset deletes the collection and recreates it empty
func (m *VectorDBManager) Reset(ctx context.Context) error {
	if err := m.db.DeleteCollection(m.name); err != nil {
		return fmt.Errorf("failed to drop collection: %w", err)
	}
	return m.Bootstrap(ctx)
}

func (m *VectorDBManager) Close() error {
	return nil
}

// Export writes the collection to an encrypted snapshot file
func (m *VectorDBManager) Export(path string) error {
	if m.encryptionKey == "" {
		return fmt.Errorf("encryption key is required")
	}
	if path == "" {
		path = m.filePath
	}

	m.logger.Debug().
		Str("collection", m.name).
		Str("file", path).
		Bool("compress", m.compress).
		Msg("Exporting collection")

	if err := m.db.ExportToFile(path, m.compress, m.encryptionKey, m.name); err != nil {
		return fmt.Errorf("failed to export database: %w", err)
	}
	return nil
}

// Import loads the collection from a snapshot written by Export
func (m *VectorDBManager) Import(ctx context.Context, path string) error {
	if m.encryptionKey == "" {
		return fmt.Errorf("encryption key is required")
	}
	if path == "" {
		path = m.filePath
	}
	if err := m.db.ImportFromFile(path, m.encryptionKey, m.name); err != nil {
		return fmt.Errorf("failed to import database: %w", err)
	}
	// the imported collection replaces the one we hold
	return m.Bootstrap(ctx)
}
