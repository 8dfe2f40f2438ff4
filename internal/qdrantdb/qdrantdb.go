// Package qdrantdb stores items in a Qdrant collection over gRPC.
package qdrantdb

import (
	"context"
	"fmt"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"github.com/rs/zerolog"

	"vector-search/internal/helper"
	"vector-search/internal/models"
)

const (
	backendName = "qdrant"
	// payload key holding the caller's item id; point ids must be UUIDs
	keyItemID   = "item_id"
	scrollPage  = 256
)

type Options struct {
	Host       string
	Port       int
	APIKey     string
	UseTLS     bool
	Collection string
	Dimension  int
	Timeout    time.Duration
}

type Store struct {
	client     *qdrant.Client
	collection string
	dimension  int
	timeout    time.Duration
	logger     zerolog.Logger
}

// New connects to Qdrant. The collection is created by Bootstrap.
func New(opts Options, logger zerolog.Logger) (*Store, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   opts.Host,
		Port:   opts.Port,
		APIKey: opts.APIKey,
		UseTLS: opts.UseTLS,
	})
	if err != nil {
		return nil, models.Unavailable("connect", err)
	}
	if !opts.UseTLS {
		logger.Warn().Str("host", opts.Host).Msg("Qdrant gRPC connection is not using TLS")
	}
	return &Store{
		client:     client,
		collection: opts.Collection,
		dimension:  opts.Dimension,
		timeout:    opts.Timeout,
		logger:     logger,
	}, nil
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

// Bootstrap creates the collection with cosine distance, or checks the
// vector size of the one already there
func (s *Store) Bootstrap(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return models.Unavailable("collection exists", err)
	}

	if !exists {
		err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: s.collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(s.dimension),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return models.Unavailable("create collection", err)
		}
		s.logger.Info().Str("collection", s.collection).Int("dimension", s.dimension).Msg("Created collection")
		return nil
	}

	info, err := s.client.GetCollectionInfo(ctx, s.collection)
	if err != nil {
		return models.Unavailable("collection info", err)
	}
	size := info.GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize()
	if size != 0 && int(size) != s.dimension {
		return fmt.Errorf("%w: collection %q has size %d, want %d",
			models.ErrDimensionMismatch, s.collection, size, s.dimension)
	}
	return nil
}

func (s *Store) Upsert(ctx context.Context, item models.Item) error {
	if err := models.CheckDimension(item.Vector, s.dimension); err != nil {
		return err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Wait:           qdrant.PtrOf(true),
		Points: []*qdrant.PointStruct{{
			Id:      qdrant.NewIDUUID(helper.PointUUID(item.ID)),
			Vectors: qdrant.NewVectors(item.Vector...),
			Payload: toPayload(item.ID, item.Metadata),
		}},
	})
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

	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(topK)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, models.Unavailable("query", err)
	}

	matches := make([]models.Match, 0, len(points))
	for _, p := range points {
		id, md := fromPayload(p.GetPayload())
		matches = append(matches, models.Match{ID: id, Score: p.GetScore(), Metadata: md})
	}
	return matches, nil
}

func (s *Store) Stats(ctx context.Context) (models.Stats, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	count, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: s.collection,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return models.Stats{}, models.Unavailable("count", err)
	}
	return models.Stats{
		Backend:        backendName,
		IndexName:      s.collection,
		TotalItemCount: int(count),
		Dimension:      s.dimension,
		Metric:         "cosine",
	}, nil
}

// Items scrolls the whole collection, vectors included
func (s *Store) Items(ctx context.Context) ([]models.Item, error) {
	var (
		items  []models.Item
		offset *qdrant.PointId
	)
	for {
		points, next, err := s.client.ScrollAndOffset(ctx, &qdrant.ScrollPoints{
			CollectionName: s.collection,
			Limit:          qdrant.PtrOf(uint32(scrollPage)),
			Offset:         offset,
			WithPayload:    qdrant.NewWithPayload(true),
			WithVectors:    qdrant.NewWithVectors(true),
		})
		if err != nil {
			return nil, models.Unavailable("scroll", err)
		}
		for _, p := range points {
			id, md := fromPayload(p.GetPayload())
			items = append(items, models.Item{
				ID:       id,
				Vector:   denseVector(p.GetVectors().GetVector()),
				Metadata: md,
			})
		}
		if next == nil || len(points) == 0 {
			break
		}
		offset = next
	}
	if items == nil {
		items = []models.Item{}
	}
	return items, nil
}

func (s *Store) Reset(ctx context.Context) error {
	if err := s.client.DeleteCollection(ctx, s.collection); err != nil {
		return models.Unavailable("delete collection", err)
	}
	return s.Bootstrap(ctx)
}

func (s *Store) Close() error {
	return s.client.Close()
}

func denseVector(v *qdrant.VectorOutput) []float32 {
	if dense := v.GetDense(); dense != nil {
		return dense.GetData()
	}
	return v.GetData()
}

func toPayload(id string, md models.Metadata) map[string]*qdrant.Value {
	payload := make(map[string]*qdrant.Value, len(md.Extra)+5)
	for k, v := range md.Extra {
		payload[k] = qdrant.NewValueString(v)
	}
	payload[keyItemID] = qdrant.NewValueString(id)
	payload[models.KeyTextPreview] = qdrant.NewValueString(md.TextPreview)
	if md.SourceFilename != "" {
		payload[models.KeySourceFilename] = qdrant.NewValueString(md.SourceFilename)
	}
	if md.PageNumber > 0 {
		payload[models.KeyPageNumber] = qdrant.NewValueInt(int64(md.PageNumber))
	}
	if md.ChunkIndex > 0 {
		payload[models.KeyChunkIndex] = qdrant.NewValueInt(int64(md.ChunkIndex))
	}
	return payload
}

func fromPayload(payload map[string]*qdrant.Value) (string, models.Metadata) {
	var (
		id string
		md models.Metadata
	)
	for k, v := range payload {
		switch k {
		case keyItemID:
			id = v.GetStringValue()
		case models.KeyTextPreview:
			md.TextPreview = v.GetStringValue()
		case models.KeySourceFilename:
			md.SourceFilename = v.GetStringValue()
		case models.KeyPageNumber:
			md.PageNumber = int(v.GetIntegerValue())
		case models.KeyChunkIndex:
			md.ChunkIndex = int(v.GetIntegerValue())
		default:
			if md.Extra == nil {
				md.Extra = make(map[string]string)
			}
			md.Extra[k] = v.GetStringValue()
		}
	}
	return id, md
}
