package vectorstore

import (
	"context"
	"time"

	"vector-search/internal/metrics"
	"vector-search/internal/models"
)

// instrumented records latency and failures of every call on the wrapped store
type instrumented struct {
	Store
	backend string
}

// Instrument wraps s with Prometheus latency and error metrics
func Instrument(s Store, backend string) Store {
	return &instrumented{Store: s, backend: backend}
}

func (s *instrumented) observe(op string, start time.Time, err error) {
	metrics.StoreDuration.WithLabelValues(s.backend, op).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.StoreErrors.WithLabelValues(s.backend, op).Inc()
	}
}

func (s *instrumented) Upsert(ctx context.Context, item models.Item) (err error) {
	defer func(start time.Time) { s.observe("upsert", start, err) }(time.Now())
	return s.Store.Upsert(ctx, item)
}

func (s *instrumented) Query(ctx context.Context, vector []float32, topK int) (matches []models.Match, err error) {
	defer func(start time.Time) { s.observe("query", start, err) }(time.Now())
	return s.Store.Query(ctx, vector, topK)
}

func (s *instrumented) Stats(ctx context.Context) (stats models.Stats, err error) {
	defer func(start time.Time) { s.observe("stats", start, err) }(time.Now())
	return s.Store.Stats(ctx)
}
