package embedding

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"golang.org/x/time/rate"

	"vector-search/internal/config"
	"vector-search/internal/metrics"
	"vector-search/internal/models"
)

// Embedder maps text to a fixed-length vector. Implementations must be
// safe for concurrent use and deterministic for the same model version.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// LLMEmbedder embeds through a langchaingo embedder backed by ollama or an
// OpenAI compatible endpoint
type LLMEmbedder struct {
	embedder  embeddings.Embedder
	dimension int
	timeout   time.Duration
	limiter   *rate.Limiter
	provider  string
	logger    zerolog.Logger
}

// New builds the embedder selected by cfg.Provider
func New(cfg config.EmbedderConfig, logger zerolog.Logger) (Embedder, error) {
	switch cfg.Provider {
	case config.ProviderHash:
		return NewHashEmbedder(cfg.Dimension), nil
	case config.ProviderOllama, config.ProviderOpenAI:
		return NewLLMEmbedder(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown embedder provider %q", cfg.Provider)
	}
}

// NewLLMEmbedder creates an embedder for the ollama or openai provider
func NewLLMEmbedder(cfg config.EmbedderConfig, logger zerolog.Logger) (*LLMEmbedder, error) {
	logger.Debug().Interface("config", map[string]string{
		"provider":        cfg.Provider,
		"base_url":        cfg.BaseURL,
		"embedding_model": cfg.Model,
	}).Msg("Creating embedder")

	var (
		client embeddings.EmbedderClient
		err    error
	)
	switch cfg.Provider {
	case config.ProviderOllama:
		client, err = ollama.New(
			ollama.WithServerURL(cfg.BaseURL),
			ollama.WithModel(cfg.Model),
		)
	case config.ProviderOpenAI:
		opts := []openai.Option{
			openai.WithToken(strings.TrimPrefix(cfg.Key, "Bearer ")),
			openai.WithEmbeddingModel(cfg.Model),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		client, err = openai.New(opts...)
	default:
		return nil, fmt.Errorf("provider %q is not an LLM provider", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize %s client: %w", cfg.Provider, err)
	}

	embedder, err := embeddings.NewEmbedder(client)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	return NewLLMEmbedderFrom(embedder, cfg, logger), nil
}

// NewLLMEmbedderFrom wraps an existing langchaingo embedder
func NewLLMEmbedderFrom(embedder embeddings.Embedder, cfg config.EmbedderConfig, logger zerolog.Logger) *LLMEmbedder {
	e := &LLMEmbedder{
		embedder:  embedder,
		dimension: cfg.Dimension,
		timeout:   cfg.Timeout(),
		provider:  cfg.Provider,
		logger:    logger.With().Str("component", "embedder").Str("provider", cfg.Provider).Logger(),
	}
	if cfg.RateLimit > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}
	return e
}

func (e *LLMEmbedder) Dimension() int {
	return e.dimension
}

// Embed fails with models.ErrEmbedding on empty text, provider errors and
// timeouts, and with models.ErrDimensionMismatch when the model returns a
// vector of the wrong length
func (e *LLMEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: empty text", models.ErrEmbedding)
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: rate limiter: %v", models.ErrEmbedding, err)
		}
	}

	start := time.Now()
	vector, err := e.embedder.EmbedQuery(ctx, text)
	metrics.EmbedDuration.WithLabelValues(e.provider).Observe(time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: timed out after %s", models.ErrEmbedding, e.timeout)
		}
		e.logger.Debug().Err(err).Int("text_len", len(text)).Msg("Embedding request failed")
		return nil, fmt.Errorf("%w: %v", models.ErrEmbedding, err)
	}
	if len(vector) == 0 {
		return nil, fmt.Errorf("%w: model returned an empty vector", models.ErrEmbedding)
	}
	if err := models.CheckDimension(vector, e.dimension); err != nil {
		return nil, err
	}
	return vector, nil
}
