package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"vector-search/internal/chunker"
	"vector-search/internal/config"
	"vector-search/internal/embedding"
	"vector-search/internal/rag"
	"vector-search/internal/vectorstore"
)

const defaultConfigPath = "./configs/config.yaml"

var configPath string

var rootCmd = &cobra.Command{
	Use:           "vector-search",
	Short:         "Ingest documents into a vector index and search them",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to the yaml config file")
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Caller().Logger()

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}

// loadConfig reads the config and applies its log settings
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("error loading config: %w", err)
	}
	setupLogger(cfg.Log)
	log.Debug().Str("path", configPath).Str("backend", cfg.Store.Backend).Msg("Loaded config")
	return cfg, nil
}

func setupLogger(cfg config.LogConfig) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Caller().Logger()
	}
}

type app struct {
	cfg      *config.Config
	store    vectorstore.Store
	pipeline *rag.Pipeline
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	embedder, err := embedding.New(cfg.Embedder, log.Logger)
	if err != nil {
		return nil, fmt.Errorf("error initializing embedder: %w", err)
	}

	store, err := vectorstore.New(ctx, cfg.Store, log.Logger)
	if err != nil {
		return nil, fmt.Errorf("error initializing vector store: %w", err)
	}

	return &app{
		cfg:      cfg,
		store:    store,
		pipeline: rag.NewPipeline(embedder, store, newChunker(cfg), pipelineOptions(cfg), log.Logger),
	}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		log.Warn().Err(err).Msg("Error closing vector store")
	}
}

func newChunker(cfg *config.Config) *chunker.Chunker {
	return chunker.New(cfg.Chunker.MinChunkSize, cfg.Chunker.MaxChunkSize)
}

func pipelineOptions(cfg *config.Config) rag.Options {
	return rag.Options{
		Concurrency:  cfg.Ingest.Concurrency,
		PreviewChars: cfg.Chunker.PreviewChars,
	}
}
