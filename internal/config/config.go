package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	BackendChromem  = "chromem"
	BackendQdrant   = "qdrant"
	BackendPostgres = "pgvector"
	BackendSQLite   = "sqlite"

	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
	ProviderHash   = "hash"

	MetricCosine = "cosine"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
	Chunker  ChunkerConfig  `yaml:"chunker"`
	Embedder EmbedderConfig `yaml:"embedder"`
	Store    StoreConfig    `yaml:"store"`
	Ingest   IngestConfig   `yaml:"ingest"`
}

type ServerConfig struct {
	Addr           string   `yaml:"addr"`
	StaticDir      string   `yaml:"static_dir"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	DefaultTopK    int      `yaml:"default_top_k"`
	MaxTopK        int      `yaml:"max_top_k"`
	MaxUploadMB    int      `yaml:"max_upload_mb"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // console or json
}

type ChunkerConfig struct {
	MinChunkSize int `yaml:"min_chunk_size"`
	MaxChunkSize int `yaml:"max_chunk_size"`
	PreviewChars int `yaml:"preview_chars"`
}

type EmbedderConfig struct {
	Provider    string  `yaml:"provider"`
	BaseURL     string  `yaml:"base_url"`
	Model       string  `yaml:"model"`
	Key         string  `yaml:"key"`
	Dimension   int     `yaml:"dimension"`
	TimeoutSecs int     `yaml:"timeout_secs"`
	RateLimit   float64 `yaml:"rate_limit"` // requests per second, 0 disables
}

type StoreConfig struct {
	Backend     string         `yaml:"backend"`
	IndexName   string         `yaml:"index_name"`
	Dimension   int            `yaml:"dimension"`
	Metric      string         `yaml:"metric"`
	TimeoutSecs int            `yaml:"timeout_secs"`
	Chromem     ChromemConfig  `yaml:"chromem"`
	Qdrant      QdrantConfig   `yaml:"qdrant"`
	Postgres    PostgresConfig `yaml:"postgres"`
	SQLite      SQLiteConfig   `yaml:"sqlite"`
}

type ChromemConfig struct {
	Path          string `yaml:"path"`
	InMemory      bool   `yaml:"in_memory"`
	Compress      bool   `yaml:"compress"`
	EncryptionKey string `yaml:"encryption_key"`
}

type QdrantConfig struct {
	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key"`
	UseTLS bool   `yaml:"use_tls"`
}

type PostgresConfig struct {
	DSN      string `yaml:"dsn"`
	Password string `yaml:"password"`
	Driver   string `yaml:"driver"` // pgdriver or pq
	Debug    bool   `yaml:"debug"`
}

type SQLiteConfig struct {
	Path string `yaml:"path"`
}

type IngestConfig struct {
	Concurrency int `yaml:"concurrency"`
}

// LoadConfig reads the yaml file at path, applies .env and environment
// overrides and fills defaults. A missing file yields the defaults.
func LoadConfig(path string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration with every default applied
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func (c *Config) applyEnv() {
	setString(&c.Server.Addr, "VS_SERVER_ADDR")
	setString(&c.Store.Backend, "VS_STORE_BACKEND")
	setString(&c.Embedder.Provider, "VS_EMBEDDER_PROVIDER")
	setString(&c.Embedder.BaseURL, "VS_EMBEDDER_BASE_URL")
	setString(&c.Embedder.Key, "VS_EMBEDDER_API_KEY")
	setString(&c.Store.Qdrant.Host, "VS_QDRANT_HOST")
	setString(&c.Store.Qdrant.APIKey, "VS_QDRANT_API_KEY")
	setString(&c.Store.Postgres.DSN, "VS_POSTGRES_DSN")
	setString(&c.Store.Postgres.Password, "VS_POSTGRES_PASSWORD")
	setString(&c.Store.Chromem.EncryptionKey, "VS_ENCRYPTION_KEY")
	setString(&c.Log.Level, "VS_LOG_LEVEL")
	if v, err := strconv.Atoi(os.Getenv("VS_DIMENSION")); err == nil && v > 0 {
		c.Store.Dimension = v
		c.Embedder.Dimension = v
	}
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8000"
	}
	if c.Server.DefaultTopK <= 0 {
		c.Server.DefaultTopK = 5
	}
	if c.Server.MaxTopK <= 0 {
		c.Server.MaxTopK = 100
	}
	if c.Server.MaxUploadMB <= 0 {
		c.Server.MaxUploadMB = 32
	}
	if len(c.Server.AllowedOrigins) == 0 {
		c.Server.AllowedOrigins = []string{"*"}
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}

	if c.Chunker.MinChunkSize <= 0 {
		c.Chunker.MinChunkSize = 100
	}
	if c.Chunker.MaxChunkSize <= 0 {
		c.Chunker.MaxChunkSize = 1000
	}
	if c.Chunker.PreviewChars <= 0 {
		c.Chunker.PreviewChars = c.Chunker.MaxChunkSize
	}

	if c.Embedder.Provider == "" {
		c.Embedder.Provider = ProviderOllama
	}
	if c.Embedder.BaseURL == "" && c.Embedder.Provider == ProviderOllama {
		c.Embedder.BaseURL = "http://localhost:11434"
	}
	if c.Embedder.Model == "" {
		c.Embedder.Model = "bge-large"
	}
	if c.Embedder.TimeoutSecs <= 0 {
		c.Embedder.TimeoutSecs = 30
	}

	// one dimension per deployment, shared by model and index
	switch {
	case c.Store.Dimension <= 0 && c.Embedder.Dimension <= 0:
		c.Store.Dimension = 1024
		c.Embedder.Dimension = 1024
	case c.Store.Dimension <= 0:
		c.Store.Dimension = c.Embedder.Dimension
	case c.Embedder.Dimension <= 0:
		c.Embedder.Dimension = c.Store.Dimension
	}

	if c.Store.Backend == "" {
		c.Store.Backend = BackendChromem
	}
	if c.Store.IndexName == "" {
		c.Store.IndexName = "project"
	}
	if c.Store.Metric == "" {
		c.Store.Metric = MetricCosine
	}
	if c.Store.TimeoutSecs <= 0 {
		c.Store.TimeoutSecs = 10
	}
	if c.Store.Chromem.Path == "" {
		c.Store.Chromem.Path = "./chromemdb"
	}
	if c.Store.Qdrant.Host == "" {
		c.Store.Qdrant.Host = "localhost"
	}
	if c.Store.Qdrant.Port <= 0 {
		c.Store.Qdrant.Port = 6334
	}
	if c.Store.Postgres.Driver == "" {
		c.Store.Postgres.Driver = "pgdriver"
	}
	if c.Store.SQLite.Path == "" {
		c.Store.SQLite.Path = "./vectors.db"
	}

	if c.Ingest.Concurrency <= 0 {
		c.Ingest.Concurrency = 4
	}
}

// Validate rejects configurations that cannot work
func (c *Config) Validate() error {
	if c.Chunker.MinChunkSize > c.Chunker.MaxChunkSize {
		return fmt.Errorf("chunker.min_chunk_size (%d) exceeds max_chunk_size (%d)", c.Chunker.MinChunkSize, c.Chunker.MaxChunkSize)
	}
	if c.Embedder.Dimension != c.Store.Dimension {
		return fmt.Errorf("embedder.dimension (%d) does not match store.dimension (%d)", c.Embedder.Dimension, c.Store.Dimension)
	}
	switch c.Embedder.Provider {
	case ProviderOllama, ProviderOpenAI, ProviderHash:
	default:
		return fmt.Errorf("unknown embedder provider %q", c.Embedder.Provider)
	}
	switch c.Store.Backend {
	case BackendChromem, BackendQdrant, BackendPostgres, BackendSQLite:
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	if c.Store.Metric != MetricCosine {
		return fmt.Errorf("unsupported metric %q, only %q is available", c.Store.Metric, MetricCosine)
	}
	if c.Store.Backend == BackendPostgres && c.Store.Postgres.DSN == "" {
		return errors.New("store.postgres.dsn is required for the pgvector backend")
	}
	switch c.Store.Postgres.Driver {
	case "pgdriver", "pq":
	default:
		return fmt.Errorf("unknown postgres driver %q", c.Store.Postgres.Driver)
	}
	return nil
}

func (c EmbedderConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

func (c StoreConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}
