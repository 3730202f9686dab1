// Package config declares the service configuration, parsed from flags
// and environment variables, with optional .env loading for local
// development.
package config

import (
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/quarry-ai/quarry/chunker"
	"github.com/quarry-ai/quarry/provider"
	"github.com/quarry-ai/quarry/vectorstore"
)

// Config is the top-level configuration object of the quarry server.
type Config struct {
	Server struct {
		ListenAddr  string `long:"listen" env:"LISTEN_ADDR" default:":8000" description:"Address to bind the HTTP listener"`
		Environment string `long:"environment" env:"ENVIRONMENT" default:"development" description:"Deployment environment name"`
	} `group:"Server"`

	Providers struct {
		Embeddings string `long:"embeddings-provider" env:"EMBEDDINGS_PROVIDER" default:"openai" choice:"openai" choice:"gemini" description:"Provider used for embeddings"`
		Metadata   string `long:"metadata-provider" env:"METADATA_PROVIDER" default:"openai" choice:"openai" choice:"gemini" description:"Provider used for chunk enrichment"`
		QA         string `long:"qa-provider" env:"QA_PROVIDER" default:"openai" choice:"openai" choice:"gemini" description:"Provider used for question answering"`

		OpenAIAPIKey         string `long:"openai-api-key" env:"OPENAI_API_KEY" description:"OpenAI API key"`
		OpenAIModel          string `long:"openai-model" env:"OPENAI_MODEL" default:"gpt-4o-mini" description:"OpenAI chat model"`
		OpenAIEmbeddingModel string `long:"openai-embedding-model" env:"OPENAI_EMBEDDING_MODEL" default:"text-embedding-3-small" description:"OpenAI embedding model"`

		GeminiAPIKey         string `long:"gemini-api-key" env:"GEMINI_API_KEY" description:"Gemini API key"`
		GeminiModel          string `long:"gemini-model" env:"GEMINI_MODEL" default:"gemini-2.0-flash" description:"Gemini chat model"`
		GeminiEmbeddingModel string `long:"gemini-embedding-model" env:"GEMINI_EMBEDDING_MODEL" default:"text-embedding-004" description:"Gemini embedding model"`

		EmbeddingDimensions int `long:"embedding-dimensions" env:"EMBEDDING_DIMENSIONS" default:"768" description:"Width of stored vectors"`
		RateLimitRPM        int `long:"rate-limit-rpm" env:"RATE_LIMIT_RPM" default:"10" description:"Combined outbound provider requests per minute"`
	} `group:"Providers"`

	VectorStore struct {
		URL        string `long:"vector-store-url" env:"VECTOR_STORE_URL" default:"http://localhost:6334" description:"Qdrant gRPC endpoint"`
		APIKey     string `long:"vector-store-api-key" env:"VECTOR_STORE_API_KEY" description:"Qdrant API key"`
		Collection string `long:"vector-store-collection" env:"VECTOR_STORE_COLLECTION" default:"documents" description:"Default collection name"`
		UpsertBatch int   `long:"upsert-batch" env:"UPSERT_BATCH" default:"100" description:"Points per upsert request"`
	} `group:"Vector store"`

	Ingestion struct {
		ChunkSize             int    `long:"chunk-size" env:"CHUNK_SIZE" default:"1000" description:"Chunk size in tokens"`
		ChunkOverlap          int    `long:"chunk-overlap" env:"CHUNK_OVERLAP" default:"200" description:"Chunk overlap in tokens"`
		DefaultStrategy       string `long:"chunking-strategy" env:"DEFAULT_CHUNKING_STRATEGY" default:"recursive" choice:"recursive" choice:"semantic" choice:"markdown" choice:"html" description:"Default chunking strategy"`
		EnableMetadataDefault bool   `long:"enable-metadata" env:"ENABLE_METADATA_DEFAULT" description:"Enrich chunks with LLM metadata unless the upload says otherwise"`
		Concurrency           int    `long:"pipeline-concurrency" env:"PIPELINE_CONCURRENCY" default:"8" description:"Parallel enrichment calls per upload"`
		ProgressTTLSeconds    int    `long:"progress-ttl" env:"PROGRESS_TTL_SECONDS" default:"300" description:"Seconds to retain finished upload state"`
	} `group:"Ingestion"`

	Cache struct {
		RedisURL string        `long:"redis-url" env:"REDIS_URL" description:"Optional Redis URL for the answer cache"`
		TTL      time.Duration `long:"cache-ttl" env:"CACHE_TTL" default:"24h" description:"Answer cache TTL"`
	} `group:"Cache"`

	Log struct {
		Level  string `long:"log.level" env:"LOG_LEVEL" default:"info" choice:"trace" choice:"debug" choice:"info" choice:"warn" choice:"error" description:"Logging level"`
		Format string `long:"log.format" env:"LOG_FORMAT" default:"text" choice:"json" choice:"text" description:"Logging format"`
	} `group:"Logging"`
}

// Load parses configuration from the environment (plus a .env file when
// present) and command-line arguments.
func Load(args []string) (*Config, error) {
	if err := godotenv.Load(); err == nil {
		log.Debug("loaded .env file")
	}

	var cfg = new(Config)
	var parser = flags.NewParser(cfg, flags.Default)
	if _, err := parser.ParseArgs(args); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints the flag parser cannot.
func (c *Config) Validate() error {
	if c.Ingestion.ChunkOverlap >= c.Ingestion.ChunkSize {
		return fmt.Errorf("chunk overlap %d must be smaller than chunk size %d",
			c.Ingestion.ChunkOverlap, c.Ingestion.ChunkSize)
	}
	if c.Providers.RateLimitRPM <= 0 {
		return fmt.Errorf("rate limit must be positive, got %d", c.Providers.RateLimitRPM)
	}
	if c.Providers.EmbeddingDimensions <= 0 {
		return fmt.Errorf("embedding dimensions must be positive, got %d", c.Providers.EmbeddingDimensions)
	}

	for _, p := range []struct{ name, key string }{
		{c.Providers.Embeddings, c.providerKey(c.Providers.Embeddings)},
		{c.Providers.Metadata, c.providerKey(c.Providers.Metadata)},
		{c.Providers.QA, c.providerKey(c.Providers.QA)},
	} {
		if p.key == "" {
			return fmt.Errorf("provider %q selected but its API key is not configured", p.name)
		}
	}
	return nil
}

func (c *Config) providerKey(name string) string {
	switch name {
	case "openai":
		return c.Providers.OpenAIAPIKey
	case "gemini":
		return c.Providers.GeminiAPIKey
	default:
		return ""
	}
}

// ProviderSettings adapts the configuration for the provider factory.
func (c *Config) ProviderSettings() provider.Settings {
	return provider.Settings{
		OpenAIAPIKey:         c.Providers.OpenAIAPIKey,
		OpenAIModel:          c.Providers.OpenAIModel,
		OpenAIEmbeddingModel: c.Providers.OpenAIEmbeddingModel,
		GeminiAPIKey:         c.Providers.GeminiAPIKey,
		GeminiModel:          c.Providers.GeminiModel,
		GeminiEmbeddingModel: c.Providers.GeminiEmbeddingModel,
		EmbeddingDimensions:  c.Providers.EmbeddingDimensions,
	}
}

// ChunkOptions adapts the configuration for the chunker.
func (c *Config) ChunkOptions() chunker.Options {
	return chunker.Options{
		ChunkSize:    c.Ingestion.ChunkSize,
		ChunkOverlap: c.Ingestion.ChunkOverlap,
	}
}

// VectorStoreConfig parses VECTOR_STORE_URL into a store configuration.
func (c *Config) VectorStoreConfig() (vectorstore.Config, error) {
	var u, err = url.Parse(c.VectorStore.URL)
	if err != nil {
		return vectorstore.Config{}, fmt.Errorf("parsing vector store url: %w", err)
	}

	var port = 6334
	if p := u.Port(); p != "" {
		if port, err = strconv.Atoi(p); err != nil {
			return vectorstore.Config{}, fmt.Errorf("parsing vector store port: %w", err)
		}
	}
	return vectorstore.Config{
		Host:        u.Hostname(),
		Port:        port,
		APIKey:      c.VectorStore.APIKey,
		UseTLS:      u.Scheme == "https",
		UpsertBatch: c.VectorStore.UpsertBatch,
	}, nil
}

// ProgressTTL converts the configured retention to a duration.
func (c *Config) ProgressTTL() time.Duration {
	return time.Duration(c.Ingestion.ProgressTTLSeconds) * time.Second
}

// InitLog configures logrus per the Log section.
func (c *Config) InitLog() {
	if c.Log.Format == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	}
	if level, err := log.ParseLevel(c.Log.Level); err == nil {
		log.SetLevel(level)
	}
}
