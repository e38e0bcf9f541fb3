// Package config provides configuration loading for ragd.
//
// Configuration is assembled from hardcoded defaults, an optional YAML file
// and environment variables (see LoadWithFile). Every section is flat so that
// each field can be overridden with a single SECTION_FIELD variable.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"
)

// Config holds the complete ragd configuration.
type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Logging     LoggingConfig     `koanf:"logging"`
	Telemetry   TelemetryConfig   `koanf:"telemetry"`
	Embeddings  EmbeddingsConfig  `koanf:"embeddings"`
	VectorStore VectorStoreConfig `koanf:"vectorstore"`
	Store       StoreConfig       `koanf:"store"`
	Chunker     ChunkerConfig     `koanf:"chunker"`
	Crawler     CrawlerConfig     `koanf:"crawler"`
	Ingest      IngestConfig      `koanf:"ingest"`
	LLM         LLMConfig         `koanf:"llm"`
	PubMed      PubMedConfig      `koanf:"pubmed"`
	NATS        NATSConfig        `koanf:"nats"`
	S3          S3Config          `koanf:"s3"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"http_port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
	MaxUploadMB     int      `koanf:"max_upload_mb"`
}

// LoggingConfig selects level and encoding for the zap logger.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// TelemetryConfig holds OpenTelemetry exporter settings.
type TelemetryConfig struct {
	Enabled     bool    `koanf:"enabled"`
	Endpoint    string  `koanf:"endpoint"`
	Protocol    string  `koanf:"protocol"`
	Insecure    bool    `koanf:"insecure"`
	ServiceName string  `koanf:"service_name"`
	SampleRate  float64 `koanf:"sample_rate"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	// Provider is one of "openai", "tei" or "fastembed".
	Provider     string   `koanf:"provider"`
	Model        string   `koanf:"model"`
	BaseURL      string   `koanf:"base_url"`
	APIKey       Secret   `koanf:"api_key"`
	Dimension    int      `koanf:"dimension"`
	MaxAttempts  int      `koanf:"max_attempts"`
	RetryBackoff Duration `koanf:"retry_backoff"`
	RateLimit    float64  `koanf:"rate_limit"`
	CacheDir     string   `koanf:"cache_dir"`
}

// VectorStoreConfig configures the vector store gateway.
type VectorStoreConfig struct {
	// Provider is one of "chromem", "qdrant" or "pgvector".
	Provider         string `koanf:"provider"`
	DefaultNamespace string `koanf:"default_namespace"`
	BatchSize        int    `koanf:"batch_size"`
	ChromemPath      string `koanf:"chromem_path"`
	ChromemCompress  bool   `koanf:"chromem_compress"`
	QdrantHost       string `koanf:"qdrant_host"`
	QdrantPort       int    `koanf:"qdrant_port"`
	QdrantUseTLS     bool   `koanf:"qdrant_use_tls"`
	QdrantPrefix     string `koanf:"qdrant_prefix"`
	PgDSN            Secret `koanf:"pg_dsn"`
}

// StoreConfig configures the job and user record store.
type StoreConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver string `koanf:"driver"`
	DSN    Secret `koanf:"dsn"`
}

// ChunkerConfig configures semantic chunking.
type ChunkerConfig struct {
	WindowSize           int     `koanf:"window_size"`
	BreakpointPercentile float64 `koanf:"breakpoint_percentile"`
	BufferSize           int     `koanf:"buffer_size"`
}

// CrawlerConfig configures the crawl engine.
type CrawlerConfig struct {
	PageTimeout Duration `koanf:"page_timeout"`
	PageDelay   Duration `koanf:"page_delay"`
	MaxDepth    int      `koanf:"max_depth"`
	ChromePath  string   `koanf:"chrome_path"`
	UserAgent   string   `koanf:"user_agent"`
}

// IngestConfig configures document ingestion.
type IngestConfig struct {
	TempDir string `koanf:"temp_dir"`
	// ArchiveOriginals uploads every ingested file to S3 when true.
	ArchiveOriginals bool `koanf:"archive_originals"`
}

// LLMConfig configures the chat completion model.
type LLMConfig struct {
	Model       string   `koanf:"model"`
	BaseURL     string   `koanf:"base_url"`
	APIKey      Secret   `koanf:"api_key"`
	Temperature float64  `koanf:"temperature"`
	Timeout     Duration `koanf:"timeout"`
}

// PubMedConfig configures the NCBI E-utilities client.
type PubMedConfig struct {
	BaseURL   string  `koanf:"base_url"`
	RetMax    int     `koanf:"retmax"`
	RateLimit float64 `koanf:"rate_limit"`
	APIKey    Secret  `koanf:"api_key"`
}

// NATSConfig configures job event publishing. Empty URL disables it.
type NATSConfig struct {
	URL           string `koanf:"url"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

// S3Config configures the document archive bucket.
type S3Config struct {
	Region    string `koanf:"region"`
	Bucket    string `koanf:"bucket"`
	Endpoint  string `koanf:"endpoint"`
	AccessKey Secret `koanf:"access_key"`
	SecretKey Secret `koanf:"secret_key"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8000
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}
	if cfg.Server.MaxUploadMB == 0 {
		cfg.Server.MaxUploadMB = 50
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = "localhost:4317"
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "ragd"
	}
	if cfg.Telemetry.SampleRate == 0 {
		cfg.Telemetry.SampleRate = 1.0
	}

	if cfg.Embeddings.Provider == "" {
		cfg.Embeddings.Provider = "openai"
	}
	if cfg.Embeddings.Model == "" {
		cfg.Embeddings.Model = "text-embedding-3-large"
	}
	if !cfg.Embeddings.APIKey.IsSet() {
		cfg.Embeddings.APIKey = Secret(os.Getenv("OPENAI_API_KEY"))
	}
	if cfg.Embeddings.MaxAttempts == 0 {
		cfg.Embeddings.MaxAttempts = 3
	}
	if cfg.Embeddings.RetryBackoff == 0 {
		cfg.Embeddings.RetryBackoff = Duration(500 * time.Millisecond)
	}
	if cfg.Embeddings.RateLimit == 0 {
		cfg.Embeddings.RateLimit = 20
	}

	if cfg.VectorStore.Provider == "" {
		cfg.VectorStore.Provider = "chromem"
	}
	if cfg.VectorStore.DefaultNamespace == "" {
		cfg.VectorStore.DefaultNamespace = "chatbot"
	}
	if cfg.VectorStore.BatchSize == 0 {
		cfg.VectorStore.BatchSize = 100
	}
	if cfg.VectorStore.ChromemPath == "" {
		cfg.VectorStore.ChromemPath = "~/.local/share/ragd/vectors"
	}
	if cfg.VectorStore.QdrantHost == "" {
		cfg.VectorStore.QdrantHost = "localhost"
	}
	if cfg.VectorStore.QdrantPort == 0 {
		cfg.VectorStore.QdrantPort = 6334
	}
	if cfg.VectorStore.QdrantPrefix == "" {
		cfg.VectorStore.QdrantPrefix = "ragd"
	}

	if cfg.Store.Driver == "" {
		cfg.Store.Driver = "sqlite"
	}
	if !cfg.Store.DSN.IsSet() && cfg.Store.Driver == "sqlite" {
		cfg.Store.DSN = "~/.local/share/ragd/ragd.db"
	}

	if cfg.Chunker.WindowSize == 0 {
		cfg.Chunker.WindowSize = 7000
	}
	if cfg.Chunker.BreakpointPercentile == 0 {
		cfg.Chunker.BreakpointPercentile = 95
	}
	if cfg.Chunker.BufferSize == 0 {
		cfg.Chunker.BufferSize = 1
	}

	if cfg.Crawler.PageTimeout == 0 {
		cfg.Crawler.PageTimeout = Duration(10 * time.Second)
	}
	if cfg.Crawler.PageDelay == 0 {
		cfg.Crawler.PageDelay = Duration(time.Second)
	}
	if cfg.Crawler.MaxDepth == 0 {
		cfg.Crawler.MaxDepth = 5
	}

	if cfg.LLM.Model == "" {
		cfg.LLM.Model = "gpt-4o-mini"
	}
	if !cfg.LLM.APIKey.IsSet() {
		cfg.LLM.APIKey = cfg.Embeddings.APIKey
	}
	if cfg.LLM.Temperature == 0 {
		cfg.LLM.Temperature = 0.7
	}
	if cfg.LLM.Timeout == 0 {
		cfg.LLM.Timeout = Duration(60 * time.Second)
	}

	if cfg.PubMed.BaseURL == "" {
		cfg.PubMed.BaseURL = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils"
	}
	if cfg.PubMed.RetMax == 0 {
		cfg.PubMed.RetMax = 10
	}
	if cfg.PubMed.RateLimit == 0 {
		cfg.PubMed.RateLimit = 3
	}

	if cfg.NATS.SubjectPrefix == "" {
		cfg.NATS.SubjectPrefix = "ragd.jobs"
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout.Duration() <= 0 {
		return errors.New("shutdown timeout must be positive")
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("logging format must be 'json' or 'console', got %q", c.Logging.Format)
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		return fmt.Errorf("telemetry sample rate must be between 0 and 1, got %f", c.Telemetry.SampleRate)
	}

	switch c.Embeddings.Provider {
	case "openai":
		if !c.Embeddings.APIKey.IsSet() {
			return errors.New("embeddings api key required for openai provider (EMBEDDINGS_API_KEY or OPENAI_API_KEY)")
		}
	case "tei":
		if c.Embeddings.BaseURL == "" {
			return errors.New("embeddings base url required for tei provider")
		}
	case "fastembed":
	default:
		return fmt.Errorf("unknown embeddings provider %q", c.Embeddings.Provider)
	}
	if c.Embeddings.MaxAttempts < 1 {
		return fmt.Errorf("embeddings max attempts must be >= 1, got %d", c.Embeddings.MaxAttempts)
	}

	switch c.VectorStore.Provider {
	case "chromem", "qdrant":
	case "pgvector":
		if !c.VectorStore.PgDSN.IsSet() {
			return errors.New("vectorstore pg_dsn required for pgvector provider")
		}
	default:
		return fmt.Errorf("unknown vectorstore provider %q", c.VectorStore.Provider)
	}
	if c.VectorStore.BatchSize < 1 {
		return fmt.Errorf("vectorstore batch size must be positive, got %d", c.VectorStore.BatchSize)
	}

	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if !c.Store.DSN.IsSet() {
		return errors.New("store dsn required")
	}

	if c.Chunker.WindowSize < 1 {
		return fmt.Errorf("chunker window size must be positive, got %d", c.Chunker.WindowSize)
	}
	if c.Chunker.BreakpointPercentile <= 0 || c.Chunker.BreakpointPercentile > 100 {
		return fmt.Errorf("chunker breakpoint percentile must be in (0, 100], got %v", c.Chunker.BreakpointPercentile)
	}
	if c.Chunker.BufferSize < 0 {
		return fmt.Errorf("chunker buffer size must be >= 0, got %d", c.Chunker.BufferSize)
	}

	if c.Crawler.PageTimeout.Duration() <= 0 {
		return errors.New("crawler page timeout must be positive")
	}
	if c.Crawler.MaxDepth < 1 {
		return fmt.Errorf("crawler max depth must be positive, got %d", c.Crawler.MaxDepth)
	}

	if c.Ingest.ArchiveOriginals && c.S3.Bucket == "" {
		return errors.New("s3 bucket required when ingest.archive_originals is enabled")
	}

	return nil
}
