// Package embeddings turns text into dense vectors. Providers cover the
// OpenAI API (through langchaingo), a Text Embeddings Inference server and
// local ONNX models (FastEmbed). NewProvider wraps every provider with rate
// limiting, bounded retry and metrics.
package embeddings

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/ragd/internal/config"
	"go.uber.org/zap"
)

// Embedder generates vectors for documents and queries.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Provider is an Embedder with a fixed output dimension.
type Provider interface {
	Embedder
	// Dimension returns the embedding dimension for the current model.
	Dimension() int
	// Close releases resources held by the provider.
	Close() error
}

// ProviderConfig holds configuration for creating an embedding provider.
type ProviderConfig struct {
	// Provider is "openai", "tei" or "fastembed".
	Provider     string
	Model        string
	BaseURL      string
	APIKey       string
	CacheDir     string
	Dimension    int
	MaxAttempts  int
	RetryBackoff time.Duration
	// RateLimit is requests per second; zero disables limiting.
	RateLimit float64
}

// FromAppConfig maps the embeddings config section.
func FromAppConfig(c config.EmbeddingsConfig) ProviderConfig {
	return ProviderConfig{
		Provider:     c.Provider,
		Model:        c.Model,
		BaseURL:      c.BaseURL,
		APIKey:       c.APIKey.Value(),
		CacheDir:     c.CacheDir,
		Dimension:    c.Dimension,
		MaxAttempts:  c.MaxAttempts,
		RetryBackoff: c.RetryBackoff.Duration(),
		RateLimit:    c.RateLimit,
	}
}

var knownDimensions = map[string]int{
	"text-embedding-3-large":                 3072,
	"text-embedding-3-small":                 1536,
	"text-embedding-ada-002":                 1536,
	"BAAI/bge-small-en-v1.5":                 384,
	"BAAI/bge-small-en":                      384,
	"BAAI/bge-base-en-v1.5":                  768,
	"BAAI/bge-base-en":                       768,
	"BAAI/bge-small-zh-v1.5":                 512,
	"sentence-transformers/all-MiniLM-L6-v2": 384,
}

// dimensionFor returns the configured dimension, else a known or guessed one.
func dimensionFor(model string, configured int) int {
	if configured > 0 {
		return configured
	}
	if dim, ok := knownDimensions[model]; ok {
		return dim
	}
	switch {
	case strings.Contains(model, "large"):
		return 1024
	case strings.Contains(model, "base"):
		return 768
	default:
		return 384
	}
}

// NewProvider creates the configured provider wrapped with retry and rate limiting.
func NewProvider(cfg ProviderConfig, logger *zap.Logger) (Provider, error) {
	var (
		base Provider
		err  error
	)
	switch cfg.Provider {
	case "openai", "":
		base, err = NewOpenAIProvider(cfg)
	case "tei":
		base, err = NewService(Config{BaseURL: cfg.BaseURL, Model: cfg.Model, APIKey: cfg.APIKey, Dimension: cfg.Dimension})
	case "fastembed":
		base, err = NewFastEmbedProvider(FastEmbedConfig{Model: cfg.Model, CacheDir: cfg.CacheDir})
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	return NewRetrying(base, RetryConfig{
		Model:        cfg.Model,
		MaxAttempts:  cfg.MaxAttempts,
		RetryBackoff: cfg.RetryBackoff,
		RateLimit:    cfg.RateLimit,
	}, logger), nil
}
