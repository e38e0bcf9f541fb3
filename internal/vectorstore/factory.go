package vectorstore

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/ragd/internal/config"
	"go.uber.org/zap"
)

// New creates the Gateway selected by cfg.Provider:
//   - "chromem" (default): embedded, persisted under ChromemPath
//   - "qdrant": external Qdrant server over gRPC
//   - "pgvector": PostgreSQL with the vector extension
//
// dimension must match the embedding provider's output.
func New(ctx context.Context, cfg config.VectorStoreConfig, dimension int, logger *zap.Logger) (Gateway, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("vectorstore")

	switch cfg.Provider {
	case "chromem", "":
		return NewChromemStore(ChromemConfig{
			Path:       cfg.ChromemPath,
			Compress:   cfg.ChromemCompress,
			VectorSize: dimension,
			BatchSize:  cfg.BatchSize,
		}, logger)

	case "qdrant":
		return NewQdrantStore(QdrantConfig{
			Host:       cfg.QdrantHost,
			Port:       cfg.QdrantPort,
			UseTLS:     cfg.QdrantUseTLS,
			Prefix:     cfg.QdrantPrefix,
			VectorSize: dimension,
			BatchSize:  cfg.BatchSize,
		}, logger)

	case "pgvector":
		return NewPgVectorStore(ctx, PgVectorConfig{
			DSN:        cfg.PgDSN.Value(),
			VectorSize: dimension,
			BatchSize:  cfg.BatchSize,
		}, logger)

	default:
		return nil, fmt.Errorf("%w: unsupported vectorstore provider %q (supported: chromem, qdrant, pgvector)",
			ErrInvalidConfig, cfg.Provider)
	}
}
