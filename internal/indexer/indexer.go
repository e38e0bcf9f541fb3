// Package indexer runs the chunk, embed and upsert pipeline shared by
// crawling, scraping and document ingestion, and the matching retrieval.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"maps"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/ragd/internal/embeddings"
	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
)

// TextKey is the metadata key holding a chunk's text.
const TextKey = "text"

// DefaultTopK is the number of chunks retrieved for a query.
const DefaultTopK = 5

const (
	embedBatchSize  = 32
	embedConcurrent = 4
)

var tracer = otel.Tracer("ragd.indexer")

// ErrInvalidInput indicates a missing namespace or dependency.
var ErrInvalidInput = errors.New("invalid indexer input")

// Chunker splits text into ordered chunks.
type Chunker interface {
	Chunk(ctx context.Context, text string) ([]string, error)
}

// Indexer is safe for concurrent use.
type Indexer struct {
	chunker  Chunker
	embedder embeddings.Embedder
	store    vectorstore.Gateway
	logger   *zap.Logger

	newID func() string
}

// New wires the pipeline.
func New(chunker Chunker, embedder embeddings.Embedder, store vectorstore.Gateway, logger *zap.Logger) (*Indexer, error) {
	if chunker == nil || embedder == nil || store == nil {
		return nil, fmt.Errorf("%w: chunker, embedder and store are required", ErrInvalidInput)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Indexer{
		chunker:  chunker,
		embedder: embedder,
		store:    store,
		logger:   logger,
		newID:    uuid.NewString,
	}, nil
}

// Chunks exposes the chunker on its own.
func (ix *Indexer) Chunks(ctx context.Context, text string) ([]string, error) {
	return ix.chunker.Chunk(ctx, text)
}

// Index chunks text, embeds every chunk and upserts one record per chunk
// into namespace. Each record's metadata is source plus the chunk text. It
// returns the number of records written; blank text writes nothing.
func (ix *Indexer) Index(ctx context.Context, namespace, text string, source map[string]any) (int, error) {
	ctx, span := tracer.Start(ctx, "Indexer.Index")
	defer span.End()
	span.SetAttributes(attribute.String("namespace", namespace), attribute.Int("text_length", len(text)))

	if namespace == "" {
		return 0, fmt.Errorf("%w: namespace is required", ErrInvalidInput)
	}

	chunks, err := ix.chunker.Chunk(ctx, text)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, err
	}
	if len(chunks) == 0 {
		return 0, nil
	}

	vectors, err := ix.embed(ctx, chunks)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, err
	}

	records := make([]vectorstore.Record, len(chunks))
	for i, chunk := range chunks {
		metadata := make(map[string]any, len(source)+1)
		maps.Copy(metadata, source)
		metadata[TextKey] = chunk
		records[i] = vectorstore.Record{ID: ix.newID(), Values: vectors[i], Metadata: metadata}
	}

	if err := ix.store.Upsert(ctx, namespace, records); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, err
	}

	span.SetAttributes(attribute.Int("chunks", len(records)))
	ix.logger.Debug("indexed text",
		zap.String("namespace", namespace),
		zap.Int("chunks", len(records)))
	return len(records), nil
}

// embed fans chunk batches out to the embedder and keeps input order.
func (ix *Indexer) embed(ctx context.Context, chunks []string) ([][]float32, error) {
	vectors := make([][]float32, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(embedConcurrent)

	for start := 0; start < len(chunks); start += embedBatchSize {
		end := min(start+embedBatchSize, len(chunks))
		g.Go(func() error {
			out, err := ix.embedder.EmbedDocuments(gctx, chunks[start:end])
			if err != nil {
				return fmt.Errorf("embedding chunks [%d:%d]: %w", start, end, err)
			}
			if len(out) != end-start {
				return fmt.Errorf("embedding chunks [%d:%d]: got %d vectors", start, end, len(out))
			}
			copy(vectors[start:end], out)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vectors, nil
}

// Retrieve embeds query and returns the text of the topK nearest chunks in
// namespace, best first. No matches gives a nil slice.
func (ix *Indexer) Retrieve(ctx context.Context, namespace, query string, topK int) ([]string, error) {
	ctx, span := tracer.Start(ctx, "Indexer.Retrieve")
	defer span.End()

	if topK <= 0 {
		topK = DefaultTopK
	}
	vector, err := ix.embedder.EmbedQuery(ctx, query)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	matches, err := ix.store.Query(ctx, namespace, vector, topK)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	var texts []string
	for _, m := range matches {
		if text, ok := m.Metadata[TextKey].(string); ok && text != "" {
			texts = append(texts, text)
		}
	}
	span.SetAttributes(attribute.Int("results_count", len(texts)))
	return texts, nil
}
