package vectorstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"runtime"
	"sort"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// ChromemConfig configures a ChromemStore.
type ChromemConfig struct {
	// Path is the persistence directory. Empty keeps everything in memory.
	Path string

	// Compress enables gzip compression for stored data.
	Compress bool

	// Prefix is prepended to every collection name.
	Prefix string

	// VectorSize is the expected embedding dimension.
	VectorSize int

	BatchSize int
}

// ApplyDefaults sets default values for unset fields.
func (c *ChromemConfig) ApplyDefaults() {
	if c.Prefix == "" {
		c.Prefix = "ragd"
	}
	if c.BatchSize == 0 {
		c.BatchSize = DefaultBatchSize
	}
}

// Validate validates the configuration.
func (c *ChromemConfig) Validate() error {
	if c.VectorSize <= 0 {
		return fmt.Errorf("%w: vector size must be positive", ErrInvalidConfig)
	}
	return nil
}

// ChromemStore is an embedded Gateway backed by chromem-go, one collection
// per namespace. chromem normalizes vectors on insert, so fetched values
// have unit length.
type ChromemStore struct {
	db     *chromem.DB
	config ChromemConfig
	logger *zap.Logger

	// mu serializes writers so ListIDs sees whole batches.
	mu sync.RWMutex
}

// NewChromemStore opens (or creates) a chromem database.
func NewChromemStore(config ChromemConfig, logger *zap.Logger) (*ChromemStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	var db *chromem.DB
	if config.Path == "" {
		db = chromem.NewDB()
	} else {
		if err := os.MkdirAll(config.Path, 0o700); err != nil {
			return nil, fmt.Errorf("creating directory %s: %w", config.Path, err)
		}
		var err error
		db, err = chromem.NewPersistentDB(config.Path, config.Compress)
		if err != nil {
			return nil, fmt.Errorf("creating chromem DB: %w", err)
		}
	}

	logger.Info("chromem vector store ready",
		zap.String("path", config.Path),
		zap.Int("vector_size", config.VectorSize))

	return &ChromemStore{db: db, config: config, logger: logger}, nil
}

// noEmbedding is installed on every collection; records always carry their
// own vectors.
func noEmbedding(context.Context, string) ([]float32, error) {
	return nil, errors.New("chromem collections store precomputed vectors only")
}

func (s *ChromemStore) collection(namespace string, create bool) (*chromem.Collection, error) {
	name, err := CollectionName(s.config.Prefix, namespace)
	if err != nil {
		return nil, err
	}
	if !create {
		return s.db.GetCollection(name, noEmbedding), nil
	}
	col, err := s.db.GetOrCreateCollection(name, nil, noEmbedding)
	if err != nil {
		return nil, fmt.Errorf("getting collection %s: %w", name, err)
	}
	return col, nil
}

// Upsert writes records in batches. chromem overwrites documents by id.
func (s *ChromemStore) Upsert(ctx context.Context, namespace string, records []Record) error {
	ctx, span := tracer.Start(ctx, "ChromemStore.Upsert")
	defer span.End()
	span.SetAttributes(
		attribute.String("namespace", namespace),
		attribute.Int("record_count", len(records)),
	)

	start := time.Now()
	col, err := s.collection(namespace, true)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err = upsertBatches(records, s.config.BatchSize, func(batch []Record) error {
		docs := make([]chromem.Document, len(batch))
		for i, r := range batch {
			if len(r.Values) != s.config.VectorSize {
				return fmt.Errorf("%w: record %q has %d values, want %d",
					ErrDimensionMismatch, r.ID, len(r.Values), s.config.VectorSize)
			}
			metadata, err := encodeMetadata(r.Metadata)
			if err != nil {
				return fmt.Errorf("record %q: %w", r.ID, err)
			}
			content, _ := r.Metadata["text"].(string)
			docs[i] = chromem.Document{
				ID:        r.ID,
				Metadata:  metadata,
				Embedding: append([]float32(nil), r.Values...),
				Content:   content,
			}
		}
		return col.AddDocuments(ctx, docs, runtime.NumCPU())
	})
	observeOp("chromem", "upsert", start, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	upsertedRecords.WithLabelValues("chromem").Add(float64(len(records)))
	span.SetStatus(codes.Ok, "success")
	return nil
}

// Query returns up to topK matches by cosine similarity.
func (s *ChromemStore) Query(ctx context.Context, namespace string, vector []float32, topK int) ([]Match, error) {
	ctx, span := tracer.Start(ctx, "ChromemStore.Query")
	defer span.End()
	span.SetAttributes(attribute.String("namespace", namespace), attribute.Int("top_k", topK))

	start := time.Now()
	col, err := s.collection(namespace, false)
	if err != nil {
		return nil, err
	}
	if len(vector) != s.config.VectorSize {
		return nil, fmt.Errorf("%w: query has %d values, want %d", ErrDimensionMismatch, len(vector), s.config.VectorSize)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if col == nil || col.Count() == 0 || topK <= 0 {
		observeOp("chromem", "query", start, nil)
		return []Match{}, nil
	}

	// chromem rejects nResults larger than the collection.
	n := min(topK, col.Count())
	results, err := col.QueryEmbedding(ctx, vector, n, nil, nil)
	observeOp("chromem", "query", start, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying namespace %q: %w", namespace, err)
	}

	matches := make([]Match, len(results))
	for i, r := range results {
		matches[i] = Match{ID: r.ID, Score: r.Similarity, Metadata: decodeMetadata(r.Metadata)}
	}
	span.SetAttributes(attribute.Int("results_count", len(matches)))
	return matches, nil
}

// ListIDs pages through ids in lexical order. The page token is the last id
// of the previous page.
func (s *ChromemStore) ListIDs(ctx context.Context, namespace, pageToken string, limit int) ([]string, string, error) {
	col, err := s.collection(namespace, false)
	if err != nil {
		return nil, "", err
	}
	if limit <= 0 {
		limit = s.config.BatchSize
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if col == nil || col.Count() == 0 {
		return []string{}, "", nil
	}

	// chromem has no listing call; an exhaustive query returns every document.
	results, err := col.QueryEmbedding(ctx, uniformVector(s.config.VectorSize), col.Count(), nil, nil)
	if err != nil {
		return nil, "", fmt.Errorf("listing namespace %q: %w", namespace, err)
	}

	all := make([]string, len(results))
	for i, r := range results {
		all[i] = r.ID
	}
	sort.Strings(all)

	from := sort.SearchStrings(all, pageToken)
	if pageToken != "" && from < len(all) && all[from] == pageToken {
		from++
	}
	to := min(from+limit, len(all))
	page := append([]string{}, all[from:to]...)

	next := ""
	if to < len(all) && len(page) > 0 {
		next = page[len(page)-1]
	}
	return page, next, nil
}

// Fetch returns stored records by id.
func (s *ChromemStore) Fetch(ctx context.Context, namespace string, ids []string) (map[string]Record, error) {
	col, err := s.collection(namespace, false)
	if err != nil {
		return nil, err
	}
	out := make(map[string]Record, len(ids))

	s.mu.RLock()
	defer s.mu.RUnlock()

	if col == nil {
		return out, nil
	}
	for _, id := range ids {
		doc, err := col.GetByID(ctx, id)
		if err != nil {
			// chromem reports a missing id as an error.
			continue
		}
		out[id] = Record{ID: doc.ID, Values: doc.Embedding, Metadata: decodeMetadata(doc.Metadata)}
	}
	return out, nil
}

// Close is a no-op; persistent chromem databases write through on every add.
func (s *ChromemStore) Close() error {
	return nil
}

func uniformVector(dim int) []float32 {
	v := make([]float32, dim)
	x := float32(1 / math.Sqrt(float64(dim)))
	for i := range v {
		v[i] = x
	}
	return v
}

// encodeMetadata stores each value as JSON so numbers and booleans survive
// chromem's string-only metadata.
func encodeMetadata(m map[string]any) (map[string]string, error) {
	out := make(map[string]string, len(m))
	for k, v := range m {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encoding metadata %q: %w", k, err)
		}
		out[k] = string(b)
	}
	return out, nil
}

func decodeMetadata(m map[string]string) map[string]any {
	out := make(map[string]any, len(m))
	for k, raw := range m {
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			out[k] = raw
			continue
		}
		out[k] = v
	}
	return out
}
