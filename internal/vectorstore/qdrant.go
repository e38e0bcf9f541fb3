package vectorstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// idPayloadKey holds the caller's record id. Qdrant point ids must be UUIDs
// or integers, so arbitrary ids are mapped to a name-based UUID.
const idPayloadKey = "_id"

// QdrantConfig configures a QdrantStore.
type QdrantConfig struct {
	Host   string
	Port   int
	UseTLS bool

	// Prefix is prepended to every collection name.
	Prefix string

	// VectorSize is the dimension of every collection created.
	VectorSize int

	// Distance defaults to cosine.
	Distance qdrant.Distance

	BatchSize int

	// MaxRetries for transient gRPC failures. Default: 3
	MaxRetries   int
	RetryBackoff time.Duration

	// CircuitBreakerThreshold is the number of failures before opening circuit.
	CircuitBreakerThreshold int

	// MaxMessageSize for gRPC calls. Default: 50MB
	MaxMessageSize int
}

// ApplyDefaults sets default values for unset fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.Prefix == "" {
		c.Prefix = "ragd"
	}
	if c.Distance == qdrant.Distance_UnknownDistance {
		c.Distance = qdrant.Distance_Cosine
	}
	if c.BatchSize == 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = time.Second
	}
	if c.CircuitBreakerThreshold == 0 {
		c.CircuitBreakerThreshold = 5
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 50 * 1024 * 1024
	}
}

// Validate validates the configuration.
func (c QdrantConfig) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: port must be 1-65535, got %d", ErrInvalidConfig, c.Port)
	}
	if c.VectorSize <= 0 {
		return fmt.Errorf("%w: vector size must be positive", ErrInvalidConfig)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("%w: max retries cannot be negative", ErrInvalidConfig)
	}
	return nil
}

// IsTransientError reports whether a gRPC error is worth retrying.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch st.Code() {
	case grpccodes.Unavailable, grpccodes.DeadlineExceeded, grpccodes.Aborted, grpccodes.ResourceExhausted:
		return true
	default:
		return false
	}
}

// QdrantStore is a Gateway over Qdrant's gRPC API with one collection per
// namespace. Collections are created on first upsert.
type QdrantStore struct {
	client *qdrant.Client
	config QdrantConfig
	logger *zap.Logger

	// collections caches collection names known to exist.
	collections sync.Map

	circuitBreaker struct {
		failures int
		lastFail time.Time
		mu       sync.Mutex
	}
}

// NewQdrantStore connects to Qdrant and performs a health check.
func NewQdrantStore(config QdrantConfig, logger *zap.Logger) (*QdrantStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	if !config.UseTLS {
		logger.Warn("qdrant gRPC using plaintext, TLS disabled", zap.String("host", config.Host))
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   config.Host,
		Port:   config.Port,
		UseTLS: config.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(config.MaxMessageSize),
				grpc.MaxCallSendMsgSize(config.MaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	store := &QdrantStore{client: client, config: config, logger: logger}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := store.healthCheck(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the gRPC connection.
func (s *QdrantStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

func (s *QdrantStore) healthCheck(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "QdrantStore.HealthCheck")
	defer span.End()

	if _, err := s.client.HealthCheck(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("%w: health check: %v", ErrConnectionFailed, err)
	}
	return nil
}

// retryOperation retries an operation with exponential backoff.
func (s *QdrantStore) retryOperation(ctx context.Context, operationName string, operation func() error) error {
	backoff := s.config.RetryBackoff

	for attempt := 0; attempt <= s.config.MaxRetries; attempt++ {
		err := operation()
		if err == nil {
			s.resetCircuitBreaker()
			return nil
		}
		if s.isCircuitOpen() {
			return fmt.Errorf("%s: circuit breaker open: %w", operationName, err)
		}
		if !IsTransientError(err) {
			return fmt.Errorf("%s failed (permanent): %w", operationName, err)
		}

		s.recordFailure()
		if attempt == s.config.MaxRetries {
			return fmt.Errorf("%s failed after %d retries: %w", operationName, s.config.MaxRetries, err)
		}

		s.logger.Debug("retrying qdrant operation",
			zap.String("operation", operationName),
			zap.Int("attempt", attempt+1),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return fmt.Errorf("%s canceled: %w", operationName, ctx.Err())
		case <-time.After(backoff):
			backoff *= 2
		}
	}
	return nil
}

func (s *QdrantStore) recordFailure() {
	s.circuitBreaker.mu.Lock()
	defer s.circuitBreaker.mu.Unlock()
	s.circuitBreaker.failures++
	s.circuitBreaker.lastFail = time.Now()
}

func (s *QdrantStore) resetCircuitBreaker() {
	s.circuitBreaker.mu.Lock()
	defer s.circuitBreaker.mu.Unlock()
	s.circuitBreaker.failures = 0
}

func (s *QdrantStore) isCircuitOpen() bool {
	s.circuitBreaker.mu.Lock()
	defer s.circuitBreaker.mu.Unlock()

	if s.circuitBreaker.failures >= s.config.CircuitBreakerThreshold {
		// Half-open after 30 seconds.
		if time.Since(s.circuitBreaker.lastFail) > 30*time.Second {
			s.circuitBreaker.failures = 0
			return false
		}
		return true
	}
	return false
}

// collectionExists checks the cache before asking Qdrant.
func (s *QdrantStore) collectionExists(ctx context.Context, name string) (bool, error) {
	if _, ok := s.collections.Load(name); ok {
		return true, nil
	}
	var exists bool
	err := s.retryOperation(ctx, "collection_exists", func() error {
		var err error
		exists, err = s.client.CollectionExists(ctx, name)
		return err
	})
	if err != nil {
		return false, err
	}
	if exists {
		s.collections.Store(name, true)
	}
	return exists, nil
}

// ensureCollection creates the namespace collection if it does not exist.
func (s *QdrantStore) ensureCollection(ctx context.Context, name string) error {
	exists, err := s.collectionExists(ctx, name)
	if err != nil {
		return err
	}

	if !exists {
		err = s.retryOperation(ctx, "create_collection", func() error {
			return s.client.CreateCollection(ctx, &qdrant.CreateCollection{
				CollectionName: name,
				VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
					Size:     uint64(s.config.VectorSize),
					Distance: s.config.Distance,
				}),
			})
		})
		if err != nil {
			return fmt.Errorf("creating collection %s: %w", name, err)
		}
		s.logger.Info("created qdrant collection", zap.String("collection", name))
	}

	s.collections.Store(name, true)
	return nil
}

// Upsert writes records in batches, creating the collection when needed.
func (s *QdrantStore) Upsert(ctx context.Context, namespace string, records []Record) error {
	ctx, span := tracer.Start(ctx, "QdrantStore.Upsert")
	defer span.End()

	start := time.Now()
	name, err := CollectionName(s.config.Prefix, namespace)
	if err != nil {
		return err
	}
	span.SetAttributes(
		attribute.String("collection", name),
		attribute.Int("record_count", len(records)),
	)
	if len(records) == 0 {
		return nil
	}

	err = upsertBatches(records, s.config.BatchSize, func(batch []Record) error {
		if err := s.ensureCollection(ctx, name); err != nil {
			return err
		}
		points := make([]*qdrant.PointStruct, len(batch))
		for i, r := range batch {
			if len(r.Values) != s.config.VectorSize {
				return fmt.Errorf("%w: record %q has %d values, want %d",
					ErrDimensionMismatch, r.ID, len(r.Values), s.config.VectorSize)
			}
			points[i] = &qdrant.PointStruct{
				Id:      qdrant.NewIDUUID(pointUUID(r.ID)),
				Vectors: qdrant.NewVectors(r.Values...),
				Payload: toPayload(r.ID, r.Metadata),
			}
		}
		return s.retryOperation(ctx, "upsert", func() error {
			_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
				CollectionName: name,
				Wait:           qdrant.PtrOf(true),
				Points:         points,
			})
			return err
		})
	})
	observeOp("qdrant", "upsert", start, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	upsertedRecords.WithLabelValues("qdrant").Add(float64(len(records)))
	span.SetStatus(codes.Ok, "success")
	return nil
}

// Query returns the topK nearest records in namespace.
func (s *QdrantStore) Query(ctx context.Context, namespace string, vector []float32, topK int) ([]Match, error) {
	ctx, span := tracer.Start(ctx, "QdrantStore.Query")
	defer span.End()

	start := time.Now()
	name, err := CollectionName(s.config.Prefix, namespace)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("collection", name), attribute.Int("top_k", topK))
	if topK <= 0 {
		return []Match{}, nil
	}
	exists, err := s.collectionExists(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("querying collection %s: %w", name, err)
	}
	if !exists {
		return []Match{}, nil
	}

	var points []*qdrant.ScoredPoint
	err = s.retryOperation(ctx, "query", func() error {
		res, err := s.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: name,
			Query:          qdrant.NewQuery(vector...),
			Limit:          qdrant.PtrOf(uint64(topK)),
			WithPayload:    qdrant.NewWithPayload(true),
		})
		if err != nil {
			return err
		}
		points = res
		return nil
	})
	observeOp("qdrant", "query", start, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying collection %s: %w", name, err)
	}

	matches := make([]Match, 0, len(points))
	for _, p := range points {
		id, metadata := fromPayload(p.GetPayload())
		matches = append(matches, Match{ID: id, Score: p.GetScore(), Metadata: metadata})
	}
	span.SetAttributes(attribute.Int("results_count", len(matches)))
	span.SetStatus(codes.Ok, "success")
	return matches, nil
}

// ListIDs scrolls the collection. The page token is the Qdrant point id at
// which the next page starts.
func (s *QdrantStore) ListIDs(ctx context.Context, namespace, pageToken string, limit int) ([]string, string, error) {
	ctx, span := tracer.Start(ctx, "QdrantStore.ListIDs")
	defer span.End()

	name, err := CollectionName(s.config.Prefix, namespace)
	if err != nil {
		return nil, "", err
	}
	if limit <= 0 {
		limit = s.config.BatchSize
	}
	exists, err := s.collectionExists(ctx, name)
	if err != nil || !exists {
		return []string{}, "", err
	}

	req := &qdrant.ScrollPoints{
		CollectionName: name,
		Limit:          qdrant.PtrOf(uint32(limit)),
		WithPayload:    qdrant.NewWithPayloadInclude(idPayloadKey),
		WithVectors:    qdrant.NewWithVectors(false),
	}
	if pageToken != "" {
		req.Offset = qdrant.NewIDUUID(pageToken)
	}

	var (
		points []*qdrant.RetrievedPoint
		next   *qdrant.PointId
	)
	err = s.retryOperation(ctx, "scroll", func() error {
		var err error
		points, next, err = s.client.ScrollAndOffset(ctx, req)
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, "", fmt.Errorf("scrolling collection %s: %w", name, err)
	}

	ids := make([]string, 0, len(points))
	for _, p := range points {
		id, _ := fromPayload(p.GetPayload())
		ids = append(ids, id)
	}
	return ids, next.GetUuid(), nil
}

// Fetch retrieves records with their vectors.
func (s *QdrantStore) Fetch(ctx context.Context, namespace string, ids []string) (map[string]Record, error) {
	ctx, span := tracer.Start(ctx, "QdrantStore.Fetch")
	defer span.End()

	name, err := CollectionName(s.config.Prefix, namespace)
	if err != nil {
		return nil, err
	}
	out := make(map[string]Record, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	exists, err := s.collectionExists(ctx, name)
	if err != nil || !exists {
		return out, err
	}

	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = qdrant.NewIDUUID(pointUUID(id))
	}

	var points []*qdrant.RetrievedPoint
	err = s.retryOperation(ctx, "get", func() error {
		var err error
		points, err = s.client.Get(ctx, &qdrant.GetPoints{
			CollectionName: name,
			Ids:            pointIDs,
			WithPayload:    qdrant.NewWithPayload(true),
			WithVectors:    qdrant.NewWithVectors(true),
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("fetching from collection %s: %w", name, err)
	}

	for _, p := range points {
		id, metadata := fromPayload(p.GetPayload())
		out[id] = Record{
			ID:       id,
			Values:   p.GetVectors().GetVector().GetData(),
			Metadata: metadata,
		}
	}
	return out, nil
}

// pointUUID returns id when it is already a UUID, else a stable name-based UUID.
func pointUUID(id string) string {
	if _, err := uuid.Parse(id); err == nil {
		return id
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(id)).String()
}

func toPayload(id string, metadata map[string]any) map[string]*qdrant.Value {
	payload := make(map[string]*qdrant.Value, len(metadata)+1)
	for k, v := range metadata {
		switch val := v.(type) {
		case string:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: val}}
		case int:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(val)}}
		case int64:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: val}}
		case float64:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_DoubleValue{DoubleValue: val}}
		case bool:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_BoolValue{BoolValue: val}}
		default:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: fmt.Sprint(val)}}
		}
	}
	payload[idPayloadKey] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: id}}
	return payload
}

func fromPayload(payload map[string]*qdrant.Value) (string, map[string]any) {
	var id string
	metadata := make(map[string]any, len(payload))
	for k, v := range payload {
		var value any
		switch val := v.GetKind().(type) {
		case *qdrant.Value_StringValue:
			value = val.StringValue
		case *qdrant.Value_IntegerValue:
			value = val.IntegerValue
		case *qdrant.Value_DoubleValue:
			value = val.DoubleValue
		case *qdrant.Value_BoolValue:
			value = val.BoolValue
		default:
			continue
		}
		if k == idPayloadKey {
			id, _ = value.(string)
			continue
		}
		metadata[k] = value
	}
	return id, metadata
}
