package vectorstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pgvector/pgvector-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// PgVectorConfig configures a PgVectorStore.
type PgVectorConfig struct {
	DSN        string
	VectorSize int
	BatchSize  int

	// Table defaults to ragd_vectors.
	Table string
}

// PgVectorStore is a Gateway on PostgreSQL with the pgvector extension.
// All namespaces share one table keyed by (namespace, id).
type PgVectorStore struct {
	db     *sql.DB
	config PgVectorConfig
	logger *zap.Logger
}

// NewPgVectorStore connects, pings and creates the table if needed.
func NewPgVectorStore(ctx context.Context, config PgVectorConfig, logger *zap.Logger) (*PgVectorStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.DSN == "" {
		return nil, fmt.Errorf("%w: pgvector dsn is required", ErrInvalidConfig)
	}
	if config.VectorSize <= 0 {
		return nil, fmt.Errorf("%w: vector size must be positive", ErrInvalidConfig)
	}
	if config.BatchSize == 0 {
		config.BatchSize = DefaultBatchSize
	}
	if config.Table == "" {
		config.Table = "ragd_vectors"
	}
	if err := ValidateCollectionName(config.Table); err != nil {
		return nil, fmt.Errorf("%w: table: %v", ErrInvalidConfig, err)
	}

	db, err := sql.Open("pgx", config.DSN)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: ping: %v", ErrConnectionFailed, err)
	}

	s := &PgVectorStore{db: db, config: config, logger: logger}
	if err := s.bootstrap(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *PgVectorStore) bootstrap(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			namespace TEXT NOT NULL,
			id        TEXT NOT NULL,
			embedding vector(%d) NOT NULL,
			metadata  JSONB NOT NULL DEFAULT '{}'::jsonb,
			PRIMARY KEY (namespace, id)
		)`, s.config.Table, s.config.VectorSize),
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrapping pgvector schema: %w", err)
		}
	}
	return nil
}

// Upsert writes each batch in its own transaction.
func (s *PgVectorStore) Upsert(ctx context.Context, namespace string, records []Record) error {
	ctx, span := tracer.Start(ctx, "PgVectorStore.Upsert")
	defer span.End()
	span.SetAttributes(attribute.String("namespace", namespace), attribute.Int("record_count", len(records)))

	if strings.TrimSpace(namespace) == "" {
		return fmt.Errorf("%w: namespace cannot be empty", ErrInvalidNamespace)
	}
	start := time.Now()
	q := fmt.Sprintf(`
		INSERT INTO %s (namespace, id, embedding, metadata)
		VALUES ($1, $2, $3, $4::jsonb)
		ON CONFLICT (namespace, id)
		DO UPDATE SET embedding = EXCLUDED.embedding, metadata = EXCLUDED.metadata`, s.config.Table)

	err := upsertBatches(records, s.config.BatchSize, func(batch []Record) error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		stmt, err := tx.PrepareContext(ctx, q)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, r := range batch {
			if len(r.Values) != s.config.VectorSize {
				return fmt.Errorf("%w: record %q has %d values, want %d",
					ErrDimensionMismatch, r.ID, len(r.Values), s.config.VectorSize)
			}
			meta, err := json.Marshal(nonNil(r.Metadata))
			if err != nil {
				return fmt.Errorf("record %q: encoding metadata: %w", r.ID, err)
			}
			if _, err := stmt.ExecContext(ctx, namespace, r.ID, pgvector.NewVector(r.Values), string(meta)); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
	observeOp("pgvector", "upsert", start, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	upsertedRecords.WithLabelValues("pgvector").Add(float64(len(records)))
	return nil
}

// Query orders by cosine distance; the score is 1 - distance.
func (s *PgVectorStore) Query(ctx context.Context, namespace string, vector []float32, topK int) ([]Match, error) {
	ctx, span := tracer.Start(ctx, "PgVectorStore.Query")
	defer span.End()
	span.SetAttributes(attribute.String("namespace", namespace), attribute.Int("top_k", topK))

	if topK <= 0 {
		return []Match{}, nil
	}
	start := time.Now()
	q := fmt.Sprintf(`
		SELECT id, metadata, 1 - (embedding <=> $2) AS score
		FROM %s
		WHERE namespace = $1
		ORDER BY embedding <=> $2
		LIMIT $3`, s.config.Table)

	rows, err := s.db.QueryContext(ctx, q, namespace, pgvector.NewVector(vector), topK)
	if err != nil {
		observeOp("pgvector", "query", start, err)
		span.RecordError(err)
		return nil, fmt.Errorf("querying namespace %q: %w", namespace, err)
	}
	defer rows.Close()

	matches := []Match{}
	for rows.Next() {
		var (
			m    Match
			meta []byte
		)
		if err := rows.Scan(&m.ID, &meta, &m.Score); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(meta, &m.Metadata); err != nil {
			return nil, fmt.Errorf("decoding metadata for %q: %w", m.ID, err)
		}
		matches = append(matches, m)
	}
	observeOp("pgvector", "query", start, rows.Err())
	return matches, rows.Err()
}

// ListIDs uses keyset pagination on id.
func (s *PgVectorStore) ListIDs(ctx context.Context, namespace, pageToken string, limit int) ([]string, string, error) {
	if limit <= 0 {
		limit = s.config.BatchSize
	}
	q := fmt.Sprintf(`
		SELECT id FROM %s
		WHERE namespace = $1 AND id > $2
		ORDER BY id
		LIMIT $3`, s.config.Table)

	// One extra row tells us whether another page exists.
	rows, err := s.db.QueryContext(ctx, q, namespace, pageToken, limit+1)
	if err != nil {
		return nil, "", fmt.Errorf("listing namespace %q: %w", namespace, err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, "", err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}

	next := ""
	if len(ids) > limit {
		ids = ids[:limit]
		next = ids[limit-1]
	}
	return ids, next, nil
}

// Fetch returns the stored records among ids.
func (s *PgVectorStore) Fetch(ctx context.Context, namespace string, ids []string) (map[string]Record, error) {
	out := make(map[string]Record, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	q := fmt.Sprintf(`
		SELECT id, embedding, metadata FROM %s
		WHERE namespace = $1 AND id = ANY($2)`, s.config.Table)

	rows, err := s.db.QueryContext(ctx, q, namespace, ids)
	if err != nil {
		return nil, fmt.Errorf("fetching from namespace %q: %w", namespace, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			r    Record
			emb  pgvector.Vector
			meta []byte
		)
		if err := rows.Scan(&r.ID, &emb, &meta); err != nil {
			return nil, err
		}
		r.Values = emb.Slice()
		if err := json.Unmarshal(meta, &r.Metadata); err != nil {
			return nil, fmt.Errorf("decoding metadata for %q: %w", r.ID, err)
		}
		out[r.ID] = r
	}
	return out, rows.Err()
}

// Close closes the connection pool.
func (s *PgVectorStore) Close() error {
	return s.db.Close()
}

func nonNil(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
