// Package vectorstore is the namespaced vector index gateway. Every backend
// keeps namespaces physically apart (a collection or a key column per
// namespace), so a query scoped to one namespace never sees another's records.
package vectorstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// DefaultBatchSize bounds the number of records per upsert request.
const DefaultBatchSize = 100

var (
	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrInvalidNamespace indicates an empty or unusable namespace.
	ErrInvalidNamespace = errors.New("invalid namespace")

	// ErrInvalidRecord indicates a record without id or values.
	ErrInvalidRecord = errors.New("invalid record")

	// ErrDimensionMismatch indicates a vector of the wrong length.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrUpsertFailed wraps every failed upsert.
	ErrUpsertFailed = errors.New("upsert failed")

	// ErrConnectionFailed indicates the backend could not be reached.
	ErrConnectionFailed = errors.New("vector store connection failed")
)

// Record is one stored vector.
type Record struct {
	ID       string
	Values   []float32
	Metadata map[string]any
}

// Match is a query hit, highest score first.
type Match struct {
	ID       string
	Score    float32
	Metadata map[string]any
}

// Gateway is a namespaced vector index.
//
// Upsert overwrites by id, so repeating it is harmless. Query returns an
// empty slice, not an error, when the namespace is empty or unknown.
type Gateway interface {
	Upsert(ctx context.Context, namespace string, records []Record) error
	Query(ctx context.Context, namespace string, vector []float32, topK int) ([]Match, error)
	// ListIDs returns up to limit ids after pageToken in a stable order, and
	// the token for the next page ("" when done).
	ListIDs(ctx context.Context, namespace, pageToken string, limit int) ([]string, string, error)
	// Fetch returns the records found among ids. Missing ids are omitted.
	Fetch(ctx context.Context, namespace string, ids []string) (map[string]Record, error)
	Close() error
}

// BatchError reports the records [Start:End) of a failed upsert.
type BatchError struct {
	Start, End int
	Err        error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("batch upsert failed at [%d:%d]: %v", e.Start, e.End, e.Err)
}

func (e *BatchError) Unwrap() []error {
	return []error{ErrUpsertFailed, e.Err}
}

// upsertBatches validates records and calls fn for consecutive slices of at
// most size records. The first failing batch stops the upsert.
func upsertBatches(records []Record, size int, fn func(batch []Record) error) error {
	if size <= 0 {
		size = DefaultBatchSize
	}
	for i, r := range records {
		if r.ID == "" || len(r.Values) == 0 {
			return fmt.Errorf("%w: record %d has empty id or values", ErrInvalidRecord, i)
		}
	}
	for start := 0; start < len(records); start += size {
		end := min(start+size, len(records))
		if err := fn(records[start:end]); err != nil {
			return &BatchError{Start: start, End: end, Err: err}
		}
	}
	return nil
}

var (
	collectionNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)
	unsafeNameChars       = regexp.MustCompile(`[^a-z0-9_]`)
)

// ValidateCollectionName checks name against ^[a-z0-9_]{1,64}$.
func ValidateCollectionName(name string) error {
	if !collectionNamePattern.MatchString(name) {
		return fmt.Errorf("%w: collection name must match ^[a-z0-9_]{1,64}$, got %q", ErrInvalidNamespace, name)
	}
	return nil
}

// CollectionName maps a namespace to a backend-safe collection name. Names
// that are already safe map to prefix_namespace; anything else gets a
// sanitised stem plus a hash of the original so distinct namespaces never
// share a collection.
func CollectionName(prefix, namespace string) (string, error) {
	if strings.TrimSpace(namespace) == "" {
		return "", fmt.Errorf("%w: namespace cannot be empty", ErrInvalidNamespace)
	}
	stem := unsafeNameChars.ReplaceAllString(strings.ToLower(namespace), "_")
	name := prefix + "_" + stem
	if stem == namespace && len(name) <= 64 {
		return name, nil
	}

	sum := sha256.Sum256([]byte(namespace))
	suffix := "_" + hex.EncodeToString(sum[:6])
	if room := 64 - len(prefix) - 1 - len(suffix); len(stem) > room {
		stem = stem[:max(room, 0)]
	}
	name = prefix + "_" + stem + suffix
	return name, ValidateCollectionName(name)
}

// TransferNamespace copies every record in src into dst unchanged. It is
// not transactional; re-running after a failure completes the copy because
// upsert overwrites by id. It returns the number of records copied.
func TransferNamespace(ctx context.Context, gw Gateway, src, dst string, pageSize int) (int, error) {
	if src == dst {
		return 0, fmt.Errorf("%w: source and destination are both %q", ErrInvalidNamespace, src)
	}
	if pageSize <= 0 {
		pageSize = DefaultBatchSize
	}

	copied := 0
	token := ""
	for {
		ids, next, err := gw.ListIDs(ctx, src, token, pageSize)
		if err != nil {
			return copied, fmt.Errorf("listing %q: %w", src, err)
		}
		if len(ids) > 0 {
			found, err := gw.Fetch(ctx, src, ids)
			if err != nil {
				return copied, fmt.Errorf("fetching from %q: %w", src, err)
			}
			records := make([]Record, 0, len(found))
			for _, id := range ids {
				if r, ok := found[id]; ok {
					records = append(records, r)
				}
			}
			if err := gw.Upsert(ctx, dst, records); err != nil {
				return copied, fmt.Errorf("upserting into %q: %w", dst, err)
			}
			copied += len(records)
			transferredRecords.Add(float64(len(records)))
		}
		if next == "" {
			return copied, nil
		}
		token = next
	}
}
