// Package ingest turns uploaded documents into vectors in the owner's
// namespace.
//
// A batch is all or nothing from the caller's view: every file name is
// checked before work starts, and the first extraction, chunking,
// embedding or upsert error aborts the rest of the batch. Files handled
// before the failure stay indexed. The batch's temporary directory is
// removed on every exit path.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/blob"
	"github.com/fyrsmithlabs/ragd/internal/extract"
	"github.com/fyrsmithlabs/ragd/internal/logging"
	"github.com/fyrsmithlabs/ragd/internal/store"
)

// SourceKey is the metadata key naming the originating file.
const SourceKey = "source"

var tracer = otel.Tracer("ragd.ingest")

var (
	documentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragd",
			Subsystem: "ingest",
			Name:      "documents_total",
			Help:      "Total number of ingested documents by format and result",
		},
		[]string{"format", "result"},
	)
	batchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "ragd",
			Subsystem: "ingest",
			Name:      "batch_duration_seconds",
			Help:      "Duration of ingestion batches in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		},
	)
)

// ErrNoFiles is returned for an empty batch.
var ErrNoFiles = errors.New("no files to ingest")

// Indexer writes one text into a namespace.
type Indexer interface {
	Index(ctx context.Context, namespace, text string, source map[string]any) (int, error)
}

// File is one uploaded document.
type File struct {
	// Name is the client-side file name; its extension selects the format.
	Name string
	Open func() (io.ReadCloser, error)
}

// PathFile wraps a file on disk.
func PathFile(path string) File {
	return File{
		Name: filepath.Base(path),
		Open: func() (io.ReadCloser, error) { return os.Open(path) },
	}
}

// Config controls where batches are staged.
type Config struct {
	// TempDir is the parent of per-batch directories. Empty uses os.TempDir.
	TempDir string
}

// Service ingests document batches.
type Service struct {
	indexer Indexer
	store   store.Store
	archive blob.Store
	cfg     Config
	logger  *logging.Logger
}

// NewService wires ingestion. archive may be nil to skip keeping originals.
func NewService(indexer Indexer, st store.Store, archive blob.Store, cfg Config, logger *logging.Logger) (*Service, error) {
	if indexer == nil || st == nil {
		return nil, errors.New("ingest: indexer and store are required")
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Service{
		indexer: indexer,
		store:   st,
		archive: archive,
		cfg:     cfg,
		logger:  logger.Named("ingest"),
	}, nil
}

// Ingest indexes files into userID's namespace in order and records their
// names in the user's document list. It returns the processed file names.
func (s *Service) Ingest(ctx context.Context, userID string, files []File) (processed []string, err error) {
	if userID == "" {
		return nil, errors.New("user id is required")
	}
	if len(files) == 0 {
		return nil, ErrNoFiles
	}
	ctx = logging.WithUserID(ctx, userID)
	ctx, span := tracer.Start(ctx, "Ingest.Batch")
	span.SetAttributes(attribute.Int("files", len(files)))
	start := time.Now()
	defer func() {
		batchDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	formats := make([]extract.Format, len(files))
	for i, f := range files {
		format, err := extract.FormatOf(f.Name)
		if err != nil {
			documentsTotal.WithLabelValues("unsupported", "error").Inc()
			s.logger.Warn(ctx, "rejecting ingestion batch", zap.String("file", f.Name), zap.Error(err))
			return nil, err
		}
		formats[i] = format
	}

	dir, err := os.MkdirTemp(s.cfg.TempDir, "ragd-ingest-*")
	if err != nil {
		return nil, fmt.Errorf("creating temp dir: %w", err)
	}
	defer func() {
		if rerr := os.RemoveAll(dir); rerr != nil {
			s.logger.Warn(ctx, "removing temp dir", zap.String("dir", dir), zap.Error(rerr))
		}
	}()

	for i, f := range files {
		n, err := s.ingestOne(ctx, userID, dir, i, f, formats[i])
		if err != nil {
			documentsTotal.WithLabelValues(string(formats[i]), "error").Inc()
			s.logger.Error(ctx, "ingestion failed",
				zap.String("file", f.Name),
				zap.Int("processed", len(processed)),
				zap.Error(err),
			)
			return nil, err
		}
		documentsTotal.WithLabelValues(string(formats[i]), "indexed").Inc()
		s.logger.Info(ctx, "document indexed", zap.String("file", f.Name), zap.Int("chunks", n))
		processed = append(processed, f.Name)
	}

	if err := s.store.Append(ctx, userID, store.Documents, processed...); err != nil {
		return nil, fmt.Errorf("recording documents: %w", err)
	}
	return processed, nil
}

// ingestOne stages f in dir, extracts, archives and indexes it, then
// deletes the staged copy.
func (s *Service) ingestOne(ctx context.Context, userID, dir string, i int, f File, format extract.Format) (int, error) {
	ctx, span := tracer.Start(ctx, "Ingest.File")
	span.SetAttributes(attribute.String("file", f.Name), attribute.String("format", string(format)))
	defer span.End()

	path, err := stage(dir, i, f)
	if err != nil {
		return 0, err
	}
	defer os.Remove(path)

	text, err := extract.Extract(path, format)
	if err != nil {
		return 0, err
	}

	if s.archive != nil {
		if err := s.archiveOriginal(ctx, userID, path, f.Name); err != nil {
			return 0, err
		}
	}

	return s.indexer.Index(ctx, userID, text, map[string]any{SourceKey: f.Name})
}

func (s *Service) archiveOriginal(ctx context.Context, userID, path, name string) error {
	src, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening staged %s: %w", name, err)
	}
	defer src.Close()

	contentType := mime.TypeByExtension(filepath.Ext(name))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	loc, err := s.archive.Put(ctx, blob.DocumentKey(userID, name), src, contentType)
	if err != nil {
		return fmt.Errorf("archiving %s: %w", name, err)
	}
	s.logger.Debug(ctx, "document archived", zap.String("file", name), zap.String("location", loc))
	return nil
}

// stage copies f into dir under a name that cannot escape dir.
func stage(dir string, i int, f File) (string, error) {
	src, err := f.Open()
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", f.Name, err)
	}
	defer src.Close()

	base := filepath.Base(strings.ReplaceAll(f.Name, "\\", "/"))
	path := filepath.Join(dir, strconv.Itoa(i)+"_"+base)
	dst, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		return "", fmt.Errorf("staging %s: %w", f.Name, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return "", fmt.Errorf("staging %s: %w", f.Name, err)
	}
	if err := dst.Close(); err != nil {
		return "", fmt.Errorf("staging %s: %w", f.Name, err)
	}
	return path, nil
}
