package main

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/blob"
	"github.com/fyrsmithlabs/ragd/internal/chat"
	"github.com/fyrsmithlabs/ragd/internal/chunker"
	"github.com/fyrsmithlabs/ragd/internal/config"
	"github.com/fyrsmithlabs/ragd/internal/crawler"
	"github.com/fyrsmithlabs/ragd/internal/embeddings"
	"github.com/fyrsmithlabs/ragd/internal/events"
	"github.com/fyrsmithlabs/ragd/internal/indexer"
	"github.com/fyrsmithlabs/ragd/internal/ingest"
	"github.com/fyrsmithlabs/ragd/internal/logging"
	"github.com/fyrsmithlabs/ragd/internal/pubmed"
	"github.com/fyrsmithlabs/ragd/internal/services"
	"github.com/fyrsmithlabs/ragd/internal/store"
	"github.com/fyrsmithlabs/ragd/internal/telemetry"
	"github.com/fyrsmithlabs/ragd/internal/users"
	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
)

// app holds every initialized dependency. close releases them in reverse
// order of creation.
type app struct {
	cfg       *config.Config
	logger    *logging.Logger
	telemetry *telemetry.Telemetry

	embedder  embeddings.Provider
	vectors   vectorstore.Gateway
	store     store.Store
	publisher *events.NATSPublisher

	indexer *indexer.Indexer
	crawler *crawler.Service
	scraper *crawler.Scraper
	ingest  *ingest.Service
	users   *users.Service
	chat    *chat.Service

	closers []func() error
}

// loadConfig reads the config file and environment.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// newApp initializes dependencies and services. withChat also builds the
// LLM client and PubMed client, which only serve needs.
//
// This function:
//  1. Initializes telemetry and the logger
//  2. Creates the embedding provider, vector store and record store
//  3. Connects to NATS when a URL is configured
//  4. Wires the indexer and the crawl, scrape, ingest and user services
func newApp(ctx context.Context, cfg *config.Config, withChat bool) (_ *app, err error) {
	a := &app{cfg: cfg}
	defer func() {
		if err != nil {
			a.close(ctx)
		}
	}()

	a.telemetry, err = telemetry.New(ctx, telemetry.FromAppConfig(cfg.Telemetry, version))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	a.closers = append(a.closers, func() error { return a.telemetry.Shutdown(context.WithoutCancel(ctx)) })

	logCfg, err := logging.FromAppConfig(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("invalid logging config: %w", err)
	}
	a.logger, err = logging.NewLogger(logCfg, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	a.closers = append(a.closers, func() error {
		_ = a.logger.Sync() // Best-effort sync on shutdown
		return nil
	})
	for _, d := range a.telemetry.Degraded() {
		a.logger.Warn(ctx, "telemetry degraded", zap.String("reason", d))
	}
	zl := a.logger.Underlying()

	a.embedder, err = embeddings.NewProvider(embeddings.FromAppConfig(cfg.Embeddings), zl.Named("embeddings"))
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding provider: %w", err)
	}
	a.closers = append(a.closers, a.embedder.Close)

	a.vectors, err = vectorstore.New(ctx, cfg.VectorStore, a.embedder.Dimension(), zl)
	if err != nil {
		return nil, fmt.Errorf("failed to create vector store: %w", err)
	}
	a.closers = append(a.closers, a.vectors.Close)

	a.store, err = store.New(ctx, cfg.Store, zl)
	if err != nil {
		return nil, fmt.Errorf("failed to open record store: %w", err)
	}
	a.closers = append(a.closers, a.store.Close)

	a.logger.Info(ctx, "storage initialized",
		zap.String("embeddings", cfg.Embeddings.Provider),
		zap.String("model", cfg.Embeddings.Model),
		zap.Int("dimension", a.embedder.Dimension()),
		zap.String("vectorstore", cfg.VectorStore.Provider),
		zap.String("store", cfg.Store.Driver))

	var pub events.Publisher
	if cfg.NATS.URL != "" {
		a.publisher, err = events.Connect(cfg.NATS.URL, cfg.NATS.SubjectPrefix, zl.Named("events"))
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, a.publisher.Close)
		pub = a.publisher
		a.logger.Info(ctx, "connected to nats", zap.String("url", cfg.NATS.URL))
	}

	ch, err := chunker.New(a.embedder, chunker.FromAppConfig(cfg.Chunker), zl)
	if err != nil {
		return nil, err
	}
	a.indexer, err = indexer.New(ch, a.embedder, a.vectors, zl.Named("indexer"))
	if err != nil {
		return nil, err
	}

	browser := crawler.NewChromeBrowser(crawler.ChromeConfig{
		ExecPath:    cfg.Crawler.ChromePath,
		UserAgent:   cfg.Crawler.UserAgent,
		PageTimeout: cfg.Crawler.PageTimeout.Duration(),
	}, zl.Named("browser"))
	a.crawler, err = crawler.NewService(browser, a.indexer, a.store, pub, crawler.FromAppConfig(cfg.Crawler), a.logger)
	if err != nil {
		return nil, err
	}
	a.scraper = crawler.NewScraper(nil, a.indexer, a.store, cfg.Crawler.UserAgent, a.logger)

	var archive blob.Store
	if cfg.Ingest.ArchiveOriginals {
		archive, err = blob.NewS3Store(ctx, cfg.S3, zl.Named("blob"))
		if err != nil {
			return nil, fmt.Errorf("failed to create document archive: %w", err)
		}
	}
	a.ingest, err = ingest.NewService(a.indexer, a.store, archive, ingest.Config{TempDir: cfg.Ingest.TempDir}, a.logger)
	if err != nil {
		return nil, err
	}

	a.users, err = users.NewService(a.store, a.vectors, cfg.VectorStore.DefaultNamespace, cfg.VectorStore.BatchSize, a.logger)
	if err != nil {
		return nil, err
	}

	if withChat {
		llm, err := chat.NewOpenAIClient(cfg.LLM)
		if err != nil {
			return nil, fmt.Errorf("failed to create chat model: %w", err)
		}
		articles := pubmed.NewClient(pubmed.FromAppConfig(cfg.PubMed), zl.Named("pubmed"))
		a.chat, err = chat.NewService(llm, a.indexer, articles, a.store, cfg.VectorStore.DefaultNamespace, a.logger)
		if err != nil {
			return nil, err
		}
	}
	return a, nil
}

// registry exposes the services to the HTTP layer.
func (a *app) registry() services.Registry {
	opts := services.Options{
		Crawler: a.crawler,
		Scraper: a.scraper,
		Ingest:  a.ingest,
		Chat:    a.chat,
		Users:   a.users,
		Indexer: a.indexer,
		Store:   a.store,
	}
	if a.publisher != nil {
		opts.Events = a.publisher
	}
	return services.NewRegistry(opts)
}

// close waits for background work and releases every resource.
func (a *app) close(ctx context.Context) {
	if a.crawler != nil {
		a.crawler.Wait()
	}
	if a.scraper != nil {
		a.scraper.Wait()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil && a.logger != nil {
		a.logger.Warn(ctx, "shutdown errors", zap.Error(err))
	}
}
