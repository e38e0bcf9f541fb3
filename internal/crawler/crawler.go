// Package crawler runs breadth-first same-domain crawl jobs through a
// headless browser and feeds each page into the indexing pipeline.
//
// A job starts pending, owns one browser session for its lifetime and ends
// exactly once in succeeded or failed. Pages that fail to load are skipped;
// any error from extraction, chunking, embedding or upsert fails the job.
package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/config"
	"github.com/fyrsmithlabs/ragd/internal/events"
	"github.com/fyrsmithlabs/ragd/internal/extract"
	"github.com/fyrsmithlabs/ragd/internal/logging"
	"github.com/fyrsmithlabs/ragd/internal/store"
)

const (
	DefaultMaxDepth  = 5
	DefaultPageDelay = time.Second
)

// ErrInvalidDepth is returned for a page budget outside 1..MaxDepth.
var ErrInvalidDepth = errors.New("invalid crawl depth")

// Indexer writes one text into a namespace.
type Indexer interface {
	Index(ctx context.Context, namespace, text string, source map[string]any) (int, error)
}

// Config controls crawl pacing and limits.
type Config struct {
	// PageDelay is the pause after every page. Default: 1s; negative disables it.
	PageDelay time.Duration
	// MaxDepth is the largest accepted page budget. Default: 5
	MaxDepth int
}

// FromAppConfig maps the crawler section of the application config.
func FromAppConfig(c config.CrawlerConfig) Config {
	return Config{PageDelay: c.PageDelay.Duration(), MaxDepth: c.MaxDepth}
}

func (c *Config) applyDefaults() {
	if c.PageDelay < 0 {
		c.PageDelay = 0
	} else if c.PageDelay == 0 {
		c.PageDelay = DefaultPageDelay
	}
	if c.MaxDepth <= 0 {
		c.MaxDepth = DefaultMaxDepth
	}
}

// Service creates and runs crawl jobs. Jobs share nothing but the indexer
// and the store, so any number may run at once.
type Service struct {
	browser Browser
	indexer Indexer
	store   store.Store
	events  events.Publisher
	cfg     Config
	logger  *logging.Logger

	sleep func(ctx context.Context, d time.Duration) error
	wg    sync.WaitGroup

	// observe, when set, sees the crawl state after every frontier change.
	observe func(visited []string, fr *frontier)
}

// NewService wires a crawl service. A nil publisher disables events.
func NewService(browser Browser, indexer Indexer, st store.Store, pub events.Publisher, cfg Config, logger *logging.Logger) (*Service, error) {
	if browser == nil || indexer == nil || st == nil {
		return nil, errors.New("crawler: browser, indexer and store are required")
	}
	if pub == nil {
		pub = events.Nop{}
	}
	if logger == nil {
		logger = logging.Nop()
	}
	cfg.applyDefaults()
	return &Service{
		browser: browser,
		indexer: indexer,
		store:   st,
		events:  pub,
		cfg:     cfg,
		logger:  logger.Named("crawler"),
		sleep:   sleepContext,
	}, nil
}

// Submit validates the request, records a pending job and appends the seed
// URL to the user's crawl list. It does not crawl.
func (s *Service) Submit(ctx context.Context, userID, rawURL string, depth int) (*store.Job, error) {
	if userID == "" {
		return nil, errors.New("user id is required")
	}
	if depth < 1 || depth > s.cfg.MaxDepth {
		return nil, fmt.Errorf("%w: %d (must be 1..%d)", ErrInvalidDepth, depth, s.cfg.MaxDepth)
	}
	seed, err := ValidateURL(rawURL)
	if err != nil {
		return nil, err
	}
	rawURL = seed.String()

	job := &store.Job{UserID: userID, URL: rawURL}
	if err := s.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("creating crawl job: %w", err)
	}
	if err := s.store.Append(ctx, userID, store.WebCrawlURLs, rawURL); err != nil {
		return nil, fmt.Errorf("recording crawl url: %w", err)
	}
	s.publish(ctx, events.Event{Type: events.JobCreated, JobID: job.ID, UserID: userID, URL: rawURL})
	return job, nil
}

// StartCrawl submits a job and runs it in the background. The returned job
// is pending; the store row is the only place its outcome shows up.
// Cancelling ctx does not stop the crawl.
func (s *Service) StartCrawl(ctx context.Context, userID, rawURL string, depth int) (*store.Job, error) {
	job, err := s.Submit(ctx, userID, rawURL, depth)
	if err != nil {
		return nil, err
	}
	bg := context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		_ = s.Run(bg, job, depth)
	}()
	return job, nil
}

// Wait blocks until every background crawl has finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

// Run crawls job to completion and records the terminal status. It returns
// the error that failed the job, if any.
func (s *Service) Run(ctx context.Context, job *store.Job, depth int) (err error) {
	ctx = logging.WithJobID(logging.WithUserID(ctx, job.UserID), job.ID)
	ctx, span := tracer.Start(ctx, "Crawler.Run")
	span.SetAttributes(
		attribute.String("job_id", job.ID),
		attribute.String("url", job.URL),
		attribute.Int("depth", depth),
	)
	defer span.End()

	start := time.Now()
	var visited []string
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("crawl panicked: %v", r)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		JobDuration.Observe(time.Since(start).Seconds())
		if ferr := s.finish(context.WithoutCancel(ctx), job, len(visited), err); ferr != nil && err == nil {
			err = ferr
		}
	}()

	s.logger.Info(ctx, "crawl started", zap.String("url", job.URL), zap.Int("depth", depth))
	visited, err = s.crawl(ctx, job, depth)
	return err
}

// crawl is the frontier loop. It returns the URLs whose content was indexed.
func (s *Service) crawl(ctx context.Context, job *store.Job, depth int) (visited []string, err error) {
	seed, err := ValidateURL(job.URL)
	if err != nil {
		return nil, err
	}
	domain := Domain(seed)

	session, err := s.browser.Open(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := session.Close(); cerr != nil {
			s.logger.Warn(ctx, "closing browser session", zap.Error(cerr))
		}
	}()

	fr := newFrontier(seed.String())
	for fr.Len() > 0 && len(visited) < depth {
		pageURL := fr.Pop()
		s.observeStep(visited, fr)

		page, ferr := session.Fetch(ctx, pageURL)
		if ferr != nil {
			PagesTotal.WithLabelValues("unreachable").Inc()
			s.logger.Warn(ctx, "page unreachable", zap.String("url", pageURL), zap.Error(ferr))
			page = ""
		}

		if page != "" {
			n, err := s.indexPage(ctx, job.UserID, pageURL, page)
			if err != nil {
				return visited, err
			}
			visited = append(visited, pageURL)
			PagesTotal.WithLabelValues("indexed").Inc()

			base, _ := url.Parse(pageURL)
			added := 0
			for _, link := range ExtractLinks(page, base, domain) {
				if fr.Push(link) {
					added++
				}
				s.observeStep(visited, fr)
			}
			s.logger.Debug(ctx, "page indexed",
				zap.String("url", pageURL),
				zap.Int("chunks", n),
				zap.Int("new_links", added),
				zap.Int("frontier", fr.Len()),
			)
			s.publish(ctx, events.Event{
				Type:    events.PageIndexed,
				JobID:   job.ID,
				UserID:  job.UserID,
				URL:     pageURL,
				Chunks:  n,
				Visited: len(visited),
			})
		} else if ferr == nil {
			PagesTotal.WithLabelValues("empty").Inc()
		}

		if err := s.sleep(ctx, s.cfg.PageDelay); err != nil {
			return visited, err
		}
	}
	return visited, nil
}

func (s *Service) indexPage(ctx context.Context, userID, pageURL, page string) (int, error) {
	ctx, span := tracer.Start(ctx, "Crawler.indexPage")
	span.SetAttributes(attribute.String("url", pageURL))
	defer span.End()

	text, err := extract.HTMLStringToText(page)
	if err != nil {
		err = &extract.ExtractionError{Format: "html", Path: pageURL, Err: err}
		span.RecordError(err)
		return 0, err
	}
	n, err := s.indexer.Index(ctx, userID, text, map[string]any{"url": pageURL})
	if err != nil {
		span.RecordError(err)
		return 0, err
	}
	span.SetAttributes(attribute.Int("chunks", n))
	return n, nil
}

// finish records the terminal status and emits the matching event.
func (s *Service) finish(ctx context.Context, job *store.Job, visited int, crawlErr error) error {
	status, evType, msg := store.JobSucceeded, events.JobSucceeded, ""
	if crawlErr != nil {
		status, evType, msg = store.JobFailed, events.JobFailed, crawlErr.Error()
	}
	JobsTotal.WithLabelValues(string(status)).Inc()

	if err := s.store.UpdateJobStatus(ctx, job.ID, status, msg); err != nil {
		s.logger.Error(ctx, "recording crawl job status",
			zap.String("status", string(status)),
			zap.Error(err),
		)
		return fmt.Errorf("recording job status: %w", err)
	}

	if crawlErr != nil {
		s.logger.Error(ctx, "crawl failed", zap.Int("visited", visited), zap.Error(crawlErr))
	} else {
		s.logger.Info(ctx, "crawl succeeded", zap.Int("visited", visited))
	}
	s.publish(ctx, events.Event{
		Type:    evType,
		JobID:   job.ID,
		UserID:  job.UserID,
		URL:     job.URL,
		Visited: visited,
		Error:   msg,
	})
	return nil
}

func (s *Service) observeStep(visited []string, fr *frontier) {
	if s.observe != nil {
		s.observe(visited, fr)
	}
}

func (s *Service) publish(ctx context.Context, ev events.Event) {
	if err := s.events.Publish(ctx, ev); err != nil {
		s.logger.Warn(ctx, "publishing job event", zap.String("type", string(ev.Type)), zap.Error(err))
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
