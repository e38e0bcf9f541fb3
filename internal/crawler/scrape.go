package crawler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/extract"
	"github.com/fyrsmithlabs/ragd/internal/logging"
	"github.com/fyrsmithlabs/ragd/internal/store"
)

const maxScrapeBytes = 10 << 20

// ErrScrapeStatus is returned when the page answers with a non-200 status.
var ErrScrapeStatus = errors.New("failed to scrape url")

// Scraper indexes single pages fetched with a plain HTTP GET.
type Scraper struct {
	client    *http.Client
	indexer   Indexer
	store     store.Store
	userAgent string
	logger    *logging.Logger

	wg sync.WaitGroup
}

// NewScraper returns a Scraper. A nil client uses a 30s timeout client.
func NewScraper(client *http.Client, indexer Indexer, st store.Store, userAgent string, logger *logging.Logger) *Scraper {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Scraper{
		client:    client,
		indexer:   indexer,
		store:     st,
		userAgent: userAgent,
		logger:    logger.Named("scraper"),
	}
}

// Scrape fetches rawURL and records it in the user's single page list. The
// page is indexed in the background; indexing failures are only logged.
func (s *Scraper) Scrape(ctx context.Context, userID, rawURL string) error {
	if userID == "" {
		return errors.New("user id is required")
	}
	if _, err := ValidateURL(rawURL); err != nil {
		return err
	}

	page, err := s.fetch(ctx, rawURL)
	if err != nil {
		ScrapesTotal.WithLabelValues("error").Inc()
		return err
	}
	if err := s.store.Append(ctx, userID, store.SinglePageURLs, rawURL); err != nil {
		return fmt.Errorf("recording scraped url: %w", err)
	}

	bg := logging.WithUserID(context.WithoutCancel(ctx), userID)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.index(bg, userID, rawURL, page)
	}()
	return nil
}

// Wait blocks until background indexing has finished.
func (s *Scraper) Wait() {
	s.wg.Wait()
}

func (s *Scraper) fetch(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if s.userAgent != "" {
		req.Header.Set("User-Agent", s.userAgent)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrPageUnreachable, rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: %s (status %d)", ErrScrapeStatus, rawURL, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxScrapeBytes))
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", rawURL, err)
	}
	return string(body), nil
}

func (s *Scraper) index(ctx context.Context, userID, rawURL, page string) {
	text, err := extract.HTMLStringToText(page)
	if err != nil {
		ScrapesTotal.WithLabelValues("error").Inc()
		s.logger.Error(ctx, "extracting scraped page", zap.String("url", rawURL), zap.Error(err))
		return
	}
	n, err := s.indexer.Index(ctx, userID, text, map[string]any{"url": rawURL})
	if err != nil {
		ScrapesTotal.WithLabelValues("error").Inc()
		s.logger.Error(ctx, "indexing scraped page", zap.String("url", rawURL), zap.Error(err))
		return
	}
	ScrapesTotal.WithLabelValues("indexed").Inc()
	s.logger.Info(ctx, "scraped page indexed", zap.String("url", rawURL), zap.Int("chunks", n))
}
