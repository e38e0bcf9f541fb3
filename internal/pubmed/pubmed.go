// Package pubmed searches PubMed through the NCBI E-utilities and renders
// article abstracts as answer context.
package pubmed

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/ragd/internal/config"
)

const (
	DefaultBaseURL = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils"
	DefaultRetMax  = 10

	defaultTimeout     = 30 * time.Second
	defaultRateLimit   = 3 // requests per second without an API key
	defaultMaxRetries  = 2
	defaultBaseBackoff = 500 * time.Millisecond
	maxResponseBytes   = 20 << 20
)

// ErrRequestFailed wraps every non-retryable E-utilities failure.
var ErrRequestFailed = errors.New("pubmed request failed")

// Article is one fetched PubMed record.
type Article struct {
	PMID      string
	Title     string
	Abstracts []string
	Year      string
}

// Config configures Client.
type Config struct {
	BaseURL string
	RetMax  int
	// RateLimit is requests per second. NCBI allows 3 without a key, 10 with one.
	RateLimit float64
	APIKey    string
	Timeout   time.Duration
}

// FromAppConfig maps the pubmed section of the application config.
func FromAppConfig(c config.PubMedConfig) Config {
	return Config{
		BaseURL:   c.BaseURL,
		RetMax:    c.RetMax,
		RateLimit: c.RateLimit,
		APIKey:    c.APIKey.Value(),
	}
}

// Client calls esearch and efetch. It is safe for concurrent use.
type Client struct {
	baseURL    string
	retMax     int
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	maxRetries int
	logger     *zap.Logger
}

// NewClient returns a client with defaults applied.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.RetMax <= 0 {
		cfg.RetMax = DefaultRetMax
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		retMax:     cfg.RetMax,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RateLimit), 1),
		maxRetries: defaultMaxRetries,
		logger:     logger,
	}
}

// Search returns up to RetMax PubMed ids matching term.
func (c *Client) Search(ctx context.Context, term string) ([]string, error) {
	params := url.Values{
		"db":      {"pubmed"},
		"term":    {term},
		"retmax":  {strconv.Itoa(c.retMax)},
		"retmode": {"xml"},
	}
	var res struct {
		IDs []string `xml:"IdList>Id"`
	}
	if err := c.get(ctx, "esearch.fcgi", params, &res); err != nil {
		return nil, err
	}
	return res.IDs, nil
}

// Fetch returns the articles for ids, in response order.
func (c *Client) Fetch(ctx context.Context, ids []string) ([]Article, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	params := url.Values{
		"db":      {"pubmed"},
		"id":      {strings.Join(ids, ",")},
		"retmode": {"xml"},
	}
	var res articleSet
	if err := c.get(ctx, "efetch.fcgi", params, &res); err != nil {
		return nil, err
	}

	articles := make([]Article, 0, len(res.Articles))
	for _, a := range res.Articles {
		art := Article{
			PMID:  strings.TrimSpace(a.Citation.PMID),
			Title: strings.TrimSpace(string(a.Citation.Article.Title)),
			Year:  strings.TrimSpace(a.Citation.Article.Journal.Issue.PubDate.Year),
		}
		for _, t := range a.Citation.Article.Abstract {
			if s := strings.TrimSpace(string(t)); s != "" {
				art.Abstracts = append(art.Abstracts, s)
			}
		}
		articles = append(articles, art)
	}
	return articles, nil
}

// Context searches term and renders the hits with FormatContext. No hits
// give an empty string.
func (c *Client) Context(ctx context.Context, term string) (string, error) {
	ids, err := c.Search(ctx, term)
	if err != nil {
		return "", err
	}
	articles, err := c.Fetch(ctx, ids)
	if err != nil {
		return "", err
	}
	c.logger.Debug("pubmed articles retrieved", zap.Int("ids", len(ids)), zap.Int("articles", len(articles)))
	return FormatContext(articles), nil
}

// FormatContext renders one block per article:
//
//	Article Title : <title>
//	Abstract : <abstract sections>
//
// followed by a blank line.
func FormatContext(articles []Article) string {
	var b strings.Builder
	for _, a := range articles {
		b.WriteString("Article Title : ")
		b.WriteString(a.Title)
		b.WriteString("\nAbstract : ")
		b.WriteString(strings.Join(a.Abstracts, " "))
		b.WriteString("\n\n")
	}
	return b.String()
}

func (c *Client) get(ctx context.Context, endpoint string, params url.Values, out any) error {
	if c.apiKey != "" {
		params.Set("api_key", c.apiKey)
	}
	reqURL := c.baseURL + "/" + endpoint + "?" + params.Encode()

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := defaultBaseBackoff * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter error: %w", err)
		}

		body, err := c.doRequest(ctx, reqURL)
		if err == nil {
			if err := xml.Unmarshal(body, out); err != nil {
				return fmt.Errorf("%w: parsing %s response: %v", ErrRequestFailed, endpoint, err)
			}
			return nil
		}

		lastErr = err
		var retryable *retryableError
		if !errors.As(err, &retryable) {
			return err
		}
		c.logger.Warn("pubmed request retry",
			zap.String("endpoint", endpoint),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}
	return fmt.Errorf("%w: max retries exceeded: %v", ErrRequestFailed, lastErr)
}

func (c *Client) doRequest(ctx context.Context, reqURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &retryableError{err: fmt.Errorf("request failed: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &retryableError{err: fmt.Errorf("rate limited (429)")}
	case resp.StatusCode >= 500:
		return nil, &retryableError{err: fmt.Errorf("server error (%d)", resp.StatusCode)}
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: status %d: %s", ErrRequestFailed, resp.StatusCode, truncate(string(body), 200))
	}
	return body, nil
}

type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

type articleSet struct {
	Articles []struct {
		Citation struct {
			PMID    string `xml:"PMID"`
			Article struct {
				Title   mixedText `xml:"ArticleTitle"`
				Journal struct {
					Issue struct {
						PubDate struct {
							Year string `xml:"Year"`
						} `xml:"PubDate"`
					} `xml:"JournalIssue"`
				} `xml:"Journal"`
				Abstract []mixedText `xml:"Abstract>AbstractText"`
			} `xml:"Article"`
		} `xml:"MedlineCitation"`
	} `xml:"PubmedArticle"`
}

// mixedText collects all character data of an element, including text
// inside inline markup such as <i> or <sup>.
type mixedText string

func (m *mixedText) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	var b strings.Builder
	depth := 1
	for depth > 0 {
		tok, err := d.Token()
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			depth++
		case xml.EndElement:
			depth--
		case xml.CharData:
			b.Write(t)
		}
	}
	*m = mixedText(b.String())
	return nil
}
