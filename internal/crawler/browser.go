package crawler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// ErrPageUnreachable wraps every page fetch failure. It never fails a job.
var ErrPageUnreachable = errors.New("page unreachable")

// Browser starts headless browser sessions.
type Browser interface {
	Open(ctx context.Context) (Session, error)
}

// Session is one browser instance, owned by a single crawl job.
type Session interface {
	// Fetch navigates to url, waits for <body> and returns the rendered
	// HTML. Failures wrap ErrPageUnreachable.
	Fetch(ctx context.Context, url string) (string, error)
	Close() error
}

// ChromeConfig configures ChromeBrowser.
type ChromeConfig struct {
	// ExecPath overrides Chrome discovery.
	ExecPath  string
	UserAgent string

	// PageTimeout bounds navigation plus the wait for <body>. Default: 10s
	PageTimeout time.Duration
}

// ChromeBrowser drives headless Chrome through the DevTools protocol.
type ChromeBrowser struct {
	cfg    ChromeConfig
	logger *zap.Logger
}

// NewChromeBrowser returns a Browser; Chrome itself starts on Open.
func NewChromeBrowser(cfg ChromeConfig, logger *zap.Logger) *ChromeBrowser {
	if cfg.PageTimeout <= 0 {
		cfg.PageTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChromeBrowser{cfg: cfg, logger: logger}
}

// Open launches a browser process. The session outlives ctx cancellation;
// only Close tears it down.
func (b *ChromeBrowser) Open(ctx context.Context) (Session, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Headless,
		chromedp.NoSandbox,
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if b.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(b.cfg.ExecPath))
	}
	if b.cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(b.cfg.UserAgent))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.WithoutCancel(ctx), opts...)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx,
		chromedp.WithErrorf(func(format string, args ...any) {
			b.logger.Debug("chromedp", zap.String("detail", fmt.Sprintf(format, args...)))
		}),
	)

	// Run with no actions starts the browser.
	if err := chromedp.Run(tabCtx); err != nil {
		cancelTab()
		cancelAlloc()
		return nil, fmt.Errorf("starting headless browser: %w", err)
	}

	return &chromeSession{
		ctx:     tabCtx,
		timeout: b.cfg.PageTimeout,
		cancel: func() {
			cancelTab()
			cancelAlloc()
		},
	}, nil
}

type chromeSession struct {
	ctx     context.Context
	timeout time.Duration
	cancel  func()
}

func (s *chromeSession) Fetch(_ context.Context, url string) (string, error) {
	tctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()

	var page string
	err := chromedp.Run(tctx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &page, chromedp.ByQuery),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrPageUnreachable, url, err)
	}
	return page, nil
}

// Close shuts the browser down and waits for the process to exit.
func (s *chromeSession) Close() error {
	err := chromedp.Cancel(s.ctx)
	s.cancel()
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("closing browser: %w", err)
	}
	return nil
}
