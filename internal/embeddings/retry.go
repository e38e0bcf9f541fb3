package embeddings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	defaultMaxAttempts  = 3
	defaultRetryBackoff = 500 * time.Millisecond
)

// RetryConfig configures Retrying.
type RetryConfig struct {
	Model        string
	MaxAttempts  int
	RetryBackoff time.Duration
	// RateLimit is requests per second; zero disables limiting.
	RateLimit float64
}

// Retrying wraps a Provider with a rate limiter and bounded retry with
// exponential backoff. Only transient failures are retried; exhausted
// attempts surface as *ServiceError.
type Retrying struct {
	next    Provider
	cfg     RetryConfig
	limiter *rate.Limiter
	metrics *Metrics
	logger  *zap.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewRetrying wraps next. A nil logger is replaced with a nop logger.
func NewRetrying(next Provider, cfg RetryConfig, logger *zap.Logger) *Retrying {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = defaultRetryBackoff
	}
	r := &Retrying{
		next:    next,
		cfg:     cfg,
		metrics: NewMetrics(logger),
		logger:  logger,
		sleep:   sleepCtx,
	}
	if cfg.RateLimit > 0 {
		burst := int(cfg.RateLimit)
		if burst < 1 {
			burst = 1
		}
		r.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return r
}

// EmbedDocuments embeds texts, retrying transient failures.
func (r *Retrying) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}
	var out [][]float32
	err := r.do(ctx, "embed_documents", len(texts), func(ctx context.Context) error {
		var err error
		out, err = r.next.EmbedDocuments(ctx, texts)
		return err
	})
	return out, err
}

// EmbedQuery embeds a single query, retrying transient failures.
func (r *Retrying) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}
	var out []float32
	err := r.do(ctx, "embed_query", 1, func(ctx context.Context) error {
		var err error
		out, err = r.next.EmbedQuery(ctx, text)
		return err
	})
	return out, err
}

func (r *Retrying) Dimension() int { return r.next.Dimension() }

func (r *Retrying) Close() error { return r.next.Close() }

func (r *Retrying) do(ctx context.Context, op string, batch int, call func(context.Context) error) (err error) {
	start := time.Now()
	defer func() {
		r.metrics.RecordGeneration(ctx, r.cfg.Model, op, time.Since(start), batch, err)
	}()

	var lastErr error
	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			backoff := r.cfg.RetryBackoff * time.Duration(1<<(attempt-2))
			r.metrics.recordRetry(ctx, r.cfg.Model, op)
			r.logger.Warn("retrying embedding call",
				zap.String("operation", op),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", backoff),
				zap.Error(lastErr))
			if err := r.sleep(ctx, backoff); err != nil {
				return &ServiceError{Attempts: attempt - 1, Err: lastErr}
			}
		}

		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return fmt.Errorf("rate limiter: %w", err)
			}
		}

		lastErr = call(ctx)
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, ErrEmptyInput) {
			return lastErr
		}
		if !isTransient(lastErr) {
			return &ServiceError{Attempts: attempt, Err: lastErr}
		}
	}
	return &ServiceError{Attempts: r.cfg.MaxAttempts, Err: lastErr}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
