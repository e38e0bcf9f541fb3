// Package chunker splits text into semantically coherent chunks.
//
// Text is first cut into fixed windows of at most WindowSize runes. Each
// window is split into sentences, every sentence is embedded together with
// BufferSize neighbours on each side, and a chunk boundary is placed after
// every sentence whose cosine distance to the next one exceeds the
// BreakpointPercentile of that window's distances. Concatenating the chunks
// of a window gives the window back, less any whitespace-only chunk.
package chunker

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/ragd/internal/config"
	"github.com/fyrsmithlabs/ragd/internal/embeddings"
)

// Defaults match the chunker section of the daemon config.
const (
	DefaultWindowSize           = 7000
	DefaultBreakpointPercentile = 95
	DefaultBufferSize           = 1
)

// maxConcurrentWindows bounds parallel embedding calls for long texts.
const maxConcurrentWindows = 4

// ErrInvalidConfig indicates invalid chunker settings.
var ErrInvalidConfig = errors.New("invalid chunker configuration")

// ChunkingError reports the window whose split failed.
type ChunkingError struct {
	Window int
	Err    error
}

func (e *ChunkingError) Error() string {
	return fmt.Sprintf("chunking window %d: %v", e.Window, e.Err)
}

func (e *ChunkingError) Unwrap() error { return e.Err }

// Config controls window size and breakpoint detection. Zero fields take
// their Default values.
type Config struct {
	WindowSize           int
	BreakpointPercentile float64
	BufferSize           int
}

// FromAppConfig maps the chunker config section.
func FromAppConfig(c config.ChunkerConfig) Config {
	return Config{
		WindowSize:           c.WindowSize,
		BreakpointPercentile: c.BreakpointPercentile,
		BufferSize:           c.BufferSize,
	}
}

func (c *Config) applyDefaults() {
	if c.WindowSize == 0 {
		c.WindowSize = DefaultWindowSize
	}
	if c.BreakpointPercentile == 0 {
		c.BreakpointPercentile = DefaultBreakpointPercentile
	}
	if c.BufferSize == 0 {
		c.BufferSize = DefaultBufferSize
	}
}

// Validate checks ranges.
func (c Config) Validate() error {
	if c.WindowSize <= 0 {
		return fmt.Errorf("%w: window size must be positive", ErrInvalidConfig)
	}
	if c.BreakpointPercentile <= 0 || c.BreakpointPercentile > 100 {
		return fmt.Errorf("%w: breakpoint percentile must be in (0, 100]", ErrInvalidConfig)
	}
	if c.BufferSize < 0 {
		return fmt.Errorf("%w: buffer size cannot be negative", ErrInvalidConfig)
	}
	return nil
}

// Chunker is safe for concurrent use.
type Chunker struct {
	embedder embeddings.Embedder
	cfg      Config
	logger   *zap.Logger
}

// New returns a Chunker that embeds sentence groups with embedder.
func New(embedder embeddings.Embedder, cfg Config, logger *zap.Logger) (*Chunker, error) {
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Chunker{embedder: embedder, cfg: cfg, logger: logger}, nil
}

// Chunk returns the chunks of text in order. Blank text yields no chunks.
// A failure in any window is returned as a *ChunkingError.
func (c *Chunker) Chunk(ctx context.Context, text string) ([]string, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	windows := Windows(text, c.cfg.WindowSize)
	results := make([][]string, len(windows))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentWindows)
	for i, w := range windows {
		g.Go(func() error {
			chunks, err := c.splitWindow(gctx, w)
			if err != nil {
				return &ChunkingError{Window: i, Err: err}
			}
			results[i] = chunks
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []string
	for _, chunks := range results {
		out = append(out, chunks...)
	}
	c.logger.Debug("chunked text",
		zap.Int("runes", len([]rune(text))),
		zap.Int("windows", len(windows)),
		zap.Int("chunks", len(out)))
	return out, nil
}

// Windows cuts text into consecutive pieces of at most size runes. The
// pieces concatenate back to text.
func Windows(text string, size int) []string {
	if text == "" {
		return nil
	}
	runes := []rune(text)
	if size <= 0 || len(runes) <= size {
		return []string{text}
	}
	windows := make([]string, 0, (len(runes)+size-1)/size)
	for start := 0; start < len(runes); start += size {
		windows = append(windows, string(runes[start:min(start+size, len(runes))]))
	}
	return windows
}

func (c *Chunker) splitWindow(ctx context.Context, window string) ([]string, error) {
	sentences := SplitSentences(window)
	if len(sentences) <= 1 {
		return nonBlank([]string{window}), nil
	}

	groups := make([]string, len(sentences))
	for i := range sentences {
		lo := max(0, i-c.cfg.BufferSize)
		hi := min(len(sentences), i+c.cfg.BufferSize+1)
		groups[i] = strings.Join(sentences[lo:hi], "")
	}

	vectors, err := c.embedder.EmbedDocuments(ctx, groups)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(groups) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d sentence groups", len(vectors), len(groups))
	}

	distances := make([]float64, len(vectors)-1)
	for i := range distances {
		distances[i] = 1 - cosine(vectors[i], vectors[i+1])
	}
	threshold := Percentile(distances, c.cfg.BreakpointPercentile)

	var (
		chunks []string
		start  int
	)
	for i, d := range distances {
		if d > threshold {
			chunks = append(chunks, strings.Join(sentences[start:i+1], ""))
			start = i + 1
		}
	}
	chunks = append(chunks, strings.Join(sentences[start:], ""))
	return nonBlank(chunks), nil
}

// Percentile interpolates linearly between closest ranks.
func Percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	return sorted[lo] + (sorted[hi]-sorted[lo])*(rank-float64(lo))
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range min(len(a), len(b)) {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func nonBlank(chunks []string) []string {
	out := chunks[:0]
	for _, ch := range chunks {
		if strings.TrimSpace(ch) != "" {
			out = append(out, ch)
		}
	}
	return out
}
