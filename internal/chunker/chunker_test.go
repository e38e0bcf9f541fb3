package chunker

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/ragd/internal/embeddings"
)

// topicEmbedder scores each text by how often it mentions two topics.
type topicEmbedder struct {
	failOn string
}

func (e topicEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if e.failOn != "" && strings.Contains(t, e.failOn) {
			return nil, errors.New("embedding service unavailable")
		}
		out[i] = []float32{float32(strings.Count(t, "cat")), float32(strings.Count(t, "stock"))}
	}
	return out, nil
}

func (e topicEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	v, err := e.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return v[0], nil
}

func TestChunk_BreaksAtTopicShift(t *testing.T) {
	c, err := New(topicEmbedder{}, Config{BufferSize: 1}, nil)
	require.NoError(t, err)

	text := "The cat sleeps. A cat purrs. My cat eats. " +
		"The stock fell. A stock rose. Your stock split."
	chunks, err := c.Chunk(context.Background(), text)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"The cat sleeps. A cat purrs. My cat eats. ",
		"The stock fell. A stock rose. Your stock split.",
	}, chunks)
}

func TestChunk_NoCharactersDropped(t *testing.T) {
	c, err := New(embeddings.NewFakeEmbedder(32), Config{}, nil)
	require.NoError(t, err)

	text := "Alpha beta gamma. Delta epsilon!\nZeta eta theta? Iota kappa lambda.\n\n" +
		"Mu nu xi omicron. Pi rho sigma tau. Upsilon phi chi psi omega."
	chunks, err := c.Chunk(context.Background(), text)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	assert.Equal(t, text, strings.Join(chunks, ""))
	for _, ch := range chunks {
		assert.NotEmpty(t, strings.TrimSpace(ch))
	}
}

func TestChunk_LongTextIsWindowed(t *testing.T) {
	fake := embeddings.NewFakeEmbedder(16)
	c, err := New(fake, Config{WindowSize: 50}, nil)
	require.NoError(t, err)

	text := strings.Repeat("Short sentence here. ", 10) // 210 runes
	chunks, err := c.Chunk(context.Background(), text)
	require.NoError(t, err)
	assert.Equal(t, text, strings.Join(chunks, ""))

	// Chunking the whole equals chunking each window on its own.
	var perWindow []string
	for _, w := range Windows(text, 50) {
		got, err := c.Chunk(context.Background(), w)
		require.NoError(t, err)
		perWindow = append(perWindow, got...)
	}
	assert.Equal(t, perWindow, chunks)
}

func TestChunk_BlankText(t *testing.T) {
	c, err := New(embeddings.NewFakeEmbedder(8), Config{}, nil)
	require.NoError(t, err)

	for _, text := range []string{"", "   \n\t "} {
		chunks, err := c.Chunk(context.Background(), text)
		require.NoError(t, err)
		assert.Empty(t, chunks)
	}
}

func TestChunk_SingleSentenceSkipsEmbedding(t *testing.T) {
	fake := embeddings.NewFakeEmbedder(8)
	c, err := New(fake, Config{}, nil)
	require.NoError(t, err)

	chunks, err := c.Chunk(context.Background(), "just one sentence without an ending")
	require.NoError(t, err)
	assert.Equal(t, []string{"just one sentence without an ending"}, chunks)
	assert.Zero(t, fake.Calls())
}

func TestChunk_ErrorNamesWindow(t *testing.T) {
	c, err := New(topicEmbedder{failOn: "FAIL"}, Config{WindowSize: 40}, nil)
	require.NoError(t, err)

	first := "Good one here. Good two here. Fine, ok. " // 40 runes
	second := "FAIL one. FAIL two. FAIL three. FAIL 42." // 40 runes
	require.Len(t, []rune(first), 40)
	require.Len(t, []rune(second), 40)

	_, err = c.Chunk(context.Background(), first+second)
	var chunkErr *ChunkingError
	require.ErrorAs(t, err, &chunkErr)
	assert.Equal(t, 1, chunkErr.Window)
	assert.Contains(t, err.Error(), "chunking window 1")
	assert.Contains(t, err.Error(), "embedding service unavailable")
}

func TestWindows(t *testing.T) {
	text := strings.Repeat("x", 7000*2+5)
	windows := Windows(text, 7000)
	require.Len(t, windows, 3)
	assert.Len(t, windows[0], 7000)
	assert.Len(t, windows[2], 5)
	assert.Equal(t, text, strings.Join(windows, ""))

	assert.Equal(t, []string{"short"}, Windows("short", 7000))
	assert.Nil(t, Windows("", 7000))

	// Multi-byte runes are never split.
	multi := strings.Repeat("é", 5)
	assert.Equal(t, []string{"éé", "éé", "é"}, Windows(multi, 2))
}

func TestSplitSentences(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{
			name: "terminal punctuation",
			text: "One. Two!  Three?",
			want: []string{"One. ", "Two!  ", "Three?"},
		},
		{
			name: "abbreviations without space are kept",
			text: "See e.g. this. Next",
			want: []string{"See e.g. ", "this. ", "Next"},
		},
		{
			name: "line breaks",
			text: "Heading\n\nBody text.",
			want: []string{"Heading\n\n", "Body text."},
		},
		{
			name: "closing quote",
			text: `He said "stop." Then left.`,
			want: []string{`He said "stop." `, "Then left."},
		},
		{name: "empty", text: "", want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SplitSentences(tt.text)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.text, strings.Join(got, ""))
		})
	}
}

func TestPercentile(t *testing.T) {
	assert.Equal(t, 0.0, Percentile(nil, 95))
	assert.Equal(t, 3.0, Percentile([]float64{3}, 95))
	assert.InDelta(t, 4.8, Percentile([]float64{5, 1, 2, 3, 4}, 95), 1e-9)
	assert.InDelta(t, 3.0, Percentile([]float64{5, 1, 2, 3, 4}, 50), 1e-9)
}

func TestNew_AppliesDefaults(t *testing.T) {
	c, err := New(embeddings.NewFakeEmbedder(8), Config{}, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultWindowSize, c.cfg.WindowSize)
	assert.Equal(t, float64(DefaultBreakpointPercentile), c.cfg.BreakpointPercentile)
	assert.Equal(t, DefaultBufferSize, c.cfg.BufferSize)
}

func TestConfig_Validate(t *testing.T) {
	_, err := New(embeddings.NewFakeEmbedder(8), Config{BufferSize: -1}, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = New(embeddings.NewFakeEmbedder(8), Config{BreakpointPercentile: 150}, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = New(nil, Config{}, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
