package embeddings

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"unicode"
)

// FakeEmbedder is a deterministic bag-of-words embedder for tests and
// offline runs. Texts sharing words land close together.
type FakeEmbedder struct {
	Dim int
	// Err, when set, is returned by every call.
	Err error

	mu    sync.Mutex
	calls int
}

// NewFakeEmbedder returns a FakeEmbedder producing dim-sized vectors.
func NewFakeEmbedder(dim int) *FakeEmbedder {
	return &FakeEmbedder{Dim: dim}
}

// EmbedDocuments embeds each text independently.
func (f *FakeEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = f.vector(t)
	}
	return out, nil
}

// EmbedQuery embeds one text.
func (f *FakeEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	return f.vector(text), nil
}

// Calls returns how many embed calls were made.
func (f *FakeEmbedder) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *FakeEmbedder) Dimension() int { return f.Dim }

func (f *FakeEmbedder) Close() error { return nil }

func (f *FakeEmbedder) vector(text string) []float32 {
	v := make([]float32, f.Dim)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		v[h.Sum32()%uint32(f.Dim)]++
	}
	var norm float64
	for _, x := range v {
		norm += float64(x * x)
	}
	if norm == 0 {
		v[0] = 1
		return v
	}
	n := float32(math.Sqrt(norm))
	for i := range v {
		v[i] /= n
	}
	return v
}
