package ingest

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/ragd/internal/blob"
	"github.com/fyrsmithlabs/ragd/internal/chunker"
	"github.com/fyrsmithlabs/ragd/internal/embeddings"
	"github.com/fyrsmithlabs/ragd/internal/extract"
	"github.com/fyrsmithlabs/ragd/internal/indexer"
	"github.com/fyrsmithlabs/ragd/internal/store"
	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
)

const dim = 32

type memArchive struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
}

func (m *memArchive) Put(_ context.Context, key string, body io.Reader, contentType string) (string, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	m.types[key] = contentType
	return "mem://" + key, nil
}

func (m *memArchive) Get(_ context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, os.ErrNotExist
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

type harness struct {
	svc      *Service
	store    *store.SQLStore
	vectors  *vectorstore.ChromemStore
	embedder *embeddings.FakeEmbedder
	tempDir  string
}

func newHarness(t *testing.T, archive *memArchive) *harness {
	t.Helper()
	st, err := store.OpenSQLite(filepath.Join(t.TempDir(), "ragd.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	vs, err := vectorstore.NewChromemStore(vectorstore.ChromemConfig{VectorSize: dim}, nil)
	require.NoError(t, err)

	emb := embeddings.NewFakeEmbedder(dim)
	ch, err := chunker.New(emb, chunker.Config{BufferSize: 1}, nil)
	require.NoError(t, err)
	ix, err := indexer.New(ch, emb, vs, nil)
	require.NoError(t, err)

	h := &harness{store: st, vectors: vs, embedder: emb, tempDir: t.TempDir()}
	var a blob.Store
	if archive != nil {
		a = archive
	}
	h.svc, err = NewService(ix, st, a, Config{TempDir: h.tempDir}, nil)
	require.NoError(t, err)
	return h
}

func memFile(name, content string) File {
	return File{
		Name: name,
		Open: func() (io.ReadCloser, error) { return io.NopCloser(strings.NewReader(content)), nil },
	}
}

func (h *harness) assertTempDirEmpty(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(h.tempDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func (h *harness) vectorCount(t *testing.T, ns string) int {
	t.Helper()
	ids, _, err := h.vectors.ListIDs(context.Background(), ns, "", 1000)
	require.NoError(t, err)
	return len(ids)
}

func TestIngest_IndexesEveryFile(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)

	processed, err := h.svc.Ingest(ctx, "user_1", []File{
		memFile("notes.txt", "Insulin lowers blood sugar. Metformin is a first line drug."),
		memFile("faq.TXT", "Clinic hours are nine to five."),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"notes.txt", "faq.TXT"}, processed)

	ids, _, err := h.vectors.ListIDs(ctx, "user_1", "", 1000)
	require.NoError(t, err)
	require.NotEmpty(t, ids)
	records, err := h.vectors.Fetch(ctx, "user_1", ids)
	require.NoError(t, err)
	sources := map[any]bool{}
	for _, r := range records {
		sources[r.Metadata[SourceKey]] = true
		assert.NotEmpty(t, r.Metadata[indexer.TextKey])
	}
	assert.Equal(t, map[any]bool{"notes.txt": true, "faq.TXT": true}, sources)

	docs, err := h.store.List(ctx, "user_1", store.Documents)
	require.NoError(t, err)
	assert.Equal(t, []string{"notes.txt", "faq.TXT"}, docs)

	h.assertTempDirEmpty(t)
}

func TestIngest_UnsupportedFormatAbortsBatch(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)

	_, err := h.svc.Ingest(ctx, "user_1", []File{
		memFile("good.txt", "This would be indexed."),
		memFile("letter.rtf", `{\rtf1 hello}`),
	})
	var unsupported *extract.UnsupportedFormatError
	require.ErrorAs(t, err, &unsupported)
	assert.Equal(t, ".rtf", unsupported.Ext)

	assert.Zero(t, h.vectorCount(t, "user_1"))
	assert.Zero(t, h.embedder.Calls())
	docs, err := h.store.List(ctx, "user_1", store.Documents)
	require.NoError(t, err)
	assert.Empty(t, docs)
	h.assertTempDirEmpty(t)
}

func TestIngest_ExtractionFailureAbortsBatch(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)

	_, err := h.svc.Ingest(ctx, "user_1", []File{
		memFile("bad.txt", "\xff\xfe not utf8"),
		memFile("good.txt", "Never reached."),
	})
	var extractionErr *extract.ExtractionError
	require.ErrorAs(t, err, &extractionErr)
	assert.ErrorIs(t, err, extract.ErrInvalidUTF8)
	assert.Zero(t, h.vectorCount(t, "user_1"))
	h.assertTempDirEmpty(t)
}

func TestIngest_EmbeddingFailureRemovesTempDir(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	h.embedder.Err = errors.New("embedding service unavailable")

	processed, err := h.svc.Ingest(ctx, "user_1", []File{
		memFile("a.txt", "First sentence here. Second sentence there."),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "embedding service unavailable")
	assert.Nil(t, processed)

	docs, err := h.store.List(ctx, "user_1", store.Documents)
	require.NoError(t, err)
	assert.Empty(t, docs)
	h.assertTempDirEmpty(t)
}

func TestIngest_ArchivesOriginals(t *testing.T) {
	ctx := context.Background()
	archive := &memArchive{objects: map[string][]byte{}, types: map[string]string{}}
	h := newHarness(t, archive)

	_, err := h.svc.Ingest(ctx, "user_1", []File{memFile("notes.txt", "Keep the original.")})
	require.NoError(t, err)

	require.Len(t, archive.objects, 1)
	for key, data := range archive.objects {
		assert.True(t, strings.HasPrefix(key, "documents/user_1/"), key)
		assert.True(t, strings.HasSuffix(key, "-notes.txt"), key)
		assert.Equal(t, "Keep the original.", string(data))
		assert.NotEmpty(t, archive.types[key])
	}
}

func TestIngest_PathFileAndNamespaceIsolation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)

	path := filepath.Join(t.TempDir(), "guide.txt")
	require.NoError(t, os.WriteFile(path, []byte("Drink water daily."), 0600))

	processed, err := h.svc.Ingest(ctx, "user_2", []File{PathFile(path)})
	require.NoError(t, err)
	assert.Equal(t, []string{"guide.txt"}, processed)
	assert.Positive(t, h.vectorCount(t, "user_2"))
	assert.Zero(t, h.vectorCount(t, "user_1"))
}

func TestIngest_InputValidation(t *testing.T) {
	h := newHarness(t, nil)

	_, err := h.svc.Ingest(context.Background(), "user_1", nil)
	assert.ErrorIs(t, err, ErrNoFiles)
	_, err = h.svc.Ingest(context.Background(), "", []File{memFile("a.txt", "x")})
	assert.Error(t, err)
}

func TestStage_StripsDirectories(t *testing.T) {
	dir := t.TempDir()
	path, err := stage(dir, 3, memFile("../../etc/passwd.txt", "x"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "3_passwd.txt"), path)
}
