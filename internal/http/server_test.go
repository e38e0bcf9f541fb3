package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/chat"
	"github.com/fyrsmithlabs/ragd/internal/chunker"
	"github.com/fyrsmithlabs/ragd/internal/crawler"
	"github.com/fyrsmithlabs/ragd/internal/embeddings"
	"github.com/fyrsmithlabs/ragd/internal/events"
	"github.com/fyrsmithlabs/ragd/internal/indexer"
	"github.com/fyrsmithlabs/ragd/internal/ingest"
	"github.com/fyrsmithlabs/ragd/internal/services"
	"github.com/fyrsmithlabs/ragd/internal/store"
	"github.com/fyrsmithlabs/ragd/internal/users"
	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
)

type staticBrowser map[string]string

func (b staticBrowser) Open(context.Context) (crawler.Session, error) { return b, nil }

func (b staticBrowser) Fetch(_ context.Context, url string) (string, error) {
	page, ok := b[url]
	if !ok {
		return "", crawler.ErrPageUnreachable
	}
	return page, nil
}

func (b staticBrowser) Close() error { return nil }

// echoLLM classifies everything as actual and answers with the prompt size.
type echoLLM struct{}

func (echoLLM) Complete(_ context.Context, msgs []chat.Message, jsonMode bool) (string, error) {
	if jsonMode {
		return `{"type":"actual"}`, nil
	}
	return fmt.Sprintf("answered from %d messages", len(msgs)), nil
}

type noArticles struct{}

func (noArticles) Context(context.Context, string) (string, error) { return "", nil }

// nopSubscriber never delivers messages.
type nopSubscriber struct{}

func (nopSubscriber) Subscribe(string, string, chan *nats.Msg) (*nats.Subscription, error) {
	return nil, nil
}

type testEnv struct {
	server   *Server
	registry services.Registry
	vectors  *vectorstore.ChromemStore
}

func setupTestServer(t *testing.T) *testEnv {
	t.Helper()
	return setupTestServerWithEvents(t, nopSubscriber{})
}

func setupTestServerWithEvents(t *testing.T, sub events.Subscriber) *testEnv {
	t.Helper()

	st, err := store.OpenSQLite(filepath.Join(t.TempDir(), "ragd.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	vs, err := vectorstore.NewChromemStore(vectorstore.ChromemConfig{VectorSize: 32}, nil)
	require.NoError(t, err)

	emb := embeddings.NewFakeEmbedder(32)
	ch, err := chunker.New(emb, chunker.Config{BufferSize: 1}, nil)
	require.NoError(t, err)
	ix, err := indexer.New(ch, emb, vs, nil)
	require.NoError(t, err)

	browser := staticBrowser{
		"http://example.com/": `<html><body><p>Allergy season starts in spring.</p></body></html>`,
	}
	crawlSvc, err := crawler.NewService(browser, ix, st, nil, crawler.Config{PageDelay: -1}, nil)
	require.NoError(t, err)
	ingestSvc, err := ingest.NewService(ix, st, nil, ingest.Config{TempDir: t.TempDir()}, nil)
	require.NoError(t, err)
	chatSvc, err := chat.NewService(echoLLM{}, ix, noArticles{}, st, users.DefaultNamespace, nil)
	require.NoError(t, err)
	userSvc, err := users.NewService(st, vs, "", 0, nil)
	require.NoError(t, err)

	reg := services.NewRegistry(services.Options{
		Crawler: crawlSvc,
		Scraper: crawler.NewScraper(nil, ix, st, "", nil),
		Ingest:  ingestSvc,
		Chat:    chatSvc,
		Users:   userSvc,
		Indexer: ix,
		Store:   st,
		Events:  sub,
	})

	server, err := NewServer(reg, zap.NewNop(), &Config{Host: "localhost", Port: 8000})
	require.NoError(t, err)
	return &testEnv{server: server, registry: reg, vectors: vs}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.server.echo.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestNewServer(t *testing.T) {
	t.Run("uses defaults when config is nil", func(t *testing.T) {
		server, err := NewServer(services.NewRegistry(services.Options{}), zap.NewNop(), nil)
		require.NoError(t, err)
		assert.Equal(t, "localhost", server.config.Host)
		assert.Equal(t, 8000, server.config.Port)
		assert.Equal(t, 50, server.config.MaxUploadMB)
	})

	t.Run("returns error when logger is nil", func(t *testing.T) {
		_, err := NewServer(services.NewRegistry(services.Options{}), nil, nil)
		assert.ErrorContains(t, err, "logger is required")
	})

	t.Run("returns error when registry is nil", func(t *testing.T) {
		_, err := NewServer(nil, zap.NewNop(), nil)
		assert.ErrorContains(t, err, "registry cannot be nil")
	})
}

func TestHandleHealth(t *testing.T) {
	env := setupTestServer(t)
	rec := env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[HealthResponse](t, rec).Status)
}

func TestMetricsEndpoint(t *testing.T) {
	env := setupTestServer(t)
	rec := env.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestCrawlFlow(t *testing.T) {
	env := setupTestServer(t)

	rec := env.do(t, http.MethodPost, "/api/v1/crawl", CrawlRequest{UserID: "u1", URL: "http://example.com/", Depth: 1})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	created := decode[CrawlResponse](t, rec)
	assert.True(t, strings.HasPrefix(created.JobID, "job_"))
	assert.Equal(t, store.JobPending, created.Status)

	env.registry.Crawler().Wait()

	rec = env.do(t, http.MethodGet, "/api/v1/crawl/"+created.JobID+"?user_id=u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	job := decode[store.Job](t, rec)
	assert.Equal(t, store.JobSucceeded, job.Status)
	assert.NotNil(t, job.CompletedAt)

	rec = env.do(t, http.MethodGet, "/api/v1/crawl/"+created.JobID+"?user_id=u2", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/crawl/"+created.JobID, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/users/u1/web-crawl-urls", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"http://example.com/"}, decode[ListResponse](t, rec).Items)

	rec = env.do(t, http.MethodGet, "/api/v1/crawl/"+created.JobID+"/events?user_id=u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "event: succeeded\n")
	assert.Contains(t, rec.Body.String(), `"job_id":"`+created.JobID+`"`)
}

func TestCrawlValidation(t *testing.T) {
	env := setupTestServer(t)

	rec := env.do(t, http.MethodPost, "/api/v1/crawl", CrawlRequest{UserID: "u1", URL: "http://example.com/", Depth: 9})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/crawl", CrawlRequest{UserID: "u1", URL: "not a url"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/crawl", CrawlRequest{URL: "http://example.com/"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCrawlEvents_Disabled(t *testing.T) {
	env := setupTestServerWithEvents(t, nil)
	require.Nil(t, env.registry.Events())
	rec := env.do(t, http.MethodGet, "/api/v1/crawl/job_x/events?user_id=u1", nil)
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestUsers(t *testing.T) {
	env := setupTestServer(t)
	ctx := context.Background()
	require.NoError(t, env.vectors.Upsert(ctx, users.DefaultNamespace, []vectorstore.Record{
		{ID: "shared_1", Values: make32(1), Metadata: map[string]any{"text": "baseline"}},
	}))

	rec := env.do(t, http.MethodPost, "/api/v1/users", CreateUserRequest{UserID: "u1", Email: "u1@example.com"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, 1, decode[CreateUserResponse](t, rec).Transferred)

	rec = env.do(t, http.MethodPost, "/api/v1/users", CreateUserRequest{UserID: "u1"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/users/u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[UserResponse](t, rec)
	assert.Equal(t, "u1@example.com", got.User.Email)
	assert.Equal(t, UserCounts{}, got.Counts)

	rec = env.do(t, http.MethodGet, "/api/v1/users/nobody", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func make32(hot int) []float32 {
	v := make([]float32, 32)
	v[hot] = 1
	return v
}

func TestDocuments(t *testing.T) {
	env := setupTestServer(t)

	upload := func(files map[string]string) *httptest.ResponseRecorder {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		require.NoError(t, mw.WriteField("user_id", "u1"))
		for name, content := range files {
			fw, err := mw.CreateFormFile("files", name)
			require.NoError(t, err)
			_, err = fw.Write([]byte(content))
			require.NoError(t, err)
		}
		require.NoError(t, mw.Close())

		req := httptest.NewRequest(http.MethodPost, "/api/v1/documents", &buf)
		req.Header.Set(echo.HeaderContentType, mw.FormDataContentType())
		rec := httptest.NewRecorder()
		env.server.echo.ServeHTTP(rec, req)
		return rec
	}

	rec := upload(map[string]string{"notes.txt": "Vitamin C supports the immune system."})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, []string{"notes.txt"}, decode[DocumentsResponse](t, rec).Processed)

	rec = upload(map[string]string{"letter.rtf": "{\\rtf1}"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "unsupported file type: .rtf")

	rec = env.do(t, http.MethodGet, "/api/v1/users/u1/documents", nil)
	assert.Equal(t, []string{"notes.txt"}, decode[ListResponse](t, rec).Items)
}

func TestChunks(t *testing.T) {
	env := setupTestServer(t)

	rec := env.do(t, http.MethodPost, "/api/v1/chunks", ChunksRequest{Text: "One sentence. Another sentence."})
	require.Equal(t, http.StatusOK, rec.Code)
	chunks := decode[ChunksResponse](t, rec).Chunks
	require.NotEmpty(t, chunks)
	assert.Contains(t, strings.Join(chunks, " "), "Another sentence.")

	rec = env.do(t, http.MethodPost, "/api/v1/chunks", ChunksRequest{Text: "  "})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[ChunksResponse](t, rec).Chunks)
}

func TestQueryAndHistory(t *testing.T) {
	env := setupTestServer(t)

	rec := env.do(t, http.MethodPost, "/api/v1/query", chat.Request{Query: "What is an allergy?", UserID: "u1"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	ans := decode[chat.Answer](t, rec)
	assert.Equal(t, chat.KindActual, ans.Kind)
	assert.False(t, ans.IsGraph)
	assert.JSONEq(t, `"answered from 2 messages"`, string(ans.Message))

	rec = env.do(t, http.MethodPost, "/api/v1/query", chat.Request{UserID: "u1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/users/u1/queries?limit=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	hist := decode[QueryHistoryResponse](t, rec)
	require.Len(t, hist.Queries, 1)
	assert.Equal(t, "What is an allergy?", hist.Queries[0].Query)

	rec = env.do(t, http.MethodGet, "/api/v1/users/u1/queries?limit=zero", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScrape(t *testing.T) {
	site := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`<html><body><p>Pollen counts peak in May.</p></body></html>`))
	}))
	defer site.Close()
	env := setupTestServer(t)

	rec := env.do(t, http.MethodPost, "/api/v1/scrape", ScrapeRequest{UserID: "u1", URL: site.URL + "/pollen"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	env.registry.Scraper().Wait()

	rec = env.do(t, http.MethodGet, "/api/v1/users/u1/single-page-urls", nil)
	assert.Equal(t, []string{site.URL + "/pollen"}, decode[ListResponse](t, rec).Items)

	rec = env.do(t, http.MethodPost, "/api/v1/scrape", ScrapeRequest{UserID: "u1", URL: site.URL + "/missing"})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestServerLifecycle(t *testing.T) {
	server, err := NewServer(services.NewRegistry(services.Options{}), zap.NewNop(), &Config{Host: "localhost", Port: 0})
	require.NoError(t, err)

	errChan := make(chan error, 1)
	go func() {
		errChan <- server.Start()
	}()
	time.Sleep(100 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NoError(t, server.Shutdown(ctx))

	select {
	case err := <-errChan:
		assert.NoError(t, err)
	case <-time.After(6 * time.Second):
		t.Fatal("server did not shut down in time")
	}
}

func TestMiddleware(t *testing.T) {
	t.Run("adds request ID to response", func(t *testing.T) {
		env := setupTestServer(t)
		rec := env.do(t, http.MethodGet, "/health", nil)
		assert.NotEmpty(t, rec.Header().Get(echo.HeaderXRequestID))
	})

	t.Run("recovers from panic", func(t *testing.T) {
		env := setupTestServer(t)
		env.server.echo.GET("/panic", func(c echo.Context) error {
			panic("test panic")
		})

		rec := httptest.NewRecorder()
		assert.NotPanics(t, func() {
			env.server.echo.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/panic", nil))
		})
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})

	t.Run("unavailable services answer 503", func(t *testing.T) {
		server, err := NewServer(services.NewRegistry(services.Options{}), zap.NewNop(), nil)
		require.NoError(t, err)
		rec := httptest.NewRecorder()
		server.echo.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/users/u1/documents", nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}
