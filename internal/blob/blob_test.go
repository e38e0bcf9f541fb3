package blob

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/ragd/internal/config"
)

func TestNewS3Store_Validation(t *testing.T) {
	ctx := context.Background()

	_, err := NewS3Store(ctx, config.S3Config{Bucket: "docs"}, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewS3Store(ctx, config.S3Config{Region: "us-east-1"}, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestDocumentKey(t *testing.T) {
	key := DocumentKey("user_1", `C:\uploads\report.pdf`)
	assert.True(t, strings.HasPrefix(key, "documents/user_1/"), key)
	assert.True(t, strings.HasSuffix(key, "-report.pdf"), key)
	assert.NotEqual(t, key, DocumentKey("user_1", "report.pdf"))
}

func TestS3Store_PutAndGet(t *testing.T) {
	var (
		mu      sync.Mutex
		methods []string
		paths   []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		methods = append(methods, r.Method)
		paths = append(paths, r.URL.Path)
		mu.Unlock()
		_, _ = io.Copy(io.Discard, r.Body)
		if r.Method == http.MethodGet {
			_, _ = w.Write([]byte("original bytes"))
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ctx := context.Background()
	st, err := NewS3Store(ctx, config.S3Config{
		Region:    "us-east-1",
		Bucket:    "docs",
		Endpoint:  srv.URL,
		AccessKey: "key",
		SecretKey: "secret",
	}, nil)
	require.NoError(t, err)

	loc, err := st.Put(ctx, "documents/user_1/a.txt", strings.NewReader("hello"), "text/plain")
	require.NoError(t, err)
	assert.Equal(t, "s3://docs/documents/user_1/a.txt", loc)

	rc, err := st.Get(ctx, "documents/user_1/a.txt")
	require.NoError(t, err)
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "original bytes", string(body))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{http.MethodPut, http.MethodGet}, methods)
	for _, p := range paths {
		assert.Equal(t, "/docs/documents/user_1/a.txt", p)
	}
}
