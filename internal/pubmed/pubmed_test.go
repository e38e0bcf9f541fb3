package pubmed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const searchXML = `<?xml version="1.0" encoding="UTF-8"?>
<eSearchResult><Count>2</Count><RetMax>2</RetMax>
<IdList><Id>111</Id><Id>222</Id></IdList></eSearchResult>`

const fetchXML = `<?xml version="1.0"?>
<PubmedArticleSet>
 <PubmedArticle><MedlineCitation>
  <PMID Version="1">111</PMID>
  <Article>
   <Journal><JournalIssue><PubDate><Year>2021</Year></PubDate></JournalIssue></Journal>
   <ArticleTitle>Fresh vs <i>frozen</i> embryo transfer</ArticleTitle>
   <Abstract>
    <AbstractText Label="BACKGROUND">Costs differ.</AbstractText>
    <AbstractText Label="RESULTS">Frozen was cheaper.</AbstractText>
   </Abstract>
  </Article>
 </MedlineCitation></PubmedArticle>
 <PubmedArticle><MedlineCitation>
  <PMID Version="1">222</PMID>
  <Article><ArticleTitle>CT versus MRI</ArticleTitle></Article>
 </MedlineCitation></PubmedArticle>
</PubmedArticleSet>`

func newServer(t *testing.T, search, fetch http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	if search != nil {
		mux.HandleFunc("/esearch.fcgi", search)
	}
	if fetch != nil {
		mux.HandleFunc("/efetch.fcgi", fetch)
	}
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestContext(t *testing.T) {
	srv := newServer(t,
		func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()
			assert.Equal(t, "pubmed", q.Get("db"))
			assert.Equal(t, "embryo cost", q.Get("term"))
			assert.Equal(t, "10", q.Get("retmax"))
			assert.Equal(t, "xml", q.Get("retmode"))
			_, _ = w.Write([]byte(searchXML))
		},
		func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "111,222", r.URL.Query().Get("id"))
			_, _ = w.Write([]byte(fetchXML))
		},
	)

	c := NewClient(Config{BaseURL: srv.URL, RateLimit: 1000}, nil)
	got, err := c.Context(context.Background(), "embryo cost")
	require.NoError(t, err)
	assert.Equal(t,
		"Article Title : Fresh vs frozen embryo transfer\nAbstract : Costs differ. Frozen was cheaper.\n\n"+
			"Article Title : CT versus MRI\nAbstract : \n\n",
		got)
}

func TestFetch_Fields(t *testing.T) {
	srv := newServer(t, nil, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(fetchXML))
	})

	c := NewClient(Config{BaseURL: srv.URL, RateLimit: 1000}, nil)
	articles, err := c.Fetch(context.Background(), []string{"111", "222"})
	require.NoError(t, err)
	require.Len(t, articles, 2)
	assert.Equal(t, "111", articles[0].PMID)
	assert.Equal(t, "2021", articles[0].Year)
	assert.Len(t, articles[0].Abstracts, 2)
	assert.Empty(t, articles[1].Abstracts)
}

func TestContext_NoHitsSkipsFetch(t *testing.T) {
	var fetched atomic.Int32
	srv := newServer(t,
		func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`<eSearchResult><IdList></IdList></eSearchResult>`))
		},
		func(w http.ResponseWriter, r *http.Request) {
			fetched.Add(1)
		},
	)

	c := NewClient(Config{BaseURL: srv.URL, RateLimit: 1000}, nil)
	got, err := c.Context(context.Background(), "nothing")
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Zero(t, fetched.Load())
}

func TestSearch_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := newServer(t,
		func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) == 1 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			_, _ = w.Write([]byte(searchXML))
		}, nil)

	c := NewClient(Config{BaseURL: srv.URL, RateLimit: 1000}, nil)
	ids, err := c.Search(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, []string{"111", "222"}, ids)
	assert.Equal(t, int32(2), calls.Load())
}

func TestSearch_ClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := newServer(t,
		func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			http.Error(w, "bad term", http.StatusBadRequest)
		}, nil)

	c := NewClient(Config{BaseURL: srv.URL, RateLimit: 1000, APIKey: "k"}, nil)
	_, err := c.Search(context.Background(), "x")
	assert.ErrorIs(t, err, ErrRequestFailed)
	assert.Equal(t, int32(1), calls.Load())
}
