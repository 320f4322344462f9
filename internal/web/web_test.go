package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leonardcser/ttl-cache/internal/cache"
)

const testPage = `<html>
<head><title> Example Page </title><meta name="description" content="An example"></head>
<body>
<header>site nav</header>
<h1>Hello</h1>
<p>Some <b>bold</b> text.</p>
<script>alert(1)</script>
<a href="/about#team">About</a>
<a href="https://other.example/x">Other</a>
<a href="mailto:me@example.com">Mail</a>
<a href="javascript:void(0)">JS</a>
<footer>copyright</footer>
</body></html>`

func newTestKV(t *testing.T) *cache.Cache[json.RawMessage] {
	t.Helper()
	c, err := cache.Configure[json.RawMessage](cache.Options{
		Namespace: "web",
		Directory: filepath.Join(t.TempDir(), "cache"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestSummarize(t *testing.T) {
	ps, err := Summarize([]byte(testPage), "https://example.com/start")
	require.NoError(t, err)

	assert.Equal(t, "Example Page", ps.Title)
	assert.Equal(t, "An example", ps.Description)
	assert.Equal(t, []string{"https://example.com/about", "https://other.example/x"}, ps.Links)
	assert.Contains(t, ps.Text, "# Hello")
	assert.Contains(t, ps.Text, "**bold**")
	assert.NotContains(t, ps.Text, "alert")
	assert.NotContains(t, ps.Text, "copyright")
}

func TestFetcher_FetchCachesSummary(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = fmt.Fprint(w, testPage)
	}))
	defer srv.Close()

	kv := newTestKV(t)
	f := NewFetcher(kv, time.Minute)

	ps, err := f.Fetch(context.Background(), srv.URL+"/start")
	require.NoError(t, err)
	assert.Equal(t, "Example Page", ps.Title)

	again, err := f.Fetch(context.Background(), srv.URL+"/start")
	require.NoError(t, err)
	assert.Equal(t, ps, again)
	assert.Equal(t, int32(1), hits.Load(), "second fetch is served from the cache")

	info, err := kv.TTL(f.cacheKey(srv.URL + "/start"))
	require.NoError(t, err)
	assert.NotNil(t, info.Expires)
}

func TestFetcher_RejectsNonHTTP(t *testing.T) {
	f := NewFetcher(newTestKV(t), time.Minute)
	_, err := f.Fetch(context.Background(), "ftp://example.com")
	assert.Error(t, err)
}

func TestFetcher_ServesFromCacheWithoutNetwork(t *testing.T) {
	kv := newTestKV(t)
	f := NewFetcher(kv, time.Minute)
	cached := PageSummary{URL: "https://cached.invalid/", Title: "cached"}
	b, err := json.Marshal(cached)
	require.NoError(t, err)
	require.NoError(t, kv.Put(f.cacheKey("https://cached.invalid/"), b, time.Minute))

	ps, err := f.Fetch(context.Background(), "https://cached.invalid/")
	require.NoError(t, err)
	assert.Equal(t, "cached", ps.Title)
}

const testResults = `<html><body>
<div class="result results_links results_links_deep web-result">
  <a class="result__a" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Fgo.dev%2F&rut=abc">The Go
  Programming Language</a>
  <a class="result__snippet">Go is an   open source language.</a>
</div>
<div class="result results_links results_links_deep web-result">
  <a class="result__a" href="https://pkg.go.dev/">Packages</a>
</div>
</body></html>`

func TestSearcher_SearchCachesResults(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "golang", r.URL.Query().Get("q"))
		_, _ = fmt.Fprint(w, testResults)
	}))
	defer srv.Close()

	s := NewSearcher(newTestKV(t), time.Minute)
	s.endpoint = srv.URL + "/html/"

	results, err := s.Search(context.Background(), "  golang ", 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, SearchResult{
		Title:       "The Go Programming Language",
		Description: "Go is an open source language.",
		Link:        "https://go.dev/",
	}, results[0])
	assert.Equal(t, "https://pkg.go.dev/", results[1].Link)

	limited, err := s.Search(context.Background(), "golang", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
	assert.Equal(t, int32(1), hits.Load())
}

func TestSearcher_EmptyQuery(t *testing.T) {
	_, err := NewSearcher(newTestKV(t), time.Minute).Search(context.Background(), "   ", 10)
	assert.Error(t, err)
}

func TestExtractDDGURL(t *testing.T) {
	assert.Equal(t, "https://example.com", extractDDGURL("//duckduckgo.com/l/?uddg=https%3A%2F%2Fexample.com&rut=x"))
	assert.Equal(t, "https://plain.example/", extractDDGURL("https://plain.example/"))
}

func TestNextUserAgent(t *testing.T) {
	for i := 0; i < 20; i++ {
		assert.Contains(t, userAgents, NextUserAgent())
	}
}
