package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/leonardcser/ttl-cache/internal/cache"
	"github.com/leonardcser/ttl-cache/internal/logger"
)

const (
	maxResults     = 20
	defaultResults = 10
)

type SearchResult struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Link        string `json:"link"`
}

// Searcher queries DuckDuckGo's HTML endpoint. The full result page is
// cached per query, so later calls with a larger limit still hit the cache.
type Searcher struct {
	client   *http.Client
	cache    cache.KV
	ttl      time.Duration
	endpoint string
}

func NewSearcher(kv cache.KV, ttl time.Duration) *Searcher {
	return &Searcher{
		client:   &http.Client{Timeout: 15 * time.Second},
		cache:    kv,
		ttl:      ttl,
		endpoint: "https://html.duckduckgo.com/html/",
	}
}

func (s *Searcher) cacheKey(q string) string { return "web_search|" + q }

func (s *Searcher) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		return nil, errors.New("empty query")
	}
	if limit <= 0 || limit > maxResults {
		limit = defaultResults
	}

	results, ok := s.cached(q)
	if !ok {
		var err error
		if results, err = s.query(ctx, q); err != nil {
			return nil, err
		}
		if len(results) > 0 {
			s.store(q, results)
		}
	}
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (s *Searcher) cached(q string) ([]SearchResult, bool) {
	v, found, err := s.cache.Get(s.cacheKey(q))
	if err != nil {
		logger.Warnf("web search cache read failed for %q: %v", q, err)
		return nil, false
	}
	if !found {
		return nil, false
	}
	var results []SearchResult
	if err := json.Unmarshal(v, &results); err != nil {
		return nil, false
	}
	return results, true
}

func (s *Searcher) store(q string, results []SearchResult) {
	b, err := json.Marshal(results)
	if err != nil {
		return
	}
	if err := s.cache.Put(s.cacheKey(q), b, s.ttl); err != nil {
		logger.Warnf("web search cache write failed for %q: %v", q, err)
	}
}

func (s *Searcher) query(ctx context.Context, q string) ([]SearchResult, error) {
	values := url.Values{"q": {q}, "kl": {"us-en"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint+"?"+values.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", NextUserAgent())
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("duckduckgo status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, err
	}
	return parseResults(doc, maxResults), nil
}

// parseResults reads result blocks from the DuckDuckGo HTML layout, falling
// back to bare result anchors when the block markup is absent.
func parseResults(doc *goquery.Document, limit int) []SearchResult {
	results := make([]SearchResult, 0, limit)
	doc.Find("div.result.results_links.results_links_deep.web-result").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		a := sel.Find("a.result__a").First()
		link := strings.TrimSpace(a.AttrOr("href", ""))
		title := singleLine(a.Text())
		if title != "" && link != "" {
			results = append(results, SearchResult{
				Title:       title,
				Description: singleLine(sel.Find("a.result__snippet").First().Text()),
				Link:        extractDDGURL(link),
			})
		}
		return len(results) < limit
	})
	if len(results) > 0 {
		return results
	}

	doc.Find("a.result__a").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		results = append(results, SearchResult{
			Title:       singleLine(a.Text()),
			Description: singleLine(a.Parents().Find("a.result__snippet").First().Text()),
			Link:        extractDDGURL(strings.TrimSpace(a.AttrOr("href", ""))),
		})
		return len(results) < limit
	})
	return results
}

// extractDDGURL unwraps DuckDuckGo's redirect links
// (//duckduckgo.com/l/?uddg=<escaped target>&rut=...) and returns anything
// else unchanged.
func extractDDGURL(ddgURL string) string {
	if strings.HasPrefix(ddgURL, "//duckduckgo.com/l/") {
		ddgURL = "https:" + ddgURL
	}
	u, err := url.Parse(ddgURL)
	if err != nil {
		return ddgURL
	}
	// Query().Get already unescapes the parameter.
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	return ddgURL
}

// singleLine trims and collapses internal whitespace/newlines to single spaces.
func singleLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
