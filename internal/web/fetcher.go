package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"sort"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"

	"github.com/leonardcser/ttl-cache/internal/cache"
	"github.com/leonardcser/ttl-cache/internal/logger"
)

const (
	RequestTimeout  = 20 * time.Second
	MaxResponseSize = 1 * 1024 * 1024 // 1MB
	maxLinks        = 50
)

type PageSummary struct {
	URL         string   `json:"url"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Text        string   `json:"text"`
	Links       []string `json:"links"`
}

// Fetcher fetches pages and keeps their summaries in a cache for ttl.
type Fetcher struct {
	c     *colly.Collector
	cache cache.KV
	ttl   time.Duration
}

func NewFetcher(kv cache.KV, ttl time.Duration) *Fetcher {
	c := colly.NewCollector(
		colly.AllowURLRevisit(),
		colly.Async(false),
	)
	_ = c.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: 1,
		Delay:       1 * time.Second,
	})
	c.SetRequestTimeout(RequestTimeout)
	return &Fetcher{c: c, cache: kv, ttl: ttl}
}

func (f *Fetcher) cacheKey(rawURL string) string { return "web_fetch|" + rawURL }

// Fetch returns the summary of rawURL, from the cache when a live entry exists.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*PageSummary, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		return nil, errors.New("url must start with http:// or https://")
	}
	if v, found, err := f.cache.Get(f.cacheKey(rawURL)); err == nil && found {
		var ps PageSummary
		if json.Unmarshal(v, &ps) == nil {
			return &ps, nil
		}
	} else if err != nil {
		logger.Warnf("web fetch cache read failed for %s: %v", rawURL, err)
	}

	body, finalURL, contentType, err := f.download(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	lowerCT := strings.ToLower(contentType)
	if !strings.HasPrefix(lowerCT, "text/") {
		return nil, errors.New("unsupported content type: binary files like images or PDFs are not supported")
	}

	var ps *PageSummary
	if strings.Contains(lowerCT, "text/html") {
		ps, err = Summarize(body, finalURL)
		if err != nil {
			return nil, err
		}
	} else {
		ps = &PageSummary{URL: finalURL, Text: string(body)}
	}

	if b, err := json.Marshal(ps); err == nil {
		if err := f.cache.Put(f.cacheKey(rawURL), b, f.ttl); err != nil {
			logger.Warnf("web fetch cache write failed for %s: %v", rawURL, err)
		}
	}
	return ps, nil
}

// download runs one visit on a clone so callbacks never accumulate on f.c.
func (f *Fetcher) download(ctx context.Context, rawURL string) (body []byte, finalURL, contentType string, err error) {
	c := f.c.Clone()
	c.Context = ctx
	c.OnRequest(func(r *colly.Request) {
		r.Headers.Set("User-Agent", NextUserAgent())
		r.Headers.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
		r.Headers.Set("Accept-Language", "en-US,en;q=0.9")
	})
	c.OnResponse(func(r *colly.Response) {
		if ctx.Err() != nil {
			return
		}
		finalURL = r.Request.URL.String()
		body = append([]byte(nil), r.Body...)
		contentType = r.Headers.Get("Content-Type")
	})

	if err := c.Visit(rawURL); err != nil {
		return nil, "", "", err
	}
	if ctx.Err() != nil {
		return nil, "", "", ctx.Err()
	}
	if len(body) == 0 {
		return nil, "", "", errors.New("empty response body")
	}
	if len(body) > MaxResponseSize {
		body = body[:MaxResponseSize]
		body = append(body, []byte("... [response trimmed due to size]")...)
	}
	return body, finalURL, contentType, nil
}

// Summarize extracts title, description, links and a Markdown body from an
// HTML page fetched from finalURL.
func Summarize(pageHTML []byte, finalURL string) (*PageSummary, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(pageHTML))
	if err != nil {
		return nil, err
	}

	// Remove non-visible elements
	doc.Find("script, style, noscript, iframe, object, embed, img, video, picture, svg, canvas, audio, source, track, map, area, form, label, input, button, select, textarea, progress, ins, applet").Remove()

	title := strings.TrimSpace(doc.Find("head > title").First().Text())
	desc := strings.TrimSpace(doc.Find("meta[name=description]").AttrOr("content", ""))
	plainText := singleLine(doc.Find("body").Text())
	links := extractLinks(doc, finalURL)

	// Links are listed separately; header, footer and asides are chrome.
	doc.Find("a").Remove()
	doc.Find("header, footer, aside").Remove()

	bodyText := plainText
	if htmlStr, err := doc.Html(); err == nil {
		if markdown, err := htmltomarkdown.ConvertString(htmlStr); err == nil {
			bodyText = markdown
		}
	}

	return &PageSummary{
		URL:         finalURL,
		Title:       title,
		Description: desc,
		Text:        bodyText,
		Links:       links,
	}, nil
}

// extractLinks resolves anchors against finalURL, drops fragments and
// non-navigable schemes, dedupes, and returns at most maxLinks sorted links.
func extractLinks(doc *goquery.Document, finalURL string) []string {
	base, _ := url.Parse(finalURL)
	set := make(map[string]struct{})
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href := strings.TrimSpace(s.AttrOr("href", ""))
		if href == "" || strings.HasPrefix(href, "javascript:") {
			return
		}
		u, err := url.Parse(href)
		if err != nil {
			return
		}
		if !u.IsAbs() && base != nil {
			u = base.ResolveReference(u)
		}
		switch u.Scheme {
		case "", "javascript", "mailto", "tel":
			return
		}
		u.Fragment = ""
		set[u.String()] = struct{}{}
	})

	links := make([]string, 0, len(set))
	for l := range set {
		links = append(links, l)
	}
	sort.Strings(links)
	if len(links) > maxLinks {
		links = links[:maxLinks]
	}
	return links
}
