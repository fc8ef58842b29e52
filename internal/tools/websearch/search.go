// Package websearch implements the searchWeb tool against a self-hosted
// search service that answers {query, results} for a query.
package websearch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/haasonsaas/quill/internal/agent"
	"github.com/haasonsaas/quill/internal/tools/httpjson"
)

const (
	defaultCacheTTL = 5 * time.Minute

	// maxCacheSize limits the number of cached responses.
	maxCacheSize = 1000
)

// Config configures the tool.
type Config struct {
	// Endpoint is the search service URL, e.g. http://search.internal/search.
	Endpoint string
	// MaxResults caps the returned sources. Zero keeps all of them.
	MaxResults int
	// CacheTTL is how long a response is reused. Negative disables caching.
	CacheTTL time.Duration
	Client   *httpjson.Client
	Logger   *slog.Logger
}

// Args are the searchWeb arguments.
type Args struct {
	Query string `json:"query" jsonschema:"minLength=1,description=The search query"`
}

// SearchResult is one result as returned by the search service.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
	Content string `json:"content,omitempty"`
}

// SearchResponse is the search service response.
type SearchResponse struct {
	Query   string         `json:"query"`
	Results []SearchResult `json:"results"`
}

// Source is what the model sees for each result.
type Source struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

type cacheEntry struct {
	sources   []Source
	expiresAt time.Time
}

// Tool is the searchWeb tool.
type Tool struct {
	cfg Config

	cacheMu sync.RWMutex
	cache   map[string]*cacheEntry
	now     func() time.Time
}

// New returns the tool.
func New(cfg Config) *Tool {
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = defaultCacheTTL
	}
	if cfg.Client == nil {
		cfg.Client = httpjson.New(httpjson.Config{})
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Tool{cfg: cfg, cache: make(map[string]*cacheEntry), now: time.Now}
}

func (t *Tool) Name() string { return "searchWeb" }

func (t *Tool) Description() string {
	return "Search the web and return sources with title, url and snippet. Cite sources in the answer."
}

func (t *Tool) Schema() json.RawMessage { return agent.SchemaFor[Args]() }

// Execute queries the search service and returns the sources as a JSON list.
func (t *Tool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var args Args
	if err := json.Unmarshal(params, &args); err != nil {
		return nil, fmt.Errorf("decode arguments: %w", err)
	}
	query := strings.TrimSpace(args.Query)
	if query == "" {
		return nil, errors.New("query is required")
	}

	sources, ok := t.getFromCache(query)
	if !ok {
		resp, err := t.search(ctx, query)
		if err != nil {
			return nil, err
		}
		sources = t.toSources(resp)
		t.putInCache(query, sources)
	}

	data, err := json.Marshal(sources)
	if err != nil {
		return nil, err
	}
	return &agent.ToolResult{Content: string(data)}, nil
}

// search posts the query and falls back to a GET when the POST fails.
func (t *Tool) search(ctx context.Context, query string) (*SearchResponse, error) {
	data, err := t.cfg.Client.PostJSON(ctx, t.cfg.Endpoint, map[string]string{"query": query})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		t.cfg.Logger.Debug("search POST failed, trying GET", "error", err)
		getURL, uerr := withQuery(t.cfg.Endpoint, query)
		if uerr != nil {
			return nil, uerr
		}
		data, err = t.cfg.Client.Get(ctx, getURL)
		if err != nil {
			return nil, fmt.Errorf("search %q: %w", query, err)
		}
	}

	var resp SearchResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	if resp.Results == nil {
		return nil, fmt.Errorf("search %q: response has no results list", query)
	}
	return &resp, nil
}

func (t *Tool) toSources(resp *SearchResponse) []Source {
	results := resp.Results
	if t.cfg.MaxResults > 0 && len(results) > t.cfg.MaxResults {
		results = results[:t.cfg.MaxResults]
	}
	sources := make([]Source, len(results))
	for i, r := range results {
		sources[i] = Source{Title: r.Title, URL: r.URL, Snippet: r.Snippet}
	}
	return sources
}

func withQuery(endpoint, query string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid search endpoint: %w", err)
	}
	q := u.Query()
	q.Set("query", query)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (t *Tool) getFromCache(key string) ([]Source, bool) {
	if t.cfg.CacheTTL < 0 {
		return nil, false
	}
	t.cacheMu.RLock()
	defer t.cacheMu.RUnlock()

	entry, ok := t.cache[key]
	if !ok || t.now().After(entry.expiresAt) {
		return nil, false
	}
	return entry.sources, true
}

func (t *Tool) putInCache(key string, sources []Source) {
	if t.cfg.CacheTTL < 0 {
		return
	}
	t.cacheMu.Lock()
	defer t.cacheMu.Unlock()

	now := t.now()
	for k, v := range t.cache {
		if now.After(v.expiresAt) {
			delete(t.cache, k)
		}
	}
	// Still full: evict the entry closest to expiry.
	for len(t.cache) >= maxCacheSize {
		var oldestKey string
		var oldest time.Time
		for k, v := range t.cache {
			if oldestKey == "" || v.expiresAt.Before(oldest) {
				oldestKey, oldest = k, v.expiresAt
			}
		}
		delete(t.cache, oldestKey)
	}
	t.cache[key] = &cacheEntry{sources: sources, expiresAt: now.Add(t.cfg.CacheTTL)}
}
