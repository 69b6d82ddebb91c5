package research

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/c360studio/reportgen/knowledge"
)

const (
	maxPageSize     = 2 * 1024 * 1024
	maxResultLength = 4000
	saveTimeout     = 30 * time.Second
)

// WebResult is one search hit.
type WebResult struct {
	Title string `json:"title"`
	URL   string `json:"url"`
	Text  string `json:"text"`
}

// WebSearcher queries an Exa-compatible search endpoint and fetches pages
// whose results arrive without text.
type WebSearcher struct {
	endpoint   string
	apiKey     string
	numResults int
	client     *http.Client
	converter  *Converter
	knowledge  knowledge.Store
	logger     *slog.Logger

	saves sync.WaitGroup
}

// WebOption configures a WebSearcher.
type WebOption func(*WebSearcher)

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(c *http.Client) WebOption {
	return func(w *WebSearcher) {
		w.client = c
	}
}

// WithKnowledge saves fetched findings into store.
func WithKnowledge(store knowledge.Store) WebOption {
	return func(w *WebSearcher) {
		w.knowledge = store
	}
}

// WithWebLogger sets the logger.
func WithWebLogger(logger *slog.Logger) WebOption {
	return func(w *WebSearcher) {
		w.logger = logger
	}
}

// NewWebSearcher creates a searcher for endpoint.
func NewWebSearcher(endpoint, apiKey string, numResults int, opts ...WebOption) *WebSearcher {
	if numResults <= 0 {
		numResults = 3
	}
	w := &WebSearcher{
		endpoint:   endpoint,
		apiKey:     apiKey,
		numResults: numResults,
		client:     &http.Client{Timeout: 30 * time.Second},
		converter:  NewConverter(),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

type searchRequest struct {
	Query      string         `json:"query"`
	NumResults int            `json:"numResults"`
	Contents   map[string]any `json:"contents"`
}

type searchResponse struct {
	Results []WebResult `json:"results"`
}

// Search runs query and returns results with text filled in.
func (w *WebSearcher) Search(ctx context.Context, query string) ([]WebResult, error) {
	body, err := json.Marshal(searchRequest{
		Query:      query,
		NumResults: w.numResults,
		Contents:   map[string]any{"text": map[string]any{"maxCharacters": maxResultLength}},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if w.apiKey != "" {
		req.Header.Set("x-api-key", w.apiKey)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("search returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var parsed searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	results := parsed.Results
	for i := range results {
		if strings.TrimSpace(results[i].Text) != "" || results[i].URL == "" {
			continue
		}
		page, err := w.FetchPage(ctx, results[i].URL)
		if err != nil {
			w.logger.Debug("Page fetch failed", "url", results[i].URL, "error", err)
			continue
		}
		results[i].Text = page.Markdown
		if results[i].Title == "" {
			results[i].Title = page.Title
		}
	}
	for i := range results {
		if r := []rune(results[i].Text); len(r) > maxResultLength {
			results[i].Text = string(r[:maxResultLength])
		}
	}
	return results, nil
}

// FetchPage downloads url and converts it to markdown.
func (w *WebSearcher) FetchPage(ctx context.Context, url string) (*Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create page request: %w", err)
	}
	req.Header.Set("Accept", "text/html")

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch page: HTTP %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPageSize))
	if err != nil {
		return nil, fmt.Errorf("read page: %w", err)
	}
	return w.converter.Convert(data)
}

// SaveInBackground stores results in the knowledge base without blocking
// the caller. Failures are logged.
func (w *WebSearcher) SaveInBackground(ctx context.Context, results []WebResult) {
	if w.knowledge == nil || len(results) == 0 {
		return
	}
	w.saves.Add(1)
	go func() {
		defer w.saves.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), saveTimeout)
		defer cancel()
		for _, r := range results {
			if err := w.knowledge.Save(ctx, knowledge.Document{Source: r.URL, Title: r.Title, Content: r.Text}); err != nil {
				w.logger.Warn("Failed to save research finding", "url", r.URL, "error", err)
			}
		}
	}()
}

// Wait blocks until background saves finish.
func (w *WebSearcher) Wait() {
	w.saves.Wait()
}
