// Package search provides SearchProvider backends for the search tool.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"conductor/internal/domain"
	"conductor/internal/infra/tracer"
)

const maxSearchBodySize = 512 * 1024 // 512KB

// searxngResponse models the relevant portion of the SearXNG JSON response.
type searxngResponse struct {
	Results []struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Content string `json:"content"`
		Engine  string `json:"engine"`
	} `json:"results"`
	NumberOfResults int `json:"number_of_results"`
}

// SearXNGProvider searches the web via a SearXNG instance.
type SearXNGProvider struct {
	client      *http.Client
	instanceURL string
	logger      *slog.Logger
}

// NewSearXNGProvider creates a provider backed by the SearXNG instance at
// instanceURL.
func NewSearXNGProvider(instanceURL string, logger *slog.Logger) *SearXNGProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &SearXNGProvider{
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
		instanceURL: strings.TrimRight(instanceURL, "/"),
		logger:      logger,
	}
}

func (p *SearXNGProvider) Name() string { return "searxng" }

// Search implements domain.SearchProvider. All failures wrap ErrSearchBackend.
func (p *SearXNGProvider) Search(ctx context.Context, query string, limit int) ([]domain.SearchResult, error) {
	ctx, span := tracer.StartSpan(ctx, "search.searxng",
		trace.WithAttributes(tracer.IntAttr("search.limit", limit)),
	)
	defer span.End()

	results, err := p.search(ctx, query, limit)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}
	span.SetAttributes(tracer.IntAttr("search.results", len(results)))
	tracer.SetOK(span)
	p.logger.Debug("searxng search completed", "query", query, "results", len(results))
	return results, nil
}

func (p *SearXNGProvider) search(ctx context.Context, query string, limit int) ([]domain.SearchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.instanceURL+"/search", nil)
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %v", domain.ErrSearchBackend, err)
	}

	q := req.URL.Query()
	q.Set("q", query)
	q.Set("format", "json")
	q.Set("pageno", "1")
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: search request: %v", domain.ErrSearchBackend, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSearchBodySize))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", domain.ErrSearchBackend, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: HTTP %d: %s", domain.ErrSearchBackend, resp.StatusCode, string(body))
	}

	var searxResp searxngResponse
	if err := json.Unmarshal(body, &searxResp); err != nil {
		return nil, fmt.Errorf("%w: parse response: %v", domain.ErrSearchBackend, err)
	}

	results := make([]domain.SearchResult, 0, len(searxResp.Results))
	for _, r := range searxResp.Results {
		if limit > 0 && len(results) >= limit {
			break
		}
		results = append(results, domain.SearchResult{
			Title:   r.Title,
			URL:     r.URL,
			Content: r.Content,
		})
	}
	return results, nil
}

var _ domain.SearchProvider = (*SearXNGProvider)(nil)
