package tool

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"conductor/internal/domain"
)

const (
	defaultSearchCacheTTL = 15 * time.Minute
	maxSearchLimit        = 20
	minClaimLength        = 15
)

type searchCacheEntry struct {
	out       domain.SearchOutput
	expiresAt time.Time
}

type searchParams struct {
	Query string `json:"query"`
	Limit int    `json:"limit" default:"5"`
}

type factCheckParams struct {
	Claims []string `json:"claims"`
}

type summarizeParams struct {
	Content   []string `json:"content"`
	MaxLength int      `json:"max_length" default:"400"`
}

// Phrases that mark a claim as unsubstantiated.
var hedgeMarkers = []string{
	"rumor", "rumour", "allegedly", "unconfirmed", "unverified", "hoax",
	"some say", "people say", "might be true", "citation needed",
}

func (b *Builtins) searchTool(ctx context.Context, p searchParams) (domain.SearchOutput, error) {
	if err := required("query", p.Query); err != nil {
		return domain.SearchOutput{}, err
	}
	if b.search == nil {
		return domain.SearchOutput{}, fmt.Errorf("%w: no search provider configured", domain.ErrSearchBackend)
	}
	limit := p.Limit
	if limit <= 0 {
		limit = 5
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}

	key := fmt.Sprintf("%d|%s", limit, strings.ToLower(strings.TrimSpace(p.Query)))
	if out, ok := b.cachedSearch(key); ok {
		return out, nil
	}

	results, err := b.search.Search(ctx, p.Query, limit)
	if err != nil {
		return domain.SearchOutput{}, err
	}
	out := domain.SearchOutput{Results: results, Sources: make([]string, 0, len(results))}
	seen := make(map[string]bool, len(results))
	for _, r := range results {
		if r.URL != "" && !seen[r.URL] {
			seen[r.URL] = true
			out.Sources = append(out.Sources, r.URL)
		}
	}

	b.cacheMu.Lock()
	b.cache[key] = searchCacheEntry{out: out, expiresAt: b.now().Add(b.cacheTTL)}
	b.cacheMu.Unlock()
	return out, nil
}

func (b *Builtins) cachedSearch(key string) (domain.SearchOutput, bool) {
	b.cacheMu.Lock()
	defer b.cacheMu.Unlock()
	e, ok := b.cache[key]
	if !ok {
		return domain.SearchOutput{}, false
	}
	if b.now().After(e.expiresAt) {
		delete(b.cache, key)
		return domain.SearchOutput{}, false
	}
	return e.out, true
}

// factCheck keeps claims that are substantive, unhedged and not repeated.
// Confidence is the verified fraction.
func (b *Builtins) factCheck(_ context.Context, p factCheckParams) (domain.FactCheckOutput, error) {
	out := domain.FactCheckOutput{VerifiedContent: []string{}}
	seen := make(map[string]bool, len(p.Claims))
	for _, claim := range p.Claims {
		c := strings.TrimSpace(claim)
		norm := strings.ToLower(c)
		switch {
		case len(c) < minClaimLength, seen[norm], hedged(norm):
			out.Rejected = append(out.Rejected, c)
		default:
			out.VerifiedContent = append(out.VerifiedContent, c)
		}
		seen[norm] = true
	}
	if len(p.Claims) > 0 {
		out.Confidence = math.Round(float64(len(out.VerifiedContent))/float64(len(p.Claims))*100) / 100
	}
	return out, nil
}

func hedged(lower string) bool {
	for _, m := range hedgeMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

func (b *Builtins) summarize(ctx context.Context, p summarizeParams) (domain.SummaryOutput, error) {
	text := strings.TrimSpace(strings.Join(p.Content, " "))
	if text == "" {
		return domain.SummaryOutput{Summary: "", Method: methodExtractive}, nil
	}
	if b.llm != nil {
		summary, err := b.summarizeWithLLM(ctx, text, p.MaxLength)
		if err == nil && summary != "" {
			return domain.SummaryOutput{Summary: summary, Method: methodLLM}, nil
		}
		b.logger.Warn("llm summarisation failed, using extractive summary", "error", err)
	}
	return domain.SummaryOutput{Summary: extractiveSummary(text, p.MaxLength), Method: methodExtractive}, nil
}

func (b *Builtins) summarizeWithLLM(ctx context.Context, text string, maxLen int) (string, error) {
	resp, err := b.llm.Chat(ctx, domain.ChatRequest{
		Model: b.model,
		Messages: []domain.ChatMessage{
			{Role: domain.RoleSystemMsg, Content: fmt.Sprintf("Summarise the user's text in at most %d characters. Reply with the summary only.", maxLen)},
			{Role: domain.RoleUserMsg, Content: text},
		},
	})
	if err != nil {
		return "", err
	}
	return truncate(strings.TrimSpace(resp.Text()), maxLen), nil
}
