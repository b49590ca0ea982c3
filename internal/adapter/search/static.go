package search

import (
	"context"
	"sort"
	"strings"
	"unicode"

	"conductor/internal/domain"
)

// Document is one entry of a StaticProvider corpus.
type Document struct {
	Topic  string
	Result domain.SearchResult
}

// StaticProvider answers queries from a fixed in-memory corpus. Ranking is
// deterministic: documents whose topic appears in the query come first, then
// documents by token overlap, ties broken by corpus order. When fewer than
// limit documents match, the remainder is filled in corpus order.
type StaticProvider struct {
	docs []Document
}

// NewStaticProvider creates a provider over docs, or over DefaultCorpus when
// docs is empty.
func NewStaticProvider(docs ...Document) *StaticProvider {
	if len(docs) == 0 {
		docs = DefaultCorpus()
	}
	return &StaticProvider{docs: docs}
}

func (p *StaticProvider) Name() string { return "static" }

type scored struct {
	idx   int
	topic bool
	score int
}

// Search implements domain.SearchProvider.
func (p *StaticProvider) Search(ctx context.Context, query string, limit int) ([]domain.SearchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > len(p.docs) {
		limit = len(p.docs)
	}

	q := strings.ToLower(query)
	qTokens := make(map[string]struct{})
	for _, t := range words(q) {
		qTokens[t] = struct{}{}
	}
	padded := " " + strings.Join(fields(q), " ") + " "

	ranked := make([]scored, len(p.docs))
	for i, d := range p.docs {
		s := scored{idx: i, topic: d.Topic != "" && strings.Contains(padded, " "+strings.ToLower(d.Topic)+" ")}
		for _, t := range words(strings.ToLower(d.Result.Title + " " + d.Result.Content)) {
			if _, ok := qTokens[t]; ok {
				s.score++
			}
		}
		ranked[i] = s
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].topic != ranked[j].topic {
			return ranked[i].topic
		}
		return ranked[i].score > ranked[j].score
	})

	out := make([]domain.SearchResult, 0, limit)
	for _, s := range ranked[:limit] {
		out = append(out, p.docs[s.idx].Result)
	}
	return out, nil
}

func fields(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// words drops tokens too short to carry meaning.
func words(s string) []string {
	all := fields(s)
	out := all[:0]
	for _, f := range all {
		if len(f) > 2 {
			out = append(out, f)
		}
	}
	return out
}

// DefaultCorpus returns the built-in reference corpus.
func DefaultCorpus() []Document {
	return []Document{
		{Topic: "ai", Result: domain.SearchResult{
			Title:   "Artificial Intelligence - Wikipedia",
			URL:     "https://en.wikipedia.org/wiki/Artificial_intelligence",
			Content: "Artificial intelligence is intelligence demonstrated by machines, as opposed to natural intelligence displayed by animals including humans.",
		}},
		{Topic: "ai", Result: domain.SearchResult{
			Title:   "What is AI? | IBM",
			URL:     "https://www.ibm.com/topics/artificial-intelligence",
			Content: "Artificial intelligence leverages computers and machines to mimic the problem-solving and decision-making capabilities of the human mind.",
		}},
		{Topic: "python", Result: domain.SearchResult{
			Title:   "Python (programming language) - Wikipedia",
			URL:     "https://en.wikipedia.org/wiki/Python_(programming_language)",
			Content: "Python is a high-level, general-purpose programming language. Its design philosophy emphasizes code readability with the use of significant indentation.",
		}},
		{Topic: "go", Result: domain.SearchResult{
			Title:   "The Go Programming Language",
			URL:     "https://go.dev/",
			Content: "Go is an open source programming language supported by Google that makes it simple to build secure, scalable systems.",
		}},
		{Topic: "machine learning", Result: domain.SearchResult{
			Title:   "Machine learning - Wikipedia",
			URL:     "https://en.wikipedia.org/wiki/Machine_learning",
			Content: "Machine learning is a field of study in artificial intelligence concerned with statistical algorithms that learn from data and generalize to unseen data.",
		}},
		{Topic: "multi agent", Result: domain.SearchResult{
			Title:   "Multi-agent system - Wikipedia",
			URL:     "https://en.wikipedia.org/wiki/Multi-agent_system",
			Content: "A multi-agent system is a computerized system composed of multiple interacting intelligent agents that can solve problems difficult for an individual agent.",
		}},
		{Topic: "natural language processing", Result: domain.SearchResult{
			Title:   "Natural language processing - Wikipedia",
			URL:     "https://en.wikipedia.org/wiki/Natural_language_processing",
			Content: "Natural language processing is a subfield of computer science and artificial intelligence concerned with the interactions between computers and human language.",
		}},
		{Topic: "climate", Result: domain.SearchResult{
			Title:   "Climate change - Wikipedia",
			URL:     "https://en.wikipedia.org/wiki/Climate_change",
			Content: "Climate change refers to long-term shifts in temperatures and weather patterns, mainly driven by human activities since the 1800s.",
		}},
	}
}

var _ domain.SearchProvider = (*StaticProvider)(nil)
