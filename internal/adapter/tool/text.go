package tool

import (
	"context"
	"math"
	"regexp"
	"sort"
	"strings"
	"unicode"

	"conductor/internal/domain"
)

// Summary methods.
const (
	methodExtractive = "extractive"
	methodLLM        = "llm"
)

// text_processing operations.
const (
	OpGrammar   = "grammar"
	OpSentiment = "sentiment"
	OpSummarize = "summarize"
)

type textParams struct {
	Text      string `json:"text"`
	Operation string `json:"operation" default:"summarize" desc:"grammar, sentiment or summarize"`
	MaxLength int    `json:"max_length" default:"200"`
}

// GrammarIssue is one finding of the grammar check.
type GrammarIssue struct {
	Type  string `json:"type"`
	Line  int    `json:"line"`
	Match string `json:"match"`
}

// GrammarReport is the grammar operation output.
type GrammarReport struct {
	WordCount        int            `json:"word_count"`
	SentenceCount    int            `json:"sentence_count"`
	Issues           []GrammarIssue `json:"issues"`
	ReadabilityScore float64        `json:"readability_score"`
	ReadabilityLevel string         `json:"readability_level"`
}

// SentimentReport is the sentiment operation output. Score is in [-1, 1].
type SentimentReport struct {
	Score         float64 `json:"score"`
	Category      string  `json:"category"`
	PositiveScore float64 `json:"positive_score"`
	NegativeScore float64 `json:"negative_score"`
	NeutralScore  float64 `json:"neutral_score"`
	WordCount     int     `json:"word_count"`
}

// TextResult is the output of text_processing; exactly one report is set.
type TextResult struct {
	Operation string                `json:"operation"`
	Grammar   *GrammarReport        `json:"grammar,omitempty"`
	Sentiment *SentimentReport      `json:"sentiment,omitempty"`
	Summary   *domain.SummaryOutput `json:"summary,omitempty"`
}

var grammarPatterns = []struct {
	name string
	re   *regexp.Regexp
}{
	{"double negation", regexp.MustCompile(`(?i)\b(not\s+\w+\s+not|never\s+\w+\s+not|not\s+\w+\s+never)\b`)},
	{"subject verb agreement", regexp.MustCompile(`(?i)\b(they\s+is|he\s+are|she\s+are|it\s+are|i\s+is|we\s+is)\b`)},
	{"run on sentence", regexp.MustCompile(`[^.!?]{150,}[.!?]`)},
	{"missing apostrophe", regexp.MustCompile(`(?i)\b(cant|wont|dont|didnt|havent|hasnt|wouldnt|shouldnt|couldnt|im|youre|theyre)\b`)},
}

var (
	positiveWords = wordSet("good great excellent wonderful amazing awesome fantastic happy joy love excited positive beautiful brilliant success successful win winning best better improved")
	negativeWords = wordSet("bad terrible awful horrible sad unhappy hate dislike negative poor worst worse failure failed lose losing problem difficult hard impossible wrong error")
)

func wordSet(s string) map[string]bool {
	m := make(map[string]bool)
	for _, w := range strings.Fields(s) {
		m[w] = true
	}
	return m
}

func (b *Builtins) textProcessing() func(context.Context, textParams) (TextResult, error) {
	dispatch := Dispatch(func(p textParams) string { return p.Operation }, ActionMap[textParams, TextResult]{
		OpGrammar: func(_ context.Context, p textParams) (TextResult, error) {
			r := analyzeGrammar(p.Text)
			return TextResult{Operation: OpGrammar, Grammar: &r}, nil
		},
		OpSentiment: func(_ context.Context, p textParams) (TextResult, error) {
			r := analyzeSentiment(p.Text)
			return TextResult{Operation: OpSentiment, Sentiment: &r}, nil
		},
		OpSummarize: func(_ context.Context, p textParams) (TextResult, error) {
			return TextResult{Operation: OpSummarize, Summary: &domain.SummaryOutput{
				Summary: extractiveSummary(p.Text, p.MaxLength),
				Method:  methodExtractive,
			}}, nil
		},
	})
	return func(ctx context.Context, p textParams) (TextResult, error) {
		if err := required("text", p.Text); err != nil {
			return TextResult{}, err
		}
		return dispatch(ctx, p)
	}
}

func tokens(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}

func analyzeGrammar(text string) GrammarReport {
	report := GrammarReport{Issues: []GrammarIssue{}}
	for _, p := range grammarPatterns {
		for _, loc := range p.re.FindAllStringIndex(text, -1) {
			report.Issues = append(report.Issues, GrammarIssue{
				Type:  p.name,
				Line:  strings.Count(text[:loc[0]], "\n") + 1,
				Match: text[loc[0]:loc[1]],
			})
		}
	}

	words := tokens(text)
	for i := 1; i < len(words); i++ {
		if strings.EqualFold(words[i], words[i-1]) {
			report.Issues = append(report.Issues, GrammarIssue{Type: "double word", Match: words[i-1] + " " + words[i]})
		}
	}

	report.WordCount = len(words)
	report.SentenceCount = len(splitSentences(text))
	avg := float64(report.WordCount) / math.Max(1, float64(report.SentenceCount))
	score := math.Max(0, math.Min(100, 100-(avg-10)*5))
	report.ReadabilityScore = math.Round(score*10) / 10
	switch {
	case score > 80:
		report.ReadabilityLevel = "Elementary"
	case score > 70:
		report.ReadabilityLevel = "Middle School"
	case score > 60:
		report.ReadabilityLevel = "High School"
	case score > 50:
		report.ReadabilityLevel = "College"
	default:
		report.ReadabilityLevel = "Graduate"
	}
	return report
}

func analyzeSentiment(text string) SentimentReport {
	words := tokens(strings.ToLower(text))
	var pos, neg int
	for _, w := range words {
		switch {
		case positiveWords[w]:
			pos++
		case negativeWords[w]:
			neg++
		}
	}
	total := math.Max(1, float64(len(words)))
	posScore := float64(pos) / total * 100
	negScore := float64(neg) / total * 100
	score := (posScore - negScore) / 100

	category := "neutral"
	switch {
	case score > 0.2:
		category = "positive"
	case score < -0.2:
		category = "negative"
	}
	return SentimentReport{
		Score:         math.Round(score*100) / 100,
		Category:      category,
		PositiveScore: math.Round(posScore*10) / 10,
		NegativeScore: math.Round(negScore*10) / 10,
		NeutralScore:  math.Round((100-posScore-negScore)*10) / 10,
		WordCount:     len(words),
	}
}

// splitSentences splits after '.', '!' or '?' followed by whitespace.
func splitSentences(text string) []string {
	var out []string
	start := 0
	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		if !strings.ContainsRune(".!?", runes[i]) {
			continue
		}
		if i+1 < len(runes) && !unicode.IsSpace(runes[i+1]) {
			continue
		}
		if s := strings.TrimSpace(string(runes[start : i+1])); s != "" {
			out = append(out, s)
		}
		start = i + 1
	}
	if s := strings.TrimSpace(string(runes[start:])); s != "" {
		out = append(out, s)
	}
	return out
}

// extractiveSummary keeps the highest-scoring sentences that fit in maxLen,
// in their original order. Sentences score on position, length and word
// frequency.
func extractiveSummary(text string, maxLen int) string {
	if maxLen <= 0 {
		maxLen = 200
	}
	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return ""
	}

	freq := make(map[string]int)
	for _, w := range tokens(strings.ToLower(text)) {
		freq[w]++
	}

	type ranked struct {
		idx   int
		score float64
	}
	scores := make([]ranked, len(sentences))
	for i, s := range sentences {
		var score float64
		switch i {
		case 0:
			score += 0.3
		case len(sentences) - 1:
			score += 0.2
		}
		words := tokens(strings.ToLower(s))
		if n := len(words); n >= 8 && n <= 20 {
			score += 0.5
		}
		var f int
		for _, w := range words {
			f += freq[w]
		}
		score += 0.0001 * float64(f) / math.Max(1, float64(len(words)))
		scores[i] = ranked{idx: i, score: score}
	}
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].score > scores[j].score })

	var picked []int
	total := 0
	for _, r := range scores {
		l := len(sentences[r.idx])
		if total+l > maxLen {
			break
		}
		picked = append(picked, r.idx)
		total += l
	}
	if len(picked) == 0 {
		return truncate(sentences[scores[0].idx], maxLen)
	}
	sort.Ints(picked)
	parts := make([]string, len(picked))
	for i, idx := range picked {
		parts[i] = sentences[idx]
	}
	return truncate(strings.Join(parts, " "), maxLen)
}

func truncate(s string, maxLen int) string {
	if maxLen <= 0 || len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	cut := maxLen - 3
	for cut > 0 && !utf8Start(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

func utf8Start(b byte) bool { return b&0xC0 != 0x80 }
