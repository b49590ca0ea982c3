package orchestrator

import (
	"fmt"
	"sort"
	"strings"
)

// Routing is the outcome of keyword scoring for one user message.
type Routing struct {
	AgentID    string  `json:"agent_id"`
	Confidence float64 `json:"confidence"`
	Ratio      float64 `json:"ratio"`
	Ambiguous  bool    `json:"ambiguous,omitempty"`
	Reason     string  `json:"reason"`
}

// RoutingConfig tunes the keyword router.
type RoutingConfig struct {
	ConfidenceThreshold float64
	BaseConfidence      float64
	DefaultConfidence   float64
	FallbackAgent       string
	Keywords            map[string][]string
}

// Route scores text against every keyword set. The best ratio of matched
// keywords wins; ties and no match at all fall back to the fallback agent.
func (o *Orchestrator) Route(text string) Routing {
	return route(o.state.keywordTable(), o.cfg.Routing, text)
}

func route(table map[string][]string, cfg RoutingConfig, text string) Routing {
	lower := strings.ToLower(text)

	ids := make([]string, 0, len(table))
	for id := range table {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	best, bestRatio, tied := "", 0.0, false
	for _, id := range ids {
		words := table[id]
		if len(words) == 0 {
			continue
		}
		matched := 0
		for _, w := range words {
			if w != "" && strings.Contains(lower, strings.ToLower(w)) {
				matched++
			}
		}
		ratio := float64(matched) / float64(len(words))
		switch {
		case ratio > bestRatio:
			best, bestRatio, tied = id, ratio, false
		case ratio == bestRatio && ratio > 0:
			tied = true
		}
	}

	if best == "" {
		return Routing{
			AgentID:    cfg.FallbackAgent,
			Confidence: cfg.DefaultConfidence,
			Reason:     "no keyword match, defaulting to " + cfg.FallbackAgent,
		}
	}
	if tied {
		return Routing{
			AgentID:    cfg.FallbackAgent,
			Confidence: cfg.DefaultConfidence,
			Ratio:      bestRatio,
			Ambiguous:  true,
			Reason:     "ambiguous keyword match, defaulting to " + cfg.FallbackAgent,
		}
	}
	return Routing{
		AgentID:    best,
		Confidence: cfg.BaseConfidence + (1-cfg.BaseConfidence)*bestRatio,
		Ratio:      bestRatio,
		Reason:     fmt.Sprintf("matched keywords for %s", best),
	}
}
