package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func defaultKeywords() map[string][]string {
	return map[string][]string{
		"code_agent":     {"code", "function", "bug", "error", "programming"},
		"research_agent": {"research", "information", "find", "search"},
		"task_agent":     {"task", "plan", "coordinate", "manage"},
	}
}

func TestRoute(t *testing.T) {
	cfg := DefaultConfig().Routing

	tests := []struct {
		name      string
		table     map[string][]string
		text      string
		agent     string
		conf      float64
		ambiguous bool
	}{
		{"fibonacci", defaultKeywords(), "Write a function to calculate fibonacci", "code_agent", 0.52, false},
		{"research", defaultKeywords(), "Find research information on Go", "research_agent", 0.85, false},
		{"case insensitive", defaultKeywords(), "FIX THIS BUG IN MY CODE", "code_agent", 0.64, false},
		{"no match", defaultKeywords(), "hello there", "task_agent", 0.5, false},
		{"empty text", defaultKeywords(), "", "task_agent", 0.5, false},
		{"tie", map[string][]string{"a": {"alpha", "beta"}, "b": {"gamma", "delta"}}, "alpha gamma", "task_agent", 0.5, true},
		{"full match", map[string][]string{"a": {"alpha"}}, "alpha", "a", 1.0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := route(tt.table, cfg, tt.text)
			assert.Equal(t, tt.agent, got.AgentID)
			assert.InDelta(t, tt.conf, got.Confidence, 1e-9)
			assert.Equal(t, tt.ambiguous, got.Ambiguous)
			assert.NotEmpty(t, got.Reason)
		})
	}
}

func TestRouteAnyMatchReachesBase(t *testing.T) {
	cfg := DefaultConfig().Routing
	got := route(map[string][]string{"a": {"one", "two", "three", "four", "five", "six", "seven", "eight", "nine", "ten"}}, cfg, "one")
	assert.Equal(t, "a", got.AgentID)
	assert.GreaterOrEqual(t, got.Confidence, cfg.BaseConfidence)
}

func TestRouteSkipsEmptyKeywordSets(t *testing.T) {
	cfg := DefaultConfig().Routing
	got := route(map[string][]string{"a": nil, "b": {"go"}}, cfg, "go go")
	assert.Equal(t, "b", got.AgentID)
}
