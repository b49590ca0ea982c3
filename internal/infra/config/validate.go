package config

import (
	"fmt"
	"net"
	"strings"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...interface{}) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateLogger(cfg, ve)
	validateTracer(cfg, ve)
	validateTools(cfg, ve)
	validateMemory(cfg, ve)
	validateRouting(cfg, ve)
	validateAgents(cfg, ve)
	validateIntervention(cfg, ve)
	validateLLM(cfg, ve)
	validateEmbedding(cfg, ve)
	validateSearch(cfg, ve)
	validateServer(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateLogger(cfg *Config, ve *ValidationError) {
	switch strings.ToLower(cfg.Logger.Format) {
	case "", "text", "json":
	default:
		ve.Add("logger.format %q must be text or json", cfg.Logger.Format)
	}
}

func validateTracer(cfg *Config, ve *ValidationError) {
	if !cfg.Tracer.Enabled {
		return
	}
	switch cfg.Tracer.Exporter {
	case "", "noop", "stdout":
	case "otlp":
		if cfg.Tracer.Endpoint == "" {
			ve.Add("tracer.endpoint is required for the otlp exporter")
		}
	default:
		ve.Add("tracer.exporter %q is not supported", cfg.Tracer.Exporter)
	}
}

func validateTools(cfg *Config, ve *ValidationError) {
	if cfg.Tools.DefaultTimeout <= 0 {
		ve.Add("tools.default_timeout must be > 0")
	}
	for name, d := range cfg.Tools.Timeouts {
		if d <= 0 {
			ve.Add("tools.timeouts[%s] must be > 0", name)
		}
	}
	if cfg.Tools.RateLimit < 0 {
		ve.Add("tools.rate_limit must be >= 0")
	}
	for i, srv := range cfg.Tools.MCPServers {
		if srv.Name == "" {
			ve.Add("tools.mcp_servers[%d].name is required", i)
		}
		switch srv.Transport {
		case "stdio":
			if srv.Command == "" {
				ve.Add("tools.mcp_servers[%d].command is required for stdio", i)
			}
		case "http":
			if srv.URL == "" {
				ve.Add("tools.mcp_servers[%d].url is required for http", i)
			}
		default:
			ve.Add("tools.mcp_servers[%d].transport %q must be stdio or http", i, srv.Transport)
		}
	}
}

func validateMemory(cfg *Config, ve *ValidationError) {
	m := cfg.Memory
	if m.WorkingCapacity <= 0 {
		ve.Add("memory.working_capacity must be > 0")
	}
	if m.ConsolidationThreshold < 0 || m.ConsolidationThreshold > 1 {
		ve.Add("memory.consolidation_threshold must be within [0,1]")
	}
	if m.ConsolidationInterval <= 0 {
		ve.Add("memory.consolidation_interval must be > 0")
	}
	switch m.Backend {
	case "file", "sqlite":
		if m.DataDir == "" {
			ve.Add("memory.data_dir is required for the %s backend", m.Backend)
		}
	case "redis":
		if m.RedisURL == "" {
			ve.Add("memory.redis_url is required for the redis backend")
		}
	case "memory":
	default:
		ve.Add("memory.backend %q must be memory, file, sqlite or redis", m.Backend)
	}
}

func validateRouting(cfg *Config, ve *ValidationError) {
	r := cfg.Routing
	for name, v := range map[string]float64{
		"confidence_threshold": r.ConfidenceThreshold,
		"base_confidence":      r.BaseConfidence,
		"default_confidence":   r.DefaultConfidence,
	} {
		if v < 0 || v > 1 {
			ve.Add("routing.%s must be within [0,1]", name)
		}
	}
	if r.FallbackAgent == "" {
		ve.Add("routing.fallback_agent is required")
	} else if !hasAgent(cfg, r.FallbackAgent) {
		ve.Add("routing.fallback_agent %q is not a configured agent", r.FallbackAgent)
	}
	for id, words := range r.Keywords {
		if !hasAgent(cfg, id) {
			ve.Add("routing.keywords references unknown agent %q", id)
		}
		if len(words) == 0 {
			ve.Add("routing.keywords[%s] must not be empty", id)
		}
	}
}

func validateAgents(cfg *Config, ve *ValidationError) {
	if len(cfg.Agents) == 0 {
		ve.Add("at least one agent must be configured")
	}
	seen := make(map[string]bool, len(cfg.Agents))
	for i, a := range cfg.Agents {
		if a.ID == "" {
			ve.Add("agents[%d].id is required", i)
			continue
		}
		if seen[a.ID] {
			ve.Add("agents[%d].id %q is duplicated", i, a.ID)
		}
		seen[a.ID] = true
		if a.MemorySize < 0 {
			ve.Add("agents[%d].memory_size must be >= 0", i)
		}
	}
}

func validateIntervention(cfg *Config, ve *ValidationError) {
	switch cfg.Intervene.Mode {
	case "", "auto", "policy":
	default:
		ve.Add("intervention.mode %q must be auto or policy", cfg.Intervene.Mode)
	}
	for _, id := range append(append([]string{}, cfg.Intervene.ApproveAgents...), cfg.Intervene.DenyAgents...) {
		if !hasAgent(cfg, id) {
			ve.Add("intervention lists unknown agent %q", id)
		}
	}
}

func validateLLM(cfg *Config, ve *ValidationError) {
	if !cfg.LLM.Enabled {
		return
	}
	if cfg.LLM.BaseURL == "" {
		ve.Add("llm.base_url is required when llm is enabled")
	}
	if cfg.LLM.Model == "" {
		ve.Add("llm.model is required when llm is enabled")
	}
}

func validateEmbedding(cfg *Config, ve *ValidationError) {
	switch cfg.Embedding.Provider {
	case "", "hash":
	case "openai":
		if cfg.Embedding.APIKey == "" {
			ve.Add("embedding.api_key is required for the openai provider")
		}
	default:
		ve.Add("embedding.provider %q must be hash or openai", cfg.Embedding.Provider)
	}
}

func validateSearch(cfg *Config, ve *ValidationError) {
	switch cfg.Search.Backend {
	case "", "static":
	case "searxng":
		if cfg.Search.SearXNGURL == "" {
			ve.Add("search.searxng_url is required for the searxng backend")
		}
	default:
		ve.Add("search.backend %q must be static or searxng", cfg.Search.Backend)
	}
}

func validateServer(cfg *Config, ve *ValidationError) {
	if !cfg.Server.Enabled {
		return
	}
	if _, _, err := net.SplitHostPort(cfg.Server.Addr); err != nil {
		ve.Add("server.addr %q is invalid: %v", cfg.Server.Addr, err)
	}
	if cfg.Server.RequestsPerMin < 0 || cfg.Server.Burst < 0 {
		ve.Add("server rate limits must be >= 0")
	}
}

func hasAgent(cfg *Config, id string) bool {
	for _, a := range cfg.Agents {
		if a.ID == id {
			return true
		}
	}
	return false
}
