package config

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestValidateDefaultsPass(t *testing.T) {
	if err := Validate(Defaults()); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Memory.WorkingCapacity = 0
	cfg.Memory.ConsolidationThreshold = 1.5
	cfg.Tools.DefaultTimeout = 0

	err := Validate(cfg)
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
	if len(ve.Errors) != 3 {
		t.Errorf("errors = %d, want 3: %v", len(ve.Errors), ve.Errors)
	}
}

func TestValidateCases(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad backend", func(c *Config) { c.Memory.Backend = "mongo" }, "memory.backend"},
		{"redis without url", func(c *Config) { c.Memory.Backend = "redis" }, "memory.redis_url"},
		{"zero interval", func(c *Config) { c.Memory.ConsolidationInterval = 0 }, "consolidation_interval"},
		{"unknown fallback", func(c *Config) { c.Routing.FallbackAgent = "ghost" }, "fallback_agent"},
		{"threshold range", func(c *Config) { c.Routing.ConfidenceThreshold = -1 }, "confidence_threshold"},
		{"keywords unknown agent", func(c *Config) { c.Routing.Keywords["ghost"] = []string{"x"} }, "unknown agent"},
		{"duplicate agent", func(c *Config) { c.Agents = append(c.Agents, c.Agents[0]) }, "duplicated"},
		{"negative tool timeout", func(c *Config) { c.Tools.Timeouts["search"] = -time.Second }, "tools.timeouts"},
		{"mcp transport", func(c *Config) {
			c.Tools.MCPServers = []MCPServer{{Name: "x", Transport: "carrier-pigeon"}}
		}, "transport"},
		{"llm model", func(c *Config) { c.LLM.Enabled = true; c.LLM.Model = "" }, "llm.model"},
		{"searxng url", func(c *Config) { c.Search.Backend = "searxng" }, "searxng_url"},
		{"embedding key", func(c *Config) { c.Embedding.Provider = "openai" }, "embedding.api_key"},
		{"otlp endpoint", func(c *Config) { c.Tracer.Enabled = true; c.Tracer.Exporter = "otlp" }, "tracer.endpoint"},
		{"server addr", func(c *Config) { c.Server.Enabled = true; c.Server.Addr = "nope" }, "server.addr"},
		{"intervention mode", func(c *Config) { c.Intervene.Mode = "ask-mom" }, "intervention.mode"},
		{"intervention agent", func(c *Config) { c.Intervene.DenyAgents = []string{"ghost"} }, "unknown agent"},
		{"log format", func(c *Config) { c.Logger.Format = "xml" }, "logger.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)
			err := Validate(cfg)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err.Error(), tt.want)
			}
		})
	}
}
