package main

import (
	"log/slog"

	"conductor/internal/adapter/llm"
	"conductor/internal/domain"
	"conductor/internal/infra/config"
)

// initLLM returns the language model behind its circuit breaker, or nil
// when the service is disabled. Tools and the generic strategy fall back
// to deterministic behaviour without it.
func initLLM(cfg *config.Config, log *slog.Logger) domain.LLMProvider {
	if !cfg.LLM.Enabled {
		log.Info("llm disabled, using template fallbacks")
		return nil
	}
	provider := llm.NewCircuitBreakerProvider(llm.NewOpenAIProvider(cfg.LLM, log), cfg.LLM.CircuitBreaker, log)
	log.Info("llm enabled",
		"base_url", cfg.LLM.BaseURL,
		"model", cfg.LLM.Model,
		"cb_max_failures", cfg.LLM.CircuitBreaker.MaxFailures,
	)
	return provider
}
