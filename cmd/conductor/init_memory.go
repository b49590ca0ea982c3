package main

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"conductor/internal/adapter/embedding"
	"conductor/internal/adapter/llm"
	"conductor/internal/adapter/persistence/filestore"
	"conductor/internal/adapter/persistence/redisstore"
	"conductor/internal/adapter/persistence/sqlitestore"
	"conductor/internal/domain"
	"conductor/internal/infra/config"
	"conductor/internal/usecase/knowledge"
	"conductor/internal/usecase/memory"
)

// MemoryComponents holds the tiered memory and the knowledge base built on
// its long-term tier.
type MemoryComponents struct {
	Manager   *memory.Manager
	Knowledge *knowledge.Base
}

// closer is implemented by persistence backends that hold connections.
type closer interface{ Close() error }

func initMemory(ctx context.Context, cfg *config.Config, bus domain.EventBus, audit domain.AuditLogger, log *slog.Logger) (*MemoryComponents, func(), error) {
	store, err := openStore(ctx, cfg.Memory)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if c, ok := store.(closer); ok {
			if err := c.Close(); err != nil {
				log.Warn("memory store close error", "error", err)
			}
		}
	}

	longTerm := memory.NewLongTerm(store)
	mgr := memory.NewManager(
		memory.NewWorking(cfg.Memory.WorkingCapacity),
		longTerm,
		memory.ManagerConfig{
			Threshold: cfg.Memory.ConsolidationThreshold,
			Interval:  cfg.Memory.ConsolidationInterval,
		},
		log.With("component", "memory"),
		memory.WithEventBus(bus),
		memory.WithAudit(audit),
	)

	kb, err := knowledge.New(ctx, newEmbedder(cfg.Embedding), longTerm, knowledge.Config{}, log.With("component", "knowledge"))
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("knowledge base: %w", err)
	}
	log.Info("memory initialized", "backend", store.Name(), "knowledge_entries", kb.Len())
	return &MemoryComponents{Manager: mgr, Knowledge: kb}, cleanup, nil
}

// openStore selects the long-term persistence backend.
func openStore(ctx context.Context, cfg config.MemoryConfig) (domain.PersistenceAdapter, error) {
	switch cfg.Backend {
	case "", "file":
		return filestore.New(filepath.Join(cfg.DataDir, "memories"))
	case "sqlite":
		return sqlitestore.New(filepath.Join(cfg.DataDir, "memory.db"))
	case "redis":
		return redisstore.Dial(ctx, cfg.RedisURL, cfg.RedisPassword, cfg.RedisPrefix)
	default:
		return nil, fmt.Errorf("%w: unknown memory backend %q", domain.ErrInvalidInput, cfg.Backend)
	}
}

// newEmbedder builds the configured embedding provider behind an LRU cache.
func newEmbedder(cfg config.EmbeddingConfig) domain.EmbeddingProvider {
	var inner domain.EmbeddingProvider
	switch cfg.Provider {
	case "openai":
		inner = embedding.NewOpenAIProvider(cfg, llm.NewHTTPClient(0, 0))
	default:
		inner = embedding.NewHashProvider(cfg.Dimensions)
	}
	return embedding.NewCachedEmbedder(inner, cfg.CacheSize)
}
