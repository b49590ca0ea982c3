package tool

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"conductor/internal/domain"
	"conductor/internal/usecase/toolexec"
)

// Deps are the collaborators of the built-in tools. LLM is optional; when
// nil, the generative tools fall back to deterministic templates.
type Deps struct {
	Search domain.SearchProvider
	LLM    domain.LLMProvider
	Model  string
	Logger *slog.Logger

	// SearchCacheTTL bounds how long search results are reused. Zero
	// selects the default.
	SearchCacheTTL time.Duration
	// StepDuration is the per-step estimate used by agent_coordination.
	StepDuration time.Duration
	// Now is the clock; nil selects time.Now.
	Now func() time.Time

	// AgentKeywords maps agent IDs to the keywords that make a plan step
	// theirs. Steps matching no agent go to FallbackAgent.
	AgentKeywords map[string][]string
	FallbackAgent string
}

// Builtins holds the state shared by the built-in tool handlers.
type Builtins struct {
	search   domain.SearchProvider
	llm      domain.LLMProvider
	model    string
	logger   *slog.Logger
	cacheTTL time.Duration
	stepDur  time.Duration
	now      func() time.Time
	keywords map[string][]string
	fallback string
	agentIDs []string

	cacheMu sync.Mutex
	cache   map[string]searchCacheEntry

	progressMu sync.Mutex
	progress   map[string]domain.ProgressReport
}

// NewBuiltins creates the built-in tool set.
func NewBuiltins(deps Deps) *Builtins {
	b := &Builtins{
		search:   deps.Search,
		llm:      deps.LLM,
		model:    deps.Model,
		logger:   deps.Logger,
		cacheTTL: deps.SearchCacheTTL,
		stepDur:  deps.StepDuration,
		now:      deps.Now,
		keywords: deps.AgentKeywords,
		fallback: deps.FallbackAgent,
		cache:    make(map[string]searchCacheEntry),
		progress: make(map[string]domain.ProgressReport),
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	if b.cacheTTL <= 0 {
		b.cacheTTL = defaultSearchCacheTTL
	}
	if b.stepDur <= 0 {
		b.stepDur = defaultStepDuration
	}
	if b.now == nil {
		b.now = time.Now
	}
	for id := range b.keywords {
		b.agentIDs = append(b.agentIDs, id)
	}
	sort.Strings(b.agentIDs)
	return b
}

// Register adds every built-in tool to exec. timeouts overrides the
// executor default per tool name.
func (b *Builtins) Register(exec *toolexec.Executor, timeouts map[string]time.Duration) error {
	regs := []func() error{
		func() error {
			return toolexec.RegisterFunc(exec, domain.ToolCodeAnalysis,
				"Analyse a request or code snippet: detect language, whether code is required, and common issues",
				traced(domain.ToolCodeAnalysis, b.logger, b.codeAnalysis), timeouts[domain.ToolCodeAnalysis])
		},
		func() error {
			return toolexec.RegisterFunc(exec, domain.ToolCodeGeneration,
				"Generate code for a prompt in the requested language",
				traced(domain.ToolCodeGeneration, b.logger, b.codeGeneration), timeouts[domain.ToolCodeGeneration])
		},
		func() error {
			return toolexec.RegisterFunc(exec, domain.ToolTesting,
				"Run static checks over a code snippet",
				traced(domain.ToolTesting, b.logger, b.runTests), timeouts[domain.ToolTesting])
		},
		func() error {
			return toolexec.RegisterFunc(exec, domain.ToolSearch,
				"Search for documents matching a query",
				traced(domain.ToolSearch, b.logger, b.searchTool), timeouts[domain.ToolSearch])
		},
		func() error {
			return toolexec.RegisterFunc(exec, domain.ToolFactCheck,
				"Filter claims down to the ones that look verifiable",
				traced(domain.ToolFactCheck, b.logger, b.factCheck), timeouts[domain.ToolFactCheck])
		},
		func() error {
			return toolexec.RegisterFunc(exec, domain.ToolSummarize,
				"Summarise a list of passages",
				traced(domain.ToolSummarize, b.logger, b.summarize), timeouts[domain.ToolSummarize])
		},
		func() error {
			return toolexec.RegisterFunc(exec, domain.ToolTextProcessing,
				"Grammar check, sentiment analysis or summarisation of text",
				traced(domain.ToolTextProcessing, b.logger, b.textProcessing()), timeouts[domain.ToolTextProcessing])
		},
		func() error {
			return toolexec.RegisterFunc(exec, domain.ToolTaskPlanning,
				"Break a request into steps and the agents required",
				traced(domain.ToolTaskPlanning, b.logger, b.taskPlanning), timeouts[domain.ToolTaskPlanning])
		},
		func() error {
			return toolexec.RegisterFunc(exec, domain.ToolAgentCoordination,
				"Assign plan steps to agents and estimate completion",
				traced(domain.ToolAgentCoordination, b.logger, b.agentCoordination), timeouts[domain.ToolAgentCoordination])
		},
		func() error {
			return toolexec.RegisterFunc(exec, domain.ToolProgressTracking,
				"Record progress for a task",
				traced(domain.ToolProgressTracking, b.logger, b.progressTracking), timeouts[domain.ToolProgressTracking])
		},
	}
	for _, reg := range regs {
		if err := reg(); err != nil {
			return fmt.Errorf("register built-in tools: %w", err)
		}
	}
	return nil
}
