package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conductor/internal/domain"
	"conductor/internal/usecase/toolexec"
)

func TestCodeStrategyGeneratesWhenRequired(t *testing.T) {
	exec := toolexec.NewExecutor(testLogger())
	register(t, exec, domain.ToolCodeAnalysis, nil, func(context.Context, map[string]any) (any, error) {
		return domain.CodeAnalysis{RequiresCode: true, Language: "python", Reasoning: "asks for a function", Explanation: "n/a"}, nil
	})
	var genArgs map[string]any
	register(t, exec, domain.ToolCodeGeneration, nil, func(_ context.Context, args map[string]any) (any, error) {
		genArgs = args
		// Remote tools hand back generic JSON.
		return map[string]any{"code": "def fib(n): ...", "language": "python"}, nil
	})
	kb := &fakeKnowledge{refs: []string{"https://example.org/fib"}}
	a := New(Config{ID: "code", Role: domain.RoleCode}, Deps{Tools: exec, Safety: newGate(t), Knowledge: kb, Logger: testLogger()})
	a.Start()

	resp := a.ProcessMessage(context.Background(), domain.NewMessage(domain.MessageDirect, "u", "code", "Write a function to calculate fibonacci"))
	require.True(t, resp.Success, resp.Error)

	reply, ok := resp.Content.(CodeReply)
	require.True(t, ok)
	assert.Equal(t, "def fib(n): ...", reply.Content)
	assert.Equal(t, "asks for a function", reply.Reasoning)
	assert.Equal(t, []string{"https://example.org/fib"}, reply.References)
	assert.Equal(t, []string{"programming:Write a function to calculate fibonacci"}, kb.queried)
	assert.Equal(t, "python", genArgs["language"])
	assert.Equal(t, []any{"use iteration"}, genArgs["context"])
}

func TestCodeStrategyExplainsOnly(t *testing.T) {
	exec := toolexec.NewExecutor(testLogger())
	register(t, exec, domain.ToolCodeAnalysis, nil, func(context.Context, map[string]any) (any, error) {
		return domain.CodeAnalysis{Reasoning: "question", Explanation: "A goroutine is a lightweight thread."}, nil
	})
	register(t, exec, domain.ToolCodeGeneration, nil, func(context.Context, map[string]any) (any, error) {
		return nil, errors.New("must not be called")
	})
	a := New(Config{ID: "code", Role: domain.RoleCode}, Deps{Tools: exec, Safety: newGate(t), Logger: testLogger()})

	resp := a.ProcessMessage(context.Background(), domain.NewMessage(domain.MessageDirect, "u", "code", "what is a goroutine"))
	require.True(t, resp.Success, resp.Error)
	assert.Equal(t, "A goroutine is a lightweight thread.", resp.Content.(CodeReply).Content)
	assert.Empty(t, resp.Content.(CodeReply).References)
}

func TestResearchStrategyPipeline(t *testing.T) {
	exec := toolexec.NewExecutor(testLogger())
	var order []string
	register(t, exec, domain.ToolSearch, nil, func(_ context.Context, args map[string]any) (any, error) {
		order = append(order, "search")
		assert.Equal(t, 10, args["limit"])
		return domain.SearchOutput{
			Results: []domain.SearchResult{{Title: "A", URL: "https://a", Content: "fact a"}, {Title: "B", URL: "https://b", Content: "fact b"}},
			Sources: []string{"https://a", "https://b"},
		}, nil
	})
	register(t, exec, domain.ToolFactCheck, nil, func(_ context.Context, args map[string]any) (any, error) {
		order = append(order, "fact_check")
		assert.Len(t, args["claims"], 2)
		return domain.FactCheckOutput{VerifiedContent: []string{"fact a"}, Confidence: 0.5}, nil
	})
	register(t, exec, domain.ToolSummarize, nil, func(_ context.Context, args map[string]any) (any, error) {
		order = append(order, "summarize")
		return domain.SummaryOutput{Summary: "fact a"}, nil
	})
	kb := &fakeKnowledge{}
	a := New(Config{ID: "r", Role: domain.RoleResearch}, Deps{Tools: exec, Safety: newGate(t), Knowledge: kb, Logger: testLogger()})

	resp := a.ProcessMessage(context.Background(), domain.NewMessage(domain.MessageDirect, "u", "r", "find information on tides"))
	require.True(t, resp.Success, resp.Error)

	assert.Equal(t, []string{"search", "fact_check", "summarize"}, order)
	reply := resp.Content.(ResearchReply)
	assert.Equal(t, "fact a", reply.Content)
	assert.Equal(t, 0.5, reply.Confidence)
	require.Len(t, kb.added, 1)
	assert.Equal(t, "research", kb.added[0].Domain)
	assert.Equal(t, []string{"https://a", "https://b"}, kb.added[0].SourceURLs)
}

func newTaskAgent(t *testing.T) (*Agent, *[]domain.ProgressReport) {
	t.Helper()
	exec := toolexec.NewExecutor(testLogger())
	register(t, exec, domain.ToolTaskPlanning, nil, func(context.Context, map[string]any) (any, error) {
		return domain.TaskPlan{TaskID: "t-1", Steps: []string{"design", "build"}, RequiredAgents: []string{"code_agent"}}, nil
	})
	register(t, exec, domain.ToolAgentCoordination, nil, func(_ context.Context, args map[string]any) (any, error) {
		assert.Equal(t, "t-1", args["task_id"])
		return domain.Coordination{Assignments: map[string]string{"design": "code_agent"}, EstimatedCompletion: "2h"}, nil
	})
	reports := &[]domain.ProgressReport{}
	register(t, exec, domain.ToolProgressTracking, nil, func(_ context.Context, args map[string]any) (any, error) {
		r := domain.ProgressReport{TaskID: args["task_id"].(string), Progress: args["progress"].(float64)}
		*reports = append(*reports, r)
		return r, nil
	})
	a := New(Config{ID: "task", Role: domain.RoleTask}, Deps{Tools: exec, Safety: newGate(t), Logger: testLogger()})
	a.Start()
	return a, reports
}

func TestTaskStrategyPlansAndTracks(t *testing.T) {
	ctx := context.Background()
	a, reports := newTaskAgent(t)

	resp := a.ProcessMessage(ctx, domain.NewMessage(domain.MessageDirect, "u", "task", "plan the release"))
	require.True(t, resp.Success, resp.Error)
	reply := resp.Content.(TaskReply)
	assert.Equal(t, "t-1", reply.TaskID)
	assert.Equal(t, []string{"design", "build"}, reply.Plan)
	assert.Equal(t, "2h", reply.EstimatedCompletion)

	tasks := a.Tasks()
	require.Len(t, tasks, 1)
	assert.Equal(t, TaskPlanned, tasks[0].Status)

	require.NoError(t, a.UpdateTaskProgress(ctx, "t-1", 0.5))
	assert.Equal(t, TaskActive, a.Tasks()[0].Status)

	require.NoError(t, a.UpdateTaskProgress(ctx, "t-1", 1))
	assert.Equal(t, TaskCompleted, a.Tasks()[0].Status)
	assert.Len(t, *reports, 2)

	err := a.UpdateTaskProgress(ctx, "missing", 0.1)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	err = a.UpdateTaskProgress(ctx, "t-1", 2)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestUpdateTaskProgressNeedsTaskStrategy(t *testing.T) {
	a := New(Config{ID: "g"}, Deps{Tools: toolexec.NewExecutor(testLogger()), Safety: newGate(t)})
	err := a.UpdateTaskProgress(context.Background(), "t", 0.5)
	assert.ErrorIs(t, err, domain.ErrCapability)
	assert.Nil(t, a.Tasks())
}

type stubLLM struct {
	req domain.ChatRequest
	err error
}

func (s *stubLLM) Chat(_ context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	s.req = req
	if s.err != nil {
		return nil, s.err
	}
	return &domain.ChatResponse{Choices: []domain.ChatChoice{{Message: domain.ChatMessage{Role: "assistant", Content: "hi there"}}}}, nil
}
func (s *stubLLM) Name() string { return "stub" }

func TestGenericStrategyUsesLLM(t *testing.T) {
	llm := &stubLLM{}
	a := New(Config{ID: "g", Goal: "Be brief"}, Deps{Tools: toolexec.NewExecutor(testLogger()), Safety: newGate(t), LLM: llm, Model: "m1", Logger: testLogger()})

	resp := a.ProcessMessage(context.Background(), domain.NewMessage(domain.MessageDirect, "u", "g", "hello"))
	require.True(t, resp.Success, resp.Error)
	assert.Equal(t, "hi there", resp.Content)
	assert.Equal(t, "m1", llm.req.Model)
	assert.Equal(t, "Be brief", llm.req.Messages[0].Content)

	llm.err = domain.ErrServiceUnavailable
	resp = a.ProcessMessage(context.Background(), domain.NewMessage(domain.MessageDirect, "u", "g", "hello"))
	assert.False(t, resp.Success)
	assert.Equal(t, domain.StatusError, a.Status())
}

func TestDecodeAs(t *testing.T) {
	got, err := decodeAs[domain.GeneratedCode](`{"code":"x","language":"go"}`)
	require.NoError(t, err)
	assert.Equal(t, "go", got.Language)

	got, err = decodeAs[domain.GeneratedCode](&domain.GeneratedCode{Code: "y"})
	require.NoError(t, err)
	assert.Equal(t, "y", got.Code)

	_, err = decodeAs[domain.GeneratedCode]("not json")
	assert.ErrorIs(t, err, domain.ErrExecution)
}
