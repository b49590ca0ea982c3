package agent

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conductor/internal/adapter/persistence/memstore"
	"conductor/internal/domain"
	"conductor/internal/infra/config"
	"conductor/internal/security"
	"conductor/internal/usecase/knowledge"
	"conductor/internal/usecase/memory"
	"conductor/internal/usecase/toolexec"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newGate(t *testing.T) *security.Gate {
	t.Helper()
	g, err := security.NewGate(config.Defaults().Safety, testLogger())
	require.NoError(t, err)
	return g
}

func register(t *testing.T, exec *toolexec.Executor, name string, params map[string]domain.ParamSpec, fn domain.ToolHandler) {
	t.Helper()
	require.NoError(t, exec.Register(toolexec.Descriptor{Name: name, Handler: fn, Params: params, Timeout: time.Second}))
}

type fakeKnowledge struct {
	added   []knowledge.AddRequest
	queried []string
	refs    []string
}

func (k *fakeKnowledge) Query(_ context.Context, q, d string, _ int) (knowledge.QueryResult, error) {
	k.queried = append(k.queried, d+":"+q)
	return knowledge.QueryResult{
		Results:    []knowledge.Hit{{Content: "use iteration", Domain: d}},
		References: k.refs,
	}, nil
}

func (k *fakeKnowledge) Add(_ context.Context, req knowledge.AddRequest) (string, error) {
	k.added = append(k.added, req)
	return "k1", nil
}

func TestLifecycle(t *testing.T) {
	a := New(Config{ID: "a1", Role: domain.RoleGeneric}, Deps{Tools: toolexec.NewExecutor(testLogger()), Safety: newGate(t), Logger: testLogger()})
	assert.Equal(t, domain.StatusInitialized, a.Status())

	a.Start()
	assert.Equal(t, domain.StatusIdle, a.Status())

	resp := a.ProcessMessage(context.Background(), domain.NewMessage(domain.MessageDirect, "user", "a1", "hello"))
	require.True(t, resp.Success, resp.Error)
	assert.Equal(t, "Acknowledged: hello", resp.Content)
	assert.Equal(t, domain.StatusIdle, a.Status())

	mem := a.Memory(0)
	require.Len(t, mem, 2)
	assert.Equal(t, "received", mem[0].Direction)
	assert.Equal(t, "sent", mem[1].Direction)

	a.Stop()
	resp = a.ProcessMessage(context.Background(), domain.NewMessage(domain.MessageDirect, "user", "a1", "again"))
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "agent stopped")
	assert.Equal(t, domain.StatusStopped, a.Status())
}

func TestProcessMessageRecordsConversation(t *testing.T) {
	mgr := memory.NewManager(memory.NewWorking(10), memory.NewLongTerm(memstore.New()), memory.ManagerConfig{}, testLogger())
	a := New(Config{ID: "a1", Role: domain.RoleGeneric}, Deps{
		Tools:  toolexec.NewExecutor(testLogger()),
		Safety: newGate(t),
		Memory: mgr,
		Logger: testLogger(),
	})
	a.Start()

	msg := domain.NewMessage(domain.MessageDirect, "user", "a1", "hello there")
	resp := a.ProcessMessage(context.Background(), msg)
	require.True(t, resp.Success, resp.Error)

	entries := mgr.Working().All()
	require.Len(t, entries, 2)
	assert.Equal(t, "hello there", entries[0].Content)
	for i, dir := range []string{"received", "sent"} {
		assert.Equal(t, domain.MemoryTypeConversation, entries[i].MemoryType)
		assert.InDelta(t, 0.3, entries[i].Importance, 1e-9)
		assert.Equal(t, dir, entries[i].Metadata["direction"])
		assert.Equal(t, "a1", entries[i].Metadata["agent_id"])
		assert.Equal(t, msg.ID, entries[i].Metadata["message_id"])
	}
}

type failingRecorder struct{ calls int }

func (r *failingRecorder) AddMemory(context.Context, domain.MemoryEntry) (domain.MemoryTier, error) {
	r.calls++
	return "", errors.New("store offline")
}

func TestRecorderFailureDoesNotFailMessage(t *testing.T) {
	rec := &failingRecorder{}
	a := New(Config{ID: "a1"}, Deps{Tools: toolexec.NewExecutor(testLogger()), Safety: newGate(t), Memory: rec, Logger: testLogger()})
	a.Start()

	resp := a.ProcessMessage(context.Background(), domain.NewMessage(domain.MessageDirect, "user", "a1", "hi"))
	assert.True(t, resp.Success, resp.Error)
	assert.Equal(t, 2, rec.calls)
	assert.Equal(t, domain.StatusIdle, a.Status())
}

func TestSafetyRejectionReturnsToIdle(t *testing.T) {
	a := New(Config{ID: "a1"}, Deps{Tools: toolexec.NewExecutor(testLogger()), Safety: newGate(t), Logger: testLogger()})
	a.Start()

	resp := a.ProcessMessage(context.Background(), domain.NewMessage(domain.MessageDirect, "user", "a1", "My SSN is 123-45-6789"))
	assert.False(t, resp.Success)
	assert.Equal(t, "Safety check failed", resp.Error)
	require.NotEmpty(t, resp.Issues)
	assert.Equal(t, domain.IssuePIIDetected, resp.Issues[0].Type)
	assert.Equal(t, domain.StatusIdle, a.Status())
	assert.Empty(t, a.Memory(0))
}

func TestMemoryRingBounded(t *testing.T) {
	a := New(Config{ID: "a1", MemorySize: 3}, Deps{Tools: toolexec.NewExecutor(testLogger()), Safety: newGate(t), Logger: testLogger()})
	a.Start()
	for _, txt := range []string{"one", "two"} {
		a.ProcessMessage(context.Background(), domain.NewMessage(domain.MessageDirect, "u", "a1", txt))
	}
	mem := a.Memory(0)
	require.Len(t, mem, 3)
	assert.Equal(t, "sent", mem[0].Direction)
	assert.Equal(t, "sent", mem[2].Direction)
	assert.Len(t, a.Memory(1), 1)
	assert.Equal(t, 3, a.Info().MemorySize)
}

func TestStrategyErrorSetsErrorState(t *testing.T) {
	exec := toolexec.NewExecutor(testLogger())
	register(t, exec, domain.ToolCodeAnalysis, nil, func(context.Context, map[string]any) (any, error) {
		return nil, errors.New("analyser offline")
	})
	a := New(Config{ID: "code", Role: domain.RoleCode}, Deps{Tools: exec, Safety: newGate(t), Logger: testLogger()})
	a.Start()

	resp := a.ProcessMessage(context.Background(), domain.NewMessage(domain.MessageDirect, "u", "code", "fix this bug"))
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "analyser offline")
	assert.Equal(t, domain.StatusError, a.Status())

	assert.True(t, a.Recover())
	assert.Equal(t, domain.StatusIdle, a.Status())
	assert.False(t, a.Recover())
}

type panicStrategy struct{}

func (panicStrategy) Name() string { return "panic" }
func (panicStrategy) Respond(context.Context, Env, domain.Message) (any, error) {
	panic("kaboom")
}

func TestStrategyPanicRecovered(t *testing.T) {
	a := New(Config{ID: "p"}, Deps{Tools: toolexec.NewExecutor(testLogger()), Safety: newGate(t), Logger: testLogger()})
	a.strategy = panicStrategy{}
	a.Start()

	resp := a.ProcessMessage(context.Background(), domain.NewMessage(domain.MessageDirect, "u", "p", "hi"))
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "kaboom")
	assert.Equal(t, domain.StatusError, a.Status())
}

func TestUseToolChecks(t *testing.T) {
	exec := toolexec.NewExecutor(testLogger())
	var calls atomic.Int32
	register(t, exec, "read_file", map[string]domain.ParamSpec{"path": {Type: "string", Required: true}}, func(_ context.Context, args map[string]any) (any, error) {
		calls.Add(1)
		return "contents of " + args["path"].(string), nil
	})
	a := New(Config{ID: "a", Capabilities: []string{"read_file"}}, Deps{Tools: exec, Safety: newGate(t), Logger: testLogger()})

	resp := a.UseTool(context.Background(), "search", nil)
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "capability")

	resp = a.UseTool(context.Background(), "read_file", map[string]any{"path": "/etc/passwd"})
	assert.False(t, resp.Success)
	assert.Equal(t, "Tool usage failed safety check", resp.Error)
	require.NotEmpty(t, resp.Issues)
	assert.Equal(t, domain.IssueUnsafePath, resp.Issues[0].Type)
	assert.Equal(t, int32(0), calls.Load())

	resp = a.UseTool(context.Background(), "read_file", map[string]any{"path": "notes.txt"})
	require.True(t, resp.Success, resp.Error)
	assert.Equal(t, "contents of notes.txt", resp.Content)
	assert.Equal(t, int32(1), calls.Load())
}

func TestInfoSnapshot(t *testing.T) {
	a := New(Config{ID: "r", Name: "Researcher", Role: domain.RoleResearch}, Deps{Tools: toolexec.NewExecutor(testLogger()), Safety: newGate(t)})
	info := a.Info()
	assert.Equal(t, "r", info.ID)
	assert.Equal(t, "Researcher", info.Name)
	assert.Equal(t, RoleDefaults(domain.RoleResearch).Goal, info.Goal)
	assert.ElementsMatch(t, []string{domain.ToolSearch, domain.ToolSummarize, domain.ToolFactCheck}, info.Capabilities)

	info.Capabilities[0] = "mutated"
	assert.True(t, a.HasCapability(domain.ToolSearch))
	assert.Equal(t, "research", a.Strategy().Name())
}

func TestNewAssignsUUID(t *testing.T) {
	a := New(Config{}, Deps{Tools: toolexec.NewExecutor(testLogger()), Safety: newGate(t)})
	assert.Len(t, a.ID(), 36)
	assert.Equal(t, "generic", a.Strategy().Name())
}
