package orchestrator

import (
	"context"
	"sync"
	"time"

	"conductor/internal/domain"
)

// Worker is the part of an agent the orchestrator drives.
type Worker interface {
	ID() string
	ProcessMessage(ctx context.Context, msg domain.Message) domain.Response
	UpdateTaskProgress(ctx context.Context, taskID string, progress float64) error
	Recover() bool
	Info() domain.AgentInfo
	Stop()
}

// Handoff records one agent-to-agent handoff.
type Handoff struct {
	ID        string    `json:"id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	MessageID string    `json:"message_id"`
	Delivered bool      `json:"delivered"`
	CreatedAt time.Time `json:"created_at"`
}

// TaskState is the orchestrator's view of a task, fed by task_update events.
type TaskState struct {
	ID        string    `json:"id"`
	Progress  float64   `json:"progress"`
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
}

type usageRecord struct {
	Usage     domain.ResourceUsage
	Timestamp time.Time
}

// State is everything the orchestrator owns: the agent registry, the
// routing keyword table, handoffs and tasks.
type State struct {
	mu       sync.RWMutex
	agents   map[string]Worker
	order    []string
	keywords map[string][]string
	handoffs map[string]Handoff
	tasks    map[string]TaskState
	usage    map[string]usageRecord

	// responses holds a slot per message id awaiting its agent's answer.
	respMu    sync.Mutex
	responses map[string]*domain.Response
}

// NewState creates an empty state seeded with keywords.
func NewState(keywords map[string][]string) *State {
	s := &State{
		agents:    make(map[string]Worker),
		keywords:  make(map[string][]string, len(keywords)),
		handoffs:  make(map[string]Handoff),
		tasks:     make(map[string]TaskState),
		usage:     make(map[string]usageRecord),
		responses: make(map[string]*domain.Response),
	}
	for id, words := range keywords {
		s.keywords[id] = append([]string(nil), words...)
	}
	return s
}

func (s *State) addAgent(w Worker) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.agents[w.ID()]; exists {
		return false
	}
	s.agents[w.ID()] = w
	s.order = append(s.order, w.ID())
	return true
}

func (s *State) agent(id string) (Worker, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.agents[id]
	return w, ok
}

// Agents returns the registered workers in registration order.
func (s *State) Agents() []Worker {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Worker, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.agents[id])
	}
	return out
}

// SetKeywords replaces the keyword set of one route.
func (s *State) SetKeywords(agentID string, words []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keywords[agentID] = append([]string(nil), words...)
}

func (s *State) keywordTable() map[string][]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]string, len(s.keywords))
	for id, words := range s.keywords {
		if _, ok := s.agents[id]; ok {
			out[id] = words
		}
	}
	return out
}

func (s *State) putHandoff(h Handoff) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handoffs[h.ID] = h
}

// Handoff looks up a handoff by id.
func (s *State) Handoff(id string) (Handoff, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.handoffs[id]
	return h, ok
}

func (s *State) updateTask(t TaskState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[t.ID] = t
}

// Task returns the last known state of a task.
func (s *State) Task(id string) (TaskState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	return t, ok
}

func (s *State) recordUsage(agentID string, usage domain.ResourceUsage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usage[agentID] = usageRecord{Usage: usage, Timestamp: time.Now().UTC()}
}

// Usage returns the last resource sample taken for agentID.
func (s *State) Usage(agentID string) (domain.ResourceUsage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.usage[agentID]
	return r.Usage, ok
}

func (s *State) counts() (agents, handoffs, tasks int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.agents), len(s.handoffs), len(s.tasks)
}

// expect opens a slot for the response to msgID.
func (s *State) expect(msgID string) {
	s.respMu.Lock()
	defer s.respMu.Unlock()
	s.responses[msgID] = nil
}

// deliver fills the slot for msgID; responses nobody expects are dropped.
func (s *State) deliver(msgID string, resp domain.Response) {
	s.respMu.Lock()
	defer s.respMu.Unlock()
	if _, ok := s.responses[msgID]; ok {
		s.responses[msgID] = &resp
	}
}

// take closes the slot for msgID and returns what was delivered into it.
func (s *State) take(msgID string) (domain.Response, bool) {
	s.respMu.Lock()
	defer s.respMu.Unlock()
	r := s.responses[msgID]
	delete(s.responses, msgID)
	if r == nil {
		return domain.Response{}, false
	}
	return *r, true
}
