package agent

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"conductor/internal/domain"
)

// Task statuses.
const (
	TaskPlanned   = "planned"
	TaskActive    = "in_progress"
	TaskCompleted = "completed"
)

// Task is one row of the task table.
type Task struct {
	ID                  string            `json:"id"`
	Steps               []string          `json:"steps"`
	AssignedAgents      []string          `json:"assigned_agents"`
	Assignments         map[string]string `json:"assignments,omitempty"`
	EstimatedCompletion string            `json:"estimated_completion,omitempty"`
	Status              string            `json:"status"`
	Progress            float64           `json:"progress"`
	CreatedAt           time.Time         `json:"created_at"`
}

// TaskReply is the content of a task manager response.
type TaskReply struct {
	TaskID              string            `json:"task_id"`
	Plan                []string          `json:"plan"`
	AssignedAgents      map[string]string `json:"assigned_agents"`
	EstimatedCompletion string            `json:"estimated_completion"`
}

// TaskStrategy plans tasks, coordinates agents and tracks progress.
type TaskStrategy struct {
	mu    sync.Mutex
	tasks map[string]*Task
}

// NewTaskStrategy creates a strategy with an empty task table.
func NewTaskStrategy() *TaskStrategy {
	return &TaskStrategy{tasks: make(map[string]*Task)}
}

func (s *TaskStrategy) Name() string { return "task" }

func (s *TaskStrategy) Respond(ctx context.Context, env Env, msg domain.Message) (any, error) {
	plan, err := callTool[domain.TaskPlan](ctx, env, domain.ToolTaskPlanning, map[string]any{"content": msg.Text()})
	if err != nil {
		return nil, err
	}
	if plan.TaskID == "" {
		plan.TaskID = domain.NewUUID()
	}

	task := &Task{
		ID:             plan.TaskID,
		Steps:          plan.Steps,
		AssignedAgents: plan.RequiredAgents,
		Status:         TaskPlanned,
		CreatedAt:      time.Now().UTC(),
	}
	s.mu.Lock()
	s.tasks[task.ID] = task
	s.mu.Unlock()

	steps := make([]any, len(plan.Steps))
	for i, st := range plan.Steps {
		steps[i] = st
	}
	agents := make([]any, len(plan.RequiredAgents))
	for i, a := range plan.RequiredAgents {
		agents[i] = a
	}
	coord, err := callTool[domain.Coordination](ctx, env, domain.ToolAgentCoordination, map[string]any{
		"task_id": task.ID,
		"steps":   steps,
		"agents":  agents,
	})
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	task.Assignments = coord.Assignments
	task.EstimatedCompletion = coord.EstimatedCompletion
	s.mu.Unlock()

	return TaskReply{
		TaskID:              task.ID,
		Plan:                plan.Steps,
		AssignedAgents:      coord.Assignments,
		EstimatedCompletion: coord.EstimatedCompletion,
	}, nil
}

// UpdateProgress records progress in [0,1] for a known task and reports it
// through progress_tracking. Progress of 1 completes the task.
func (s *TaskStrategy) UpdateProgress(ctx context.Context, env Env, taskID string, progress float64) error {
	if progress < 0 || progress > 1 {
		return fmt.Errorf("%w: progress %v outside [0,1]", domain.ErrInvalidInput, progress)
	}
	s.mu.Lock()
	task, ok := s.tasks[taskID]
	if !ok {
		s.mu.Unlock()
		return domain.NewDomainError("TaskStrategy.UpdateProgress", domain.ErrNotFound, taskID)
	}
	task.Progress = progress
	switch {
	case progress >= 1:
		task.Status = TaskCompleted
	case progress > 0:
		task.Status = TaskActive
	}
	s.mu.Unlock()

	_, err := callTool[domain.ProgressReport](ctx, env, domain.ToolProgressTracking, map[string]any{
		"task_id":  taskID,
		"progress": progress,
	})
	return err
}

// Tasks returns a copy of the task table ordered by creation time.
func (s *TaskStrategy) Tasks() []Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		c := *t
		c.Steps = slices.Clone(t.Steps)
		c.AssignedAgents = slices.Clone(t.AssignedAgents)
		c.Assignments = maps.Clone(t.Assignments)
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
