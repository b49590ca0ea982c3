package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/kaptinlin/jsonschema"

	"conductor/internal/domain"
)

const defaultStepDuration = 30 * time.Minute

// Task statuses reported by progress_tracking.
const (
	StatusPlanned    = "planned"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
)

type taskPlanningParams struct {
	Content string `json:"content"`
}

type coordinationParams struct {
	TaskID string   `json:"task_id"`
	Steps  []string `json:"steps"`
	Agents []string `json:"agents"`
}

type progressParams struct {
	TaskID   string  `json:"task_id"`
	Progress float64 `json:"progress"`
}

// planSchema constrains plans produced by the language model.
const planSchema = `{
	"type": "object",
	"properties": {
		"steps": {"type": "array", "minItems": 1, "maxItems": 20, "items": {"type": "string", "minLength": 1}},
		"required_agents": {"type": "array", "items": {"type": "string"}}
	},
	"required": ["steps"]
}`

// stepSplitRe separates the clauses of a request into plan steps.
var stepSplitRe = regexp.MustCompile(`(?i)\s*(?:\n+|;|\band then\b|\bthen\b|\bafter that\b|(?:^|\s)\d+[.)]\s)\s*`)

func (b *Builtins) taskPlanning(ctx context.Context, p taskPlanningParams) (domain.TaskPlan, error) {
	if err := required("content", p.Content); err != nil {
		return domain.TaskPlan{}, err
	}
	plan := domain.TaskPlan{TaskID: domain.NewUUID()}

	if b.llm != nil {
		steps, agents, err := b.planWithLLM(ctx, p.Content)
		if err == nil {
			plan.Steps = steps
			plan.RequiredAgents = agents
			if len(plan.RequiredAgents) == 0 {
				plan.RequiredAgents = b.agentsFor(steps)
			}
			return plan, nil
		}
		b.logger.Warn("llm planning failed, using heuristic plan", "error", err)
	}

	plan.Steps = splitSteps(p.Content)
	plan.RequiredAgents = b.agentsFor(plan.Steps)
	return plan, nil
}

// splitSteps turns a request into ordered steps. A request with a single
// clause becomes an analyse/execute/review plan.
func splitSteps(content string) []string {
	var steps []string
	for _, part := range stepSplitRe.Split(content, -1) {
		part = strings.Trim(strings.TrimSpace(part), ".,")
		if part != "" {
			steps = append(steps, part)
		}
	}
	if len(steps) > 1 {
		return steps
	}
	goal := strings.TrimSpace(content)
	return []string{
		"Analyse requirements: " + goal,
		"Execute: " + goal,
		"Review results",
	}
}

// agentFor returns the agent whose keywords best match step, or "".
func (b *Builtins) agentFor(step string) string {
	lower := strings.ToLower(step)
	best, bestHits := "", 0
	for _, id := range b.agentIDs {
		hits := 0
		for _, kw := range b.keywords[id] {
			if strings.Contains(lower, strings.ToLower(kw)) {
				hits++
			}
		}
		if hits > bestHits {
			best, bestHits = id, hits
		}
	}
	return best
}

// agentsFor lists the distinct agents needed for steps in first-use order.
func (b *Builtins) agentsFor(steps []string) []string {
	var agents []string
	for _, s := range steps {
		if id := b.agentFor(s); id != "" && !slices.Contains(agents, id) {
			agents = append(agents, id)
		}
	}
	if len(agents) == 0 && b.fallback != "" {
		agents = []string{b.fallback}
	}
	return agents
}

func (b *Builtins) planWithLLM(ctx context.Context, content string) ([]string, []string, error) {
	system := "Break the user's request into short ordered steps. Reply with JSON only: " +
		`{"steps": ["..."], "required_agents": ["..."]}` +
		". Valid agents: " + strings.Join(b.agentIDs, ", ") + "."
	resp, err := b.llm.Chat(ctx, domain.ChatRequest{
		Model: b.model,
		Messages: []domain.ChatMessage{
			{Role: domain.RoleSystemMsg, Content: system},
			{Role: domain.RoleUserMsg, Content: content},
		},
	})
	if err != nil {
		return nil, nil, err
	}

	raw := stripCodeFences(resp.Text())
	var parsed any
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, nil, fmt.Errorf("%w: plan is not JSON: %v", domain.ErrInvalidInput, err)
	}
	if err := validateJSONSchema(planSchema, parsed); err != nil {
		return nil, nil, fmt.Errorf("%w: plan: %v", domain.ErrInvalidInput, err)
	}

	var out struct {
		Steps          []string `json:"steps"`
		RequiredAgents []string `json:"required_agents"`
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, nil, fmt.Errorf("%w: plan: %v", domain.ErrInvalidInput, err)
	}
	// Drop agents the model invented.
	agents := out.RequiredAgents[:0]
	for _, a := range out.RequiredAgents {
		if _, ok := b.keywords[a]; ok && !slices.Contains(agents, a) {
			agents = append(agents, a)
		}
	}
	return out.Steps, agents, nil
}

// validateJSONSchema validates parsed JSON against a JSON Schema.
func validateJSONSchema(schemaJSON string, data any) error {
	compiler := jsonschema.NewCompiler()
	schema, err := compiler.Compile([]byte(schemaJSON))
	if err != nil {
		return fmt.Errorf("invalid schema: %w", err)
	}
	result := schema.Validate(data)
	if !result.IsValid() {
		return fmt.Errorf("%s", result.Error())
	}
	return nil
}

// agentCoordination assigns each step to the listed agent whose keywords
// match it, round-robin otherwise, and estimates completion from the step
// count.
func (b *Builtins) agentCoordination(_ context.Context, p coordinationParams) (domain.Coordination, error) {
	if len(p.Steps) == 0 {
		return domain.Coordination{}, fmt.Errorf("%w: steps must not be empty", domain.ErrInvalidInput)
	}
	if len(p.Agents) == 0 {
		return domain.Coordination{}, fmt.Errorf("%w: agents must not be empty", domain.ErrInvalidInput)
	}

	assignments := make(map[string]string, len(p.Steps))
	for i, step := range p.Steps {
		agent := b.agentFor(step)
		if !slices.Contains(p.Agents, agent) {
			agent = p.Agents[i%len(p.Agents)]
		}
		assignments[fmt.Sprintf("%d. %s", i+1, step)] = agent
	}
	eta := b.now().UTC().Add(time.Duration(len(p.Steps)) * b.stepDur)
	return domain.Coordination{
		Assignments:         assignments,
		EstimatedCompletion: eta.Format(time.RFC3339),
	}, nil
}

func (b *Builtins) progressTracking(_ context.Context, p progressParams) (domain.ProgressReport, error) {
	if err := required("task_id", p.TaskID); err != nil {
		return domain.ProgressReport{}, err
	}
	if p.Progress < 0 || p.Progress > 1 {
		return domain.ProgressReport{}, fmt.Errorf("%w: progress %v outside [0,1]", domain.ErrInvalidInput, p.Progress)
	}
	report := domain.ProgressReport{TaskID: p.TaskID, Progress: p.Progress, Status: StatusPlanned}
	switch {
	case p.Progress >= 1:
		report.Status = StatusCompleted
	case p.Progress > 0:
		report.Status = StatusInProgress
	}

	b.progressMu.Lock()
	b.progress[p.TaskID] = report
	b.progressMu.Unlock()
	b.logger.Info("task progress", "task_id", p.TaskID, "progress", p.Progress, "status", report.Status)
	return report, nil
}

// Progress returns the last report recorded for taskID.
func (b *Builtins) Progress(taskID string) (domain.ProgressReport, bool) {
	b.progressMu.Lock()
	defer b.progressMu.Unlock()
	r, ok := b.progress[taskID]
	return r, ok
}
