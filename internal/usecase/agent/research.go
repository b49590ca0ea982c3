package agent

import (
	"context"
	"log/slog"

	"conductor/internal/domain"
	"conductor/internal/usecase/knowledge"
)

// ResearchReply is the content of a researcher response.
type ResearchReply struct {
	Content    string   `json:"content"`
	Sources    []string `json:"sources"`
	Confidence float64  `json:"confidence"`
}

// ResearchStrategy searches, verifies and summarises, then files the
// summary in the knowledge base.
type ResearchStrategy struct {
	knowledge Knowledge
	logger    *slog.Logger
}

func (s *ResearchStrategy) Name() string { return "research" }

func (s *ResearchStrategy) Respond(ctx context.Context, env Env, msg domain.Message) (any, error) {
	text := msg.Text()
	found, err := callTool[domain.SearchOutput](ctx, env, domain.ToolSearch, map[string]any{"query": text, "limit": 10})
	if err != nil {
		return nil, err
	}

	claims := make([]any, 0, len(found.Results))
	for _, r := range found.Results {
		claims = append(claims, r.Content)
	}
	verified, err := callTool[domain.FactCheckOutput](ctx, env, domain.ToolFactCheck, map[string]any{"claims": claims})
	if err != nil {
		return nil, err
	}

	verifiedText := make([]any, len(verified.VerifiedContent))
	for i, v := range verified.VerifiedContent {
		verifiedText[i] = v
	}
	summary, err := callTool[domain.SummaryOutput](ctx, env, domain.ToolSummarize, map[string]any{"content": verifiedText})
	if err != nil {
		return nil, err
	}

	if s.knowledge != nil && summary.Summary != "" {
		if _, err := s.knowledge.Add(ctx, knowledge.AddRequest{
			Content:    summary.Summary,
			Domain:     "research",
			SourceURLs: found.Sources,
			Confidence: verified.Confidence,
			Metadata:   map[string]any{"query": text, "agent": env.ID()},
		}); err != nil {
			s.logger.Warn("knowledge add failed", "error", err)
		}
	}

	return ResearchReply{
		Content:    summary.Summary,
		Sources:    found.Sources,
		Confidence: verified.Confidence,
	}, nil
}
