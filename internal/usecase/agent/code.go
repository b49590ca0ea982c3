package agent

import (
	"context"
	"log/slog"

	"conductor/internal/domain"
)

// CodeReply is the content of a code assistant response.
type CodeReply struct {
	Content    string   `json:"content"`
	Language   string   `json:"language,omitempty"`
	Reasoning  string   `json:"reasoning"`
	References []string `json:"references"`
}

// CodeStrategy analyses the request and generates code when it needs some.
type CodeStrategy struct {
	knowledge Knowledge
	logger    *slog.Logger
}

func (s *CodeStrategy) Name() string { return "code" }

func (s *CodeStrategy) Respond(ctx context.Context, env Env, msg domain.Message) (any, error) {
	text := msg.Text()
	analysis, err := callTool[domain.CodeAnalysis](ctx, env, domain.ToolCodeAnalysis, map[string]any{"content": text})
	if err != nil {
		return nil, err
	}

	reply := CodeReply{
		Content:    analysis.Explanation,
		Language:   analysis.Language,
		Reasoning:  analysis.Reasoning,
		References: []string{},
	}

	var contextLines []any
	if s.knowledge != nil {
		res, err := s.knowledge.Query(ctx, text, "programming", 5)
		if err != nil {
			s.logger.Warn("knowledge query failed", "error", err)
		} else {
			reply.References = res.References
			for _, h := range res.Results {
				contextLines = append(contextLines, h.Content)
			}
		}
	}

	if !analysis.RequiresCode {
		return reply, nil
	}

	args := map[string]any{"prompt": text}
	if analysis.Language != "" {
		args["language"] = analysis.Language
	}
	if len(contextLines) > 0 {
		args["context"] = contextLines
	}
	code, err := callTool[domain.GeneratedCode](ctx, env, domain.ToolCodeGeneration, args)
	if err != nil {
		return nil, err
	}
	reply.Content = code.Code
	reply.Language = code.Language
	return reply, nil
}
