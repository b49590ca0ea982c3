package agent

import (
	"context"
	"fmt"

	"conductor/internal/domain"
)

// GenericStrategy asks the language model when one is configured and
// otherwise acknowledges the message.
type GenericStrategy struct {
	llm   domain.LLMProvider
	model string
}

func (s *GenericStrategy) Name() string { return "generic" }

func (s *GenericStrategy) Respond(ctx context.Context, env Env, msg domain.Message) (any, error) {
	if s.llm == nil {
		return fmt.Sprintf("Acknowledged: %s", msg.Text()), nil
	}
	resp, err := s.llm.Chat(ctx, domain.ChatRequest{
		Model: s.model,
		Messages: []domain.ChatMessage{
			{Role: domain.RoleSystemMsg, Content: env.Goal()},
			{Role: domain.RoleUserMsg, Content: msg.Text()},
		},
	})
	if err != nil {
		return nil, err
	}
	return resp.Text(), nil
}
