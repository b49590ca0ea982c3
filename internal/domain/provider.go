package domain

import "context"

// Chat roles.
const (
	RoleSystemMsg    = "system"
	RoleUserMsg      = "user"
	RoleAssistantMsg = "assistant"
	RoleToolMsg      = "tool"
)

// ChatMessage is a single turn sent to or returned by the language model.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatTool advertises a callable tool to the language model.
type ChatTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ChatRequest is sent to an LLM provider.
type ChatRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Tools       []ChatTool    `json:"tools,omitempty"`
}

// ChatChoice is one completion alternative.
type ChatChoice struct {
	Message      ChatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

// Usage tracks token consumption.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatResponse is returned from an LLM provider.
type ChatResponse struct {
	ID      string       `json:"id"`
	Choices []ChatChoice `json:"choices"`
	Usage   Usage        `json:"usage"`
}

// Text returns the content of the first choice, or "" when there is none.
func (r *ChatResponse) Text() string {
	if r == nil || len(r.Choices) == 0 {
		return ""
	}
	return r.Choices[0].Message.Content
}

// LLMProvider is the black-box language model boundary. Every failure is
// reported as an error wrapping ErrServiceUnavailable.
type LLMProvider interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	Name() string
}

// SearchResult is a single hit from a SearchProvider.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content"`
}

// SearchProvider abstracts a web or document search backend.
type SearchProvider interface {
	Search(ctx context.Context, query string, limit int) ([]SearchResult, error)
	Name() string
}

// EmbeddingProvider is the interface for text embedding backends.
type EmbeddingProvider interface {
	// Embed generates embeddings for the given texts.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// Dimensions returns the dimensionality of the embedding vectors.
	Dimensions() int
	// Name returns the provider's identifier (e.g., "openai", "hash").
	Name() string
}

// ResourceUsage is a sample of resource consumption, in percent per metric.
type ResourceUsage map[string]float64

// ResourceSampler reports current resource usage.
type ResourceSampler interface {
	Sample(ctx context.Context) (ResourceUsage, error)
}
