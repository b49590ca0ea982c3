package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"conductor/internal/domain"
	"conductor/internal/infra/config"
	"conductor/internal/infra/tracer"
)

const (
	defaultOpenAIModel = "text-embedding-3-small"
	defaultOpenAIDims  = 1536
)

// OpenAIProvider implements domain.EmbeddingProvider against any
// OpenAI-compatible /embeddings endpoint.
type OpenAIProvider struct {
	apiKey  string
	model   string
	dims    int
	baseURL string
	client  *http.Client
}

// NewOpenAIProvider builds a provider from the embedding config. client may
// be nil.
func NewOpenAIProvider(cfg config.EmbeddingConfig, client *http.Client) *OpenAIProvider {
	p := &OpenAIProvider{
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		dims:    cfg.Dimensions,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  client,
	}
	if p.model == "" {
		p.model = defaultOpenAIModel
	}
	if p.dims <= 0 {
		p.dims = defaultOpenAIDims
	}
	if p.baseURL == "" {
		p.baseURL = "https://api.openai.com/v1"
	}
	if p.client == nil {
		p.client = &http.Client{Timeout: 30 * time.Second}
	}
	return p
}

type openaiEmbedRequest struct {
	Input      []string `json:"input"`
	Model      string   `json:"model"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type openaiEmbedResponse struct {
	Data []openaiEmbedData `json:"data"`
}

type openaiEmbedData struct {
	Index     int       `json:"index"`
	Embedding []float32 `json:"embedding"`
}

// Embed implements domain.EmbeddingProvider.
func (p *OpenAIProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	ctx, span := tracer.StartSpan(ctx, "embedding.openai",
		trace.WithAttributes(
			tracer.StringAttr("embedding.model", p.model),
			tracer.IntAttr("embedding.texts", len(texts)),
		),
	)
	defer span.End()

	vecs, err := p.embed(ctx, texts)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}
	tracer.SetOK(span)
	return vecs, nil
}

func (p *OpenAIProvider) embed(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(openaiEmbedRequest{Input: texts, Model: p.model, Dimensions: p.dims})
	if err != nil {
		return nil, fmt.Errorf("%w: marshal request: %v", domain.ErrEmbedding, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %v", domain.ErrEmbedding, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %w: %v", domain.ErrEmbedding, domain.ErrServiceUnavailable, err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, 10*1024*1024))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", domain.ErrEmbedding, err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %w: API error %d: %s", domain.ErrEmbedding, domain.ErrServiceUnavailable, httpResp.StatusCode, string(respBody))
	}

	var resp openaiEmbedResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("%w: unmarshal response: %v", domain.ErrEmbedding, err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d texts", domain.ErrEmbedding, len(resp.Data), len(texts))
	}

	sort.Slice(resp.Data, func(i, j int) bool { return resp.Data[i].Index < resp.Data[j].Index })
	out := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		out[i] = d.Embedding
	}
	return out, nil
}

// Dimensions implements domain.EmbeddingProvider.
func (p *OpenAIProvider) Dimensions() int { return p.dims }

// Name implements domain.EmbeddingProvider.
func (p *OpenAIProvider) Name() string { return "openai" }

var _ domain.EmbeddingProvider = (*OpenAIProvider)(nil)
