package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"conductor/internal/domain"
	"conductor/internal/infra/config"
)

func TestOpenAIEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("Authorization = %q", got)
		}
		var req openaiEmbedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		if req.Model != "embed-test" || req.Dimensions != 3 || len(req.Input) != 2 {
			t.Errorf("unexpected request %+v", req)
		}
		// Out of order on purpose.
		io.WriteString(w, `{"data":[
			{"index":1,"embedding":[0,1,0]},
			{"index":0,"embedding":[1,0,0]}
		]}`)
	}))
	defer srv.Close()

	p := NewOpenAIProvider(config.EmbeddingConfig{
		BaseURL:    srv.URL + "/",
		APIKey:     "sk-test",
		Model:      "embed-test",
		Dimensions: 3,
	}, srv.Client())

	vecs, err := p.Embed(context.Background(), []string{"first", "second"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vecs) != 2 || vecs[0][0] != 1 || vecs[1][1] != 1 {
		t.Fatalf("vecs = %v", vecs)
	}
	if p.Dimensions() != 3 || p.Name() != "openai" {
		t.Errorf("Dimensions/Name = %d/%s", p.Dimensions(), p.Name())
	}
}

func TestOpenAIEmbedErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"api error", http.StatusInternalServerError, `{"error":"down"}`},
		{"bad json", http.StatusOK, `nope`},
		{"count mismatch", http.StatusOK, `{"data":[{"index":0,"embedding":[1]}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			p := NewOpenAIProvider(config.EmbeddingConfig{BaseURL: srv.URL}, srv.Client())
			_, err := p.Embed(context.Background(), []string{"a", "b"})
			if !errors.Is(err, domain.ErrEmbedding) {
				t.Fatalf("err = %v, want ErrEmbedding", err)
			}
		})
	}
}

func TestOpenAIEmbedEmpty(t *testing.T) {
	p := NewOpenAIProvider(config.EmbeddingConfig{}, nil)
	vecs, err := p.Embed(context.Background(), nil)
	if err != nil || vecs != nil {
		t.Fatalf("Embed(nil) = %v, %v", vecs, err)
	}
	if p.model != defaultOpenAIModel || p.Dimensions() != defaultOpenAIDims {
		t.Errorf("defaults not applied: %s/%d", p.model, p.Dimensions())
	}
}
