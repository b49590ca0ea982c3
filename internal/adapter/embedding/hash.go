package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// DefaultHashDimensions is the vector width of HashProvider when none is set.
const DefaultHashDimensions = 256

// HashProvider is a deterministic, offline embedder based on the hashing
// trick: each lower-cased token and token bigram is hashed to a signed
// bucket, and the vector is L2-normalised. Texts sharing vocabulary end up
// with high cosine similarity.
type HashProvider struct {
	dims int
}

// NewHashProvider creates a hashing embedder of dims dimensions.
func NewHashProvider(dims int) *HashProvider {
	if dims <= 0 {
		dims = DefaultHashDimensions
	}
	return &HashProvider{dims: dims}
}

// Embed implements domain.EmbeddingProvider. It never fails.
func (p *HashProvider) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = p.vector(t)
	}
	return out, nil
}

func (p *HashProvider) vector(text string) []float32 {
	vec := make([]float32, p.dims)
	tokens := tokenize(text)
	for i, tok := range tokens {
		p.add(vec, tok, 1)
		if i > 0 {
			p.add(vec, tokens[i-1]+" "+tok, 0.5)
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec
}

func (p *HashProvider) add(vec []float32, feature string, weight float32) {
	h := fnv.New64a()
	h.Write([]byte(feature))
	sum := h.Sum64()
	bucket := int(sum % uint64(p.dims))
	if sum&(1<<63) != 0 {
		weight = -weight
	}
	vec[bucket] += weight
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// Dimensions implements domain.EmbeddingProvider.
func (p *HashProvider) Dimensions() int { return p.dims }

// Name implements domain.EmbeddingProvider.
func (p *HashProvider) Name() string { return "hash" }
