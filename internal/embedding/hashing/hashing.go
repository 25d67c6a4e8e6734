// Package hashing implements a local bag-of-words embedder using feature
// hashing. It needs no network and is deterministic across processes.
package hashing

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/cespare/xxhash/v2"
)

const modelName = "xxhash64-bow"

type Embedder struct {
	dim int
}

func New(dim int) (*Embedder, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("hashing: dimension must be positive, got %d", dim)
	}
	return &Embedder{dim: dim}, nil
}

func (e *Embedder) Name() string   { return "hashing" }
func (e *Embedder) Model() string  { return modelName }
func (e *Embedder) Dimension() int { return e.dim }

// Embed hashes each whitespace token into a bucket, counts occurrences and
// L2-normalizes. Text without tokens yields the zero vector.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = e.vector(text)
	}
	return out, nil
}

func (e *Embedder) vector(text string) []float32 {
	vec := make([]float32, e.dim)
	for _, tok := range strings.Fields(text) {
		vec[xxhash.Sum64String(tok)%uint64(e.dim)]++
	}
	var norm float64
	for _, x := range vec {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		return vec
	}
	inv := 1 / math.Sqrt(norm)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) * inv)
	}
	return vec
}
