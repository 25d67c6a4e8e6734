// Package matcher finds the corpus entries nearest to a query. Backends live
// in subpackages and share the scoring and ordering rules defined here.
package matcher

import (
	"context"
	"math"
	"slices"

	"askarc/internal/corpus"
	"askarc/internal/domain"
)

// Epsilon keeps cosine similarity finite when either vector is zero.
const Epsilon = 1e-12

// Query is a normalized query. Vector is nil for lexical matchers.
type Query struct {
	Canonical string
	Vector    []float32
}

// Match is one scored entry.
type Match struct {
	Entry domain.KnowledgeEntry
	Score float64
}

// Matcher prepares a searchable index over a corpus.
type Matcher interface {
	Name() string
	// RequiresVectors reports whether entries and queries must carry vectors.
	RequiresVectors() bool
	Prepare(ctx context.Context, c *corpus.Corpus) (Index, error)
}

// Index searches one prepared corpus. Search returns up to k matches by
// descending score, ties broken by ascending entry id, and fails with
// domain.ErrEmptyCorpus when the corpus has no entries.
type Index interface {
	Len() int
	Search(ctx context.Context, q Query, k int) ([]Match, error)
}

// Releaser is implemented by indexes that hold resources outside the
// process. Release is called once the index has been replaced.
type Releaser interface {
	Release(ctx context.Context) error
}

// Cosine returns dot(a, b) / (|a||b| + Epsilon), clamped to [-1, 1].
// Vectors of different length are compared over their common prefix.
func Cosine(a, b []float32) float64 {
	n := min(len(a), len(b))
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	return clamp(dot / (math.Sqrt(na)*math.Sqrt(nb) + Epsilon))
}

// Norm returns the Euclidean length of v.
func Norm(v []float32) float64 {
	var s float64
	for _, x := range v {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}

// Dot returns the inner product of a and b over their common prefix.
func Dot(a, b []float32) float64 {
	n := min(len(a), len(b))
	var s float64
	for i := 0; i < n; i++ {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

func clamp(s float64) float64 {
	switch {
	case s > 1:
		return 1
	case s < -1:
		return -1
	}
	return s
}

// CosineFromParts finishes a cosine computed from a precomputed dot product
// and norms.
func CosineFromParts(dot, normA, normB float64) float64 {
	return clamp(dot / (normA*normB + Epsilon))
}

// Less orders matches by descending score, then ascending entry id.
func Less(a, b Match) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.Entry.ID < b.Entry.ID
}

// Top returns the k best entries for the given per-entry scores. scores[i]
// belongs to entries[i]. k <= 0 is treated as 1.
func Top(entries []domain.KnowledgeEntry, scores []float64, k int) []Match {
	if len(entries) == 0 {
		return nil
	}
	if k <= 0 {
		k = 1
	}
	if k == 1 {
		best := 0
		for i := 1; i < len(scores); i++ {
			if Less(Match{Entry: entries[i], Score: scores[i]}, Match{Entry: entries[best], Score: scores[best]}) {
				best = i
			}
		}
		return []Match{{Entry: entries[best], Score: scores[best]}}
	}
	all := make([]Match, len(entries))
	for i := range entries {
		all[i] = Match{Entry: entries[i], Score: scores[i]}
	}
	SortMatches(all)
	return all[:min(k, len(all))]
}

// SortMatches sorts in place by Less.
func SortMatches(ms []Match) {
	slices.SortFunc(ms, func(a, b Match) int {
		switch {
		case Less(a, b):
			return -1
		case Less(b, a):
			return 1
		}
		return 0
	})
}
