// Package tfidf is a lexical matcher: smoothed-IDF TF-IDF vectors over the
// canonical questions, compared by cosine similarity. It needs no embedding
// provider.
package tfidf

import (
	"context"
	"math"
	"sort"
	"strings"

	"askarc/internal/corpus"
	"askarc/internal/domain"
	"askarc/internal/matcher"
)

type Matcher struct{}

func New() *Matcher { return &Matcher{} }

func (*Matcher) Name() string          { return "tfidf" }
func (*Matcher) RequiresVectors() bool { return false }

// Prepare builds the vocabulary and IDF values from the canonical questions.
// Canonical text is already normalized, so tokens are whitespace fields.
func (*Matcher) Prepare(_ context.Context, c *corpus.Corpus) (matcher.Index, error) {
	idx := &Index{entries: c.Entries, vocabulary: make(map[string]int)}
	if len(c.Entries) == 0 {
		return idx, nil
	}
	// Build vocabulary and document frequencies
	df := make(map[string]int)
	for _, e := range c.Entries {
		seen := make(map[string]struct{})
		for _, tok := range strings.Fields(e.CanonicalQuestion) {
			if _, ok := seen[tok]; ok {
				continue
			}
			seen[tok] = struct{}{}
			df[tok]++
		}
	}
	// Create stable ordering for vocabulary
	terms := make([]string, 0, len(df))
	for term := range df {
		terms = append(terms, term)
	}
	sort.Strings(terms)
	idx.idf = make([]float64, len(terms))
	n := float64(len(c.Entries))
	for i, term := range terms {
		idx.vocabulary[term] = i
		// Smoothed IDF
		idx.idf[i] = math.Log((1+n)/(1+float64(df[term]))) + 1.0
	}
	idx.vectors = make([]sparse, len(c.Entries))
	for i, e := range c.Entries {
		idx.vectors[i] = idx.embed(e.CanonicalQuestion)
	}
	return idx, nil
}

// sparse is an L2-normalized TF-IDF vector keyed by vocabulary index.
type sparse map[int]float64

// Index is a prepared TF-IDF index, read-only after Prepare.
type Index struct {
	entries    []domain.KnowledgeEntry
	vocabulary map[string]int
	idf        []float64
	vectors    []sparse
}

func (x *Index) Len() int { return len(x.entries) }

func (x *Index) Search(ctx context.Context, q matcher.Query, k int) ([]matcher.Match, error) {
	if len(x.entries) == 0 {
		return nil, domain.ErrEmptyCorpus
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	qv := x.embed(q.Canonical)
	scores := make([]float64, len(x.entries))
	if len(qv) > 0 {
		for i, v := range x.vectors {
			scores[i] = dot(qv, v)
		}
	}
	return matcher.Top(x.entries, scores, k), nil
}

// embed computes the TF-IDF vector of already-normalized text. Terms
// outside the vocabulary are ignored.
func (x *Index) embed(text string) sparse {
	tf := make(map[int]int)
	total := 0
	for _, tok := range strings.Fields(text) {
		if i, ok := x.vocabulary[tok]; ok {
			tf[i]++
			total++
		}
	}
	if total == 0 {
		return nil
	}
	vec := make(sparse, len(tf))
	norm := 0.0
	for i, count := range tf {
		w := float64(count) / float64(total) * x.idf[i]
		vec[i] = w
		norm += w * w
	}
	// L2 normalize
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] /= norm + matcher.Epsilon
	}
	return vec
}

func dot(a, b sparse) float64 {
	if len(b) < len(a) {
		a, b = b, a
	}
	s := 0.0
	for i, w := range a {
		s += w * b[i]
	}
	if s > 1 {
		return 1
	}
	return s
}
