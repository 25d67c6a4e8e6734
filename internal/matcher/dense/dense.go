// Package dense is the default matcher: exact cosine similarity by linear
// scan over the corpus vectors.
package dense

import (
	"context"
	"fmt"

	"askarc/internal/corpus"
	"askarc/internal/domain"
	"askarc/internal/matcher"
)

type Matcher struct{}

func New() *Matcher { return &Matcher{} }

func (*Matcher) Name() string          { return "dense" }
func (*Matcher) RequiresVectors() bool { return true }

// Prepare precomputes entry norms. The corpus is shared, not copied.
func (*Matcher) Prepare(_ context.Context, c *corpus.Corpus) (matcher.Index, error) {
	idx := &Index{dimension: c.Dimension, entries: c.Entries, norms: make([]float64, len(c.Entries))}
	for i, e := range c.Entries {
		if len(e.QuestionVector) != c.Dimension {
			return nil, fmt.Errorf("dense: entry %d has dimension %d, want %d", e.ID, len(e.QuestionVector), c.Dimension)
		}
		idx.norms[i] = matcher.Norm(e.QuestionVector)
	}
	return idx, nil
}

// Index is a prepared dense index. It is read-only and safe for concurrent
// searches.
type Index struct {
	dimension int
	entries   []domain.KnowledgeEntry
	norms     []float64
}

func (x *Index) Len() int { return len(x.entries) }

func (x *Index) Search(ctx context.Context, q matcher.Query, k int) ([]matcher.Match, error) {
	if len(x.entries) == 0 {
		return nil, domain.ErrEmptyCorpus
	}
	if len(q.Vector) != x.dimension {
		return nil, fmt.Errorf("%w: query dimension %d, corpus dimension %d", domain.ErrProvider, len(q.Vector), x.dimension)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	qn := matcher.Norm(q.Vector)
	scores := make([]float64, len(x.entries))
	for i := range x.entries {
		scores[i] = matcher.CosineFromParts(matcher.Dot(q.Vector, x.entries[i].QuestionVector), qn, x.norms[i])
	}
	return matcher.Top(x.entries, scores, k), nil
}
