package dense

import (
	"context"
	"errors"
	"math"
	"testing"

	"askarc/internal/corpus"
	"askarc/internal/domain"
	"askarc/internal/matcher"
)

func prepare(t *testing.T, vecs ...[]float32) matcher.Index {
	t.Helper()
	c := &corpus.Corpus{Dimension: 2}
	for i, v := range vecs {
		c.Entries = append(c.Entries, domain.KnowledgeEntry{ID: i * 10, QuestionVector: v})
	}
	idx, err := New().Prepare(context.Background(), c)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	return idx
}

func TestSelfMatchScoresOne(t *testing.T) {
	idx := prepare(t, []float32{0.6, 0.8}, []float32{1, 0}, []float32{0, 1})
	got, err := idx.Search(context.Background(), matcher.Query{Vector: []float32{1, 0}}, 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if got[0].Entry.ID != 10 || math.Abs(got[0].Score-1) > 1e-9 {
		t.Fatalf("got %+v, want id 10 with score 1", got[0])
	}
}

func TestTiesResolveToFirstIngested(t *testing.T) {
	idx := prepare(t, []float32{0, 1}, []float32{1, 0}, []float32{1, 0}, []float32{1, 0})
	got, err := idx.Search(context.Background(), matcher.Query{Vector: []float32{1, 0}}, 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if got[0].Entry.ID != 10 {
		t.Fatalf("tie resolved to id %d, want 10", got[0].Entry.ID)
	}
	all, _ := idx.Search(context.Background(), matcher.Query{Vector: []float32{1, 0}}, 4)
	for i, id := range []int{10, 20, 30, 0} {
		if all[i].Entry.ID != id {
			t.Fatalf("position %d = %d, want %d", i, all[i].Entry.ID, id)
		}
	}
}

func TestZeroQueryVector(t *testing.T) {
	idx := prepare(t, []float32{1, 0}, []float32{0, 1})
	got, err := idx.Search(context.Background(), matcher.Query{Vector: []float32{0, 0}}, 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if got[0].Score != 0 || got[0].Entry.ID != 0 {
		t.Fatalf("got %+v, want score 0 at id 0", got[0])
	}
}

func TestEmptyCorpus(t *testing.T) {
	idx, err := New().Prepare(context.Background(), &corpus.Corpus{Dimension: 2})
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if _, err := idx.Search(context.Background(), matcher.Query{Vector: []float32{1, 0}}, 1); !errors.Is(err, domain.ErrEmptyCorpus) {
		t.Fatalf("err = %v, want ErrEmptyCorpus", err)
	}
}

func TestDimensionMismatch(t *testing.T) {
	idx := prepare(t, []float32{1, 0})
	if _, err := idx.Search(context.Background(), matcher.Query{Vector: []float32{1, 0, 0}}, 1); !errors.Is(err, domain.ErrProvider) {
		t.Fatalf("err = %v, want ErrProvider", err)
	}
	c := &corpus.Corpus{Dimension: 2, Entries: []domain.KnowledgeEntry{{ID: 0, QuestionVector: []float32{1}}}}
	if _, err := New().Prepare(context.Background(), c); err == nil {
		t.Fatalf("Prepare accepted a ragged corpus")
	}
}
