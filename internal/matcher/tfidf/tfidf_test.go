package tfidf

import (
	"context"
	"errors"
	"math"
	"testing"

	"askarc/internal/corpus"
	"askarc/internal/domain"
	"askarc/internal/matcher"
)

func prepare(t *testing.T, canon ...string) matcher.Index {
	t.Helper()
	c := &corpus.Corpus{}
	for i, q := range canon {
		c.Entries = append(c.Entries, domain.KnowledgeEntry{ID: i, CanonicalQuestion: q})
	}
	idx, err := New().Prepare(context.Background(), c)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	return idx
}

func TestSearchPrefersSharedRareTerms(t *testing.T) {
	idx := prepare(t,
		"purpose arc 0 algorand ecosystem",
		"arc 3 specify algorand standard asset",
		"arc 69 metadata note field",
	)
	got, err := idx.Search(context.Background(), matcher.Query{Canonical: "arc 3 define"}, 3)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if got[0].Entry.ID != 1 {
		t.Fatalf("best = %d, want 1", got[0].Entry.ID)
	}
	for i := 1; i < len(got); i++ {
		if matcher.Less(got[i], got[i-1]) {
			t.Fatalf("results not ordered: %+v", got)
		}
	}
}

func TestSelfMatch(t *testing.T) {
	idx := prepare(t, "arc 19 template ipfs", "arc 3 asset")
	got, _ := idx.Search(context.Background(), matcher.Query{Canonical: "arc 19 template ipfs"}, 1)
	if got[0].Entry.ID != 0 || math.Abs(got[0].Score-1) > 1e-9 {
		t.Fatalf("got %+v", got[0])
	}
}

func TestUnknownTermsScoreZero(t *testing.T) {
	idx := prepare(t, "arc 3 asset", "arc 69 metadata")
	got, _ := idx.Search(context.Background(), matcher.Query{Canonical: "capital france"}, 1)
	if got[0].Score != 0 || got[0].Entry.ID != 0 {
		t.Fatalf("got %+v, want score 0 at lowest id", got[0])
	}
	got, _ = idx.Search(context.Background(), matcher.Query{Canonical: ""}, 1)
	if got[0].Score != 0 {
		t.Fatalf("empty query scored %v", got[0].Score)
	}
}

func TestEmptyCorpus(t *testing.T) {
	idx := prepare(t)
	if _, err := idx.Search(context.Background(), matcher.Query{Canonical: "arc"}, 1); !errors.Is(err, domain.ErrEmptyCorpus) {
		t.Fatalf("err = %v, want ErrEmptyCorpus", err)
	}
}
