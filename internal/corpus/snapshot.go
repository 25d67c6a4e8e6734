package corpus

import (
	"context"
	"fmt"

	"askarc/internal/domain"
)

// SnapshotVersion is bumped whenever the persisted layout changes.
const SnapshotVersion = 2

// Snapshot is the persisted form of a corpus.
type Snapshot struct {
	Version      int                     `json:"version"`
	Model        string                  `json:"model"`
	Dimension    int                     `json:"dimension"`
	Normalizer   string                  `json:"normalizer"`
	SourceDigest string                  `json:"source_digest"`
	Skipped      int                     `json:"skipped"`
	Entries      []domain.KnowledgeEntry `json:"entries"`
}

// SnapshotStore reads and writes snapshots in one backend. Read returns an
// error wrapping domain.ErrSnapshotNotFound when nothing was persisted yet.
type SnapshotStore interface {
	Path() string
	Write(ctx context.Context, s *Snapshot) error
	Read(ctx context.Context) (*Snapshot, error)
}

// Expectation is the live configuration a snapshot must agree with.
type Expectation struct {
	Model        string
	Dimension    int
	Normalizer   string
	SourceDigest string
}

// Snapshot returns the persisted form of c.
func (c *Corpus) Snapshot() *Snapshot {
	return &Snapshot{
		Version:      SnapshotVersion,
		Model:        c.Model,
		Dimension:    c.Dimension,
		Normalizer:   c.Normalizer,
		SourceDigest: c.SourceDigest,
		Skipped:      c.Skipped,
		Entries:      c.Entries,
	}
}

// Persist writes c through store.
func Persist(ctx context.Context, store SnapshotStore, c *Corpus) error {
	if err := store.Write(ctx, c.Snapshot()); err != nil {
		return fmt.Errorf("persist snapshot %s: %w", store.Path(), err)
	}
	return nil
}

// Load reads a snapshot and returns it as a corpus only if it matches want.
// Any disagreement fails closed with domain.ErrStaleSnapshot.
func Load(ctx context.Context, store SnapshotStore, want Expectation) (*Corpus, error) {
	s, err := store.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("load snapshot %s: %w", store.Path(), err)
	}
	if err := s.Check(want); err != nil {
		return nil, fmt.Errorf("load snapshot %s: %w", store.Path(), err)
	}
	return &Corpus{
		Entries:      s.Entries,
		Dimension:    s.Dimension,
		Model:        s.Model,
		Normalizer:   s.Normalizer,
		SourceDigest: s.SourceDigest,
		Skipped:      s.Skipped,
	}, nil
}

// Check validates the snapshot's header against want and its entries
// against its own header.
func (s *Snapshot) Check(want Expectation) error {
	switch {
	case s.Version != SnapshotVersion:
		return stale("version %d, want %d", s.Version, SnapshotVersion)
	case s.Model != want.Model:
		return stale("model %q, want %q", s.Model, want.Model)
	case s.Dimension != want.Dimension:
		return stale("dimension %d, want %d", s.Dimension, want.Dimension)
	case s.Normalizer != want.Normalizer:
		return stale("normalizer %q, want %q", s.Normalizer, want.Normalizer)
	case s.SourceDigest != want.SourceDigest:
		return stale("source digest %.12s, want %.12s", s.SourceDigest, want.SourceDigest)
	}
	prev := -1
	for i, e := range s.Entries {
		if e.ID <= prev {
			return stale("entry %d has id %d after %d", i, e.ID, prev)
		}
		prev = e.ID
		if len(e.QuestionVector) != s.Dimension {
			return stale("entry %d has dimension %d, want %d", e.ID, len(e.QuestionVector), s.Dimension)
		}
	}
	return nil
}

func stale(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{domain.ErrStaleSnapshot}, args...)...)
}
