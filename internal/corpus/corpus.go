// Package corpus builds, persists and reloads the ordered set of knowledge
// entries the matcher searches.
package corpus

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"log/slog"

	"askarc/internal/domain"
)

// Vectorizer is the part of embedding.Vectorizer the build needs.
type Vectorizer interface {
	Model() string
	Dimension(ctx context.Context) (int, error)
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// LexicalModel is recorded as the model of corpora built without vectors.
const LexicalModel = "none"

// Corpus is an ordered, read-only sequence of entries. All entry vectors
// share Dimension; a corpus built without a vectorizer has Dimension 0.
// Skipped counts the source records the build rejected.
type Corpus struct {
	Entries      []domain.KnowledgeEntry
	Dimension    int
	Model        string
	Normalizer   string
	SourceDigest string
	Skipped      int
}

func (c *Corpus) Len() int {
	if c == nil {
		return 0
	}
	return len(c.Entries)
}

// Report summarizes a build.
type Report struct {
	Ingested int    `json:"ingested"`
	Skipped  int    `json:"skipped"`
	Skips    []Skip `json:"skips,omitempty"`
}

// Build normalizes every valid record, embeds all canonical questions in a
// single Vectorizer call and assembles the corpus. Entry ids are source
// ordinals. A nil vectorizer builds a lexical-only corpus. Any embedding
// failure returns no corpus.
func Build(ctx context.Context, src Source, norm domain.Normalizer, vec Vectorizer, logger *slog.Logger) (*Corpus, Report, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var report Report
	malformed := make(map[int]string, len(src.Malformed))
	for _, s := range src.Malformed {
		malformed[s.Ordinal] = s.Reason
	}

	entries := make([]domain.KnowledgeEntry, 0, len(src.Records))
	for i, rec := range src.Records {
		reason, bad := malformed[i]
		if !bad {
			if err := validRecord(rec); err != nil {
				reason, bad = err.Error(), true
			}
		}
		if bad {
			logger.Warn("skipping corpus record", "ordinal", i, "reason", reason)
			report.Skips = append(report.Skips, Skip{Ordinal: i, Reason: reason})
			continue
		}
		entries = append(entries, domain.KnowledgeEntry{
			ID:                i,
			OriginalQuestion:  rec.Question,
			OriginalAnswer:    rec.Answer,
			CanonicalQuestion: norm.Normalize(rec.Question),
		})
	}
	report.Skipped = len(report.Skips)

	c := &Corpus{
		Model:        LexicalModel,
		Normalizer:   norm.Fingerprint(),
		SourceDigest: SourceDigest(src.Records),
		Skipped:      report.Skipped,
	}
	if vec != nil {
		dim, err := vec.Dimension(ctx)
		if err != nil {
			return nil, report, fmt.Errorf("build corpus: %w", err)
		}
		texts := make([]string, len(entries))
		for i := range entries {
			texts[i] = entries[i].CanonicalQuestion
		}
		vectors, err := vec.Embed(ctx, texts)
		if err != nil {
			return nil, report, fmt.Errorf("build corpus: %w", err)
		}
		for i := range entries {
			if len(vectors[i]) != dim {
				return nil, report, fmt.Errorf("build corpus: %w: entry %d has dimension %d, want %d",
					domain.ErrProvider, entries[i].ID, len(vectors[i]), dim)
			}
			entries[i].QuestionVector = vectors[i]
		}
		c.Model = vec.Model()
		c.Dimension = dim
	}
	c.Entries = entries
	report.Ingested = len(entries)
	logger.Info("corpus built", "entries", report.Ingested, "skipped", report.Skipped, "model", c.Model, "dimension", c.Dimension)
	return c, report, nil
}

// SourceDigest fingerprints the ordered source records. Any edit, insertion
// or reordering changes it.
func SourceDigest(records []domain.Record) string {
	h := sha256.New()
	var n [8]byte
	write := func(s string) {
		binary.LittleEndian.PutUint64(n[:], uint64(len(s)))
		h.Write(n[:])
		h.Write([]byte(s))
	}
	for _, r := range records {
		write(r.Question)
		write(r.Answer)
	}
	return hex.EncodeToString(h.Sum(nil))
}
