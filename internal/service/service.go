package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"askarc/internal/corpus"
	"askarc/internal/domain"
	"askarc/internal/matcher"
	"askarc/internal/observability"
)

// Options wires the retrieval pipeline. Vectorizer may be nil only when the
// matcher does not require vectors; Snapshot may be nil to disable
// persistence.
type Options struct {
	SourcePath   string
	Snapshot     corpus.SnapshotStore
	Normalizer   domain.Normalizer
	Vectorizer   corpus.Vectorizer
	Matcher      matcher.Matcher
	Threshold    float64
	TopK         int
	QueryTimeout time.Duration
	Logger       *slog.Logger
}

// Service is the retrieval facade. Queries read the active corpus and index
// through one atomic load; rebuilds construct a replacement off to the side
// and swap it in, so a query never observes a half-built corpus.
type Service struct {
	opts   Options
	logger *slog.Logger

	state     atomic.Pointer[state]
	rebuildMu sync.Mutex
}

type state struct {
	corpus   *corpus.Corpus
	index    matcher.Index
	origin   string
	loadedAt time.Time
}

// Stats describes the active corpus.
type Stats struct {
	Entries    int       `json:"entries"`
	Dimension  int       `json:"dimension"`
	Model      string    `json:"model"`
	Normalizer string    `json:"normalizer"`
	Matcher    string    `json:"matcher"`
	Source     string    `json:"source"`
	Snapshot   string    `json:"snapshot,omitempty"`
	Origin     string    `json:"origin,omitempty"`
	Skipped    int       `json:"skipped"`
	LoadedAt   time.Time `json:"loaded_at,omitempty"`
}

var _ domain.RetrievalService = (*Service)(nil)

func New(opts Options) (*Service, error) {
	if opts.Normalizer == nil {
		return nil, errors.New("service: normalizer is required")
	}
	if opts.Matcher == nil {
		return nil, errors.New("service: matcher is required")
	}
	if opts.Matcher.RequiresVectors() && opts.Vectorizer == nil {
		return nil, fmt.Errorf("service: matcher %s requires an embedder", opts.Matcher.Name())
	}
	if opts.TopK <= 0 {
		opts.TopK = 1
	}
	if opts.QueryTimeout <= 0 {
		opts.QueryTimeout = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Service{opts: opts, logger: opts.Logger}, nil
}

// vectorizer returns nil for lexical matchers so the corpus is built
// without calling a provider.
func (s *Service) vectorizer() corpus.Vectorizer {
	if !s.opts.Matcher.RequiresVectors() {
		return nil
	}
	return s.opts.Vectorizer
}

// Open activates a corpus: the snapshot when it matches the live source and
// configuration, otherwise a fresh build that is then persisted.
func (s *Service) Open(ctx context.Context) error {
	s.rebuildMu.Lock()
	defer s.rebuildMu.Unlock()

	src, err := corpus.LoadRecords(s.opts.SourcePath)
	if err != nil {
		return err
	}
	if s.opts.Snapshot != nil {
		want, err := s.expectation(ctx, src)
		if err != nil {
			return err
		}
		c, err := corpus.Load(ctx, s.opts.Snapshot, want)
		switch {
		case err == nil:
			err = s.activate(ctx, c, "snapshot")
			if err == nil {
				s.logger.Info("corpus loaded from snapshot", "path", s.opts.Snapshot.Path(), "entries", c.Len())
				return nil
			}
			s.logger.Warn("snapshot corpus rejected by matcher, rebuilding", "error", err)
		case errors.Is(err, domain.ErrSnapshotNotFound):
			s.logger.Info("no snapshot, building corpus", "path", s.opts.Snapshot.Path())
		default:
			s.logger.Warn("snapshot unusable, rebuilding", "error", err)
		}
	}
	return s.rebuild(ctx, src)
}

// Rebuild re-reads the source, rebuilds the corpus and index, persists the
// snapshot and swaps the new state in. On failure the previous state stays
// active.
func (s *Service) Rebuild(ctx context.Context) error {
	s.rebuildMu.Lock()
	defer s.rebuildMu.Unlock()

	src, err := corpus.LoadRecords(s.opts.SourcePath)
	if err != nil {
		return err
	}
	return s.rebuild(ctx, src)
}

func (s *Service) rebuild(ctx context.Context, src corpus.Source) error {
	c, _, err := corpus.Build(ctx, src, s.opts.Normalizer, s.vectorizer(), s.logger)
	if err != nil {
		observability.CorpusRebuildsTotal.WithLabelValues("build", "error").Inc()
		return err
	}
	if err := s.activate(ctx, c, "build"); err != nil {
		observability.CorpusRebuildsTotal.WithLabelValues("build", "error").Inc()
		return err
	}
	if s.opts.Snapshot != nil {
		if err := corpus.Persist(ctx, s.opts.Snapshot, c); err != nil {
			s.logger.Warn("snapshot not saved", "error", err)
		} else {
			s.logger.Info("snapshot saved", "path", s.opts.Snapshot.Path(), "entries", c.Len())
		}
	}
	return nil
}

func (s *Service) activate(ctx context.Context, c *corpus.Corpus, origin string) error {
	idx, err := s.opts.Matcher.Prepare(ctx, c)
	if err != nil {
		return fmt.Errorf("prepare %s index: %w", s.opts.Matcher.Name(), err)
	}
	prev := s.state.Swap(&state{corpus: c, index: idx, origin: origin, loadedAt: time.Now()})
	observability.CorpusEntries.Set(float64(c.Len()))
	observability.CorpusRebuildsTotal.WithLabelValues(origin, "ok").Inc()
	if prev != nil {
		s.release(ctx, prev.index)
	}
	return nil
}

// release frees an index that is no longer active. Failures only leak the
// index's external resources, so they are logged.
func (s *Service) release(ctx context.Context, idx matcher.Index) {
	r, ok := idx.(matcher.Releaser)
	if !ok {
		return
	}
	if err := r.Release(ctx); err != nil {
		s.logger.Warn("previous index not released", "matcher", s.opts.Matcher.Name(), "error", err)
	}
}

func (s *Service) expectation(ctx context.Context, src corpus.Source) (corpus.Expectation, error) {
	want := corpus.Expectation{
		Model:        corpus.LexicalModel,
		Normalizer:   s.opts.Normalizer.Fingerprint(),
		SourceDigest: corpus.SourceDigest(src.Records),
	}
	if v := s.vectorizer(); v != nil {
		dim, err := v.Dimension(ctx)
		if err != nil {
			return want, err
		}
		want.Model = v.Model()
		want.Dimension = dim
	}
	return want, nil
}

// Ask normalizes and embeds the query, searches the active index and keeps
// matches scoring at or above the threshold. A query with nothing above the
// threshold is a valid answer with no matches, not an error.
func (s *Service) Ask(ctx context.Context, query string, opts domain.QueryOptions) (domain.Answer, error) {
	mname := s.opts.Matcher.Name()
	ans, err := s.ask(ctx, query, opts)
	switch {
	case err != nil:
		observability.AnswersTotal.WithLabelValues(mname, "error").Inc()
	case ans.Found():
		observability.AnswersTotal.WithLabelValues(mname, "match").Inc()
		observability.BestScore.Observe(ans.BestScore)
	default:
		observability.AnswersTotal.WithLabelValues(mname, "no_match").Inc()
		observability.BestScore.Observe(ans.BestScore)
	}
	return ans, err
}

func (s *Service) ask(ctx context.Context, query string, opts domain.QueryOptions) (domain.Answer, error) {
	threshold := s.opts.Threshold
	if opts.Threshold != nil {
		threshold = *opts.Threshold
	}
	k := s.opts.TopK
	if opts.TopK > 0 {
		k = opts.TopK
	}
	ans := domain.Answer{Query: query, Threshold: threshold}

	st := s.state.Load()
	if st == nil || st.corpus.Len() == 0 {
		return ans, domain.ErrEmptyCorpus
	}
	ans.Canonical = s.opts.Normalizer.Normalize(query)

	ctx, cancel := context.WithTimeout(ctx, s.opts.QueryTimeout)
	defer cancel()

	q := matcher.Query{Canonical: ans.Canonical}
	if s.opts.Matcher.RequiresVectors() {
		vecs, err := s.opts.Vectorizer.Embed(ctx, []string{ans.Canonical})
		if err != nil {
			return ans, err
		}
		q.Vector = vecs[0]
	}
	matches, err := st.index.Search(ctx, q, k)
	if err != nil {
		return ans, searchError(err)
	}

	ans.BestScore = matches[0].Score
	for _, m := range matches {
		if m.Score < threshold {
			break
		}
		ans.Matches = append(ans.Matches, domain.QueryResult{
			EntryID:  m.Entry.ID,
			Question: m.Entry.OriginalQuestion,
			Answer:   m.Entry.OriginalAnswer,
			Score:    m.Score,
		})
	}
	s.logger.Debug("query answered", "canonical", ans.Canonical, "best_score", ans.BestScore, "matches", len(ans.Matches))
	return ans, nil
}

func searchError(err error) error {
	switch {
	case errors.Is(err, domain.ErrEmptyCorpus), errors.Is(err, domain.ErrProvider),
		errors.Is(err, domain.ErrProviderTimeout), errors.Is(err, domain.ErrBackend):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: search: %w", domain.ErrProviderTimeout, err)
	}
	return fmt.Errorf("%w: %w", domain.ErrBackend, err)
}

// Answer is the single-best form of Ask: the top match or the no-match
// sentinel.
func (s *Service) Answer(ctx context.Context, query string) (domain.QueryResult, error) {
	ans, err := s.Ask(ctx, query, domain.QueryOptions{TopK: 1})
	if err != nil {
		return domain.QueryResult{}, err
	}
	return ans.Top(), nil
}

// Stats reports on the active corpus; Entries is 0 before Open succeeds.
func (s *Service) Stats() Stats {
	st := Stats{Matcher: s.opts.Matcher.Name(), Source: s.opts.SourcePath}
	if s.opts.Snapshot != nil {
		st.Snapshot = s.opts.Snapshot.Path()
	}
	cur := s.state.Load()
	if cur == nil {
		return st
	}
	st.Entries = cur.corpus.Len()
	st.Dimension = cur.corpus.Dimension
	st.Model = cur.corpus.Model
	st.Normalizer = cur.corpus.Normalizer
	st.Origin = cur.origin
	st.Skipped = cur.corpus.Skipped
	st.LoadedAt = cur.loadedAt
	return st
}

// Threshold returns the configured default threshold.
func (s *Service) Threshold() float64 { return s.opts.Threshold }
