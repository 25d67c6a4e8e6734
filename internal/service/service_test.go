package service

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"askarc/internal/corpus"
	"askarc/internal/corpus/jsonfile"
	"askarc/internal/domain"
	"askarc/internal/embedding"
	"askarc/internal/embedding/hashing"
	"askarc/internal/logging"
	"askarc/internal/matcher"
	"askarc/internal/matcher/dense"
	"askarc/internal/matcher/tfidf"
	"askarc/internal/normalize"
)

const arcCorpus = `[
  {"question": "What is ARC-3?", "answer": "ARC-3 defines conventions for Algorand Standard Asset metadata."},
  {"question": "What is the purpose of ARC-0000?", "answer": "ARC-0 describes the ARC process itself."},
  {"question": "How do I opt in to an asset?", "answer": "Send a zero-amount asset transfer to yourself."}
]`

func writeSource(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "qa_pairs.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}
	return path
}

func newNormalizer(t *testing.T) *normalize.Normalizer {
	t.Helper()
	n, err := normalize.New(normalize.DefaultOptions())
	if err != nil {
		t.Fatalf("normalize.New: %v", err)
	}
	return n
}

func hashingVectorizer(t *testing.T) *embedding.Vectorizer {
	t.Helper()
	h, err := hashing.New(4096)
	if err != nil {
		t.Fatalf("hashing.New: %v", err)
	}
	return embedding.NewVectorizer(h, embedding.Options{})
}

func newService(t *testing.T, opts Options) *Service {
	t.Helper()
	if opts.Normalizer == nil {
		opts.Normalizer = newNormalizer(t)
	}
	if opts.Matcher == nil {
		opts.Matcher = dense.New()
	}
	if opts.Vectorizer == nil && opts.Matcher.RequiresVectors() {
		opts.Vectorizer = hashingVectorizer(t)
	}
	if opts.Threshold == 0 {
		opts.Threshold = 0.7
	}
	opts.Logger = logging.Discard()
	s, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestAskMatchesParaphrase(t *testing.T) {
	src := writeSource(t, t.TempDir(), arcCorpus)
	s := newService(t, Options{SourcePath: src})
	if err := s.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}

	ans, err := s.Ask(context.Background(), "what does arc 3 define", domain.QueryOptions{})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if ans.Canonical != "arc 3 define" {
		t.Errorf("canonical = %q", ans.Canonical)
	}
	top := ans.Top()
	if top.NoMatch || top.EntryID != 0 || top.Question != "What is ARC-3?" {
		t.Fatalf("top = %+v", top)
	}
	// "arc 3" against "arc 3 define": 2 / (sqrt(2) * sqrt(3))
	want := 2 / math.Sqrt(6)
	if math.Abs(top.Score-want) > 1e-5 {
		t.Errorf("score = %v, want ~%v", top.Score, want)
	}
}

func TestAskNoMatchIsNotAnError(t *testing.T) {
	src := writeSource(t, t.TempDir(), arcCorpus)
	s := newService(t, Options{SourcePath: src})
	if err := s.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}

	res, err := s.Answer(context.Background(), "What is the capital of France?")
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if !res.NoMatch || res.EntryID != -1 || res.Answer != "" {
		t.Fatalf("result = %+v, want no-match sentinel", res)
	}
	if res.Score >= 0.7 {
		t.Errorf("best score %v should be under the threshold", res.Score)
	}
}

func TestThresholdIsInclusive(t *testing.T) {
	src := writeSource(t, t.TempDir(), arcCorpus)
	s := newService(t, Options{SourcePath: src})
	if err := s.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	ctx := context.Background()
	const query = "what does arc 3 define"

	probe, err := s.Ask(ctx, query, domain.QueryOptions{})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	score := probe.BestScore

	at, err := s.Ask(ctx, query, domain.QueryOptions{Threshold: &score})
	if err != nil || !at.Found() {
		t.Fatalf("threshold == score: found = %v, err = %v", at.Found(), err)
	}
	above := math.Nextafter(score, 2)
	over, err := s.Ask(ctx, query, domain.QueryOptions{Threshold: &above})
	if err != nil || over.Found() {
		t.Fatalf("threshold just above score: found = %v, err = %v", over.Found(), err)
	}
	if over.BestScore != score {
		t.Errorf("best score changed with threshold: %v vs %v", over.BestScore, score)
	}
}

func TestAskTopKKeepsOrder(t *testing.T) {
	src := writeSource(t, t.TempDir(), arcCorpus)
	s := newService(t, Options{SourcePath: src, TopK: 3})
	if err := s.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	low := -1.0
	ans, err := s.Ask(context.Background(), "arc 3", domain.QueryOptions{Threshold: &low})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if len(ans.Matches) != 3 {
		t.Fatalf("matches = %d, want 3", len(ans.Matches))
	}
	for i := 1; i < len(ans.Matches); i++ {
		if ans.Matches[i].Score > ans.Matches[i-1].Score {
			t.Fatalf("matches not sorted: %+v", ans.Matches)
		}
	}
	if ans.Matches[0].EntryID != 0 || ans.Matches[0].Score < 0.999 {
		t.Errorf("exact question should score ~1: %+v", ans.Matches[0])
	}
}

func TestAskEmptyCorpus(t *testing.T) {
	s := newService(t, Options{SourcePath: writeSource(t, t.TempDir(), "[]")})
	if _, err := s.Ask(context.Background(), "anything", domain.QueryOptions{}); !errors.Is(err, domain.ErrEmptyCorpus) {
		t.Fatalf("before Open: err = %v, want ErrEmptyCorpus", err)
	}
	if err := s.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	_, err := s.Ask(context.Background(), "anything", domain.QueryOptions{})
	if !errors.Is(err, domain.ErrEmptyCorpus) || !domain.Unavailable(err) {
		t.Fatalf("after Open: err = %v, want ErrEmptyCorpus", err)
	}
}

// slowProvider wraps the hashing embedder and stalls once slow is set.
type slowProvider struct {
	*hashing.Embedder
	slow atomic.Bool
}

func (p *slowProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if p.slow.Load() {
		select {
		case <-time.After(time.Second):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return p.Embedder.Embed(ctx, texts)
}

func TestAskTimeout(t *testing.T) {
	h, err := hashing.New(64)
	if err != nil {
		t.Fatalf("hashing.New: %v", err)
	}
	p := &slowProvider{Embedder: h}
	s := newService(t, Options{
		SourcePath:   writeSource(t, t.TempDir(), arcCorpus),
		Vectorizer:   embedding.NewVectorizer(p, embedding.Options{}),
		QueryTimeout: 20 * time.Millisecond,
	})
	if err := s.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}

	p.slow.Store(true)
	_, err = s.Ask(context.Background(), "never embedded before", domain.QueryOptions{})
	if !errors.Is(err, domain.ErrProviderTimeout) {
		t.Fatalf("err = %v, want ErrProviderTimeout", err)
	}
}

func TestRebuildSwapsCorpus(t *testing.T) {
	dir := t.TempDir()
	src := writeSource(t, dir, arcCorpus)
	s := newService(t, Options{SourcePath: src})
	ctx := context.Background()
	if err := s.Open(ctx); err != nil {
		t.Fatalf("Open: %v", err)
	}

	writeSource(t, dir, `[{"question": "Who maintains ARC-69?", "answer": "The community."}]`)
	if err := s.Rebuild(ctx); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	if got := s.Stats().Entries; got != 1 {
		t.Fatalf("entries after rebuild = %d, want 1", got)
	}
	res, err := s.Answer(ctx, "who maintains arc 69")
	if err != nil || res.NoMatch || res.Answer != "The community." {
		t.Fatalf("Answer = %+v, %v", res, err)
	}

	if err := os.Remove(src); err != nil {
		t.Fatal(err)
	}
	if err := s.Rebuild(ctx); err == nil {
		t.Fatalf("Rebuild with missing source succeeded")
	}
	if got := s.Stats().Entries; got != 1 {
		t.Fatalf("failed rebuild replaced the corpus: entries = %d", got)
	}
}

// releasingMatcher wraps dense and records which prepared indexes were
// released.
type releasingMatcher struct {
	matcher.Matcher
	fail     bool
	prepared int
	released []int
}

type releasingIndex struct {
	matcher.Index
	gen int
	m   *releasingMatcher
}

func (x *releasingIndex) Release(context.Context) error {
	x.m.released = append(x.m.released, x.gen)
	return nil
}

func (m *releasingMatcher) Prepare(ctx context.Context, c *corpus.Corpus) (matcher.Index, error) {
	if m.fail {
		return nil, errors.New("upload failed")
	}
	idx, err := m.Matcher.Prepare(ctx, c)
	if err != nil {
		return nil, err
	}
	m.prepared++
	return &releasingIndex{Index: idx, gen: m.prepared, m: m}, nil
}

func TestRebuildReleasesReplacedIndex(t *testing.T) {
	m := &releasingMatcher{Matcher: dense.New()}
	s := newService(t, Options{SourcePath: writeSource(t, t.TempDir(), arcCorpus), Matcher: m})
	ctx := context.Background()
	if err := s.Open(ctx); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if len(m.released) != 0 {
		t.Fatalf("released %v before any rebuild", m.released)
	}
	if err := s.Rebuild(ctx); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	if len(m.released) != 1 || m.released[0] != 1 {
		t.Fatalf("released = %v, want [1]", m.released)
	}

	m.fail = true
	if err := s.Rebuild(ctx); err == nil {
		t.Fatalf("Rebuild with failing matcher succeeded")
	}
	if len(m.released) != 1 {
		t.Fatalf("failed rebuild released the active index: %v", m.released)
	}
	res, err := s.Answer(ctx, "what does arc 3 define")
	if err != nil || res.EntryID != 0 {
		t.Fatalf("Answer after failed rebuild = %+v, %v", res, err)
	}
}

// countingProvider counts texts passed to the hashing embedder.
type countingProvider struct {
	*hashing.Embedder
	texts atomic.Int64
}

func (p *countingProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	p.texts.Add(int64(len(texts)))
	return p.Embedder.Embed(ctx, texts)
}

func TestOpenReusesSnapshot(t *testing.T) {
	dir := t.TempDir()
	src := writeSource(t, dir, arcCorpus)
	store := jsonfile.NewStore(filepath.Join(dir, "qa_embeddings.json"))
	ctx := context.Background()

	first := newService(t, Options{SourcePath: src, Snapshot: store})
	if err := first.Open(ctx); err != nil {
		t.Fatalf("first Open: %v", err)
	}
	if first.Stats().Origin != "build" {
		t.Fatalf("first origin = %q", first.Stats().Origin)
	}

	h, _ := hashing.New(4096)
	p := &countingProvider{Embedder: h}
	second := newService(t, Options{SourcePath: src, Snapshot: store, Vectorizer: embedding.NewVectorizer(p, embedding.Options{})})
	if err := second.Open(ctx); err != nil {
		t.Fatalf("second Open: %v", err)
	}
	if second.Stats().Origin != "snapshot" || second.Stats().Entries != 3 {
		t.Fatalf("second stats = %+v", second.Stats())
	}
	if n := p.texts.Load(); n != 0 {
		t.Fatalf("snapshot load embedded %d texts", n)
	}

	// Editing the source invalidates the snapshot.
	writeSource(t, dir, `[{"question": "What is ARC-3?", "answer": "Updated."}]`)
	third := newService(t, Options{SourcePath: src, Snapshot: store})
	if err := third.Open(ctx); err != nil {
		t.Fatalf("third Open: %v", err)
	}
	if third.Stats().Origin != "build" || third.Stats().Entries != 1 {
		t.Fatalf("third stats = %+v", third.Stats())
	}
}

func TestSnapshotKeepsSkipCount(t *testing.T) {
	dir := t.TempDir()
	src := writeSource(t, dir, `[
  {"question": "What is ARC-3?", "answer": "ASA metadata."},
  {"question": "", "answer": "orphan"},
  {"question": "What is ARC-69?", "answer": ""}
]`)
	store := jsonfile.NewStore(filepath.Join(dir, "qa_embeddings.json"))
	ctx := context.Background()

	built := newService(t, Options{SourcePath: src, Snapshot: store})
	if err := built.Open(ctx); err != nil {
		t.Fatalf("Open: %v", err)
	}
	loaded := newService(t, Options{SourcePath: src, Snapshot: store})
	if err := loaded.Open(ctx); err != nil {
		t.Fatalf("Open from snapshot: %v", err)
	}
	if loaded.Stats().Origin != "snapshot" || loaded.Stats().Skipped != 2 || built.Stats().Skipped != 2 {
		t.Fatalf("built %+v, loaded %+v", built.Stats(), loaded.Stats())
	}
}

type failingStore struct{}

func (failingStore) Path() string { return "/unwritable/snapshot.json" }

func (failingStore) Write(context.Context, *corpus.Snapshot) error {
	return errors.New("disk full")
}

func (failingStore) Read(context.Context) (*corpus.Snapshot, error) {
	return nil, domain.ErrSnapshotNotFound
}

func TestPersistFailureIsNotFatal(t *testing.T) {
	s := newService(t, Options{SourcePath: writeSource(t, t.TempDir(), arcCorpus), Snapshot: failingStore{}})
	if err := s.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if s.Stats().Entries != 3 {
		t.Fatalf("entries = %d", s.Stats().Entries)
	}
}

func TestLexicalMode(t *testing.T) {
	s := newService(t, Options{SourcePath: writeSource(t, t.TempDir(), arcCorpus), Matcher: tfidf.New(), Threshold: 0.3})
	if err := s.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	st := s.Stats()
	if st.Model != corpus.LexicalModel || st.Dimension != 0 {
		t.Fatalf("stats = %+v", st)
	}
	res, err := s.Answer(context.Background(), "how to opt in to an asset")
	if err != nil || res.NoMatch || res.EntryID != 2 {
		t.Fatalf("Answer = %+v, %v", res, err)
	}
}

func TestNewRequiresVectorizerForDense(t *testing.T) {
	_, err := New(Options{Normalizer: newNormalizer(t), Matcher: dense.New()})
	if err == nil {
		t.Fatalf("New without vectorizer succeeded")
	}
}
