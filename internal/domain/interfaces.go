package domain

import "context"

// Record is a single question/answer pair read from the corpus source.
type Record struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// KnowledgeEntry is one retrievable question/answer pair with its canonical
// form and question vector. Entries are immutable once built.
type KnowledgeEntry struct {
	ID                int       `json:"id"`
	OriginalQuestion  string    `json:"original_question"`
	OriginalAnswer    string    `json:"original_answer"`
	CanonicalQuestion string    `json:"canonical_question"`
	QuestionVector    []float32 `json:"question_vector"`
}

// QueryResult is the outcome of a single retrieval. When NoMatch is set the
// entry fields are empty and Score holds the best score that failed the
// threshold.
type QueryResult struct {
	EntryID  int     `json:"entry_id"`
	Question string  `json:"matched_question"`
	Answer   string  `json:"matched_answer"`
	Score    float64 `json:"score"`
	NoMatch  bool    `json:"no_match,omitempty"`
}

// NoMatch builds the sentinel result for a query where nothing cleared the
// confidence threshold.
func NoMatch(bestScore float64) QueryResult {
	return QueryResult{EntryID: -1, Score: bestScore, NoMatch: true}
}

// Answer is the full response of the retrieval facade for one query.
type Answer struct {
	Query     string        `json:"query"`
	Canonical string        `json:"canonical"`
	Threshold float64       `json:"threshold"`
	BestScore float64       `json:"best_score"`
	Matches   []QueryResult `json:"matches"`
}

// Found reports whether at least one entry cleared the threshold.
func (a Answer) Found() bool { return len(a.Matches) > 0 }

// Top returns the best match or the no-match sentinel.
func (a Answer) Top() QueryResult {
	if len(a.Matches) == 0 {
		return NoMatch(a.BestScore)
	}
	return a.Matches[0]
}

// QueryOptions overrides retrieval policy for a single request. Nil/zero
// fields fall back to the configured defaults.
type QueryOptions struct {
	TopK      int
	Threshold *float64
}

// Normalizer turns free text into its canonical token string.
type Normalizer interface {
	Normalize(text string) string
	Fingerprint() string
}

// Embedder converts a batch of texts into vectors of one fixed dimension.
type Embedder interface {
	Name() string
	Model() string
	// Dimension returns the output dimension, or 0 while it is unknown.
	Dimension() int
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// RetrievalService defines the operations exposed by the application core.
type RetrievalService interface {
	Ask(ctx context.Context, query string, opts QueryOptions) (Answer, error)
	Answer(ctx context.Context, query string) (QueryResult, error)
	Rebuild(ctx context.Context) error
}
