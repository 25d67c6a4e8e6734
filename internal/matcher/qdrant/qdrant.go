// Package qdrant is a matcher backed by Qdrant collections, reached over
// its REST API. Each corpus is uploaded on Prepare and searched remotely;
// results are re-ordered locally so ties resolve like the other matchers.
package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"askarc/internal/corpus"
	"askarc/internal/domain"
	"askarc/internal/matcher"
)

const (
	upsertBatch = 256
	// tieSlack extra candidates are fetched so equal scores at the cut-off
	// can be re-ordered by id.
	tieSlack = 8
)

type Config struct {
	URL        string
	APIKey     string
	Collection string
	Timeout    time.Duration
}

// Matcher uploads each prepared corpus to its own collection, named after
// the configured base plus a random generation suffix. An Index only ever
// searches the collection it uploaded, and Release drops it once a newer
// index has taken over.
type Matcher struct {
	url        string
	apiKey     string
	collection string
	client     *http.Client
}

func New(cfg Config) *Matcher {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	if cfg.Collection == "" {
		cfg.Collection = "askarc"
	}
	return &Matcher{
		url:        strings.TrimRight(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
		collection: cfg.Collection,
		client:     &http.Client{Timeout: timeout},
	}
}

func (*Matcher) Name() string          { return "qdrant" }
func (*Matcher) RequiresVectors() bool { return true }

func (m *Matcher) Prepare(ctx context.Context, c *corpus.Corpus) (matcher.Index, error) {
	idx := &Index{m: m, dimension: c.Dimension, entries: c.Entries, byID: make(map[int]int, len(c.Entries))}
	for i, e := range c.Entries {
		idx.byID[e.ID] = i
	}
	if len(c.Entries) == 0 {
		return idx, nil
	}
	if c.Dimension <= 0 {
		return nil, fmt.Errorf("qdrant: invalid dimension %d", c.Dimension)
	}

	name := m.newCollectionName()
	if err := m.upload(ctx, name, c); err != nil {
		if derr := m.drop(context.WithoutCancel(ctx), name); derr != nil {
			err = errors.Join(err, derr)
		}
		return nil, err
	}
	idx.collection = name
	return idx, nil
}

func (m *Matcher) newCollectionName() string {
	return m.collection + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

func (m *Matcher) upload(ctx context.Context, name string, c *corpus.Corpus) error {
	body := map[string]any{
		"vectors": map[string]any{
			"size":     c.Dimension,
			"distance": "Cosine",
		},
	}
	if err := m.do(ctx, http.MethodPut, m.collectionURL(name, ""), body, nil); err != nil {
		return err
	}

	for start := 0; start < len(c.Entries); start += upsertBatch {
		end := min(start+upsertBatch, len(c.Entries))
		points := make([]map[string]any, 0, end-start)
		for _, e := range c.Entries[start:end] {
			points = append(points, map[string]any{
				"id":     uint64(e.ID),
				"vector": e.QuestionVector,
				"payload": map[string]any{
					"entry_id":           e.ID,
					"canonical_question": e.CanonicalQuestion,
				},
			})
		}
		if err := m.do(ctx, http.MethodPut, m.collectionURL(name, "/points?wait=true"), map[string]any{"points": points}, nil); err != nil {
			return err
		}
	}
	return nil
}

func (m *Matcher) drop(ctx context.Context, name string) error {
	if err := m.do(ctx, http.MethodDelete, m.collectionURL(name, ""), nil, nil); err != nil && !isNotFound(err) {
		return err
	}
	return nil
}

// Index searches the collection uploaded by one Prepare call.
type Index struct {
	m          *Matcher
	collection string
	dimension  int
	entries    []domain.KnowledgeEntry
	byID       map[int]int
}

func (x *Index) Len() int { return len(x.entries) }

// Collection returns the backing collection name, empty for an empty corpus.
func (x *Index) Collection() string { return x.collection }

// Release drops the backing collection.
func (x *Index) Release(ctx context.Context) error {
	if x.collection == "" {
		return nil
	}
	return x.m.drop(ctx, x.collection)
}

func (x *Index) Search(ctx context.Context, q matcher.Query, k int) ([]matcher.Match, error) {
	if len(x.entries) == 0 {
		return nil, domain.ErrEmptyCorpus
	}
	if len(q.Vector) != x.dimension {
		return nil, fmt.Errorf("%w: query dimension %d, corpus dimension %d", domain.ErrProvider, len(q.Vector), x.dimension)
	}
	if k <= 0 {
		k = 1
	}
	// Qdrant cannot score a zero vector; every cosine is 0 locally.
	if matcher.Norm(q.Vector) == 0 {
		return matcher.Top(x.entries, make([]float64, len(x.entries)), k), nil
	}

	req := map[string]any{
		"vector":       q.Vector,
		"limit":        min(k+tieSlack, len(x.entries)),
		"with_payload": false,
	}
	var resp struct {
		Result []struct {
			ID    uint64  `json:"id"`
			Score float64 `json:"score"`
		} `json:"result"`
	}
	if err := x.m.do(ctx, http.MethodPost, x.m.collectionURL(x.collection, "/points/search"), req, &resp); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrBackend, err)
	}
	out := make([]matcher.Match, 0, len(resp.Result))
	for _, r := range resp.Result {
		pos, ok := x.byID[int(r.ID)]
		if !ok {
			return nil, fmt.Errorf("%w: unknown point id %d in collection %s", domain.ErrBackend, r.ID, x.collection)
		}
		out = append(out, matcher.Match{Entry: x.entries[pos], Score: r.Score})
	}
	matcher.SortMatches(out)
	return out[:min(k, len(out))], nil
}

func (m *Matcher) collectionURL(name, suffix string) string {
	return fmt.Sprintf("%s/collections/%s%s", m.url, name, suffix)
}

type statusError struct {
	method, url string
	status      int
	body        string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("qdrant %s %s failed: %d %s", e.method, e.url, e.status, e.body)
}

func isNotFound(err error) bool {
	var se *statusError
	return errors.As(err, &se) && se.status == http.StatusNotFound
}

func (m *Matcher) do(ctx context.Context, method, url string, body any, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if m.apiKey != "" {
		req.Header.Set("api-key", m.apiKey)
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &statusError{method: method, url: url, status: resp.StatusCode, body: strings.TrimSpace(string(msg))}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
