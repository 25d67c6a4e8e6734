package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	goopenai "github.com/sashabaranov/go-openai"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	maxRetryAfter  = 30 * time.Second
)

// Client is an OpenAI-compatible embeddings client implementing the Embedder
// interface. It also serves Ollama and vLLM through their /v1 endpoints.
type Client struct {
	api        *goopenai.Client
	model      string
	dimensions int
	maxRetries int

	mu      sync.Mutex
	learned int
}

// Config configures the OpenAI-compatible embeddings client.
type Config struct {
	BaseURL    string
	APIKeyEnv  string
	Model      string
	Timeout    time.Duration
	Dimensions int
	MaxRetries int
}

// NewClient creates a new embeddings client using the provided configuration.
// An API key is required only for the default OpenAI endpoint.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	key := ""
	if cfg.APIKeyEnv != "" {
		key = os.Getenv(cfg.APIKeyEnv)
	}
	if key == "" && cfg.BaseURL == defaultBaseURL {
		return nil, fmt.Errorf("missing API key in env %s", cfg.APIKeyEnv)
	}

	oc := goopenai.DefaultConfig(key)
	oc.BaseURL = cfg.BaseURL
	oc.HTTPClient = &http.Client{Timeout: cfg.Timeout, Transport: hintTransport{base: http.DefaultTransport}}
	return &Client{
		api:        goopenai.NewClientWithConfig(oc),
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		maxRetries: cfg.MaxRetries,
	}, nil
}

// Name returns the identifier of this embedder implementation.
func (c *Client) Name() string { return "openai" }

func (c *Client) Model() string { return c.model }

// Dimension returns the requested dimension, or the one observed in the
// first response, or 0 before any call.
func (c *Client) Dimension() int {
	if c.dimensions > 0 {
		return c.dimensions
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.learned
}

// Embed sends all texts in one request and returns vectors in input order.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	req := goopenai.EmbeddingRequest{
		Input:      texts,
		Model:      goopenai.EmbeddingModel(c.model),
		Dimensions: c.dimensions,
	}
	for attempt := 0; ; attempt++ {
		hint := &retryHint{}
		resp, err := c.api.CreateEmbeddings(context.WithValue(ctx, retryHintKey{}, hint), req)
		if err == nil {
			return c.collect(resp, len(texts))
		}
		if attempt >= c.maxRetries || !retryable(ctx, err) {
			return nil, fmt.Errorf("openai embeddings: %w", err)
		}
		delay := retryDelay(attempt)
		if hint.after > 0 {
			delay = hint.after
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("openai embeddings: %w", ctx.Err())
		case <-time.After(delay):
		}
	}
}

func (c *Client) collect(resp goopenai.EmbeddingResponse, n int) ([][]float32, error) {
	if len(resp.Data) != n {
		return nil, fmt.Errorf("openai embeddings: got %d embeddings for %d inputs", len(resp.Data), n)
	}
	out := make([][]float32, n)
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= n {
			return nil, fmt.Errorf("openai embeddings: index %d out of range", d.Index)
		}
		if out[d.Index] != nil {
			return nil, fmt.Errorf("openai embeddings: duplicate index %d", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	c.mu.Lock()
	if c.learned == 0 && len(out[0]) > 0 {
		c.learned = len(out[0])
	}
	c.mu.Unlock()
	return out, nil
}

// retryable reports whether a failed call may succeed on retry: rate limits,
// server errors and transport failures. Caller cancellation never retries.
func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		return retryableStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) {
		return retryableStatus(reqErr.HTTPStatusCode)
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

func retryDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	base := 200 * time.Millisecond
	// exponential backoff capped at 5s
	d := base << attempt
	if d > 5*time.Second {
		d = 5 * time.Second
	}
	return d
}

type retryHintKey struct{}

// retryHint receives the Retry-After of the last response of one attempt.
type retryHint struct {
	after time.Duration
}

// hintTransport copies Retry-After into the retryHint carried by the
// request context. The API error returned by the client has no headers.
type hintTransport struct {
	base http.RoundTripper
}

func (t hintTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return resp, err
	}
	if hint, ok := req.Context().Value(retryHintKey{}).(*retryHint); ok {
		hint.after = parseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
	}
	return resp, nil
}

// parseRetryAfter accepts delta-seconds or an HTTP date and returns 0 when
// the header is absent or unusable. The result is capped at maxRetryAfter.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	var d time.Duration
	if secs, err := strconv.Atoi(v); err == nil {
		d = time.Duration(secs) * time.Second
	} else if at, err := http.ParseTime(v); err == nil {
		d = at.Sub(now)
	}
	if d <= 0 {
		return 0
	}
	return min(d, maxRetryAfter)
}
