package config

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"askarc/internal/logging"
)

// Validate checks the configuration for required fields and valid values.
// Returns an error with a descriptive field path on failure.
func (c *AppConfig) Validate() error {
	var errs []error

	switch c.Embedder.Type {
	case "openai":
		if c.Embedder.OpenAI.Model == "" {
			errs = append(errs, fmt.Errorf("embedder.openai.model is required"))
		}
		if c.Embedder.OpenAI.Dimensions < 0 {
			errs = append(errs, fmt.Errorf("embedder.openai.dimensions must be >= 0, got %d", c.Embedder.OpenAI.Dimensions))
		}
	case "hashing":
		if c.Embedder.Hashing.Dimension <= 0 {
			errs = append(errs, fmt.Errorf("embedder.hashing.dimension must be > 0, got %d", c.Embedder.Hashing.Dimension))
		}
	case "none":
		if c.Matcher.Type != "tfidf" {
			errs = append(errs, fmt.Errorf("embedder.type \"none\" requires matcher.type \"tfidf\", got %q", c.Matcher.Type))
		}
	default:
		errs = append(errs, fmt.Errorf("embedder.type must be \"openai\", \"hashing\" or \"none\", got %q", c.Embedder.Type))
	}
	if c.Embedder.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("embedder.batch_size must be > 0, got %d", c.Embedder.BatchSize))
	}
	if c.Embedder.Concurrency <= 0 {
		errs = append(errs, fmt.Errorf("embedder.concurrency must be > 0, got %d", c.Embedder.Concurrency))
	}
	if c.Embedder.CacheSize < 0 {
		errs = append(errs, fmt.Errorf("embedder.cache_size must be >= 0, got %d", c.Embedder.CacheSize))
	}

	if strings.ContainsAny(c.Normalizer.Preserve, "- \t") {
		errs = append(errs, fmt.Errorf("normalizer.preserve must not contain hyphen or whitespace"))
	}

	switch c.Matcher.Type {
	case "dense", "tfidf":
	case "qdrant":
		if c.Matcher.Qdrant.URL == "" {
			errs = append(errs, fmt.Errorf("matcher.qdrant.url is required when matcher.type is \"qdrant\""))
		}
	default:
		errs = append(errs, fmt.Errorf("matcher.type must be \"dense\", \"tfidf\" or \"qdrant\", got %q", c.Matcher.Type))
	}

	if c.Corpus.Source == "" {
		errs = append(errs, fmt.Errorf("corpus.source is required"))
	}

	t := c.Retrieval.Threshold
	if math.IsNaN(t) || t < -1 || t > 1 {
		errs = append(errs, fmt.Errorf("retrieval.threshold must be within [-1, 1], got %v", t))
	}
	if c.Retrieval.TopK <= 0 {
		errs = append(errs, fmt.Errorf("retrieval.top_k must be > 0, got %d", c.Retrieval.TopK))
	}
	if c.Retrieval.TimeoutSecs <= 0 {
		errs = append(errs, fmt.Errorf("retrieval.timeout_secs must be > 0, got %d", c.Retrieval.TimeoutSecs))
	}

	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level must be debug, info, warn or error: %w", err))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be \"text\" or \"json\", got %q", c.Log.Format))
	}

	return errors.Join(errs...)
}
