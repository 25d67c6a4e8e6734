package cli

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"askarc/internal/config"
	"askarc/internal/corpus"
	"askarc/internal/corpus/jsonfile"
	"askarc/internal/corpus/sqlite"
	"askarc/internal/embedding"
	"askarc/internal/embedding/hashing"
	"askarc/internal/embedding/openai"
	"askarc/internal/matcher"
	"askarc/internal/matcher/dense"
	"askarc/internal/matcher/qdrant"
	"askarc/internal/matcher/tfidf"
	"askarc/internal/normalize"
	"askarc/internal/service"
)

func newNormalizer(cfg config.NormalizerConfig) (*normalize.Normalizer, error) {
	return normalize.New(normalize.Options{
		StripStopwords:   cfg.StripStopwords,
		NormalizeNumbers: cfg.NormalizeNumbers,
		SplitHyphenated:  cfg.SplitHyphenated,
		Lemmatize:        cfg.Lemmatize,
		Preserve:         cfg.Preserve,
		Stopwords:        cfg.Stopwords,
	})
}

// newEmbedder returns nil for embedder type "none".
func newEmbedder(cfg config.EmbedderConfig) (embedding.Embedder, error) {
	switch cfg.Type {
	case "none":
		return nil, nil
	case "hashing":
		return hashing.New(cfg.Hashing.Dimension)
	case "openai":
		return openai.NewClient(openai.Config{
			BaseURL:    cfg.OpenAI.BaseURL,
			APIKeyEnv:  cfg.OpenAI.APIKeyEnv,
			Model:      cfg.OpenAI.Model,
			Timeout:    time.Duration(cfg.OpenAI.TimeoutSecs) * time.Second,
			Dimensions: cfg.OpenAI.Dimensions,
			MaxRetries: cfg.OpenAI.MaxRetries,
		})
	}
	return nil, fmt.Errorf("unknown embedder: %s", cfg.Type)
}

func newMatcher(cfg config.MatcherConfig) (matcher.Matcher, error) {
	switch cfg.Type {
	case "dense", "":
		return dense.New(), nil
	case "tfidf":
		return tfidf.New(), nil
	case "qdrant":
		return qdrant.New(qdrant.Config{
			URL:        cfg.Qdrant.URL,
			APIKey:     cfg.Qdrant.APIKey,
			Collection: cfg.Qdrant.Collection,
			Timeout:    time.Duration(cfg.Qdrant.TimeoutSecs) * time.Second,
		}), nil
	}
	return nil, fmt.Errorf("unknown matcher: %s", cfg.Type)
}

// newSnapshotStore picks SQLite for .db/.sqlite/.sqlite3 paths and indented
// JSON otherwise. An empty path disables snapshots.
func newSnapshotStore(path string) corpus.SnapshotStore {
	if path == "" {
		return nil
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".db", ".sqlite", ".sqlite3":
		return sqlite.NewStore(path)
	}
	return jsonfile.NewStore(path)
}

// newService assembles the retrieval pipeline from configuration.
func newService(cfg *config.AppConfig, logger *slog.Logger) (*service.Service, error) {
	norm, err := newNormalizer(cfg.Normalizer)
	if err != nil {
		return nil, err
	}
	emb, err := newEmbedder(cfg.Embedder)
	if err != nil {
		return nil, fmt.Errorf("embedder init failed: %w", err)
	}
	m, err := newMatcher(cfg.Matcher)
	if err != nil {
		return nil, err
	}

	opts := service.Options{
		SourcePath:   cfg.Corpus.Source,
		Snapshot:     newSnapshotStore(cfg.Corpus.Snapshot),
		Normalizer:   norm,
		Matcher:      m,
		Threshold:    cfg.Retrieval.Threshold,
		TopK:         cfg.Retrieval.TopK,
		QueryTimeout: cfg.QueryTimeout(),
		Logger:       logger,
	}
	if emb != nil {
		opts.Vectorizer = embedding.NewVectorizer(emb, embedding.Options{
			BatchSize:   cfg.Embedder.BatchSize,
			Concurrency: cfg.Embedder.Concurrency,
			CacheSize:   cfg.Embedder.CacheSize,
			Logger:      logger,
		})
	}
	return service.New(opts)
}
