package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// OpenAIEmbedderConfig holds configuration for the OpenAI-compatible embedder.
// Ollama and vLLM work through their /v1 base URL.
type OpenAIEmbedderConfig struct {
	BaseURL     string `yaml:"base_url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	Model       string `yaml:"model"`
	TimeoutSecs int    `yaml:"timeout_secs"`
	Dimensions  int    `yaml:"dimensions"`
	MaxRetries  int    `yaml:"max_retries"`
}

// HashingEmbedderConfig configures the offline feature-hashing embedder.
type HashingEmbedderConfig struct {
	Dimension int `yaml:"dimension"`
}

// EmbedderConfig selects and configures the text embedder implementation.
type EmbedderConfig struct {
	Type        string                `yaml:"type"`
	BatchSize   int                   `yaml:"batch_size"`
	Concurrency int                   `yaml:"concurrency"`
	CacheSize   int                   `yaml:"cache_size"`
	OpenAI      OpenAIEmbedderConfig  `yaml:"openai"`
	Hashing     HashingEmbedderConfig `yaml:"hashing"`
}

// NormalizerConfig toggles the steps of the text normalization pipeline.
type NormalizerConfig struct {
	StripStopwords   bool     `yaml:"strip_stopwords"`
	NormalizeNumbers bool     `yaml:"normalize_numbers"`
	SplitHyphenated  bool     `yaml:"split_hyphenated"`
	Lemmatize        bool     `yaml:"lemmatize"`
	Preserve         string   `yaml:"preserve"`
	Stopwords        []string `yaml:"stopwords,omitempty"`
}

// CorpusConfig locates the question/answer source and its snapshot. A
// snapshot path ending in .db, .sqlite or .sqlite3 selects SQLite storage.
type CorpusConfig struct {
	Source   string `yaml:"source"`
	Snapshot string `yaml:"snapshot"`
}

// MatcherConfig selects the search backend.
type MatcherConfig struct {
	Type   string       `yaml:"type"`
	Qdrant QdrantConfig `yaml:"qdrant"`
}

// QdrantConfig contains connection details for a Qdrant vector store.
type QdrantConfig struct {
	URL         string `yaml:"url"`
	APIKey      string `yaml:"api_key"`
	Collection  string `yaml:"collection"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// RetrievalConfig is the answering policy.
type RetrievalConfig struct {
	Threshold   float64 `yaml:"threshold"`
	TopK        int     `yaml:"top_k"`
	TimeoutSecs int     `yaml:"timeout_secs"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr             string   `yaml:"addr"`
	AllowedOrigins   []string `yaml:"allowed_origins"`
	ReadTimeoutSecs  int      `yaml:"read_timeout_secs"`
	WriteTimeoutSecs int      `yaml:"write_timeout_secs"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	Embedder   EmbedderConfig   `yaml:"embedder"`
	Normalizer NormalizerConfig `yaml:"normalizer"`
	Corpus     CorpusConfig     `yaml:"corpus"`
	Matcher    MatcherConfig    `yaml:"matcher"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	Server     ServerConfig     `yaml:"server"`
	Log        LogConfig        `yaml:"log"`
}

// QueryTimeout bounds the embedding call made for one query.
func (c *AppConfig) QueryTimeout() time.Duration {
	return time.Duration(c.Retrieval.TimeoutSecs) * time.Second
}

// Load reads a config from a specified path on top of the defaults, applies
// ASKARC_* environment overrides and validates the result. A missing file
// yields the defaults.
func Load(path string) (*AppConfig, error) {
	cfg := Defaults()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// LoadDefault tries $ASKARC_CONFIG, then ./config.yaml, then
// ~/.config/askarc/config.yaml. If none exists, it writes defaults to
// ~/.config/askarc/config.yaml and returns them.
func LoadDefault() (*AppConfig, string, error) {
	if envPath := os.Getenv("ASKARC_CONFIG"); envPath != "" {
		cfg, err := Load(envPath)
		return cfg, envPath, err
	}
	cwdPath := "config.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		cfg, err := Load(cwdPath)
		return cfg, cwdPath, err
	}
	userPath, err := defaultUserConfigPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err == nil {
		cfg, err := Load(userPath)
		return cfg, userPath, err
	}
	if err := Save(userPath, Defaults()); err != nil {
		return nil, "", err
	}
	cfg, err := Load(userPath)
	return cfg, userPath, err
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "askarc", "config.yaml"), nil
}

// Defaults returns a configuration that runs fully offline: hashing
// embeddings, dense matching and a JSON snapshot next to the source.
func Defaults() *AppConfig {
	return &AppConfig{
		Embedder: EmbedderConfig{
			Type:        "hashing",
			BatchSize:   32,
			Concurrency: 4,
			CacheSize:   4096,
			OpenAI: OpenAIEmbedderConfig{
				BaseURL:     "https://api.openai.com/v1",
				APIKeyEnv:   "OPENAI_API_KEY",
				Model:       "text-embedding-3-small",
				TimeoutSecs: 30,
				MaxRetries:  3,
			},
			Hashing: HashingEmbedderConfig{Dimension: 4096},
		},
		Normalizer: NormalizerConfig{
			StripStopwords:   true,
			NormalizeNumbers: true,
			SplitHyphenated:  true,
			Lemmatize:        true,
			Preserve:         "'",
		},
		Corpus: CorpusConfig{
			Source:   "qa_pairs.json",
			Snapshot: "qa_embeddings.json",
		},
		Matcher: MatcherConfig{
			Type: "dense",
			Qdrant: QdrantConfig{
				URL:         "http://localhost:6333",
				Collection:  "askarc",
				TimeoutSecs: 15,
			},
		},
		Retrieval: RetrievalConfig{
			Threshold:   0.7,
			TopK:        1,
			TimeoutSecs: 10,
		},
		Server: ServerConfig{
			Addr:             ":8080",
			AllowedOrigins:   []string{"*"},
			ReadTimeoutSecs:  15,
			WriteTimeoutSecs: 60,
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// applyEnvOverrides maps ASKARC_* environment variables onto the config.
// Unparseable numbers are ignored.
func applyEnvOverrides(cfg *AppConfig) {
	str := map[string]*string{
		"ASKARC_EMBEDDER":        &cfg.Embedder.Type,
		"ASKARC_OPENAI_BASE_URL": &cfg.Embedder.OpenAI.BaseURL,
		"ASKARC_OPENAI_MODEL":    &cfg.Embedder.OpenAI.Model,
		"ASKARC_MATCHER":         &cfg.Matcher.Type,
		"ASKARC_QDRANT_URL":      &cfg.Matcher.Qdrant.URL,
		"ASKARC_QDRANT_API_KEY":  &cfg.Matcher.Qdrant.APIKey,
		"ASKARC_CORPUS":          &cfg.Corpus.Source,
		"ASKARC_SNAPSHOT":        &cfg.Corpus.Snapshot,
		"ASKARC_ADDR":            &cfg.Server.Addr,
		"ASKARC_LOG_LEVEL":       &cfg.Log.Level,
		"ASKARC_LOG_FILE":        &cfg.Log.File,
	}
	for key, dst := range str {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	if v := os.Getenv("ASKARC_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Retrieval.Threshold = f
		}
	}
	if v := os.Getenv("ASKARC_TOP_K"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Retrieval.TopK = n
		}
	}
}
