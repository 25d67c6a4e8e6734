package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	if cfg.Retrieval.Threshold != 0.7 {
		t.Errorf("default retrieval.threshold = %v, want 0.7", cfg.Retrieval.Threshold)
	}
	if cfg.Embedder.Type != "hashing" || cfg.Matcher.Type != "dense" {
		t.Errorf("default stack = %s/%s, want hashing/dense", cfg.Embedder.Type, cfg.Matcher.Type)
	}
	if !cfg.Normalizer.Lemmatize || !cfg.Normalizer.SplitHyphenated {
		t.Errorf("default normalizer should enable every step: %+v", cfg.Normalizer)
	}
	if cfg.QueryTimeout() != 10*time.Second {
		t.Errorf("QueryTimeout = %v", cfg.QueryTimeout())
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults do not validate: %v", err)
	}
}

func TestLoadOverlaysYAMLOnDefaults(t *testing.T) {
	path := writeConfig(t, `
embedder:
  type: openai
  openai:
    base_url: http://localhost:11434/v1
    model: nomic-embed-text
normalizer:
  lemmatize: false
retrieval:
  threshold: 0.55
matcher:
  type: qdrant
  qdrant:
    collection: arcs
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Embedder.OpenAI.BaseURL != "http://localhost:11434/v1" || cfg.Embedder.OpenAI.Model != "nomic-embed-text" {
		t.Errorf("openai = %+v", cfg.Embedder.OpenAI)
	}
	if cfg.Embedder.OpenAI.TimeoutSecs != 30 {
		t.Errorf("unset field lost its default: timeout_secs = %d", cfg.Embedder.OpenAI.TimeoutSecs)
	}
	if cfg.Normalizer.Lemmatize {
		t.Errorf("explicit false did not override default true")
	}
	if !cfg.Normalizer.StripStopwords {
		t.Errorf("unset bool lost its default")
	}
	if cfg.Retrieval.Threshold != 0.55 {
		t.Errorf("threshold = %v", cfg.Retrieval.Threshold)
	}
	if cfg.Matcher.Qdrant.URL != "http://localhost:6333" || cfg.Matcher.Qdrant.Collection != "arcs" {
		t.Errorf("qdrant = %+v", cfg.Matcher.Qdrant)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Corpus.Source != "qa_pairs.json" {
		t.Errorf("corpus.source = %q", cfg.Corpus.Source)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ASKARC_THRESHOLD", "0.8")
	t.Setenv("ASKARC_TOP_K", "3")
	t.Setenv("ASKARC_MATCHER", "tfidf")
	t.Setenv("ASKARC_SNAPSHOT", "/tmp/snap.db")
	t.Setenv("ASKARC_TOP_K_IGNORED", "x")

	cfg, err := Load(writeConfig(t, "retrieval:\n  threshold: 0.2\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Retrieval.Threshold != 0.8 || cfg.Retrieval.TopK != 3 {
		t.Errorf("retrieval = %+v", cfg.Retrieval)
	}
	if cfg.Matcher.Type != "tfidf" || cfg.Corpus.Snapshot != "/tmp/snap.db" {
		t.Errorf("matcher = %q snapshot = %q", cfg.Matcher.Type, cfg.Corpus.Snapshot)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]struct {
		yaml string
		want string
	}{
		"threshold": {"retrieval:\n  threshold: 1.5\n", "retrieval.threshold"},
		"top_k":     {"retrieval:\n  top_k: 0\n", "retrieval.top_k"},
		"embedder":  {"embedder:\n  type: word2vec\n", "embedder.type"},
		"matcher":   {"matcher:\n  type: faiss\n", "matcher.type"},
		"none":      {"embedder:\n  type: none\n", "requires matcher.type"},
		"batch":     {"embedder:\n  batch_size: -1\n", "embedder.batch_size"},
		"preserve":  {"normalizer:\n  preserve: \"'-\"\n", "normalizer.preserve"},
		"log":       {"log:\n  level: loud\n", "log.level"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.yaml))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err = %v, want mention of %q", err, tc.want)
			}
		})
	}
}

func TestLogLevelAliases(t *testing.T) {
	for _, level := range []string{"debug", "INFO", "warn", "warning", "error"} {
		cfg, err := Load(writeConfig(t, "log:\n  level: "+level+"\n"))
		if err != nil {
			t.Fatalf("level %q: %v", level, err)
		}
		if cfg.Log.Level != level {
			t.Fatalf("level = %q, want %q", cfg.Log.Level, level)
		}
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := Defaults()
	cfg.Retrieval.Threshold = 0.65
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Retrieval.Threshold != 0.65 {
		t.Fatalf("threshold = %v", got.Retrieval.Threshold)
	}
}

func TestLoadDefaultWritesUserConfig(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("ASKARC_CONFIG", "")
	t.Chdir(t.TempDir())

	_, path, err := LoadDefault()
	if err != nil {
		t.Fatalf("LoadDefault: %v", err)
	}
	if path != filepath.Join(home, ".config", "askarc", "config.yaml") {
		t.Fatalf("path = %q", path)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("defaults not written: %v", err)
	}
}
