package normalize

import (
	"strings"
	"testing"
)

type mapLemmatizer map[string]string

func (m mapLemmatizer) Lemma(word string) string {
	if out, ok := m[word]; ok {
		return out
	}
	return word
}

func newTestNormalizer(t *testing.T, opts Options, lemmas mapLemmatizer) *Normalizer {
	t.Helper()
	n, err := NewWithLemmatizer(opts, lemmas, "test")
	if err != nil {
		t.Fatalf("NewWithLemmatizer: %v", err)
	}
	return n
}

func TestNormalizePipeline(t *testing.T) {
	n := newTestNormalizer(t, DefaultOptions(), mapLemmatizer{
		"running":   "run",
		"standards": "standard",
		"dont":      "do",
	})
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"punctuation only", "?!... -- ,;", ""},
		{"stopwords only", "What is it?", ""},
		{"question", "What is ARC-3?", "arc 3"},
		{"query", "what does arc 3 define", "arc 3 define"},
		{"zero padded", "arc-0000", "arc 0"},
		{"single zero", "arc-0", "arc 0"},
		{"leading zeros", "ARC-0069", "arc 69"},
		{"accents", "Café naïve", "cafe naive"},
		{"invalid utf8", "arc\xff-3", "arc 3"},
		{"control characters", "arc\t3\nstandards\x00", "arc 3 standard"},
		{"lemmatized", "Running standards", "run standard"},
		{"lemma becomes stopword", "dont", ""},
		{"typographic apostrophe stopword", "Don’t panic", "panic"},
		{"apostrophe kept inside word", "O’Neil's asset", "o'neil's asset"},
		{"quotes trimmed", "'asset' \"metadata\"", "asset metadata"},
		{"mixed alnum", "arc3 v2", "arc3 v2"},
		{"collapsed whitespace", "  asset    metadata  ", "asset metadata"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := n.Normalize(tc.in); got != tc.want {
				t.Fatalf("Normalize(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestNormalizeKeepsCompoundsWhenNotSplitting(t *testing.T) {
	opts := DefaultOptions()
	opts.SplitHyphenated = false
	n := newTestNormalizer(t, opts, nil)

	cases := map[string]string{
		"ARC-0003 metadata": "arc-3 metadata",
		"arc-0000":          "arc-0",
		"-asset-":           "asset",
		"the - arc":         "arc",
	}
	for in, want := range cases {
		if got := n.Normalize(in); got != want {
			t.Errorf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNormalizeOptionsDisableSteps(t *testing.T) {
	opts := Options{Preserve: "'"}
	n := newTestNormalizer(t, opts, mapLemmatizer{"standards": "standard"})

	got := n.Normalize("What is ARC-0003 standards")
	want := "what is arc-0003 standards"
	if got != want {
		t.Fatalf("Normalize = %q, want %q", got, want)
	}
}

func TestNormalizeCustomStopwords(t *testing.T) {
	opts := DefaultOptions()
	opts.Stopwords = []string{"arc"}
	n := newTestNormalizer(t, opts, nil)
	if got := n.Normalize("what is ARC-3"); got != "what is 3" {
		t.Fatalf("Normalize = %q, want %q", got, "what is 3")
	}
}

func TestLemmaCycleResolvesToStableMember(t *testing.T) {
	n := newTestNormalizer(t, DefaultOptions(), mapLemmatizer{"foo": "qux", "qux": "bar", "bar": "qux"})
	for _, in := range []string{"foo", "qux", "bar"} {
		if got := n.Normalize(in); got != "bar" {
			t.Errorf("Normalize(%q) = %q, want %q", in, got, "bar")
		}
	}
}

func TestLemmaRejectsNonWordOutput(t *testing.T) {
	n := newTestNormalizer(t, DefaultOptions(), mapLemmatizer{"assets": "Asset Class"})
	if got := n.Normalize("assets"); got != "assets" {
		t.Fatalf("Normalize = %q, want %q", got, "assets")
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{
		"",
		"???",
		"What is the purpose of ARC-0000 in the Algorand ecosystem?",
		"What does ARC-0003 specify for Algorand Standard Assets (ASAs)?",
		"ARC-0069 metadata, stored in the note field — isn’t it?",
		"Running\tstandards\r\nwere defined by 00042 developers",
		"Ångström naïve café résumé",
		"o'neil's 'quoted' -- arc--3",
		"\xff\xfe broken \x00 bytes",
		"ＡＲＣ－００１９ fullwidth",
	}
	lemmas := mapLemmatizer{"running": "run", "standards": "standard", "defined": "define", "developers": "developer"}
	for _, opts := range []Options{DefaultOptions(), {Preserve: "'"}, {SplitHyphenated: false, NormalizeNumbers: true, StripStopwords: true, Lemmatize: true, Preserve: "'"}} {
		n := newTestNormalizer(t, opts, lemmas)
		for _, in := range inputs {
			once := n.Normalize(in)
			twice := n.Normalize(once)
			if once != twice {
				t.Errorf("opts %+v: Normalize not idempotent for %q: %q then %q", opts, in, once, twice)
			}
		}
	}
}

func TestNormalizeWithEnglishDictionary(t *testing.T) {
	n, err := New(DefaultOptions())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	cases := map[string]string{
		"arc-0000": "arc 0",
		"arc-0":    "arc 0",
		"arc-0069": "arc 69",
	}
	for in, want := range cases {
		if got := n.Normalize(in); got != want {
			t.Errorf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}

	stored := n.Normalize("What is ARC-3?")
	query := n.Normalize("what does arc 3 define")
	for _, tok := range strings.Fields(stored) {
		if !strings.Contains(" "+query+" ", " "+tok+" ") {
			t.Errorf("query %q does not share token %q with %q", query, tok, stored)
		}
	}

	for _, in := range []string{"The assets were being transferred by the managers", "Which wallets support ARC-0019 NFTs?"} {
		once := n.Normalize(in)
		if twice := n.Normalize(once); once != twice {
			t.Errorf("not idempotent for %q: %q then %q", in, once, twice)
		}
	}
}

func TestFingerprint(t *testing.T) {
	a := newTestNormalizer(t, DefaultOptions(), nil)
	b := newTestNormalizer(t, DefaultOptions(), nil)
	if a.Fingerprint() != b.Fingerprint() {
		t.Fatalf("same options produced different fingerprints")
	}
	opts := DefaultOptions()
	opts.NormalizeNumbers = false
	c := newTestNormalizer(t, opts, nil)
	if a.Fingerprint() == c.Fingerprint() {
		t.Fatalf("different options produced the same fingerprint")
	}
	d := newTestNormalizer(t, DefaultOptions(), mapLemmatizer{})
	if a.Fingerprint() == d.Fingerprint() {
		t.Fatalf("lemmatizer did not change the fingerprint")
	}
}

func TestPreserveRejectsWordRunes(t *testing.T) {
	opts := DefaultOptions()
	opts.Preserve = "'a"
	if _, err := NewWithLemmatizer(opts, nil, ""); err == nil {
		t.Fatalf("expected error for letter in Preserve")
	}
}
