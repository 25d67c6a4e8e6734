// Package normalize turns free text into the canonical token string that
// vectors and lexical indexes are built on.
package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/rivo/uniseg"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Options selects which steps of the pipeline run.
type Options struct {
	StripStopwords   bool
	NormalizeNumbers bool
	SplitHyphenated  bool
	Lemmatize        bool
	// Preserve lists punctuation kept inside tokens, e.g. "'".
	Preserve string
	// Stopwords replaces the default stop-word set when non-empty.
	Stopwords []string
}

// DefaultOptions enables every step and preserves apostrophes.
func DefaultOptions() Options {
	return Options{
		StripStopwords:   true,
		NormalizeNumbers: true,
		SplitHyphenated:  true,
		Lemmatize:        true,
		Preserve:         "'",
	}
}

// Lemmatizer reduces a lower-case word to its dictionary base form. Unknown
// words are returned unchanged.
type Lemmatizer interface {
	Lemma(word string) string
}

// Normalizer is safe for concurrent use.
type Normalizer struct {
	opts        Options
	stopwords   map[string]struct{}
	preserve    map[rune]struct{}
	lemmatizer  Lemmatizer
	lemmaName   string
	fingerprint string
}

// New builds a Normalizer. When opts.Lemmatize is set the bundled English
// dictionary is loaded once per process.
func New(opts Options) (*Normalizer, error) {
	if !opts.Lemmatize {
		return NewWithLemmatizer(opts, nil, "")
	}
	l, err := EnglishLemmatizer()
	if err != nil {
		return nil, fmt.Errorf("load lemmatizer: %w", err)
	}
	return NewWithLemmatizer(opts, l, englishLemmatizerName)
}

// NewWithLemmatizer builds a Normalizer around the given lemmatizer. A nil
// lemmatizer disables lemmatization regardless of opts.Lemmatize.
func NewWithLemmatizer(opts Options, l Lemmatizer, name string) (*Normalizer, error) {
	n := &Normalizer{
		opts:      opts,
		preserve:  make(map[rune]struct{}),
		stopwords: make(map[string]struct{}),
	}
	for _, r := range opts.Preserve {
		if r == '-' || unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			return nil, fmt.Errorf("normalize: %q cannot be a preserved punctuation rune", r)
		}
		n.preserve[r] = struct{}{}
	}
	words := opts.Stopwords
	if len(words) == 0 {
		words = defaultStopwords
	}
	for _, w := range words {
		w = strings.ToLower(strings.TrimSpace(w))
		if w != "" {
			n.stopwords[w] = struct{}{}
		}
	}
	if opts.Lemmatize && l != nil {
		n.lemmatizer = l
		n.lemmaName = name
		if n.lemmaName == "" {
			n.lemmaName = "custom"
		}
	}
	n.fingerprint = n.computeFingerprint()
	return n, nil
}

// Options returns the options the normalizer was built with.
func (n *Normalizer) Options() Options { return n.opts }

// Fingerprint identifies the pipeline configuration. Two normalizers with
// the same fingerprint produce the same output for every input.
func (n *Normalizer) Fingerprint() string { return n.fingerprint }

// Normalize returns the canonical form of text. It never fails; input that
// leaves no tokens normalizes to "".
func (n *Normalizer) Normalize(text string) string {
	if text == "" {
		return ""
	}
	s := sanitize(text)
	s = fold(s)
	s = n.restrict(strings.ToLower(s))
	if n.opts.SplitHyphenated {
		s = strings.ReplaceAll(s, "-", " ")
	}

	var out []string
	for _, field := range strings.Fields(s) {
		if !n.opts.SplitHyphenated && strings.Contains(field, "-") {
			if tok, ok := n.compound(field); ok {
				out = append(out, tok)
				continue
			}
			field = strings.ReplaceAll(field, "-", "")
		}
		out = n.appendWords(out, field)
	}
	return strings.Join(out, " ")
}

// sanitize drops bytes that are not valid UTF-8 and control characters.
// Whitespace controls become spaces so that words stay apart.
func sanitize(s string) string {
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "")
	}
	return strings.Map(func(r rune) rune {
		switch {
		case unicode.IsSpace(r):
			return ' '
		case unicode.IsControl(r), r == utf8.RuneError:
			return -1
		}
		return r
	}, s)
}

// fold decomposes, drops combining marks and recomposes.
func fold(s string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

var typographicApostrophes = map[rune]struct{}{
	'‘': {}, '’': {}, 'ʼ': {}, '＇': {},
}

// restrict keeps letters, digits, hyphens and preserved punctuation. Other
// printable runes become spaces; marks left over from case mapping are dropped.
func (n *Normalizer) restrict(s string) string {
	_, keepApostrophe := n.preserve['\'']
	return strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			return r
		case r == '-':
			return r
		case unicode.Is(unicode.Mn, r), unicode.Is(unicode.Me, r):
			return -1
		}
		if _, ok := typographicApostrophes[r]; ok && keepApostrophe {
			return '\''
		}
		if _, ok := n.preserve[r]; ok {
			return r
		}
		return ' '
	}, s)
}

// appendWords splits field on word boundaries and appends the surviving
// normalized words.
func (n *Normalizer) appendWords(out []string, field string) []string {
	state := -1
	var word string
	for len(field) > 0 {
		word, field, state = uniseg.FirstWordInString(field, state)
		if tok, ok := n.word(word); ok {
			out = append(out, tok)
		}
	}
	return out
}

// compound normalizes a hyphenated token part by part and keeps it whole.
func (n *Normalizer) compound(field string) (string, bool) {
	var parts []string
	for _, p := range strings.Split(field, "-") {
		p = n.trimPreserved(p)
		if !hasAlnum(p) {
			continue
		}
		if isNumeric(p) && n.opts.NormalizeNumbers {
			p = stripZeros(p)
		}
		parts = append(parts, p)
	}
	if len(parts) < 2 {
		return "", false
	}
	return strings.Join(parts, "-"), true
}

// word normalizes a single word. The second result is false when the word
// is dropped.
func (n *Normalizer) word(w string) (string, bool) {
	w = n.trimPreserved(w)
	if !hasAlnum(w) {
		return "", false
	}
	if isNumeric(w) {
		if n.opts.NormalizeNumbers {
			w = stripZeros(w)
		}
		return w, true
	}
	if n.isStopword(w) {
		return "", false
	}
	if n.lemmatizer != nil && isLowerASCII(w) {
		w = n.lemma(w)
		if n.isStopword(w) {
			return "", false
		}
	}
	return w, true
}

func (n *Normalizer) isStopword(w string) bool {
	if !n.opts.StripStopwords {
		return false
	}
	_, ok := n.stopwords[w]
	return ok
}

func (n *Normalizer) trimPreserved(w string) string {
	return strings.TrimFunc(w, func(r rune) bool {
		_, ok := n.preserve[r]
		return ok
	})
}

// maxLemmaSteps bounds the walk through a misbehaving lemmatizer.
const maxLemmaSteps = 16

// lemma follows the lemmatizer until it reaches a fixed point or a cycle.
// On a cycle the lexically smallest member is used, so the result maps to
// itself and normalization stays idempotent.
func (n *Normalizer) lemma(w string) string {
	path := make([]string, 0, 4)
	cur := w
	for step := 0; step < maxLemmaSteps; step++ {
		for i, seen := range path {
			if seen == cur {
				cycle := path[i:]
				best := cycle[0]
				for _, c := range cycle[1:] {
					if c < best {
						best = c
					}
				}
				return best
			}
		}
		path = append(path, cur)
		next := n.lemmatizer.Lemma(cur)
		if !isLowerASCII(next) {
			next = cur
		}
		cur = next
	}
	return w
}

func (n *Normalizer) computeFingerprint() string {
	words := make([]string, 0, len(n.stopwords))
	for w := range n.stopwords {
		words = append(words, w)
	}
	sort.Strings(words)
	preserve := []rune(n.opts.Preserve)
	sort.Slice(preserve, func(i, j int) bool { return preserve[i] < preserve[j] })
	lemma := n.lemmaName
	if lemma == "" {
		lemma = "none"
	}
	h := sha256.New()
	fmt.Fprintf(h, "stop=%t|num=%t|hyph=%t|lemma=%s|preserve=%q|words=%s",
		n.opts.StripStopwords, n.opts.NormalizeNumbers, n.opts.SplitHyphenated,
		lemma, string(preserve), strings.Join(words, ","))
	return "norm-v1-" + hex.EncodeToString(h.Sum(nil))[:16]
}

func hasAlnum(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// stripZeros removes leading zeros; an all-zero token becomes "0".
func stripZeros(s string) string {
	t := strings.TrimLeft(s, "0")
	if t == "" {
		return "0"
	}
	return t
}

func isLowerASCII(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < 'a' || s[i] > 'z' {
			return false
		}
	}
	return true
}
