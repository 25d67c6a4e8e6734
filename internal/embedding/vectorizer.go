package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"askarc/internal/domain"
	"askarc/internal/observability"
)

// probeText is embedded once to discover the dimension of providers that do
// not declare one.
const probeText = "dimension probe"

// emptyText is embedded in place of an empty canonical form, so empty
// queries still match empty entries. Normalized text never contains
// brackets.
const emptyText = "[empty]"

// Options tunes a Vectorizer.
type Options struct {
	BatchSize   int
	Concurrency int
	CacheSize   int
	Logger      *slog.Logger
}

// Vectorizer wraps a provider with batching, a bounded cache and output
// validation. It is safe for concurrent use.
type Vectorizer struct {
	provider    Embedder
	batchSize   int
	concurrency int
	cache       *lruCache
	logger      *slog.Logger

	mu  sync.Mutex
	dim int
}

func NewVectorizer(provider Embedder, opts Options) *Vectorizer {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 64
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Vectorizer{
		provider:    provider,
		batchSize:   opts.BatchSize,
		concurrency: opts.Concurrency,
		cache:       newLRUCache(opts.CacheSize),
		logger:      opts.Logger,
		dim:         provider.Dimension(),
	}
}

// Model returns the identifier recorded in snapshots.
func (v *Vectorizer) Model() string { return ModelID(v.provider) }

// Provider returns the wrapped embedder.
func (v *Vectorizer) Provider() Embedder { return v.provider }

// Dimension returns the vector length, probing the provider once when it is
// not known yet.
func (v *Vectorizer) Dimension(ctx context.Context) (int, error) {
	if d := v.knownDim(); d > 0 {
		return d, nil
	}
	if d := v.provider.Dimension(); d > 0 {
		if err := v.learnDim(d); err != nil {
			return 0, err
		}
		return d, nil
	}
	vecs, err := v.call(ctx, []string{probeText})
	if err != nil {
		return 0, err
	}
	if err := v.learnDim(len(vecs[0])); err != nil {
		return 0, err
	}
	v.cache.put(probeText, vecs[0])
	return len(vecs[0]), nil
}

// Embed returns one vector per text, in input order. Empty texts are embedded
// as emptyText. Any provider failure or malformed output is returned as an
// error wrapping domain.ErrProvider (or domain.ErrProviderTimeout).
func (v *Vectorizer) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	pending := make(map[string][]int)
	var unique []string

	for i, text := range texts {
		if text == "" {
			text = emptyText
		}
		if vec, ok := v.cache.get(text); ok {
			observability.EmbedCacheHitsTotal.Inc()
			out[i] = vec
			continue
		}
		if _, seen := pending[text]; !seen {
			unique = append(unique, text)
		}
		pending[text] = append(pending[text], i)
	}

	if len(unique) > 0 {
		vecs, err := v.embedBatches(ctx, unique)
		if err != nil {
			return nil, err
		}
		for j, text := range unique {
			v.cache.put(text, append([]float32(nil), vecs[j]...))
			for n, i := range pending[text] {
				if n == 0 {
					out[i] = vecs[j]
				} else {
					out[i] = append([]float32(nil), vecs[j]...)
				}
			}
		}
	}

	if d := v.knownDim(); d > 0 {
		for i, vec := range out {
			if len(vec) != d {
				return nil, fmt.Errorf("%w: vector %d has dimension %d, want %d", domain.ErrProvider, i, len(vec), d)
			}
		}
	}
	return out, nil
}

func (v *Vectorizer) embedBatches(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(v.concurrency)
	for start := 0; start < len(texts); start += v.batchSize {
		end := min(start+v.batchSize, len(texts))
		g.Go(func() error {
			vecs, err := v.call(gctx, texts[start:end])
			if err != nil {
				return err
			}
			copy(out[start:end], vecs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := v.learnDim(len(out[0])); err != nil {
		return nil, err
	}
	return out, nil
}

// call performs one provider request and validates its shape.
func (v *Vectorizer) call(ctx context.Context, batch []string) ([][]float32, error) {
	name, model := v.provider.Name(), v.provider.Model()
	start := time.Now()
	vecs, err := v.provider.Embed(ctx, batch)
	observability.EmbedLatency.WithLabelValues(name, model).Observe(time.Since(start).Seconds())
	if err == nil {
		err = validate(vecs, len(batch))
	}
	if err != nil {
		observability.EmbedRequestsTotal.WithLabelValues(name, model, "error").Inc()
		v.logger.Warn("embedding batch failed", "provider", name, "model", model, "batch", len(batch), "error", err)
		return nil, classify(ctx, err)
	}
	observability.EmbedRequestsTotal.WithLabelValues(name, model, "ok").Inc()
	return vecs, nil
}

func validate(vecs [][]float32, want int) error {
	if len(vecs) != want {
		return fmt.Errorf("provider returned %d vectors for %d inputs", len(vecs), want)
	}
	dim := len(vecs[0])
	if dim == 0 {
		return errors.New("provider returned an empty vector")
	}
	for i, vec := range vecs {
		if len(vec) != dim {
			return fmt.Errorf("vector %d has dimension %d, want %d", i, len(vec), dim)
		}
		for _, x := range vec {
			f := float64(x)
			if math.IsNaN(f) || math.IsInf(f, 0) {
				return fmt.Errorf("vector %d contains a non-finite value", i)
			}
		}
	}
	return nil
}

func classify(ctx context.Context, err error) error {
	if errors.Is(err, domain.ErrProvider) || errors.Is(err, domain.ErrProviderTimeout) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", domain.ErrProviderTimeout, err)
	}
	return fmt.Errorf("%w: %w", domain.ErrProvider, err)
}

func (v *Vectorizer) knownDim() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.dim
}

func (v *Vectorizer) learnDim(d int) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.dim == 0 {
		v.dim = d
		return nil
	}
	if v.dim != d {
		return fmt.Errorf("%w: provider dimension changed from %d to %d", domain.ErrProvider, v.dim, d)
	}
	return nil
}
