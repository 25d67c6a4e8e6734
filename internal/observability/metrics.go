// Package observability provides Prometheus metrics and HTTP middleware
// for the askarc retrieval service.
package observability

import "github.com/prometheus/client_golang/prometheus"

// EmbedBuckets covers local hashing (sub-millisecond) up to slow remote
// embedding endpoints.
var EmbedBuckets = []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30}

var (
	// RequestsTotal counts HTTP requests by method, route and status class.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askarc_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	// RequestDuration records HTTP request duration in seconds.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "askarc_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// AnswersTotal counts retrieval outcomes: match, no_match or error.
	AnswersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askarc_answers_total",
			Help: "Retrieval outcomes",
		},
		[]string{"matcher", "outcome"},
	)

	// BestScore records the best similarity observed per query.
	BestScore = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "askarc_best_score",
			Help:    "Best similarity score per query",
			Buckets: []float64{0, 0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1},
		},
	)

	// EmbedLatency records provider embedding calls in seconds.
	EmbedLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "askarc_embed_latency_seconds",
			Help:    "Embedding provider latency",
			Buckets: EmbedBuckets,
		},
		[]string{"provider", "model"},
	)

	// EmbedRequestsTotal counts provider batch calls by status.
	EmbedRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askarc_embed_requests_total",
			Help: "Embedding provider batch calls",
		},
		[]string{"provider", "model", "status"},
	)

	// EmbedCacheHitsTotal counts texts served from the vector cache.
	EmbedCacheHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "askarc_embed_cache_hits_total",
			Help: "Vector cache hits",
		},
	)

	// CorpusEntries is the number of entries in the active corpus.
	CorpusEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "askarc_corpus_entries",
			Help: "Entries in the active corpus",
		},
	)

	// CorpusRebuildsTotal counts corpus builds and snapshot loads by source.
	CorpusRebuildsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askarc_corpus_loads_total",
			Help: "Corpus activations by source (snapshot, build) and status",
		},
		[]string{"source", "status"},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		AnswersTotal,
		BestScore,
		EmbedLatency,
		EmbedRequestsTotal,
		EmbedCacheHitsTotal,
		CorpusEntries,
		CorpusRebuildsTotal,
	)
}
