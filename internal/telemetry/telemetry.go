package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Answer outcome labels.
const (
	OutcomeFastPath  = "fastpath"
	OutcomeFull      = "full"
	OutcomeNoResults = "no_results"
	OutcomeError     = "error"
	OutcomeRateLimit = "rate_limited"
)

// Metrics aggregates the pipeline's prometheus collectors. One instance is
// created per process and handed to the components that record into it.
type Metrics struct {
	AnswersTotal      *prometheus.CounterVec
	AnswerDuration    prometheus.Histogram
	RetrievalDuration prometheus.Histogram
	CacheOps          *prometheus.CounterVec
	RateLimitRejects  prometheus.Counter
	SourcesReturned   prometheus.Histogram
}

// New registers the pipeline metrics on the given registerer (nil means the
// default registry, which promhttp serves on /metrics).
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		AnswersTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "answerd_answers_total",
			Help: "Answered questions by pipeline outcome.",
		}, []string{"outcome"}),
		AnswerDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "answerd_answer_duration_seconds",
			Help:    "End-to-end latency of the answer pipeline.",
			Buckets: prometheus.DefBuckets,
		}),
		RetrievalDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "answerd_retrieval_duration_seconds",
			Help:    "Latency of embed plus similarity search.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5},
		}),
		CacheOps: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "answerd_cache_operations_total",
			Help: "Cache operations by kind and result.",
		}, []string{"kind", "result"}),
		RateLimitRejects: factory.NewCounter(prometheus.CounterOpts{
			Name: "answerd_rate_limit_rejections_total",
			Help: "Requests rejected by the sliding-window limiter.",
		}),
		SourcesReturned: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "answerd_sources_returned",
			Help:    "Number of sources attached to each answer.",
			Buckets: []float64{0, 1, 2, 3, 4, 5, 8},
		}),
	}
}

// ObserveAnswer records one finished pipeline pass.
func (m *Metrics) ObserveAnswer(outcome string, elapsed time.Duration, sources int) {
	if m == nil {
		return
	}
	m.AnswersTotal.WithLabelValues(outcome).Inc()
	m.AnswerDuration.Observe(elapsed.Seconds())
	m.SourcesReturned.Observe(float64(sources))
}

// ObserveCache records one cache lookup or store.
func (m *Metrics) ObserveCache(kind, result string) {
	if m == nil {
		return
	}
	m.CacheOps.WithLabelValues(kind, result).Inc()
}

// ObserveRetrieval records the retrieval phase latency.
func (m *Metrics) ObserveRetrieval(elapsed time.Duration) {
	if m == nil {
		return
	}
	m.RetrievalDuration.Observe(elapsed.Seconds())
}

// ObserveRateLimitReject counts one rejected request.
func (m *Metrics) ObserveRateLimitReject() {
	if m == nil {
		return
	}
	m.RateLimitRejects.Inc()
}
