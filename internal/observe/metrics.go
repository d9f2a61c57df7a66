package observe

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sentimemory"

// Extraction outcomes recorded by ObserveExtraction.
const (
	OutcomeOK            = "ok"
	OutcomeProviderError = "provider_error"
	OutcomeParseError    = "parse_error"
	OutcomeEmpty         = "empty"
)

// Metrics groups the Prometheus instruments of the memory subsystem. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	Evictions         prometheus.Counter
	EvictedTurns      prometheus.Counter
	Extractions       *prometheus.CounterVec
	ExtractionLatency prometheus.Histogram
	RecordsStored     prometheus.Counter
	StoreErrors       *prometheus.CounterVec
	Replies           *prometheus.CounterVec
	ReplyLatency      prometheus.Histogram
}

// NewMetrics registers the instruments on reg. Passing a fresh
// prometheus.NewRegistry() keeps tests independent.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Evictions: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evictions_total",
			Help:      "Buffer evictions, including clears.",
		}),
		EvictedTurns: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evicted_turns_total",
			Help:      "Turns removed from conversation buffers.",
		}),
		Extractions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extractions_total",
			Help:      "Extraction attempts by outcome.",
		}, []string{"outcome"}),
		ExtractionLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "extraction_latency_seconds",
			Help:      "Round-trip time of extraction requests.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30},
		}),
		RecordsStored: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_stored_total",
			Help:      "Memory records written by extraction.",
		}),
		StoreErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_errors_total",
			Help:      "Memory store failures by operation.",
		}, []string{"op"}),
		Replies: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replies_total",
			Help:      "Reply generations by outcome.",
		}, []string{"outcome"}),
		ReplyLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reply_latency_seconds",
			Help:      "Round-trip time of reply requests.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30},
		}),
	}
}

func (m *Metrics) ObserveEviction(turns int) {
	if m == nil {
		return
	}
	m.Evictions.Inc()
	m.EvictedTurns.Add(float64(turns))
}

func (m *Metrics) ObserveExtraction(outcome string, d time.Duration, stored int) {
	if m == nil {
		return
	}
	m.Extractions.WithLabelValues(outcome).Inc()
	m.ExtractionLatency.Observe(d.Seconds())
	m.RecordsStored.Add(float64(stored))
}

func (m *Metrics) ObserveStoreError(op string) {
	if m == nil {
		return
	}
	m.StoreErrors.WithLabelValues(op).Inc()
}

func (m *Metrics) ObserveReply(ok bool, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	m.Replies.WithLabelValues(outcome).Inc()
	m.ReplyLatency.Observe(d.Seconds())
}

// MetricsHandler exposes the instruments registered on g.
func MetricsHandler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
