package embeddings

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds Prometheus metrics for the embedding client.
type Metrics struct {
	CacheLookups *prometheus.CounterVec
	Calls        *prometheus.CounterVec
	BatchSize    prometheus.Histogram
	Duration     prometheus.Histogram
}

func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			CacheLookups: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "abaquiz_embedding_cache_lookups_total",
					Help: "Embedding cache lookups by result (hit, miss)",
				},
				[]string{"result"},
			),
			Calls: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "abaquiz_embedding_calls_total",
					Help: "Embedding provider calls by outcome",
				},
				[]string{"outcome"},
			),
			BatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
				Name:    "abaquiz_embedding_batch_size",
				Help:    "Number of uncached texts per embedding provider call",
				Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250},
			}),
			Duration: promauto.NewHistogram(prometheus.HistogramOpts{
				Name:    "abaquiz_embedding_duration_seconds",
				Help:    "Embedding provider call latency",
				Buckets: prometheus.DefBuckets,
			}),
		}
	})
	return globalMetrics
}
