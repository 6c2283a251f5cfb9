package llm

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds Prometheus metrics for LLM calls.
//
//   - abaquiz_llm_calls_total{provider,outcome}
//   - abaquiz_llm_tokens_total{provider,direction}
//   - abaquiz_llm_extended_backoff_total{rung}
type Metrics struct {
	Calls           *prometheus.CounterVec
	Tokens          *prometheus.CounterVec
	ExtendedBackoff *prometheus.CounterVec
}

// NewMetrics registers the metrics once per process.
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			Calls: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "abaquiz_llm_calls_total",
					Help: "LLM completion calls by outcome",
				},
				[]string{"provider", "outcome"},
			),
			Tokens: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "abaquiz_llm_tokens_total",
					Help: "Tokens consumed by LLM completions",
				},
				[]string{"provider", "direction"},
			),
			ExtendedBackoff: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "abaquiz_llm_extended_backoff_total",
					Help: "Extended backoff rungs entered after persistent rate limiting",
				},
				[]string{"rung"},
			),
		}
	})
	return globalMetrics
}
