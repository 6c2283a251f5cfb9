package pool

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds Prometheus metrics for pool runs.
//
//   - abaquiz_pool_candidates_total{area,outcome}
//   - abaquiz_pool_runs_total{outcome}
//   - abaquiz_pool_avg_unseen
//   - abaquiz_pool_questions{area}
type Metrics struct {
	Candidates *prometheus.CounterVec
	Runs       *prometheus.CounterVec
	AvgUnseen  prometheus.Gauge
	Questions  *prometheus.GaugeVec
}

func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			Candidates: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "abaquiz_pool_candidates_total",
					Help: "Generated candidates by outcome (accepted, duplicate, error)",
				},
				[]string{"area", "outcome"},
			),
			Runs: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "abaquiz_pool_runs_total",
					Help: "Pool replenishment runs by outcome",
				},
				[]string{"outcome"},
			),
			AvgUnseen: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "abaquiz_pool_avg_unseen",
				Help: "Mean unseen questions per active user at the last health check",
			}),
			Questions: promauto.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "abaquiz_pool_questions",
					Help: "Stored questions per content area at the last stats request",
				},
				[]string{"area"},
			),
		}
	})
	return globalMetrics
}
