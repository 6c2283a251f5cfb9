package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/abaquiz/backend/internal/logging"
)

var (
	httpMetrics     *HTTPMetrics
	httpMetricsOnce sync.Once
)

// HTTPMetrics holds request metrics for the admin API.
type HTTPMetrics struct {
	Requests *prometheus.CounterVec
	Duration *prometheus.HistogramVec
	Active   prometheus.Gauge
}

func NewHTTPMetrics() *HTTPMetrics {
	httpMetricsOnce.Do(func() {
		httpMetrics = &HTTPMetrics{
			Requests: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "abaquiz_http_requests_total",
					Help: "HTTP requests by method, route template and status",
				},
				[]string{"method", "endpoint", "status"},
			),
			Duration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "abaquiz_http_request_duration_seconds",
					Help:    "HTTP request duration in seconds",
					Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
				},
				[]string{"method", "endpoint"},
			),
			Active: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "abaquiz_http_active_requests",
				Help: "HTTP requests in flight",
			}),
		}
	})
	return httpMetrics
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Instrument records metrics and an access log line per request. The
// endpoint label is the mux route template so ids in paths do not blow up
// cardinality.
func Instrument(logger *logging.Logger) mux.MiddlewareFunc {
	m := NewHTTPMetrics()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			m.Active.Inc()
			defer m.Active.Dec()

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			endpoint := r.URL.Path
			if route := mux.CurrentRoute(r); route != nil {
				if tpl, err := route.GetPathTemplate(); err == nil {
					endpoint = tpl
				}
			}
			elapsed := time.Since(start)
			m.Requests.WithLabelValues(r.Method, endpoint, strconv.Itoa(rec.status)).Inc()
			m.Duration.WithLabelValues(r.Method, endpoint).Observe(elapsed.Seconds())

			logger.Debug(r.Context(), "http request",
				zap.String("method", r.Method),
				zap.String("endpoint", endpoint),
				zap.Int("status", rec.status),
				zap.Duration("elapsed", elapsed))
		})
	}
}
