package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service. Each call to
// NewMetrics gets its own registry so tests can construct instances freely.
type Metrics struct {
	registry *prometheus.Registry

	RequestsTotal      *prometheus.CounterVec
	RequestDuration    prometheus.Histogram
	ActiveStreams      prometheus.Gauge
	FragmentsForwarded prometheus.Counter
	StreamOutcomes     *prometheus.CounterVec
	PromptTokens       prometheus.Histogram
	UploadsTotal       *prometheus.CounterVec
}

// NewMetrics creates the instrument set under the given namespace.
func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "HTTP requests by path and status.",
		}, []string{"path", "status"}),
		RequestDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency in seconds.",
			Buckets:   []float64{0.005, 0.02, 0.1, 0.5, 1, 5, 30, 120},
		}),
		ActiveStreams: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_streams",
			Help:      "Number of chat generations currently streaming.",
		}),
		FragmentsForwarded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fragments_forwarded_total",
			Help:      "Generation fragments forwarded to clients.",
		}),
		StreamOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_outcomes_total",
			Help:      "Terminal generation states by outcome.",
		}, []string{"outcome"}),
		PromptTokens: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "prompt_tokens",
			Help:      "Estimated token count of assembled prompts.",
			Buckets:   []float64{64, 128, 256, 512, 1024, 2048, 4096, 8192},
		}),
		UploadsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Document uploads by result.",
		}, []string{"result"}),
	}
}

// RecordRequest records one finished HTTP request.
func (m *Metrics) RecordRequest(path, status string, latency time.Duration) {
	m.RequestsTotal.WithLabelValues(path, status).Inc()
	m.RequestDuration.Observe(latency.Seconds())
}

// Handler exposes the registry for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
