package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the Prometheus instruments for the speech cascade. It
// satisfies orchestrator.StageObserver.
type Metrics struct {
	StageAttempts *prometheus.CounterVec
	StageLatency  *prometheus.HistogramVec
	Utterances    *prometheus.CounterVec
	Speaking      prometheus.Gauge

	registry *prometheus.Registry
	window   *stageWindow
}

// NewMetrics registers the instruments on a fresh registry.
func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		StageAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_attempts_total",
			Help:      "Speech cascade stage attempts by stage and result.",
		}, []string{"stage", "result"}),
		StageLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_latency_ms",
			Help:      "Time spent in each attempted cascade stage in milliseconds.",
			Buckets:   []float64{10, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		}, []string{"stage"}),
		Utterances: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "utterances_total",
			Help:      "Speak requests by the stage that produced audio (none when silent).",
		}, []string{"stage"}),
		Speaking: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "speaking",
			Help:      "Number of Speak calls in progress.",
		}),
		registry: reg,
		window:   newStageWindow(256),
	}
}

func (m *Metrics) ObserveStage(stage, result string, elapsed time.Duration) {
	m.StageAttempts.WithLabelValues(stage, result).Inc()
	if result == "skipped" {
		return
	}
	ms := float64(elapsed.Microseconds()) / 1000
	m.StageLatency.WithLabelValues(stage).Observe(ms)
	m.window.Observe(stage, ms)
}

func (m *Metrics) ObserveUtterance(stage string) {
	m.Utterances.WithLabelValues(stage).Inc()
}

func (m *Metrics) SetSpeaking(speaking bool) {
	if speaking {
		m.Speaking.Inc()
	} else {
		m.Speaking.Dec()
	}
}

// Snapshot returns rolling latency percentiles per stage.
func (m *Metrics) Snapshot() StageSnapshot {
	return m.window.Snapshot()
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
