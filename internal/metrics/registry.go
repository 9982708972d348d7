// Package metrics registers the Prometheus instrumentation the pipeline,
// scheduler, and livefeed record into. Grounded on the teacher's
// MetricsRegistry.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry holds every Prometheus collector strikerun exposes on /metrics.
type Registry struct {
	PipelineDuration *prometheus.HistogramVec
	PipelineRuns     *prometheus.CounterVec
	PipelineErrors   *prometheus.CounterVec

	FilterPassRate *prometheus.CounterVec

	PredictorConfidence *prometheus.HistogramVec

	LiveFeedReconnects prometheus.Counter
	LateTicks          *prometheus.CounterVec

	RepositoryWriteErrors prometheus.Counter

	ActiveSymbols prometheus.Gauge
}

// NewRegistry builds and registers all collectors against reg.
func NewRegistry(reg prometheus.Registerer) *Registry {
	m := &Registry{
		PipelineDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "strikerun_pipeline_duration_seconds",
			Help:    "Duration of one pipeline invocation.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}, []string{"symbol"}),

		PipelineRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "strikerun_pipeline_runs_total",
			Help: "Total pipeline invocations by symbol and outcome state.",
		}, []string{"symbol", "state"}),

		PipelineErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "strikerun_pipeline_errors_total",
			Help: "Total pipeline stage errors by symbol and error kind.",
		}, []string{"symbol", "kind"}),

		FilterPassRate: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "strikerun_filter_results_total",
			Help: "Total filter chain verdicts by symbol and pass/fail.",
		}, []string{"symbol", "passed"}),

		PredictorConfidence: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "strikerun_predictor_confidence",
			Help:    "Predicted probability returned by the loaded model.",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		}, []string{"symbol"}),

		LiveFeedReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "strikerun_livefeed_reconnects_total",
			Help: "Total live tick feed reconnect attempts.",
		}),

		LateTicks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "strikerun_late_ticks_total",
			Help: "Total ticks dropped for arriving before the live candle's bar.",
		}, []string{"symbol"}),

		RepositoryWriteErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "strikerun_repository_write_errors_total",
			Help: "Total snapshot persistence failures.",
		}),

		ActiveSymbols: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "strikerun_active_symbols",
			Help: "Number of symbols currently configured for the pipeline.",
		}),
	}

	reg.MustRegister(
		m.PipelineDuration, m.PipelineRuns, m.PipelineErrors, m.FilterPassRate,
		m.PredictorConfidence, m.LiveFeedReconnects, m.LateTicks,
		m.RepositoryWriteErrors, m.ActiveSymbols,
	)
	return m
}
