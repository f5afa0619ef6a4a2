package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain repository.Metrics using Prometheus.
type Recorder struct {
	trialsTotal   *prometheus.CounterVec
	trialValue    prometheus.Histogram
	studiesTotal  prometheus.Counter
	bestValue     prometheus.Gauge
	studyDuration prometheus.Histogram
	toolCalls     *prometheus.CounterVec
	errorsTotal   *prometheus.CounterVec
	latency       *prometheus.HistogramVec
}

// New registers the collectors on reg; nil means the default registry.
func New(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Recorder{
		trialsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forecastmcp_trials_total",
				Help: "Tuning trials by final state",
			},
			[]string{"state"},
		),
		trialValue: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "forecastmcp_trial_value",
				Help:    "Objective value of completed trials",
				Buckets: prometheus.LinearBuckets(-1, 0.1, 21),
			},
		),
		studiesTotal: f.NewCounter(
			prometheus.CounterOpts{
				Name: "forecastmcp_studies_total",
				Help: "Finished tuning studies",
			},
		),
		bestValue: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "forecastmcp_best_value",
				Help: "Best objective value of the last study",
			},
		),
		studyDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "forecastmcp_study_duration_seconds",
				Help:    "Wall time of tuning studies",
				Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
			},
		),
		toolCalls: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forecastmcp_tool_calls_total",
				Help: "Tool invocations by tool and result",
			},
			[]string{"tool", "result"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forecastmcp_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "forecastmcp_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

func (r *Recorder) RecordTrial(state string, value float64) {
	r.trialsTotal.WithLabelValues(state).Inc()
	if state == "complete" {
		r.trialValue.Observe(value)
	}
}

// RecordStudy leaves the best-value gauge untouched when nothing completed.
func (r *Recorder) RecordStudy(completed int, bestValue float64, seconds float64) {
	r.studiesTotal.Inc()
	r.studyDuration.Observe(seconds)
	if completed > 0 {
		r.bestValue.Set(bestValue)
	}
}

func (r *Recorder) RecordToolCall(tool, result string) {
	r.toolCalls.WithLabelValues(tool, result).Inc()
}

func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

// Nop discards every measurement.
type Nop struct{}

func (Nop) RecordTrial(string, float64)       {}
func (Nop) RecordStudy(int, float64, float64) {}
func (Nop) RecordToolCall(string, string)     {}
func (Nop) RecordError(string)                {}
func (Nop) RecordLatency(string, float64)     {}
