package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	domrepo "LinePulse/internal/domain/repository"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	analyses *prometheus.CounterVec
	errors   *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	alpha    *prometheus.GaugeVec
	feedback *prometheus.CounterVec
	autotune *prometheus.CounterVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		analyses: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "linepulse_analyses_total",
				Help: "Analyses by verdict state and trap flag",
			},
			[]string{"state", "trap"},
		),
		errors: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "linepulse_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "linepulse_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"operation"},
		),
		alpha: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "linepulse_baseline_alpha",
				Help: "Current EWMA smoothing factor per baseline",
			},
			[]string{"key"},
		),
		feedback: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "linepulse_feedback_total",
				Help: "Confirmed outcomes by whether the favored side won",
			},
			[]string{"won"},
		),
		autotune: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "linepulse_autotune_adjustments_total",
				Help: "Autotune alpha adjustments by reason",
			},
			[]string{"reason"},
		),
	}
}

func (r *Recorder) RecordAnalysis(state string, trap bool) {
	r.analyses.WithLabelValues(state, strconv.FormatBool(trap)).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errors.WithLabelValues(kind).Inc()
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

func (r *Recorder) RecordAlpha(key string, alpha float64) {
	r.alpha.WithLabelValues(key).Set(alpha)
}

func (r *Recorder) RecordFeedback(won bool) {
	r.feedback.WithLabelValues(strconv.FormatBool(won)).Inc()
}

func (r *Recorder) RecordAutotune(reason string) {
	r.autotune.WithLabelValues(reason).Inc()
}

var _ domrepo.Metrics = (*Recorder)(nil)
