// Package metrics provides Prometheus metrics collection for the screening
// service. It defines the prediction, failure, history and model metrics that
// are exposed via the Prometheus metrics endpoint for monitoring and alerting.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the screening service.
type Metrics struct {
	// Prediction metrics
	Screenings          *prometheus.CounterVec // Completed screenings by predicted label
	ScreeningFailures   *prometheus.CounterVec // Failed screenings by error kind
	ScreeningLatency    prometheus.Histogram   // End-to-end formatter latency in seconds
	ScreeningConfidence prometheus.Histogram   // Probability of the predicted label
	CacheHits           prometheus.Counter     // Predictions served from the result cache

	// Surface metrics
	HistoryErrors prometheus.Counter // Screenings that could not be persisted
	FormErrors    prometheus.Counter // Form submissions rejected by the presence check

	// Model metrics
	ModelAge    prometheus.Gauge // Age of the loaded artifact file in seconds
	ModelLoaded prometheus.Gauge // 1 when a model is loaded
}

// New creates and registers all Prometheus metrics using the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates metrics with a custom registry (useful for testing).
// This allows for isolated metric collection in tests without affecting
// the global Prometheus registry.
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		Screenings: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "screenings_total",
			Help: "Total number of completed screenings by predicted label",
		}, []string{"label"}),
		ScreeningFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "screening_failures_total",
			Help: "Total number of failed screenings by error kind",
		}, []string{"kind"}),
		ScreeningLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "screening_latency_seconds",
			Help:    "Screening latency in seconds (end-to-end)",
			Buckets: []float64{0.00005, 0.0001, 0.00025, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}),
		ScreeningConfidence: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "screening_confidence",
			Help:    "Distribution of the probability assigned to the predicted label",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		}),
		CacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "prediction_cache_hits_total",
			Help: "Total number of predictions served from the result cache",
		}),
		HistoryErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "history_errors_total",
			Help: "Total number of screenings that could not be saved to history",
		}),
		FormErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "form_errors_total",
			Help: "Total number of rejected form submissions",
		}),
		ModelAge: factory.NewGauge(prometheus.GaugeOpts{
			Name: "model_age_seconds",
			Help: "Age of the loaded model artifact in seconds",
		}),
		ModelLoaded: factory.NewGauge(prometheus.GaugeOpts{
			Name: "model_loaded",
			Help: "Whether a model is loaded (1) or not (0)",
		}),
	}
}

// SetModel records the load state and artifact age.
func (m *Metrics) SetModel(loaded bool, age time.Duration) {
	if !loaded {
		m.ModelLoaded.Set(0)
		m.ModelAge.Set(0)
		return
	}
	m.ModelLoaded.Set(1)
	m.ModelAge.Set(age.Seconds())
}
