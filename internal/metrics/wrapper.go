package metrics

import "github.com/prometheus/client_golang/prometheus"

// Interfaces for metrics to avoid circular imports
type MetricsCounter interface {
	Inc()
}

type MetricsGauge interface {
	Set(float64)
	Add(float64)
}

// MetricsWrapper adapts Metrics to the formatter's metrics hooks and hands
// single counters to the web and storage layers.
type MetricsWrapper struct {
	m *Metrics
}

func NewWrapper(m *Metrics) *MetricsWrapper {
	return &MetricsWrapper{m: m}
}

func (w *MetricsWrapper) ScreeningInc(label string) {
	w.m.Screenings.WithLabelValues(label).Inc()
}

func (w *MetricsWrapper) ScreeningFailureInc(kind string) {
	w.m.ScreeningFailures.WithLabelValues(kind).Inc()
}

func (w *MetricsWrapper) ScreeningLatencyObserve(seconds float64) {
	w.m.ScreeningLatency.Observe(seconds)
}

func (w *MetricsWrapper) ConfidenceObserve(p float64) {
	w.m.ScreeningConfidence.Observe(p)
}

func (w *MetricsWrapper) CacheHitInc() {
	w.m.CacheHits.Inc()
}

func (w *MetricsWrapper) HistoryErrors() MetricsCounter {
	return &CounterWrapper{w.m.HistoryErrors}
}

func (w *MetricsWrapper) FormErrors() MetricsCounter {
	return &CounterWrapper{w.m.FormErrors}
}

func (w *MetricsWrapper) ModelAge() MetricsGauge {
	return &GaugeWrapper{w.m.ModelAge}
}

type CounterWrapper struct {
	c prometheus.Counter
}

func (cw *CounterWrapper) Inc() {
	cw.c.Inc()
}

type GaugeWrapper struct {
	g prometheus.Gauge
}

func (gw *GaugeWrapper) Set(v float64) {
	gw.g.Set(v)
}

func (gw *GaugeWrapper) Add(v float64) {
	gw.g.Add(v)
}
