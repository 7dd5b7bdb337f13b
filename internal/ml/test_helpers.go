package ml

import (
	"fmt"
	"sync"
)

// MockMetrics implements MetricsInterface for testing
type MockMetrics struct {
	mu          sync.Mutex
	screenings  map[string]int
	failures    map[string]int
	latencies   int
	confidences []float64
	cacheHits   int
}

func (m *MockMetrics) ScreeningInc(label string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.screenings == nil {
		m.screenings = make(map[string]int)
	}
	m.screenings[label]++
}

func (m *MockMetrics) ScreeningFailureInc(kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failures == nil {
		m.failures = make(map[string]int)
	}
	m.failures[kind]++
}

func (m *MockMetrics) ScreeningLatencyObserve(float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latencies++
}

func (m *MockMetrics) ConfidenceObserve(p float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.confidences = append(m.confidences, p)
}

func (m *MockMetrics) CacheHitInc() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cacheHits++
}

// StubClassifier returns canned outputs regardless of input, after checking
// the row length like a real model would.
type StubClassifier struct {
	Features int
	Classes  int
	Class    int
	Proba    []float64
	Err      error
}

func (s *StubClassifier) NumClasses() int { return s.Classes }

func (s *StubClassifier) PredictClass(batch [][]float64) ([]int, error) {
	if err := s.check(batch); err != nil {
		return nil, err
	}
	out := make([]int, len(batch))
	for i := range out {
		out[i] = s.Class
	}
	return out, nil
}

func (s *StubClassifier) PredictProba(batch [][]float64) ([][]float64, error) {
	if err := s.check(batch); err != nil {
		return nil, err
	}
	out := make([][]float64, len(batch))
	for i := range out {
		out[i] = append([]float64(nil), s.Proba...)
	}
	return out, nil
}

func (s *StubClassifier) check(batch [][]float64) error {
	if s.Err != nil {
		return s.Err
	}
	for r, row := range batch {
		if s.Features > 0 && len(row) != s.Features {
			return fmt.Errorf("%w: row %d has %d features", ErrInvalidInput, r, len(row))
		}
	}
	return nil
}
