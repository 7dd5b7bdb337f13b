package ml

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"cbc-screen/internal/panel"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// exampleVector is the default panel used as the form's starting values.
var exampleVector = panel.Vector{
	6.5, 4.5, 130.0, 40.0, 90.0, 30.0, 330.0, 250.0,
	35.0, 8.0, 55.0, 2.0, 0.5,
	2.0, 0.5, 3.5, 0.1, 0.03,
	13.0, 10.0, 10.0, 0.2, 30.0, 5.0,
}

func rbLabels(t *testing.T) *LabelTable {
	t.Helper()
	labels, err := NewLabelTable(map[int]string{0: "normal", 1: "RB"})
	require.NoError(t, err)
	return labels
}

func newTestFormatter(t *testing.T, opts ...Option) *Formatter {
	t.Helper()
	f, err := NewFormatter(loadFixture(t), rbLabels(t), opts...)
	require.NoError(t, err)
	return f
}

func TestFormatterPredictExampleVector(t *testing.T) {
	f := newTestFormatter(t)

	res, err := f.Predict(context.Background(), exampleVector)
	require.NoError(t, err)

	assert.Equal(t, "normal", res.Label)
	assert.Equal(t, 0, res.Class)

	m := res.ProbabilityMap()
	require.Len(t, m, 2)
	assert.InDelta(t, 0.354343694, m["RB"], 1e-9)
	assert.InDelta(t, 0.645656306, m["normal"], 1e-9)
	assert.InDelta(t, 1.0, m["RB"]+m["normal"], 1e-9)
	assert.Equal(t, m["normal"], res.Confidence())

	require.Len(t, res.Probabilities, 2)
	assert.Equal(t, LabelProbability{Class: 0, Label: "normal", Probability: m["normal"]}, res.Probabilities[0])
	assert.Equal(t, "RB", res.Probabilities[1].Label)
}

func TestFormatterPredictPositive(t *testing.T) {
	f := newTestFormatter(t)

	v, err := panel.DefaultsWith(map[string]float64{"CRP": 20, "NEUT%": 80})
	require.NoError(t, err)

	res, err := f.Predict(context.Background(), v)
	require.NoError(t, err)
	assert.Equal(t, "RB", res.Label)
	assert.Equal(t, 1, res.Class)
	assert.InDelta(t, 0.750260, res.ProbabilityMap()["RB"], 1e-6)
}

func TestFormatterLabelIsArgmax(t *testing.T) {
	f := newTestFormatter(t)
	vectors := []map[string]float64{
		{},
		{"CRP": 20},
		{"NEUT%": 80},
		{"CRP": 20, "NEUT%": 80},
		{"LYMPH#": 1.0},
		{"CRP": 9.99, "LYMPH#": 1.0},
	}
	for _, overrides := range vectors {
		v, err := panel.DefaultsWith(overrides)
		require.NoError(t, err)
		res, err := f.Predict(context.Background(), v)
		require.NoError(t, err)

		best := res.Probabilities[0]
		for _, p := range res.Probabilities[1:] {
			if p.Probability > best.Probability {
				best = p
			}
		}
		assert.Equal(t, best.Label, res.Label, "%v", overrides)
	}
}

func TestFormatterDeterministic(t *testing.T) {
	f := newTestFormatter(t)

	first, err := f.Predict(context.Background(), exampleVector)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := f.Predict(context.Background(), exampleVector)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestFormatterConcurrent(t *testing.T) {
	f := newTestFormatter(t, WithCache(8))

	var wg sync.WaitGroup
	errs := make(chan error, 32)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, _ := panel.DefaultsWith(map[string]float64{"CRP": float64(i)})
			if _, err := f.Predict(context.Background(), v); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
	assert.EqualValues(t, 32, f.Stats().Predictions)
}

func TestFormatterInvalidInput(t *testing.T) {
	metrics := &MockMetrics{}
	f := newTestFormatter(t, WithMetrics(metrics))

	tests := []struct {
		name string
		v    panel.Vector
	}{
		{"empty", panel.Vector{}},
		{"short", exampleVector[:23]},
		{"long", append(append(panel.Vector{}, exampleVector...), 1)},
		{"nan", func() panel.Vector {
			v := panel.Defaults()
			v[3] = math.NaN()
			return v
		}()},
		{"inf", func() panel.Vector {
			v := panel.Defaults()
			v[0] = math.Inf(1)
			return v
		}()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.Predict(context.Background(), tt.v)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidInput)
			assert.Equal(t, KindInvalidInput, ErrorKind(err))
		})
	}

	assert.Equal(t, len(tests), metrics.failures[KindInvalidInput])
	assert.EqualValues(t, len(tests), f.Stats().Errors)
	assert.Zero(t, f.Stats().Predictions)
}

func TestFormatterUnknownClass(t *testing.T) {
	clf := &StubClassifier{Features: panel.Size, Classes: 2, Class: 2, Proba: []float64{0.5, 0.5}}
	metrics := &MockMetrics{}
	f, err := NewFormatter(clf, rbLabels(t), WithMetrics(metrics))
	require.NoError(t, err)

	_, err = f.Predict(context.Background(), exampleVector)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownClass)
	assert.Equal(t, 1, metrics.failures[KindUnknownClass])
}

func TestFormatterInvalidOutput(t *testing.T) {
	tests := []struct {
		name  string
		proba []float64
	}{
		{"short row", []float64{1}},
		{"does not sum to one", []float64{0.4, 0.4}},
		{"negative", []float64{-0.1, 1.1}},
		{"nan", []float64{math.NaN(), 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clf := &StubClassifier{Features: panel.Size, Classes: 2, Proba: tt.proba}
			f, err := NewFormatter(clf, rbLabels(t))
			require.NoError(t, err)

			_, err = f.Predict(context.Background(), exampleVector)
			assert.ErrorIs(t, err, ErrInvalidOutput)
		})
	}
}

func TestFormatterClassifierError(t *testing.T) {
	boom := errors.New("boom")
	clf := &StubClassifier{Classes: 2, Err: boom}
	f, err := NewFormatter(clf, rbLabels(t))
	require.NoError(t, err)

	_, err = f.Predict(context.Background(), exampleVector)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, KindOther, ErrorKind(err))
}

func TestFormatterCanceledContext(t *testing.T) {
	f := newTestFormatter(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.Predict(ctx, exampleVector)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, KindCanceled, ErrorKind(err))
}

func TestNewFormatterValidation(t *testing.T) {
	_, err := NewFormatter(nil, rbLabels(t))
	assert.ErrorIs(t, err, ErrMissingModel)

	_, err = NewFormatter(loadFixture(t), nil)
	assert.Error(t, err)

	three, err := NewLabelTable(map[int]string{0: "a", 1: "b", 2: "c"})
	require.NoError(t, err)
	_, err = NewFormatter(loadFixture(t), three)
	assert.Error(t, err)

	gap, err := NewLabelTable(map[int]string{0: "a", 2: "c"})
	require.NoError(t, err)
	_, err = NewFormatter(loadFixture(t), gap)
	assert.ErrorIs(t, err, ErrUnknownClass)

	_, err = NewFormatter(loadFixture(t), rbLabels(t), WithCache(-1))
	assert.NoError(t, err)
}

func TestFormatterCache(t *testing.T) {
	metrics := &MockMetrics{}
	f := newTestFormatter(t, WithCache(4), WithMetrics(metrics))

	first, err := f.Predict(context.Background(), exampleVector)
	require.NoError(t, err)

	// mutating a returned result must not poison the cache
	first.Probabilities[0].Probability = 42

	second, err := f.Predict(context.Background(), exampleVector)
	require.NoError(t, err)
	assert.InDelta(t, 0.645656306, second.Probabilities[0].Probability, 1e-9)

	stats := f.Stats()
	assert.EqualValues(t, 2, stats.Predictions)
	assert.EqualValues(t, 1, stats.CacheHits)
	assert.Equal(t, 1, metrics.cacheHits)
	assert.Equal(t, 2, metrics.screenings["normal"])
	assert.Equal(t, 2, metrics.latencies)
	require.Len(t, metrics.confidences, 2)
	assert.InDelta(t, 0.645656306, metrics.confidences[0], 1e-9)
}

func TestFormatterPredictBatch(t *testing.T) {
	f := newTestFormatter(t)
	positive, err := panel.DefaultsWith(map[string]float64{"CRP": 20, "NEUT%": 80})
	require.NoError(t, err)

	results, err := f.PredictBatch(context.Background(), []panel.Vector{exampleVector, positive})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "normal", results[0].Label)
	assert.Equal(t, "RB", results[1].Label)

	results, err = f.PredictBatch(context.Background(), nil)
	assert.NoError(t, err)
	assert.Empty(t, results)

	_, err = f.PredictBatch(context.Background(), []panel.Vector{exampleVector, exampleVector[:3]})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestFormatterPredictBatchRecordsLatencyOnce(t *testing.T) {
	metrics := &MockMetrics{}
	f := newTestFormatter(t, WithMetrics(metrics))
	batch := []panel.Vector{exampleVector, exampleVector, exampleVector, exampleVector}

	start := time.Now()
	results, err := f.PredictBatch(context.Background(), batch)
	wall := time.Since(start)
	require.NoError(t, err)
	require.Len(t, results, len(batch))

	stats := f.Stats()
	assert.EqualValues(t, len(batch), stats.Predictions)
	assert.LessOrEqual(t, stats.TotalLatency, wall)

	metrics.mu.Lock()
	defer metrics.mu.Unlock()
	assert.Equal(t, len(batch), metrics.screenings["normal"])
	assert.Len(t, metrics.confidences, len(batch))
	assert.Equal(t, 1, metrics.latencies)
}

func TestStats(t *testing.T) {
	var s Stats
	assert.Zero(t, s.AverageLatency())
	assert.Zero(t, s.ErrorRate())

	s = Stats{Predictions: 3, Errors: 1, TotalLatency: 400}
	assert.EqualValues(t, 100, s.AverageLatency())
	assert.Equal(t, 0.25, s.ErrorRate())
}
