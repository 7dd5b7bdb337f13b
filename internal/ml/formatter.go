package ml

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"cbc-screen/internal/panel"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"
)

// probabilityTolerance bounds how far a probability row may drift from 1.
const probabilityTolerance = 1e-6

// LabelProbability is one column of a prediction, in classifier order.
type LabelProbability struct {
	Class       int     `json:"class"`
	Label       string  `json:"label"`
	Probability float64 `json:"probability"`
}

// Result is a display-ready prediction.
type Result struct {
	Label         string             `json:"label"`
	Class         int                `json:"class"`
	Probabilities []LabelProbability `json:"probabilities"`
}

// ProbabilityMap returns label→probability.
func (r Result) ProbabilityMap() map[string]float64 {
	m := make(map[string]float64, len(r.Probabilities))
	for _, p := range r.Probabilities {
		m[p.Label] = p.Probability
	}
	return m
}

// Confidence is the probability of the predicted label.
func (r Result) Confidence() float64 {
	for _, p := range r.Probabilities {
		if p.Class == r.Class {
			return p.Probability
		}
	}
	return 0
}

func (r Result) clone() Result {
	out := r
	out.Probabilities = append([]LabelProbability(nil), r.Probabilities...)
	return out
}

// Stats are running counters for health reporting.
type Stats struct {
	Predictions  int64         `json:"predictions"`
	Errors       int64         `json:"errors"`
	CacheHits    int64         `json:"cache_hits"`
	TotalLatency time.Duration `json:"-"`
	Started      time.Time     `json:"started"`
}

// AverageLatency is the mean latency of successful and failed calls.
func (s Stats) AverageLatency() time.Duration {
	calls := s.Predictions + s.Errors
	if calls == 0 {
		return 0
	}
	return s.TotalLatency / time.Duration(calls)
}

// ErrorRate is errors over all calls.
func (s Stats) ErrorRate() float64 {
	calls := s.Predictions + s.Errors
	if calls == 0 {
		return 0
	}
	return float64(s.Errors) / float64(calls)
}

// Formatter adapts a feature vector into a classifier call and produces a
// labelled result. It holds no mutable state besides counters and the
// optional result cache, so a single instance serves all requests.
type Formatter struct {
	clf     Classifier
	labels  *LabelTable
	metrics MetricsInterface
	cache   *lru.Cache[string, Result]

	predictions  atomic.Int64
	errors       atomic.Int64
	cacheHits    atomic.Int64
	totalLatency atomic.Int64
	started      time.Time
}

// Option configures a Formatter.
type Option func(*Formatter) error

// WithMetrics reports predictions to m.
func WithMetrics(m MetricsInterface) Option {
	return func(f *Formatter) error {
		f.metrics = m
		return nil
	}
}

// WithCache keeps up to size results keyed by the exact input vector.
// A size of zero disables caching.
func WithCache(size int) Option {
	return func(f *Formatter) error {
		if size <= 0 {
			f.cache = nil
			return nil
		}
		c, err := lru.New[string, Result](size)
		if err != nil {
			return fmt.Errorf("create result cache: %w", err)
		}
		f.cache = c
		return nil
	}
}

// NewFormatter wires a classifier to a label table. Every class the
// classifier can produce must have a label.
func NewFormatter(clf Classifier, labels *LabelTable, opts ...Option) (*Formatter, error) {
	if clf == nil {
		return nil, fmt.Errorf("%w: nil classifier", ErrMissingModel)
	}
	if labels == nil {
		return nil, errors.New("nil label table")
	}
	n := clf.NumClasses()
	if labels.Len() != n {
		return nil, fmt.Errorf("label table has %d labels, classifier has %d classes", labels.Len(), n)
	}
	for c := 0; c < n; c++ {
		if _, err := labels.Label(c); err != nil {
			return nil, fmt.Errorf("label table does not cover classifier output: %w", err)
		}
	}

	f := &Formatter{
		clf:     clf,
		labels:  labels,
		started: time.Now(),
	}
	for _, opt := range opts {
		if err := opt(f); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// Labels returns the label table the formatter resolves through.
func (f *Formatter) Labels() *LabelTable {
	return f.labels
}

// Predict classifies one panel.
func (f *Formatter) Predict(ctx context.Context, v panel.Vector) (Result, error) {
	start := time.Now()

	if err := ctx.Err(); err != nil {
		f.recordError(err, start)
		return Result{}, err
	}

	key := cacheKey(v)
	if f.cache != nil {
		if cached, ok := f.cache.Get(key); ok {
			f.cacheHits.Add(1)
			if f.metrics != nil {
				f.metrics.CacheHitInc()
			}
			f.recordSuccess(cached, start)
			return cached.clone(), nil
		}
	}

	results, err := f.predict([][]float64{v})
	if err != nil {
		f.recordError(err, start)
		return Result{}, err
	}
	res := results[0]

	if f.cache != nil {
		f.cache.Add(key, res.clone())
	}
	f.recordSuccess(res, start)
	return res, nil
}

// PredictBatch classifies several panels with a single classifier call.
// The batch fails as a whole if any row fails.
func (f *Formatter) PredictBatch(ctx context.Context, vs []panel.Vector) ([]Result, error) {
	start := time.Now()

	if err := ctx.Err(); err != nil {
		f.recordError(err, start)
		return nil, err
	}
	if len(vs) == 0 {
		return nil, nil
	}

	batch := make([][]float64, len(vs))
	for i, v := range vs {
		batch[i] = v
	}
	results, err := f.predict(batch)
	if err != nil {
		f.recordError(err, start)
		return nil, err
	}
	// one classifier call, so one latency sample for the whole batch
	elapsed := time.Since(start)
	for _, r := range results {
		f.recordResult(r)
	}
	f.recordLatency(elapsed)
	return results, nil
}

func (f *Formatter) predict(batch [][]float64) ([]Result, error) {
	for r, row := range batch {
		for i, x := range row {
			if math.IsNaN(x) || math.IsInf(x, 0) {
				return nil, fmt.Errorf("%w: row %d feature %d is not finite", ErrInvalidInput, r, i)
			}
		}
	}

	classes, err := f.clf.PredictClass(batch)
	if err != nil {
		return nil, fmt.Errorf("predict class: %w", err)
	}
	probs, err := f.clf.PredictProba(batch)
	if err != nil {
		return nil, fmt.Errorf("predict proba: %w", err)
	}
	if len(classes) != len(batch) || len(probs) != len(batch) {
		return nil, fmt.Errorf("%w: %d rows in, %d classes and %d probability rows out",
			ErrInvalidOutput, len(batch), len(classes), len(probs))
	}

	out := make([]Result, len(batch))
	for r := range batch {
		res, err := f.format(classes[r], probs[r])
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", r, err)
		}
		out[r] = res
	}
	return out, nil
}

func (f *Formatter) format(class int, row []float64) (Result, error) {
	label, err := f.labels.Label(class)
	if err != nil {
		return Result{}, err
	}

	if len(row) != f.labels.Len() {
		return Result{}, fmt.Errorf("%w: %d probability columns for %d labels",
			ErrInvalidOutput, len(row), f.labels.Len())
	}

	res := Result{
		Label:         label,
		Class:         class,
		Probabilities: make([]LabelProbability, len(row)),
	}
	var sum float64
	for i, p := range row {
		l, err := f.labels.Label(i)
		if err != nil {
			return Result{}, err
		}
		if math.IsNaN(p) || p < 0 || p > 1 {
			return Result{}, fmt.Errorf("%w: probability %v for %q outside [0,1]", ErrInvalidOutput, p, l)
		}
		sum += p
		res.Probabilities[i] = LabelProbability{Class: i, Label: l, Probability: p}
	}
	if math.Abs(sum-1) > probabilityTolerance {
		return Result{}, fmt.Errorf("%w: probabilities sum to %v", ErrInvalidOutput, sum)
	}
	return res, nil
}

func (f *Formatter) recordSuccess(res Result, start time.Time) {
	f.recordResult(res)
	f.recordLatency(time.Since(start))
}

func (f *Formatter) recordResult(res Result) {
	f.predictions.Add(1)
	if f.metrics != nil {
		f.metrics.ScreeningInc(res.Label)
		f.metrics.ConfidenceObserve(res.Confidence())
	}
}

func (f *Formatter) recordLatency(elapsed time.Duration) {
	f.totalLatency.Add(int64(elapsed))
	if f.metrics != nil {
		f.metrics.ScreeningLatencyObserve(elapsed.Seconds())
	}
}

func (f *Formatter) recordError(err error, start time.Time) {
	elapsed := time.Since(start)
	f.errors.Add(1)
	f.totalLatency.Add(int64(elapsed))
	kind := ErrorKind(err)
	if f.metrics != nil {
		f.metrics.ScreeningFailureInc(kind)
		f.metrics.ScreeningLatencyObserve(elapsed.Seconds())
	}
	log.Debug().Err(err).Str("kind", kind).Msg("prediction failed")
}

// Stats returns a snapshot of the running counters.
func (f *Formatter) Stats() Stats {
	return Stats{
		Predictions:  f.predictions.Load(),
		Errors:       f.errors.Load(),
		CacheHits:    f.cacheHits.Load(),
		TotalLatency: time.Duration(f.totalLatency.Load()),
		Started:      f.started,
	}
}

// cacheKey encodes the exact bit pattern of every value so that only
// identical vectors share a cache entry.
func cacheKey(v []float64) string {
	var b strings.Builder
	b.Grow(len(v) * 17)
	for i, x := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatUint(math.Float64bits(x), 16))
	}
	return b.String()
}
