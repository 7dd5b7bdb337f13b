package evaluate

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"cbc-screen/internal/ml"
	"cbc-screen/internal/panel"

	"github.com/rs/zerolog/log"
)

// DefaultBatchSize is the number of panels sent to the classifier per call.
const DefaultBatchSize = 256

// epsilon clamps probabilities before taking logs.
const epsilon = 1e-15

// Engine scores a formatter against labelled samples.
type Engine struct {
	formatter *ml.Formatter
	batchSize int
}

// Prediction pairs a sample with what the formatter said about it.
type Prediction struct {
	Sample
	Result  ml.Result
	Correct bool
}

// ClassStats are one-vs-rest counts and scores for a single class.
type ClassStats struct {
	Class     int     `json:"class"`
	Label     string  `json:"label"`
	Support   int     `json:"support"`
	Predicted int     `json:"predicted"`
	TP        int     `json:"true_positives"`
	FP        int     `json:"false_positives"`
	FN        int     `json:"false_negatives"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
}

// Results holds evaluation results.
type Results struct {
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`

	Total    int     `json:"total"`
	Correct  int     `json:"correct"`
	Skipped  int     `json:"skipped"`
	Accuracy float64 `json:"accuracy"`
	MacroF1  float64 `json:"macro_f1"`
	LogLoss  float64 `json:"log_loss"`
	Brier    float64 `json:"brier"`

	// Confusion[i][j] counts samples of Classes[i] predicted as Classes[j].
	Labels    []string     `json:"labels"`
	Confusion [][]int      `json:"confusion"`
	Classes   []ClassStats `json:"classes"`

	Predictions []Prediction `json:"-"`
}

// NewEngine creates an evaluation engine. A batch size of zero or less uses
// DefaultBatchSize.
func NewEngine(formatter *ml.Formatter, batchSize int) *Engine {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Engine{
		formatter: formatter,
		batchSize: batchSize,
	}
}

// Run screens every sample and computes the scores. Any classifier failure
// aborts the run.
func (e *Engine) Run(ctx context.Context, samples []Sample) (*Results, error) {
	if len(samples) == 0 {
		return nil, errors.New("no samples to evaluate")
	}

	results := &Results{
		StartTime:   time.Now(),
		Predictions: make([]Prediction, 0, len(samples)),
	}

	log.Info().
		Int("samples", len(samples)).
		Int("batch_size", e.batchSize).
		Msg("Starting evaluation")

	for start := 0; start < len(samples); start += e.batchSize {
		end := start + e.batchSize
		if end > len(samples) {
			end = len(samples)
		}
		chunk := samples[start:end]

		vectors := make([]panel.Vector, len(chunk))
		for i, s := range chunk {
			vectors[i] = s.Values
		}
		out, err := e.formatter.PredictBatch(ctx, vectors)
		if err != nil {
			return nil, fmt.Errorf("rows %d-%d: %w", chunk[0].Row, chunk[len(chunk)-1].Row, err)
		}

		for i, res := range out {
			results.Predictions = append(results.Predictions, Prediction{
				Sample:  chunk[i],
				Result:  res,
				Correct: res.Class == chunk[i].Truth,
			})
		}
	}

	e.calculateMetrics(results)
	results.EndTime = time.Now()

	log.Info().
		Int("total", results.Total).
		Float64("accuracy", results.Accuracy).
		Float64("log_loss", results.LogLoss).
		Dur("duration", results.EndTime.Sub(results.StartTime)).
		Msg("Evaluation completed")

	return results, nil
}

func (e *Engine) calculateMetrics(r *Results) {
	labels := e.formatter.Labels()
	classes := labels.Classes()
	pos := make(map[int]int, len(classes))
	r.Labels = make([]string, len(classes))
	r.Classes = make([]ClassStats, len(classes))
	r.Confusion = make([][]int, len(classes))
	for i, c := range classes {
		pos[c] = i
		name, _ := labels.Label(c)
		r.Labels[i] = name
		r.Classes[i] = ClassStats{Class: c, Label: name}
		r.Confusion[i] = make([]int, len(classes))
	}

	var logLoss, brier float64
	for _, p := range r.Predictions {
		r.Total++
		if p.Correct {
			r.Correct++
		}
		if ti, ok := pos[p.Truth]; ok {
			if pi, ok := pos[p.Result.Class]; ok {
				r.Confusion[ti][pi]++
			}
		}

		for _, lp := range p.Result.Probabilities {
			target := 0.0
			if lp.Class == p.Truth {
				target = 1
				logLoss -= math.Log(math.Max(lp.Probability, epsilon))
			}
			d := lp.Probability - target
			brier += d * d
		}
	}
	if r.Total == 0 {
		return
	}

	r.Accuracy = float64(r.Correct) / float64(r.Total)
	r.LogLoss = logLoss / float64(r.Total)
	r.Brier = brier / float64(r.Total)

	var f1Sum float64
	for i := range r.Classes {
		cs := &r.Classes[i]
		for j := range r.Classes {
			n := r.Confusion[i][j]
			cs.Support += n
			r.Classes[j].Predicted += n
			if i == j {
				cs.TP = n
			} else {
				cs.FN += n
				r.Classes[j].FP += n
			}
		}
	}
	for i := range r.Classes {
		cs := &r.Classes[i]
		cs.Precision = ratio(cs.TP, cs.TP+cs.FP)
		cs.Recall = ratio(cs.TP, cs.TP+cs.FN)
		if cs.Precision+cs.Recall > 0 {
			cs.F1 = 2 * cs.Precision * cs.Recall / (cs.Precision + cs.Recall)
		}
		f1Sum += cs.F1
	}
	r.MacroF1 = f1Sum / float64(len(r.Classes))
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}
