// Package ml turns a laboratory panel into a screening result. It loads the
// serialized classifier once at start-up, resolves predicted classes through a
// per-deployment label table, and exposes the prediction over a JSON API.
//
// The classifier is treated as an opaque collaborator: anything that can
// predict a class and a class-probability row for a batch of vectors can back
// a Formatter.
package ml

// Classifier is the contract a trained model must satisfy.
type Classifier interface {
	// PredictClass returns the predicted class index for each row of the batch.
	PredictClass(batch [][]float64) ([]int, error)

	// PredictProba returns one probability row per input row. Column i is the
	// probability of class i; each row sums to 1.
	PredictProba(batch [][]float64) ([][]float64, error)

	// NumClasses is the number of probability columns the model produces.
	NumClasses() int
}

// MetricsInterface defines metrics methods needed by the formatter
type MetricsInterface interface {
	ScreeningInc(label string)
	ScreeningFailureInc(kind string)
	ScreeningLatencyObserve(seconds float64)
	ConfidenceObserve(p float64)
	CacheHitInc()
}
