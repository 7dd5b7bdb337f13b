package ml

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrMissingModel means the classifier artifact could not be found or loaded.
	ErrMissingModel = errors.New("model unavailable")

	// ErrInvalidModel is returned for an artifact that exists but cannot be
	// used. It wraps ErrMissingModel so callers treating any load failure as
	// fatal only need one check.
	ErrInvalidModel = fmt.Errorf("%w: invalid model artifact", ErrMissingModel)

	// ErrInvalidInput means the feature vector does not fit the classifier.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnknownClass means the classifier produced a class that has no label.
	ErrUnknownClass = errors.New("unknown class")

	// ErrInvalidOutput means the classifier returned a malformed probability row.
	ErrInvalidOutput = errors.New("invalid classifier output")
)

// Failure kinds reported to metrics.
const (
	KindInvalidInput  = "invalid_input"
	KindUnknownClass  = "unknown_class"
	KindInvalidOutput = "invalid_output"
	KindCanceled      = "canceled"
	KindOther         = "other"
)

// ErrorKind classifies an error returned by the formatter.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, ErrInvalidInput):
		return KindInvalidInput
	case errors.Is(err, ErrUnknownClass):
		return KindUnknownClass
	case errors.Is(err, ErrInvalidOutput):
		return KindInvalidOutput
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	default:
		return KindOther
	}
}
