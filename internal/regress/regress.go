// Package regress provides the small regression toolkit behind the
// throughput and cancellation models: a ridge pipeline over polynomial
// features and a gradient-boosted tree ensemble, both behind a common
// Trainer/Model pair so callers stay agnostic of the estimator.
package regress

import "errors"

// Model predicts a single value from a feature vector.
type Model interface {
	Predict(features []float64) float64
}

// Trainer fits a Model to a design matrix and target vector.
type Trainer interface {
	Train(x [][]float64, y []float64) (Model, error)
}

var (
	ErrNoData        = errors.New("regress: no training rows")
	ErrShapeMismatch = errors.New("regress: feature/target length mismatch")
)

func validate(x [][]float64, y []float64) error {
	if len(x) == 0 {
		return ErrNoData
	}
	if len(x) != len(y) {
		return ErrShapeMismatch
	}
	width := len(x[0])
	for _, row := range x {
		if len(row) != width {
			return ErrShapeMismatch
		}
	}
	return nil
}
