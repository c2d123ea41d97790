package regress

import (
	"fmt"

	"github.com/montanaflynn/stats"
)

// RidgeTrainer fits a standardized polynomial ridge regression:
// expand to degree-2 terms, scale to zero mean / unit variance, then
// solve the L2-regularized normal equations.
type RidgeTrainer struct {
	Alpha  float64
	Degree int
}

func NewRidgeTrainer(alpha float64) *RidgeTrainer {
	return &RidgeTrainer{Alpha: alpha, Degree: 2}
}

// RidgeModel is the fitted estimator. Fields are exported so the model
// round-trips through JSON as a stored artifact.
type RidgeModel struct {
	Alpha     float64   `json:"alpha"`
	Degree    int       `json:"degree"`
	Means     []float64 `json:"means"`
	Stds      []float64 `json:"stds"`
	Weights   []float64 `json:"weights"`
	Intercept float64   `json:"intercept"`
}

func (t *RidgeTrainer) Train(x [][]float64, y []float64) (Model, error) {
	if err := validate(x, y); err != nil {
		return nil, err
	}

	expanded := make([][]float64, len(x))
	for i, row := range x {
		expanded[i] = polyExpand(row, t.Degree)
	}

	means, stds, err := fitScaler(expanded)
	if err != nil {
		return nil, fmt.Errorf("fit scaler: %w", err)
	}
	for i := range expanded {
		expanded[i] = applyScaler(expanded[i], means, stds)
	}

	// Center the target so the intercept falls out of the solve.
	yMean, err := stats.Mean(stats.Float64Data(y))
	if err != nil {
		return nil, fmt.Errorf("target mean: %w", err)
	}
	centered := make([]float64, len(y))
	for i, v := range y {
		centered[i] = v - yMean
	}

	weights, err := solveRidge(expanded, centered, t.Alpha)
	if err != nil {
		return nil, err
	}

	return &RidgeModel{
		Alpha:     t.Alpha,
		Degree:    t.Degree,
		Means:     means,
		Stds:      stds,
		Weights:   weights,
		Intercept: yMean,
	}, nil
}

func (m *RidgeModel) Predict(features []float64) float64 {
	row := applyScaler(polyExpand(features, m.Degree), m.Means, m.Stds)
	sum := m.Intercept
	for i, w := range m.Weights {
		if i < len(row) {
			sum += w * row[i]
		}
	}
	return sum
}

// polyExpand appends all degree-2 interaction and square terms to the
// raw features. Degree 1 returns a copy unchanged.
func polyExpand(row []float64, degree int) []float64 {
	out := make([]float64, len(row), len(row)*(len(row)+3)/2)
	copy(out, row)
	if degree < 2 {
		return out
	}
	for i := 0; i < len(row); i++ {
		for j := i; j < len(row); j++ {
			out = append(out, row[i]*row[j])
		}
	}
	return out
}

func fitScaler(x [][]float64) (means, stds []float64, err error) {
	width := len(x[0])
	means = make([]float64, width)
	stds = make([]float64, width)
	col := make([]float64, len(x))
	for j := 0; j < width; j++ {
		for i := range x {
			col[i] = x[i][j]
		}
		if means[j], err = stats.Mean(stats.Float64Data(col)); err != nil {
			return nil, nil, err
		}
		if stds[j], err = stats.StandardDeviationPopulation(stats.Float64Data(col)); err != nil {
			return nil, nil, err
		}
		if stds[j] == 0 {
			stds[j] = 1 // constant column scales to zero, not NaN
		}
	}
	return means, stds, nil
}

func applyScaler(row, means, stds []float64) []float64 {
	out := make([]float64, len(row))
	for i := range row {
		out[i] = (row[i] - means[i]) / stds[i]
	}
	return out
}

// solveRidge solves (XᵀX + αI) w = Xᵀy by Gaussian elimination with
// partial pivoting. The regularizer keeps the system well conditioned
// even with collinear polynomial terms.
func solveRidge(x [][]float64, y []float64, alpha float64) ([]float64, error) {
	n := len(x)
	p := len(x[0])

	a := make([][]float64, p)
	b := make([]float64, p)
	for i := 0; i < p; i++ {
		a[i] = make([]float64, p)
		for j := 0; j < p; j++ {
			var sum float64
			for k := 0; k < n; k++ {
				sum += x[k][i] * x[k][j]
			}
			a[i][j] = sum
		}
		a[i][i] += alpha
		for k := 0; k < n; k++ {
			b[i] += x[k][i] * y[k]
		}
	}

	for col := 0; col < p; col++ {
		pivot := col
		for r := col + 1; r < p; r++ {
			if abs(a[r][col]) > abs(a[pivot][col]) {
				pivot = r
			}
		}
		if a[pivot][col] == 0 {
			return nil, fmt.Errorf("regress: singular system at column %d", col)
		}
		a[col], a[pivot] = a[pivot], a[col]
		b[col], b[pivot] = b[pivot], b[col]

		for r := col + 1; r < p; r++ {
			f := a[r][col] / a[col][col]
			for c := col; c < p; c++ {
				a[r][c] -= f * a[col][c]
			}
			b[r] -= f * b[col]
		}
	}

	w := make([]float64, p)
	for i := p - 1; i >= 0; i-- {
		sum := b[i]
		for j := i + 1; j < p; j++ {
			sum -= a[i][j] * w[j]
		}
		w[i] = sum / a[i][i]
	}
	return w, nil
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
