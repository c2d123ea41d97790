package regress

import (
	"encoding/json"
	"math"
	"testing"
)

func TestRidge_RecoversLinearTrend(t *testing.T) {
	// y = 3x + 7 with a little curvature the poly terms can absorb.
	var x [][]float64
	var y []float64
	for i := 0; i < 50; i++ {
		v := float64(i)
		x = append(x, []float64{v})
		y = append(y, 3*v+7)
	}

	model, err := NewRidgeTrainer(1.0).Train(x, y)
	if err != nil {
		t.Fatalf("Train: %v", err)
	}

	for _, v := range []float64{5, 25, 45} {
		got := model.Predict([]float64{v})
		want := 3*v + 7
		if math.Abs(got-want) > 2.0 {
			t.Errorf("Predict(%f) = %f, want ~%f", v, got, want)
		}
	}
}

func TestRidge_ConstantColumnDoesNotBlowUp(t *testing.T) {
	x := [][]float64{{1, 5}, {2, 5}, {3, 5}, {4, 5}, {5, 5}}
	y := []float64{2, 4, 6, 8, 10}

	model, err := NewRidgeTrainer(1.0).Train(x, y)
	if err != nil {
		t.Fatalf("Train: %v", err)
	}
	got := model.Predict([]float64{3, 5})
	if math.IsNaN(got) || math.IsInf(got, 0) {
		t.Fatalf("Predict returned %f", got)
	}
	if math.Abs(got-6) > 1.5 {
		t.Errorf("Predict = %f, want ~6", got)
	}
}

func TestRidge_RoundTripsThroughJSON(t *testing.T) {
	x := [][]float64{{1}, {2}, {3}, {4}, {5}, {6}}
	y := []float64{2, 4, 6, 8, 10, 12}

	model, err := NewRidgeTrainer(1.0).Train(x, y)
	if err != nil {
		t.Fatalf("Train: %v", err)
	}

	payload, err := json.Marshal(model)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var restored RidgeModel
	if err := json.Unmarshal(payload, &restored); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	orig := model.Predict([]float64{4})
	got := restored.Predict([]float64{4})
	if math.Abs(orig-got) > 1e-9 {
		t.Errorf("restored Predict = %f, want %f", got, orig)
	}
}

func TestGBM_FitsStepFunction(t *testing.T) {
	// Two regimes a single tree split should find immediately.
	var x [][]float64
	var y []float64
	for i := 0; i < 40; i++ {
		v := float64(i)
		x = append(x, []float64{v})
		if v < 20 {
			y = append(y, 100)
		} else {
			y = append(y, 500)
		}
	}

	model, err := NewGBMTrainer().Train(x, y)
	if err != nil {
		t.Fatalf("Train: %v", err)
	}

	if got := model.Predict([]float64{5}); math.Abs(got-100) > 20 {
		t.Errorf("Predict(5) = %f, want ~100", got)
	}
	if got := model.Predict([]float64{35}); math.Abs(got-500) > 20 {
		t.Errorf("Predict(35) = %f, want ~500", got)
	}
}

func TestGBM_ConstantTarget(t *testing.T) {
	x := [][]float64{{1}, {2}, {3}, {4}, {5}, {6}, {7}, {8}, {9}, {10}}
	y := []float64{7, 7, 7, 7, 7, 7, 7, 7, 7, 7}

	model, err := NewGBMTrainer().Train(x, y)
	if err != nil {
		t.Fatalf("Train: %v", err)
	}
	if got := model.Predict([]float64{100}); math.Abs(got-7) > 1e-6 {
		t.Errorf("Predict = %f, want 7", got)
	}
}

func TestTrain_Validation(t *testing.T) {
	trainers := []Trainer{NewRidgeTrainer(1.0), NewGBMTrainer()}
	for _, tr := range trainers {
		if _, err := tr.Train(nil, nil); err != ErrNoData {
			t.Errorf("empty train err = %v, want ErrNoData", err)
		}
		if _, err := tr.Train([][]float64{{1}}, []float64{1, 2}); err != ErrShapeMismatch {
			t.Errorf("mismatched train err = %v, want ErrShapeMismatch", err)
		}
	}
}
