package metrics

import (
	"math"
	"strings"
	"testing"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestAccuracy(t *testing.T) {
	got, err := Accuracy([]float64{1, 0, 1}, []float64{1, 1, 1})
	if err != nil {
		t.Fatalf("Accuracy error = %v", err)
	}
	if !almostEqual(got, 2.0/3.0) {
		t.Errorf("Accuracy = %v, want 2/3", got)
	}
}

func TestF1(t *testing.T) {
	tests := []struct {
		name   string
		preds  []float64
		labels []float64
		want   float64
	}{
		{
			name:   "mixed predictions",
			preds:  []float64{1, 1, 0, 1},
			labels: []float64{1, 0, 0, 1},
			want:   0.8, // precision 2/3, recall 1
		},
		{
			name:   "perfect",
			preds:  []float64{1, 0, 1},
			labels: []float64{1, 0, 1},
			want:   1,
		},
		{
			name:   "no true positives",
			preds:  []float64{0, 0, 0},
			labels: []float64{1, 1, 0},
			want:   0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := F1(tt.preds, tt.labels)
			if err != nil {
				t.Fatalf("F1 error = %v", err)
			}
			if !almostEqual(got, tt.want) {
				t.Errorf("F1 = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMatthewsCorrelation(t *testing.T) {
	tests := []struct {
		name   string
		preds  []float64
		labels []float64
		want   float64
	}{
		{
			name:   "perfect prediction",
			preds:  []float64{1, 0, 1, 0},
			labels: []float64{1, 0, 1, 0},
			want:   1,
		},
		{
			name:   "chance-level prediction",
			preds:  []float64{1, 1, 0, 0},
			labels: []float64{1, 0, 1, 0},
			want:   0,
		},
		{
			name:   "inverted prediction",
			preds:  []float64{0, 1, 0, 1},
			labels: []float64{1, 0, 1, 0},
			want:   -1,
		},
		{
			name:   "single-class degenerate case",
			preds:  []float64{1, 1, 1},
			labels: []float64{1, 1, 1},
			want:   0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MatthewsCorrelation(tt.preds, tt.labels)
			if err != nil {
				t.Fatalf("MatthewsCorrelation error = %v", err)
			}
			if !almostEqual(got, tt.want) {
				t.Errorf("MatthewsCorrelation = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPearson(t *testing.T) {
	got, err := Pearson([]float64{1, 2, 3, 4, 5}, []float64{2, 4, 6, 8, 10})
	if err != nil {
		t.Fatalf("Pearson error = %v", err)
	}
	if !almostEqual(got, 1) {
		t.Errorf("Pearson of a linear relation = %v, want 1", got)
	}

	got, err = Pearson([]float64{1, 2, 3, 4, 5}, []float64{10, 8, 6, 4, 2})
	if err != nil {
		t.Fatalf("Pearson error = %v", err)
	}
	if !almostEqual(got, -1) {
		t.Errorf("Pearson of an inverse relation = %v, want -1", got)
	}
}

func TestSpearman(t *testing.T) {
	// Any monotonic relation ranks perfectly
	got, err := Spearman([]float64{10, 20, 30, 40}, []float64{1, 4, 9, 16})
	if err != nil {
		t.Fatalf("Spearman error = %v", err)
	}
	if !almostEqual(got, 1) {
		t.Errorf("Spearman of a monotonic relation = %v, want 1", got)
	}

	// Ties share the average rank: ranks of the predictions become
	// [1, 2.5, 2.5, 4] and the correlation drops to 3/sqrt(10)
	got, err = Spearman([]float64{1, 2, 2, 3}, []float64{1, 2, 3, 4})
	if err != nil {
		t.Fatalf("Spearman error = %v", err)
	}
	if !almostEqual(got, 3/math.Sqrt(10)) {
		t.Errorf("Spearman with ties = %v, want %v", got, 3/math.Sqrt(10))
	}
}

func TestMSE(t *testing.T) {
	got, err := MSE([]float64{1, 2}, []float64{0, 4})
	if err != nil {
		t.Fatalf("MSE error = %v", err)
	}
	if !almostEqual(got, 2.5) {
		t.Errorf("MSE = %v, want 2.5", got)
	}
}

func TestForTaskClassification(t *testing.T) {
	// Two metrics, so the result also carries their mean
	compute := ForTask([]string{"accuracy", "f1"}, false)

	result, err := compute(EvalPrediction{
		Predictions: [][]float64{
			{0.1, 0.9}, // 1
			{0.2, 0.8}, // 1
			{0.7, 0.3}, // 0
			{0.4, 0.6}, // 1
		},
		Labels: []float64{1, 0, 0, 1},
	})
	if err != nil {
		t.Fatalf("compute error = %v", err)
	}

	if len(result) != 3 {
		t.Errorf("Expected accuracy, f1 and combined_score, got %v", result)
	}
	if !almostEqual(result["accuracy"], 0.75) {
		t.Errorf("accuracy = %v, want 0.75", result["accuracy"])
	}
	if !almostEqual(result["f1"], 0.8) {
		t.Errorf("f1 = %v, want 0.8", result["f1"])
	}
	if !almostEqual(result["combined_score"], 0.775) {
		t.Errorf("combined_score = %v, want 0.775", result["combined_score"])
	}
}

func TestForTaskSingleMetricHasNoCombinedScore(t *testing.T) {
	compute := ForTask([]string{"accuracy"}, false)
	result, err := compute(EvalPrediction{
		Predictions: [][]float64{{0.9, 0.1}, {0.2, 0.8}},
		Labels:      []float64{0, 1},
	})
	if err != nil {
		t.Fatalf("compute error = %v", err)
	}
	if _, ok := result["combined_score"]; ok {
		t.Error("A single metric should not produce combined_score")
	}
	if !almostEqual(result["accuracy"], 1) {
		t.Errorf("accuracy = %v, want 1", result["accuracy"])
	}
}

func TestForTaskRegression(t *testing.T) {
	compute := ForTask([]string{"pearson", "spearmanr"}, true)

	result, err := compute(EvalPrediction{
		Predictions: [][]float64{{1.0}, {2.0}, {3.0}, {4.0}},
		Labels:      []float64{1, 2, 3, 5},
	})
	if err != nil {
		t.Fatalf("compute error = %v", err)
	}

	if result["pearson"] < 0.9 || result["pearson"] > 1 {
		t.Errorf("pearson = %v, want close to 1", result["pearson"])
	}
	if !almostEqual(result["spearmanr"], 1) {
		t.Errorf("spearmanr = %v, want 1", result["spearmanr"])
	}
	wantCombined := (result["pearson"] + result["spearmanr"]) / 2
	if !almostEqual(result["combined_score"], wantCombined) {
		t.Errorf("combined_score = %v, want %v", result["combined_score"], wantCombined)
	}
}

func TestForTaskErrors(t *testing.T) {
	tests := []struct {
		name       string
		names      []string
		regression bool
		prediction EvalPrediction
		errMsg     string
	}{
		{
			name:       "unknown metric",
			names:      []string{"bleu"},
			prediction: EvalPrediction{Predictions: [][]float64{{0, 1}}, Labels: []float64{1}},
			errMsg:     "unknown metric",
		},
		{
			name:       "no predictions",
			names:      []string{"accuracy"},
			prediction: EvalPrediction{Labels: []float64{1}},
			errMsg:     "no predictions",
		},
		{
			name:       "length mismatch",
			names:      []string{"accuracy"},
			prediction: EvalPrediction{Predictions: [][]float64{{0, 1}}, Labels: []float64{1, 0}},
			errMsg:     "for 2 labels",
		},
		{
			name:       "regression with multiple columns",
			names:      []string{"mse"},
			regression: true,
			prediction: EvalPrediction{Predictions: [][]float64{{1, 2}}, Labels: []float64{1}},
			errMsg:     "want 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ForTask(tt.names, tt.regression)(tt.prediction)
			if err == nil {
				t.Fatal("Expected an error")
			}
			if !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("Error = %v, should contain %q", err, tt.errMsg)
			}
		})
	}
}

func TestFallback(t *testing.T) {
	result, err := Fallback(true)(EvalPrediction{
		Predictions: [][]float64{{1}, {2}},
		Labels:      []float64{0, 4},
	})
	if err != nil {
		t.Fatalf("regression fallback error = %v", err)
	}
	if !almostEqual(result["mse"], 2.5) {
		t.Errorf("mse = %v, want 2.5", result["mse"])
	}

	result, err = Fallback(false)(EvalPrediction{
		Predictions: [][]float64{{0.1, 0.9}, {0.9, 0.1}, {0.1, 0.9}},
		Labels:      []float64{1, 1, 1},
	})
	if err != nil {
		t.Fatalf("classification fallback error = %v", err)
	}
	if !almostEqual(result["accuracy"], 2.0/3.0) {
		t.Errorf("accuracy = %v, want 2/3", result["accuracy"])
	}
}

func TestKnown(t *testing.T) {
	for _, name := range []string{"accuracy", "f1", "matthews_correlation", "pearson", "spearmanr", "mse"} {
		if !Known(name) {
			t.Errorf("Known(%q) = false, want true", name)
		}
	}
	if Known("rouge") {
		t.Error("Known(rouge) = true, want false")
	}
}
