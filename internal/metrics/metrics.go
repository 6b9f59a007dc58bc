package metrics

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// EvalPrediction pairs raw model outputs with reference labels
type EvalPrediction struct {
	// Predictions holds one row of logits per example. Regression models
	// produce single-column rows.
	Predictions [][]float64
	// Labels holds class ids for classification and scores for regression.
	Labels []float64
}

// ComputeFunc scores a full evaluation pass
type ComputeFunc func(EvalPrediction) (map[string]float64, error)

// metricFunc scores one already-flattened prediction vector.
type metricFunc func(preds, labels []float64) (float64, error)

var providers = map[string]metricFunc{
	"accuracy":             Accuracy,
	"f1":                   F1,
	"matthews_correlation": MatthewsCorrelation,
	"pearson":              Pearson,
	"spearmanr":            Spearman,
	"mse":                  MSE,
}

// Known reports whether a metric name has a provider
func Known(name string) bool {
	_, ok := providers[name]
	return ok
}

// ForTask returns the computation for a task's metric names. Regression
// predictions are squeezed to their single column, classification predictions
// are reduced to the argmax class. When more than one metric is produced the
// result also carries their mean under combined_score.
func ForTask(names []string, regression bool) ComputeFunc {
	return func(p EvalPrediction) (map[string]float64, error) {
		preds, err := flatten(p.Predictions, regression)
		if err != nil {
			return nil, err
		}
		if len(preds) != len(p.Labels) {
			return nil, fmt.Errorf("got %d predictions for %d labels", len(preds), len(p.Labels))
		}

		result := make(map[string]float64, len(names)+1)
		for _, name := range names {
			fn, ok := providers[name]
			if !ok {
				return nil, fmt.Errorf("unknown metric %q", name)
			}
			value, err := fn(preds, p.Labels)
			if err != nil {
				return nil, fmt.Errorf("failed to compute %s: %w", name, err)
			}
			result[name] = value
		}

		if len(result) > 1 {
			sum := 0.0
			for _, v := range result {
				sum += v
			}
			result["combined_score"] = sum / float64(len(result))
		}

		return result, nil
	}
}

// Fallback returns the computation used when no task is named: mean squared
// error for regression, accuracy otherwise.
func Fallback(regression bool) ComputeFunc {
	if regression {
		return ForTask([]string{"mse"}, true)
	}
	return ForTask([]string{"accuracy"}, false)
}

// flatten reduces logit rows to a single value per example.
func flatten(predictions [][]float64, regression bool) ([]float64, error) {
	if len(predictions) == 0 {
		return nil, fmt.Errorf("no predictions to score")
	}

	out := make([]float64, len(predictions))
	for i, row := range predictions {
		if len(row) == 0 {
			return nil, fmt.Errorf("prediction %d is empty", i)
		}
		if regression {
			if len(row) != 1 {
				return nil, fmt.Errorf("regression prediction %d has %d columns, want 1", i, len(row))
			}
			out[i] = row[0]
			continue
		}
		out[i] = float64(floats.MaxIdx(row))
	}
	return out, nil
}

// Accuracy is the fraction of predictions equal to their labels
func Accuracy(preds, labels []float64) (float64, error) {
	if err := sameLength(preds, labels); err != nil {
		return 0, err
	}
	correct := 0
	for i := range preds {
		if preds[i] == labels[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(preds)), nil
}

// F1 is the binary F1 score with class 1 as the positive class
func F1(preds, labels []float64) (float64, error) {
	if err := sameLength(preds, labels); err != nil {
		return 0, err
	}

	var tp, fp, fn float64
	for i := range preds {
		switch {
		case preds[i] == 1 && labels[i] == 1:
			tp++
		case preds[i] == 1 && labels[i] != 1:
			fp++
		case preds[i] != 1 && labels[i] == 1:
			fn++
		}
	}

	if tp == 0 {
		return 0, nil
	}
	precision := tp / (tp + fp)
	recall := tp / (tp + fn)
	return 2 * precision * recall / (precision + recall), nil
}

// MSE is the mean squared error between predictions and labels
func MSE(preds, labels []float64) (float64, error) {
	if err := sameLength(preds, labels); err != nil {
		return 0, err
	}
	sum := 0.0
	for i := range preds {
		d := preds[i] - labels[i]
		sum += d * d
	}
	return sum / float64(len(preds)), nil
}

// MatthewsCorrelation is the multiclass Matthews correlation coefficient.
// A degenerate confusion matrix scores 0.
func MatthewsCorrelation(preds, labels []float64) (float64, error) {
	if err := sameLength(preds, labels); err != nil {
		return 0, err
	}

	classes := make(map[float64]int)
	for i := range preds {
		if _, ok := classes[preds[i]]; !ok {
			classes[preds[i]] = len(classes)
		}
		if _, ok := classes[labels[i]]; !ok {
			classes[labels[i]] = len(classes)
		}
	}

	k := len(classes)
	confusion := make([][]float64, k)
	for i := range confusion {
		confusion[i] = make([]float64, k)
	}
	for i := range preds {
		confusion[classes[labels[i]]][classes[preds[i]]]++
	}

	var correct, total float64
	predicted := make([]float64, k)
	actual := make([]float64, k)
	for t := 0; t < k; t++ {
		correct += confusion[t][t]
		for p := 0; p < k; p++ {
			total += confusion[t][p]
			actual[t] += confusion[t][p]
			predicted[p] += confusion[t][p]
		}
	}

	var crossSum, predSq, actualSq float64
	for i := 0; i < k; i++ {
		crossSum += predicted[i] * actual[i]
		predSq += predicted[i] * predicted[i]
		actualSq += actual[i] * actual[i]
	}

	numerator := correct*total - crossSum
	denominator := math.Sqrt(total*total-predSq) * math.Sqrt(total*total-actualSq)
	if denominator == 0 {
		return 0, nil
	}
	return numerator / denominator, nil
}

// Pearson is the Pearson correlation between predictions and labels
func Pearson(preds, labels []float64) (float64, error) {
	if err := sameLength(preds, labels); err != nil {
		return 0, err
	}
	return stat.Correlation(preds, labels, nil), nil
}

// Spearman is the Spearman rank correlation between predictions and labels
func Spearman(preds, labels []float64) (float64, error) {
	if err := sameLength(preds, labels); err != nil {
		return 0, err
	}
	return stat.Correlation(ranks(preds), ranks(labels), nil), nil
}

// ranks assigns average ranks to values, sharing the mean rank across ties.
func ranks(values []float64) []float64 {
	n := len(values)
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool { return values[idx[a]] < values[idx[b]] })

	out := make([]float64, n)
	for i := 0; i < n; {
		j := i
		for j+1 < n && values[idx[j+1]] == values[idx[i]] {
			j++
		}
		avg := float64(i+j)/2 + 1
		for k := i; k <= j; k++ {
			out[idx[k]] = avg
		}
		i = j + 1
	}
	return out
}

func sameLength(preds, labels []float64) error {
	if len(preds) == 0 {
		return fmt.Errorf("no predictions to score")
	}
	if len(preds) != len(labels) {
		return fmt.Errorf("got %d predictions for %d labels", len(preds), len(labels))
	}
	return nil
}
