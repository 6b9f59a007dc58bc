package glue

import (
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sort"
	"strings"

	"github.com/samber/lo"

	"github.com/prunekit/gluetune/internal/dataset"
	"github.com/prunekit/gluetune/pkg/models"
)

// LabelColumn is the column every split stores its target under
const LabelColumn = "label"

// DefaultLabel2ID returns the placeholder mapping a freshly initialized
// classifier carries: LABEL_0 through LABEL_{n-1} in id order. A pretrained
// model whose mapping equals this one was never fine-tuned with real labels.
func DefaultLabel2ID(numLabels int) map[string]int {
	m := make(map[string]int, numLabels)
	for i := 0; i < numLabels; i++ {
		m[fmt.Sprintf("LABEL_%d", i)] = i
	}
	return m
}

// DeriveLabelSpace determines the output space of a run from the training
// split. Task sources are regression exactly when the task says so and take
// their class names from the split's declared label feature. File sources are
// regression when the label column holds floats, and otherwise classify over
// the sorted distinct values of the label column.
func DeriveLabelSpace(source *Source, train *dataset.Split) (models.LabelSpace, error) {
	if source.Kind == SourceTask {
		if source.Task.Regression {
			return models.LabelSpace{Regression: true, NumLabels: 1}, nil
		}

		feature, ok := train.Feature(LabelColumn)
		if !ok {
			return models.LabelSpace{}, fmt.Errorf("task %s training split has no %s column", source.Task.Name, LabelColumn)
		}
		if feature.Kind != dataset.KindClassLabel || len(feature.Names) == 0 {
			return models.LabelSpace{}, fmt.Errorf("task %s training split does not declare class labels", source.Task.Name)
		}

		labels := append([]string(nil), feature.Names...)
		return models.LabelSpace{Labels: labels, NumLabels: len(labels)}, nil
	}

	feature, ok := train.Feature(LabelColumn)
	if !ok {
		return models.LabelSpace{}, fmt.Errorf("training split %s has no %s column", train.Name, LabelColumn)
	}
	if feature.Kind == dataset.KindFloat {
		return models.LabelSpace{Regression: true, NumLabels: 1}, nil
	}

	labels, err := train.Unique(LabelColumn)
	if err != nil {
		return models.LabelSpace{}, fmt.Errorf("failed to collect label values: %w", err)
	}
	return models.LabelSpace{Labels: labels, NumLabels: len(labels)}, nil
}

// LabelIndex returns the value-to-index table for a classification space
func LabelIndex(space models.LabelSpace) map[string]int {
	index := make(map[string]int, len(space.Labels))
	for i, label := range space.Labels {
		index[label] = i
	}
	return index
}

// ResolveRemap reconciles a pretrained model's label mapping with the dataset
// label order. The result maps dataset label index to model label id. It is
// nil when no remapping applies: file sources, regression tasks, models still
// carrying the default mapping, or a model whose label names (lower-cased) do
// not cover exactly the dataset label set. The last case logs a warning and
// the run falls back to raw dataset indices.
func ResolveRemap(logger *slog.Logger, label2id map[string]int, source *Source, space models.LabelSpace) []int {
	if source.Kind != SourceTask || space.Regression {
		return nil
	}
	if len(label2id) == 0 || maps.Equal(label2id, DefaultLabel2ID(space.NumLabels)) {
		return nil
	}

	lowered := make(map[string]int, len(label2id))
	for name, id := range label2id {
		lowered[strings.ToLower(name)] = id
	}

	modelNames := lo.Keys(lowered)
	sort.Strings(modelNames)
	datasetNames := append([]string(nil), space.Labels...)
	sort.Strings(datasetNames)

	if !slices.Equal(modelNames, datasetNames) {
		logger.Warn("Model labels do not match the dataset labels, ignoring the model label mapping",
			"task", source.Task.Name,
			"model_labels", modelNames,
			"dataset_labels", datasetNames)
		return nil
	}

	remap := make([]int, space.NumLabels)
	for i, label := range space.Labels {
		remap[i] = lowered[label]
	}

	logger.Info("Reordering labels to match the model label mapping",
		"task", source.Task.Name,
		"remap", remap)
	return remap
}
