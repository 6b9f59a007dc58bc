package glue

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/samber/lo"

	"github.com/prunekit/gluetune/internal/dataset"
)

// SourceKind discriminates where a run's splits come from
type SourceKind string

const (
	// SourceTask loads a named benchmark task from the hub
	SourceTask SourceKind = "task"
	// SourceFiles loads user-provided train and validation files
	SourceFiles SourceKind = "files"
)

// Source identifies the dataset behind a run. Exactly one of the two variants
// is populated: Task for SourceTask, the file paths for SourceFiles.
type Source struct {
	Kind SourceKind

	Task Task

	TrainFile      string
	ValidationFile string
}

// NewSource builds the dataset source from configuration values. A task name
// wins over file paths; without one, both files must be given and share a
// supported extension.
func NewSource(taskName, trainFile, validationFile string) (*Source, error) {
	if taskName != "" {
		task, err := Resolve(taskName)
		if err != nil {
			return nil, err
		}
		return &Source{Kind: SourceTask, Task: task}, nil
	}

	if trainFile == "" || validationFile == "" {
		return nil, fmt.Errorf("either a task name or both train_file and validation_file are required")
	}

	trainExt := fileExtension(trainFile)
	if !supportedExtension(trainExt) {
		return nil, fmt.Errorf("unsupported extension %q for train_file %s (want csv, json or jsonl)", trainExt, trainFile)
	}
	validationExt := fileExtension(validationFile)
	if validationExt != trainExt {
		return nil, fmt.Errorf("validation_file should have the same extension (%s) as train_file, got %q", trainExt, validationExt)
	}

	return &Source{
		Kind:           SourceFiles,
		TrainFile:      trainFile,
		ValidationFile: validationFile,
	}, nil
}

// TaskName returns the task name for task sources and "" otherwise
func (s *Source) TaskName() string {
	if s.Kind == SourceTask {
		return s.Task.Name
	}
	return ""
}

// ResolveFields determines which columns hold the text segments. Task sources
// use the fixed table entry. File sources prefer a sentence1/sentence2 pair,
// then the first two non-label columns, then a single text column.
func (s *Source) ResolveFields(train *dataset.Split) (string, string, error) {
	if s.Kind == SourceTask {
		return s.Task.FieldA, s.Task.FieldB, nil
	}

	if train.HasColumn("sentence1") && train.HasColumn("sentence2") {
		return "sentence1", "sentence2", nil
	}

	candidates := lo.Filter(train.ColumnNames(), func(name string, _ int) bool {
		return name != "label"
	})
	switch len(candidates) {
	case 0:
		return "", "", fmt.Errorf("training split %s has no usable text columns", train.Name)
	case 1:
		return candidates[0], "", nil
	default:
		return candidates[0], candidates[1], nil
	}
}

// LoadFileSplit reads one user-provided split from disk, choosing the loader
// by file extension.
func LoadFileSplit(name, path string) (*dataset.Split, error) {
	ext := fileExtension(path)
	switch ext {
	case "csv":
		return dataset.LoadCSV(name, path)
	case "json", "jsonl":
		return dataset.LoadJSON(name, path, nil)
	default:
		return nil, fmt.Errorf("unsupported extension %q for data file %s", ext, path)
	}
}

func fileExtension(path string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
}

func supportedExtension(ext string) bool {
	switch ext {
	case "csv", "json", "jsonl":
		return true
	default:
		return false
	}
}
