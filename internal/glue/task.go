package glue

import (
	"fmt"
	"sort"
	"strings"

	"github.com/samber/lo"
)

// Task describes one benchmark task: which columns hold the text segments,
// whether the target is a score or a class, and how the task is scored.
type Task struct {
	Name            string
	FieldA          string
	FieldB          string
	Regression      bool
	Metrics         []string
	ValidationSplit string
	TestSplit       string
}

// Pair reports whether the task classifies a sentence pair
func (t Task) Pair() bool {
	return t.FieldB != ""
}

var tasks = map[string]Task{
	"cola": {
		Name:            "cola",
		FieldA:          "sentence",
		Metrics:         []string{"matthews_correlation"},
		ValidationSplit: "validation",
		TestSplit:       "test",
	},
	"mnli": {
		Name:            "mnli",
		FieldA:          "premise",
		FieldB:          "hypothesis",
		Metrics:         []string{"accuracy"},
		ValidationSplit: "validation_matched",
		TestSplit:       "test_matched",
	},
	"mrpc": {
		Name:            "mrpc",
		FieldA:          "sentence1",
		FieldB:          "sentence2",
		Metrics:         []string{"accuracy", "f1"},
		ValidationSplit: "validation",
		TestSplit:       "test",
	},
	"qnli": {
		Name:            "qnli",
		FieldA:          "question",
		FieldB:          "sentence",
		Metrics:         []string{"accuracy"},
		ValidationSplit: "validation",
		TestSplit:       "test",
	},
	"qqp": {
		Name:            "qqp",
		FieldA:          "question1",
		FieldB:          "question2",
		Metrics:         []string{"accuracy", "f1"},
		ValidationSplit: "validation",
		TestSplit:       "test",
	},
	"rte": {
		Name:            "rte",
		FieldA:          "sentence1",
		FieldB:          "sentence2",
		Metrics:         []string{"accuracy"},
		ValidationSplit: "validation",
		TestSplit:       "test",
	},
	"sst2": {
		Name:            "sst2",
		FieldA:          "sentence",
		Metrics:         []string{"accuracy"},
		ValidationSplit: "validation",
		TestSplit:       "test",
	},
	"stsb": {
		Name:            "stsb",
		FieldA:          "sentence1",
		FieldB:          "sentence2",
		Regression:      true,
		Metrics:         []string{"pearson", "spearmanr"},
		ValidationSplit: "validation",
		TestSplit:       "test",
	},
	"wnli": {
		Name:            "wnli",
		FieldA:          "sentence1",
		FieldB:          "sentence2",
		Metrics:         []string{"accuracy"},
		ValidationSplit: "validation",
		TestSplit:       "test",
	},
}

// Names returns the known task names in sorted order
func Names() []string {
	names := lo.Keys(tasks)
	sort.Strings(names)
	return names
}

// Resolve looks up a task by name, ignoring case
func Resolve(name string) (Task, error) {
	task, ok := tasks[strings.ToLower(name)]
	if !ok {
		return Task{}, fmt.Errorf("unknown task %q, pick one of: %s", name, strings.Join(Names(), ", "))
	}
	return task, nil
}
