package models

import "time"

// Phase identifies a stage of an experiment run
type Phase string

const (
	// PhaseDatasets downloads or loads the train/validation splits
	PhaseDatasets Phase = "datasets"
	// PhaseLabels derives the label space from the task or the training split
	PhaseLabels Phase = "labels"
	// PhaseRemap reconciles model label ids against the dataset label order
	PhaseRemap Phase = "remap"
	// PhasePreprocess tokenizes every split through the map cache
	PhasePreprocess Phase = "preprocess"
	// PhaseTrain hands the prepared run over to the training engine
	PhaseTrain Phase = "train"
	// PhaseEvaluate scores engine predictions and writes metric artifacts
	PhaseEvaluate Phase = "evaluate"
	// PhaseComplete marks a run whose requested phases all finished
	PhaseComplete Phase = "complete"
)

// LabelSpace describes the output space derived for a run
type LabelSpace struct {
	Regression bool     `json:"regression"`
	Labels     []string `json:"labels,omitempty"`
	NumLabels  int      `json:"num_labels"`
}

// SplitRef points the engine at one materialized dataset split
type SplitRef struct {
	Name    string `json:"name"`
	Path    string `json:"path"`
	NumRows int    `json:"num_rows"`
}

// TokenizerSettings records the tokenization identity baked into a run
type TokenizerSettings struct {
	Encoding       string `json:"encoding"`
	MaxSeqLength   int    `json:"max_seq_length"`
	PadToMaxLength bool   `json:"pad_to_max_length"`
}

// RunManifest is the contract handed to the external training engine
type RunManifest struct {
	RunID       string            `json:"run_id"`
	Task        string            `json:"task,omitempty"`
	ModelName   string            `json:"model_name"`
	OutputDir   string            `json:"output_dir"`
	LabelSpace  LabelSpace        `json:"label_space"`
	Splits      []SplitRef        `json:"splits"`
	Tokenizer   TokenizerSettings `json:"tokenizer"`
	Seed        int64             `json:"seed"`
	DoTrain     bool              `json:"do_train"`
	DoEval      bool              `json:"do_eval"`
	MetricNames []string          `json:"metric_names"`
	CreatedAt   time.Time         `json:"created_at"`
}

// PredictionRecord is one row of the engine's predictions file
type PredictionRecord struct {
	Index  int       `json:"index"`
	Logits []float64 `json:"logits"`
}

// EvalReport captures the metric values for one evaluated split
type EvalReport struct {
	Split       string             `json:"split"`
	NumExamples int                `json:"num_examples"`
	Metrics     map[string]float64 `json:"metrics"`
}

// TimingReport captures wall-clock cost of an evaluation pass
type TimingReport struct {
	EvalRuntimeSeconds float64 `json:"eval_runtime_seconds"`
	SamplesPerSecond   float64 `json:"samples_per_second"`
}

// RunState is the persisted record of an experiment run
type RunState struct {
	ID         string    `json:"id"`
	ConfigHash string    `json:"config_hash"`
	Phase      Phase     `json:"phase"`
	Completed  []Phase   `json:"completed,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// RunStats tracks counters for a finished run
type RunStats struct {
	StartTime      time.Time
	EndTime        time.Time
	TrainRows      int
	ValidationRows int
	CacheHits      int
	CacheMisses    int
	TotalDuration  time.Duration
}
