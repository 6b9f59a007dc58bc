package config

import (
	"fmt"
	"os"

	"github.com/prunekit/gluetune/internal/glue"
	"github.com/prunekit/gluetune/internal/run"
)

// Config represents the complete experiment configuration
type Config struct {
	Data     DataConfig     `toml:"data"`
	Model    ModelConfig    `toml:"model"`
	Training TrainingConfig `toml:"training"`
	Hub      HubConfig      `toml:"hub"`
	Engine   EngineConfig   `toml:"engine"`
}

// DataConfig holds task and preprocessing settings
type DataConfig struct {
	TaskName              string `toml:"task_name"`              // GLUE task name (empty when using files)
	TrainFile             string `toml:"train_file"`             // Local training file (csv/json/jsonl)
	ValidationFile        string `toml:"validation_file"`        // Local validation file (same extension as train_file)
	MaxSeqLength          int    `toml:"max_seq_length"`         // Token budget per example (default 128)
	PadToMaxLength        *bool  `toml:"pad_to_max_length"`      // Pad every example to max_seq_length (default true)
	OverwriteCache        bool   `toml:"overwrite_cache"`        // Recompute preprocessed splits even when cached
	CacheDir              string `toml:"cache_dir"`              // Root for downloaded and preprocessed data
	MaxTrainSamples       int    `toml:"max_train_samples"`      // Truncate the training split (0 = all)
	MaxEvalSamples        int    `toml:"max_eval_samples"`       // Truncate the evaluation split (0 = all)
	SampleLogCount        int    `toml:"sample_log_count"`       // Preprocessed examples logged per run (default 3)
	PreprocessConcurrency int    `toml:"preprocess_concurrency"` // Worker count for tokenization (0 = NumCPU)
}

// ModelConfig identifies the model whose head is being fitted to the task
type ModelConfig struct {
	Name              string `toml:"name"`               // Hub repo id or local checkpoint directory
	Revision          string `toml:"revision"`           // Hub revision (default "main")
	TokenizerEncoding string `toml:"tokenizer_encoding"` // Tokenizer encoding override (optional)
}

// TrainingConfig holds run-level switches passed through to the engine
type TrainingConfig struct {
	OutputDir     string `toml:"output_dir"`      // Base directory for run directories (default "runs")
	DoTrain       bool   `toml:"do_train"`        // Launch the engine in train mode
	DoEval        bool   `toml:"do_eval"`         // Evaluate after training (or standalone)
	Seed          int    `toml:"seed"`            // Sampling seed (default 42)
	ResumeFromRun string `toml:"resume_from_run"` // Run directory to resume from (e.g., "run_2025-10-27T12-34-56")
}

// HubConfig holds Hugging Face Hub settings
type HubConfig struct {
	Dataset           string `toml:"dataset"`             // Upstream dataset name (default "glue")
	RowsBaseURL       string `toml:"rows_base_url"`       // Datasets-server base URL override
	FilesBaseURL      string `toml:"files_base_url"`      // Repository file base URL override
	RequestsPerMinute int    `toml:"requests_per_minute"` // Hub rate limit (default 300)
	PushToHub         bool   `toml:"push_to_hub"`         // Upload run artifacts after evaluation
	RepoID            string `toml:"repo_id"`             // Target dataset repo for uploads (org/name)
}

// EngineConfig describes the external training engine executable
type EngineConfig struct {
	Command string   `toml:"command"` // Engine executable path
	Args    []string `toml:"args"`    // Extra arguments appended after the bridge flags
}

// Secrets holds sensitive credentials loaded from environment variables
type Secrets struct {
	HubToken     string
	EngineAPIKey string
}

const (
	// MaxSeqLengthLimit is the maximum allowed max_seq_length
	MaxSeqLengthLimit = 4096
	// MaxPreprocessConcurrency is the maximum allowed preprocessing worker count
	MaxPreprocessConcurrency = 256
)

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate the data source (task name, file pairing, extensions)
	if _, err := c.Source(); err != nil {
		return err
	}

	if c.Data.MaxSeqLength < 1 {
		return fmt.Errorf("data.max_seq_length must be at least 1 (got %d)", c.Data.MaxSeqLength)
	}
	if c.Data.MaxSeqLength > MaxSeqLengthLimit {
		return fmt.Errorf("data.max_seq_length must not exceed %d (got %d)", MaxSeqLengthLimit, c.Data.MaxSeqLength)
	}
	if c.Data.MaxTrainSamples < 0 {
		return fmt.Errorf("data.max_train_samples must not be negative (got %d)", c.Data.MaxTrainSamples)
	}
	if c.Data.MaxEvalSamples < 0 {
		return fmt.Errorf("data.max_eval_samples must not be negative (got %d)", c.Data.MaxEvalSamples)
	}
	if c.Data.SampleLogCount < 0 {
		return fmt.Errorf("data.sample_log_count must not be negative (got %d)", c.Data.SampleLogCount)
	}
	if c.Data.PreprocessConcurrency < 0 || c.Data.PreprocessConcurrency > MaxPreprocessConcurrency {
		return fmt.Errorf("data.preprocess_concurrency must be between 0 and %d (got %d)", MaxPreprocessConcurrency, c.Data.PreprocessConcurrency)
	}

	if c.Model.Name == "" {
		return fmt.Errorf("model.name is required")
	}

	if c.Hub.RequestsPerMinute < 1 {
		return fmt.Errorf("hub.requests_per_minute must be at least 1 (got %d)", c.Hub.RequestsPerMinute)
	}
	if c.Hub.PushToHub && c.Hub.RepoID == "" {
		return fmt.Errorf("hub.repo_id is required when push_to_hub is enabled")
	}

	// Training the model needs an engine to hand off to
	if c.Training.DoTrain && c.Engine.Command == "" {
		return fmt.Errorf("engine.command is required when training.do_train is enabled")
	}

	if c.Training.ResumeFromRun != "" {
		if err := run.ValidateRunName(c.Training.OutputDir, c.Training.ResumeFromRun); err != nil {
			return fmt.Errorf("training.resume_from_run: %w", err)
		}
	}

	return nil
}

// Source builds the task/file source described by the [data] section
func (c *Config) Source() (*glue.Source, error) {
	return glue.NewSource(c.Data.TaskName, c.Data.TrainFile, c.Data.ValidationFile)
}

// PadToMaxLength reports the effective padding strategy
func (c *Config) PadToMaxLength() bool {
	// Unset means pad to max_seq_length, matching the benchmark's reference setup
	if c.Data.PadToMaxLength == nil {
		return true
	}
	return *c.Data.PadToMaxLength
}

// LoadSecrets loads sensitive credentials from environment variables
func LoadSecrets() (*Secrets, error) {
	secrets := &Secrets{}

	// Load hub token (either name works; the explicit one wins)
	secrets.HubToken = os.Getenv("GLUETUNE_HUB_TOKEN")
	if secrets.HubToken == "" {
		secrets.HubToken = os.Getenv("HUGGING_FACE_TOKEN")
	}

	// Generic API key passed through to engine children
	secrets.EngineAPIKey = os.Getenv("API_KEY")

	return secrets, nil
}
