package run

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// Manager manages run directories and files
type Manager struct {
	runDir string
	logger *slog.Logger
}

// NewManager creates a new run manager
func NewManager(logger *slog.Logger, baseDir, resumeFromRun string) (*Manager, error) {
	// Create base directory if it doesn't exist
	if baseDir == "" {
		baseDir = "runs"
	}
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create runs directory: %w", err)
	}

	var runDir string
	if resumeFromRun != "" {
		// Resume mode: use existing run directory
		runDir = filepath.Join(baseDir, resumeFromRun)
		if _, err := os.Stat(runDir); os.IsNotExist(err) {
			return nil, fmt.Errorf("run directory not found: %s", runDir)
		}
		logger.Info("Resuming from existing run", "path", runDir)
	} else {
		// New run: create timestamped directory
		timestamp := time.Now().Format("2006-01-02T15-04-05")
		runDir = filepath.Join(baseDir, "run_"+timestamp)

		if err := os.MkdirAll(runDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create run directory: %w", err)
		}

		logger.Info("Created new run directory", "path", runDir)
	}

	return &Manager{
		runDir: runDir,
		logger: logger,
	}, nil
}

// Dir returns the run directory path
func (m *Manager) Dir() string {
	return m.runDir
}

// Name returns the run directory name without its parent path
func (m *Manager) Name() string {
	return filepath.Base(m.runDir)
}

// ManifestPath returns the full path to the engine manifest file
func (m *Manager) ManifestPath() string {
	return filepath.Join(m.runDir, "manifest.json")
}

// StatePath returns the full path to the run state record
func (m *Manager) StatePath() string {
	return filepath.Join(m.runDir, "run.json")
}

// LogPath returns the full path to the run log file
func (m *Manager) LogPath() string {
	return filepath.Join(m.runDir, "run.log")
}

// ConfigBackupPath returns the full path to the config backup
func (m *Manager) ConfigBackupPath() string {
	return filepath.Join(m.runDir, "config.toml.bak")
}

// PredictionsPath returns the full path to the engine predictions file
func (m *Manager) PredictionsPath() string {
	return filepath.Join(m.runDir, "predictions.jsonl")
}

// CheckpointDir returns the directory for a numbered engine checkpoint
func (m *Manager) CheckpointDir(step int) string {
	return filepath.Join(m.runDir, fmt.Sprintf("checkpoint-%d", step))
}

// BackupConfig copies the config file to the run directory
func (m *Manager) BackupConfig(configPath string) error {
	source, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	backupPath := m.ConfigBackupPath()
	if err := os.WriteFile(backupPath, source, 0644); err != nil {
		return fmt.Errorf("failed to write config backup: %w", err)
	}

	m.logger.Info("Backed up config file", "path", backupPath)
	return nil
}
