package experiment

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/prunekit/gluetune/internal/config"
	"github.com/prunekit/gluetune/pkg/models"
)

const StateFilename = "run.json"

// StateManager persists the run state record across phase transitions
type StateManager struct {
	runDir string
	state  *models.RunState
	mu     sync.RWMutex
	logger *slog.Logger
}

// NewStateManager creates a state manager for a fresh run
func NewStateManager(runDir string, cfg *config.Config, logger *slog.Logger) *StateManager {
	now := time.Now()
	return &StateManager{
		runDir: runDir,
		state: &models.RunState{
			ID:         uuid.New().String(),
			ConfigHash: ConfigHash(cfg),
			Phase:      models.PhaseDatasets,
			CreatedAt:  now,
			UpdatedAt:  now,
		},
		logger: logger,
	}
}

// NewStateManagerFromState creates a manager around a loaded state record
func NewStateManagerFromState(runDir string, state *models.RunState, logger *slog.Logger) *StateManager {
	return &StateManager{
		runDir: runDir,
		state:  state,
		logger: logger,
	}
}

// State returns a copy of the current run state
func (m *StateManager) State() models.RunState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.copyState()
}

// Advance records the current phase as completed and moves to the next one.
// The state file is rewritten synchronously at every transition.
func (m *StateManager) Advance(next models.Phase) error {
	m.mu.Lock()
	if !slices.Contains(m.state.Completed, m.state.Phase) {
		m.state.Completed = append(m.state.Completed, m.state.Phase)
	}
	m.state.Phase = next
	m.state.UpdatedAt = time.Now()
	state := m.copyState()
	m.mu.Unlock()

	return m.writeStateToDisk(state)
}

// MarkComplete records the end of a successful run
func (m *StateManager) MarkComplete() error {
	return m.Advance(models.PhaseComplete)
}

// copyState deep-copies the state record. Callers must hold at least a read lock.
func (m *StateManager) copyState() models.RunState {
	state := *m.state
	state.Completed = append([]models.Phase(nil), m.state.Completed...)
	return state
}

// writeStateToDisk performs an atomic write of the state record
func (m *StateManager) writeStateToDisk(state models.RunState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal run state: %w", err)
	}

	// Atomic write: write to temp file, then rename
	statePath := filepath.Join(m.runDir, StateFilename)
	tempPath := statePath + ".tmp"

	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp run state: %w", err)
	}

	if err := os.Rename(tempPath, statePath); err != nil {
		return fmt.Errorf("failed to rename run state: %w", err)
	}

	m.logger.Debug("Run state saved", "path", statePath, "phase", state.Phase)
	return nil
}

// LoadState reads a run state record from disk
func LoadState(runDir string, logger *slog.Logger) (*models.RunState, error) {
	statePath := filepath.Join(runDir, StateFilename)

	data, err := os.ReadFile(statePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read run state: %w", err)
	}

	var state models.RunState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run state: %w", err)
	}

	logger.Info("Run state loaded",
		"run_id", state.ID,
		"phase", state.Phase,
		"completed_phases", len(state.Completed))

	return &state, nil
}

// ValidateState verifies a loaded state is compatible with the current config
func ValidateState(state *models.RunState, cfg *config.Config) error {
	expectedHash := ConfigHash(cfg)
	if state.ConfigHash != expectedHash {
		return fmt.Errorf("run state config mismatch: run was created with different task/model settings (hash: %s vs %s)", state.ConfigHash, expectedHash)
	}
	return nil
}

// ConfigHash fingerprints the config fields that shape a run's data contract
func ConfigHash(cfg *config.Config) string {
	data := fmt.Sprintf("%s:%s:%s:%s:%d:%t:%d",
		cfg.Data.TaskName,
		cfg.Data.TrainFile,
		cfg.Data.ValidationFile,
		cfg.Model.Name,
		cfg.Data.MaxSeqLength,
		cfg.PadToMaxLength(),
		cfg.Training.Seed)
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash[:8]) // First 8 bytes
}
