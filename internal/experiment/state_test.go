package experiment

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/prunekit/gluetune/internal/config"
	"github.com/prunekit/gluetune/pkg/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testConfig() *config.Config {
	return &config.Config{
		Data: config.DataConfig{
			TaskName:       "mrpc",
			MaxSeqLength:   128,
			SampleLogCount: 3,
		},
		Model: config.ModelConfig{
			Name:     "bert-base-uncased",
			Revision: "main",
		},
		Training: config.TrainingConfig{
			OutputDir: "runs",
			Seed:      42,
		},
		Hub: config.HubConfig{
			Dataset:           "glue",
			RequestsPerMinute: 300,
		},
	}
}

func TestNewStateManager(t *testing.T) {
	runDir := t.TempDir()
	mgr := NewStateManager(runDir, testConfig(), testLogger())

	state := mgr.State()
	if state.ID == "" {
		t.Error("Expected a run id")
	}
	if state.ConfigHash == "" {
		t.Error("Expected a config hash")
	}
	if state.Phase != models.PhaseDatasets {
		t.Errorf("Phase = %s, want %s", state.Phase, models.PhaseDatasets)
	}
	if len(state.Completed) != 0 {
		t.Errorf("Completed = %v, want none", state.Completed)
	}
}

func TestAdvanceAndLoad(t *testing.T) {
	runDir := t.TempDir()
	mgr := NewStateManager(runDir, testConfig(), testLogger())

	if err := mgr.Advance(models.PhaseLabels); err != nil {
		t.Fatalf("Advance failed: %v", err)
	}
	if err := mgr.Advance(models.PhaseRemap); err != nil {
		t.Fatalf("Advance failed: %v", err)
	}

	loaded, err := LoadState(runDir, testLogger())
	if err != nil {
		t.Fatalf("LoadState failed: %v", err)
	}

	if loaded.Phase != models.PhaseRemap {
		t.Errorf("Phase = %s, want %s", loaded.Phase, models.PhaseRemap)
	}
	if len(loaded.Completed) != 2 {
		t.Errorf("Completed = %v, want datasets and labels", loaded.Completed)
	}
	if loaded.Completed[0] != models.PhaseDatasets || loaded.Completed[1] != models.PhaseLabels {
		t.Errorf("Completed = %v, want [datasets labels]", loaded.Completed)
	}
	if loaded.ID != mgr.State().ID {
		t.Error("Run id changed across save and load")
	}
}

func TestAdvanceDoesNotDuplicatePhases(t *testing.T) {
	runDir := t.TempDir()
	mgr := NewStateManager(runDir, testConfig(), testLogger())

	// A resumed run revisits phases it already completed
	if err := mgr.Advance(models.PhaseLabels); err != nil {
		t.Fatalf("Advance failed: %v", err)
	}
	if err := mgr.Advance(models.PhaseDatasets); err != nil {
		t.Fatalf("Advance failed: %v", err)
	}
	if err := mgr.Advance(models.PhaseLabels); err != nil {
		t.Fatalf("Advance failed: %v", err)
	}

	state := mgr.State()
	seen := make(map[models.Phase]int)
	for _, phase := range state.Completed {
		seen[phase]++
	}
	for phase, count := range seen {
		if count > 1 {
			t.Errorf("Phase %s recorded %d times", phase, count)
		}
	}
}

func TestMarkComplete(t *testing.T) {
	runDir := t.TempDir()
	mgr := NewStateManager(runDir, testConfig(), testLogger())

	if err := mgr.MarkComplete(); err != nil {
		t.Fatalf("MarkComplete failed: %v", err)
	}

	loaded, err := LoadState(runDir, testLogger())
	if err != nil {
		t.Fatalf("LoadState failed: %v", err)
	}
	if loaded.Phase != models.PhaseComplete {
		t.Errorf("Phase = %s, want %s", loaded.Phase, models.PhaseComplete)
	}
}

func TestStateManagerFromState(t *testing.T) {
	runDir := t.TempDir()
	cfg := testConfig()

	original := NewStateManager(runDir, cfg, testLogger())
	if err := original.Advance(models.PhasePreprocess); err != nil {
		t.Fatalf("Advance failed: %v", err)
	}

	loaded, err := LoadState(runDir, testLogger())
	if err != nil {
		t.Fatalf("LoadState failed: %v", err)
	}

	resumed := NewStateManagerFromState(runDir, loaded, testLogger())
	state := resumed.State()
	if state.ID != original.State().ID {
		t.Error("Resumed manager lost the run id")
	}
	if state.Phase != models.PhasePreprocess {
		t.Errorf("Phase = %s, want %s", state.Phase, models.PhasePreprocess)
	}
}

func TestLoadStateMissingFile(t *testing.T) {
	if _, err := LoadState(t.TempDir(), testLogger()); err == nil {
		t.Error("Expected an error for a missing state file")
	}
}

func TestLoadStateCorruptFile(t *testing.T) {
	runDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(runDir, StateFilename), []byte("{broken"), 0o644); err != nil {
		t.Fatalf("Failed to write state file: %v", err)
	}
	if _, err := LoadState(runDir, testLogger()); err == nil {
		t.Error("Expected an error for a corrupt state file")
	}
}

func TestValidateState(t *testing.T) {
	cfg := testConfig()
	state := &models.RunState{ConfigHash: ConfigHash(cfg)}

	if err := ValidateState(state, cfg); err != nil {
		t.Errorf("ValidateState with matching hash error = %v", err)
	}

	changed := testConfig()
	changed.Data.TaskName = "rte" // Different task, different contract
	if err := ValidateState(state, changed); err == nil {
		t.Error("Expected a mismatch error for a different task")
	}
}

func TestConfigHash(t *testing.T) {
	cfg1 := testConfig()
	cfg2 := testConfig()

	if ConfigHash(cfg1) != ConfigHash(cfg2) {
		t.Error("Same config should produce same hash")
	}

	cfg2.Data.MaxSeqLength = 256
	if ConfigHash(cfg1) == ConfigHash(cfg2) {
		t.Error("Different configs should produce different hashes")
	}

	// Fields outside the data contract leave the hash alone
	cfg3 := testConfig()
	cfg3.Hub.RequestsPerMinute = 60
	if ConfigHash(cfg1) != ConfigHash(cfg3) {
		t.Error("Hub settings should not change the hash")
	}

	// Padding default and explicit true hash identically
	cfg4 := testConfig()
	on := true
	cfg4.Data.PadToMaxLength = &on
	if ConfigHash(cfg1) != ConfigHash(cfg4) {
		t.Error("Explicit true padding should hash like the default")
	}
}
