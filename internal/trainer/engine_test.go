package trainer

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prunekit/gluetune/internal/metrics"
	"github.com/prunekit/gluetune/pkg/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

type recordingObserver struct {
	split    string
	duration time.Duration
}

func (o *recordingObserver) RecordEvaluation(split string, duration time.Duration) {
	o.split = split
	o.duration = duration
}

func testBridgeConfig(runDir string) EngineBridgeConfig {
	return EngineBridgeConfig{
		Manifest: models.RunManifest{
			RunID:     "run_2025-10-30T14-30-00",
			Task:      "mrpc",
			ModelName: "bert-base-uncased",
			OutputDir: runDir,
			LabelSpace: models.LabelSpace{
				Labels:    []string{"not_equivalent", "equivalent"},
				NumLabels: 2,
			},
			Seed:   42,
			DoEval: true,
		},
		ManifestPath: filepath.Join(runDir, "manifest.json"),
		EvalSplit:    "validation",
		References:   []float64{1, 0, 1, 0},
		Compute:      metrics.ForTask([]string{"accuracy"}, false),
	}
}

func TestNewEngineBridgeValidation(t *testing.T) {
	runDir := t.TempDir()

	cfg := testBridgeConfig(runDir)
	cfg.ManifestPath = ""
	if _, err := NewEngineBridge(testLogger(), cfg); err == nil || !strings.Contains(err.Error(), "manifest path") {
		t.Errorf("Error = %v, want manifest path error", err)
	}

	cfg = testBridgeConfig(runDir)
	cfg.Compute = nil
	if _, err := NewEngineBridge(testLogger(), cfg); err == nil || !strings.Contains(err.Error(), "compute function") {
		t.Errorf("Error = %v, want compute function error", err)
	}

	if _, err := NewEngineBridge(testLogger(), testBridgeConfig(runDir)); err != nil {
		t.Errorf("Valid config rejected: %v", err)
	}
}

func TestEvaluateReusesExistingPredictions(t *testing.T) {
	runDir := t.TempDir()
	cfg := testBridgeConfig(runDir)
	observer := &recordingObserver{}
	cfg.Observer = observer
	// No command configured, so scoring must come from the file alone

	writePredictionsFile(t, filepath.Join(runDir, "predictions.jsonl"), []models.PredictionRecord{
		{Index: 1, Logits: []float64{0.9, 0.1}},
		{Index: 0, Logits: []float64{0.1, 0.9}},
		{Index: 3, Logits: []float64{0.9, 0.1}},
		{Index: 2, Logits: []float64{0.1, 0.9}},
	})

	bridge, err := NewEngineBridge(testLogger(), cfg)
	if err != nil {
		t.Fatalf("NewEngineBridge failed: %v", err)
	}

	result, err := bridge.Evaluate(context.Background())
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if result["accuracy"] != 1.0 {
		t.Errorf("accuracy = %v, want 1.0", result["accuracy"])
	}

	if observer.split != "validation" {
		t.Errorf("Observer split = %s, want validation", observer.split)
	}
	if observer.duration <= 0 {
		t.Error("Observer recorded no duration")
	}

	// No checkpoints, so artifacts land in the run directory
	data, err := os.ReadFile(filepath.Join(runDir, "eval_metrics.json"))
	if err != nil {
		t.Fatalf("Missing eval_metrics.json: %v", err)
	}
	var report models.EvalReport
	if err := json.Unmarshal(data, &report); err != nil {
		t.Fatalf("Failed to parse eval_metrics.json: %v", err)
	}
	if report.Split != "validation" || report.NumExamples != 4 || report.Metrics["accuracy"] != 1.0 {
		t.Errorf("Report = %+v", report)
	}

	data, err = os.ReadFile(filepath.Join(runDir, "evaluate_timing.json"))
	if err != nil {
		t.Fatalf("Missing evaluate_timing.json: %v", err)
	}
	var timing models.TimingReport
	if err := json.Unmarshal(data, &timing); err != nil {
		t.Fatalf("Failed to parse evaluate_timing.json: %v", err)
	}
	if timing.EvalRuntimeSeconds < 0 {
		t.Errorf("EvalRuntimeSeconds = %v", timing.EvalRuntimeSeconds)
	}
}

func TestEvaluateWritesArtifactsToLatestCheckpoint(t *testing.T) {
	runDir := t.TempDir()
	for _, name := range []string{"checkpoint-100", "checkpoint-250"} {
		if err := os.Mkdir(filepath.Join(runDir, name), 0o755); err != nil {
			t.Fatalf("Failed to create dir: %v", err)
		}
	}
	writePredictionsFile(t, filepath.Join(runDir, "predictions.jsonl"), []models.PredictionRecord{
		{Index: 0, Logits: []float64{0.1, 0.9}},
		{Index: 1, Logits: []float64{0.9, 0.1}},
		{Index: 2, Logits: []float64{0.1, 0.9}},
		{Index: 3, Logits: []float64{0.9, 0.1}},
	})

	bridge, err := NewEngineBridge(testLogger(), testBridgeConfig(runDir))
	if err != nil {
		t.Fatalf("NewEngineBridge failed: %v", err)
	}
	if _, err := bridge.Evaluate(context.Background()); err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}

	if _, err := os.Stat(filepath.Join(runDir, "checkpoint-250", "eval_metrics.json")); err != nil {
		t.Errorf("eval_metrics.json not in latest checkpoint: %v", err)
	}
	if _, err := os.Stat(filepath.Join(runDir, "eval_metrics.json")); !os.IsNotExist(err) {
		t.Error("eval_metrics.json should not be in the run directory")
	}
}

func TestEvaluatePredictionCountMismatch(t *testing.T) {
	runDir := t.TempDir()
	writePredictionsFile(t, filepath.Join(runDir, "predictions.jsonl"), []models.PredictionRecord{
		{Index: 0, Logits: []float64{0.1, 0.9}},
		{Index: 1, Logits: []float64{0.9, 0.1}},
		{Index: 2, Logits: []float64{0.1, 0.9}},
	})

	bridge, err := NewEngineBridge(testLogger(), testBridgeConfig(runDir))
	if err != nil {
		t.Fatalf("NewEngineBridge failed: %v", err)
	}

	_, err = bridge.Evaluate(context.Background())
	if err == nil {
		t.Fatal("Expected a count mismatch error")
	}
	if !strings.Contains(err.Error(), "3 predictions for 4 reference labels") {
		t.Errorf("Error = %v", err)
	}
}

func TestEvaluateWithoutPredictionsOrCommand(t *testing.T) {
	runDir := t.TempDir()
	bridge, err := NewEngineBridge(testLogger(), testBridgeConfig(runDir))
	if err != nil {
		t.Fatalf("NewEngineBridge failed: %v", err)
	}

	_, err = bridge.Evaluate(context.Background())
	if err == nil {
		t.Fatal("Expected an error")
	}
	if !strings.Contains(err.Error(), "no engine command configured") {
		t.Errorf("Error = %v", err)
	}
}

func TestTrainRequiresCommand(t *testing.T) {
	bridge, err := NewEngineBridge(testLogger(), testBridgeConfig(t.TempDir()))
	if err != nil {
		t.Fatalf("NewEngineBridge failed: %v", err)
	}
	if err := bridge.Train(context.Background()); err == nil || !strings.Contains(err.Error(), "no engine command configured") {
		t.Errorf("Error = %v, want missing command error", err)
	}
}

func TestTrainWritesManifest(t *testing.T) {
	runDir := t.TempDir()
	cfg := testBridgeConfig(runDir)
	cfg.Command = "true" // accepts the bridge flags and exits cleanly

	bridge, err := NewEngineBridge(testLogger(), cfg)
	if err != nil {
		t.Fatalf("NewEngineBridge failed: %v", err)
	}
	if err := bridge.Train(context.Background()); err != nil {
		t.Fatalf("Train failed: %v", err)
	}

	data, err := os.ReadFile(cfg.ManifestPath)
	if err != nil {
		t.Fatalf("Manifest not written: %v", err)
	}
	var manifest models.RunManifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		t.Fatalf("Failed to parse manifest: %v", err)
	}
	if manifest.RunID != cfg.Manifest.RunID {
		t.Errorf("RunID = %s, want %s", manifest.RunID, cfg.Manifest.RunID)
	}
	if manifest.LabelSpace.NumLabels != 2 {
		t.Errorf("NumLabels = %d, want 2", manifest.LabelSpace.NumLabels)
	}
}

func TestTrainReportsEngineExitCode(t *testing.T) {
	cfg := testBridgeConfig(t.TempDir())
	cfg.Command = "false"

	bridge, err := NewEngineBridge(testLogger(), cfg)
	if err != nil {
		t.Fatalf("NewEngineBridge failed: %v", err)
	}

	err = bridge.Train(context.Background())
	if err == nil {
		t.Fatal("Expected an engine failure")
	}
	if !strings.Contains(err.Error(), "engine exited with code 1") {
		t.Errorf("Error = %v", err)
	}
}

func TestEvaluateEngineLeavesNoPredictions(t *testing.T) {
	cfg := testBridgeConfig(t.TempDir())
	cfg.Command = "true" // exits cleanly without producing predictions

	bridge, err := NewEngineBridge(testLogger(), cfg)
	if err != nil {
		t.Fatalf("NewEngineBridge failed: %v", err)
	}

	_, err = bridge.Evaluate(context.Background())
	if err == nil {
		t.Fatal("Expected an error when the engine produces nothing")
	}
	if !strings.Contains(err.Error(), "predictions") {
		t.Errorf("Error = %v", err)
	}
}
