package trainer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/prunekit/gluetune/internal/metrics"
	"github.com/prunekit/gluetune/pkg/models"
)

// EvaluationObserver receives evaluation timings
type EvaluationObserver interface {
	RecordEvaluation(split string, duration time.Duration)
}

// EngineBridgeConfig wires an EngineBridge to its run
type EngineBridgeConfig struct {
	Manifest     models.RunManifest
	ManifestPath string
	Command      string
	Args         []string
	ExtraEnv     []string
	EvalSplit    string
	References   []float64
	Compute      metrics.ComputeFunc
	Observer     EvaluationObserver
}

// EngineBridge implements Trainer by launching an external engine executable
type EngineBridge struct {
	cfg    EngineBridgeConfig
	logger *slog.Logger
}

// NewEngineBridge creates an engine-backed trainer
func NewEngineBridge(logger *slog.Logger, cfg EngineBridgeConfig) (*EngineBridge, error) {
	if cfg.ManifestPath == "" {
		return nil, fmt.Errorf("manifest path is required")
	}
	if cfg.Compute == nil {
		return nil, fmt.Errorf("compute function is required")
	}
	return &EngineBridge{
		cfg:    cfg,
		logger: logger.With("component", "engine_bridge"),
	}, nil
}

// Train writes the manifest and launches the engine in train mode
func (b *EngineBridge) Train(ctx context.Context) error {
	if b.cfg.Command == "" {
		return fmt.Errorf("no engine command configured")
	}

	if err := b.writeManifest(); err != nil {
		return err
	}

	b.logger.Info("Launching training engine",
		"command", b.cfg.Command,
		"manifest", b.cfg.ManifestPath)

	if err := b.runEngine(ctx, "train"); err != nil {
		return fmt.Errorf("training engine failed: %w", err)
	}

	b.logger.Info("Training engine finished")
	return nil
}

// Evaluate scores the engine's predictions for the evaluation split. When a
// predictions file is already present the engine launch is skipped, so a
// finished run can be re-scored offline.
func (b *EngineBridge) Evaluate(ctx context.Context) (map[string]float64, error) {
	start := time.Now()

	predictionsPath := filepath.Join(b.cfg.Manifest.OutputDir, "predictions.jsonl")
	if _, err := os.Stat(predictionsPath); os.IsNotExist(err) {
		if b.cfg.Command == "" {
			return nil, fmt.Errorf("no predictions file at %s and no engine command configured", predictionsPath)
		}
		if err := b.writeManifest(); err != nil {
			return nil, err
		}
		b.logger.Info("Launching engine for predictions",
			"command", b.cfg.Command,
			"split", b.cfg.EvalSplit)
		if err := b.runEngine(ctx, "eval"); err != nil {
			return nil, fmt.Errorf("prediction engine failed: %w", err)
		}
	} else {
		b.logger.Info("Reusing existing predictions file", "path", predictionsPath)
	}

	predictions, err := readPredictions(predictionsPath)
	if err != nil {
		return nil, err
	}
	if len(predictions) != len(b.cfg.References) {
		return nil, fmt.Errorf("engine produced %d predictions for %d reference labels",
			len(predictions), len(b.cfg.References))
	}

	result, err := b.cfg.Compute(metrics.EvalPrediction{
		Predictions: predictions,
		Labels:      b.cfg.References,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to score predictions: %w", err)
	}

	elapsed := time.Since(start)
	if b.cfg.Observer != nil {
		b.cfg.Observer.RecordEvaluation(b.cfg.EvalSplit, elapsed)
	}

	if err := b.writeEvalArtifacts(result, len(predictions), elapsed); err != nil {
		return nil, err
	}

	b.logger.Info("Evaluation complete",
		"split", b.cfg.EvalSplit,
		"num_examples", len(predictions),
		"duration", elapsed.Round(time.Millisecond))
	return result, nil
}

// runEngine executes the engine command with the bridge flags for one mode
func (b *EngineBridge) runEngine(ctx context.Context, mode string) error {
	args := []string{"--manifest", b.cfg.ManifestPath, "--mode", mode}
	args = append(args, b.cfg.Args...)

	cmd := exec.CommandContext(ctx, b.cfg.Command, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = append(os.Environ(), b.cfg.ExtraEnv...)

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return fmt.Errorf("engine exited with code %d", exitErr.ExitCode())
		}
		return fmt.Errorf("failed to execute engine: %w", err)
	}
	return nil
}

// writeManifest persists the run manifest for the engine to consume
func (b *EngineBridge) writeManifest() error {
	data, err := json.MarshalIndent(b.cfg.Manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	if err := os.WriteFile(b.cfg.ManifestPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}

// writeEvalArtifacts records metric values and timing next to the newest
// engine checkpoint, falling back to the run directory when none exists.
func (b *EngineBridge) writeEvalArtifacts(result map[string]float64, numExamples int, elapsed time.Duration) error {
	dir := latestCheckpointDir(b.cfg.Manifest.OutputDir)

	report := models.EvalReport{
		Split:       b.cfg.EvalSplit,
		NumExamples: numExamples,
		Metrics:     result,
	}
	if err := writeJSONFile(filepath.Join(dir, "eval_metrics.json"), report); err != nil {
		return err
	}

	seconds := elapsed.Seconds()
	timing := models.TimingReport{
		EvalRuntimeSeconds: round3(seconds),
		SamplesPerSecond:   round3(float64(numExamples) / seconds),
	}
	if err := writeJSONFile(filepath.Join(dir, "evaluate_timing.json"), timing); err != nil {
		return err
	}

	b.logger.Info("Wrote evaluation artifacts", "dir", dir)
	return nil
}

// round3 rounds to three decimal places for stable report values
func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
