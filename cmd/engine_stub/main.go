// Command engine_stub is a stand-in for a real training engine. It consumes
// the run manifest, walks the materialized splits in dynamically padded
// batches and, in eval mode, writes predictions that echo the stored labels.
// It exists so the full pipeline can be exercised without a GPU stack.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"strings"

	"github.com/prunekit/gluetune/internal/dataset"
	"github.com/prunekit/gluetune/internal/glue"
	"github.com/prunekit/gluetune/internal/tokenize"
	"github.com/prunekit/gluetune/pkg/models"
)

const batchSize = 32

func main() {
	manifestPath := flag.String("manifest", "", "Path to the run manifest")
	mode := flag.String("mode", "train", "Engine mode: train or eval")
	flag.Parse()

	if *manifestPath == "" {
		fmt.Fprintf(os.Stderr, "Usage: %s --manifest <path> --mode train|eval\n", os.Args[0])
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	manifest, err := loadManifest(*manifestPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	logger.Info("Engine stub starting",
		"mode", *mode,
		"run_id", manifest.RunID,
		"model", manifest.ModelName,
		"num_labels", manifest.LabelSpace.NumLabels,
		"regression", manifest.LabelSpace.Regression)

	switch *mode {
	case "train":
		err = train(logger, manifest)
	case "eval":
		err = evaluate(logger, manifest)
	default:
		err = fmt.Errorf("unknown mode %q (want train or eval)", *mode)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadManifest(path string) (*models.RunManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	var manifest models.RunManifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	return &manifest, nil
}

// train walks the train split once in padded batches and records a checkpoint
func train(logger *slog.Logger, manifest *models.RunManifest) error {
	ref, err := findSplit(manifest, "train")
	if err != nil {
		return err
	}

	split, err := readSplit(ref)
	if err != nil {
		return err
	}

	steps, tokens, err := walkBatches(split)
	if err != nil {
		return err
	}

	// One optimizer step per batch, one epoch
	checkpointDir := filepath.Join(manifest.OutputDir, fmt.Sprintf("checkpoint-%d", steps))
	if err := os.MkdirAll(checkpointDir, 0o755); err != nil {
		return fmt.Errorf("failed to create checkpoint directory: %w", err)
	}

	state := map[string]any{
		"global_step": steps,
		"seed":        manifest.Seed,
		"model_name":  manifest.ModelName,
		"num_labels":  manifest.LabelSpace.NumLabels,
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal engine state: %w", err)
	}
	if err := os.WriteFile(filepath.Join(checkpointDir, "engine_state.json"), data, 0o644); err != nil {
		return fmt.Errorf("failed to write engine state: %w", err)
	}

	logger.Info("Training pass complete",
		"rows", split.NumRows(),
		"steps", steps,
		"tokens", tokens,
		"checkpoint", checkpointDir)
	return nil
}

// evaluate writes one prediction per evaluation example. Labeled examples get
// their own label back so a healthy pipeline scores perfectly; unlabeled ones
// get a seeded random class.
func evaluate(logger *slog.Logger, manifest *models.RunManifest) error {
	ref, err := findSplit(manifest, "")
	if err != nil {
		return err
	}

	split, err := readSplit(ref)
	if err != nil {
		return err
	}

	if _, _, err := walkBatches(split); err != nil {
		return err
	}

	predictionsPath := filepath.Join(manifest.OutputDir, "predictions.jsonl")
	file, err := os.Create(predictionsPath)
	if err != nil {
		return fmt.Errorf("failed to create predictions file: %w", err)
	}
	defer func() { _ = file.Close() }()

	rng := rand.New(rand.NewSource(manifest.Seed))
	encoder := json.NewEncoder(file)
	for i, row := range split.Rows {
		record := models.PredictionRecord{
			Index:  i,
			Logits: predictRow(rng, manifest.LabelSpace, row),
		}
		if err := encoder.Encode(record); err != nil {
			return fmt.Errorf("failed to write prediction %d: %w", i, err)
		}
	}

	logger.Info("Predictions written",
		"split", ref.Name,
		"rows", split.NumRows(),
		"path", predictionsPath)
	return nil
}

func predictRow(rng *rand.Rand, space models.LabelSpace, row dataset.Row) []float64 {
	if space.Regression {
		if f, ok := dataset.Float(row[glue.LabelColumn]); ok {
			return []float64{f}
		}
		return []float64{0}
	}

	logits := make([]float64, space.NumLabels)
	id, ok := dataset.Int(row[glue.LabelColumn])
	if !ok || id < 0 || int(id) >= space.NumLabels {
		id = int64(rng.Intn(space.NumLabels))
	}
	logits[id] = 1
	return logits
}

// findSplit returns the named split, or the first non-train split when name
// is empty.
func findSplit(manifest *models.RunManifest, name string) (models.SplitRef, error) {
	for _, ref := range manifest.Splits {
		if name == "" && ref.Name != "train" {
			return ref, nil
		}
		if ref.Name == name {
			return ref, nil
		}
	}
	if name == "" {
		name = "evaluation"
	}
	return models.SplitRef{}, fmt.Errorf("manifest lists no %s split", name)
}

func readSplit(ref models.SplitRef) (*dataset.Split, error) {
	featuresPath := strings.TrimSuffix(ref.Path, ".jsonl") + ".features.json"
	features, err := dataset.LoadFeatures(featuresPath)
	if err != nil {
		return nil, err
	}
	return dataset.LoadJSON(ref.Name, ref.Path, features)
}

// walkBatches re-pads every batch the way a collator would and returns the
// batch count and padded token total.
func walkBatches(split *dataset.Split) (steps, tokens int, err error) {
	for start := 0; start < len(split.Rows); start += batchSize {
		end := start + batchSize
		if end > len(split.Rows) {
			end = len(split.Rows)
		}

		encs := make([]tokenize.Encoding, 0, end-start)
		for i, row := range split.Rows[start:end] {
			ids, ok := dataset.Ints(row["input_ids"])
			if !ok {
				return 0, 0, fmt.Errorf("row %d of %s has no input_ids", start+i, split.Name)
			}
			typeIDs, _ := dataset.Ints(row["token_type_ids"])
			mask, _ := dataset.Ints(row["attention_mask"])
			encs = append(encs, tokenize.Encoding{InputIDs: ids, TypeIDs: typeIDs, AttentionMask: mask})
		}

		for _, enc := range tokenize.PadBatch(encs) {
			tokens += len(enc.InputIDs)
		}
		steps++
	}
	return steps, tokens, nil
}
