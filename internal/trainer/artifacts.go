package trainer

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/prunekit/gluetune/pkg/models"
)

// readPredictions loads an engine predictions file and orders the logit rows
// by their example index.
func readPredictions(path string) ([][]float64, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open predictions file: %w", err)
	}
	defer file.Close()

	var records []models.PredictionRecord
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 1024*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var record models.PredictionRecord
		if err := json.Unmarshal([]byte(text), &record); err != nil {
			return nil, fmt.Errorf("failed to parse prediction on line %d: %w", line, err)
		}
		records = append(records, record)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read predictions file: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("predictions file %s is empty", path)
	}

	sort.Slice(records, func(i, j int) bool { return records[i].Index < records[j].Index })

	predictions := make([][]float64, len(records))
	for i, record := range records {
		if record.Index != i {
			return nil, fmt.Errorf("predictions file has a gap at index %d", i)
		}
		predictions[i] = record.Logits
	}
	return predictions, nil
}

// latestCheckpointDir returns the checkpoint-<N> directory with the highest
// step number, or the run directory itself when the engine left none.
func latestCheckpointDir(runDir string) string {
	entries, err := os.ReadDir(runDir)
	if err != nil {
		return runDir
	}

	best := -1
	bestName := ""
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		step, ok := checkpointStep(entry.Name())
		if ok && step > best {
			best = step
			bestName = entry.Name()
		}
	}
	if best < 0 {
		return runDir
	}
	return filepath.Join(runDir, bestName)
}

// checkpointStep parses the step number out of a checkpoint directory name
func checkpointStep(name string) (int, bool) {
	suffix, found := strings.CutPrefix(name, "checkpoint-")
	if !found {
		return 0, false
	}
	step, err := strconv.Atoi(suffix)
	if err != nil || step < 0 {
		return 0, false
	}
	return step, true
}

// writeJSONFile marshals a value with indentation and writes it to path
func writeJSONFile(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	return nil
}
