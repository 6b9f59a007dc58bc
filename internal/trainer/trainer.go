// Package trainer hands prepared runs to a training engine and scores the
// predictions it returns. The engine is any executable honoring the manifest
// contract: it reads manifest.json, trains or predicts against the
// materialized splits, and leaves checkpoints plus a predictions file in the
// run directory.
package trainer

import "context"

// Trainer drives one fitting run against prepared task data.
type Trainer interface {
	// Train launches the engine in train mode and blocks until it exits.
	Train(ctx context.Context) error
	// Evaluate scores engine predictions against the reference labels and
	// writes the metric artifacts. It returns the computed metric values.
	Evaluate(ctx context.Context) (map[string]float64, error)
}
