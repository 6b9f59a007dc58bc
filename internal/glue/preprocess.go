package glue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/prunekit/gluetune/internal/dataset"
	"github.com/prunekit/gluetune/internal/tokenize"
	"github.com/prunekit/gluetune/pkg/models"
)

// PreprocessConfig fixes the transformation applied to every split of a run
type PreprocessConfig struct {
	Tokenizer tokenize.Tokenizer
	FieldA    string
	FieldB    string
	Space     models.LabelSpace
	// Remap maps dataset label ids onto model label ids for task sources.
	Remap []int
	// LabelIndex maps raw label values onto dense indices for file sources.
	LabelIndex map[string]int
	Options    tokenize.Options
}

// Preprocessor tokenizes raw splits into model-ready examples
type Preprocessor struct {
	cfg PreprocessConfig
}

// NewPreprocessor validates the configuration and returns the preprocessor
func NewPreprocessor(cfg PreprocessConfig) (*Preprocessor, error) {
	if cfg.Tokenizer == nil {
		return nil, fmt.Errorf("preprocessor requires a tokenizer")
	}
	if cfg.FieldA == "" {
		return nil, fmt.Errorf("preprocessor requires at least one text field")
	}
	return &Preprocessor{cfg: cfg}, nil
}

// Identity returns a stable description of the transformation for cache keys.
// Two preprocessors with equal identities produce identical outputs for the
// same input split.
func (p *Preprocessor) Identity() string {
	id := struct {
		Tokenizer  string   `json:"tokenizer"`
		FieldA     string   `json:"field_a"`
		FieldB     string   `json:"field_b,omitempty"`
		MaxLength  int      `json:"max_length"`
		Padding    string   `json:"padding"`
		Truncation bool     `json:"truncation"`
		Regression bool     `json:"regression"`
		Labels     []string `json:"labels,omitempty"`
		Remap      []int    `json:"remap,omitempty"`
	}{
		Tokenizer:  p.cfg.Tokenizer.Identity(),
		FieldA:     p.cfg.FieldA,
		FieldB:     p.cfg.FieldB,
		MaxLength:  p.cfg.Options.MaxLength,
		Padding:    string(p.cfg.Options.Padding),
		Truncation: p.cfg.Options.Truncation,
		Regression: p.cfg.Space.Regression,
		Labels:     p.cfg.Space.Labels,
		Remap:      p.cfg.Remap,
	}

	data, _ := json.Marshal(id)
	return string(data)
}

// OutputFeatures describes the columns the preprocessor adds to a split
func (p *Preprocessor) OutputFeatures(in []dataset.Feature) []dataset.Feature {
	out := append([]dataset.Feature(nil), in...)
	out = append(out,
		dataset.Feature{Name: "input_ids", Kind: dataset.KindIntList},
		dataset.Feature{Name: "token_type_ids", Kind: dataset.KindIntList},
		dataset.Feature{Name: "attention_mask", Kind: dataset.KindIntList},
	)
	return out
}

// Batch returns the function applied to each batch through dataset.Map
func (p *Preprocessor) Batch() dataset.BatchFunc {
	return func(ctx context.Context, rows []dataset.Row) ([]dataset.Row, error) {
		out := make([]dataset.Row, 0, len(rows))
		for _, row := range rows {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			default:
			}

			a := dataset.FormatValue(row[p.cfg.FieldA])
			b := ""
			if p.cfg.FieldB != "" {
				b = dataset.FormatValue(row[p.cfg.FieldB])
			}

			enc, err := p.cfg.Tokenizer.Encode(a, b, p.cfg.Options)
			if err != nil {
				return nil, fmt.Errorf("failed to tokenize example: %w", err)
			}

			mapped := make(dataset.Row, len(row)+3)
			for k, v := range row {
				mapped[k] = v
			}
			mapped["input_ids"] = enc.InputIDs
			mapped["token_type_ids"] = enc.TypeIDs
			mapped["attention_mask"] = enc.AttentionMask

			if raw, ok := row[LabelColumn]; ok {
				label, err := p.rewriteLabel(raw)
				if err != nil {
					return nil, err
				}
				mapped[LabelColumn] = label
			}

			out = append(out, mapped)
		}
		return out, nil
	}
}

// rewriteLabel converts a raw label value into the model's target encoding.
// The sentinel -1 marks unlabeled test examples and passes through untouched.
func (p *Preprocessor) rewriteLabel(raw any) (any, error) {
	if raw == nil {
		return nil, nil
	}

	if p.cfg.Space.Regression {
		f, ok := dataset.Float(raw)
		if !ok {
			return nil, fmt.Errorf("label %v is not numeric", raw)
		}
		return f, nil
	}

	if id, ok := dataset.Int(raw); ok && id == -1 {
		return int64(-1), nil
	}

	if p.cfg.Remap != nil {
		id, ok := dataset.Int(raw)
		if !ok {
			return nil, fmt.Errorf("label %v is not an integer id", raw)
		}
		if id < 0 || int(id) >= len(p.cfg.Remap) {
			return nil, fmt.Errorf("label id %d is outside the %d-label space", id, len(p.cfg.Remap))
		}
		return int64(p.cfg.Remap[id]), nil
	}

	if p.cfg.LabelIndex != nil {
		idx, ok := p.cfg.LabelIndex[dataset.FormatValue(raw)]
		if !ok {
			return nil, fmt.Errorf("label %v does not appear in the training label set", raw)
		}
		return int64(idx), nil
	}

	id, ok := dataset.Int(raw)
	if !ok {
		return nil, fmt.Errorf("label %v is not an integer id", raw)
	}
	return id, nil
}

// Apply runs the preprocessor over one split through the map cache
func (p *Preprocessor) Apply(ctx context.Context, logger *slog.Logger, split *dataset.Split, opts dataset.MapOptions) (*dataset.Split, error) {
	opts.Identity = p.Identity()
	opts.OutputFeatures = p.OutputFeatures(split.Features)
	if opts.Description == "" {
		opts.Description = "Tokenizing " + split.Name
	}
	return split.Map(ctx, logger, p.Batch(), opts)
}
