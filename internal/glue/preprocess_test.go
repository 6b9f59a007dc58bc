package glue

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/prunekit/gluetune/internal/dataset"
	"github.com/prunekit/gluetune/internal/tokenize"
	"github.com/prunekit/gluetune/pkg/models"
)

// fakeTokenizer produces deterministic encodings and counts Encode calls, so
// tests can tell a cache hit from a recomputation.
type fakeTokenizer struct {
	calls atomic.Int64
}

func (f *fakeTokenizer) Encode(a, b string, opts tokenize.Options) (tokenize.Encoding, error) {
	f.calls.Add(1)

	ids := []int{tokenize.ClsID, len(a), tokenize.SepID}
	types := []int{0, 0, 0}
	if b != "" {
		ids = append(ids, len(b), tokenize.SepID)
		types = append(types, 1, 1)
	}
	mask := make([]int, len(ids))
	for i := range mask {
		mask[i] = 1
	}
	return tokenize.Encoding{InputIDs: ids, TypeIDs: types, AttentionMask: mask}, nil
}

func (f *fakeTokenizer) Identity() string {
	return "fake/v1"
}

func pairSplit(labels ...any) *dataset.Split {
	rows := make([]dataset.Row, len(labels))
	for i, label := range labels {
		rows[i] = dataset.Row{
			"sentence1": fmt.Sprintf("first sentence %d", i),
			"sentence2": fmt.Sprintf("second sentence %d", i),
			"label":     label,
		}
	}
	return &dataset.Split{
		Name: "train",
		Features: []dataset.Feature{
			{Name: "sentence1", Kind: dataset.KindString},
			{Name: "sentence2", Kind: dataset.KindString},
			{Name: "label", Kind: dataset.KindClassLabel, Names: []string{"neg", "pos"}},
		},
		Rows: rows,
	}
}

func applyOnce(t *testing.T, cfg PreprocessConfig, split *dataset.Split, opts dataset.MapOptions) *dataset.Split {
	t.Helper()
	p, err := NewPreprocessor(cfg)
	if err != nil {
		t.Fatalf("NewPreprocessor error = %v", err)
	}
	mapped, err := p.Apply(context.Background(), testLogger(), split, opts)
	if err != nil {
		t.Fatalf("Apply error = %v", err)
	}
	return mapped
}

func TestNewPreprocessorValidation(t *testing.T) {
	if _, err := NewPreprocessor(PreprocessConfig{FieldA: "sentence"}); err == nil {
		t.Error("Expected an error without a tokenizer")
	}
	if _, err := NewPreprocessor(PreprocessConfig{Tokenizer: &fakeTokenizer{}}); err == nil {
		t.Error("Expected an error without a text field")
	}
}

func TestApplyAddsModelColumns(t *testing.T) {
	cfg := PreprocessConfig{
		Tokenizer: &fakeTokenizer{},
		FieldA:    "sentence1",
		FieldB:    "sentence2",
		Space:     models.LabelSpace{Labels: []string{"neg", "pos"}, NumLabels: 2},
		Options:   tokenize.Options{MaxLength: 16, Padding: tokenize.PadDynamic, Truncation: true},
	}

	mapped := applyOnce(t, cfg, pairSplit(int64(0), int64(1)), dataset.MapOptions{Concurrency: 1})

	for _, column := range []string{"input_ids", "token_type_ids", "attention_mask"} {
		if !mapped.HasColumn(column) {
			t.Errorf("Mapped split is missing column %s", column)
		}
	}

	ids, ok := dataset.Ints(mapped.Rows[0]["input_ids"])
	if !ok || len(ids) == 0 {
		t.Fatalf("input_ids = %v, want a non-empty id list", mapped.Rows[0]["input_ids"])
	}
	if ids[0] != tokenize.ClsID {
		t.Errorf("First id = %d, want the CLS id", ids[0])
	}
}

func TestApplyLabelRewrites(t *testing.T) {
	space := models.LabelSpace{Labels: []string{"neg", "pos"}, NumLabels: 2}

	tests := []struct {
		name       string
		cfg        PreprocessConfig
		label      any
		want       int64
		wantFloat  float64
		regression bool
		wantErr    bool
	}{
		{
			name: "remap flips the id order",
			cfg: PreprocessConfig{
				Space: space,
				Remap: []int{1, 0},
			},
			label: int64(0),
			want:  1,
		},
		{
			name: "sentinel passes through remap untouched",
			cfg: PreprocessConfig{
				Space: space,
				Remap: []int{1, 0},
			},
			label: int64(-1),
			want:  -1,
		},
		{
			name: "remap rejects out-of-range ids",
			cfg: PreprocessConfig{
				Space: space,
				Remap: []int{1, 0},
			},
			label:   int64(5),
			wantErr: true,
		},
		{
			name: "label index maps raw values to dense ids",
			cfg: PreprocessConfig{
				Space:      space,
				LabelIndex: map[string]int{"neg": 0, "pos": 1},
			},
			label: "pos",
			want:  1,
		},
		{
			name: "label index rejects unseen values",
			cfg: PreprocessConfig{
				Space:      space,
				LabelIndex: map[string]int{"neg": 0, "pos": 1},
			},
			label:   "neutral",
			wantErr: true,
		},
		{
			name: "regression keeps the score",
			cfg: PreprocessConfig{
				Space: models.LabelSpace{Regression: true, NumLabels: 1},
			},
			label:      2.75,
			regression: true,
			wantFloat:  2.75,
		},
		{
			name: "plain ids pass through without a remap",
			cfg: PreprocessConfig{
				Space: space,
			},
			label: int64(1),
			want:  1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.cfg.Tokenizer = &fakeTokenizer{}
			tt.cfg.FieldA = "sentence1"
			tt.cfg.FieldB = "sentence2"
			tt.cfg.Options = tokenize.Options{MaxLength: 16, Truncation: true}

			p, err := NewPreprocessor(tt.cfg)
			if err != nil {
				t.Fatalf("NewPreprocessor error = %v", err)
			}

			mapped, err := p.Apply(context.Background(), testLogger(), pairSplit(tt.label), dataset.MapOptions{Concurrency: 1})
			if (err != nil) != tt.wantErr {
				t.Fatalf("Apply error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}

			if tt.regression {
				got, ok := dataset.Float(mapped.Rows[0]["label"])
				if !ok || got != tt.wantFloat {
					t.Errorf("Label = %v, want %v", mapped.Rows[0]["label"], tt.wantFloat)
				}
				return
			}
			got, ok := dataset.Int(mapped.Rows[0]["label"])
			if !ok || got != tt.want {
				t.Errorf("Label = %v, want %d", mapped.Rows[0]["label"], tt.want)
			}
		})
	}
}

func TestIdentityDistinguishesConfigurations(t *testing.T) {
	base := PreprocessConfig{
		Tokenizer: &fakeTokenizer{},
		FieldA:    "sentence1",
		FieldB:    "sentence2",
		Options:   tokenize.Options{MaxLength: 128, Padding: tokenize.PadMaxLength, Truncation: true},
	}

	p1, err := NewPreprocessor(base)
	if err != nil {
		t.Fatalf("NewPreprocessor error = %v", err)
	}
	p2, err := NewPreprocessor(base)
	if err != nil {
		t.Fatalf("NewPreprocessor error = %v", err)
	}
	if p1.Identity() != p2.Identity() {
		t.Error("Equal configurations should share an identity")
	}

	shorter := base
	shorter.Options.MaxLength = 64
	p3, err := NewPreprocessor(shorter)
	if err != nil {
		t.Fatalf("NewPreprocessor error = %v", err)
	}
	if p1.Identity() == p3.Identity() {
		t.Error("Different max lengths should produce different identities")
	}

	remapped := base
	remapped.Remap = []int{1, 0}
	p4, err := NewPreprocessor(remapped)
	if err != nil {
		t.Fatalf("NewPreprocessor error = %v", err)
	}
	if p1.Identity() == p4.Identity() {
		t.Error("A remap should produce a different identity")
	}
}

func TestApplyReusesCachedResults(t *testing.T) {
	cacheDir := t.TempDir()
	split := pairSplit(int64(0), int64(1), int64(1), int64(0))

	cfg := PreprocessConfig{
		FieldA:  "sentence1",
		FieldB:  "sentence2",
		Space:   models.LabelSpace{Labels: []string{"neg", "pos"}, NumLabels: 2},
		Options: tokenize.Options{MaxLength: 16, Truncation: true},
	}

	first := &fakeTokenizer{}
	cfg.Tokenizer = first
	mapped := applyOnce(t, cfg, split, dataset.MapOptions{Concurrency: 2, CacheDir: cacheDir})
	if first.calls.Load() == 0 {
		t.Fatal("Expected the first pass to invoke the tokenizer")
	}

	// Same split, same configuration: the cache must answer without a single
	// tokenizer call.
	second := &fakeTokenizer{}
	cfg.Tokenizer = second
	cached := applyOnce(t, cfg, split, dataset.MapOptions{Concurrency: 2, CacheDir: cacheDir})
	if got := second.calls.Load(); got != 0 {
		t.Errorf("Cached pass invoked the tokenizer %d times, want 0", got)
	}

	if cached.NumRows() != mapped.NumRows() {
		t.Fatalf("Cached rows = %d, want %d", cached.NumRows(), mapped.NumRows())
	}
	for i := range mapped.Rows {
		wantIDs, _ := dataset.Ints(mapped.Rows[i]["input_ids"])
		gotIDs, ok := dataset.Ints(cached.Rows[i]["input_ids"])
		if !ok || len(gotIDs) != len(wantIDs) {
			t.Fatalf("Row %d input_ids = %v, want %v", i, cached.Rows[i]["input_ids"], wantIDs)
		}
		for j := range wantIDs {
			if gotIDs[j] != wantIDs[j] {
				t.Errorf("Row %d id %d = %d, want %d", i, j, gotIDs[j], wantIDs[j])
			}
		}

		wantLabel, _ := dataset.Int(mapped.Rows[i]["label"])
		gotLabel, _ := dataset.Int(cached.Rows[i]["label"])
		if gotLabel != wantLabel {
			t.Errorf("Row %d label = %d, want %d", i, gotLabel, wantLabel)
		}
	}

	// Overwrite forces a recomputation
	third := &fakeTokenizer{}
	cfg.Tokenizer = third
	applyOnce(t, cfg, split, dataset.MapOptions{Concurrency: 2, CacheDir: cacheDir, Overwrite: true})
	if third.calls.Load() == 0 {
		t.Error("Expected the overwrite pass to invoke the tokenizer")
	}
}
