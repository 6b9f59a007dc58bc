// Package experiment drives one fitting run end to end: materialize the
// splits, derive the label space, reconcile model labels, tokenize through
// the map cache and hand the prepared run to the training engine.
package experiment

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prunekit/gluetune/internal/config"
	"github.com/prunekit/gluetune/internal/dataset"
	"github.com/prunekit/gluetune/internal/glue"
	"github.com/prunekit/gluetune/internal/hub"
	"github.com/prunekit/gluetune/internal/metrics"
	"github.com/prunekit/gluetune/internal/run"
	"github.com/prunekit/gluetune/internal/telemetry"
	"github.com/prunekit/gluetune/internal/tokenize"
	"github.com/prunekit/gluetune/internal/trainer"
	"github.com/prunekit/gluetune/internal/util"
	"github.com/prunekit/gluetune/pkg/models"
)

// Experiment manages the phases of a single run
type Experiment struct {
	cfg       *config.Config
	secrets   *config.Secrets
	source    *glue.Source
	store     *hub.Store
	runMgr    *run.Manager
	stateMgr  *StateManager
	collector *telemetry.Collector
	observer  *statsObserver
	progress  bool
	logger    *slog.Logger
	stats     *models.RunStats
}

// New creates an experiment from validated configuration
func New(
	cfg *config.Config,
	secrets *config.Secrets,
	store *hub.Store,
	runMgr *run.Manager,
	stateMgr *StateManager,
	collector *telemetry.Collector,
	progress bool,
	logger *slog.Logger,
) (*Experiment, error) {
	source, err := cfg.Source()
	if err != nil {
		return nil, err
	}

	stats := &models.RunStats{}
	return &Experiment{
		cfg:       cfg,
		secrets:   secrets,
		source:    source,
		store:     store,
		runMgr:    runMgr,
		stateMgr:  stateMgr,
		collector: collector,
		observer:  &statsObserver{collector: collector, stats: stats},
		progress:  progress,
		logger:    logger.With("component", "experiment"),
		stats:     stats,
	}, nil
}

// Stats returns the counters accumulated so far
func (e *Experiment) Stats() models.RunStats {
	return *e.stats
}

// Run executes the complete experiment pipeline
func (e *Experiment) Run(ctx context.Context) (map[string]float64, error) {
	e.stats.StartTime = time.Now()

	e.logger.Info("Starting experiment run",
		"run_id", e.stateMgr.State().ID,
		"task", e.source.TaskName(),
		"model", e.cfg.Model.Name,
		"do_train", e.cfg.Training.DoTrain,
		"do_eval", e.cfg.Training.DoEval)

	// Phase 1: materialize the train and validation splits
	train, validation, err := e.loadSplits(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load dataset splits: %w", err)
	}
	e.stats.TrainRows = train.NumRows()
	e.stats.ValidationRows = validation.NumRows()
	if err := e.stateMgr.Advance(models.PhaseLabels); err != nil {
		return nil, err
	}

	// The model reference supplies the label mapping reconciled below
	modelCfg, err := e.store.ResolveModelConfig(ctx, e.cfg.Model.Name, e.cfg.Model.Revision)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve model config: %w", err)
	}

	// Phase 2: derive the label space from the task or the training split
	space, err := glue.DeriveLabelSpace(e.source, train)
	if err != nil {
		return nil, fmt.Errorf("failed to derive label space: %w", err)
	}
	e.logger.Info("Derived label space",
		"regression", space.Regression,
		"num_labels", space.NumLabels,
		"labels", strings.Join(space.Labels, ", "))
	if err := e.stateMgr.Advance(models.PhaseRemap); err != nil {
		return nil, err
	}

	// Phase 3: reconcile the model's label ids with the dataset order
	remap := glue.ResolveRemap(e.logger, modelCfg.Label2ID, e.source, space)
	if err := e.stateMgr.Advance(models.PhasePreprocess); err != nil {
		return nil, err
	}

	// Phase 4: tokenize both splits through the map cache
	train, validation, tokenizerID, err := e.preprocess(ctx, train, validation, space, remap)
	if err != nil {
		return nil, err
	}

	splits, err := e.materializeSplits(train, validation)
	if err != nil {
		return nil, err
	}
	references, err := evalReferences(validation)
	if err != nil {
		return nil, err
	}
	if err := e.stateMgr.Advance(models.PhaseTrain); err != nil {
		return nil, err
	}

	bridge, err := e.buildTrainer(splits, space, references, validation.Name, tokenizerID)
	if err != nil {
		return nil, fmt.Errorf("failed to build trainer: %w", err)
	}

	// Phase 5: hand the prepared run to the engine
	if e.cfg.Training.DoTrain {
		if err := bridge.Train(ctx); err != nil {
			return nil, err
		}
	}
	if err := e.stateMgr.Advance(models.PhaseEvaluate); err != nil {
		return nil, err
	}

	// Phase 6: score predictions and write the metric artifacts
	var result map[string]float64
	if e.cfg.Training.DoEval {
		result, err = bridge.Evaluate(ctx)
		if err != nil {
			return nil, err
		}
		e.logMetrics(validation.Name, result)
	}

	if err := e.stateMgr.MarkComplete(); err != nil {
		return nil, err
	}

	e.stats.EndTime = time.Now()
	e.stats.TotalDuration = e.stats.EndTime.Sub(e.stats.StartTime)
	e.logger.Info("Experiment run complete",
		"run_id", e.stateMgr.State().ID,
		"duration", e.stats.TotalDuration.Round(time.Millisecond),
		"train_rows", e.stats.TrainRows,
		"validation_rows", e.stats.ValidationRows,
		"cache_hits", e.stats.CacheHits,
		"cache_misses", e.stats.CacheMisses)

	return result, nil
}

// Evaluate scores an existing run without launching training. Predictions
// left behind by an earlier run are reused instead of recomputed.
func (e *Experiment) Evaluate(ctx context.Context) (map[string]float64, error) {
	e.cfg.Training.DoTrain = false
	e.cfg.Training.DoEval = true
	return e.Run(ctx)
}

// loadSplits materializes the train and validation splits for the source
func (e *Experiment) loadSplits(ctx context.Context) (*dataset.Split, *dataset.Split, error) {
	var train, validation *dataset.Split
	var err error

	switch e.source.Kind {
	case glue.SourceTask:
		task := e.source.Task
		train, err = e.store.EnsureSplit(ctx, task.Name, "train")
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load train split: %w", err)
		}
		validation, err = e.store.EnsureSplit(ctx, task.Name, task.ValidationSplit)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load %s split: %w", task.ValidationSplit, err)
		}
	case glue.SourceFiles:
		train, err = glue.LoadFileSplit("train", e.source.TrainFile)
		if err != nil {
			return nil, nil, err
		}
		validation, err = glue.LoadFileSplit("validation", e.source.ValidationFile)
		if err != nil {
			return nil, nil, err
		}
	default:
		return nil, nil, fmt.Errorf("unknown source kind %q", e.source.Kind)
	}

	if n := e.cfg.Data.MaxTrainSamples; n > 0 && n < train.NumRows() {
		e.logger.Info("Truncating training split", "max_train_samples", n)
		train = train.Head(n)
	}
	if n := e.cfg.Data.MaxEvalSamples; n > 0 && n < validation.NumRows() {
		e.logger.Info("Truncating validation split", "max_eval_samples", n)
		validation = validation.Head(n)
	}

	e.logger.Info("Loaded dataset splits",
		"train_rows", train.NumRows(),
		"validation_rows", validation.NumRows())
	return train, validation, nil
}

// preprocess tokenizes both splits and returns them with the tokenizer identity
func (e *Experiment) preprocess(
	ctx context.Context,
	train, validation *dataset.Split,
	space models.LabelSpace,
	remap []int,
) (*dataset.Split, *dataset.Split, string, error) {
	fieldA, fieldB, err := e.source.ResolveFields(train)
	if err != nil {
		return nil, nil, "", err
	}

	encoding := e.cfg.Model.TokenizerEncoding
	if encoding == "" {
		encoding = e.cfg.Model.Name
	}
	tokenizer, err := tokenize.NewBPE(encoding)
	if err != nil {
		return nil, nil, "", fmt.Errorf("failed to build tokenizer: %w", err)
	}

	padding := tokenize.PadDynamic
	if e.cfg.PadToMaxLength() {
		padding = tokenize.PadMaxLength
	}

	prepCfg := glue.PreprocessConfig{
		Tokenizer: tokenizer,
		FieldA:    fieldA,
		FieldB:    fieldB,
		Space:     space,
		Remap:     remap,
		Options: tokenize.Options{
			MaxLength:  e.cfg.Data.MaxSeqLength,
			Padding:    padding,
			Truncation: true,
		},
	}
	if e.source.Kind == glue.SourceFiles && !space.Regression {
		prepCfg.LabelIndex = glue.LabelIndex(space)
	}

	prep, err := glue.NewPreprocessor(prepCfg)
	if err != nil {
		return nil, nil, "", err
	}

	opts := dataset.MapOptions{
		Concurrency: e.cfg.Data.PreprocessConcurrency,
		Progress:    e.progress,
		CacheDir:    e.cfg.Data.CacheDir,
		Overwrite:   e.cfg.Data.OverwriteCache,
		Observer:    e.observer,
	}

	e.logger.Info("Tokenizing splits",
		"field_a", fieldA,
		"field_b", fieldB,
		"max_seq_length", e.cfg.Data.MaxSeqLength,
		"tokenizer", tokenizer.Identity())

	mappedTrain, err := prep.Apply(ctx, e.logger, train, opts)
	if err != nil {
		return nil, nil, "", fmt.Errorf("failed to preprocess %s split: %w", train.Name, err)
	}
	mappedValidation, err := prep.Apply(ctx, e.logger, validation, opts)
	if err != nil {
		return nil, nil, "", fmt.Errorf("failed to preprocess %s split: %w", validation.Name, err)
	}

	e.logSamples(mappedTrain, fieldA)

	return mappedTrain, mappedValidation, tokenizer.Identity(), nil
}

// logSamples logs a few random training examples the way the engine sees them
func (e *Experiment) logSamples(split *dataset.Split, fieldA string) {
	count := e.cfg.Data.SampleLogCount
	if count <= 0 || split.NumRows() == 0 {
		return
	}
	if count > split.NumRows() {
		count = split.NumRows()
	}

	r := rand.New(rand.NewSource(int64(e.cfg.Training.Seed)))
	for _, idx := range r.Perm(split.NumRows())[:count] {
		row := split.Rows[idx]
		ids, _ := dataset.Ints(row["input_ids"])
		e.logger.Info("Sample of the training set",
			"index", idx,
			"num_tokens", len(ids),
			"label", row[glue.LabelColumn],
			"text", util.TruncateString(dataset.FormatValue(row[fieldA]), 120))
	}
}

// materializeSplits writes the preprocessed splits into the run directory so
// the engine can read them without touching the cache.
func (e *Experiment) materializeSplits(splits ...*dataset.Split) ([]models.SplitRef, error) {
	refs := make([]models.SplitRef, 0, len(splits))
	for _, split := range splits {
		path := filepath.Join(e.runMgr.Dir(), split.Name+".jsonl")
		if err := dataset.WriteJSONLines(path, split.Rows); err != nil {
			return nil, fmt.Errorf("failed to write %s split: %w", split.Name, err)
		}
		featuresPath := filepath.Join(e.runMgr.Dir(), split.Name+".features.json")
		if err := dataset.SaveFeatures(featuresPath, split.Features); err != nil {
			return nil, fmt.Errorf("failed to write %s features: %w", split.Name, err)
		}
		refs = append(refs, models.SplitRef{
			Name:    split.Name,
			Path:    path,
			NumRows: split.NumRows(),
		})
	}
	return refs, nil
}

// buildTrainer assembles the engine bridge for the prepared run
func (e *Experiment) buildTrainer(
	splits []models.SplitRef,
	space models.LabelSpace,
	references []float64,
	evalSplit string,
	tokenizerID string,
) (trainer.Trainer, error) {
	var compute metrics.ComputeFunc
	var metricNames []string
	if e.source.Kind == glue.SourceTask {
		metricNames = e.source.Task.Metrics
		compute = metrics.ForTask(metricNames, space.Regression)
	} else {
		if space.Regression {
			metricNames = []string{"mse"}
		} else {
			metricNames = []string{"accuracy"}
		}
		compute = metrics.Fallback(space.Regression)
	}

	manifest := models.RunManifest{
		RunID:      e.stateMgr.State().ID,
		Task:       e.source.TaskName(),
		ModelName:  e.cfg.Model.Name,
		OutputDir:  e.runMgr.Dir(),
		LabelSpace: space,
		Splits:     splits,
		Tokenizer: models.TokenizerSettings{
			Encoding:       tokenizerID,
			MaxSeqLength:   e.cfg.Data.MaxSeqLength,
			PadToMaxLength: e.cfg.PadToMaxLength(),
		},
		Seed:        int64(e.cfg.Training.Seed),
		DoTrain:     e.cfg.Training.DoTrain,
		DoEval:      e.cfg.Training.DoEval,
		MetricNames: metricNames,
		CreatedAt:   time.Now(),
	}

	var extraEnv []string
	if e.secrets != nil && e.secrets.EngineAPIKey != "" {
		extraEnv = append(extraEnv, "API_KEY="+e.secrets.EngineAPIKey)
	}

	bridgeCfg := trainer.EngineBridgeConfig{
		Manifest:     manifest,
		ManifestPath: e.runMgr.ManifestPath(),
		Command:      e.cfg.Engine.Command,
		Args:         e.cfg.Engine.Args,
		ExtraEnv:     extraEnv,
		EvalSplit:    evalSplit,
		References:   references,
		Compute:      compute,
	}
	if e.collector != nil {
		bridgeCfg.Observer = e.collector
	}

	return trainer.NewEngineBridge(e.logger, bridgeCfg)
}

// logMetrics reports the evaluation result in a stable order
func (e *Experiment) logMetrics(split string, result map[string]float64) {
	names := make([]string, 0, len(result))
	for name := range result {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		e.logger.Info("Evaluation metric",
			"split", split,
			"name", name,
			"value", fmt.Sprintf("%.4f", result[name]))
	}
}

// evalReferences pulls the reference labels out of the validation split
func evalReferences(split *dataset.Split) ([]float64, error) {
	references := make([]float64, 0, split.NumRows())
	for i, row := range split.Rows {
		value, ok := dataset.Float(row[glue.LabelColumn])
		if !ok {
			return nil, fmt.Errorf("validation example %d has no numeric label", i)
		}
		references = append(references, value)
	}
	return references, nil
}

// statsObserver forwards cache events to the collector while counting them
// for the run summary.
type statsObserver struct {
	collector *telemetry.Collector
	stats     *models.RunStats
	mu        sync.Mutex
}

func (o *statsObserver) ObserveMapCache(split string, hit bool) {
	o.mu.Lock()
	if hit {
		o.stats.CacheHits++
	} else {
		o.stats.CacheMisses++
	}
	o.mu.Unlock()

	if o.collector != nil {
		o.collector.ObserveMapCache(split, hit)
	}
}

func (o *statsObserver) ObserveMapBatch(split string, rows int) {
	if o.collector != nil {
		o.collector.ObserveMapBatch(split, rows)
	}
}
