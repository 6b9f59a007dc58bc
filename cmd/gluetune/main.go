package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/prunekit/gluetune/internal/config"
	"github.com/prunekit/gluetune/internal/experiment"
	"github.com/prunekit/gluetune/internal/glue"
	"github.com/prunekit/gluetune/internal/hub"
	"github.com/prunekit/gluetune/internal/run"
	"github.com/prunekit/gluetune/internal/telemetry"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var (
	configPath     string
	envFile        string
	verbose        bool
	overwriteCache bool
	pushToHub      bool
	hubRepoID      string
	cacheDir       string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "gluetune",
		Short: "gluetune - GLUE task preparation for external training engines",
		Long: `gluetune prepares text classification benchmark runs end to end:
it resolves the task, downloads and tokenizes the splits, reconciles the
model's label mapping with the dataset order and hands the prepared run to
a training engine. Afterwards it scores the engine's predictions and writes
the metric artifacts.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", Version, GitCommit, BuildTime),
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the full fine-tuning pipeline",
		Long: `Run the complete fine-tuning pipeline:
1. Materialize the train and validation splits
2. Derive the label space and reconcile model labels
3. Tokenize the splits through the preprocessing cache
4. Launch the training engine
5. Score predictions and write metric artifacts
6. Optional: Upload run artifacts to the Hugging Face Hub`,
		RunE: runExperiment,
	}

	runCmd.Flags().StringVar(&configPath, "config", "config.toml", "Path to configuration file")
	runCmd.Flags().StringVar(&envFile, "env-file", ".env", "Path to environment file")
	runCmd.Flags().BoolVar(&overwriteCache, "overwrite-cache", false, "Recompute preprocessed splits even when cached")
	runCmd.Flags().BoolVar(&pushToHub, "push-to-hub", false, "Upload run artifacts to the Hugging Face Hub")
	runCmd.Flags().StringVar(&hubRepoID, "hub-repo-id", "", "Hub dataset repository ID (e.g., username/gluetune-runs)")
	runCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")

	evaluateCmd := &cobra.Command{
		Use:   "evaluate [run-name]",
		Short: "Score an existing run without training",
		Long: `Score a run's predictions without launching training. With a run name,
predictions already produced by that run are reused; otherwise the engine
is invoked once in prediction mode.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runEvaluation,
	}

	evaluateCmd.Flags().StringVar(&configPath, "config", "config.toml", "Path to configuration file")
	evaluateCmd.Flags().StringVar(&envFile, "env-file", ".env", "Path to environment file")
	evaluateCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")

	tasksCmd := &cobra.Command{
		Use:   "tasks",
		Short: "List the supported benchmark tasks",
		Long:  "List every supported benchmark task with its text fields, target type and metrics",
		RunE:  listTasks,
	}

	// Cache management commands
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the download and preprocessing caches",
		Long:  "Inspect and clear the cached dataset splits, model configs and preprocessed data",
	}

	cacheListCmd := &cobra.Command{
		Use:   "list",
		Short: "List cached datasets, models and preprocessed splits",
		RunE:  listCache,
	}

	cachePurgeCmd := &cobra.Command{
		Use:   "purge [kinds...]",
		Short: "Delete cache entries",
		Long:  "Delete cached data by kind (datasets, models, maps); with no kinds, everything goes",
		RunE:  purgeCache,
	}

	cacheListCmd.Flags().StringVar(&cacheDir, "cache-dir", "", "Cache directory (defaults to the user cache)")
	cachePurgeCmd.Flags().StringVar(&cacheDir, "cache-dir", "", "Cache directory (defaults to the user cache)")

	cacheCmd.AddCommand(cacheListCmd)
	cacheCmd.AddCommand(cachePurgeCmd)

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(evaluateCmd)
	rootCmd.AddCommand(tasksCmd)
	rootCmd.AddCommand(cacheCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runExperiment(cmd *cobra.Command, args []string) error {
	cfg, secrets, err := loadConfiguration()
	if err != nil {
		return err
	}
	return executePipeline(cfg, secrets, false)
}

func runEvaluation(cmd *cobra.Command, args []string) error {
	cfg, secrets, err := loadConfiguration()
	if err != nil {
		return err
	}

	// An explicit run name reuses that run's directory and predictions
	if len(args) == 1 {
		if err := run.ValidateRunName(cfg.Training.OutputDir, args[0]); err != nil {
			return fmt.Errorf("invalid run name: %w", err)
		}
		cfg.Training.ResumeFromRun = args[0]
	}

	return executePipeline(cfg, secrets, true)
}

// loadConfiguration loads the env file, the config file and applies CLI overrides
func loadConfiguration() (*config.Config, *config.Secrets, error) {
	// Load environment variables from file if it exists
	if envFile != "" {
		if err := loadEnvFile(envFile); err != nil {
			if !os.IsNotExist(err) {
				fmt.Fprintf(os.Stderr, "Warning: failed to load env file: %v\n", err)
			}
		} else if verbose {
			fmt.Fprintf(os.Stderr, "Loaded env file: %s\n", envFile)
		}
	}

	cfg, secrets, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	// CLI flags override the file
	if overwriteCache {
		cfg.Data.OverwriteCache = true
	}
	if pushToHub {
		cfg.Hub.PushToHub = true
	}
	if hubRepoID != "" {
		cfg.Hub.RepoID = hubRepoID
	}
	if cfg.Hub.PushToHub && cfg.Hub.RepoID == "" {
		return nil, nil, fmt.Errorf("--hub-repo-id must be specified when using --push-to-hub")
	}

	return cfg, secrets, nil
}

// executePipeline assembles the run directory, hub stack and experiment, then
// runs it under a signal-aware context.
func executePipeline(cfg *config.Config, secrets *config.Secrets, evaluateOnly bool) error {
	// Determine log level
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}

	// Check for resume mode
	resumeMode := cfg.Training.ResumeFromRun != ""

	// Create run manager (handles both new and resume)
	runMgr, err := run.NewManager(slog.Default(), cfg.Training.OutputDir, cfg.Training.ResumeFromRun)
	if err != nil {
		return fmt.Errorf("failed to create run directory: %w", err)
	}

	// Set up logger
	logger, logFile, err := run.SetupLogger(runMgr, logLevel)
	if err != nil {
		return fmt.Errorf("failed to setup logger: %w", err)
	}
	defer func() {
		if logFile != nil {
			_ = logFile.Sync()
			_ = logFile.Close()
		}
	}()

	logger.Info("gluetune starting",
		"version", Version,
		"config", configPath,
		"run_dir", runMgr.Dir(),
		"resume_mode", resumeMode)

	// Backup config if not resuming
	if !resumeMode {
		if err := runMgr.BackupConfig(configPath); err != nil {
			return fmt.Errorf("failed to backup config: %w", err)
		}
	}

	// Set up run state
	var stateMgr *experiment.StateManager
	if resumeMode {
		state, err := experiment.LoadState(runMgr.Dir(), logger)
		if err != nil {
			return fmt.Errorf("failed to load run state: %w", err)
		}
		if err := experiment.ValidateState(state, cfg); err != nil {
			return fmt.Errorf("run state validation failed: %w", err)
		}
		stateMgr = experiment.NewStateManagerFromState(runMgr.Dir(), state, logger)
	} else {
		stateMgr = experiment.NewStateManager(runMgr.Dir(), cfg, logger)
	}

	// Assemble the hub stack
	collector := telemetry.NewCollector(logger)
	client := hub.NewClient(secrets.HubToken, collector, logger)
	client.SetRequestsPerMinute(cfg.Hub.RequestsPerMinute)
	store := hub.NewStore(client, hub.StoreConfig{
		RowsBaseURL:  cfg.Hub.RowsBaseURL,
		FilesBaseURL: cfg.Hub.FilesBaseURL,
		CacheDir:     cfg.Data.CacheDir,
		Dataset:      cfg.Hub.Dataset,
		Progress:     !verbose,
	}, collector, logger)

	exp, err := experiment.New(cfg, secrets, store, runMgr, stateMgr, collector, !verbose, logger)
	if err != nil {
		return fmt.Errorf("failed to create experiment: %w", err)
	}

	// Run with signal-aware context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if evaluateOnly {
		_, err = exp.Evaluate(ctx)
	} else {
		_, err = exp.Run(ctx)
	}
	if err != nil {
		if ctx.Err() == context.Canceled {
			logger.Warn("Run interrupted - resume from the run directory",
				"run_dir", runMgr.Name(),
				"resume_command", fmt.Sprintf("Set resume_from_run = %q in config.toml", runMgr.Name()))
			return fmt.Errorf("run interrupted (resume by setting resume_from_run in config)")
		}
		return fmt.Errorf("run failed: %w", err)
	}

	// Print stats
	stats := exp.Stats()
	logger.Info("Run complete",
		"train_rows", stats.TrainRows,
		"validation_rows", stats.ValidationRows,
		"cache_hits", stats.CacheHits,
		"cache_misses", stats.CacheMisses,
		"duration", stats.TotalDuration,
		"run_dir", runMgr.Dir())

	// Optional: Upload run artifacts to the hub
	if cfg.Hub.PushToHub {
		if secrets.HubToken == "" {
			logger.Warn("GLUETUNE_HUB_TOKEN is not set, skipping artifact upload")
		} else {
			uploader := hub.NewUploader(client, cfg.Hub.FilesBaseURL, logger)
			if err := uploader.UploadRunArtifacts(ctx, cfg.Hub.RepoID, runMgr.Dir()); err != nil {
				return fmt.Errorf("upload failed: %w", err)
			}
		}
	}

	logger.Info("All done!")
	return nil
}

// loadEnvFile loads environment variables from a file
func loadEnvFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(strings.TrimSuffix(line, "\r"))
		// Skip comments and empty lines
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Parse KEY=VALUE
		key, value, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		key = strings.TrimSpace(key)
		value = trimQuotes(strings.TrimSpace(value))
		if err := os.Setenv(key, value); err != nil {
			return err
		}
	}

	return nil
}

func trimQuotes(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}

// listTasks prints the supported task table
func listTasks(cmd *cobra.Command, args []string) error {
	fmt.Println("Supported tasks:")
	fmt.Println()
	fmt.Printf("%-8s %-28s %-12s %-32s %s\n", "TASK", "TEXT FIELDS", "TARGET", "METRICS", "VALIDATION SPLIT")
	fmt.Println(strings.Repeat("-", 100))

	for _, name := range glue.Names() {
		task, err := glue.Resolve(name)
		if err != nil {
			return err
		}

		fields := task.FieldA
		if task.Pair() {
			fields += ", " + task.FieldB
		}
		target := "classification"
		if task.Regression {
			target = "regression"
		}

		fmt.Printf("%-8s %-28s %-12s %-32s %s\n",
			task.Name, fields, target, strings.Join(task.Metrics, ", "), task.ValidationSplit)
	}

	return nil
}

// listCache prints the cached datasets, model configs and map results
func listCache(cmd *cobra.Command, args []string) error {
	dir := resolveCacheDir()

	entries, err := hub.ListCache(dir)
	if err != nil {
		return fmt.Errorf("failed to list cache: %w", err)
	}

	if len(entries) == 0 {
		fmt.Printf("Cache at %s is empty.\n", dir)
		return nil
	}

	fmt.Printf("Cache entries under %s:\n", dir)
	fmt.Println()
	fmt.Printf("%-10s %-45s %12s\n", "KIND", "NAME", "SIZE")
	fmt.Println(strings.Repeat("-", 70))

	var total int64
	for _, entry := range entries {
		fmt.Printf("%-10s %-45s %12d\n", entry.Kind, entry.Name, entry.Size)
		total += entry.Size
	}
	fmt.Println(strings.Repeat("-", 70))
	fmt.Printf("%-56s %12d\n", "total bytes", total)

	return nil
}

// purgeCache deletes cache entries by kind
func purgeCache(cmd *cobra.Command, args []string) error {
	dir := resolveCacheDir()

	if err := hub.PurgeCache(dir, args...); err != nil {
		return fmt.Errorf("failed to purge cache: %w", err)
	}

	if len(args) == 0 {
		fmt.Printf("Purged all cache entries under %s.\n", dir)
	} else {
		fmt.Printf("Purged %s under %s.\n", strings.Join(args, ", "), dir)
	}
	return nil
}

// resolveCacheDir prefers the flag, then the config file, then the default
func resolveCacheDir() string {
	if cacheDir != "" {
		return cacheDir
	}
	if cfg, _, err := config.Load(configPath); err == nil && cfg.Data.CacheDir != "" {
		return cfg.Data.CacheDir
	}
	return config.DefaultCacheDir()
}
