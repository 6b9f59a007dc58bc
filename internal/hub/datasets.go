package hub

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/schollz/progressbar/v3"

	"github.com/prunekit/gluetune/internal/dataset"
	"github.com/prunekit/gluetune/internal/telemetry"
)

const (
	// DefaultRowsBaseURL serves paginated dataset rows
	DefaultRowsBaseURL = "https://datasets-server.huggingface.co"
	// DefaultFilesBaseURL serves raw repository files
	DefaultFilesBaseURL = "https://huggingface.co"
	// DefaultBenchmarkDataset is the hub dataset holding the benchmark tasks
	DefaultBenchmarkDataset = "glue"

	// rowsPageSize is the page length the rows endpoint allows at most
	rowsPageSize = 100
	// lockRetryDelay is how often a waiting process re-checks the split lock
	lockRetryDelay = 500 * time.Millisecond
)

// StoreConfig wires a Store to its endpoints and cache location
type StoreConfig struct {
	RowsBaseURL  string
	FilesBaseURL string
	CacheDir     string
	Dataset      string
	Progress     bool
}

// Store materializes hub datasets and model configurations into a local cache
type Store struct {
	client    *Client
	cfg       StoreConfig
	logger    *slog.Logger
	collector *telemetry.Collector
}

// NewStore creates a store backed by client. Unset config fields fall back to
// the public hub endpoints.
func NewStore(client *Client, cfg StoreConfig, collector *telemetry.Collector, logger *slog.Logger) *Store {
	if cfg.RowsBaseURL == "" {
		cfg.RowsBaseURL = DefaultRowsBaseURL
	}
	if cfg.FilesBaseURL == "" {
		cfg.FilesBaseURL = DefaultFilesBaseURL
	}
	if cfg.Dataset == "" {
		cfg.Dataset = DefaultBenchmarkDataset
	}
	return &Store{
		client:    client,
		cfg:       cfg,
		logger:    logger.With("component", "hub_store"),
		collector: collector,
	}
}

// CacheDir returns the root of the store's on-disk cache
func (s *Store) CacheDir() string {
	return s.cfg.CacheDir
}

// EnsureSplit returns one split of a benchmark task, downloading and
// materializing it on first use. Concurrent processes coordinate through a
// file lock so each split is downloaded exactly once.
func (s *Store) EnsureSplit(ctx context.Context, taskName, split string) (*dataset.Split, error) {
	dir := filepath.Join(s.cfg.CacheDir, "datasets", s.cfg.Dataset, taskName)
	rowsPath := filepath.Join(dir, split+".jsonl")
	featuresPath := filepath.Join(dir, split+".features.json")

	if materialized(rowsPath, featuresPath) {
		return s.loadMaterialized(rowsPath, featuresPath, split)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create dataset cache directory: %w", err)
	}

	lock := flock.New(filepath.Join(dir, split+".lock"))
	locked, err := lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire split lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("failed to acquire split lock for %s/%s", taskName, split)
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			s.logger.Warn("Failed to release split lock", "error", err)
		}
	}()

	// Another process may have finished the download while we waited.
	if materialized(rowsPath, featuresPath) {
		return s.loadMaterialized(rowsPath, featuresPath, split)
	}

	s.logger.Info("Downloading split", "dataset", s.cfg.Dataset, "task", taskName, "split", split)

	features, rows, err := s.downloadSplit(ctx, taskName, split)
	if err != nil {
		return nil, err
	}

	if err := dataset.WriteJSONLines(rowsPath, rows); err != nil {
		return nil, fmt.Errorf("failed to materialize split rows: %w", err)
	}
	// Features are written last and act as the completeness marker.
	if err := dataset.SaveFeatures(featuresPath, features); err != nil {
		return nil, fmt.Errorf("failed to materialize split features: %w", err)
	}

	s.logger.Info("Materialized split",
		"task", taskName,
		"split", split,
		"rows", len(rows),
		"path", rowsPath)

	return &dataset.Split{Name: split, Features: features, Rows: rows}, nil
}

func materialized(rowsPath, featuresPath string) bool {
	if _, err := os.Stat(rowsPath); err != nil {
		return false
	}
	if _, err := os.Stat(featuresPath); err != nil {
		return false
	}
	return true
}

func (s *Store) loadMaterialized(rowsPath, featuresPath, split string) (*dataset.Split, error) {
	features, err := dataset.LoadFeatures(featuresPath)
	if err != nil {
		return nil, err
	}
	loaded, err := dataset.LoadJSON(split, rowsPath, features)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("Loaded split from cache", "split", split, "rows", loaded.NumRows(), "path", rowsPath)
	return loaded, nil
}

// downloadSplit pages through the rows endpoint until the split is complete.
func (s *Store) downloadSplit(ctx context.Context, taskName, split string) ([]dataset.Feature, []dataset.Row, error) {
	var (
		features []dataset.Feature
		rows     []dataset.Row
		bar      *progressbar.ProgressBar
		total    int
	)

	offset := 0
	for {
		pageURL := fmt.Sprintf("%s/rows?dataset=%s&config=%s&split=%s&offset=%d&length=%d",
			s.cfg.RowsBaseURL,
			url.QueryEscape(s.cfg.Dataset),
			url.QueryEscape(taskName),
			url.QueryEscape(split),
			offset,
			rowsPageSize)

		var page rowsResponse
		if err := s.client.GetJSON(ctx, pageURL, &page); err != nil {
			return nil, nil, fmt.Errorf("failed to fetch rows page at offset %d: %w", offset, err)
		}

		if offset == 0 {
			features = convertFeatures(page.Features)
			total = page.NumRowsTotal
			if s.cfg.Progress && total > 0 {
				bar = progressbar.Default(int64(total), fmt.Sprintf("Downloading %s/%s", taskName, split))
			}
		}

		for _, entry := range page.Rows {
			row, err := dataset.DecodeRow(entry.Row)
			if err != nil {
				return nil, nil, fmt.Errorf("row %d: failed to decode: %w", entry.RowIdx, err)
			}
			rows = append(rows, row)
		}

		if s.collector != nil {
			s.collector.AddDownloadedRows(s.cfg.Dataset, split, len(page.Rows))
		}
		if bar != nil {
			_ = bar.Add(len(page.Rows))
		}

		offset += len(page.Rows)
		if len(page.Rows) == 0 || (total > 0 && offset >= total) {
			break
		}
	}

	if len(rows) == 0 {
		return nil, nil, fmt.Errorf("split %s/%s came back empty", taskName, split)
	}

	dataset.CoerceRows(features, rows)
	return features, rows, nil
}
