package dataset

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/schollz/progressbar/v3"
)

// BatchFunc transforms a batch of rows into the same number of output rows.
type BatchFunc func(ctx context.Context, rows []Row) ([]Row, error)

// CacheObserver receives cache and batch events from Map.
type CacheObserver interface {
	ObserveMapCache(split string, hit bool)
	ObserveMapBatch(split string, rows int)
}

// MapOptions controls a batched Map pass.
type MapOptions struct {
	// Identity distinguishes this transformation for caching. Two passes with
	// the same identity over the same split share a cache entry.
	Identity string
	// OutputFeatures describes the columns of the produced split.
	OutputFeatures []Feature

	// BatchSize is the number of rows handed to each function call (default 1000).
	BatchSize int
	// Concurrency controls how many batches run in parallel.
	Concurrency int
	// Description labels the progress bar.
	Description string
	// Progress enables the terminal progress bar.
	Progress bool

	// CacheDir enables the on-disk result cache when non-empty.
	CacheDir string
	// Overwrite forces recomputation even when a cache entry exists.
	Overwrite bool

	Observer CacheObserver
}

type mapJob struct {
	index int
	rows  []Row
}

type mapResult struct {
	index int
	rows  []Row
	err   error
}

// Map applies fn to the split in batches and returns the mapped split.
// Results are cached on disk keyed by the split fingerprint and the transform
// identity; a cache hit returns without invoking fn at all.
func (s *Split) Map(ctx context.Context, logger *slog.Logger, fn BatchFunc, opts MapOptions) (*Split, error) {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 1000
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = runtime.NumCPU()
	}
	if opts.Description == "" {
		opts.Description = "Mapping " + s.Name
	}

	var cachePath string
	if opts.CacheDir != "" {
		cachePath = filepath.Join(opts.CacheDir, "maps", transformFingerprint(s, opts.Identity)+"-"+s.Name+".jsonl")

		if !opts.Overwrite {
			if _, err := os.Stat(cachePath); err == nil {
				rows, err := readCachedRows(cachePath)
				if err == nil {
					logger.Info("Loaded mapped split from cache",
						"split", s.Name,
						"path", cachePath,
						"rows", len(rows))
					if opts.Observer != nil {
						opts.Observer.ObserveMapCache(s.Name, true)
					}
					return &Split{Name: s.Name, Features: opts.OutputFeatures, Rows: rows}, nil
				}
				logger.Warn("Failed to read map cache, recomputing", "path", cachePath, "error", err)
			}
		}
		if opts.Observer != nil {
			opts.Observer.ObserveMapCache(s.Name, false)
		}
	}

	numBatches := (len(s.Rows) + opts.BatchSize - 1) / opts.BatchSize
	if numBatches == 0 {
		return &Split{Name: s.Name, Features: opts.OutputFeatures}, nil
	}
	if opts.Concurrency > numBatches {
		opts.Concurrency = numBatches
	}

	mctx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobCh := make(chan mapJob)
	resultCh := make(chan mapResult)
	var wg sync.WaitGroup

	for i := 0; i < opts.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-mctx.Done():
					return
				case job, ok := <-jobCh:
					if !ok {
						return
					}

					out, err := fn(mctx, job.rows)
					if err == nil && len(out) != len(job.rows) {
						err = fmt.Errorf("expected %d output rows, got %d", len(job.rows), len(out))
					}

					select {
					case <-mctx.Done():
						return
					case resultCh <- mapResult{index: job.index, rows: out, err: err}:
					}
				}
			}
		}()
	}

	// Feed batches in order.
	go func() {
		defer close(jobCh)
		for i := 0; i < numBatches; i++ {
			start := i * opts.BatchSize
			end := start + opts.BatchSize
			if end > len(s.Rows) {
				end = len(s.Rows)
			}
			select {
			case <-mctx.Done():
				return
			case jobCh <- mapJob{index: i, rows: s.Rows[start:end]}:
			}
		}
	}()

	// Close resultCh when all workers are done.
	go func() {
		wg.Wait()
		close(resultCh)
	}()

	var bar *progressbar.ProgressBar
	if opts.Progress {
		bar = progressbar.Default(int64(numBatches), opts.Description)
	}

	out := make([]Row, 0, len(s.Rows))
	pending := make(map[int][]Row)
	next := 0

	for res := range resultCh {
		if res.err != nil {
			cancel()
			return nil, fmt.Errorf("map batch %d failed: %w", res.index, res.err)
		}

		if opts.Observer != nil {
			opts.Observer.ObserveMapBatch(s.Name, len(res.rows))
		}
		pending[res.index] = res.rows

		for {
			rows, ok := pending[next]
			if !ok {
				break
			}
			out = append(out, rows...)
			delete(pending, next)
			next++
			if bar != nil {
				_ = bar.Add(1)
			}
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if cachePath != "" {
		if err := writeCachedRows(cachePath, out); err != nil {
			logger.Warn("Failed to write map cache", "path", cachePath, "error", err)
		} else {
			logger.Debug("Wrote map cache", "path", cachePath, "rows", len(out))
		}
	}

	return &Split{Name: s.Name, Features: opts.OutputFeatures, Rows: out}, nil
}

// transformFingerprint combines the input split fingerprint with the
// transform identity into the cache key.
func transformFingerprint(s *Split, identity string) string {
	h := xxhash.New()
	_, _ = h.WriteString(s.Fingerprint())
	_, _ = h.WriteString(identity)
	return strconv.FormatUint(h.Sum64(), 16)
}
