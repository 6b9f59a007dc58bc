package hub

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Cache kinds as they appear on disk and in the cache commands.
const (
	CacheKindDataset = "datasets"
	CacheKindModel   = "models"
	CacheKindMap     = "maps"
)

// CacheEntry describes one cached artifact
type CacheEntry struct {
	Kind string
	Name string
	Path string
	Size int64
}

// ListCache inventories the cache directory. A missing cache directory yields
// an empty inventory, not an error.
func ListCache(cacheDir string) ([]CacheEntry, error) {
	var entries []CacheEntry

	for _, kind := range []string{CacheKindDataset, CacheKindModel, CacheKindMap} {
		root := filepath.Join(cacheDir, kind)
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if os.IsNotExist(err) {
					return nil
				}
				return err
			}
			if d.IsDir() || strings.HasSuffix(path, ".lock") {
				return nil
			}

			info, err := d.Info()
			if err != nil {
				return err
			}
			rel, err := filepath.Rel(root, path)
			if err != nil {
				return err
			}

			entries = append(entries, CacheEntry{
				Kind: kind,
				Name: filepath.ToSlash(rel),
				Path: path,
				Size: info.Size(),
			})
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to walk cache directory %s: %w", root, err)
		}
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Kind != entries[j].Kind {
			return entries[i].Kind < entries[j].Kind
		}
		return entries[i].Name < entries[j].Name
	})

	return entries, nil
}

// PurgeCache removes cached artifacts of the given kinds, or the whole cache
// when no kinds are named.
func PurgeCache(cacheDir string, kinds ...string) error {
	if len(kinds) == 0 {
		kinds = []string{CacheKindDataset, CacheKindModel, CacheKindMap}
	}

	for _, kind := range kinds {
		switch kind {
		case CacheKindDataset, CacheKindModel, CacheKindMap:
		default:
			return fmt.Errorf("unknown cache kind %q, want one of: %s, %s, %s",
				kind, CacheKindDataset, CacheKindModel, CacheKindMap)
		}

		root := filepath.Join(cacheDir, kind)
		if err := os.RemoveAll(root); err != nil {
			return fmt.Errorf("failed to purge cache directory %s: %w", root, err)
		}
	}

	return nil
}
