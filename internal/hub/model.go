package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DefaultRevision is the repository revision used when none is configured
const DefaultRevision = "main"

// ResolveModelConfig loads the configuration of a pretrained model. A
// reference naming an existing local directory is read directly; anything
// else is fetched from the hub once and cached under models/.
func (s *Store) ResolveModelConfig(ctx context.Context, nameOrPath, revision string) (*ModelConfig, error) {
	if nameOrPath == "" {
		return nil, fmt.Errorf("model name or path is required")
	}
	if revision == "" {
		revision = DefaultRevision
	}

	if info, err := os.Stat(nameOrPath); err == nil && info.IsDir() {
		return readModelConfig(filepath.Join(nameOrPath, "config.json"))
	}

	cachePath := filepath.Join(s.cfg.CacheDir, "models", flattenRepoID(nameOrPath), revision, "config.json")
	if _, err := os.Stat(cachePath); err == nil {
		s.logger.Debug("Loaded model config from cache", "model", nameOrPath, "path", cachePath)
		return readModelConfig(cachePath)
	}

	configURL := fmt.Sprintf("%s/%s/resolve/%s/config.json", s.cfg.FilesBaseURL, nameOrPath, revision)
	s.logger.Info("Fetching model config", "model", nameOrPath, "revision", revision)

	var raw json.RawMessage
	if err := s.client.GetJSON(ctx, configURL, &raw); err != nil {
		return nil, fmt.Errorf("failed to fetch config for model %s: %w", nameOrPath, err)
	}

	if err := os.MkdirAll(filepath.Dir(cachePath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create model cache directory: %w", err)
	}
	if err := os.WriteFile(cachePath, raw, 0o644); err != nil {
		return nil, fmt.Errorf("failed to cache model config: %w", err)
	}

	var cfg ModelConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config for model %s: %w", nameOrPath, err)
	}
	return &cfg, nil
}

func readModelConfig(path string) (*ModelConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model config: %w", err)
	}
	var cfg ModelConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse model config %s: %w", path, err)
	}
	return &cfg, nil
}

// flattenRepoID turns an org/name reference into a single path segment.
func flattenRepoID(repoID string) string {
	return strings.ReplaceAll(repoID, "/", "--")
}
