package hub

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// MaxEmbeddedFileSize caps how large a single committed artifact may be.
// Run artifacts are small JSON files; anything bigger is skipped rather than
// routed through the LFS protocol.
const MaxEmbeddedFileSize = 10 * 1024 * 1024

// artifactNames are the run files worth publishing.
var artifactNames = map[string]struct{}{
	"run.json":             {},
	"manifest.json":        {},
	"eval_metrics.json":    {},
	"evaluate_timing.json": {},
}

// RepoInfo describes a hub repository
type RepoInfo struct {
	ID      string `json:"id"`
	Private bool   `json:"private"`
}

// commitFile is one file staged for a commit.
type commitFile struct {
	path    string // path inside the repository
	content string // base64 payload
}

// Uploader pushes run artifacts to a hub dataset repository
type Uploader struct {
	client  *Client
	baseURL string
	logger  *slog.Logger
}

// NewUploader creates an uploader talking to the files endpoint of baseURL
func NewUploader(client *Client, baseURL string, logger *slog.Logger) *Uploader {
	if baseURL == "" {
		baseURL = DefaultFilesBaseURL
	}
	return &Uploader{
		client:  client,
		baseURL: baseURL,
		logger:  logger.With("component", "hub_uploader"),
	}
}

// UploadRunArtifacts commits the configuration backup and metric artifacts of
// a finished run to repoID, creating the repository when needed.
func (u *Uploader) UploadRunArtifacts(ctx context.Context, repoID, runDir string) error {
	u.logger.Info("Uploading run artifacts", "repo_id", repoID, "run_dir", runDir)

	staged, err := u.collectArtifacts(runDir)
	if err != nil {
		return err
	}
	if len(staged) == 0 {
		return fmt.Errorf("run directory %s holds no artifacts to upload", runDir)
	}

	if err := u.ensureRepo(ctx, repoID); err != nil {
		return fmt.Errorf("failed to ensure repository: %w", err)
	}

	message := fmt.Sprintf("Add gluetune run artifacts from %s", filepath.Base(runDir))
	if err := u.createCommit(ctx, repoID, "main", staged, message); err != nil {
		return fmt.Errorf("failed to create commit: %w", err)
	}

	u.logger.Info("Upload completed",
		"repo_id", repoID,
		"files", len(staged),
		"url", fmt.Sprintf("%s/datasets/%s", u.baseURL, repoID))
	return nil
}

// collectArtifacts walks the run directory and stages every known artifact,
// renaming the config backup to its plain name.
func (u *Uploader) collectArtifacts(runDir string) ([]commitFile, error) {
	var staged []commitFile

	err := filepath.WalkDir(runDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		name := d.Name()
		repoPath, err := filepath.Rel(runDir, path)
		if err != nil {
			return err
		}
		repoPath = filepath.ToSlash(repoPath)

		if name == "config.toml.bak" {
			repoPath = "config.toml"
		} else if _, ok := artifactNames[name]; !ok {
			return nil
		}

		file, ok, err := u.prepareCommitFile(path, repoPath)
		if err != nil {
			return err
		}
		if ok {
			staged = append(staged, file)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to collect run artifacts: %w", err)
	}

	return staged, nil
}

// prepareCommitFile reads and encodes one artifact. Oversized files are
// skipped with a warning instead of failing the upload.
func (u *Uploader) prepareCommitFile(localPath, repoPath string) (commitFile, bool, error) {
	info, err := os.Stat(localPath)
	if err != nil {
		return commitFile{}, false, fmt.Errorf("failed to stat artifact %s: %w", localPath, err)
	}
	if info.Size() >= MaxEmbeddedFileSize {
		u.logger.Warn("Skipping oversized artifact", "file", localPath, "size", info.Size())
		return commitFile{}, false, nil
	}

	data, err := os.ReadFile(localPath)
	if err != nil {
		return commitFile{}, false, fmt.Errorf("failed to read artifact %s: %w", localPath, err)
	}

	return commitFile{
		path:    repoPath,
		content: base64.StdEncoding.EncodeToString(data),
	}, true, nil
}

// ensureRepo checks for the repository and creates it when missing.
func (u *Uploader) ensureRepo(ctx context.Context, repoID string) error {
	checkURL := fmt.Sprintf("%s/api/datasets/%s", u.baseURL, repoID)

	var info RepoInfo
	err := u.client.GetJSON(ctx, checkURL, &info)
	if err == nil {
		u.logger.Debug("Repository already exists", "repo_id", repoID)
		return nil
	}
	if !IsNotFound(err) {
		return err
	}

	parts := strings.Split(repoID, "/")
	if len(parts) != 2 {
		return fmt.Errorf("invalid repo_id format, expected 'username/reponame', got %q", repoID)
	}

	payload, err := json.Marshal(map[string]any{
		"name":    parts[1],
		"type":    "dataset",
		"private": false,
	})
	if err != nil {
		return err
	}

	createURL := u.baseURL + "/api/repos/create"
	if err := u.client.Post(ctx, createURL, "application/json", payload, nil); err != nil {
		return err
	}

	u.logger.Info("Repository created", "repo_id", repoID)
	return nil
}

// createCommit posts an NDJSON commit: a header line followed by one line per
// staged file with base64-embedded content.
func (u *Uploader) createCommit(ctx context.Context, repoID, branch string, files []commitFile, message string) error {
	commitURL := fmt.Sprintf("%s/api/datasets/%s/commit/%s", u.baseURL, repoID, branch)

	var lines []string

	header, err := json.Marshal(map[string]any{
		"key": "header",
		"value": map[string]string{
			"summary":     message,
			"description": "",
		},
	})
	if err != nil {
		return fmt.Errorf("failed to marshal commit header: %w", err)
	}
	lines = append(lines, string(header))

	for _, file := range files {
		line, err := json.Marshal(map[string]any{
			"key": "file",
			"value": map[string]any{
				"content":  file.content,
				"path":     file.path,
				"encoding": "base64",
			},
		})
		if err != nil {
			return fmt.Errorf("failed to marshal commit file %s: %w", file.path, err)
		}
		lines = append(lines, string(line))
	}

	payload := strings.Join(lines, "\n")
	u.logger.Debug("Creating commit", "url", commitURL, "files", len(files))

	return u.client.Post(ctx, commitURL, "application/x-ndjson", []byte(payload), nil)
}
