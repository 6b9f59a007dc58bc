package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/prunekit/gluetune/internal/hub"
)

func main() {
	if len(os.Args) != 3 {
		fmt.Fprintf(os.Stderr, "Usage: %s <repo-id> <run-dir>\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Example: %s prunekit/gluetune-runs runs/run_2025-11-06T06-49-09\n", os.Args[0])
		os.Exit(1)
	}

	repoID := os.Args[1]
	runDir := os.Args[2]

	// Get token from environment
	token := os.Getenv("GLUETUNE_HUB_TOKEN")
	if token == "" {
		token = os.Getenv("HUGGING_FACE_TOKEN")
	}
	if token == "" {
		fmt.Fprintf(os.Stderr, "Error: GLUETUNE_HUB_TOKEN environment variable not set\n")
		os.Exit(1)
	}

	// Check if run directory exists
	if _, err := os.Stat(runDir); os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Error: Run directory not found: %s\n", runDir)
		os.Exit(1)
	}

	// Create logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	// Create uploader
	client := hub.NewClient(token, nil, logger)
	uploader := hub.NewUploader(client, "", logger)

	fmt.Printf("Uploading run artifacts to the hub...\n")
	fmt.Printf("  Repository: %s\n", repoID)
	fmt.Printf("  Run:        %s\n", runDir)
	fmt.Println()

	// Upload
	if err := uploader.UploadRunArtifacts(context.Background(), repoID, runDir); err != nil {
		fmt.Fprintf(os.Stderr, "Upload failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Println()
	fmt.Println("✓ Upload completed successfully!")
	fmt.Printf("  View at: https://huggingface.co/datasets/%s\n", repoID)
}
