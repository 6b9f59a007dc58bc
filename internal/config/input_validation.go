package config

import (
	"fmt"
	"net/url"
	"unicode"
)

const (
	// MaxModelNameLength is the maximum allowed length for model names
	MaxModelNameLength = 200

	// MaxRepoIDLength is the maximum allowed length for hub repo ids
	MaxRepoIDLength = 120
)

// ValidateInputs performs additional security validation on user-controllable fields.
// This prevents potential DoS attacks, injection attacks, and other security issues.
func (c *Config) ValidateInputs() error {
	// Validate model name
	if err := validateModelName(c.Model.Name); err != nil {
		return fmt.Errorf("invalid model.name: %w", err)
	}

	// Validate hub base URL overrides
	if err := validateBaseURL(c.Hub.RowsBaseURL, "hub.rows_base_url"); err != nil {
		return err
	}
	if err := validateBaseURL(c.Hub.FilesBaseURL, "hub.files_base_url"); err != nil {
		return err
	}

	// Validate upload repo id
	if err := validateRepoID(c.Hub.RepoID); err != nil {
		return err
	}

	// Validate file paths for control characters
	for _, field := range []struct {
		name  string
		value string
	}{
		{"data.train_file", c.Data.TrainFile},
		{"data.validation_file", c.Data.ValidationFile},
		{"data.cache_dir", c.Data.CacheDir},
		{"engine.command", c.Engine.Command},
	} {
		if containsControlChars(field.value) {
			return fmt.Errorf("%s contains invalid control characters", field.name)
		}
	}

	return nil
}

// validateModelName checks the model reference for security issues
func validateModelName(modelName string) error {
	if len(modelName) > MaxModelNameLength {
		return fmt.Errorf("exceeds maximum length of %d characters (got %d)",
			MaxModelNameLength, len(modelName))
	}

	// Check for control characters
	if containsControlChars(modelName) {
		return fmt.Errorf("contains invalid control characters")
	}

	return nil
}

// validateBaseURL checks that an override URL is properly formatted and safe
func validateBaseURL(baseURL, configKey string) error {
	// Overrides are optional
	if baseURL == "" {
		return nil
	}

	// Parse URL
	u, err := url.Parse(baseURL)
	if err != nil {
		return fmt.Errorf("%s is invalid: %w", configKey, err)
	}

	// Check scheme
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s must use http or https scheme (got %s)", configKey, u.Scheme)
	}

	// Check host is present
	if u.Host == "" {
		return fmt.Errorf("%s must have a host", configKey)
	}

	return nil
}

// validateRepoID checks the upload target repo id
func validateRepoID(repoID string) error {
	if repoID == "" {
		return nil
	}
	if len(repoID) > MaxRepoIDLength {
		return fmt.Errorf("hub.repo_id exceeds maximum length of %d characters (got %d)",
			MaxRepoIDLength, len(repoID))
	}
	if containsControlChars(repoID) {
		return fmt.Errorf("hub.repo_id contains invalid control characters")
	}
	return nil
}

// containsControlChars checks if a string contains control characters
// (excluding newlines, tabs, and carriage returns which are acceptable)
func containsControlChars(s string) bool {
	for _, r := range s {
		if unicode.IsControl(r) && r != '\n' && r != '\t' && r != '\r' {
			return true
		}
	}
	return false
}
