package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// credentialsFile holds the bearer token for the remote API, 0600, inside
// the data directory.
const credentialsFile = "credentials"

// SaveToken stores the API token for later sync runs.
func SaveToken(dataDir, token string) error {
	if token == "" {
		return fmt.Errorf("token cannot be empty")
	}
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	path := filepath.Join(dataDir, credentialsFile)
	if err := os.WriteFile(path, []byte(token+"\n"), 0600); err != nil {
		return fmt.Errorf("failed to write credentials: %w", err)
	}
	return nil
}

// LoadToken reads the stored API token.
func LoadToken(dataDir string) (string, error) {
	path := filepath.Join(dataDir, credentialsFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("no credentials found; run 'aud login' first")
		}
		return "", fmt.Errorf("failed to read credentials: %w", err)
	}

	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", fmt.Errorf("credentials file is empty; run 'aud login' again")
	}
	return token, nil
}
