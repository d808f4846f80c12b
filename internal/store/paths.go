package store

import (
	"fmt"
	"os"
	"path/filepath"
)

// GlobalTallyPath returns the path to the global .tally directory.
// On Unix: ~/.tally
// On Windows: %USERPROFILE%\.tally
func GlobalTallyPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, ".tally"), nil
}

// LocalTallyPath returns the path to the local .tally directory
// for the given project root.
func LocalTallyPath(projectRoot string) string {
	return filepath.Join(projectRoot, ".tally")
}

// tallyGitignore is the default .gitignore content for .tally directories.
const tallyGitignore = `# SQLite database files (fixtures under seed/ are the source of truth)
tally.db
tally.db-shm
tally.db-wal
`

// EnsureGitignore creates a .gitignore in the given .tally directory if one
// does not already exist.
func EnsureGitignore(tallyDir string) error {
	gitignorePath := filepath.Join(tallyDir, ".gitignore")
	if _, err := os.Stat(gitignorePath); err == nil {
		return nil // already exists, respect user customizations
	}
	if err := os.WriteFile(gitignorePath, []byte(tallyGitignore), 0600); err != nil {
		return fmt.Errorf("failed to create .gitignore: %w", err)
	}
	return nil
}
