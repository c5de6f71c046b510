// Package workspace manages the on-disk layout of in-flight sessions.
//
// Each session owns exactly one directory under <root>/sessions/<id>/ holding
// its source file, compiled binary, and transcript ledger. The directory is
// removed in full when the session reaches a terminal state, so no artifact
// can outlive its session.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
)

// Initialize creates the workspace root and the sessions directory with 0700
// permissions. Idempotent - safe to call multiple times.
func Initialize(root string) error {
	path := filepath.Join(root, "sessions")
	if err := os.MkdirAll(path, 0700); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", path, err)
	}
	return nil
}

// SessionDir returns the directory owned by the given session.
func SessionDir(root, sessionID string) string {
	return filepath.Join(root, "sessions", sessionID)
}

// CreateSession creates the session's directory and returns its path.
func CreateSession(root, sessionID string) (string, error) {
	dir := SessionDir(root, sessionID)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("failed to create session directory %s: %w", dir, err)
	}
	return dir, nil
}

// RemoveSession deletes the session's directory and everything in it.
// Idempotent - removing an already-removed session is a no-op.
func RemoveSession(root, sessionID string) error {
	dir := SessionDir(root, sessionID)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove session directory %s: %w", dir, err)
	}
	return nil
}
