// Package local implements the hash-sharded local filesystem cache layout.
package local

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// shardWidth is the number of hash characters per directory level.
const shardWidth = 2

// Config captures the parameters for the sharded store.
type Config struct {
	// BaseDir is the root directory where cached assets are stored.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
}

// ShardStore maps content-addressed filenames to two-level sharded paths.
type ShardStore struct {
	baseDir string
}

// New creates a new sharded store rooted at cfg.BaseDir.
func New(cfg Config) (*ShardStore, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}

	info, err := os.Stat(cfg.BaseDir)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat base directory: %w", err)
		}
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("failed to create base directory: %w", mkErr)
		}
	} else if !info.IsDir() {
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	// Check for write permissions.
	testFile := filepath.Join(cfg.BaseDir, ".writable_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	if err := os.Remove(testFile); err != nil {
		return nil, fmt.Errorf("failed to clean up test file: %w", err)
	}

	return &ShardStore{baseDir: filepath.Clean(cfg.BaseDir)}, nil
}

// BaseDir returns the store root.
func (s *ShardStore) BaseDir() string {
	return s.baseDir
}

// PathFor returns the deterministic local path for name.
// Stems shorter than four characters are stored directly under the root.
func (s *ShardStore) PathFor(name string) (string, error) {
	if err := validateName(name); err != nil {
		return "", err
	}
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	if len(stem) < 2*shardWidth {
		return filepath.Join(s.baseDir, name), nil
	}
	return filepath.Join(s.baseDir, stem[:shardWidth], stem[shardWidth:2*shardWidth], name), nil
}

// EnsurePathFor resolves the path for name and creates its parent directories.
func (s *ShardStore) EnsurePathFor(name string) (string, error) {
	fullPath, err := s.PathFor(name)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o750); err != nil {
		return "", fmt.Errorf("failed to create parent directories: %w", err)
	}
	return fullPath, nil
}

func validateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("name is required")
	}
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." || strings.HasPrefix(name, "..") {
		return fmt.Errorf("invalid asset name %q", name)
	}
	return nil
}
