package impl

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/docstack-rag/services"
)

// localStorage is the filesystem-backed object store. Keys map to paths
// under the configured root; path traversal in keys is rejected.
type localStorage struct {
	root string
}

func NewLocalStorage(root string) (services.ObjectStorage, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage root: %w", err)
	}
	return &localStorage{root: root}, nil
}

func (s *localStorage) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	path, err := s.resolve(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create storage directory: %w", err)
	}

	// Write to a temp file first so readers never observe a partial object.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write object: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("failed to finalize object: %w", err)
	}
	return key, nil
}

func (s *localStorage) Get(ctx context.Context, key string) ([]byte, error) {
	path, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read object %s: %w", key, err)
	}
	return data, nil
}

func (s *localStorage) Delete(ctx context.Context, key string) error {
	path, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete object %s: %w", key, err)
	}
	return nil
}

func (s *localStorage) resolve(key string) (string, error) {
	if key == "" || strings.Contains(key, "..") {
		return "", fmt.Errorf("invalid storage key %q", key)
	}
	return filepath.Join(s.root, filepath.FromSlash(key)), nil
}
