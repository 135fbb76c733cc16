package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileStore writes artifacts into a local directory. Each write goes to a
// temp file first and is renamed into place, so readers never see a partial
// artifact and a repeated write replaces the previous one.
type FileStore struct {
	root string
}

func NewFileStore(root string) (*FileStore, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, errors.New("storage: root directory must not be empty")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("storage: ensure root dir: %w", err)
	}
	return &FileStore{root: abs}, nil
}

func (s *FileStore) PutBlob(ctx context.Context, key string, body []byte, _ string) (string, error) {
	path, err := s.write(ctx, key, body)
	if err != nil {
		return "", fmt.Errorf("storage: PutBlob: %w", err)
	}
	return path, nil
}

func (s *FileStore) PutNote(ctx context.Context, key, text string) (string, error) {
	path, err := s.write(ctx, key, []byte(text))
	if err != nil {
		return "", fmt.Errorf("storage: PutNote: %w", err)
	}
	return path, nil
}

func (s *FileStore) write(ctx context.Context, key string, body []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	path, err := s.resolve(key)
	if err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(s.root, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("create temp: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(body); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("write %q: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close %q: %w", key, err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return "", fmt.Errorf("chmod %q: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("rename %q: %w", key, err)
	}
	return path, nil
}

// resolve maps key to a file directly under the root.
func (s *FileStore) resolve(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errors.New("key is required")
	}
	if key != filepath.Base(key) || key == "." || key == ".." {
		return "", fmt.Errorf("key %q must be a plain file name", key)
	}
	return filepath.Join(s.root, key), nil
}
