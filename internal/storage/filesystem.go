package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// FileStore keeps objects on the local filesystem. Intended for development.
type FileStore struct {
	root    string
	baseURL string
}

func NewFileStore(root, publicBaseURL string) (*FileStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &FileStore{root: root, baseURL: strings.TrimRight(publicBaseURL, "/")}, nil
}

func (s *FileStore) Put(_ context.Context, key string, data []byte, _ string) (string, error) {
	if !validKey(key) {
		return "", ErrInvalidKey
	}
	path := filepath.Join(s.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", err
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", err
	}
	return s.baseURL + "/" + key, nil
}

func (s *FileStore) Delete(_ context.Context, key string) error {
	if !validKey(key) {
		return ErrInvalidKey
	}
	err := os.Remove(filepath.Join(s.root, filepath.FromSlash(key)))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func (s *FileStore) DeletePrefix(_ context.Context, prefix string) error {
	if !validKey(prefix) {
		return ErrInvalidKey
	}
	return os.RemoveAll(filepath.Join(s.root, filepath.FromSlash(strings.TrimSuffix(prefix, "/"))))
}
