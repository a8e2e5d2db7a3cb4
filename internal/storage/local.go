package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/blakecragen/cluster/internal/common"
)

// LocalStorage keeps blobs on the local filesystem, one directory per bucket.
// Used for single-node deployments and in tests.
type LocalStorage struct {
	baseDir string
}

func NewLocalStorage(baseDir string) (*LocalStorage, error) {
	for _, bucket := range Buckets {
		if err := os.MkdirAll(filepath.Join(baseDir, bucket), 0755); err != nil {
			return nil, fmt.Errorf("failed to create storage directory: %w", err)
		}
	}
	return &LocalStorage{baseDir: baseDir}, nil
}

func (s *LocalStorage) path(bucket, key string) string {
	return filepath.Join(s.baseDir, bucket, filepath.FromSlash(key))
}

func (s *LocalStorage) Put(ctx context.Context, bucket, key string, data []byte, contentType string) error {
	path := s.path(bucket, key)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory structure: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write blob: %w", err)
	}
	slog.Debug("blob written to local storage", "bucket", bucket, "key", key, "size", len(data))
	return nil
}

func (s *LocalStorage) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	data, err := os.ReadFile(s.path(bucket, key))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%s/%s: %w", bucket, key, common.ErrBlobNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read blob: %w", err)
	}
	return data, nil
}

func (s *LocalStorage) Delete(ctx context.Context, bucket, key string) error {
	err := os.Remove(s.path(bucket, key))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete blob: %w", err)
	}
	return nil
}

func (s *LocalStorage) List(ctx context.Context, bucket string) ([]string, error) {
	root := filepath.Join(s.baseDir, bucket)
	var keys []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		keys = append(keys, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list bucket %s: %w", bucket, err)
	}
	return keys, nil
}

func (s *LocalStorage) Ping(ctx context.Context) error {
	_, err := os.Stat(s.baseDir)
	return err
}
