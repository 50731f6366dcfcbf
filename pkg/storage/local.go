package storage

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// LocalStorage implements Storage for files served by this host from a
// directory on disk.
type LocalStorage struct {
	basePath  string
	urlPrefix string
}

// LocalConfig holds configuration for local storage.
type LocalConfig struct {
	BasePath  string `mapstructure:"base_path"`
	URLPrefix string `mapstructure:"url_prefix"` // e.g. "/images/thumbnails"
}

// NewLocalStorage creates a new LocalStorage instance.
func NewLocalStorage(cfg LocalConfig) (*LocalStorage, error) {
	if err := os.MkdirAll(cfg.BasePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base path: %w", err)
	}

	absPath, err := filepath.Abs(cfg.BasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	prefix := "/" + strings.Trim(cfg.URLPrefix, "/")
	if prefix == "/" {
		prefix = ""
	}

	return &LocalStorage{
		basePath:  absPath,
		urlPrefix: prefix,
	}, nil
}

// cleanKey normalizes key and rejects keys that would escape basePath.
func cleanKey(key string) (string, bool) {
	k := path.Clean("/" + key)
	k = strings.TrimPrefix(k, "/")
	if k == "" || k == "." {
		return "", false
	}
	return k, true
}

// Exists checks if content with the given key exists.
func (s *LocalStorage) Exists(ctx context.Context, key string) (bool, error) {
	k, ok := cleanKey(key)
	if !ok {
		return false, nil
	}

	info, err := os.Stat(filepath.Join(s.basePath, filepath.FromSlash(k)))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat file: %w", err)
	}

	return !info.IsDir(), nil
}

// GetURL returns a root-relative URL for key. The expiry is ignored.
func (s *LocalStorage) GetURL(ctx context.Context, key string, _ time.Duration) (string, error) {
	k, ok := cleanKey(key)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrNotFound, key)
	}

	exists, err := s.Exists(ctx, k)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", fmt.Errorf("%w: %s", ErrNotFound, k)
	}

	return s.urlPrefix + "/" + k, nil
}
