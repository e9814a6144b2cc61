package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Local 檔案系統儲存，開發與單機部署使用
type Local struct {
	basePath  string
	publicURL string
	mu        sync.RWMutex
}

// NewLocal 建立檔案系統儲存，目錄不存在時自動建立
func NewLocal(basePath, publicURL string) (*Local, error) {
	if basePath == "" {
		return nil, fmt.Errorf("base path cannot be empty")
	}
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &Local{
		basePath:  basePath,
		publicURL: strings.TrimRight(publicURL, "/"),
	}, nil
}

// Dir 儲存根目錄，供靜態檔案路由使用
func (s *Local) Dir() string { return s.basePath }

// Put 寫入檔案
func (s *Local) Put(_ context.Context, key string, data []byte, _ string) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return fmt.Errorf("image data cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write image file: %w", err)
	}
	return nil
}

// Get 讀取檔案內容
func (s *Local) Get(key string) ([]byte, error) {
	path, err := s.path(key)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read image file: %w", err)
	}
	return data, nil
}

// Delete 刪除檔案
func (s *Local) Delete(_ context.Context, key string) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete image file: %w", err)
	}
	return nil
}

// URL 對外位址
func (s *Local) URL(key string) string {
	return s.publicURL + "/" + key
}

// path 拒絕跳出根目錄的 key
func (s *Local) path(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("key cannot be empty")
	}
	if strings.Contains(key, "/") || strings.Contains(key, `\`) || strings.Contains(key, "..") {
		return "", fmt.Errorf("invalid key %q", key)
	}
	return filepath.Join(s.basePath, key), nil
}
