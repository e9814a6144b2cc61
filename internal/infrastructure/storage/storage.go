package storage

import (
	"context"
	"errors"
	"fmt"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"recipe-importer/internal/infrastructure/config"
)

// ErrNotFound 物件不存在
var ErrNotFound = errors.New("object not found")

// Store 食譜圖片的持久化儲存
type Store interface {
	// Put 寫入內容並回傳 key
	Put(ctx context.Context, key string, data []byte, contentType string) error
	// Delete 刪除物件，不存在時不視為錯誤
	Delete(ctx context.Context, key string) error
	// URL 對外可存取的位址
	URL(key string) string
}

// NewKey 產生 prefix-nanoid.ext 形式的物件 key
func NewKey(prefix, ext string) (string, error) {
	id, err := gonanoid.New()
	if err != nil {
		return "", fmt.Errorf("generate nanoid: %w", err)
	}
	return fmt.Sprintf("%s-%s%s", prefix, id, ext), nil
}

// New 依設定建立儲存後端
func New(ctx context.Context, cfg config.StorageConfig) (Store, error) {
	switch cfg.Backend {
	case "local":
		return NewLocal(cfg.LocalDir, cfg.PublicBaseURL)
	case "s3":
		return NewS3(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", cfg.Backend)
	}
}
