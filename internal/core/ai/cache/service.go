package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"recipe-importer/internal/pkg/common"
)

const redisKeyPrefix = "ai:response:"

// Service Redis 快取，多實例共用
type Service struct {
	client redis.Cmdable
	ttl    time.Duration
}

var _ Store = (*Service)(nil)

// NewService 創建 Redis 緩存服務
func NewService(client redis.Cmdable, ttl time.Duration) *Service {
	return &Service{client: client, ttl: ttl}
}

// Get 獲取緩存
func (s *Service) Get(ctx context.Context, prompt, imageData string) (string, error) {
	val, err := s.client.Get(ctx, redisKeyPrefix+generateKey(prompt, imageData)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", common.ErrCacheMiss
		}
		return "", fmt.Errorf("failed to get cache: %w", err)
	}
	return val, nil
}

// Set 設置緩存
func (s *Service) Set(ctx context.Context, prompt, imageData, value string) error {
	if err := s.client.Set(ctx, redisKeyPrefix+generateKey(prompt, imageData), value, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set cache: %w", err)
	}
	return nil
}
