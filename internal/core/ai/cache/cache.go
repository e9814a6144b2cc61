package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Store AI 回應快取，未命中時回傳 common.ErrCacheMiss
type Store interface {
	Get(ctx context.Context, prompt, imageData string) (string, error)
	Set(ctx context.Context, prompt, imageData, value string) error
}

// hashString 計算字符串的 SHA-256 哈希值
func hashString(s string) string {
	hash := sha256.Sum256([]byte(s))
	return hex.EncodeToString(hash[:])
}

// generateKey 生成緩存鍵
func generateKey(prompt, imageData string) string {
	if imageData == "" {
		return fmt.Sprintf("text:%s", hashString(prompt))
	}
	return fmt.Sprintf("multimodal:%s:%s", hashString(prompt), hashString(imageData))
}
