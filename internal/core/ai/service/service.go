package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"recipe-importer/internal/core/ai/cache"
	"recipe-importer/internal/core/ai/provider"
	"recipe-importer/internal/pkg/common"
)

// Service AI 服務：prompt 正規化、快取、呼叫提供者
type Service struct {
	generator provider.Generator
	cache     cache.Store
}

// NewService 創建 AI 服務；cacheStore 可為 nil
func NewService(generator provider.Generator, cacheStore cache.Store) *Service {
	return &Service{
		generator: generator,
		cache:     cacheStore,
	}
}

// NormalizePrompt 統一 prompt 格式，確保快取 key 一致
// 每行內合併連續空白，保留換行；連續空行合併為一行，頭尾空行去除
func NormalizePrompt(prompt string) string {
	lines := strings.Split(strings.ReplaceAll(prompt, "\r\n", "\n"), "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			blank = len(out) > 0
			continue
		}
		if blank {
			out = append(out, "")
			blank = false
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

// Complete 統一對外方法，回傳模型文字
func (s *Service) Complete(ctx context.Context, prompt, imageDataURI string) (string, error) {
	prompt = NormalizePrompt(prompt)

	if s.cache != nil {
		val, err := s.cache.Get(ctx, prompt, imageDataURI)
		if err == nil && val != "" {
			common.LogDebug("AI response served from cache", zap.String("model", s.generator.GetModel()))
			return val, nil
		}
		if err != nil && !errors.Is(err, common.ErrCacheMiss) {
			common.LogWarn("AI cache lookup failed", zap.Error(err))
		}
	}

	start := time.Now()
	resp, err := s.generator.Generate(ctx, &provider.Request{
		Prompt:       prompt,
		ImageDataURI: imageDataURI,
		Temperature:  0.2,
	})
	common.LogAICall(s.generator.GetModel(), time.Since(start), err)
	if err != nil {
		return "", err
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, prompt, imageDataURI, resp.Content); err != nil {
			common.LogWarn("AI cache store failed", zap.Error(err))
		}
	}
	return resp.Content, nil
}
