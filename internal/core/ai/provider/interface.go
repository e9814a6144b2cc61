package provider

import (
	"context"
	"time"
)

// Request 發送到 AI 提供者的請求
type Request struct {
	Prompt string
	// ImageDataURI 可選，data:image/...;base64,... 格式
	ImageDataURI string
	MaxTokens    int
	Temperature  float64
}

// Usage token 使用量
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response AI 提供者的回應
type Response struct {
	Content string `json:"content"`
	Model   string `json:"model"`
	Usage   Usage  `json:"usage"`
}

// Generator 定義 AI 提供者介面
type Generator interface {
	// Generate 生成 AI 響應
	Generate(ctx context.Context, req *Request) (*Response, error)

	// GetModel 獲取當前使用的模型名稱
	GetModel() string

	// GetTimeout 獲取請求超時時間
	GetTimeout() time.Duration
}
