package openrouter

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"recipe-importer/internal/core/ai"
	"recipe-importer/internal/core/ai/provider"
	"recipe-importer/internal/infrastructure/config"
	"recipe-importer/internal/pkg/common"
)

const defaultBaseURL = "https://openrouter.ai/api/v1"

// Client OpenRouter API 客戶端
type Client struct {
	client    *resty.Client
	model     string
	maxTokens int
	timeout   time.Duration
}

var _ provider.Generator = (*Client)(nil)

// NewClient 創建 OpenRouter 客戶端
func NewClient(cfg config.OpenRouterConfig) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Authorization", fmt.Sprintf("Bearer %s", cfg.APIKey)).
		SetHeader("HTTP-Referer", "https://recipe-importer.app").
		SetHeader("X-Title", "Recipe Importer")

	return &Client{
		client:    client,
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		timeout:   timeout,
	}
}

// GetModel 模型名稱
func (c *Client) GetModel() string { return c.model }

// GetTimeout 請求超時
func (c *Client) GetTimeout() time.Duration { return c.timeout }

// Generate 呼叫 chat completions
func (c *Client) Generate(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	parts := []ai.ContentPart{{Type: "text", Text: req.Prompt}}
	if req.ImageDataURI != "" {
		url := req.ImageDataURI
		if !strings.HasPrefix(url, "data:image/") && !strings.HasPrefix(url, "http") {
			url = fmt.Sprintf("data:image/jpeg;base64,%s", url)
		}
		parts = append(parts, ai.ContentPart{Type: "image_url", ImageURL: &ai.ImageURL{URL: url}})
		common.LogDebug("OpenRouter multimodal request", zap.Int("image_chars", len(url)))
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}

	body := ai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    []ai.ChatMessage{{Role: "user", Content: parts}},
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
	}

	var result ai.ChatCompletionResponse
	var apiErr ai.APIError
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&result).
		SetError(&apiErr).
		Post("/chat/completions")
	if err != nil {
		return nil, fmt.Errorf("failed to send request to OpenRouter: %w", err)
	}

	if resp.StatusCode() != http.StatusOK {
		msg := apiErr.Error.Message
		if msg == "" {
			msg = http.StatusText(resp.StatusCode())
		}
		return nil, common.NewError(common.ErrCodeServiceUnavailable,
			"OpenRouter API returned error", resp.StatusCode(),
			fmt.Errorf("openrouter status %d: %s", resp.StatusCode(), msg))
	}

	if len(result.Choices) == 0 || strings.TrimSpace(result.Choices[0].Message.Content) == "" {
		return nil, common.ErrEmptyAIResponse
	}

	return &provider.Response{
		Content: result.Choices[0].Message.Content,
		Model:   result.Model,
		Usage: provider.Usage{
			PromptTokens:     result.Usage.PromptTokens,
			CompletionTokens: result.Usage.CompletionTokens,
			TotalTokens:      result.Usage.TotalTokens,
		},
	}, nil
}
