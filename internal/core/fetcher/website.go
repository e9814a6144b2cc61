package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"recipe-importer/internal/infrastructure/config"
	"recipe-importer/internal/pkg/common"
)

// MaxMarkdownRunes 交給模型前的 markdown 長度上限
const MaxMarkdownRunes = 50000

var markdownImagePattern = regexp.MustCompile(`!\[[^\]]*\]\((https?://[^)\s]+)`)

type scrapeResponse struct {
	Success bool        `json:"success"`
	Error   string      `json:"error"`
	Data    scrapedPage `json:"data"`
}

type scrapedPage struct {
	Markdown string                 `json:"markdown"`
	HTML     string                 `json:"html"`
	Images   []string               `json:"images"`
	Metadata map[string]interface{} `json:"metadata"`
}

// imageURLExtractor 從擷取結果中找出候選圖片
type imageURLExtractor func(p *scrapedPage) string

// imageURLExtractors 依優先順序嘗試
var imageURLExtractors = []imageURLExtractor{
	fromImagesArray,
	fromSocialMetadata,
	fromFlatMetadata,
	fromMarkdownImage,
}

func fromImagesArray(p *scrapedPage) string {
	for _, img := range p.Images {
		if isHTTPURL(img) {
			return img
		}
	}
	return ""
}

func fromSocialMetadata(p *scrapedPage) string {
	return firstMeta(p.Metadata, "og:image", "ogImage", "og:image:url", "og:image:secure_url", "twitter:image", "twitterImage", "twitter:image:src")
}

func fromFlatMetadata(p *scrapedPage) string {
	return firstMeta(p.Metadata, "image", "imageUrl", "thumbnail", "thumbnailUrl")
}

func fromMarkdownImage(p *scrapedPage) string {
	if m := markdownImagePattern.FindStringSubmatch(p.Markdown); m != nil {
		return m[1]
	}
	return ""
}

// firstMeta 元資料值可能是字串或字串陣列
func firstMeta(meta map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		switch v := meta[k].(type) {
		case string:
			if isHTTPURL(v) {
				return v
			}
		case []interface{}:
			for _, item := range v {
				if s, ok := item.(string); ok && isHTTPURL(s) {
					return s
				}
			}
		}
	}
	return ""
}

func metaString(meta map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		switch v := meta[k].(type) {
		case string:
			if strings.TrimSpace(v) != "" {
				return strings.TrimSpace(v)
			}
		case []interface{}:
			if len(v) > 0 {
				if s, ok := v[0].(string); ok && strings.TrimSpace(s) != "" {
					return strings.TrimSpace(s)
				}
			}
		}
	}
	return ""
}

func isHTTPURL(s string) bool {
	s = strings.TrimSpace(s)
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// ValidateWebsiteURL 只接受 http(s) 絕對網址
func ValidateWebsiteURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", common.NewValidationError("invalid website URL")
	}
	return u.String(), nil
}

// WebsiteFetcher 透過擷取服務取得網頁 markdown 與中繼資料
type WebsiteFetcher struct {
	client *resty.Client
}

// NewWebsiteFetcher 建立網頁抓取器
func NewWebsiteFetcher(cfg config.ReaderConfig) *WebsiteFetcher {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	if cfg.APIKey != "" {
		client.SetAuthToken(cfg.APIKey)
	}
	return &WebsiteFetcher{client: client}
}

// Fetch 擷取網頁
func (f *WebsiteFetcher) Fetch(ctx context.Context, pageURL string) (*Result, error) {
	normalized, err := ValidateWebsiteURL(pageURL)
	if err != nil {
		return nil, err
	}

	page, err := f.scrape(ctx, normalized)
	if err != nil {
		common.LogWarn("Website fetch failed", zap.String("url", normalized), zap.Error(err))
		return nil, common.NewAPIUnavailable(ServiceReader, pageURL, err)
	}

	markdown := page.Markdown
	if strings.TrimSpace(markdown) == "" && page.HTML != "" {
		converted, convErr := htmltomarkdown.ConvertString(page.HTML)
		if convErr != nil {
			common.LogWarn("HTML to markdown conversion failed", zap.String("url", normalized), zap.Error(convErr))
		} else {
			markdown = converted
			page.Markdown = converted
		}
	}
	if strings.TrimSpace(markdown) == "" {
		return nil, common.NewAPIUnavailable(ServiceReader, pageURL, errors.New("reader returned no content"))
	}

	return &Result{
		SourceURL:         normalized,
		Title:             metaString(page.Metadata, "title", "og:title", "ogTitle"),
		RawContent:        common.TruncateRunes(markdown, MaxMarkdownRunes),
		CandidateImageURL: resolveImageURL(page),
	}, nil
}

func resolveImageURL(p *scrapedPage) string {
	for _, extract := range imageURLExtractors {
		if u := extract(p); u != "" {
			return strings.TrimSpace(u)
		}
	}
	return ""
}

func (f *WebsiteFetcher) scrape(ctx context.Context, pageURL string) (*scrapedPage, error) {
	var out scrapeResponse
	resp, err := f.client.R().
		SetContext(ctx).
		SetBody(map[string]interface{}{
			"url":             pageURL,
			"formats":         []string{"markdown"},
			"onlyMainContent": true,
		}).
		SetResult(&out).
		Post("/v1/scrape")
	if err != nil {
		return nil, fmt.Errorf("scrape request: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("scrape request: status %d", resp.StatusCode())
	}
	if !out.Success {
		if out.Error != "" {
			return nil, fmt.Errorf("scrape failed: %s", out.Error)
		}
		return nil, errors.New("scrape failed")
	}
	return &out.Data, nil
}
