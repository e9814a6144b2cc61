package image

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bbrks/go-blurhash"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"recipe-importer/internal/infrastructure/storage"
	"recipe-importer/internal/pkg/common"
)

const (
	// MaxDimension 儲存前縮放的最長邊
	MaxDimension = 1200
	// JPEGQuality 重新編碼品質
	JPEGQuality = 80
	// DownloadTimeout 單次下載上限
	DownloadTimeout = 15 * time.Second
	// DefaultMaxDownloadBytes 下載大小上限
	DefaultMaxDownloadBytes = 10 * 1024 * 1024

	thumbnailSize       = 32
	blurHashXComponents = 4
	blurHashYComponents = 3
	fallbackKeyword     = "food"
)

// Resolution 圖片解析結果，全部欄位都可能為空
type Resolution struct {
	StorageKey      string
	DisplayURL      string
	PlaceholderHash string
	// SourceImageURL 成功採用的來源圖片網址
	SourceImageURL string
}

// Processor 下載、縮放、產生 placeholder 並上傳食譜圖片
type Processor struct {
	store       storage.Store
	client      *resty.Client
	urlTemplate string
	maxBytes    int64
}

// NewProcessor 建立圖片處理器；urlTemplate 需包含 {keywords}
func NewProcessor(store storage.Store, urlTemplate string, maxBytes int64) *Processor {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxDownloadBytes
	}
	return &Processor{
		store:       store,
		client:      resty.New().SetTimeout(DownloadTimeout).SetRedirectPolicy(resty.FlexibleRedirectPolicy(5)),
		urlTemplate: urlTemplate,
		maxBytes:    maxBytes,
	}
}

// Resolve 處理候選圖片網址，失敗時改用關鍵字圖片，永遠不回傳錯誤
func (p *Processor) Resolve(ctx context.Context, candidateURL, title, keywordHint string) Resolution {
	if candidateURL = strings.TrimSpace(candidateURL); candidateURL != "" {
		res, err := p.fromURL(ctx, candidateURL)
		if err == nil {
			res.SourceImageURL = candidateURL
			return res
		}
		common.LogImageProcessing("warn", "candidate image unusable",
			zap.String("url", candidateURL),
			zap.Error(err),
		)
	}
	return p.fallback(ctx, title, keywordHint)
}

// ResolveBytes 處理使用者上傳的照片
func (p *Processor) ResolveBytes(ctx context.Context, data []byte, title, keywordHint string) Resolution {
	if len(data) > 0 {
		res, err := p.persist(ctx, data)
		if err == nil {
			return res
		}
		common.LogImageProcessing("warn", "uploaded photo unusable", zap.Error(err))
	}
	return p.fallback(ctx, title, keywordHint)
}

// FallbackURL 關鍵字圖片服務網址
func (p *Processor) FallbackURL(title, keywordHint string) string {
	kw := Keywords(keywordHint)
	if len(kw) == 0 {
		kw = Keywords(title)
	}
	if len(kw) == 0 {
		kw = []string{fallbackKeyword}
	}
	for i, k := range kw {
		kw[i] = url.PathEscape(k)
	}
	return strings.ReplaceAll(p.urlTemplate, "{keywords}", strings.Join(kw, ","))
}

func (p *Processor) fallback(ctx context.Context, title, keywordHint string) Resolution {
	if p.urlTemplate == "" {
		return Resolution{}
	}
	fallbackURL := p.FallbackURL(title, keywordHint)
	res, err := p.fromURL(ctx, fallbackURL)
	if err != nil {
		common.LogImageProcessing("warn", "fallback image unusable",
			zap.String("url", fallbackURL),
			zap.Error(err),
		)
		return Resolution{}
	}
	return res
}

func (p *Processor) fromURL(ctx context.Context, imageURL string) (Resolution, error) {
	data, err := p.download(ctx, imageURL)
	if err != nil {
		return Resolution{}, err
	}
	return p.persist(ctx, data)
}

func (p *Processor) download(ctx context.Context, imageURL string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, DownloadTimeout)
	defer cancel()

	resp, err := p.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(imageURL)
	if err != nil {
		return nil, fmt.Errorf("failed to download image: %w", err)
	}
	body := resp.RawBody()
	defer body.Close()

	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("failed to download image: status code %d", resp.StatusCode())
	}

	data, err := io.ReadAll(io.LimitReader(body, p.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read image data: %w", err)
	}
	if int64(len(data)) > p.maxBytes {
		return nil, fmt.Errorf("image size exceeds maximum limit of %d bytes", p.maxBytes)
	}
	return data, nil
}

// Process 解碼、縮放、重新編碼並計算 placeholder hash
func Process(data []byte) (jpegData []byte, hash string, err error) {
	img, err := Decode(data)
	if err != nil {
		return nil, "", err
	}

	fitted := Fit(img, MaxDimension)
	jpegData, err = EncodeJPEG(fitted, JPEGQuality)
	if err != nil {
		return nil, "", err
	}

	hash, err = blurhash.Encode(blurHashXComponents, blurHashYComponents, Thumbnail(fitted, thumbnailSize))
	if err != nil {
		return nil, "", fmt.Errorf("encode blurhash: %w", err)
	}
	return jpegData, hash, nil
}

func (p *Processor) persist(ctx context.Context, data []byte) (Resolution, error) {
	jpegData, hash, err := Process(data)
	if err != nil {
		return Resolution{}, err
	}

	key, err := storage.NewKey("recipe", ".jpg")
	if err != nil {
		return Resolution{}, err
	}
	if err := p.store.Put(ctx, key, jpegData, "image/jpeg"); err != nil {
		return Resolution{}, fmt.Errorf("failed to upload image: %w", err)
	}

	common.LogImageProcessing("debug", "image stored",
		zap.String("key", key),
		zap.Int("bytes", len(jpegData)),
	)
	return Resolution{
		StorageKey:      key,
		DisplayURL:      p.store.URL(key),
		PlaceholderHash: hash,
	}, nil
}

// Release 刪除已上傳但沒有被採用的圖片，失敗只記錄
func (p *Processor) Release(ctx context.Context, key string) {
	if key == "" {
		return
	}
	if err := p.store.Delete(ctx, key); err != nil {
		common.LogImageProcessing("warn", "failed to release image",
			zap.String("key", key),
			zap.Error(err),
		)
	}
}
