package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"recipe-importer/internal/infrastructure/config"
	"recipe-importer/internal/pkg/common"
)

const (
	// PollInterval 查詢爬取工作狀態的間隔
	PollInterval = 3 * time.Second
	// MaxPollAttempts 查詢次數上限
	MaxPollAttempts = 40
)

// Platform 社群平台
type Platform string

const (
	PlatformInstagram Platform = "instagram"
	PlatformTikTok    Platform = "tiktok"
)

var (
	instagramPostPattern = regexp.MustCompile(`^https?://(www\.)?instagram\.com/(p|reel|reels|tv)/[A-Za-z0-9_-]+/?(\?.*)?$`)
	tiktokPostPattern    = regexp.MustCompile(`^https?://((www|m)\.)?tiktok\.com/@[A-Za-z0-9_.-]+/(video|photo)/\d+/?(\?.*)?$|^https?://(vm|vt)\.tiktok\.com/[A-Za-z0-9]+/?$`)
)

// DetectPlatform 驗證貼文 URL 並判斷平台
func DetectPlatform(rawURL string) (Platform, error) {
	u := strings.TrimSpace(rawURL)
	switch {
	case instagramPostPattern.MatchString(u):
		return PlatformInstagram, nil
	case tiktokPostPattern.MatchString(u):
		return PlatformTikTok, nil
	default:
		return "", common.NewValidationError("unsupported social post URL")
	}
}

// 爬取工作的終止狀態
const (
	runSucceeded = "SUCCEEDED"
	runFailed    = "FAILED"
	runAborted   = "ABORTED"
	runTimedOut  = "TIMED-OUT"
)

type runEnvelope struct {
	Data struct {
		ID               string `json:"id"`
		Status           string `json:"status"`
		DefaultDatasetID string `json:"defaultDatasetId"`
	} `json:"data"`
}

type socialItem struct {
	Caption      string   `json:"caption"`
	Text         string   `json:"text"`
	Images       []string `json:"images"`
	DisplayURL   string   `json:"displayUrl"`
	ThumbnailURL string   `json:"thumbnailUrl"`
	VideoMeta    struct {
		CoverURL string `json:"coverUrl"`
	} `json:"videoMeta"`
}

// bestImage 圖集 > 顯示圖 > 縮圖 > 影片封面
func (it socialItem) bestImage() string {
	for _, img := range it.Images {
		if strings.TrimSpace(img) != "" {
			return img
		}
	}
	for _, candidate := range []string{it.DisplayURL, it.ThumbnailURL, it.VideoMeta.CoverURL} {
		if strings.TrimSpace(candidate) != "" {
			return candidate
		}
	}
	return ""
}

func (it socialItem) caption() string {
	if it.Caption != "" {
		return it.Caption
	}
	return it.Text
}

// SocialFetcher 透過外部爬取工作取得 Instagram / TikTok 貼文
type SocialFetcher struct {
	client       *resty.Client
	cfg          config.ScraperConfig
	pollInterval time.Duration
	maxAttempts  int
}

// NewSocialFetcher 建立社群貼文抓取器
func NewSocialFetcher(cfg config.ScraperConfig) *SocialFetcher {
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(30*time.Second).
		SetHeader("Content-Type", "application/json")
	if cfg.Token != "" {
		client.SetAuthToken(cfg.Token)
	}

	return &SocialFetcher{
		client:       client,
		cfg:          cfg,
		pollInterval: PollInterval,
		maxAttempts:  MaxPollAttempts,
	}
}

// Fetch 提交爬取工作、輪詢到完成後讀取第一筆結果
func (f *SocialFetcher) Fetch(ctx context.Context, postURL string) (*Result, error) {
	platform, err := DetectPlatform(postURL)
	if err != nil {
		return nil, err
	}

	res, err := f.fetch(ctx, platform, strings.TrimSpace(postURL))
	if err != nil {
		common.LogWarn("Social post fetch failed",
			zap.String("platform", string(platform)),
			zap.String("url", postURL),
			zap.Error(err),
		)
		return nil, common.NewAPIUnavailable(ServiceSocial, postURL, err)
	}
	return res, nil
}

func (f *SocialFetcher) fetch(ctx context.Context, platform Platform, postURL string) (*Result, error) {
	run, err := f.startRun(ctx, platform, postURL)
	if err != nil {
		return nil, err
	}

	datasetID, err := f.waitForRun(ctx, run)
	if err != nil {
		return nil, err
	}

	item, err := f.firstItem(ctx, datasetID)
	if err != nil {
		return nil, err
	}

	return &Result{
		SourceURL:         postURL,
		RawContent:        item.caption(),
		CandidateImageURL: item.bestImage(),
	}, nil
}

func (f *SocialFetcher) startRun(ctx context.Context, platform Platform, postURL string) (*runEnvelope, error) {
	actor := f.cfg.InstagramActor
	body := map[string]interface{}{
		"directUrls":   []string{postURL},
		"resultsType":  "posts",
		"resultsLimit": 1,
	}
	if platform == PlatformTikTok {
		actor = f.cfg.TikTokActor
		body = map[string]interface{}{
			"postURLs":       []string{postURL},
			"resultsPerPage": 1,
		}
	}

	var run runEnvelope
	resp, err := f.client.R().
		SetContext(ctx).
		SetPathParam("actor", actor).
		SetBody(body).
		SetResult(&run).
		Post("/acts/{actor}/runs")
	if err != nil {
		return nil, fmt.Errorf("submit scrape job: %w", err)
	}
	if resp.StatusCode() != http.StatusCreated && resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("submit scrape job: status %d", resp.StatusCode())
	}
	if run.Data.ID == "" {
		return nil, errors.New("submit scrape job: missing run id")
	}
	return &run, nil
}

// waitForRun 以固定間隔輪詢，回傳結果資料集 ID
func (f *SocialFetcher) waitForRun(ctx context.Context, run *runEnvelope) (string, error) {
	pacer := rate.NewLimiter(rate.Every(f.pollInterval), 1)
	// 剛提交的工作不會立刻完成
	pacer.Allow()

	for attempt := 1; attempt <= f.maxAttempts; attempt++ {
		if err := pacer.Wait(ctx); err != nil {
			return "", fmt.Errorf("poll scrape job: %w", err)
		}

		var status runEnvelope
		resp, err := f.client.R().
			SetContext(ctx).
			SetPathParam("run", run.Data.ID).
			SetResult(&status).
			Get("/actor-runs/{run}")
		if err != nil {
			common.LogDebug("Scrape job poll error", zap.Int("attempt", attempt), zap.Error(err))
			continue
		}
		if resp.StatusCode() != http.StatusOK {
			common.LogDebug("Scrape job poll status", zap.Int("attempt", attempt), zap.Int("status", resp.StatusCode()))
			continue
		}

		switch status.Data.Status {
		case runSucceeded:
			if status.Data.DefaultDatasetID != "" {
				return status.Data.DefaultDatasetID, nil
			}
			return run.Data.DefaultDatasetID, nil
		case runFailed, runAborted, runTimedOut:
			return "", fmt.Errorf("scrape job ended with status %s", status.Data.Status)
		}
	}
	return "", fmt.Errorf("scrape job did not finish after %d attempts", f.maxAttempts)
}

func (f *SocialFetcher) firstItem(ctx context.Context, datasetID string) (*socialItem, error) {
	if datasetID == "" {
		return nil, errors.New("scrape job returned no dataset")
	}

	var items []socialItem
	resp, err := f.client.R().
		SetContext(ctx).
		SetPathParam("dataset", datasetID).
		SetQueryParams(map[string]string{"format": "json", "limit": "1"}).
		SetResult(&items).
		Get("/datasets/{dataset}/items")
	if err != nil {
		return nil, fmt.Errorf("read scrape results: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("read scrape results: status %d", resp.StatusCode())
	}
	if len(items) == 0 {
		return nil, errors.New("scrape job returned no items")
	}
	return &items[0], nil
}
