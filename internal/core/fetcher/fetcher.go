package fetcher

import "context"

const (
	// ServiceSocial 社群貼文爬取服務名稱
	ServiceSocial = "social-scraper"
	// ServiceReader 網頁擷取服務名稱
	ServiceReader = "website-reader"
)

// Result 抓取結果
type Result struct {
	SourceURL         string
	Title             string
	RawContent        string
	CandidateImageURL string
	// ImageDataURI 照片匯入時交給模型的圖片
	ImageDataURI string
}

// Fetcher 取得原始內容，上游失敗時回傳 *common.APIUnavailableError
type Fetcher interface {
	Fetch(ctx context.Context, sourceRef string) (*Result, error)
}
