package middleware

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"recipe-importer/internal/pkg/common"
)

const defaultDedupWindow = time.Second

// Deduplicator 擋下同一使用者在短時間內重複送出的相同 POST（例如連點匯入按鈕）
type Deduplicator struct {
	window    time.Duration
	mu        sync.Mutex
	seen      map[string]time.Time
	lastSweep time.Time
	exempt    map[string]bool
	now       func() time.Time
}

// NewDeduplicator 建立去重器；window <= 0 時使用 1 秒
// exempt 列出的路徑不去重，交給處理程序自己回應重複送出
func NewDeduplicator(window time.Duration, exempt ...string) *Deduplicator {
	if window <= 0 {
		window = defaultDedupWindow
	}
	d := &Deduplicator{
		window: window,
		seen:   make(map[string]time.Time),
		exempt: make(map[string]bool, len(exempt)),
		now:    time.Now,
	}
	for _, path := range exempt {
		d.exempt[path] = true
	}
	return d
}

// seenRecently 記錄指紋並回報是否在視窗內出現過
func (d *Deduplicator) seenRecently(fingerprint string) bool {
	now := d.now()

	d.mu.Lock()
	defer d.mu.Unlock()

	if now.Sub(d.lastSweep) > 10*d.window {
		for k, t := range d.seen {
			if now.Sub(t) > d.window {
				delete(d.seen, k)
			}
		}
		d.lastSweep = now
	}

	if last, ok := d.seen[fingerprint]; ok && now.Sub(last) <= d.window {
		return true
	}
	d.seen[fingerprint] = now
	return false
}

// Handler 去重中間件，需放在驗證之後才能以使用者區分
func (d *Deduplicator) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method != http.MethodPost || d.exempt[c.Request.URL.Path] {
			c.Next()
			return
		}

		bodyHash := ""
		if c.Request.Body != nil {
			body, err := io.ReadAll(c.Request.Body)
			if err != nil {
				common.LogWarn("Failed to read request body", zap.Error(err))
				c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"error": common.ErrorResponse{
					Code:    common.ErrCodeRequestTooLarge,
					Message: "request body too large",
				}})
				return
			}
			sum := sha256.Sum256(body)
			bodyHash = hex.EncodeToString(sum[:])
			c.Request.Body = io.NopCloser(bytes.NewReader(body))
		}

		fingerprint := c.GetString(ContextUserID) + ":" + c.Request.Method + ":" + c.Request.URL.Path + ":" + bodyHash
		if d.seenRecently(fingerprint) {
			common.LogInfo("Duplicate submission rejected",
				zap.String("user_id", c.GetString(ContextUserID)),
				zap.String("path", c.Request.URL.Path),
			)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": common.ErrorResponse{
				Code:    common.ErrCodeDuplicateRequest,
				Message: "identical request submitted too recently",
			}})
			return
		}

		c.Next()
	}
}
