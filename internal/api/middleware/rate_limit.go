package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"recipe-importer/internal/pkg/common"
)

// 閒置超過 visitorTTL 的 IP 會在清理時移除
const (
	visitorTTL     = 10 * time.Minute
	sweepThreshold = 5000
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// FloodGuard 每個 IP 一個 token bucket，擋在驗證之前
//
// 與匯入流程的每使用者 60 秒視窗無關，只用來吸收異常流量。
type FloodGuard struct {
	rps      rate.Limit
	burst    int
	mu       sync.Mutex
	visitors map[string]*visitor
	lookups  int
	now      func() time.Time
}

// NewFloodGuard 建立 IP 限流器
func NewFloodGuard(rps float64, burst int) *FloodGuard {
	if burst <= 0 {
		burst = 1
	}
	return &FloodGuard{
		rps:      rate.Limit(rps),
		burst:    burst,
		visitors: make(map[string]*visitor),
		now:      time.Now,
	}
}

func (g *FloodGuard) limiter(ip string) *rate.Limiter {
	now := g.now()

	g.mu.Lock()
	defer g.mu.Unlock()

	g.lookups++
	if g.lookups >= sweepThreshold {
		for k, v := range g.visitors {
			if now.Sub(v.lastSeen) >= visitorTTL {
				delete(g.visitors, k)
			}
		}
		g.lookups = 0
	}

	if v, ok := g.visitors[ip]; ok {
		v.lastSeen = now
		return v.limiter
	}
	lim := rate.NewLimiter(g.rps, g.burst)
	g.visitors[ip] = &visitor{limiter: lim, lastSeen: now}
	return lim
}

// Len 目前追蹤的 IP 數
func (g *FloodGuard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.visitors)
}

// Handler 限流中間件
func (g *FloodGuard) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if g.limiter(c.ClientIP()).Allow() {
			c.Next()
			return
		}

		common.LogInfo("Flood guard triggered",
			zap.String("ip", c.ClientIP()),
			zap.String("path", c.Request.URL.Path),
		)
		c.Header("Retry-After", "1")
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"request_id": requestid.Get(c),
			"error": common.ErrorResponse{
				Code:    common.ErrCodeTooManyRequests,
				Message: "too many requests",
			},
		})
	}
}
