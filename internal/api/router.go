package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"recipe-importer/internal/api/handlers/health"
	"recipe-importer/internal/api/handlers/imports"
	recipeHandler "recipe-importer/internal/api/handlers/recipe"
	usageHandler "recipe-importer/internal/api/handlers/usage"
	"recipe-importer/internal/api/middleware"
	"recipe-importer/internal/infrastructure/config"
	"recipe-importer/internal/pkg/common"
)

// 單一請求的處理上限；社群貼文輪詢最久約兩分鐘
const timeoutDuration = 150 * time.Second

// Services 路由需要的服務
type Services struct {
	Imports    imports.Importer
	Recipes    recipeHandler.Service
	Reader     recipeHandler.Reader
	Categories recipeHandler.CategoryLister
	Usage      usageHandler.SnapshotReader
	Tiers      middleware.TierSyncer

	// ReadyChecks 在 /ready 逐一執行
	ReadyChecks   map[string]health.Pinger
	ActiveBatches func() int

	// ImageDir 本機儲存時以 /images 提供靜態檔
	ImageDir string
}

// SetupRouter 設置路由
func SetupRouter(cfg *config.Config, svc Services) *gin.Engine {
	if !cfg.App.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(requestid.New())
	router.Use(middleware.Logger())
	router.Use(middleware.Metrics())
	router.Use(cors.New(corsConfig(cfg.Server.AllowedOrigins)))
	if cfg.RateLimit.FloodGuard {
		router.Use(middleware.NewFloodGuard(cfg.RateLimit.IPRate, cfg.RateLimit.IPBurst).Handler())
	}
	router.Use(middleware.BodySizeLimit(cfg.Server.MaxBodyBytes))
	router.Use(requestTimeout(timeoutDuration))

	healthHandler := health.NewHandler(cfg.App.Version, svc.ReadyChecks, svc.ActiveBatches)
	router.GET("/health", healthHandler.HealthCheck)
	router.GET("/ready", healthHandler.ReadinessCheck)
	router.GET("/live", healthHandler.LivenessCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	if svc.ImageDir != "" {
		router.Static("/images", svc.ImageDir)
	}

	api := router.Group("/api/v1")
	api.Use(middleware.Auth([]byte(cfg.Auth.JWTSecret), cfg.Auth.Issuer, svc.Tiers))
	// 連結匯入重複送出時由匯入流程回傳既有食譜（200, duplicate: true）
	api.Use(middleware.NewDeduplicator(cfg.DedupWindow, linkImportPaths...).Handler())
	{
		imports.NewHandler(svc.Imports, cfg.Image.MaxSizeBytes).Register(api.Group("/imports"))

		recipeHandler.NewHandler(svc.Recipes, svc.Reader, svc.Categories).
			Register(api.Group("/recipes"), api.Group("/categories"))

		api.GET("/usage", usageHandler.NewHandler(svc.Usage).HandleSnapshot)
	}

	common.LogInfo("Router setup completed",
		zap.Bool("debug_mode", cfg.App.Debug),
		zap.String("version", cfg.App.Version),
		zap.String("environment", cfg.App.Env),
		zap.Bool("flood_guard", cfg.RateLimit.FloodGuard),
		zap.Duration("timeout", timeoutDuration),
		zap.Int64("max_body_size", cfg.Server.MaxBodyBytes),
	)
	return router
}

var linkImportPaths = []string{"/api/v1/imports/social", "/api/v1/imports/website"}

// requestTimeout 為請求加上逾時；處理程序未寫出回應時回傳 504
func requestTimeout(d time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), d)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		if ctx.Err() == context.DeadlineExceeded && !c.Writer.Written() {
			common.LogError("Request timeout",
				zap.String("path", c.Request.URL.Path),
				zap.String("request_id", requestid.Get(c)),
				zap.Duration("timeout", d),
			)
			c.AbortWithStatusJSON(http.StatusGatewayTimeout, gin.H{"error": common.ErrorResponse{
				Code:    common.ErrCodeGatewayTimeout,
				Message: "request timeout",
			}})
		}
	}
}

func corsConfig(origins []string) cors.Config {
	c := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Request-ID"},
		ExposeHeaders: []string{"Content-Length", "X-Request-ID"},
		MaxAge:        12 * time.Hour,
	}
	for _, o := range origins {
		if o == "*" {
			c.AllowAllOrigins = true
			return c
		}
	}
	if len(origins) == 0 {
		c.AllowAllOrigins = true
		return c
	}
	c.AllowOrigins = origins
	c.AllowCredentials = true
	return c
}
