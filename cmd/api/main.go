package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"recipe-importer/internal/api"
	"recipe-importer/internal/api/handlers/health"
	"recipe-importer/internal/core/ai/cache"
	"recipe-importer/internal/core/ai/openrouter"
	"recipe-importer/internal/core/ai/service"
	"recipe-importer/internal/core/bulk"
	"recipe-importer/internal/core/category"
	"recipe-importer/internal/core/extractor"
	"recipe-importer/internal/core/fetcher"
	recipeimage "recipe-importer/internal/core/image"
	"recipe-importer/internal/core/importer"
	"recipe-importer/internal/core/ratelimit"
	"recipe-importer/internal/core/recipe"
	"recipe-importer/internal/core/usage"
	"recipe-importer/internal/infrastructure/config"
	"recipe-importer/internal/infrastructure/database"
	"recipe-importer/internal/infrastructure/storage"
	"recipe-importer/internal/pkg/common"
)

// 完成的批次保留一小時供查詢
const batchRetention = time.Hour

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := common.InitLogger(cfg.LogLevel); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer common.Sync()

	common.LogInfo("載入設定",
		zap.String("openrouter_api_key", config.MaskAPIKey(cfg.OpenRouter.APIKey)),
		zap.String("openrouter_model", cfg.OpenRouter.Model),
		zap.String("database_driver", cfg.Database.Driver),
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.String("rate_limit_backend", cfg.RateLimit.Backend),
	)

	ctx := context.Background()

	db, err := database.Open(cfg.Database)
	if err != nil {
		common.LogFatal("Failed to open database", zap.Error(err))
	}
	defer database.Close(db)

	models := append(recipe.Models(), usage.Models()...)
	if err := database.AutoMigrate(db, models...); err != nil {
		common.LogFatal("Failed to migrate database", zap.Error(err))
	}

	store, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		common.LogFatal("Failed to initialize storage", zap.Error(err))
	}

	var redisClient *redis.Client
	if cfg.RateLimit.Backend == "redis" || (cfg.Cache.Enabled && cfg.Cache.Backend == "redis") {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
	}

	limiter := newLimiter(cfg, redisClient)
	if mem, ok := limiter.(*ratelimit.Memory); ok {
		defer mem.Close()
	}
	aiService := service.NewService(openrouter.NewClient(cfg.OpenRouter), newCache(cfg, redisClient))

	images := recipeimage.NewProcessor(store, cfg.ImageGen.URLTemplate, cfg.Image.MaxSizeBytes)
	recipes := recipe.NewRepository(db)
	accountant := usage.NewAccountant(db)
	categories := category.NewMaintainer(db, store)
	batches := bulk.NewRegistry(batchRetention)

	pipeline := importer.New(importer.Deps{
		Limiter:    limiter,
		Social:     fetcher.NewSocialFetcher(cfg.Scraper),
		Website:    fetcher.NewWebsiteFetcher(cfg.Reader),
		Photos:     fetcher.NewPhotoFetcher(cfg.Image.MaxSizeBytes),
		Extractor:  extractor.New(aiService),
		Images:     images,
		Recipes:    recipes,
		Guard:      recipe.NewGuard(db),
		Usage:      accountant,
		Categories: categories,
		Batches:    batches,
	})

	svc := api.Services{
		Imports:       pipeline,
		Recipes:       pipeline,
		Reader:        recipes,
		Categories:    categories,
		Usage:         accountant,
		Tiers:         accountant,
		ReadyChecks:   readyChecks(db, redisClient),
		ActiveBatches: batches.Len,
	}
	if cfg.Storage.Backend == "local" {
		svc.ImageDir = cfg.Storage.LocalDir
	}
	router := api.SetupRouter(cfg, svc)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		common.LogInfo("Starting application",
			zap.String("version", cfg.App.Version),
			zap.String("env", cfg.App.Env),
			zap.Bool("debug", cfg.App.Debug),
			zap.Int("port", cfg.Server.Port),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			common.LogFatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	common.LogInfo("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		common.LogError("Server forced to shutdown", zap.Error(err))
	}

	common.LogInfo("Server exited")
}

func newLimiter(cfg *config.Config, client *redis.Client) ratelimit.Limiter {
	if cfg.RateLimit.Backend == "redis" {
		return ratelimit.NewRedis(client)
	}
	mem := ratelimit.NewMemory()
	mem.StartSweeper(time.Minute)
	return mem
}

func newCache(cfg *config.Config, client *redis.Client) cache.Store {
	if !cfg.Cache.Enabled {
		return nil
	}
	if cfg.Cache.Backend == "redis" {
		return cache.NewService(client, cfg.Cache.TTL)
	}
	return cache.NewManager(cfg.Cache)
}

func readyChecks(db *gorm.DB, client *redis.Client) map[string]health.Pinger {
	checks := map[string]health.Pinger{
		"database": func(ctx context.Context) error { return database.Ping(ctx, db) },
	}
	if client != nil {
		checks["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
	}
	return checks
}
