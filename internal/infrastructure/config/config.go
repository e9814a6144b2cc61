package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 應用配置
type Config struct {
	App         AppConfig        `mapstructure:"app"`
	Server      ServerConfig     `mapstructure:"server"`
	OpenRouter  OpenRouterConfig `mapstructure:"openrouter"`
	Cache       CacheConfig      `mapstructure:"cache"`
	Redis       RedisConfig      `mapstructure:"redis"`
	RateLimit   RateLimitConfig  `mapstructure:"rate_limit"`
	Database    DatabaseConfig   `mapstructure:"database"`
	Storage     StorageConfig    `mapstructure:"storage"`
	Scraper     ScraperConfig    `mapstructure:"scraper"`
	Reader      ReaderConfig     `mapstructure:"reader"`
	ImageGen    ImageGenConfig   `mapstructure:"image_gen"`
	Auth        AuthConfig       `mapstructure:"auth"`
	Image       ImageConfig      `mapstructure:"image"`
	DedupWindow time.Duration    `mapstructure:"dedup_window"`
	LogLevel    string           `mapstructure:"log_level"`
}

// AppConfig 應用程式設定
type AppConfig struct {
	Env     string `mapstructure:"env"`
	Debug   bool   `mapstructure:"debug"`
	Version string `mapstructure:"version"`
	Name    string `mapstructure:"name"`
}

// ServerConfig 服務器配置
type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	MaxBodyBytes   int64         `mapstructure:"max_body_bytes"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
}

// OpenRouterConfig OpenRouter 配置
type OpenRouterConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	BaseURL   string        `mapstructure:"base_url"`
	APIKey    string        `mapstructure:"api_key"`
	Model     string        `mapstructure:"model"`
	MaxTokens int           `mapstructure:"max_tokens"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// CacheConfig AI 回應快取
type CacheConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Backend         string        `mapstructure:"backend"` // memory | redis
	MaxSize         int           `mapstructure:"max_size"`
	TTL             time.Duration `mapstructure:"ttl"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

// RedisConfig Redis 連線
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// RateLimitConfig 速率限制配置
type RateLimitConfig struct {
	Backend    string  `mapstructure:"backend"` // memory | redis
	FloodGuard bool    `mapstructure:"flood_guard"`
	IPRate     float64 `mapstructure:"ip_rps"`
	IPBurst    int     `mapstructure:"ip_burst"`
}

// DatabaseConfig 資料庫
type DatabaseConfig struct {
	Driver string `mapstructure:"driver"` // sqlite | postgres
	DSN    string `mapstructure:"dsn"`
}

// StorageConfig 圖片持久化儲存
type StorageConfig struct {
	Backend       string   `mapstructure:"backend"` // local | s3
	LocalDir      string   `mapstructure:"local_dir"`
	PublicBaseURL string   `mapstructure:"public_base_url"`
	S3            S3Config `mapstructure:"s3"`
}

// S3Config S3 / MinIO
type S3Config struct {
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
}

// ScraperConfig 社群貼文爬取服務
type ScraperConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	Token          string `mapstructure:"token"`
	InstagramActor string `mapstructure:"instagram_actor"`
	TikTokActor    string `mapstructure:"tiktok_actor"`
}

// ReaderConfig 網頁轉 markdown 服務
type ReaderConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// ImageGenConfig 關鍵字圖片服務
type ImageGenConfig struct {
	URLTemplate string `mapstructure:"url_template"`
}

// AuthConfig JWT 驗證
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
}

// ImageConfig 圖片配置
type ImageConfig struct {
	MaxSizeBytes int64 `mapstructure:"max_size_bytes"`
}

// LoadConfig 載入設定
func LoadConfig() (*Config, error) {
	viper.Reset()

	// .env 不存在時直接使用環境變數
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	setDefaults()

	viper.SetEnvPrefix("APP")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	bindings := map[string]string{
		"openrouter.api_key":    "OPENROUTER_API_KEY",
		"openrouter.model":      "OPENROUTER_MODEL",
		"openrouter.max_tokens": "MODEL_MAX_TOKENS",
		"cache.enabled":         "CACHE_ENABLED",
		"cache.backend":         "CACHE_BACKEND",
		"redis.addr":            "REDIS_ADDR",
		"redis.password":        "REDIS_PASSWORD",
		"rate_limit.backend":    "RATE_LIMIT_BACKEND",
		"database.driver":       "DATABASE_DRIVER",
		"database.dsn":          "DATABASE_DSN",
		"storage.backend":       "STORAGE_BACKEND",
		"storage.s3.bucket":     "S3_BUCKET",
		"storage.s3.endpoint":   "S3_ENDPOINT",
		"storage.s3.access_key": "S3_ACCESS_KEY",
		"storage.s3.secret_key": "S3_SECRET_KEY",
		"scraper.token":         "SCRAPER_TOKEN",
		"reader.api_key":        "READER_API_KEY",
		"auth.jwt_secret":       "JWT_SECRET",
		"dedup_window":          "DEDUP_WINDOW",
		"log_level":             "LOG_LEVEL",
	}
	for key, env := range bindings {
		if err := viper.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

// MaskAPIKey 遮罩 API Key，只顯示前後各 4 個字符
func MaskAPIKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}

// setDefaults 設定預設值
func setDefaults() {
	// 應用程式設定
	viper.SetDefault("app.env", "development")
	viper.SetDefault("app.debug", true)
	viper.SetDefault("app.version", "1.0.0")
	viper.SetDefault("app.name", "recipe-importer")

	// 伺服器設定
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "180s")
	viper.SetDefault("server.idle_timeout", "120s")
	viper.SetDefault("server.max_body_bytes", 40*1024*1024)
	viper.SetDefault("server.allowed_origins", []string{"*"})

	// OpenRouter 設定
	viper.SetDefault("openrouter.enabled", true)
	viper.SetDefault("openrouter.base_url", "https://openrouter.ai/api/v1")
	viper.SetDefault("openrouter.model", "google/gemini-2.0-flash-001")
	viper.SetDefault("openrouter.max_tokens", 2000)
	viper.SetDefault("openrouter.timeout", "60s")

	// 快取設定
	viper.SetDefault("cache.enabled", true)
	viper.SetDefault("cache.backend", "memory")
	viper.SetDefault("cache.max_size", 1000)
	viper.SetDefault("cache.ttl", "24h")
	viper.SetDefault("cache.cleanup_interval", "10m")

	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.db", 0)

	// 限流設定
	viper.SetDefault("rate_limit.backend", "memory")
	viper.SetDefault("rate_limit.flood_guard", true)
	viper.SetDefault("rate_limit.ip_rps", 5.0)
	viper.SetDefault("rate_limit.ip_burst", 20)

	viper.SetDefault("database.driver", "sqlite")
	viper.SetDefault("database.dsn", "data/recipes.db")

	viper.SetDefault("storage.backend", "local")
	viper.SetDefault("storage.local_dir", "data/images")
	viper.SetDefault("storage.public_base_url", "/images")
	viper.SetDefault("storage.s3.region", "us-east-1")

	viper.SetDefault("scraper.base_url", "https://api.apify.com/v2")
	viper.SetDefault("scraper.instagram_actor", "apify~instagram-scraper")
	viper.SetDefault("scraper.tiktok_actor", "clockworks~tiktok-scraper")

	viper.SetDefault("reader.base_url", "https://api.firecrawl.dev")
	viper.SetDefault("reader.timeout", "60s")

	viper.SetDefault("image_gen.url_template", "https://loremflickr.com/1200/800/{keywords}")

	viper.SetDefault("auth.issuer", "recipe-importer")

	// 圖片設定
	viper.SetDefault("image.max_size_bytes", 10*1024*1024) // 10MB

	viper.SetDefault("dedup_window", "1s")
	viper.SetDefault("log_level", "info")
}

// validateConfig 驗證設定
func validateConfig(config *Config) error {
	if config.Server.Port == 0 {
		return fmt.Errorf("server port is required")
	}

	if config.Cache.Enabled {
		if config.Cache.Backend != "memory" && config.Cache.Backend != "redis" {
			return fmt.Errorf("unknown cache backend %q", config.Cache.Backend)
		}
		if config.Cache.MaxSize <= 0 {
			return fmt.Errorf("invalid cache max size")
		}
		if config.Cache.TTL <= 0 {
			return fmt.Errorf("invalid cache ttl")
		}
		if config.Cache.CleanupInterval <= 0 {
			return fmt.Errorf("invalid cache cleanup interval")
		}
	}

	switch config.RateLimit.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown rate limit backend %q", config.RateLimit.Backend)
	}

	switch config.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unknown database driver %q", config.Database.Driver)
	}
	if config.Database.DSN == "" {
		return fmt.Errorf("database dsn is required")
	}

	switch config.Storage.Backend {
	case "local":
		if config.Storage.LocalDir == "" {
			return fmt.Errorf("storage local_dir is required")
		}
	case "s3":
		if config.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage s3 bucket is required")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", config.Storage.Backend)
	}

	if config.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if !strings.Contains(config.ImageGen.URLTemplate, "{keywords}") {
		return fmt.Errorf("image_gen url_template must contain {keywords}")
	}

	return nil
}
