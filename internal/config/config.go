package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// ストレージドライバ名
const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
	StorageRedis    = "redis"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Storage
	StorageDriver string
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Session
	SyncInterval time.Duration
	AuthDelay    time.Duration

	// Bootstrap admin
	BootstrapAdminID     string
	BootstrapAdminSecret string

	// Signal bridge
	BridgeEndpoint   string
	BridgeNamePrefix string

	// Rate Limit（req/min単位）
	RateLimitGeneral int
	RateLimitAward   int

	// Stats
	StatsCacheTTL time.Duration

	// Server
	ServerPort string
	BaseURL    string

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// ストレージドライバに応じた必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.StorageDriver = getEnvString("STORAGE_DRIVER", StorageMemory)
	switch cfg.StorageDriver {
	case StorageMemory, StoragePostgres, StorageRedis:
	default:
		return nil, fmt.Errorf("unknown STORAGE_DRIVER: %s", cfg.StorageDriver)
	}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.StorageDriver == StoragePostgres && cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("required environment variables are not set: [DATABASE_URL]")
	}

	cfg.RedisAddr = os.Getenv("REDIS_ADDR")
	if cfg.StorageDriver == StorageRedis && cfg.RedisAddr == "" {
		return nil, fmt.Errorf("required environment variables are not set: [REDIS_ADDR]")
	}
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	cfg.RedisDB = getEnvInt("REDIS_DB", 0)

	cfg.SyncInterval = getEnvDuration("SYNC_INTERVAL", 5*time.Second)
	cfg.AuthDelay = getEnvDuration("AUTH_DELAY", 1*time.Second)

	cfg.BootstrapAdminID = getEnvString("BOOTSTRAP_ADMIN_ID", "admin")
	cfg.BootstrapAdminSecret = getEnvString("BOOTSTRAP_ADMIN_SECRET", "password123")

	cfg.BridgeEndpoint = os.Getenv("BRIDGE_ENDPOINT")
	cfg.BridgeNamePrefix = getEnvString("BRIDGE_NAME_PREFIX", "GP-Bin")

	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitAward = getEnvInt("RATE_LIMIT_AWARD", 30)

	cfg.StatsCacheTTL = getEnvDuration("STATS_CACHE_TTL", 30*time.Second)

	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.BaseURL = getEnvString("BASE_URL", "http://localhost:8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
