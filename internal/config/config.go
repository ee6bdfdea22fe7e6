// Package config は環境変数から設定を読み込み、アプリケーション全体で使用する設定を提供します。
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// 永続化ドライバー
const (
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

// 投入方式
const (
	SubmitDirect = "direct"
	SubmitQueue  = "queue"
)

// Config はアプリケーションの設定を保持する構造体です。
type Config struct {
	// 運用者ログイン（設定画面の保護）
	AppUsername     string
	AppPasswordHash string // bcrypt
	SessionSecret   string

	// サーバー設定
	Port               string
	GinMode            string
	CORSAllowedOrigins string

	// ファイル
	DataDir     string
	MaxFileSize int64
	MaxPages    int

	// 永続化
	StoreDriver    string
	DatabaseDSN    string
	RedisURL       string
	RecordTTLHours int

	// ジョブ実行
	SubmitMode         string
	ParseWorkers       int
	TranslateWorkers   int
	PollInterval       time.Duration
	PageSize           int
	RetryMaxAttempts   int
	RetryBackoff       time.Duration
	RequestTimeout     time.Duration
	ParseCloudBand     int
	NetworkDebug       bool
	ShutdownGraceDelay time.Duration

	// ログ
	LogLevel  string
	LogFormat string
	LogDir    string
}

// Load は環境変数から設定を読み込みます。
// .env.local ファイルが存在する場合はそこから読み込みます。
func Load() (*Config, error) {
	loadEnvFile()

	dataDir := getEnv("DATA_DIR", "data")
	config := &Config{
		AppUsername:     getEnv("APP_USERNAME", ""),
		AppPasswordHash: getEnv("APP_PASSWORD_HASH", ""),
		SessionSecret:   getEnv("SESSION_SECRET", "dev-session-secret-change-me"),

		Port:               getEnv("PORT", "8080"),
		GinMode:            getEnv("GIN_MODE", "debug"),
		CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),

		DataDir:     dataDir,
		MaxFileSize: getEnvAsInt64("MAX_FILE_SIZE", 104857600), // 100MB
		MaxPages:    getEnvAsInt("MAX_PAGES", 500),

		StoreDriver:    strings.ToLower(getEnv("STORE_DRIVER", StoreSQLite)),
		DatabaseDSN:    getEnv("DATABASE_DSN", filepath.Join(dataDir, "app.db")),
		RedisURL:       getEnv("REDIS_URL", "redis://127.0.0.1:6379/0"),
		RecordTTLHours: getEnvAsInt("RECORD_TTL_HOURS", 0),

		SubmitMode:         strings.ToLower(getEnv("SUBMIT_MODE", SubmitDirect)),
		ParseWorkers:       getEnvAsInt("PARSE_WORKERS", 2),
		TranslateWorkers:   getEnvAsInt("TRANSLATE_WORKERS", 2),
		PollInterval:       getEnvAsSeconds("POLL_INTERVAL_SECONDS", 5),
		PageSize:           getEnvAsInt("PAGE_SIZE", 10),
		RetryMaxAttempts:   getEnvAsInt("RETRY_MAX_ATTEMPTS", 3),
		RetryBackoff:       getEnvAsSeconds("RETRY_BACKOFF_SECONDS", 1),
		RequestTimeout:     getEnvAsSeconds("REQUEST_TIMEOUT_SECONDS", 60),
		ParseCloudBand:     getEnvAsInt("PARSE_CLOUD_BAND", 85),
		NetworkDebug:       getEnvAsBool("NETWORK_DEBUG", true),
		ShutdownGraceDelay: getEnvAsSeconds("SHUTDOWN_GRACE_SECONDS", 10),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
		LogDir:    getEnv("LOG_DIR", ""),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func loadEnvFile() {
	if err := godotenv.Load(".env.local"); err == nil {
		return
	}

	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	parent := filepath.Dir(cwd)
	if parent == "" || parent == cwd {
		return
	}

	_ = godotenv.Load(filepath.Join(parent, ".env.local"))
}

// Validate は設定の妥当性を検証します。
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case StoreSQLite, StorePostgres, StoreRedis:
	default:
		return fmt.Errorf("STORE_DRIVER must be one of sqlite, postgres, redis: %q", c.StoreDriver)
	}
	switch c.SubmitMode {
	case SubmitDirect, SubmitQueue:
	default:
		return fmt.Errorf("SUBMIT_MODE must be direct or queue: %q", c.SubmitMode)
	}
	if c.SubmitMode == SubmitQueue && c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required when SUBMIT_MODE=queue")
	}
	if c.ParseWorkers < 1 || c.TranslateWorkers < 1 {
		return fmt.Errorf("worker pool sizes must be >= 1")
	}
	if c.PageSize < 1 {
		return fmt.Errorf("PAGE_SIZE must be >= 1")
	}
	if c.RetryMaxAttempts < 1 {
		return fmt.Errorf("RETRY_MAX_ATTEMPTS must be >= 1")
	}
	if c.RetryBackoff < 0 {
		return fmt.Errorf("RETRY_BACKOFF_SECONDS must be >= 0")
	}
	if c.ParseCloudBand < 1 || c.ParseCloudBand > 99 {
		return fmt.Errorf("PARSE_CLOUD_BAND must be within 1..99")
	}

	// ローカル開発ではログイン設定は任意
	if c.GinMode == "release" {
		if c.AppUsername == "" {
			return fmt.Errorf("APP_USERNAME is required in release mode")
		}
		if c.AppPasswordHash == "" {
			return fmt.Errorf("APP_PASSWORD_HASH is required in release mode")
		}
		if c.SessionSecret == "" || c.SessionSecret == "dev-session-secret-change-me" {
			return fmt.Errorf("SESSION_SECRET is required in release mode")
		}
	}

	return nil
}

// RecordTTL はタスク記録の保持期間です。0 は無期限を表します。
func (c *Config) RecordTTL() time.Duration {
	if c.RecordTTLHours <= 0 {
		return 0
	}
	return time.Duration(c.RecordTTLHours) * time.Hour
}

// TasksDir はタスクごとの作業ディレクトリの親です。
func (c *Config) TasksDir() string {
	return filepath.Join(c.DataDir, "tasks")
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します。
func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAsInt は環境変数を整数として取得します。
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsInt64 は環境変数を64ビット整数として取得します。
func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsSeconds は小数を含む秒数を time.Duration として取得します。
func getEnvAsSeconds(key string, defaultSeconds float64) time.Duration {
	seconds := defaultSeconds
	if valueStr := os.Getenv(key); valueStr != "" {
		if v, err := strconv.ParseFloat(valueStr, 64); err == nil {
			seconds = v
		}
	}
	return time.Duration(seconds * float64(time.Second))
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
