// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Mode はデプロイモードを表す。データベースドライバの選択に使われる。
type Mode string

const (
	ModeDevelopment Mode = "development"
	ModeProduction  Mode = "production"
	ModeTest        Mode = "test"
)

// ErrUnsupportedMode は NODE_ENV に未知の値が設定された場合のエラー。
var ErrUnsupportedMode = errors.New("unsupported deployment mode")

// devSessionSecret は開発モードでSESSION_SECRET未設定時にのみ使う固定値。
const devSessionSecret = "authgate-development-session-secret-do-not-use"

// ParseMode は文字列をModeに変換する。空文字はdevelopmentとして扱う。
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(ModeDevelopment):
		return ModeDevelopment, nil
	case string(ModeProduction):
		return ModeProduction, nil
	case string(ModeTest):
		return ModeTest, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedMode, s)
	}
}

// Config はアプリケーション全体の設定を保持する。
// 起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL    string
	Mode           Mode
	DBHTTPEndpoint string
	DBHTTPTimeout  time.Duration

	// Session
	SessionSecret string
	SessionMaxAge int
	// SessionCleanupInterval は期限切れセッション削除ジョブの実行間隔。
	SessionCleanupInterval time.Duration

	// Rate Limit
	RateLimitSignIn int

	// Logging
	LogLevel  string
	LogFormat string

	// Server
	ServerPort string
	BaseURL    string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// カレントディレクトリに.envがあれば先に読み込むが、既存の環境変数は上書きしない。
// 必須環境変数が未設定の場合はまとめてエラーを返す。
func Load() (*Config, error) {
	// .env は任意。存在しなければ無視する
	_ = godotenv.Load()

	return FromEnv()
}

// FromEnv はプロセスの環境変数のみからConfigを組み立てる。
func FromEnv() (*Config, error) {
	cfg := &Config{}

	mode, err := ParseMode(os.Getenv("NODE_ENV"))
	if err != nil {
		return nil, err
	}
	cfg.Mode = mode

	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.SessionSecret = os.Getenv("SESSION_SECRET")
	if cfg.SessionSecret == "" {
		if cfg.Mode == ModeDevelopment {
			cfg.SessionSecret = devSessionSecret
		} else {
			missing = append(missing, "SESSION_SECRET")
		}
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.SessionMaxAge = getEnvInt("SESSION_MAX_AGE", 7*24*60*60)
	cfg.SessionCleanupInterval = getEnvDuration("SESSION_CLEANUP_INTERVAL", time.Hour)
	cfg.RateLimitSignIn = getEnvInt("RATE_LIMIT_SIGN_IN", 10)
	cfg.DBHTTPEndpoint = getEnvString("DB_HTTP_ENDPOINT", "")
	cfg.DBHTTPTimeout = getEnvDuration("DB_HTTP_TIMEOUT", 10*time.Second)
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.LogFormat = getEnvString("LOG_FORMAT", defaultLogFormat(cfg.Mode))
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.BaseURL = getEnvString("BASE_URL", "http://localhost:"+cfg.ServerPort)
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", cfg.BaseURL)

	return cfg, nil
}

func defaultLogFormat(mode Mode) string {
	if mode == ModeDevelopment {
		return "text"
	}
	return "json"
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
