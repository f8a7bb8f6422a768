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

// 通知の送信方式
const (
	NotifyDriverLog  = "log"
	NotifyDriverSMTP = "smtp"
	NotifyDriverHTTP = "http"
)

// minJWTSecretBytes はJWT署名鍵の最小長。
const minJWTSecretBytes = 32

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Server
	ServerPort         string
	WorkerMetricsPort  string
	BaseURL            string
	CORSAllowedOrigins []string

	// Auth
	JWTSecret   string
	JWTTTL      time.Duration
	AdminEmails []string

	// Rate Limit（1分あたりのリクエスト数）
	RedisURL         string
	RateLimitGeneral int
	RateLimitReport  int
	RateLimitClaim   int

	// Matching
	MatchScoreThreshold int
	MatchProposalTTL    time.Duration
	CleanupInterval     time.Duration

	// Notification
	NotifyDriver      string
	SMTPHost          string
	SMTPPort          int
	SMTPUsername      string
	SMTPPassword      string
	MailAPIURL        string
	MailAPIKey        string
	MailFrom          string
	NotifySendTimeout time.Duration
	NotifyWaitTimeout time.Duration

	// Upload
	UploadDir      string
	UploadMaxBytes int64

	// Bulletin
	BulletinFeedURLs        []string
	BulletinInterval        time.Duration
	BulletinHoldingLocation string
	FetchTimeout            time.Duration
	FetchMaxSize            int64
	FetchMaxConcurrent      int
}

// Load は環境変数からConfigを読み込む。
// カレントディレクトリに.envがあれば先に読み込む（既存の環境変数は上書きしない）。
// 必須環境変数が未設定の場合はまとめてエラーを返す。
func Load() (*Config, error) {
	// .envは任意
	_ = godotenv.Load()

	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.WorkerMetricsPort = getEnvString("WORKER_METRICS_PORT", "9091")
	cfg.BaseURL = strings.TrimRight(getEnvString("BASE_URL", "http://localhost:8080"), "/")
	cfg.CORSAllowedOrigins = getEnvList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"})
	cfg.JWTTTL = getEnvDuration("JWT_TTL", 24*time.Hour)
	cfg.AdminEmails = getEnvList("ADMIN_EMAILS", nil)
	cfg.RedisURL = getEnvString("REDIS_URL", "")
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitReport = getEnvInt("RATE_LIMIT_REPORT", 10)
	cfg.RateLimitClaim = getEnvInt("RATE_LIMIT_CLAIM", 5)
	cfg.MatchScoreThreshold = getEnvInt("MATCH_SCORE_THRESHOLD", 20)
	cfg.MatchProposalTTL = getEnvDuration("MATCH_PROPOSAL_TTL", 30*24*time.Hour)
	cfg.CleanupInterval = getEnvDuration("CLEANUP_INTERVAL", 24*time.Hour)
	cfg.NotifyDriver = strings.ToLower(getEnvString("NOTIFY_DRIVER", NotifyDriverLog))
	cfg.SMTPHost = getEnvString("SMTP_HOST", "")
	cfg.SMTPPort = getEnvInt("SMTP_PORT", 587)
	cfg.SMTPUsername = getEnvString("SMTP_USERNAME", "")
	cfg.SMTPPassword = getEnvString("SMTP_PASSWORD", "")
	cfg.MailAPIURL = getEnvString("MAIL_API_URL", "")
	cfg.MailAPIKey = getEnvString("MAIL_API_KEY", "")
	cfg.MailFrom = getEnvString("MAIL_FROM", "lostfound@localhost")
	cfg.NotifySendTimeout = getEnvDuration("NOTIFY_SEND_TIMEOUT", 10*time.Second)
	cfg.NotifyWaitTimeout = getEnvDuration("NOTIFY_WAIT_TIMEOUT", 2*time.Second)
	cfg.UploadDir = getEnvString("UPLOAD_DIR", "./uploads")
	cfg.UploadMaxBytes = getEnvInt64("UPLOAD_MAX_BYTES", 10<<20)
	cfg.BulletinFeedURLs = getEnvList("BULLETIN_FEED_URLS", nil)
	cfg.BulletinInterval = getEnvDuration("BULLETIN_INTERVAL", 15*time.Minute)
	cfg.BulletinHoldingLocation = getEnvString("BULLETIN_HOLDING_LOCATION", "Campus Security Office")
	cfg.FetchTimeout = getEnvDuration("FETCH_TIMEOUT", 10*time.Second)
	cfg.FetchMaxSize = getEnvInt64("FETCH_MAX_SIZE", 5242880)
	cfg.FetchMaxConcurrent = getEnvInt("FETCH_MAX_CONCURRENT", 4)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	if len(c.JWTSecret) < minJWTSecretBytes {
		errs = append(errs, fmt.Errorf("JWT_SECRET must be at least %d bytes", minJWTSecretBytes))
	}
	if c.MatchScoreThreshold < 0 || c.MatchScoreThreshold > 100 {
		errs = append(errs, fmt.Errorf("MATCH_SCORE_THRESHOLD must be between 0 and 100: %d", c.MatchScoreThreshold))
	}
	switch c.NotifyDriver {
	case NotifyDriverLog:
	case NotifyDriverSMTP:
		if c.SMTPHost == "" {
			errs = append(errs, errors.New("SMTP_HOST is required when NOTIFY_DRIVER=smtp"))
		}
	case NotifyDriverHTTP:
		if c.MailAPIURL == "" {
			errs = append(errs, errors.New("MAIL_API_URL is required when NOTIFY_DRIVER=http"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown NOTIFY_DRIVER: %q", c.NotifyDriver))
	}
	return errors.Join(errs...)
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

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
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

// getEnvList はカンマ区切りの値を空要素を除いて返す。
func getEnvList(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}
