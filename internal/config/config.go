package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	RemoteStoreNone  = ""
	RemoteStoreMySQL = "mysql"
	RemoteStoreRedis = "redis"
)

// Config aggregates runtime configuration for the service and its front ends.
type Config struct {
	AccountID string

	BotToken        string
	TelegramOwnerID int64

	GenAIAPIKey     string
	GenAIBaseURL    string
	GenAITextModel  string
	GenAIImageModel string
	RequestTimeout  time.Duration

	RemoteStore    string
	MySQLDSN       string
	RedisURL       string
	LocalStorePath string

	APIListenAddr string
	APIUsername   string
	APIPassword   string

	AdminGrantSecret string

	PaymentBankID      string
	PaymentAccountNo   string
	PaymentAccountName string
	PaymentQRTemplate  string
	PaymentVerifyDelay time.Duration

	BatchStopOnExhaustion bool

	S3Endpoint      string
	S3Region        string
	S3AccessKey     string
	S3SecretKey     string
	S3Bucket        string
	S3PublicBaseURL string
	S3UsePathStyle  bool
	S3Prefix        string

	LogLevel  string
	LogFormat string
}

// Load reads configuration from environment variables, applying sane defaults.
func Load() (Config, error) {
	if err := loadEnvFile(); err != nil {
		return Config{}, err
	}

	const defaultBaseURL = "https://api.kie.ai"

	cfg := Config{
		AccountID:             getEnv("ACCOUNT_ID", "demo-user"),
		TelegramOwnerID:       getInt64("TELEGRAM_OWNER_ID", 0),
		GenAIBaseURL:          normalizeBaseURL(getEnv("GENAI_BASE_URL", defaultBaseURL), defaultBaseURL),
		GenAITextModel:        getEnv("GENAI_TEXT_MODEL", "gemini-2.5-pro"),
		GenAIImageModel:       getEnv("GENAI_IMAGE_MODEL", "nano-banana-pro"),
		RequestTimeout:        time.Second * time.Duration(getInt("HTTP_TIMEOUT_SECONDS", 60)),
		RemoteStore:           strings.ToLower(strings.TrimSpace(os.Getenv("REMOTE_STORE"))),
		LocalStorePath:        getEnv("LOCAL_STORE_PATH", filepath.Join("data", "mangaforge.db")),
		APIListenAddr:         getEnv("API_LISTEN_ADDR", ":8080"),
		APIUsername:           os.Getenv("API_USERNAME"),
		APIPassword:           os.Getenv("API_PASSWORD"),
		AdminGrantSecret:      os.Getenv("ADMIN_GRANT_SECRET"),
		PaymentBankID:         getEnv("PAYMENT_BANK_ID", "MB"),
		PaymentAccountNo:      getEnv("PAYMENT_ACCOUNT_NO", "86869999269999"),
		PaymentAccountName:    getEnv("PAYMENT_ACCOUNT_NAME", "MANGAFORGE"),
		PaymentQRTemplate:     getEnv("PAYMENT_QR_TEMPLATE", "compact2"),
		PaymentVerifyDelay:    getDuration("PAYMENT_VERIFY_DELAY", 3*time.Second),
		BatchStopOnExhaustion: getBool("BATCH_STOP_ON_EXHAUSTION", false),
		S3Endpoint:            getEnv("S3_ENDPOINT", ""),
		S3Region:              os.Getenv("S3_REGION"),
		S3AccessKey:           os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:           os.Getenv("S3_SECRET_KEY"),
		S3Bucket:              os.Getenv("S3_BUCKET"),
		S3PublicBaseURL:       os.Getenv("S3_PUBLIC_BASE_URL"),
		S3UsePathStyle:        getBool("S3_USE_PATH_STYLE", false),
		S3Prefix:              getEnv("S3_PREFIX", "assets"),
		LogLevel:              strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:             strings.ToLower(getEnv("LOG_FORMAT", "json")),
	}

	cfg.BotToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	cfg.GenAIAPIKey = os.Getenv("GENAI_API_KEY")
	cfg.MySQLDSN = os.Getenv("MYSQL_DSN")
	cfg.RedisURL = os.Getenv("REDIS_URL")

	var missing []string
	if cfg.GenAIAPIKey == "" {
		missing = append(missing, "GENAI_API_KEY")
	}
	switch cfg.RemoteStore {
	case RemoteStoreNone:
	case RemoteStoreMySQL:
		if cfg.MySQLDSN == "" {
			missing = append(missing, "MYSQL_DSN")
		}
	case RemoteStoreRedis:
		if cfg.RedisURL == "" {
			missing = append(missing, "REDIS_URL")
		}
	default:
		return Config{}, fmt.Errorf("unsupported REMOTE_STORE %q (want mysql, redis or empty)", cfg.RemoteStore)
	}
	if cfg.BotToken != "" && cfg.TelegramOwnerID == 0 {
		missing = append(missing, "TELEGRAM_OWNER_ID")
	}
	if cfg.S3Enabled() {
		if cfg.S3Region == "" {
			missing = append(missing, "S3_REGION")
		}
		if cfg.S3AccessKey == "" {
			missing = append(missing, "S3_ACCESS_KEY")
		}
		if cfg.S3SecretKey == "" {
			missing = append(missing, "S3_SECRET_KEY")
		}
		if cfg.S3PublicBaseURL == "" {
			missing = append(missing, "S3_PUBLIC_BASE_URL")
		}
	}
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required environment variables: %v", missing)
	}

	return cfg, nil
}

// S3Enabled reports whether generated assets are re-hosted in object storage.
func (c Config) S3Enabled() bool {
	return c.S3Bucket != ""
}

// normalizeBaseURL ensures we always hit the documented API host. The root kie.ai domain
// serves HTML instead of JSON.
func normalizeBaseURL(raw string, fallback string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return fallback
	}

	if parsed.Scheme == "" {
		parsed.Scheme = "https"
	}
	if parsed.Host == "" {
		parsed.Host = parsed.Path
		parsed.Path = ""
	}

	if parsed.Host == "kie.ai" {
		parsed.Host = "api.kie.ai"
	}

	return parsed.String()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func getInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return i
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

// getDuration accepts Go durations ("3s", "500ms") or a bare number of seconds.
func getDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil && d >= 0 {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	return fallback
}

// loadEnvFile loads the first env file found. Running without one is fine; the process
// environment is used as is.
func loadEnvFile() error {
	candidates := []string{}
	if custom, ok := os.LookupEnv("CONFIG_ENV_PATH"); ok && custom != "" {
		candidates = append(candidates, custom)
	}
	candidates = append(candidates,
		filepath.Join("configs", ".env"),
		".env",
	)

	for _, path := range candidates {
		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("access env file %s: %w", path, err)
		}
		if info.IsDir() {
			continue
		}
		if err := godotenv.Overload(path); err != nil {
			return fmt.Errorf("load env file %s: %w", path, err)
		}
		return nil
	}
	return nil
}
