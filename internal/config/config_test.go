package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var configKeys = []string{
	"ACCOUNT_ID", "TELEGRAM_BOT_TOKEN", "TELEGRAM_OWNER_ID", "GENAI_API_KEY", "GENAI_BASE_URL",
	"GENAI_TEXT_MODEL", "GENAI_IMAGE_MODEL", "HTTP_TIMEOUT_SECONDS", "REMOTE_STORE", "MYSQL_DSN",
	"REDIS_URL", "LOCAL_STORE_PATH", "API_LISTEN_ADDR", "API_USERNAME", "API_PASSWORD",
	"ADMIN_GRANT_SECRET", "PAYMENT_BANK_ID", "PAYMENT_ACCOUNT_NO", "PAYMENT_ACCOUNT_NAME",
	"PAYMENT_QR_TEMPLATE", "PAYMENT_VERIFY_DELAY", "BATCH_STOP_ON_EXHAUSTION", "S3_ENDPOINT",
	"S3_REGION", "S3_ACCESS_KEY", "S3_SECRET_KEY", "S3_BUCKET", "S3_PUBLIC_BASE_URL",
	"S3_USE_PATH_STYLE", "S3_PREFIX", "LOG_LEVEL", "LOG_FORMAT",
}

// clearEnv blanks every key and points the env file lookup at an empty directory.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range configKeys {
		t.Setenv(key, "")
	}
	t.Setenv("CONFIG_ENV_PATH", filepath.Join(t.TempDir(), "missing.env"))
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("GENAI_API_KEY", "key")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "demo-user", cfg.AccountID)
	assert.Equal(t, "https://api.kie.ai", cfg.GenAIBaseURL)
	assert.Equal(t, RemoteStoreNone, cfg.RemoteStore)
	assert.Equal(t, 3*time.Second, cfg.PaymentVerifyDelay)
	assert.Equal(t, 60*time.Second, cfg.RequestTimeout)
	assert.False(t, cfg.BatchStopOnExhaustion)
	assert.False(t, cfg.S3Enabled())
	assert.Equal(t, "json", cfg.LogFormat)
}

func TestLoad_MissingKeysAreCollected(t *testing.T) {
	clearEnv(t)
	t.Setenv("REMOTE_STORE", "mysql")
	t.Setenv("TELEGRAM_BOT_TOKEN", "token")
	t.Setenv("S3_BUCKET", "bucket")

	_, err := Load()
	require.Error(t, err)
	for _, key := range []string{"GENAI_API_KEY", "MYSQL_DSN", "TELEGRAM_OWNER_ID", "S3_REGION", "S3_PUBLIC_BASE_URL"} {
		assert.Contains(t, err.Error(), key)
	}
}

func TestLoad_UnknownRemoteStore(t *testing.T) {
	clearEnv(t)
	t.Setenv("GENAI_API_KEY", "key")
	t.Setenv("REMOTE_STORE", "postgres")

	_, err := Load()
	assert.ErrorContains(t, err, "unsupported REMOTE_STORE")
}

func TestLoad_EnvFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "app.env")
	content := "GENAI_API_KEY=file-key\nREMOTE_STORE=Redis\nREDIS_URL=redis://localhost:6379/0\nPAYMENT_VERIFY_DELAY=5\nBATCH_STOP_ON_EXHAUSTION=true\nGENAI_BASE_URL=kie.ai\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("CONFIG_ENV_PATH", path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "file-key", cfg.GenAIAPIKey)
	assert.Equal(t, RemoteStoreRedis, cfg.RemoteStore)
	assert.Equal(t, 5*time.Second, cfg.PaymentVerifyDelay)
	assert.True(t, cfg.BatchStopOnExhaustion)
	assert.Equal(t, "https://api.kie.ai", cfg.GenAIBaseURL)
}

func TestGetDuration(t *testing.T) {
	t.Setenv("X_DELAY", "250ms")
	assert.Equal(t, 250*time.Millisecond, getDuration("X_DELAY", time.Second))
	t.Setenv("X_DELAY", "bogus")
	assert.Equal(t, time.Second, getDuration("X_DELAY", time.Second))
	t.Setenv("X_DELAY", "0")
	assert.Equal(t, time.Duration(0), getDuration("X_DELAY", time.Second))
}
