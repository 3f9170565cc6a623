package config

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFromEnv_Defaults(t *testing.T) {
	t.Setenv("DATA_DIR", "")

	cfg, err := NewFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "/app/data", cfg.System.DataDir)
	assert.Equal(t, filepath.Join("/app/data", "jobs"), cfg.JobsDir())
	assert.Equal(t, filepath.Join("/app/data", "letterbox.db"), cfg.Store.SQLitePath)
	assert.Equal(t, StoreSQLite, cfg.Store.Backend)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, 2, cfg.Jobs.Workers)
	assert.Equal(t, 30*time.Minute, cfg.Jobs.Timeout)
	assert.Equal(t, "@every 5m", cfg.Sweep.Schedule)
	assert.Equal(t, time.Hour, cfg.Sweep.Retention)
	assert.InDelta(t, 1e-3, cfg.Media.RatioTolerance, 1e-12)
	assert.Equal(t, 1080, cfg.Media.VideoWidth)
	assert.False(t, cfg.Media.SkipVideo)
	assert.False(t, cfg.Media.KeepOriginals)
	assert.Empty(t, cfg.Notify.WebhookURL)
	assert.Equal(t, 10*time.Second, cfg.Notify.Timeout)
}

func TestNewFromEnv_FromEnv(t *testing.T) {
	t.Setenv("DATA_DIR", "/tmp/letterbox")
	t.Setenv("JOB_STORE", "Redis")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("JOBS_WORKERS", "4")
	t.Setenv("JOB_TIMEOUT", "600")
	t.Setenv("SWEEP_RETENTION", "2h")
	t.Setenv("SWEEP_SCHEDULE", "*/10 * * * *")
	t.Setenv("NORMALIZE_SKIP_VIDEO", "true")
	t.Setenv("NORMALIZE_RATIO_TOLERANCE", "0.01")
	t.Setenv("KEEP_ORIGINALS", "1")
	t.Setenv("NOTIFY_WEBHOOK_URL", "http://hooks.local/done")
	t.Setenv("HTTP_RATE_LIMIT", "0")

	cfg, err := NewFromEnv()
	require.NoError(t, err)

	assert.Equal(t, StoreRedis, cfg.Store.Backend)
	assert.Equal(t, "redis:6379", cfg.Store.RedisAddr)
	assert.Equal(t, 3, cfg.Store.RedisDB)
	assert.Equal(t, 4, cfg.Jobs.Workers)
	assert.Equal(t, 10*time.Minute, cfg.Jobs.Timeout)
	assert.Equal(t, 2*time.Hour, cfg.Sweep.Retention)
	assert.Equal(t, "*/10 * * * *", cfg.Sweep.Schedule)
	assert.True(t, cfg.Media.SkipVideo)
	assert.InDelta(t, 0.01, cfg.Media.RatioTolerance, 1e-12)
	assert.True(t, cfg.Media.KeepOriginals)
	assert.Equal(t, "http://hooks.local/done", cfg.Notify.WebhookURL)
	assert.Zero(t, cfg.HTTP.RateLimit)
	assert.Equal(t, filepath.Join("/tmp/letterbox", "letterbox.db"), cfg.Store.SQLitePath)
}

func TestNewFromEnv_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("JOBS_WORKERS", "many")
	t.Setenv("NORMALIZE_SKIP_VIDEO", "maybe")
	t.Setenv("SWEEP_RETENTION", "soon")

	cfg, err := NewFromEnv()
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Jobs.Workers)
	assert.False(t, cfg.Media.SkipVideo)
	assert.Equal(t, time.Hour, cfg.Sweep.Retention)
}

func TestNewFromEnv_Options(t *testing.T) {
	dir := t.TempDir()
	cfg, err := NewFromEnv(WithDataDir(dir), WithStoreBackend(StoreMemory))
	require.NoError(t, err)
	assert.Equal(t, dir, cfg.System.DataDir)
	assert.Equal(t, StoreMemory, cfg.Store.Backend)
	assert.Equal(t, filepath.Join(dir, "letterbox.db"), cfg.Store.SQLitePath)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{name: "timeout not below retention", env: map[string]string{"JOB_TIMEOUT": "1h", "SWEEP_RETENTION": "1h"}, want: "JOB_TIMEOUT"},
		{name: "bad schedule", env: map[string]string{"SWEEP_SCHEDULE": "every now and then"}, want: "SWEEP_SCHEDULE"},
		{name: "unknown store", env: map[string]string{"JOB_STORE": "etcd"}, want: "JOB_STORE"},
		{name: "zero workers", env: map[string]string{"JOBS_WORKERS": "0"}, want: "JOBS_WORKERS"},
		{name: "odd video width", env: map[string]string{"NORMALIZE_VIDEO_WIDTH": "1081"}, want: "NORMALIZE_VIDEO_WIDTH"},
		{name: "tolerance out of range", env: map[string]string{"NORMALIZE_RATIO_TOLERANCE": "2"}, want: "NORMALIZE_RATIO_TOLERANCE"},
		{name: "log format", env: map[string]string{"LOG_FORMAT": "xml"}, want: "LOG_FORMAT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := NewFromEnv()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestConfig_Redacted(t *testing.T) {
	cfg := Config{
		Store:  StoreConfig{RedisPassword: "hunter2"},
		Notify: NotifyConfig{WebhookURL: "https://hooks.example.com/services/T000/secret-token?key=abc"},
	}

	redacted := cfg.Redacted()
	assert.Equal(t, "***", redacted.Store.RedisPassword)
	assert.Equal(t, "https://hooks.example.com/***", redacted.Notify.WebhookURL)

	dump := fmt.Sprintf("%+v", redacted)
	assert.NotContains(t, dump, "hunter2")
	assert.NotContains(t, dump, "secret-token")

	assert.Equal(t, "hunter2", cfg.Store.RedisPassword, "original must be untouched")
	assert.Empty(t, Config{}.Redacted().Notify.WebhookURL)
	assert.Equal(t, "***", Config{Notify: NotifyConfig{WebhookURL: "not a url"}}.Redacted().Notify.WebhookURL)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("LETTERBOX_TEST_VALUE=from-file\nLETTERBOX_TEST_KEPT=from-file\n"), 0o644))
	t.Setenv("LETTERBOX_TEST_KEPT", "from-env")
	t.Setenv("LETTERBOX_TEST_VALUE", "")
	require.NoError(t, os.Unsetenv("LETTERBOX_TEST_VALUE"))

	require.NoError(t, LoadDotEnv(path, filepath.Join(dir, "missing.env")))
	t.Cleanup(func() { _ = os.Unsetenv("LETTERBOX_TEST_VALUE") })

	assert.Equal(t, "from-file", os.Getenv("LETTERBOX_TEST_VALUE"))
	assert.Equal(t, "from-env", os.Getenv("LETTERBOX_TEST_KEPT"))
}
