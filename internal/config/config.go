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

	"github.com/MimeLyc/profile-letterbox/pkg/icron"
	"github.com/MimeLyc/profile-letterbox/pkg/log"
)

// Config holds all application configuration.
// Values come from environment variables with defaults; a .env file may
// supply them too (see LoadDotEnv).
//
// Environment Variables:
// System:
// - DATA_DIR: root for job working directories and the SQLite file (default: /app/data)
// - LOG_LEVEL: debug|info|warn|error (default: info)
// - LOG_FORMAT: json|console (default: json)
//
// HTTP:
// - HTTP_ADDR: listen address (default: :8080)
// - HTTP_RATE_LIMIT: job submissions per client per window, 0 disables (default: 30)
// - HTTP_RATE_WINDOW: rate limit window (default: 1m)
//
// Jobs:
// - JOBS_WORKERS: concurrent jobs (default: 2)
// - JOBS_MAX_RETAINED: jobs kept in memory before pruning terminal ones (default: 1000)
// - JOB_TIMEOUT: upper bound for one job, must be below SWEEP_RETENTION (default: 30m)
// - JOB_STORE: memory|sqlite|redis (default: sqlite)
// - SQLITE_PATH: SQLite file (default: $DATA_DIR/letterbox.db)
// - REDIS_ADDR, REDIS_PASSWORD, REDIS_DB, REDIS_PREFIX: Redis store connection
//
// Media:
// - INSTALOADER_BIN, FFMPEG_BIN, FFPROBE_BIN: external tools (default: looked up on PATH)
// - FETCH_RATE_PER_MINUTE: upstream fetches per minute, 0 disables (default: 6)
// - NORMALIZE_RATIO_TOLERANCE: relative tolerance for "already 9:16" (default: 0.001)
// - NORMALIZE_VIDEO_WIDTH: video canvas width (default: 1080)
// - NORMALIZE_SKIP_VIDEO: probe videos without rewriting them (default: false)
// - NORMALIZE_PARALLELISM: items normalized concurrently within a job (default: 2)
// - KEEP_ORIGINALS: keep the download directory next to the archive (default: false)
//
// Retention:
// - SWEEP_SCHEDULE: cron expression or descriptor (default: @every 5m)
// - SWEEP_RETENTION: artifact lifetime (default: 1h)
//
// Notification:
// - NOTIFY_WEBHOOK_URL: success webhook, empty disables
// - NOTIFY_TIMEOUT: webhook request timeout (default: 10s)
type Config struct {
	System SystemConfig `json:"system"`
	HTTP   HTTPConfig   `json:"http"`
	Jobs   JobsConfig   `json:"jobs"`
	Store  StoreConfig  `json:"store"`
	Media  MediaConfig  `json:"media"`
	Sweep  SweepConfig  `json:"sweep"`
	Notify NotifyConfig `json:"notify"`
}

type SystemConfig struct {
	DataDir   string `json:"data_dir"`
	LogLevel  string `json:"log_level"`
	LogFormat string `json:"log_format"`
}

type HTTPConfig struct {
	Addr       string        `json:"addr"`
	RateLimit  int           `json:"rate_limit"`
	RateWindow time.Duration `json:"rate_window"`
}

type JobsConfig struct {
	Workers     int           `json:"workers"`
	MaxRetained int           `json:"max_retained"`
	Timeout     time.Duration `json:"timeout"`
}

const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
	StoreRedis  = "redis"
)

type StoreConfig struct {
	Backend       string `json:"backend"`
	SQLitePath    string `json:"sqlite_path"`
	RedisAddr     string `json:"redis_addr"`
	RedisPassword string `json:"-"`
	RedisDB       int    `json:"redis_db"`
	RedisPrefix   string `json:"redis_prefix"`
}

type MediaConfig struct {
	InstaloaderBin     string  `json:"instaloader_bin"`
	FfmpegBin          string  `json:"ffmpeg_bin"`
	FfprobeBin         string  `json:"ffprobe_bin"`
	FetchRatePerMinute int     `json:"fetch_rate_per_minute"`
	RatioTolerance     float64 `json:"ratio_tolerance"`
	VideoWidth         int     `json:"video_width"`
	SkipVideo          bool    `json:"skip_video"`
	Parallelism        int     `json:"parallelism"`
	KeepOriginals      bool    `json:"keep_originals"`
}

type SweepConfig struct {
	Schedule  string        `json:"schedule"`
	Retention time.Duration `json:"retention"`
}

type NotifyConfig struct {
	WebhookURL string        `json:"webhook_url"`
	Timeout    time.Duration `json:"timeout"`
}

// JobsDir is where job working directories live.
func (c *Config) JobsDir() string {
	return filepath.Join(c.System.DataDir, "jobs")
}

// Option is a function type for configuring Config
type Option func(*Config)

func WithDataDir(dir string) Option {
	return func(c *Config) {
		c.System.DataDir = dir
	}
}

func WithStoreBackend(backend string) Option {
	return func(c *Config) {
		c.Store.Backend = backend
	}
}

// LoadDotEnv loads variables from the given .env files without overriding
// the environment. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, path := range paths {
		if err := godotenv.Load(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", path, err)
		}
		log.Debug("Loaded environment from %s", path)
	}
	return nil
}

// NewFromEnv creates a new Config instance with values from environment variables and options
func NewFromEnv(opts ...Option) (*Config, error) {
	config := &Config{
		System: SystemConfig{
			DataDir:   getEnvString("DATA_DIR", "/app/data"),
			LogLevel:  getEnvString("LOG_LEVEL", "info"),
			LogFormat: getEnvString("LOG_FORMAT", "json"),
		},
		HTTP: HTTPConfig{
			Addr:       getEnvString("HTTP_ADDR", ":8080"),
			RateLimit:  getEnvInt("HTTP_RATE_LIMIT", 30),
			RateWindow: getEnvDuration("HTTP_RATE_WINDOW", time.Minute),
		},
		Jobs: JobsConfig{
			Workers:     getEnvInt("JOBS_WORKERS", 2),
			MaxRetained: getEnvInt("JOBS_MAX_RETAINED", 1000),
			Timeout:     getEnvDuration("JOB_TIMEOUT", 30*time.Minute),
		},
		Store: StoreConfig{
			Backend:       strings.ToLower(getEnvString("JOB_STORE", StoreSQLite)),
			SQLitePath:    getEnvString("SQLITE_PATH", ""),
			RedisAddr:     getEnvString("REDIS_ADDR", "localhost:6379"),
			RedisPassword: getEnvString("REDIS_PASSWORD", ""),
			RedisDB:       getEnvInt("REDIS_DB", 0),
			RedisPrefix:   getEnvString("REDIS_PREFIX", "letterbox:"),
		},
		Media: MediaConfig{
			InstaloaderBin:     getEnvString("INSTALOADER_BIN", "instaloader"),
			FfmpegBin:          getEnvString("FFMPEG_BIN", "ffmpeg"),
			FfprobeBin:         getEnvString("FFPROBE_BIN", "ffprobe"),
			FetchRatePerMinute: getEnvInt("FETCH_RATE_PER_MINUTE", 6),
			RatioTolerance:     getEnvFloat("NORMALIZE_RATIO_TOLERANCE", 1e-3),
			VideoWidth:         getEnvInt("NORMALIZE_VIDEO_WIDTH", 1080),
			SkipVideo:          getEnvBool("NORMALIZE_SKIP_VIDEO", false),
			Parallelism:        getEnvInt("NORMALIZE_PARALLELISM", 2),
			KeepOriginals:      getEnvBool("KEEP_ORIGINALS", false),
		},
		Sweep: SweepConfig{
			Schedule:  getEnvString("SWEEP_SCHEDULE", "@every 5m"),
			Retention: getEnvDuration("SWEEP_RETENTION", time.Hour),
		},
		Notify: NotifyConfig{
			WebhookURL: getEnvString("NOTIFY_WEBHOOK_URL", ""),
			Timeout:    getEnvDuration("NOTIFY_TIMEOUT", 10*time.Second),
		},
	}

	// Apply custom options
	for _, opt := range opts {
		opt(config)
	}

	if config.Store.SQLitePath == "" {
		config.Store.SQLitePath = filepath.Join(config.System.DataDir, "letterbox.db")
	}

	// Validate required configuration
	if err := config.validate(); err != nil {
		return nil, err
	}

	log.Debug("Config: %+v", config.Redacted())
	return config, nil
}

// Redacted returns a copy safe to log: the Redis password is masked and the
// webhook URL keeps only its scheme and host.
func (c Config) Redacted() Config {
	if c.Store.RedisPassword != "" {
		c.Store.RedisPassword = "***"
	}
	if c.Notify.WebhookURL != "" {
		u, err := url.Parse(c.Notify.WebhookURL)
		if err != nil || u.Host == "" {
			c.Notify.WebhookURL = "***"
		} else {
			c.Notify.WebhookURL = u.Scheme + "://" + u.Host + "/***"
		}
	}
	return c
}

// validate checks if all required configuration is properly set
func (c *Config) validate() error {
	var errs []error

	if c.System.DataDir == "" {
		errs = append(errs, fmt.Errorf("DATA_DIR is required"))
	}
	switch c.System.LogFormat {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be json or console, got %q", c.System.LogFormat))
	}
	if c.Jobs.Workers < 1 {
		errs = append(errs, fmt.Errorf("JOBS_WORKERS must be at least 1"))
	}
	if c.Media.Parallelism < 1 {
		errs = append(errs, fmt.Errorf("NORMALIZE_PARALLELISM must be at least 1"))
	}
	if c.Media.RatioTolerance <= 0 || c.Media.RatioTolerance >= 1 {
		errs = append(errs, fmt.Errorf("NORMALIZE_RATIO_TOLERANCE must be in (0, 1)"))
	}
	if c.Media.VideoWidth <= 0 || c.Media.VideoWidth%2 != 0 {
		errs = append(errs, fmt.Errorf("NORMALIZE_VIDEO_WIDTH must be a positive even number"))
	}
	if c.Sweep.Retention <= 0 {
		errs = append(errs, fmt.Errorf("SWEEP_RETENTION must be positive"))
	}
	// The sweeper reclaims by age alone, so a job must finish before its files become eligible.
	if c.Jobs.Timeout <= 0 || c.Jobs.Timeout >= c.Sweep.Retention {
		errs = append(errs, fmt.Errorf("JOB_TIMEOUT (%s) must be positive and below SWEEP_RETENTION (%s)", c.Jobs.Timeout, c.Sweep.Retention))
	}
	if _, err := icron.Parse(c.Sweep.Schedule); err != nil {
		errs = append(errs, fmt.Errorf("SWEEP_SCHEDULE: %w", err))
	}
	switch c.Store.Backend {
	case StoreMemory, StoreSQLite:
	case StoreRedis:
		if c.Store.RedisAddr == "" {
			errs = append(errs, fmt.Errorf("REDIS_ADDR is required for the redis store"))
		}
	default:
		errs = append(errs, fmt.Errorf("JOB_STORE must be memory, sqlite or redis, got %q", c.Store.Backend))
	}

	return errors.Join(errs...)
}

// getEnvString gets a string value from environment variables with default
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer value from environment variables with default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
		log.Warn("Ignoring invalid %s=%q", key, value)
	}
	return defaultValue
}

// getEnvFloat gets a float value from environment variables with default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
		log.Warn("Ignoring invalid %s=%q", key, value)
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
		log.Warn("Ignoring invalid %s=%q", key, value)
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("90s", "1h") or plain seconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		if secs, err := strconv.Atoi(value); err == nil {
			return time.Duration(secs) * time.Second
		}
		log.Warn("Ignoring invalid %s=%q", key, value)
	}
	return defaultValue
}
