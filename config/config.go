package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/joho/godotenv"
)

// AppName is used for data directories and metric namespaces.
const AppName = "serpcrawl"

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig
	Proxy      ProxyConfig
	Browser    BrowserConfig
	Crawl      CrawlConfig
	Detect     DetectConfig
	Storage    StorageConfig
	Queue      QueueConfig
	Blob       BlobConfig
	LLM        LLMConfig
	Webhook    WebhookConfig
	Auth       AuthConfig
	RateLimit  RateLimitConfig
	Cache      CacheConfig
	Scheduler  SchedulerConfig
	Log        LogConfig
	Credential CredentialConfig
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Host string // default: "0.0.0.0"
	Port int    // default: 8080
	Mode string // "debug", "release", "test"; default: "release"
}

// ProxyConfig controls the proxy pool.
type ProxyConfig struct {
	// Proxies is the initial endpoint list.
	Proxies []string

	// Strategy is round_robin, least_used, random or weighted.
	Strategy string // default: "round_robin"

	// MaxFails is the consecutive-failure threshold that disables an endpoint.
	MaxFails int // default: 3

	// Required makes an empty pool a job failure instead of a direct connection.
	Required bool // default: false
}

// BrowserConfig controls the per-session browser process.
type BrowserConfig struct {
	// Headless controls whether the browser runs headless.
	Headless bool // default: true

	// NoSandbox disables Chrome's sandbox (needed in Docker).
	NoSandbox bool // default: false

	// BrowserBin overrides the Chromium binary path.
	BrowserBin string

	// NavTimeout bounds a single navigation including the load event.
	NavTimeout time.Duration // default: 30s

	// EvalTimeout bounds a single in-page script evaluation.
	EvalTimeout time.Duration // default: 10s

	// HumanizeBudget caps the total time spent scrolling and moving the pointer.
	HumanizeBudget time.Duration // default: 6s

	// BlockedResourceTypes lists resource types to fail at the network layer.
	// default: ["Image", "Font", "Media"]
	BlockedResourceTypes []string

	// BlockAds fails requests to well-known ad and tracking domains.
	BlockAds bool // default: true
}

// CrawlConfig controls the orchestrator and its worker pool.
type CrawlConfig struct {
	MaxAttempts int           // default: 3
	BackoffBase time.Duration // default: 2s
	Concurrency int           // default: 4

	// FollowFirst is the default for jobs that do not say otherwise.
	FollowFirst bool // default: true

	// RetryEmptySERP retries results pages that parsed to zero entries
	// even when no block signature matched.
	RetryEmptySERP bool // default: false

	// PollInterval is the idle wait between empty queue polls.
	PollInterval time.Duration // default: 1s

	// QueueErrorDelay is the wait after a queue error.
	QueueErrorDelay time.Duration // default: 5s
}

// DetectConfig controls block detection.
type DetectConfig struct {
	// SignaturesFile is a YAML signature set; empty uses the built-in one.
	SignaturesFile string
}

// CredentialConfig locates the per-domain cookie store.
type CredentialConfig struct {
	// CookiesFile is a YAML or JSON mapping of domain to cookies.
	CookiesFile string
}

// StorageConfig controls the job store.
type StorageConfig struct {
	// DBPath is the SQLite file. Empty keeps records in memory.
	DBPath string // default: $XDG_DATA_HOME/serpcrawl/jobs.db
}

// QueueConfig controls job intake. Without an address an in-memory queue is used.
type QueueConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Key           string // default: "crawl_queue"
}

// BlobConfig controls the raw HTML archive. Disabled without a bucket.
type BlobConfig struct {
	Endpoint  string // e.g. "http://localhost:9000" for MinIO
	Bucket    string
	Region    string // default: "us-east-1"
	AccessKey string
	SecretKey string
}

// LLMConfig controls the optional enrichment service. Disabled without a base URL.
type LLMConfig struct {
	BaseURL string
	APIKey  string
	Model   string        // default: "gpt-4o-mini"
	Timeout time.Duration // default: 20s
}

// WebhookConfig controls terminal job notifications. Disabled without a URL.
type WebhookConfig struct {
	URL    string
	Secret string
}

// AuthConfig controls API key authentication.
type AuthConfig struct {
	// Enabled toggles API key authentication.
	Enabled bool // default: true

	// APIKeys is the list of valid API keys.
	APIKeys []string
}

// RateLimitConfig controls per-key rate limiting.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained rate per API key.
	RequestsPerSecond float64 // default: 5

	// Burst is the maximum burst size per API key.
	Burst int // default: 10
}

// CacheConfig controls the terminal record cache used by job intake.
type CacheConfig struct {
	// MaxEntries is the maximum number of cached records.
	MaxEntries int // default: 1000
}

// SchedulerConfig controls the heartbeat and recurring jobs.
type SchedulerConfig struct {
	Heartbeat time.Duration // default: 5m
	Interval  time.Duration // default: 24h
	Keywords  []string
	Engine    string // default: "bing"
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string // default: "info"
	Format string // "json" or "text"; default: "json"
}

// Load reads configuration from environment variables with sane defaults.
// A .env file in the working directory is applied first when present;
// variables already set in the environment win.
func Load() *Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("config: ignoring unreadable .env file", "error", err)
	}

	return &Config{
		Server: ServerConfig{
			Host: envOr("SERPCRAWL_HOST", "0.0.0.0"),
			Port: envIntOr("SERPCRAWL_PORT", 8080),
			Mode: envOr("SERPCRAWL_MODE", "release"),
		},
		Proxy: ProxyConfig{
			Proxies:  envSliceOr("SERPCRAWL_PROXIES", nil),
			Strategy: envOr("SERPCRAWL_PROXY_STRATEGY", "round_robin"),
			MaxFails: envIntOr("SERPCRAWL_PROXY_MAX_FAILS", 3),
			Required: envBoolOr("SERPCRAWL_PROXY_REQUIRED", false),
		},
		Browser: BrowserConfig{
			Headless:       envBoolOr("SERPCRAWL_HEADLESS", true),
			NoSandbox:      envBoolOr("SERPCRAWL_NO_SANDBOX", false),
			BrowserBin:     os.Getenv("SERPCRAWL_BROWSER_BIN"),
			NavTimeout:     envDurationOr("SERPCRAWL_NAV_TIMEOUT", 30*time.Second),
			EvalTimeout:    envDurationOr("SERPCRAWL_EVAL_TIMEOUT", 10*time.Second),
			HumanizeBudget: envDurationOr("SERPCRAWL_HUMANIZE_BUDGET", 6*time.Second),
			BlockedResourceTypes: envSliceOr("SERPCRAWL_BLOCKED_RESOURCES", []string{
				"Image", "Font", "Media",
			}),
			BlockAds: envBoolOr("SERPCRAWL_BLOCK_ADS", true),
		},
		Crawl: CrawlConfig{
			MaxAttempts:     envIntOr("SERPCRAWL_MAX_ATTEMPTS", 3),
			BackoffBase:     envDurationOr("SERPCRAWL_BACKOFF_BASE", 2*time.Second),
			Concurrency:     envIntOr("SERPCRAWL_CONCURRENCY", 4),
			FollowFirst:     envBoolOr("SERPCRAWL_FOLLOW_FIRST", true),
			RetryEmptySERP:  envBoolOr("SERPCRAWL_RETRY_EMPTY_SERP", false),
			PollInterval:    envDurationOr("SERPCRAWL_POLL_INTERVAL", time.Second),
			QueueErrorDelay: envDurationOr("SERPCRAWL_QUEUE_ERROR_DELAY", 5*time.Second),
		},
		Detect: DetectConfig{
			SignaturesFile: os.Getenv("SERPCRAWL_SIGNATURES_FILE"),
		},
		Credential: CredentialConfig{
			CookiesFile: os.Getenv("SERPCRAWL_COOKIES_FILE"),
		},
		Storage: StorageConfig{
			DBPath: envOr("SERPCRAWL_DB_PATH", DefaultDBPath()),
		},
		Queue: QueueConfig{
			RedisAddr:     os.Getenv("SERPCRAWL_REDIS_ADDR"),
			RedisPassword: os.Getenv("SERPCRAWL_REDIS_PASSWORD"),
			RedisDB:       envIntOr("SERPCRAWL_REDIS_DB", 0),
			Key:           envOr("SERPCRAWL_QUEUE_KEY", "crawl_queue"),
		},
		Blob: BlobConfig{
			Endpoint:  os.Getenv("SERPCRAWL_S3_ENDPOINT"),
			Bucket:    os.Getenv("SERPCRAWL_S3_BUCKET"),
			Region:    envOr("SERPCRAWL_S3_REGION", "us-east-1"),
			AccessKey: os.Getenv("SERPCRAWL_S3_ACCESS_KEY"),
			SecretKey: os.Getenv("SERPCRAWL_S3_SECRET_KEY"),
		},
		LLM: LLMConfig{
			BaseURL: os.Getenv("SERPCRAWL_LLM_BASE_URL"),
			APIKey:  os.Getenv("SERPCRAWL_LLM_API_KEY"),
			Model:   envOr("SERPCRAWL_LLM_MODEL", "gpt-4o-mini"),
			Timeout: envDurationOr("SERPCRAWL_LLM_TIMEOUT", 20*time.Second),
		},
		Webhook: WebhookConfig{
			URL:    os.Getenv("SERPCRAWL_WEBHOOK_URL"),
			Secret: os.Getenv("SERPCRAWL_WEBHOOK_SECRET"),
		},
		Auth: AuthConfig{
			Enabled: envBoolOr("SERPCRAWL_AUTH_ENABLED", true),
			APIKeys: envSliceOr("SERPCRAWL_API_KEYS", nil),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: envFloatOr("SERPCRAWL_RATE_RPS", 5.0),
			Burst:             envIntOr("SERPCRAWL_RATE_BURST", 10),
		},
		Cache: CacheConfig{
			MaxEntries: envIntOr("SERPCRAWL_CACHE_MAX_ENTRIES", 1000),
		},
		Scheduler: SchedulerConfig{
			Heartbeat: envDurationOr("SERPCRAWL_HEARTBEAT", 5*time.Minute),
			Interval:  envDurationOr("SERPCRAWL_SCHEDULE_INTERVAL", 24*time.Hour),
			Keywords:  envSliceOr("SERPCRAWL_SCHEDULE_KEYWORDS", nil),
			Engine:    envOr("SERPCRAWL_SCHEDULE_ENGINE", "bing"),
		},
		Log: LogConfig{
			Level:  envOr("SERPCRAWL_LOG_LEVEL", "info"),
			Format: envOr("SERPCRAWL_LOG_FORMAT", "json"),
		},
	}
}

// DefaultDBPath is the SQLite file under the XDG data directory.
func DefaultDBPath() string {
	return filepath.Join(xdg.DataHome, AppName, "jobs.db")
}

// --- helper functions ---

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBoolOr(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envFloatOr(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envSliceOr(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return fallback
}
