// Package config loads and validates the visual-regression engine's
// configuration from YAML, with environment variable overrides for
// deployment-time secrets and tuning knobs.
package config

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the service-level configuration for the server and worker
// processes.
type Config struct {
	// HTTP server
	ListenAddr     string        `yaml:"listen_addr"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	RateLimitRPS   float64       `yaml:"rate_limit_rps"`
	RateLimitBurst int           `yaml:"rate_limit_burst"`

	// Browser pool
	BrowserPoolSize    int           `yaml:"browser_pool_size"`
	BrowserPoolTimeout time.Duration `yaml:"browser_pool_timeout"`
	NavigationTimeout  time.Duration `yaml:"navigation_timeout"`

	// Vision / AI worker pool
	VisionWorkerCount   int           `yaml:"vision_worker_count"`
	VisionWorkerTimeout time.Duration `yaml:"vision_worker_timeout"`

	// Credential vault (secretstore)
	VaultBaseURL      string        `yaml:"vault_base_url"`
	VaultServiceToken string        `yaml:"-"` // env only, never persisted to disk
	VaultTimeout      time.Duration `yaml:"vault_timeout"`

	// LLM providers: API keys are env-only overrides, never written to YAML.
	AnthropicAPIKey string `yaml:"-"`
	OpenAIAPIKey    string `yaml:"-"`
	GoogleAPIKey    string `yaml:"-"`
	DefaultModel    string `yaml:"default_model"`

	// Storage
	BlobStoreURL     string        `yaml:"blob_store_url"`
	BlobStoreToken   string        `yaml:"-"` // env only, never persisted to disk
	BlobStoreTimeout time.Duration `yaml:"blob_store_timeout"`

	// Comparison defaults
	DefaultDiffThreshold float64 `yaml:"default_diff_threshold"`

	// Logging
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"` // json | console

	// Action cache. ActionCacheTTL is not read by internal/actioncache,
	// which always sets an entry's expiry 24h after its last store.
	ActionCacheTTL time.Duration `yaml:"action_cache_ttl"`
}

// LoadFromFile reads and parses a YAML config file, then applies defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.LoadFromEnv()
	cfg.ApplyDefaults()
	return &cfg, nil
}

// LoadFromEnv overrides fields from environment variables, used both for
// secrets that never belong in YAML and for deployment-time tuning.
func (c *Config) LoadFromEnv() {
	if v := os.Getenv("VISION_LISTEN_ADDR"); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv("VISION_WORKER_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.VisionWorkerCount = n
		}
	}
	if v := os.Getenv("VISION_WORKER_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.VisionWorkerTimeout = d
		}
	}
	if v := os.Getenv("BROWSER_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.BrowserPoolSize = n
		}
	}
	if v := os.Getenv("BROWSER_POOL_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.BrowserPoolTimeout = d
		}
	}
	if v := os.Getenv("BLOB_STORE_URL"); v != "" {
		c.BlobStoreURL = v
	}
	if v := os.Getenv("BLOB_STORE_TOKEN"); v != "" {
		c.BlobStoreToken = v
	}
	if v := os.Getenv("BRAINZLAB_VAULT_URL"); v != "" {
		c.VaultBaseURL = v
	}
	if v := os.Getenv("VAULT_SERVICE_TOKEN"); v != "" {
		c.VaultServiceToken = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		c.AnthropicAPIKey = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.OpenAIAPIKey = v
	}
	if v := os.Getenv("GOOGLE_API_KEY"); v != "" {
		c.GoogleAPIKey = v
	}
	if v := os.Getenv("VISION_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}

// ApplyDefaults fills unset fields with sane defaults, clamping anything
// that would otherwise starve or overrun the process.
func (c *Config) ApplyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = ":8080"
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 15 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 30 * time.Second
	}
	if c.RateLimitRPS <= 0 {
		c.RateLimitRPS = 20
	}
	if c.RateLimitBurst <= 0 {
		c.RateLimitBurst = 40
	}
	if c.BrowserPoolSize <= 0 {
		c.BrowserPoolSize = 4
	}
	if c.BrowserPoolSize > 64 {
		c.BrowserPoolSize = 64
	}
	if c.BrowserPoolTimeout <= 0 {
		c.BrowserPoolTimeout = 30 * time.Second
	}
	if c.NavigationTimeout <= 0 {
		c.NavigationTimeout = 20 * time.Second
	}
	if c.VisionWorkerCount <= 0 {
		c.VisionWorkerCount = 4
	}
	if c.VisionWorkerCount > 32 {
		c.VisionWorkerCount = 32
	}
	if c.VisionWorkerTimeout <= 0 {
		c.VisionWorkerTimeout = 2 * time.Minute
	}
	if c.VaultTimeout <= 0 {
		c.VaultTimeout = 5 * time.Second
	}
	if c.DefaultModel == "" {
		c.DefaultModel = "claude-sonnet-4-20250514"
	}
	if c.BlobStoreTimeout <= 0 {
		c.BlobStoreTimeout = 15 * time.Second
	}
	if c.DefaultDiffThreshold <= 0 {
		c.DefaultDiffThreshold = 0.1
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "console"
	}
	if c.ActionCacheTTL <= 0 {
		c.ActionCacheTTL = 7 * 24 * time.Hour
	}
}
