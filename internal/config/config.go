package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete application configuration
type Config struct {
	Upstream   UpstreamConfig   `mapstructure:"upstream"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Aggregator AggregatorConfig `mapstructure:"aggregator"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Surfaces   []SurfaceConfig  `mapstructure:"surfaces"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Server     ServerConfig     `mapstructure:"server"`
	Telegram   TelegramConfig   `mapstructure:"telegram"`
	Advisor    AdvisorConfig    `mapstructure:"advisor"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// UpstreamConfig holds provider endpoints and HTTP client tuning
type UpstreamConfig struct {
	Timeout             time.Duration `mapstructure:"timeout"`
	MaxRetries          int           `mapstructure:"max_retries"`
	RetryDelayBase      time.Duration `mapstructure:"retry_delay_base"`
	RequestsPerMinute   int           `mapstructure:"requests_per_minute"`
	Burst               int           `mapstructure:"burst"`
	UserAgent           string        `mapstructure:"user_agent"`
	MaxIdleConns        int           `mapstructure:"max_idle_conns"`
	MaxIdleConnsPerHost int           `mapstructure:"max_idle_conns_per_host"`
	IdleConnTimeout     time.Duration `mapstructure:"idle_conn_timeout"`

	CoinGecko     CoinGeckoConfig     `mapstructure:"coingecko"`
	CryptoCompare CryptoCompareConfig `mapstructure:"cryptocompare"`
	// Feeds are RSS/Atom URLs used for news when CryptoCompare is disabled.
	Feeds []string `mapstructure:"feeds"`
}

// CoinGeckoConfig holds CoinGecko API configuration
type CoinGeckoConfig struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
	// CoinIDs maps ticker symbols to CoinGecko coin ids, extending the built-in set.
	CoinIDs map[string]string `mapstructure:"coin_ids"`
}

// CryptoCompareConfig holds CryptoCompare news API configuration
type CryptoCompareConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
}

// CacheConfig holds per-view freshness windows and eviction settings
type CacheConfig struct {
	PriceTTL      time.Duration `mapstructure:"price_ttl"`
	TrendingTTL   time.Duration `mapstructure:"trending_ttl"`
	VolumeTTL     time.Duration `mapstructure:"volume_ttl"`
	DominanceTTL  time.Duration `mapstructure:"dominance_ttl"`
	NewsTTL       time.Duration `mapstructure:"news_ttl"`
	IdleWindow    time.Duration `mapstructure:"idle_window"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// AggregatorConfig holds view shaping limits
type AggregatorConfig struct {
	TrendingLimit int `mapstructure:"trending_limit"`
	DominanceTop  int `mapstructure:"dominance_top"`
}

// SchedulerConfig holds defaults for display surface polling
type SchedulerConfig struct {
	DefaultInterval time.Duration `mapstructure:"default_interval"`
	MaxBackoff      time.Duration `mapstructure:"max_backoff"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

// Surface kinds.
const (
	SurfacePrice     = "price"
	SurfaceTrending  = "trending"
	SurfaceVolume    = "volume"
	SurfaceDominance = "dominance"
	SurfaceNews      = "news"

	SurfacePopularTags     = "popular_tags"
	SurfaceTopContributors = "top_contributors"
	SurfaceTrendingIdeas   = "trending_ideas"
)

// SurfaceConfig declares one display surface
type SurfaceConfig struct {
	Name string `mapstructure:"name"`
	Kind string `mapstructure:"kind"`
	// Param is the symbol for price surfaces, the asset for volume surfaces
	// and an optional tag filter for trending_ideas surfaces.
	Param      string        `mapstructure:"param"`
	Categories []string      `mapstructure:"categories"`
	Interval   time.Duration `mapstructure:"interval"`
}

// StorageConfig holds storage and persistence configuration
type StorageConfig struct {
	DBPath string `mapstructure:"db_path"`
	// VerifyInterval is how often denormalized counters are checked; zero disables it.
	VerifyInterval time.Duration `mapstructure:"verify_interval"`
	RepairDrift    bool          `mapstructure:"repair_drift"`
}

// ServerConfig holds HTTP API configuration
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	Mode            string        `mapstructure:"mode"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	Enabled        bool          `mapstructure:"enabled"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
}

// AdvisorConfig holds advisory text generation configuration
type AdvisorConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	BaseURL           string        `mapstructure:"base_url"`
	APIKey            string        `mapstructure:"api_key"`
	Model             string        `mapstructure:"model"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute"`
	MaxHeadlines      int           `mapstructure:"max_headlines"`
	MaxTokens         int           `mapstructure:"max_tokens"`
	Temperature       float32       `mapstructure:"temperature"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)
	setDefaults(v)

	// COINPULSE_TELEGRAM_BOT_TOKEN overrides telegram.bot_token, and so on.
	v.SetEnvPrefix("COINPULSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	// Upstream defaults
	v.SetDefault("upstream.timeout", "10s")
	v.SetDefault("upstream.max_retries", 3)
	v.SetDefault("upstream.retry_delay_base", "1s")
	v.SetDefault("upstream.requests_per_minute", 30)
	v.SetDefault("upstream.burst", 5)
	v.SetDefault("upstream.user_agent", "coinpulse/1.0")
	v.SetDefault("upstream.max_idle_conns", 100)
	v.SetDefault("upstream.max_idle_conns_per_host", 10)
	v.SetDefault("upstream.idle_conn_timeout", "90s")
	v.SetDefault("upstream.coingecko.base_url", "https://api.coingecko.com/api/v3")
	v.SetDefault("upstream.coingecko.api_key", "")
	v.SetDefault("upstream.cryptocompare.enabled", true)
	v.SetDefault("upstream.cryptocompare.base_url", "https://min-api.cryptocompare.com")
	v.SetDefault("upstream.cryptocompare.api_key", "")

	// Cache defaults
	v.SetDefault("cache.price_ttl", "30s")
	v.SetDefault("cache.trending_ttl", "5m")
	v.SetDefault("cache.volume_ttl", "2m")
	v.SetDefault("cache.dominance_ttl", "5m")
	v.SetDefault("cache.news_ttl", "15m")
	v.SetDefault("cache.idle_window", "30m")
	v.SetDefault("cache.sweep_interval", "5m")

	// Aggregator defaults
	v.SetDefault("aggregator.trending_limit", 7)
	v.SetDefault("aggregator.dominance_top", 5)

	// Scheduler defaults
	v.SetDefault("scheduler.default_interval", "30s")
	v.SetDefault("scheduler.max_backoff", "5m")
	v.SetDefault("scheduler.timeout", "15s")

	// Storage defaults
	v.SetDefault("storage.db_path", "./data/coinpulse.db")
	v.SetDefault("storage.verify_interval", "1h")
	v.SetDefault("storage.repair_drift", true)

	// Server defaults
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "10s")

	// Telegram defaults
	// Secrets are usually supplied via env, which viper only binds for known keys.
	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.chat_id", "")
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "1s")

	// Advisor defaults
	v.SetDefault("advisor.enabled", false)
	v.SetDefault("advisor.base_url", "https://api.openai.com/v1")
	v.SetDefault("advisor.api_key", "")
	v.SetDefault("advisor.model", "gpt-4o-mini")
	v.SetDefault("advisor.timeout", "30s")
	v.SetDefault("advisor.requests_per_minute", 10)
	v.SetDefault("advisor.max_headlines", 5)
	v.SetDefault("advisor.max_tokens", 200)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	// Validate Upstream config
	if c.Upstream.CoinGecko.BaseURL == "" {
		return fmt.Errorf("upstream.coingecko.base_url is required")
	}
	if c.Upstream.Timeout < 100*time.Millisecond {
		return fmt.Errorf("upstream.timeout must be at least 100ms")
	}
	if c.Upstream.MaxRetries < 1 {
		return fmt.Errorf("upstream.max_retries must be at least 1")
	}
	if c.Upstream.RequestsPerMinute < 0 {
		return fmt.Errorf("upstream.requests_per_minute must not be negative")
	}
	if c.Upstream.CryptoCompare.Enabled && c.Upstream.CryptoCompare.BaseURL == "" {
		return fmt.Errorf("upstream.cryptocompare.base_url is required when cryptocompare is enabled")
	}

	// Validate Cache config
	ttls := []struct {
		key string
		ttl time.Duration
	}{
		{"cache.price_ttl", c.Cache.PriceTTL},
		{"cache.trending_ttl", c.Cache.TrendingTTL},
		{"cache.volume_ttl", c.Cache.VolumeTTL},
		{"cache.dominance_ttl", c.Cache.DominanceTTL},
		{"cache.news_ttl", c.Cache.NewsTTL},
	}
	for _, t := range ttls {
		if t.ttl < time.Second {
			return fmt.Errorf("%s must be at least 1 second", t.key)
		}
	}
	if c.Cache.IdleWindow < c.Cache.NewsTTL {
		return fmt.Errorf("cache.idle_window must be at least cache.news_ttl")
	}
	if c.Cache.SweepInterval <= 0 {
		return fmt.Errorf("cache.sweep_interval must be positive")
	}

	// Validate Aggregator config
	if c.Aggregator.TrendingLimit < 1 {
		return fmt.Errorf("aggregator.trending_limit must be at least 1")
	}
	if c.Aggregator.DominanceTop < 1 {
		return fmt.Errorf("aggregator.dominance_top must be at least 1")
	}

	// Validate Scheduler config
	if c.Scheduler.DefaultInterval < time.Second {
		return fmt.Errorf("scheduler.default_interval must be at least 1 second")
	}
	if c.Scheduler.MaxBackoff < c.Scheduler.DefaultInterval {
		return fmt.Errorf("scheduler.max_backoff must be at least scheduler.default_interval")
	}

	// Validate Surfaces
	seen := make(map[string]bool, len(c.Surfaces))
	for i, s := range c.Surfaces {
		if s.Name == "" {
			return fmt.Errorf("surfaces[%d].name is required", i)
		}
		if seen[s.Name] {
			return fmt.Errorf("surfaces[%d].name %q is duplicated", i, s.Name)
		}
		seen[s.Name] = true
		switch s.Kind {
		case SurfacePrice, SurfaceVolume:
			if s.Param == "" {
				return fmt.Errorf("surfaces[%d].param is required for %s surfaces", i, s.Kind)
			}
		case SurfaceTrending, SurfaceDominance, SurfaceNews,
			SurfacePopularTags, SurfaceTopContributors, SurfaceTrendingIdeas:
		default:
			return fmt.Errorf("surfaces[%d].kind %q is not one of price, trending, volume, dominance, news, popular_tags, top_contributors, trending_ideas", i, s.Kind)
		}
		if s.Interval != 0 && s.Interval < time.Second {
			return fmt.Errorf("surfaces[%d].interval must be at least 1 second", i)
		}
	}

	// Validate Storage config
	if c.Storage.DBPath == "" {
		return fmt.Errorf("storage.db_path is required")
	}
	if c.Storage.VerifyInterval < 0 {
		return fmt.Errorf("storage.verify_interval must not be negative")
	}

	// Validate Server config
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	switch c.Server.Mode {
	case "debug", "release", "test":
	default:
		return fmt.Errorf("server.mode must be one of debug, release, test")
	}

	// Validate Telegram config
	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}

	// Validate Advisor config
	if c.Advisor.Enabled {
		if c.Advisor.Model == "" {
			return fmt.Errorf("advisor.model is required when advisor is enabled")
		}
		if c.Advisor.APIKey == "" {
			return fmt.Errorf("advisor.api_key is required when advisor is enabled")
		}
	}

	// Validate Logging config
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}

// SurfaceInterval returns the surface's interval, or the scheduler default.
func (c *Config) SurfaceInterval(s SurfaceConfig) time.Duration {
	if s.Interval > 0 {
		return s.Interval
	}
	return c.Scheduler.DefaultInterval
}
