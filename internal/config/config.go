// Package config loads and validates indexer configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	DB        DBConfig        `mapstructure:"db"`
	Forum     ForumConfig     `mapstructure:"forum"`
	Checker   CheckerConfig   `mapstructure:"checker"`
	Feed      FeedConfig      `mapstructure:"feed"`
	Crawl     CrawlConfig     `mapstructure:"crawl"`
	Freshness FreshnessConfig `mapstructure:"freshness"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// DBConfig controls access to the relational database. An empty DSN
// selects the in-memory store.
type DBConfig struct {
	DSN             string `mapstructure:"dsn"`
	MaxConns        int    `mapstructure:"max_conns"`
	MinConns        int    `mapstructure:"min_conns"`
	ConnLifetimeMin int    `mapstructure:"conn_lifetime_minutes"`
}

// ForumConfig points at the forum listing endpoint.
type ForumConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	Username       string `mapstructure:"username"`
	Password       string `mapstructure:"password"`
	UserAgent      string `mapstructure:"user_agent"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// CheckerConfig points at the fast-check/detail API.
type CheckerConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	UserAgent      string `mapstructure:"user_agent"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	DailyLimit     int    `mapstructure:"daily_limit"`
}

// FeedConfig points at the RSS discovery feed.
type FeedConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	UserAgent      string `mapstructure:"user_agent"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// CrawlConfig governs the crawl orchestrator's pacing and batching.
type CrawlConfig struct {
	StatePath           string `mapstructure:"state_path"`
	PageSize            int    `mapstructure:"page_size"`
	PageDelaySeconds    int    `mapstructure:"page_delay_seconds"`
	PageRetrySeconds    int    `mapstructure:"page_retry_seconds"`
	BatchSize           int    `mapstructure:"batch_size"`
	DetailDelaySeconds  int    `mapstructure:"detail_delay_seconds"`
	BatchDelaySeconds   int    `mapstructure:"batch_delay_seconds"`
	BatchOverheadSecond int    `mapstructure:"batch_overhead_seconds"`
}

// FreshnessConfig sets the staleness window for read-path refresh.
type FreshnessConfig struct {
	WindowHours int `mapstructure:"window_hours"`
}

// SchedulerConfig controls the periodic incremental crawl trigger.
type SchedulerConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Interval string `mapstructure:"interval"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("AVNIDX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("db.conn_lifetime_minutes", 30)
	v.SetDefault("forum.user_agent", "avn-indexer/1.0")
	v.SetDefault("forum.timeout_seconds", 30)
	v.SetDefault("checker.user_agent", "avn-indexer/1.0")
	v.SetDefault("checker.timeout_seconds", 30)
	v.SetDefault("checker.daily_limit", 1000)
	v.SetDefault("feed.user_agent", "avn-indexer/1.0")
	v.SetDefault("feed.timeout_seconds", 30)
	v.SetDefault("crawl.state_path", "data/crawl_state.json")
	v.SetDefault("crawl.page_size", 60)
	v.SetDefault("crawl.page_delay_seconds", 30)
	v.SetDefault("crawl.page_retry_seconds", 60)
	v.SetDefault("crawl.batch_size", 10)
	v.SetDefault("crawl.detail_delay_seconds", 2)
	v.SetDefault("crawl.batch_delay_seconds", 60)
	v.SetDefault("crawl.batch_overhead_seconds", 5)
	v.SetDefault("freshness.window_hours", 168)
	v.SetDefault("scheduler.enabled", false)
	v.SetDefault("scheduler.interval", "6h")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Forum.BaseURL == "" {
		return fmt.Errorf("forum.base_url must be set")
	}
	if c.Checker.BaseURL == "" {
		return fmt.Errorf("checker.base_url must be set")
	}
	if c.Crawl.PageSize <= 0 {
		return fmt.Errorf("crawl.page_size must be > 0")
	}
	if c.Crawl.BatchSize <= 0 {
		return fmt.Errorf("crawl.batch_size must be > 0")
	}
	if c.Freshness.WindowHours <= 0 {
		return fmt.Errorf("freshness.window_hours must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Scheduler.Enabled {
		if _, err := time.ParseDuration(c.Scheduler.Interval); err != nil {
			return fmt.Errorf("scheduler.interval must be a duration: %w", err)
		}
	}
	return nil
}

// CrawlSettings converts second-valued crawl knobs into durations.
func (c Config) CrawlSettings() (pageDelay, pageRetry, detailDelay, batchDelay, batchOverhead time.Duration) {
	return time.Duration(c.Crawl.PageDelaySeconds) * time.Second,
		time.Duration(c.Crawl.PageRetrySeconds) * time.Second,
		time.Duration(c.Crawl.DetailDelaySeconds) * time.Second,
		time.Duration(c.Crawl.BatchDelaySeconds) * time.Second,
		time.Duration(c.Crawl.BatchOverheadSecond) * time.Second
}

// FreshnessWindow returns the staleness window as a duration.
func (c Config) FreshnessWindow() time.Duration {
	return time.Duration(c.Freshness.WindowHours) * time.Hour
}
