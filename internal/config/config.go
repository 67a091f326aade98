package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so intervals can be written as "1h" or
// "30s" in the YAML file.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// AssetConfig describes one tradable asset. Immutable per run; changing it
// requires restarting that asset's scheduler.
type AssetConfig struct {
	ID                  string   `yaml:"id"`
	Name                string   `yaml:"name"`
	Pair                string   `yaml:"pair"`
	Interval            Duration `yaml:"interval"`
	MaxPositionFraction float64  `yaml:"max_position_fraction"`
	MinNotional         float64  `yaml:"min_notional"`
	Enabled             bool     `yaml:"enabled"`
}

// Validate reports fatal configuration errors for a single asset. Invalid
// assets are surfaced once at startup and never admitted into the
// orchestrator's active set.
func (a AssetConfig) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("asset id is required")
	}
	if a.Pair == "" {
		return fmt.Errorf("asset %s: trading pair is required", a.ID)
	}
	if a.Interval.Std() <= 0 {
		return fmt.Errorf("asset %s: interval must be positive", a.ID)
	}
	if a.MaxPositionFraction <= 0 || a.MaxPositionFraction > 1 {
		return fmt.Errorf("asset %s: max_position_fraction must be in (0,1]", a.ID)
	}
	if a.MinNotional < 0 {
		return fmt.Errorf("asset %s: min_notional must not be negative", a.ID)
	}
	return nil
}

// RetryConfig governs per-step retry behavior inside one cycle.
type RetryConfig struct {
	MaxAttempts int      `yaml:"max_attempts"`
	BackoffBase Duration `yaml:"backoff_base"`
	BackoffCap  Duration `yaml:"backoff_cap"`
	StepTimeout Duration `yaml:"step_timeout"`
}

// StalenessConfig governs the independent staleness monitor.
type StalenessConfig struct {
	CheckInterval    Duration `yaml:"check_interval"`
	AgingAfter       Duration `yaml:"aging_after"`
	StaleAfter       Duration `yaml:"stale_after"`
	AlertSuppression Duration `yaml:"alert_suppression"`
}

// ExchangeConfig configures the exchange REST client.
type ExchangeConfig struct {
	BaseURL       string  `yaml:"base_url"`
	WebsocketURL  string  `yaml:"websocket_url"`
	RatePerSecond float64 `yaml:"rate_per_second"`
	Burst         int     `yaml:"burst"`
	// FeeBuffer shaves the quote amount on buys so the order plus fee never
	// exceeds the available balance.
	FeeBuffer   float64  `yaml:"fee_buffer"`
	FillTimeout Duration `yaml:"fill_timeout"`
}

// DecisionConfig configures the decision service client.
type DecisionConfig struct {
	BaseURL   string   `yaml:"base_url"`
	Model     string   `yaml:"model"`
	APIKeyEnv string   `yaml:"api_key_env"`
	Timeout   Duration `yaml:"timeout"`
}

// NewsConfig configures the optional headline source feeding snapshot
// context. News is best-effort: any failure here only means a snapshot
// without context.
type NewsConfig struct {
	BaseURL       string   `yaml:"base_url"`
	APIKeyEnv     string   `yaml:"api_key_env"`
	FetchInterval Duration `yaml:"fetch_interval"`
	MaxArticles   int      `yaml:"max_articles"`
}

// NotifierConfig configures the best-effort notification channel.
type NotifierConfig struct {
	WebhookURL string `yaml:"webhook_url"`
	QueueSize  int    `yaml:"queue_size"`
}

// StoreConfig configures the durable state store.
type StoreConfig struct {
	DSN          string   `yaml:"dsn"`
	QueryTimeout Duration `yaml:"query_timeout"`
}

// RedisConfig configures the cache used by the news fetcher.
type RedisConfig struct {
	Addr string `yaml:"addr"`
	DB   int    `yaml:"db"`
}

// HTTPConfig configures the read-only dashboard API server.
type HTTPConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Config is the full startup configuration. It is read once; the core does
// not reload it at runtime.
type Config struct {
	Assets    []AssetConfig   `yaml:"assets"`
	Retry     RetryConfig     `yaml:"retry"`
	Staleness StalenessConfig `yaml:"staleness"`
	Exchange  ExchangeConfig  `yaml:"exchange"`
	Decision  DecisionConfig  `yaml:"decision"`
	News      NewsConfig      `yaml:"news"`
	Notifier  NotifierConfig  `yaml:"notifier"`
	Store     StoreConfig     `yaml:"store"`
	Redis     RedisConfig     `yaml:"redis"`
	HTTP      HTTPConfig      `yaml:"http"`
	LogLevel  string          `yaml:"log_level"`
}

// Load reads and parses the YAML config file, applying defaults for
// anything left unset.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults()

	if len(cfg.Assets) == 0 {
		return nil, fmt.Errorf("no assets configured")
	}
	seen := make(map[string]bool, len(cfg.Assets))
	for _, a := range cfg.Assets {
		if seen[a.ID] {
			return nil, fmt.Errorf("duplicate asset id %q", a.ID)
		}
		seen[a.ID] = true
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = 3
	}
	if c.Retry.BackoffBase == 0 {
		c.Retry.BackoffBase = Duration(2 * time.Second)
	}
	if c.Retry.BackoffCap == 0 {
		c.Retry.BackoffCap = Duration(30 * time.Second)
	}
	if c.Retry.StepTimeout == 0 {
		c.Retry.StepTimeout = Duration(60 * time.Second)
	}

	if c.Staleness.CheckInterval == 0 {
		c.Staleness.CheckInterval = Duration(10 * time.Minute)
	}
	if c.Staleness.AgingAfter == 0 {
		c.Staleness.AgingAfter = Duration(2 * time.Hour)
	}
	if c.Staleness.StaleAfter == 0 {
		c.Staleness.StaleAfter = Duration(5 * time.Hour)
	}
	if c.Staleness.AlertSuppression == 0 {
		c.Staleness.AlertSuppression = Duration(24 * time.Hour)
	}

	if c.Exchange.RatePerSecond == 0 {
		c.Exchange.RatePerSecond = 5
	}
	if c.Exchange.Burst == 0 {
		c.Exchange.Burst = 10
	}
	if c.Exchange.FeeBuffer == 0 {
		c.Exchange.FeeBuffer = 0.9995
	}
	if c.Exchange.FillTimeout == 0 {
		c.Exchange.FillTimeout = Duration(30 * time.Second)
	}

	if c.Decision.Timeout == 0 {
		c.Decision.Timeout = Duration(90 * time.Second)
	}
	if c.Decision.Model == "" {
		c.Decision.Model = "gpt-4.1"
	}
	if c.Decision.APIKeyEnv == "" {
		c.Decision.APIKeyEnv = "DECISION_API_KEY"
	}

	if c.News.FetchInterval == 0 {
		c.News.FetchInterval = Duration(time.Hour)
	}
	if c.News.MaxArticles == 0 {
		c.News.MaxArticles = 4
	}
	if c.News.APIKeyEnv == "" {
		c.News.APIKeyEnv = "NEWS_API_KEY"
	}

	if c.Notifier.QueueSize == 0 {
		c.Notifier.QueueSize = 64
	}

	if c.Store.QueryTimeout == 0 {
		c.Store.QueryTimeout = Duration(10 * time.Second)
	}

	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}

	if c.HTTP.Host == "" {
		c.HTTP.Host = "127.0.0.1"
	}
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 8080
	}

	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}
