package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App       AppConfig               `mapstructure:"app"`
	Server    ServerConfig            `mapstructure:"server"`
	Log       LogConfig               `mapstructure:"log"`
	DB        DBConfig                `mapstructure:"db"`
	Cron      CronConfig              `mapstructure:"cron"`
	Matcher   MatcherConfig           `mapstructure:"matcher"`
	Ingest    IngestConfig            `mapstructure:"ingest"`
	Source    map[string]SourceConfig `mapstructure:"source"`
	Fees      FeesConfig              `mapstructure:"fees"`
	Detector  DetectorConfig          `mapstructure:"detector"`
	Scoring   ScoringConfig           `mapstructure:"scoring"`
	Scheduler SchedulerConfig         `mapstructure:"scheduler"`
	Webhook   WebhookConfig           `mapstructure:"webhook"`
	Retention RetentionConfig         `mapstructure:"retention"`
}

type AppConfig struct {
	Env string `mapstructure:"env"`
}

type ServerConfig struct {
	HTTPAddr    string `mapstructure:"http_addr"`
	IngestToken string `mapstructure:"ingest_token"`
}

type LogConfig struct {
	Level             string `mapstructure:"level"`
	Encoding          string `mapstructure:"encoding"`
	Development       bool   `mapstructure:"development"`
	Sampling          bool   `mapstructure:"sampling"`
	DisableCaller     bool   `mapstructure:"disable_caller"`
	DisableStacktrace bool   `mapstructure:"disable_stacktrace"`
}

type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	Timezone        string        `mapstructure:"timezone"`

	// OutageShutdown is how long a storage outage may persist before the
	// process shuts itself down.
	OutageShutdown time.Duration `mapstructure:"outage_shutdown"`
}

type CronConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	RetentionSweep string `mapstructure:"retention_sweep"`
	HealthSnapshot string `mapstructure:"health_snapshot"`
}

type MatcherConfig struct {
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
}

type IngestConfig struct {
	Enabled    bool `mapstructure:"enabled"`
	PushBuffer int  `mapstructure:"push_buffer"`
}

// SourceConfig describes one upstream price feed. The map key under
// `source.` is the source name used on PriceRecords (stockx, awin, ...).
type SourceConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Kind          string        `mapstructure:"kind"`
	Mode          string        `mapstructure:"mode"`
	BaseURL       string        `mapstructure:"base_url"`
	StreamURL     string        `mapstructure:"stream_url"`
	APIKeyEnv     string        `mapstructure:"api_key_env"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	PageLimit     int           `mapstructure:"page_limit"`
	RatePerSecond float64       `mapstructure:"rate_per_second"`
	Burst         int           `mapstructure:"burst"`
	Reliability   float64       `mapstructure:"reliability"`
	Currency      string        `mapstructure:"currency"`
	Marketplace   string        `mapstructure:"marketplace"`
}

type FeesConfig struct {
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

type DetectorConfig struct {
	DefaultLimit     int `mapstructure:"default_limit"`
	FullSweepMinutes int `mapstructure:"full_sweep_minutes"`
}

type ScoringConfig struct {
	DemandLookbackDays int                  `mapstructure:"demand_lookback_days"`
	CacheTTLSeconds    int                  `mapstructure:"cache_ttl_seconds"`
	Seasonality        map[string][]float64 `mapstructure:"seasonality"`
}

type SchedulerConfig struct {
	Enabled             bool          `mapstructure:"enabled"`
	TickIntervalSeconds int           `mapstructure:"tick_interval_seconds"`
	WorkerPoolSize      int           `mapstructure:"worker_pool_size"`
	QueueCapacity       int           `mapstructure:"queue_capacity"`
	TickDeadlineFactor  int           `mapstructure:"tick_deadline_factor"`
	DrainTimeout        time.Duration `mapstructure:"drain_timeout"`
}

type WebhookConfig struct {
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds"`
	MaxRetries            int `mapstructure:"max_retries"`
}

type RetentionConfig struct {
	HistoryDays    int `mapstructure:"history_days"`
	DeliveriesDays int `mapstructure:"deliveries_days"`
}

func Load(path string, envOnly bool) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SOLE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetDefault("app.env", "dev")
	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("server.ingest_token", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "console")
	v.SetDefault("log.development", true)
	v.SetDefault("log.sampling", false)
	v.SetDefault("log.disable_caller", false)
	v.SetDefault("log.disable_stacktrace", false)
	v.SetDefault("db.max_open_conns", 20)
	v.SetDefault("db.max_idle_conns", 5)
	v.SetDefault("db.conn_max_lifetime", "30m")
	v.SetDefault("db.conn_max_idle_time", "5m")
	v.SetDefault("db.timezone", "UTC")
	v.SetDefault("db.outage_shutdown", "5m")
	v.SetDefault("cron.enabled", true)
	v.SetDefault("cron.retention_sweep", "0 0 4 * * *")
	v.SetDefault("cron.health_snapshot", "@every 5m")
	v.SetDefault("matcher.refresh_interval", "5m")
	v.SetDefault("ingest.enabled", true)
	v.SetDefault("ingest.push_buffer", 1024)
	v.SetDefault("fees.cache_ttl", "5m")
	v.SetDefault("detector.default_limit", 100)
	v.SetDefault("detector.full_sweep_minutes", 15)
	v.SetDefault("scoring.demand_lookback_days", 90)
	v.SetDefault("scoring.cache_ttl_seconds", 900)
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.tick_interval_seconds", 60)
	v.SetDefault("scheduler.worker_pool_size", 8)
	v.SetDefault("scheduler.queue_capacity", 1024)
	v.SetDefault("scheduler.tick_deadline_factor", 5)
	v.SetDefault("scheduler.drain_timeout", "30s")
	v.SetDefault("webhook.request_timeout_seconds", 10)
	v.SetDefault("webhook.max_retries", 3)
	v.SetDefault("retention.history_days", 180)
	v.SetDefault("retention.deliveries_days", 90)

	// Known sources, disabled until a deployment turns them on. Reliability
	// is a deploy-time table (see DESIGN.md); these are the documented values.
	for name, d := range defaultSources {
		p := "source." + name + "."
		v.SetDefault(p+"enabled", false)
		v.SetDefault(p+"kind", d.kind)
		v.SetDefault(p+"mode", d.mode)
		v.SetDefault(p+"poll_interval", "5m")
		v.SetDefault(p+"page_limit", 200)
		v.SetDefault(p+"rate_per_second", 2.0)
		v.SetDefault(p+"burst", 5)
		v.SetDefault(p+"reliability", d.reliability)
		v.SetDefault(p+"currency", "EUR")
		v.SetDefault(p+"marketplace", d.marketplace)
	}

	if !envOnly {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

type sourceDefaults struct {
	kind        string
	mode        string
	reliability float64
	marketplace string
}

var defaultSources = map[string]sourceDefaults{
	"stockx":   {kind: "resale", mode: "pull", reliability: 95, marketplace: "stockx"},
	"goat":     {kind: "resale", mode: "pull", reliability: 90, marketplace: "goat"},
	"klekt":    {kind: "resale", mode: "pull", reliability: 80, marketplace: "klekt"},
	"restocks": {kind: "resale", mode: "push", reliability: 75, marketplace: "restocks"},
	"awin":     {kind: "retail", mode: "pull", reliability: 85},
	"webgains": {kind: "retail", mode: "pull", reliability: 80},
	"ebay":     {kind: "auction", mode: "pull", reliability: 70, marketplace: "ebay"},
}

// SourceKinds every price record must carry one of.
var SourceKinds = map[string]bool{
	"retail":    true,
	"resale":    true,
	"auction":   true,
	"wholesale": true,
}

// Validate rejects values the pipeline cannot run with. It is called once at
// startup; per-alert validation happens in the scheduler.
func (c Config) Validate() error {
	if c.DB.OutageShutdown <= 0 {
		return fmt.Errorf("db.outage_shutdown must be positive, got %v", c.DB.OutageShutdown)
	}
	if c.Scheduler.TickIntervalSeconds < 1 {
		return fmt.Errorf("scheduler.tick_interval_seconds must be >= 1, got %d", c.Scheduler.TickIntervalSeconds)
	}
	if c.Scheduler.WorkerPoolSize < 1 {
		return fmt.Errorf("scheduler.worker_pool_size must be >= 1, got %d", c.Scheduler.WorkerPoolSize)
	}
	if c.Scheduler.QueueCapacity < 1 {
		return fmt.Errorf("scheduler.queue_capacity must be >= 1, got %d", c.Scheduler.QueueCapacity)
	}
	if c.Webhook.RequestTimeoutSeconds < 1 {
		return fmt.Errorf("webhook.request_timeout_seconds must be >= 1, got %d", c.Webhook.RequestTimeoutSeconds)
	}
	if c.Webhook.MaxRetries < 0 {
		return fmt.Errorf("webhook.max_retries must be >= 0, got %d", c.Webhook.MaxRetries)
	}
	if c.Scoring.DemandLookbackDays < 1 {
		return fmt.Errorf("scoring.demand_lookback_days must be >= 1, got %d", c.Scoring.DemandLookbackDays)
	}
	if c.Scoring.CacheTTLSeconds < 0 {
		return fmt.Errorf("scoring.cache_ttl_seconds must be >= 0, got %d", c.Scoring.CacheTTLSeconds)
	}
	for name, src := range c.Source {
		if !SourceKinds[src.Kind] {
			return fmt.Errorf("source.%s.kind %q is not one of retail|resale|auction|wholesale", name, src.Kind)
		}
		if src.Enabled && src.RatePerSecond <= 0 {
			return fmt.Errorf("source.%s.rate_per_second must be > 0, got %v", name, src.RatePerSecond)
		}
		if src.Enabled && src.Burst < 1 {
			return fmt.Errorf("source.%s.burst must be >= 1, got %d", name, src.Burst)
		}
		if src.Reliability < 0 || src.Reliability > 100 {
			return fmt.Errorf("source.%s.reliability must be in [0,100], got %v", name, src.Reliability)
		}
	}
	for cat, table := range c.Scoring.Seasonality {
		if len(table) != 12 {
			return fmt.Errorf("scoring.seasonality.%s must have 12 entries, got %d", cat, len(table))
		}
	}
	return nil
}
