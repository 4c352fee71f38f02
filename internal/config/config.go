// Package config loads and validates crawler configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. CRAWLER_CRAWLER_WORKERS=8.
const EnvPrefix = "CRAWLER"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Crawler CrawlerConfig `mapstructure:"crawler"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	Robots  RobotsConfig  `mapstructure:"robots"`
	Store   StoreConfig   `mapstructure:"store"`
	Export  ExportConfig  `mapstructure:"export"`
	PubSub  PubSubConfig  `mapstructure:"pubsub"`
	Logging LoggingConfig `mapstructure:"logging"`
	Index   IndexConfig   `mapstructure:"index"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// CrawlerConfig holds the per-crawl defaults.
type CrawlerConfig struct {
	MaxPages        int           `mapstructure:"max_pages"`
	Workers         int           `mapstructure:"workers"`
	SameDomainOnly  bool          `mapstructure:"same_domain_only"`
	UserAgent       string        `mapstructure:"user_agent"`
	PolitenessDelay time.Duration `mapstructure:"politeness_delay"`
	Jitter          bool          `mapstructure:"jitter"`
	RatePerHost     float64       `mapstructure:"rate_per_host"`
	RateBurst       int           `mapstructure:"rate_burst"`
	StopTimeout     time.Duration `mapstructure:"stop_timeout"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
}

// HTTPConfig configures the fetcher and its retry behavior.
type HTTPConfig struct {
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxBodyBytes   int           `mapstructure:"max_body_bytes"`
	MaxRetries     int           `mapstructure:"max_retries"`
	BackoffInitial time.Duration `mapstructure:"backoff_initial"`
	BackoffMax     time.Duration `mapstructure:"backoff_max"`
}

// RobotsConfig controls robots.txt handling.
type RobotsConfig struct {
	Respect bool          `mapstructure:"respect"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// Page store drivers.
const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

// StoreConfig selects and configures the page store.
type StoreConfig struct {
	Driver     string `mapstructure:"driver"`
	DSN        string `mapstructure:"dsn"`
	BatchSize  int    `mapstructure:"batch_size"`
	PagesTable string `mapstructure:"pages_table"`
	RunsTable  string `mapstructure:"runs_table"`
	MaxConns   int32  `mapstructure:"max_conns"`
}

// Snapshot export drivers.
const (
	ExportNone  = "none"
	ExportLocal = "local"
	ExportGCS   = "gcs"
)

// ExportConfig controls where crawl snapshots are written.
type ExportConfig struct {
	Driver string `mapstructure:"driver"`
	Dir    string `mapstructure:"dir"`
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
	AllEvents bool   `mapstructure:"all_events"`
}

// Enabled reports whether progress events should be published.
func (p PubSubConfig) Enabled() bool {
	return p.ProjectID != "" && p.TopicName != ""
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// IndexConfig sets search defaults.
type IndexConfig struct {
	MaxResults int    `mapstructure:"max_results"`
	Mode       string `mapstructure:"mode"`
}

// Load builds a Config from disk/environment. An empty path skips the file.
func Load(path string) (Config, error) {
	return LoadWith(viper.New(), path)
}

// LoadWith reads into v, which may already carry bound command-line flags.
func LoadWith(v *viper.Viper, path string) (Config, error) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)

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

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("auth.enabled", false)
	v.SetDefault("crawler.max_pages", 100)
	v.SetDefault("crawler.workers", 5)
	v.SetDefault("crawler.same_domain_only", true)
	v.SetDefault("crawler.user_agent", "sitecrawl/1.0 (+https://github.com/JakeFAU/sitecrawl)")
	v.SetDefault("crawler.politeness_delay", "0s")
	v.SetDefault("crawler.jitter", false)
	v.SetDefault("crawler.rate_per_host", 0)
	v.SetDefault("crawler.rate_burst", 1)
	v.SetDefault("crawler.stop_timeout", "5s")
	v.SetDefault("crawler.poll_interval", "250ms")
	v.SetDefault("http.timeout", "15s")
	v.SetDefault("http.max_body_bytes", 10<<20)
	v.SetDefault("http.max_retries", 2)
	v.SetDefault("http.backoff_initial", "250ms")
	v.SetDefault("http.backoff_max", "5s")
	v.SetDefault("robots.respect", true)
	v.SetDefault("robots.timeout", "8s")
	v.SetDefault("store.driver", StoreMemory)
	v.SetDefault("store.batch_size", 25)
	v.SetDefault("store.pages_table", "pages")
	v.SetDefault("store.runs_table", "crawl_runs")
	v.SetDefault("store.max_conns", 4)
	v.SetDefault("export.driver", ExportNone)
	v.SetDefault("export.dir", "data/snapshots")
	v.SetDefault("export.prefix", "snapshots")
	v.SetDefault("pubsub.all_events", false)
	v.SetDefault("logging.development", true)
	v.SetDefault("index.max_results", 500)
	v.SetDefault("index.mode", "auto")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 {
		errs = append(errs, errors.New("server.port must be > 0"))
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		errs = append(errs, errors.New("auth.api_key must be set when auth is enabled"))
	}
	if c.Crawler.Workers < 1 || c.Crawler.Workers > 50 {
		errs = append(errs, fmt.Errorf("crawler.workers must be between 1 and 50, got %d", c.Crawler.Workers))
	}
	if c.Crawler.MaxPages < 0 {
		errs = append(errs, errors.New("crawler.max_pages must be >= 0"))
	}
	if c.HTTP.Timeout <= 0 {
		errs = append(errs, errors.New("http.timeout must be > 0"))
	}
	switch c.Store.Driver {
	case StoreMemory:
	case StoreSQLite, StorePostgres:
		if c.Store.DSN == "" {
			errs = append(errs, fmt.Errorf("store.dsn must be set for driver %q", c.Store.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store.driver %q", c.Store.Driver))
	}
	if c.Store.BatchSize <= 0 {
		errs = append(errs, errors.New("store.batch_size must be > 0"))
	}
	switch c.Export.Driver {
	case ExportNone, "":
	case ExportLocal:
		if c.Export.Dir == "" {
			errs = append(errs, errors.New("export.dir must be set for local export"))
		}
	case ExportGCS:
		if c.Export.Bucket == "" {
			errs = append(errs, errors.New("export.bucket must be set for gcs export"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown export.driver %q", c.Export.Driver))
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.TopicName == "") {
		errs = append(errs, errors.New("pubsub.project_id and pubsub.topic_name must be set together"))
	}
	if c.Index.MaxResults <= 0 {
		errs = append(errs, errors.New("index.max_results must be > 0"))
	}
	switch c.Index.Mode {
	case "auto", "token", "phrase":
	default:
		errs = append(errs, fmt.Errorf("unknown index.mode %q", c.Index.Mode))
	}
	return errors.Join(errs...)
}
