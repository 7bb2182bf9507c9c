// Package config loads and validates harvester configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Auth         AuthConfig         `mapstructure:"auth"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Crawler      CrawlerConfig      `mapstructure:"crawler"`
	HTTP         HTTPConfig         `mapstructure:"http"`
	Browser      BrowserConfig      `mapstructure:"browser"`
	Directory    DirectoryConfig    `mapstructure:"directory"`
	Storage      StorageConfig      `mapstructure:"storage"`
	DB           DBConfig           `mapstructure:"db"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Artifacts    ArtifactsConfig    `mapstructure:"artifacts"`
	Events       EventsConfig       `mapstructure:"events"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                      int `mapstructure:"port"`
	RequestTimeoutSeconds     int `mapstructure:"request_timeout_seconds"`
	LongRequestTimeoutSeconds int `mapstructure:"long_request_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// OrchestratorConfig sizes the worker pool.
type OrchestratorConfig struct {
	Concurrency      int `mapstructure:"concurrency"`
	QueueDepth       int `mapstructure:"queue_depth"`
	EnqueueTimeoutMs int `mapstructure:"enqueue_timeout_ms"`
}

// CrawlerConfig governs email crawls.
type CrawlerConfig struct {
	UserAgent        string  `mapstructure:"user_agent"`
	MaxPagesDefault  int     `mapstructure:"max_pages_default"`
	BackfillMaxPages int     `mapstructure:"backfill_max_pages"`
	SitemapMaxDepth  int     `mapstructure:"sitemap_max_depth"`
	SitemapFanout    int     `mapstructure:"sitemap_fanout"`
	PagesPerSecond   float64 `mapstructure:"pages_per_second"`
	RespectRobots    bool    `mapstructure:"respect_robots"`
}

// HTTPConfig configures outbound HTTP clients.
type HTTPConfig struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// BrowserConfig configures the page rendering driver.
type BrowserConfig struct {
	// Driver is chromedp or http.
	Driver            string `mapstructure:"driver"`
	HeadlessDefault   bool   `mapstructure:"headless_default"`
	MaxParallel       int    `mapstructure:"max_parallel"`
	NavTimeoutSeconds int    `mapstructure:"nav_timeout_seconds"`
	TorProxy          string `mapstructure:"tor_proxy"`
	ExecPath          string `mapstructure:"exec_path"`
}

// DirectoryConfig configures the Places client.
type DirectoryConfig struct {
	APIKey           string  `mapstructure:"api_key"`
	PlacesBaseURL    string  `mapstructure:"places_base_url"`
	PlacesNewBaseURL string  `mapstructure:"places_new_base_url"`
	GeocoderBaseURL  string  `mapstructure:"geocoder_base_url"`
	PageDelayMs      int     `mapstructure:"page_delay_ms"`
	DetailsRPS       float64 `mapstructure:"details_rps"`
	RadiusDefault    int     `mapstructure:"radius_default"`
	PlaceTypeDefault string  `mapstructure:"place_type_default"`
	MaxPlacesDefault int     `mapstructure:"max_places_default"`
}

// StorageConfig selects the job and lead store.
type StorageConfig struct {
	// Driver is memory, sqlite or postgres.
	Driver     string `mapstructure:"driver"`
	SQLitePath string `mapstructure:"sqlite_path"`
}

// DBConfig controls access to Postgres.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int    `mapstructure:"max_conns"`
}

// RedisConfig configures the stop flag mirror.
type RedisConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Addr       string `mapstructure:"addr"`
	Prefix     string `mapstructure:"prefix"`
	TTLSeconds int    `mapstructure:"ttl_seconds"`
}

// ArtifactsConfig selects where job results are written.
type ArtifactsConfig struct {
	// Driver is none, memory, local or gcs.
	Driver    string `mapstructure:"driver"`
	BaseDir   string `mapstructure:"base_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// EventsConfig selects the broker for job and lead events.
type EventsConfig struct {
	// Driver is none, memory, kafka or pubsub.
	Driver    string   `mapstructure:"driver"`
	Brokers   []string `mapstructure:"brokers"`
	Topic     string   `mapstructure:"topic"`
	ProjectID string   `mapstructure:"project_id"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// LoadDotEnv loads KEY=VALUE files into the process environment without
// overriding variables that are already set. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("directory.api_key", "CRAWLER_DIRECTORY_API_KEY", "GOOGLE_API_KEY"); err != nil {
		return Config{}, fmt.Errorf("bind directory.api_key: %w", err)
	}

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
	v.SetDefault("server.request_timeout_seconds", 60)
	v.SetDefault("server.long_request_timeout_seconds", 900)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("orchestrator.concurrency", 4)
	v.SetDefault("orchestrator.queue_depth", 64)
	v.SetDefault("orchestrator.enqueue_timeout_ms", 2000)
	v.SetDefault("crawler.user_agent", "contact-harvester/0.1")
	v.SetDefault("crawler.max_pages_default", 10)
	v.SetDefault("crawler.backfill_max_pages", 30)
	v.SetDefault("crawler.sitemap_max_depth", 2)
	v.SetDefault("crawler.sitemap_fanout", 10)
	v.SetDefault("crawler.pages_per_second", 2)
	v.SetDefault("crawler.respect_robots", true)
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("browser.driver", "chromedp")
	v.SetDefault("browser.headless_default", true)
	v.SetDefault("browser.max_parallel", 2)
	v.SetDefault("browser.nav_timeout_seconds", 45)
	v.SetDefault("browser.tor_proxy", "socks5://127.0.0.1:9050")
	v.SetDefault("directory.places_base_url", "https://maps.googleapis.com")
	v.SetDefault("directory.places_new_base_url", "https://places.googleapis.com")
	v.SetDefault("directory.geocoder_base_url", "https://nominatim.openstreetmap.org")
	v.SetDefault("directory.page_delay_ms", 2000)
	v.SetDefault("directory.details_rps", 10)
	v.SetDefault("directory.radius_default", 300)
	v.SetDefault("directory.place_type_default", "lodging")
	v.SetDefault("directory.max_places_default", 20)
	v.SetDefault("storage.driver", "memory")
	v.SetDefault("storage.sqlite_path", "harvester.db")
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.prefix", "harvester:stop:")
	v.SetDefault("redis.ttl_seconds", 86400)
	v.SetDefault("artifacts.driver", "none")
	v.SetDefault("artifacts.base_dir", "artifacts")
	v.SetDefault("artifacts.prefix", "results")
	v.SetDefault("events.driver", "none")
	v.SetDefault("events.topic", "harvester-events")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 {
		errs = append(errs, errors.New("server.port must be > 0"))
	}
	if c.Server.RequestTimeoutSeconds <= 0 || c.Server.LongRequestTimeoutSeconds <= 0 {
		errs = append(errs, errors.New("server request timeouts must be > 0"))
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		errs = append(errs, errors.New("auth.api_key must be set when auth is enabled"))
	}
	if c.Orchestrator.Concurrency <= 0 {
		errs = append(errs, errors.New("orchestrator.concurrency must be > 0"))
	}
	if c.Orchestrator.QueueDepth < 0 {
		errs = append(errs, errors.New("orchestrator.queue_depth must be >= 0"))
	}
	if c.Crawler.MaxPagesDefault <= 0 || c.Crawler.BackfillMaxPages <= 0 {
		errs = append(errs, errors.New("crawler page budgets must be > 0"))
	}
	if c.Crawler.PagesPerSecond <= 0 {
		errs = append(errs, errors.New("crawler.pages_per_second must be > 0"))
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		errs = append(errs, errors.New("http.timeout_seconds must be > 0"))
	}
	switch c.Browser.Driver {
	case "chromedp":
		if c.Browser.MaxParallel <= 0 {
			errs = append(errs, errors.New("browser.max_parallel must be > 0 for chromedp"))
		}
	case "http":
	default:
		errs = append(errs, fmt.Errorf("browser.driver %q must be chromedp or http", c.Browser.Driver))
	}
	switch c.Storage.Driver {
	case "memory":
	case "sqlite":
		if c.Storage.SQLitePath == "" {
			errs = append(errs, errors.New("storage.sqlite_path must be set for sqlite"))
		}
	case "postgres":
		if c.DB.DSN == "" {
			errs = append(errs, errors.New("db.dsn must be set for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver %q must be memory, sqlite or postgres", c.Storage.Driver))
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		errs = append(errs, errors.New("redis.addr must be set when redis is enabled"))
	}
	switch c.Artifacts.Driver {
	case "none", "memory":
	case "local":
		if c.Artifacts.BaseDir == "" {
			errs = append(errs, errors.New("artifacts.base_dir must be set for local artifacts"))
		}
	case "gcs":
		if c.Artifacts.GCSBucket == "" {
			errs = append(errs, errors.New("artifacts.gcs_bucket must be set for gcs artifacts"))
		}
	default:
		errs = append(errs, fmt.Errorf("artifacts.driver %q must be none, memory, local or gcs", c.Artifacts.Driver))
	}
	switch c.Events.Driver {
	case "none", "memory":
	case "kafka":
		if len(c.Events.Brokers) == 0 || c.Events.Topic == "" {
			errs = append(errs, errors.New("events.brokers and events.topic must be set for kafka"))
		}
	case "pubsub":
		if c.Events.ProjectID == "" || c.Events.Topic == "" {
			errs = append(errs, errors.New("events.project_id and events.topic must be set for pubsub"))
		}
	default:
		errs = append(errs, fmt.Errorf("events.driver %q must be none, memory, kafka or pubsub", c.Events.Driver))
	}
	return errors.Join(errs...)
}

// RequestTimeout bounds ordinary API calls.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}

// LongRequestTimeout bounds synchronous scrapes and backfills.
func (c Config) LongRequestTimeout() time.Duration {
	return time.Duration(c.Server.LongRequestTimeoutSeconds) * time.Second
}

// EnqueueTimeout bounds how long a submission waits for queue room.
func (c Config) EnqueueTimeout() time.Duration {
	return time.Duration(c.Orchestrator.EnqueueTimeoutMs) * time.Millisecond
}

// PageDelay is the wait before following a directory page token.
func (c Config) PageDelay() time.Duration {
	return time.Duration(c.Directory.PageDelayMs) * time.Millisecond
}
