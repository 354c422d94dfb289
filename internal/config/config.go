// Package config loads and validates gatherer configuration via Viper.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Cache backends.
const (
	BackendLocal  = "local"
	BackendGCS    = "gcs"
	BackendMemory = "memory"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Site        SiteConfig        `mapstructure:"site"`
	Webmentions WebmentionsConfig `mapstructure:"webmentions"`
	API         APIConfig         `mapstructure:"api"`
	HTTP        HTTPConfig        `mapstructure:"http"`
	Cache       CacheConfig       `mapstructure:"cache"`
	PubSub      PubSubConfig      `mapstructure:"pubsub"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// SiteConfig describes the site whose mentions are gathered.
type SiteConfig struct {
	URL      string `mapstructure:"url"`
	Manifest string `mapstructure:"manifest"`
}

// WebmentionsConfig controls the gathering pass.
type WebmentionsConfig struct {
	PauseLookups    bool              `mapstructure:"pause_lookups"`
	Pages           bool              `mapstructure:"pages"`
	LegacyDomains   []string          `mapstructure:"legacy_domains"`
	ThrottleLookups map[string]string `mapstructure:"throttle_lookups"`
	FallbackID      string            `mapstructure:"fallback_id"`
}

// APIConfig points at the mentions API.
type APIConfig struct {
	BaseURL    string `mapstructure:"base_url"`
	Endpoint   string `mapstructure:"endpoint"`
	Token      string `mapstructure:"token"`
	MaxRetries int    `mapstructure:"max_retries"`
}

// HTTPConfig configures outbound HTTP for the API client and HTML fetcher.
type HTTPConfig struct {
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	UserAgent      string `mapstructure:"user_agent"`
}

// CacheConfig selects where the webmention cache lives.
type CacheConfig struct {
	Backend   string `mapstructure:"backend"`
	Path      string `mapstructure:"path"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	GCSObject string `mapstructure:"gcs_object"`
}

// PubSubConfig holds metadata for run notifications. An empty topic disables them.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// MetricsConfig controls the node-exporter textfile dump.
type MetricsConfig struct {
	Textfile string `mapstructure:"textfile"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("WEBMENTIONS")
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
	// Keys without a default are invisible to AutomaticEnv during Unmarshal.
	v.SetDefault("site.url", "")
	v.SetDefault("site.manifest", "site.yml")
	v.SetDefault("webmentions.pause_lookups", false)
	v.SetDefault("webmentions.pages", false)
	v.SetDefault("webmentions.legacy_domains", []string{})
	v.SetDefault("webmentions.fallback_id", "hash")
	v.SetDefault("api.base_url", "https://webmention.io/api")
	v.SetDefault("api.endpoint", "mentions")
	v.SetDefault("api.token", "")
	v.SetDefault("api.max_retries", 2)
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("http.user_agent", "webmention-gatherer/0.1")
	v.SetDefault("cache.backend", BackendLocal)
	v.SetDefault("cache.path", ".cache/webmentions.yml")
	v.SetDefault("cache.gcs_bucket", "")
	v.SetDefault("cache.gcs_object", "webmentions.yml")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("metrics.textfile", "")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Site.URL == "" {
		return fmt.Errorf("site.url is required")
	}
	if u, err := url.Parse(c.Site.URL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("site.url must be an absolute url, got %q", c.Site.URL)
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.API.MaxRetries < 0 {
		return fmt.Errorf("api.max_retries must be >= 0")
	}
	switch c.Webmentions.FallbackID {
	case "hash", "timestamp":
	default:
		return fmt.Errorf("webmentions.fallback_id must be hash or timestamp, got %q", c.Webmentions.FallbackID)
	}
	switch c.Cache.Backend {
	case BackendLocal:
		if c.Cache.Path == "" {
			return fmt.Errorf("cache.path is required for the local backend")
		}
	case BackendGCS:
		if c.Cache.GCSBucket == "" || c.Cache.GCSObject == "" {
			return fmt.Errorf("cache.gcs_bucket and cache.gcs_object are required for the gcs backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown cache.backend %q", c.Cache.Backend)
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	return nil
}

// Timeout converts http.timeout_seconds into a duration.
func (c Config) Timeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}
