// Package config loads and validates harvester configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Crawl    CrawlConfig    `mapstructure:"crawl"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Provider ProviderConfig `mapstructure:"provider"`
	Session  SessionConfig  `mapstructure:"session"`
	DB       DBConfig       `mapstructure:"db"`
	Storage  StorageConfig  `mapstructure:"storage"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls the operational HTTP endpoint.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// CrawlConfig governs tile scheduling, pacing and run budgets.
type CrawlConfig struct {
	TileFile            string  `mapstructure:"tile_file"`
	TilesPerRun         int     `mapstructure:"tiles_per_run"`
	MaxNewRecordsPerRun int     `mapstructure:"max_new_records_per_run"`
	MaxDetailsPerRun    int     `mapstructure:"max_details_per_run"`
	MaxTileSpanDegrees  float64 `mapstructure:"max_tile_span_degrees"`
	InterRequestDelayMs int     `mapstructure:"inter_request_delay_ms"`
	SessionRefreshTiles int     `mapstructure:"session_refresh_tiles"`
	TileWindowHours     int     `mapstructure:"tile_window_hours"`
	RecordWindowHours   int     `mapstructure:"record_window_hours"`
}

// HTTPConfig configures the provider HTTP client and retry policy.
type HTTPConfig struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
	MaxRetries     int `mapstructure:"max_retries"`
}

// ProviderConfig names the remote search endpoints and listing link base.
type ProviderConfig struct {
	BaseURL  string `mapstructure:"base_url"`
	LinkBase string `mapstructure:"link_base"`
	Locale   string `mapstructure:"locale"`
	Currency string `mapstructure:"currency"`
	Query    string `mapstructure:"query"`
}

// SessionConfig points at the session material dropped by the browser
// collaborator.
type SessionConfig struct {
	File           string `mapstructure:"file"`
	ViewportWidth  int    `mapstructure:"viewport_width"`
	ViewportHeight int    `mapstructure:"viewport_height"`
}

// DBConfig controls access to the relational state store.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int    `mapstructure:"max_conns"`
	MinConns int    `mapstructure:"min_conns"`
}

// StorageConfig sets the bucket for raw response snapshots.
type StorageConfig struct {
	SnapshotBucket string `mapstructure:"snapshot_bucket"`
	Prefix         string `mapstructure:"prefix"`
	LocalDir       string `mapstructure:"local_dir"`
}

// PubSubConfig holds metadata for record lifecycle notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("STAYHARVEST")
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
	v.SetDefault("crawl.tile_file", "tiles.txt")
	v.SetDefault("crawl.tiles_per_run", 20)
	v.SetDefault("crawl.max_new_records_per_run", 0)
	v.SetDefault("crawl.max_details_per_run", 0)
	v.SetDefault("crawl.max_tile_span_degrees", 5.0)
	v.SetDefault("crawl.inter_request_delay_ms", 1500)
	v.SetDefault("crawl.session_refresh_tiles", 0)
	v.SetDefault("crawl.tile_window_hours", 720)
	v.SetDefault("crawl.record_window_hours", 720)
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.max_retries", 15)
	v.SetDefault("provider.base_url", "https://www.airbnb.com")
	v.SetDefault("provider.link_base", "https://www.airbnb.com/rooms/")
	v.SetDefault("provider.locale", "en")
	v.SetDefault("provider.currency", "MAD")
	v.SetDefault("provider.query", "Morocco")
	v.SetDefault("session.file", "session.json")
	v.SetDefault("session.viewport_width", 1400)
	v.SetDefault("session.viewport_height", 900)
	v.SetDefault("storage.prefix", "snapshots")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Crawl.TilesPerRun <= 0 {
		return fmt.Errorf("crawl.tiles_per_run must be > 0")
	}
	if c.Crawl.MaxTileSpanDegrees <= 0 {
		return fmt.Errorf("crawl.max_tile_span_degrees must be > 0")
	}
	if c.Crawl.TileFile == "" {
		return fmt.Errorf("crawl.tile_file must be set")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.Provider.BaseURL == "" {
		return fmt.Errorf("provider.base_url must be set")
	}
	if c.DB.DSN == "" {
		return fmt.Errorf("db.dsn must be set")
	}
	if c.Session.ViewportWidth <= 0 || c.Session.ViewportHeight <= 0 {
		return fmt.Errorf("session viewport dimensions must be > 0")
	}
	return nil
}

// RequestTimeout converts the HTTP timeout into a duration.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// InterRequestDelay converts the pacing knob into a duration.
func (c Config) InterRequestDelay() time.Duration {
	return time.Duration(c.Crawl.InterRequestDelayMs) * time.Millisecond
}

// TileWindow is how long a tile scrape stays fresh.
func (c Config) TileWindow() time.Duration {
	return time.Duration(c.Crawl.TileWindowHours) * time.Hour
}

// RecordWindow is how long a persisted record stays fresh.
func (c Config) RecordWindow() time.Duration {
	return time.Duration(c.Crawl.RecordWindowHours) * time.Hour
}
