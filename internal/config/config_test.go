package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
crawl:
  tile_file: data/tiles.txt
  tiles_per_run: 10
  max_new_records_per_run: 500
  max_details_per_run: 200
  inter_request_delay_ms: 2000
  session_refresh_tiles: 5
  tile_window_hours: 168
  record_window_hours: 168
http:
  timeout_seconds: 45
  max_retries: 8
provider:
  base_url: https://search.example.com
  link_base: https://search.example.com/rooms/
  locale: fr
  currency: EUR
  query: Maroc
session:
  file: /var/run/session.json
  viewport_width: 1920
  viewport_height: 1080
db:
  dsn: postgres://harvest:pw@localhost:5432/harvest
  max_conns: 8
storage:
  snapshot_bucket: harvest-snapshots
  prefix: drift
pubsub:
  project_id: harvest-prod
  topic_name: record-events
logging:
  development: false
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Crawl.TilesPerRun != 10 || cfg.Crawl.MaxNewRecordsPerRun != 500 {
		t.Fatalf("expected crawl overrides to apply: %+v", cfg.Crawl)
	}
	if cfg.Provider.Currency != "EUR" || cfg.Provider.Query != "Maroc" {
		t.Fatalf("expected provider overrides to apply: %+v", cfg.Provider)
	}
	if cfg.Session.ViewportWidth != 1920 {
		t.Fatalf("expected viewport override, got %d", cfg.Session.ViewportWidth)
	}
	if cfg.PubSub.TopicName != "record-events" {
		t.Fatalf("expected pubsub topic override, got %q", cfg.PubSub.TopicName)
	}
	if got := cfg.RequestTimeout(); got != 45*time.Second {
		t.Fatalf("expected request timeout 45s, got %v", got)
	}
	if got := cfg.InterRequestDelay(); got != 2*time.Second {
		t.Fatalf("expected inter-request delay 2s, got %v", got)
	}
	if got := cfg.TileWindow(); got != 168*time.Hour {
		t.Fatalf("expected tile window 168h, got %v", got)
	}
	if cfg.Logging.Development {
		t.Fatalf("expected production logging")
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
db:
  dsn: postgres://localhost/harvest
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Crawl.TilesPerRun != 20 {
		t.Fatalf("expected default tiles_per_run 20, got %d", cfg.Crawl.TilesPerRun)
	}
	if cfg.HTTP.MaxRetries != 15 {
		t.Fatalf("expected default max_retries 15, got %d", cfg.HTTP.MaxRetries)
	}
	if got := cfg.RecordWindow(); got != 720*time.Hour {
		t.Fatalf("expected default record window 720h, got %v", got)
	}
	if cfg.Session.ViewportWidth != 1400 || cfg.Session.ViewportHeight != 900 {
		t.Fatalf("expected default viewport 1400x900, got %dx%d",
			cfg.Session.ViewportWidth, cfg.Session.ViewportHeight)
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server: ServerConfig{Port: 8080},
		Crawl: CrawlConfig{
			TileFile:           "tiles.txt",
			TilesPerRun:        20,
			MaxTileSpanDegrees: 5.0,
		},
		HTTP:     HTTPConfig{TimeoutSeconds: 10},
		Provider: ProviderConfig{BaseURL: "https://search.example.com"},
		Session:  SessionConfig{ViewportWidth: 1400, ViewportHeight: 900},
		DB:       DBConfig{DSN: "postgres://localhost/harvest"},
	}

	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{
			name: "invalid port",
			cfg: func() Config {
				c := base
				c.Server.Port = 0
				return c
			}(),
			want: "server.port",
		},
		{
			name: "invalid tiles per run",
			cfg: func() Config {
				c := base
				c.Crawl.TilesPerRun = 0
				return c
			}(),
			want: "crawl.tiles_per_run",
		},
		{
			name: "missing tile file",
			cfg: func() Config {
				c := base
				c.Crawl.TileFile = ""
				return c
			}(),
			want: "crawl.tile_file",
		},
		{
			name: "invalid timeout",
			cfg: func() Config {
				c := base
				c.HTTP.TimeoutSeconds = 0
				return c
			}(),
			want: "http.timeout_seconds",
		},
		{
			name: "missing base url",
			cfg: func() Config {
				c := base
				c.Provider.BaseURL = ""
				return c
			}(),
			want: "provider.base_url",
		},
		{
			name: "missing dsn",
			cfg: func() Config {
				c := base
				c.DB.DSN = ""
				return c
			}(),
			want: "db.dsn",
		},
		{
			name: "invalid viewport",
			cfg: func() Config {
				c := base
				c.Session.ViewportHeight = 0
				return c
			}(),
			want: "viewport",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
