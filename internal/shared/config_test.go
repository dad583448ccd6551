package shared

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestConfig(t *testing.T) {
	t.Run("DefaultConfig", func(t *testing.T) {
		config := DefaultConfig()

		if config.Database.Path != "./mirror.db" {
			t.Errorf("expected database path ./mirror.db, got %s", config.Database.Path)
		}
		if config.Server.Port != 3000 {
			t.Errorf("expected server port 3000, got %d", config.Server.Port)
		}
		if config.Sync.PageSize != 50 {
			t.Errorf("expected page size 50, got %d", config.Sync.PageSize)
		}
		if config.Sync.RequestTimeout != 10*time.Second {
			t.Errorf("expected request timeout 10s, got %v", config.Sync.RequestTimeout)
		}
		if config.Credentials.Spotify.ClientID != "your_spotify_client_id" {
			t.Errorf("expected spotify client_id your_spotify_client_id, got %s", config.Credentials.Spotify.ClientID)
		}
		if err := config.Validate(); err != nil {
			t.Errorf("default config should be valid: %v", err)
		}
	})

	t.Run("CreateConfigFile", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.toml")

		if err := CreateConfigFile(configPath); err != nil {
			t.Fatalf("failed to create config file: %v", err)
		}

		if _, err := os.Stat(configPath); err != nil {
			t.Fatalf("config file should exist: %v", err)
		}

		config, err := LoadConfig(configPath)
		if err != nil {
			t.Fatalf("failed to load created config: %v", err)
		}

		if config.Database.Path != DefaultConfig().Database.Path {
			t.Errorf("created config database path doesn't match default")
		}

		if err := CreateConfigFile(configPath); err == nil {
			t.Error("creating config file again should fail")
		}
	})

	t.Run("LoadConfig", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.toml")

		testConfig := `[database]
path = "/custom/path.db"
max_open_conns = 20

[server]
port = 8080

[credentials.spotify]
client_id = "test_client_id"
client_secret = "test_secret"
redirect_uri = "http://localhost:3000/callback"

[sync]
concurrency = 3
request_timeout = "2s"
`

		if err := os.WriteFile(configPath, []byte(testConfig), 0644); err != nil {
			t.Fatalf("failed to write test config: %v", err)
		}

		config, err := LoadConfig(configPath)
		if err != nil {
			t.Fatalf("failed to load config: %v", err)
		}

		if config.Database.Path != "/custom/path.db" {
			t.Errorf("expected database path /custom/path.db, got %s", config.Database.Path)
		}
		if config.Server.Port != 8080 {
			t.Errorf("expected server port 8080, got %d", config.Server.Port)
		}
		if config.Credentials.Spotify.ClientID != "test_client_id" {
			t.Errorf("expected spotify client_id test_client_id, got %s", config.Credentials.Spotify.ClientID)
		}
		if config.Sync.Workers() != 3 {
			t.Errorf("expected 3 workers, got %d", config.Sync.Workers())
		}
		if config.Sync.RequestTimeout != 2*time.Second {
			t.Errorf("expected 2s timeout, got %v", config.Sync.RequestTimeout)
		}
		if config.Sync.PageSize != 50 {
			t.Errorf("missing keys should keep defaults, got page size %d", config.Sync.PageSize)
		}
	})

	t.Run("Environment Overrides", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.toml")
		if err := CreateConfigFile(configPath); err != nil {
			t.Fatalf("failed to create config file: %v", err)
		}

		t.Setenv("MIRROR_SPOTIFY_CLIENT_SECRET", "from_env")
		t.Setenv("MIRROR_SYNC_CONCURRENCY", "7")
		t.Setenv("MIRROR_REDIS_URL", "redis://localhost:6379/0")

		config, err := LoadConfig(configPath)
		if err != nil {
			t.Fatalf("failed to load config: %v", err)
		}

		if config.Credentials.Spotify.ClientSecret != "from_env" {
			t.Errorf("expected client secret from env, got %s", config.Credentials.Spotify.ClientSecret)
		}
		if config.Sync.Concurrency != 7 {
			t.Errorf("expected concurrency 7, got %d", config.Sync.Concurrency)
		}
		if config.Redis.URL != "redis://localhost:6379/0" {
			t.Errorf("expected redis url from env, got %s", config.Redis.URL)
		}
	})

	t.Run("Validate", func(t *testing.T) {
		tt := []struct {
			name   string
			mutate func(*Config)
		}{
			{name: "unknown driver", mutate: func(c *Config) { c.Database.Driver = "mysql" }},
			{name: "postgres without dsn", mutate: func(c *Config) { c.Database.Driver = "postgres" }},
			{name: "zero page size", mutate: func(c *Config) { c.Sync.PageSize = 0 }},
			{name: "page size above provider max", mutate: func(c *Config) { c.Sync.PageSize = 51 }},
			{name: "zero max pages", mutate: func(c *Config) { c.Sync.MaxPages = 0 }},
			{name: "negative concurrency", mutate: func(c *Config) { c.Sync.Concurrency = -1 }},
		}

		for _, tc := range tt {
			t.Run(tc.name, func(t *testing.T) {
				config := DefaultConfig()
				tc.mutate(config)
				if err := config.Validate(); !errors.Is(err, ErrInvalidConfig) {
					t.Errorf("expected ErrInvalidConfig, got %v", err)
				}
			})
		}
	})

	t.Run("OAuth2", func(t *testing.T) {
		oc := DefaultConfig().Credentials.Spotify.OAuth2()
		if oc.Endpoint.TokenURL != SpotifyTokenURL {
			t.Errorf("unexpected token URL %s", oc.Endpoint.TokenURL)
		}
		if len(oc.Scopes) == 0 {
			t.Error("expected scopes to be set")
		}
	})
}
