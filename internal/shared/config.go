package shared

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"golang.org/x/oauth2"
)

//go:embed config.example.toml
var exampleConf []byte

// EnvPrefix is prepended to every environment override, e.g. MIRROR_SPOTIFY_CLIENT_SECRET.
const EnvPrefix = "MIRROR_"

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	Credentials CredentialsConfig `toml:"credentials"`
	Database    DatabaseConfig    `toml:"database" envPrefix:"DATABASE_"`
	Server      ServerConfig      `toml:"server" envPrefix:"SERVER_"`
	Sync        SyncConfig        `toml:"sync" envPrefix:"SYNC_"`
	Redis       RedisConfig       `toml:"redis" envPrefix:"REDIS_"`
	Log         LogConfig         `toml:"log" envPrefix:"LOG_"`
}

// CredentialsConfig contains service-specific credentials.
type CredentialsConfig struct {
	Spotify SpotifyConfig `toml:"spotify" envPrefix:"SPOTIFY_"`
}

// SpotifyConfig contains Spotify API credentials.
type SpotifyConfig struct {
	ClientID     string `toml:"client_id" env:"CLIENT_ID"`
	ClientSecret string `toml:"client_secret" env:"CLIENT_SECRET"`
	RedirectURI  string `toml:"redirect_uri" env:"REDIRECT_URI"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Driver       string `toml:"driver" env:"DRIVER"`
	Path         string `toml:"path" env:"PATH"`
	DSN          string `toml:"dsn" env:"DSN"`
	MaxOpenConns int    `toml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	MaxIdleConns int    `toml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host string `toml:"host" env:"HOST"`
	Port int    `toml:"port" env:"PORT"`
}

// SyncConfig tunes the library sync engine.
type SyncConfig struct {
	PageSize       int           `toml:"page_size" env:"PAGE_SIZE"`
	MaxPages       int           `toml:"max_pages" env:"MAX_PAGES"`
	Concurrency    int           `toml:"concurrency" env:"CONCURRENCY"`
	BatchWorkers   int           `toml:"batch_workers" env:"BATCH_WORKERS"`
	MaxAttempts    int           `toml:"max_attempts" env:"MAX_ATTEMPTS"`
	RequestTimeout time.Duration `toml:"request_timeout" env:"REQUEST_TIMEOUT"`
	RateLimit      float64       `toml:"rate_limit" env:"RATE_LIMIT"`
	Schedule       string        `toml:"schedule" env:"SCHEDULE"`
}

// RedisConfig configures sync notifications. An empty URL disables them.
type RedisConfig struct {
	URL     string `toml:"url" env:"URL"`
	Channel string `toml:"channel" env:"CHANNEL"`
}

// LogConfig sets the log level (debug, info, warn, error).
type LogConfig struct {
	Level string `toml:"level" env:"LEVEL"`
}

// LoadConfig reads and parses a TOML configuration file from the specified path.
//
// Values missing from the file keep the embedded defaults, and MIRROR_* environment variables (optionally from a .env file) override both.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := ApplyEnv(config); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// ApplyEnv overrides config values from the environment, loading a .env file in the working directory first if one exists.
func ApplyEnv(config *Config) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load .env file: %w", err)
	}

	if err := env.ParseWithOptions(config, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.WriteFile(path, exampleConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate rejects settings the sync engine cannot run with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "", "sqlite":
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("%w: database.dsn is required for the postgres driver", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown database driver %q", ErrInvalidConfig, c.Database.Driver)
	}

	if c.Sync.PageSize <= 0 || c.Sync.PageSize > 50 {
		return fmt.Errorf("%w: sync.page_size must be between 1 and 50, got %d", ErrInvalidConfig, c.Sync.PageSize)
	}
	if c.Sync.MaxPages <= 0 {
		return fmt.Errorf("%w: sync.max_pages must be positive", ErrInvalidConfig)
	}
	if c.Sync.Concurrency < 0 || c.Sync.BatchWorkers < 0 {
		return fmt.Errorf("%w: sync concurrency settings cannot be negative", ErrInvalidConfig)
	}
	return nil
}

// Workers returns the per-run fan-out bound, defaulting to the number of CPUs.
func (s SyncConfig) Workers() int {
	if s.Concurrency > 0 {
		return s.Concurrency
	}
	return runtime.NumCPU()
}

// OAuth2 builds the [oauth2.Config] for the Spotify accounts service.
func (s SpotifyConfig) OAuth2() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     s.ClientID,
		ClientSecret: s.ClientSecret,
		RedirectURL:  s.RedirectURI,
		Scopes: []string{
			"user-read-private",
			"user-read-email",
			"playlist-read-private",
			"playlist-read-collaborative",
			"user-library-read",
		},
		Endpoint: oauth2.Endpoint{
			AuthURL:   SpotifyAuthURL,
			TokenURL:  SpotifyTokenURL,
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}
}

// Spotify account service endpoints.
const (
	SpotifyAuthURL  = "https://accounts.spotify.com/authorize"
	SpotifyTokenURL = "https://accounts.spotify.com/api/token"
)
