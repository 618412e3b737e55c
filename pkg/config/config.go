// Package config loads popwatch configuration from the environment.
//
// Values come from POPWATCH_* environment variables (optionally seeded from a
// .env file) with hardcoded fallbacks for everything, so a bare `popwatch`
// invocation always starts.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix is prepended to every variable name, e.g. POPWATCH_PORT.
const EnvPrefix = "POPWATCH"

// Server defaults
const (
	DefaultPort         = "8080"
	DefaultMaxStorageGB = 1
	DefaultMaxMemoryMB  = 48
	DefaultDataDir      = "./data/popwatch"
	DefaultAppID        = "default-app-id"
)

// Sampling and rollup defaults
const (
	DefaultPollInterval       = 300 * time.Second
	DefaultDailyCheckInterval = 60 * time.Second
	DefaultWindowSize         = 100
	SourceTimeout             = 10 * time.Second
)

// Collection names under artifacts/{appId}/public/data/
const (
	HistoryCollection = "online_history"
	DailyCollection   = "daily_averages"
)

// Background task intervals
const (
	BadgerGCInterval      = 10 * time.Minute
	SubscribeRetryDelay   = 2 * time.Second
	StoreOperationTimeout = 5 * time.Second
	ShutdownTimeout       = 30 * time.Second
	ServerReadTimeout     = 10 * time.Second
	ServerWriteTimeout    = 10 * time.Second
)

// WebSocket configuration
const (
	WSReadBufferSize  = 1024
	WSWriteBufferSize = 1024
	WSChannelBuffer   = 10
	WSWriteDeadline   = 10 * time.Second
	WSReadDeadline    = 60 * time.Second
	WSPingInterval    = 30 * time.Second
)

// Config is the complete runtime configuration.
type Config struct {
	Port  string `envconfig:"PORT" default:"8080"`
	AppID string `envconfig:"APP_ID" default:"default-app-id"`

	// AuthToken is a pre-issued session token. It is accepted for
	// compatibility but sign-in always goes through the anonymous path.
	AuthToken string `envconfig:"AUTH_TOKEN"`

	// StoreConfig carries store connection parameters as a single JSON
	// blob. Non-zero fields override the individual store settings below.
	StoreConfig StoreConfig `envconfig:"STORE_CONFIG"`

	DataDir       string `envconfig:"DATA_DIR" default:"./data/popwatch"`
	StoreInMemory bool   `envconfig:"STORE_IN_MEMORY" default:"false"`
	MaxMemoryMB   int64  `envconfig:"MAX_MEMORY_MB" default:"48"`
	MaxStorageGB  int64  `envconfig:"MAX_STORAGE_GB" default:"1"`

	SourceURL          string        `envconfig:"SOURCE_URL" default:"http://localhost:9000"`
	PollInterval       time.Duration `envconfig:"POLL_INTERVAL" default:"300s"`
	DailyCheckInterval time.Duration `envconfig:"DAILY_CHECK_INTERVAL" default:"60s"`
	WindowSize         int           `envconfig:"WINDOW_SIZE" default:"100"`
	Timezone           string        `envconfig:"TIMEZONE" default:"Local"`

	SigningKey    string `envconfig:"SIGNING_KEY" default:"popwatch-development-signing-key"`
	AnonymousAuth bool   `envconfig:"ANONYMOUS_AUTH" default:"true"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"text"`
	LogOutput string `envconfig:"LOG_OUTPUT" default:"stdout"`

	location *time.Location
}

// StoreConfig is the JSON form of the store connection parameters.
type StoreConfig struct {
	DataDir     string `json:"dataDir,omitempty"`
	InMemory    bool   `json:"inMemory,omitempty"`
	MaxMemoryMB int64  `json:"maxMemoryMB,omitempty"`
}

// Decode implements envconfig.Decoder.
func (s *StoreConfig) Decode(value string) error {
	if value == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(value), s); err != nil {
		return fmt.Errorf("invalid store config JSON: %w", err)
	}
	return nil
}

// Load reads an optional .env file and then the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	return FromEnv()
}

// FromEnv builds a Config from the current environment only.
func FromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment: %w", err)
	}
	cfg.applyStoreConfig()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyStoreConfig() {
	if c.StoreConfig.DataDir != "" {
		c.DataDir = c.StoreConfig.DataDir
	}
	if c.StoreConfig.InMemory {
		c.StoreInMemory = true
	}
	if c.StoreConfig.MaxMemoryMB > 0 {
		c.MaxMemoryMB = c.StoreConfig.MaxMemoryMB
	}
}

// Validate checks field ranges and resolves the display location.
func (c *Config) Validate() error {
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %v", c.PollInterval)
	}
	if c.DailyCheckInterval <= 0 {
		return fmt.Errorf("daily check interval must be positive, got %v", c.DailyCheckInterval)
	}
	if c.WindowSize <= 0 {
		return fmt.Errorf("window size must be positive, got %d", c.WindowSize)
	}
	if c.AppID == "" {
		return errors.New("app id must not be empty")
	}
	if c.SigningKey == "" {
		return errors.New("signing key must not be empty")
	}
	if !c.StoreInMemory && c.DataDir == "" {
		return errors.New("data dir required unless the store runs in memory")
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	c.location = loc
	return nil
}

// Location returns the display location, defaulting to time.Local.
func (c *Config) Location() *time.Location {
	if c.location == nil {
		return time.Local
	}
	return c.location
}

// MaxStorageBytes returns the storage limit in bytes.
func (c *Config) MaxStorageBytes() int64 {
	return c.MaxStorageGB * 1024 * 1024 * 1024
}
