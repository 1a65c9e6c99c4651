package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Config represents the complete application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Platform PlatformConfig `yaml:"platform"`
	Events   EventsConfig   `yaml:"events"`
	Cache    CacheConfig    `yaml:"cache"`
	Emulator EmulatorConfig `yaml:"emulator"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig contains console HTTP server settings
type ServerConfig struct {
	Addr         string `yaml:"addr"`
	ReadTimeout  int    `yaml:"read_timeout"`
	WriteTimeout int    `yaml:"write_timeout"`
	IdleTimeout  int    `yaml:"idle_timeout"`
}

// PlatformConfig points the console at the platform API
type PlatformConfig struct {
	URL            string `yaml:"url"`
	Token          string `yaml:"token"`
	RequestTimeout int    `yaml:"request_timeout"`
}

// EventsConfig contains real-time channel settings
type EventsConfig struct {
	StreamBuffer      int `yaml:"stream_buffer"`
	HeartbeatInterval int `yaml:"heartbeat_interval"`
}

// CacheConfig contains query cache settings
type CacheConfig struct {
	Size          int `yaml:"size"`
	MaxAgeSeconds int `yaml:"max_age_seconds"`
}

// EmulatorConfig contains platformd settings
type EmulatorConfig struct {
	Addr             string `yaml:"addr"`
	SubscriberBuffer int    `yaml:"subscriber_buffer"`
	BuildTimeout     int    `yaml:"build_timeout"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level         string            `yaml:"level"`
	Format        string            `yaml:"format"`
	IncludeCaller bool              `yaml:"include_caller"`
	GlobalFields  map[string]string `yaml:"global_fields"`
}

// MetricsConfig contains metrics settings
type MetricsConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:         ":3000",
			ReadTimeout:  10,
			WriteTimeout: 0, // view streams are long lived
			IdleTimeout:  120,
		},
		Platform: PlatformConfig{
			URL:            "http://localhost:3001",
			RequestTimeout: 10,
		},
		Events: EventsConfig{
			StreamBuffer:      64,
			HeartbeatInterval: 15,
		},
		Cache: CacheConfig{
			Size:          1024,
			MaxAgeSeconds: 0,
		},
		Emulator: EmulatorConfig{
			Addr:             ":3001",
			SubscriberBuffer: 32,
			BuildTimeout:     600,
		},
		Logging: LoggingConfig{
			Level:         "info",
			Format:        "json",
			IncludeCaller: false,
			GlobalFields:  map[string]string{},
		},
		Metrics: MetricsConfig{
			Enabled:  true,
			Endpoint: "/metrics",
		},
	}
}

// LoadConfigFromFile loads configuration from a YAML file
func LoadConfigFromFile(filePath string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Warn().Str("file", filePath).Msg("Configuration file not found, using defaults")
			return config, nil
		}
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return config, nil
}

// LoadConfig loads configuration from file, environment variables, and flags.
// Empty flag values leave the lower layers untouched.
func LoadConfig(configFile, serverAddr, platformURL, logLevel string) (*Config, error) {
	var config *Config
	var err error

	if configFile != "" {
		config, err = LoadConfigFromFile(configFile)
		if err != nil {
			return nil, err
		}
	} else {
		config = DefaultConfig()
	}

	applyEnvOverrides(config)

	// Command line flags have the highest priority
	if serverAddr != "" {
		config.Server.Addr = serverAddr
	}
	if platformURL != "" {
		config.Platform.URL = platformURL
	}
	if logLevel != "" {
		config.Logging.Level = logLevel
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate rejects configurations the services cannot start with
func (c *Config) Validate() error {
	if c.Platform.URL == "" {
		return fmt.Errorf("invalid config: platform.url is required")
	}
	if c.Cache.Size <= 0 {
		return fmt.Errorf("invalid config: cache.size must be positive, got %d", c.Cache.Size)
	}
	if c.Events.StreamBuffer <= 0 {
		return fmt.Errorf("invalid config: events.stream_buffer must be positive, got %d", c.Events.StreamBuffer)
	}
	if c.Events.HeartbeatInterval <= 0 {
		return fmt.Errorf("invalid config: events.heartbeat_interval must be positive, got %d", c.Events.HeartbeatInterval)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides to the configuration
func applyEnvOverrides(config *Config) {
	if addr := os.Getenv("LIGHTHOUSE_SERVER_ADDR"); addr != "" {
		config.Server.Addr = addr
	}

	if url := os.Getenv("LIGHTHOUSE_PLATFORM_URL"); url != "" {
		config.Platform.URL = url
	}
	if token := os.Getenv("LIGHTHOUSE_PLATFORM_TOKEN"); token != "" {
		config.Platform.Token = token
	}

	if sizeStr := os.Getenv("LIGHTHOUSE_CACHE_SIZE"); sizeStr != "" {
		if val, err := strconv.Atoi(sizeStr); err == nil {
			config.Cache.Size = val
		}
	}

	if addr := os.Getenv("LIGHTHOUSE_EMULATOR_ADDR"); addr != "" {
		config.Emulator.Addr = addr
	}

	if level := os.Getenv("LIGHTHOUSE_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if format := os.Getenv("LIGHTHOUSE_LOG_FORMAT"); format != "" {
		config.Logging.Format = format
	}
}

// Seconds converts a config value in seconds to a duration
func Seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
