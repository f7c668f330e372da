package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Connector ConnectorConfig `yaml:"connector"`
	Estim     EstimConfig     `yaml:"estim"`
	BPIO      BPIOConfig      `yaml:"bpio"`
	LogLevel  string          `yaml:"log_level"`
}

// ConnectorConfig holds BLE connector settings.
type ConnectorConfig struct {
	NamePrefix       string `yaml:"name_prefix"`       // advertised-name filter
	EventBuffer      int    `yaml:"event_buffer"`      // scan event channel capacity
	ReadBuffer       int    `yaml:"read_buffer"`       // max characteristic value size
	TrackDisconnects bool   `yaml:"track_disconnects"` // drop disconnected devices from the ready set
}

// EstimConfig holds device control settings.
type EstimConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	MinPower     int           `yaml:"min_power"`
	MaxPower     int           `yaml:"max_power"`
}

// BPIOConfig holds Buttplug protocol settings.
type BPIOConfig struct {
	ListenPort     int      `yaml:"listen_port"`     // 0 disables the server
	AllowedOrigins []string `yaml:"allowed_origins"` // empty allows every origin
	ClientURI      string   `yaml:"client_uri"`      // upstream server to proxy, empty disables
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "estim-connector")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Connector: ConnectorConfig{
			NamePrefix:       "D-LAB ESTIM",
			EventBuffer:      64,
			ReadBuffer:       512,
			TrackDisconnects: true,
		},
		Estim: EstimConfig{
			PollInterval: 2 * time.Second,
			MinPower:     100,
			MaxPower:     200,
		},
		BPIO: BPIOConfig{
			ListenPort: 12350,
		},
		LogLevel: "info",
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return cfg, nil
}

// WriteDefault writes the default config to path, creating parent
// directories. It does nothing if the file already exists.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("checking config file: %w", err)
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return fmt.Errorf("encoding default config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if c.Connector.NamePrefix == "" {
		return fmt.Errorf("connector.name_prefix must not be empty")
	}

	if c.Connector.EventBuffer <= 0 {
		return fmt.Errorf("connector.event_buffer must be > 0")
	}

	// 512 is the largest attribute value ATT allows.
	if c.Connector.ReadBuffer <= 0 || c.Connector.ReadBuffer > 512 {
		return fmt.Errorf("connector.read_buffer must be in 1..512, got %d", c.Connector.ReadBuffer)
	}

	if c.Estim.PollInterval <= 0 {
		return fmt.Errorf("estim.poll_interval must be > 0")
	}

	if c.Estim.MinPower < 0 || c.Estim.MaxPower < c.Estim.MinPower {
		return fmt.Errorf("estim power range [%d, %d] is invalid", c.Estim.MinPower, c.Estim.MaxPower)
	}

	if c.BPIO.ListenPort < 0 || c.BPIO.ListenPort > 65535 {
		return fmt.Errorf("bpio.listen_port must be in 0..65535, got %d", c.BPIO.ListenPort)
	}

	if c.BPIO.ClientURI != "" {
		u, err := url.Parse(c.BPIO.ClientURI)
		if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
			return fmt.Errorf("bpio.client_uri must be a ws:// or wss:// URL, got %q", c.BPIO.ClientURI)
		}
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	return nil
}

// ParseLogLevel maps a log_level value to a slog level. Unknown values
// map to info.
func ParseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
