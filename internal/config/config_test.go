package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Connector.NamePrefix != "D-LAB ESTIM" {
		t.Errorf("Connector.NamePrefix = %q, want %q", cfg.Connector.NamePrefix, "D-LAB ESTIM")
	}
	if cfg.Connector.EventBuffer != 64 {
		t.Errorf("Connector.EventBuffer = %d, want 64", cfg.Connector.EventBuffer)
	}
	if cfg.Connector.ReadBuffer != 512 {
		t.Errorf("Connector.ReadBuffer = %d, want 512", cfg.Connector.ReadBuffer)
	}
	if !cfg.Connector.TrackDisconnects {
		t.Error("Connector.TrackDisconnects = false, want true")
	}
	if cfg.Estim.PollInterval != 2*time.Second {
		t.Errorf("Estim.PollInterval = %v, want 2s", cfg.Estim.PollInterval)
	}
	if cfg.Estim.MinPower != 100 || cfg.Estim.MaxPower != 200 {
		t.Errorf("Estim power range = [%d, %d], want [100, 200]", cfg.Estim.MinPower, cfg.Estim.MaxPower)
	}
	if cfg.BPIO.ListenPort != 12350 {
		t.Errorf("BPIO.ListenPort = %d, want 12350", cfg.BPIO.ListenPort)
	}
	if cfg.BPIO.ClientURI != "" {
		t.Errorf("BPIO.ClientURI = %q, want empty", cfg.BPIO.ClientURI)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default().Validate() error = %v", err)
	}
}

func TestLoad(t *testing.T) {
	yamlContent := `
connector:
  name_prefix: "DG-LAB"
  event_buffer: 8
  read_buffer: 20
  track_disconnects: false
estim:
  poll_interval: 500ms
  min_power: 50
  max_power: 300
bpio:
  listen_port: 12345
  allowed_origins:
    - "http://localhost:8080"
  client_uri: "ws://127.0.0.1:12345"
log_level: debug
`
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Connector.NamePrefix != "DG-LAB" {
		t.Errorf("Connector.NamePrefix = %q, want %q", cfg.Connector.NamePrefix, "DG-LAB")
	}
	if cfg.Connector.EventBuffer != 8 {
		t.Errorf("Connector.EventBuffer = %d, want 8", cfg.Connector.EventBuffer)
	}
	if cfg.Connector.ReadBuffer != 20 {
		t.Errorf("Connector.ReadBuffer = %d, want 20", cfg.Connector.ReadBuffer)
	}
	if cfg.Connector.TrackDisconnects {
		t.Error("Connector.TrackDisconnects = true, want false")
	}
	if cfg.Estim.PollInterval != 500*time.Millisecond {
		t.Errorf("Estim.PollInterval = %v, want 500ms", cfg.Estim.PollInterval)
	}
	if cfg.Estim.MinPower != 50 || cfg.Estim.MaxPower != 300 {
		t.Errorf("Estim power range = [%d, %d], want [50, 300]", cfg.Estim.MinPower, cfg.Estim.MaxPower)
	}
	if cfg.BPIO.ListenPort != 12345 {
		t.Errorf("BPIO.ListenPort = %d, want 12345", cfg.BPIO.ListenPort)
	}
	if len(cfg.BPIO.AllowedOrigins) != 1 || cfg.BPIO.AllowedOrigins[0] != "http://localhost:8080" {
		t.Errorf("BPIO.AllowedOrigins = %v, want [http://localhost:8080]", cfg.BPIO.AllowedOrigins)
	}
	if cfg.BPIO.ClientURI != "ws://127.0.0.1:12345" {
		t.Errorf("BPIO.ClientURI = %q, want %q", cfg.BPIO.ClientURI, "ws://127.0.0.1:12345")
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "debug")
	}
}

func TestLoadPartialKeepsDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("log_level: warn\n"), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "warn")
	}
	if cfg.Connector.NamePrefix != "D-LAB ESTIM" {
		t.Errorf("Connector.NamePrefix = %q, want default", cfg.Connector.NamePrefix)
	}
	if cfg.Estim.PollInterval != 2*time.Second {
		t.Errorf("Estim.PollInterval = %v, want default 2s", cfg.Estim.PollInterval)
	}
}

func TestLoadFileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Error("Load() should return error for missing file")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("connector: [unterminated"), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	if _, err := Load(cfgPath); err == nil {
		t.Error("Load() should return error for invalid YAML")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{
			name:   "valid default",
			modify: func(c *Config) {},
		},
		{
			name:    "empty name prefix",
			modify:  func(c *Config) { c.Connector.NamePrefix = "" },
			wantErr: "name_prefix",
		},
		{
			name:    "zero event buffer",
			modify:  func(c *Config) { c.Connector.EventBuffer = 0 },
			wantErr: "event_buffer",
		},
		{
			name:    "read buffer too large",
			modify:  func(c *Config) { c.Connector.ReadBuffer = 513 },
			wantErr: "read_buffer",
		},
		{
			name:    "zero poll interval",
			modify:  func(c *Config) { c.Estim.PollInterval = 0 },
			wantErr: "poll_interval",
		},
		{
			name:    "inverted power range",
			modify:  func(c *Config) { c.Estim.MinPower = 300 },
			wantErr: "power range",
		},
		{
			name:    "negative min power",
			modify:  func(c *Config) { c.Estim.MinPower = -1 },
			wantErr: "power range",
		},
		{
			name:   "bpio server disabled",
			modify: func(c *Config) { c.BPIO.ListenPort = 0 },
		},
		{
			name:    "bpio port out of range",
			modify:  func(c *Config) { c.BPIO.ListenPort = 70000 },
			wantErr: "listen_port",
		},
		{
			name:   "bpio secure client uri",
			modify: func(c *Config) { c.BPIO.ClientURI = "wss://intiface.local:12345/" },
		},
		{
			name:    "bpio http client uri",
			modify:  func(c *Config) { c.BPIO.ClientURI = "http://127.0.0.1:12345" },
			wantErr: "client_uri",
		},
		{
			name:    "bpio client uri without host",
			modify:  func(c *Config) { c.BPIO.ClientURI = "ws://" },
			wantErr: "client_uri",
		},
		{
			name:    "invalid log level",
			modify:  func(c *Config) { c.LogLevel = "verbose" },
			wantErr: "log_level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Errorf("Validate() expected error containing %q, got nil", tt.wantErr)
				return
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %q, want it to contain %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestWriteDefault_CreatesFile(t *testing.T) {
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "sub", "config.yaml")

	if err := WriteDefault(cfgPath); err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}

	data, err := os.ReadFile(cfgPath)
	if err != nil {
		t.Fatalf("reading written config: %v", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("written config is not valid YAML: %v", err)
	}
	if cfg.Connector.NamePrefix != "D-LAB ESTIM" {
		t.Errorf("written Connector.NamePrefix = %q, want %q", cfg.Connector.NamePrefix, "D-LAB ESTIM")
	}
	if cfg.Estim.PollInterval != 2*time.Second {
		t.Errorf("written Estim.PollInterval = %v, want 2s", cfg.Estim.PollInterval)
	}
}

func TestWriteDefault_NoOpIfExists(t *testing.T) {
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	original := "log_level: error\n"
	if err := os.WriteFile(cfgPath, []byte(original), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	if err := WriteDefault(cfgPath); err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}

	data, err := os.ReadFile(cfgPath)
	if err != nil {
		t.Fatalf("reading config: %v", err)
	}
	if string(data) != original {
		t.Errorf("WriteDefault() overwrote existing file: got %q", string(data))
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"unknown", slog.LevelInfo}, // defaults to info
		{"", slog.LevelInfo},        // defaults to info
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := ParseLogLevel(tt.input)
			if got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}
