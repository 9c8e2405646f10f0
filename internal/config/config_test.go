package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(*Config)
		expectError bool
		errorMsg    string
	}{
		{
			name:        "valid defaults",
			mutate:      func(c *Config) {},
			expectError: false,
		},
		{
			name:        "invalid server port",
			mutate:      func(c *Config) { c.Server.Port = 70000 },
			expectError: true,
			errorMsg:    "port must be between",
		},
		{
			name:        "empty bind address",
			mutate:      func(c *Config) { c.Server.BindAddress = "" },
			expectError: true,
			errorMsg:    "bind_address",
		},
		{
			name:        "tiny max message size",
			mutate:      func(c *Config) { c.Server.MaxMessageSize = 100 },
			expectError: true,
			errorMsg:    "max_message_size",
		},
		{
			name:        "empty whisper url",
			mutate:      func(c *Config) { c.Whisper.URL = "" },
			expectError: true,
			errorMsg:    "url cannot be empty",
		},
		{
			name:        "negative retries",
			mutate:      func(c *Config) { c.Whisper.MaxRetries = -1 },
			expectError: true,
			errorMsg:    "max_retries",
		},
		{
			name:        "sample rate too low",
			mutate:      func(c *Config) { c.Audio.SampleRate = 4000 },
			expectError: true,
			errorMsg:    "sample_rate",
		},
		{
			name: "floor above chunk duration",
			mutate: func(c *Config) {
				c.Audio.ChunkDurationMs = 500
				c.Audio.MinBufferMs = 600
			},
			expectError: true,
			errorMsg:    "min_buffer_ms",
		},
		{
			name:        "zero silence frames",
			mutate:      func(c *Config) { c.Audio.SilenceFrames = 0 },
			expectError: true,
			errorMsg:    "silence_frames",
		},
		{
			name:        "jwt enabled without key path",
			mutate:      func(c *Config) { c.JWT.PublicKeyPath = "" },
			expectError: true,
			errorMsg:    "public_key_path",
		},
		{
			name: "jwt disabled allows empty trust material",
			mutate: func(c *Config) {
				c.JWT.Enabled = false
				c.JWT.PublicKeyPath = ""
				c.JWT.Audience = ""
			},
			expectError: false,
		},
		{
			name:        "empty auto detect code",
			mutate:      func(c *Config) { c.Language.AutoDetectCode = "" },
			expectError: true,
			errorMsg:    "auto_detect_code",
		},
		{
			name:        "invalid log level",
			mutate:      func(c *Config) { c.Logging.Level = "verbose" },
			expectError: true,
			errorMsg:    "level must be one of",
		},
		{
			name: "http enabled without address",
			mutate: func(c *Config) {
				c.HTTP.Enabled = true
				c.HTTP.Address = ""
			},
			expectError: true,
			errorMsg:    "http address",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.expectError {
				if err == nil {
					t.Fatalf("expected validation error containing %q, got nil", tt.errorMsg)
				}
				if !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("expected error containing %q, got %q", tt.errorMsg, err.Error())
				}
			} else if err != nil {
				t.Fatalf("unexpected validation error: %v", err)
			}
		})
	}
}

func TestLoadMergesOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	content := `
server:
  bind_address: "0.0.0.0"
  port: 9900
whisper:
  url: "http://whisper.internal:8080/inference"
jwt:
  enabled: false
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != 9900 {
		t.Errorf("expected port 9900, got %d", cfg.Server.Port)
	}
	if cfg.Server.BindAddress != "0.0.0.0" {
		t.Errorf("expected bind address 0.0.0.0, got %s", cfg.Server.BindAddress)
	}
	if cfg.Whisper.URL != "http://whisper.internal:8080/inference" {
		t.Errorf("unexpected whisper url: %s", cfg.Whisper.URL)
	}
	if cfg.JWT.Enabled {
		t.Error("expected jwt to be disabled")
	}

	// Untouched sections keep their defaults.
	if cfg.Audio.ChunkDurationMs != 3000 {
		t.Errorf("expected default chunk_duration_ms 3000, got %d", cfg.Audio.ChunkDurationMs)
	}
	if cfg.Server.PingInterval != 20 {
		t.Errorf("expected default ping_interval 20, got %d", cfg.Server.PingInterval)
	}
	if len(cfg.Filter.Patterns["common"]) == 0 {
		t.Error("expected built-in common hallucination patterns")
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestLoadEmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load with empty path failed: %v", err)
	}

	if cfg.Server.Port != 9000 {
		t.Errorf("expected default port 9000, got %d", cfg.Server.Port)
	}
	if cfg.Whisper.MaxRetries != 0 {
		t.Errorf("expected default max_retries 0, got %d", cfg.Whisper.MaxRetries)
	}
}

func TestDurationGetters(t *testing.T) {
	cfg := Default()

	if got := cfg.Server.GetPingInterval(); got != 20*time.Second {
		t.Errorf("GetPingInterval: expected 20s, got %v", got)
	}
	if got := cfg.Audio.GetChunkDuration(); got != 3*time.Second {
		t.Errorf("GetChunkDuration: expected 3s, got %v", got)
	}
	if got := cfg.Audio.GetMinBuffer(); got != 600*time.Millisecond {
		t.Errorf("GetMinBuffer: expected 600ms, got %v", got)
	}
	if got := cfg.Whisper.GetTimeoutDuration(); got != 30*time.Second {
		t.Errorf("GetTimeoutDuration: expected 30s, got %v", got)
	}
}
