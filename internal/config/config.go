package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete bridge configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Whisper  WhisperConfig  `yaml:"whisper"`
	Audio    AudioConfig    `yaml:"audio"`
	JWT      JWTConfig      `yaml:"jwt"`
	Language LanguageConfig `yaml:"language"`
	Filter   FilterConfig   `yaml:"hallucination_filter"`
	HTTP     HTTPConfig     `yaml:"http"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig contains WebSocket server configuration
type ServerConfig struct {
	BindAddress    string `yaml:"bind_address"`
	Port           int    `yaml:"port"`
	PingInterval   int    `yaml:"ping_interval"`    // seconds
	PingTimeout    int    `yaml:"ping_timeout"`     // seconds
	MaxMessageSize int64  `yaml:"max_message_size"` // bytes
	ShutdownGrace  int    `yaml:"shutdown_grace"`   // seconds
}

// WhisperConfig contains recognition backend configuration
type WhisperConfig struct {
	URL        string `yaml:"url"`
	Timeout    int    `yaml:"timeout"` // seconds
	MaxRetries int    `yaml:"max_retries"`
}

// AudioConfig contains audio buffering and segmentation parameters
type AudioConfig struct {
	SampleRate       int     `yaml:"sample_rate"`
	ChunkDurationMs  int     `yaml:"chunk_duration_ms"`
	MinBufferMs      int     `yaml:"min_buffer_ms"`
	SilenceThreshold float64 `yaml:"silence_threshold"` // RMS on the PCM16 scale
	SilenceFrames    int     `yaml:"silence_frames"`    // consecutive low-energy frames for an early flush
}

// JWTConfig contains authentication configuration
type JWTConfig struct {
	Enabled       bool   `yaml:"enabled"`
	PublicKeyPath string `yaml:"public_key_path"`
	Audience      string `yaml:"audience"`
}

// LanguageConfig contains language selection configuration
type LanguageConfig struct {
	AutoDetectCode string `yaml:"auto_detect_code"`
	Default        string `yaml:"default"`
}

// FilterConfig contains hallucination filter configuration. The patterns map
// is keyed by base language tag plus the special key "common"; providing any
// patterns in the config file replaces the built-in table entirely.
type FilterConfig struct {
	Enabled   bool                `yaml:"enabled"`
	MinLength int                 `yaml:"min_length"`
	Patterns  map[string][]string `yaml:"patterns"`
}

// HTTPConfig contains monitoring API server configuration
type HTTPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns the built-in configuration used when no config file is
// given. File values are unmarshalled on top of it, so partial files work.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			BindAddress:    "127.0.0.1",
			Port:           9000,
			PingInterval:   20,
			PingTimeout:    20,
			MaxMessageSize: 10 * 1024 * 1024,
			ShutdownGrace:  10,
		},
		Whisper: WhisperConfig{
			URL:        "http://localhost:8080/inference",
			Timeout:    30,
			MaxRetries: 0,
		},
		Audio: AudioConfig{
			SampleRate:       16000,
			ChunkDurationMs:  3000,
			MinBufferMs:      600,
			SilenceThreshold: 50,
			SilenceFrames:    8,
		},
		JWT: JWTConfig{
			Enabled:       true,
			PublicKeyPath: "/etc/whisper-bridge/whisper-public-key.pem",
			Audience:      "whisper-service",
		},
		Language: LanguageConfig{
			AutoDetectCode: "auto",
			Default:        "en",
		},
		Filter: FilterConfig{
			Enabled:   true,
			MinLength: 3,
			Patterns:  DefaultPatterns(),
		},
		HTTP: HTTPConfig{
			Enabled: true,
			Address: "127.0.0.1",
			Port:    9100,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// DefaultPatterns returns the built-in hallucination pattern table: known
// recognizer artifacts per language plus a language-independent common set.
func DefaultPatterns() map[string][]string {
	return map[string][]string{
		"en": {`^thank you[\s!.]*$`, `^thanks[\s!.]*$`},
		"de": {`^danke[\s!.]*$`, `^vielen dank[\s!.]*$`},
		"fr": {`^merci[\s!.]*$`},
		"es": {`^gracias[\s!.]*$`},
		"nl": {`^dank je[\s!.]*$`, `^bedankt[\s!.]*$`, `^dank u wel[\s!.]*$`},
		"sk": {`^ďakujem[\s!.]*$`},
		"pl": {`^dziekuje.[\s!.]*$`},
		"sv": {`^tack[\s!.]*$`},
		"cn": {`^谢谢[\s!.]*$`, `^多谢[\s!.]*$`},
		"common": {
			`^thanks for watching[\s!.]*$`,
			`^please subscribe[\s!.]*$`,
			`^like and subscribe[\s!.]*$`,
			`^\[music\][\s.]*$`,
			`^\[applause\][\s.]*$`,
			`^subtitles by[\s.]*$`,
			`^www\..*\.com[\s.]*$`,
			`^off[\s.]*$`,
		},
	}
}

// Load reads the configuration file on top of the built-in defaults
func Load(path string) (*Config, error) {
	config := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.Whisper.Validate(); err != nil {
		return fmt.Errorf("whisper config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.JWT.Validate(); err != nil {
		return fmt.Errorf("jwt config: %w", err)
	}

	if err := c.Language.Validate(); err != nil {
		return fmt.Errorf("language config: %w", err)
	}

	if err := c.Filter.Validate(); err != nil {
		return fmt.Errorf("hallucination_filter config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	if s.BindAddress == "" {
		return fmt.Errorf("bind_address cannot be empty")
	}

	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", s.Port)
	}

	if s.PingInterval < 1 {
		return fmt.Errorf("ping_interval must be at least 1 second, got %d", s.PingInterval)
	}

	if s.PingTimeout < 1 {
		return fmt.Errorf("ping_timeout must be at least 1 second, got %d", s.PingTimeout)
	}

	if s.MaxMessageSize < 1024 {
		return fmt.Errorf("max_message_size must be at least 1024 bytes, got %d", s.MaxMessageSize)
	}

	if s.ShutdownGrace < 1 {
		return fmt.Errorf("shutdown_grace must be at least 1 second, got %d", s.ShutdownGrace)
	}

	return nil
}

// Validate validates whisper backend configuration
func (w *WhisperConfig) Validate() error {
	if w.URL == "" {
		return fmt.Errorf("url cannot be empty")
	}

	if w.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", w.Timeout)
	}

	if w.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", w.MaxRetries)
	}

	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	if a.SampleRate < 8000 {
		return fmt.Errorf("sample_rate must be at least 8000 Hz, got %d", a.SampleRate)
	}

	if a.ChunkDurationMs < 100 {
		return fmt.Errorf("chunk_duration_ms must be at least 100, got %d", a.ChunkDurationMs)
	}

	if a.MinBufferMs <= 0 {
		return fmt.Errorf("min_buffer_ms must be positive, got %d", a.MinBufferMs)
	}

	if a.MinBufferMs > a.ChunkDurationMs {
		return fmt.Errorf("min_buffer_ms (%d) must not exceed chunk_duration_ms (%d)",
			a.MinBufferMs, a.ChunkDurationMs)
	}

	if a.SilenceThreshold < 0 {
		return fmt.Errorf("silence_threshold cannot be negative, got %f", a.SilenceThreshold)
	}

	if a.SilenceFrames < 1 {
		return fmt.Errorf("silence_frames must be at least 1, got %d", a.SilenceFrames)
	}

	return nil
}

// Validate validates JWT configuration
func (j *JWTConfig) Validate() error {
	if j.Enabled {
		if j.PublicKeyPath == "" {
			return fmt.Errorf("public_key_path cannot be empty when jwt is enabled")
		}

		if j.Audience == "" {
			return fmt.Errorf("audience cannot be empty when jwt is enabled")
		}
	}

	return nil
}

// Validate validates language configuration
func (l *LanguageConfig) Validate() error {
	if l.AutoDetectCode == "" {
		return fmt.Errorf("auto_detect_code cannot be empty")
	}

	if l.Default == "" {
		return fmt.Errorf("default cannot be empty")
	}

	return nil
}

// Validate validates hallucination filter configuration
func (f *FilterConfig) Validate() error {
	if f.Enabled && f.MinLength < 0 {
		return fmt.Errorf("min_length cannot be negative, got %d", f.MinLength)
	}

	return nil
}

// Validate validates HTTP monitoring API configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// GetPingInterval returns the keepalive probe interval as a time.Duration
func (s *ServerConfig) GetPingInterval() time.Duration {
	return time.Duration(s.PingInterval) * time.Second
}

// GetPingTimeout returns the keepalive response timeout as a time.Duration
func (s *ServerConfig) GetPingTimeout() time.Duration {
	return time.Duration(s.PingTimeout) * time.Second
}

// GetShutdownGrace returns the shutdown grace period as a time.Duration
func (s *ServerConfig) GetShutdownGrace() time.Duration {
	return time.Duration(s.ShutdownGrace) * time.Second
}

// GetTimeoutDuration returns the backend request timeout as a time.Duration
func (w *WhisperConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(w.Timeout) * time.Second
}

// GetChunkDuration returns the segment flush boundary as a time.Duration
func (a *AudioConfig) GetChunkDuration() time.Duration {
	return time.Duration(a.ChunkDurationMs) * time.Millisecond
}

// GetMinBuffer returns the minimum flushable buffer span as a time.Duration
func (a *AudioConfig) GetMinBuffer() time.Duration {
	return time.Duration(a.MinBufferMs) * time.Millisecond
}
