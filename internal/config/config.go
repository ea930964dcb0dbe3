// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for taskchat.
//
// Configuration file location (in order of precedence):
//   - --config flag
//   - ~/.taskchat/config.toml
//   - Built-in defaults
package config

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/jeranaias/taskchat/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete taskchat configuration.
type Config struct {
	// Client side: the backend the chat view talks to
	Client ClientConfig `toml:"client"`

	// Stream session behaviour
	Stream StreamConfig `toml:"stream"`

	// Active-generation discovery fallback policy
	Discovery DiscoveryConfig `toml:"discovery"`

	// Unread tracking cadence
	Unread UnreadConfig `toml:"unread"`

	// Server side: the bundled chat backend
	Server ServerConfig `toml:"server"`

	// Text generation backend used by the server
	Generator GeneratorConfig `toml:"generator"`

	// Logging
	Log LogConfig `toml:"log"`
}

// ClientConfig contains settings for reaching the chat API.
type ClientConfig struct {
	BaseURL  string        `toml:"base_url" envconfig:"TASKCHAT_URL"`
	APIToken string        `toml:"api_token" envconfig:"TASKCHAT_API_TOKEN"`
	Timeout  time.Duration `toml:"timeout" envconfig:"TASKCHAT_TIMEOUT"`
	RetryMax int           `toml:"retry_max" envconfig:"TASKCHAT_RETRY_MAX"`
}

// StreamConfig contains stream session settings.
type StreamConfig struct {
	// CancelMarker is appended to the in-flight message on user abort.
	CancelMarker string `toml:"cancel_marker"`

	// ErrorMarker replaces the in-flight message content on a server error.
	// A single %s receives the server's error text.
	ErrorMarker string `toml:"error_marker"`

	AbortNotifyTimeout  time.Duration `toml:"abort_notify_timeout"`
	AbortNotifyAttempts uint          `toml:"abort_notify_attempts"`

	// MaxFrameSize bounds the transport reader's pending buffer.
	MaxFrameSize int `toml:"max_frame_size"`
}

// DiscoveryConfig tunes the fallback heuristic used when the server reports
// no running generation for a session.
type DiscoveryConfig struct {
	RecencyWindow    time.Duration `toml:"recency_window" envconfig:"TASKCHAT_RECENCY_WINDOW"`
	MinCompleteChars int           `toml:"min_complete_chars" envconfig:"TASKCHAT_MIN_COMPLETE_CHARS"`
}

// UnreadConfig contains unread tracker settings.
type UnreadConfig struct {
	CheckInterval  time.Duration `toml:"check_interval"`
	ScrollDebounce time.Duration `toml:"scroll_debounce"`

	// Ack pacing (requests per second and burst)
	AckRate  float64 `toml:"ack_rate"`
	AckBurst int     `toml:"ack_burst"`
}

// ServerConfig contains settings for the bundled backend.
type ServerConfig struct {
	Listen    string `toml:"listen" envconfig:"TASKCHAT_LISTEN"`
	DBPath    string `toml:"db_path" envconfig:"TASKCHAT_DB_PATH"`
	AuthToken string `toml:"auth_token" envconfig:"TASKCHAT_AUTH_TOKEN"`

	// HistoryWindow is the number of prior messages passed to the generator.
	HistoryWindow int `toml:"history_window"`

	JobRetention  time.Duration `toml:"job_retention"`
	PruneInterval time.Duration `toml:"prune_interval"`

	// Per-client request limiting
	RateLimit float64 `toml:"rate_limit"`
	RateBurst int     `toml:"rate_burst"`
}

// GeneratorConfig selects and configures the text generator.
type GeneratorConfig struct {
	Kind      string        `toml:"kind" envconfig:"TASKCHAT_GENERATOR"`
	OllamaURL string        `toml:"ollama_url" envconfig:"TASKCHAT_OLLAMA_URL"`
	Model     string        `toml:"model" envconfig:"TASKCHAT_MODEL"`
	EchoDelay time.Duration `toml:"echo_delay"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `toml:"level" envconfig:"TASKCHAT_LOG_LEVEL"`
	Format string `toml:"format" envconfig:"TASKCHAT_LOG_FORMAT"`
}

// Generator kinds
const (
	GeneratorEcho   = "echo"
	GeneratorOllama = "ollama"
)

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Client: ClientConfig{
			BaseURL:  "http://127.0.0.1:8686",
			Timeout:  30 * time.Second,
			RetryMax: 3,
		},

		Stream: StreamConfig{
			CancelMarker:        "\n\n[cancelled]",
			ErrorMarker:         "[error: %s]",
			AbortNotifyTimeout:  5 * time.Second,
			AbortNotifyAttempts: 3,
			MaxFrameSize:        64 * 1024,
		},

		Discovery: DiscoveryConfig{
			RecencyWindow:    30 * time.Minute,
			MinCompleteChars: 20,
		},

		Unread: UnreadConfig{
			CheckInterval:  500 * time.Millisecond,
			ScrollDebounce: 100 * time.Millisecond,
			AckRate:        4,
			AckBurst:       2,
		},

		Server: ServerConfig{
			Listen:        "127.0.0.1:8686",
			DBPath:        "", // filled from ConfigDir
			HistoryWindow: 10,
			JobRetention:  10 * time.Minute,
			PruneInterval: time.Minute,
			RateLimit:     20,
			RateBurst:     40,
		},

		Generator: GeneratorConfig{
			Kind:      GeneratorEcho,
			OllamaURL: "http://127.0.0.1:11434",
			Model:     "qwen2.5-coder:7b",
			EchoDelay: 40 * time.Millisecond,
		},

		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the taskchat configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".taskchat"), nil
}

// DefaultPath returns the path to the default TOML config file.
func DefaultPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load loads configuration from path, or from the default location when path
// is empty. A missing file is not an error. Environment overrides (including
// a .env file in the working directory) are applied after the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		p, err := DefaultPath()
		if err == nil {
			path = p
		}
	}

	if path != "" {
		if _, statErr := os.Stat(path); statErr == nil {
			if err := LoadTOML(cfg, path); err != nil {
				return nil, err
			}
		} else if !errors.Is(statErr, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to stat config file: %w", statErr)
		}
	}

	if err := cfg.ApplyEnvOverrides(); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadTOML decodes a TOML file over cfg.
func LoadTOML(cfg *Config, path string) error {
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return ValidationError{Field: strings.Join(keys, ","), Message: "unknown configuration key"}
	}
	return nil
}

// ApplyEnvOverrides loads an optional .env file and applies TASKCHAT_*
// environment variables over the current values.
func (c *Config) ApplyEnvOverrides() error {
	_ = godotenv.Load()
	return envconfig.Process("", c)
}

// SetDefaults fills zero values that have no sensible zero meaning.
func (c *Config) SetDefaults() {
	def := Default()

	if c.Client.BaseURL == "" {
		c.Client.BaseURL = def.Client.BaseURL
	}
	c.Client.BaseURL = strings.TrimRight(c.Client.BaseURL, "/")
	if c.Client.Timeout <= 0 {
		c.Client.Timeout = def.Client.Timeout
	}

	if c.Stream.CancelMarker == "" {
		c.Stream.CancelMarker = def.Stream.CancelMarker
	}
	if c.Stream.ErrorMarker == "" {
		c.Stream.ErrorMarker = def.Stream.ErrorMarker
	}
	if c.Stream.AbortNotifyTimeout <= 0 {
		c.Stream.AbortNotifyTimeout = def.Stream.AbortNotifyTimeout
	}
	if c.Stream.AbortNotifyAttempts == 0 {
		c.Stream.AbortNotifyAttempts = def.Stream.AbortNotifyAttempts
	}
	if c.Stream.MaxFrameSize <= 0 {
		c.Stream.MaxFrameSize = def.Stream.MaxFrameSize
	}

	if c.Unread.CheckInterval <= 0 {
		c.Unread.CheckInterval = def.Unread.CheckInterval
	}
	if c.Unread.ScrollDebounce <= 0 {
		c.Unread.ScrollDebounce = def.Unread.ScrollDebounce
	}
	if c.Unread.AckBurst <= 0 {
		c.Unread.AckBurst = def.Unread.AckBurst
	}

	if c.Server.Listen == "" {
		c.Server.Listen = def.Server.Listen
	}
	if c.Server.DBPath == "" {
		if dir, err := ConfigDir(); err == nil {
			c.Server.DBPath = filepath.Join(dir, "chat.db")
		}
	}
	if c.Server.HistoryWindow <= 0 {
		c.Server.HistoryWindow = def.Server.HistoryWindow
	}
	if c.Server.JobRetention <= 0 {
		c.Server.JobRetention = def.Server.JobRetention
	}
	if c.Server.PruneInterval <= 0 {
		c.Server.PruneInterval = def.Server.PruneInterval
	}
	if c.Server.RateBurst <= 0 {
		c.Server.RateBurst = def.Server.RateBurst
	}

	if c.Generator.Kind == "" {
		c.Generator.Kind = def.Generator.Kind
	}
	c.Generator.Kind = strings.ToLower(c.Generator.Kind)
	if c.Generator.OllamaURL == "" {
		c.Generator.OllamaURL = def.Generator.OllamaURL
	}
	if c.Generator.Model == "" {
		c.Generator.Model = def.Generator.Model
	}

	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = def.Log.Format
	}
}

// =============================================================================
// SAVE
// =============================================================================

// Save writes the configuration to path as TOML.
// RELIABILITY: Atomic write with fsync prevents a half-written config.
func Save(cfg *Config, path string) error {
	var buf bytes.Buffer
	buf.WriteString("# taskchat configuration file\n")
	buf.WriteString("# Generated by taskchat - edit with care\n\n")

	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	// SECURITY: Config may hold API tokens (0600 = owner read/write only)
	if err := util.AtomicWriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	var errs ValidateErrors

	if err := validateHTTPURL(c.Client.BaseURL); err != nil {
		errs = append(errs, ValidationError{Field: "client.base_url", Message: err.Error()})
	}
	if c.Client.RetryMax < 0 || c.Client.RetryMax > 10 {
		errs = append(errs, ValidationError{
			Field:   "client.retry_max",
			Message: fmt.Sprintf("must be between 0 and 10, got %d", c.Client.RetryMax),
		})
	}

	if strings.Count(c.Stream.ErrorMarker, "%s") > 1 {
		errs = append(errs, ValidationError{Field: "stream.error_marker", Message: "at most one %s placeholder allowed"})
	}

	if c.Discovery.RecencyWindow < 0 {
		errs = append(errs, ValidationError{Field: "discovery.recency_window", Message: "must not be negative"})
	}
	if c.Discovery.MinCompleteChars < 0 {
		errs = append(errs, ValidationError{Field: "discovery.min_complete_chars", Message: "must not be negative"})
	}

	if c.Unread.ScrollDebounce > c.Unread.CheckInterval*10 {
		errs = append(errs, ValidationError{
			Field:   "unread.scroll_debounce",
			Message: fmt.Sprintf("debounce %s is too long for check interval %s", c.Unread.ScrollDebounce, c.Unread.CheckInterval),
		})
	}
	if c.Unread.AckRate < 0 {
		errs = append(errs, ValidationError{Field: "unread.ack_rate", Message: "must not be negative"})
	}

	if c.Server.RateLimit < 0 {
		errs = append(errs, ValidationError{Field: "server.rate_limit", Message: "must not be negative"})
	}

	switch c.Generator.Kind {
	case GeneratorEcho:
	case GeneratorOllama:
		if err := validateHTTPURL(c.Generator.OllamaURL); err != nil {
			errs = append(errs, ValidationError{Field: "generator.ollama_url", Message: err.Error()})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "generator.kind",
			Message: fmt.Sprintf("invalid generator '%s', must be one of: echo, ollama", c.Generator.Kind),
		})
	}

	switch strings.ToLower(c.Log.Level) {
	case "trace", "debug", "info", "warn", "error", "disabled":
	default:
		errs = append(errs, ValidationError{
			Field:   "log.level",
			Message: fmt.Sprintf("invalid level '%s'", c.Log.Level),
		})
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		errs = append(errs, ValidationError{
			Field:   "log.format",
			Message: fmt.Sprintf("invalid format '%s', must be one of: console, json", c.Log.Format),
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("URL must include a host")
	}
	return nil
}
