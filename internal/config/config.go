// Package config loads and validates the chatd configuration.
//
// DESIGN: Configuration comes from a YAML file with ${VAR:-default} env
// expansion. Unlike a multi-tenant deployment there is one conversation and
// one backend, so missing optional fields fall back to Default() values and
// Validate() only rejects settings that cannot work.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for chatd.
type Config struct {
	Server     ServerConfig     `yaml:"server"`     // HTTP server settings
	Backend    BackendConfig    `yaml:"backend"`    // Text-generation backend
	History    HistoryConfig    `yaml:"history"`    // Conversation bound
	Uploads    UploadConfig     `yaml:"uploads"`    // Document upload handling
	Context    ContextConfig    `yaml:"context"`    // System context file
	Monitoring MonitoringConfig `yaml:"monitoring"` // Logging and metrics
}

// ServerConfig contains HTTP server settings. WriteTimeout stays zero by
// default: chat responses are long-lived event streams.
type ServerConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// BackendConfig points at an OpenAI-compatible completion endpoint such as
// LM Studio. A zero Timeout means generation is never cut off by the client.
type BackendConfig struct {
	BaseURL string        `yaml:"base_url"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
}

// HistoryConfig bounds the rolling conversation. The store keeps at most
// 2*MaxTurns entries after each chat request.
type HistoryConfig struct {
	MaxTurns int `yaml:"max_turns"`
}

// UploadConfig controls document uploads.
type UploadConfig struct {
	Dir      string `yaml:"dir"`
	MaxBytes int64  `yaml:"max_bytes"`
}

// ContextConfig locates the system context file.
type ContextConfig struct {
	File string `yaml:"file"`
}

// MonitoringConfig groups logging and metrics settings.
type MonitoringConfig struct {
	Log     LoggerConfig `yaml:"log"`
	Metrics bool         `yaml:"metrics"`
}

// LoggerConfig configures the zerolog logger.
type LoggerConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json or console
	Output string `yaml:"output"` // stdout, stderr, or a file path
}

// Default returns the configuration used when no file is provided.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        5000,
			ReadTimeout: 30 * time.Second,
		},
		Backend: BackendConfig{
			BaseURL: "http://127.0.0.1:1234",
			Model:   "falcon3-3b-instruct",
		},
		History: HistoryConfig{MaxTurns: 10},
		Uploads: UploadConfig{
			Dir:      "uploads",
			MaxBytes: 16 << 20,
		},
		Context: ContextConfig{File: "context.txt"},
		Monitoring: MonitoringConfig{
			Log:     LoggerConfig{Level: "info", Format: "console", Output: "stdout"},
			Metrics: true,
		},
	}
}

// envPattern matches ${VAR} or ${VAR:-default}.
var envPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandEnvWithDefaults expands environment variables with support for
// ${VAR:-default} syntax.
func expandEnvWithDefaults(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := envPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		if len(parts) > 2 {
			return parts[2]
		}
		return ""
	})
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file %q: %w", path, err)
	}
	return LoadFromBytes(data)
}

// LoadFromBytes parses configuration from raw YAML, expands env vars, fills
// unset fields from Default() and validates the result.
func LoadFromBytes(data []byte) (*Config, error) {
	cfg := Default()
	expanded := expandEnvWithDefaults(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.fillDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// fillDefaults restores defaults for fields the YAML left unset.
func (c *Config) fillDefaults() {
	def := Default()
	if c.Server.Port == 0 {
		c.Server.Port = def.Server.Port
	}
	if c.Backend.BaseURL == "" {
		c.Backend.BaseURL = def.Backend.BaseURL
	}
	if c.Backend.Model == "" {
		c.Backend.Model = def.Backend.Model
	}
	if c.History.MaxTurns == 0 {
		c.History.MaxTurns = def.History.MaxTurns
	}
	if c.Uploads.Dir == "" {
		c.Uploads.Dir = def.Uploads.Dir
	}
	if c.Uploads.MaxBytes == 0 {
		c.Uploads.MaxBytes = def.Uploads.MaxBytes
	}
	if c.Context.File == "" {
		c.Context.File = def.Context.File
	}
	if c.Monitoring.Log.Level == "" {
		c.Monitoring.Log.Level = def.Monitoring.Log.Level
	}
	if c.Monitoring.Log.Output == "" {
		c.Monitoring.Log.Output = def.Monitoring.Log.Output
	}
}

// Validate checks that the configuration can work.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Backend.BaseURL == "" {
		return fmt.Errorf("backend.base_url is required")
	}
	if c.Backend.Model == "" {
		return fmt.Errorf("backend.model is required")
	}
	if c.History.MaxTurns < 1 {
		return fmt.Errorf("history.max_turns must be positive")
	}
	if c.Uploads.MaxBytes < 1 {
		return fmt.Errorf("uploads.max_bytes must be positive")
	}
	if c.Context.File == "" {
		return fmt.Errorf("context.file is required")
	}
	return nil
}
