// Package config loads and validates the artificer configuration file and
// watches it for security policy changes.
package config

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/artificer-ai/artificer/pkg/provider"
	"github.com/artificer-ai/artificer/pkg/security"
)

// Config is the full configuration tree, persisted as JSON.
type Config struct {
	// Data directory; derived paths default under it.
	DataDir string `json:"data_dir" mapstructure:"data_dir"`

	Model         ModelConfig         `json:"model" mapstructure:"model"`
	AI            AIConfig            `json:"ai" mapstructure:"ai"`
	Security      security.Policy     `json:"security" mapstructure:"security"`
	Engine        EngineConfig        `json:"engine" mapstructure:"engine"`
	Sessions      SessionsConfig      `json:"sessions" mapstructure:"sessions"`
	Store         StoreConfig         `json:"store" mapstructure:"store"`
	Logging       LoggingConfig       `json:"logging" mapstructure:"logging"`
	Observability ObservabilityConfig `json:"observability" mapstructure:"observability"`
}

// ObservabilityConfig tunes the metrics endpoint and audit trail.
type ObservabilityConfig struct {
	// MetricsAddr serves Prometheus metrics when set, e.g. "127.0.0.1:9464".
	MetricsAddr string `json:"metrics_addr" mapstructure:"metrics_addr"`
	// AuditFile defaults to audit.jsonl under the data directory.
	AuditFile string `json:"audit_file" mapstructure:"audit_file"`
}

// ModelConfig tunes the conversation loop.
type ModelConfig struct {
	Default      string  `json:"default" mapstructure:"default"`
	SystemPrompt string  `json:"system_prompt" mapstructure:"system_prompt"`
	Temperature  float64 `json:"temperature" mapstructure:"temperature"`
	MaxTokens    int     `json:"max_tokens" mapstructure:"max_tokens"`
	MaxSteps     int     `json:"max_steps" mapstructure:"max_steps"`
}

// AIConfig holds the ordered provider auth profiles.
type AIConfig struct {
	Profiles []provider.AuthProfile `json:"profiles" mapstructure:"profiles"`
}

// EngineConfig tunes tool execution bounds. Durations are in seconds.
type EngineConfig struct {
	BuiltinTimeoutSeconds int `json:"builtin_timeout_seconds" mapstructure:"builtin_timeout_seconds"`
	DynamicTimeoutSeconds int `json:"dynamic_timeout_seconds" mapstructure:"dynamic_timeout_seconds"`
	MaxOutputBytes        int `json:"max_output_bytes" mapstructure:"max_output_bytes"`
}

// SessionsConfig tunes conversation persistence and retention.
type SessionsConfig struct {
	Dir           string `json:"dir" mapstructure:"dir"`
	RetentionDays int    `json:"retention_days" mapstructure:"retention_days"`
	MaxTurns      int    `json:"max_turns" mapstructure:"max_turns"`
}

// StoreConfig locates the tool database.
type StoreConfig struct {
	Path string `json:"path" mapstructure:"path"`
}

// LoggingConfig tunes log output.
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress  bool   `json:"compress" mapstructure:"compress"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// DefaultConfig returns a config with default values. The AI profile list
// is empty; Validate rejects it until credentials are configured.
func DefaultConfig() *Config {
	return &Config{
		Model: ModelConfig{
			Default:     "claude-sonnet-4-5",
			Temperature: 0.7,
			MaxTokens:   4096,
			MaxSteps:    10,
		},
		AI:       AIConfig{Profiles: []provider.AuthProfile{}},
		Security: security.DefaultPolicy(),
		Engine: EngineConfig{
			BuiltinTimeoutSeconds: 30,
			DynamicTimeoutSeconds: 5,
			MaxOutputBytes:        10 * 1024,
		},
		Sessions: SessionsConfig{
			RetentionDays: 7,
			MaxTurns:      500,
		},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSize:   100,
			MaxAge:    7,
			Compress:  true,
			Redaction: true,
		},
	}
}

// String returns a JSON representation of the config.
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

var validProviders = map[string]bool{"anthropic": true, "openai": true}

// Validate checks if the configuration is usable.
func (c *Config) Validate() error {
	if len(c.AI.Profiles) == 0 {
		return fmt.Errorf("no AI credentials configured: at least one AI profile is required")
	}

	seen := map[string]bool{}
	for i, profile := range c.AI.Profiles {
		if profile.ID == "" {
			return fmt.Errorf("AI profile %d: ID is required", i)
		}
		if seen[profile.ID] {
			return fmt.Errorf("AI profile %s: duplicate ID", profile.ID)
		}
		seen[profile.ID] = true

		if !validProviders[profile.Provider] {
			return fmt.Errorf("AI profile %s: invalid provider %q (must be: anthropic, openai)", profile.ID, profile.Provider)
		}
		if err := validateAPIKey(profile.APIKey, profile.Provider); err != nil {
			return fmt.Errorf("AI profile %s: %w", profile.ID, err)
		}
	}

	if c.Model.Default == "" {
		return fmt.Errorf("model.default is required")
	}
	if c.Model.Temperature < 0 || c.Model.Temperature > 2 {
		return fmt.Errorf("model.temperature must be between 0 and 2")
	}
	if c.Model.MaxSteps < 0 {
		return fmt.Errorf("model.max_steps cannot be negative")
	}

	if c.Engine.BuiltinTimeoutSeconds < 0 || c.Engine.DynamicTimeoutSeconds < 0 {
		return fmt.Errorf("engine timeouts cannot be negative")
	}

	if c.Sessions.RetentionDays < 0 {
		return fmt.Errorf("sessions.retention_days cannot be negative")
	}

	switch c.Logging.Level {
	case "", "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging level %q", c.Logging.Level)
	}

	return nil
}

// validateAPIKey checks the provider-specific key prefix.
func validateAPIKey(key, providerName string) error {
	if key == "" {
		return fmt.Errorf("api_key is required")
	}
	switch providerName {
	case "anthropic":
		if !strings.HasPrefix(key, "sk-ant-") {
			return fmt.Errorf("invalid Anthropic API key format (should start with sk-ant-)")
		}
	case "openai":
		if !strings.HasPrefix(key, "sk-") {
			return fmt.Errorf("invalid OpenAI API key format (should start with sk-)")
		}
	}
	return nil
}
