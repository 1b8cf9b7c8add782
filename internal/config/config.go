package config

import (
	"encoding/json"
	"fmt"
)

// Config represents the main Glove configuration
type Config struct {
	// Agent behavior
	Agent AgentConfig `json:"agent" mapstructure:"agent"`

	// Compaction thresholds
	Compaction CompactionConfig `json:"compaction" mapstructure:"compaction"`

	// Session persistence
	Sessions SessionsConfig `json:"sessions" mapstructure:"sessions"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Metrics endpoint
	Metrics MetricsConfig `json:"metrics" mapstructure:"metrics"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`

	// AI configuration
	AI AIConfig `json:"ai" mapstructure:"ai"`
}

// AgentConfig holds model and loop settings for the agent
type AgentConfig struct {
	Model        string  `json:"model" mapstructure:"model"`
	Temperature  float64 `json:"temperature" mapstructure:"temperature"`
	MaxTokens    int     `json:"max_tokens" mapstructure:"max_tokens"`
	SystemPrompt string  `json:"system_prompt" mapstructure:"system_prompt"`
	MaxRetries   int     `json:"max_retries" mapstructure:"max_retries"`
}

// CompactionConfig controls when and how history is summarized
type CompactionConfig struct {
	MaxTurns         int    `json:"max_turns" mapstructure:"max_turns"`
	MaxTokens        int    `json:"max_tokens" mapstructure:"max_tokens"`
	SummaryModel     string `json:"summary_model" mapstructure:"summary_model"`
	SummaryMaxTokens int    `json:"summary_max_tokens" mapstructure:"summary_max_tokens"`
}

// SessionsConfig holds session persistence settings
type SessionsConfig struct {
	Dir        string `json:"dir" mapstructure:"dir"`
	DefaultKey string `json:"default_key" mapstructure:"default_key"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level    string `json:"level" mapstructure:"level"`   // debug, info, warn, error
	Format   string `json:"format" mapstructure:"format"` // json, console
	File     string `json:"file" mapstructure:"file"`
	MaxSize  int    `json:"max_size_mb" mapstructure:"max_size_mb"`
	MaxAge   int    `json:"max_age_days" mapstructure:"max_age_days"`
	Compress bool   `json:"compress" mapstructure:"compress"`
}

// MetricsConfig holds Prometheus endpoint configuration
type MetricsConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Addr    string `json:"addr" mapstructure:"addr"`
}

// AIConfig holds AI provider profiles
type AIConfig struct {
	Profiles []AIProfile `json:"profiles" mapstructure:"profiles"`
}

// AIProfile describes a single provider credential with failover priority
type AIProfile struct {
	ID       string `json:"id" mapstructure:"id"`
	Provider string `json:"provider" mapstructure:"provider"` // anthropic, openai
	APIKey   string `json:"api_key" mapstructure:"api_key"`
	Priority int    `json:"priority" mapstructure:"priority"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Agent: AgentConfig{
			Model:       "claude-sonnet-4-5",
			Temperature: 0.7,
			MaxTokens:   4096,
			MaxRetries:  3,
		},
		Compaction: CompactionConfig{
			MaxTurns:         50,
			MaxTokens:        100000,
			SummaryMaxTokens: 1024,
		},
		Sessions: SessionsConfig{
			DefaultKey: "default",
		},
		Logging: LoggingConfig{
			Level:   "info",
			Format:  "json",
			MaxSize: 100,
			MaxAge:  7,
		},
		Metrics: MetricsConfig{
			Addr: "127.0.0.1:9090",
		},
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if len(c.AI.Profiles) == 0 {
		return fmt.Errorf("at least one AI profile is required")
	}

	for i, profile := range c.AI.Profiles {
		switch profile.Provider {
		case "anthropic", "openai":
		default:
			return fmt.Errorf("ai profile %d (%s): unsupported provider %q", i, profile.ID, profile.Provider)
		}
		if profile.APIKey == "" {
			return fmt.Errorf("ai profile %d (%s): api_key is required", i, profile.ID)
		}
	}

	if c.Agent.Model == "" {
		return fmt.Errorf("agent model is required")
	}
	if c.Agent.Temperature < 0 || c.Agent.Temperature > 1 {
		return fmt.Errorf("agent temperature must be between 0 and 1, got %f", c.Agent.Temperature)
	}
	if c.Agent.MaxTokens <= 0 {
		return fmt.Errorf("agent max_tokens must be positive, got %d", c.Agent.MaxTokens)
	}

	if c.Compaction.MaxTurns < 0 {
		return fmt.Errorf("compaction max_turns must be >= 0")
	}
	if c.Compaction.MaxTokens < 0 {
		return fmt.Errorf("compaction max_tokens must be >= 0")
	}

	return nil
}

// String returns a JSON representation with API keys redacted
func (c *Config) String() string {
	redacted := *c
	redacted.AI.Profiles = make([]AIProfile, len(c.AI.Profiles))
	copy(redacted.AI.Profiles, c.AI.Profiles)
	for i := range redacted.AI.Profiles {
		if redacted.AI.Profiles[i].APIKey != "" {
			redacted.AI.Profiles[i].APIKey = "***"
		}
	}

	data, err := json.MarshalIndent(redacted, "", "  ")
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
