package config

import (
	"fmt"
	"time"
)

// LLMConfig represents the configuration for the LLM provider
type LLMConfig struct {
	Provider    string
	MaxBodySize int
}

// BedrockConfig represents the configuration for Amazon Bedrock
type BedrockConfig struct {
	Region      string
	ModelID     string
	MaxTokens   int
	Temperature float32
	TopP        float32
}

// GeminiConfig represents the configuration for Google Gemini
type GeminiConfig struct {
	APIKey      string
	ModelName   string
	MaxTokens   int
	Temperature float32
	TopP        float32
}

// OpenAIConfig represents the configuration for OpenAI
type OpenAIConfig struct {
	APIKey      string
	ModelName   string
	MaxTokens   int
	Temperature float32
	TopP        float32
}

// StoreConfig represents the configuration for the fingerprint store
type StoreConfig struct {
	Type       string
	SQLitePath string
	MySQLDSN   string
}

// MonitorConfig represents the tunables of the monitoring loop
type MonitorConfig struct {
	BatchSize             int
	IdleTimeout           time.Duration
	MaxPerCycle           int
	LookbackDays          int
	ReconnectBaseDelay    time.Duration
	ReconnectMaxDelay     time.Duration
	StorageRetryDelay     time.Duration
	RetryDelay            time.Duration
	MaxBatchAttempts      int
	MaxMessageAttempts    int
	MaxConcurrentRequests int
	DryRun                bool
}

// CategoryConfig represents one routing category of an account
type CategoryConfig struct {
	Name        string `mapstructure:"name"`
	Description string `mapstructure:"description"`
	Folder      string `mapstructure:"folder"`
}

// AccountConfig represents one monitored mailbox account. TLS is a pointer
// so an absent key defaults to true rather than false.
type AccountConfig struct {
	Name       string           `mapstructure:"name"`
	Host       string           `mapstructure:"host"`
	Port       int              `mapstructure:"port"`
	TLS        *bool            `mapstructure:"tls"`
	Username   string           `mapstructure:"username"`
	Password   string           `mapstructure:"password"`
	Folders    []string         `mapstructure:"folders"`
	Categories []CategoryConfig `mapstructure:"categories"`
}

// GetLLM returns the LLM configuration
func (c *Config) GetLLM() LLMConfig {
	return LLMConfig{
		Provider:    c.GetString("llm.provider"),
		MaxBodySize: c.GetInt("llm.max_body_size"),
	}
}

// GetBedrock returns the Bedrock configuration
func (c *Config) GetBedrock() BedrockConfig {
	return BedrockConfig{
		Region:      c.GetString("bedrock.region"),
		ModelID:     c.GetString("bedrock.model_id"),
		MaxTokens:   c.GetInt("bedrock.max_tokens"),
		Temperature: float32(c.GetFloat64("bedrock.temperature")),
		TopP:        float32(c.GetFloat64("bedrock.top_p")),
	}
}

// GetGemini returns the Gemini configuration
func (c *Config) GetGemini() GeminiConfig {
	return GeminiConfig{
		APIKey:      c.GetString("gemini.api_key"),
		ModelName:   c.GetString("gemini.model_name"),
		MaxTokens:   c.GetInt("gemini.max_tokens"),
		Temperature: float32(c.GetFloat64("gemini.temperature")),
		TopP:        float32(c.GetFloat64("gemini.top_p")),
	}
}

// GetOpenAI returns the OpenAI configuration
func (c *Config) GetOpenAI() OpenAIConfig {
	return OpenAIConfig{
		APIKey:      c.GetString("openai.api_key"),
		ModelName:   c.GetString("openai.model_name"),
		MaxTokens:   c.GetInt("openai.max_tokens"),
		Temperature: float32(c.GetFloat64("openai.temperature")),
		TopP:        float32(c.GetFloat64("openai.top_p")),
	}
}

// GetStore returns the fingerprint store configuration
func (c *Config) GetStore() StoreConfig {
	return StoreConfig{
		Type:       c.GetString("store.type"),
		SQLitePath: c.GetString("store.sqlite_path"),
		MySQLDSN:   c.GetString("store.mysql_dsn"),
	}
}

// GetMonitor returns the monitoring loop configuration
func (c *Config) GetMonitor() (MonitorConfig, error) {
	idleTimeout, err := c.GetDuration("monitor.idle_timeout")
	if err != nil {
		return MonitorConfig{}, fmt.Errorf("invalid monitor.idle_timeout: %w", err)
	}
	baseDelay, err := c.GetDuration("monitor.reconnect_base_delay")
	if err != nil {
		return MonitorConfig{}, fmt.Errorf("invalid monitor.reconnect_base_delay: %w", err)
	}
	maxDelay, err := c.GetDuration("monitor.reconnect_max_delay")
	if err != nil {
		return MonitorConfig{}, fmt.Errorf("invalid monitor.reconnect_max_delay: %w", err)
	}
	storageDelay, err := c.GetDuration("monitor.storage_retry_delay")
	if err != nil {
		return MonitorConfig{}, fmt.Errorf("invalid monitor.storage_retry_delay: %w", err)
	}
	retryDelay, err := c.GetDuration("monitor.retry_delay")
	if err != nil {
		return MonitorConfig{}, fmt.Errorf("invalid monitor.retry_delay: %w", err)
	}

	return MonitorConfig{
		BatchSize:             c.GetInt("monitor.batch_size"),
		IdleTimeout:           idleTimeout,
		MaxPerCycle:           c.GetInt("monitor.max_per_cycle"),
		LookbackDays:          c.GetInt("monitor.lookback_days"),
		ReconnectBaseDelay:    baseDelay,
		ReconnectMaxDelay:     maxDelay,
		StorageRetryDelay:     storageDelay,
		RetryDelay:            retryDelay,
		MaxBatchAttempts:      c.GetInt("monitor.max_batch_attempts"),
		MaxMessageAttempts:    c.GetInt("monitor.max_message_attempts"),
		MaxConcurrentRequests: c.GetInt("monitor.max_concurrent_requests"),
		DryRun:                c.GetBool("monitor.dry_run"),
	}, nil
}

// GetAccounts returns the configured mailbox accounts
func (c *Config) GetAccounts() ([]AccountConfig, error) {
	var accounts []AccountConfig
	if err := c.v.UnmarshalKey("accounts", &accounts); err != nil {
		return nil, fmt.Errorf("failed to parse accounts: %w", err)
	}
	return accounts, nil
}
