package config

import (
	"os"

	"github.com/spf13/viper"
)

// Config holds the application configuration
type Config struct {
	LLM    LLMConfig    `mapstructure:"llm"`
	Server ServerConfig `mapstructure:"server"`
	Store  StoreConfig  `mapstructure:"store"`
	Log    LogConfig    `mapstructure:"log"`
}

// LLMConfig holds the model provider configuration
type LLMConfig struct {
	BaseURL      string `mapstructure:"base_url"`
	APIKey       string `mapstructure:"api_key"`
	Model        string `mapstructure:"model"`
	SystemPrompt string `mapstructure:"system_prompt"`
}

// ServerConfig holds the server configuration
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port string `mapstructure:"port"`
}

// StoreConfig holds the conversation store configuration
type StoreConfig struct {
	// Backend selects the persistence backend: "sqlite", "bolt" or "memory".
	Backend string `mapstructure:"backend"`
	Path    string `mapstructure:"path"`

	MaxConversations int `mapstructure:"max_conversations"`
	MaxMessages      int `mapstructure:"max_messages"`
	RetentionDays    int `mapstructure:"retention_days"`
}

// LogConfig holds the logging configuration
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// DefaultSystemPrompt is sent to the provider with every request unless
// overridden in config.
const DefaultSystemPrompt = "You are Claude, an AI assistant created by Anthropic. You are helpful, harmless, and honest. Respond in a conversational and friendly manner."

// Load loads the configuration from the config.yaml file. The path can be
// overridden with the CONFIG_PATH environment variable. The provider API key
// may come from the LLM_API_KEY environment variable instead of the file.
func Load() (*Config, error) {
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		viper.SetConfigFile(path)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
	}

	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("llm.model", "gemini-2.5-flash-lite")
	viper.SetDefault("llm.system_prompt", DefaultSystemPrompt)
	viper.SetDefault("store.backend", "sqlite")
	viper.SetDefault("store.path", "conversations.db")
	viper.SetDefault("store.max_conversations", 1000)
	viper.SetDefault("store.max_messages", 100)
	viper.SetDefault("store.retention_days", 30)
	viper.SetDefault("log.level", "info")

	if err := viper.BindEnv("llm.api_key", "LLM_API_KEY"); err != nil {
		return nil, err
	}

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}
