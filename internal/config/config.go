// Package config loads the service configuration from an optional YAML file
// with environment variable overrides on top.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"mnemo/internal/environment"
)

// Config is the full service configuration.
type Config struct {
	ListenAddr string `yaml:"listen_addr"`
	DBPath     string `yaml:"db_path"`
	LogLevel   string `yaml:"log_level"`

	Ollama struct {
		BaseURL    string        `yaml:"base_url"`
		ChatModel  string        `yaml:"chat_model"`
		EmbedModel string        `yaml:"embed_model"`
		Timeout    time.Duration `yaml:"timeout"`
	} `yaml:"ollama"`

	Memory struct {
		TokenBudget        int     `yaml:"token_budget"`
		RetrievalTopN      int     `yaml:"retrieval_top_n"`
		RetrievalThreshold float64 `yaml:"retrieval_threshold"`
		ReflectionInterval int     `yaml:"reflection_interval"`
		ReflectionLookback int     `yaml:"reflection_lookback"`
	} `yaml:"memory"`
}

// Default returns the built-in configuration.
func Default() Config {
	var c Config
	c.ListenAddr = ":8080"
	c.DBPath = "mnemo.db"
	c.LogLevel = "info"
	c.Ollama.BaseURL = "http://localhost:11434"
	c.Ollama.ChatModel = "gemma:2b"
	c.Ollama.EmbedModel = "nomic-embed-text"
	c.Ollama.Timeout = 120 * time.Second
	c.Memory.TokenBudget = 4000
	c.Memory.RetrievalTopN = 3
	c.Memory.RetrievalThreshold = 0.5
	c.Memory.ReflectionInterval = 5
	c.Memory.ReflectionLookback = 10
	return c
}

// Load builds the configuration: defaults, then the YAML file at path (when
// path is non-empty the file must exist), then environment overrides.
func Load(path string) (Config, error) {
	c := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &c); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	c.applyEnv()

	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c *Config) applyEnv() {
	c.ListenAddr = environment.StringOr("MNEMO_LISTEN_ADDR", c.ListenAddr)
	c.DBPath = environment.StringOr("MNEMO_DB_PATH", c.DBPath)
	c.LogLevel = environment.StringOr("MNEMO_LOG_LEVEL", c.LogLevel)
	c.Ollama.BaseURL = environment.StringOr("OLLAMA_HOST", c.Ollama.BaseURL)
	c.Ollama.ChatModel = environment.StringOr("MNEMO_CHAT_MODEL", c.Ollama.ChatModel)
	c.Ollama.EmbedModel = environment.StringOr("MNEMO_EMBED_MODEL", c.Ollama.EmbedModel)
	c.Ollama.Timeout = environment.DurationOr("MNEMO_OLLAMA_TIMEOUT", c.Ollama.Timeout)
	c.Memory.TokenBudget = environment.IntOr("MNEMO_TOKEN_BUDGET", c.Memory.TokenBudget)
	c.Memory.RetrievalTopN = environment.IntOr("MNEMO_RETRIEVAL_TOP_N", c.Memory.RetrievalTopN)
	c.Memory.RetrievalThreshold = environment.FloatOr("MNEMO_RETRIEVAL_THRESHOLD", c.Memory.RetrievalThreshold)
	c.Memory.ReflectionInterval = environment.IntOr("MNEMO_REFLECTION_INTERVAL", c.Memory.ReflectionInterval)
	c.Memory.ReflectionLookback = environment.IntOr("MNEMO_REFLECTION_LOOKBACK", c.Memory.ReflectionLookback)
}

// Validate checks the configuration for values the service cannot run with.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("config: listen_addr must not be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("config: db_path must not be empty")
	}
	if c.Ollama.BaseURL == "" {
		return fmt.Errorf("config: ollama.base_url must not be empty")
	}
	if c.Ollama.ChatModel == "" || c.Ollama.EmbedModel == "" {
		return fmt.Errorf("config: ollama models must not be empty")
	}
	if c.Memory.TokenBudget < 0 {
		return fmt.Errorf("config: memory.token_budget must not be negative")
	}
	if c.Memory.RetrievalTopN < 0 {
		return fmt.Errorf("config: memory.retrieval_top_n must not be negative")
	}
	if c.Memory.RetrievalThreshold < -1 || c.Memory.RetrievalThreshold > 1 {
		return fmt.Errorf("config: memory.retrieval_threshold must be within [-1, 1]")
	}
	if c.Memory.ReflectionInterval < 0 || c.Memory.ReflectionLookback < 0 {
		return fmt.Errorf("config: reflection settings must not be negative")
	}
	return nil
}
