// Package config holds all chainbrief configuration: sources, cache, LLM,
// gathering, and rendering. Loaded from YAML with environment overrides for
// credentials.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all chainbrief configuration.
type Config struct {
	// LLM narrative generation
	LLM LLMConfig `yaml:"llm"`

	// Data source credentials
	Sources SourcesConfig `yaml:"sources"`

	// Fetch cache
	Cache CacheConfig `yaml:"cache"`

	// Gathering fan-out
	Gather GatherConfig `yaml:"gather"`

	// Output rendering
	Render RenderConfig `yaml:"render"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// LLMConfig configures the narrative generator.
type LLMConfig struct {
	Provider string `yaml:"provider"` // gemini, openai, none
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
	Timeout  string `yaml:"timeout"`
}

// SourcesConfig holds per-source API keys. Empty keys disable the source or
// select its free tier where one exists.
type SourcesConfig struct {
	CoinGeckoAPIKey     string `yaml:"coingecko_api_key"`
	CoinMarketCapAPIKey string `yaml:"coinmarketcap_api_key"`
	TavilyAPIKey        string `yaml:"tavily_api_key"`
}

// CacheConfig configures the durable fetch cache.
type CacheConfig struct {
	DatabasePath string `yaml:"database_path"`
	TTL          string `yaml:"ttl"`
}

// GatherConfig configures gathering fan-out.
type GatherConfig struct {
	Parallelism int    `yaml:"parallelism"`
	TaskTimeout string `yaml:"task_timeout"`
}

// RenderConfig configures output rendering.
type RenderConfig struct {
	OutputDir        string `yaml:"output_dir"`
	Format           string `yaml:"format"` // pdf, markdown
	ChartParallelism int    `yaml:"chart_parallelism"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		LLM: LLMConfig{
			Provider: "none",
			Model:    "",
			Timeout:  "180s",
		},
		Cache: CacheConfig{
			DatabasePath: "data/chainbrief.db",
			TTL:          "3h",
		},
		Gather: GatherConfig{
			Parallelism: 5,
			TaskTimeout: "30s",
		},
		Render: RenderConfig{
			OutputDir:        "reports",
			Format:           "pdf",
			ChartParallelism: 3,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("COINGECKO_API_KEY"); key != "" {
		c.Sources.CoinGeckoAPIKey = key
	}
	if key := os.Getenv("COINMARKETCAP_API_KEY"); key != "" {
		c.Sources.CoinMarketCapAPIKey = key
	}
	if key := os.Getenv("TAVILY_API_KEY"); key != "" {
		c.Sources.TavilyAPIKey = key
	}

	// LLM key selects its provider when one is found.
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		c.LLM.APIKey = key
		c.LLM.Provider = "openai"
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.LLM.APIKey = key
		c.LLM.Provider = "gemini"
	}

	if path := os.Getenv("CHAINBRIEF_DB"); path != "" {
		c.Cache.DatabasePath = path
	}
	if dir := os.Getenv("CHAINBRIEF_OUTPUT_DIR"); dir != "" {
		c.Render.OutputDir = dir
	}
}

// GetLLMTimeout returns the LLM timeout as a duration.
func (c *Config) GetLLMTimeout() time.Duration {
	d, err := time.ParseDuration(c.LLM.Timeout)
	if err != nil {
		return 180 * time.Second
	}
	return d
}

// GetCacheTTL returns the cache TTL as a duration.
func (c *Config) GetCacheTTL() time.Duration {
	d, err := time.ParseDuration(c.Cache.TTL)
	if err != nil {
		return 3 * time.Hour
	}
	return d
}

// GetTaskTimeout returns the per-task gather timeout as a duration.
func (c *Config) GetTaskTimeout() time.Duration {
	d, err := time.ParseDuration(c.Gather.TaskTimeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}
