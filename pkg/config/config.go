package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the complete application configuration
type Config struct {
	Providers     ProvidersConfig     `yaml:"providers"`
	Research      ResearchConfig      `yaml:"research"`
	Merge         MergeConfig         `yaml:"merge"`
	Storage       StorageConfig       `yaml:"storage"`
	Events        EventsConfig        `yaml:"events"`
	API           APIConfig           `yaml:"api"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ProvidersConfig contains credentials and defaults for each provider
type ProvidersConfig struct {
	OpenAI    ProviderConfig `yaml:"openai"`
	Anthropic ProviderConfig `yaml:"anthropic"`
	XAI       ProviderConfig `yaml:"xai"`
	Ollama    OllamaConfig   `yaml:"ollama"`
}

// ProviderConfig contains one hosted provider's configuration.
// A provider without an API key is not registered.
type ProviderConfig struct {
	APIKey       string `yaml:"api_key,omitempty"`
	BaseURL      string `yaml:"base_url,omitempty"`
	DefaultModel string `yaml:"default_model,omitempty"`
	MaxRetries   int    `yaml:"max_retries"`
}

// Enabled reports whether the provider has credentials
func (p ProviderConfig) Enabled() bool {
	return p.APIKey != ""
}

// OllamaConfig contains Ollama-specific configuration
type OllamaConfig struct {
	Enabled     bool    `yaml:"enabled"`
	BaseURL     string  `yaml:"base_url"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	Timeout     string  `yaml:"timeout"`
}

// ResearchConfig contains fan-out configuration
type ResearchConfig struct {
	DefaultMaxTokens int `yaml:"default_max_tokens"`
	// ProviderTimeout bounds a single provider call. Exceeding it fails the provider.
	ProviderTimeout string `yaml:"provider_timeout"`
	// MaxConcurrentProviders limits runners per session; 0 means unbounded.
	MaxConcurrentProviders int `yaml:"max_concurrent_providers"`
	MaxConcurrentSessions  int `yaml:"max_concurrent_sessions"`
	QueueSize              int `yaml:"queue_size"`
}

// MergeConfig contains report-merge configuration
type MergeConfig struct {
	Provider         string `yaml:"provider"`
	Model            string `yaml:"model,omitempty"`
	SectionMaxTokens int    `yaml:"section_max_tokens"`
	ReportMaxTokens  int    `yaml:"report_max_tokens"`
	FailureThreshold int    `yaml:"failure_threshold"`
	ResetTimeout     string `yaml:"reset_timeout"`
}

// StorageConfig contains session store configuration
type StorageConfig struct {
	Type     string `yaml:"type"` // "memory", "postgres"
	DSN      string `yaml:"dsn,omitempty"`
	MaxConns int32  `yaml:"max_conns,omitempty"`
	MinConns int32  `yaml:"min_conns,omitempty"`
}

// EventsConfig contains progress event fan-out configuration
type EventsConfig struct {
	RedisURL      string `yaml:"redis_url,omitempty"`
	ChannelPrefix string `yaml:"channel_prefix"`
	BufferSize    int    `yaml:"buffer_size"`
}

// APIConfig contains API server configuration
type APIConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	ReadTimeout    string   `yaml:"read_timeout"`
	EventHeartbeat string   `yaml:"event_heartbeat"`
	AllowOrigins   []string `yaml:"allow_origins"`
}

// Address returns host:port
func (a APIConfig) Address() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}

// ObservabilityConfig contains observability configuration
type ObservabilityConfig struct {
	ServiceName string        `yaml:"service_name"`
	Tracing     TracingConfig `yaml:"tracing"`
	Metrics     MetricsConfig `yaml:"metrics"`
	Logging     LoggingConfig `yaml:"logging"`
}

// TracingConfig contains tracing configuration
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
	Insecure     bool    `yaml:"insecure"`
}

// MetricsConfig contains metrics configuration
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level string `yaml:"level"` // "debug", "info", "warn", "error"
}

// Load loads configuration from a file
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := &Config{}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	config.applyDefaults()
	config.overrideFromEnv()

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// LoadOrDefault loads configuration from a file or returns default config.
// Environment overrides apply in both cases.
func LoadOrDefault(path string) *Config {
	config, err := Load(path)
	if err != nil {
		config = Default()
		config.overrideFromEnv()
	}
	return config
}

// LoadDotEnv loads variables from .env files without overriding the environment.
// Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	existing := make([]string, 0, len(paths))
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return fmt.Errorf("failed to load env file: %w", err)
	}
	return nil
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		Providers: ProvidersConfig{
			OpenAI: ProviderConfig{
				DefaultModel: "o3-deep-research-2025-06-26",
				MaxRetries:   2,
			},
			Anthropic: ProviderConfig{
				DefaultModel: "claude-sonnet-4-5-20250929",
				MaxRetries:   2,
			},
			XAI: ProviderConfig{
				BaseURL:      "https://api.x.ai/v1",
				DefaultModel: "grok-4-0709",
				MaxRetries:   2,
			},
			Ollama: OllamaConfig{
				Enabled:     false,
				BaseURL:     "http://localhost:11434",
				Model:       "llama3.2",
				Temperature: 0.7,
				Timeout:     "10m",
			},
		},
		Research: ResearchConfig{
			DefaultMaxTokens:       8000,
			ProviderTimeout:        "30m",
			MaxConcurrentProviders: 0,
			MaxConcurrentSessions:  4,
			QueueSize:              32,
		},
		Merge: MergeConfig{
			Provider:         "openai",
			SectionMaxTokens: 2000,
			ReportMaxTokens:  10000,
			FailureThreshold: 3,
			ResetTimeout:     "1m",
		},
		Storage: StorageConfig{
			Type:     "memory",
			MaxConns: 10,
			MinConns: 2,
		},
		Events: EventsConfig{
			ChannelPrefix: "research",
			BufferSize:    64,
		},
		API: APIConfig{
			Enabled:        false,
			Port:           8001,
			Host:           "0.0.0.0",
			ReadTimeout:    "30s",
			EventHeartbeat: "25s",
			AllowOrigins:   []string{"*"},
		},
		Observability: ObservabilityConfig{
			ServiceName: "multi-research",
			Tracing: TracingConfig{
				Enabled:      false,
				Endpoint:     "localhost:4318",
				SamplingRate: 1.0,
				Insecure:     true,
			},
			Metrics: MetricsConfig{
				Enabled: true,
			},
			Logging: LoggingConfig{
				Level: "info",
			},
		},
	}
}

// applyDefaults applies default values to missing fields
func (c *Config) applyDefaults() {
	defaults := Default()

	if c.Providers.OpenAI.DefaultModel == "" {
		c.Providers.OpenAI.DefaultModel = defaults.Providers.OpenAI.DefaultModel
	}
	if c.Providers.Anthropic.DefaultModel == "" {
		c.Providers.Anthropic.DefaultModel = defaults.Providers.Anthropic.DefaultModel
	}
	if c.Providers.XAI.DefaultModel == "" {
		c.Providers.XAI.DefaultModel = defaults.Providers.XAI.DefaultModel
	}
	if c.Providers.XAI.BaseURL == "" {
		c.Providers.XAI.BaseURL = defaults.Providers.XAI.BaseURL
	}
	if c.Providers.Ollama.BaseURL == "" {
		c.Providers.Ollama.BaseURL = defaults.Providers.Ollama.BaseURL
	}
	if c.Providers.Ollama.Model == "" {
		c.Providers.Ollama.Model = defaults.Providers.Ollama.Model
	}
	if c.Providers.Ollama.Timeout == "" {
		c.Providers.Ollama.Timeout = defaults.Providers.Ollama.Timeout
	}

	if c.Research.DefaultMaxTokens == 0 {
		c.Research.DefaultMaxTokens = defaults.Research.DefaultMaxTokens
	}
	if c.Research.ProviderTimeout == "" {
		c.Research.ProviderTimeout = defaults.Research.ProviderTimeout
	}
	if c.Research.MaxConcurrentSessions == 0 {
		c.Research.MaxConcurrentSessions = defaults.Research.MaxConcurrentSessions
	}
	if c.Research.QueueSize == 0 {
		c.Research.QueueSize = defaults.Research.QueueSize
	}

	if c.Merge.Provider == "" {
		c.Merge.Provider = defaults.Merge.Provider
	}
	if c.Merge.SectionMaxTokens == 0 {
		c.Merge.SectionMaxTokens = defaults.Merge.SectionMaxTokens
	}
	if c.Merge.ReportMaxTokens == 0 {
		c.Merge.ReportMaxTokens = defaults.Merge.ReportMaxTokens
	}
	if c.Merge.FailureThreshold == 0 {
		c.Merge.FailureThreshold = defaults.Merge.FailureThreshold
	}
	if c.Merge.ResetTimeout == "" {
		c.Merge.ResetTimeout = defaults.Merge.ResetTimeout
	}

	if c.Storage.Type == "" {
		c.Storage.Type = defaults.Storage.Type
	}
	if c.Events.ChannelPrefix == "" {
		c.Events.ChannelPrefix = defaults.Events.ChannelPrefix
	}
	if c.Events.BufferSize == 0 {
		c.Events.BufferSize = defaults.Events.BufferSize
	}

	if c.API.Port == 0 {
		c.API.Port = defaults.API.Port
	}
	if c.API.Host == "" {
		c.API.Host = defaults.API.Host
	}
	if c.API.ReadTimeout == "" {
		c.API.ReadTimeout = defaults.API.ReadTimeout
	}

	if c.Observability.ServiceName == "" {
		c.Observability.ServiceName = defaults.Observability.ServiceName
	}
	if c.Observability.Logging.Level == "" {
		c.Observability.Logging.Level = defaults.Observability.Logging.Level
	}
}

// overrideFromEnv overrides configuration from environment variables
func (c *Config) overrideFromEnv() {
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		c.Providers.OpenAI.APIKey = key
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		c.Providers.Anthropic.APIKey = key
	}
	if key := os.Getenv("XAI_API_KEY"); key != "" {
		c.Providers.XAI.APIKey = key
	}
	if url := os.Getenv("XAI_BASE_URL"); url != "" {
		c.Providers.XAI.BaseURL = url
	}
	if url := os.Getenv("OLLAMA_BASE_URL"); url != "" {
		c.Providers.Ollama.BaseURL = url
		c.Providers.Ollama.Enabled = true
	}
	if model := os.Getenv("OLLAMA_MODEL"); model != "" {
		c.Providers.Ollama.Model = model
	}

	if provider := os.Getenv("MRA_MERGE_PROVIDER"); provider != "" {
		c.Merge.Provider = provider
	}

	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		c.Storage.DSN = dsn
		if c.Storage.Type == "memory" {
			c.Storage.Type = "postgres"
		}
	}
	if url := os.Getenv("REDIS_URL"); url != "" {
		c.Events.RedisURL = url
	}

	if port := os.Getenv("API_PORT"); port != "" {
		_, err := fmt.Sscanf(port, "%d", &c.API.Port)
		if err != nil {
			log.Printf("Invalid API_PORT value: %s, using default: %d", port, c.API.Port)
		}
	}

	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); endpoint != "" {
		c.Observability.Tracing.Endpoint = endpoint
		c.Observability.Tracing.Enabled = true
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		c.Observability.Logging.Level = level
	}
}

// validate validates the configuration
func (c *Config) validate() error {
	if c.Research.DefaultMaxTokens < 1 {
		return fmt.Errorf("research default_max_tokens must be at least 1")
	}
	if c.Research.MaxConcurrentProviders < 0 {
		return fmt.Errorf("research max_concurrent_providers cannot be negative")
	}
	if c.Research.MaxConcurrentSessions < 1 {
		return fmt.Errorf("research max_concurrent_sessions must be at least 1")
	}
	if _, err := time.ParseDuration(c.Research.ProviderTimeout); err != nil {
		return fmt.Errorf("invalid research provider_timeout: %w", err)
	}
	if _, err := time.ParseDuration(c.Merge.ResetTimeout); err != nil {
		return fmt.Errorf("invalid merge reset_timeout: %w", err)
	}
	if _, err := time.ParseDuration(c.Providers.Ollama.Timeout); err != nil {
		return fmt.Errorf("invalid ollama timeout: %w", err)
	}

	switch c.Storage.Type {
	case "memory":
	case "postgres":
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage dsn is required for postgres")
		}
	default:
		return fmt.Errorf("unsupported storage type: %s", c.Storage.Type)
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		return fmt.Errorf("api port must be between 1 and 65535")
	}

	return nil
}

// Save saves the configuration to a file
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// GetDuration parses a duration string from config, returning fallback when empty or invalid
func (c *Config) GetDuration(value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	env := os.Getenv("ENVIRONMENT")
	return strings.ToLower(env) == "production" || strings.ToLower(env) == "prod"
}
