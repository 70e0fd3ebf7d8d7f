// Package config handles vidchat configuration loading.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/vidchat/config.yaml, /etc/vidchat/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "vidchat", "config.yaml"))
	}

	paths = append(paths, "/etc/vidchat/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all vidchat configuration.
type Config struct {
	Listen     ListenConfig     `yaml:"listen"`
	DataDir    string           `yaml:"data_dir"`
	LogLevel   string           `yaml:"log_level"`
	LogFormat  string           `yaml:"log_format"` // text or json
	Generation GenerationConfig `yaml:"generation"`
	Chat       ChatConfig       `yaml:"chat"`
	Transcript TranscriptConfig `yaml:"transcript"`
	Summary    SummaryConfig    `yaml:"summary"`
	Catalog    CatalogConfig    `yaml:"catalog"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// GenerationConfig selects and tunes the text-generation backend. An
// empty Provider leaves generation unconfigured; every answer then comes
// from the deterministic fallback.
type GenerationConfig struct {
	Provider        string          `yaml:"provider"` // ollama, anthropic, openai
	Model           string          `yaml:"model"`
	TimeoutSec      int             `yaml:"timeout_sec"`
	Temperature     float64         `yaml:"temperature"`
	MaxOutputTokens int             `yaml:"max_output_tokens"`
	Ollama          OllamaConfig    `yaml:"ollama"`
	Anthropic       AnthropicConfig `yaml:"anthropic"`
	OpenAI          OpenAIConfig    `yaml:"openai"`

	// Models routes additional model names to providers, so the summary
	// model can live on a different backend than the chat model.
	Models []ModelConfig `yaml:"models"`
}

// OllamaConfig defines the Ollama endpoint.
type OllamaConfig struct {
	URL string `yaml:"url"`
}

// AnthropicConfig defines Anthropic API settings.
type AnthropicConfig struct {
	APIKey string `yaml:"api_key"`
	URL    string `yaml:"url"` // override for proxies and tests
}

// OpenAIConfig defines an OpenAI-compatible endpoint.
type OpenAIConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// ModelConfig binds a model name to a provider.
type ModelConfig struct {
	Name     string `yaml:"name"`
	Provider string `yaml:"provider"`
}

// ChatConfig tunes the conversation pipeline.
type ChatConfig struct {
	DailyLimit      int    `yaml:"daily_limit"`
	Timezone        string `yaml:"timezone"` // IANA name for the quota day boundary
	CacheWindow     int    `yaml:"cache_window"`
	HistoryTurns    int    `yaml:"history_turns"`
	TurnChars       int    `yaml:"turn_chars"`
	MaxMessageChars int    `yaml:"max_message_chars"`
	ExcerptChars    int    `yaml:"excerpt_chars"`
}

// TranscriptConfig tunes transcript normalization.
type TranscriptConfig struct {
	// MillisThreshold is the magnitude at which an integral timestamp is
	// read as milliseconds rather than seconds.
	MillisThreshold float64 `yaml:"millis_threshold"`
}

// SummaryConfig tunes video summarization.
type SummaryConfig struct {
	Model        string  `yaml:"model"` // defaults to generation.model
	SectionChars int     `yaml:"section_chars"`
	Temperature  float64 `yaml:"temperature"`
}

// CatalogConfig selects the video catalog backend.
type CatalogConfig struct {
	Driver string `yaml:"driver"` // sqlite or postgres
	DSN    string `yaml:"dsn"`    // postgres connection string
}

// MQTTConfig defines the optional MQTT event forwarder.
type MQTTConfig struct {
	Broker             string `yaml:"broker"` // mqtt://, mqtts://, ssl://, tcp://
	Username           string `yaml:"username"`
	Password           string `yaml:"password"`
	TopicPrefix        string `yaml:"topic_prefix"`
	PublishIntervalSec int    `yaml:"publish_interval_sec"`
}

// Configured reports whether a broker is set.
func (c MQTTConfig) Configured() bool {
	return c.Broker != ""
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Load reads configuration from a YAML file, applies defaults, and
// validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	cfg := &Config{
		Metrics: MetricsConfig{Enabled: true},
	}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Listen.Port == 0 {
		c.Listen.Port = 8080
	}
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}

	g := &c.Generation
	if g.TimeoutSec == 0 {
		g.TimeoutSec = 120
	}
	if g.Temperature == 0 {
		g.Temperature = 0.3
	}
	if g.MaxOutputTokens == 0 {
		g.MaxOutputTokens = 700
	}
	if g.Ollama.URL == "" {
		g.Ollama.URL = "http://localhost:11434"
	}
	if g.Model == "" {
		switch g.Provider {
		case "ollama":
			g.Model = "qwen3:4b"
		case "anthropic":
			g.Model = "claude-sonnet-4-20250514"
		case "openai":
			g.Model = "gpt-4o-mini"
		}
	}

	ch := &c.Chat
	if ch.DailyLimit == 0 {
		ch.DailyLimit = 40
	}
	if ch.CacheWindow == 0 {
		ch.CacheWindow = 20
	}
	if ch.HistoryTurns == 0 {
		ch.HistoryTurns = 12
	}
	if ch.TurnChars == 0 {
		ch.TurnChars = 1200
	}
	if ch.MaxMessageChars == 0 {
		ch.MaxMessageChars = 4000
	}
	if ch.ExcerptChars == 0 {
		ch.ExcerptChars = 5000
	}

	if c.Transcript.MillisThreshold == 0 {
		c.Transcript.MillisThreshold = 1000
	}

	if c.Summary.Model == "" {
		c.Summary.Model = g.Model
	}
	if c.Summary.SectionChars == 0 {
		c.Summary.SectionChars = 5000
	}
	if c.Summary.Temperature == 0 {
		c.Summary.Temperature = 0.2
	}

	if c.Catalog.Driver == "" {
		c.Catalog.Driver = "sqlite"
	}

	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "vidchat"
	}
	if c.MQTT.PublishIntervalSec == 0 {
		c.MQTT.PublishIntervalSec = 60
	}

	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

var knownProviders = map[string]bool{"ollama": true, "anthropic": true, "openai": true}

// Validate reports the first configuration error found.
func (c *Config) Validate() error {
	if c.Listen.Port < 1 || c.Listen.Port > 65535 {
		return fmt.Errorf("listen.port %d out of range", c.Listen.Port)
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("log_format %q (valid: text, json)", c.LogFormat)
	}

	g := c.Generation
	if g.Provider != "" && !knownProviders[g.Provider] {
		return fmt.Errorf("generation.provider %q (valid: ollama, anthropic, openai)", g.Provider)
	}
	if g.Provider == "anthropic" && g.Anthropic.APIKey == "" {
		return fmt.Errorf("generation.anthropic.api_key is required for the anthropic provider")
	}
	if g.Temperature < 0 || g.Temperature > 2 {
		return fmt.Errorf("generation.temperature %.2f out of range [0, 2]", g.Temperature)
	}
	if g.MaxOutputTokens < 0 {
		return fmt.Errorf("generation.max_output_tokens must not be negative")
	}
	for i, m := range g.Models {
		if m.Name == "" {
			return fmt.Errorf("generation.models[%d]: name is required", i)
		}
		if !knownProviders[m.Provider] {
			return fmt.Errorf("generation.models[%d]: provider %q (valid: ollama, anthropic, openai)", i, m.Provider)
		}
	}

	ch := c.Chat
	if ch.DailyLimit < 0 || ch.CacheWindow < 0 || ch.HistoryTurns < 0 {
		return fmt.Errorf("chat limits must not be negative")
	}
	if _, err := ch.Location(); err != nil {
		return fmt.Errorf("chat.timezone: %w", err)
	}

	if c.Transcript.MillisThreshold < 0 {
		return fmt.Errorf("transcript.millis_threshold must not be negative")
	}

	switch c.Catalog.Driver {
	case "sqlite":
	case "postgres":
		if c.Catalog.DSN == "" {
			return fmt.Errorf("catalog.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("catalog.driver %q (valid: sqlite, postgres)", c.Catalog.Driver)
	}

	if c.MQTT.Configured() {
		u, err := url.Parse(c.MQTT.Broker)
		if err != nil {
			return fmt.Errorf("mqtt.broker: %w", err)
		}
		switch u.Scheme {
		case "mqtt", "mqtts", "tcp", "ssl", "ws", "wss":
		default:
			return fmt.Errorf("mqtt.broker scheme %q not supported", u.Scheme)
		}
		if c.MQTT.PublishIntervalSec < 1 {
			return fmt.Errorf("mqtt.publish_interval_sec must be positive")
		}
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path %q must start with /", c.Metrics.Path)
	}
	return nil
}

// Location returns the time zone that bounds the quota day. An empty
// Timezone selects the process's local zone.
func (c ChatConfig) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}

// ListenAddr returns the host:port the API server binds.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Listen.Address, c.Listen.Port)
}
