package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const FileName = "maintline.yml"

// Config models maintline.yml.
type Config struct {
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Auth struct {
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"auth"`
	Agent         AgentConfig         `yaml:"agent"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Tools         ToolsConfig         `yaml:"tools"`
}

// AgentConfig controls the chat runtime integration.
type AgentConfig struct {
	ChatkitEnabled bool   `yaml:"chatkit_enabled"`
	ChatkitAgentID string `yaml:"chatkit_agent_id"`
	RuntimeURL     string `yaml:"runtime_url"`
	RuntimeToken   string `yaml:"runtime_token"`
	TimeoutMs      int    `yaml:"timeout_ms"`
	MaxToolResults int    `yaml:"max_tool_results"`
}

type NotificationsConfig struct {
	WebhookURL     string `yaml:"webhook_url"`
	PollIntervalMs int    `yaml:"poll_interval_ms"`
	MaxAttempts    int    `yaml:"max_attempts"`
	BatchSize      int    `yaml:"batch_size"`
}

type ToolsConfig struct {
	RatePerMinute int `yaml:"rate_per_minute"`
	Burst         int `yaml:"burst"`
}

const (
	DefaultTimeoutMs      = 30000
	DefaultMaxToolResults = 50
)

// Default returns a Config with every optional knob populated.
func Default() *Config {
	var cfg Config
	if err := yaml.Unmarshal([]byte(defaultTemplate), &cfg); err != nil {
		panic(fmt.Sprintf("default config: %v", err))
	}
	return &cfg
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	if c.Agent.TimeoutMs <= 0 {
		return fmt.Errorf("config.agent.timeout_ms must be positive")
	}
	if c.Agent.MaxToolResults <= 0 || c.Agent.MaxToolResults > DefaultMaxToolResults {
		return fmt.Errorf("config.agent.max_tool_results must be between 1 and %d", DefaultMaxToolResults)
	}
	if len(c.Agent.ChatkitAgentID) > 128 {
		return fmt.Errorf("config.agent.chatkit_agent_id must be at most 128 characters")
	}
	if url := c.Agent.RuntimeURL; url != "" && !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return fmt.Errorf("config.agent.runtime_url must be an http(s) URL")
	}
	if c.Notifications.WebhookURL != "" {
		if c.Notifications.PollIntervalMs <= 0 {
			return fmt.Errorf("config.notifications.poll_interval_ms must be positive")
		}
		if c.Notifications.MaxAttempts <= 0 {
			return fmt.Errorf("config.notifications.max_attempts must be positive")
		}
		if c.Notifications.BatchSize <= 0 {
			return fmt.Errorf("config.notifications.batch_size must be positive")
		}
	}
	if c.Tools.RatePerMinute < 0 || c.Tools.Burst < 0 {
		return fmt.Errorf("config.tools rate limits cannot be negative")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, FileName)
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with ml config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns Default() when the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML overlays raw YAML on the defaults and validates the result.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// GenerateDefault returns the default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

const defaultTemplate = `server:
  addr: 127.0.0.1:8080
  base_path: /api

auth:
  jwt_secret: ""

agent:
  chatkit_enabled: false
  chatkit_agent_id: ""
  runtime_url: ""
  runtime_token: ""
  timeout_ms: 30000
  max_tool_results: 50

notifications:
  webhook_url: ""
  poll_interval_ms: 2000
  max_attempts: 5
  batch_size: 20

tools:
  rate_per_minute: 120
  burst: 20
`
