// Package config handles Quetzal configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./quetzal.yaml, ~/.config/quetzal/quetzal.yaml, /etc/quetzal/quetzal.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"quetzal.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "quetzal", "quetzal.yaml"))
	}

	paths = append(paths, "/etc/quetzal/quetzal.yaml")
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

// Config holds all Quetzal configuration.
type Config struct {
	Anthropic AnthropicConfig `yaml:"anthropic"`
	Servers   []ServerConfig  `yaml:"servers"`
	Sandbox   SandboxConfig   `yaml:"sandbox"`
	Agent     AgentConfig     `yaml:"agent"`
	LogDir    string          `yaml:"log_dir"`
	TraceDB   string          `yaml:"trace_db"`
	LogLevel  string          `yaml:"log_level"`
}

// AnthropicConfig defines Anthropic API settings.
type AnthropicConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

// ServerConfig defines one MCP server connection. Command selects the
// stdio transport; URL selects HTTP. Exactly one must be set.
type ServerConfig struct {
	Name    string            `yaml:"name"`
	Command string            `yaml:"command"`
	Args    []string          `yaml:"args"`
	Env     []string          `yaml:"env"`
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers"`
}

// Validate checks that exactly one transport is configured.
func (s ServerConfig) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("server with no name")
	}
	if (s.Command == "") == (s.URL == "") {
		return fmt.Errorf("server %s: exactly one of command or url must be set", s.Name)
	}
	return nil
}

// SandboxConfig defines the allow-listed filesystem roots for tool
// path arguments.
type SandboxConfig struct {
	Roots []string `yaml:"roots"`
}

// AgentConfig defines agent loop settings.
type AgentConfig struct {
	// MaxHops bounds model→tools round trips per turn (default 3).
	MaxHops int `yaml:"max_hops"`
	// MaxTokens is the per-request output token limit.
	MaxTokens int `yaml:"max_tokens"`
	// SystemPrompt replaces the built-in system prompt when set.
	SystemPrompt string `yaml:"system_prompt"`
}

// Load reads configuration from a YAML file.
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

	for _, s := range cfg.Servers {
		if err := s.Validate(); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		Anthropic: AnthropicConfig{
			Model: "claude-sonnet-4-20250514",
		},
		Agent: AgentConfig{
			MaxHops:   3,
			MaxTokens: 4096,
		},
		LogDir:  "logs",
		TraceDB: "quetzal_trace.db",
	}
}
