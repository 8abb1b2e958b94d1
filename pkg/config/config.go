package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ConfigError reports a configuration problem found at startup.
type ConfigError struct {
	Component string
	Message   string
	Err       error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[config:%s] %s: %v", e.Component, e.Message, e.Err)
	}
	return fmt.Sprintf("[config:%s] %s", e.Component, e.Message)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Default returns the built-in configuration before any file or environment
// overlay is applied.
func Default() *Config {
	return &Config{
		LLM: LLMProviderConfig{
			Model:       "anthropic/claude-3-5-sonnet-20241022",
			Temperature: 1.0,
			MaxTokens:   4096,
			Timeout:     120,
			MaxRetries:  5,
			RetryDelay:  100,
		},
		Agent: AgentConfig{
			MaxSteps:        50,
			TokenLimit:      120000,
			Streaming:       false,
			ToolOutputLimit: 10000,
			WorkspaceDir:    "./workspace",
			SpawnMaxDepth:   3,
		},
		Tools: ToolsConfig{
			Sandbox: SandboxConfig{TTLSeconds: 3600},
			Command: CommandToolConfig{
				AllowedCommands: []string{"ls", "cat", "head", "tail", "grep", "find", "wc", "pwd", "echo"},
				MaxExecutionMs:  60000,
			},
		},
		Skills: SkillsConfig{Dir: "./skills"},
		Session: SessionConfig{
			Backend: "memory",
			Dir:     "./sessions",
		},
		Logging: LoggingConfig{
			Level:     "info",
			Format:    "simple",
			RunLogDir: "./logs",
		},
		Observability: ObservabilityConfig{
			ServiceName: "conductor",
		},
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8000,
		},
	}
}

// Load reads a YAML config file, expands environment references, overlays
// the recognized environment variables, and validates the result. An empty
// path yields the defaults plus the environment overlay.
func Load(path string) (*Config, error) {
	LoadDotEnv()

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, &ConfigError{Component: "loader", Message: fmt.Sprintf("failed to read %s", path), Err: err}
		}

		expanded := expandEnvVars(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, &ConfigError{Component: "loader", Message: fmt.Sprintf("failed to parse %s", path), Err: err}
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks invariants that would otherwise surface mid-run.
func (c *Config) Validate() error {
	if c.LLM.Model == "" {
		return &ConfigError{Component: "llm", Message: "model is required"}
	}
	if c.Agent.MaxSteps <= 0 {
		return &ConfigError{Component: "agent", Message: "max_steps must be positive"}
	}
	if c.Agent.TokenLimit <= 0 {
		return &ConfigError{Component: "agent", Message: "token_limit must be positive"}
	}
	if c.Agent.SpawnMaxDepth < 0 {
		return &ConfigError{Component: "agent", Message: "spawn_max_depth cannot be negative"}
	}
	if c.Tools.MCP.Enabled && c.Tools.MCP.ConfigPath == "" {
		return &ConfigError{Component: "tools", Message: "mcp.config_path is required when MCP is enabled"}
	}
	switch c.Session.Backend {
	case "", "memory", "file":
	default:
		return &ConfigError{Component: "session", Message: fmt.Sprintf("unknown session backend '%s'", c.Session.Backend)}
	}
	return nil
}
