// Package config holds the runtime configuration for Conductor: LLM
// provider settings, agent defaults, tool loading, sessions, and the HTTP
// server. Configuration comes from a YAML document with environment
// variable expansion, overlaid by the environment variables in env.go.
package config

// Config is the root configuration document.
type Config struct {
	LLM           LLMProviderConfig   `yaml:"llm"`
	Agent         AgentConfig         `yaml:"agent"`
	Tools         ToolsConfig         `yaml:"tools"`
	Skills        SkillsConfig        `yaml:"skills"`
	Session       SessionConfig       `yaml:"session"`
	Logging       LoggingConfig       `yaml:"logging"`
	Observability ObservabilityConfig `yaml:"observability"`
	Server        ServerConfig        `yaml:"server"`
}

// LLMProviderConfig configures a single LLM provider endpoint.
type LLMProviderConfig struct {
	// Model is stored as written; llms.NewProvider normalizes it to
	// "provider/model" form to pick the provider.
	Model       string  `yaml:"model"`
	APIKey      string  `yaml:"api_key"`
	Host        string  `yaml:"host"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
	Timeout     int     `yaml:"timeout"`
	MaxRetries  int     `yaml:"max_retries"`
	RetryDelay  int     `yaml:"retry_delay_ms"`
}

// AgentConfig carries per-run defaults for the agent loop.
type AgentConfig struct {
	MaxSteps            int    `yaml:"max_steps"`
	TokenLimit          int    `yaml:"token_limit"`
	EnableSummarization *bool  `yaml:"enable_summarization"`
	Streaming           bool   `yaml:"streaming"`
	ToolOutputLimit     int    `yaml:"tool_output_limit"`
	WorkspaceDir        string `yaml:"workspace_dir"`
	SpawnMaxDepth       int    `yaml:"spawn_max_depth"`
}

// ToolsConfig controls tool source loading.
type ToolsConfig struct {
	MCP     MCPConfig         `yaml:"mcp"`
	Sandbox SandboxConfig     `yaml:"sandbox"`
	Command CommandToolConfig `yaml:"command"`
}

// MCPConfig enables dynamic tool loading from MCP servers.
type MCPConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ConfigPath string `yaml:"config_path"`
}

// SandboxConfig enables per-session sandbox tool substitution.
type SandboxConfig struct {
	Enabled    bool `yaml:"enabled"`
	TTLSeconds int  `yaml:"ttl_seconds"`
}

// CommandToolConfig restricts the execute_command tool.
type CommandToolConfig struct {
	AllowedCommands []string `yaml:"allowed_commands"`
	MaxExecutionMs  int      `yaml:"max_execution_ms"`
}

// SkillsConfig points at the skill catalog directory tree.
type SkillsConfig struct {
	Dir   string `yaml:"dir"`
	Watch bool   `yaml:"watch"`
}

// SessionConfig selects the session store backend.
type SessionConfig struct {
	// Backend is "memory" or "file".
	Backend string `yaml:"backend"`
	Dir     string `yaml:"dir"`
}

// LoggingConfig controls slog output and per-run JSONL logs.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	// RunLogDir is where AgentLogger writes one JSONL file per run.
	RunLogDir string `yaml:"run_log_dir"`
}

// ObservabilityConfig toggles OpenTelemetry tracing and metrics.
type ObservabilityConfig struct {
	TracingEnabled bool   `yaml:"tracing_enabled"`
	MetricsEnabled bool   `yaml:"metrics_enabled"`
	ServiceName    string `yaml:"service_name"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// EnableSummarizationOrDefault resolves the tri-state flag (default true).
func (a AgentConfig) EnableSummarizationOrDefault() bool {
	if a.EnableSummarization == nil {
		return true
	}
	return *a.EnableSummarization
}
