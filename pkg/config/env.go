package config

import (
	"os"
	"regexp"
	"strconv"

	"github.com/joho/godotenv"
)

// Environment variables recognized by the core.
const (
	EnvLLMModel          = "LLM_MODEL"
	EnvLLMAPIKey         = "LLM_API_KEY"
	EnvLLMAPIBase        = "LLM_API_BASE"
	EnvAgentMaxSteps     = "AGENT_MAX_STEPS"
	EnvTokenLimit        = "TOKEN_LIMIT"
	EnvSpawnMaxDepth     = "SPAWN_AGENT_MAX_DEPTH"
	EnvEnableMCP         = "ENABLE_MCP"
	EnvMCPConfigPath     = "MCP_CONFIG_PATH"
	EnvEnableSandbox     = "ENABLE_SANDBOX"
	EnvSandboxTTLSeconds = "SANDBOX_TTL_SECONDS"
)

var envVarPatterns = struct {
	withDefault *regexp.Regexp
	braced      *regexp.Regexp
	simple      *regexp.Regexp
}{
	withDefault: regexp.MustCompile(`\$\{([A-Z_][A-Z0-9_]*):-(.*?)\}`),
	braced:      regexp.MustCompile(`\$\{([A-Z_][A-Z0-9_]*)\}`),
	simple:      regexp.MustCompile(`\$([A-Z_][A-Z0-9_]*)`),
}

// expandEnvVars substitutes ${VAR}, ${VAR:-default} and $VAR references.
func expandEnvVars(s string) string {
	s = envVarPatterns.withDefault.ReplaceAllStringFunc(s, func(match string) string {
		parts := envVarPatterns.withDefault.FindStringSubmatch(match)
		if len(parts) == 3 {
			if val := os.Getenv(parts[1]); val != "" {
				return val
			}
			return parts[2]
		}
		return match
	})

	s = envVarPatterns.braced.ReplaceAllStringFunc(s, func(match string) string {
		parts := envVarPatterns.braced.FindStringSubmatch(match)
		if len(parts) == 2 {
			return os.Getenv(parts[1])
		}
		return match
	})

	s = envVarPatterns.simple.ReplaceAllStringFunc(s, func(match string) string {
		parts := envVarPatterns.simple.FindStringSubmatch(match)
		if len(parts) == 2 {
			return os.Getenv(parts[1])
		}
		return match
	})

	return s
}

// LoadDotEnv loads a .env file from the working directory when present.
// A missing file is not an error.
func LoadDotEnv() {
	_ = godotenv.Load()
}

func envString(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return fallback
}

// applyEnv overlays recognized environment variables on the config.
func applyEnv(cfg *Config) {
	cfg.LLM.Model = envString(EnvLLMModel, cfg.LLM.Model)
	cfg.LLM.APIKey = envString(EnvLLMAPIKey, cfg.LLM.APIKey)
	cfg.LLM.Host = envString(EnvLLMAPIBase, cfg.LLM.Host)
	cfg.Agent.MaxSteps = envInt(EnvAgentMaxSteps, cfg.Agent.MaxSteps)
	cfg.Agent.TokenLimit = envInt(EnvTokenLimit, cfg.Agent.TokenLimit)
	cfg.Agent.SpawnMaxDepth = envInt(EnvSpawnMaxDepth, cfg.Agent.SpawnMaxDepth)
	cfg.Tools.MCP.Enabled = envBool(EnvEnableMCP, cfg.Tools.MCP.Enabled)
	cfg.Tools.MCP.ConfigPath = envString(EnvMCPConfigPath, cfg.Tools.MCP.ConfigPath)
	cfg.Tools.Sandbox.Enabled = envBool(EnvEnableSandbox, cfg.Tools.Sandbox.Enabled)
	cfg.Tools.Sandbox.TTLSeconds = envInt(EnvSandboxTTLSeconds, cfg.Tools.Sandbox.TTLSeconds)
}
