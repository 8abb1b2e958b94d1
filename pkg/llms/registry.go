package llms

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/kadirpekel/conductor/pkg/config"
)

// Provider prefixes produced by normalization.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGemini    = "gemini"
	ProviderMistral   = "mistral"
	ProviderTogether  = "together"
)

// maxTokenCeilings maps model name fragments to the provider's known output
// token ceiling. Consulted by substring, most specific first.
var maxTokenCeilings = []struct {
	fragment string
	ceiling  int
}{
	{"claude-3-5-sonnet", 8192},
	{"claude-3-5-haiku", 8192},
	{"claude-3-opus", 4096},
	{"claude", 8192},
	{"gpt-4o-mini", 16384},
	{"gpt-4o", 16384},
	{"gpt-4-turbo", 4096},
	{"gpt-4", 8192},
	{"o1", 32768},
	{"o3", 32768},
	{"gemini", 8192},
	{"mistral", 8192},
	{"llama", 4096},
}

// NormalizeModel canonicalizes a model identifier to "provider/model" form.
// An explicit prefix wins; the legacy "provider:model" form is converted;
// otherwise the provider is detected by substring, defaulting to openai.
func NormalizeModel(id string) string {
	if id == "" {
		return id
	}

	if strings.Contains(id, "/") {
		return id
	}

	if strings.Contains(id, ":") {
		parts := strings.SplitN(id, ":", 2)
		return parts[0] + "/" + parts[1]
	}

	lower := strings.ToLower(id)
	switch {
	case strings.Contains(lower, "claude"):
		return ProviderAnthropic + "/" + id
	case strings.Contains(lower, "gpt") || strings.HasPrefix(lower, "o1") || strings.HasPrefix(lower, "o3"):
		return ProviderOpenAI + "/" + id
	case strings.Contains(lower, "gemini"):
		return ProviderGemini + "/" + id
	case strings.Contains(lower, "mistral"):
		return ProviderMistral + "/" + id
	case strings.Contains(lower, "llama"):
		return ProviderTogether + "/" + id
	default:
		return ProviderOpenAI + "/" + id
	}
}

// SplitModel splits a normalized identifier into provider and bare model.
func SplitModel(id string) (provider, model string) {
	normalized := NormalizeModel(id)
	parts := strings.SplitN(normalized, "/", 2)
	if len(parts) != 2 {
		return ProviderOpenAI, normalized
	}
	return parts[0], parts[1]
}

// CapMaxTokens clamps the requested token budget to the model's known
// ceiling. The cap is logged once per call.
func CapMaxTokens(model string, requested int) int {
	if requested <= 0 {
		return requested
	}
	lower := strings.ToLower(model)
	for _, entry := range maxTokenCeilings {
		if strings.Contains(lower, entry.fragment) {
			if requested > entry.ceiling {
				slog.Warn("Capping max_tokens to model ceiling",
					"model", model, "requested", requested, "ceiling", entry.ceiling)
				return entry.ceiling
			}
			return requested
		}
	}
	return requested
}

// NewProvider constructs a Provider from configuration. Gemini, Mistral and
// Together are served through their OpenAI-compatible endpoints.
func NewProvider(cfg *config.LLMProviderConfig) (Provider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("LLM provider config cannot be nil")
	}

	providerName, model := SplitModel(cfg.Model)

	resolved := *cfg
	resolved.Model = model

	switch providerName {
	case ProviderAnthropic:
		return NewAnthropicProviderFromConfig(&resolved)
	case ProviderOpenAI:
		return NewOpenAIProviderFromConfig(&resolved, "https://api.openai.com/v1")
	case ProviderGemini:
		return NewOpenAIProviderFromConfig(&resolved, "https://generativelanguage.googleapis.com/v1beta/openai")
	case ProviderMistral:
		return NewOpenAIProviderFromConfig(&resolved, "https://api.mistral.ai/v1")
	case ProviderTogether:
		return NewOpenAIProviderFromConfig(&resolved, "https://api.together.xyz/v1")
	default:
		return nil, fmt.Errorf("unknown LLM provider '%s'", providerName)
	}
}
