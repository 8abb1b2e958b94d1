package llms

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeModel(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"anthropic/claude-3-5-sonnet", "anthropic/claude-3-5-sonnet"},
		{"openai:gpt-4o", "openai/gpt-4o"},
		{"claude-3-5-sonnet", "anthropic/claude-3-5-sonnet"},
		{"gpt-4o", "openai/gpt-4o"},
		{"o1-preview", "openai/o1-preview"},
		{"o3-mini", "openai/o3-mini"},
		{"gemini-1.5-pro", "gemini/gemini-1.5-pro"},
		{"mistral-large", "mistral/mistral-large"},
		{"llama-3-70b", "together/llama-3-70b"},
		{"some-unknown-model", "openai/some-unknown-model"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeModel(tt.in), "NormalizeModel(%q)", tt.in)
	}
}

func TestSplitModel(t *testing.T) {
	provider, model := SplitModel("claude-3-5-sonnet")
	assert.Equal(t, ProviderAnthropic, provider)
	assert.Equal(t, "claude-3-5-sonnet", model)

	provider, model = SplitModel("together/llama-3-70b")
	assert.Equal(t, ProviderTogether, provider)
	assert.Equal(t, "llama-3-70b", model)
}

func TestCapMaxTokens(t *testing.T) {
	assert.Equal(t, 8192, CapMaxTokens("claude-3-5-sonnet-20241022", 100000),
		"requests above the ceiling are capped")
	assert.Equal(t, 2048, CapMaxTokens("claude-3-5-sonnet-20241022", 2048),
		"requests under the ceiling pass through")
	assert.Equal(t, 999999, CapMaxTokens("completely-unknown", 999999),
		"unknown models have no ceiling")
	assert.Equal(t, 0, CapMaxTokens("gpt-4o", 0))
}

func TestNewProvider_RequiresAPIKey(t *testing.T) {
	_, err := NewProvider(nil)
	assert.Error(t, err)

	// Providers refuse to construct without credentials.
	cfg := testProviderConfig("claude-3-5-sonnet", "")
	_, err = NewProvider(cfg)
	assert.Error(t, err)

	cfg = testProviderConfig("claude-3-5-sonnet", "sk-ant-test")
	provider, err := NewProvider(cfg)
	assert.NoError(t, err)
	assert.Equal(t, "claude-3-5-sonnet", provider.GetModelName())
}
