package llms

import "github.com/kadirpekel/conductor/pkg/config"

// testProviderConfig builds a minimal provider config for tests.
func testProviderConfig(model, apiKey string) *config.LLMProviderConfig {
	return &config.LLMProviderConfig{
		Model:       model,
		APIKey:      apiKey,
		Temperature: 1.0,
		MaxTokens:   1024,
		Timeout:     5,
		MaxRetries:  1,
		RetryDelay:  1,
	}
}
