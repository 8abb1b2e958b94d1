// Package utils provides shared utility helpers for the Conductor runtime.
package utils

import (
	"math"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/kadirpekel/conductor/pkg/protocol"
)

// tokensPerMessage approximates the role framing overhead each message adds.
const tokensPerMessage = 4

// fallbackCharsPerToken is used when no BPE table is available for the model.
const fallbackCharsPerToken = 2.5

// TokenCounter counts tokens for a specific model family. When the model has
// no known BPE table it falls back to a character-based estimate.
type TokenCounter struct {
	encoding *tiktoken.Tiktoken
	model    string
}

var (
	encodingCache = make(map[string]*tiktoken.Tiktoken)
	cacheMu       sync.RWMutex
)

// NewTokenCounter creates a counter for the given model. The counter never
// fails to construct: models without an encoding use the fallback estimate.
func NewTokenCounter(model string) *TokenCounter {
	cacheMu.RLock()
	cached, exists := encodingCache[model]
	cacheMu.RUnlock()

	if exists {
		return &TokenCounter{encoding: cached, model: model}
	}

	encoding, err := tiktoken.EncodingForModel(model)
	if err != nil {
		// cl100k_base covers GPT-4 era models and approximates the rest
		encoding, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return &TokenCounter{model: model}
		}
	}

	cacheMu.Lock()
	encodingCache[model] = encoding
	cacheMu.Unlock()

	return &TokenCounter{encoding: encoding, model: model}
}

// Count returns the token count for a raw text string.
func (tc *TokenCounter) Count(text string) int {
	if tc == nil || tc.encoding == nil {
		return int(math.Ceil(float64(len(text)) / fallbackCharsPerToken))
	}
	return len(tc.encoding.Encode(text, nil, nil))
}

// CountMessages counts tokens across a message list. The count covers
// content, thinking, and the serialized arguments of every tool call, plus a
// fixed per-message overhead for role framing.
func (tc *TokenCounter) CountMessages(messages []protocol.Message) int {
	total := 0
	for _, msg := range messages {
		total += tokensPerMessage
		total += tc.Count(msg.Content)
		if msg.Thinking != "" {
			total += tc.Count(msg.Thinking)
		}
		for _, call := range msg.ToolCalls {
			total += tc.Count(call.Name)
			total += tc.Count(call.ArgumentsJSON())
		}
	}
	return total
}

// FitWithinLimit returns the suffix of messages that fits within the budget,
// selected from most recent backwards.
func (tc *TokenCounter) FitWithinLimit(messages []protocol.Message, maxTokens int) []protocol.Message {
	if len(messages) == 0 {
		return messages
	}

	fitted := make([]protocol.Message, 0, len(messages))
	current := 0

	for i := len(messages) - 1; i >= 0; i-- {
		msgTokens := tc.CountMessages(messages[i : i+1])
		if current+msgTokens > maxTokens {
			break
		}
		fitted = append([]protocol.Message{messages[i]}, fitted...)
		current += msgTokens
	}

	return fitted
}

// Model returns the model name this counter is configured for.
func (tc *TokenCounter) Model() string {
	return tc.model
}
