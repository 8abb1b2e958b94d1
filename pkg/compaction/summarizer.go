package compaction

import (
	"context"
	"fmt"
	"strings"

	"github.com/kadirpekel/conductor/pkg/llms"
	"github.com/kadirpekel/conductor/pkg/protocol"
)

// summaryMaxTokens bounds the summarization call; the prompt asks the model
// to stay under 400 tokens.
const summaryMaxTokens = 512

const defaultSummarizationPrompt = `You are a conversation summarizer. Produce a concise summary of the agent execution transcript below.

Preserve, in order of importance:
- the goals the user stated
- every tool call the assistant made and what it produced or changed
- decisions made and their outcomes

Guidelines:
- keep names, paths, numbers and identifiers exact
- write in a neutral, factual tone
- do not invent information that is not in the transcript
- keep the summary under 400 tokens

Transcript:
%s

Summary:`

// LLMSummarizer implements Summarizer over an LLM provider.
type LLMSummarizer struct {
	provider llms.Provider
	prompt   string
}

// NewLLMSummarizer creates a summarizer. An empty prompt uses the default;
// a custom prompt must contain a %s placeholder for the transcript.
func NewLLMSummarizer(provider llms.Provider, prompt string) (*LLMSummarizer, error) {
	if provider == nil {
		return nil, fmt.Errorf("LLM provider is required for summarization")
	}
	if prompt == "" {
		prompt = defaultSummarizationPrompt
	}
	return &LLMSummarizer{provider: provider, prompt: prompt}, nil
}

// Summarize renders the messages as a transcript and asks the model for a
// bounded summary.
func (s *LLMSummarizer) Summarize(ctx context.Context, messages []protocol.Message) (string, error) {
	transcript := formatTranscript(messages)
	if transcript == "" {
		return "", nil
	}

	request := []protocol.Message{
		protocol.UserMessage(fmt.Sprintf(s.prompt, transcript)),
	}

	resp, err := s.provider.Generate(ctx, request, nil, summaryMaxTokens)
	if err != nil {
		return "", fmt.Errorf("summarization failed: %w", err)
	}

	return strings.TrimSpace(resp.Content), nil
}

func formatTranscript(messages []protocol.Message) string {
	var sb strings.Builder
	for _, msg := range messages {
		switch msg.Role {
		case protocol.RoleAssistant:
			if msg.Content != "" {
				sb.WriteString(fmt.Sprintf("[assistant]: %s\n", msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				sb.WriteString(fmt.Sprintf("[assistant] called %s(%s)\n", tc.Name, tc.ArgumentsJSON()))
			}
		case protocol.RoleTool:
			preview := msg.Content
			if len(preview) > 500 {
				preview = preview[:500] + "..."
			}
			sb.WriteString(fmt.Sprintf("[tool %s]: %s\n", msg.Name, preview))
		default:
			if msg.Content != "" {
				sb.WriteString(fmt.Sprintf("[%s]: %s\n", msg.Role, msg.Content))
			}
		}
	}
	return sb.String()
}

var _ Summarizer = (*LLMSummarizer)(nil)
