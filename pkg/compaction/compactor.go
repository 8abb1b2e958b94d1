// Package compaction keeps a conversation within its token budget by
// summarizing closed execution segments through the LLM.
package compaction

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kadirpekel/conductor/pkg/protocol"
	"github.com/kadirpekel/conductor/pkg/utils"
)

// CompactionError reports that the history cannot be reduced below the
// budget even after bottom-up re-summarization. The caller surfaces it as an
// unrecoverable context overflow.
type CompactionError struct {
	TokenCount int
	Limit      int
}

func (e *CompactionError) Error() string {
	return fmt.Sprintf("context overflow: %d tokens exceed limit %d after compaction", e.TokenCount, e.Limit)
}

// Summarizer produces a bounded summary of a message slice. Implementations
// must preserve stated goals, emitted tool calls and their effects, and
// decisions made.
type Summarizer interface {
	Summarize(ctx context.Context, messages []protocol.Message) (string, error)
}

// segment is a user-message-opened slice of the conversation. The tail holds
// the assistant/tool messages that close it.
type segment struct {
	user protocol.Message
	tail []protocol.Message
}

// Compactor applies the summarization policy over a message list.
type Compactor struct {
	counter    *utils.TokenCounter
	summarizer Summarizer
}

func New(counter *utils.TokenCounter, summarizer Summarizer) *Compactor {
	return &Compactor{counter: counter, summarizer: summarizer}
}

// MaybeCompact returns the input unchanged when it fits the limit. Otherwise
// every closed segment except the most recent is replaced by
// [user, assistant(summary)]; if the result still exceeds the limit, the
// oldest summaries are re-summarized together and then dropped in
// (user, summary) pairs. The system message is never touched; the most
// recent segment is never summarized.
func (c *Compactor) MaybeCompact(ctx context.Context, messages []protocol.Message, limit int) ([]protocol.Message, error) {
	count := c.counter.CountMessages(messages)
	if count <= limit {
		return messages, nil
	}

	head, segments := partition(messages)

	if len(segments) == 0 {
		return nil, &CompactionError{TokenCount: count, Limit: limit}
	}

	slog.Debug("Compacting conversation", "tokens", count, "limit", limit, "segments", len(segments))

	// Summarize every closed segment except the most recent.
	compacted := make([]protocol.Message, 0, len(messages))
	compacted = append(compacted, head...)

	summarized := make([]segment, 0, len(segments)-1)
	for _, seg := range segments[:len(segments)-1] {
		if len(seg.tail) == 0 {
			summarized = append(summarized, seg)
			continue
		}
		summary, err := c.summarizer.Summarize(ctx, seg.tail)
		if err != nil {
			return nil, fmt.Errorf("segment summarization failed: %w", err)
		}
		summarized = append(summarized, segment{
			user: seg.user,
			tail: []protocol.Message{protocol.AssistantMessage(summary)},
		})
	}

	recent := segments[len(segments)-1]

	assemble := func(segs []segment) []protocol.Message {
		out := append([]protocol.Message{}, head...)
		for _, seg := range segs {
			out = append(out, seg.user)
			out = append(out, seg.tail...)
		}
		out = append(out, recent.user)
		out = append(out, recent.tail...)
		return out
	}

	result := assemble(summarized)
	count = c.counter.CountMessages(result)
	if count <= limit {
		return result, nil
	}

	// Bottom-up: fold the older summaries into a single one.
	if len(summarized) > 1 {
		var combined []protocol.Message
		for _, seg := range summarized {
			combined = append(combined, seg.user)
			combined = append(combined, seg.tail...)
		}
		summary, err := c.summarizer.Summarize(ctx, combined)
		if err != nil {
			return nil, fmt.Errorf("bottom-up re-summarization failed: %w", err)
		}
		summarized = []segment{{
			user: summarized[0].user,
			tail: []protocol.Message{protocol.AssistantMessage(summary)},
		}}

		result = assemble(summarized)
		count = c.counter.CountMessages(result)
		if count <= limit {
			return result, nil
		}
	}

	// Drop the oldest (user, summary) pairs until the list fits.
	for len(summarized) > 0 {
		summarized = summarized[1:]
		result = assemble(summarized)
		count = c.counter.CountMessages(result)
		if count <= limit {
			return result, nil
		}
	}

	return nil, &CompactionError{TokenCount: count, Limit: limit}
}

// partition splits the conversation into the preserved head (leading system
// messages) and user-opened segments.
func partition(messages []protocol.Message) ([]protocol.Message, []segment) {
	var head []protocol.Message
	i := 0
	for i < len(messages) && messages[i].Role == protocol.RoleSystem {
		head = append(head, messages[i])
		i++
	}

	var segments []segment
	for i < len(messages) {
		if messages[i].Role != protocol.RoleUser {
			// Orphaned assistant/tool messages before any user turn attach
			// to the head so nothing is silently lost.
			if len(segments) == 0 {
				head = append(head, messages[i])
				i++
				continue
			}
			last := &segments[len(segments)-1]
			last.tail = append(last.tail, messages[i])
			i++
			continue
		}
		segments = append(segments, segment{user: messages[i]})
		i++
	}

	return head, segments
}
