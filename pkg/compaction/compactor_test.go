package compaction

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/kadirpekel/conductor/pkg/protocol"
	"github.com/kadirpekel/conductor/pkg/utils"
)

// scriptedSummarizer returns a short fixed summary and counts calls.
type scriptedSummarizer struct {
	calls   int
	summary string
	err     error
}

func (s *scriptedSummarizer) Summarize(ctx context.Context, messages []protocol.Message) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return s.summary, nil
}

func historyOfPairs(pairs int) []protocol.Message {
	messages := []protocol.Message{protocol.SystemMessage("You are a test assistant.")}
	for i := 0; i < pairs; i++ {
		messages = append(messages,
			protocol.UserMessage(fmt.Sprintf("question %d: %s", i, strings.Repeat("detail ", 30))),
			protocol.AssistantMessage(fmt.Sprintf("answer %d: %s", i, strings.Repeat("verbose output ", 30))),
		)
	}
	return messages
}

func TestMaybeCompact_UnderLimitUnchanged(t *testing.T) {
	counter := utils.NewTokenCounter("gpt-4o")
	summarizer := &scriptedSummarizer{summary: "short summary"}
	compactor := New(counter, summarizer)

	messages := historyOfPairs(2)
	out, err := compactor.MaybeCompact(context.Background(), messages, 1000000)
	if err != nil {
		t.Fatalf("MaybeCompact() error = %v", err)
	}
	if len(out) != len(messages) {
		t.Fatalf("under-limit input must be returned unchanged")
	}
	if summarizer.calls != 0 {
		t.Errorf("no summarization expected, got %d calls", summarizer.calls)
	}
}

func TestMaybeCompact_SummarizesClosedSegments(t *testing.T) {
	counter := utils.NewTokenCounter("gpt-4o")
	summarizer := &scriptedSummarizer{summary: "did the thing"}
	compactor := New(counter, summarizer)

	messages := historyOfPairs(6)
	total := counter.CountMessages(messages)
	limit := total / 2

	out, err := compactor.MaybeCompact(context.Background(), messages, limit)
	if err != nil {
		t.Fatalf("MaybeCompact() error = %v", err)
	}

	if got := counter.CountMessages(out); got > limit {
		t.Errorf("post-compaction count %d exceeds limit %d", got, limit)
	}

	// The system message is preserved verbatim.
	if out[0].Role != protocol.RoleSystem || out[0].Content != messages[0].Content {
		t.Error("system message must be byte-identical after compaction")
	}

	// The most recent segment is never summarized.
	last := out[len(out)-1]
	if last.Content != messages[len(messages)-1].Content {
		t.Error("most recent assistant message must be unchanged")
	}
	secondToLast := out[len(out)-2]
	if secondToLast.Content != messages[len(messages)-2].Content {
		t.Error("most recent user message must be unchanged")
	}

	// Closed segments were summarized (five of them).
	if summarizer.calls == 0 {
		t.Error("expected summarization calls for closed segments")
	}

	for _, msg := range out[1 : len(out)-2] {
		if msg.Role == protocol.RoleAssistant && msg.Content != "did the thing" {
			t.Errorf("closed segment assistant turn should carry the summary, got %q", msg.Content)
		}
	}
}

func TestMaybeCompact_DropsOldestWhenSummariesTooBig(t *testing.T) {
	counter := utils.NewTokenCounter("gpt-4o")
	// Summaries are long, so after summarization the list still exceeds
	// the budget and the oldest pairs must be dropped.
	summarizer := &scriptedSummarizer{summary: strings.Repeat("still a fairly long summary ", 10)}
	compactor := New(counter, summarizer)

	messages := historyOfPairs(6)
	head := counter.CountMessages(messages[:1])
	recent := counter.CountMessages(messages[len(messages)-2:])
	limit := head + recent + 20

	out, err := compactor.MaybeCompact(context.Background(), messages, limit)
	if err != nil {
		t.Fatalf("MaybeCompact() error = %v", err)
	}

	if got := counter.CountMessages(out); got > limit {
		t.Errorf("post-compaction count %d exceeds limit %d", got, limit)
	}
	if out[0].Role != protocol.RoleSystem {
		t.Error("system message must survive pair dropping")
	}
}

func TestMaybeCompact_ContextOverflow(t *testing.T) {
	counter := utils.NewTokenCounter("gpt-4o")
	summarizer := &scriptedSummarizer{summary: "s"}
	compactor := New(counter, summarizer)

	messages := historyOfPairs(3)

	_, err := compactor.MaybeCompact(context.Background(), messages, 5)
	var compactionErr *CompactionError
	if !errors.As(err, &compactionErr) {
		t.Fatalf("expected CompactionError, got %v", err)
	}
}

func TestMaybeCompact_SummarizerFailure(t *testing.T) {
	counter := utils.NewTokenCounter("gpt-4o")
	summarizer := &scriptedSummarizer{err: errors.New("provider down")}
	compactor := New(counter, summarizer)

	messages := historyOfPairs(6)
	limit := counter.CountMessages(messages) / 2

	if _, err := compactor.MaybeCompact(context.Background(), messages, limit); err == nil {
		t.Fatal("expected error when summarization fails")
	}
}
