package runlog

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TraceLogger records the higher-level event stream of a multi-agent
// workflow. Events go to a per-trace JSONL file and an in-memory buffer
// that the HTTP trace endpoint serves.
type TraceLogger struct {
	traceID string

	mu     sync.Mutex
	file   *os.File
	events []TraceEvent
}

// NewTraceLogger creates a trace. dir may be empty for in-memory only.
func NewTraceLogger(dir string) (*TraceLogger, error) {
	t := &TraceLogger{traceID: uuid.NewString()}

	if dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create trace directory %s: %w", dir, err)
		}
		path := filepath.Join(dir, fmt.Sprintf("trace_%s.jsonl", t.traceID))
		file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open trace log %s: %w", path, err)
		}
		t.file = file
	}

	return t, nil
}

// TraceID returns the trace identifier.
func (t *TraceLogger) TraceID() string {
	return t.traceID
}

// Log appends a trace event. parentRunID is empty for top-level runs.
func (t *TraceLogger) Log(eventType, runID, parentRunID string, payload any) {
	if t == nil {
		return
	}

	event := TraceEvent{
		TraceID:     t.traceID,
		RunID:       runID,
		ParentRunID: parentRunID,
		EventType:   eventType,
		TS:          time.Now(),
		Payload:     payload,
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.events = append(t.events, event)

	if t.file != nil {
		data, err := json.Marshal(event)
		if err != nil {
			slog.Warn("Failed to marshal trace event", "event_type", eventType, "error", err)
			return
		}
		if _, err := t.file.Write(append(data, '\n')); err != nil {
			slog.Warn("Failed to write trace event", "error", err)
		}
	}
}

// Events returns a copy of the recorded events in emission order.
func (t *TraceLogger) Events() []TraceEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]TraceEvent, len(t.events))
	copy(out, t.events)
	return out
}

// Close closes the file sink.
func (t *TraceLogger) Close() error {
	if t == nil || t.file == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	err := t.file.Close()
	t.file = nil
	return err
}
