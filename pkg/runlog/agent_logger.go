package runlog

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// AgentLogger writes one JSONL file per run, named by the run start
// timestamp. When an Exporter is set the file sink is suppressed and every
// record goes to the exporter callback instead.
type AgentLogger struct {
	mu       sync.Mutex
	file     *os.File
	exporter Exporter
	seq      int
	path     string
}

// NewAgentLogger creates the run log. dir is created if missing. A non-nil
// exporter suppresses the file sink.
func NewAgentLogger(dir string, startedAt time.Time, exporter Exporter) (*AgentLogger, error) {
	l := &AgentLogger{exporter: exporter}

	if exporter != nil {
		return l, nil
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create run log directory %s: %w", dir, err)
	}

	name := fmt.Sprintf("run_%s.jsonl", startedAt.Format("20060102_150405.000"))
	path := filepath.Join(dir, name)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open run log %s: %w", path, err)
	}

	l.file = file
	l.path = path
	return l, nil
}

// Path returns the log file path; empty when the exporter sink is active.
func (l *AgentLogger) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Log appends a record. Request payloads must already omit provider
// secrets; the logger does not inspect them.
func (l *AgentLogger) Log(recordType string, payload any) {
	if l == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.seq++
	record := Record{
		Seq:     l.seq,
		TS:      time.Now(),
		Type:    recordType,
		Payload: payload,
	}

	if l.exporter != nil {
		l.exporter.Export(record)
		return
	}

	data, err := json.Marshal(record)
	if err != nil {
		slog.Warn("Failed to marshal run log record", "type", recordType, "error", err)
		return
	}
	if _, err := l.file.Write(append(data, '\n')); err != nil {
		slog.Warn("Failed to write run log record", "path", l.path, "error", err)
	}
}

// Close flushes and closes the file sink.
func (l *AgentLogger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	err := l.file.Close()
	l.file = nil
	return err
}
