package runlog

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestAgentLogger_WritesJSONLWithSequence(t *testing.T) {
	dir := t.TempDir()
	startedAt := time.Date(2025, 6, 1, 10, 30, 0, 0, time.UTC)

	logger, err := NewAgentLogger(dir, startedAt, nil)
	if err != nil {
		t.Fatalf("NewAgentLogger() error = %v", err)
	}

	logger.Log(RecordStep, map[string]any{"step": 1})
	logger.Log(RecordResponse, map[string]any{"content": "hi"})
	logger.Log(RecordCompletion, map[string]any{"message": "hi"})
	if err := logger.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected one log file, got %v (%v)", entries, err)
	}
	name := entries[0].Name()
	if filepath.Ext(name) != ".jsonl" {
		t.Errorf("log file extension = %s", name)
	}

	file, err := os.Open(filepath.Join(dir, name))
	if err != nil {
		t.Fatal(err)
	}
	defer file.Close()

	var records []Record
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var record Record
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			t.Fatalf("invalid JSONL line: %v", err)
		}
		records = append(records, record)
	}

	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	for i, record := range records {
		if record.Seq != i+1 {
			t.Errorf("record %d has seq %d", i, record.Seq)
		}
	}
	if records[0].Type != RecordStep || records[2].Type != RecordCompletion {
		t.Errorf("unexpected record types: %v, %v", records[0].Type, records[2].Type)
	}
}

// captureExporter records exported records.
type captureExporter struct {
	records []Record
}

func (e *captureExporter) Export(record Record) {
	e.records = append(e.records, record)
}

func TestAgentLogger_ExporterSuppressesFile(t *testing.T) {
	dir := t.TempDir()
	exporter := &captureExporter{}

	logger, err := NewAgentLogger(dir, time.Now(), exporter)
	if err != nil {
		t.Fatalf("NewAgentLogger() error = %v", err)
	}

	logger.Log(RecordStep, map[string]any{"step": 1})
	logger.Close()

	if len(exporter.records) != 1 {
		t.Fatalf("exporter received %d records, want 1", len(exporter.records))
	}
	if logger.Path() != "" {
		t.Error("exporter mode must not open a file")
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Error("file sink must be suppressed when an exporter is set")
	}
}

func TestAgentLogger_NilSafe(t *testing.T) {
	var logger *AgentLogger
	logger.Log(RecordStep, nil) // must not panic
	if logger.Path() != "" {
		t.Error("nil logger path must be empty")
	}
	if err := logger.Close(); err != nil {
		t.Errorf("nil Close() = %v", err)
	}
}

func TestTraceLogger_RecordsTopology(t *testing.T) {
	trace, err := NewTraceLogger("")
	if err != nil {
		t.Fatalf("NewTraceLogger() error = %v", err)
	}
	if trace.TraceID() == "" {
		t.Fatal("trace must have an id")
	}

	trace.Log(EventWorkflowStart, "leader-run", "", map[string]any{"team": "x"})
	trace.Log(EventDelegation, "leader-run", "", map[string]any{"member": "a"})
	trace.Log(EventAgentStart, "member-run", "leader-run", nil)
	trace.Log(EventAgentEnd, "member-run", "leader-run", nil)
	trace.Log(EventWorkflowEnd, "leader-run", "", nil)

	events := trace.Events()
	if len(events) != 5 {
		t.Fatalf("expected 5 events, got %d", len(events))
	}
	if events[0].EventType != EventWorkflowStart || events[4].EventType != EventWorkflowEnd {
		t.Error("events must be kept in emission order")
	}

	// Member events reference the leader run for fork/join reconstruction.
	if events[2].ParentRunID != "leader-run" {
		t.Errorf("member event parent = %q", events[2].ParentRunID)
	}
	for _, ev := range events {
		if ev.TraceID != trace.TraceID() {
			t.Error("every event carries the trace id")
		}
	}
}

func TestTraceLogger_FileSink(t *testing.T) {
	dir := t.TempDir()

	trace, err := NewTraceLogger(dir)
	if err != nil {
		t.Fatalf("NewTraceLogger() error = %v", err)
	}
	trace.Log(EventWorkflowStart, "r", "", nil)
	trace.Close()

	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected one trace file, got %v", entries)
	}
}
