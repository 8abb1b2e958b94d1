// Package session provides the append-only per-session run store with
// bounded replay into future prompts.
package session

import (
	"fmt"
	"strings"
	"time"
)

// Runner types recorded on a run.
const (
	RunnerTypeLeader = "leader"
	RunnerTypeMember = "member"
	RunnerTypeSolo   = "solo"
)

// RunRecord is one execution of an agent loop. Records are immutable once
// appended; ParentRunID is non-empty exactly for member runs.
type RunRecord struct {
	RunID       string         `json:"run_id"`
	ParentRunID string         `json:"parent_run_id,omitempty"`
	RunnerType  string         `json:"runner_type"`
	RunnerName  string         `json:"runner_name"`
	Task        string         `json:"task"`
	Response    string         `json:"response"`
	Success     bool           `json:"success"`
	Steps       int            `json:"steps"`
	StartedAt   time.Time      `json:"started_at"`
	EndedAt     time.Time      `json:"ended_at"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Session is an append-only container of runs bound to a caller identity.
type Session struct {
	SessionID string         `json:"session_id"`
	OwnerID   string         `json:"owner_id,omitempty"`
	Name      string         `json:"name"`
	Runs      []RunRecord    `json:"runs"`
	State     map[string]any `json:"state"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Store is the session persistence contract. Implementations serialize
// writes per session; the contract says nothing about cross-process
// concurrency.
type Store interface {
	GetOrCreate(sessionID, ownerID, name string) (*Session, error)
	AppendRun(sessionID string, run RunRecord) error
	Get(sessionID string) (*Session, bool)
	HistoryContext(sessionID string, numRuns int) string
	GetState(sessionID, key string) (any, bool)
	SetState(sessionID, key string, value any) error
}

// formatHistory renders the last numRuns top-level runs as a history block
// for injection into the next run's prompt.
func formatHistory(runs []RunRecord, numRuns int) string {
	var topLevel []RunRecord
	for _, run := range runs {
		if run.ParentRunID == "" {
			topLevel = append(topLevel, run)
		}
	}

	if numRuns > 0 && len(topLevel) > numRuns {
		topLevel = topLevel[len(topLevel)-numRuns:]
	}
	if len(topLevel) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("<history>\n")
	for i, run := range topLevel {
		sb.WriteString(fmt.Sprintf("[Round %d]\n", i+1))
		sb.WriteString(fmt.Sprintf("Task: %s\n", run.Task))
		sb.WriteString(fmt.Sprintf("Response: %s\n\n", run.Response))
	}
	sb.WriteString("</history>")
	return sb.String()
}
