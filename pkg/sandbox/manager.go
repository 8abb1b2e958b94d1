// Package sandbox substitutes isolated-execution counterparts for native
// tools, keyed by session. The sandbox daemon itself is external and
// consumed behind the Client contract.
package sandbox

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultTTL is how long an idle sandbox instance lives.
const DefaultTTL = 3600 * time.Second

// Client is the narrow contract to the external sandbox daemon. Every call
// executes inside the isolation boundary of the named session.
type Client interface {
	Exec(ctx context.Context, sessionID, command string) (string, error)
	WriteFile(ctx context.Context, sessionID, path, content string) error
	ReadFile(ctx context.Context, sessionID, path string) (string, error)
	Teardown(ctx context.Context, sessionID string) error
}

// Instance is one session's sandbox handle.
type Instance struct {
	SessionID string
	client    Client

	mu       sync.Mutex
	lastUsed time.Time
}

// Touch refreshes the instance's idle timer.
func (i *Instance) Touch() {
	i.mu.Lock()
	i.lastUsed = time.Now()
	i.mu.Unlock()
}

func (i *Instance) idleSince() time.Time {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.lastUsed
}

// Manager creates sandbox instances on first use and tears them down on TTL
// expiry. Concurrent requests for the same session share one instance.
type Manager struct {
	client Client
	ttl    time.Duration

	mu        sync.Mutex
	instances map[string]*Instance
}

func NewManager(client Client, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{
		client:    client,
		ttl:       ttl,
		instances: make(map[string]*Instance),
	}
}

// Acquire returns the session's sandbox instance, creating it on first use.
func (m *Manager) Acquire(sessionID string) *Instance {
	m.mu.Lock()
	defer m.mu.Unlock()

	if instance, exists := m.instances[sessionID]; exists {
		instance.Touch()
		return instance
	}

	instance := &Instance{
		SessionID: sessionID,
		client:    m.client,
		lastUsed:  time.Now(),
	}
	m.instances[sessionID] = instance
	slog.Debug("Created sandbox instance", "session_id", sessionID)
	return instance
}

// StartReaper evicts idle instances until ctx ends.
func (m *Manager) StartReaper(ctx context.Context) {
	ticker := time.NewTicker(m.ttl / 4)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.reap(ctx)
			}
		}
	}()
}

func (m *Manager) reap(ctx context.Context) {
	cutoff := time.Now().Add(-m.ttl)

	m.mu.Lock()
	var expired []*Instance
	for sessionID, instance := range m.instances {
		if instance.idleSince().Before(cutoff) {
			expired = append(expired, instance)
			delete(m.instances, sessionID)
		}
	}
	m.mu.Unlock()

	for _, instance := range expired {
		if err := m.client.Teardown(ctx, instance.SessionID); err != nil {
			slog.Warn("Sandbox teardown failed", "session_id", instance.SessionID, "error", err)
		} else {
			slog.Debug("Tore down idle sandbox", "session_id", instance.SessionID)
		}
	}
}

// Count returns the number of live instances.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.instances)
}
