// Package presence tracks which participants hold a live connection.
package presence

import (
	"sync"

	"github.com/capitalize-ai/listing-chat/internal/model"
)

// Conn is the handle of one live connection. ID must be unique per
// connection instance for the lifetime of the process.
type Conn interface {
	ID() string
	// Send enqueues evt for delivery. It never blocks indefinitely; an error
	// means the event was dropped.
	Send(evt model.Event) error
}

// Registry maps a participant identity to its most recent live connection.
type Registry interface {
	// Register associates identity with conn, replacing any prior handle.
	Register(identity string, conn Conn)
	// Lookup returns the current handle for identity. Absent is a normal
	// outcome meaning the participant is offline.
	Lookup(identity string) (Conn, bool)
	// UnregisterIfCurrent removes the entry only if it still points at conn.
	// It reports whether an entry was removed.
	UnregisterIfCurrent(identity string, conn Conn) bool
	// Len returns the number of online participants.
	Len() int
}

// Map is an in-process Registry guarded by a RWMutex.
type Map struct {
	mu       sync.RWMutex
	sessions map[string]Conn // identity -> connection
}

// NewMap creates an empty registry.
func NewMap() *Map {
	return &Map{
		sessions: make(map[string]Conn),
	}
}

// Register implements Registry. Last writer wins: an older connection for the
// same identity becomes unreachable.
func (m *Map) Register(identity string, conn Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sessions[identity] = conn
}

// Lookup implements Registry.
func (m *Map) Lookup(identity string) (Conn, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conn, ok := m.sessions[identity]
	return conn, ok
}

// UnregisterIfCurrent implements Registry. Connections are compared by ID so
// that a stale connection disconnecting after a newer one registered the same
// identity leaves the newer entry in place.
func (m *Map) UnregisterIfCurrent(identity string, conn Conn) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.sessions[identity]
	if !ok || current.ID() != conn.ID() {
		return false
	}
	delete(m.sessions, identity)
	return true
}

// Len implements Registry.
func (m *Map) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.sessions)
}
