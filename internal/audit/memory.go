package audit

import (
	"context"
	"sync"
)

// Entry is one event held by Memory
type Entry struct {
	EventType string
	Username  string
	Data      map[string]any
}

// Memory keeps events in memory; it backs tests and dry runs.
type Memory struct {
	mu      sync.Mutex
	entries []Entry
}

// Record implements Sink
func (m *Memory) Record(_ context.Context, eventType, username string, data map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, Entry{EventType: eventType, Username: username, Data: data})
}

// Entries returns a copy of the recorded events
func (m *Memory) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out
}

// Count returns how many events of eventType were recorded
func (m *Memory) Count(eventType string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.entries {
		if e.EventType == eventType {
			n++
		}
	}
	return n
}
