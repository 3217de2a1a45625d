package audit

import (
	"context"
	"sync"
)

// MemoryRecorder keeps entries in-process and fans them out to
// subscribers. Used in tests and single-instance deployments.
type MemoryRecorder struct {
	mu      sync.Mutex
	entries []Entry
	subs    map[int]func([]Entry)
	nextSub int
}

func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{subs: make(map[int]func([]Entry))}
}

// Record appends the entry and notifies every subscriber with the full
// log so far.
func (m *MemoryRecorder) Record(_ context.Context, entry Entry) error {
	m.mu.Lock()
	m.entries = append(m.entries, entry)
	snapshot := make([]Entry, len(m.entries))
	copy(snapshot, m.entries)
	callbacks := make([]func([]Entry), 0, len(m.subs))
	for _, cb := range m.subs {
		callbacks = append(callbacks, cb)
	}
	m.mu.Unlock()

	for _, cb := range callbacks {
		cb(snapshot)
	}
	return nil
}

// Entries returns a copy of everything recorded so far.
func (m *MemoryRecorder) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	snapshot := make([]Entry, len(m.entries))
	copy(snapshot, m.entries)
	return snapshot
}

// Subscribe registers a callback invoked on every new entry with the
// accumulated log. The callback fires once immediately with the current
// log. The returned func cancels the subscription.
func (m *MemoryRecorder) Subscribe(cb func([]Entry)) func() {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = cb
	snapshot := make([]Entry, len(m.entries))
	copy(snapshot, m.entries)
	m.mu.Unlock()

	cb(snapshot)
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
	}
}
