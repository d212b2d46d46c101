// Package window keeps, per conversation, the most recent cleaned turns used
// as context for the next cleaning call.
package window

import (
	"sync"

	"lumenclean/internal/models"
)

// buffer is a fixed-capacity ring of context entries.
type buffer struct {
	mu      sync.Mutex
	entries []models.ContextEntry
	start   int
	size    int
	limit   int
}

func newBuffer(capacity, limit int) *buffer {
	return &buffer{entries: make([]models.ContextEntry, capacity), limit: limit}
}

func (b *buffer) push(e models.ContextEntry) {
	capacity := len(b.entries)
	if capacity == 0 {
		return
	}
	if b.size < capacity {
		b.entries[(b.start+b.size)%capacity] = e
		b.size++
		return
	}
	b.entries[b.start] = e
	b.start = (b.start + 1) % capacity
}

// last returns up to n most recent entries, oldest first.
func (b *buffer) last(n int) []models.ContextEntry {
	if n > b.size {
		n = b.size
	}
	if n > b.limit {
		n = b.limit
	}
	if n <= 0 {
		return []models.ContextEntry{}
	}
	out := make([]models.ContextEntry, n)
	capacity := len(b.entries)
	offset := b.size - n
	for i := 0; i < n; i++ {
		out[i] = b.entries[(b.start+offset+i)%capacity]
	}
	return out
}

// Manager holds one buffer per conversation.
type Manager struct {
	mu        sync.RWMutex
	buffers   map[string]*buffer
	maxWindow int
}

// NewManager creates a manager whose buffers retain at most maxWindow entries.
func NewManager(maxWindow int) *Manager {
	if maxWindow <= 0 {
		maxWindow = models.MaxWindowSize
	}
	return &Manager{buffers: make(map[string]*buffer), maxWindow: maxWindow}
}

// MaxWindow returns the retention cap.
func (m *Manager) MaxWindow() int {
	return m.maxWindow
}

func (m *Manager) get(conversationID string) *buffer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.buffers[conversationID]
}

func (m *Manager) getOrCreate(conversationID string) *buffer {
	if b := m.get(conversationID); b != nil {
		return b
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.buffers[conversationID]
	if !ok {
		b = newBuffer(m.maxWindow, m.maxWindow)
		m.buffers[conversationID] = b
	}
	return b
}

// Get returns the last n cleaned turns of the conversation, oldest first.
// The result is a copy and never longer than n or the number of appended turns.
func (m *Manager) Get(conversationID string, n int) []models.ContextEntry {
	b := m.get(conversationID)
	if b == nil {
		return []models.ContextEntry{}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.last(n)
}

// Append records a finished turn. Entries beyond the cap are evicted oldest first.
func (m *Manager) Append(conversationID string, entry models.ContextEntry) {
	b := m.getOrCreate(conversationID)
	b.mu.Lock()
	b.push(entry)
	b.mu.Unlock()
}

// Configure narrows what Get may return for a conversation to size entries.
// Retained history is kept, so widening again later exposes it.
func (m *Manager) Configure(conversationID string, size int) {
	if size < 0 {
		size = 0
	}
	if size > m.maxWindow {
		size = m.maxWindow
	}
	b := m.getOrCreate(conversationID)
	b.mu.Lock()
	b.limit = size
	b.mu.Unlock()
}

// Seed replaces the conversation's buffer with entries, keeping the newest.
func (m *Manager) Seed(conversationID string, entries []models.ContextEntry) {
	b := newBuffer(m.maxWindow, m.maxWindow)
	for _, e := range entries {
		b.push(e)
	}
	m.mu.Lock()
	if old, ok := m.buffers[conversationID]; ok {
		old.mu.Lock()
		b.limit = old.limit
		old.mu.Unlock()
	}
	m.buffers[conversationID] = b
	m.mu.Unlock()
}

// Len returns how many entries are retained for the conversation.
func (m *Manager) Len(conversationID string) int {
	b := m.get(conversationID)
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}
