package match

import "sync"

// SelectionMemory remembers which anime a user's player last picked for a
// given title, so repeat lookups resolve to the same work. It is a bounded
// insertion-ordered map: when full, the oldest entry is evicted. A zero or
// negative capacity disables it entirely.
type SelectionMemory struct {
	mu       sync.Mutex
	capacity int
	order    []string
	entries  map[string]int64
}

func NewSelectionMemory(capacity int) *SelectionMemory {
	m := &SelectionMemory{capacity: capacity}
	if capacity > 0 {
		m.entries = make(map[string]int64, capacity)
	}
	return m
}

// Remember records the chosen animeID for the normalized title. Re-recording
// an existing title refreshes its position.
func (m *SelectionMemory) Remember(title string, animeID int64) {
	if m == nil || m.capacity <= 0 {
		return
	}
	key := Normalize(title)
	if key == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.entries[key]; exists {
		m.removeFromOrder(key)
	} else if len(m.entries) >= m.capacity {
		oldest := m.order[0]
		m.order = m.order[1:]
		delete(m.entries, oldest)
	}
	m.entries[key] = animeID
	m.order = append(m.order, key)
}

// Recall returns the remembered animeID for the title, if any.
func (m *SelectionMemory) Recall(title string) (int64, bool) {
	if m == nil || m.capacity <= 0 {
		return 0, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.entries[Normalize(title)]
	return id, ok
}

// Len reports the number of remembered titles.
func (m *SelectionMemory) Len() int {
	if m == nil || m.capacity <= 0 {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *SelectionMemory) removeFromOrder(key string) {
	for i, k := range m.order {
		if k == key {
			m.order = append(m.order[:i], m.order[i+1:]...)
			return
		}
	}
}
