package registry

import (
	"sort"
	"sync"
)

type entry struct {
	id  int
	gen uint64
}

// Memory is the volatile, process-lifetime registry. Ids are monotonic and
// never recycled. Safe for concurrent use.
type Memory struct {
	mu     sync.Mutex
	nextID int
	seq    uint64
	keys   map[string]entry
}

// NewMemory returns an empty registry whose first id is 0.
func NewMemory() *Memory {
	return &Memory{keys: map[string]entry{}}
}

// GetOrCreate returns the id for key, assigning the next id if key is new,
// and bumps the key's generation either way.
func (m *Memory) GetOrCreate(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	if e, ok := m.keys[key]; ok {
		e.gen = m.seq
		m.keys[key] = e
		return e.id
	}
	id := m.nextID
	m.nextID++
	m.keys[key] = entry{id: id, gen: m.seq}
	return id
}

// Lookup returns the id for key or NotFound.
func (m *Memory) Lookup(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.keys[key]; ok {
		return e.id
	}
	return NotFound
}

// ActiveKeys returns the active keys, sorted.
func (m *Memory) ActiveKeys() []string {
	m.mu.Lock()
	out := make([]string, 0, len(m.keys))
	for k := range m.keys {
		out = append(out, k)
	}
	m.mu.Unlock()
	sort.Strings(out)
	return out
}

// Remove forgets key. Its id is not reused.
func (m *Memory) Remove(key string) {
	m.mu.Lock()
	delete(m.keys, key)
	m.mu.Unlock()
}

// Generation returns the generation of key, or 0 if key is not active.
func (m *Memory) Generation(key string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.keys[key].gen
}

// Len returns the number of active keys.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.keys)
}

// Entries returns the active keys with their ids, sorted by key.
func (m *Memory) Entries() []Entry {
	m.mu.Lock()
	out := make([]Entry, 0, len(m.keys))
	for k, e := range m.keys {
		out = append(out, Entry{Key: k, ID: e.id})
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

var _ Registry = (*Memory)(nil)
