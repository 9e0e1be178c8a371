// Package registry assigns notification ids to contacts and tracks which
// contacts currently have a live notification.
//
// A contact key is the sender address exactly as received. Keys are never
// normalized: "+15551234567" and "(555) 123-4567" are different contacts here.
package registry

// NotFound is returned by Lookup for unknown keys. It is never a valid id.
const NotFound = -1

// Registry is the capability set the lifecycle coordinator needs. The memory
// implementation is the default; a persistent variant can be substituted
// without touching the coordinator.
type Registry interface {
	// GetOrCreate returns the id for key, assigning the next id if key is not
	// active. The key becomes active.
	GetOrCreate(key string) int
	// Lookup returns the id for key or NotFound. It never mutates state.
	Lookup(key string) int
	// ActiveKeys returns a sorted snapshot of keys with a live notification.
	ActiveKeys() []string
	// Remove forgets key. A later GetOrCreate issues a fresh id.
	Remove(key string)
	// Generation returns a counter bumped on every GetOrCreate for key, or 0
	// when key is not active.
	Generation(key string) uint64
	// Len returns the number of active keys.
	Len() int
	// Entries returns the active keys with their ids as one consistent
	// snapshot, sorted by key.
	Entries() []Entry
}

// Entry is a point-in-time view of one active key.
type Entry struct {
	Key string `json:"key"`
	ID  int    `json:"id"`
}
