// Package registry tracks per-user edit contributions and presence. Both maps
// live for the life of the server process and reset on restart.
package registry

import "sync"

// Registry owns the contribution counters and the presence map. All methods
// are safe for concurrent use.
type Registry struct {
	mu            sync.Mutex
	contributions map[string]int64
	presence      map[string]string
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		contributions: make(map[string]int64),
		presence:      make(map[string]string),
	}
}

// RecordEdit increments user's contribution counter, initialising it on first
// use. Counters never decrement.
func (r *Registry) RecordEdit(user string) {
	r.mu.Lock()
	r.contributions[user]++
	r.mu.Unlock()
}

// Contributions returns a point-in-time copy of every user's edit count.
func (r *Registry) Contributions() map[string]int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]int64, len(r.contributions))
	for user, n := range r.contributions {
		out[user] = n
	}
	return out
}

// SetPresence records the file a user currently has open (last write wins)
// and returns a copy of the full presence map, which is broadcast as the new
// authoritative table.
func (r *Registry) SetPresence(user, file string) map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.presence[user] = file
	out := make(map[string]string, len(r.presence))
	for u, f := range r.presence {
		out[u] = f
	}
	return out
}

// Presence returns a copy of the current presence map.
func (r *Registry) Presence() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]string, len(r.presence))
	for u, f := range r.presence {
		out[u] = f
	}
	return out
}
