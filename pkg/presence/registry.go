// ABOUTME: Heartbeat-driven membership table for UDP endpoints
// ABOUTME: Entries are refreshed by newer heartbeats and evicted by liveness decay
package presence

import (
	"log"
	"net/netip"
	"sort"
	"sync"

	"github.com/Resonate-Protocol/soundcast/pkg/protocol"
)

// DefaultLiveness is the number of broadcast cycles an endpoint survives
// without a heartbeat
const DefaultLiveness = 10

// Entry is one known endpoint
type Entry struct {
	Name          string
	Addr          netip.AddrPort
	LastHeartbeat int64 // heartbeat timestamp, Unix microseconds
	Liveness      int32
}

// Registry tracks endpoints by name
type Registry struct {
	liveness int32

	mu      sync.Mutex
	entries map[string]*Entry

	// OnEvict is called outside the lock for every evicted name
	OnEvict func(name string)
}

// NewRegistry creates a registry. A liveness of zero or less selects DefaultLiveness.
func NewRegistry(liveness int) *Registry {
	if liveness <= 0 {
		liveness = DefaultLiveness
	}
	return &Registry{
		liveness: int32(liveness),
		entries:  make(map[string]*Entry),
	}
}

// OnHeartbeat applies a heartbeat received from addr. It returns false when the
// heartbeat is not newer than the one already recorded for that name.
func (r *Registry) OnHeartbeat(hb protocol.Heartbeat, addr netip.AddrPort) bool {
	if hb.Name == "" {
		return false
	}

	r.mu.Lock()
	entry, ok := r.entries[hb.Name]
	if ok && hb.Timestamp <= entry.LastHeartbeat {
		r.mu.Unlock()
		return false
	}
	if !ok {
		entry = &Entry{Name: hb.Name}
		r.entries[hb.Name] = entry
	}
	moved := ok && entry.Addr != addr
	entry.Addr = addr
	entry.LastHeartbeat = hb.Timestamp
	entry.Liveness = r.liveness
	r.mu.Unlock()

	if !ok {
		log.Printf("Presence: %s registered from %s", hb.Name, addr)
	} else if moved {
		log.Printf("Presence: %s moved to %s", hb.Name, addr)
	}
	return true
}

// DecayTick decrements every entry and evicts those that reach zero.
// It returns the evicted names.
func (r *Registry) DecayTick() []string {
	var evicted []string

	r.mu.Lock()
	for name, entry := range r.entries {
		entry.Liveness--
		if entry.Liveness <= 0 {
			delete(r.entries, name)
			evicted = append(evicted, name)
		}
	}
	r.mu.Unlock()

	sort.Strings(evicted)
	for _, name := range evicted {
		log.Printf("Presence: %s evicted", name)
		if r.OnEvict != nil {
			r.OnEvict(name)
		}
	}
	return evicted
}

// Snapshot returns a copy of every entry, sorted by name
func (r *Registry) Snapshot() []Entry {
	r.mu.Lock()
	out := make([]Entry, 0, len(r.entries))
	for _, entry := range r.entries {
		out = append(out, *entry)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Get returns the entry for name
func (r *Registry) Get(name string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[name]
	if !ok {
		return Entry{}, false
	}
	return *entry, true
}

// Len returns the number of registered endpoints
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Remove drops an entry
func (r *Registry) Remove(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[name]; !ok {
		return false
	}
	delete(r.entries, name)
	return true
}
