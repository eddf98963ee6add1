package realtime

import (
	"fmt"
	"sync"
)

// Registry holds process-wide channel subscriptions, at most one per channel
// name. Each entry remembers the filter key (for example the signed-in user
// id) it was opened for.
//
// Ensure is a critical section: concurrent or repeated calls for the same
// name never leave two live subscriptions behind.
type Registry struct {
	mu      sync.Mutex
	entries map[string]registryEntry
}

type registryEntry struct {
	key  string
	stop func()
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]registryEntry)}
}

// Ensure guarantees channel name is subscribed for key.
//
// If it already is, start is not called. If it is subscribed for another
// key, the stale subscription is stopped before start runs. Returns whether
// a stale subscription was replaced.
func (r *Registry) Ensure(name, key string, start func() (stop func(), err error)) (replaced bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.entries[name]; ok {
		if cur.key == key {
			return false, nil
		}
		cur.stop()
		delete(r.entries, name)
		replaced = true
	}

	stop, err := start()
	if err != nil {
		return replaced, fmt.Errorf("start channel %s for %s: %w", name, key, err)
	}
	if stop == nil {
		stop = func() {}
	}
	r.entries[name] = registryEntry{key: key, stop: stop}
	return replaced, nil
}

// Key returns the filter key channel name is subscribed for.
func (r *Registry) Key(name string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[name]
	return e.key, ok
}

// Len returns the number of live channels.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Release stops channel name if present.
func (r *Registry) Release(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[name]; ok {
		e.stop()
		delete(r.entries, name)
	}
}

// Close stops every channel.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, e := range r.entries {
		e.stop()
		delete(r.entries, name)
	}
}
