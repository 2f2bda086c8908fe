// Package reactive provides an observable-cell registry: a mapping
// from property names to typed cells with change-notification hooks.
// It is the host-side surface a Binder publishes bound containers
// through; a UI or any other consumer observes cells with Watch
// instead of polling.
//
// Cells hold arbitrary values. Keyed-mapping cells get dedicated
// entry-level mutation (SetEntry, DeleteEntry) because inserting or
// deleting a mapping key must be observable as a change, unlike
// mutating a map in place. Entry mutation is copy-on-write: every
// observed value is a stable snapshot that later mutations never
// touch.
package reactive

import (
	"maps"
	"sync"
)

// Registry is a set of named observable cells. The zero value is not
// usable; construct with New.
type Registry struct {
	mu    sync.RWMutex
	cells map[string]*cell
}

type cell struct {
	mu       sync.Mutex
	value    any
	watchers map[int]func(any)
	nextID   int
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{cells: make(map[string]*cell)}
}

// Define declares the cell named key with an initial value. Declaring
// an existing key is idempotent and acts as a plain Set, so watchers
// registered earlier survive.
func (r *Registry) Define(key string, initial any) {
	r.mu.Lock()
	c, ok := r.cells[key]
	if !ok {
		r.cells[key] = &cell{value: initial, watchers: make(map[int]func(any))}
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	c.set(initial)
}

// Set assigns the cell's value and notifies watchers. Setting an
// undeclared key declares it first.
func (r *Registry) Set(key string, value any) {
	r.cellFor(key).set(value)
}

// Get returns the cell's current value. The second result is false
// when the key was never declared.
func (r *Registry) Get(key string) (any, bool) {
	r.mu.RLock()
	c, ok := r.cells[key]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value, true
}

// SetEntry sets one entry of a mapping-valued cell and notifies
// watchers. The mapping is copied before mutation, so values handed
// to earlier watchers or Get callers are unaffected. A cell holding
// nil (or never declared) starts from an empty mapping.
func (r *Registry) SetEntry(key, id string, value any) {
	r.cellFor(key).mutateEntries(func(m map[string]any) {
		m[id] = value
	})
}

// DeleteEntry removes one entry of a mapping-valued cell and notifies
// watchers. Removing an absent entry still notifies; the registry
// does not second-guess the mutation source.
func (r *Registry) DeleteEntry(key, id string) {
	r.cellFor(key).mutateEntries(func(m map[string]any) {
		delete(m, id)
	})
}

// Watch registers fn to run with the cell's new value after every
// change, in per-cell order. Watching an undeclared key declares it
// with a nil value. The returned cancel function is idempotent.
func (r *Registry) Watch(key string, fn func(any)) (cancel func()) {
	c := r.cellFor(key)

	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.watchers[id] = fn
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.watchers, id)
			c.mu.Unlock()
		})
	}
}

// Keys returns the declared cell names in unspecified order.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]string, 0, len(r.cells))
	for k := range r.cells {
		keys = append(keys, k)
	}
	return keys
}

func (r *Registry) cellFor(key string) *cell {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.cells[key]
	if !ok {
		c = &cell{watchers: make(map[int]func(any))}
		r.cells[key] = c
	}
	return c
}

func (c *cell) set(value any) {
	c.mu.Lock()
	c.value = value
	watchers := c.watcherList()
	c.mu.Unlock()

	// Watchers run on the mutating goroutine, outside the cell lock,
	// so a watcher may read the registry freely.
	for _, fn := range watchers {
		fn(value)
	}
}

func (c *cell) mutateEntries(mutate func(map[string]any)) {
	c.mu.Lock()
	current, _ := c.value.(map[string]any)
	next := maps.Clone(current)
	if next == nil {
		next = make(map[string]any)
	}
	mutate(next)
	c.value = next
	watchers := c.watcherList()
	c.mu.Unlock()

	for _, fn := range watchers {
		fn(next)
	}
}

// watcherList snapshots the watcher set. Caller holds the cell lock.
func (c *cell) watcherList() []func(any) {
	watchers := make([]func(any), 0, len(c.watchers))
	for _, fn := range c.watchers {
		watchers = append(watchers, fn)
	}
	return watchers
}
