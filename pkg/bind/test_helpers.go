package bind

import (
	"sync"
	"sync/atomic"

	"github.com/MgenGlder/docbind/pkg/store"
)

// mockQuery implements store.Query for testing. Tests drive it by
// emitting batches and errors synchronously on the calling goroutine,
// which matches the serialized-delivery contract.
type mockQuery struct {
	path string

	mu        sync.Mutex
	onChanges func([]store.Change)
	onError   func(error)

	subscribes   atomic.Int64
	unsubscribes atomic.Int64
}

func newMockQuery() *mockQuery {
	return &mockQuery{path: "mock"}
}

func (m *mockQuery) Path() string { return m.path }

func (m *mockQuery) Subscribe(onChanges func([]store.Change), onError func(error)) store.Unsubscribe {
	m.mu.Lock()
	m.onChanges = onChanges
	m.onError = onError
	m.mu.Unlock()

	m.subscribes.Add(1)
	return func() {
		m.unsubscribes.Add(1)
		m.mu.Lock()
		m.onChanges = nil
		m.onError = nil
		m.mu.Unlock()
	}
}

func (m *mockQuery) EmitChanges(changes []store.Change) {
	m.mu.Lock()
	fn := m.onChanges
	m.mu.Unlock()
	if fn != nil {
		fn(changes)
	}
}

func (m *mockQuery) EmitError(err error) {
	m.mu.Lock()
	fn := m.onError
	m.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

// mockDocRef implements store.DocumentRef for testing.
type mockDocRef struct {
	id string

	mu      sync.Mutex
	onSnap  func(store.Snapshot)
	onError func(error)

	subscribes   atomic.Int64
	unsubscribes atomic.Int64
}

func newMockDocRef(id string) *mockDocRef {
	return &mockDocRef{id: id}
}

func (m *mockDocRef) Path() string { return "mock/" + m.id }
func (m *mockDocRef) ID() string   { return m.id }

func (m *mockDocRef) Subscribe(onSnapshot func(store.Snapshot), onError func(error)) store.Unsubscribe {
	m.mu.Lock()
	m.onSnap = onSnapshot
	m.onError = onError
	m.mu.Unlock()

	m.subscribes.Add(1)
	return func() {
		m.unsubscribes.Add(1)
		m.mu.Lock()
		m.onSnap = nil
		m.onError = nil
		m.mu.Unlock()
	}
}

func (m *mockDocRef) EmitSnapshot(snap store.Snapshot) {
	m.mu.Lock()
	fn := m.onSnap
	m.mu.Unlock()
	if fn != nil {
		fn(snap)
	}
}

func (m *mockDocRef) EmitError(err error) {
	m.mu.Lock()
	fn := m.onError
	m.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

// mockHost implements Host and records every call in order.
type mockHost struct {
	mu    sync.Mutex
	cells map[string]any
	calls []hostCall
}

type hostCall struct {
	op    string // define, set, setEntry, deleteEntry
	key   string
	id    string
	value any
}

func newMockHost() *mockHost {
	return &mockHost{cells: make(map[string]any)}
}

func (h *mockHost) Define(key string, initial any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cells[key] = initial
	h.calls = append(h.calls, hostCall{op: "define", key: key, value: initial})
}

func (h *mockHost) Set(key string, value any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cells[key] = value
	h.calls = append(h.calls, hostCall{op: "set", key: key, value: value})
}

func (h *mockHost) SetEntry(key, id string, value any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	m, _ := h.cells[key].(map[string]any)
	if m == nil {
		m = make(map[string]any)
	}
	m[id] = value
	h.cells[key] = m
	h.calls = append(h.calls, hostCall{op: "setEntry", key: key, id: id, value: value})
}

func (h *mockHost) DeleteEntry(key, id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if m, ok := h.cells[key].(map[string]any); ok {
		delete(m, id)
	}
	h.calls = append(h.calls, hostCall{op: "deleteEntry", key: key, id: id})
}

func (h *mockHost) Value(key string) any {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cells[key]
}

func (h *mockHost) Calls() []hostCall {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]hostCall(nil), h.calls...)
}

// Change constructors keep test tables compact.

func added(newIndex int, id string, data map[string]any) store.Change {
	return store.Change{
		Kind:     store.Added,
		OldIndex: store.NoIndex,
		NewIndex: newIndex,
		Doc:      store.Snapshot{ID: id, Exists: true, Data: data},
	}
}

func removed(oldIndex int, id string) store.Change {
	return store.Change{
		Kind:     store.Removed,
		OldIndex: oldIndex,
		NewIndex: store.NoIndex,
		Doc:      store.Snapshot{ID: id, Exists: true},
	}
}

func modified(oldIndex, newIndex int, id string, data map[string]any) store.Change {
	return store.Change{
		Kind:     store.Modified,
		OldIndex: oldIndex,
		NewIndex: newIndex,
		Doc:      store.Snapshot{ID: id, Exists: true, Data: data},
	}
}
