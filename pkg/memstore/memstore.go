// Package memstore implements an in-memory document store satisfying
// the pkg/store contract. It hosts named collections of documents,
// evaluates filtered/ordered queries over them, and reports every
// result-set transition to live subscriptions as a change batch that
// replays cleanly under index-based application.
//
// memstore is the authoritative store behind the docbind server
// (pkg/wire) and the integration surface for binding tests. It is
// safe for concurrent use; all document state is guarded by one
// store-wide mutex, and subscription callbacks are delivered off the
// mutating goroutine through per-subscription FIFO queues.
package memstore

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/MgenGlder/docbind/pkg/store"
)

var (
	// ErrNotFound indicates the addressed document does not exist.
	ErrNotFound = errors.New("document not found")

	// ErrEmptyName indicates an empty collection name or document ID.
	ErrEmptyName = errors.New("empty collection or document name")

	// ErrUnknownOperator indicates an unsupported Where operator.
	ErrUnknownOperator = errors.New("unknown query operator")
)

// Config holds store configuration.
type Config struct {
	// Logger receives store activity at debug level. Optional.
	Logger *slog.Logger
}

// Store is an in-memory document store.
type Store struct {
	logger *slog.Logger

	mu          sync.Mutex
	collections map[string]*colState
}

type colState struct {
	docs      map[string]map[string]any
	docSubs   map[*docSub]struct{}
	querySubs map[*querySub]struct{}
}

type docSub struct {
	id      string
	notify  *notifier
	onSnap  func(store.Snapshot)
	onError func(error)
}

type querySub struct {
	query     *Query
	notify    *notifier
	onChanges func([]store.Change)
	onError   func(error)

	// prev is the last result list delivered, maintained under the
	// store lock so diffs are computed against a consistent baseline.
	prev []store.Snapshot
}

// New creates an empty store. cfg may be nil.
func New(cfg *Config) *Store {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if cfg != nil && cfg.Logger != nil {
		logger = cfg.Logger
	}
	return &Store{
		logger:      logger,
		collections: make(map[string]*colState),
	}
}

// Collection returns a handle for the named collection. Collections
// spring into existence on first write; reading or subscribing to an
// empty collection is valid.
func (s *Store) Collection(name string) *Collection {
	return &Collection{store: s, name: name}
}

// Collection is a handle to one named collection.
type Collection struct {
	store *Store
	name  string
}

// Name returns the collection's name.
func (c *Collection) Name() string {
	return c.name
}

// Doc returns a reference to the identified document. The document
// need not exist.
func (c *Collection) Doc(id string) *DocRef {
	return &DocRef{col: c, id: id}
}

// Query returns an unfiltered query over the collection.
func (c *Collection) Query() *Query {
	return &Query{col: c}
}

// Where is shorthand for Query().Where.
func (c *Collection) Where(field, op string, value any) *Query {
	return c.Query().Where(field, op, value)
}

// OrderBy is shorthand for Query().OrderBy.
func (c *Collection) OrderBy(field string, desc bool) *Query {
	return c.Query().OrderBy(field, desc)
}

// Add stores data under a generated ULID identifier and returns it.
// Generated IDs are lexically ordered by creation time, so the
// default ID ordering doubles as insertion order.
func (c *Collection) Add(data map[string]any) (string, error) {
	id := ulid.Make().String()
	if err := c.Set(id, data); err != nil {
		return "", err
	}
	return id, nil
}

// Set creates or wholly replaces the identified document.
func (c *Collection) Set(id string, data map[string]any) error {
	if c.name == "" || id == "" {
		return ErrEmptyName
	}

	c.store.mu.Lock()
	defer c.store.mu.Unlock()

	col := c.store.state(c.name)
	col.docs[id] = maps.Clone(data)
	c.store.logger.Debug("document set", "collection", c.name, "doc", id)
	c.store.fanOut(col, id)
	return nil
}

// Update merges fields into an existing document. Fails with
// ErrNotFound when the document is absent; use Set to create.
func (c *Collection) Update(id string, fields map[string]any) error {
	if c.name == "" || id == "" {
		return ErrEmptyName
	}

	c.store.mu.Lock()
	defer c.store.mu.Unlock()

	col := c.store.state(c.name)
	doc, ok := col.docs[id]
	if !ok {
		return fmt.Errorf("update %s/%s: %w", c.name, id, ErrNotFound)
	}
	for k, v := range fields {
		doc[k] = v
	}
	c.store.logger.Debug("document updated", "collection", c.name, "doc", id)
	c.store.fanOut(col, id)
	return nil
}

// Delete removes an existing document. Fails with ErrNotFound when
// the document is absent.
func (c *Collection) Delete(id string) error {
	if c.name == "" || id == "" {
		return ErrEmptyName
	}

	c.store.mu.Lock()
	defer c.store.mu.Unlock()

	col := c.store.state(c.name)
	if _, ok := col.docs[id]; !ok {
		return fmt.Errorf("delete %s/%s: %w", c.name, id, ErrNotFound)
	}
	delete(col.docs, id)
	c.store.logger.Debug("document deleted", "collection", c.name, "doc", id)
	c.store.fanOut(col, id)
	return nil
}

// DocRef references a single document.
type DocRef struct {
	col *Collection
	id  string
}

// Path returns "collection/id".
func (d *DocRef) Path() string {
	return d.col.name + "/" + d.id
}

// ID returns the document's identity.
func (d *DocRef) ID() string {
	return d.id
}

// Subscribe registers listeners for the document's snapshot stream.
// The current snapshot (Exists=false when absent) is delivered first.
func (d *DocRef) Subscribe(onSnapshot func(store.Snapshot), onError func(error)) store.Unsubscribe {
	s := d.col.store

	s.mu.Lock()
	defer s.mu.Unlock()

	col := s.state(d.col.name)
	sub := &docSub{
		id:      d.id,
		notify:  newNotifier(),
		onSnap:  onSnapshot,
		onError: onError,
	}
	col.docSubs[sub] = struct{}{}

	snap := col.snapshot(d.id)
	sub.notify.enqueue(func() { sub.onSnap(snap) })

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(col.docSubs, sub)
			s.mu.Unlock()
			sub.notify.close()
		})
	}
}

// subscribeQuery registers a query subscription and queues its
// initial batch.
func (s *Store) subscribeQuery(q *Query, onChanges func([]store.Change), onError func(error)) store.Unsubscribe {
	if q.err != nil {
		err := q.err
		n := newNotifier()
		n.enqueue(func() { onError(err) })
		return n.close
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	col := s.state(q.col.name)
	sub := &querySub{
		query:     q,
		notify:    newNotifier(),
		onChanges: onChanges,
		onError:   onError,
	}
	col.querySubs[sub] = struct{}{}

	next := q.evaluate(col.docs)
	initial := diffChanges(nil, next)
	sub.prev = next
	// The initial batch is delivered even when empty so a binding over
	// an empty result set still completes its first sync.
	sub.notify.enqueue(func() { sub.onChanges(initial) })

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(col.querySubs, sub)
			s.mu.Unlock()
			sub.notify.close()
		})
	}
}

// state returns the named collection's state, creating it if needed.
// Caller holds the store lock.
func (s *Store) state(name string) *colState {
	col, ok := s.collections[name]
	if !ok {
		col = &colState{
			docs:      make(map[string]map[string]any),
			docSubs:   make(map[*docSub]struct{}),
			querySubs: make(map[*querySub]struct{}),
		}
		s.collections[name] = col
	}
	return col
}

// fanOut notifies every subscription affected by a change to doc id.
// Caller holds the store lock; delivery happens on each
// subscription's own goroutine.
func (s *Store) fanOut(col *colState, id string) {
	for sub := range col.docSubs {
		if sub.id != id {
			continue
		}
		snap := col.snapshot(id)
		target := sub
		target.notify.enqueue(func() { target.onSnap(snap) })
	}

	for sub := range col.querySubs {
		next := sub.query.evaluate(col.docs)
		changes := diffChanges(sub.prev, next)
		if len(changes) == 0 {
			continue
		}
		sub.prev = next
		target := sub
		target.notify.enqueue(func() { target.onChanges(changes) })
	}
}

// snapshot builds a point-in-time view of doc id with cloned data.
// Caller holds the store lock.
func (col *colState) snapshot(id string) store.Snapshot {
	data, ok := col.docs[id]
	if !ok {
		return store.Snapshot{ID: id, Exists: false}
	}
	return snapshotOf(id, data)
}

func snapshotOf(id string, data map[string]any) store.Snapshot {
	return store.Snapshot{ID: id, Exists: true, Data: maps.Clone(data)}
}
