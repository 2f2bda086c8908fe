package bind

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"

	"github.com/MgenGlder/docbind/pkg/store"
)

// Config holds Binder configuration.
type Config struct {
	// Host receives reactive declarations and container updates.
	// Required.
	Host Host

	// Logger receives binding lifecycle activity. Optional.
	Logger *slog.Logger

	// Options are the normalization defaults for every binding of
	// this Binder. The zero value means DefaultOptions.
	Options Options
}

// Validate checks the config and applies defaults.
func (c *Config) Validate() error {
	if c.Host == nil {
		return errors.New("host is required")
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if c.Options == (Options{}) {
		c.Options = DefaultOptions()
	}
	return nil
}

// Binder owns the bindings of one owner: a side-table from property
// name to live binding. All methods are safe for concurrent use,
// though the expected model is a single logical thread of control per
// owner.
type Binder struct {
	host   Host
	logger *slog.Logger
	opts   Options

	mu       sync.Mutex
	bindings map[string]*Binding
	closed   bool
}

// NewBinder creates a Binder for one owner.
func NewBinder(cfg *Config) (*Binder, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Binder{
		host:     cfg.Host,
		logger:   cfg.Logger,
		opts:     cfg.Options,
		bindings: make(map[string]*Binding),
	}, nil
}

// Bind ties key to source: it records the binding in the side-table,
// declares key on the Host with the mode's empty initial value, and
// opens exactly one subscription. Re-binding an existing key unbinds
// the previous binding first.
//
// Classification, in priority order: an explicit keyed request (the
// Objects option or a Ref's Objects flag) selects ModeKeyed and
// requires a QuerySource; otherwise a QuerySource selects
// ModeSequence and a DocumentSource selects ModeDocument.
//
// The returned Binding's future settles on the first applied batch or
// the first error; the container keeps syncing afterwards for the
// binding's whole life.
func (b *Binder) Bind(key string, source Source, opts ...BindOption) (*Binding, error) {
	if key == "" {
		return nil, errors.New("key is required")
	}

	settings := bindSettings{opts: b.opts}
	source = unwrap(source, &settings)
	for _, opt := range opts {
		opt(&settings)
	}

	var (
		mode  Mode
		query store.Query
		doc   store.DocumentRef
	)
	switch s := source.(type) {
	case QuerySource:
		if s.Query == nil {
			return nil, fmt.Errorf("bind %q: %w", key, ErrNilSource)
		}
		query = s.Query
		mode = ModeSequence
		if settings.objects {
			mode = ModeKeyed
		}
	case DocumentSource:
		if s.Ref == nil {
			return nil, fmt.Errorf("bind %q: %w", key, ErrNilSource)
		}
		if settings.objects {
			return nil, fmt.Errorf("bind %q: %w", key, ErrKeyedRequiresQuery)
		}
		doc = s.Ref
		mode = ModeDocument
	case nil:
		return nil, fmt.Errorf("bind %q: %w", key, ErrNilSource)
	default:
		return nil, fmt.Errorf("bind %q: unsupported source type %T", key, source)
	}

	bd := newBinding(b, key, mode, settings)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, fmt.Errorf("bind %q: %w", key, ErrBinderClosed)
	}
	prev := b.bindings[key]
	b.bindings[key] = bd
	b.mu.Unlock()

	if prev != nil {
		b.logger.Debug("rebinding key, releasing previous binding", "key", key)
		prev.release()
	}

	switch mode {
	case ModeSequence:
		b.host.Define(key, []Document{})
	case ModeKeyed:
		b.host.Define(key, map[string]any{})
	case ModeDocument:
		b.host.Define(key, nil)
	}

	b.logger.Debug("binding opened", "key", key, "mode", mode)

	var unsub store.Unsubscribe
	if mode == ModeDocument {
		unsub = doc.Subscribe(bd.handleSnapshot, bd.handleError)
	} else {
		unsub = query.Subscribe(bd.handleChanges, bd.handleError)
	}
	bd.attach(unsub)

	return bd, nil
}

// Unbind removes key's side-table entry and releases its
// subscription. A second call finds no entry and is a no-op, as is
// unbinding after Close.
func (b *Binder) Unbind(key string) {
	b.mu.Lock()
	bd, ok := b.bindings[key]
	if ok {
		delete(b.bindings, key)
	}
	b.mu.Unlock()

	if !ok {
		return
	}
	b.logger.Debug("binding released", "key", key)
	bd.release()
}

// Close unbinds every remaining key, clears the side-table, and makes
// further Bind calls fail with ErrBinderClosed. Idempotent. This is
// the owner-teardown counterpart of declarative binding.
func (b *Binder) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	remaining := make([]*Binding, 0, len(b.bindings))
	for _, bd := range b.bindings {
		remaining = append(remaining, bd)
	}
	b.bindings = make(map[string]*Binding)
	b.mu.Unlock()

	for _, bd := range remaining {
		bd.release()
	}
	b.logger.Debug("binder closed", "released", len(remaining))
}

// Declarations maps property names to sources for declarative
// binding. Ref values carry per-key mode flags and callbacks.
type Declarations map[string]Source

// BindAll processes a declaration set in deterministic (sorted-key)
// order. On the first failing key it stops and returns the bindings
// created so far alongside the error; Close releases those.
func (b *Binder) BindAll(decls Declarations) ([]*Binding, error) {
	keys := make([]string, 0, len(decls))
	for k := range decls {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]*Binding, 0, len(keys))
	for _, k := range keys {
		bd, err := b.Bind(k, decls[k])
		if err != nil {
			return out, err
		}
		out = append(out, bd)
	}
	return out, nil
}

// Binding returns the live binding for key, if any.
func (b *Binder) Binding(key string) (*Binding, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	bd, ok := b.bindings[key]
	return bd, ok
}

// Keys returns the side-table's keys in unspecified order.
func (b *Binder) Keys() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	keys := make([]string, 0, len(b.bindings))
	for k := range b.bindings {
		keys = append(keys, k)
	}
	return keys
}

// forget removes key's entry only if it still refers to bd. Bindings
// self-remove on pre-settlement errors and document absence; a
// binding replaced by a re-bind must not evict its successor.
func (b *Binder) forget(key string, bd *Binding) {
	b.mu.Lock()
	if cur, ok := b.bindings[key]; ok && cur == bd {
		delete(b.bindings, key)
	}
	b.mu.Unlock()
}

// unwrap resolves Ref indirection, folding its flags and callbacks
// into the settings. Nested Refs unwrap innermost-source-wins for the
// source and outermost-wins for callbacks already set.
func unwrap(source Source, settings *bindSettings) Source {
	for {
		ref, ok := source.(Ref)
		if !ok {
			return source
		}
		if ref.Objects {
			settings.objects = true
		}
		if settings.onReady == nil {
			settings.onReady = ref.OnReady
		}
		if settings.onError == nil {
			settings.onError = ref.OnError
		}
		source = ref.Source
	}
}
