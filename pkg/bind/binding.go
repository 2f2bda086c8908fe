package bind

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/MgenGlder/docbind/pkg/store"
)

// Binding ties one property name to one live subscription. It carries
// the one-shot completion future ("first sync finished") and the
// lifecycle state of the long-lived sync stream; the synced container
// itself is published through the Binder's Host.
type Binding struct {
	binder *Binder
	logger *slog.Logger
	key    string
	mode   Mode
	opts   Options

	onReady func(any)
	onError func(error)

	// One-shot settlement. First resolve or reject wins; the channel
	// close publishes value/err to Await callers.
	settleOnce sync.Once
	done       chan struct{}
	value      any
	err        error

	mu       sync.Mutex
	state    State
	released bool
	unsub    store.Unsubscribe

	// Containers, mutated only on the subscription's delivery
	// goroutine under mu. Exactly one is in use, per mode.
	seq   []Document
	keyed map[string]any
}

func newBinding(b *Binder, key string, mode Mode, settings bindSettings) *Binding {
	bd := &Binding{
		binder:  b,
		logger:  b.logger,
		key:     key,
		mode:    mode,
		opts:    settings.opts,
		onReady: settings.onReady,
		onError: settings.onError,
		done:    make(chan struct{}),
		state:   StatePending,
	}
	if mode == ModeKeyed {
		bd.keyed = make(map[string]any)
	}
	return bd
}

// Key returns the bound property name.
func (bd *Binding) Key() string { return bd.key }

// Mode returns the binding's container mode.
func (bd *Binding) Mode() Mode { return bd.mode }

// State returns the binding's lifecycle state.
func (bd *Binding) State() State {
	bd.mu.Lock()
	defer bd.mu.Unlock()
	return bd.state
}

// Done returns a channel closed when the future settles.
func (bd *Binding) Done() <-chan struct{} {
	return bd.done
}

// Await blocks until the first sync completes or fails, or ctx ends.
// It returns the container as of the first applied batch; the live
// container keeps syncing and is observed through the Host.
func (bd *Binding) Await(ctx context.Context) (any, error) {
	select {
	case <-bd.done:
		return bd.value, bd.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// attach records the subscription release handle. If the binding was
// already unbound while the subscription was being opened, the handle
// is released immediately.
func (bd *Binding) attach(unsub store.Unsubscribe) {
	bd.mu.Lock()
	if bd.released {
		bd.mu.Unlock()
		if unsub != nil {
			unsub()
		}
		return
	}
	bd.unsub = unsub
	bd.mu.Unlock()
}

// release transitions to Unbound and releases the subscription
// handle. At most one caller performs the release; later calls
// no-op. Mutations already applied are not rolled back.
func (bd *Binding) release() {
	bd.mu.Lock()
	if bd.released {
		bd.mu.Unlock()
		return
	}
	bd.released = true
	bd.state = StateUnbound
	unsub := bd.unsub
	bd.unsub = nil
	bd.mu.Unlock()

	if unsub != nil {
		unsub()
	}
}

// handleChanges consumes one change batch for a collection-mode
// binding. Events apply in delivery order against the evolving
// container; the result is published to the Host as one synchronous
// mutation step, then the future resolves (a no-op after the first
// batch).
func (bd *Binding) handleChanges(changes []store.Change) {
	bd.mu.Lock()
	if bd.released {
		bd.mu.Unlock()
		return
	}

	switch bd.mode {
	case ModeSequence:
		for _, ch := range changes {
			bd.seq = applyToSequence(bd.seq, ch, bd.opts)
		}
		published := slices.Clone(bd.seq)
		if bd.state == StatePending {
			bd.state = StateBound
		}
		bd.mu.Unlock()

		bd.binder.host.Set(bd.key, published)
		bd.resolve(published)

	case ModeKeyed:
		for _, ch := range changes {
			applyToKeyed(bd.keyed, ch)
		}
		published := maps.Clone(bd.keyed)
		if bd.state == StatePending {
			bd.state = StateBound
		}
		bd.mu.Unlock()

		for _, ch := range changes {
			switch ch.Kind {
			case store.Added, store.Modified:
				bd.binder.host.SetEntry(bd.key, ch.Doc.ID, ch.Doc.Data)
			case store.Removed:
				bd.binder.host.DeleteEntry(bd.key, ch.Doc.ID)
			}
		}
		bd.resolve(published)

	default:
		bd.mu.Unlock()
	}
}

// handleSnapshot consumes one snapshot for a document-mode binding.
// An existing document replaces the bound value wholesale. A missing
// document fails the binding: the side-table entry is removed, the
// subscription released, and the future rejected with
// ErrDocumentMissing; the Host keeps the property's prior value.
func (bd *Binding) handleSnapshot(snap store.Snapshot) {
	if !snap.Exists {
		bd.logger.Debug("document missing", "key", bd.key, "doc", snap.ID)
		bd.binder.forget(bd.key, bd)
		bd.release()
		bd.reject(fmt.Errorf("bind %q: %w", bd.key, ErrDocumentMissing))
		return
	}

	doc := Normalize(snap, bd.opts)

	bd.mu.Lock()
	if bd.released {
		bd.mu.Unlock()
		return
	}
	if bd.state == StatePending {
		bd.state = StateBound
	}
	bd.mu.Unlock()

	bd.binder.host.Set(bd.key, doc)
	bd.resolve(doc)
}

// handleError consumes a subscription-level error. Before settlement
// it rejects and fully unbinds; after settlement it is logged and
// dropped, with no secondary error channel.
func (bd *Binding) handleError(err error) {
	if bd.settled() {
		bd.logger.Error("subscription error after settlement",
			"key", bd.key,
			"error", err,
		)
		return
	}

	bd.logger.Debug("subscription failed before first sync", "key", bd.key, "error", err)
	bd.binder.forget(bd.key, bd)
	bd.release()
	bd.reject(err)
}

func (bd *Binding) resolve(value any) {
	bd.settleOnce.Do(func() {
		bd.value = value
		close(bd.done)
		if bd.onReady != nil {
			bd.onReady(value)
		}
	})
}

func (bd *Binding) reject(err error) {
	bd.settleOnce.Do(func() {
		bd.err = err
		close(bd.done)
		if bd.onError != nil {
			bd.onError(err)
		}
	})
}

func (bd *Binding) settled() bool {
	select {
	case <-bd.done:
		return true
	default:
		return false
	}
}
