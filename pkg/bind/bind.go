// Package bind keeps local containers synchronized with a remote
// document store's live change stream and exposes them through an
// injected host reactivity surface. It is the core of docbind.
//
// A Binder owns one side-table of bindings on behalf of one owner
// (typically a UI component or a long-lived view). Each binding ties
// a property name to a remote source, applies every incoming change
// event to the bound container with minimal mutation, and releases
// its subscription exactly once when unbound or when the Binder is
// closed.
//
// Container Shapes:
//
// The binding mode selects the container and the mutation strategy:
//
//   - Query sources produce a positionally ordered sequence of
//     normalized documents ([]Document). Change events carry old/new
//     indices and are applied strictly in delivery order against the
//     evolving sequence.
//   - Query sources bound in keyed ("objects") mode produce a mapping
//     from document identity to raw field data. Indices are ignored.
//   - Document sources produce a single normalized document replaced
//     wholesale per snapshot.
//
// First Sync vs Ongoing Sync:
//
// Every binding exposes two distinct contracts. The one-shot future
// (Await/Done) settles exactly once: it resolves with the container
// after the first applied batch, or rejects on the first error. The
// container itself keeps mutating for the binding's whole life; those
// ongoing changes are observed through the Host (see
// reactive.Registry.Watch), never through the future.
//
// Error Model:
//
// A subscription error while a binding is still pending rejects the
// future, releases the subscription, and removes the side-table
// entry. Errors after settlement are logged and dropped; the bound
// container stays at its last synced state. Retry and backoff belong
// to the remote client, not this layer.
//
// Example Usage:
//
//	registry := reactive.New()
//	binder, err := bind.NewBinder(&bind.Config{Host: registry})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer binder.Close()
//
//	query := st.Collection("quests").Where("done", "==", false)
//	binding, err := binder.Bind("quests", bind.QuerySource{Query: query})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	if _, err := binding.Await(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	// registry.Get("quests") now tracks the server, batch by batch.
package bind

import (
	"errors"

	"github.com/MgenGlder/docbind/pkg/store"
)

var (
	// ErrDocumentMissing indicates a single-document binding observed
	// a non-existent document. Missing documents and denied access are
	// indistinguishable at this layer.
	ErrDocumentMissing = errors.New("document missing or access denied")

	// ErrBinderClosed indicates a bind attempt on a closed Binder.
	ErrBinderClosed = errors.New("binder is closed")

	// ErrKeyedRequiresQuery indicates keyed mode was requested for a
	// single-document source, which has no identity-keyed change
	// stream to consume.
	ErrKeyedRequiresQuery = errors.New("keyed mode requires a query source")

	// ErrNilSource indicates a bind attempt without a usable source.
	ErrNilSource = errors.New("nil source")
)

// Host is the reactivity surface a Binder publishes containers
// through. It is injected at construction; the binding engine holds
// no ambient framework state.
//
// Define must be idempotent: declaring an existing key acts as a
// plain Set. SetEntry and DeleteEntry exist because inserting or
// deleting a key of a mapping-valued property must be observable as a
// change, which plain assignment of an in-place-mutated map is not.
type Host interface {
	Define(key string, initial any)
	Set(key string, value any)
	SetEntry(key, id string, value any)
	DeleteEntry(key, id string)
}

// Mode identifies a binding's container shape and mutation strategy.
type Mode int

const (
	// ModeSequence maintains a positionally ordered []Document.
	ModeSequence Mode = iota
	// ModeKeyed maintains a documentID-to-field-data mapping.
	ModeKeyed
	// ModeDocument maintains a single normalized Document.
	ModeDocument
)

// String returns the string representation of the mode.
func (m Mode) String() string {
	switch m {
	case ModeSequence:
		return "sequence"
	case ModeKeyed:
		return "keyed"
	case ModeDocument:
		return "document"
	default:
		return "unknown"
	}
}

// State is a binding's lifecycle position.
type State int

const (
	// StatePending means no notification has been applied yet.
	StatePending State = iota
	// StateBound means at least one notification has been applied and
	// the subscription is live.
	StateBound
	// StateUnbound means the subscription has been released.
	StateUnbound
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateBound:
		return "bound"
	case StateUnbound:
		return "unbound"
	default:
		return "unknown"
	}
}

// Source identifies what a binding subscribes to. It is a sealed
// tagged variant: the binding mode is decided from the concrete type
// at bind time, never inferred structurally from the value.
type Source interface {
	isSource()
}

// QuerySource binds a filtered collection query. Default mode is
// ModeSequence; the Objects option or Ref flag selects ModeKeyed.
type QuerySource struct {
	Query store.Query
}

func (QuerySource) isSource() {}

// DocumentSource binds a single document reference (ModeDocument).
type DocumentSource struct {
	Ref store.DocumentRef
}

func (DocumentSource) isSource() {}

// Ref bundles a source with per-binding mode selection and completion
// callbacks. It is unwrapped before classification; OnReady and
// OnError chain onto the binding's one-shot settlement and therefore
// fire at most once, whichever settles first.
type Ref struct {
	Source  Source
	Objects bool
	OnReady func(any)
	OnError func(error)
}

func (Ref) isSource() {}
