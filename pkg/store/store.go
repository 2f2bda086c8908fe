// Package store defines the contract between docbind and a remote
// document store. A store hosts named collections of documents; each
// document has a stable string identity and an opaque field map. The
// binding layer consumes the store exclusively through the interfaces
// here, so any implementation that honors the change-batch invariant
// can back a binding: the in-memory store (pkg/memstore), the
// websocket client (pkg/wire), or a test double.
//
// Change Batches:
//
// A query subscription reports each snapshot transition as an ordered
// batch of Change values. The batch is constructed so that applying
// its changes one at a time to an ordered sequence, using plain
// index-based insert and remove, reproduces the server's final
// ordering. OldIndex and NewIndex refer to positions in that evolving
// intermediate state, not in the pre-batch state. Consumers must not
// reorder, sort, or coalesce the batch.
//
// Delivery:
//
// Implementations serialize notifications per subscription: no two
// callbacks for the same subscription ever run concurrently, and
// batches arrive in the order the store produced them. No ordering
// is promised across different subscriptions.
package store

// ChangeKind classifies one document mutation within a batch.
type ChangeKind int

const (
	// Added indicates a document entered the result set.
	Added ChangeKind = iota
	// Removed indicates a document left the result set.
	Removed
	// Modified indicates a document's data or position changed.
	Modified
)

// String returns the string representation of the change kind.
func (k ChangeKind) String() string {
	switch k {
	case Added:
		return "added"
	case Removed:
		return "removed"
	case Modified:
		return "modified"
	default:
		return "unknown"
	}
}

// NoIndex marks an index that does not apply to a change, such as
// OldIndex on an Added change or either index on a keyed-mode change.
const NoIndex = -1

// Snapshot is a point-in-time view of one document.
//
// Data is owned by the receiver: producers hand out a copy, and
// consumers may retain it without further copying.
type Snapshot struct {
	// ID is the document's stable identity, unique within its
	// collection at any instant.
	ID string

	// Exists reports whether the document was present. Single-document
	// subscriptions deliver Exists=false snapshots for missing or
	// deleted documents.
	Exists bool

	// Data holds the document's fields. Nil when Exists is false.
	Data map[string]any
}

// Change is one atomic mutation reported for one document within a
// snapshot batch.
type Change struct {
	Kind ChangeKind

	// OldIndex is the document's position before the change in the
	// evolving batch state, or NoIndex when not applicable.
	OldIndex int

	// NewIndex is the document's position after the change in the
	// evolving batch state, or NoIndex when not applicable.
	NewIndex int

	// Doc carries the document's identity and data. Removed changes
	// carry the last known data.
	Doc Snapshot
}

// Unsubscribe releases a subscription. It is safe to call more than
// once; calls after the first are no-ops. Release is effective
// immediately for future notifications.
type Unsubscribe func()

// DocumentRef identifies a single document and supports subscribing
// to its snapshot stream.
type DocumentRef interface {
	// Path returns the document's full path, "collection/id".
	Path() string

	// ID returns the document's identity within its collection.
	ID() string

	// Subscribe registers listeners and returns a release handle.
	// onSnapshot receives the current snapshot first, then one
	// snapshot per change of the document. onError receives
	// subscription-level failures.
	Subscribe(onSnapshot func(Snapshot), onError func(error)) Unsubscribe
}

// Query identifies a filtered, ordered view over a collection and
// supports subscribing to its change stream. Query construction
// (filters, ordering, limits) is owned by the concrete store
// implementation; by the time a Query reaches the binding layer it is
// fully formed.
type Query interface {
	// Path returns the queried collection's name.
	Path() string

	// Subscribe registers listeners and returns a release handle.
	// onChanges receives an initial batch describing every matching
	// document as Added, then one batch per result-set transition.
	// onError receives subscription-level failures.
	Subscribe(onChanges func([]Change), onError func(error)) Unsubscribe
}
