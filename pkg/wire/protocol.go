// Package wire carries the docbind document-store protocol over
// websockets. The Server side exposes an in-memory store
// (pkg/memstore); the Client side implements the pkg/store contract,
// so a Binder works identically against a local store and a remote
// one.
//
// Protocol:
//
// Each websocket text message holds one JSON frame. The client sends
// requests: subscribe_query, subscribe_doc, unsubscribe, and the
// mutations set, update, delete, add. The server sends events:
// "changes" (a change batch for a query subscription), "snapshot" (a
// document subscription update), "error" (a failed subscription), and
// "ack" (the outcome of a mutation request).
//
// Subscription IDs are chosen by the client and scope every event to
// the subscription it belongs to; request IDs pair mutation acks with
// their requests. The server writes all frames for one connection
// through a single writer, so per-subscription event order on the
// wire matches the store's delivery order.
package wire

import (
	"fmt"

	"github.com/MgenGlder/docbind/pkg/store"
)

// Request operations.
const (
	opSubscribeQuery = "subscribe_query"
	opSubscribeDoc   = "subscribe_doc"
	opUnsubscribe    = "unsubscribe"
	opSet            = "set"
	opUpdate         = "update"
	opDelete         = "delete"
	opAdd            = "add"
)

// Event types.
const (
	eventChanges  = "changes"
	eventSnapshot = "snapshot"
	eventError    = "error"
	eventAck      = "ack"
)

// whereSpec is one filter clause of a query subscription.
type whereSpec struct {
	Field string `json:"field"`
	Op    string `json:"op"`
	Value any    `json:"value"`
}

// orderSpec is one sort key of a query subscription.
type orderSpec struct {
	Field string `json:"field"`
	Desc  bool   `json:"desc,omitempty"`
}

// request is a client-to-server frame.
type request struct {
	Op         string         `json:"op"`
	Sub        string         `json:"sub,omitempty"`
	Req        string         `json:"req,omitempty"`
	Collection string         `json:"collection,omitempty"`
	Doc        string         `json:"doc,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
	Where      []whereSpec    `json:"where,omitempty"`
	OrderBy    []orderSpec    `json:"order_by,omitempty"`
	Limit      int            `json:"limit,omitempty"`
}

// docSpec is a document snapshot on the wire.
type docSpec struct {
	ID     string         `json:"id"`
	Exists bool           `json:"exists"`
	Data   map[string]any `json:"data,omitempty"`
}

// changeSpec is one change of a batch on the wire.
type changeSpec struct {
	Kind     string  `json:"kind"`
	OldIndex int     `json:"old_index"`
	NewIndex int     `json:"new_index"`
	Doc      docSpec `json:"doc"`
}

// event is a server-to-client frame.
type event struct {
	Type    string       `json:"type"`
	Sub     string       `json:"sub,omitempty"`
	Req     string       `json:"req,omitempty"`
	Changes []changeSpec `json:"changes,omitempty"`
	Doc     *docSpec     `json:"doc,omitempty"`
	DocID   string       `json:"doc_id,omitempty"`
	Error   string       `json:"error,omitempty"`
}

func encodeSnapshot(s store.Snapshot) docSpec {
	return docSpec{ID: s.ID, Exists: s.Exists, Data: s.Data}
}

func decodeSnapshot(d docSpec) store.Snapshot {
	return store.Snapshot{ID: d.ID, Exists: d.Exists, Data: d.Data}
}

func encodeChanges(changes []store.Change) []changeSpec {
	out := make([]changeSpec, len(changes))
	for i, ch := range changes {
		out[i] = changeSpec{
			Kind:     ch.Kind.String(),
			OldIndex: ch.OldIndex,
			NewIndex: ch.NewIndex,
			Doc:      encodeSnapshot(ch.Doc),
		}
	}
	return out
}

func decodeChanges(specs []changeSpec) ([]store.Change, error) {
	out := make([]store.Change, len(specs))
	for i, spec := range specs {
		kind, err := kindOf(spec.Kind)
		if err != nil {
			return nil, err
		}
		out[i] = store.Change{
			Kind:     kind,
			OldIndex: spec.OldIndex,
			NewIndex: spec.NewIndex,
			Doc:      decodeSnapshot(spec.Doc),
		}
	}
	return out, nil
}

func kindOf(s string) (store.ChangeKind, error) {
	switch s {
	case "added":
		return store.Added, nil
	case "removed":
		return store.Removed, nil
	case "modified":
		return store.Modified, nil
	default:
		return 0, fmt.Errorf("unknown change kind %q", s)
	}
}
