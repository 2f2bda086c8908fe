package bind

import (
	"encoding/json"

	"github.com/MgenGlder/docbind/pkg/store"
)

// Document is the normalized form of a document snapshot: the
// snapshot's field data plus its identity.
type Document struct {
	// ID is the document's identity, always populated regardless of
	// the Enumerable option.
	ID string

	// Fields is the document's field data. When normalization ran
	// with Enumerable, it additionally contains the identity under
	// the configured key name.
	Fields map[string]any
}

// MarshalJSON serializes the field map only. The identity appears in
// the output exactly when normalization ran with Enumerable; a
// non-enumerable identity stays reachable through ID but invisible to
// serialization.
func (d Document) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Fields)
}

// Normalize converts a snapshot into a Document under the given
// options. The snapshot's field map is copied, never mutated; with
// Enumerable the identity is merged into the copy under
// opts.KeyName. Pure function.
func Normalize(snap store.Snapshot, opts Options) Document {
	keyName := opts.KeyName
	if keyName == "" {
		keyName = DefaultKeyName
	}

	fields := make(map[string]any, len(snap.Data)+1)
	for k, v := range snap.Data {
		fields[k] = v
	}
	if opts.Enumerable {
		fields[keyName] = snap.ID
	}

	return Document{ID: snap.ID, Fields: fields}
}
