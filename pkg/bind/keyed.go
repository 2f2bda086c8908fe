package bind

import "github.com/MgenGlder/docbind/pkg/store"

// applyToKeyed applies one change to an identity-keyed mapping.
// Added and Modified both upsert the entry at the document's identity
// with its raw field data; no identity field is injected, the key
// already carries it. Removed deletes the entry. Indices are never
// consulted.
func applyToKeyed(m map[string]any, ch store.Change) {
	switch ch.Kind {
	case store.Added, store.Modified:
		m[ch.Doc.ID] = ch.Doc.Data
	case store.Removed:
		delete(m, ch.Doc.ID)
	}
}
