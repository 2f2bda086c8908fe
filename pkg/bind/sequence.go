package bind

import (
	"slices"

	"github.com/MgenGlder/docbind/pkg/store"
)

// applyToSequence applies one change to an ordered sequence and
// returns the updated slice. Changes within a batch must be applied
// strictly in delivery order: OldIndex and NewIndex address the
// evolving state left by the preceding change, not the pre-batch
// state.
//
//   - Added inserts the normalized document at NewIndex; later
//     positions shift right.
//   - Removed deletes the element at OldIndex; later positions shift
//     left.
//   - Modified with equal indices replaces in place.
//   - Modified with differing indices is a remove-then-insert, a
//     move carrying the updated value.
//
// Index validity is the store's contract; out-of-range indices are
// not re-validated here beyond what insert and delete enforce.
func applyToSequence(seq []Document, ch store.Change, opts Options) []Document {
	switch ch.Kind {
	case store.Added:
		return slices.Insert(seq, ch.NewIndex, Normalize(ch.Doc, opts))

	case store.Removed:
		return slices.Delete(seq, ch.OldIndex, ch.OldIndex+1)

	case store.Modified:
		doc := Normalize(ch.Doc, opts)
		if ch.OldIndex == ch.NewIndex {
			seq[ch.OldIndex] = doc
			return seq
		}
		seq = slices.Delete(seq, ch.OldIndex, ch.OldIndex+1)
		return slices.Insert(seq, ch.NewIndex, doc)

	default:
		return seq
	}
}
