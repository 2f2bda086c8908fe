package memstore

import (
	"reflect"
	"slices"

	"github.com/MgenGlder/docbind/pkg/store"
)

// diffChanges computes the change batch describing the transition
// from prev to next. The batch satisfies the store contract: applying
// its changes one at a time to prev, using index-based insert and
// remove, yields exactly next.
//
// Construction order:
//
//  1. Removals, in ascending index against the evolving state.
//  2. One pass over next's final positions. Position i receives an
//     Added (id not present), a Modified move (present at j != i,
//     remove-at-j then insert-at-i), or a Modified in place (same
//     position, data changed). After step i the evolving prefix
//     [0..i] equals next's, so later indices stay coherent.
//
// A document with identical id, data, and final position produces no
// change. A reordered document produces a Modified even when its data
// is unchanged.
func diffChanges(prev, next []store.Snapshot) []store.Change {
	work := slices.Clone(prev)

	keep := make(map[string]struct{}, len(next))
	for _, s := range next {
		keep[s.ID] = struct{}{}
	}

	var changes []store.Change

	for i := 0; i < len(work); {
		if _, ok := keep[work[i].ID]; ok {
			i++
			continue
		}
		changes = append(changes, store.Change{
			Kind:     store.Removed,
			OldIndex: i,
			NewIndex: store.NoIndex,
			Doc:      work[i],
		})
		work = slices.Delete(work, i, i+1)
	}

	for i, s := range next {
		j := indexOf(work, s.ID)
		switch {
		case j < 0:
			changes = append(changes, store.Change{
				Kind:     store.Added,
				OldIndex: store.NoIndex,
				NewIndex: i,
				Doc:      s,
			})
			work = slices.Insert(work, i, s)

		case j != i:
			changes = append(changes, store.Change{
				Kind:     store.Modified,
				OldIndex: j,
				NewIndex: i,
				Doc:      s,
			})
			work = slices.Delete(work, j, j+1)
			work = slices.Insert(work, i, s)

		case !reflect.DeepEqual(work[i].Data, s.Data):
			changes = append(changes, store.Change{
				Kind:     store.Modified,
				OldIndex: i,
				NewIndex: i,
				Doc:      s,
			})
			work[i] = s
		}
	}

	return changes
}

func indexOf(docs []store.Snapshot, id string) int {
	for i, s := range docs {
		if s.ID == id {
			return i
		}
	}
	return -1
}
