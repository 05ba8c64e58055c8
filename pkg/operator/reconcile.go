package operator

import (
	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/l7mp/livequery/pkg/collection"
)

// reconcile mutates the transaction contents into desired using removals, moves and insertions.
// Elements are matched by identity, duplicates are matched in order of appearance.
func reconcile[T comparable](tx *collection.Transaction[T], desired []T) error {
	keep := sets.New(desired...)
	for i := tx.Len() - 1; i >= 0; i-- {
		cur, err := tx.At(i)
		if err != nil {
			return err
		}
		if !keep.Has(cur) {
			if err := tx.RemoveAt(i); err != nil {
				return err
			}
		}
	}

	for i, want := range desired {
		if i < tx.Len() {
			cur, err := tx.At(i)
			if err != nil {
				return err
			}
			if cur == want {
				continue
			}
		}

		from := -1
		for j := i + 1; j < tx.Len(); j++ {
			if cur, _ := tx.At(j); cur == want {
				from = j
				break
			}
		}
		if from >= 0 {
			if err := tx.Move(from, i); err != nil {
				return err
			}
			continue
		}
		if err := tx.Insert(i, want); err != nil {
			return err
		}
	}

	for tx.Len() > len(desired) {
		if err := tx.RemoveAt(tx.Len() - 1); err != nil {
			return err
		}
	}
	return nil
}
