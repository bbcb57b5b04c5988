/*
Iterator: lazy forward scan over the leaf chain.

The iterator keeps exactly one leaf read-latched and pinned. Advancing past
the current leaf releases it and moves to next_page_id, so a cross-leaf
scan never holds more than one page. Go has no destructors, so the caller
must Close an iterator it abandons before the end.
*/
package index

import (
	"github.com/pkg/errors"

	"github.com/smzst/crabdb/storage/page"
)

// Iterator scans (key, value) pairs in ascending key order
type Iterator[K comparable, V any] struct {
	tree *BPlusTree[K, V]
	// leaf is the current page, read-latched and pinned once.
	// nil in the terminal state.
	leaf *page.Page
	idx  int
}

// Begin positions an iterator at the smallest key
func (t *BPlusTree[K, V]) Begin() (*Iterator[K, V], error) {
	var zero K
	ctx := t.newOpContext(opRead, nil)
	leaf, err := t.findLeafPage(zero, true, ctx)
	if err != nil {
		return nil, err
	}
	t.unlockRoot(ctx)
	if leaf == nil {
		return &Iterator[K, V]{tree: t}, nil
	}
	// the leaf's latch and pin transfer to the iterator
	ctx.txn.ClearPages()
	return &Iterator[K, V]{tree: t, leaf: leaf}, nil
}

// BeginAt positions an iterator at the smallest key >= key
func (t *BPlusTree[K, V]) BeginAt(key K) (*Iterator[K, V], error) {
	ctx := t.newOpContext(opRead, nil)
	leaf, err := t.findLeafPage(key, false, ctx)
	if err != nil {
		return nil, err
	}
	t.unlockRoot(ctx)
	if leaf == nil {
		return &Iterator[K, V]{tree: t}, nil
	}
	ctx.txn.ClearPages()
	it := &Iterator[K, V]{tree: t, leaf: leaf}
	it.idx = t.asLeaf(leaf).keyIndex(key, t.cmp)
	// the key may be greater than everything in this leaf
	if it.idx >= t.asLeaf(leaf).size() {
		if err := it.stepLeaf(); err != nil {
			return nil, err
		}
	}
	return it, nil
}

// IsEnd checks whether the iterator is exhausted
func (it *Iterator[K, V]) IsEnd() bool {
	return it.leaf == nil
}

// Key returns the key at the cursor
func (it *Iterator[K, V]) Key() K {
	return it.tree.asLeaf(it.leaf).keyAt(it.idx)
}

// Value returns the value at the cursor
func (it *Iterator[K, V]) Value() V {
	return it.tree.asLeaf(it.leaf).valueAt(it.idx)
}

// Next advances the cursor, hopping to the next leaf when the current one
// is exhausted
func (it *Iterator[K, V]) Next() error {
	if it.leaf == nil {
		return nil
	}
	it.idx++
	if it.idx < it.tree.asLeaf(it.leaf).size() {
		return nil
	}
	return it.stepLeaf()
}

// stepLeaf releases the current leaf and latches its successor
func (it *Iterator[K, V]) stepLeaf() error {
	lf := it.tree.asLeaf(it.leaf)
	next := lf.nextPageID()
	it.release()
	if !next.IsValid() {
		return nil
	}
	f, err := it.tree.bpm.FetchPage(next)
	if err != nil {
		return errors.Wrap(err, "bpm.FetchPage failed (out of memory)")
	}
	f.RLatch()
	it.leaf = f
	it.idx = 0
	return nil
}

// Close releases the current leaf. safe to call on an exhausted iterator.
func (it *Iterator[K, V]) Close() {
	if it.leaf != nil {
		it.release()
	}
}

func (it *Iterator[K, V]) release() {
	id := it.leaf.ID()
	it.leaf.RUnlatch()
	it.tree.bpm.UnpinPage(id, false)
	it.leaf = nil
}

// Entries drains the iterator into a slice. transaction-less convenience
// for tests and small scans.
func (it *Iterator[K, V]) Entries() ([]K, []V, error) {
	var keys []K
	var values []V
	for !it.IsEnd() {
		keys = append(keys, it.Key())
		values = append(values, it.Value())
		if err := it.Next(); err != nil {
			return nil, nil, err
		}
	}
	return keys, values, nil
}
