/*
Leaf page: (key, value) entries sorted strictly ascending, packed after the
common header, plus the next-leaf pointer that chains the leaves into a
singly-linked list for range scans.
*/
package index

import (
	"github.com/pkg/errors"

	"github.com/smzst/crabdb/storage/buffer"
	"github.com/smzst/crabdb/storage/page"
)

type leafNode[K comparable, V any] struct {
	node
	kc KeyCodec[K]
	vc ValueCodec[V]
}

func (n leafNode[K, V]) init(id, parent page.PageID, maxSize int) {
	n.setType(leafPageType)
	n.setSize(0)
	n.setMaxSize(maxSize)
	n.setID(id)
	n.setParentID(parent)
	n.setNextPageID(page.InvalidPageID)
}

func (n leafNode[K, V]) nextPageID() page.PageID {
	return page.PageID(n.getInt32(nextOffset))
}

func (n leafNode[K, V]) setNextPageID(id page.PageID) {
	n.putInt32(nextOffset, int32(id))
}

func (n leafNode[K, V]) entrySize() int {
	return n.kc.Size() + n.vc.Size()
}

func (n leafNode[K, V]) entryOffset(i int) int {
	return leafHeaderSize + i*n.entrySize()
}

func (n leafNode[K, V]) entriesBytes(from, to int) []byte {
	return n.p.Data()[n.entryOffset(from):n.entryOffset(to)]
}

func (n leafNode[K, V]) keyAt(i int) K {
	return n.kc.Decode(n.p.Data()[n.entryOffset(i):])
}

func (n leafNode[K, V]) valueAt(i int) V {
	return n.vc.Decode(n.p.Data()[n.entryOffset(i)+n.kc.Size():])
}

func (n leafNode[K, V]) setEntry(i int, k K, v V) {
	off := n.entryOffset(i)
	n.kc.Encode(n.p.Data()[off:], k)
	n.vc.Encode(n.p.Data()[off+n.kc.Size():], v)
}

// keyIndex returns the smallest index whose key >= key (lower bound)
func (n leafNode[K, V]) keyIndex(key K, cmp Comparator[K]) int {
	le, ri := 0, n.size()-1
	for le <= ri {
		mid := le + (ri-le)/2
		if cmp(n.keyAt(mid), key) < 0 {
			le = mid + 1
		} else {
			ri = mid - 1
		}
	}
	return ri + 1
}

// lookup returns the value stored under the key, if present
func (n leafNode[K, V]) lookup(key K, cmp Comparator[K]) (V, bool) {
	idx := n.keyIndex(key, cmp)
	if idx < n.size() && cmp(n.keyAt(idx), key) == 0 {
		return n.valueAt(idx), true
	}
	var zero V
	return zero, false
}

// insert places the pair at its sorted position and returns the new size.
// the caller is responsible for checking duplicates beforehand.
func (n leafNode[K, V]) insert(key K, value V, cmp Comparator[K]) int {
	idx := n.keyIndex(key, cmp)
	sz := n.size()
	copy(n.entriesBytes(idx+1, sz+1), n.entriesBytes(idx, sz))
	n.setEntry(idx, key, value)
	n.setSize(sz + 1)
	return sz + 1
}

// removeAndDeleteRecord deletes the key's entry, keeping the array
// compacted, and returns the size afterward. a missing key is a no-op.
func (n leafNode[K, V]) removeAndDeleteRecord(key K, cmp Comparator[K]) int {
	idx := n.keyIndex(key, cmp)
	sz := n.size()
	if idx >= sz || cmp(n.keyAt(idx), key) != 0 {
		return sz
	}
	copy(n.entriesBytes(idx, sz-1), n.entriesBytes(idx+1, sz))
	n.setSize(sz - 1)
	return sz - 1
}

// moveHalfTo moves the upper half of the entries to the (empty) recipient
// and splices it into the leaf chain right after this page
func (n leafNode[K, V]) moveHalfTo(recipient leafNode[K, V]) {
	total := n.maxSize() + 1
	copyIdx := total / 2
	moved := total - copyIdx
	copy(recipient.entriesBytes(0, moved), n.entriesBytes(copyIdx, total))
	recipient.setSize(moved)
	recipient.setNextPageID(n.nextPageID())
	n.setNextPageID(recipient.id())
	n.setSize(copyIdx)
}

// moveAllTo appends every entry to the recipient (the left sibling) during
// a merge and unlinks this page from the leaf chain
func (n leafNode[K, V]) moveAllTo(recipient leafNode[K, V]) {
	start := recipient.size()
	moved := n.size()
	copy(recipient.entriesBytes(start, start+moved), n.entriesBytes(0, moved))
	recipient.incSize(moved)
	recipient.setNextPageID(n.nextPageID())
	n.setSize(0)
}

// moveFirstToEndOf pops entry 0, appends it to the recipient (the left
// sibling), and rewrites the parent's routing key for this page
func (n leafNode[K, V]) moveFirstToEndOf(recipient leafNode[K, V], bpm *buffer.Manager) error {
	firstKey, firstValue := n.keyAt(0), n.valueAt(0)
	sz := n.size()
	copy(n.entriesBytes(0, sz-1), n.entriesBytes(1, sz))
	n.setSize(sz - 1)

	recipient.setEntry(recipient.size(), firstKey, firstValue)
	recipient.incSize(1)

	pf, err := bpm.FetchPage(n.parentID())
	if err != nil {
		return errors.Wrap(err, "bpm.FetchPage failed")
	}
	parent := internalNode[K]{node{pf}, n.kc}
	parent.setKeyAt(parent.valueIndex(n.id()), n.keyAt(0))
	bpm.UnpinPage(parent.id(), true)
	return nil
}

// moveLastToFrontOf pops the last entry, prepends it to the recipient (the
// right sibling), and rewrites the parent's routing key for the recipient
func (n leafNode[K, V]) moveLastToFrontOf(recipient leafNode[K, V], parentIndex int, bpm *buffer.Manager) error {
	sz := n.size()
	lastKey, lastValue := n.keyAt(sz-1), n.valueAt(sz-1)
	n.setSize(sz - 1)

	rsz := recipient.size()
	copy(recipient.entriesBytes(1, rsz+1), recipient.entriesBytes(0, rsz))
	recipient.setEntry(0, lastKey, lastValue)
	recipient.incSize(1)

	pf, err := bpm.FetchPage(n.parentID())
	if err != nil {
		return errors.Wrap(err, "bpm.FetchPage failed")
	}
	parent := internalNode[K]{node{pf}, n.kc}
	parent.setKeyAt(parentIndex, recipient.keyAt(0))
	bpm.UnpinPage(parent.id(), true)
	return nil
}
