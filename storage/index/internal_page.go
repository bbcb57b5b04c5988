/*
Internal page: routing entries (key, child page id) packed after the common
header. array[0]'s key is a placeholder; it exists only to carry the
leftmost child pointer, so real routing keys live in array[1..size) and are
strictly increasing.
*/
package index

import (
	"github.com/pkg/errors"

	"github.com/smzst/crabdb/storage/buffer"
	"github.com/smzst/crabdb/storage/page"
)

type internalNode[K comparable] struct {
	node
	kc KeyCodec[K]
}

func (n internalNode[K]) init(id, parent page.PageID, maxSize int) {
	n.setType(internalPageType)
	n.setSize(0)
	n.setMaxSize(maxSize)
	n.setID(id)
	n.setParentID(parent)
}

func (n internalNode[K]) entrySize() int {
	return n.kc.Size() + 4
}

func (n internalNode[K]) entryOffset(i int) int {
	return internalHeaderSize + i*n.entrySize()
}

// entriesBytes returns the raw bytes of entries [from, to)
func (n internalNode[K]) entriesBytes(from, to int) []byte {
	return n.p.Data()[n.entryOffset(from):n.entryOffset(to)]
}

func (n internalNode[K]) keyAt(i int) K {
	return n.kc.Decode(n.p.Data()[n.entryOffset(i):])
}

func (n internalNode[K]) setKeyAt(i int, k K) {
	n.kc.Encode(n.p.Data()[n.entryOffset(i):], k)
}

func (n internalNode[K]) childAt(i int) page.PageID {
	return page.PageID(n.getInt32(n.entryOffset(i) + n.kc.Size()))
}

func (n internalNode[K]) setChildAt(i int, id page.PageID) {
	n.putInt32(n.entryOffset(i)+n.kc.Size(), int32(id))
}

// lookup returns the child page that covers the key: the child after the
// greatest routing key <= key, or the leftmost child when there is none.
// the search starts from index 1 because array[0]'s key is a placeholder.
func (n internalNode[K]) lookup(key K, cmp Comparator[K]) page.PageID {
	le, ri := 1, n.size()-1
	for le <= ri {
		mid := le + (ri-le)/2
		if cmp(n.keyAt(mid), key) <= 0 {
			le = mid + 1
		} else {
			ri = mid - 1
		}
	}
	return n.childAt(le - 1)
}

// valueIndex returns the entry index holding the child, or -1
func (n internalNode[K]) valueIndex(child page.PageID) int {
	for i := 0; i < n.size(); i++ {
		if n.childAt(i) == child {
			return i
		}
	}
	return -1
}

// populateNewRoot seeds a fresh root after the old root split:
// the old root as leftmost child, the separator key, the new sibling.
func (n internalNode[K]) populateNewRoot(left page.PageID, key K, right page.PageID) {
	n.setChildAt(0, left)
	n.setKeyAt(1, key)
	n.setChildAt(1, right)
	n.setSize(2)
}

// insertNodeAfter inserts (key, child) right after the entry holding
// oldChild, shifting the tail right. returns the new size.
func (n internalNode[K]) insertNodeAfter(oldChild page.PageID, key K, child page.PageID) int {
	idx := n.valueIndex(oldChild) + 1
	sz := n.size()
	copy(n.entriesBytes(idx+1, sz+1), n.entriesBytes(idx, sz))
	n.setKeyAt(idx, key)
	n.setChildAt(idx, child)
	n.setSize(sz + 1)
	return sz + 1
}

// adoptChildren re-parents the children of entries [from, to) to this page
func (n internalNode[K]) adoptChildren(bpm *buffer.Manager, from, to int) error {
	for i := from; i < to; i++ {
		childID := n.childAt(i)
		f, err := bpm.FetchPage(childID)
		if err != nil {
			return errors.Wrap(err, "bpm.FetchPage failed")
		}
		node{f}.setParentID(n.id())
		bpm.UnpinPage(childID, true)
	}
	return nil
}

// moveHalfTo moves the upper half of the entries to the (empty) recipient
// and re-parents the moved children. called when the page has overflowed to
// maxSize+1 entries.
func (n internalNode[K]) moveHalfTo(recipient internalNode[K], bpm *buffer.Manager) error {
	total := n.maxSize() + 1
	copyIdx := total / 2
	moved := total - copyIdx
	copy(recipient.entriesBytes(0, moved), n.entriesBytes(copyIdx, total))
	recipient.setSize(moved)
	n.setSize(copyIdx)
	return recipient.adoptChildren(bpm, 0, moved)
}

// moveAllTo appends every entry to the recipient (the left sibling) during
// a merge. the separator key in the parent at indexInParent becomes
// array[0]'s real routing key first, so it survives the merge.
func (n internalNode[K]) moveAllTo(recipient internalNode[K], indexInParent int, bpm *buffer.Manager) error {
	pf, err := bpm.FetchPage(n.parentID())
	if err != nil {
		return errors.Wrap(err, "bpm.FetchPage failed")
	}
	parent := internalNode[K]{node{pf}, n.kc}
	n.setKeyAt(0, parent.keyAt(indexInParent))
	bpm.UnpinPage(parent.id(), false)

	start := recipient.size()
	moved := n.size()
	copy(recipient.entriesBytes(start, start+moved), n.entriesBytes(0, moved))
	recipient.incSize(moved)
	n.setSize(0)
	return recipient.adoptChildren(bpm, start, start+moved)
}

// moveFirstToEndOf pops entry 0, appends it to the recipient (the left
// sibling), and rewrites the parent's routing key for this page
func (n internalNode[K]) moveFirstToEndOf(recipient internalNode[K], bpm *buffer.Manager) error {
	firstKey, firstChild := n.keyAt(0), n.childAt(0)
	sz := n.size()
	copy(n.entriesBytes(0, sz-1), n.entriesBytes(1, sz))
	n.setSize(sz - 1)

	recipient.setKeyAt(recipient.size(), firstKey)
	recipient.setChildAt(recipient.size(), firstChild)
	recipient.incSize(1)
	if err := recipient.adoptChildren(bpm, recipient.size()-1, recipient.size()); err != nil {
		return err
	}

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
func (n internalNode[K]) moveLastToFrontOf(recipient internalNode[K], parentIndex int, bpm *buffer.Manager) error {
	sz := n.size()
	lastKey, lastChild := n.keyAt(sz-1), n.childAt(sz-1)
	n.setSize(sz - 1)

	rsz := recipient.size()
	copy(recipient.entriesBytes(1, rsz+1), recipient.entriesBytes(0, rsz))
	recipient.setKeyAt(0, lastKey)
	recipient.setChildAt(0, lastChild)
	recipient.incSize(1)
	if err := recipient.adoptChildren(bpm, 0, 1); err != nil {
		return err
	}

	pf, err := bpm.FetchPage(n.parentID())
	if err != nil {
		return errors.Wrap(err, "bpm.FetchPage failed")
	}
	parent := internalNode[K]{node{pf}, n.kc}
	parent.setKeyAt(parentIndex, recipient.keyAt(0))
	bpm.UnpinPage(parent.id(), true)
	return nil
}

// remove deletes the entry at index, compacting the tail left
func (n internalNode[K]) remove(index int) {
	sz := n.size()
	copy(n.entriesBytes(index, sz-1), n.entriesBytes(index+1, sz))
	n.setSize(sz - 1)
}

// removeAndReturnOnlyChild empties the page and returns its sole child.
// only meaningful while adjusting a root that has shrunk to one child.
func (n internalNode[K]) removeAndReturnOnlyChild() page.PageID {
	n.setSize(0)
	return n.childAt(0)
}
