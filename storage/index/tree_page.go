/*
B+ tree pages are views over a page frame's bytes.

header common to both kinds:
  - offset  0: page type (uint32)
  - offset  4: size, the count of valid entries (int32)
  - offset  8: max size (int32)
  - offset 12: page id (int32)
  - offset 16: parent page id (int32)

leaf pages add next page id at offset 20. entries follow the header.

Parent and child references are pure page ids resolved through the buffer
pool, never pointers, so a page can be evicted and refetched without
dangling anything.
*/
package index

import (
	"encoding/binary"

	"github.com/smzst/crabdb/storage/page"
)

type pageType uint32

const (
	invalidPageType pageType = iota
	internalPageType
	leafPageType
)

const (
	typeOffset    = 0
	sizeOffset    = 4
	maxSizeOffset = 8
	idOffset      = 12
	parentOffset  = 16
	nextOffset    = 20

	internalHeaderSize = 20
	leafHeaderSize     = 24
)

// opType classifies a tree operation for the crabbing safety check
type opType int

const (
	opRead opType = iota
	opInsert
	opDelete
)

// node gives header access to a frame holding a tree page
type node struct {
	p *page.Page
}

func (n node) getInt32(off int) int32 {
	return int32(binary.LittleEndian.Uint32(n.p.Data()[off:]))
}

func (n node) putInt32(off int, v int32) {
	binary.LittleEndian.PutUint32(n.p.Data()[off:], uint32(v))
}

func (n node) typ() pageType {
	return pageType(n.getInt32(typeOffset))
}

func (n node) setType(t pageType) {
	n.putInt32(typeOffset, int32(t))
}

func (n node) isLeaf() bool {
	return n.typ() == leafPageType
}

func (n node) size() int {
	return int(n.getInt32(sizeOffset))
}

func (n node) setSize(s int) {
	n.putInt32(sizeOffset, int32(s))
}

func (n node) incSize(delta int) {
	n.setSize(n.size() + delta)
}

func (n node) maxSize() int {
	return int(n.getInt32(maxSizeOffset))
}

func (n node) setMaxSize(s int) {
	n.putInt32(maxSizeOffset, int32(s))
}

// minSize is the underflow bound. the root is exempt: a root leaf may hold
// a single entry and a root internal page needs only two children.
func (n node) minSize() int {
	if n.isRoot() {
		if n.isLeaf() {
			return 1
		}
		return 2
	}
	return (n.maxSize() + 1) / 2
}

func (n node) id() page.PageID {
	return page.PageID(n.getInt32(idOffset))
}

func (n node) setID(id page.PageID) {
	n.putInt32(idOffset, int32(id))
}

func (n node) parentID() page.PageID {
	return page.PageID(n.getInt32(parentOffset))
}

func (n node) setParentID(id page.PageID) {
	n.putInt32(parentOffset, int32(id))
}

func (n node) isRoot() bool {
	return !n.parentID().IsValid()
}

// isSafe reports whether the operation cannot propagate a structural change
// from this node to its parent, so ancestor latches may be released
func (n node) isSafe(op opType) bool {
	switch op {
	case opRead:
		return true
	case opInsert:
		return n.size() < n.maxSize()
	default: // delete
		if n.isRoot() {
			if n.isLeaf() {
				return n.size() > 1
			}
			return n.size() > 2
		}
		return n.size() > n.minSize()
	}
}
