/*
The free list holds frames that carry no page at all: every frame at
startup, plus frames whose page has been deleted. It is always consulted
before the replacer when a frame is needed, since taking a free frame never
costs a write-back.
*/
package buffer

import "github.com/smzst/crabdb/storage/page"

// popFreeFrame removes and returns a frame from the free list.
// returns nil when the list is empty.
// the caller must hold the pool latch.
func (m *Manager) popFreeFrame() *page.Page {
	if len(m.freeList) == 0 {
		return nil
	}
	f := m.freeList[0]
	m.freeList = m.freeList[1:]
	return f
}

// pushFreeFrame returns a reset frame to the free list.
// the caller must hold the pool latch.
func (m *Manager) pushFreeFrame(f *page.Page) {
	m.freeList = append(m.freeList, f)
}
