package tuple

import "github.com/smzst/crabdb/storage/page"

// RID consists of page id and slot index.
// so, with rid, the record can be located. the lock manager treats it as an
// opaque hashable key.
type RID struct {
	pageID page.PageID
	slot   uint32
}

// NewRID initializes a record id
func NewRID(pid page.PageID, slot uint32) RID {
	return RID{
		pageID: pid,
		slot:   slot,
	}
}

// PageID returns the page id
func (r RID) PageID() page.PageID {
	return r.pageID
}

// Slot returns the slot index
func (r RID) Slot() uint32 {
	return r.slot
}
