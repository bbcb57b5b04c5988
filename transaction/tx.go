/*
Tx is a logical transaction.

It carries two unrelated kinds of bookkeeping:

- the lock sets, maintained by the lock manager: which record ids the
  transaction holds shared and exclusive locks on. they accumulate while the
  transaction grows and are drained when it completes.

- the index-operation state, maintained by the B+ tree: the pages latched
  during the current operation in root-to-leaf order, and the page ids
  scheduled for deallocation when the operation ends. both are transient
  within a single index operation.

A Tx is used by one goroutine at a time, so it carries no locking of its
own. The lock manager's internal synchronization covers the moments where
it touches the lock sets on behalf of the owning goroutine.
*/
package transaction

import (
	"github.com/smzst/crabdb/storage/page"
	"github.com/smzst/crabdb/storage/tuple"
	"github.com/smzst/crabdb/transaction/txid"
)

// Tx is a transaction
type Tx struct {
	id    txid.TxID
	state State
	// record ids locked in shared mode
	shared map[tuple.RID]struct{}
	// record ids locked in exclusive mode
	exclusive map[tuple.RID]struct{}
	// pages latched during the current index operation, root to leaf
	pages []*page.Page
	// page ids scheduled for deallocation at operation end
	deleted map[page.PageID]struct{}
}

// New initializes a transaction in the growing phase
func New(id txid.TxID) *Tx {
	return &Tx{
		id:        id,
		state:     StateGrowing,
		shared:    make(map[tuple.RID]struct{}),
		exclusive: make(map[tuple.RID]struct{}),
		deleted:   make(map[page.PageID]struct{}),
	}
}

// ID returns the transaction id
func (tx *Tx) ID() txid.TxID {
	return tx.id
}

// State returns the transaction state
func (tx *Tx) State() State {
	return tx.state
}

// SetState sets the transaction state
func (tx *Tx) SetState(state State) {
	tx.state = state
}

// AddSharedLock records a granted shared lock
func (tx *Tx) AddSharedLock(rid tuple.RID) {
	tx.shared[rid] = struct{}{}
}

// RemoveSharedLock drops a shared lock from the set
func (tx *Tx) RemoveSharedLock(rid tuple.RID) {
	delete(tx.shared, rid)
}

// HoldsSharedLock checks whether the rid is in the shared set
func (tx *Tx) HoldsSharedLock(rid tuple.RID) bool {
	_, ok := tx.shared[rid]
	return ok
}

// AddExclusiveLock records a granted exclusive lock
func (tx *Tx) AddExclusiveLock(rid tuple.RID) {
	tx.exclusive[rid] = struct{}{}
}

// RemoveExclusiveLock drops an exclusive lock from the set
func (tx *Tx) RemoveExclusiveLock(rid tuple.RID) {
	delete(tx.exclusive, rid)
}

// HoldsExclusiveLock checks whether the rid is in the exclusive set
func (tx *Tx) HoldsExclusiveLock(rid tuple.RID) bool {
	_, ok := tx.exclusive[rid]
	return ok
}

// HeldLocks returns a snapshot of every rid the transaction holds a lock
// on, so the caller can release them without mutating the sets mid-walk
func (tx *Tx) HeldLocks() []tuple.RID {
	rids := make([]tuple.RID, 0, len(tx.shared)+len(tx.exclusive))
	for rid := range tx.exclusive {
		rids = append(rids, rid)
	}
	for rid := range tx.shared {
		rids = append(rids, rid)
	}
	return rids
}

// AddPage appends a latched page to the operation's page set
func (tx *Tx) AddPage(p *page.Page) {
	tx.pages = append(tx.pages, p)
}

// Pages returns the operation's latched pages in traversal order
func (tx *Tx) Pages() []*page.Page {
	return tx.pages
}

// ClearPages resets the page set after the operation released its latches
func (tx *Tx) ClearPages() {
	tx.pages = tx.pages[:0]
}

// AddDeletedPage schedules a page for deallocation at operation end
func (tx *Tx) AddDeletedPage(id page.PageID) {
	tx.deleted[id] = struct{}{}
}

// IsDeletedPage checks whether the page is scheduled for deallocation
func (tx *Tx) IsDeletedPage(id page.PageID) bool {
	_, ok := tx.deleted[id]
	return ok
}

// RemoveDeletedPage unschedules the page once it has been deallocated
func (tx *Tx) RemoveDeletedPage(id page.PageID) {
	delete(tx.deleted, id)
}
