package transaction

import (
	"github.com/smzst/crabdb/storage/tuple"
	"github.com/smzst/crabdb/transaction/txid"
)

// Unlocker releases a record lock held by the transaction.
// satisfied by the lock manager; declared here so this package does not
// depend on its own subpackage.
type Unlocker interface {
	Unlock(tx *Tx, rid tuple.RID) bool
}

// Manager begins and completes transactions
type Manager struct {
	ids *txid.Manager
}

// NewManager initializes the transaction manager
func NewManager() *Manager {
	return &Manager{
		ids: txid.NewManager(),
	}
}

// Begin starts a transaction in the growing phase
func (m *Manager) Begin() *Tx {
	return New(m.ids.Allocate())
}

// Commit commits the transaction and releases every lock it holds.
// the terminal state is set first so the release is legal under strict 2PL.
func (m *Manager) Commit(tx *Tx, lm Unlocker) {
	tx.SetState(StateCommitted)
	m.releaseLocks(tx, lm)
}

// Abort aborts the transaction and releases every lock it holds
func (m *Manager) Abort(tx *Tx, lm Unlocker) {
	tx.SetState(StateAborted)
	m.releaseLocks(tx, lm)
}

func (m *Manager) releaseLocks(tx *Tx, lm Unlocker) {
	for _, rid := range tx.HeldLocks() {
		lm.Unlock(tx, rid)
	}
}
