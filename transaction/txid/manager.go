/*
Transaction id manager.

The id doubles as a timestamp: wait-die resolves conflicts by age, so the
latest id is shared state and allocation happens under a lock.
*/
package txid

import "sync"

type Manager struct {
	mu sync.Mutex
	// nextTxID is the transaction id which is allotted next time
	nextTxID TxID
}

// NewManager initializes the transaction id manager
func NewManager() *Manager {
	return &Manager{
		nextTxID: FirstTxID,
	}
}

// Allocate allots the next transaction id and advances it
func (m *Manager) Allocate() TxID {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextTxID
	m.nextTxID++
	return id
}
