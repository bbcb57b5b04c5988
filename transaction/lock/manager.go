/*
Tuple-level lock manager, using wait-die to prevent deadlocks.

Each record id gets a FIFO queue of requests. A request is granted
immediately only when it is compatible with the whole queue (shared after a
granted-shared tail, exclusive only into an empty queue); otherwise wait-die
decides: the requester is compared with the LAST request in the queue, and
if it is younger (larger id) it aborts, if older it waits. Waiting happens
on a condition variable owned by the request itself, which preserves FIFO
wake-up and keeps spurious-wakeup reasoning local.

Unlock removes the caller's request and then grants the next compatible
prefix of the queue: consecutive ungranted requests are granted while they
are shared; granting stops after the first exclusive. A granted upgrading
request is rewritten to exclusive at that point.

Two modes:
- strict 2PL: unlock is legal only from a terminal state; anything else is a
  protocol violation and aborts the transaction.
- standard 2PL: the first unlock moves the transaction from growing to
  shrinking.

Lock order: the table mutex, then the record queue's mutex. the table mutex
is always released before blocking on a condition.
*/
package lock

import (
	"container/list"
	"sync"

	"go.uber.org/zap"

	"github.com/smzst/crabdb/storage/tuple"
	"github.com/smzst/crabdb/transaction"
	"github.com/smzst/crabdb/transaction/txid"
)

// Mode is the lock mode of a request
type Mode int

const (
	ModeShared Mode = iota
	ModeExclusive
	// modeUpgrading marks a shared holder waiting to become exclusive
	modeUpgrading
)

// request is one transaction's lock request for one record
type request struct {
	txnID   txid.TxID
	mode    Mode
	granted bool
	mu      sync.Mutex
	cond    *sync.Cond
}

func newRequest(id txid.TxID, mode Mode, granted bool) *request {
	r := &request{
		txnID:   id,
		mode:    mode,
		granted: granted,
	}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// wait blocks until the request is granted
func (r *request) wait() {
	r.mu.Lock()
	for !r.granted {
		r.cond.Wait()
	}
	r.mu.Unlock()
}

// grant marks the request granted and wakes its waiter.
// the caller must hold the queue mutex, which also serializes reads of the
// granted flag by queue walkers.
func (r *request) grant() {
	r.mu.Lock()
	r.granted = true
	r.mu.Unlock()
	r.cond.Signal()
}

// recordQueue is the request list for one record
type recordQueue struct {
	mu       sync.Mutex
	requests list.List
	// hasUpgraded: at most one upgrade may be in flight per record
	hasUpgraded bool
}

// Manager is the lock manager
type Manager struct {
	// mu protects the table map itself
	mu     sync.Mutex
	strict bool
	table  map[tuple.RID]*recordQueue
	logger *zap.Logger
}

// NewManager initializes the lock manager.
// strict selects strict 2PL; a nil logger disables logging.
func NewManager(strict bool, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		strict: strict,
		table:  make(map[tuple.RID]*recordQueue),
		logger: logger,
	}
}

// queueFor returns the record's queue with its mutex held, creating it if
// needed. the table mutex is released before returning.
func (m *Manager) queueFor(rid tuple.RID) *recordQueue {
	m.mu.Lock()
	q, ok := m.table[rid]
	if !ok {
		q = &recordQueue{}
		m.table[rid] = q
	}
	q.mu.Lock()
	m.mu.Unlock()
	return q
}

// abort marks the transaction aborted. the call that triggered it returns
// false; releasing already-held locks is the caller's job.
func (m *Manager) abort(tx *transaction.Tx, rid tuple.RID, reason string) bool {
	tx.SetState(transaction.StateAborted)
	m.logger.Debug("abort",
		zap.Uint64("txn_id", uint64(tx.ID())),
		zap.Int32("page_id", int32(rid.PageID())),
		zap.Uint32("slot", rid.Slot()),
		zap.String("reason", reason),
	)
	return false
}

// LockShared acquires a shared lock on the record for the transaction.
// blocks until granted; returns false when the transaction aborts instead.
func (m *Manager) LockShared(tx *transaction.Tx, rid tuple.RID) bool {
	if tx.State() != transaction.StateGrowing {
		return m.abort(tx, rid, "lock request outside growing phase")
	}
	q := m.queueFor(rid)

	granted := false
	if q.requests.Len() == 0 {
		granted = true
	} else {
		last := q.requests.Back().Value.(*request)
		if last.granted && last.mode == ModeShared {
			granted = true
		}
	}
	if !granted {
		last := q.requests.Back().Value.(*request)
		if !tx.ID().IsOlderThan(last.txnID) {
			q.mu.Unlock()
			return m.abort(tx, rid, "wait-die: younger than queue tail")
		}
	}
	r := newRequest(tx.ID(), ModeShared, granted)
	q.requests.PushBack(r)
	q.mu.Unlock()
	if !granted {
		r.wait()
	}
	tx.AddSharedLock(rid)
	return true
}

// LockExclusive acquires an exclusive lock on the record for the
// transaction. an immediate grant requires an empty queue.
func (m *Manager) LockExclusive(tx *transaction.Tx, rid tuple.RID) bool {
	if tx.State() != transaction.StateGrowing {
		return m.abort(tx, rid, "lock request outside growing phase")
	}
	q := m.queueFor(rid)

	granted := q.requests.Len() == 0
	if !granted {
		last := q.requests.Back().Value.(*request)
		if !tx.ID().IsOlderThan(last.txnID) {
			q.mu.Unlock()
			return m.abort(tx, rid, "wait-die: younger than queue tail")
		}
	}
	r := newRequest(tx.ID(), ModeExclusive, granted)
	q.requests.PushBack(r)
	q.mu.Unlock()
	if !granted {
		r.wait()
	}
	tx.AddExclusiveLock(rid)
	return true
}

// LockUpgrade upgrades the transaction's granted shared lock on the record
// to exclusive. at most one upgrade may wait per record.
func (m *Manager) LockUpgrade(tx *transaction.Tx, rid tuple.RID) bool {
	if tx.State() != transaction.StateGrowing {
		return m.abort(tx, rid, "lock request outside growing phase")
	}
	q := m.queueFor(rid)

	if q.hasUpgraded {
		q.mu.Unlock()
		return m.abort(tx, rid, "another upgrade already in flight")
	}
	var e *list.Element
	for el := q.requests.Front(); el != nil; el = el.Next() {
		if el.Value.(*request).txnID == tx.ID() {
			e = el
			break
		}
	}
	if e == nil {
		q.mu.Unlock()
		return m.abort(tx, rid, "no lock held to upgrade")
	}
	held := e.Value.(*request)
	if held.mode != ModeShared || !held.granted {
		q.mu.Unlock()
		return m.abort(tx, rid, "held lock is not a granted shared lock")
	}
	q.requests.Remove(e)
	tx.RemoveSharedLock(rid)

	granted := q.requests.Len() == 0
	if !granted {
		last := q.requests.Back().Value.(*request)
		if !tx.ID().IsOlderThan(last.txnID) {
			q.mu.Unlock()
			return m.abort(tx, rid, "wait-die: younger than queue tail")
		}
	}
	if granted {
		q.requests.PushBack(newRequest(tx.ID(), ModeExclusive, true))
		q.mu.Unlock()
	} else {
		r := newRequest(tx.ID(), modeUpgrading, false)
		q.requests.PushBack(r)
		q.hasUpgraded = true
		q.mu.Unlock()
		r.wait()
	}
	tx.AddExclusiveLock(rid)
	return true
}

// Unlock releases the lock held by the transaction on the record and grants
// the next compatible prefix of the queue before returning.
func (m *Manager) Unlock(tx *transaction.Tx, rid tuple.RID) bool {
	if m.strict {
		if !tx.State().IsCompleted() {
			return m.abort(tx, rid, "strict 2PL: unlock before commit/abort")
		}
	} else if tx.State() == transaction.StateGrowing {
		tx.SetState(transaction.StateShrinking)
	}

	m.mu.Lock()
	q, ok := m.table[rid]
	if !ok {
		m.mu.Unlock()
		return false
	}
	q.mu.Lock()

	var e *list.Element
	for el := q.requests.Front(); el != nil; el = el.Next() {
		if el.Value.(*request).txnID == tx.ID() {
			e = el
			break
		}
	}
	if e == nil {
		q.mu.Unlock()
		m.mu.Unlock()
		return false
	}
	r := e.Value.(*request)
	if r.mode == ModeShared {
		tx.RemoveSharedLock(rid)
	} else {
		tx.RemoveExclusiveLock(rid)
	}
	q.requests.Remove(e)

	if q.requests.Len() == 0 {
		delete(m.table, rid)
		q.mu.Unlock()
		m.mu.Unlock()
		return true
	}
	m.mu.Unlock()

	// wake the next compatible prefix: grant while the just-granted request
	// is shared, stop once an exclusive is granted
	for el := q.requests.Front(); el != nil; el = el.Next() {
		next := el.Value.(*request)
		if next.granted {
			break
		}
		next.grant()
		if next.mode == ModeShared {
			continue
		}
		if next.mode == modeUpgrading {
			q.hasUpgraded = false
			next.mode = ModeExclusive
		}
		break
	}
	q.mu.Unlock()
	return true
}
