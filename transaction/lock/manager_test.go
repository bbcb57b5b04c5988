package lock

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/smzst/crabdb/storage/page"
	"github.com/smzst/crabdb/storage/tuple"
	"github.com/smzst/crabdb/transaction"
	"github.com/smzst/crabdb/transaction/txid"
)

func testingRID(slot uint32) tuple.RID {
	return tuple.NewRID(page.PageID(1), slot)
}

func TestLockSharedCompatibility(t *testing.T) {
	lm := NewManager(false, nil)
	rid := testingRID(0)

	t1 := transaction.New(txid.TxID(1))
	t2 := transaction.New(txid.TxID(2))

	// two shared locks coexist
	assert.True(t, lm.LockShared(t1, rid))
	assert.True(t, lm.LockShared(t2, rid))
	assert.True(t, t1.HoldsSharedLock(rid))
	assert.True(t, t2.HoldsSharedLock(rid))

	assert.True(t, lm.Unlock(t1, rid))
	assert.True(t, lm.Unlock(t2, rid))
	assert.False(t, t2.HoldsSharedLock(rid))
}

func TestLockRequestOutsideGrowingPhase(t *testing.T) {
	lm := NewManager(false, nil)
	rid := testingRID(0)

	tx := transaction.New(txid.TxID(1))
	tx.SetState(transaction.StateShrinking)

	assert.False(t, lm.LockShared(tx, rid))
	assert.Equal(t, transaction.StateAborted, tx.State())

	// once aborted, further requests fail immediately
	assert.False(t, lm.LockExclusive(tx, rid))
}

// wait-die: a younger transaction that would have to wait aborts instead
func TestWaitDieYoungerAborts(t *testing.T) {
	lm := NewManager(false, nil)
	rid := testingRID(0)

	older := transaction.New(txid.TxID(1))
	younger := transaction.New(txid.TxID(2))

	assert.True(t, lm.LockExclusive(older, rid))
	assert.False(t, lm.LockShared(younger, rid))
	assert.Equal(t, transaction.StateAborted, younger.State())
}

// T2 (id 2) holds SHARED. T1 (id 1) requests EXCLUSIVE: older, so it waits.
// T3 (id 3) requests SHARED: younger than the queued T1, so it aborts.
// When T2 unlocks, T1's exclusive must be granted before Unlock returns.
func TestWaitDieGrantChain(t *testing.T) {
	lm := NewManager(false, nil)
	rid := testingRID(0)

	t1 := transaction.New(txid.TxID(1))
	t2 := transaction.New(txid.TxID(2))
	t3 := transaction.New(txid.TxID(3))

	assert.True(t, lm.LockShared(t2, rid))

	var granted atomic.Bool
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.True(t, lm.LockExclusive(t1, rid))
		granted.Store(true)
	}()

	// let T1 reach its wait; it must block, not abort
	time.Sleep(50 * time.Millisecond)
	assert.False(t, granted.Load())
	assert.Equal(t, transaction.StateGrowing, t1.State())

	// T3 is younger than the queue tail (T1), so wait-die aborts it
	assert.False(t, lm.LockShared(t3, rid))
	assert.Equal(t, transaction.StateAborted, t3.State())

	// releasing T2's shared lock must wake T1 before Unlock returns
	assert.True(t, lm.Unlock(t2, rid))
	wg.Wait()
	assert.True(t, granted.Load())
	assert.True(t, t1.HoldsExclusiveLock(rid))
}

func TestLockUpgrade(t *testing.T) {
	lm := NewManager(false, nil)
	rid := testingRID(0)

	tx := transaction.New(txid.TxID(1))
	assert.True(t, lm.LockShared(tx, rid))

	assert.True(t, lm.LockUpgrade(tx, rid))
	assert.False(t, tx.HoldsSharedLock(rid))
	assert.True(t, tx.HoldsExclusiveLock(rid))

	assert.True(t, lm.Unlock(tx, rid))
}

func TestLockUpgradeWithoutSharedLock(t *testing.T) {
	lm := NewManager(false, nil)
	rid := testingRID(0)

	tx := transaction.New(txid.TxID(1))
	assert.False(t, lm.LockUpgrade(tx, rid))
	assert.Equal(t, transaction.StateAborted, tx.State())
}

// an older shared holder upgrades while a younger shared holder is present:
// the upgrade waits, and the younger holder's unlock grants it exclusive
func TestLockUpgradeWaitsForOtherSharers(t *testing.T) {
	lm := NewManager(false, nil)
	rid := testingRID(0)

	t1 := transaction.New(txid.TxID(1))
	t2 := transaction.New(txid.TxID(2))

	assert.True(t, lm.LockShared(t1, rid))
	assert.True(t, lm.LockShared(t2, rid))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.True(t, lm.LockUpgrade(t1, rid))
	}()

	time.Sleep(50 * time.Millisecond)
	// a second upgrade on the same record aborts while one is in flight
	assert.False(t, lm.LockUpgrade(t2, rid))
	assert.Equal(t, transaction.StateAborted, t2.State())

	assert.True(t, lm.Unlock(t2, rid))
	wg.Wait()
	assert.True(t, t1.HoldsExclusiveLock(rid))
	assert.True(t, lm.Unlock(t1, rid))
}

// strict 2PL: unlock from a non-terminal state aborts and leaves the lock
// in place; unlock from the terminal aborted state releases it and wakes
// waiters
func TestStrictTwoPhaseLockingUnlockRule(t *testing.T) {
	lm := NewManager(true, nil)
	rid := testingRID(0)

	t1 := transaction.New(txid.TxID(2))
	assert.True(t, lm.LockExclusive(t1, rid))

	// growing transaction unlocking early: protocol violation
	assert.False(t, lm.Unlock(t1, rid))
	assert.Equal(t, transaction.StateAborted, t1.State())
	assert.True(t, t1.HoldsExclusiveLock(rid))

	// an older waiter blocks behind the still-held lock
	t2 := transaction.New(txid.TxID(1))
	var granted atomic.Bool
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.True(t, lm.LockShared(t2, rid))
		granted.Store(true)
	}()
	time.Sleep(50 * time.Millisecond)
	assert.False(t, granted.Load())

	// the aborted transaction's unlock must release the lock and wake the
	// waiter before returning
	assert.True(t, lm.Unlock(t1, rid))
	wg.Wait()
	assert.True(t, t2.HoldsSharedLock(rid))
}

func TestStandardTwoPhaseLockingShrinks(t *testing.T) {
	lm := NewManager(false, nil)
	ridA := testingRID(0)
	ridB := testingRID(1)

	tx := transaction.New(txid.TxID(1))
	assert.True(t, lm.LockShared(tx, ridA))
	assert.True(t, lm.LockShared(tx, ridB))

	// first unlock moves growing -> shrinking
	assert.True(t, lm.Unlock(tx, ridA))
	assert.Equal(t, transaction.StateShrinking, tx.State())

	// no new locks once shrinking
	assert.False(t, lm.LockShared(tx, ridA))
	assert.Equal(t, transaction.StateAborted, tx.State())
}

// at most one granted exclusive per record, never alongside a granted shared
func TestExclusionInvariant(t *testing.T) {
	lm := NewManager(false, nil)
	rid := testingRID(0)
	tm := transaction.NewManager()

	var holders atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tx := tm.Begin()
			if !lm.LockExclusive(tx, rid) {
				return
			}
			n := holders.Add(1)
			assert.Equal(t, int32(1), n, "two exclusive holders at once")
			time.Sleep(time.Millisecond)
			holders.Add(-1)
			tx.SetState(transaction.StateCommitted)
			assert.True(t, lm.Unlock(tx, rid))
		}()
	}
	wg.Wait()
}
