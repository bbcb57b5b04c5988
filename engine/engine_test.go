package engine

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smzst/crabdb/config"
	"github.com/smzst/crabdb/storage/index"
	"github.com/smzst/crabdb/storage/page"
	"github.com/smzst/crabdb/storage/tuple"
	"github.com/smzst/crabdb/transaction"
)

func testingConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.PoolSize = 16
	cfg.DataFile = filepath.Join(t.TempDir(), "crabdb.db")
	return cfg
}

func newTestIndex(t *testing.T, e *Engine) *index.BPlusTree[int64, tuple.RID] {
	t.Helper()
	tree, err := index.New[int64, tuple.RID]("orders_pk", e.Pool(),
		index.Int64Comparator, index.Int64KeyCodec{}, index.RIDValueCodec{},
		index.TreeOpts{LeafMaxSize: 3, InternalMaxSize: 3})
	require.Nil(t, err)
	return tree
}

func TestOpenInMemory(t *testing.T) {
	e, err := OpenInMemory(testingConfig(t), nil)
	require.Nil(t, err)

	tree := newTestIndex(t, e)
	for k := int64(1); k <= 20; k++ {
		inserted, err := tree.Insert(k, tuple.NewRID(page.PageID(k), 0), nil)
		require.Nil(t, err)
		require.True(t, inserted)
	}
	v, ok, err := tree.GetValue(7, nil)
	assert.Nil(t, err)
	assert.True(t, ok)
	assert.Equal(t, tuple.NewRID(page.PageID(7), 0), v)

	assert.Nil(t, e.Close())
}

// a file-backed database survives close and reopen: the header page finds
// the index root again and the data pages come back from disk
func TestReopenFindsPersistedData(t *testing.T) {
	cfg := testingConfig(t)

	e, err := Open(cfg, nil)
	require.Nil(t, err)
	tree := newTestIndex(t, e)
	for k := int64(1); k <= 30; k++ {
		_, err := tree.Insert(k, tuple.NewRID(page.PageID(k), 0), nil)
		require.Nil(t, err)
	}
	require.Nil(t, e.Close())

	e2, err := Open(cfg, nil)
	require.Nil(t, err)
	tree2 := newTestIndex(t, e2)
	for k := int64(1); k <= 30; k++ {
		v, ok, err := tree2.GetValue(k, nil)
		require.Nil(t, err)
		assert.True(t, ok, "key %d after reopen", k)
		assert.Equal(t, tuple.NewRID(page.PageID(k), 0), v)
	}
	assert.Nil(t, e2.Close())
}

// index lookups hand out record ids; transactions lock them through the
// engine's lock manager before touching the records
func TestTransactionsLockRecordsFromIndex(t *testing.T) {
	e, err := OpenInMemory(testingConfig(t), nil)
	require.Nil(t, err)

	tree := newTestIndex(t, e)
	rid := tuple.NewRID(page.PageID(3), 7)
	_, err = tree.Insert(3, rid, nil)
	require.Nil(t, err)

	t1 := e.Begin()
	got, ok, err := tree.GetValue(3, t1)
	require.Nil(t, err)
	require.True(t, ok)
	assert.True(t, e.Locks().LockShared(t1, got))

	// a younger writer conflicts and dies under wait-die
	t2 := e.Begin()
	assert.False(t, e.Locks().LockExclusive(t2, got))
	assert.Equal(t, transaction.StateAborted, t2.State())

	e.Commit(t1)
	assert.Equal(t, transaction.StateCommitted, t1.State())
	assert.False(t, t1.HoldsSharedLock(got))

	// the record is free again
	t3 := e.Begin()
	assert.True(t, e.Locks().LockExclusive(t3, got))
	e.Commit(t3)
	assert.Nil(t, e.Close())
}
