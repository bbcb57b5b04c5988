package index

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/smzst/crabdb/storage/buffer"
	"github.com/smzst/crabdb/storage/disk"
	"github.com/smzst/crabdb/storage/page"
	"github.com/smzst/crabdb/storage/tuple"
)

// TestingNewTree initializes an int64 -> RID tree over an in-memory disk
// manager, with the header page already in place as page 0.
func TestingNewTree(t *testing.T, poolSize int, opts TreeOpts) (*BPlusTree[int64, tuple.RID], *buffer.Manager, *disk.InMemoryManager) {
	t.Helper()
	dm := disk.NewInMemoryManager()
	bpm := buffer.NewManager(dm, poolSize, buffer.DefaultPageTableBucketSize, nil)

	f, id, err := bpm.NewPage()
	require.Nil(t, err)
	require.Equal(t, page.HeaderPageID, id)
	require.NotNil(t, f)
	require.True(t, bpm.UnpinPage(id, true))

	tree, err := New[int64, tuple.RID]("test_index", bpm, Int64Comparator, Int64KeyCodec{}, RIDValueCodec{}, opts)
	require.Nil(t, err)
	return tree, bpm, dm
}

// testingRIDForKey derives a distinct record id from the key so lookups can
// verify they got the right value back
func testingRIDForKey(k int64) tuple.RID {
	return tuple.NewRID(page.PageID(k), uint32(k))
}
