package index

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smzst/crabdb/storage/page"
	"github.com/smzst/crabdb/storage/tuple"
)

// checkTreeInvariants walks the whole tree and asserts its structural
// invariants: parent pointers match, non-root occupancy bounds hold, all
// leaves sit at the same depth, keys ascend within every node and across
// the whole leaf chain.
func checkTreeInvariants(t *testing.T, tree *BPlusTree[int64, tuple.RID]) {
	t.Helper()
	if tree.IsEmpty() {
		return
	}

	type item struct {
		id     page.PageID
		depth  int
		parent page.PageID
	}
	queue := []item{{tree.rootID, 0, page.InvalidPageID}}
	leafDepth := -1
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		f, err := tree.bpm.FetchPage(cur.id)
		require.Nil(t, err)
		n := node{f}
		assert.Equal(t, cur.id, n.id())
		assert.Equal(t, cur.parent, n.parentID())
		if cur.parent.IsValid() {
			assert.GreaterOrEqual(t, n.size(), n.minSize(), "page %d underflows", cur.id)
			assert.LessOrEqual(t, n.size(), n.maxSize(), "page %d overflows", cur.id)
		}

		if n.isLeaf() {
			if leafDepth == -1 {
				leafDepth = cur.depth
			}
			assert.Equal(t, leafDepth, cur.depth, "leaf %d at the wrong depth", cur.id)
			lf := tree.asLeaf(f)
			for i := 1; i < lf.size(); i++ {
				assert.Less(t, lf.keyAt(i-1), lf.keyAt(i))
			}
		} else {
			in := tree.asInternal(f)
			for i := 2; i < in.size(); i++ {
				assert.Less(t, in.keyAt(i-1), in.keyAt(i))
			}
			for i := 0; i < in.size(); i++ {
				queue = append(queue, item{in.childAt(i), cur.depth + 1, cur.id})
			}
		}
		tree.bpm.UnpinPage(cur.id, false)
	}

	// the concatenation of leaves in chain order ascends globally
	it, err := tree.Begin()
	require.Nil(t, err)
	prev := int64(math.MinInt64)
	for !it.IsEnd() {
		k := it.Key()
		assert.Greater(t, k, prev)
		prev = k
		require.Nil(t, it.Next())
	}
}
