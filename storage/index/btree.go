/*
B+ tree index on top of the buffer pool.

Internal pages route the search and leaf pages hold the data. Keys are
unique; values are opaque fixed-width payloads (record ids in practice).

concurrency: latch crabbing. A per-tree RW latch protects the observation
of the root page id; page RW latches are taken top-down during descent and
ancestors are released as soon as the newly latched child is safe for the
operation (always, for reads). Every page latched by an operation is
recorded in the transaction's page set in traversal order and released in
one sweep when the operation completes, which also deallocates any pages
the operation merged away.

The root-latch re-entry count lives in a per-operation context threaded
through the call chain, so nested descents (the iterator constructors call
the same search path) release the root latch exactly once per acquisition.
*/
package index

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/smzst/crabdb/common"
	"github.com/smzst/crabdb/storage/buffer"
	"github.com/smzst/crabdb/storage/page"
	"github.com/smzst/crabdb/transaction"
	"github.com/smzst/crabdb/transaction/txid"
)

// TreeOpts overrides the entry capacities derived from the page size.
// zero means "derive from the page size"; small explicit values let tests
// force splits and merges with few keys.
type TreeOpts struct {
	LeafMaxSize     int
	InternalMaxSize int
}

// BPlusTree is the index
type BPlusTree[K comparable, V any] struct {
	name common.IndexName
	bpm  *buffer.Manager
	cmp  Comparator[K]
	kc   KeyCodec[K]
	vc   ValueCodec[V]
	// rootLatch protects rootID against concurrent structural changes
	rootLatch sync.RWMutex
	rootID    page.PageID

	leafMaxSize     int
	internalMaxSize int
}

// opContext carries one operation's crabbing state: the operation kind, the
// transaction whose page set records the latched path, and the root-latch
// re-entry count
type opContext struct {
	op  opType
	txn *transaction.Tx
	// rootLocked counts nested root-latch acquisitions so the latch is
	// released exactly once per acquisition
	rootLocked int
}

// New initializes the index and restores its root pointer from the header
// page when the name is already registered there.
func New[K comparable, V any](
	name common.IndexName,
	bpm *buffer.Manager,
	cmp Comparator[K],
	kc KeyCodec[K],
	vc ValueCodec[V],
	opts TreeOpts,
) (*BPlusTree[K, V], error) {
	if !name.IsValid() {
		return nil, errors.Errorf("invalid index name %q", name)
	}
	t := &BPlusTree[K, V]{
		name:            name,
		bpm:             bpm,
		cmp:             cmp,
		kc:              kc,
		vc:              vc,
		rootID:          page.InvalidPageID,
		leafMaxSize:     opts.LeafMaxSize,
		internalMaxSize: opts.InternalMaxSize,
	}
	if t.leafMaxSize == 0 {
		t.leafMaxSize = (page.Size-leafHeaderSize)/(kc.Size()+vc.Size()) - 1
	}
	if t.internalMaxSize == 0 {
		t.internalMaxSize = (page.Size-internalHeaderSize)/(kc.Size()+4) - 1
	}

	hf, err := bpm.FetchPage(page.HeaderPageID)
	if err != nil {
		return nil, errors.Wrap(err, "bpm.FetchPage failed")
	}
	if id, ok := page.AsHeaderPage(hf).GetRootPageID(name); ok {
		t.rootID = id
	}
	bpm.UnpinPage(page.HeaderPageID, false)
	return t, nil
}

func (t *BPlusTree[K, V]) asLeaf(p *page.Page) leafNode[K, V] {
	return leafNode[K, V]{node{p}, t.kc, t.vc}
}

func (t *BPlusTree[K, V]) asInternal(p *page.Page) internalNode[K] {
	return internalNode[K]{node{p}, t.kc}
}

// newOpContext starts an operation. legacy callers may pass a nil
// transaction; a scratch one keeps the release path uniform (for reads the
// crabbing already degenerates to one-page-at-a-time).
func (t *BPlusTree[K, V]) newOpContext(op opType, txn *transaction.Tx) *opContext {
	if txn == nil {
		txn = transaction.New(txid.InvalidTxID)
	}
	return &opContext{op: op, txn: txn}
}

func (t *BPlusTree[K, V]) lockRoot(ctx *opContext) {
	if ctx.op == opRead {
		t.rootLatch.RLock()
	} else {
		t.rootLatch.Lock()
	}
	ctx.rootLocked++
}

func (t *BPlusTree[K, V]) unlockRoot(ctx *opContext) {
	if ctx.rootLocked == 0 {
		return
	}
	if ctx.op == opRead {
		t.rootLatch.RUnlock()
	} else {
		t.rootLatch.Unlock()
	}
	ctx.rootLocked--
}

// IsEmpty checks whether the tree holds no keys at all
func (t *BPlusTree[K, V]) IsEmpty() bool {
	t.rootLatch.RLock()
	defer t.rootLatch.RUnlock()
	return !t.rootID.IsValid()
}

// GetValue returns the value stored under the key
func (t *BPlusTree[K, V]) GetValue(key K, txn *transaction.Tx) (V, bool, error) {
	var zero V
	ctx := t.newOpContext(opRead, txn)
	leaf, err := t.findLeafPage(key, false, ctx)
	if err != nil {
		return zero, false, err
	}
	if leaf == nil {
		return zero, false, nil
	}
	v, ok := t.asLeaf(leaf).lookup(key, t.cmp)
	t.releasePages(ctx)
	return v, ok, nil
}

// Insert inserts the pair. returns false when the key already exists; the
// tree is unchanged in that case.
func (t *BPlusTree[K, V]) Insert(key K, value V, txn *transaction.Tx) (bool, error) {
	ctx := t.newOpContext(opInsert, txn)
	for {
		t.lockRoot(ctx)
		if !t.rootID.IsValid() {
			err := t.startNewTree(key, value)
			t.unlockRoot(ctx)
			return err == nil, err
		}
		t.unlockRoot(ctx)

		inserted, retry, err := t.insertIntoLeaf(key, value, ctx)
		if !retry || err != nil {
			return inserted, err
		}
		// the tree was emptied between the root check and the descent
	}
}

// startNewTree creates the first leaf and makes it the root.
// the caller holds the root latch exclusively.
func (t *BPlusTree[K, V]) startNewTree(key K, value V) error {
	f, id, err := t.bpm.NewPage()
	if err != nil {
		return errors.Wrap(err, "bpm.NewPage failed (out of memory)")
	}
	lf := t.asLeaf(f)
	lf.init(id, page.InvalidPageID, t.leafMaxSize)
	t.rootID = id
	if err := t.updateRootPageID(true); err != nil {
		t.bpm.UnpinPage(id, true)
		return err
	}
	lf.insert(key, value, t.cmp)
	t.bpm.UnpinPage(id, true)
	return nil
}

// insertIntoLeaf descends with write crabbing and inserts into the leaf,
// splitting upward as needed. retry is set when the tree turned out to be
// empty and the caller should restart from the root check.
func (t *BPlusTree[K, V]) insertIntoLeaf(key K, value V, ctx *opContext) (inserted, retry bool, err error) {
	leaf, err := t.findLeafPage(key, false, ctx)
	if err != nil {
		return false, false, err
	}
	if leaf == nil {
		return false, true, nil
	}
	lf := t.asLeaf(leaf)
	if _, ok := lf.lookup(key, t.cmp); ok {
		t.releasePages(ctx)
		return false, false, nil
	}
	lf.insert(key, value, t.cmp)
	if lf.size() > lf.maxSize() {
		sib, serr := t.splitLeaf(lf, ctx)
		if serr == nil {
			serr = t.insertIntoParent(lf.node, sib.keyAt(0), sib.node, ctx)
		}
		if serr != nil {
			t.releasePages(ctx)
			return false, false, serr
		}
	}
	t.releasePages(ctx)
	return true, false, nil
}

// splitLeaf allocates a sibling leaf and moves the upper half into it.
// the sibling is write-latched and joins the operation's page set.
func (t *BPlusTree[K, V]) splitLeaf(lf leafNode[K, V], ctx *opContext) (leafNode[K, V], error) {
	f, id, err := t.bpm.NewPage()
	if err != nil {
		return leafNode[K, V]{}, errors.Wrap(err, "bpm.NewPage failed (out of memory)")
	}
	f.WLatch()
	ctx.txn.AddPage(f)
	sib := t.asLeaf(f)
	sib.init(id, lf.parentID(), t.leafMaxSize)
	lf.moveHalfTo(sib)
	return sib, nil
}

func (t *BPlusTree[K, V]) splitInternal(in internalNode[K], ctx *opContext) (internalNode[K], error) {
	f, id, err := t.bpm.NewPage()
	if err != nil {
		return internalNode[K]{}, errors.Wrap(err, "bpm.NewPage failed (out of memory)")
	}
	f.WLatch()
	ctx.txn.AddPage(f)
	sib := t.asInternal(f)
	sib.init(id, in.parentID(), t.internalMaxSize)
	if err := in.moveHalfTo(sib, t.bpm); err != nil {
		return internalNode[K]{}, err
	}
	return sib, nil
}

// insertIntoParent threads a freshly split pair into the parent, splitting
// recursively; when the split reached the root a new root is created.
func (t *BPlusTree[K, V]) insertIntoParent(left node, key K, right node, ctx *opContext) error {
	if left.isRoot() {
		f, id, err := t.bpm.NewPage()
		if err != nil {
			return errors.Wrap(err, "bpm.NewPage failed (out of memory)")
		}
		root := t.asInternal(f)
		root.init(id, page.InvalidPageID, t.internalMaxSize)
		root.populateNewRoot(left.id(), key, right.id())
		left.setParentID(id)
		right.setParentID(id)
		t.rootID = id
		if err := t.updateRootPageID(false); err != nil {
			t.bpm.UnpinPage(id, true)
			return err
		}
		// the new root's only reference; the split pair stays in the page
		// set and is released at operation end
		t.bpm.UnpinPage(id, true)
		return nil
	}

	parentID := left.parentID()
	pf, err := t.bpm.FetchPage(parentID)
	if err != nil {
		return errors.Wrap(err, "bpm.FetchPage failed (out of memory)")
	}
	parent := t.asInternal(pf)
	right.setParentID(parentID)
	parent.insertNodeAfter(left.id(), key, right.id())
	if parent.size() > parent.maxSize() {
		sib, serr := t.splitInternal(parent, ctx)
		if serr == nil {
			serr = t.insertIntoParent(parent.node, sib.keyAt(0), sib.node, ctx)
		}
		if serr != nil {
			t.bpm.UnpinPage(parentID, true)
			return serr
		}
	}
	t.bpm.UnpinPage(parentID, true)
	return nil
}

// Remove deletes the key and its value. removing a missing key is a no-op.
func (t *BPlusTree[K, V]) Remove(key K, txn *transaction.Tx) error {
	ctx := t.newOpContext(opDelete, txn)
	leaf, err := t.findLeafPage(key, false, ctx)
	if err != nil {
		return err
	}
	if leaf == nil {
		return nil
	}
	lf := t.asLeaf(leaf)
	after := lf.removeAndDeleteRecord(key, t.cmp)
	if after < lf.minSize() {
		if _, err := t.coalesceOrRedistribute(lf.node, ctx); err != nil {
			t.releasePages(ctx)
			return err
		}
	}
	t.releasePages(ctx)
	return nil
}

// coalesceOrRedistribute restores the minimum-occupancy invariant of an
// underflowed node, either by borrowing one entry from a sibling or by
// merging into it. returns whether a page was emptied and scheduled for
// deletion: the root when adjustRoot drops it, otherwise the right page of
// the merged pair, which is the sibling when the node is leftmost.
func (t *BPlusTree[K, V]) coalesceOrRedistribute(n node, ctx *opContext) (bool, error) {
	if n.isRoot() {
		deleted, err := t.adjustRoot(n)
		if err != nil {
			return false, err
		}
		if deleted {
			ctx.txn.AddDeletedPage(n.id())
		}
		return deleted, nil
	}

	sibFrame, nodeAtZero, err := t.findSibling(n, ctx)
	if err != nil {
		return false, err
	}
	sib := node{sibFrame}

	pf, err := t.bpm.FetchPage(n.parentID())
	if err != nil {
		return false, errors.Wrap(err, "bpm.FetchPage failed (out of memory)")
	}
	parent := t.asInternal(pf)

	if n.size()+sib.size() > n.maxSize() {
		idx := parent.valueIndex(n.id())
		err := t.redistribute(sib, n, idx)
		t.bpm.UnpinPage(parent.id(), false)
		return false, err
	}

	// merge. normalize so the right page empties into the left one.
	right, left := n, sib
	if nodeAtZero {
		right, left = sib, n
	}
	removeIdx := parent.valueIndex(right.id())
	if err := t.moveAll(right, left, removeIdx); err != nil {
		t.bpm.UnpinPage(parent.id(), true)
		return false, err
	}
	ctx.txn.AddDeletedPage(right.id())
	parent.remove(removeIdx)
	if parent.size() < parent.minSize() {
		if _, err := t.coalesceOrRedistribute(parent.node, ctx); err != nil {
			t.bpm.UnpinPage(parent.id(), true)
			return false, err
		}
	}
	t.bpm.UnpinPage(parent.id(), true)
	return true, nil
}

// findSibling latches the left sibling (the right one when the node is
// leftmost) through the crabbed fetch path, while the parent is still held
// by the descent, and reports whether the node sits at index 0.
func (t *BPlusTree[K, V]) findSibling(n node, ctx *opContext) (*page.Page, bool, error) {
	pf, err := t.bpm.FetchPage(n.parentID())
	if err != nil {
		return nil, false, errors.Wrap(err, "bpm.FetchPage failed (out of memory)")
	}
	parent := t.asInternal(pf)
	idx := parent.valueIndex(n.id())
	sibIdx := idx - 1
	if idx == 0 {
		sibIdx = 1
	}
	sibID := parent.childAt(sibIdx)
	t.bpm.UnpinPage(parent.id(), false)

	sib, err := t.fetchNode(sibID, page.InvalidPageID, ctx)
	if err != nil {
		return nil, false, err
	}
	return sib, idx == 0, nil
}

// moveAll merges the right page into the left one
func (t *BPlusTree[K, V]) moveAll(right, left node, removeIdx int) error {
	if right.isLeaf() {
		t.asLeaf(right.p).moveAllTo(t.asLeaf(left.p))
		return nil
	}
	return t.asInternal(right.p).moveAllTo(t.asInternal(left.p), removeIdx, t.bpm)
}

// redistribute moves one entry from the sibling into the underflowed node:
// the sibling's first entry when the node is leftmost, its last otherwise
func (t *BPlusTree[K, V]) redistribute(sib, n node, idx int) error {
	if n.isLeaf() {
		if idx == 0 {
			return t.asLeaf(sib.p).moveFirstToEndOf(t.asLeaf(n.p), t.bpm)
		}
		return t.asLeaf(sib.p).moveLastToFrontOf(t.asLeaf(n.p), idx, t.bpm)
	}
	if idx == 0 {
		return t.asInternal(sib.p).moveFirstToEndOf(t.asInternal(n.p), t.bpm)
	}
	return t.asInternal(sib.p).moveLastToFrontOf(t.asInternal(n.p), idx, t.bpm)
}

// adjustRoot handles underflow at the root: an empty root leaf ends the
// tree, a root internal page with a single child promotes that child.
// returns whether the old root should be deleted.
func (t *BPlusTree[K, V]) adjustRoot(old node) (bool, error) {
	if old.isLeaf() {
		if old.size() > 0 {
			return false, nil
		}
		t.rootID = page.InvalidPageID
		return true, t.updateRootPageID(false)
	}
	if old.size() == 1 {
		childID := t.asInternal(old.p).removeAndReturnOnlyChild()
		t.rootID = childID
		if err := t.updateRootPageID(false); err != nil {
			return false, err
		}
		cf, err := t.bpm.FetchPage(childID)
		if err != nil {
			return false, errors.Wrap(err, "bpm.FetchPage failed (out of memory)")
		}
		node{cf}.setParentID(page.InvalidPageID)
		t.bpm.UnpinPage(childID, true)
		return true, nil
	}
	return false, nil
}

// findLeafPage descends to the leaf covering the key (the leftmost leaf
// when leftmost is set), latching per the operation's crabbing protocol.
// returns nil when the tree is empty; the root latch is released in that
// case. otherwise the path still held is recorded in the operation's page
// set and the root latch is held unless a safe node released it.
func (t *BPlusTree[K, V]) findLeafPage(key K, leftmost bool, ctx *opContext) (*page.Page, error) {
	t.lockRoot(ctx)
	if !t.rootID.IsValid() {
		t.unlockRoot(ctx)
		return nil, nil
	}
	cur, err := t.fetchNode(t.rootID, page.InvalidPageID, ctx)
	if err != nil {
		t.unlockRoot(ctx)
		return nil, err
	}
	prev := (node{cur}).id()
	for !(node{cur}).isLeaf() {
		in := t.asInternal(cur)
		next := in.childAt(0)
		if !leftmost {
			next = in.lookup(key, t.cmp)
		}
		cur, err = t.fetchNode(next, prev, ctx)
		if err != nil {
			t.releasePages(ctx)
			return nil, err
		}
		prev = next
	}
	return cur, nil
}

// fetchNode fetches and latches a tree page in the operation's mode. when
// the newly latched page is safe for the operation (always, for reads) the
// previously held path, root latch included, is released first; the page
// then joins the operation's page set.
func (t *BPlusTree[K, V]) fetchNode(id, prev page.PageID, ctx *opContext) (*page.Page, error) {
	f, err := t.bpm.FetchPage(id)
	if err != nil {
		return nil, errors.Wrap(err, "bpm.FetchPage failed (out of memory)")
	}
	if ctx.op == opRead {
		f.RLatch()
	} else {
		f.WLatch()
	}
	if prev.IsValid() && (ctx.op == opRead || (node{f}).isSafe(ctx.op)) {
		t.releasePages(ctx)
	}
	ctx.txn.AddPage(f)
	return f, nil
}

// releasePages ends the operation's hold on the tree: the root latch is
// released, every page in the page set is unlatched and unpinned (dirty for
// write operations) in traversal order, and pages scheduled for deletion
// are handed back to the buffer pool.
func (t *BPlusTree[K, V]) releasePages(ctx *opContext) {
	t.unlockRoot(ctx)
	for _, f := range ctx.txn.Pages() {
		id := f.ID()
		if ctx.op == opRead {
			f.RUnlatch()
		} else {
			f.WUnlatch()
		}
		t.bpm.UnpinPage(id, ctx.op != opRead)
		if ctx.txn.IsDeletedPage(id) {
			t.bpm.DeletePage(id)
			ctx.txn.RemoveDeletedPage(id)
		}
	}
	ctx.txn.ClearPages()
}

// updateRootPageID persists the root pointer in the header page. insert
// registers the index on first creation; a re-created index falls back to
// updating its existing record.
func (t *BPlusTree[K, V]) updateRootPageID(insert bool) error {
	hf, err := t.bpm.FetchPage(page.HeaderPageID)
	if err != nil {
		return errors.Wrap(err, "bpm.FetchPage failed")
	}
	hp := page.AsHeaderPage(hf)
	if !insert || !hp.InsertRecord(t.name, t.rootID) {
		hp.UpdateRecord(t.name, t.rootID)
	}
	t.bpm.UnpinPage(page.HeaderPageID, true)
	return nil
}
