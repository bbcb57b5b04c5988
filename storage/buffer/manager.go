/*
Buffer pool manager.

Disk I/O is expensive, so pages are cached in a fixed array of frames and
the manager mediates every pin/unpin/fetch/new/delete/flush. It owns four
cooperating structures:

- the frame array, created once at startup; frame identity (which page id a
  frame holds) rotates as pages are fetched and evicted
- the free list of frames holding no page at all
- the LRU replacer holding exactly the unpinned frames
- the page table, an extendible hash directory mapping page id to frame

A single latch serializes all public operations. The latch is never held
while waiting on a frame's RW latch; it is held across disk reads and the
write-back of a dirty victim, which keeps the page-table invariants simple
at the cost of serializing that I/O.

access rule for callers: fetch (pins the frame) -> latch the frame ->
read/write the bytes -> unlatch -> unpin with the dirty flag. the pin keeps
the frame from being evicted while in use; the dirty flag is OR-accumulated
so a writer's mark cannot be lost to a later clean unpin.
*/
package buffer

import (
	"encoding/binary"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/smzst/crabdb/storage/disk"
	"github.com/smzst/crabdb/storage/hash"
	"github.com/smzst/crabdb/storage/page"
)

// DefaultPageTableBucketSize is the bucket capacity of the page-table
// directory when the caller does not configure one
const DefaultPageTableBucketSize = 16

// ErrNoVictim is returned when every frame is pinned and nothing can be
// evicted. callers that cannot proceed surface this as out-of-memory.
var ErrNoVictim = errors.New("buffer pool exhausted: all frames are pinned")

// hashPageID hashes a page id for the page-table directory.
// depth-independent; the directory applies its own mask.
func hashPageID(id page.PageID) uint64 {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(id))
	return xxhash.Sum64(b[:])
}

// Manager manages the shared buffer pool
type Manager struct {
	// latch serializes all public operations
	latch sync.Mutex
	dm    disk.Manager
	// frames is the pool; owned exclusively by the manager
	frames []*page.Page
	// freeList holds frames carrying no page
	freeList []*page.Page
	// replacer holds exactly the unpinned frames
	replacer *Replacer[*page.Page]
	// pageTable maps page id to the frame currently holding it
	pageTable *hash.ExtendibleHash[page.PageID, *page.Page]
	logger    *zap.Logger
}

// NewManager initializes the buffer pool manager.
// a nil logger disables logging.
func NewManager(dm disk.Manager, poolSize, bucketSize int, logger *zap.Logger) *Manager {
	if bucketSize <= 0 {
		bucketSize = DefaultPageTableBucketSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		dm:        dm,
		frames:    make([]*page.Page, poolSize),
		freeList:  make([]*page.Page, 0, poolSize),
		replacer:  NewReplacer[*page.Page](),
		pageTable: hash.New[page.PageID, *page.Page](bucketSize, hashPageID),
		logger:    logger,
	}
	for i := range m.frames {
		m.frames[i] = page.NewPage()
		m.pushFreeFrame(m.frames[i])
	}
	return m
}

// FetchPage returns the frame holding the page, pinned.
// the caller must unpin it after completion of use.
// when the page is already cached it is returned directly; otherwise a frame
// is freed (free list first, then LRU victim, writing the victim back if
// dirty) and the page is read from disk into it.
func (m *Manager) FetchPage(id page.PageID) (*page.Page, error) {
	m.latch.Lock()
	defer m.latch.Unlock()

	if f, ok := m.pageTable.Find(id); ok {
		f.Pin()
		// a pinned frame must not be an eviction candidate
		m.replacer.Erase(f)
		return f, nil
	}

	f, err := m.freeFrame()
	if err != nil {
		return nil, err
	}
	m.pageTable.Insert(id, f)
	if err := m.dm.ReadPage(id, f.Data()); err != nil {
		// undo the mapping and give the frame back
		m.pageTable.Remove(id)
		f.Reset()
		m.pushFreeFrame(f)
		return nil, errors.Wrap(err, "dm.ReadPage failed")
	}
	f.SetID(id)
	f.SetDirty(false)
	f.Pin()
	m.logger.Debug("fetch page", zap.Int32("page_id", int32(id)))
	return f, nil
}

// NewPage allocates a fresh page on disk and returns its zeroed frame,
// pinned. the caller must unpin it (dirty) after initializing it.
func (m *Manager) NewPage() (*page.Page, page.PageID, error) {
	m.latch.Lock()
	defer m.latch.Unlock()

	f, err := m.freeFrame()
	if err != nil {
		return nil, page.InvalidPageID, err
	}
	id := m.dm.AllocatePage()
	m.pageTable.Insert(id, f)
	f.SetID(id)
	f.SetDirty(false)
	f.Pin()
	m.logger.Debug("new page", zap.Int32("page_id", int32(id)))
	return f, id, nil
}

// freeFrame acquires a frame holding no pinned page: the free list first,
// then the replacer. a dirty victim is written back and its old page-table
// entry removed, so the returned frame is clean, unmapped and zeroed.
// the caller must hold the pool latch.
func (m *Manager) freeFrame() (*page.Page, error) {
	if f := m.popFreeFrame(); f != nil {
		return f, nil
	}
	f, ok := m.replacer.Victim()
	if !ok {
		return nil, ErrNoVictim
	}
	if f.IsDirty() {
		if err := m.flushFrame(f); err != nil {
			return nil, err
		}
	}
	m.pageTable.Remove(f.ID())
	m.logger.Debug("evict page", zap.Int32("page_id", int32(f.ID())))
	f.Reset()
	return f, nil
}

// UnpinPage releases one pin on the page and accumulates the dirty flag.
// fails when the page is not in the pool or is not pinned.
func (m *Manager) UnpinPage(id page.PageID, dirty bool) bool {
	m.latch.Lock()
	defer m.latch.Unlock()

	f, ok := m.pageTable.Find(id)
	if !ok {
		return false
	}
	if f.PinCount() <= 0 {
		return false
	}
	f.SetDirty(f.IsDirty() || dirty)
	f.Unpin()
	if f.PinCount() == 0 {
		m.replacer.Insert(f)
	}
	return true
}

// FlushPage writes the page's bytes to disk and clears the dirty flag.
// fails when the page is not in the pool or the id is invalid.
func (m *Manager) FlushPage(id page.PageID) bool {
	m.latch.Lock()
	defer m.latch.Unlock()

	if !id.IsValid() {
		return false
	}
	f, ok := m.pageTable.Find(id)
	if !ok {
		return false
	}
	if err := m.flushFrame(f); err != nil {
		m.logger.Error("flush page failed", zap.Int32("page_id", int32(id)), zap.Error(err))
		return false
	}
	return true
}

// FlushAllPages writes back every unpinned dirty frame
func (m *Manager) FlushAllPages() error {
	m.latch.Lock()
	defer m.latch.Unlock()

	for _, f := range m.frames {
		if f.PinCount() == 0 && f.IsDirty() {
			if err := m.flushFrame(f); err != nil {
				return err
			}
		}
	}
	return nil
}

// flushFrame writes the frame's page out and clears the dirty flag.
// the caller must hold the pool latch.
func (m *Manager) flushFrame(f *page.Page) error {
	if err := m.dm.WritePage(f.ID(), f.Data()); err != nil {
		return errors.Wrap(err, "dm.WritePage failed")
	}
	f.SetDirty(false)
	return nil
}

// DeletePage drops the page from the pool and deallocates it on disk.
// fails when the page is in the pool and still pinned. a page not in the
// pool is still deallocated on disk.
func (m *Manager) DeletePage(id page.PageID) bool {
	m.latch.Lock()
	defer m.latch.Unlock()

	if f, ok := m.pageTable.Find(id); ok {
		if f.PinCount() > 0 {
			return false
		}
		m.pageTable.Remove(id)
		m.replacer.Erase(f)
		f.Reset()
		m.pushFreeFrame(f)
	}
	m.dm.DeallocatePage(id)
	m.logger.Debug("delete page", zap.Int32("page_id", int32(id)))
	return true
}
