/*
Disk manager deals with the data file.
The file is organized as a collection of fixed-size pages and the manager
exposes block I/O plus page allocation to the buffer pool. Everything above
this package addresses storage by page id only; how pages map to file offsets
is this package's business.

The buffer pool consumes the Manager interface, so tests (and the in-memory
engine) can substitute the buffer-backed implementation and avoid disk I/O.
*/
package disk

import (
	"io"
	"os"
	"sync"

	"github.com/pkg/errors"

	"github.com/smzst/crabdb/storage/page"
)

// Manager is the seam between the buffer pool and the storage below it
type Manager interface {
	// ReadPage fills data with the page's bytes
	ReadPage(id page.PageID, data []byte) error
	// WritePage persists the page's bytes
	WritePage(id page.PageID, data []byte) error
	// AllocatePage assigns a fresh page id, monotonically
	AllocatePage() page.PageID
	// DeallocatePage releases the page. the implementations in this package
	// never hand a released id out again; allocation stays monotonic.
	DeallocatePage(id page.PageID)
}

// FileManager manages pages within a single data file.
// the page's offset within the file is page id * page size.
type FileManager struct {
	mu sync.Mutex
	f  *os.File
	// nextPageID is the page id allotted next time.
	// restored from the file size when an existing file is reopened.
	nextPageID page.PageID
}

var _ Manager = (*FileManager)(nil)

// NewFileManager opens (or creates) the data file
func NewFileManager(path string) (*FileManager, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, errors.Wrap(err, "os.OpenFile failed")
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, "f.Stat failed")
	}
	return &FileManager{
		f:          f,
		nextPageID: page.PageID(fi.Size() / page.Size),
	}, nil
}

// ReadPage reads the page from the file.
// a page that has been allocated but never written reads back zero-filled.
func (m *FileManager) ReadPage(id page.PageID, data []byte) error {
	if !id.IsValid() {
		return errors.Errorf("invalid page id %d", id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n, err := m.f.ReadAt(data[:page.Size], page.CalculateFileOffset(id))
	if err != nil && err != io.EOF {
		return errors.Wrap(err, "f.ReadAt failed")
	}
	// zero-fill the tail when the file has not grown to the page yet
	for i := n; i < page.Size; i++ {
		data[i] = 0
	}
	return nil
}

// WritePage writes the page to the file
func (m *FileManager) WritePage(id page.PageID, data []byte) error {
	if !id.IsValid() {
		return errors.Errorf("invalid page id %d", id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.f.WriteAt(data[:page.Size], page.CalculateFileOffset(id)); err != nil {
		return errors.Wrap(err, "f.WriteAt failed")
	}
	return nil
}

// AllocatePage allots the next page id and advances it
func (m *FileManager) AllocatePage() page.PageID {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextPageID
	m.nextPageID++
	return id
}

// DeallocatePage releases the page.
// the file manager does not reclaim the space; the id simply becomes dead
// until some higher layer tracks free pages.
func (m *FileManager) DeallocatePage(id page.PageID) {}

// PageCount returns how many pages have been allocated so far
func (m *FileManager) PageCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int(m.nextPageID)
}

// Close closes the data file
func (m *FileManager) Close() error {
	return m.f.Close()
}
