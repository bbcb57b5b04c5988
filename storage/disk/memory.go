package disk

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/smzst/crabdb/storage/page"
)

// InMemoryManager keeps pages in a map instead of a file.
// this prevents unnecessary disk I/O in tests and backs the in-memory engine.
type InMemoryManager struct {
	mu          sync.Mutex
	pages       map[page.PageID][]byte
	nextPageID  page.PageID
	deallocated map[page.PageID]struct{}
}

var _ Manager = (*InMemoryManager)(nil)

// NewInMemoryManager initializes the buffer-backed disk manager
func NewInMemoryManager() *InMemoryManager {
	return &InMemoryManager{
		pages:       make(map[page.PageID][]byte),
		deallocated: make(map[page.PageID]struct{}),
	}
}

// ReadPage copies the page's bytes into data.
// a page that was never written reads back zero-filled.
func (m *InMemoryManager) ReadPage(id page.PageID, data []byte) error {
	if !id.IsValid() {
		return errors.Errorf("invalid page id %d", id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.pages[id]
	if !ok {
		for i := range data[:page.Size] {
			data[i] = 0
		}
		return nil
	}
	copy(data[:page.Size], stored)
	return nil
}

// WritePage stores a copy of the page's bytes
func (m *InMemoryManager) WritePage(id page.PageID, data []byte) error {
	if !id.IsValid() {
		return errors.Errorf("invalid page id %d", id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := make([]byte, page.Size)
	copy(stored, data[:page.Size])
	m.pages[id] = stored
	return nil
}

// AllocatePage allots the next page id and advances it
func (m *InMemoryManager) AllocatePage() page.PageID {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextPageID
	m.nextPageID++
	delete(m.deallocated, id)
	return id
}

// DeallocatePage releases the page and drops its contents
func (m *InMemoryManager) DeallocatePage(id page.PageID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pages, id)
	m.deallocated[id] = struct{}{}
}

// IsDeallocated reports whether the page id has been deallocated.
// used by tests to observe page reclamation.
func (m *InMemoryManager) IsDeallocated(id page.PageID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.deallocated[id]
	return ok
}
