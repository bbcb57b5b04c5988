package disk

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/smzst/crabdb/storage/page"
)

func testingRandomPage(b byte) []byte {
	data := make([]byte, page.Size)
	for i := range data {
		data[i] = b
	}
	return data
}

func TestFileManagerReadWrite(t *testing.T) {
	m, err := TestingNewFileManager(t)
	assert.Nil(t, err)
	defer m.Close()

	id := m.AllocatePage()
	assert.Equal(t, page.PageID(0), id)

	written := testingRandomPage(0xab)
	err = m.WritePage(id, written)
	assert.Nil(t, err)

	read := make([]byte, page.Size)
	err = m.ReadPage(id, read)
	assert.Nil(t, err)
	assert.True(t, bytes.Equal(written, read))
}

func TestFileManagerReadUnwrittenPage(t *testing.T) {
	m, err := TestingNewFileManager(t)
	assert.Nil(t, err)
	defer m.Close()

	id := m.AllocatePage()
	read := testingRandomPage(0xff)
	// an allocated but never written page must read back zero-filled
	err = m.ReadPage(id, read)
	assert.Nil(t, err)
	assert.True(t, bytes.Equal(make([]byte, page.Size), read))
}

func TestFileManagerMonotonicAllocation(t *testing.T) {
	m, err := TestingNewFileManager(t)
	assert.Nil(t, err)
	defer m.Close()

	for i := 0; i < 5; i++ {
		assert.Equal(t, page.PageID(i), m.AllocatePage())
	}
	assert.Equal(t, 5, m.PageCount())
	// deallocation never rewinds the allocator
	m.DeallocatePage(page.PageID(2))
	assert.Equal(t, page.PageID(5), m.AllocatePage())
}

func TestInMemoryManager(t *testing.T) {
	m := NewInMemoryManager()

	id := m.AllocatePage()
	written := testingRandomPage(0x5c)
	assert.Nil(t, m.WritePage(id, written))

	read := make([]byte, page.Size)
	assert.Nil(t, m.ReadPage(id, read))
	assert.True(t, bytes.Equal(written, read))

	assert.False(t, m.IsDeallocated(id))
	m.DeallocatePage(id)
	assert.True(t, m.IsDeallocated(id))

	// dropped contents read back zero-filled
	assert.Nil(t, m.ReadPage(id, read))
	assert.True(t, bytes.Equal(make([]byte, page.Size), read))
}
