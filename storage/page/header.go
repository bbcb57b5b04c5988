/*
The header page (page id 0) stores a directory of named root pointers.
When an index is first created it inserts a record mapping its name to its
root page id, and every time the root changes it updates that record.

layout:
  - offset 0: record count (uint32)
  - offset 4: records, 36 bytes each: name (32 bytes, zero padded) then
    root page id (int32)
*/
package page

import (
	"bytes"
	"encoding/binary"

	"github.com/smzst/crabdb/common"
)

const (
	headerCountOffset  = 0
	headerRecordOffset = 4
	headerRecordSize   = common.MaxIndexNameLen + 4

	// maxHeaderRecords is how many root pointers fit in the header page
	maxHeaderRecords = (Size - headerRecordOffset) / headerRecordSize
)

// HeaderPage interprets a frame as the root-pointer directory
type HeaderPage struct {
	*Page
}

// AsHeaderPage wraps the frame holding the header page
func AsHeaderPage(p *Page) HeaderPage {
	return HeaderPage{p}
}

// RecordCount returns the number of registered root pointers
func (hp HeaderPage) RecordCount() int {
	return int(binary.LittleEndian.Uint32(hp.Data()[headerCountOffset:]))
}

func (hp HeaderPage) setRecordCount(n int) {
	binary.LittleEndian.PutUint32(hp.Data()[headerCountOffset:], uint32(n))
}

func (hp HeaderPage) recordOffset(i int) int {
	return headerRecordOffset + i*headerRecordSize
}

// findRecord returns the record index for the name, or -1
func (hp HeaderPage) findRecord(name common.IndexName) int {
	var want [common.MaxIndexNameLen]byte
	copy(want[:], name)
	for i := 0; i < hp.RecordCount(); i++ {
		off := hp.recordOffset(i)
		if bytes.Equal(hp.Data()[off:off+common.MaxIndexNameLen], want[:]) {
			return i
		}
	}
	return -1
}

// InsertRecord registers a new name -> root page id mapping.
// fails when the name is invalid, already registered, or the page is full.
func (hp HeaderPage) InsertRecord(name common.IndexName, root PageID) bool {
	if !name.IsValid() {
		return false
	}
	n := hp.RecordCount()
	if n >= maxHeaderRecords {
		return false
	}
	if hp.findRecord(name) != -1 {
		return false
	}
	off := hp.recordOffset(n)
	var nb [common.MaxIndexNameLen]byte
	copy(nb[:], name)
	copy(hp.Data()[off:], nb[:])
	binary.LittleEndian.PutUint32(hp.Data()[off+common.MaxIndexNameLen:], uint32(root))
	hp.setRecordCount(n + 1)
	return true
}

// UpdateRecord rewrites the root page id for an already-registered name
func (hp HeaderPage) UpdateRecord(name common.IndexName, root PageID) bool {
	i := hp.findRecord(name)
	if i == -1 {
		return false
	}
	off := hp.recordOffset(i)
	binary.LittleEndian.PutUint32(hp.Data()[off+common.MaxIndexNameLen:], uint32(root))
	return true
}

// GetRootPageID looks up the root page id registered under the name
func (hp HeaderPage) GetRootPageID(name common.IndexName) (PageID, bool) {
	i := hp.findRecord(name)
	if i == -1 {
		return InvalidPageID, false
	}
	off := hp.recordOffset(i)
	id := PageID(binary.LittleEndian.Uint32(hp.Data()[off+common.MaxIndexNameLen:]))
	return id, true
}
