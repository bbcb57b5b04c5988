package buffer

import (
	"testing"

	"github.com/smzst/crabdb/storage/disk"
)

// TestingNewManager initializes a buffer pool manager backed by the
// in-memory disk manager. This prevents unnecessary disk I/O.
func TestingNewManager(t *testing.T, poolSize int) (*Manager, *disk.InMemoryManager) {
	t.Helper()
	dm := disk.NewInMemoryManager()
	return NewManager(dm, poolSize, DefaultPageTableBucketSize, nil), dm
}
