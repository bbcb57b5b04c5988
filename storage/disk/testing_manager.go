package disk

import (
	"path/filepath"
	"testing"
)

// TestingNewFileManager initializes a disk manager backed by a file under a
// temporary directory so it is removed after the test completes.
func TestingNewFileManager(t *testing.T) (*FileManager, error) {
	t.Helper()
	return NewFileManager(filepath.Join(t.TempDir(), "crabdb.db"))
}
