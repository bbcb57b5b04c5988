package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := []byte("pool_size: 8\ndata_file: /tmp/test.db\n")
	assert.Nil(t, os.WriteFile(path, content, 0600))

	cfg, err := Load(path)
	assert.Nil(t, err)
	assert.Equal(t, 8, cfg.PoolSize)
	assert.Equal(t, "/tmp/test.db", cfg.DataFile)
	// unspecified fields keep their defaults
	assert.Equal(t, Default().PageTableBucketSize, cfg.PageTableBucketSize)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	assert.Nil(t, os.WriteFile(path, []byte("pool_size: -1\n"), 0600))

	_, err := Load(path)
	assert.NotNil(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.NotNil(t, err)
}
