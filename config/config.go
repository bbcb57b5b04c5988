package config

import (
	"os"

	"github.com/pkg/errors"
	"go.yaml.in/yaml/v3"
)

// Config is the engine configuration.
// fields left out of the yaml file keep their defaults.
type Config struct {
	// PoolSize is the number of buffer pool frames
	PoolSize int `yaml:"pool_size"`
	// PageTableBucketSize is the bucket capacity of the page-table directory
	PageTableBucketSize int `yaml:"page_table_bucket_size"`
	// StrictTwoPhaseLocking keeps record locks until commit/abort
	StrictTwoPhaseLocking bool `yaml:"strict_two_phase_locking"`
	// DataFile is the path of the data file
	DataFile string `yaml:"data_file"`
}

// Default returns the configuration used when no file overrides it
func Default() Config {
	return Config{
		PoolSize:              64,
		PageTableBucketSize:   16,
		StrictTwoPhaseLocking: true,
		DataFile:              "crabdb.db",
	}
}

// Load reads a yaml config file over the defaults
func Load(path string) (Config, error) {
	cfg := Default()
	f, err := os.Open(path)
	if err != nil {
		return cfg, errors.Wrap(err, "os.Open failed")
	}
	defer f.Close()
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return cfg, errors.Wrap(err, "yaml decode failed")
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	if c.PoolSize <= 0 {
		return errors.Errorf("pool_size must be positive, got %d", c.PoolSize)
	}
	if c.PageTableBucketSize <= 0 {
		return errors.Errorf("page_table_bucket_size must be positive, got %d", c.PageTableBucketSize)
	}
	if c.DataFile == "" {
		return errors.New("data_file must not be empty")
	}
	return nil
}
