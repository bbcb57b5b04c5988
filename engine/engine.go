/*
Engine is the composition root: it wires the disk manager, the buffer pool,
the lock manager and the transaction manager together from a Config, and
owns the header page that indexes register their root pointers in.

Indexes are created on top of an engine with index.New, passing the
engine's buffer pool.
*/
package engine

import (
	"io"
	"os"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/smzst/crabdb/config"
	"github.com/smzst/crabdb/storage/buffer"
	"github.com/smzst/crabdb/storage/disk"
	"github.com/smzst/crabdb/storage/page"
	"github.com/smzst/crabdb/transaction"
	"github.com/smzst/crabdb/transaction/lock"
)

// Engine bundles the storage core's managers
type Engine struct {
	cfg    config.Config
	dm     disk.Manager
	pool   *buffer.Manager
	locks  *lock.Manager
	txns   *transaction.Manager
	logger *zap.Logger
}

// Open initializes a file-backed engine.
// a nil logger disables logging.
func Open(cfg config.Config, logger *zap.Logger) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	fi, err := os.Stat(cfg.DataFile)
	fresh := err != nil || fi.Size() == 0

	dm, err := disk.NewFileManager(cfg.DataFile)
	if err != nil {
		return nil, errors.Wrap(err, "disk.NewFileManager failed")
	}
	return newEngine(cfg, dm, fresh, logger)
}

// OpenInMemory initializes an engine over the buffer-backed disk manager,
// for tests and throwaway databases
func OpenInMemory(cfg config.Config, logger *zap.Logger) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	return newEngine(cfg, disk.NewInMemoryManager(), true, logger)
}

func newEngine(cfg config.Config, dm disk.Manager, fresh bool, logger *zap.Logger) (*Engine, error) {
	e := &Engine{
		cfg:    cfg,
		dm:     dm,
		pool:   buffer.NewManager(dm, cfg.PoolSize, cfg.PageTableBucketSize, logger),
		locks:  lock.NewManager(cfg.StrictTwoPhaseLocking, logger),
		txns:   transaction.NewManager(),
		logger: logger,
	}
	if err := e.ensureHeaderPage(fresh); err != nil {
		return nil, err
	}
	return e, nil
}

// ensureHeaderPage creates the root-pointer directory on a fresh database
// and checks it is where it belongs on an existing one
func (e *Engine) ensureHeaderPage(fresh bool) error {
	if fresh {
		_, id, err := e.pool.NewPage()
		if err != nil {
			return errors.Wrap(err, "pool.NewPage failed")
		}
		if id != page.HeaderPageID {
			return errors.Errorf("header page allocated as page %d, want %d", id, page.HeaderPageID)
		}
		// a fresh page is zeroed, which is a valid empty directory
		e.pool.UnpinPage(id, true)
		e.logger.Info("initialized header page")
		return nil
	}
	f, err := e.pool.FetchPage(page.HeaderPageID)
	if err != nil {
		return errors.Wrap(err, "pool.FetchPage failed")
	}
	n := page.AsHeaderPage(f).RecordCount()
	e.pool.UnpinPage(page.HeaderPageID, false)
	e.logger.Info("opened existing database", zap.Int("indexes", n))
	return nil
}

// Pool returns the buffer pool manager
func (e *Engine) Pool() *buffer.Manager {
	return e.pool
}

// Locks returns the lock manager
func (e *Engine) Locks() *lock.Manager {
	return e.locks
}

// Begin starts a transaction
func (e *Engine) Begin() *transaction.Tx {
	return e.txns.Begin()
}

// Commit commits the transaction and releases its record locks
func (e *Engine) Commit(tx *transaction.Tx) {
	e.txns.Commit(tx, e.locks)
}

// Abort aborts the transaction and releases its record locks
func (e *Engine) Abort(tx *transaction.Tx) {
	e.txns.Abort(tx, e.locks)
}

// Close flushes unpinned dirty pages and closes the data file
func (e *Engine) Close() error {
	if err := e.pool.FlushAllPages(); err != nil {
		return errors.Wrap(err, "pool.FlushAllPages failed")
	}
	if c, ok := e.dm.(io.Closer); ok {
		if err := c.Close(); err != nil {
			return errors.Wrap(err, "disk manager close failed")
		}
	}
	return nil
}
