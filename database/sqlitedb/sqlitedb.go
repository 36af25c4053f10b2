package sqlitedb

import (
	"errors"
	"fmt"
	"path"
	"sync"
	"sync/atomic"

	"github.com/tradebay/escrowd/database"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const dbName = "escrowd.db"

// ErrReadOnly is returned when a write is attempted on a view
// transaction.
var ErrReadOnly = errors.New("tx is read only")

// DB is an implementation of the database.Database interface using the
// gorm ORM with sqlite.
type DB struct {
	db  *gorm.DB
	mtx sync.Mutex
}

// NewSqliteDB instantiates a new db which satisfies the Database
// interface.
func NewSqliteDB(dataDir string) (database.Database, error) {
	return openDB(path.Join(dataDir, dbName))
}

var memDBCount int64

// NewMemoryDB instantiates a new db which satisfies the Database
// interface. The db is held in memory, which is useful for testing.
// Each call returns an isolated database so tests can stand up
// multiple independent nodes.
func NewMemoryDB() (database.Database, error) {
	n := atomic.AddInt64(&memDBCount, 1)
	return openDB(fmt.Sprintf("file:memdb%d?mode=memory&cache=shared", n))
}

func openDB(dsn string) (database.Database, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	return &DB{db: db, mtx: sync.Mutex{}}, nil
}

// View invokes the passed function in the context of a managed
// read-only transaction. Any errors returned from the user-supplied
// function are returned from this function.
func (sdb *DB) View(fn func(tx database.Tx) error) error {
	sdb.mtx.Lock()
	defer sdb.mtx.Unlock()

	tx := readTx(sdb.db)
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Update invokes the passed function in the context of a managed
// read-write transaction. Any errors returned from the user-supplied
// function will cause the transaction to be rolled back and are
// returned from this function. Otherwise, the transaction is committed
// when the user-supplied function returns a nil error.
func (sdb *DB) Update(fn func(tx database.Tx) error) error {
	sdb.mtx.Lock()
	defer sdb.mtx.Unlock()

	tx := writeTx(sdb.db)
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Close cleanly shuts down the database and syncs all data. It will
// block until all database transactions have been finalized.
func (sdb *DB) Close() error {
	sdb.mtx.Lock()
	defer sdb.mtx.Unlock()

	db, err := sdb.db.DB()
	if err != nil {
		return err
	}
	return db.Close()
}

type tx struct {
	dbtx *gorm.DB

	commitHooks []func()

	closed      bool
	isForWrites bool
}

func writeTx(db *gorm.DB) database.Tx {
	return &tx{dbtx: db.Begin(), isForWrites: true}
}

func readTx(db *gorm.DB) database.Tx {
	return &tx{dbtx: db, isForWrites: false}
}

// Commit commits all changes that have been made to the database.
// Calling this function on a managed transaction will result in a
// panic.
func (t *tx) Commit() error {
	if t.closed {
		panic("tx already closed")
	}

	defer func() { t.closed = true }()

	if !t.isForWrites {
		return nil
	}

	if err := t.dbtx.Commit().Error; err != nil {
		t.dbtx.Rollback()
		return err
	}
	for _, fn := range t.commitHooks {
		fn()
	}
	return nil
}

// Rollback undoes all changes that have been made to the database.
// Calling this function on a managed transaction will result in a
// panic.
func (t *tx) Rollback() error {
	if t.closed {
		panic("tx already closed")
	}

	defer func() { t.closed = true }()

	if !t.isForWrites {
		return nil
	}
	return t.dbtx.Rollback().Error
}

// Read returns the underlying sql database in a read-only mode so that
// queries can be made against it.
func (t *tx) Read() *gorm.DB {
	return t.dbtx
}

// Save will save the passed in model to the database. If it already
// exists it will be overridden.
func (t *tx) Save(model interface{}) error {
	if !t.isForWrites {
		return ErrReadOnly
	}
	return t.dbtx.Save(model).Error
}

// Update will update the given key to the value for the given model.
func (t *tx) Update(key string, value interface{}, where map[string]interface{}, model interface{}) error {
	if !t.isForWrites {
		return ErrReadOnly
	}
	db := t.dbtx.Model(model)
	for k, v := range where {
		db = db.Where(k, v)
	}
	return db.UpdateColumn(key, value).Error
}

// Delete will delete all models of the given type from the database
// where field == key.
func (t *tx) Delete(key string, value interface{}, model interface{}) error {
	if !t.isForWrites {
		return ErrReadOnly
	}
	return t.dbtx.Where(fmt.Sprintf("%s = ?", key), value).Delete(model).Error
}

// Migrate will auto-migrate the database from any previous schema for
// this model to the current schema.
func (t *tx) Migrate(model interface{}) error {
	if !t.isForWrites {
		return ErrReadOnly
	}
	return t.dbtx.AutoMigrate(model)
}

// RegisterCommitHook registers a callback that is invoked whenever a
// commit completes successfully.
func (t *tx) RegisterCommitHook(fn func()) {
	t.commitHooks = append(t.commitHooks, fn)
}
