package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/sync/semaphore"
)

// connTimeout bounds how long a caller will wait to acquire the store's sole
// connection. Production waits up to 5s; under `go test` the wait is capped
// at 100ms so a deadlocked test fails fast instead of hanging the suite.
func connTimeout() time.Duration {
	if testing.Testing() {
		return 100 * time.Millisecond
	}
	return 5 * time.Second
}

// Store is the slashing-protection database. It holds exactly one
// connection, serialized in-process by sem and cross-process by SQLite's
// exclusive locking_mode, so that a check-and-insert transaction is always
// linearizable with respect to every other caller.
type Store struct {
	db  *sql.DB
	sem *semaphore.Weighted
}

// Open opens an existing slashing-protection database at path. It fails if
// no file exists there. Opening an existing database additionally creates
// the lower_bounds table if it is missing, so older databases are upgraded
// in place.
func Open(path string) (*Store, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, wrapStorageErr(err, "open: database file must already exist")
	}
	db, err := openConn(path)
	if err != nil {
		return nil, err
	}
	if err := ensureLowerBoundsTable(db); err != nil {
		db.Close()
		return nil, wrapStorageErr(err, "open: ensure lower_bounds table")
	}
	return &Store{db: db, sem: semaphore.NewWeighted(1)}, nil
}

// Create creates a brand new slashing-protection database at path. It fails
// if any file already exists there.
func Create(path string) (*Store, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o600)
	if err != nil {
		return nil, wrapStorageErr(err, "create: path must not already exist")
	}
	f.Close()

	db, err := openConn(path)
	if err != nil {
		os.Remove(path)
		return nil, err
	}
	if err := createSchema(db); err != nil {
		db.Close()
		os.Remove(path)
		return nil, wrapStorageErr(err, "create: schema initialization")
	}
	return &Store{db: db, sem: semaphore.NewWeighted(1)}, nil
}

// OpenOrCreate opens path if it exists, or creates it otherwise.
func OpenOrCreate(path string) (*Store, error) {
	if _, err := os.Stat(path); err == nil {
		return Open(path)
	}
	return Create(path)
}

// openConn opens the single *sql.DB handle with the pragmas and pool
// settings required by spec.md §4.A: foreign keys on, exclusive locking
// mode, and a connection pool of size exactly one. _txlock=exclusive makes
// every transaction on this connection begin with SQLite's "BEGIN
// EXCLUSIVE" — since the pool holds only one connection anyway (see
// SetMaxOpenConns below) this costs nothing and guarantees that the
// check-and-insert path in api.go always runs under the exclusive write
// lock spec.md §4.D requires, without needing a second transaction mode.
func openConn(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf(
		"file:%s?_foreign_keys=1&_locking_mode=EXCLUSIVE&_txlock=exclusive&_busy_timeout=%d",
		path, connTimeout().Milliseconds(),
	)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, wrapStorageErr(err, "open sqlite connection")
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, wrapStorageErr(err, "open sqlite connection: a second process may already hold the exclusive lock")
	}
	return db, nil
}

// Close releases the store's connection. Safe to call once.
func (s *Store) Close() error {
	return s.db.Close()
}

// acquire blocks (up to connTimeout) for exclusive use of the store's sole
// connection, mirroring the serialization our teacher's kvpool.Conn.acquire
// performs with the same semaphore primitive.
func (s *Store) acquire(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, connTimeout())
	defer cancel()
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return wrapStorageErr(err, "acquire connection")
	}
	return nil
}

func (s *Store) release() {
	s.sem.Release(1)
}

// withTx acquires the sole connection, opens a transaction, runs fn, and
// commits on success or rolls back on error or panic — so a cancelled or
// failed operation never leaves partial writes observable, per spec.md §5.
// Every transaction on this connection is already an exclusive one (see
// openConn's _txlock=exclusive), satisfying the exclusivity rule of
// spec.md §4.D for every caller, not just check-and-insert.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapStorageErr(err, "begin transaction")
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return wrapStorageErr(err, "commit transaction")
	}
	return nil
}
