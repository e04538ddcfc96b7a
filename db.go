package objstore

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/dgraph-io/badger"
	"go.etcd.io/bbolt"
)

const trackTxns = true

// InMemory can be passed to Open instead of a path to get a transient
// database that lives in memory.
const InMemory = ":memory:"

// DB is a database of object stores. It schedules transactions and owns the
// backing storage.
type DB struct {
	storage   storage
	logger    *slog.Logger
	verbose   bool
	encoding  Encoding
	checksums bool

	schema atomic.Pointer[schemaState]

	mu        sync.Mutex
	txns      []*Tx // unfinished, in creation order
	upgrading *Tx
	closed    bool
	lastTxID  uint64

	CommitCount atomic.Uint64
	AbortCount  atomic.Uint64
	OpCount     atomic.Uint64
}

type Options struct {
	// Logger receives transaction lifecycle and backend failure records.
	// Defaults to slog.Default().
	Logger *slog.Logger

	// Verbose logs every operation at debug level.
	Verbose bool

	// IsTesting trades durability for speed.
	IsTesting bool

	// MmapSize overrides the initial mmap size of Bolt databases.
	MmapSize int

	// Encoding is used to serialize values written by this handle. Records
	// remember their encoding, so it can be changed between opens.
	Encoding Encoding

	// Checksums adds an xxhash64 of the value to every written record.
	Checksums bool

	// OpenTimeout bounds waiting for the Bolt file lock.
	OpenTimeout time.Duration
}

// Open opens a Bolt-backed database at path, or an in-memory one if path is
// InMemory.
func Open(path string, opt Options) (*DB, error) {
	if path == InMemory {
		return OpenMemory(opt)
	}
	bopt := &bbolt.Options{}
	*bopt = *bbolt.DefaultOptions
	bopt.Timeout = 10 * time.Second
	if opt.OpenTimeout != 0 {
		bopt.Timeout = opt.OpenTimeout
	}
	if opt.IsTesting {
		bopt.NoSync = true
		bopt.NoFreelistSync = true
		bopt.InitialMmapSize = 1024 * 1024 * 5
	} else {
		bopt.InitialMmapSize = 1024 * 1024 * 1024
		bopt.FreelistType = bbolt.FreelistMapType
	}
	if opt.MmapSize != 0 {
		bopt.InitialMmapSize = opt.MmapSize
	}

	bdb, err := bbolt.Open(path, 0666, bopt)
	if err != nil {
		return nil, fmt.Errorf("objstore: %w", err)
	}
	db, err := newDB(newBoltStorage(bdb), opt)
	if err != nil {
		bdb.Close()
		return nil, err
	}
	return db, nil
}

// OpenMemory returns a transient in-memory database.
func OpenMemory(opt Options) (*DB, error) {
	return newDB(newMemStorage(), opt)
}

// OpenPebble opens a Pebble-backed database in dir.
func OpenPebble(dir string, opt Options) (*DB, error) {
	return OpenPebbleWith(dir, &pebble.Options{}, opt)
}

// OpenPebbleWith is like OpenPebble, but allows to customize Pebble options,
// for example to use an in-memory file system.
func OpenPebbleWith(dir string, popt *pebble.Options, opt Options) (*DB, error) {
	pdb, err := pebble.Open(dir, popt)
	if err != nil {
		return nil, fmt.Errorf("objstore: pebble: %w", err)
	}
	db, err := newDB(newPebbleStorage(pdb, !opt.IsTesting), opt)
	if err != nil {
		pdb.Close()
		return nil, err
	}
	return db, nil
}

// OpenBadger opens a Badger-backed database in dir.
func OpenBadger(dir string, opt Options) (*DB, error) {
	logger := opt.Logger
	if logger == nil {
		logger = slog.Default()
	}
	bopt := badger.DefaultOptions(dir).
		WithLogger(badgerLogger{logger.With("backend", "badger")}).
		WithSyncWrites(!opt.IsTesting)
	bdb, err := badger.Open(bopt)
	if err != nil {
		return nil, fmt.Errorf("objstore: badger: %w", err)
	}
	db, err := newDB(newBadgerStorage(bdb), opt)
	if err != nil {
		bdb.Close()
		return nil, err
	}
	return db, nil
}

func newDB(stor storage, opt Options) (*DB, error) {
	db := &DB{
		storage:   stor,
		logger:    opt.Logger,
		verbose:   opt.Verbose,
		encoding:  opt.Encoding,
		checksums: opt.Checksums,
	}
	if db.logger == nil {
		db.logger = slog.Default()
	}

	stx, err := stor.BeginTx(false)
	if err != nil {
		return nil, fmt.Errorf("objstore: %w", err)
	}
	s, err := loadSchema(stx)
	stx.Rollback()
	if err != nil {
		return nil, fmt.Errorf("objstore: loading schema: %w", err)
	}
	db.schema.Store(s)
	return db, nil
}

// Close aborts unfinished transactions, waits for them to wind down, and
// closes the storage.
func (db *DB) Close() error {
	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return nil
	}
	db.closed = true
	txns := slices.Clone(db.txns)
	db.mu.Unlock()

	for _, tx := range txns {
		tx.Abort()
	}
	for _, tx := range txns {
		<-tx.Done()
	}
	return db.storage.Close()
}

// Version returns the schema version; a new database has version 0.
func (db *DB) Version() uint64 {
	return db.schema.Load().Version
}

// StoreNames returns the names of the object stores, sorted.
func (db *DB) StoreNames() []string {
	return db.schema.Load().storeNames()
}

// Encoding returns the encoding used for new records.
func (db *DB) Encoding() Encoding {
	return db.encoding
}

// Decode converts a value returned by a request into dst, which must be a
// pointer.
func (db *DB) Decode(v any, dst any) error {
	return db.encoding.Convert(v, dst)
}

// Transaction creates a readonly or readwrite transaction over the given
// stores. Requests can be issued right away; they run once the transaction
// is scheduled. The caller must eventually call Commit or Abort.
func (db *DB) Transaction(scope []string, mode Mode) (*Tx, error) {
	if mode != ReadOnly && mode != ReadWrite {
		return nil, storeErrf(ErrNotAllowed, "", "", Key{}, nil, "cannot open a %v transaction, use BeginUpgrade", mode)
	}
	if len(scope) == 0 {
		return nil, storeErrf(ErrNotAllowed, "", "", Key{}, nil, "empty transaction scope")
	}
	scope = slices.Clone(scope)
	slices.Sort(scope)
	scope = slices.Compact(scope)

	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil, storeErrf(ErrNotAllowed, "", "", Key{}, nil, "database is closed")
	}
	if db.upgrading != nil {
		return nil, storeErrf(ErrNotAllowed, "", "", Key{}, nil, "an upgrade is in progress")
	}
	s := db.schema.Load()
	for _, name := range scope {
		if s.store(name) == nil {
			return nil, storeErrf(ErrNotFound, name, "", Key{}, nil, "no such object store")
		}
	}
	tx := db.newTx(scope, mode, s)
	db.enqueueLocked(tx)
	return tx, nil
}

// BeginUpgrade creates a versionchange transaction that moves the database
// to the given version. Only one upgrade can be unfinished at a time, and no
// other transactions can be created until it finishes.
func (db *DB) BeginUpgrade(version uint64) (*Tx, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil, storeErrf(ErrNotAllowed, "", "", Key{}, nil, "database is closed")
	}
	if db.upgrading != nil {
		return nil, storeErrf(ErrNotAllowed, "", "", Key{}, nil, "an upgrade is already in progress")
	}
	s := db.schema.Load()
	if version <= s.Version {
		return nil, storeErrf(ErrNotAllowed, "", "", Key{}, nil, "cannot upgrade from version %d to %d", s.Version, version)
	}
	s = s.clone()
	s.Version = version
	tx := db.newTx(nil, VersionChange, s)
	db.upgrading = tx
	db.enqueueLocked(tx)
	return tx, nil
}

// Upgrade runs f in a versionchange transaction and commits it. It does
// nothing when the database is already at the given version.
func (db *DB) Upgrade(ctx context.Context, version uint64, f func(tx *Tx) error) error {
	if db.Version() == version {
		return nil
	}
	tx, err := db.BeginUpgrade(version)
	if err != nil {
		return err
	}
	return runTx(ctx, tx, f)
}

// Update runs f in a readwrite transaction and commits it, waiting for all
// of its requests to finish.
func (db *DB) Update(ctx context.Context, scope []string, f func(tx *Tx) error) error {
	tx, err := db.Transaction(scope, ReadWrite)
	if err != nil {
		return err
	}
	return runTx(ctx, tx, f)
}

// View runs f in a readonly transaction.
func (db *DB) View(ctx context.Context, scope []string, f func(tx *Tx) error) error {
	tx, err := db.Transaction(scope, ReadOnly)
	if err != nil {
		return err
	}
	return runTx(ctx, tx, f)
}

func runTx(ctx context.Context, tx *Tx, f func(tx *Tx) error) error {
	_, err := safelyCall(func() (struct{}, error) {
		return struct{}{}, f(tx)
	})
	if err != nil {
		tx.Abort()
		<-tx.Done()
		return err
	}
	if err := tx.Commit(); err != nil {
		if werr := tx.Wait(ctx); werr != nil {
			return werr
		}
		return err
	}
	return tx.Wait(ctx)
}

func (db *DB) DescribeOpenTxns() string {
	if !trackTxns {
		return "OPEN TX TRACKING DISABLED"
	}

	db.mu.Lock()
	txns := slices.Clone(db.txns)
	db.mu.Unlock()

	if len(txns) == 0 {
		return "NO OPEN TRANSACTIONS"
	}

	now := time.Now()

	var buf strings.Builder
	fmt.Fprintf(&buf, "%d OPEN TRANSACTIONS:\n", len(txns))
	for _, tx := range txns {
		ms := now.Sub(tx.startTime).Milliseconds()
		if ms < 100 {
			fmt.Fprintf(&buf, "\n---\n%v open for %d ms\n", tx, ms)
		} else {
			fmt.Fprintf(&buf, "\n---\n%v open for %d ms:\n%s", tx, ms, tx.stack)
		}
	}

	return buf.String()
}
