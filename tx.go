package objstore

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"
)

// Mode is the access mode of a transaction.
type Mode int

const (
	ReadOnly Mode = iota
	ReadWrite
	VersionChange
)

func (m Mode) String() string {
	switch m {
	case ReadOnly:
		return "readonly"
	case ReadWrite:
		return "readwrite"
	case VersionChange:
		return "versionchange"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

type txState int

const (
	txActive txState = iota
	txCommitting
	txCommitted
	txAborted
)

func (s txState) String() string {
	switch s {
	case txActive:
		return "active"
	case txCommitting:
		return "committing"
	case txCommitted:
		return "committed"
	case txAborted:
		return "aborted"
	default:
		return fmt.Sprintf("txState(%d)", int(s))
	}
}

// Tx is a transaction over a set of object stores.
//
// Requests issued on a transaction run one at a time, in the order they were
// issued, on a worker goroutine that owns the storage transaction. A failed
// request aborts the transaction; an aborted transaction rolls back all of
// its writes and fails every request that has not run yet with an
// AbortError.
//
// Transactions do not commit on their own: call Commit once all requests
// have been issued, or Abort.
type Tx struct {
	db        *DB
	id        uint64
	mode      Mode
	scope     []string // sorted; nil for versionchange transactions
	startTime time.Time
	stack     string

	started bool // guarded by db.mu

	mu     sync.Mutex
	cond   *sync.Cond
	state  txState
	queue  []*Request
	schema *schemaState
	err    error // abort cause

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	stx storageTx // owned by the worker
}

func (tx *Tx) String() string {
	if tx.mode == VersionChange {
		return fmt.Sprintf("tx#%d(%v)", tx.id, tx.mode)
	}
	return fmt.Sprintf("tx#%d(%v %v)", tx.id, tx.mode, tx.scope)
}

func (tx *Tx) DB() *DB {
	return tx.db
}

func (tx *Tx) Mode() Mode {
	return tx.mode
}

// IsActive reports whether the transaction accepts new requests.
func (tx *Tx) IsActive() bool {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.state == txActive
}

func (tx *Tx) IsWriteAllowed() bool {
	return tx.mode != ReadOnly
}

// Done is closed when the transaction has committed or aborted.
func (tx *Tx) Done() <-chan struct{} {
	return tx.done
}

// Err returns nil for a committed or unfinished transaction, and the reason
// of the abort otherwise.
func (tx *Tx) Err() error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.state != txAborted {
		return nil
	}
	return tx.err
}

// Wait blocks until the transaction finishes and returns Err.
func (tx *Tx) Wait(ctx context.Context) error {
	select {
	case <-tx.done:
		return tx.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Commit stops accepting requests and commits once the queued ones are done.
func (tx *Tx) Commit() error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.state != txActive {
		return tx.inactiveErrLocked()
	}
	tx.state = txCommitting
	tx.cond.Broadcast()
	return nil
}

// Abort rolls the transaction back. Requests that haven't run yet fail with
// an AbortError; the result of a request that is running is discarded.
func (tx *Tx) Abort() error {
	tx.mu.Lock()
	if tx.state != txActive {
		err := tx.inactiveErrLocked()
		tx.mu.Unlock()
		return err
	}
	drained := tx.abortLocked(storeErrf(ErrAbort, "", "", Key{}, nil, "aborted by caller"))
	tx.mu.Unlock()

	tx.resolveAborted(drained)
	tx.db.cancelPending(tx)
	return nil
}

func (tx *Tx) inactiveErrLocked() error {
	return storeErrf(ErrTransactionInactive, "", "", Key{}, nil, "transaction is %v", tx.state)
}

// abortLocked moves the transaction into the aborted state and returns the
// requests that must now be failed. The caller resolves them after
// unlocking tx.mu.
func (tx *Tx) abortLocked(cause error) []*Request {
	if tx.state == txAborted || tx.state == txCommitted {
		return nil
	}
	tx.state = txAborted
	tx.err = cause
	tx.cancel()
	tx.cond.Broadcast()
	// Queued operations are not executed: their writes would be rolled back
	// and their results discarded, so they resolve with AbortError directly.
	drained := tx.queue
	tx.queue = nil
	return drained
}

func (tx *Tx) abortErrLocked() error {
	if errors.Is(tx.err, ErrAbort) {
		return tx.err
	}
	return storeErrf(ErrAbort, "", "", Key{}, nil, "transaction aborted after %s", ErrorName(tx.err))
}

func (tx *Tx) resolveAborted(reqs []*Request) {
	if len(reqs) == 0 {
		return
	}
	tx.mu.Lock()
	err := tx.abortErrLocked()
	tx.mu.Unlock()
	for _, req := range reqs {
		req.resolve(nil, err)
	}
}

// checkActive rejects requests on a transaction that stopped accepting them.
func (tx *Tx) checkActive() error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.state != txActive {
		return tx.inactiveErrLocked()
	}
	return nil
}

func (tx *Tx) checkWritable(store string) error {
	if err := tx.checkActive(); err != nil {
		return err
	}
	if tx.mode == ReadOnly {
		return storeErrf(ErrReadOnly, store, "", Key{}, nil, "")
	}
	return nil
}

// dispatch queues an operation. It fails synchronously when the transaction
// is not active, without reaching the worker.
func (tx *Tx) dispatch(op operation) (*Request, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.state != txActive {
		return nil, tx.inactiveErrLocked()
	}
	req := newRequest(tx, op)
	tx.queue = append(tx.queue, req)
	tx.cond.Signal()
	return req, nil
}

func (tx *Tx) currentSchema() *schemaState {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.schema
}

func (tx *Tx) inScope(name string) bool {
	if tx.mode == VersionChange {
		return true
	}
	_, found := slices.BinarySearch(tx.scope, name)
	return found
}

// ObjectStore returns a handle of a store in the transaction's scope.
func (tx *Tx) ObjectStore(name string) (*ObjectStore, error) {
	if !tx.inScope(name) || tx.currentSchema().store(name) == nil {
		return nil, storeErrf(ErrNotFound, name, "", Key{}, nil, "object store not in transaction scope")
	}
	return &ObjectStore{tx: tx, name: name}, nil
}

// StoreNames returns the names of the stores visible to the transaction.
func (tx *Tx) StoreNames() []string {
	s := tx.currentSchema()
	if tx.mode == VersionChange {
		return s.storeNames()
	}
	return slices.Clone(tx.scope)
}

// Version returns the schema version the transaction works with; for a
// versionchange transaction, the version being upgraded to.
func (tx *Tx) Version() uint64 {
	return tx.currentSchema().Version
}

// run is the worker loop of a started transaction.
func (tx *Tx) run() {
	tx.mu.Lock()
	aborted := tx.state == txAborted
	tx.mu.Unlock()

	if !aborted {
		stx, err := tx.db.storage.BeginTx(tx.mode != ReadOnly)
		if err != nil {
			tx.db.logger.Error("objstore: cannot begin storage transaction", "tx", tx.String(), "err", err)
			tx.fail(nil, storeErrf(ErrUnknown, "", "", Key{}, err, "cannot begin transaction"))
		} else {
			tx.stx = stx
			tx.db.logger.Debug("objstore: tx started", "tx", tx.String())
			tx.loop()
		}
	}
	tx.complete()
	tx.release()
}

func (tx *Tx) loop() {
	for {
		tx.mu.Lock()
		for len(tx.queue) == 0 && tx.state == txActive {
			tx.cond.Wait()
		}
		if tx.state == txAborted || len(tx.queue) == 0 {
			tx.mu.Unlock()
			return
		}
		req := tx.queue[0]
		tx.queue[0] = nil
		tx.queue = tx.queue[1:]
		oc := &opContext{
			ctx:    tx.ctx,
			tx:     tx,
			db:     tx.db,
			stx:    tx.stx,
			schema: tx.schema,
		}
		tx.mu.Unlock()

		if tx.db.verbose {
			tx.db.logger.Debug("objstore: "+req.op.String(), "tx", tx.id)
		}
		tx.db.OpCount.Add(1)
		res, err := safelyCall(func() (any, error) {
			return req.op.do(oc)
		})
		if err != nil {
			err = operationErr(err)
		}

		tx.mu.Lock()
		if tx.state == txAborted {
			err := tx.abortErrLocked()
			tx.mu.Unlock()
			req.resolve(nil, err)
			return
		}
		tx.mu.Unlock()

		if err != nil {
			tx.fail(req, err)
			return
		}
		req.resolve(res, nil)
	}
}

// fail aborts the transaction because the given request failed. The failing
// request resolves with err, the queued ones with an AbortError.
func (tx *Tx) fail(req *Request, err error) {
	tx.mu.Lock()
	drained := tx.abortLocked(err)
	tx.mu.Unlock()

	if errors.Is(err, ErrUnknown) {
		tx.db.logger.Error("objstore: request failed", "tx", tx.String(), "err", err)
	} else {
		tx.db.logger.Debug("objstore: request failed", "tx", tx.String(), "err", err)
	}
	if req != nil {
		req.resolve(nil, err)
	}
	tx.resolveAborted(drained)
}

func operationErr(err error) error {
	var p panicked
	if errors.As(err, &p) {
		return storeErrf(ErrUnknown, "", "", Key{}, err, "operation panicked")
	}
	return asUnknown("", err)
}

// complete commits or rolls back the storage transaction.
func (tx *Tx) complete() {
	tx.mu.Lock()
	committing := tx.state == txCommitting
	s := tx.schema
	tx.mu.Unlock()

	var err error
	if committing && tx.mode == ReadOnly {
		// nothing to write; releasing the snapshot is the commit
		if rerr := tx.stx.Rollback(); rerr != nil {
			tx.db.logger.Error("objstore: release failed", "tx", tx.String(), "err", rerr)
		}
	} else if committing {
		if tx.mode == VersionChange {
			err = saveSchema(tx.stx, s)
		}
		if err == nil {
			err = tx.stx.Commit()
		}
		if err != nil {
			tx.stx.Rollback()
			tx.db.logger.Error("objstore: commit failed", "tx", tx.String(), "err", err)
			err = storeErrf(ErrUnknown, "", "", Key{}, err, "commit failed")
		}
	} else if tx.stx != nil {
		if rerr := tx.stx.Rollback(); rerr != nil {
			tx.db.logger.Error("objstore: rollback failed", "tx", tx.String(), "err", rerr)
		}
	}

	tx.mu.Lock()
	if committing && err == nil {
		tx.state = txCommitted
		if tx.mode == VersionChange {
			tx.db.schema.Store(s)
		}
	} else if committing {
		tx.state = txAborted
		tx.err = err
	}
	state, cause := tx.state, tx.err
	tx.cancel()
	tx.mu.Unlock()

	if state == txCommitted {
		tx.db.CommitCount.Add(1)
		tx.db.logger.Debug("objstore: tx committed", "tx", tx.String(), "ms", time.Since(tx.startTime).Milliseconds())
	} else {
		tx.db.AbortCount.Add(1)
		tx.db.logger.Debug("objstore: tx aborted", "tx", tx.String(), "cause", cause)
	}
}

// release hands the scope over to waiting transactions, then closes Done,
// so that a transaction created after Done sees this one gone.
func (tx *Tx) release() {
	tx.db.finished(tx)
	close(tx.done)
}

// CreateObjectStore adds a store in a versionchange transaction. The store is
// visible to the transaction immediately.
func (tx *Tx) CreateObjectStore(name string, opt StoreOptions) (*ObjectStore, error) {
	if tx.mode != VersionChange {
		return nil, storeErrf(ErrNotAllowed, name, "", Key{}, nil, "stores can only be created in versionchange transactions")
	}
	if err := tx.checkActive(); err != nil {
		return nil, err
	}
	if opt.AutoIncrement && !opt.KeyPath.IsZero() && (opt.KeyPath.IsArray() || opt.KeyPath.paths[0] == "") {
		return nil, storeErrf(ErrNotAllowed, name, "", Key{}, nil, "autoincrement requires a non-empty, non-array key path")
	}

	tx.mu.Lock()
	s := tx.schema
	if s.store(name) != nil {
		tx.mu.Unlock()
		return nil, storeErrf(ErrConstraint, name, "", Key{}, nil, "object store already exists")
	}
	s = s.clone()
	s.LastStoreID++
	sd := (&storeDef{
		ID:            s.LastStoreID,
		Name:          name,
		KeyPathDoc:    opt.KeyPath.doc(),
		AutoIncrement: opt.AutoIncrement,
	}).finalize()
	s.Stores[name] = sd
	tx.schema = s
	tx.mu.Unlock()

	if _, err := tx.dispatch(&createStoreOp{sd: sd}); err != nil {
		return nil, err
	}
	return &ObjectStore{tx: tx, name: name}, nil
}

// DeleteObjectStore removes a store with all of its records and indexes in
// a versionchange transaction.
func (tx *Tx) DeleteObjectStore(name string) error {
	if tx.mode != VersionChange {
		return storeErrf(ErrNotAllowed, name, "", Key{}, nil, "stores can only be deleted in versionchange transactions")
	}
	if err := tx.checkActive(); err != nil {
		return err
	}
	tx.mu.Lock()
	sd := tx.schema.store(name)
	if sd == nil {
		tx.mu.Unlock()
		return storeErrf(ErrNotFound, name, "", Key{}, nil, "no such object store")
	}
	tx.schema = tx.schema.withoutStore(name)
	tx.mu.Unlock()

	_, err := tx.dispatch(&deleteStoreOp{sd: sd})
	return err
}
