package objstore

import (
	"context"
	"runtime/debug"
	"slices"
	"sync"
	"time"
)

func (db *DB) newTx(scope []string, mode Mode, s *schemaState) *Tx {
	db.lastTxID++
	ctx, cancel := context.WithCancel(context.Background())
	tx := &Tx{
		db:        db,
		id:        db.lastTxID,
		mode:      mode,
		scope:     scope,
		schema:    s,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		startTime: time.Now(),
	}
	if trackTxns {
		tx.stack = string(debug.Stack())
	}
	tx.cond = sync.NewCond(&tx.mu)
	return tx
}

func (db *DB) enqueueLocked(tx *Tx) {
	db.txns = append(db.txns, tx)
	db.logger.Debug("objstore: tx created", "tx", tx.String())
	db.scheduleLocked()
}

// scheduleLocked starts every transaction that does not conflict with an
// earlier unfinished one. Transactions therefore start in creation order
// whenever their scopes overlap on a write.
func (db *DB) scheduleLocked() {
	for i, tx := range db.txns {
		if tx.started {
			continue
		}
		blocked := false
		for _, earlier := range db.txns[:i] {
			if db.conflicts(earlier, tx) {
				blocked = true
				break
			}
		}
		if !blocked {
			tx.started = true
			go tx.run()
		}
	}
}

func (db *DB) conflicts(a, b *Tx) bool {
	if a.mode == VersionChange || b.mode == VersionChange {
		return true
	}
	if a.mode == ReadOnly && b.mode == ReadOnly {
		return false
	}
	if a.mode == ReadWrite && b.mode == ReadWrite && db.storage.SingleWriter() {
		return true
	}
	return scopesOverlap(a.scope, b.scope)
}

// scopesOverlap checks two sorted scopes for a common store.
func scopesOverlap(a, b []string) bool {
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] == b[j]:
			return true
		case a[i] < b[j]:
			i++
		default:
			j++
		}
	}
	return false
}

// finished removes a completed transaction and starts those that waited for it.
func (db *DB) finished(tx *Tx) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if i := slices.Index(db.txns, tx); i >= 0 {
		db.txns = slices.Delete(db.txns, i, i+1)
	} else {
		panic("tx not found in list")
	}
	if db.upgrading == tx {
		db.upgrading = nil
	}
	db.scheduleLocked()
}

// cancelPending completes an aborted transaction that has not been started
// yet, so that it does not wait for its turn. Reports false if the scheduler
// has already started it.
func (db *DB) cancelPending(tx *Tx) bool {
	db.mu.Lock()
	if tx.started {
		db.mu.Unlock()
		return false
	}
	tx.started = true
	db.mu.Unlock()

	tx.complete()
	tx.release()
	return true
}
