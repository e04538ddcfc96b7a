package objstore

import (
	"bytes"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger"
)

// badgerStore maps each storage transaction onto a badger transaction.
// Badger allows one open iterator per read-write transaction, so seek opens
// and closes an iterator every time.
type badgerStore struct {
	bdb *badger.DB
}

func newBadgerStorage(bdb *badger.DB) storage {
	return &flatStorage{fs: &badgerStore{bdb: bdb}}
}

func (s *badgerStore) beginFlat(writable bool) (flatTx, error) {
	return &badgerTx{txn: s.bdb.NewTransaction(writable)}, nil
}

func (s *badgerStore) close() error {
	return s.bdb.Close()
}

type badgerTx struct {
	txn *badger.Txn
}

func (tx *badgerTx) get(key []byte) ([]byte, error) {
	item, err := tx.txn.Get(key)
	if err == badger.ErrKeyNotFound {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	v, err := item.ValueCopy(nil)
	if err != nil {
		return nil, err
	}
	if v == nil {
		v = []byte{}
	}
	return v, nil
}

func (tx *badgerTx) set(key, value []byte) error {
	// badger keeps the slices until commit
	return tx.txn.Set(bytes.Clone(key), bytes.Clone(value))
}

func (tx *badgerTx) del(key []byte) error {
	return tx.txn.Delete(bytes.Clone(key))
}

func (tx *badgerTx) deleteRange(lower, upper []byte) error {
	var keys [][]byte
	it := tx.txn.NewIterator(badger.IteratorOptions{PrefetchValues: false})
	for it.Seek(lower); it.Valid(); it.Next() {
		k := it.Item().KeyCopy(nil)
		if upper != nil && bytes.Compare(k, upper) >= 0 {
			break
		}
		keys = append(keys, k)
	}
	it.Close()
	for _, k := range keys {
		if err := tx.txn.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

func (tx *badgerTx) seek(lower, upper, target []byte, reverse bool) (k, v []byte, err error) {
	it := tx.txn.NewIterator(badger.IteratorOptions{PrefetchValues: false, Reverse: reverse})
	defer it.Close()

	if reverse {
		if target == nil {
			target = upper
		}
		// reverse Seek finds the largest key <= target
		it.Seek(target)
		if it.Valid() && bytes.Equal(it.Item().Key(), target) {
			it.Next()
		}
		if !it.Valid() {
			return nil, nil, nil
		}
		if lower != nil && bytes.Compare(it.Item().Key(), lower) < 0 {
			return nil, nil, nil
		}
	} else {
		it.Seek(target)
		if !it.Valid() {
			return nil, nil, nil
		}
		if upper != nil && bytes.Compare(it.Item().Key(), upper) >= 0 {
			return nil, nil, nil
		}
	}

	item := it.Item()
	k = item.KeyCopy(nil)
	v, err = item.ValueCopy(nil)
	if err != nil {
		return nil, nil, err
	}
	if v == nil {
		v = []byte{}
	}
	return k, v, nil
}

func (tx *badgerTx) commit() error {
	return tx.txn.Commit()
}

func (tx *badgerTx) rollback() error {
	tx.txn.Discard()
	return nil
}

// badgerLogger routes badger's logging into slog.
type badgerLogger struct {
	logger *slog.Logger
}

func (l badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error("badger: " + trimNewline(fmt.Sprintf(format, args...)))
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn("badger: " + trimNewline(fmt.Sprintf(format, args...)))
}

func (l badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug("badger: " + trimNewline(fmt.Sprintf(format, args...)))
}

func (l badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug("badger: " + trimNewline(fmt.Sprintf(format, args...)))
}

func trimNewline(s string) string {
	for len(s) > 0 && s[len(s)-1] == '\n' {
		s = s[:len(s)-1]
	}
	return s
}
