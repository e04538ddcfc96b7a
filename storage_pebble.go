package objstore

import (
	"bytes"
	"errors"

	"github.com/cockroachdb/pebble"
)

// pebbleStore uses an indexed batch per writable transaction, so that reads
// observe the transaction's own writes, and a snapshot per read-only one.
type pebbleStore struct {
	pdb  *pebble.DB
	sync bool
}

func newPebbleStorage(pdb *pebble.DB, sync bool) storage {
	return &flatStorage{fs: &pebbleStore{pdb: pdb, sync: sync}}
}

func (s *pebbleStore) beginFlat(writable bool) (flatTx, error) {
	if writable {
		return &pebbleTx{store: s, batch: s.pdb.NewIndexedBatch()}, nil
	}
	return &pebbleTx{store: s, snap: s.pdb.NewSnapshot()}, nil
}

func (s *pebbleStore) close() error {
	return s.pdb.Close()
}

type pebbleTx struct {
	store *pebbleStore
	batch *pebble.Batch
	snap  *pebble.Snapshot
}

func (tx *pebbleTx) reader() pebble.Reader {
	if tx.batch != nil {
		return tx.batch
	}
	return tx.snap
}

func (tx *pebbleTx) get(key []byte) ([]byte, error) {
	v, closer, err := tx.reader().Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	defer closer.Close()
	return bytes.Clone(v), nil
}

func (tx *pebbleTx) set(key, value []byte) error {
	return tx.batch.Set(key, value, nil)
}

func (tx *pebbleTx) del(key []byte) error {
	return tx.batch.Delete(key, nil)
}

func (tx *pebbleTx) deleteRange(lower, upper []byte) error {
	return tx.batch.DeleteRange(lower, upper, nil)
}

func (tx *pebbleTx) seek(lower, upper, target []byte, reverse bool) (k, v []byte, err error) {
	it, err := tx.reader().NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return nil, nil, err
	}
	var ok bool
	if reverse {
		if target == nil {
			ok = it.Last()
		} else {
			ok = it.SeekLT(target)
		}
	} else {
		ok = it.SeekGE(target)
	}
	if ok {
		k = bytes.Clone(it.Key())
		v = bytes.Clone(it.Value())
		if v == nil {
			v = []byte{}
		}
	}
	err = it.Error()
	if cerr := it.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, nil, err
	}
	return k, v, nil
}

func (tx *pebbleTx) commit() error {
	if tx.batch == nil {
		return tx.snap.Close()
	}
	defer tx.batch.Close()
	wo := pebble.NoSync
	if tx.store.sync {
		wo = pebble.Sync
	}
	return tx.batch.Commit(wo)
}

func (tx *pebbleTx) rollback() error {
	if tx.batch == nil {
		return tx.snap.Close()
	}
	return tx.batch.Close()
}
