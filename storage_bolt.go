package objstore

import (
	"bytes"
	"fmt"
	"unsafe"

	"go.etcd.io/bbolt"
)

// boltStorage keeps every object store in a root bucket with one nested
// bucket per data, index and generator section. Bolt allows a single writer,
// which the scheduler relies on through SingleWriter.
type boltStorage struct {
	bdb *bbolt.DB
}

func newBoltStorage(bdb *bbolt.DB) storage {
	return &boltStorage{bdb: bdb}
}

func (s *boltStorage) BeginTx(writable bool) (storageTx, error) {
	btx, err := s.bdb.Begin(writable)
	if err != nil {
		return nil, fmt.Errorf("bolt: begin: %w", err)
	}
	return &boltStorageTx{btx: btx}, nil
}

func (s *boltStorage) SingleWriter() bool { return true }

func (s *boltStorage) Close() error {
	return s.bdb.Close()
}

type boltStorageTx struct {
	btx  *bbolt.Tx
	done bool
}

func (tx *boltStorageTx) Writable() bool { return tx.btx.Writable() }

func (tx *boltStorageTx) lookup(name, sub string) *bbolt.Bucket {
	b := tx.btx.Bucket(unsafeBytesFromString(name))
	if b != nil && sub != "" {
		b = b.Bucket(unsafeBytesFromString(sub))
	}
	return b
}

func (tx *boltStorageTx) Bucket(name, sub string) storageBucket {
	if b := tx.lookup(name, sub); b != nil {
		return boltBucket{b}
	}
	return nil
}

func (tx *boltStorageTx) CreateBucket(name, sub string) (storageBucket, error) {
	b, err := tx.btx.CreateBucketIfNotExists([]byte(name))
	if err == nil && sub != "" {
		b, err = b.CreateBucketIfNotExists([]byte(sub))
	}
	if err != nil {
		return nil, fmt.Errorf("bolt: create bucket %s/%s: %w", name, sub, err)
	}
	return boltBucket{b}, nil
}

func (tx *boltStorageTx) DeleteBucket(name, sub string) error {
	var err error
	if sub == "" {
		err = tx.btx.DeleteBucket(unsafeBytesFromString(name))
	} else if parent := tx.lookup(name, ""); parent != nil {
		err = parent.DeleteBucket(unsafeBytesFromString(sub))
	} else {
		err = bbolt.ErrBucketNotFound
	}
	if err == bbolt.ErrBucketNotFound {
		return ErrBucketNotFound
	}
	return err
}

// Commit writes a writable transaction out. Read-only transactions only
// release their snapshot; Bolt refuses to commit them.
func (tx *boltStorageTx) Commit() error {
	if tx.done {
		return nil
	}
	if !tx.btx.Writable() {
		return tx.Rollback()
	}
	tx.done = true
	if err := tx.btx.Commit(); err != nil {
		return fmt.Errorf("bolt: commit: %w", err)
	}
	return nil
}

func (tx *boltStorageTx) Rollback() error {
	if tx.done {
		return nil
	}
	tx.done = true
	return tx.btx.Rollback()
}

func (tx *boltStorageTx) Size() int64 { return tx.btx.Size() }

type boltBucket struct {
	b *bbolt.Bucket
}

func (b boltBucket) Get(key []byte) ([]byte, error) { return b.b.Get(key), nil }

func (b boltBucket) Put(key, value []byte) error { return b.b.Put(key, value) }

func (b boltBucket) Delete(key []byte) error { return b.b.Delete(key) }

func (b boltBucket) Cursor() storageCursor { return boltCursor{b.b.Cursor()} }

// Stats reports page usage as of the last commit. Small buckets live inline
// in their parent's page and only show up in InlineBucketInuse.
func (b boltBucket) Stats() bucketStats {
	s := b.b.Stats()
	return bucketStats{
		KeyN:        s.KeyN,
		LeafInuse:   int64(s.LeafInuse + s.InlineBucketInuse),
		LeafAlloc:   int64(s.LeafAlloc),
		BranchAlloc: int64(s.BranchAlloc),
	}
}

type boltCursor struct {
	c *bbolt.Cursor
}

func (c boltCursor) First() ([]byte, []byte) { return c.c.First() }

func (c boltCursor) Last() ([]byte, []byte) { return c.c.Last() }

func (c boltCursor) Seek(seek []byte) ([]byte, []byte) { return c.c.Seek(seek) }

// SeekLast positions on the last key starting with prefix, or, when there is
// none, on the last key before where prefix would sort.
func (c boltCursor) SeekLast(prefix []byte) ([]byte, []byte) {
	if len(prefix) == 0 {
		return c.c.Last()
	}
	var k []byte
	if limit := prefixEnd(prefix); limit != nil {
		k, _ = c.c.Seek(limit)
	} else {
		// no key sorts after an all-0xFF prefix's range; walk past it
		for k, _ = c.c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); {
			k, _ = c.c.Next()
		}
	}
	if k == nil {
		return c.c.Last()
	}
	return c.c.Prev()
}

func (c boltCursor) Next() ([]byte, []byte) { return c.c.Next() }

func (c boltCursor) Prev() ([]byte, []byte) { return c.c.Prev() }

func (c boltCursor) Err() error { return nil }

func (c boltCursor) Close() {}

func unsafeBytesFromString(s string) []byte {
	return unsafe.Slice(unsafe.StringData(s), len(s))
}
