package objstore

import "errors"

// flatStore is a sorted key-value store without buckets, like Pebble or
// Badger. flatStorage emulates buckets on top of it with key prefixes:
//
//	'b' name 0x00 sub 0x00        bucket marker (sub is empty for root buckets)
//	'd' name 0x00 sub 0x00 key    bucket data
type flatStore interface {
	beginFlat(writable bool) (flatTx, error)
	close() error
}

type flatTx interface {
	// get returns a copy of the value, or nil if the key does not exist.
	get(key []byte) ([]byte, error)
	set(key, value []byte) error
	del(key []byte) error
	// deleteRange removes all keys in [lower, upper).
	deleteRange(lower, upper []byte) error
	// seek returns copies of the first pair with key >= target within
	// [lower, upper), or, when reverse is set, the last pair with key < target
	// (or the last pair of the range when target is nil).
	seek(lower, upper, target []byte, reverse bool) (k, v []byte, err error)
	commit() error
	rollback() error
}

const (
	flatMarkerPrefix = 'b'
	flatDataPrefix   = 'd'
)

type flatStorage struct {
	fs flatStore
}

func (s *flatStorage) BeginTx(writable bool) (storageTx, error) {
	ftx, err := s.fs.beginFlat(writable)
	if err != nil {
		return nil, err
	}
	return &flatStorageTx{ftx: ftx, writable: writable}, nil
}

func (s *flatStorage) SingleWriter() bool { return false }

func (s *flatStorage) Close() error { return s.fs.close() }

type flatStorageTx struct {
	ftx      flatTx
	writable bool
	err      error
	closed   bool
}

func flatName(kind byte, name, sub string) []byte {
	buf := make([]byte, 0, len(name)+len(sub)+3)
	buf = append(buf, kind)
	buf = append(buf, name...)
	buf = append(buf, 0)
	buf = append(buf, sub...)
	return append(buf, 0)
}

func (tx *flatStorageTx) Writable() bool { return tx.writable }

func (tx *flatStorageTx) fail(err error) {
	if tx.err == nil {
		tx.err = err
	}
}

func (tx *flatStorageTx) Bucket(name, sub string) storageBucket {
	marker, err := tx.ftx.get(flatName(flatMarkerPrefix, name, sub))
	if err != nil {
		tx.fail(err)
		return nil
	}
	if marker == nil {
		return nil
	}
	return &flatBucket{tx: tx, prefix: flatName(flatDataPrefix, name, sub)}
}

func (tx *flatStorageTx) CreateBucket(name, sub string) (storageBucket, error) {
	if !tx.writable {
		return nil, errors.New("tx not writable")
	}
	if sub != "" {
		if err := tx.ftx.set(flatName(flatMarkerPrefix, name, ""), []byte{}); err != nil {
			return nil, err
		}
	}
	if err := tx.ftx.set(flatName(flatMarkerPrefix, name, sub), []byte{}); err != nil {
		return nil, err
	}
	return &flatBucket{tx: tx, prefix: flatName(flatDataPrefix, name, sub)}, nil
}

func (tx *flatStorageTx) DeleteBucket(name, sub string) error {
	if !tx.writable {
		return errors.New("tx not writable")
	}
	marker := flatName(flatMarkerPrefix, name, sub)
	v, err := tx.ftx.get(marker)
	if err != nil {
		return err
	}
	if v == nil {
		return ErrBucketNotFound
	}
	if sub == "" {
		// both prefixes cover the root bucket and all of its nested buckets
		markers := marker[:len(marker)-1]
		if err := tx.ftx.deleteRange(markers, prefixEnd(markers)); err != nil {
			return err
		}
		data := flatName(flatDataPrefix, name, "")
		data = data[:len(data)-1]
		return tx.ftx.deleteRange(data, prefixEnd(data))
	}
	if err := tx.ftx.del(marker); err != nil {
		return err
	}
	data := flatName(flatDataPrefix, name, sub)
	return tx.ftx.deleteRange(data, prefixEnd(data))
}

func (tx *flatStorageTx) Commit() error {
	if tx.closed {
		return nil
	}
	if tx.err != nil {
		tx.Rollback()
		return tx.err
	}
	tx.closed = true
	return tx.ftx.commit()
}

func (tx *flatStorageTx) Rollback() error {
	if tx.closed {
		return nil
	}
	tx.closed = true
	return tx.ftx.rollback()
}

func (tx *flatStorageTx) Size() int64 { return 0 }

type flatBucket struct {
	tx     *flatStorageTx
	prefix []byte
}

func (b *flatBucket) key(k []byte) []byte {
	buf := make([]byte, 0, len(b.prefix)+len(k))
	buf = append(buf, b.prefix...)
	return append(buf, k...)
}

func (b *flatBucket) Get(key []byte) ([]byte, error) {
	return b.tx.ftx.get(b.key(key))
}

func (b *flatBucket) Put(key, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	return b.tx.ftx.set(b.key(key), value)
}

func (b *flatBucket) Delete(key []byte) error {
	return b.tx.ftx.del(b.key(key))
}

func (b *flatBucket) Cursor() storageCursor {
	return &flatCursor{b: b, upper: prefixEnd(b.prefix)}
}

func (b *flatBucket) Stats() bucketStats {
	var s bucketStats
	c := b.Cursor()
	defer c.Close()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		s.KeyN++
		s.LeafInuse += int64(len(k) + len(v))
	}
	s.LeafAlloc = s.LeafInuse
	return s
}

// flatCursor re-seeks on every move, so at most one backend iterator is open
// at a time and concurrent writes through the same transaction are visible.
type flatCursor struct {
	b     *flatBucket
	upper []byte
	cur   []byte
	err   error
}

func (c *flatCursor) seek(target []byte, reverse bool) ([]byte, []byte) {
	if c.err != nil {
		return nil, nil
	}
	k, v, err := c.b.tx.ftx.seek(c.b.prefix, c.upper, target, reverse)
	if err != nil {
		c.err = err
		c.cur = nil
		return nil, nil
	}
	c.cur = k
	if k == nil {
		return nil, nil
	}
	return k[len(c.b.prefix):], v
}

func (c *flatCursor) First() ([]byte, []byte) { return c.seek(c.b.prefix, false) }

func (c *flatCursor) Last() ([]byte, []byte) { return c.seek(c.upper, true) }

func (c *flatCursor) Seek(seek []byte) ([]byte, []byte) { return c.seek(c.b.key(seek), false) }

func (c *flatCursor) SeekLast(prefix []byte) ([]byte, []byte) {
	if len(prefix) == 0 {
		return c.Last()
	}
	if limit := prefixEnd(c.b.key(prefix)); limit != nil {
		return c.seek(limit, true)
	}
	return c.Last()
}

func (c *flatCursor) Next() ([]byte, []byte) {
	if c.cur == nil {
		return nil, nil
	}
	return c.seek(append(c.cur, 0), false)
}

func (c *flatCursor) Prev() ([]byte, []byte) {
	if c.cur == nil {
		return nil, nil
	}
	return c.seek(c.cur, true)
}

func (c *flatCursor) Err() error { return c.err }

func (c *flatCursor) Close() {}
