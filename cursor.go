package objstore

import (
	"bytes"
	"fmt"
	"strings"
	"sync"

	"github.com/andreyvit/objstore/keycodec"
)

// Direction is the order in which a cursor walks its range.
type Direction int

const (
	Next Direction = iota
	NextUnique
	Prev
	PrevUnique
)

func (d Direction) String() string {
	switch d {
	case Next:
		return "next"
	case NextUnique:
		return "nextunique"
	case Prev:
		return "prev"
	case PrevUnique:
		return "prevunique"
	default:
		return fmt.Sprintf("Direction(%d)", int(d))
	}
}

// ParseDirection accepts the names returned by Direction.String.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(s) {
	case "", "next":
		return Next, nil
	case "nextunique":
		return NextUnique, nil
	case "prev":
		return Prev, nil
	case "prevunique":
		return PrevUnique, nil
	default:
		return Next, storeErrf(ErrData, "", "", Key{}, nil, "invalid cursor direction %q", s)
	}
}

func (d Direction) validate() error {
	if d < Next || d > PrevUnique {
		return storeErrf(ErrData, "", "", Key{}, nil, "invalid cursor direction %v", d)
	}
	return nil
}

func (d Direction) reverse() bool {
	return d == Prev || d == PrevUnique
}

func (d Direction) unique() bool {
	return d == NextUnique || d == PrevUnique
}

// Cursor walks the records of a store, or the rows of an index, within a
// key range.
//
// A cursor has at most one positioning request in flight. Continue, Advance,
// Update and Delete fail with NotAllowedError while one is pending, and
// after the cursor ran past the end of its range.
//
// For a store cursor, Key and PrimaryKey are both the record key. For an
// index cursor, Key is the index key and PrimaryKey is the record key.
type Cursor struct {
	tx        *Tx
	storeName string
	indexName string // empty for store cursors
	rang      KeyRange
	dir       Direction
	keyOnly   bool

	mu         sync.Mutex
	key        Key
	primaryKey Key
	value      any
	exhausted  bool
	pending    bool
}

func newCursor(tx *Tx, sd *storeDef, idx *indexDef, kr KeyRange, dir Direction, keyOnly bool) *Cursor {
	c := &Cursor{
		tx:        tx,
		storeName: sd.Name,
		rang:      kr,
		dir:       dir,
		keyOnly:   keyOnly,
	}
	if idx != nil {
		c.indexName = idx.Name
	}
	return c
}

func (c *Cursor) Transaction() *Tx {
	return c.tx
}

func (c *Cursor) Direction() Direction {
	return c.dir
}

func (c *Cursor) Range() KeyRange {
	return c.rang
}

// Key returns the key at the current position, or an unset Key when the
// cursor has no position.
func (c *Cursor) Key() Key {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.key
}

func (c *Cursor) PrimaryKey() Key {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.primaryKey
}

// Value returns the value of the current record. It is always nil for key
// cursors.
func (c *Cursor) Value() any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

// IsExhausted reports whether the cursor ran past the end of its range.
func (c *Cursor) IsExhausted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exhausted
}

func (c *Cursor) String() string {
	target := c.storeName
	if c.indexName != "" {
		target += "." + c.indexName
	}
	return fmt.Sprintf("cursor(%s %v %v)", target, c.rang, c.dir)
}

// defs resolves the store and index the cursor walks in the transaction's
// current schema.
func (c *Cursor) defs() (*storeDef, *indexDef, error) {
	sd := c.tx.currentSchema().store(c.storeName)
	if sd == nil {
		return nil, nil, storeErrf(ErrNotAllowed, c.storeName, c.indexName, Key{}, nil, "object store has been deleted")
	}
	if c.indexName == "" {
		return sd, nil, nil
	}
	idx := sd.index(c.indexName)
	if idx == nil {
		return nil, nil, storeErrf(ErrNotAllowed, c.storeName, c.indexName, Key{}, nil, "index has been deleted")
	}
	return sd, idx, nil
}

// checkMovableLocked rejects operations that need a settled position.
func (c *Cursor) checkMovableLocked() error {
	if err := c.tx.checkActive(); err != nil {
		return err
	}
	if c.pending {
		return storeErrf(ErrNotAllowed, c.storeName, c.indexName, Key{}, nil, "cursor is already moving")
	}
	if c.exhausted {
		return storeErrf(ErrNotAllowed, c.storeName, c.indexName, Key{}, nil, "cursor is exhausted")
	}
	return nil
}

// dispatch queues a positioning operation and marks the cursor pending.
func (c *Cursor) dispatch(op *cursorOp) (*Request, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dispatchLocked(op)
}

func (c *Cursor) dispatchLocked(op *cursorOp) (*Request, error) {
	c.pending = true
	req, err := c.tx.dispatch(op)
	if err != nil {
		c.pending = false
		return nil, err
	}
	return req, nil
}

// baseRange is the cursor's range in storage terms.
func (c *Cursor) baseRange() RawRange {
	var r RawRange
	if c.indexName == "" {
		r = c.rang.dataRange()
	} else {
		r = c.rang.indexRange()
	}
	if c.dir.reverse() {
		r = r.Reversed()
	}
	return r
}

func (c *Cursor) openOp() *cursorOp {
	sd, idx, _ := c.defs()
	return &cursorOp{c: c, sd: sd, idx: idx, raw: c.baseRange(), steps: 1, verb: "OPEN"}
}

// Continue moves the cursor to the next position strictly past the current
// one, or, with a target key, to the first position at or past the target.
// The result is the cursor, or nil once it runs past the end of its range.
func (c *Cursor) Continue(target ...any) (*Request, error) {
	if len(target) > 1 {
		return nil, storeErrf(ErrData, c.storeName, c.indexName, Key{}, nil, "at most one target key can be passed")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkMovableLocked(); err != nil {
		return nil, err
	}
	sd, idx, err := c.defs()
	if err != nil {
		return nil, err
	}

	if len(target) == 0 {
		return c.dispatchLocked(&cursorOp{c: c, sd: sd, idx: idx, raw: c.pastCurrentLocked(), steps: 1, verb: "CONTINUE"})
	}

	t, err := parseKey(c.storeName, target[0])
	if err != nil {
		return nil, err
	}
	cmp := t.Compare(c.key)
	if (!c.dir.reverse() && cmp <= 0) || (c.dir.reverse() && cmp >= 0) {
		return nil, storeErrf(ErrData, c.storeName, c.indexName, t, nil, "target does not advance the cursor past %v in direction %v", c.key, c.dir)
	}
	return c.dispatchLocked(&cursorOp{c: c, sd: sd, idx: idx, raw: c.atOrPastLocked(t), steps: 1, verb: "CONTINUE"})
}

// Advance moves the cursor forward by count positions in its direction.
func (c *Cursor) Advance(count int) (*Request, error) {
	if count <= 0 {
		return nil, storeErrf(ErrData, c.storeName, c.indexName, Key{}, nil, "advance count must be positive, got %d", count)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkMovableLocked(); err != nil {
		return nil, err
	}
	sd, idx, err := c.defs()
	if err != nil {
		return nil, err
	}
	return c.dispatchLocked(&cursorOp{c: c, sd: sd, idx: idx, raw: c.pastCurrentLocked(), steps: count, verb: "ADVANCE"})
}

// pastCurrentLocked is the part of the range strictly past the current
// position. Unique directions also skip the rest of the current index key.
func (c *Cursor) pastCurrentLocked() RawRange {
	r := c.baseRange()
	if c.indexName == "" {
		if c.dir.reverse() {
			return r.WithUpper(c.key.Bytes(), false)
		}
		return r.WithLower(c.key.Bytes(), false)
	}
	switch c.dir {
	case NextUnique:
		return r.WithLower(indexKeyBound(c.key, rowPastByte), true)
	case PrevUnique:
		return r.WithUpper(indexKeyBound(c.key, rowSepByte), false)
	case Prev:
		return r.WithUpper(makeIndexRow(c.key, c.primaryKey), false)
	default:
		return r.WithLower(makeIndexRow(c.key, c.primaryKey), false)
	}
}

// atOrPastLocked is the part of the range at or past the target key.
func (c *Cursor) atOrPastLocked(t Key) RawRange {
	r := c.baseRange()
	if c.indexName == "" {
		if c.dir.reverse() {
			return r.WithUpper(t.Bytes(), true)
		}
		return r.WithLower(t.Bytes(), true)
	}
	if c.dir.reverse() {
		return r.WithUpper(indexKeyBound(t, rowPastByte), false)
	}
	return r.WithLower(indexKeyBound(t, rowSepByte), true)
}

// Update replaces the value of the record at the cursor's position. If the
// store has a key path, the key embedded in the value must match the
// record's key. The result is the record's Key.
func (c *Cursor) Update(value any) (*Request, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkMovableLocked(); err != nil {
		return nil, err
	}
	if !c.tx.IsWriteAllowed() {
		return nil, storeErrf(ErrReadOnly, c.storeName, c.indexName, Key{}, nil, "")
	}
	if c.keyOnly {
		return nil, storeErrf(ErrNotAllowed, c.storeName, c.indexName, Key{}, nil, "key cursors cannot update records")
	}
	sd, _, err := c.defs()
	if err != nil {
		return nil, err
	}
	op, err := c.tx.preparePut(sd, value, c.primaryKey, true, false)
	if err != nil {
		return nil, err
	}
	return c.tx.dispatch(op)
}

// Delete removes the record at the cursor's position. The cursor keeps its
// position.
func (c *Cursor) Delete() (*Request, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkMovableLocked(); err != nil {
		return nil, err
	}
	if !c.tx.IsWriteAllowed() {
		return nil, storeErrf(ErrReadOnly, c.storeName, c.indexName, Key{}, nil, "")
	}
	sd, _, err := c.defs()
	if err != nil {
		return nil, err
	}
	return c.tx.dispatch(&deleteOp{sd: sd, rang: KeyRange{Lower: c.primaryKey, Upper: c.primaryKey}})
}

// cursorOp moves a cursor to the steps-th position of raw. The position
// found by the worker is applied to the cursor when the request resolves.
type cursorOp struct {
	c     *Cursor
	sd    *storeDef
	idx   *indexDef
	raw   RawRange
	steps int
	verb  string

	found      bool
	key        Key
	primaryKey Key
	value      any
}

func (op *cursorOp) String() string {
	if op.steps > 1 {
		return fmt.Sprintf("CURSOR.%s %v by %d", op.verb, op.c, op.steps)
	}
	return fmt.Sprintf("CURSOR.%s %v", op.verb, op.c)
}

func (op *cursorOp) do(oc *opContext) (any, error) {
	if op.sd == nil {
		_, _, err := op.c.defs()
		return nil, err
	}
	dataB, err := oc.dataBucket(op.sd)
	if err != nil {
		return nil, err
	}
	if op.raw.IsEmpty() {
		return nil, nil
	}
	buck := dataB
	if op.idx != nil {
		if buck, err = oc.indexBucket(op.sd, op.idx); err != nil {
			return nil, err
		}
	}

	var raw []byte
	if op.idx == nil {
		raw, err = op.seekStore(oc, buck)
	} else {
		err = op.seekIndex(oc, buck)
	}
	if err != nil || !op.found {
		return nil, err
	}

	if !op.c.keyOnly {
		if raw == nil {
			if raw, err = dataB.Get(op.primaryKey.Bytes()); err != nil {
				return nil, err
			}
			if raw == nil {
				return nil, storeErrf(ErrUnknown, op.sd.Name, op.idx.Name, op.primaryKey, nil, "index row points to a missing record")
			}
		}
		if op.value, err = decodeRecordValue(op.sd, op.primaryKey, raw); err != nil {
			return nil, err
		}
	}
	return op.c, nil
}

func (op *cursorOp) seekStore(oc *opContext, buck storageBucket) ([]byte, error) {
	c := oc.scan(buck, op.raw)
	defer c.Close()
	for n := 0; c.Next(); {
		n++
		if n == op.steps {
			op.found = true
			op.key = keycodec.FromBytes(c.Key())
			op.primaryKey = op.key
			return bytes.Clone(c.Value()), nil
		}
	}
	return nil, c.Err()
}

// seekIndex walks index rows. Unique directions count each index key once;
// PrevUnique keeps walking its final group to land on the lowest primary key.
func (op *cursorOp) seekIndex(oc *opContext, buck storageBucket) error {
	dir := op.c.dir
	c := oc.scan(buck, op.raw)
	defer c.Close()
	var n int
	var lastIK Key
	for c.Next() {
		ik, pk, err := parseIndexRow(c.Key())
		if err != nil {
			return storeErrf(ErrUnknown, op.sd.Name, op.idx.Name, Key{}, err, "")
		}
		if dir.unique() && n > 0 && ik.Equal(lastIK) {
			if op.found {
				op.primaryKey = pk
			}
			continue
		}
		if op.found {
			return nil
		}
		n++
		lastIK = ik
		if n == op.steps {
			op.found = true
			op.key, op.primaryKey = ik, pk
			if dir != PrevUnique {
				return nil
			}
		}
	}
	return c.Err()
}

func (op *cursorOp) finish(res any, err error) {
	c := op.c
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = false
	if err != nil {
		return
	}
	if !op.found {
		c.exhausted = true
		c.key, c.primaryKey, c.value = Key{}, Key{}, nil
		return
	}
	c.key, c.primaryKey, c.value = op.key, op.primaryKey, op.value
}
