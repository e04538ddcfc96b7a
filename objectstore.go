package objstore

import (
	"fmt"

	"github.com/andreyvit/objstore/keycodec"
)

// StoreOptions configure a new object store.
type StoreOptions struct {
	// KeyPath makes the store take keys from values. Without it, keys are
	// passed explicitly or generated.
	KeyPath KeyPath

	// AutoIncrement generates keys 1, 2, 3... for values added without one.
	AutoIncrement bool
}

// ObjectStore is a handle of an object store within a transaction.
//
// Request-issuing methods return a synchronous error for misuse that can be
// detected upfront: an inactive transaction, a write on a readonly
// transaction, an invalid key. Such calls never reach the worker and don't
// abort the transaction.
type ObjectStore struct {
	tx   *Tx
	name string
}

func (s *ObjectStore) Name() string {
	return s.name
}

func (s *ObjectStore) Transaction() *Tx {
	return s.tx
}

func (s *ObjectStore) def() (*storeDef, error) {
	sd := s.tx.currentSchema().store(s.name)
	if sd == nil {
		return nil, storeErrf(ErrNotAllowed, s.name, "", Key{}, nil, "object store has been deleted")
	}
	return sd, nil
}

func (s *ObjectStore) KeyPath() KeyPath {
	sd, err := s.def()
	if err != nil {
		return KeyPath{}
	}
	return sd.keyPath
}

func (s *ObjectStore) AutoIncrement() bool {
	sd, err := s.def()
	return err == nil && sd.AutoIncrement
}

// IndexNames returns the names of the store's indexes, sorted.
func (s *ObjectStore) IndexNames() []string {
	sd, err := s.def()
	if err != nil {
		return nil
	}
	return sd.indexNames()
}

// Index returns a handle of the named index.
func (s *ObjectStore) Index(name string) (*Index, error) {
	sd, err := s.def()
	if err != nil {
		return nil, err
	}
	if sd.index(name) == nil {
		return nil, storeErrf(ErrNotFound, s.name, name, Key{}, nil, "no such index")
	}
	return &Index{store: s, name: name}, nil
}

// Add inserts a value. The request fails with a ConstraintError if a record
// with the same key exists. The result is the record's Key.
func (s *ObjectStore) Add(value any, key ...any) (*Request, error) {
	return s.put(value, key, true)
}

// Put inserts or replaces a value. A key can only be passed to stores
// without a key path. The result is the record's Key.
func (s *ObjectStore) Put(value any, key ...any) (*Request, error) {
	return s.put(value, key, false)
}

func (s *ObjectStore) put(value any, key []any, noOverwrite bool) (*Request, error) {
	if err := s.tx.checkWritable(s.name); err != nil {
		return nil, err
	}
	sd, err := s.def()
	if err != nil {
		return nil, err
	}
	if len(key) > 1 {
		return nil, dataErr(s.name, nil, "at most one key can be passed")
	}
	var explicit any
	if len(key) == 1 {
		if !sd.keyPath.IsZero() {
			return nil, dataErr(s.name, nil, "store has key path %s, so its keys come from values and cannot be passed", sd.keyPath)
		}
		explicit = key[0]
	}
	op, err := s.tx.preparePut(sd, value, explicit, len(key) == 1, noOverwrite)
	if err != nil {
		return nil, err
	}
	return s.tx.dispatch(op)
}

// preparePut serializes the value and resolves its key: an explicit key,
// then the key at the store's key path, then (for autoincrement stores) a
// key generated by the worker. Only cursors pass an explicit key to a store
// with a key path; the value's key must then match it, and is injected when
// absent.
func (tx *Tx) preparePut(sd *storeDef, value any, explicit any, hasExplicit bool, noOverwrite bool) (*putOp, error) {
	enc := tx.db.encoding
	data, gv, err := enc.prepareValue(value)
	if err != nil {
		return nil, dataErr(sd.Name, err, "cannot serialize value")
	}
	op := &putOp{sd: sd, data: data, gv: gv, noOverwrite: noOverwrite}
	kp := sd.keyPath

	if hasExplicit {
		key, err := parseKey(sd.Name, explicit)
		if err != nil {
			return nil, err
		}
		op.key = key
		if !kp.IsZero() {
			if v, ok := kp.evaluateRaw(gv); ok {
				embedded, err := keycodec.Encode(v)
				if err != nil {
					return nil, storeErrf(ErrData, sd.Name, "", key, err, "invalid key at %s", kp)
				}
				if !embedded.Equal(key) {
					return nil, storeErrf(ErrData, sd.Name, "", key, nil, "key at %s is %v, which differs from the explicit key", kp, embedded)
				}
			} else {
				if err := kp.inject(gv, key); err != nil {
					return nil, storeErrf(ErrData, sd.Name, "", key, err, "")
				}
				if op.data, err = enc.marshal(nil, gv); err != nil {
					return nil, storeErrf(ErrData, sd.Name, "", key, err, "cannot serialize value")
				}
			}
		}
		return op, nil
	}

	if !kp.IsZero() {
		key, err := kp.extractKey(gv)
		if err == nil {
			op.key = key
			return op, nil
		} else if err != errKeyPathMissing {
			return nil, dataErr(sd.Name, err, "invalid key at %s", kp)
		}
		if !sd.AutoIncrement {
			return nil, dataErr(sd.Name, nil, "value has no key at %s", kp)
		}
		if !kp.canInject(gv) {
			return nil, dataErr(sd.Name, nil, "cannot store a generated key at %s", kp)
		}
		op.inject = true
		return op, nil
	}

	if !sd.AutoIncrement {
		return nil, dataErr(sd.Name, nil, "a key is required")
	}
	return op, nil
}

// Get looks up the first record matching a key or a KeyRange. The result is
// the decoded value, or nil if there is no such record.
func (s *ObjectStore) Get(query any) (*Request, error) {
	return s.read(query, func(sd *storeDef, kr KeyRange) operation {
		return &getOp{sd: sd, rang: kr, limit: 1, mode: readValues, single: true}
	})
}

// GetKey returns the key of the first record matching the query as a Key, or
// nil if there is none.
func (s *ObjectStore) GetKey(query any) (*Request, error) {
	return s.read(query, func(sd *storeDef, kr KeyRange) operation {
		return &getOp{sd: sd, rang: kr, limit: 1, mode: readKeys, single: true}
	})
}

// GetAll returns the values of up to limit matching records as []any, in key
// order. Zero limit means no limit.
func (s *ObjectStore) GetAll(query any, limit int) (*Request, error) {
	return s.read(query, func(sd *storeDef, kr KeyRange) operation {
		return &getOp{sd: sd, rang: kr, limit: limit, mode: readValues}
	})
}

// GetAllKeys returns the keys of up to limit matching records as []Key.
func (s *ObjectStore) GetAllKeys(query any, limit int) (*Request, error) {
	return s.read(query, func(sd *storeDef, kr KeyRange) operation {
		return &getOp{sd: sd, rang: kr, limit: limit, mode: readKeys}
	})
}

// Count returns the number of matching records as an int.
func (s *ObjectStore) Count(query any) (*Request, error) {
	return s.read(query, func(sd *storeDef, kr KeyRange) operation {
		return &getOp{sd: sd, rang: kr, mode: readCount}
	})
}

func (s *ObjectStore) read(query any, f func(sd *storeDef, kr KeyRange) operation) (*Request, error) {
	if err := s.tx.checkActive(); err != nil {
		return nil, err
	}
	sd, err := s.def()
	if err != nil {
		return nil, err
	}
	kr, err := parseQuery(s.name, query)
	if err != nil {
		return nil, err
	}
	return s.tx.dispatch(f(sd, kr))
}

// Delete removes the records matching a key or a KeyRange, along with their
// index rows.
func (s *ObjectStore) Delete(query any) (*Request, error) {
	if err := s.tx.checkWritable(s.name); err != nil {
		return nil, err
	}
	sd, err := s.def()
	if err != nil {
		return nil, err
	}
	if query == nil {
		return nil, dataErr(s.name, nil, "a key or a range is required")
	}
	kr, err := parseQuery(s.name, query)
	if err != nil {
		return nil, err
	}
	return s.tx.dispatch(&deleteOp{sd: sd, rang: kr})
}

// Clear removes every record and index row. The key generator is kept.
func (s *ObjectStore) Clear() (*Request, error) {
	if err := s.tx.checkWritable(s.name); err != nil {
		return nil, err
	}
	sd, err := s.def()
	if err != nil {
		return nil, err
	}
	return s.tx.dispatch(&clearOp{sd: sd})
}

// OpenCursor opens a cursor over the records matching the query. The result
// is a *Cursor positioned on the first record, or nil if none match.
func (s *ObjectStore) OpenCursor(query any, dir Direction) (*Request, error) {
	return s.openCursor(query, dir, false)
}

// OpenKeyCursor is like OpenCursor, but the cursor does not load values.
func (s *ObjectStore) OpenKeyCursor(query any, dir Direction) (*Request, error) {
	return s.openCursor(query, dir, true)
}

func (s *ObjectStore) openCursor(query any, dir Direction, keyOnly bool) (*Request, error) {
	if err := s.tx.checkActive(); err != nil {
		return nil, err
	}
	if err := dir.validate(); err != nil {
		return nil, err
	}
	sd, err := s.def()
	if err != nil {
		return nil, err
	}
	kr, err := parseQuery(s.name, query)
	if err != nil {
		return nil, err
	}
	c := newCursor(s.tx, sd, nil, kr, dir, keyOnly)
	return c.dispatch(c.openOp())
}

// CreateIndex adds an index in a versionchange transaction and fills it from
// the existing records. The request fails with a ConstraintError, aborting the
// transaction, if the existing records violate the unique constraint.
func (s *ObjectStore) CreateIndex(name string, keyPath KeyPath, opt IndexOptions) (*Index, error) {
	if s.tx.mode != VersionChange {
		return nil, storeErrf(ErrNotAllowed, s.name, name, Key{}, nil, "indexes can only be created in versionchange transactions")
	}
	if err := s.tx.checkActive(); err != nil {
		return nil, err
	}
	if keyPath.IsZero() {
		return nil, storeErrf(ErrData, s.name, name, Key{}, nil, "index key path is required")
	}
	if opt.MultiEntry && keyPath.IsArray() {
		return nil, storeErrf(ErrNotAllowed, s.name, name, Key{}, nil, "multi-entry index cannot use an array key path")
	}

	tx := s.tx
	tx.mu.Lock()
	sd := tx.schema.store(s.name)
	if sd == nil {
		tx.mu.Unlock()
		return nil, storeErrf(ErrNotAllowed, s.name, "", Key{}, nil, "object store has been deleted")
	}
	if sd.index(name) != nil {
		tx.mu.Unlock()
		return nil, storeErrf(ErrConstraint, s.name, name, Key{}, nil, "index already exists")
	}
	idx := &indexDef{
		ID:         sd.LastIndexID + 1,
		Name:       name,
		KeyPathDoc: keyPath.doc(),
		Unique:     opt.Unique,
		MultiEntry: opt.MultiEntry,
		keyPath:    keyPath,
	}
	sd = sd.withIndex(idx)
	tx.schema = tx.schema.withStore(sd)
	tx.mu.Unlock()

	if _, err := tx.dispatch(&createIndexOp{sd: sd, idx: idx, tx: tx}); err != nil {
		return nil, err
	}
	return &Index{store: s, name: name}, nil
}

// DeleteIndex removes an index in a versionchange transaction.
func (s *ObjectStore) DeleteIndex(name string) error {
	if s.tx.mode != VersionChange {
		return storeErrf(ErrNotAllowed, s.name, name, Key{}, nil, "indexes can only be deleted in versionchange transactions")
	}
	if err := s.tx.checkActive(); err != nil {
		return err
	}
	tx := s.tx
	tx.mu.Lock()
	sd := tx.schema.store(s.name)
	if sd == nil {
		tx.mu.Unlock()
		return storeErrf(ErrNotAllowed, s.name, "", Key{}, nil, "object store has been deleted")
	}
	idx := sd.index(name)
	if idx == nil {
		tx.mu.Unlock()
		return storeErrf(ErrNotFound, s.name, name, Key{}, nil, "no such index")
	}
	tx.schema = tx.schema.withStore(sd.withoutIndex(name))
	tx.mu.Unlock()

	_, err := tx.dispatch(&deleteIndexOp{sd: sd, idx: idx})
	return err
}

func (s *ObjectStore) String() string {
	return fmt.Sprintf("%s in %v", s.name, s.tx)
}
