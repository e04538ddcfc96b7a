package objstore

import (
	"bytes"
	"fmt"

	"github.com/andreyvit/objstore/keycodec"
)

// IndexOptions configure a new index.
type IndexOptions struct {
	// Unique rejects records whose index key is already used by another record.
	Unique bool

	// MultiEntry indexes every element of an array value separately.
	MultiEntry bool
}

// Index is a handle of an index within a transaction.
type Index struct {
	store *ObjectStore
	name  string
}

func (idx *Index) Name() string {
	return idx.name
}

func (idx *Index) ObjectStore() *ObjectStore {
	return idx.store
}

func (idx *Index) def() (*storeDef, *indexDef, error) {
	sd, err := idx.store.def()
	if err != nil {
		return nil, nil, err
	}
	id := sd.index(idx.name)
	if id == nil {
		return nil, nil, storeErrf(ErrNotAllowed, sd.Name, idx.name, Key{}, nil, "index has been deleted")
	}
	return sd, id, nil
}

func (idx *Index) KeyPath() KeyPath {
	_, id, err := idx.def()
	if err != nil {
		return KeyPath{}
	}
	return id.keyPath
}

func (idx *Index) Unique() bool {
	_, id, err := idx.def()
	return err == nil && id.Unique
}

func (idx *Index) MultiEntry() bool {
	_, id, err := idx.def()
	return err == nil && id.MultiEntry
}

// Get returns the value of the first record whose index key matches the
// query, or nil.
func (idx *Index) Get(query any) (*Request, error) {
	return idx.read(query, func(sd *storeDef, id *indexDef, kr KeyRange) operation {
		return &getOp{sd: sd, idx: id, rang: kr, limit: 1, mode: readValues, single: true}
	})
}

// GetKey returns the primary key of the first matching record, or nil.
func (idx *Index) GetKey(query any) (*Request, error) {
	return idx.read(query, func(sd *storeDef, id *indexDef, kr KeyRange) operation {
		return &getOp{sd: sd, idx: id, rang: kr, limit: 1, mode: readKeys, single: true}
	})
}

// GetAll returns the values of matching records in index order.
func (idx *Index) GetAll(query any, limit int) (*Request, error) {
	return idx.read(query, func(sd *storeDef, id *indexDef, kr KeyRange) operation {
		return &getOp{sd: sd, idx: id, rang: kr, limit: limit, mode: readValues}
	})
}

// GetAllKeys returns the primary keys of matching records in index order.
func (idx *Index) GetAllKeys(query any, limit int) (*Request, error) {
	return idx.read(query, func(sd *storeDef, id *indexDef, kr KeyRange) operation {
		return &getOp{sd: sd, idx: id, rang: kr, limit: limit, mode: readKeys}
	})
}

// Count returns the number of index rows matching the query.
func (idx *Index) Count(query any) (*Request, error) {
	return idx.read(query, func(sd *storeDef, id *indexDef, kr KeyRange) operation {
		return &getOp{sd: sd, idx: id, rang: kr, mode: readCount}
	})
}

func (idx *Index) read(query any, f func(sd *storeDef, id *indexDef, kr KeyRange) operation) (*Request, error) {
	tx := idx.store.tx
	if err := tx.checkActive(); err != nil {
		return nil, err
	}
	sd, id, err := idx.def()
	if err != nil {
		return nil, err
	}
	kr, err := parseQuery(sd.Name, query)
	if err != nil {
		return nil, err
	}
	return tx.dispatch(f(sd, id, kr))
}

// OpenCursor opens a cursor over the index rows matching the query.
func (idx *Index) OpenCursor(query any, dir Direction) (*Request, error) {
	return idx.openCursor(query, dir, false)
}

// OpenKeyCursor is like OpenCursor, but the cursor does not load values.
func (idx *Index) OpenKeyCursor(query any, dir Direction) (*Request, error) {
	return idx.openCursor(query, dir, true)
}

func (idx *Index) openCursor(query any, dir Direction, keyOnly bool) (*Request, error) {
	tx := idx.store.tx
	if err := tx.checkActive(); err != nil {
		return nil, err
	}
	if err := dir.validate(); err != nil {
		return nil, err
	}
	sd, id, err := idx.def()
	if err != nil {
		return nil, err
	}
	kr, err := parseQuery(sd.Name, query)
	if err != nil {
		return nil, err
	}
	c := newCursor(tx, sd, id, kr, dir, keyOnly)
	return c.dispatch(c.openOp())
}

func (idx *Index) String() string {
	return fmt.Sprintf("%s.%s", idx.store.name, idx.name)
}

// extractKeys returns the index keys of a value. Values that have nothing
// at the key path, or something that isn't a valid key, are not indexed.
func (idx *indexDef) extractKeys(gv any) []Key {
	v, ok := idx.keyPath.evaluateRaw(gv)
	if !ok {
		return nil
	}
	if idx.MultiEntry {
		if arr, ok := v.([]any); ok {
			keys := make([]Key, 0, len(arr))
		outer:
			for _, el := range arr {
				k, err := keycodec.Encode(el)
				if err != nil {
					continue
				}
				for _, prev := range keys {
					if prev.Equal(k) {
						continue outer
					}
				}
				keys = append(keys, k)
			}
			return keys
		}
	}
	k, err := keycodec.Encode(v)
	if err != nil {
		return nil
	}
	return []Key{k}
}

// buildIndexRows computes the index rows of a record, checking unique
// constraints against rows of other records.
func (oc *opContext) buildIndexRows(sd *storeDef, key Key, gv any) (indexRows, error) {
	var rows indexRows
	for _, idx := range sd.indexList() {
		keys := idx.extractKeys(gv)
		if len(keys) == 0 {
			continue
		}
		var buck storageBucket
		if idx.Unique {
			var err error
			buck, err = oc.indexBucket(sd, idx)
			if err != nil {
				return nil, err
			}
		}
		for _, ik := range keys {
			if idx.Unique {
				if err := oc.checkUnique(sd, idx, buck, ik, key); err != nil {
					return nil, err
				}
			}
			rows = append(rows, indexRow{idx.ID, makeIndexRow(ik, key)})
		}
	}
	rows.sort()
	return rows, nil
}

func (oc *opContext) checkUnique(sd *storeDef, idx *indexDef, buck storageBucket, ik, pk Key) error {
	c := oc.scan(buck, RawPrefix(indexKeyBound(ik, rowSepByte)))
	defer c.Close()
	pkRaw := pk.Bytes()
	for c.Next() {
		_, other, err := parseIndexRow(c.Key())
		if err != nil {
			return storeErrf(ErrUnknown, sd.Name, idx.Name, ik, err, "")
		}
		if !bytes.Equal(other.Bytes(), pkRaw) {
			return storeErrf(ErrConstraint, sd.Name, idx.Name, ik, nil, "unique index already has this key for %v", other)
		}
	}
	return c.Err()
}
