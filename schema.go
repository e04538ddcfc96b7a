package objstore

import (
	"cmp"
	"fmt"
	"maps"
	"slices"
	"strconv"

	"github.com/vmihailenco/msgpack/v5"
)

const (
	metaBucket = "meta"
	dataSub    = "data"
	genSub     = "gen"
)

var schemaKey = []byte("schema")

// schemaState describes the object stores and indexes of a database.
//
// Published states are immutable: a versionchange transaction modifies
// clones, and the database swaps in the transaction's state on commit.
//
// Store and index ids are never reused, even after deletion, so that stale
// index rows recorded in record envelopes can never refer to a newer index.
type schemaState struct {
	Version     uint64               `msgpack:"v"`
	LastStoreID uint64               `msgpack:"ls"`
	Stores      map[string]*storeDef `msgpack:"s"`
}

type storeDef struct {
	ID            uint64               `msgpack:"id"`
	Name          string               `msgpack:"n"`
	KeyPathDoc    keyPathDoc           `msgpack:"kp"`
	AutoIncrement bool                 `msgpack:"ai,omitempty"`
	LastIndexID   uint64               `msgpack:"li"`
	Indexes       map[string]*indexDef `msgpack:"i"`

	keyPath     KeyPath
	indexesByID map[uint64]*indexDef
}

type indexDef struct {
	ID         uint64     `msgpack:"id"`
	Name       string     `msgpack:"n"`
	KeyPathDoc keyPathDoc `msgpack:"kp"`
	Unique     bool       `msgpack:"u,omitempty"`
	MultiEntry bool       `msgpack:"m,omitempty"`

	keyPath KeyPath
}

func newSchemaState() *schemaState {
	return &schemaState{Stores: make(map[string]*storeDef)}
}

func (s *schemaState) finalize() *schemaState {
	if s.Stores == nil {
		s.Stores = make(map[string]*storeDef)
	}
	for _, sd := range s.Stores {
		for _, idx := range sd.Indexes {
			idx.keyPath = idx.KeyPathDoc.keyPath()
		}
		sd.finalize()
	}
	return s
}

func (s *schemaState) clone() *schemaState {
	c := *s
	c.Stores = maps.Clone(s.Stores)
	if c.Stores == nil {
		c.Stores = make(map[string]*storeDef)
	}
	return &c
}

func (s *schemaState) store(name string) *storeDef {
	return s.Stores[name]
}

func (s *schemaState) storeNames() []string {
	return slices.Sorted(maps.Keys(s.Stores))
}

func (s *schemaState) withStore(sd *storeDef) *schemaState {
	c := s.clone()
	c.Stores[sd.Name] = sd
	return c
}

func (s *schemaState) withoutStore(name string) *schemaState {
	c := s.clone()
	delete(c.Stores, name)
	return c
}

func (sd *storeDef) finalize() *storeDef {
	sd.keyPath = sd.KeyPathDoc.keyPath()
	if sd.Indexes == nil {
		sd.Indexes = make(map[string]*indexDef)
	}
	sd.indexesByID = make(map[uint64]*indexDef, len(sd.Indexes))
	for _, idx := range sd.Indexes {
		sd.indexesByID[idx.ID] = idx
	}
	return sd
}

func (sd *storeDef) clone() *storeDef {
	c := *sd
	c.Indexes = maps.Clone(sd.Indexes)
	return c.finalize()
}

func (sd *storeDef) bucketName() string {
	return "store:" + strconv.FormatUint(sd.ID, 10)
}

func (sd *storeDef) index(name string) *indexDef {
	return sd.Indexes[name]
}

func (sd *storeDef) indexByID(id uint64) *indexDef {
	return sd.indexesByID[id]
}

func (sd *storeDef) indexNames() []string {
	names := slices.AppendSeq(make([]string, 0, len(sd.Indexes)), maps.Keys(sd.Indexes))
	slices.Sort(names)
	return names
}

// indexList returns the indexes ordered by id.
func (sd *storeDef) indexList() []*indexDef {
	list := slices.Collect(maps.Values(sd.Indexes))
	slices.SortFunc(list, func(a, b *indexDef) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return list
}

func (sd *storeDef) withIndex(idx *indexDef) *storeDef {
	c := sd.clone()
	if idx.ID > c.LastIndexID {
		c.LastIndexID = idx.ID
	}
	c.Indexes[idx.Name] = idx
	return c.finalize()
}

func (sd *storeDef) withoutIndex(name string) *storeDef {
	c := sd.clone()
	delete(c.Indexes, name)
	return c.finalize()
}

func (idx *indexDef) bucketName() string {
	return "index:" + strconv.FormatUint(idx.ID, 10)
}

func loadSchema(stx storageTx) (*schemaState, error) {
	buck := stx.Bucket(metaBucket, "")
	if buck == nil {
		return newSchemaState(), nil
	}
	raw, err := buck.Get(schemaKey)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return newSchemaState(), nil
	}
	s := new(schemaState)
	if err := msgpack.Unmarshal(raw, s); err != nil {
		return nil, corruptf(raw, 0, err, "failed to decode schema")
	}
	return s.finalize(), nil
}

func saveSchema(stx storageTx, s *schemaState) error {
	raw, err := msgpack.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode schema: %w", err)
	}
	buck, err := stx.CreateBucket(metaBucket, "")
	if err != nil {
		return err
	}
	return buck.Put(schemaKey, raw)
}
