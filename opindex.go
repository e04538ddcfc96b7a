package objstore

import (
	"bytes"
	"fmt"

	"github.com/andreyvit/objstore/keycodec"
)

// createIndexOp creates the bucket of a new index and fills it from the
// records already in the store. Each record's envelope is rewritten to list
// the new rows, so that later updates and deletes find them.
type createIndexOp struct {
	sd  *storeDef
	idx *indexDef
	tx  *Tx
}

func (op *createIndexOp) String() string {
	return fmt.Sprintf("CREATE INDEX %s.%s", op.sd.Name, op.idx.Name)
}

type backfillItem struct {
	key Key
	rec *record
}

func (op *createIndexOp) do(oc *opContext) (any, error) {
	sd, idx := op.sd, op.idx
	idxB, err := oc.stx.CreateBucket(sd.bucketName(), idx.bucketName())
	if err != nil {
		return nil, err
	}
	dataB, err := oc.dataBucket(sd)
	if err != nil {
		return nil, err
	}

	var items []backfillItem
	c := oc.scan(dataB, RawOO())
	for c.Next() {
		rec := new(record)
		if err := rec.decode(bytes.Clone(c.Value())); err != nil {
			c.Close()
			return nil, storeErrf(ErrUnknown, sd.Name, idx.Name, keycodec.FromBytes(c.Key()), err, "")
		}
		items = append(items, backfillItem{keycodec.FromBytes(c.Key()), rec})
	}
	c.Close()
	if err := c.Err(); err != nil {
		return nil, err
	}

	var added int
	for _, item := range items {
		gv, err := item.rec.decodeValue()
		if err != nil {
			return nil, storeErrf(ErrUnknown, sd.Name, idx.Name, item.key, err, "cannot decode value")
		}
		keys := idx.extractKeys(gv)
		if len(keys) == 0 {
			continue
		}

		var rows indexRows
		err = decodeIndexRows(item.rec.Index, func(id uint64, row []byte) {
			// drop rows of deleted indexes while we're rewriting the envelope anyway
			if sd.indexByID(id) != nil {
				rows = append(rows, indexRow{id, row})
			}
		})
		if err != nil {
			return nil, storeErrf(ErrUnknown, sd.Name, idx.Name, item.key, err, "decoding index rows")
		}

		for _, ik := range keys {
			if idx.Unique {
				if err := oc.checkUnique(sd, idx, idxB, ik, item.key); err != nil {
					return nil, err
				}
			}
			row := makeIndexRow(ik, item.key)
			if err := idxB.Put(row, emptyIndexValue); err != nil {
				return nil, err
			}
			rows = append(rows, indexRow{idx.ID, row})
			added++
		}
		rows.sort()
		if err := dataB.Put(item.key.Bytes(), encodeRecord(nil, item.rec.Flags, item.rec.Data, rows)); err != nil {
			return nil, err
		}
	}

	if oc.db.verbose {
		oc.db.logger.Debug("objstore: index backfilled", "store", sd.Name, "index", idx.Name, "records", len(items), "rows", added)
	}
	return nil, nil
}

// finish drops the definition of an index that could not be built from the
// transaction's schema.
func (op *createIndexOp) finish(res any, err error) {
	if err == nil {
		return
	}
	tx := op.tx
	tx.mu.Lock()
	defer tx.mu.Unlock()
	sd := tx.schema.store(op.sd.Name)
	if sd == nil {
		return
	}
	if cur := sd.index(op.idx.Name); cur != nil && cur.ID == op.idx.ID {
		tx.schema = tx.schema.withStore(sd.withoutIndex(op.idx.Name))
	}
}

// deleteIndexOp removes an index bucket. Rows of the index that are still
// listed in record envelopes are ignored from now on, index ids are never
// reused.
type deleteIndexOp struct {
	sd  *storeDef
	idx *indexDef
}

func (op *deleteIndexOp) String() string {
	return fmt.Sprintf("DELETE INDEX %s.%s", op.sd.Name, op.idx.Name)
}

func (op *deleteIndexOp) do(oc *opContext) (any, error) {
	err := oc.stx.DeleteBucket(op.sd.bucketName(), op.idx.bucketName())
	if err == ErrBucketNotFound {
		return nil, nil
	}
	return nil, err
}
