package objstore

import (
	"bytes"
	"fmt"

	"github.com/andreyvit/objstore/keycodec"
)

// deleteOp removes the records in a range together with the index rows
// listed in their envelopes. The result is the number of removed records.
type deleteOp struct {
	sd   *storeDef
	rang KeyRange
}

func (op *deleteOp) String() string {
	return fmt.Sprintf("DELETE %s %v", op.sd.Name, op.rang)
}

type deletedRecord struct {
	key   []byte
	index []byte
}

func (op *deleteOp) do(oc *opContext) (any, error) {
	sd := op.sd
	dataB, err := oc.dataBucket(sd)
	if err != nil {
		return nil, err
	}

	// Collect first: some backends don't allow modifying a bucket under an
	// open cursor.
	var victims []deletedRecord
	collect := func(k, raw []byte) error {
		var rec record
		if err := rec.decode(raw); err != nil {
			return storeErrf(ErrUnknown, sd.Name, "", keycodec.FromBytes(k), err, "")
		}
		victims = append(victims, deletedRecord{bytes.Clone(k), bytes.Clone(rec.Index)})
		return nil
	}
	if op.rang.isOnly() {
		k := op.rang.Lower.Bytes()
		raw, err := dataB.Get(k)
		if err != nil {
			return nil, err
		}
		if raw != nil {
			if err := collect(k, raw); err != nil {
				return nil, err
			}
		}
	} else {
		c := oc.scan(dataB, op.rang.dataRange())
		for c.Next() {
			if err := collect(c.Key(), c.Value()); err != nil {
				c.Close()
				return nil, err
			}
		}
		c.Close()
		if err := c.Err(); err != nil {
			return nil, err
		}
	}

	del, delErr := prepareToDeleteIndexRows(oc.stx, sd)
	for _, v := range victims {
		if err := decodeIndexRows(v.index, del); err != nil {
			return nil, storeErrf(ErrUnknown, sd.Name, "", keycodec.FromBytes(v.key), err, "decoding index rows")
		}
		if *delErr != nil {
			return nil, *delErr
		}
		if err := dataB.Delete(v.key); err != nil {
			return nil, err
		}
	}

	if oc.db.verbose && len(victims) == 0 {
		oc.db.logger.Debug("objstore: DELETE.NOOP", "store", sd.Name, "range", op.rang.String())
	}
	return len(victims), nil
}

// clearOp empties a store and its indexes by recreating their buckets. The
// key generator is kept.
type clearOp struct {
	sd *storeDef
}

func (op *clearOp) String() string {
	return fmt.Sprintf("CLEAR %s", op.sd.Name)
}

func (op *clearOp) do(oc *opContext) (any, error) {
	name := op.sd.bucketName()
	subs := []string{dataSub}
	for _, idx := range op.sd.indexList() {
		subs = append(subs, idx.bucketName())
	}
	for _, sub := range subs {
		if err := oc.stx.DeleteBucket(name, sub); err != nil && err != ErrBucketNotFound {
			return nil, err
		}
		if _, err := oc.stx.CreateBucket(name, sub); err != nil {
			return nil, err
		}
	}
	return nil, nil
}
