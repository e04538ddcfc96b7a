package objstore

import (
	"context"
	"fmt"
)

// operation is a unit of work executed by a transaction's worker. Operations
// carry everything they need (immutable definitions, serialized values), so
// they never touch caller-owned state while running.
type operation interface {
	do(oc *opContext) (any, error)
	String() string
}

type opContext struct {
	ctx    context.Context
	tx     *Tx
	db     *DB
	stx    storageTx
	schema *schemaState
}

func (oc *opContext) dataBucket(sd *storeDef) (storageBucket, error) {
	b := oc.stx.Bucket(sd.bucketName(), dataSub)
	if b == nil {
		return nil, storeErrf(ErrUnknown, sd.Name, "", Key{}, nil, "missing data bucket %s", sd.bucketName())
	}
	return b, nil
}

func (oc *opContext) indexBucket(sd *storeDef, idx *indexDef) (storageBucket, error) {
	b := oc.stx.Bucket(sd.bucketName(), idx.bucketName())
	if b == nil {
		return nil, storeErrf(ErrUnknown, sd.Name, idx.Name, Key{}, nil, "missing index bucket %s", idx.bucketName())
	}
	return b, nil
}

func (oc *opContext) recordFlags() recordFlags {
	flags := oc.db.encoding.recordFlags()
	if oc.db.checksums {
		flags |= rfChecksum
	}
	return flags
}

// getRecord loads and decodes the record stored under key, or returns nil.
func (oc *opContext) getRecord(sd *storeDef, dataB storageBucket, key []byte) (*record, error) {
	raw, err := dataB.Get(key)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	rec := new(record)
	if err := rec.decode(raw); err != nil {
		return nil, storeErrf(ErrUnknown, sd.Name, "", Key{}, err, "")
	}
	return rec, nil
}

func (oc *opContext) scan(buck storageBucket, rang RawRange) *RawRangeCursor {
	return rang.newCursor(oc.ctx, buck, oc.db.logger)
}

type createStoreOp struct {
	sd *storeDef
}

func (op *createStoreOp) String() string {
	return fmt.Sprintf("CREATE STORE %s", op.sd.Name)
}

func (op *createStoreOp) do(oc *opContext) (any, error) {
	name := op.sd.bucketName()
	for _, sub := range []string{dataSub, genSub} {
		if _, err := oc.stx.CreateBucket(name, sub); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

type deleteStoreOp struct {
	sd *storeDef
}

func (op *deleteStoreOp) String() string {
	return fmt.Sprintf("DELETE STORE %s", op.sd.Name)
}

func (op *deleteStoreOp) do(oc *opContext) (any, error) {
	err := oc.stx.DeleteBucket(op.sd.bucketName(), "")
	if err == ErrBucketNotFound {
		return nil, nil
	}
	return nil, err
}
