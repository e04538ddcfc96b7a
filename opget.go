package objstore

import (
	"fmt"

	"github.com/andreyvit/objstore/keycodec"
)

type readMode int

const (
	readValues readMode = iota
	readKeys
	readCount
)

// getOp reads records of a store, or of a store through one of its indexes.
//
// Results: a value or nil (single readValues), a Key or nil (single
// readKeys), []any, []Key, or an int count.
type getOp struct {
	sd     *storeDef
	idx    *indexDef // nil for reads from the store itself
	rang   KeyRange
	limit  int // 0 means no limit
	mode   readMode
	single bool
}

func (op *getOp) String() string {
	var verb string
	switch {
	case op.mode == readCount:
		verb = "COUNT"
	case op.single && op.mode == readKeys:
		verb = "GETKEY"
	case op.single:
		verb = "GET"
	case op.mode == readKeys:
		verb = "GETALLKEYS"
	default:
		verb = "GETALL"
	}
	target := op.sd.Name
	if op.idx != nil {
		target += "." + op.idx.Name
	}
	if op.limit > 0 && !op.single {
		return fmt.Sprintf("%s %s %v limit %d", verb, target, op.rang, op.limit)
	}
	return fmt.Sprintf("%s %s %v", verb, target, op.rang)
}

func (op *getOp) do(oc *opContext) (any, error) {
	dataB, err := oc.dataBucket(op.sd)
	if err != nil {
		return nil, err
	}

	var keys []Key
	var values []any
	var count int
	add := func(pk Key, raw []byte) error {
		count++
		switch op.mode {
		case readKeys:
			keys = append(keys, pk)
		case readValues:
			v, err := op.decode(oc, dataB, pk, raw)
			if err != nil {
				return err
			}
			values = append(values, v)
		}
		return nil
	}
	full := func() bool {
		return op.limit > 0 && count >= op.limit
	}

	if op.idx == nil && op.rang.isOnly() {
		raw, err := dataB.Get(op.rang.Lower.Bytes())
		if err != nil {
			return nil, err
		}
		if raw != nil {
			if err := add(op.rang.Lower, raw); err != nil {
				return nil, err
			}
		}
	} else if op.idx == nil {
		c := oc.scan(dataB, op.rang.dataRange())
		defer c.Close()
		for !full() && c.Next() {
			if err := add(keycodec.FromBytes(c.Key()), c.Value()); err != nil {
				return nil, err
			}
		}
		if err := c.Err(); err != nil {
			return nil, err
		}
	} else {
		idxB, err := oc.indexBucket(op.sd, op.idx)
		if err != nil {
			return nil, err
		}
		c := oc.scan(idxB, op.rang.indexRange())
		defer c.Close()
		for !full() && c.Next() {
			_, pk, err := parseIndexRow(c.Key())
			if err != nil {
				return nil, storeErrf(ErrUnknown, op.sd.Name, op.idx.Name, Key{}, err, "")
			}
			if err := add(pk, nil); err != nil {
				return nil, err
			}
		}
		if err := c.Err(); err != nil {
			return nil, err
		}
	}

	if oc.db.verbose {
		oc.db.logger.Debug("objstore: "+op.String()+" => found", "count", count)
	}

	switch {
	case op.mode == readCount:
		return count, nil
	case op.single && op.mode == readKeys:
		if len(keys) == 0 {
			return nil, nil
		}
		return keys[0], nil
	case op.single:
		if len(values) == 0 {
			return nil, nil
		}
		return values[0], nil
	case op.mode == readKeys:
		if keys == nil {
			keys = []Key{}
		}
		return keys, nil
	default:
		if values == nil {
			values = []any{}
		}
		return values, nil
	}
}

// decode returns the value of the record with the given primary key. raw is
// the stored record if the caller already has it.
func (op *getOp) decode(oc *opContext, dataB storageBucket, pk Key, raw []byte) (any, error) {
	if raw == nil {
		var err error
		raw, err = dataB.Get(pk.Bytes())
		if err != nil {
			return nil, err
		}
		if raw == nil {
			idxName := ""
			if op.idx != nil {
				idxName = op.idx.Name
			}
			return nil, storeErrf(ErrUnknown, op.sd.Name, idxName, pk, nil, "index row points to a missing record")
		}
	}
	return decodeRecordValue(op.sd, pk, raw)
}

func decodeRecordValue(sd *storeDef, pk Key, raw []byte) (any, error) {
	var rec record
	if err := rec.decode(raw); err != nil {
		return nil, storeErrf(ErrUnknown, sd.Name, "", pk, err, "")
	}
	v, err := rec.decodeValue()
	if err != nil {
		return nil, storeErrf(ErrUnknown, sd.Name, "", pk, err, "cannot decode value")
	}
	return v, nil
}
