package objstore

import (
	"bytes"
	"fmt"
)

type putOp struct {
	sd          *storeDef
	key         Key  // unset when the key must be generated
	inject      bool // store the generated key at the key path
	data        []byte
	gv          any
	noOverwrite bool
}

func (op *putOp) String() string {
	verb := "PUT"
	if op.noOverwrite {
		verb = "ADD"
	}
	if op.key.IsUnset() {
		return fmt.Sprintf("%s %s/<generated>", verb, op.sd.Name)
	}
	return fmt.Sprintf("%s %s/%v", verb, op.sd.Name, op.key)
}

func (op *putOp) do(oc *opContext) (any, error) {
	sd := op.sd
	dataB, err := oc.dataBucket(sd)
	if err != nil {
		return nil, err
	}

	flags := oc.recordFlags()
	key, data, gv := op.key, op.data, op.gv
	var provisional bool
	if key.IsUnset() {
		key, err = oc.generateKey(sd)
		if err != nil {
			return nil, err
		}
		flags |= rfGeneratedKey
		if op.inject {
			data, gv, err = op.insertGenerated(oc, dataB, key, flags)
			if err != nil {
				return nil, err
			}
			provisional = true
		}
	} else if sd.AutoIncrement {
		if err := oc.bumpGenerator(sd, key); err != nil {
			return nil, err
		}
	}

	if err := oc.writeRecord(sd, dataB, key, flags, data, gv, op.noOverwrite && !provisional); err != nil {
		return nil, err
	}
	return key, nil
}

// insertGenerated is the first phase of adding a value whose generated key
// must be stored inside it: the value is inserted under the new key, read
// back, and returned with the key injected at the key path, ready to be
// written again by writeRecord.
func (op *putOp) insertGenerated(oc *opContext, dataB storageBucket, key Key, flags recordFlags) ([]byte, any, error) {
	sd := op.sd
	keyRaw := key.Bytes()
	existing, err := dataB.Get(keyRaw)
	if err != nil {
		return nil, nil, err
	}
	if existing != nil {
		return nil, nil, storeErrf(ErrConstraint, sd.Name, "", key, nil, "generated key already exists")
	}
	if err := dataB.Put(keyRaw, encodeRecord(nil, flags, op.data, nil)); err != nil {
		return nil, nil, err
	}

	rec, err := oc.getRecord(sd, dataB, keyRaw)
	if err != nil {
		return nil, nil, err
	}
	if rec == nil || !rec.generatedKey() {
		return nil, nil, storeErrf(ErrUnknown, sd.Name, "", key, nil, "provisional record vanished")
	}
	gv, err := rec.decodeValue()
	if err != nil {
		return nil, nil, storeErrf(ErrUnknown, sd.Name, "", key, err, "")
	}
	if err := sd.keyPath.inject(gv, key); err != nil {
		return nil, nil, storeErrf(ErrData, sd.Name, "", key, err, "")
	}
	data, err := rec.Flags.encoding().marshal(nil, gv)
	if err != nil {
		return nil, nil, storeErrf(ErrData, sd.Name, "", key, err, "cannot serialize value")
	}
	return data, gv, nil
}

// writeRecord stores a record and brings the store's indexes in line with it:
// rows the old value contributed but the new one doesn't are removed, and the
// new rows are written after checking unique constraints.
func (oc *opContext) writeRecord(sd *storeDef, dataB storageBucket, key Key, flags recordFlags, data []byte, gv any, noOverwrite bool) error {
	keyRaw := key.Bytes()
	old, err := oc.getRecord(sd, dataB, keyRaw)
	if err != nil {
		return err
	}
	if old != nil && noOverwrite {
		return storeErrf(ErrConstraint, sd.Name, "", key, nil, "key already exists")
	}

	rows, err := oc.buildIndexRows(sd, key, gv)
	if err != nil {
		return err
	}
	raw := encodeRecord(nil, flags, data, rows)

	if old != nil && old.Flags == flags && bytes.Equal(old.Data, data) && bytes.Equal(old.Index, appendIndexRows(nil, rows)) {
		if oc.db.verbose {
			oc.db.logger.Debug("objstore: PUT.NOOP", "store", sd.Name, "key", key.String())
		}
		return nil
	}

	if old != nil {
		del, delErr := prepareToDeleteIndexRows(oc.stx, sd)
		if err := findRemovedIndexRows(old.Index, rows, del); err != nil {
			return storeErrf(ErrUnknown, sd.Name, "", key, err, "decoding old index rows")
		}
		if *delErr != nil {
			return *delErr
		}
	}

	var idxID uint64
	var idxBuck storageBucket
	for _, row := range rows {
		if row.IndexID != idxID {
			idxID = row.IndexID
			idxBuck, err = oc.indexBucket(sd, sd.indexByID(idxID))
			if err != nil {
				return err
			}
		}
		if err := idxBuck.Put(row.Row, emptyIndexValue); err != nil {
			return err
		}
	}

	return dataB.Put(keyRaw, raw)
}
