package objstore

import (
	"encoding/binary"
	"math"

	"github.com/andreyvit/objstore/keycodec"
)

// The key generator of an autoincrement store keeps the last generated (or
// the largest explicitly used) key in the store's gen bucket. It lives in
// storage, so it rolls back together with the transaction that used it.
var genCurrentKey = []byte("current")

const maxGeneratedKey = 1 << 53

func (oc *opContext) readGenerator(sd *storeDef) (storageBucket, uint64, error) {
	b := oc.stx.Bucket(sd.bucketName(), genSub)
	if b == nil {
		return nil, 0, storeErrf(ErrUnknown, sd.Name, "", Key{}, nil, "missing key generator bucket")
	}
	raw, err := b.Get(genCurrentKey)
	if err != nil {
		return nil, 0, err
	}
	if raw == nil {
		return b, 0, nil
	}
	if len(raw) != 8 {
		return nil, 0, storeErrf(ErrUnknown, sd.Name, "", Key{}, corruptf(raw, 0, nil, "invalid key generator state"), "")
	}
	return b, binary.BigEndian.Uint64(raw), nil
}

func writeGenerator(b storageBucket, cur uint64) error {
	return b.Put(genCurrentKey, binary.BigEndian.AppendUint64(nil, cur))
}

func (oc *opContext) generateKey(sd *storeDef) (Key, error) {
	b, cur, err := oc.readGenerator(sd)
	if err != nil {
		return Key{}, err
	}
	if cur >= maxGeneratedKey {
		return Key{}, storeErrf(ErrConstraint, sd.Name, "", Key{}, nil, "key generator is exhausted")
	}
	cur++
	if err := writeGenerator(b, cur); err != nil {
		return Key{}, err
	}
	return keycodec.MustEncode(float64(cur)), nil
}

// bumpGenerator makes sure that keys generated later are greater than an
// explicitly used numeric key.
func (oc *opContext) bumpGenerator(sd *storeDef, key Key) error {
	v, ok := key.Value().(float64)
	if !ok || v < 1 {
		return nil
	}
	b, cur, err := oc.readGenerator(sd)
	if err != nil {
		return err
	}
	next := uint64(math.Floor(math.Min(v, maxGeneratedKey)))
	if next <= cur {
		return nil
	}
	return writeGenerator(b, next)
}
