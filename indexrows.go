package objstore

import (
	"bytes"

	"github.com/andreyvit/objstore/keycodec"
)

// Index rows are stored in the index bucket under
//
//	escape(index key) 0x00 0x01 primary key
//
// with an empty value. escape replaces every 0x00 with 0x00 0xFF, so the
// 0x00 0x01 separator sorts before any continuation of the index key, and
// rows order by index key first, then by primary key.
const (
	rowEscByte  = 0xFF
	rowSepByte  = 0x01
	rowPastByte = 0x02
)

var emptyIndexValue = []byte{}

func appendEscapedKey(buf []byte, key []byte) []byte {
	for _, b := range key {
		if b == 0 {
			buf = append(buf, 0, rowEscByte)
		} else {
			buf = append(buf, b)
		}
	}
	return buf
}

func escapedKeyLen(key []byte) int {
	return len(key) + bytes.Count(key, []byte{0})
}

func makeIndexRow(indexKey, primaryKey Key) []byte {
	ik, pk := indexKey.Bytes(), primaryKey.Bytes()
	buf := make([]byte, 0, escapedKeyLen(ik)+2+len(pk))
	buf = appendEscapedKey(buf, ik)
	buf = append(buf, 0, rowSepByte)
	return append(buf, pk...)
}

// indexKeyBound returns escape(key) 0x00 b. With b = rowSepByte it is the
// smallest row for the key, with b = rowPastByte it sorts after every row
// of the key and before the rows of any greater key.
func indexKeyBound(key Key, b byte) []byte {
	k := key.Bytes()
	buf := make([]byte, 0, escapedKeyLen(k)+2)
	buf = appendEscapedKey(buf, k)
	return append(buf, 0, b)
}

// parseIndexRow splits a row key into the index key and the primary key.
func parseIndexRow(row []byte) (indexKey, primaryKey Key, err error) {
	ik := make([]byte, 0, len(row))
	for i := 0; i < len(row); i++ {
		b := row[i]
		if b != 0 {
			ik = append(ik, b)
			continue
		}
		if i+1 >= len(row) {
			break
		}
		switch row[i+1] {
		case rowEscByte:
			ik = append(ik, 0)
			i++
		case rowSepByte:
			pk := row[i+2:]
			if len(ik) == 0 || len(pk) == 0 {
				return Key{}, Key{}, corruptf(row, i, nil, "invalid index row: empty key")
			}
			return keycodec.FromBytes(ik), keycodec.FromBytes(pk), nil
		default:
			return Key{}, Key{}, corruptf(row, i+1, nil, "invalid index row: bad escape")
		}
	}
	return Key{}, Key{}, corruptf(row, len(row), nil, "invalid index row: missing separator")
}
