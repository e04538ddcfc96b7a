package objstore

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

type recordFlags uint64

const (
	rfVerBit0 = recordFlags(1 << iota)
	rfVerBit1
	rfVerBit2
	rfVerBit3
	rfGeneratedKey
	rfChecksum
	rfJSON

	rfVerMask       = (rfVerBit0 | rfVerBit1 | rfVerBit2 | rfVerBit3)
	rfVer1          = rfVerBit0
	rfSupportedMask = (rfVer1 | rfGeneratedKey | rfChecksum | rfJSON)
	rfDefault       = rfVer1

	minRecordSize   = 3
	checksumSize    = 8
	maxRecordHeader = binary.MaxVarintLen64 * 3
)

func (rf recordFlags) ver() recordFlags {
	return rf & rfVerMask
}

func (rf recordFlags) encoding() Encoding {
	if rf&rfJSON != 0 {
		return JSON
	}
	return MsgPack
}

func (enc Encoding) recordFlags() recordFlags {
	if enc == JSON {
		return rfDefault | rfJSON
	}
	return rfDefault
}

// record is the envelope stored under a primary key: the serialized value,
// plus the index rows the value has contributed, so that they can be removed
// even if index definitions or key extraction change later.
//
// Layout: flags, data size, index size (uvarints), data, index rows, and,
// with rfChecksum, the xxhash64 of data (8 bytes, big-endian).
type record struct {
	Flags recordFlags
	Data  []byte
	Index []byte
}

func (r *record) generatedKey() bool {
	return r.Flags&rfGeneratedKey != 0
}

func encodeRecord(buf []byte, flags recordFlags, data []byte, rows indexRows) []byte {
	if (flags &^ rfSupportedMask) != 0 {
		panic("invalid record flags")
	}
	index := appendIndexRows(nil, rows)
	total := maxRecordHeader + len(data) + len(index)
	if flags&rfChecksum != 0 {
		total += checksumSize
	}
	w := prealloc(buf, total)
	w.AppendUvarint(uint64(flags))
	w.AppendUvarinti(len(data))
	w.AppendUvarinti(len(index))
	w.AppendRaw(data)
	w.AppendRaw(index)
	if flags&rfChecksum != 0 {
		w.AppendUint64(xxhash.Sum64(data))
	}
	return w.Trimmed()
}

func (r *record) decode(raw []byte) error {
	if len(raw) < minRecordSize {
		return corruptf(raw, 0, nil, "invalid record: at least %d bytes required", minRecordSize)
	}
	d := makeByteDecoder(raw)

	v, err := d.Uvarint()
	if err != nil {
		return corruptf(raw, d.Off(), err, "invalid record: bad flags")
	}
	if (v &^ uint64(rfSupportedMask)) != 0 {
		return corruptf(raw, d.Off(), nil, "invalid record: unsupported flags %x", v)
	}
	r.Flags = recordFlags(v)
	if r.Flags.ver() != rfVer1 {
		return corruptf(raw, d.Off(), nil, "invalid record: unsupported version %d", r.Flags.ver())
	}

	dataSize, err := d.Uvarinti()
	if err != nil {
		return corruptf(raw, d.Off(), err, "invalid record: bad data size")
	}
	indexSize, err := d.Uvarinti()
	if err != nil {
		return corruptf(raw, d.Off(), err, "invalid record: bad index size")
	}

	expected := dataSize + indexSize
	if r.Flags&rfChecksum != 0 {
		expected += checksumSize
	}
	if rem := len(raw) - d.Off(); rem != expected {
		return corruptf(raw, d.Off(), nil, "invalid record: got %d bytes for data+index, expected %d bytes", rem, expected)
	}

	r.Data = must(d.Raw(dataSize))
	r.Index = must(d.Raw(indexSize))
	if r.Flags&rfChecksum != 0 {
		sum := binary.BigEndian.Uint64(must(d.Raw(checksumSize)))
		if actual := xxhash.Sum64(r.Data); actual != sum {
			return corruptf(raw, d.Off(), nil, "invalid record: checksum %016x, expected %016x", actual, sum)
		}
	}
	return nil
}

// decodeValue deserializes the record data into generic values.
func (r *record) decodeValue() (any, error) {
	return r.Flags.encoding().unmarshal(r.Data)
}
