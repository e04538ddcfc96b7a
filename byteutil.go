package objstore

import (
	"encoding/binary"
	"io"
	"math"
	"slices"
)

const minBufCap = 16

// grow extends buf by n bytes, returning the offset of the new bytes.
func grow(buf []byte, n int) (int, []byte) {
	off := len(buf)
	if need := off + n; need > cap(buf) {
		buf = slices.Grow(buf, max(need, minBufCap)-off)
	}
	return off, buf[:off+n]
}

func appendRaw(buf []byte, chunk []byte) []byte {
	off, buf := grow(buf, len(chunk))
	copy(buf[off:], chunk)
	return buf
}

// bytesBuilder is an io.Writer over a reusable slice. msgpack encoders write
// values straight into record buffers through it.
type bytesBuilder struct {
	Buf []byte
}

var _ io.Writer = (*bytesBuilder)(nil)

func (bb *bytesBuilder) Grow(n int) (off int) {
	off, bb.Buf = grow(bb.Buf, n)
	return
}

func (bb *bytesBuilder) Trim(off int) { bb.Buf = bb.Buf[:off] }

func (bb *bytesBuilder) Write(b []byte) (int, error) {
	bb.Buf = appendRaw(bb.Buf, b)
	return len(b), nil
}

func (bb *bytesBuilder) WriteByte(v byte) error {
	bb.Buf = append(bb.Buf, v)
	return nil
}

// byteBuf writes into space reserved up front by prealloc, so the envelope
// and index sections are encoded without reallocating.
type byteBuf struct {
	Buf []byte
	Off int
}

func prealloc(buf []byte, n int) byteBuf {
	off, buf := grow(buf, n)
	return byteBuf{buf, off}
}

func (b *byteBuf) Trimmed() []byte { return b.Buf[:b.Off] }

func (b *byteBuf) AppendRaw(v []byte) {
	b.Off += copy(b.Buf[b.Off:], v)
}

func (b *byteBuf) AppendUvarint(v uint64) {
	b.Off += binary.PutUvarint(b.Buf[b.Off:], v)
}

func (b *byteBuf) AppendUvarinti(v int) {
	if v < 0 {
		panic("negative length")
	}
	b.AppendUvarint(uint64(v))
}

func (b *byteBuf) AppendUint64(v uint64) {
	binary.BigEndian.PutUint64(b.Buf[b.Off:], v)
	b.Off += 8
}

func (b *byteBuf) AppendVarBytes(v []byte) {
	b.AppendUvarinti(len(v))
	b.AppendRaw(v)
}

// byteDecoder reads what byteBuf writes. Errors are CorruptDataErrors that
// point at the offending offset of Orig.
type byteDecoder struct {
	Orig []byte
	Buf  []byte
}

func makeByteDecoder(buf []byte) byteDecoder {
	return byteDecoder{Orig: buf, Buf: buf}
}

func (d *byteDecoder) Off() int { return len(d.Orig) - len(d.Buf) }

func (d *byteDecoder) Uvarint() (uint64, error) {
	v, n := binary.Uvarint(d.Buf)
	if n <= 0 {
		return 0, corruptf(d.Orig, d.Off(), nil, "invalid uvarint")
	}
	d.Buf = d.Buf[n:]
	return v, nil
}

func (d *byteDecoder) Uvarinti() (int, error) {
	v, err := d.Uvarint()
	if err != nil {
		return 0, err
	}
	if v > math.MaxInt {
		return 0, corruptf(d.Orig, d.Off(), nil, "length %d overflows int", v)
	}
	return int(v), nil
}

func (d *byteDecoder) Raw(n int) ([]byte, error) {
	if n > len(d.Buf) {
		return nil, corruptf(d.Orig, d.Off(), nil, "expected %d bytes, got %d", n, len(d.Buf))
	}
	v := d.Buf[:n:n]
	d.Buf = d.Buf[n:]
	return v, nil
}

func (d *byteDecoder) VarBytes() ([]byte, error) {
	n, err := d.Uvarinti()
	if err != nil {
		return nil, err
	}
	return d.Raw(n)
}
