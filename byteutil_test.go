package objstore

import (
	"encoding/binary"
	"errors"
	"reflect"
	"testing"
)

func TestBytesBuilder(t *testing.T) {
	var bb bytesBuilder
	off := bb.Grow(3)
	copy(bb.Buf[off:], []byte{1, 2, 3})
	_ = bb.WriteByte(4)
	if !reflect.DeepEqual(bb.Buf, []byte{1, 2, 3, 4}) {
		t.Fatalf("** bb.Buf = %x, wanted 01020304", bb.Buf)
	}
	if cap(bb.Buf) < 16 {
		t.Errorf("** cap(bb.Buf) = %d, wanted >= 16", cap(bb.Buf))
	}

	bb.Trim(2)
	_, _ = bb.Write([]byte{9, 8})
	if !reflect.DeepEqual(bb.Buf, []byte{1, 2, 9, 8}) {
		t.Fatalf("** after Trim and Write: bb.Buf = %x, wanted 01020908", bb.Buf)
	}
}

func TestByteBufAndDecoder(t *testing.T) {
	w := prealloc([]byte{0xEE}, 64)
	w.AppendUvarinti(300)
	w.AppendUint64(0x0102030405060708)
	w.AppendVarBytes([]byte("hi"))
	w.AppendRaw([]byte{0xAB})
	buf := w.Trimmed()
	if buf[0] != 0xEE {
		t.Fatalf("** prealloc clobbered the existing prefix: %x", buf)
	}

	d := makeByteDecoder(buf[1:])
	deepEqual(t, must(d.Uvarinti()), 300)
	raw := must(d.Raw(8))
	deepEqual(t, binary.BigEndian.Uint64(raw), uint64(0x0102030405060708))
	deepEqual(t, string(must(d.VarBytes())), "hi")
	deepEqual(t, d.Off(), 2+8+3)
	deepEqual(t, must(d.Raw(1)), []byte{0xAB})
	deepEqual(t, len(d.Buf), 0)
}

func TestByteDecoderErrors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		f    func(d *byteDecoder) error
	}{
		{"unterminated uvarint", []byte{0x80}, func(d *byteDecoder) error {
			_, err := d.Uvarint()
			return err
		}},
		{"short raw", []byte{1, 2}, func(d *byteDecoder) error {
			_, err := d.Raw(3)
			return err
		}},
		{"short varbytes", []byte{5, 1}, func(d *byteDecoder) error {
			_, err := d.VarBytes()
			return err
		}},
	}
	for _, tt := range tests {
		d := makeByteDecoder(tt.data)
		var cde *CorruptDataError
		if err := tt.f(&d); !errors.As(err, &cde) {
			t.Errorf("** %s: got %v, wanted CorruptDataError", tt.name, err)
		}
	}
}

func TestPrefixEnd(t *testing.T) {
	deepEqual(t, prefixEnd(x("01 02")), x("01 03"))
	deepEqual(t, prefixEnd(x("01 FF")), x("02"))
	deepEqual(t, prefixEnd(x("FF FF")), []byte(nil))
}
