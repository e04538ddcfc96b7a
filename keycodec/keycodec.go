// Package keycodec encodes keys into byte strings whose bytewise order equals
// the natural order of the keys.
//
// A key is a number, a date, a string, or an array of keys. Each encoded value
// starts with a type tag, so keys of different types sort by type:
// numbers < dates < strings < arrays.
//
//   - Number: tag, then 8 bytes of the IEEE-754 bit pattern, big-endian, with
//     the sign bit flipped for non-negative numbers and all bits flipped for
//     negative ones.
//   - Date: tag, then the Unix millisecond timestamp encoded as a number.
//   - String: tag, then every UTF-8 byte incremented by one, then 0x00.
//   - Array: tag, then every element, then 0x00.
//
// Trailing zero bytes are trimmed after encoding, and the decoder reads bytes
// past the end of the buffer as zeros.
package keycodec

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	tagTerminator = 0x00
	tagNumber     = 0x10
	tagDate       = 0x20
	tagString     = 0x30
	tagArray      = 0x50

	// MaxDepth bounds array nesting.
	MaxDepth = 64
)

// ErrInvalid is matched by every error returned for values that cannot be
// used as keys, and for byte strings that are not valid encoded keys.
var ErrInvalid = errors.New("invalid key")

// Error describes a value or byte string that is not a valid key.
type Error struct {
	Value any
	Data  []byte
	Off   int
	Msg   string
}

func (e *Error) Error() string {
	if e.Data != nil {
		return fmt.Sprintf("invalid key: %s at offset %d: %x", e.Msg, e.Off, e.Data)
	}
	return fmt.Sprintf("invalid key: %s: %T %v", e.Msg, e.Value, e.Value)
}

func (e *Error) Is(target error) bool {
	return target == ErrInvalid
}

func valueErr(v any, format string, args ...any) error {
	return &Error{Value: v, Msg: fmt.Sprintf(format, args...)}
}

func dataErr(data []byte, off int, format string, args ...any) error {
	return &Error{Data: data, Off: off, Msg: fmt.Sprintf(format, args...)}
}

// Key is an immutable encoded key. The zero Key is unset; comparing an unset
// key panics.
type Key struct {
	s string
}

// Encode converts v into a key. Accepted values are Go integers and floats
// (except NaN), strings holding valid UTF-8, non-zero time.Time values, Keys,
// and slices or arrays of any of those.
func Encode(v any) (Key, error) {
	buf, err := appendValue(nil, v, 0)
	if err != nil {
		return Key{}, err
	}
	return Key{string(trim(buf))}, nil
}

// MustEncode is like Encode, but panics on invalid values.
func MustEncode(v any) Key {
	k, err := Encode(v)
	if err != nil {
		panic(err)
	}
	return k
}

// IsValid reports whether v can be encoded as a key.
func IsValid(v any) bool {
	_, err := appendValue(nil, v, 0)
	return err == nil
}

// FromBytes wraps an encoded key. The bytes are copied and not validated;
// use Parse for untrusted data.
func FromBytes(b []byte) Key {
	return Key{string(b)}
}

// Parse validates and wraps an encoded key.
func Parse(b []byte) (Key, error) {
	if _, err := Decode(b); err != nil {
		return Key{}, err
	}
	return Key{string(trim(b))}, nil
}

func (k Key) IsUnset() bool { return k.s == "" }

// Bytes returns a copy of the encoded form.
func (k Key) Bytes() []byte { return []byte(k.s) }

// AppendTo appends the encoded form to buf.
func (k Key) AppendTo(buf []byte) []byte { return append(buf, k.s...) }

// Len returns the size of the encoded form.
func (k Key) Len() int { return len(k.s) }

// Compare returns -1, 0 or 1. It panics if either key is unset.
func (k Key) Compare(other Key) int {
	if k.IsUnset() || other.IsUnset() {
		panic("keycodec: comparing unset key")
	}
	return strings.Compare(k.s, other.s)
}

func (k Key) Equal(other Key) bool {
	return k.Compare(other) == 0
}

// Value decodes the key into float64, time.Time, string or []any.
func (k Key) Value() any {
	if k.IsUnset() {
		return nil
	}
	v, err := Decode([]byte(k.s))
	if err != nil {
		panic(err)
	}
	return v
}

func (k Key) String() string {
	if k.IsUnset() {
		return "<unset>"
	}
	v, err := Decode([]byte(k.s))
	if err != nil {
		return fmt.Sprintf("<invalid %x>", k.s)
	}
	var buf strings.Builder
	formatValue(&buf, v)
	return buf.String()
}

// Compare compares two encoded keys. It panics if either one is empty, since
// the empty byte string is the encoding of an unset key.
func Compare(a, b []byte) int {
	if len(a) == 0 || len(b) == 0 {
		panic("keycodec: comparing unset key")
	}
	return bytes.Compare(a, b)
}

func trim(buf []byte) []byte {
	n := len(buf)
	for n > 0 && buf[n-1] == 0 {
		n--
	}
	return buf[:n]
}

func appendValue(buf []byte, v any, depth int) ([]byte, error) {
	if depth > MaxDepth {
		return nil, valueErr(v, "nested deeper than %d levels", MaxDepth)
	}
	switch v := v.(type) {
	case nil:
		return nil, valueErr(v, "nil")
	case Key:
		if v.IsUnset() {
			return nil, valueErr(v, "unset key")
		}
		if depth == 0 {
			return append(buf, v.s...), nil
		}
		// nested keys need their trimmed terminators back
		dv, err := Decode([]byte(v.s))
		if err != nil {
			return nil, err
		}
		return appendValue(buf, dv, depth)
	case float64:
		return appendFloat(buf, tagNumber, v)
	case float32:
		return appendFloat(buf, tagNumber, float64(v))
	case int:
		return appendFloat(buf, tagNumber, float64(v))
	case int64:
		return appendFloat(buf, tagNumber, float64(v))
	case uint64:
		return appendFloat(buf, tagNumber, float64(v))
	case string:
		return appendString(buf, v)
	case time.Time:
		if v.IsZero() {
			return nil, valueErr(v, "zero time")
		}
		return appendFloat(buf, tagDate, float64(v.UnixMilli()))
	case []any:
		if v == nil {
			return nil, valueErr(v, "nil slice")
		}
		buf = append(buf, tagArray)
		for _, el := range v {
			var err error
			buf, err = appendValue(buf, el, depth+1)
			if err != nil {
				return nil, err
			}
		}
		return append(buf, tagTerminator), nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return appendFloat(buf, tagNumber, float64(rv.Int()))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return appendFloat(buf, tagNumber, float64(rv.Uint()))
	case reflect.Float32, reflect.Float64:
		return appendFloat(buf, tagNumber, rv.Float())
	case reflect.String:
		return appendString(buf, rv.String())
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return nil, valueErr(v, "nil slice")
		}
		buf = append(buf, tagArray)
		for i, n := 0, rv.Len(); i < n; i++ {
			var err error
			buf, err = appendValue(buf, rv.Index(i).Interface(), depth+1)
			if err != nil {
				return nil, err
			}
		}
		return append(buf, tagTerminator), nil
	default:
		return nil, valueErr(v, "unsupported type")
	}
}

func appendFloat(buf []byte, tag byte, f float64) ([]byte, error) {
	if math.IsNaN(f) {
		return nil, valueErr(f, "NaN")
	}
	if f == 0 {
		f = 0 // -0 sorts and decodes as +0
	}
	u := math.Float64bits(f)
	if u&(1<<63) == 0 {
		u |= 1 << 63
	} else {
		u = ^u
	}
	buf = append(buf, tag)
	return binary.BigEndian.AppendUint64(buf, u), nil
}

func appendString(buf []byte, s string) ([]byte, error) {
	if !utf8.ValidString(s) {
		return nil, valueErr(s, "invalid UTF-8")
	}
	buf = append(buf, tagString)
	for i := 0; i < len(s); i++ {
		buf = append(buf, s[i]+1)
	}
	return append(buf, tagTerminator), nil
}

type decoder struct {
	data []byte
	off  int
}

func (d *decoder) peek() byte {
	if d.off < len(d.data) {
		return d.data[d.off]
	}
	return 0
}

func (d *decoder) next() byte {
	b := d.peek()
	d.off++
	return b
}

// Decode decodes an encoded key, accepting the trimmed form.
func Decode(b []byte) (any, error) {
	if len(b) == 0 {
		return nil, dataErr(b, 0, "empty")
	}
	d := decoder{data: b}
	v, err := d.decodeValue(0)
	if err != nil {
		return nil, err
	}
	if d.off < len(b) {
		return nil, dataErr(b, d.off, "trailing data")
	}
	return v, nil
}

func (d *decoder) decodeValue(depth int) (any, error) {
	if depth > MaxDepth {
		return nil, dataErr(d.data, d.off, "nested deeper than %d levels", MaxDepth)
	}
	start := d.off
	switch tag := d.next(); tag {
	case tagNumber:
		return d.decodeFloat(), nil
	case tagDate:
		ms := d.decodeFloat()
		return time.UnixMilli(int64(ms)).UTC(), nil
	case tagString:
		var buf []byte
		for {
			c := d.next()
			if c == tagTerminator {
				break
			}
			buf = append(buf, c-1)
		}
		if !utf8.Valid(buf) {
			return nil, dataErr(d.data, start, "invalid UTF-8 in string")
		}
		return string(buf), nil
	case tagArray:
		arr := []any{}
		for d.peek() != tagTerminator {
			el, err := d.decodeValue(depth + 1)
			if err != nil {
				return nil, err
			}
			arr = append(arr, el)
		}
		d.off++
		return arr, nil
	default:
		return nil, dataErr(d.data, start, "unknown type tag 0x%02x", tag)
	}
}

func (d *decoder) decodeFloat() float64 {
	var raw [8]byte
	for i := range raw {
		raw[i] = d.next()
	}
	u := binary.BigEndian.Uint64(raw[:])
	if u&(1<<63) != 0 {
		u &^= 1 << 63
	} else {
		u = ^u
	}
	return math.Float64frombits(u)
}

func formatValue(buf *strings.Builder, v any) {
	switch v := v.(type) {
	case float64:
		buf.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
	case string:
		buf.WriteString(strconv.Quote(v))
	case time.Time:
		buf.WriteString(v.Format(time.RFC3339Nano))
	case []any:
		buf.WriteByte('[')
		for i, el := range v {
			if i > 0 {
				buf.WriteString(", ")
			}
			formatValue(buf, el)
		}
		buf.WriteByte(']')
	default:
		fmt.Fprintf(buf, "%v", v)
	}
}
