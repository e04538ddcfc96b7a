package objstore

import (
	"strings"

	"github.com/andreyvit/objstore/keycodec"
)

// Key is an encoded key. See package keycodec.
type Key = keycodec.Key

// KeyRange is a continuous interval of keys. An unset bound means the range
// is unbounded on that side.
type KeyRange struct {
	Lower     Key
	Upper     Key
	LowerOpen bool
	UpperOpen bool
}

// Only returns a range containing just the given key.
func Only(v any) (KeyRange, error) {
	k, err := encodeRangeKey(v)
	if err != nil {
		return KeyRange{}, err
	}
	return KeyRange{Lower: k, Upper: k}, nil
}

// LowerBound returns a range of keys above v, including v unless open is set.
func LowerBound(v any, open bool) (KeyRange, error) {
	k, err := encodeRangeKey(v)
	if err != nil {
		return KeyRange{}, err
	}
	return KeyRange{Lower: k, LowerOpen: open}, nil
}

// UpperBound returns a range of keys below v, including v unless open is set.
func UpperBound(v any, open bool) (KeyRange, error) {
	k, err := encodeRangeKey(v)
	if err != nil {
		return KeyRange{}, err
	}
	return KeyRange{Upper: k, UpperOpen: open}, nil
}

// Bound returns a range between lower and upper. The bounds must be ordered,
// and equal bounds must both be closed.
func Bound(lower, upper any, lowerOpen, upperOpen bool) (KeyRange, error) {
	l, err := encodeRangeKey(lower)
	if err != nil {
		return KeyRange{}, err
	}
	u, err := encodeRangeKey(upper)
	if err != nil {
		return KeyRange{}, err
	}
	switch c := l.Compare(u); {
	case c > 0:
		return KeyRange{}, storeErrf(ErrData, "", "", Key{}, nil, "lower bound %v is greater than upper bound %v", l, u)
	case c == 0 && (lowerOpen || upperOpen):
		return KeyRange{}, storeErrf(ErrData, "", "", Key{}, nil, "open bound on a single key %v", l)
	}
	return KeyRange{Lower: l, Upper: u, LowerOpen: lowerOpen, UpperOpen: upperOpen}, nil
}

// MustBound is like Bound, but panics on error.
func MustBound(lower, upper any, lowerOpen, upperOpen bool) KeyRange {
	return must(Bound(lower, upper, lowerOpen, upperOpen))
}

func encodeRangeKey(v any) (Key, error) {
	k, err := keycodec.Encode(v)
	if err != nil {
		return Key{}, invalidKeyErr("", err)
	}
	return k, nil
}

func (kr KeyRange) isOnly() bool {
	return !kr.Lower.IsUnset() && !kr.Upper.IsUnset() && kr.Lower.Equal(kr.Upper)
}

// Includes reports whether the key falls into the range.
func (kr KeyRange) Includes(k Key) bool {
	if !kr.Lower.IsUnset() {
		c := k.Compare(kr.Lower)
		if c < 0 || (c == 0 && kr.LowerOpen) {
			return false
		}
	}
	if !kr.Upper.IsUnset() {
		c := k.Compare(kr.Upper)
		if c > 0 || (c == 0 && kr.UpperOpen) {
			return false
		}
	}
	return true
}

func (kr KeyRange) String() string {
	var buf strings.Builder
	if kr.Lower.IsUnset() {
		buf.WriteString("(-inf")
	} else {
		if kr.LowerOpen {
			buf.WriteByte('(')
		} else {
			buf.WriteByte('[')
		}
		buf.WriteString(kr.Lower.String())
	}
	buf.WriteString(", ")
	if kr.Upper.IsUnset() {
		buf.WriteString("+inf)")
	} else {
		buf.WriteString(kr.Upper.String())
		if kr.UpperOpen {
			buf.WriteByte(')')
		} else {
			buf.WriteByte(']')
		}
	}
	return buf.String()
}

// dataRange maps the range onto primary keys of a store's data bucket.
func (kr KeyRange) dataRange() RawRange {
	var r RawRange
	if !kr.Lower.IsUnset() {
		r.Lower, r.LowerInc = kr.Lower.Bytes(), !kr.LowerOpen
	}
	if !kr.Upper.IsUnset() {
		r.Upper, r.UpperInc = kr.Upper.Bytes(), !kr.UpperOpen
	}
	return r
}

// indexRange maps the range onto the rows of an index bucket.
func (kr KeyRange) indexRange() RawRange {
	var r RawRange
	if !kr.Lower.IsUnset() {
		if kr.LowerOpen {
			r.Lower = indexKeyBound(kr.Lower, rowPastByte)
		} else {
			r.Lower = indexKeyBound(kr.Lower, rowSepByte)
		}
		r.LowerInc = true
	}
	if !kr.Upper.IsUnset() {
		if kr.UpperOpen {
			r.Upper = indexKeyBound(kr.Upper, rowSepByte)
		} else {
			r.Upper = indexKeyBound(kr.Upper, rowPastByte)
		}
		r.UpperInc = false
	}
	return r
}

// parseQuery converts a query argument into a range. A query is nil (every
// key), a KeyRange, a *KeyRange, a Key, or a value that encodes into a key.
func parseQuery(store string, q any) (KeyRange, error) {
	switch q := q.(type) {
	case nil:
		return KeyRange{}, nil
	case KeyRange:
		return q, nil
	case *KeyRange:
		if q == nil {
			return KeyRange{}, nil
		}
		return *q, nil
	case Key:
		if q.IsUnset() {
			return KeyRange{}, storeErrf(ErrData, store, "", Key{}, nil, "unset key")
		}
		return KeyRange{Lower: q, Upper: q}, nil
	default:
		k, err := keycodec.Encode(q)
		if err != nil {
			return KeyRange{}, invalidKeyErr(store, err)
		}
		return KeyRange{Lower: k, Upper: k}, nil
	}
}

// parseKey converts a single key argument, rejecting ranges.
func parseKey(store string, v any) (Key, error) {
	switch v := v.(type) {
	case Key:
		if v.IsUnset() {
			return Key{}, storeErrf(ErrData, store, "", Key{}, nil, "unset key")
		}
		return v, nil
	case KeyRange, *KeyRange, nil:
		return Key{}, storeErrf(ErrData, store, "", Key{}, nil, "a key is required, got %T", v)
	default:
		k, err := keycodec.Encode(v)
		if err != nil {
			return Key{}, invalidKeyErr(store, err)
		}
		return k, nil
	}
}
