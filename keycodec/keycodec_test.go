package keycodec

import (
	"bytes"
	"math"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNumberOrder(t *testing.T) {
	values := []float64{math.Inf(-1), -1e300, -5, -0.5, -1e-300, 0, 1e-300, 0.5, 5, 1e300, math.Inf(1)}
	var prev []byte
	for _, v := range values {
		k, err := Encode(v)
		require.NoError(t, err)
		if prev != nil {
			assert.Equal(t, -1, Compare(prev, k.Bytes()), "Encode(%v) should sort after its predecessor", v)
		}
		prev = k.Bytes()
	}
}

func TestNegativeZero(t *testing.T) {
	neg, err := Encode(math.Copysign(0, -1))
	require.NoError(t, err)
	assert.Equal(t, MustEncode(0), neg)
	assert.Equal(t, float64(0), neg.Value())
	assert.False(t, math.Signbit(neg.Value().(float64)))
}

func TestIntegerKindsEncodeAsNumbers(t *testing.T) {
	want := MustEncode(42.0)
	for _, v := range []any{42, int8(42), int16(42), int32(42), int64(42), uint(42), uint8(42), uint16(42), uint32(42), uint64(42), float32(42)} {
		k, err := Encode(v)
		require.NoError(t, err, "%T", v)
		assert.Equal(t, want, k, "%T", v)
	}
}

func TestTypePrecedence(t *testing.T) {
	keys := []Key{
		MustEncode(math.Inf(1)),
		MustEncode(time.UnixMilli(-1000)),
		MustEncode(time.UnixMilli(1700000000000)),
		MustEncode(""),
		MustEncode("zzz"),
		MustEncode([]any{}),
		MustEncode([]any{1}),
	}
	for i := 1; i < len(keys); i++ {
		assert.Equal(t, -1, keys[i-1].Compare(keys[i]), "%v < %v", keys[i-1], keys[i])
	}
}

func TestStringOrder(t *testing.T) {
	words := []string{"abcd", "abc", "", "b", "a\x00", "a", "ab", "\x00", "é", "z"}
	var keys [][]byte
	for _, w := range words {
		keys = append(keys, MustEncode(w).Bytes())
	}
	sort.Slice(keys, func(i, j int) bool { return bytes.Compare(keys[i], keys[j]) < 0 })

	var got []string
	for _, k := range keys {
		v, err := Decode(k)
		require.NoError(t, err)
		got = append(got, v.(string))
	}
	sorted := append([]string(nil), words...)
	sort.Strings(sorted)
	assert.Equal(t, sorted, got)
}

func TestArrayOrder(t *testing.T) {
	ordered := []any{
		[]any{},
		[]any{1},
		[]any{1, 2},
		[]any{1, "a"},
		[]any{2},
		[]any{"a"},
		[]any{[]any{}},
		[]any{[]any{1}, 0},
	}
	for i := 1; i < len(ordered); i++ {
		a, b := MustEncode(ordered[i-1]), MustEncode(ordered[i])
		assert.Equal(t, -1, a.Compare(b), "%v < %v", a, b)
	}
}

func TestRoundTrip(t *testing.T) {
	tm := time.UnixMilli(1700000000123).UTC()
	tests := []struct {
		name string
		in   any
		out  any
	}{
		{"zero", 0, 0.0},
		{"int", 7, 7.0},
		{"negative", -12.25, -12.25},
		{"inf", math.Inf(-1), math.Inf(-1)},
		{"empty_string", "", ""},
		{"nul_string", "a\x00b", "a\x00b"},
		{"unicode", "héllo, 世界", "héllo, 世界"},
		{"date", tm, tm},
		{"empty_array", []any{}, []any{}},
		{"typed_slice", []string{"x", "y"}, []any{"x", "y"}},
		{"nested", []any{1, []any{"a", []any{}}, tm}, []any{1.0, []any{"a", []any{}}, tm}},
		{"trailing_zero_number", []any{0, 0}, []any{0.0, 0.0}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			k, err := Encode(tc.in)
			require.NoError(t, err)
			raw := k.Bytes()
			require.NotEmpty(t, raw)
			assert.NotEqual(t, byte(0), raw[len(raw)-1], "encoding must be trimmed")

			v, err := Decode(raw)
			require.NoError(t, err)
			assert.Equal(t, tc.out, v)
		})
	}
}

func TestDecodeUntrimmed(t *testing.T) {
	full := []byte{tagNumber, 0x80, 0, 0, 0, 0, 0, 0, 0}
	v, err := Decode(full)
	require.NoError(t, err)
	assert.Equal(t, 0.0, v)

	k, err := Parse(full)
	require.NoError(t, err)
	assert.Equal(t, MustEncode(0), k)
}

func TestNestedKeyInArray(t *testing.T) {
	inner := MustEncode(0)
	k, err := Encode([]any{inner, "x"})
	require.NoError(t, err)
	assert.Equal(t, MustEncode([]any{0, "x"}), k)
}

func TestInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		in   any
	}{
		{"nil", nil},
		{"nan", math.NaN()},
		{"bool", true},
		{"map", map[string]any{"a": 1}},
		{"struct", struct{}{}},
		{"bad_utf8", "\xff"},
		{"zero_time", time.Time{}},
		{"nil_slice", []any(nil)},
		{"nested_invalid", []any{1, []any{true}}},
		{"unset_key", Key{}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Encode(tc.in)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalid)
			assert.False(t, IsValid(tc.in))
		})
	}
}

func TestTooDeep(t *testing.T) {
	var v any = 1
	for i := 0; i <= MaxDepth+1; i++ {
		v = []any{v}
	}
	_, err := Encode(v)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestDecodeInvalid(t *testing.T) {
	for _, data := range [][]byte{nil, {0x01}, {tagString, 0xFF}, {tagNumber, 0x80, 0, 0, 0, 0, 0, 0, 0, 0, 0x10}} {
		_, err := Decode(data)
		assert.ErrorIs(t, err, ErrInvalid, "%x", data)
	}
}

func TestCompareUnsetPanics(t *testing.T) {
	assert.Panics(t, func() { Key{}.Compare(MustEncode(1)) })
	assert.Panics(t, func() { MustEncode(1).Compare(Key{}) })
	assert.Panics(t, func() { Compare(nil, []byte{tagNumber}) })
}

func TestString(t *testing.T) {
	assert.Equal(t, `[1, "a", [-2.5]]`, MustEncode([]any{1, "a", []any{-2.5}}).String())
	assert.Equal(t, "<unset>", Key{}.String())
}
