package objstore

import (
	"fmt"
	"math"
	"strings"
	"unicode"

	"github.com/andreyvit/objstore/keycodec"
)

// KeyPath locates a key inside a value. A path is a dotted sequence of
// field names ("author.id"); the empty path denotes the value itself. An
// array key path combines several paths into an array key.
//
// Paths are evaluated against the decoded form of the serialized value,
// so field names are the serialized names.
type KeyPath struct {
	paths []string
	array bool
}

// ParseKeyPath parses a single dotted key path.
func ParseKeyPath(s string) (KeyPath, error) {
	if err := validateKeyPath(s); err != nil {
		return KeyPath{}, err
	}
	return KeyPath{paths: []string{s}}, nil
}

// MustKeyPath is like ParseKeyPath, but panics on error.
func MustKeyPath(s string) KeyPath {
	return must(ParseKeyPath(s))
}

// ArrayKeyPath returns a key path that yields an array key made of the values
// at the given paths. Each path must be non-empty.
func ArrayKeyPath(paths ...string) (KeyPath, error) {
	if len(paths) == 0 {
		return KeyPath{}, storeErrf(ErrData, "", "", Key{}, nil, "empty array key path")
	}
	for _, p := range paths {
		if p == "" {
			return KeyPath{}, storeErrf(ErrData, "", "", Key{}, nil, "empty path in array key path")
		}
		if err := validateKeyPath(p); err != nil {
			return KeyPath{}, err
		}
	}
	return KeyPath{paths: append([]string(nil), paths...), array: true}, nil
}

func validateKeyPath(s string) error {
	if s == "" {
		return nil
	}
	for _, seg := range strings.Split(s, ".") {
		if !isIdentifier(seg) {
			return storeErrf(ErrData, "", "", Key{}, nil, "invalid key path %q", s)
		}
	}
	return nil
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_' || r == '$' || unicode.IsLetter(r):
		case unicode.IsDigit(r) && i > 0:
		default:
			return false
		}
	}
	return true
}

// IsZero reports whether no key path is set; stores without a key path
// use out-of-line keys.
func (kp KeyPath) IsZero() bool {
	return len(kp.paths) == 0
}

func (kp KeyPath) IsArray() bool {
	return kp.array
}

// Paths returns the component paths.
func (kp KeyPath) Paths() []string {
	return append([]string(nil), kp.paths...)
}

func (kp KeyPath) String() string {
	if kp.array {
		return "[" + strings.Join(kp.paths, ", ") + "]"
	}
	if len(kp.paths) == 0 {
		return "<none>"
	}
	return kp.paths[0]
}

// evaluateRaw returns the value at the key path, or false if any component
// is missing.
func (kp KeyPath) evaluateRaw(gv any) (any, bool) {
	if kp.array {
		result := make([]any, len(kp.paths))
		for i, p := range kp.paths {
			v, ok := evaluatePath(gv, p)
			if !ok {
				return nil, false
			}
			result[i] = v
		}
		return result, true
	}
	return evaluatePath(gv, kp.paths[0])
}

// extractKey evaluates the key path and encodes the result.
func (kp KeyPath) extractKey(gv any) (Key, error) {
	v, ok := kp.evaluateRaw(gv)
	if !ok {
		return Key{}, errKeyPathMissing
	}
	return keycodec.Encode(v)
}

var errKeyPathMissing = fmt.Errorf("key path not found in value")

func evaluatePath(gv any, path string) (any, bool) {
	if path == "" {
		return gv, true
	}
	cur := gv
	for _, seg := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// canInject reports whether inject would succeed.
func (kp KeyPath) canInject(gv any) bool {
	if kp.array || len(kp.paths) != 1 || kp.paths[0] == "" {
		return false
	}
	cur := gv
	for _, seg := range strings.Split(kp.paths[0], ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return false
		}
		next, ok := m[seg]
		if !ok {
			return true
		}
		cur = next
	}
	return false
}

// inject stores the key at the key path, creating intermediate maps.
func (kp KeyPath) inject(gv any, key Key) error {
	if !kp.canInject(gv) {
		return fmt.Errorf("cannot store a key at %s", kp)
	}
	segs := strings.Split(kp.paths[0], ".")
	m := gv.(map[string]any)
	for _, seg := range segs[:len(segs)-1] {
		next, ok := m[seg]
		if !ok {
			nm := make(map[string]any)
			m[seg] = nm
			m = nm
			continue
		}
		m = next.(map[string]any)
	}
	m[segs[len(segs)-1]] = injectableValue(key)
	return nil
}

// injectableValue stores integral numeric keys as integers, so that values
// with generated keys decode into integer fields.
func injectableValue(key Key) any {
	v := key.Value()
	if f, ok := v.(float64); ok && f == math.Trunc(f) && math.Abs(f) <= maxGeneratedKey {
		return int64(f)
	}
	return v
}

// keyPathDoc is the persisted form of a KeyPath.
type keyPathDoc struct {
	Paths []string `msgpack:"p"`
	Array bool     `msgpack:"a"`
}

func (kp KeyPath) doc() keyPathDoc {
	return keyPathDoc{Paths: kp.paths, Array: kp.array}
}

func (d keyPathDoc) keyPath() KeyPath {
	return KeyPath{paths: d.Paths, array: d.Array}
}
