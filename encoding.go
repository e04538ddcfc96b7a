package objstore

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Encoding selects how record values are serialized.
//
// Values are serialized when an operation is issued, and key paths are
// evaluated against the serialized form decoded back into generic values:
// maps become map[string]any, integers become int64 or uint64 (MsgPack) or
// float64 (JSON). Field names are the serialized names, so msgpack or json
// struct tags apply.
type Encoding int

const (
	MsgPack Encoding = iota
	JSON

	defaultValueEncoding = MsgPack
)

func (enc Encoding) String() string {
	switch enc {
	case MsgPack:
		return "msgpack"
	case JSON:
		return "json"
	default:
		return fmt.Sprintf("Encoding(%d)", int(enc))
	}
}

// ParseEncoding parses the names returned by Encoding.String.
func ParseEncoding(s string) (Encoding, error) {
	switch s {
	case "msgpack", "":
		return MsgPack, nil
	case "json":
		return JSON, nil
	default:
		return 0, fmt.Errorf("unknown encoding %q", s)
	}
}

func (enc Encoding) marshal(buf []byte, v any) ([]byte, error) {
	switch enc {
	case MsgPack:
		bb := bytesBuilder{buf}
		e := msgpack.GetEncoder()
		e.ResetDict(&bb, nil)
		e.SetSortMapKeys(true)
		err := e.Encode(v)
		msgpack.PutEncoder(e)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %T using MsgPack: %w", v, err)
		}
		return bb.Buf, nil
	case JSON:
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %T to JSON: %w", v, err)
		}
		return appendRaw(buf, raw), nil
	default:
		panic("unsupported encoding")
	}
}

// unmarshal decodes data into generic values.
func (enc Encoding) unmarshal(data []byte) (any, error) {
	switch enc {
	case MsgPack:
		var r bytes.Reader
		r.Reset(data)
		d := msgpack.GetDecoder()
		d.ResetDict(&r, nil)
		d.UseLooseInterfaceDecoding(true)
		v, err := d.DecodeInterfaceLoose()
		msgpack.PutDecoder(d)
		if err != nil {
			return nil, corruptf(data, 0, err, "failed to decode msgpack")
		}
		return v, nil
	case JSON:
		var v any
		err := json.Unmarshal(data, &v)
		if err != nil {
			return nil, corruptf(data, 0, err, "failed to decode JSON")
		}
		return v, nil
	default:
		panic("unsupported encoding")
	}
}

// Convert copies a generic value returned by a request into dst, which
// must be a pointer, by serializing it and decoding the result into dst.
func (enc Encoding) Convert(v any, dst any) error {
	data, err := enc.marshal(nil, v)
	if err != nil {
		return err
	}
	switch enc {
	case MsgPack:
		err = msgpack.Unmarshal(data, dst)
	case JSON:
		err = json.Unmarshal(data, dst)
	}
	if err != nil {
		return fmt.Errorf("failed to decode into %T: %w", dst, err)
	}
	return nil
}

// prepareValue serializes v and decodes it back into a generic value that
// the operation owns.
func (enc Encoding) prepareValue(v any) ([]byte, any, error) {
	data, err := enc.marshal(nil, v)
	if err != nil {
		return nil, nil, err
	}
	gv, err := enc.unmarshal(data)
	if err != nil {
		return nil, nil, err
	}
	return data, gv, nil
}
