package dispatch

import (
	"bytes"

	cbor "github.com/fxamacker/cbor/v2"
)

// Bundle is an ordered mapping of string keys to typed values, used both for task
// input arguments and for result payloads delivered to callbacks. Keys keep their
// insertion order so the byte encoding is deterministic; putting an existing key
// replaces its value in place. A Bundle is not safe for concurrent mutation.
type Bundle struct {
	keys   []string
	values map[string]interface{}
}

// NewBundle creates an empty argument bundle.
func NewBundle() *Bundle {
	return &Bundle{values: make(map[string]interface{})}
}

func (b *Bundle) put(key string, value interface{}) *Bundle {
	if _, ok := b.values[key]; !ok {
		b.keys = append(b.keys, key)
	}
	b.values[key] = value
	return b
}

// PutInt stores an int value under key.
func (b *Bundle) PutInt(key string, value int) *Bundle { return b.put(key, value) }

// PutInt64 stores an int64 value under key.
func (b *Bundle) PutInt64(key string, value int64) *Bundle { return b.put(key, value) }

// PutFloat64 stores a float64 value under key.
func (b *Bundle) PutFloat64(key string, value float64) *Bundle { return b.put(key, value) }

// PutBool stores a bool value under key.
func (b *Bundle) PutBool(key string, value bool) *Bundle { return b.put(key, value) }

// PutString stores a string value under key.
func (b *Bundle) PutString(key string, value string) *Bundle { return b.put(key, value) }

// PutBytes stores a byte slice under key.
func (b *Bundle) PutBytes(key string, value []byte) *Bundle { return b.put(key, value) }

// PutBundle stores a nested bundle under key.
func (b *Bundle) PutBundle(key string, value *Bundle) *Bundle { return b.put(key, value) }

// GetInt returns the int stored under key and whether it was present with that type.
func (b *Bundle) GetInt(key string) (int, bool) {
	v, ok := b.values[key].(int)
	return v, ok
}

// GetInt64 returns the int64 stored under key and whether it was present with that type.
func (b *Bundle) GetInt64(key string) (int64, bool) {
	v, ok := b.values[key].(int64)
	return v, ok
}

// GetFloat64 returns the float64 stored under key and whether it was present with that type.
func (b *Bundle) GetFloat64(key string) (float64, bool) {
	v, ok := b.values[key].(float64)
	return v, ok
}

// GetBool returns the bool stored under key and whether it was present with that type.
func (b *Bundle) GetBool(key string) (bool, bool) {
	v, ok := b.values[key].(bool)
	return v, ok
}

// GetString returns the string stored under key and whether it was present with that type.
func (b *Bundle) GetString(key string) (string, bool) {
	v, ok := b.values[key].(string)
	return v, ok
}

// GetBytes returns the byte slice stored under key and whether it was present with that type.
func (b *Bundle) GetBytes(key string) ([]byte, bool) {
	v, ok := b.values[key].([]byte)
	return v, ok
}

// GetBundle returns the nested bundle stored under key and whether it was present with that type.
func (b *Bundle) GetBundle(key string) (*Bundle, bool) {
	v, ok := b.values[key].(*Bundle)
	return v, ok
}

// Has reports whether key is present in the bundle.
func (b *Bundle) Has(key string) bool {
	_, ok := b.values[key]
	return ok
}

// Len returns the number of keys in the bundle.
func (b *Bundle) Len() int { return len(b.keys) }

// Keys returns the bundle's keys in insertion order.
func (b *Bundle) Keys() []string {
	out := make([]string, len(b.keys))
	copy(out, b.keys)
	return out
}

// Equal reports whether two bundles hold the same keys in the same order with equal values.
func (b *Bundle) Equal(other *Bundle) bool {
	if other == nil || len(b.keys) != len(other.keys) {
		return false
	}
	for i, key := range b.keys {
		if other.keys[i] != key {
			return false
		}
		switch v := b.values[key].(type) {
		case []byte:
			o, ok := other.values[key].([]byte)
			if !ok || !bytes.Equal(v, o) {
				return false
			}
		case *Bundle:
			o, ok := other.values[key].(*Bundle)
			if !ok || !v.Equal(o) {
				return false
			}
		default:
			if other.values[key] != v {
				return false
			}
		}
	}
	return true
}

// Value kinds on the wire. The kind restores the getter type on decode, keeping the
// int/int64 distinction that CBOR alone would collapse.
const (
	kindInt uint8 = iota + 1
	kindInt64
	kindFloat64
	kindBool
	kindString
	kindBytes
	kindBundle
)

type wireEntry struct {
	Key  string          `cbor:"k"`
	Kind uint8           `cbor:"t"`
	Val  cbor.RawMessage `cbor:"v"`
}

var (
	bundleEnc cbor.EncMode
	bundleDec cbor.DecMode
)

func init() {
	var err error
	if bundleEnc, err = cbor.CanonicalEncOptions().EncMode(); err != nil {
		panic(err)
	}
	if bundleDec, err = (cbor.DecOptions{}).DecMode(); err != nil {
		panic(err)
	}
}

// Encode serializes the bundle into its deterministic byte representation.
func (b *Bundle) Encode() ([]byte, error) {
	entries := make([]wireEntry, 0, len(b.keys))
	for _, key := range b.keys {
		entry := wireEntry{Key: key}

		var raw interface{}
		switch v := b.values[key].(type) {
		case int:
			entry.Kind, raw = kindInt, int64(v)
		case int64:
			entry.Kind, raw = kindInt64, v
		case float64:
			entry.Kind, raw = kindFloat64, v
		case bool:
			entry.Kind, raw = kindBool, v
		case string:
			entry.Kind, raw = kindString, v
		case []byte:
			entry.Kind, raw = kindBytes, v
		case *Bundle:
			sub, err := v.Encode()
			if err != nil {
				return nil, err
			}
			entry.Kind, raw = kindBundle, sub
		default:
			return nil, Errorf(ErrBadEnvelope, "cannot encode bundle value of type %T", v)
		}

		val, err := bundleEnc.Marshal(raw)
		if err != nil {
			return nil, err
		}
		entry.Val = val
		entries = append(entries, entry)
	}
	return bundleEnc.Marshal(entries)
}

// DecodeBundle reconstructs a bundle from its byte representation.
func DecodeBundle(data []byte) (*Bundle, error) {
	var entries []wireEntry
	if err := bundleDec.Unmarshal(data, &entries); err != nil {
		return nil, Errorf(ErrBadEnvelope, "could not decode bundle: %s", err)
	}

	b := NewBundle()
	for _, entry := range entries {
		switch entry.Kind {
		case kindInt:
			var v int64
			if err := bundleDec.Unmarshal(entry.Val, &v); err != nil {
				return nil, Errorf(ErrBadEnvelope, "could not decode bundle key %q: %s", entry.Key, err)
			}
			b.PutInt(entry.Key, int(v))
		case kindInt64:
			var v int64
			if err := bundleDec.Unmarshal(entry.Val, &v); err != nil {
				return nil, Errorf(ErrBadEnvelope, "could not decode bundle key %q: %s", entry.Key, err)
			}
			b.PutInt64(entry.Key, v)
		case kindFloat64:
			var v float64
			if err := bundleDec.Unmarshal(entry.Val, &v); err != nil {
				return nil, Errorf(ErrBadEnvelope, "could not decode bundle key %q: %s", entry.Key, err)
			}
			b.PutFloat64(entry.Key, v)
		case kindBool:
			var v bool
			if err := bundleDec.Unmarshal(entry.Val, &v); err != nil {
				return nil, Errorf(ErrBadEnvelope, "could not decode bundle key %q: %s", entry.Key, err)
			}
			b.PutBool(entry.Key, v)
		case kindString:
			var v string
			if err := bundleDec.Unmarshal(entry.Val, &v); err != nil {
				return nil, Errorf(ErrBadEnvelope, "could not decode bundle key %q: %s", entry.Key, err)
			}
			b.PutString(entry.Key, v)
		case kindBytes:
			var v []byte
			if err := bundleDec.Unmarshal(entry.Val, &v); err != nil {
				return nil, Errorf(ErrBadEnvelope, "could not decode bundle key %q: %s", entry.Key, err)
			}
			b.PutBytes(entry.Key, v)
		case kindBundle:
			var raw []byte
			if err := bundleDec.Unmarshal(entry.Val, &raw); err != nil {
				return nil, Errorf(ErrBadEnvelope, "could not decode bundle key %q: %s", entry.Key, err)
			}
			sub, err := DecodeBundle(raw)
			if err != nil {
				return nil, err
			}
			b.PutBundle(entry.Key, sub)
		default:
			return nil, Errorf(ErrBadEnvelope, "unknown bundle value kind %d for key %q", entry.Kind, entry.Key)
		}
	}
	return b, nil
}
