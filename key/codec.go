package key

import (
	"encoding/json"
	"fmt"
	"sort"
)

// DefaultCodec canonicalizes keys as canonical JSON: object keys sorted
// recursively, array order preserved, scalars via encoding/json.
type DefaultCodec struct{}

// NewDefaultCodec creates a new default codec.
func NewDefaultCodec() *DefaultCodec {
	return &DefaultCodec{}
}

// Canonicalize returns the canonical JSON form of the key.
// The key is encoded as a JSON array of its segments.
func (c *DefaultCodec) Canonicalize(k Key) (string, error) {
	if len(k) == 0 {
		return "", ErrEmptyKey
	}

	out := []byte("[")
	for i, seg := range k {
		if i > 0 {
			out = append(out, ',')
		}
		enc, err := canonicalize(seg)
		if err != nil {
			return "", fmt.Errorf("%w: segment %d: %v", ErrUnencodableKey, i, err)
		}
		out = append(out, enc...)
	}
	out = append(out, ']')

	return string(out), nil
}

// canonicalize produces a deterministic JSON representation of one value.
// Object-like values are normalized through a generic decode so that struct
// segments and map segments with identical shape canonicalize identically.
func canonicalize(v any) ([]byte, error) {
	if v == nil {
		return []byte("null"), nil
	}

	switch val := v.(type) {
	case map[string]any:
		return canonicalizeMap(val)
	case []any:
		return canonicalizeSlice(val)
	case string, bool, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64, float32, float64, json.Number:
		return json.Marshal(val)
	default:
		// Structs and other composites: round-trip through JSON into
		// generic form, then canonicalize that.
		raw, err := json.Marshal(val)
		if err != nil {
			return nil, err
		}
		var generic any
		if err := json.Unmarshal(raw, &generic); err != nil {
			return nil, err
		}
		switch g := generic.(type) {
		case map[string]any:
			return canonicalizeMap(g)
		case []any:
			return canonicalizeSlice(g)
		default:
			return raw, nil
		}
	}
}

func canonicalizeMap(m map[string]any) ([]byte, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := []byte("{")
	for i, k := range keys {
		if i > 0 {
			out = append(out, ',')
		}

		keyBytes, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		out = append(out, keyBytes...)
		out = append(out, ':')

		valBytes, err := canonicalize(m[k])
		if err != nil {
			return nil, err
		}
		out = append(out, valBytes...)
	}
	out = append(out, '}')

	return out, nil
}

func canonicalizeSlice(s []any) ([]byte, error) {
	out := []byte("[")
	for i, v := range s {
		if i > 0 {
			out = append(out, ',')
		}

		valBytes, err := canonicalize(v)
		if err != nil {
			return nil, err
		}
		out = append(out, valBytes...)
	}
	out = append(out, ']')

	return out, nil
}

// Ensure DefaultCodec implements Codec
var _ Codec = (*DefaultCodec)(nil)
