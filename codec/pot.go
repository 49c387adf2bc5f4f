package codec

import "github.com/vmihailenco/msgpack/v5"

// potMarshaler implements the FormatPOT codec. The original Rust
// implementation's "pot" crate (a compact binary format) has no Go
// equivalent in the ecosystem under that name; this grounds POT on
// msgpack, the compact binary codec used by andreyvit/edb for the same
// "smaller & faster than JSON" role.
type potMarshaler struct{}

func (potMarshaler) Marshal(v any) ([]byte, error) {
	return msgpack.Marshal(v)
}

func (potMarshaler) Unmarshal(data []byte, v any) error {
	return msgpack.Unmarshal(data, v)
}

func fieldPOT(data []byte, field string) (any, bool) {
	var m map[string]any
	if err := msgpack.Unmarshal(data, &m); err != nil {
		return nil, false
	}
	v, ok := m[field]
	return v, ok
}
