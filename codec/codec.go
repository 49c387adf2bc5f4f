// Package codec encodes and decodes records to and from byte sequences.
//
// Format choice is a dispatched enumeration, fixed at collection creation
// time and never changed thereafter: {JSON, YAML, POT}. The codec itself is
// stateless.
package codec

import (
	"fmt"
)

// Format identifies the on-disk serialization used by a collection.
type Format int

const (
	// FormatJSON is the default: wide support, human-readable, fast.
	FormatJSON Format = iota
	// FormatYAML trades some speed for readability over JSON.
	FormatYAML
	// FormatPOT is a binary, compact, fast format. Not human-readable.
	FormatPOT
)

func (f Format) String() string {
	switch f {
	case FormatJSON:
		return "json"
	case FormatYAML:
		return "yaml"
	case FormatPOT:
		return "pot"
	default:
		return "unknown"
	}
}

// ParseFormat parses the CLI/config string form of a Format.
func ParseFormat(s string) (Format, error) {
	switch s {
	case "json":
		return FormatJSON, nil
	case "yaml":
		return FormatYAML, nil
	case "pot":
		return FormatPOT, nil
	default:
		return 0, fmt.Errorf("unsupported format %q", s)
	}
}

// Marshaler encodes any object to a byte array and back, following the
// same small surface as SOP's Marshaler interface.
type Marshaler interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// For returns the Marshaler implementing the given Format.
func For(f Format) (Marshaler, error) {
	switch f {
	case FormatJSON:
		return jsonMarshaler{}, nil
	case FormatYAML:
		return yamlMarshaler{}, nil
	case FormatPOT:
		return potMarshaler{}, nil
	default:
		return nil, fmt.Errorf("unsupported format %d", f)
	}
}
