package codec

// ExtractField pulls a single top-level field's value out of encoded data
// without decoding the whole record into the caller's type, mirroring the
// original implementation's per-format extract_indexes_*/match_field
// helpers. The returned value is whatever the underlying codec's generic
// decode produced for that field (for scalars: nil, bool, string, or a
// numeric type such as float64 for JSON or int for YAML integers).
func ExtractField(f Format, data []byte, field string) (any, bool) {
	switch f {
	case FormatJSON:
		return fieldJSON(data, field)
	case FormatYAML:
		return fieldYAML(data, field)
	case FormatPOT:
		return fieldPOT(data, field)
	default:
		return nil, false
	}
}
