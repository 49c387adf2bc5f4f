package index

import (
	"fmt"
	"math"
	"strconv"

	"github.com/yamabiko-db/yamabiko/codec"
)

// scaledWidth is the width of the zero-padded, fixed-point-scaled
// magnitude used in a numeric bucket string: uint64's maximum value has
// 20 decimal digits. The int64 domain scaled by 1e6 does not fit in
// uint64, so values whose magnitude*1e6 would overflow uint64 (magnitude
// above roughly 1.8e13) are rejected (ok=false) rather than silently
// truncated.
const scaledWidth = 20

// scale is the fixed-point precision: 6 fractional decimal digits. It
// limits indexable magnitudes to about 1.8e13 (uint64's ~1.8e19 ceiling
// divided by 1e6).
const scale = 1_000_000

// CoerceNumeric converts a field value extracted from a record — which may
// arrive as an int64, float64, uint64, or numeric string depending on
// format and value shape — into the single canonical, order-preserving
// bucket string used across all three supported formats.
//
// Every numeric value is scaled to a fixed-point integer with 6 fractional
// digits (so int64(5) and float64(5.0) produce byte-identical encodings,
// resolving the cross-format numeric Open Question), then encoded as
// sign/magnitude with the magnitude complemented for negative values so
// that lexicographic string ordering matches numeric ordering end to end.
// Returns ok=false if raw isn't numeric, or if scaling it would overflow.
func CoerceNumeric(raw any) (string, bool) {
	f, ok := toFloat64(raw)
	if !ok {
		return "", false
	}
	return encodeScaled(f)
}

func toFloat64(raw any) (float64, bool) {
	switch v := raw.(type) {
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint64:
		return float64(v), true
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f, true
		}
		return 0, false
	default:
		return 0, false
	}
}

func encodeScaled(v float64) (string, bool) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "", false
	}
	neg := math.Signbit(v)
	mag := math.Abs(v)
	scaledMag := mag * scale
	if scaledMag > math.MaxUint64 {
		return "", false
	}
	scaled := uint64(math.Round(scaledMag))

	if neg {
		return fmt.Sprintf("0/%0*d", scaledWidth, math.MaxUint64-scaled), true
	}
	return fmt.Sprintf("1/%0*d", scaledWidth, scaled), true
}

// CoerceNumericField is a convenience wrapper that extracts field from an
// encoded record under format, then coerces it.
func CoerceNumericField(format codec.Format, data []byte, field string) (string, bool) {
	raw, ok := codec.ExtractField(format, data, field)
	if !ok {
		return "", false
	}
	return CoerceNumeric(raw)
}
