package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	X int    `json:"x" yaml:"x" msgpack:"x"`
	S string `json:"s" yaml:"s" msgpack:"s"`
}

func TestRoundTripAllFormats(t *testing.T) {
	for _, f := range []Format{FormatJSON, FormatYAML, FormatPOT} {
		t.Run(f.String(), func(t *testing.T) {
			m, err := For(f)
			require.NoError(t, err)

			in := sample{X: 42, S: "hello"}
			data, err := m.Marshal(in)
			require.NoError(t, err)

			var out sample
			require.NoError(t, m.Unmarshal(data, &out))
			assert.Equal(t, in, out)
		})
	}
}

func TestExtractField(t *testing.T) {
	for _, f := range []Format{FormatJSON, FormatYAML, FormatPOT} {
		t.Run(f.String(), func(t *testing.T) {
			m, err := For(f)
			require.NoError(t, err)
			data, err := m.Marshal(map[string]any{"n": 5, "name": "bob"})
			require.NoError(t, err)

			v, ok := ExtractField(f, data, "name")
			require.True(t, ok)
			assert.Equal(t, "bob", v)

			_, ok = ExtractField(f, data, "missing")
			assert.False(t, ok)
		})
	}
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("yaml")
	require.NoError(t, err)
	assert.Equal(t, FormatYAML, f)

	_, err = ParseFormat("xml")
	assert.Error(t, err)
}
