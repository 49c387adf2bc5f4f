package index

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yamabiko-db/yamabiko/codec"
)

func TestCoerceNumeric(t *testing.T) {
	s1, ok := CoerceNumeric(int64(5))
	require.True(t, ok)
	s2, ok := CoerceNumeric(int64(15))
	require.True(t, ok)
	s3, ok := CoerceNumeric(int64(25))
	require.True(t, ok)
	assert.True(t, s1 < s2)
	assert.True(t, s2 < s3)
}

func TestCoerceNumericOrderingNegatives(t *testing.T) {
	neg, _ := CoerceNumeric(int64(-5))
	pos, _ := CoerceNumeric(int64(5))
	assert.True(t, neg < pos)
}

func TestCoerceNumericRejectsNonNumeric(t *testing.T) {
	_, ok := CoerceNumeric("not-a-number")
	assert.False(t, ok)
}

func TestRegistryRoundTrip(t *testing.T) {
	r := Registry{}.With("n", Numeric).With("name", Sequential)
	data, err := r.Marshal()
	require.NoError(t, err)

	r2, err := Unmarshal(data)
	require.NoError(t, err)
	kind, ok := r2.Kind("n")
	require.True(t, ok)
	assert.Equal(t, Numeric, kind)
}

func TestManagerDeltasSkipsAbsentField(t *testing.T) {
	m := NewManager(16)
	reg := Registry{}.With("f", Sequential)
	j, _ := codec.For(codec.FormatJSON)
	data, _ := j.Marshal(map[string]any{"other": "x"})

	muts := m.Deltas(reg, codec.FormatJSON, "k1", nil, false, data, true)
	assert.Empty(t, muts)
}

func TestManagerDeltasAddAndRemove(t *testing.T) {
	m := NewManager(16)
	reg := Registry{}.With("f", Sequential)
	j, _ := codec.For(codec.FormatJSON)
	oldData, _ := j.Marshal(map[string]any{"f": "a"})
	newData, _ := j.Marshal(map[string]any{"f": "b"})

	muts := m.Deltas(reg, codec.FormatJSON, "k1", oldData, true, newData, true)
	require.Len(t, muts, 2)

	var removed, added bool
	for _, mu := range muts {
		if mu.Delete {
			removed = true
			assert.Contains(t, mu.Path, "/f/seq/a/a/")
		} else {
			added = true
			assert.Contains(t, mu.Path, "/f/seq/b/b/")
		}
	}
	assert.True(t, removed)
	assert.True(t, added)
}

func TestManagerDeltasUniqueByKeyHash(t *testing.T) {
	m := NewManager(16)
	reg := Registry{}.With("f", Sequential)
	j, _ := codec.For(codec.FormatJSON)
	data, _ := j.Marshal(map[string]any{"f": "same"})

	m1 := m.Deltas(reg, codec.FormatJSON, "key1", nil, false, data, true)
	m2 := m.Deltas(reg, codec.FormatJSON, "key2", nil, false, data, true)
	require.Len(t, m1, 1)
	require.Len(t, m2, 1)
	assert.NotEqual(t, m1[0].Path, m2[0].Path)
}
