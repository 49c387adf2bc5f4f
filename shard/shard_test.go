package shard

import (
	"hash/fnv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPathFlatKey(t *testing.T) {
	p, err := Path("alice")
	require.NoError(t, err)

	h := fnv.New32a()
	_, _ = h.Write([]byte("alice"))
	sum := h.Sum32()
	want := hexByte((sum>>24)&0xff) + "/" + hexByte((sum>>16)&0xff) + "/alice"
	assert.Equal(t, want, p)
}

func hexByte(b uint32) string {
	const hexdigits = "0123456789abcdef"
	return string([]byte{hexdigits[(b>>4)&0xf], hexdigits[b&0xf]})
}

func TestPathWithSlash(t *testing.T) {
	p, err := Path("a/b/c")
	require.NoError(t, err)
	assert.Equal(t, "a/b/c", p)
}

func TestPathIsStable(t *testing.T) {
	p1, _ := Path("alice")
	p2, _ := Path("alice")
	assert.Equal(t, p1, p2)
}

func TestValidateRejectsEmpty(t *testing.T) {
	_, err := Path("")
	assert.Error(t, err)
}

func TestValidateRejectsLeadingSlash(t *testing.T) {
	_, err := Path("/a")
	assert.Error(t, err)
}

func TestValidateRejectsDotDot(t *testing.T) {
	_, err := Path("a/../b")
	assert.Error(t, err)
}

func TestKeyFromPathReversesFlatKey(t *testing.T) {
	p, err := Path("alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", KeyFromPath(p))
}

func TestKeyFromPathPassesThroughSlashKey(t *testing.T) {
	p, err := Path("a/b/c")
	require.NoError(t, err)
	assert.Equal(t, "a/b/c", KeyFromPath(p))
}

func TestValidateRejectsReservedIndexCollision(t *testing.T) {
	_, err := Path("_index/foo")
	assert.Error(t, err)

	_, err = Path("_index_registry")
	assert.Error(t, err)

	_, err = Path("_format")
	assert.Error(t, err)
}
