// Package shard maps a user key to an in-tree path.
//
// The hash function is fixed to FNV-1a-32 via the standard library's
// hash/fnv package: the spec requires this function to be part of the
// on-disk contract, never changing across versions, and the stdlib
// implementation of FNV-1a is exactly that well-known, already-fixed
// algorithm — reaching for a third-party hash library would add a
// dependency without changing behavior. See DESIGN.md.
package shard

import (
	"fmt"
	"hash/fnv"
	"strings"
)

// ReservedPrefix marks the subtree used for materialized indexes; no
// record key may land under it.
const ReservedPrefix = "_index"

// ReservedPaths are blobs outside of the record namespace.
var ReservedPaths = map[string]bool{
	"_format":         true,
	"_index_registry": true,
}

// ErrInvalidKey is returned when a key is empty, begins with '/', contains
// a ".." segment, or collides with the reserved namespace.
type ErrInvalidKey struct {
	Key    string
	Reason string
}

func (e *ErrInvalidKey) Error() string {
	return fmt.Sprintf("invalid key %q: %s", e.Key, e.Reason)
}

// Path computes the in-tree path for key k.
//
// If k contains '/', the path is k verbatim once validated. Otherwise the
// path is synthesized as hex(h>>24)/hex((h>>16)&0xff)/k where h is the
// FNV-1a-32 hash of k.
func Path(k string) (string, error) {
	if err := Validate(k); err != nil {
		return "", err
	}
	if strings.Contains(k, "/") {
		return k, nil
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(k))
	sum := h.Sum32()
	return fmt.Sprintf("%02x/%02x/%s", (sum>>24)&0xff, (sum>>16)&0xff, k), nil
}

// KeyFromPath reverses Path for the purpose of a full tree scan, where only
// the stored path (not the original key) is available. A path of exactly
// three segments whose first two are two lowercase hex characters is
// assumed to be a hash-sharded flat key and collapses to its last segment;
// any other shape is assumed to be a keyed-with-slash path already equal to
// the original key. This is a heuristic, not a perfect inverse — a
// keyed-with-slash key that happens to look like "xx/yy/leaf" is
// indistinguishable from a hash-sharded flat key named "leaf" and is
// reported as the latter. Documented, not silently papered over.
func KeyFromPath(path string) string {
	segs := strings.Split(path, "/")
	if len(segs) == 3 && isHexByte(segs[0]) && isHexByte(segs[1]) {
		return segs[2]
	}
	return path
}

func isHexByte(s string) bool {
	if len(s) != 2 {
		return false
	}
	for _, c := range s {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			return false
		}
	}
	return true
}

// Validate rejects keys that are empty, start with '/', contain a ".."
// segment, or collide with the reserved namespace.
func Validate(k string) error {
	if k == "" {
		return &ErrInvalidKey{Key: k, Reason: "empty key"}
	}
	if strings.HasPrefix(k, "/") {
		return &ErrInvalidKey{Key: k, Reason: "leading slash"}
	}
	for _, seg := range strings.Split(k, "/") {
		if seg == ".." {
			return &ErrInvalidKey{Key: k, Reason: "\"..\" segment"}
		}
		if seg == "" {
			return &ErrInvalidKey{Key: k, Reason: "empty segment"}
		}
		if strings.HasPrefix(seg, ReservedPrefix) {
			return &ErrInvalidKey{Key: k, Reason: "collides with reserved _index namespace"}
		}
		if ReservedPaths[seg] {
			return &ErrInvalidKey{Key: k, Reason: "collides with reserved path " + seg}
		}
	}
	return nil
}
