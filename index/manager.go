package index

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/yamabiko-db/yamabiko/codec"
	"github.com/yamabiko-db/yamabiko/objectstore"
)

// ReservedPrefix is the root of the materialized index namespace.
const ReservedPrefix = "_index"

// Manager computes index tree mutations for writes against a registry the
// caller passes in (it does not hold the registry itself), following
// spec.md §4.6: for each registered field, an add at the
// derived path when the new record has a value for that field, and a
// removal at the old derived path when an old record existed at this key.
type Manager struct {
	// LeafHashHexWidth is how many hex characters of the xxhash-64 record
	// key are kept on each index leaf path, guaranteeing uniqueness among
	// records sharing the same indexed value (spec.md §4.6.3).
	LeafHashHexWidth int
}

// NewManager returns a Manager using the given leaf-hash width (see
// CollectionOptions.IndexLeafHashWidth).
func NewManager(leafHashHexWidth int) *Manager {
	if leafHashHexWidth <= 0 || leafHashHexWidth > 16 {
		leafHashHexWidth = 16
	}
	return &Manager{LeafHashHexWidth: leafHashHexWidth}
}

// keyHash returns the stable hash suffix used to disambiguate index leaves
// that share the same indexed value.
func (m *Manager) keyHash(recordKey string) string {
	h := xxhash.Sum64String(recordKey)
	return fmt.Sprintf("%016x", h)[:m.LeafHashHexWidth]
}

// EscapeValue guards against a field value containing '/' from fragmenting
// the index tree layout. The escaped form is what actually appears as a
// directory name under "_index/<field>/<kind>/...", so callers comparing
// against directory names (the query planner's range scans) must escape
// their own comparison values the same way.
func EscapeValue(v string) string {
	return strings.ReplaceAll(v, "/", "%2F")
}

// DerivePath returns the leaf path an index entry for (field, kind, value,
// recordKey) lives at.
func (m *Manager) DerivePath(field string, kind Kind, value string, recordKey string) string {
	escaped := EscapeValue(value)
	first := "_"
	if len(escaped) > 0 {
		first = string(escaped[0])
	}
	return fmt.Sprintf("%s/%s/%s/%s/%s/%s", ReservedPrefix, field, kind, first, escaped, m.keyHash(recordKey))
}

// fieldIndexString extracts and formats field's value from an encoded
// record for the given index kind, returning ok=false if the field is
// absent (Sequential) or fails canonical numeric coercion (Numeric) — both
// cases mean the record contributes no entry for this index, per
// spec.md §4.6.2.
func (m *Manager) fieldIndexString(format codec.Format, kind Kind, data []byte, field string) (string, bool) {
	raw, ok := codec.ExtractField(format, data, field)
	if !ok {
		return "", false
	}
	switch kind {
	case Numeric:
		return CoerceNumeric(raw)
	default:
		return Stringify(raw), true
	}
}

// Stringify renders a decoded field value the same way the index manager
// does when deriving a Sequential leaf path, so callers outside this
// package (the query planner, looking up an exact value) compute the
// identical string.
func Stringify(raw any) string {
	switch v := raw.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case int64:
		return strconv.FormatInt(v, 10)
	case bool:
		return strconv.FormatBool(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// Deltas computes the set of index-tree mutations a single record write
// (or delete, when newData is nil) requires against the current registry.
func (m *Manager) Deltas(reg Registry, format codec.Format, key string, oldData []byte, hadOld bool, newData []byte, hasNew bool) []objectstore.Mutation {
	var muts []objectstore.Mutation
	for _, e := range reg.Entries {
		if hadOld {
			if v, ok := m.fieldIndexString(format, e.Kind, oldData, e.Field); ok {
				muts = append(muts, objectstore.Mutation{Path: m.DerivePath(e.Field, e.Kind, v, key), Delete: true})
			}
		}
		if hasNew {
			if v, ok := m.fieldIndexString(format, e.Kind, newData, e.Field); ok {
				muts = append(muts, objectstore.Mutation{Path: m.DerivePath(e.Field, e.Kind, v, key), Data: []byte(key)})
			}
		}
	}
	return muts
}

// Record pairs a decoded record key with its raw encoded bytes, as
// produced by a full scan of the record tree (used by Rebuild).
type Record struct {
	Key  string
	Data []byte
}

// Rebuild computes the full set of index-tree mutations needed to
// materialize every registered index from scratch over records, used by
// AddIndex, RevertN/RevertTo (on every revert), and ApplyTransaction's
// non-fast-forward merge.
// The returned mutations assume an empty "_index/" subtree as their base;
// callers are responsible for deleting any stale "_index/" entries first
// (or building against a base tree that has none).
func (m *Manager) Rebuild(reg Registry, format codec.Format, records []Record) []objectstore.Mutation {
	var muts []objectstore.Mutation
	for _, rec := range records {
		muts = append(muts, m.Deltas(reg, format, rec.Key, nil, false, rec.Data, true)...)
	}
	return muts
}
