package query

import (
	"context"
	"fmt"
	"sort"

	"github.com/yamabiko-db/yamabiko/codec"
	"github.com/yamabiko-db/yamabiko/index"
	"github.com/yamabiko-db/yamabiko/objectstore"
	"github.com/yamabiko-db/yamabiko/shard"
)

// Result is one matching record, as spec.md §4.7 describes: "an ordered
// sequence of record object IDs plus their keys".
type Result struct {
	Key string
	Oid objectstore.Oid
}

// Engine executes predicates against a Store's committed trees.
type Engine struct {
	Store  objectstore.Store
	Format codec.Format
}

// NewEngine constructs a query Engine bound to a collection's object store
// and codec format.
func NewEngine(store objectstore.Store, format codec.Format) *Engine {
	return &Engine{Store: store, Format: format}
}

// Run evaluates predicate against ref's tip, using reg to pick indexes
// where possible and falling back to a full scan per clause otherwise.
// Results are deduplicated by key across clauses and ordered by key for a
// stable return sequence. limit <= 0 means unlimited.
func (e *Engine) Run(ctx context.Context, ref string, reg index.Registry, predicate Predicate, limit int) ([]Result, error) {
	plans := plan(reg, ToDNF(predicate))

	seen := map[string]bool{}
	var out []Result
	for _, cp := range plans {
		keys, err := e.candidateKeys(ctx, ref, cp)
		if err != nil {
			return nil, err
		}
		for _, key := range keys {
			if seen[key] {
				continue
			}
			data, ok, err := e.readRecord(ctx, ref, key)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			if !EvalClause(cp.leaves, e.fieldLookup(data)) {
				continue
			}
			seen[key] = true
			oid, err := e.oidFor(ctx, ref, key)
			if err != nil {
				return nil, err
			}
			out = append(out, Result{Key: key, Oid: oid})
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (e *Engine) fieldLookup(data []byte) func(field string) (any, bool) {
	return func(field string) (any, bool) {
		return codec.ExtractField(e.Format, data, field)
	}
}

func (e *Engine) readRecord(ctx context.Context, ref, key string) ([]byte, bool, error) {
	p, err := shard.Path(key)
	if err != nil {
		return nil, false, nil
	}
	return e.Store.ReadBlob(ctx, ref, p)
}

func (e *Engine) oidFor(ctx context.Context, ref, key string) (objectstore.Oid, error) {
	p, err := shard.Path(key)
	if err != nil {
		return objectstore.ZeroOid, err
	}
	oid, _, err := e.Store.BlobOid(ctx, ref, p)
	return oid, err
}

// candidateKeys returns the record keys a clause's execution strategy
// yields: an index-driven tree walk if cp.indexLeaf is set, or a full scan
// of the record tree (excluding reserved paths) otherwise.
func (e *Engine) candidateKeys(ctx context.Context, ref string, cp clausePlan) ([]string, error) {
	if cp.indexLeaf == nil {
		return e.fullScanKeys(ctx, ref)
	}
	return e.indexWalkKeys(ctx, ref, *cp.indexLeaf, cp.kind)
}

// indexWalkKeys walks "_index/<field>/<kind>/..." selecting only the
// value-directories that satisfy the leaf's operator, then reads each
// surviving leaf blob to recover the record key it names.
func (e *Engine) indexWalkKeys(ctx context.Context, ref string, leaf Leaf, kind index.Kind) ([]string, error) {
	var target string
	var ok bool
	if kind == index.Numeric {
		target, ok = index.CoerceNumeric(leaf.Literal)
	} else {
		target, ok = index.Stringify(leaf.Literal), true
	}
	if !ok {
		return nil, nil
	}
	targetEscaped := index.EscapeValue(target)

	base := fmt.Sprintf("%s/%s/%s", index.ReservedPrefix, leaf.Field, kind)
	buckets, err := e.Store.ListTree(ctx, ref, base)
	if err != nil {
		return nil, err
	}

	var keys []string
	for _, b := range buckets {
		if !b.IsDir {
			continue
		}
		bucketPath := base + "/" + b.Name
		values, err := e.Store.ListTree(ctx, ref, bucketPath)
		if err != nil {
			return nil, err
		}
		for _, v := range values {
			if !v.IsDir {
				continue
			}
			if !matches(leaf.Op, v.Name, targetEscaped) {
				continue
			}
			valuePath := bucketPath + "/" + v.Name
			leaves, err := e.Store.ListTree(ctx, ref, valuePath)
			if err != nil {
				return nil, err
			}
			for _, lf := range leaves {
				data, found, err := e.Store.ReadBlob(ctx, ref, valuePath+"/"+lf.Name)
				if err != nil {
					return nil, err
				}
				if found {
					keys = append(keys, string(data))
				}
			}
		}
	}
	return keys, nil
}

// matches compares an index value-directory name against the escaped
// target, using the operator to decide whether this directory's records
// are viable candidates. Directory names sort lexicographically in the
// same relative order as the canonical encodings they hold (numeric
// encodings are order-preserving by construction; Sequential values are
// compared as plain strings), so ordinary string comparison suffices.
func matches(op Op, value, target string) bool {
	switch op {
	case Eq:
		return value == target
	case Ne:
		return value != target
	case Lt:
		return value < target
	case Le:
		return value <= target
	case Gt:
		return value > target
	case Ge:
		return value >= target
	default:
		return false
	}
}

// fullScanKeys walks every record path in the tree, excluding the reserved
// "_index/", "_format", and "_index_registry" entries, reversing each
// shard path back to its original key via shard.KeyFromPath.
func (e *Engine) fullScanKeys(ctx context.Context, ref string) ([]string, error) {
	var keys []string
	var walk func(path string) error
	walk = func(path string) error {
		entries, err := e.Store.ListTree(ctx, ref, path)
		if err != nil {
			return err
		}
		for _, entry := range entries {
			full := entry.Name
			if path != "" {
				full = path + "/" + entry.Name
			}
			if path == "" && (entry.Name == shard.ReservedPrefix || shard.ReservedPaths[entry.Name]) {
				continue
			}
			if entry.IsDir {
				if err := walk(full); err != nil {
					return err
				}
				continue
			}
			keys = append(keys, shard.KeyFromPath(full))
		}
		return nil
	}
	if err := walk(""); err != nil {
		return nil, err
	}
	return keys, nil
}
