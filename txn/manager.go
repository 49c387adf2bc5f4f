// Package txn manages long-lived transaction branches: creation, the
// apply-merge algorithm ("transaction wins" on touched record paths, full
// index rebuild), and abandonment.
//
// Grounded structurally on the teacher's TwoPhaseCommitTransaction /
// Transaction split (transaction.go): a Manager exposes New, Apply, and
// Abandon, delegating tree-diff work to the object store and index rebuild
// work to the index package.
package txn

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/yamabiko-db/yamabiko/codec"
	"github.com/yamabiko-db/yamabiko/index"
	"github.com/yamabiko-db/yamabiko/objectstore"
	"github.com/yamabiko-db/yamabiko/shard"
)

// ErrTransactionNotFound is returned by Apply and Abandon when the named
// branch does not exist.
var ErrTransactionNotFound = errors.New("transaction not found")

// ErrTransactionConflict is returned by Apply when the transaction's
// recorded base commit can no longer be found, so no common ancestor can
// be established for the merge.
var ErrTransactionConflict = errors.New("transaction conflict: base commit unresolvable")

const baseMarkerPrefix = "txn-base:"

// Manager operates transaction branches against a single object store.
type Manager struct {
	Store objectstore.Store
}

// NewManager constructs a transaction Manager over store.
func NewManager(store objectstore.Store) *Manager {
	return &Manager{Store: store}
}

// New creates branch name at main's current tip, recording that tip as the
// transaction's base in an anchor commit's message so Apply can later find
// the common ancestor without a full history walk.
func (m *Manager) New(ctx context.Context, name string, author objectstore.Author) (objectstore.Oid, error) {
	tip, ok, err := m.Store.ResolveRef(ctx, objectstore.MainBranch)
	if err != nil {
		return objectstore.ZeroOid, err
	}
	if !ok {
		return objectstore.ZeroOid, fmt.Errorf("main branch has no commits")
	}
	tree, err := m.Store.CommitTree(ctx, tip)
	if err != nil {
		return objectstore.ZeroOid, err
	}
	msg := baseMarkerPrefix + tip.String()
	return m.Store.Commit(ctx, tree, []objectstore.Oid{tip}, msg, name, author)
}

// Abandon deletes the transaction branch ref. The commits it pointed to are
// left for the object store's own garbage collection.
func (m *Manager) Abandon(ctx context.Context, name string) error {
	if _, ok, err := m.Store.ResolveRef(ctx, name); err != nil {
		return err
	} else if !ok {
		return ErrTransactionNotFound
	}
	return m.Store.DeleteRef(ctx, name)
}

// Apply merges transaction branch name into main: fast-forward if main has
// not advanced since the transaction branched, otherwise a three-way merge
// where name's changes win on every record path it touched and main's
// current state is carried over everywhere else, with all indexes rebuilt
// from that merged record set per reg.
func (m *Manager) Apply(ctx context.Context, name string, reg index.Registry, format codec.Format, idxMgr *index.Manager, author objectstore.Author) (objectstore.Oid, error) {
	mainTip, ok, err := m.Store.ResolveRef(ctx, objectstore.MainBranch)
	if err != nil {
		return objectstore.ZeroOid, err
	}
	if !ok {
		return objectstore.ZeroOid, fmt.Errorf("main branch has no commits")
	}
	txnTip, ok, err := m.Store.ResolveRef(ctx, name)
	if err != nil {
		return objectstore.ZeroOid, err
	}
	if !ok {
		return objectstore.ZeroOid, ErrTransactionNotFound
	}

	base, err := m.findBase(ctx, txnTip)
	if err != nil {
		return objectstore.ZeroOid, err
	}

	if mainTip == base {
		// Fast-forward: main has not advanced since the branch forked.
		if err := m.Store.UpdateRef(ctx, objectstore.MainBranch, txnTip); err != nil {
			return objectstore.ZeroOid, err
		}
		_ = m.Store.DeleteRef(ctx, name)
		return txnTip, nil
	}

	merged, err := m.threeWayMerge(ctx, name, mainTip, txnTip, base, reg, format, idxMgr, author)
	if err != nil {
		return objectstore.ZeroOid, err
	}
	_ = m.Store.DeleteRef(ctx, name)
	return merged, nil
}

// findBase walks txnTip's first-parent chain looking for the anchor commit
// New left behind, and returns the base commit it recorded.
func (m *Manager) findBase(ctx context.Context, txnTip objectstore.Oid) (objectstore.Oid, error) {
	cur := txnTip
	for cur != objectstore.ZeroOid {
		msg, err := m.Store.CommitMessage(ctx, cur)
		if err != nil {
			return objectstore.ZeroOid, err
		}
		if oidStr, ok := strings.CutPrefix(msg, baseMarkerPrefix); ok {
			return objectstore.ParseOid(oidStr)
		}
		parents, err := m.Store.CommitParents(ctx, cur)
		if err != nil {
			return objectstore.ZeroOid, err
		}
		if len(parents) == 0 {
			break
		}
		cur = parents[0]
	}
	return objectstore.ZeroOid, ErrTransactionConflict
}

func (m *Manager) threeWayMerge(ctx context.Context, name string, mainTip, txnTip, base objectstore.Oid, reg index.Registry, format codec.Format, idxMgr *index.Manager, author objectstore.Author) (objectstore.Oid, error) {
	mainTree, err := m.Store.CommitTree(ctx, mainTip)
	if err != nil {
		return objectstore.ZeroOid, err
	}
	txnTree, err := m.Store.CommitTree(ctx, txnTip)
	if err != nil {
		return objectstore.ZeroOid, err
	}
	baseTree, err := m.Store.CommitTree(ctx, base)
	if err != nil {
		return objectstore.ZeroOid, err
	}

	basePaths, err := recordPaths(ctx, m.Store, baseTree)
	if err != nil {
		return objectstore.ZeroOid, err
	}
	txnPaths, err := recordPaths(ctx, m.Store, txnTree)
	if err != nil {
		return objectstore.ZeroOid, err
	}
	mainPaths, err := recordPaths(ctx, m.Store, mainTree)
	if err != nil {
		return objectstore.ZeroOid, err
	}

	touched := map[string]bool{}
	for p, oid := range txnPaths {
		if baseOid, ok := basePaths[p]; !ok || baseOid != oid {
			touched[p] = true
		}
	}
	for p := range basePaths {
		if _, ok := txnPaths[p]; !ok {
			touched[p] = true
		}
	}

	var overlay []objectstore.Mutation
	for p := range union(mainPaths, txnPaths) {
		if touched[p] {
			continue
		}
		if _, ok := mainPaths[p]; ok {
			data, found, err := m.Store.ReadBlob(ctx, objectstore.MainBranch, p)
			if err != nil {
				return objectstore.ZeroOid, err
			}
			if found {
				overlay = append(overlay, objectstore.Mutation{Path: p, Data: data})
			}
			continue
		}
		// Present in txn, absent from main, and untouched by the
		// transaction: main deleted it after the branch forked.
		overlay = append(overlay, objectstore.Mutation{Path: p, Delete: true})
	}

	mergedRecordTree, err := m.Store.BuildTree(ctx, txnTree, overlay)
	if err != nil {
		return objectstore.ZeroOid, err
	}

	// Strip whatever index entries the merged tree inherited from the
	// transaction branch; they are about to be recomputed from scratch.
	staleIndexPaths, err := allLeafPaths(ctx, m.Store, mergedRecordTree, index.ReservedPrefix)
	if err != nil {
		return objectstore.ZeroOid, err
	}
	var stripIndex []objectstore.Mutation
	for _, p := range staleIndexPaths {
		stripIndex = append(stripIndex, objectstore.Mutation{Path: p, Delete: true})
	}
	indexlessTree, err := m.Store.BuildTree(ctx, mergedRecordTree, stripIndex)
	if err != nil {
		return objectstore.ZeroOid, err
	}

	finalRecordPaths, err := recordPaths(ctx, m.Store, indexlessTree)
	if err != nil {
		return objectstore.ZeroOid, err
	}
	records := make([]index.Record, 0, len(finalRecordPaths))
	for p := range finalRecordPaths {
		data, ok, err := m.Store.ReadBlobAt(ctx, indexlessTree, p)
		if err != nil {
			return objectstore.ZeroOid, err
		}
		if !ok {
			continue
		}
		records = append(records, index.Record{Key: shard.KeyFromPath(p), Data: data})
	}
	rebuiltIndex := idxMgr.Rebuild(reg, format, records)

	regData, err := reg.Marshal()
	if err != nil {
		return objectstore.ZeroOid, err
	}
	rebuiltIndex = append(rebuiltIndex, objectstore.Mutation{Path: index.ReservedPath, Data: regData})

	finalTree, err := m.Store.BuildTree(ctx, indexlessTree, rebuiltIndex)
	if err != nil {
		return objectstore.ZeroOid, err
	}

	return m.Store.Commit(ctx, finalTree, []objectstore.Oid{mainTip, txnTip}, "apply transaction "+name, objectstore.MainBranch, author)
}

func union(a, b map[string]objectstore.Oid) map[string]struct{} {
	out := make(map[string]struct{}, len(a)+len(b))
	for p := range a {
		out[p] = struct{}{}
	}
	for p := range b {
		out[p] = struct{}{}
	}
	return out
}

// recordPaths recursively lists every blob leaf path under tree, excluding
// the reserved _index/_format/_index_registry namespace, mapping each to
// its blob Oid.
func recordPaths(ctx context.Context, store objectstore.Store, tree objectstore.Oid) (map[string]objectstore.Oid, error) {
	out := map[string]objectstore.Oid{}
	var walk func(prefix string) error
	walk = func(prefix string) error {
		entries, err := store.ListTreeAt(ctx, tree, prefix)
		if err != nil {
			return err
		}
		for _, e := range entries {
			full := e.Name
			if prefix != "" {
				full = prefix + "/" + e.Name
			}
			if prefix == "" && (e.Name == shard.ReservedPrefix || shard.ReservedPaths[e.Name]) {
				continue
			}
			if e.IsDir {
				if err := walk(full); err != nil {
					return err
				}
				continue
			}
			out[full] = e.Oid
		}
		return nil
	}
	if err := walk(""); err != nil {
		return nil, err
	}
	return out, nil
}

// allLeafPaths recursively lists every blob leaf path under tree/prefix,
// without excluding the reserved namespace (used to enumerate stale index
// leaves for deletion).
func allLeafPaths(ctx context.Context, store objectstore.Store, tree objectstore.Oid, prefix string) ([]string, error) {
	var out []string
	var walk func(p string) error
	walk = func(p string) error {
		entries, err := store.ListTreeAt(ctx, tree, p)
		if err != nil {
			return err
		}
		for _, e := range entries {
			full := p + "/" + e.Name
			if e.IsDir {
				if err := walk(full); err != nil {
					return err
				}
				continue
			}
			out = append(out, full)
		}
		return nil
	}
	if err := walk(prefix); err != nil {
		return nil, err
	}
	return out, nil
}
