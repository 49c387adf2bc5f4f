package objectstore

import (
	"context"
	"sort"
	"strings"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"
)

// mutationNode is one level of the path trie built from a flat Mutation
// slice before it's merged with a base tree.
type mutationNode struct {
	leafData   []byte
	leafDelete bool
	isLeaf     bool
	children   map[string]*mutationNode
}

func buildMutationTrie(mutations []Mutation) *mutationNode {
	root := &mutationNode{children: map[string]*mutationNode{}}
	for _, m := range mutations {
		segs := strings.Split(m.Path, "/")
		cur := root
		for i, seg := range segs {
			last := i == len(segs)-1
			child, ok := cur.children[seg]
			if !ok {
				child = &mutationNode{children: map[string]*mutationNode{}}
				cur.children[seg] = child
			}
			if last {
				child.isLeaf = true
				child.leafData = m.Data
				child.leafDelete = m.Delete
			}
			cur = child
		}
	}
	return root
}

// buildTree applies node's mutations on top of base (nil for an empty
// tree), writing any new tree/blob objects to store, and returns the
// resulting tree's Oid. Directory entries untouched by node are copied by
// reference from base without being re-encoded.
func buildTree(ctx context.Context, os storer.EncodedObjectStorer, base *object.Tree, node *mutationNode) (Oid, error) {
	entries := map[string]object.TreeEntry{}
	if base != nil {
		for _, e := range base.Entries {
			entries[e.Name] = e
		}
	}

	names := make([]string, 0, len(node.children))
	for name := range node.children {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		child := node.children[name]
		if child.isLeaf && len(child.children) == 0 {
			if child.leafDelete {
				delete(entries, name)
				continue
			}
			oid, err := writeBlob(os, child.leafData)
			if err != nil {
				return ZeroOid, err
			}
			entries[name] = object.TreeEntry{Name: name, Mode: filemode.Regular, Hash: oid}
			continue
		}

		// Directory: resolve the existing subtree (if any) to recurse on.
		var childBase *object.Tree
		if existing, ok := entries[name]; ok && existing.Mode == filemode.Dir {
			t, err := object.GetTree(os, existing.Hash)
			if err != nil {
				return ZeroOid, err
			}
			childBase = t
		}
		childOid, err := buildTree(ctx, os, childBase, child)
		if err != nil {
			return ZeroOid, err
		}
		// A subtree that ended up empty (all entries deleted) is dropped
		// entirely rather than persisted as an empty tree object.
		if isEmptyTree(os, childOid) {
			delete(entries, name)
			continue
		}
		entries[name] = object.TreeEntry{Name: name, Mode: filemode.Dir, Hash: childOid}
	}

	final := make([]object.TreeEntry, 0, len(entries))
	for _, e := range entries {
		final = append(final, e)
	}
	sort.Slice(final, func(i, j int) bool { return final[i].Name < final[j].Name })

	return writeTree(os, final)
}

func isEmptyTree(os storer.EncodedObjectStorer, oid Oid) bool {
	t, err := object.GetTree(os, oid)
	if err != nil {
		return false
	}
	return len(t.Entries) == 0
}

func writeBlob(os storer.EncodedObjectStorer, data []byte) (Oid, error) {
	obj := os.NewEncodedObject()
	obj.SetType(plumbing.BlobObject)
	w, err := obj.Writer()
	if err != nil {
		return ZeroOid, err
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return ZeroOid, err
	}
	if err := w.Close(); err != nil {
		return ZeroOid, err
	}
	return os.SetEncodedObject(obj)
}

func writeTree(os storer.EncodedObjectStorer, entries []object.TreeEntry) (Oid, error) {
	t := object.Tree{Entries: entries}
	obj := os.NewEncodedObject()
	obj.SetType(plumbing.TreeObject)
	if err := t.Encode(obj); err != nil {
		return ZeroOid, err
	}
	return os.SetEncodedObject(obj)
}
