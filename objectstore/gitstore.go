package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
)

// MainBranch is the engine's main line of history.
const MainBranch = "main"

type gitStore struct {
	path string
	repo *git.Repository
}

// Open opens (or, if absent, does not create — call Init for that) the bare
// repository at path.
func Open(path string) (Store, error) {
	repo, err := git.PlainOpen(path)
	if err != nil {
		return nil, err
	}
	return &gitStore{path: path, repo: repo}, nil
}

// OpenInMemory is used by tests that want a Store without touching disk.
func OpenInMemory() (Store, error) {
	repo, err := git.Init(newMemoryStorage(), nil)
	if err != nil {
		return nil, err
	}
	return &gitStore{path: "", repo: repo}, nil
}

// NewAt returns a Store bound to path without requiring a repository to
// already exist there. Call EnsureRepo or Init before any other method.
func NewAt(path string) Store {
	return &gitStore{path: path}
}

func (g *gitStore) EnsureRepo(ctx context.Context) error {
	if g.repo != nil {
		return nil
	}
	repo, err := git.PlainInitWithOptions(g.path, &git.PlainInitOptions{
		Bare: true,
		InitOptions: git.InitOptions{
			DefaultBranch: plumbing.ReferenceName(refName(MainBranch)),
		},
	})
	if err != nil && !errors.Is(err, git.ErrRepositoryAlreadyExists) {
		return err
	}
	if err == nil {
		g.repo = repo
		return nil
	}
	repo, err = git.PlainOpen(g.path)
	if err != nil {
		return err
	}
	g.repo = repo
	return nil
}

func (g *gitStore) Init(ctx context.Context, author Author) error {
	if err := g.EnsureRepo(ctx); err != nil {
		return err
	}

	if _, ok, err := g.ResolveRef(ctx, MainBranch); err != nil {
		return err
	} else if ok {
		return nil
	}

	emptyTree, err := writeTree(g.repo.Storer, nil)
	if err != nil {
		return err
	}
	_, err = g.Commit(ctx, emptyTree, nil, "init", MainBranch, author)
	return err
}

func refName(branch string) string {
	return "refs/heads/" + branch
}

func (g *gitStore) resolveTree(ref string) (*object.Tree, Oid, error) {
	commitOid, ok, err := g.ResolveRef(context.Background(), ref)
	if err != nil {
		return nil, ZeroOid, err
	}
	if !ok {
		return nil, ZeroOid, nil
	}
	commit, err := object.GetCommit(g.repo.Storer, commitOid)
	if err != nil {
		return nil, ZeroOid, err
	}
	tree, err := object.GetTree(g.repo.Storer, commit.TreeHash)
	if err != nil {
		return nil, ZeroOid, err
	}
	return tree, commit.TreeHash, nil
}

func (g *gitStore) ReadBlob(ctx context.Context, ref, path string) ([]byte, bool, error) {
	tree, _, err := g.resolveTree(ref)
	if err != nil {
		return nil, false, err
	}
	if tree == nil {
		return nil, false, nil
	}
	entry, err := tree.FindEntry(path)
	if err != nil {
		return nil, false, nil
	}
	blob, err := object.GetBlob(g.repo.Storer, entry.Hash)
	if err != nil {
		return nil, false, err
	}
	r, err := blob.Reader()
	if err != nil {
		return nil, false, err
	}
	defer r.Close()
	data := make([]byte, blob.Size)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (g *gitStore) BlobOid(ctx context.Context, ref, path string) (Oid, bool, error) {
	tree, _, err := g.resolveTree(ref)
	if err != nil {
		return ZeroOid, false, err
	}
	if tree == nil {
		return ZeroOid, false, nil
	}
	entry, err := tree.FindEntry(path)
	if err != nil {
		return ZeroOid, false, nil
	}
	return entry.Hash, true, nil
}

func (g *gitStore) ListTree(ctx context.Context, ref, path string) ([]TreeEntry, error) {
	tree, _, err := g.resolveTree(ref)
	if err != nil {
		return nil, err
	}
	if tree == nil {
		return nil, nil
	}
	sub := tree
	if path != "" {
		entry, err := tree.FindEntry(path)
		if err != nil {
			return nil, nil
		}
		if entry.Mode != filemode.Dir {
			return nil, fmt.Errorf("%s is not a directory", path)
		}
		sub, err = object.GetTree(g.repo.Storer, entry.Hash)
		if err != nil {
			return nil, err
		}
	}
	out := make([]TreeEntry, 0, len(sub.Entries))
	for _, e := range sub.Entries {
		out = append(out, TreeEntry{Name: e.Name, IsDir: e.Mode == filemode.Dir, Oid: e.Hash})
	}
	return out, nil
}

func (g *gitStore) ListTreeAt(ctx context.Context, tree Oid, path string) ([]TreeEntry, error) {
	root, err := object.GetTree(g.repo.Storer, tree)
	if err != nil {
		return nil, err
	}
	sub := root
	if path != "" {
		entry, err := root.FindEntry(path)
		if err != nil {
			return nil, nil
		}
		if entry.Mode != filemode.Dir {
			return nil, fmt.Errorf("%s is not a directory", path)
		}
		sub, err = object.GetTree(g.repo.Storer, entry.Hash)
		if err != nil {
			return nil, err
		}
	}
	out := make([]TreeEntry, 0, len(sub.Entries))
	for _, e := range sub.Entries {
		out = append(out, TreeEntry{Name: e.Name, IsDir: e.Mode == filemode.Dir, Oid: e.Hash})
	}
	return out, nil
}

func (g *gitStore) ReadBlobAt(ctx context.Context, tree Oid, path string) ([]byte, bool, error) {
	root, err := object.GetTree(g.repo.Storer, tree)
	if err != nil {
		return nil, false, err
	}
	entry, err := root.FindEntry(path)
	if err != nil {
		return nil, false, nil
	}
	blob, err := object.GetBlob(g.repo.Storer, entry.Hash)
	if err != nil {
		return nil, false, err
	}
	r, err := blob.Reader()
	if err != nil {
		return nil, false, err
	}
	defer r.Close()
	data := make([]byte, blob.Size)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (g *gitStore) WriteBlob(ctx context.Context, data []byte) (Oid, error) {
	return writeBlob(g.repo.Storer, data)
}

func (g *gitStore) BuildTree(ctx context.Context, baseTree Oid, mutations []Mutation) (Oid, error) {
	var base *object.Tree
	if baseTree != ZeroOid {
		t, err := object.GetTree(g.repo.Storer, baseTree)
		if err != nil {
			return ZeroOid, err
		}
		base = t
	}
	trie := buildMutationTrie(mutations)
	oid, err := buildTree(ctx, g.repo.Storer, base, trie)
	if err != nil {
		return ZeroOid, err
	}
	if oid == ZeroOid {
		// buildTree writes every tree it builds, even an empty one, and
		// returns ZeroOid only together with an error, so this is a guard
		// that writes the canonical empty tree explicitly.
		return writeTree(g.repo.Storer, nil)
	}
	return oid, nil
}

func (g *gitStore) Commit(ctx context.Context, tree Oid, parents []Oid, msg string, branch string, author Author) (Oid, error) {
	sig := object.Signature{Name: author.Name, Email: author.Email, When: author.When}
	commit := &object.Commit{
		Author:       sig,
		Committer:    sig,
		Message:      msg,
		TreeHash:     tree,
		ParentHashes: parents,
	}
	obj := g.repo.Storer.NewEncodedObject()
	obj.SetType(plumbing.CommitObject)
	if err := commit.Encode(obj); err != nil {
		return ZeroOid, err
	}
	oid, err := g.repo.Storer.SetEncodedObject(obj)
	if err != nil {
		return ZeroOid, err
	}
	if err := g.UpdateRef(ctx, branch, oid); err != nil {
		return ZeroOid, err
	}
	return oid, nil
}

func (g *gitStore) ResolveRef(ctx context.Context, name string) (Oid, bool, error) {
	ref, err := g.repo.Storer.Reference(plumbing.ReferenceName(refName(name)))
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return ZeroOid, false, nil
	}
	if err != nil {
		return ZeroOid, false, err
	}
	return ref.Hash(), true, nil
}

func (g *gitStore) CommitTree(ctx context.Context, commit Oid) (Oid, error) {
	c, err := object.GetCommit(g.repo.Storer, commit)
	if err != nil {
		return ZeroOid, err
	}
	return c.TreeHash, nil
}

func (g *gitStore) CommitParents(ctx context.Context, commit Oid) ([]Oid, error) {
	c, err := object.GetCommit(g.repo.Storer, commit)
	if err != nil {
		return nil, err
	}
	return c.ParentHashes, nil
}

func (g *gitStore) CommitMessage(ctx context.Context, commit Oid) (string, error) {
	c, err := object.GetCommit(g.repo.Storer, commit)
	if err != nil {
		return "", err
	}
	return c.Message, nil
}

func (g *gitStore) UpdateRef(ctx context.Context, branch string, commit Oid) error {
	ref := plumbing.NewHashReference(plumbing.ReferenceName(refName(branch)), commit)
	return g.repo.Storer.SetReference(ref)
}

func (g *gitStore) DeleteRef(ctx context.Context, branch string) error {
	return g.repo.Storer.RemoveReference(plumbing.ReferenceName(refName(branch)))
}

func (g *gitStore) Push(ctx context.Context, remoteName, remoteURL string, auth transport.AuthMethod) error {
	_, err := g.repo.Remote(remoteName)
	if errors.Is(err, git.ErrRemoteNotFound) {
		_, err = g.repo.CreateRemote(&config.RemoteConfig{
			Name: remoteName,
			URLs: []string{remoteURL},
		})
	}
	if err != nil {
		return err
	}

	err = g.repo.PushContext(ctx, &git.PushOptions{
		RemoteName: remoteName,
		RefSpecs: []config.RefSpec{
			config.RefSpec(fmt.Sprintf("%s:%s", refName(MainBranch), refName(MainBranch))),
		},
		Auth: auth,
	})
	switch {
	case err == nil, errors.Is(err, git.NoErrAlreadyUpToDate):
		return nil
	case isNonFastForward(err):
		return &PushRejected{Remote: remoteName, Err: err}
	default:
		return err
	}
}

func isNonFastForward(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "non-fast-forward") ||
		strings.Contains(err.Error(), "fetch first")
}
