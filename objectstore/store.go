// Package objectstore is a thin facade over the underlying git-compatible
// object database: read blob, build tree, commit, resolve ref, update ref,
// and push. This is the spec's "external collaborator" — the low-level
// object database itself is provided by github.com/go-git/go-git/v5; this
// package only adapts its API to the narrow surface the rest of yamabiko
// needs.
package objectstore

import (
	"context"
	"fmt"
	"time"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
)

// Oid identifies a content-addressed git object.
type Oid = plumbing.Hash

// ZeroOid is the absence of an object (e.g. "no parent commit").
var ZeroOid = plumbing.ZeroHash

// ParseOid parses the hex string form of an Oid, as produced by Oid.String().
func ParseOid(s string) (Oid, error) {
	if !plumbing.IsHash(s) {
		return ZeroOid, fmt.Errorf("%q is not a valid object id", s)
	}
	return plumbing.NewHash(s), nil
}

// Author identifies the commit signature used for a mutation.
type Author struct {
	Name  string
	Email string
	When  time.Time
}

// Mutation describes a single path's fate in a tree-building operation.
// Delete == true removes the path; otherwise Data is written as a new blob
// at Path.
type Mutation struct {
	Path   string
	Data   []byte
	Delete bool
}

// TreeEntry is a single named child of a tree, as returned by ListTree.
type TreeEntry struct {
	Name  string
	IsDir bool
	Oid   Oid
}

// PushRejected is returned by Push when the remote has diverged and a
// fast-forward isn't possible.
type PushRejected struct {
	Remote string
	Err    error
}

func (e *PushRejected) Error() string {
	return "push to " + e.Remote + " rejected (non-fast-forward): " + e.Err.Error()
}

func (e *PushRejected) Unwrap() error { return e.Err }

// Store is the facade the rest of yamabiko programs against. All methods
// are synchronous; the Collection above linearizes access with its own
// lock, so implementations need not be internally concurrent-safe across
// calls (though they must be safe to call from the goroutine backing a
// replication Future concurrently with the next write beginning, since
// pushes are fire-and-forget against a point-in-time ref value).
type Store interface {
	// Init creates a new bare repository at the store's path if one does
	// not already exist, with an initial empty commit on branch "main".
	// It is a no-op if the repository already exists.
	Init(ctx context.Context, author Author) error

	// EnsureRepo creates the bare repository at the store's path if one
	// does not already exist, without committing anything. Used by callers
	// (the Collection façade) that want to author their own first commit
	// rather than Init's generic empty one.
	EnsureRepo(ctx context.Context) error

	// ReadBlob returns the blob content at path as of ref's tip. ok is
	// false if path does not exist in that tree.
	ReadBlob(ctx context.Context, ref, path string) (data []byte, ok bool, err error)

	// BlobOid resolves path to its blob's Oid as of ref's tip, without
	// reading its content, used by the query engine to report each match's
	// object ID alongside its key.
	BlobOid(ctx context.Context, ref, path string) (oid Oid, ok bool, err error)

	// ListTreeAt lists the immediate children of path rooted at an explicit
	// tree Oid rather than a branch tip, used by the transaction manager to
	// inspect an ancestor commit's tree that no ref points at directly.
	ListTreeAt(ctx context.Context, tree Oid, path string) ([]TreeEntry, error)

	// ReadBlobAt reads a blob rooted at an explicit tree Oid, the ancestor
	// counterpart to ReadBlob.
	ReadBlobAt(ctx context.Context, tree Oid, path string) (data []byte, ok bool, err error)

	// ListTree lists the immediate children of path as of ref's tip.
	ListTree(ctx context.Context, ref, path string) ([]TreeEntry, error)

	// WriteBlob stores data as a blob, content-addressed, and returns its Oid.
	// It does not by itself make the blob reachable from any ref.
	WriteBlob(ctx context.Context, data []byte) (Oid, error)

	// BuildTree applies mutations on top of baseTree (ZeroOid for an empty
	// tree) and returns the resulting tree's Oid. Unchanged subtrees are
	// reused by reference (structural sharing), never rewritten.
	BuildTree(ctx context.Context, baseTree Oid, mutations []Mutation) (Oid, error)

	// Commit creates a new commit object with the given tree and parents,
	// then updates branch's ref to point at it. Returns the new commit Oid.
	Commit(ctx context.Context, tree Oid, parents []Oid, msg string, branch string, author Author) (Oid, error)

	// ResolveRef resolves a branch or tag name to its commit Oid. ok is
	// false if the ref does not exist.
	ResolveRef(ctx context.Context, name string) (Oid, bool, error)

	// CommitTree returns the tree Oid recorded by a commit.
	CommitTree(ctx context.Context, commit Oid) (Oid, error)

	// CommitParents returns a commit's parent Oids.
	CommitParents(ctx context.Context, commit Oid) ([]Oid, error)

	// CommitMessage returns a commit's message, used by the transaction
	// manager to recover a transaction branch's recorded base commit.
	CommitMessage(ctx context.Context, commit Oid) (string, error)

	// UpdateRef force-sets branch to point directly at commit, without
	// creating a new commit object (used by Commit and by the transaction
	// manager's fast-forward apply).
	UpdateRef(ctx context.Context, branch string, commit Oid) error

	// DeleteRef removes a branch ref entirely (used by AbandonTransaction).
	DeleteRef(ctx context.Context, branch string) error

	// Push pushes branch "main" (and no other ref) to remote using auth,
	// fast-forward only. Returns *PushRejected if the remote has
	// diverged.
	Push(ctx context.Context, remoteName, remoteURL string, auth transport.AuthMethod) error
}
