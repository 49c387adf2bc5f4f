// Copyright yamabiko authors

/*
Package yamabiko implements an embedded key-value database whose storage
engine is a content-addressed version control repository of the git family.

Records are serialized values stored as immutable blobs under a hierarchical
namespace of tree objects. Every mutation is captured as a new commit,
giving full history, cheap branching for long-lived transactions, and
replication to remote peers via the same transport git itself uses for
push/fetch.

	col, _ := yamabiko.OpenOrCreate(ctx, "/tmp/mydb", codec.FormatJSON)
	col.Set(ctx, "a/b/c", map[string]int{"x": 1}, yamabiko.Main)
	var v map[string]int
	found, _ := col.Get(ctx, "a/b/c", yamabiko.Main, &v)

The package is organized the way a small, focused storage engine should be:
a root package exposing the Collection façade, and leaf packages for each
concern (codec, shard, objectstore, index, txn, query, replica) that the
façade wires together. The underlying git object database itself is an
external collaborator, provided here by go-git.
*/
package yamabiko
