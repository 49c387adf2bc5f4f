package txn

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yamabiko-db/yamabiko/codec"
	"github.com/yamabiko-db/yamabiko/index"
	"github.com/yamabiko-db/yamabiko/objectstore"
	"github.com/yamabiko-db/yamabiko/shard"
)

func newStore(t *testing.T) objectstore.Store {
	t.Helper()
	store, err := objectstore.OpenInMemory()
	require.NoError(t, err)
	require.NoError(t, store.Init(context.Background(), testAuthor()))
	return store
}

func testAuthor() objectstore.Author {
	return objectstore.Author{Name: "t", Email: "t@t", When: time.Unix(0, 0)}
}

func setRecord(t *testing.T, store objectstore.Store, branch, key string, value map[string]any) {
	t.Helper()
	ctx := context.Background()
	j, _ := codec.For(codec.FormatJSON)
	data, err := j.Marshal(value)
	require.NoError(t, err)
	p, err := shard.Path(key)
	require.NoError(t, err)

	tip, ok, err := store.ResolveRef(ctx, branch)
	require.NoError(t, err)
	require.True(t, ok)
	baseTree, err := store.CommitTree(ctx, tip)
	require.NoError(t, err)
	newTree, err := store.BuildTree(ctx, baseTree, []objectstore.Mutation{{Path: p, Data: data}})
	require.NoError(t, err)
	_, err = store.Commit(ctx, newTree, []objectstore.Oid{tip}, "set "+key, branch, testAuthor())
	require.NoError(t, err)
}

func TestApplyFastForwardWhenMainUnchanged(t *testing.T) {
	store := newStore(t)
	mgr := NewManager(store)
	ctx := context.Background()

	_, err := mgr.New(ctx, "t1", testAuthor())
	require.NoError(t, err)
	setRecord(t, store, "t1", "k", map[string]any{"v": 1})

	txnTip, _, _ := store.ResolveRef(ctx, "t1")
	merged, err := mgr.Apply(ctx, "t1", index.Registry{}, codec.FormatJSON, index.NewManager(16), testAuthor())
	require.NoError(t, err)
	assert.Equal(t, txnTip, merged)

	mainTip, ok, err := store.ResolveRef(ctx, objectstore.MainBranch)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, txnTip, mainTip)

	_, ok, err = store.ResolveRef(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestApplyTransactionWinsOnConflict(t *testing.T) {
	store := newStore(t)
	mgr := NewManager(store)
	ctx := context.Background()

	_, err := mgr.New(ctx, "t1", testAuthor())
	require.NoError(t, err)
	setRecord(t, store, "t1", "k", map[string]any{"v": "from-txn"})
	setRecord(t, store, objectstore.MainBranch, "k", map[string]any{"v": "from-main"})

	_, err = mgr.Apply(ctx, "t1", index.Registry{}, codec.FormatJSON, index.NewManager(16), testAuthor())
	require.NoError(t, err)

	p, _ := shard.Path("k")
	data, ok, err := store.ReadBlob(ctx, objectstore.MainBranch, p)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Contains(t, string(data), "from-txn")
}

func TestApplyPreservesUntouchedMainRecords(t *testing.T) {
	store := newStore(t)
	mgr := NewManager(store)
	ctx := context.Background()

	_, err := mgr.New(ctx, "t1", testAuthor())
	require.NoError(t, err)
	setRecord(t, store, "t1", "only-in-txn", map[string]any{"v": 1})
	setRecord(t, store, objectstore.MainBranch, "only-in-main", map[string]any{"v": 2})

	_, err = mgr.Apply(ctx, "t1", index.Registry{}, codec.FormatJSON, index.NewManager(16), testAuthor())
	require.NoError(t, err)

	p1, _ := shard.Path("only-in-txn")
	_, ok, err := store.ReadBlob(ctx, objectstore.MainBranch, p1)
	require.NoError(t, err)
	assert.True(t, ok)

	p2, _ := shard.Path("only-in-main")
	_, ok, err = store.ReadBlob(ctx, objectstore.MainBranch, p2)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAbandonDeletesBranch(t *testing.T) {
	store := newStore(t)
	mgr := NewManager(store)
	ctx := context.Background()

	_, err := mgr.New(ctx, "t1", testAuthor())
	require.NoError(t, err)
	require.NoError(t, mgr.Abandon(ctx, "t1"))

	_, ok, err := store.ResolveRef(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestApplyUnknownTransactionFails(t *testing.T) {
	store := newStore(t)
	mgr := NewManager(store)
	ctx := context.Background()

	_, err := mgr.Apply(ctx, "missing", index.Registry{}, codec.FormatJSON, index.NewManager(16), testAuthor())
	assert.ErrorIs(t, err, ErrTransactionNotFound)
}
