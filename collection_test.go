package yamabiko

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yamabiko-db/yamabiko/codec"
	"github.com/yamabiko-db/yamabiko/index"
	"github.com/yamabiko-db/yamabiko/query"
	"github.com/yamabiko-db/yamabiko/replica"
)

func TestOpenOrCreateSetGetOneCommitPlusInit(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	col, err := OpenOrCreate(ctx, filepath.Join(dir, "t1"), codec.FormatJSON)
	require.NoError(t, err)

	_, err = col.Set(ctx, "a/b/c", map[string]int{"x": 1}, Main)
	require.NoError(t, err)

	var v map[string]int
	found, err := col.Get(ctx, "a/b/c", Main, &v)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, map[string]int{"x": 1}, v)

	tip, ok, err := col.store.ResolveRef(ctx, Main)
	require.NoError(t, err)
	require.True(t, ok)
	parents, err := col.store.CommitParents(ctx, tip)
	require.NoError(t, err)
	require.Len(t, parents, 1, "exactly one user-visible commit plus the initialization commit")

	grandparents, err := col.store.CommitParents(ctx, parents[0])
	require.NoError(t, err)
	assert.Empty(t, grandparents, "initialization commit has no parent")
}

func TestOpenExistingRejectsFormatMismatch(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "mismatch")

	_, err := OpenOrCreate(ctx, dir, codec.FormatJSON)
	require.NoError(t, err)

	_, err = OpenOrCreate(ctx, dir, codec.FormatYAML)
	require.Error(t, err)
	var yErr *Error
	require.ErrorAs(t, err, &yErr)
	assert.Equal(t, FormatMismatch, yErr.Code)
}

func TestNumericIndexRangeQuery(t *testing.T) {
	ctx := context.Background()
	col, err := OpenOrCreate(ctx, filepath.Join(t.TempDir(), "t2"), codec.FormatJSON)
	require.NoError(t, err)

	require.NoError(t, col.AddIndex(ctx, "n", index.Numeric, Main))

	_, err = col.Set(ctx, "k1", map[string]int{"n": 5}, Main)
	require.NoError(t, err)
	_, err = col.Set(ctx, "k2", map[string]int{"n": 15}, Main)
	require.NoError(t, err)
	_, err = col.Set(ctx, "k3", map[string]int{"n": 25}, Main)
	require.NoError(t, err)

	results, err := col.Query(ctx, Main, query.And{Children: []query.Predicate{
		query.Leaf{Field: "n", Op: query.Ge, Literal: int64(10)},
		query.Leaf{Field: "n", Op: query.Le, Literal: int64(20)},
	}}, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "k2", results[0].Key)
}

func TestFlatKeyShardDoesNotCollide(t *testing.T) {
	ctx := context.Background()
	col, err := OpenOrCreate(ctx, filepath.Join(t.TempDir(), "t3"), codec.FormatJSON)
	require.NoError(t, err)

	_, err = col.Set(ctx, "alice", "alice-value", Main)
	require.NoError(t, err)
	_, err = col.Set(ctx, "bob", "bob-value", Main)
	require.NoError(t, err)

	var v string
	found, err := col.Get(ctx, "alice", Main, &v)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "alice-value", v)

	found, err = col.Get(ctx, "bob", Main, &v)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "bob-value", v)
}

func TestApplyTransactionWins(t *testing.T) {
	ctx := context.Background()
	col, err := OpenOrCreate(ctx, filepath.Join(t.TempDir(), "t4"), codec.FormatJSON)
	require.NoError(t, err)

	_, err = col.NewTransaction(ctx, "t")
	require.NoError(t, err)

	_, err = col.Set(ctx, "k", "from-txn", "t")
	require.NoError(t, err)
	_, err = col.Set(ctx, "k", "from-main", Main)
	require.NoError(t, err)

	_, err = col.ApplyTransaction(ctx, "t")
	require.NoError(t, err)

	var v string
	found, err := col.Get(ctx, "k", Main, &v)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "from-txn", v)
}

func TestAddIndexAfterManyRecordsCoversPresentFieldOnly(t *testing.T) {
	ctx := context.Background()
	col, err := OpenOrCreate(ctx, filepath.Join(t.TempDir(), "t5"), codec.FormatJSON)
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		key := fmt.Sprintf("rec-%03d", i)
		if i%2 == 0 {
			_, err = col.Set(ctx, key, map[string]string{"f": fmt.Sprintf("v%d", i)}, Main)
		} else {
			_, err = col.Set(ctx, key, map[string]string{"other": "x"}, Main)
		}
		require.NoError(t, err)
	}

	require.NoError(t, col.AddIndex(ctx, "f", index.Sequential, Main))

	results, err := col.Query(ctx, Main, query.Leaf{Field: "f", Op: query.Eq, Literal: "v10"}, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "rec-010", results[0].Key)
}

func TestRevertToRebuildsIndexesFromCurrentRegistry(t *testing.T) {
	ctx := context.Background()
	col, err := OpenOrCreate(ctx, filepath.Join(t.TempDir(), "t6"), codec.FormatJSON)
	require.NoError(t, err)

	_, err = col.Set(ctx, "k1", map[string]int{"n": 1}, Main)
	require.NoError(t, err)
	before, ok, err := col.store.ResolveRef(ctx, Main)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = col.Set(ctx, "k2", map[string]int{"n": 2}, Main)
	require.NoError(t, err)
	require.NoError(t, col.AddIndex(ctx, "n", index.Numeric, Main))

	_, err = col.RevertTo(ctx, before)
	require.NoError(t, err)

	var v map[string]int
	found, err := col.Get(ctx, "k1", Main, &v)
	require.NoError(t, err)
	assert.True(t, found)
	found, err = col.Get(ctx, "k2", Main, &v)
	require.NoError(t, err)
	assert.False(t, found, "revert restores k1-only record tree")

	results, err := col.Query(ctx, Main, query.Leaf{Field: "n", Op: query.Eq, Literal: int64(1)}, 0)
	require.NoError(t, err)
	require.Len(t, results, 1, "index rebuilt against the reverted tree using the current registry")
	assert.Equal(t, "k1", results[0].Key)
}

func TestDeleteMissingKeyIsNoOp(t *testing.T) {
	ctx := context.Background()
	col, err := OpenOrCreate(ctx, filepath.Join(t.TempDir(), "t7"), codec.FormatJSON)
	require.NoError(t, err)

	tipBefore, _, err := col.store.ResolveRef(ctx, Main)
	require.NoError(t, err)

	handles, err := col.Delete(ctx, "never-existed", Main)
	require.NoError(t, err)
	assert.Nil(t, handles)

	tipAfter, _, err := col.store.ResolveRef(ctx, Main)
	require.NoError(t, err)
	assert.Equal(t, tipBefore, tipAfter, "no commit produced for a missing-key delete")
}

func TestAddReplicaPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "t8")

	col, err := OpenOrCreate(ctx, dir, codec.FormatJSON)
	require.NoError(t, err)
	require.NoError(t, col.AddReplica(replica.Remote{Name: "origin", Method: replica.All}))

	reopened, err := OpenOrCreate(ctx, dir, codec.FormatJSON)
	require.NoError(t, err)
	remotes := reopened.Replicas()
	require.Len(t, remotes, 1)
	assert.Equal(t, "origin", remotes[0].Name)
}
