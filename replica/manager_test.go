package replica

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yamabiko-db/yamabiko/objectstore"
)

func TestManagerOnCommitSkipsDeclinedRemotes(t *testing.T) {
	store, err := objectstore.OpenInMemory()
	require.NoError(t, err)

	mgr := NewManager(store)
	mgr.AddRemote(Remote{Name: "never", Method: Random, Param: 0})

	handles := mgr.OnCommit(context.Background())
	assert.Empty(t, handles)
}

func TestManagerPushSurfacesAuthFailure(t *testing.T) {
	store, err := objectstore.OpenInMemory()
	require.NoError(t, err)

	mgr := NewManager(store)
	mgr.AddRemote(Remote{
		Name: "origin", URL: "ssh://example.invalid/repo.git", Method: All,
		Credentials: Credentials{PrivateKeyPath: "/nonexistent/id_rsa"},
	})

	handles := mgr.OnCommit(context.Background())
	require.Len(t, handles, 1)
	assert.Equal(t, "origin", handles[0].Remote)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	outcome, err := handles[0].Future.Await(ctx)
	require.NoError(t, err)
	assert.Error(t, outcome.Err)
}

func TestAddRemoteReplacesByName(t *testing.T) {
	store, err := objectstore.OpenInMemory()
	require.NoError(t, err)
	mgr := NewManager(store)

	mgr.AddRemote(Remote{Name: "origin", Method: All})
	mgr.AddRemote(Remote{Name: "origin", Method: Periodic, Param: 5})
	require.Len(t, mgr.Remotes, 1)
	assert.Equal(t, Periodic, mgr.Remotes[0].Method)
}

func TestRemoveRemote(t *testing.T) {
	store, err := objectstore.OpenInMemory()
	require.NoError(t, err)
	mgr := NewManager(store)

	mgr.AddRemote(Remote{Name: "origin", Method: All})
	mgr.RemoveRemote("origin")
	assert.Empty(t, mgr.Remotes)
}

func TestConfigRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "replicas.json")

	remotes := []Remote{
		{Name: "origin", URL: "git@example.com:repo.git", Method: Periodic, Param: 30,
			Credentials: Credentials{PrivateKeyPath: "/home/x/.ssh/id_rsa"}},
	}
	require.NoError(t, SaveConfig(path, remotes))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, remotes[0].Name, loaded[0].Name)
	assert.Equal(t, remotes[0].Credentials.PrivateKeyPath, loaded[0].Credentials.PrivateKeyPath)
}

func TestConfigLoadMissingFileReturnsEmpty(t *testing.T) {
	loaded, err := LoadConfig(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)
	assert.Empty(t, loaded)
}
