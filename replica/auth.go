package replica

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-git/go-git/v5/plumbing/transport"
	gitssh "github.com/go-git/go-git/v5/plumbing/transport/ssh"
)

// Credentials describes how a push to a remote authenticates, modeled
// after the original implementation's RemoteCredentials: an SSH key pair
// with an optional passphrase and explicit username, or nothing at all —
// in which case defaults from the environment apply.
type Credentials struct {
	PrivateKeyPath string
	Passphrase     string
	Username       string
	PublicKeyPath  string
}

// defaultUsername is the conventional git SSH transport user.
const defaultUsername = "git"

// AuthMethod builds the go-git transport.AuthMethod a Push should use. An
// elided PrivateKeyPath defaults to "$HOME/.ssh/id_rsa", the only place
// $HOME is consulted, per spec.md §6.
func AuthMethod(c Credentials) (transport.AuthMethod, error) {
	path := c.PrivateKeyPath
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolving default SSH key path: %w", err)
		}
		path = filepath.Join(home, ".ssh", "id_rsa")
	}

	username := c.Username
	if username == "" {
		username = defaultUsername
	}

	auth, err := gitssh.NewPublicKeysFromFile(username, path, c.Passphrase)
	if err != nil {
		return nil, fmt.Errorf("loading SSH key %s: %w", path, err)
	}
	return auth, nil
}
