package replica

import (
	"encoding/json"
	"os"
)

// configEntry is the on-disk form of a Remote, kept separate from Remote
// itself so the JSON field names are a stable, documented contract
// independent of the in-memory struct's field names.
type configEntry struct {
	Name           string  `json:"name"`
	URL            string  `json:"url"`
	Method         Method  `json:"method"`
	Param          float64 `json:"param"`
	PrivateKeyPath string  `json:"private_key_path,omitempty"`
	Passphrase     string  `json:"passphrase,omitempty"`
	Username       string  `json:"username,omitempty"`
	PublicKeyPath  string  `json:"public_key_path,omitempty"`
}

// SaveConfig persists remotes to path, a local (uncommitted) file adjacent
// to the repository, per spec.md §6's replicator configuration contract.
func SaveConfig(path string, remotes []Remote) error {
	entries := make([]configEntry, 0, len(remotes))
	for _, r := range remotes {
		entries = append(entries, configEntry{
			Name: r.Name, URL: r.URL, Method: r.Method, Param: r.Param,
			PrivateKeyPath: r.Credentials.PrivateKeyPath,
			Passphrase:     r.Credentials.Passphrase,
			Username:       r.Credentials.Username,
			PublicKeyPath:  r.Credentials.PublicKeyPath,
		})
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// LoadConfig reads a replicator configuration file written by SaveConfig.
// A missing file is treated as "no remotes configured" rather than an
// error, since a fresh collection has none.
func LoadConfig(path string) ([]Remote, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var entries []configEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}
	remotes := make([]Remote, 0, len(entries))
	for _, e := range entries {
		remotes = append(remotes, Remote{
			Name: e.Name, URL: e.URL, Method: e.Method, Param: e.Param,
			Credentials: Credentials{
				PrivateKeyPath: e.PrivateKeyPath,
				Passphrase:     e.Passphrase,
				Username:       e.Username,
				PublicKeyPath:  e.PublicKeyPath,
			},
		})
	}
	return remotes, nil
}
