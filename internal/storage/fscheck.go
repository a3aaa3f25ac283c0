package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNetworkFilesystem is returned when the history database would live on a
// network mount, where SQLite file locking cannot be trusted.
var ErrNetworkFilesystem = errors.New("history database is on a network filesystem")

// Filesystem describes the mount that holds (or will hold) the history database.
type Filesystem struct {
	// Inspected is the nearest existing ancestor of the database path.
	Inspected string `json:"inspected"`
	Type      string `json:"type"`
	Network   bool   `json:"network"`
}

func (f Filesystem) String() string {
	kind := "local"
	if f.Network {
		kind = "network"
	}
	return fmt.Sprintf("%s (%s, at %s)", f.Type, kind, f.Inspected)
}

// InspectFilesystem reports the filesystem under path. The database file and
// its directory do not have to exist yet.
func InspectFilesystem(path string) (Filesystem, error) {
	return inspectFilesystem(path, detectFilesystemType)
}

func inspectFilesystem(path string, detect func(string) (string, error)) (Filesystem, error) {
	if path == "" {
		return Filesystem{}, fmt.Errorf("sqlite path is empty")
	}
	dir, err := existingAncestor(path)
	if err != nil {
		return Filesystem{}, err
	}
	fsType, err := detect(dir)
	if err != nil {
		return Filesystem{}, fmt.Errorf("detect filesystem for %q: %w", dir, err)
	}
	fsType = strings.ToLower(strings.TrimSpace(fsType))
	return Filesystem{Inspected: dir, Type: fsType, Network: isNetworkFilesystem(fsType)}, nil
}

// requireLocalFilesystem guards OpenSQLite.
func requireLocalFilesystem(path string, detect func(string) (string, error)) error {
	fs, err := inspectFilesystem(path, detect)
	if err != nil {
		return err
	}
	if fs.Network {
		return fmt.Errorf("%w: %q is on %s; point state.path (or PUSHDEPLOY_STATE_PATH) at a local disk",
			ErrNetworkFilesystem, path, fs.Type)
	}
	return nil
}

func existingAncestor(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve database path %q: %w", path, err)
	}
	for dir := abs; ; dir = filepath.Dir(dir) {
		if _, err := os.Stat(dir); err == nil {
			return dir, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("stat %q: %w", dir, err)
		}
		if filepath.Dir(dir) == dir {
			return "", fmt.Errorf("no existing parent for %q", abs)
		}
	}
}

func isNetworkFilesystem(fsType string) bool {
	switch fsType {
	case "nfs", "nfs4", "cifs", "smbfs", "smb2", "afpfs", "webdav", "fuse.sshfs":
		return true
	}
	return false
}
