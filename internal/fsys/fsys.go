// Package fsys is the filesystem collaborator: existence checks, atomic
// file writes with ownership and mode, directory creation and symlinks.
package fsys

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
)

// OS implements the filesystem collaborator on the local machine. The zero
// value is ready to use.
type OS struct{}

// Exists reports whether path exists without following a final symlink.
// A missing path is (false, nil); any other stat failure is returned.
func (OS) Exists(path string) (bool, error) {
	_, err := os.Lstat(path)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}

// ReadFile returns the contents of path.
func (OS) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// Readlink returns the destination of the symlink at path.
func (OS) Readlink(path string) (string, error) {
	return os.Readlink(path)
}

// WriteFile atomically replaces path with data.
//
// The bytes go to a temporary file in the same directory which is synced,
// chmod'ed, chown'ed and then renamed over path, so a concurrent reader sees
// either the old file or the complete new one. The temporary file is closed
// and removed on every error path.
func (OS) WriteFile(path string, data []byte, owner, group string, mode fs.FileMode) (err error) {
	uid, gid, err := resolveOwner(owner, group)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file in %s: %w", dir, err)
	}
	tmpName := tmp.Name()
	closed := false
	defer func() {
		if !closed {
			tmp.Close()
		}
		if err != nil {
			os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", path, err)
	}
	if err = tmp.Chmod(mode); err != nil {
		return fmt.Errorf("chmod %s to %04o: %w", path, mode, err)
	}
	if uid != -1 || gid != -1 {
		if err = tmp.Chown(uid, gid); err != nil {
			return fmt.Errorf("chown %s to %s:%s: %w", path, owner, group, err)
		}
	}
	closed = true
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err = os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename into %s: %w", path, err)
	}
	return nil
}

// MakeDirectory creates path with mode and ownership. With recursive set,
// missing parents are created too (ownership applies to the leaf only).
// An existing directory is not an error; its mode and owner are enforced.
func (OS) MakeDirectory(path, owner, group string, mode fs.FileMode, recursive bool) error {
	uid, gid, err := resolveOwner(owner, group)
	if err != nil {
		return err
	}
	if recursive {
		err = os.MkdirAll(path, mode)
	} else {
		err = os.Mkdir(path, mode)
		if errors.Is(err, fs.ErrExist) {
			err = nil
		}
	}
	if err != nil {
		return fmt.Errorf("create directory %s: %w", path, err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s exists and is not a directory", path)
	}
	// Mkdir is subject to the umask.
	if err := os.Chmod(path, mode); err != nil {
		return fmt.Errorf("chmod %s to %04o: %w", path, mode, err)
	}
	if uid != -1 || gid != -1 {
		if err := os.Chown(path, uid, gid); err != nil {
			return fmt.Errorf("chown %s to %s:%s: %w", path, owner, group, err)
		}
	}
	return nil
}

// Symlink points path at target, replacing an existing link or file.
// An existing directory at path is never removed.
func (OS) Symlink(target, path string) error {
	if fi, err := os.Lstat(path); err == nil {
		if fi.IsDir() {
			return fmt.Errorf("destination exists and is a directory: %s", path)
		}
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("remove existing destination: %w", err)
		}
	}
	if err := os.Symlink(target, path); err != nil {
		return fmt.Errorf("symlink %s -> %s: %w", path, target, err)
	}
	return nil
}

// resolveOwner maps user and group names (or numeric IDs) to uid/gid.
// An empty name yields -1, which chown treats as "unchanged".
func resolveOwner(owner, group string) (uid, gid int, err error) {
	uid, gid = -1, -1
	if owner != "" {
		if uid, err = lookupID(owner, func(name string) (string, error) {
			u, err := user.Lookup(name)
			if err != nil {
				return "", err
			}
			return u.Uid, nil
		}); err != nil {
			return -1, -1, fmt.Errorf("resolve owner %q: %w", owner, err)
		}
	}
	if group != "" {
		if gid, err = lookupID(group, func(name string) (string, error) {
			g, err := user.LookupGroup(name)
			if err != nil {
				return "", err
			}
			return g.Gid, nil
		}); err != nil {
			return -1, -1, fmt.Errorf("resolve group %q: %w", group, err)
		}
	}
	return uid, gid, nil
}

func lookupID(name string, lookup func(string) (string, error)) (int, error) {
	if id, err := strconv.Atoi(name); err == nil {
		return id, nil
	}
	raw, err := lookup(name)
	if err != nil {
		return -1, err
	}
	return strconv.Atoi(raw)
}
