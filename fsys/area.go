// Package fsys provides the rooted file areas the repository hands to its
// collaborators. An Area is a slice of a vfs.FS confined to one directory;
// sub-areas carve out nested directories so a component can only reach its
// own files. Production areas sit on vfs.Default, tests use vfs.NewMem().
package fsys

import (
	"errors"
	"io"
	"sync/atomic"

	"github.com/cockroachdb/errors/oserror"
	"github.com/cockroachdb/pebble/vfs"
)

var (
	ErrClosed   = errors.New("fsys: area is closed")
	ErrNotExist = errors.New("fsys: no such resource")
)

// Area is a rooted slice of a filesystem. All names passed to an Area are
// relative to its root.
type Area struct {
	fs     vfs.FS
	root   string
	closed atomic.Bool
}

// Open creates the root directory if needed and returns an Area rooted
// there.
func Open(fs vfs.FS, root string) (*Area, error) {
	if err := fs.MkdirAll(root, 0755); err != nil {
		return nil, err
	}
	return &Area{fs: fs, root: root}, nil
}

// FS exposes the backing filesystem, for collaborators (the storage
// engine) that need raw vfs access under this area.
func (a *Area) FS() vfs.FS { return a.fs }

// Root returns the absolute root path of the area.
func (a *Area) Root() string { return a.root }

// Path resolves a relative name to an absolute path under the area.
func (a *Area) Path(name string) string {
	return a.fs.PathJoin(a.root, name)
}

// Based returns a child area rooted at the given subdirectory, creating
// it if needed. The child shares the parent's filesystem but not its
// closed flag.
func (a *Area) Based(sub string) (*Area, error) {
	if a.closed.Load() {
		return nil, ErrClosed
	}
	return Open(a.fs, a.Path(sub))
}

// Exists reports whether a resource or directory with the given name is
// present.
func (a *Area) Exists(name string) (bool, error) {
	if a.closed.Load() {
		return false, ErrClosed
	}
	_, err := a.fs.Stat(a.Path(name))
	if err != nil {
		if oserror.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// List returns the names found in a subdirectory, "" for the root.
// A missing directory lists as empty.
func (a *Area) List(sub string) ([]string, error) {
	if a.closed.Load() {
		return nil, ErrClosed
	}
	names, err := a.fs.List(a.Path(sub))
	if err != nil {
		if oserror.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return names, nil
}

// ReadResource reads a whole resource. Missing resources surface as
// ErrNotExist.
func (a *Area) ReadResource(name string) ([]byte, error) {
	if a.closed.Load() {
		return nil, ErrClosed
	}
	f, err := a.fs.Open(a.Path(name))
	if err != nil {
		if oserror.IsNotExist(err) {
			return nil, ErrNotExist
		}
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// WriteResource replaces a resource atomically: the bytes are written to
// a temp file which is then renamed over the target, so readers never
// observe a torn resource.
func (a *Area) WriteResource(name string, data []byte) error {
	if a.closed.Load() {
		return ErrClosed
	}
	tmp := a.Path(name + ".tmp")
	f, err := a.fs.Create(tmp)
	if err != nil {
		return err
	}
	if _, err = f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err = f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err = f.Close(); err != nil {
		return err
	}
	return a.fs.Rename(tmp, a.Path(name))
}

// RemoveResource deletes a resource; removing a missing one is a no-op.
func (a *Area) RemoveResource(name string) error {
	if a.closed.Load() {
		return ErrClosed
	}
	err := a.fs.Remove(a.Path(name))
	if err != nil && !oserror.IsNotExist(err) {
		return err
	}
	return nil
}

// Close marks the area closed. Further operations fail with ErrClosed;
// closing twice is harmless.
func (a *Area) Close() error {
	a.closed.Store(true)
	return nil
}
