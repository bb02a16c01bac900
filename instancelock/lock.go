// Package instancelock guards a repository home directory against
// concurrent processes. The lock is an OS advisory lock on a sentinel
// file; holding it means this process owns the on-disk repository until
// Release. A sentinel left behind by a crashed process is tolerated and
// re-acquired with a warning.
package instancelock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hboutemy/jackrabbit/utils"
)

var (
	ErrHeld = errors.New("instancelock: repository home is locked by another process")
	ErrIO   = errors.New("instancelock: cannot create or lock the sentinel file")
)

// FileName is the sentinel file created in the repository home.
const FileName = ".lock"

// Lock is a held instance lock. Zero value is not usable; obtain one
// through Acquire.
type Lock struct {
	path string
	file *os.File
	log  utils.Logger
}

// Acquire takes the exclusive instance lock for the given home
// directory. It fails with ErrHeld when a live process owns the lock and
// ErrIO when the sentinel cannot be created or locked at all.
func Acquire(home string, log utils.Logger) (*Lock, error) {
	path := filepath.Join(home, FileName)
	if _, err := os.Stat(path); err == nil {
		log.Warn("existing lock file found, previous instance did not shut down cleanly", "path", path)
	}
	f, err := acquireFile(path)
	if err != nil {
		return nil, err
	}
	l := &Lock{path: path, file: f, log: log}
	l.stamp()
	return l, nil
}

// stamp records the holder for operators inspecting the sentinel. The
// lock is valid even if the stamp cannot be written.
func (l *Lock) stamp() {
	content := fmt.Sprintf("%d\n%s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339))
	if err := l.file.Truncate(0); err != nil {
		l.log.Warn("cannot truncate lock file", "path", l.path, "error", err)
		return
	}
	if _, err := l.file.WriteAt([]byte(content), 0); err != nil {
		l.log.Warn("cannot stamp lock file", "path", l.path, "error", err)
	}
}

// Release drops the lock and removes the sentinel file. A failure to
// remove the file is logged but does not fail the release.
func (l *Lock) Release() error {
	err := releaseFile(l.file)
	if rmErr := os.Remove(l.path); rmErr != nil && !os.IsNotExist(rmErr) {
		l.log.Warn("cannot remove lock file", "path", l.path, "error", rmErr)
	}
	return err
}
