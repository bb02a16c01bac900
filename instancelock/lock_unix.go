//go:build !windows

package instancelock

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

// acquireFile opens the sentinel and takes a non-blocking flock on it.
// flock treats descriptors of the same file independently, so even a
// second attempt from this same process is refused.
func acquireFile(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, errors.Join(ErrIO, err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EAGAIN) {
			return nil, ErrHeld
		}
		return nil, errors.Join(ErrIO, err)
	}
	return f, nil
}

func releaseFile(f *os.File) error {
	if err := unix.Flock(int(f.Fd()), unix.LOCK_UN); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
