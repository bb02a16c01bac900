//go:build windows

package instancelock

import (
	"bufio"
	"errors"
	"os"
	"strconv"
	"strings"
)

// acquireFile creates the sentinel exclusively. Windows has no flock, so
// ownership is the file itself; a sentinel whose recorded PID is gone is
// stale and gets replaced.
func acquireFile(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_EXCL, 0644)
	if err == nil {
		return f, nil
	}
	if !os.IsExist(err) {
		return nil, errors.Join(ErrIO, err)
	}
	if holderAlive(path) {
		return nil, ErrHeld
	}
	if err := os.Remove(path); err != nil {
		return nil, errors.Join(ErrIO, err)
	}
	f, err = os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_EXCL, 0644)
	if err != nil {
		return nil, errors.Join(ErrIO, err)
	}
	return f, nil
}

// holderAlive reads the PID stamped into the sentinel and checks whether
// that process still exists. An unreadable stamp counts as alive, to err
// on the safe side.
func holderAlive(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return true
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		return true
	}
	pid, err := strconv.Atoi(strings.TrimSpace(scanner.Text()))
	if err != nil || pid <= 0 {
		return true
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	proc.Release()
	return true
}

func releaseFile(f *os.File) error {
	return f.Close()
}
