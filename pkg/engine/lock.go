package engine

import (
	"fmt"
	"os"
	"strconv"
)

// Lock is an exclusive run lock backed by a pid file. The agent mutates
// shared system paths, so two concurrent runs would corrupt each other.
type Lock struct {
	path string
}

// AcquireLock takes the lock at path, failing if another run holds it.
func AcquireLock(path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil, NewFatalError(fmt.Sprintf("another run holds the lock at %s", path), err)
		}
		return nil, NewFatalError(fmt.Sprintf("failed to create lock file %s", path), err)
	}
	defer func() { _ = f.Close() }()

	if _, err := f.WriteString(strconv.Itoa(os.Getpid()) + "\n"); err != nil {
		_ = os.Remove(path)
		return nil, NewFatalError(fmt.Sprintf("failed to write lock file %s", path), err)
	}
	return &Lock{path: path}, nil
}

// Release removes the lock file.
func (l *Lock) Release() error {
	return os.Remove(l.path)
}
