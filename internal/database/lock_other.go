//go:build !unix

package database

import (
	"errors"
	"fmt"
	"os"
)

// Without flock the lock file itself is the lock; a crash leaves it behind
// and it has to be removed by hand.
func lockFile(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0600) //nolint:gosec // path is from trusted config
	if errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("%w: %s", ErrBackendLocked, path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create lock file: %w", err)
	}
	return f, nil
}

func unlockFile(f *os.File) error {
	name := f.Name()
	if err := f.Close(); err != nil {
		return err
	}
	return os.Remove(name)
}
