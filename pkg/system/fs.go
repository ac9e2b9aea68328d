package system

import (
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

func IsPathExist(path string) bool {
	_, err := os.Stat(path)
	if err != nil && errors.Is(err, os.ErrNotExist) {
		return false
	}

	if err != nil {
		logrus.Debugf("os.Stat %q error: %v", path, err)
		return false
	}

	return true
}

// EnsureDir creates dir and its parents with perm if missing.
func EnsureDir(dir string, perm os.FileMode) error {
	if err := os.MkdirAll(dir, perm); err != nil {
		return errors.Wrapf(err, "create directory %q", dir)
	}
	return nil
}
