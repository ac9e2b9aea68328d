//go:build unix

package system

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// RaiseOpenFileLimit lifts the soft open-file limit to the hard limit. The
// control server keeps one socket per event subscriber.
func RaiseOpenFileLimit() error {
	var rlimit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rlimit); err != nil {
		return fmt.Errorf("getrlimit error: %w", err)
	}
	if rlimit.Cur >= rlimit.Max {
		return nil
	}

	logrus.Debugf("raising open file limit from %d to %d", rlimit.Cur, rlimit.Max)
	rlimit.Cur = rlimit.Max
	if err := unix.Setrlimit(unix.RLIMIT_NOFILE, &rlimit); err != nil {
		return fmt.Errorf("failed to set rlimit: %w", err)
	}
	return nil
}
