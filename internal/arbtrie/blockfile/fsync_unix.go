//go:build !darwin

package blockfile

import (
	"github.com/iamNilotpal/arbtrie/pkg/errors"
	"golang.org/x/sys/unix"
)

// Fsync flushes the block file to stable storage. full is accepted for
// signature parity with the Darwin variant but has no additional effect
// outside Darwin — fsync(2) is already the strongest portable guarantee.
func (bf *BlockFile) Fsync(full bool) error {
	if err := unix.Fsync(int(bf.file.Fd())); err != nil {
		return errors.ClassifySyncError(err, bf.path, bf.path, int(bf.mapped.Load()))
	}
	return nil
}
