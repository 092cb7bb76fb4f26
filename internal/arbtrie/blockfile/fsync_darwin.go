package blockfile

import (
	"github.com/iamNilotpal/arbtrie/pkg/errors"
	"golang.org/x/sys/unix"
)

// Fsync flushes the block file to stable storage. On Darwin, fsync(2) does
// not guarantee the drive has actually persisted the data, so full durability
// additionally issues F_FULLFSYNC; plain fsync is used when full is false or
// F_FULLFSYNC is unsupported by the underlying filesystem.
func (bf *BlockFile) Fsync(full bool) error {
	if full {
		if _, err := unix.FcntlInt(bf.file.Fd(), unix.F_FULLFSYNC, 0); err == nil {
			return nil
		}
		// Fall through to plain fsync — some filesystems (e.g. exFAT)
		// reject F_FULLFSYNC outright.
	}

	if err := unix.Fsync(int(bf.file.Fd())); err != nil {
		return errors.ClassifySyncError(err, bf.path, bf.path, int(bf.mapped.Load()))
	}
	return nil
}
