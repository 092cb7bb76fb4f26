package blockfile

import (
	"github.com/iamNilotpal/arbtrie/pkg/errors"
	"golang.org/x/sys/unix"
)

// Msync flushes the dirty pages covering [offset, offset+length) to the
// backing file. async selects MS_ASYNC (schedule the flush, return
// immediately) over MS_SYNC (block until the flush completes), matching
// options.SyncMsyncAsync vs. options.SyncMsyncSync.
func (bf *BlockFile) Msync(offset, length uint64, async bool) error {
	flags := unix.MS_SYNC
	if async {
		flags = unix.MS_ASYNC
	}

	end := offset + length
	mapped := bf.mapped.Load()
	if end > mapped {
		end = mapped
	}
	if offset >= end {
		return nil
	}

	if err := unix.Msync(bf.data[offset:end], flags); err != nil {
		return errors.ClassifyMmapError(err, "msync", bf.path)
	}
	return nil
}

// Mprotect sets [offset, offset+length) to PROT_READ, or to
// PROT_READ|PROT_WRITE when writable is true. Segment.Commit calls it with
// writable false at SyncMprotect and above to catch post-commit writes.
func (bf *BlockFile) Mprotect(offset, length uint64, writable bool) error {
	prot := unix.PROT_READ
	if writable {
		prot |= unix.PROT_WRITE
	}

	end := offset + length
	mapped := bf.mapped.Load()
	if end > mapped {
		end = mapped
	}
	if offset >= end {
		return nil
	}

	if err := unix.Mprotect(bf.data[offset:end], prot); err != nil {
		return errors.ClassifyMmapError(err, "mprotect", bf.path)
	}
	return nil
}

// Mlock pins [offset, offset+length) in physical RAM, preventing it from
// being paged out, for segments promoted into the pinned cache.
func (bf *BlockFile) Mlock(offset, length uint64) error {
	end := offset + length
	mapped := bf.mapped.Load()
	if end > mapped {
		end = mapped
	}
	if offset >= end {
		return nil
	}

	if err := unix.Mlock(bf.data[offset:end]); err != nil {
		return errors.ClassifyMmapError(err, "mlock", bf.path)
	}
	return nil
}

// Munlock unpins a previously mlock'd range.
func (bf *BlockFile) Munlock(offset, length uint64) error {
	end := offset + length
	mapped := bf.mapped.Load()
	if end > mapped {
		end = mapped
	}
	if offset >= end {
		return nil
	}

	if err := unix.Munlock(bf.data[offset:end]); err != nil {
		return errors.ClassifyMmapError(err, "munlock", bf.path)
	}
	return nil
}
