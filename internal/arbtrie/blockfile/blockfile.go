// Package blockfile provides the memory-mapped, append-only segmented heap
// the rest of the engine is built on: a single on-disk file reserved up to
// MaxDatabaseSize and grown in fixed-size blocks, each block mapped once
// and never remapped for the lifetime of the process.
//
// The reservation happens up front with PROT_NONE over the full capacity so
// that every block's address is stable the instant the file is opened;
// growing the usable range only requires mprotect + ftruncate, never a
// fresh mmap call that could return a different base address.
package blockfile

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/iamNilotpal/arbtrie/pkg/errors"
	"github.com/iamNilotpal/arbtrie/pkg/filesys"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// Config configures a BlockFile.
type Config struct {
	// Path is the file on disk backing the mapping.
	Path string

	// BlockSize is the fixed size of every block, in bytes. Must be a
	// power of two.
	BlockSize uint32

	// ReserveBlocks is how many blocks' worth of virtual address space to
	// reserve up front (PROT_NONE) so block addresses never move.
	ReserveBlocks uint64

	Logger *zap.SugaredLogger
}

// BlockFile is a single memory-mapped file divided into fixed-size blocks,
// grown by mapping-extension rather than remapping.
type BlockFile struct {
	path      string
	blockSize uint32
	capacity  uint64 // reserved bytes (PROT_NONE range)

	file *os.File
	data []byte // the full PROT_NONE reservation; [0:mapped] is accessible

	mapped   atomic.Uint64 // bytes currently protected PROT_READ|PROT_WRITE
	nextFree atomic.Uint64 // next block index not yet handed out by Alloc

	growMu sync.Mutex // serializes mapping-extension (ftruncate + mprotect)

	log    *zap.SugaredLogger
	closed atomic.Bool
}

// Open opens (creating if necessary) the block file at cfg.Path, reserves
// cfg.ReserveBlocks*cfg.BlockSize bytes of address space, and maps whatever
// portion of the file already holds data as immediately accessible.
func Open(ctx context.Context, cfg Config) (*BlockFile, error) {
	if cfg.BlockSize == 0 || cfg.BlockSize&(cfg.BlockSize-1) != 0 {
		return nil, errors.NewValidationError(nil, errors.ErrorCodeInvalidInput, "block size must be a non-zero power of two").
			WithField("BlockSize").
			WithProvided(cfg.BlockSize)
	}
	if cfg.ReserveBlocks == 0 {
		return nil, errors.NewValidationError(nil, errors.ErrorCodeInvalidInput, "reserve block count must be positive").
			WithField("ReserveBlocks")
	}

	log := cfg.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	dir := filepath.Dir(cfg.Path)
	if err := filesys.CreateDir(dir, 0o755, true); err != nil {
		return nil, errors.ClassifyDirectoryCreationError(err, dir)
	}

	file, err := os.OpenFile(cfg.Path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, errors.ClassifyFileOpenError(err, cfg.Path, filepath.Base(cfg.Path))
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, errors.NewStorageError(err, errors.ErrorCodeIO, "failed to stat block file").WithPath(cfg.Path)
	}

	capacity := cfg.ReserveBlocks * uint64(cfg.BlockSize)

	// Reserve the full address range up front as inaccessible; blocks
	// become live as Reserve/Alloc extend the mapped prefix.
	data, err := unix.Mmap(int(file.Fd()), 0, int(capacity), unix.PROT_NONE, unix.MAP_SHARED)
	if err != nil {
		file.Close()
		return nil, errors.ClassifyMmapError(err, "mmap_reserve", cfg.Path)
	}

	bf := &BlockFile{
		path:      cfg.Path,
		blockSize: cfg.BlockSize,
		capacity:  capacity,
		file:      file,
		data:      data,
		log:       log,
	}

	mappedBytes := alignDown(uint64(info.Size()), uint64(cfg.BlockSize))
	if mappedBytes > 0 {
		if err := bf.protectRange(mappedBytes); err != nil {
			unix.Munmap(data)
			file.Close()
			return nil, err
		}
		bf.mapped.Store(mappedBytes)
		bf.nextFree.Store(mappedBytes / uint64(cfg.BlockSize))
	}

	log.Infow("blockfile opened",
		"path", cfg.Path, "blockSize", cfg.BlockSize, "capacity", capacity, "mappedBytes", mappedBytes,
	)

	return bf, nil
}

func alignDown(n, align uint64) uint64 {
	return n - (n % align)
}

// protectRange grows the PROT_READ|PROT_WRITE protected prefix of the
// reservation to cover [0, newMapped), ftruncate-ing the backing file first
// if necessary. Callers must hold growMu.
func (bf *BlockFile) protectRange(newMapped uint64) error {
	if newMapped > bf.capacity {
		return errors.NewStorageError(nil, errors.ErrorCodeDatabaseSizeCapReached, "block file capacity exceeded").
			WithPath(bf.path).
			WithDetail("requested", newMapped).
			WithDetail("capacity", bf.capacity)
	}

	info, err := bf.file.Stat()
	if err != nil {
		return errors.NewStorageError(err, errors.ErrorCodeIO, "failed to stat block file").WithPath(bf.path)
	}
	if uint64(info.Size()) < newMapped {
		if err := bf.file.Truncate(int64(newMapped)); err != nil {
			return errors.NewStorageError(err, errors.ErrorCodeIO, "failed to extend block file").WithPath(bf.path)
		}
	}

	if err := unix.Mprotect(bf.data[:newMapped], unix.PROT_READ|unix.PROT_WRITE); err != nil {
		return errors.ClassifyMmapError(err, "mprotect_extend", bf.path)
	}

	return nil
}

// Reserve ensures at least n blocks are mapped and writable, growing the
// mapping if necessary. It is safe to call concurrently with Alloc.
func (bf *BlockFile) Reserve(n uint64) error {
	want := n * uint64(bf.blockSize)
	if want <= bf.mapped.Load() {
		return nil
	}

	bf.growMu.Lock()
	defer bf.growMu.Unlock()

	if want <= bf.mapped.Load() {
		return nil
	}
	if err := bf.protectRange(want); err != nil {
		return err
	}
	bf.mapped.Store(want)
	return nil
}

// Alloc hands out the next block index, growing the mapping if the
// allocated block falls beyond what is currently mapped. The fast path
// (block already mapped) is a single atomic increment.
func (bf *BlockFile) Alloc() (uint64, error) {
	idx := bf.nextFree.Add(1) - 1
	needed := (idx + 1) * uint64(bf.blockSize)

	if needed > bf.mapped.Load() {
		if err := bf.Reserve(idx + 1); err != nil {
			return 0, err
		}
	}

	return idx, nil
}

// Truncate shrinks the file's live data to n blocks. It does not shrink the
// underlying reservation or unmap anything — only future Alloc calls will
// reuse the freed block indices (via Reserve/Alloc bookkeeping elsewhere;
// blockfile itself never reasons about which blocks are "free", only which
// are mapped).
func (bf *BlockFile) Truncate(n uint64) error {
	bf.growMu.Lock()
	defer bf.growMu.Unlock()

	size := n * uint64(bf.blockSize)
	if err := bf.file.Truncate(int64(size)); err != nil {
		return errors.NewStorageError(err, errors.ErrorCodeIO, "failed to truncate block file").WithPath(bf.path)
	}
	bf.nextFree.Store(n)
	return nil
}

// Get returns the byte slice for block index blockN. The caller must have
// ensured (via Alloc or Reserve) that blockN is within the mapped range.
func (bf *BlockFile) Get(blockN uint64) []byte {
	start := blockN * uint64(bf.blockSize)
	return bf.data[start : start+uint64(bf.blockSize)]
}

// GetOffset returns a byte slice starting at byte offset off and running to
// the end of the mapped region.
func (bf *BlockFile) GetOffset(off uint64) []byte {
	return bf.data[off:bf.mapped.Load()]
}

// BlockSize returns the configured block size.
func (bf *BlockFile) BlockSize() uint32 { return bf.blockSize }

// Capacity returns the reserved address-space capacity in bytes.
func (bf *BlockFile) Capacity() uint64 { return bf.capacity }

// Close unmaps the file and closes the underlying descriptor.
func (bf *BlockFile) Close() error {
	if !bf.closed.CompareAndSwap(false, true) {
		return errors.NewStorageError(nil, errors.ErrorCodeInternal, "block file already closed").WithPath(bf.path)
	}

	var err error
	if unmapErr := unix.Munmap(bf.data); unmapErr != nil {
		err = errors.ClassifyMmapError(unmapErr, "munmap", bf.path)
	}
	if closeErr := bf.file.Close(); closeErr != nil && err == nil {
		err = errors.NewStorageError(closeErr, errors.ErrorCodeIO, "failed to close block file").WithPath(bf.path)
	}

	bf.log.Infow("blockfile closed", "path", bf.path)
	return err
}
