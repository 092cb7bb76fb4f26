// Package arbtrie is the public entry point for the persistent
// adaptive-radix-trie engine: Create or Open a database directory, start a
// session against it, and operate on the 1024-slot root object table
// through either the convenience key/value surface (Session) or the raw
// root-handle operations (Engine.GetRoot/SetRoot/CasRoot/StartTransaction)
// for callers that want to anchor more than one independently reachable
// trie in the same file.
package arbtrie

import (
	"context"
	"os"
	"path/filepath"

	"github.com/iamNilotpal/arbtrie/internal/arbtrie/blockfile"
	"github.com/iamNilotpal/arbtrie/internal/arbtrie/cb"
	"github.com/iamNilotpal/arbtrie/internal/arbtrie/root"
	"github.com/iamNilotpal/arbtrie/internal/arbtrie/seg"
	"github.com/iamNilotpal/arbtrie/internal/arbtrie/session"
	"github.com/iamNilotpal/arbtrie/internal/arbtrie/trie"
	"github.com/iamNilotpal/arbtrie/pkg/errors"
	"github.com/iamNilotpal/arbtrie/pkg/logger"
	"github.com/iamNilotpal/arbtrie/pkg/metrics"
	"github.com/iamNilotpal/arbtrie/pkg/options"
	"github.com/iamNilotpal/arbtrie/pkg/supervisor"
	"go.uber.org/zap"
)

// heapFileName is the single block file every segment is carved out of,
// stored directly under the database directory.
const heapFileName = "heap.db"

// defaultRootSlot is the root table slot the Session convenience methods
// (Insert/Upsert/Get/Remove) operate against; Session.Cursor takes its root
// slot as an argument instead. Callers that need more
// than one independently reachable trie in the same file reach the other
// 1023 slots through Engine.GetRoot/SetRoot/CasRoot/StartTransaction.
const defaultRootSlot = 0

// Engine owns one open database directory: the memory-mapped heap, the
// control-block table indirecting every node address, the segmented
// allocator and its background provider/compactor/decay threads, the
// session manager enforcing the read-lock protocol, the root object table,
// and the trie engine operating on it.
type Engine struct {
	opts options.Options
	log  *zap.SugaredLogger

	bf      *blockfile.BlockFile
	cbTable *cb.Table
	alloc   *seg.Allocator
	manager *session.Manager
	roots   *root.Table
	trie    *trie.Engine

	// compactorSession is a dedicated, long-lived session the relocate
	// closure writes relocated survivors through; it lives for the engine's
	// entire lifetime and is closed alongside everything else in Close.
	compactorSession *session.Session

	bg     *supervisor.Group
	cancel context.CancelFunc
}

// Create opens path as a brand-new database. It fails if a heap file
// already exists there — use Open to reattach to an existing one.
func Create(path string, opts ...options.OptionFunc) (*Engine, error) {
	if _, err := os.Stat(filepath.Join(path, heapFileName)); err == nil {
		return nil, errors.NewStorageError(nil, errors.ErrorCodeInternal, "database already exists").WithPath(path)
	}
	return newEngine(path, opts)
}

// Open reattaches to a database directory previously created with Create.
// It fails if no heap file exists there yet.
func Open(path string, opts ...options.OptionFunc) (*Engine, error) {
	if _, err := os.Stat(filepath.Join(path, heapFileName)); err != nil {
		return nil, errors.NewStorageError(err, errors.ErrorCodeNotFound, "database does not exist").WithPath(path)
	}
	return newEngine(path, opts)
}

func newEngine(path string, optFns []options.OptionFunc) (*Engine, error) {
	o := options.NewDefaultOptions()
	o.DataDir = path
	for _, fn := range optFns {
		fn(&o)
	}

	log := logger.New("arbtrie")

	segSize := o.SegmentOptions.Size
	reserveBlocks := (o.MaxDatabaseSize + segSize - 1) / segSize

	bf, err := blockfile.Open(context.Background(), blockfile.Config{
		Path:          filepath.Join(o.DataDir, heapFileName),
		BlockSize:     uint32(segSize),
		ReserveBlocks: reserveBlocks,
		Logger:        log,
	})
	if err != nil {
		return nil, err
	}

	cbTable, err := cb.New(cb.Config{MaxThreads: o.MaxThreads, Logger: log})
	if err != nil {
		bf.Close()
		return nil, err
	}

	alloc, err := seg.NewAllocator(seg.Config{
		BlockFile:   bf,
		CBTable:     cbTable,
		SegmentSize: uint32(segSize),
		Sync:        o.SyncOptions,
		Compaction:  o.CompactionOptions,
		Cache:       o.CacheOptions,
		Metrics:     metrics.NewAllocator(),
		Logger:      log,
	})
	if err != nil {
		bf.Close()
		return nil, err
	}

	manager, err := session.NewManager(session.Config{
		MaxThreads: o.MaxThreads,
		Allocator:  alloc,
		CBTable:    cbTable,
		Cache:      o.CacheOptions,
		Logger:     log,
	})
	if err != nil {
		bf.Close()
		return nil, err
	}

	rootSync := func(level options.SyncMode) error {
		if level >= options.SyncFsync {
			return bf.Fsync(level == options.SyncFull)
		}
		return nil
	}
	roots := root.New(cbTable, rootSync)
	trieEngine := trie.NewEngine(roots, o.SyncOptions.SyncMode)

	compactorSession, err := manager.StartSession(context.Background())
	if err != nil {
		bf.Close()
		return nil, err
	}
	alloc.SetRelocate(trie.NewRelocateFunc(compactorSession))

	ctx, cancel := context.WithCancel(context.Background())
	bg, _ := supervisor.New(ctx, log)
	bg.Go("provider", func(ctx context.Context) error { return alloc.RunProvider(ctx) })
	bg.Go("compactor", func(ctx context.Context) error { return alloc.RunCompactor(ctx) })
	bg.Go("read-bit-decay", func(ctx context.Context) error { return alloc.RunReadBitDecay(ctx) })

	return &Engine{
		opts:             o,
		log:              log,
		bf:               bf,
		cbTable:          cbTable,
		alloc:            alloc,
		manager:          manager,
		roots:            roots,
		trie:             trieEngine,
		compactorSession: compactorSession,
		bg:               bg,
		cancel:           cancel,
	}, nil
}

// Close stops every background thread, waits for them to exit, closes the
// dedicated compactor session, and closes the underlying heap file. The
// root table is kept in memory only, so a database reopened after Close
// starts with every root slot empty.
func (e *Engine) Close() error {
	e.cancel()
	bgErr := e.bg.Wait()
	if err := e.compactorSession.Close(); err != nil {
		return err
	}
	if err := e.alloc.Close(); err != nil {
		return err
	}
	if err := e.bf.Close(); err != nil {
		return err
	}
	return bgErr
}

// Sync durably persists the heap at the given level, for callers that want
// to force a flush outside of the normal per-commit sync ladder.
func (e *Engine) Sync(level options.SyncMode) error {
	if level < options.SyncFsync {
		return nil
	}
	return e.bf.Fsync(level == options.SyncFull)
}

// StartSession opens a new bounded session against this engine, blocking
// until a slot is available or ctx is cancelled.
func (e *Engine) StartSession(ctx context.Context) (*Session, error) {
	s, err := e.manager.StartSession(ctx)
	if err != nil {
		return nil, err
	}
	return &Session{s: s, trie: e.trie}, nil
}
