// Package session implements the read-lock / session protocol: bounded
// concurrent sessions that publish a lock pointer the compactor watches
// before recycling a segment, plus the per-session writable-segment
// contract that hands objects their space in the append-only heap.
package session

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"

	"github.com/iamNilotpal/arbtrie/internal/arbtrie/cb"
	"github.com/iamNilotpal/arbtrie/internal/arbtrie/seg"
	"github.com/iamNilotpal/arbtrie/pkg/errors"
	"github.com/iamNilotpal/arbtrie/pkg/options"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// alignment is the byte boundary every allocation request is rounded up to
// before it is handed to the current segment.
const alignment = 64

// roundUp rounds size up to the session allocation alignment.
func roundUp(size uint32) uint32 {
	return (size + alignment - 1) &^ (alignment - 1)
}

// Manager bounds the number of concurrently open sessions and tracks the
// compactor's end pointer E and every live session's published lock
// pointer R*, so the compactor can compute min(R*) before recycling a
// segment it has enqueued.
type Manager struct {
	sem *semaphore.Weighted

	allocator *seg.Allocator
	cbTable   *cb.Table
	cache     *options.CacheOptions

	endPointer atomic.Uint64

	mu       sync.Mutex
	sessions map[uint64]*Session
	nextID   uint64

	log *zap.SugaredLogger
}

// Config configures a session Manager.
type Config struct {
	MaxThreads uint32
	Allocator  *seg.Allocator
	CBTable    *cb.Table
	Cache      *options.CacheOptions
	Logger     *zap.SugaredLogger
}

// NewManager constructs a Manager bounding concurrent sessions to
// cfg.MaxThreads.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.MaxThreads == 0 {
		return nil, errors.NewValidationError(nil, errors.ErrorCodeInvalidInput, "MaxThreads must be > 0").
			WithField("SessionOptions.MaxThreads")
	}
	if cfg.Allocator == nil {
		return nil, errors.NewValidationError(nil, errors.ErrorCodeInvalidInput, "Allocator is required").
			WithField("Allocator")
	}

	log := cfg.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	cache := cfg.Cache
	if cache == nil {
		cache = &options.CacheOptions{MaxCacheableObjectSize: options.DefaultMaxCacheableObjectSize}
	}

	m := &Manager{
		sem:       semaphore.NewWeighted(int64(cfg.MaxThreads)),
		allocator: cfg.Allocator,
		cbTable:   cfg.CBTable,
		cache:     cache,
		sessions:  make(map[uint64]*Session),
		log:       log,
	}

	// Wire this manager as the allocator's read-lock barrier so the
	// compactor defers recycling a segment until every live session's R*
	// has advanced past that segment's enqueue-time end pointer (§4.7).
	// This can only happen here, after both sides exist: seg.Allocator
	// cannot import this package to call it directly without creating an
	// import cycle (session imports seg for *seg.Segment/*seg.Allocator).
	cfg.Allocator.SetReadBarrier(m)

	return m, nil
}

// StartSession blocks until a session slot is available (or ctx is
// cancelled) and returns a freshly registered Session.
func (m *Manager) StartSession(ctx context.Context) (*Session, error) {
	if err := m.sem.Acquire(ctx, 1); err != nil {
		return nil, errors.NewContentionError("timed out waiting for a session slot").WithDetail("cause", err.Error())
	}

	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.mu.Unlock()

	s := &Session{
		id:      id,
		manager: m,
		rng:     rand.New(rand.NewSource(int64(id)*2654435761 + 1)),
	}
	s.rStar.Store(m.endPointer.Load())

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()

	return s, nil
}

// AdvanceEndPointer is called by the compactor when it enqueues a segment
// for eventual recycling; it returns the new value of E, which the
// compactor records as that segment's enqueue key.
func (m *Manager) AdvanceEndPointer() uint64 {
	return m.endPointer.Add(1)
}

// MinRStar returns the minimum lock pointer published across every live
// session, or the current end pointer if no sessions are open. A segment
// enqueued at key k is safe to recycle once MinRStar() > k.
func (m *Manager) MinRStar() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.sessions) == 0 {
		return m.endPointer.Load()
	}

	min := ^uint64(0)
	for _, s := range m.sessions {
		if r := s.rStar.Load(); r < min {
			min = r
		}
	}
	return min
}

func (m *Manager) release(s *Session) {
	m.mu.Lock()
	delete(m.sessions, s.id)
	m.mu.Unlock()
	m.sem.Release(1)
}

// Session is one open handle onto the trie: a writable-segment contract
// for allocation, a nesting-safe read lock that publishes R* for the
// compactor, and a session-local PRNG for cache-promotion sampling.
type Session struct {
	id      uint64
	manager *Manager

	rlockCounter int32
	rStar        atomic.Uint64

	writeSegment *seg.Segment
	rng          *rand.Rand

	closed atomic.Bool
}

// Lock enters (or re-enters, if already held) the session's read lock.
// Only the outermost entry touches the published atomic, per the
// nesting-safe single-publish rule.
func (s *Session) Lock() {
	if s.rlockCounter == 0 {
		s.rStar.Store(s.manager.endPointer.Load())
	}
	s.rlockCounter++
}

// Unlock exits one level of read-lock nesting. Once the outermost level
// exits, R* is republished as the end pointer's value at that moment. It
// is not updated again while the session stays unlocked: later advances of
// the end pointer show up in R* only at the next Lock or Unlock.
func (s *Session) Unlock() {
	s.rlockCounter--
	if s.rlockCounter == 0 {
		s.rStar.Store(s.manager.endPointer.Load())
	}
}

// RLockDepth reports the current nesting depth, for assertions in tests.
func (s *Session) RLockDepth() int32 { return s.rlockCounter }

// CBTable exposes the control-block table backing this session's manager,
// for the trie engine to resolve node addresses into live bytes.
func (s *Session) CBTable() *cb.Table { return s.manager.cbTable }

// Allocator exposes the segment allocator backing this session's manager,
// for the trie engine to translate control-block cacheline offsets back
// into bytes and to publish freshly written nodes.
func (s *Session) Allocator() *seg.Allocator { return s.manager.allocator }

// MaxCacheableObjectSize returns the configured cacheable-object size
// cutoff. node.RefactorIfNeeded accepts the session as its source for this
// value but does not call it; TryPromote reads the same cutoff directly
// from the cache options.
func (s *Session) MaxCacheableObjectSize() uint32 {
	return s.manager.cache.MaxCacheableObjectSize
}

// Alloc reserves size bytes for a new object, rounding up to the session
// alignment and rotating to a freshly minted segment when the current one
// cannot satisfy the request.
func (s *Session) Alloc(size uint32) (*seg.Segment, uint32, error) {
	size = roundUp(size)

	if s.writeSegment == nil || s.writeSegment.IsFull(size) {
		next, err := s.manager.allocator.GetNewSegment(false)
		if err != nil {
			return nil, 0, err
		}
		s.writeSegment = next
	}

	off, err := s.writeSegment.Alloc(size)
	if err != nil {
		// The ready segment was raced full by another session sharing the
		// same writer role; mint a replacement and retry once.
		next, mintErr := s.manager.allocator.GetNewSegment(false)
		if mintErr != nil {
			return nil, 0, mintErr
		}
		s.writeSegment = next
		off, err = s.writeSegment.Alloc(size)
		if err != nil {
			return nil, 0, err
		}
	}

	return s.writeSegment, off, nil
}

// TryPromote implements the §4.8 cache-promotion sampling: objects larger
// than MaxCacheableObjectSize never promote; otherwise try_inc_activity is
// invoked on the control block, gated by a session-local PRNG sample
// against a fixed promotion difficulty constant so promotion pressure stays
// bounded under heavy read load.
func (s *Session) TryPromote(block *cb.ControlBlock, objectSize uint32) bool {
	if !s.manager.cache.EnableReadCache {
		return false
	}
	if objectSize > s.manager.cache.MaxCacheableObjectSize {
		return false
	}
	// A session-local sample compared against a fixed difficulty keeps
	// promotion attempts infrequent without any shared contention point.
	const difficulty = 4
	if s.rng.Intn(difficulty) != 0 {
		return false
	}
	return block.TryIncActivity()
}

// Close finalizes the session's write segment (if any is still open) and
// releases its slot back to the manager.
func (s *Session) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return errors.NewStorageError(nil, errors.ErrorCodeInternal, "session already closed")
	}

	var err error
	if s.writeSegment != nil {
		if commitErr := s.manager.allocator.CommitSegment(s.writeSegment); commitErr != nil {
			err = multierr.Append(err, commitErr)
		}
	}

	s.manager.release(s)
	return err
}
